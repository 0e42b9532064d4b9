package core

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ResourceTier classifies an address's resource entitlements by its HAT
// reputation (spec §4.12).
type ResourceTier int

const (
	TierD ResourceTier = iota // < 40
	TierC                     // 40-69
	TierB                     // 70-89
	TierA                     // >= 90
)

// TierLimits is the per-tier entitlement table, grounded on the teacher's
// fixed 200req/s-burst-100 limiter in virtual_machine.go, generalized here
// into four reputation-scaled tiers instead of one global limit.
type TierLimits struct {
	Priority       int
	CallsPerMinute int
	TimeoutMS      int
	Preemptable    bool
}

var tierTable = map[ResourceTier]TierLimits{
	TierA: {Priority: 100, CallsPerMinute: 1000, TimeoutMS: 5000, Preemptable: true},
	TierB: {Priority: 70, CallsPerMinute: 300, TimeoutMS: 2000, Preemptable: false},
	TierC: {Priority: 40, CallsPerMinute: 60, TimeoutMS: 1000, Preemptable: false},
	TierD: {Priority: 10, CallsPerMinute: 10, TimeoutMS: 500, Preemptable: false},
}

// ClassifyTier maps a HAT reputation score to its resource tier.
func ClassifyTier(reputation uint32) ResourceTier {
	switch {
	case reputation >= 90:
		return TierA
	case reputation >= 70:
		return TierB
	case reputation >= 40:
		return TierC
	default:
		return TierD
	}
}

// LimitsFor returns the call-rate, timeout, and preemption entitlement for
// a tier.
func LimitsFor(tier ResourceTier) TierLimits { return tierTable[tier] }

const defaultMinDeployReputation = 30

// ResourceManager enforces per-(address, method) call-rate limits scaled
// by reputation tier and runs a periodic garbage-collection sweep (spec
// §4.12) that deletes stale trust-graph cache entries. Idle contracts are
// only reported by IdleSweepDue (interval scaled by the deployer's
// reputation), not deleted; expired storage entries are not swept.
type ResourceManager struct {
	store   KVStore
	hat     *HATEngine
	logger  *log.Logger

	minDeployReputation uint32
	gcIntervalBlocks    uint64
	trustCacheTTL       time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	lastGCBlock uint64
}

func NewResourceManager(store KVStore, hat *HATEngine, logger *log.Logger) *ResourceManager {
	return &ResourceManager{
		store: store, hat: hat, logger: logger,
		minDeployReputation: defaultMinDeployReputation,
		gcIntervalBlocks:    1000,
		trustCacheTTL:       24 * time.Hour,
		limiters:            make(map[string]*rate.Limiter),
	}
}

// SetMinDeployReputation overrides the deployment-gate threshold used by
// IsLowReputationDeployer (runtime-tunable per pkg/config.Config.Resources).
func (m *ResourceManager) SetMinDeployReputation(v uint32) { m.minDeployReputation = v }

// SetGCInterval overrides the block-count between GC sweeps.
func (m *ResourceManager) SetGCInterval(blocks uint64) { m.gcIntervalBlocks = blocks }

// SetTrustCacheTTL overrides the staleness cutoff for trust-cache GC.
func (m *ResourceManager) SetTrustCacheTTL(d time.Duration) { m.trustCacheTTL = d }

func limiterKey(addr Address, method string) string { return addr.Hex() + ":" + method }

func (m *ResourceManager) scoreOf(addr Address) (uint32, error) {
	score, err := m.hat.Breakdown(addr, addr)
	if err != nil {
		return 0, err
	}
	return score.Final, nil
}

// Allow reports whether addr may invoke method right now, consuming one
// token from its per-(address, method) limiter if so. The limiter's
// refill rate and burst are derived from the address's current HAT
// reputation tier.
func (m *ResourceManager) Allow(addr Address, method string) bool {
	reputation, err := m.scoreOf(addr)
	if err != nil {
		reputation = 0
	}
	tier := ClassifyTier(reputation)
	limits := LimitsFor(tier)

	m.mu.Lock()
	defer m.mu.Unlock()
	key := limiterKey(addr, method)
	limiter, ok := m.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(limits.CallsPerMinute) / 60.0)
		limiter = rate.NewLimiter(perSecond, limits.CallsPerMinute)
		m.limiters[key] = limiter
	}
	return limiter.Allow()
}

// TimeoutFor returns the execution timeout entitlement for addr's current
// reputation tier.
func (m *ResourceManager) TimeoutFor(addr Address) time.Duration {
	reputation, err := m.scoreOf(addr)
	if err != nil {
		reputation = 0
	}
	return time.Duration(LimitsFor(ClassifyTier(reputation)).TimeoutMS) * time.Millisecond
}

// IsLowReputationDeployer reports whether addr's reputation falls below
// the deployment-gate threshold, marking contracts it deploys for the
// accelerated idle-sweep schedule (spec §4.12).
func (m *ResourceManager) IsLowReputationDeployer(addr Address) bool {
	reputation, err := m.scoreOf(addr)
	if err != nil {
		return true
	}
	return reputation < m.minDeployReputation
}

// idleSweepInterval scales the idle-contract GC interval by the
// deployer's reputation: low-reputation deployers' contracts are swept
// far more aggressively than high-reputation ones (spec §4.12).
func idleSweepInterval(reputation uint32) uint64 {
	switch {
	case reputation >= 90:
		return 100_000
	case reputation >= 40:
		return 10_000
	default:
		return 1_000
	}
}

// MaybeRunGC runs the periodic sweep if gcIntervalBlocks have elapsed
// since the last run, deleting "TRUSTCACHE/" entries older than
// trustCacheTTL. It returns the number of keys deleted. It deletes no
// storage entries and no idle contracts.
func (m *ResourceManager) MaybeRunGC(blockHeight uint64, now time.Time) (int, error) {
	if blockHeight < m.lastGCBlock+m.gcIntervalBlocks {
		return 0, nil
	}
	m.lastGCBlock = blockHeight

	deleted := 0

	it := m.store.Iterator([]byte("TRUSTCACHE/"))
	defer it.Close()
	cutoff := now.Add(-m.trustCacheTTL).Unix()
	var staleKeys [][]byte
	for it.Next() {
		val := it.Value()
		if len(val) < 8 {
			continue
		}
		ts := int64(WordFromBytes(val[:8]).Uint64())
		if ts < cutoff {
			staleKeys = append(staleKeys, append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Error(); err != nil {
		return deleted, err
	}
	for _, k := range staleKeys {
		if err := m.store.Delete(k); err != nil {
			return deleted, err
		}
		deleted++
	}

	if m.logger != nil && deleted > 0 {
		m.logger.WithFields(log.Fields{"block": blockHeight, "deleted": deleted}).Info("resource manager GC swept stale entries")
	}
	return deleted, nil
}

// IdleSweepDue reports whether a contract deployed by deployer and last
// touched at lastActivityBlock should be swept as idle at blockHeight.
func (m *ResourceManager) IdleSweepDue(deployer Address, lastActivityBlock, blockHeight uint64) bool {
	reputation, err := m.scoreOf(deployer)
	if err != nil {
		reputation = 0
	}
	interval := idleSweepInterval(reputation)
	return blockHeight-lastActivityBlock >= interval
}
