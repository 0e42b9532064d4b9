package core

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// BehaviorMetrics, StakeInfo and TemporalMetrics are the three objective,
// integer-typed inputs to the HAT score (spec §3); none carry a
// floating-point field, since they feed a consensus-critical computation.
type BehaviorMetrics struct {
	TotalTrades       uint64 `json:"total_trades"`
	SuccessfulTrades  uint64 `json:"successful_trades"`
	PartnerDiversity  uint32 `json:"partner_diversity"`
}

type StakeInfo struct {
	BondedAmount        uint64 `json:"bonded_amount"`
	LockDurationSeconds uint64 `json:"lock_duration_seconds"`
}

type TemporalMetrics struct {
	AccountAgeSeconds  uint64 `json:"account_age_seconds"`
	ActiveDaysCount    uint32 `json:"active_days_count"`
	SecondsSinceActive uint64 `json:"seconds_since_active"`
}

// HATScore is the four-component deterministic reputation score (spec §3).
type HATScore struct {
	Behaviour uint32 `json:"behaviour"`
	WoT       uint32 `json:"wot"`
	Economic  uint32 `json:"economic"`
	Temporal  uint32 `json:"temporal"`
	Final     uint32 `json:"final"`
}

// HATWeights are the fixed integer weights combining the four sub-scores,
// config-overridable with the spec's 30/30/25/15 default (spec §4.3).
type HATWeights struct {
	Behaviour uint32
	WoT       uint32
	Economic  uint32
	Temporal  uint32
}

func DefaultHATWeights() HATWeights {
	return HATWeights{Behaviour: 30, WoT: 30, Economic: 25, Temporal: 15}
}

// HATEngine is the HAT score engine (C3): deterministic four-component
// score with breakdown and a consensus parity hash, plus the
// reputation-gated gas/trust operations. Grounded on the teacher's
// reputation-as-ledger-state idiom in governance_reputation_voting.go,
// reworked into fixed-point sub-scores per spec §9.
type HATEngine struct {
	store      KVStore
	graph      *TrustGraph
	weights    HATWeights
	gateThresh map[string]uint32
	logger     *log.Logger
}

func NewHATEngine(store KVStore, graph *TrustGraph, weights HATWeights, logger *log.Logger) *HATEngine {
	return &HATEngine{
		store:   store,
		graph:   graph,
		weights: weights,
		gateThresh: map[string]uint32{
			"contract_deployment": 50,
			"contract_execution":  0,
			"cross_format_call":   70,
		},
		logger: logger,
	}
}

// SetGateThreshold overrides (or adds) the minimum reputation required for
// a named operation, used by config loading to make spec §4.3's
// operation-specific thresholds runtime-tunable.
func (e *HATEngine) SetGateThreshold(operation string, threshold uint32) {
	e.gateThresh[operation] = threshold
}

func behaviorKey(addr Address) []byte  { return []byte("BEHAVIOR/" + addr.Hex()) }
func stakeInfoKey(addr Address) []byte { return []byte("STAKE_INFO/" + addr.Hex()) }
func temporalKey(addr Address) []byte  { return []byte("TEMPORAL/" + addr.Hex()) }

func (e *HATEngine) behaviorMetrics(addr Address) (BehaviorMetrics, error) {
	var m BehaviorMetrics
	raw, err := e.store.Get(behaviorKey(addr))
	if err != nil || raw == nil {
		return m, err
	}
	return m, json.Unmarshal(raw, &m)
}

func (e *HATEngine) stakeInfo(addr Address) (StakeInfo, error) {
	var s StakeInfo
	raw, err := e.store.Get(stakeInfoKey(addr))
	if err != nil || raw == nil {
		return s, err
	}
	return s, json.Unmarshal(raw, &s)
}

func (e *HATEngine) temporalMetrics(addr Address) (TemporalMetrics, error) {
	var t TemporalMetrics
	raw, err := e.store.Get(temporalKey(addr))
	if err != nil || raw == nil {
		return t, err
	}
	return t, json.Unmarshal(raw, &t)
}

// RecordTradeOutcome feeds the router's post-execution reputation update
// (spec §4.8): success increments both the trade count and the success
// count, failure only the trade count.
func (e *HATEngine) RecordTradeOutcome(addr Address, success bool, newPartner bool) error {
	m, err := e.behaviorMetrics(addr)
	if err != nil {
		return err
	}
	m.TotalTrades++
	if success {
		m.SuccessfulTrades++
	}
	if newPartner {
		m.PartnerDiversity++
	}
	data, err := json.Marshal(&m)
	if err != nil {
		return err
	}
	return e.store.Set(behaviorKey(addr), data)
}

// SetStakeInfo and SetTemporalMetrics let DAO staking and account-age
// bookkeeping feed the economic and temporal sub-scores.
func (e *HATEngine) SetStakeInfo(addr Address, s StakeInfo) error {
	data, err := json.Marshal(&s)
	if err != nil {
		return err
	}
	return e.store.Set(stakeInfoKey(addr), data)
}

func (e *HATEngine) SetTemporalMetrics(addr Address, t TemporalMetrics) error {
	data, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	return e.store.Set(temporalKey(addr), data)
}

func behaviourScore(m BehaviorMetrics) uint32 {
	if m.TotalTrades == 0 {
		return 50
	}
	ratio := m.SuccessfulTrades * 100 / m.TotalTrades
	confidence := m.TotalTrades
	if confidence > 50 {
		confidence = 50
	}
	blended := (50*(50-confidence) + ratio*confidence) / 50
	diversity := uint64(partnerDiversityBonus(m.PartnerDiversity))
	score := blended + diversity
	return clampU32(uint32(score), 0, 100)
}

func partnerDiversityBonus(partners uint32) uint32 {
	switch {
	case partners >= 20:
		return 10
	case partners >= 10:
		return 6
	case partners >= 5:
		return 3
	default:
		return 0
	}
}

func economicScore(s StakeInfo) uint32 {
	const bondUnit uint64 = 10_000
	bondPoints := s.BondedAmount / bondUnit
	const lockPeriod uint64 = 30 * 86400 // one month, in seconds
	lockBonus := s.LockDurationSeconds / lockPeriod * 10
	if lockBonus > 40 {
		lockBonus = 40
	}
	total := bondPoints + lockBonus
	return clampU32(uint32(total), 0, 100)
}

func temporalScore(t TemporalMetrics) uint32 {
	const monthSeconds uint64 = 30 * 86400
	ageBonus := t.AccountAgeSeconds / monthSeconds * 5
	if ageBonus > 60 {
		ageBonus = 60
	}
	activityBonus := uint64(t.ActiveDaysCount)
	if activityBonus > 40 {
		activityBonus = 40
	}
	var inactivityPenalty uint64
	const dormantAfter uint64 = 90 * 86400
	if t.SecondsSinceActive > dormantAfter {
		inactivityPenalty = 20
	}
	total := ageBonus + activityBonus
	if total < inactivityPenalty {
		return 0
	}
	return clampU32(uint32(total-inactivityPenalty), 0, 100)
}

// wotScore implements clamp_to_0_100(50 + weighted_reputation(viewer,
// target, 3)) from spec §4.3, converting the fixed-point (1e6-scaled)
// reputation value back to an integer in [0,100].
func (e *HATEngine) wotScore(viewer, target Address) (uint32, error) {
	repScaled, _, err := e.graph.WeightedReputation(viewer, target, 3)
	if err != nil {
		return 0, err
	}
	rep := repScaled / weightScale
	raw := 50 + rep
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return uint32(raw), nil
}

// Breakdown computes the deterministic four-component score for address as
// seen by viewer (spec §4.3). Calling it three times in succession yields
// byte-identical structs, since every input is read from durable state and
// no floating point or wall-clock value enters the computation.
func (e *HATEngine) Breakdown(address, viewer Address) (HATScore, error) {
	bm, err := e.behaviorMetrics(address)
	if err != nil {
		return HATScore{}, err
	}
	si, err := e.stakeInfo(address)
	if err != nil {
		return HATScore{}, err
	}
	tm, err := e.temporalMetrics(address)
	if err != nil {
		return HATScore{}, err
	}
	wot, err := e.wotScore(viewer, address)
	if err != nil {
		return HATScore{}, err
	}

	behaviour := behaviourScore(bm)
	economic := economicScore(si)
	temporal := temporalScore(tm)

	w := e.weights
	totalWeight := uint64(w.Behaviour) + uint64(w.WoT) + uint64(w.Economic) + uint64(w.Temporal)
	if totalWeight == 0 {
		totalWeight = 100
	}
	weighted := uint64(behaviour)*uint64(w.Behaviour) +
		uint64(wot)*uint64(w.WoT) +
		uint64(economic)*uint64(w.Economic) +
		uint64(temporal)*uint64(w.Temporal)
	final := clampU32(uint32(weighted/totalWeight), 0, 100)

	return HATScore{Behaviour: behaviour, WoT: wot, Economic: economic, Temporal: temporal, Final: final}, nil
}

// ConsensusHash is the component-wise hash of a breakdown used for
// cross-node parity: H(behaviour) || H(wot) || H(economic) || H(temporal)
// || final_score || block_height, per spec §4.3.
func (s HATScore) ConsensusHash(blockHeight uint64) Hash {
	return H(
		H(u32Bytes(s.Behaviour)).Bytes(),
		H(u32Bytes(s.WoT)).Bytes(),
		H(u32Bytes(s.Economic)).Bytes(),
		H(u32Bytes(s.Temporal)).Bytes(),
		u32Bytes(s.Final),
		u64Bytes(blockHeight),
	)
}

// ApplyGasDiscount implements spec §4.3: discount = min(base*rep*5/1000,
// base/2); monotone non-decreasing in reputation, capped at 50% of base.
func ApplyGasDiscount(baseGas uint64, reputation uint32) uint64 {
	discount := baseGas * uint64(reputation) * 5 / 1000
	cap := baseGas / 2
	if discount > cap {
		discount = cap
	}
	return baseGas - discount
}

// FreeGasAllowance implements spec §4.3's piecewise allowance: zero below
// 80 reputation, scaling linearly to exactly 200_000 at 100.
func FreeGasAllowance(reputation uint32) uint64 {
	if reputation < 80 {
		return 0
	}
	return 100_000 * uint64(20+(reputation-80)) / 20
}

// TrustGate implements spec §4.3's operation-gated access check.
func (e *HATEngine) TrustGate(reputation uint32, operation string) bool {
	threshold, ok := e.gateThresh[operation]
	if !ok {
		return true
	}
	return reputation >= threshold
}
