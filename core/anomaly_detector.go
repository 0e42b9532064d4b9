package core

import (
	"encoding/json"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
)

// AnomalyConfig holds the runtime-tunable thresholds of spec §4.11, mirrored
// field-for-field in pkg/config.Config.Anomaly.
type AnomalyConfig struct {
	WindowSize            int
	SpikeZScore           float64
	DropZScore            float64
	OscillationThreshold  float64
	SlowResponseMS        float64
	SlowResponseFraction  float64
	ErraticTimingCV       float64
	VoteBiasThreshold     float64
	VoteBiasMinVotes      int
	CoordinationThreshold float64
	CoordinationMinVotes  int
	CoordinationWindowMS  int64
	SybilMinAddresses     int
	SybilRateDelta        float64
	SybilPairFraction     float64
	AlertCap              int
}

// DefaultAnomalyConfig matches the default.yaml thresholds.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		WindowSize: 50, SpikeZScore: 2.5, DropZScore: 2.5,
		OscillationThreshold: 0.7, SlowResponseMS: 2000, SlowResponseFraction: 0.5,
		ErraticTimingCV: 1.5, VoteBiasThreshold: 0.95, VoteBiasMinVotes: 20,
		CoordinationThreshold: 0.8, CoordinationMinVotes: 10, CoordinationWindowMS: 1000,
		SybilMinAddresses: 3, SybilRateDelta: 0.1, SybilPairFraction: 0.8,
		AlertCap: 1000,
	}
}

// AnomalyKind names a detector family (spec §4.11).
type AnomalyKind string

const (
	AnomalyReputationSpike  AnomalyKind = "reputation_spike"
	AnomalyReputationDrop   AnomalyKind = "reputation_drop"
	AnomalyOscillation      AnomalyKind = "oscillation"
	AnomalySlowResponse     AnomalyKind = "slow_response"
	AnomalyErraticTiming    AnomalyKind = "erratic_timing"
	AnomalyVoteBias         AnomalyKind = "vote_bias"
	AnomalyCoordinatedVotes AnomalyKind = "coordinated_voting"
	AnomalySybilCluster     AnomalyKind = "sybil_cluster"
)

// Alert is a persisted detection (spec §3). Severity and Confidence are
// both advisory and never feed a consensus decision (spec §9): Severity is
// how strong the underlying signal is (z-score magnitude, vote-agreement
// fraction, ...), Confidence is how much data backs the detection (sample
// size relative to the detector's minimum).
type Alert struct {
	ID         uint64
	Kind       AnomalyKind
	Addresses  []Address
	Severity   float64
	Confidence float64
	Detail     string
	Timestamp  uint64
}

type voteRecord struct {
	voter     Address
	accept    bool
	timestamp int64 // milliseconds
}

// AnomalyDetector runs the rolling-window and cross-address detectors of
// spec §4.11 over reported metrics. Grounded on the teacher's
// AnomalyService in anomaly_detection.go -- the same mutex-guarded map and
// logrus reporting shape -- but deliberately not its global-singleton
// pattern (sync.Once + package accessor): spec §9's redesign note asks for
// this composed into ConsensusCore instead of reached through a package
// global.
type AnomalyDetector struct {
	store  KVStore
	cfg    AnomalyConfig
	logger *log.Logger

	mu          sync.Mutex
	reputations map[Address][]float64
	responses   map[Address][]float64
	accepts     map[Address]int
	rejects     map[Address]int
	votes       []voteRecord

	alerts []Alert
	nextID uint64
}

func NewAnomalyDetector(store KVStore, cfg AnomalyConfig, logger *log.Logger) *AnomalyDetector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	if cfg.AlertCap <= 0 {
		cfg.AlertCap = 1000
	}
	return &AnomalyDetector{
		store: store, cfg: cfg, logger: logger,
		reputations: make(map[Address][]float64),
		responses:   make(map[Address][]float64),
		accepts:     make(map[Address]int),
		rejects:     make(map[Address]int),
	}
}

func pushWindow(window []float64, v float64, cap int) []float64 {
	window = append(window, v)
	if len(window) > cap {
		window = window[len(window)-cap:]
	}
	return window
}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

// confidenceFromSamples scores how much data backs a detection: the
// sample count relative to the detector's minimum requirement, capped at
// 1.0. More history behind a signal means more confidence it is real
// rather than noise.
func confidenceFromSamples(samples, minSamples int) float64 {
	if minSamples <= 0 {
		return 1
	}
	return clamp01(float64(samples) / float64(minSamples))
}

// raise persists an alert (spec §3: "all durable entities live in the KV
// store") under anomalyKey(id), appends its addresses to the FLAGGED
// sequence (spec §6), and keeps the in-memory list and the store in sync
// with the 1000-most-recent eviction cap (spec §3).
func (d *AnomalyDetector) raise(timestamp uint64, kind AnomalyKind, severity, confidence float64, detail string, addrs ...Address) {
	d.nextID++
	alert := Alert{ID: d.nextID, Kind: kind, Addresses: addrs, Severity: severity, Confidence: confidence, Detail: detail, Timestamp: timestamp}
	d.alerts = append(d.alerts, alert)

	d.persist(&alert)
	d.flag(addrs)

	if len(d.alerts) > d.cfg.AlertCap {
		evicted := d.alerts[:len(d.alerts)-d.cfg.AlertCap]
		d.alerts = d.alerts[len(d.alerts)-d.cfg.AlertCap:]
		for _, e := range evicted {
			d.evict(e.ID)
		}
	}
	if d.logger != nil {
		d.logger.WithFields(log.Fields{
			"kind": kind, "severity": severity, "confidence": confidence, "addresses": addrs,
		}).Warn("anomaly detected: " + detail)
	}
}

func (d *AnomalyDetector) persist(alert *Alert) {
	if d.store == nil {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := d.store.Set(anomalyKey(alert.ID), data); err != nil && d.logger != nil {
		d.logger.WithError(err).Warn("failed to persist anomaly alert")
	}
}

func (d *AnomalyDetector) evict(id uint64) {
	if d.store == nil {
		return
	}
	_ = d.store.Delete(anomalyKey(id))
}

// flag appends addrs to the durable FLAGGED sequence (spec §6), skipping
// addresses already present.
func (d *AnomalyDetector) flag(addrs []Address) {
	if d.store == nil || len(addrs) == 0 {
		return
	}
	existing, err := d.store.Get(flaggedKey)
	if err != nil {
		return
	}
	var flagged []Address
	if existing != nil {
		if err := json.Unmarshal(existing, &flagged); err != nil {
			return
		}
	}
	seen := make(map[Address]bool, len(flagged))
	for _, a := range flagged {
		seen[a] = true
	}
	changed := false
	for _, a := range addrs {
		if !seen[a] {
			flagged = append(flagged, a)
			seen[a] = true
			changed = true
		}
	}
	if !changed {
		return
	}
	data, err := json.Marshal(flagged)
	if err != nil {
		return
	}
	_ = d.store.Set(flaggedKey, data)
}

// Flagged returns the durable set of addresses ever named in an anomaly
// alert (spec §6 FLAGGED key).
func (d *AnomalyDetector) Flagged() ([]Address, error) {
	if d.store == nil {
		return nil, nil
	}
	raw, err := d.store.Get(flaggedKey)
	if err != nil || raw == nil {
		return nil, err
	}
	var flagged []Address
	if err := json.Unmarshal(raw, &flagged); err != nil {
		return nil, err
	}
	return flagged, nil
}

// RecordReputation feeds one score sample for addr and runs the spike,
// drop, and oscillation detectors over its rolling window.
func (d *AnomalyDetector) RecordReputation(addr Address, score float64, timestamp uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := d.reputations[addr]
	mean, stdev := meanStdev(window)
	if stdev > 0 && len(window) >= 2 {
		z := (score - mean) / stdev
		confidence := confidenceFromSamples(len(window), d.cfg.WindowSize)
		if z >= d.cfg.SpikeZScore {
			d.raise(timestamp, AnomalyReputationSpike, clamp01(z/10), confidence, "reputation spike", addr)
		} else if z <= -d.cfg.DropZScore {
			d.raise(timestamp, AnomalyReputationDrop, clamp01(-z/10), confidence, "reputation drop", addr)
		}
	}

	window = pushWindow(window, score, d.cfg.WindowSize)
	d.reputations[addr] = window

	if len(window) >= 4 {
		signChanges, total := 0, 0
		for i := 2; i < len(window); i++ {
			d1 := window[i-1] - window[i-2]
			d2 := window[i] - window[i-1]
			if d1 == 0 || d2 == 0 {
				continue
			}
			total++
			if (d1 > 0) != (d2 > 0) {
				signChanges++
			}
		}
		if total > 0 && float64(signChanges)/float64(total) > d.cfg.OscillationThreshold {
			confidence := confidenceFromSamples(total, d.cfg.WindowSize)
			d.raise(timestamp, AnomalyOscillation, float64(signChanges)/float64(total), confidence, "reputation oscillating", addr)
		}
	}
}

// RecordResponseTime feeds one validator response-time sample (ms) and
// runs the slow-response and erratic-timing detectors.
func (d *AnomalyDetector) RecordResponseTime(addr Address, ms float64, timestamp uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := pushWindow(d.responses[addr], ms, d.cfg.WindowSize)
	d.responses[addr] = window

	if len(window) < 4 {
		return
	}

	slow := 0
	for _, v := range window {
		if v > d.cfg.SlowResponseMS {
			slow++
		}
	}
	responseConfidence := confidenceFromSamples(len(window), d.cfg.WindowSize)
	if fraction := float64(slow) / float64(len(window)); fraction > d.cfg.SlowResponseFraction {
		d.raise(timestamp, AnomalySlowResponse, fraction, responseConfidence, "slow validator response", addr)
	}

	mean, stdev := meanStdev(window)
	if mean > 0 {
		if cv := stdev / mean; cv > d.cfg.ErraticTimingCV {
			d.raise(timestamp, AnomalyErraticTiming, clamp01(cv/5), responseConfidence, "erratic response timing", addr)
		}
	}
}

// RecordVote feeds one commit-reveal vote and runs the vote-bias,
// coordinated-voting, and sybil-cluster detectors.
func (d *AnomalyDetector) RecordVote(voter Address, accept bool, timestamp uint64, timestampMS int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if accept {
		d.accepts[voter]++
	} else {
		d.rejects[voter]++
	}
	total := d.accepts[voter] + d.rejects[voter]
	if total >= d.cfg.VoteBiasMinVotes {
		rate := float64(d.accepts[voter]) / float64(total)
		if rate >= d.cfg.VoteBiasThreshold || (1-rate) >= d.cfg.VoteBiasThreshold {
			confidence := confidenceFromSamples(total, d.cfg.VoteBiasMinVotes)
			d.raise(timestamp, AnomalyVoteBias, rate, confidence, "one-sided voting pattern", voter)
		}
	}

	d.votes = append(d.votes, voteRecord{voter: voter, accept: accept, timestamp: timestampMS})
	cutoff := timestampMS - d.cfg.CoordinationWindowMS
	window := d.votes[:0]
	for _, v := range d.votes {
		if v.timestamp >= cutoff {
			window = append(window, v)
		}
	}
	d.votes = window
	d.checkCoordination(timestamp)
	d.checkSybilCluster(timestamp)
}

// checkCoordination flags when a supermajority of recent votes across
// distinct voters agree within the coordination window (spec §4.11).
func (d *AnomalyDetector) checkCoordination(timestamp uint64) {
	if len(d.votes) < d.cfg.CoordinationMinVotes {
		return
	}
	accept, addrs := 0, make(map[Address]bool, len(d.votes))
	for _, v := range d.votes {
		if v.accept {
			accept++
		}
		addrs[v.voter] = true
	}
	fraction := math.Max(float64(accept), float64(len(d.votes)-accept)) / float64(len(d.votes))
	if fraction >= d.cfg.CoordinationThreshold {
		list := make([]Address, 0, len(addrs))
		for a := range addrs {
			list = append(list, a)
		}
		confidence := confidenceFromSamples(len(d.votes), d.cfg.CoordinationMinVotes)
		d.raise(timestamp, AnomalyCoordinatedVotes, fraction, confidence, "coordinated voting window", list...)
	}
}

// checkSybilCluster flags a group of >=SybilMinAddresses voters whose
// accept rates pairwise agree within SybilRateDelta across more than
// SybilPairFraction of all pairs, suggesting shared control.
func (d *AnomalyDetector) checkSybilCluster(timestamp uint64) {
	type rated struct {
		addr Address
		rate float64
	}
	var rates []rated
	for addr, acc := range d.accepts {
		total := acc + d.rejects[addr]
		if total < d.cfg.VoteBiasMinVotes {
			continue
		}
		rates = append(rates, rated{addr: addr, rate: float64(acc) / float64(total)})
	}
	if len(rates) < d.cfg.SybilMinAddresses {
		return
	}

	pairs, close := 0, 0
	for i := 0; i < len(rates); i++ {
		for j := i + 1; j < len(rates); j++ {
			pairs++
			diff := rates[i].rate - rates[j].rate
			if diff < 0 {
				diff = -diff
			}
			if diff <= d.cfg.SybilRateDelta {
				close++
			}
		}
	}
	if pairs == 0 {
		return
	}
	if fraction := float64(close) / float64(pairs); fraction > d.cfg.SybilPairFraction {
		addrs := make([]Address, 0, len(rates))
		for _, r := range rates {
			addrs = append(addrs, r.addr)
		}
		confidence := confidenceFromSamples(len(rates), d.cfg.SybilMinAddresses)
		d.raise(timestamp, AnomalySybilCluster, fraction, confidence, "correlated voting cluster", addrs...)
	}
}

// Alerts returns a snapshot of currently persisted alerts, oldest first.
func (d *AnomalyDetector) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}
