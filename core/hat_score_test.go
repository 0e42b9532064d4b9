package core

import "testing"

func newHATEngine() (*HATEngine, KVStore) {
	store := NewInMemoryStore()
	graph := NewTrustGraph(store, nil, nil)
	return NewHATEngine(store, graph, DefaultHATWeights(), nil), store
}

func TestHATEngineBreakdownDefaultsForUnknownAddress(t *testing.T) {
	e, _ := newHATEngine()
	addr := addrN(1)

	score, err := e.Breakdown(addr, addr)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if score.Behaviour != 50 {
		t.Fatalf("expected neutral behaviour score 50 for unknown address, got %d", score.Behaviour)
	}
	if score.Final > 100 {
		t.Fatalf("final score out of range: %d", score.Final)
	}
}

func TestHATEngineBreakdownDeterministic(t *testing.T) {
	e, _ := newHATEngine()
	addr := addrN(1)
	if err := e.RecordTradeOutcome(addr, true, true); err != nil {
		t.Fatalf("RecordTradeOutcome failed: %v", err)
	}

	s1, err := e.Breakdown(addr, addr)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	s2, err := e.Breakdown(addr, addr)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("Breakdown not deterministic: %+v != %+v", s1, s2)
	}
	if s1.ConsensusHash(10) != s2.ConsensusHash(10) {
		t.Fatalf("ConsensusHash not deterministic for identical breakdowns")
	}
}

func TestHATEngineRecordTradeOutcomeAccumulates(t *testing.T) {
	e, _ := newHATEngine()
	addr := addrN(1)

	for i := 0; i < 10; i++ {
		if err := e.RecordTradeOutcome(addr, i%2 == 0, false); err != nil {
			t.Fatalf("RecordTradeOutcome failed: %v", err)
		}
	}
	m, err := e.behaviorMetrics(addr)
	if err != nil {
		t.Fatalf("behaviorMetrics failed: %v", err)
	}
	if m.TotalTrades != 10 || m.SuccessfulTrades != 5 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestApplyGasDiscountMonotoneAndCapped(t *testing.T) {
	const base = 100_000
	prev := ApplyGasDiscount(base, 0)
	if prev != base {
		t.Fatalf("expected no discount at reputation 0, got %d", prev)
	}
	for rep := uint32(1); rep <= 100; rep++ {
		cur := ApplyGasDiscount(base, rep)
		if cur > prev {
			t.Fatalf("ApplyGasDiscount not monotone non-increasing at reputation %d: %d > %d", rep, cur, prev)
		}
		prev = cur
	}
	if got := ApplyGasDiscount(base, 100); got != base/2 {
		t.Fatalf("expected 50%% cap at reputation 100, got %d", got)
	}
}

func TestFreeGasAllowanceBoundary(t *testing.T) {
	if got := FreeGasAllowance(79); got != 0 {
		t.Fatalf("expected 0 below 80, got %d", got)
	}
	if got := FreeGasAllowance(0); got != 0 {
		t.Fatalf("expected 0 at reputation 0, got %d", got)
	}
	if got := FreeGasAllowance(100); got != 200_000 {
		t.Fatalf("expected 200000 at reputation 100, got %d", got)
	}
}

func TestTrustGateThresholds(t *testing.T) {
	e, _ := newHATEngine()
	if !e.TrustGate(50, "contract_deployment") {
		t.Fatalf("expected reputation 50 to pass the default deployment gate of 50")
	}
	if e.TrustGate(49, "contract_deployment") {
		t.Fatalf("expected reputation 49 to fail the default deployment gate of 50")
	}
	e.SetGateThreshold("contract_deployment", 80)
	if e.TrustGate(50, "contract_deployment") {
		t.Fatalf("expected overridden gate threshold to take effect")
	}
	if !e.TrustGate(10, "unknown_operation") {
		t.Fatalf("expected ungated operations to always pass")
	}
}
