package core

import "testing"

func TestNewConsensusCoreWiresEveryComponent(t *testing.T) {
	store := NewInMemoryStore()
	c := NewConsensusCore(store, nil, nil, ConsensusCoreOptions{
		HATWeights:          DefaultHATWeights(),
		DAOConfig:           DefaultDAOConfig(),
		DetectorCacheSize:   16,
		AnomalyConfig:       DefaultAnomalyConfig(),
		MinDeployReputation: 60,
		GCIntervalBlocks:    500,
	})

	if c.Store == nil || c.Storage == nil || c.Graph == nil || c.HAT == nil || c.DAO == nil {
		t.Fatalf("expected the storage/trust/DAO components to be non-nil")
	}
	if c.Detector == nil || c.Native == nil || c.EVM == nil || c.Router == nil {
		t.Fatalf("expected the VM stack components to be non-nil")
	}
	if c.Safety == nil || c.Sync == nil || c.Debug == nil || c.Coinbase == nil || c.Anomaly == nil || c.Resource == nil {
		t.Fatalf("expected the cross-cutting services to be non-nil")
	}
	if c.Logger == nil {
		t.Fatalf("expected a default standard logger when none is supplied")
	}
}

// TestNewConsensusCoreGateThresholdsApply confirms the per-operation gate
// overrides in ConsensusCoreOptions reach the constructed HATEngine, rather
// than being silently dropped during wiring.
func TestNewConsensusCoreGateThresholdsApply(t *testing.T) {
	store := NewInMemoryStore()
	c := NewConsensusCore(store, nil, nil, ConsensusCoreOptions{
		HATWeights: DefaultHATWeights(),
		DAOConfig:  DefaultDAOConfig(),
		GateThresholds: map[string]uint32{
			"contract_deployment": 95,
		},
		AnomalyConfig: DefaultAnomalyConfig(),
	})

	addr := addrN(1)
	breakdown, err := c.HAT.Breakdown(addr, addr)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if c.HAT.TrustGate(breakdown.Final, "contract_deployment") {
		t.Fatalf("expected an unrated address (score %d) to fail a 95-point deployment gate", breakdown.Final)
	}
}

// TestNewConsensusCoreRouterSharesWiredComponents confirms the router built
// inside NewConsensusCore actually executes against the same HAT engine and
// store the core exposes, rather than a disconnected internal copy.
func TestNewConsensusCoreRouterSharesWiredComponents(t *testing.T) {
	store := NewInMemoryStore()
	c := NewConsensusCore(store, nil, nil, ConsensusCoreOptions{
		HATWeights:    DefaultHATWeights(),
		DAOConfig:     DefaultDAOConfig(),
		AnomalyConfig: DefaultAnomalyConfig(),
	})

	code := append([]byte{}, encodePush(1)...)
	code = append(code, encodePush(1)...)
	code = append(code, byte(OpADD), byte(OpRETURN))

	result, err := c.Router.Execute(code, 1_000_000, addrN(1), addrN(2), ZeroWord, nil, 0, Hash{}, 0)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if WordFromBytes(result.ReturnData).Uint64() != 2 {
		t.Fatalf("expected return data 2, got %x", result.ReturnData)
	}
	snap := c.Router.Metrics()
	if snap.Executions != 1 {
		t.Fatalf("expected the core's router to record the execution, got %d", snap.Executions)
	}
}
