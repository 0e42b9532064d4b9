package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateDeterminismAgrees(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	out, err := v.ValidateDeterminism(func() []byte { return []byte{1, 2, 3} })
	if err != nil {
		t.Fatalf("ValidateDeterminism failed: %v", err)
	}
	if string(out) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestValidateDeterminismDetectsDivergence(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	call := 0
	_, err := v.ValidateDeterminism(func() []byte {
		call++
		return []byte{byte(call)}
	})
	if err != ErrDeterminismFailure {
		t.Fatalf("expected ErrDeterminismFailure for a function that changes output across calls, got %v", err)
	}
}

func TestValidateGasDiscountConsensusAgrees(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	out, err := v.ValidateGasDiscountConsensus(100_000, 80)
	if err != nil {
		t.Fatalf("ValidateGasDiscountConsensus failed: %v", err)
	}
	if out != ApplyGasDiscount(100_000, 80) {
		t.Fatalf("expected the validated result to match a direct call, got %d", out)
	}
}

// TestValidateFreeGasBoundaries pins spec §4.3's free-gas floor and ceiling:
// zero below reputation 80, exactly 200_000 at reputation 100.
func TestValidateFreeGasBoundaries(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)

	below, err := v.ValidateFreeGas(79)
	if err != nil {
		t.Fatalf("ValidateFreeGas(79) failed: %v", err)
	}
	if below != 0 {
		t.Fatalf("expected zero free gas below reputation 80, got %d", below)
	}

	at100, err := v.ValidateFreeGas(100)
	if err != nil {
		t.Fatalf("ValidateFreeGas(100) failed: %v", err)
	}
	if at100 != 200_000 {
		t.Fatalf("expected 200000 free gas at reputation 100, got %d", at100)
	}
}

func TestValidatorSelectionSeedDeterministicAndInputSensitive(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	txHash := Hash{0x01}
	blockHash := Hash{0x02}

	seed, err := v.ValidateValidatorSelectionSeed(txHash, blockHash, 10)
	if err != nil {
		t.Fatalf("ValidateValidatorSelectionSeed failed: %v", err)
	}
	if seed != ValidatorSelectionSeed(txHash, blockHash, 10) {
		t.Fatalf("expected the validated seed to match a direct call")
	}
	if ValidatorSelectionSeed(txHash, blockHash, 11) == seed {
		t.Fatalf("expected a different height to derive a different seed")
	}
}

func TestGraphSyncServiceTrustGraphStateResponse(t *testing.T) {
	store := NewInMemoryStore()
	graph := NewTrustGraph(store, nil, nil)
	if _, err := graph.AddEdge(addrN(1), addrN(2), 10, 100, Hash{0xAA}, 0, "trust"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	sync := NewGraphSyncService(graph)

	hash, err := sync.TrustGraphStateResponse(0)
	if err != nil {
		t.Fatalf("TrustGraphStateResponse failed: %v", err)
	}
	want, err := graph.StateHash(0)
	if err != nil {
		t.Fatalf("StateHash failed: %v", err)
	}
	if hash != want {
		t.Fatalf("expected the sync response hash to match graph.StateHash directly")
	}
}

func TestGraphSyncServiceTrustGraphDeltaResponse(t *testing.T) {
	store := NewInMemoryStore()
	graph := NewTrustGraph(store, nil, nil)
	from := addrN(1)
	if _, err := graph.AddEdge(from, addrN(2), 10, 100, Hash{0xAA}, 0, "trust"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if _, err := graph.AddEdge(from, addrN(3), -5, 50, Hash{0xBB}, 0, "distrust"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	sync := NewGraphSyncService(graph)

	deltas, err := sync.TrustGraphDeltaResponse(from)
	if err != nil {
		t.Fatalf("TrustGraphDeltaResponse failed: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected two outgoing edges, got %d", len(deltas))
	}
	for _, d := range deltas {
		if d.From != from {
			t.Fatalf("expected every delta to originate from %v, got %v", from, d.From)
		}
	}
}

func TestDebugServerHandleFreeGas(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	s := NewDebugServer(v, NewGraphSyncService(NewTrustGraph(NewInMemoryStore(), nil, nil)))

	req := httptest.NewRequest(http.MethodGet, "/debug/free-gas/100", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Allowance uint64 `json:"allowance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Allowance != 200_000 {
		t.Fatalf("expected allowance 200000 at reputation 100, got %d", body.Allowance)
	}
}

func TestDebugServerHandleFreeGasBadInput(t *testing.T) {
	v := NewConsensusSafetyValidator(nil)
	s := NewDebugServer(v, NewGraphSyncService(NewTrustGraph(NewInMemoryStore(), nil, nil)))

	req := httptest.NewRequest(http.MethodGet, "/debug/free-gas/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric reputation, got %d", rec.Code)
	}
}

func TestDebugServerHandleGraphState(t *testing.T) {
	store := NewInMemoryStore()
	graph := NewTrustGraph(store, nil, nil)
	if _, err := graph.AddEdge(addrN(1), addrN(2), 10, 100, Hash{0xAA}, 0, "trust"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	v := NewConsensusSafetyValidator(nil)
	s := NewDebugServer(v, NewGraphSyncService(graph))

	req := httptest.NewRequest(http.MethodGet, "/debug/graph-state/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want, err := graph.StateHash(0)
	if err != nil {
		t.Fatalf("StateHash failed: %v", err)
	}
	var body struct {
		StateHash string `json:"state_hash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.StateHash != want.Hex() {
		t.Fatalf("expected state_hash %s, got %s", want.Hex(), body.StateHash)
	}
}
