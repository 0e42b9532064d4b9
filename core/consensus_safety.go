package core

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ConsensusSafetyValidator re-runs deterministic functions multiple times
// and compares their outputs, the mechanical safety net spec §4.9 asks for
// around every consensus-critical calculation (gas discount, free-gas
// boundary, bytecode-format detection, validator-selection seed).
//
// No teacher analogue exists for re-run verification itself; the debug
// HTTP surface below is grounded on virtual_machine.go's bootstrap, which
// wires a gorilla/mux router behind a golang.org/x/time/rate limiter the
// same way.
type ConsensusSafetyValidator struct {
	logger *log.Logger
}

func NewConsensusSafetyValidator(logger *log.Logger) *ConsensusSafetyValidator {
	return &ConsensusSafetyValidator{logger: logger}
}

const determinismRepeats = 3

func (v *ConsensusSafetyValidator) fail(check string, fields log.Fields) error {
	if v.logger != nil {
		f := log.Fields{"check": check}
		for k, val := range fields {
			f[k] = val
		}
		v.logger.WithFields(f).Error("determinism check failed")
	}
	return ErrDeterminismFailure
}

// ValidateDeterminism runs fn three times and confirms every call returns
// an identical byte-for-byte result (spec §4.9, property 1).
func (v *ConsensusSafetyValidator) ValidateDeterminism(fn func() []byte) ([]byte, error) {
	var first []byte
	for i := 0; i < determinismRepeats; i++ {
		out := fn()
		if i == 0 {
			first = out
			continue
		}
		if !bytesEqual(first, out) {
			return nil, v.fail("determinism", nil)
		}
	}
	return first, nil
}

// ValidateGasDiscountConsensus re-derives ApplyGasDiscount three times for
// the same (baseGas, reputation) pair and confirms agreement.
func (v *ConsensusSafetyValidator) ValidateGasDiscountConsensus(baseGas uint64, reputation uint32) (uint64, error) {
	var first uint64
	for i := 0; i < determinismRepeats; i++ {
		out := ApplyGasDiscount(baseGas, reputation)
		if i == 0 {
			first = out
			continue
		}
		if out != first {
			return 0, v.fail("gas_discount", log.Fields{"base_gas": baseGas, "reputation": reputation})
		}
	}
	return first, nil
}

// ValidateFreeGas re-derives FreeGasAllowance three times and confirms
// agreement, plus checks the spec §4.3 boundary conditions explicitly:
// zero below 80 and exactly 200_000 at 100.
func (v *ConsensusSafetyValidator) ValidateFreeGas(reputation uint32) (uint64, error) {
	var first uint64
	for i := 0; i < determinismRepeats; i++ {
		out := FreeGasAllowance(reputation)
		if i == 0 {
			first = out
			continue
		}
		if out != first {
			return 0, v.fail("free_gas", log.Fields{"reputation": reputation})
		}
	}
	if reputation < 80 && first != 0 {
		return 0, v.fail("free_gas_floor", log.Fields{"reputation": reputation, "value": first})
	}
	if reputation == 100 && first != 200_000 {
		return 0, v.fail("free_gas_ceiling", log.Fields{"value": first})
	}
	return first, nil
}

// ValidatorSelectionSeed computes the deterministic seed spec §4.9 names:
// H(tx_hash || block_hash || height). ValidateValidatorSelectionSeed
// re-derives it three times and confirms agreement.
func ValidatorSelectionSeed(txHash, blockHash Hash, height uint64) Hash {
	return H(txHash.Bytes(), blockHash.Bytes(), u64Bytes(height))
}

func (v *ConsensusSafetyValidator) ValidateValidatorSelectionSeed(txHash, blockHash Hash, height uint64) (Hash, error) {
	var first Hash
	for i := 0; i < determinismRepeats; i++ {
		out := ValidatorSelectionSeed(txHash, blockHash, height)
		if i == 0 {
			first = out
			continue
		}
		if first != out {
			return Hash{}, v.fail("validator_selection_seed", nil)
		}
	}
	return first, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GraphSyncService answers trust-graph gossip requests (spec §4 external
// interfaces: TrustGraphStateRequest/Response, TrustGraphDeltaRequest/
// Response), modeled on the teacher's Broadcast/topic idiom in events.go
// rather than a full pubsub stack (networking is an explicit non-goal,
// spec §1) -- this is the local responder half only.
type GraphSyncService struct {
	graph *TrustGraph
}

func NewGraphSyncService(graph *TrustGraph) *GraphSyncService {
	return &GraphSyncService{graph: graph}
}

// TrustGraphStateResponse answers a TrustGraphStateRequest with the
// graph's current state hash.
func (s *GraphSyncService) TrustGraphStateResponse(totalDisputes uint64) (Hash, error) {
	return s.graph.StateHash(totalDisputes)
}

// TrustEdgeDelta is one edge in a TrustGraphDeltaResponse.
type TrustEdgeDelta struct {
	From, To Address
	Weight   int32
	Bond     uint64
}

// TrustGraphDeltaResponse answers a TrustGraphDeltaRequest by returning
// every outgoing edge of the requested address, letting a peer reconstruct
// the local view of one node's trust relationships.
func (s *GraphSyncService) TrustGraphDeltaResponse(addr Address) ([]TrustEdgeDelta, error) {
	edges, err := s.graph.Outgoing(addr)
	if err != nil {
		return nil, err
	}
	out := make([]TrustEdgeDelta, 0, len(edges))
	for _, e := range edges {
		out = append(out, TrustEdgeDelta{From: e.From, To: e.To, Weight: e.Weight, Bond: e.Bond})
	}
	return out, nil
}

// DebugServer exposes determinism checks and the trust-graph state hash
// over HTTP, rate-limited the same way the teacher's virtual_machine.go
// bootstrap protects its debug endpoints: a shared golang.org/x/time/rate
// limiter wrapped as gorilla/mux middleware.
type DebugServer struct {
	validator *ConsensusSafetyValidator
	sync      *GraphSyncService
	limiter   *rate.Limiter
	router    *mux.Router
}

func NewDebugServer(validator *ConsensusSafetyValidator, sync *GraphSyncService) *DebugServer {
	s := &DebugServer{
		validator: validator,
		sync:      sync,
		limiter:   rate.NewLimiter(200, 100),
	}
	r := mux.NewRouter()
	r.Use(s.limit)
	r.HandleFunc("/debug/free-gas/{reputation}", s.handleFreeGas).Methods(http.MethodGet)
	r.HandleFunc("/debug/graph-state/{total_disputes}", s.handleGraphState).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *DebugServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *DebugServer) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *DebugServer) handleFreeGas(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(mux.Vars(r)["reputation"], 10, 32)
	if err != nil {
		http.Error(w, "bad reputation", http.StatusBadRequest)
		return
	}
	reputation := uint32(raw)
	allowance, err := s.validator.ValidateFreeGas(reputation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]uint64{"allowance": allowance})
}

func (s *DebugServer) handleGraphState(w http.ResponseWriter, r *http.Request) {
	total, err := strconv.ParseUint(mux.Vars(r)["total_disputes"], 10, 64)
	if err != nil {
		http.Error(w, "bad total_disputes", http.StatusBadRequest)
		return
	}
	hash, err := s.sync.TrustGraphStateResponse(total)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"state_hash": hash.Hex()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the debug HTTP surface; intended for an operator's
// local inspection, never part of the consensus path itself.
func (s *DebugServer) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
