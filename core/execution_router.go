package core

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EVMMessage is the call envelope handed to the black-box EVM interpreter
// (spec §1: "treated as a black-box evm_execute(bytecode, msg, host) ->
// result"; the interpreter itself is an external collaborator, never
// implemented here).
type EVMMessage struct {
	Contract    Address
	Caller      Address
	Value       Word
	Input       []byte
	Gas         uint64
	BlockHeight uint64
	BlockHash   Hash
	Timestamp   uint64
}

// EVMExecutor is the black-box entry point spec §1 names explicitly; the
// router calls it and never looks inside.
type EVMExecutor func(bytecode []byte, msg EVMMessage, host *EVMHostAdapter) (*Receipt, error)

// ExecutionResult is what Execute and Deploy return to the caller.
type ExecutionResult struct {
	Status          VMStatus
	Format          BytecodeFormat
	GasLimit        uint64 // after apply_gas_discount
	GasUsed         uint64
	GasSaved        uint64
	ReturnData      []byte
	Logs            []VMLog
	CrossFormatHops int
	Reputation      uint32
}

// RouterMetrics accumulates the "total gas, gas saved, latency,
// cross-format hops" counters spec §4.8 asks the router to record.
type RouterMetrics struct {
	mu              sync.Mutex
	TotalGas        uint64
	TotalGasSaved   uint64
	TotalLatencyNS  int64
	CrossFormatHops uint64
	Executions      uint64
}

func (m *RouterMetrics) record(r *ExecutionResult, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalGas += r.GasUsed
	m.TotalGasSaved += r.GasSaved
	m.TotalLatencyNS += latency.Nanoseconds()
	m.CrossFormatHops += uint64(r.CrossFormatHops)
	m.Executions++
}

func (m *RouterMetrics) Snapshot() RouterMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return RouterMetrics{
		TotalGas: m.TotalGas, TotalGasSaved: m.TotalGasSaved,
		TotalLatencyNS: m.TotalLatencyNS, CrossFormatHops: m.CrossFormatHops,
		Executions: m.Executions,
	}
}

const maxCallDepth = 1024

// ExecutionRouter is the entry point (C8): detect, gate, gas-adjust,
// dispatch, post-update reputation. Grounded on the teacher's
// SelectVM/Execute dispatch shape in virtual_machine.go, generalized to
// the detect->gate->gas-adjust->dispatch->reputation pipeline of spec
// §4.8.
type ExecutionRouter struct {
	store    KVStore
	storage  StorageBackend
	detector *BytecodeDetector
	hat      *HATEngine
	native   *NativeVM
	evm      *EVMHostAdapter
	evmExec  EVMExecutor
	logger   *log.Logger
	metrics  RouterMetrics
	depth    int // nested frames currently open through dispatchNestedCall
}

func NewExecutionRouter(store KVStore, storage StorageBackend, detector *BytecodeDetector, hat *HATEngine, native *NativeVM, evm *EVMHostAdapter, evmExec EVMExecutor, logger *log.Logger) *ExecutionRouter {
	r := &ExecutionRouter{
		store: store, storage: storage, detector: detector, hat: hat,
		native: native, evm: evm, evmExec: evmExec, logger: logger,
	}
	if evm != nil {
		evm.SetDispatcher(r.dispatchNestedCall)
	}
	return r
}

// Metrics returns a point-in-time snapshot of the router's counters.
func (r *ExecutionRouter) Metrics() RouterMetrics { return r.metrics.Snapshot() }

// dispatchNestedCall is the Dispatcher the router wires into the EVM host
// adapter: cross-format reentry and CALL/CREATE routing both funnel
// through here so the 1024-frame depth limit and cross-format stack frame
// (spec §9) are owned by the router, not the sub-VM.
func (r *ExecutionRouter) dispatchNestedCall(kind CallKind, caller, callee Address, value Word, input []byte, gas uint64, salt Word, initCode []byte) (CallResult, error) {
	// The outermost frame plus r.depth nested ones are open; refuse a call
	// that would open frame number maxCallDepth+1.
	if r.depth+1 >= maxCallDepth {
		return CallResult{}, ErrNestingTooDeep
	}
	r.depth++
	defer func() { r.depth-- }()
	switch kind {
	case CallCreate:
		addr, receipt, err := r.deployAt(initCode, caller, ContractAddressClassic(caller, r.getNonce(caller)), gas, 0, Hash{}, 0)
		if err != nil {
			return CallResult{Success: false}, err
		}
		return CallResult{Success: receipt.Status == StatusReturned || receipt.Status == StatusStopped, ReturnData: receipt.ReturnData, Address: addr}, nil
	case CallCreate2:
		addr := ContractAddressSalted(caller, salt, initCode)
		_, receipt, err := r.deployAt(initCode, caller, addr, gas, 0, Hash{}, 0)
		if err != nil {
			return CallResult{Success: false}, err
		}
		return CallResult{Success: receipt.Status == StatusReturned || receipt.Status == StatusStopped, ReturnData: receipt.ReturnData, Address: addr}, nil
	default:
		code, err := r.loadCode(callee)
		if err != nil {
			return CallResult{}, err
		}
		result, err := r.Execute(code, gas, callee, caller, value, input, 0, Hash{}, 0)
		if err != nil {
			return CallResult{Success: false}, err
		}
		success := result.Status == StatusReturned || result.Status == StatusStopped
		return CallResult{Success: success, ReturnData: result.ReturnData, GasLeft: result.GasLimit - result.GasUsed}, nil
	}
}

func (r *ExecutionRouter) loadCode(addr Address) ([]byte, error) {
	raw, err := r.store.Get(contractKey(addr))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c.Code, nil
}

// Execute runs spec §4.8's pipeline: detect format, trust-gate, apply the
// reputation gas discount, dispatch to the matching sub-VM, then
// post-update reputation from the outcome.
func (r *ExecutionRouter) Execute(bytecode []byte, gasLimit uint64, contract, caller Address, value Word, input []byte, blockHeight uint64, blockHash Hash, timestamp uint64) (*ExecutionResult, error) {
	start := time.Now()

	detection := r.detector.Detect(bytecode)
	if !detection.IsValid {
		return nil, ErrInvalidBytecode
	}

	breakdown, err := r.hat.Breakdown(caller, caller)
	if err != nil {
		return nil, err
	}
	if !r.hat.TrustGate(breakdown.Final, "contract_execution") {
		return nil, ErrTrustGateDenied
	}

	adjustedGas := ApplyGasDiscount(gasLimit, breakdown.Final)
	gasSaved := gasLimit - adjustedGas

	var receipt *Receipt
	hops := 0

	switch detection.Format {
	case FormatNative:
		receipt = r.native.Execute(bytecode, &VMContext{
			Contract: contract, Caller: caller, CallValue: value, Input: input,
			BlockHeight: blockHeight, BlockHash: blockHash, Timestamp: timestamp,
			GasLimit: adjustedGas, Storage: r.storage,
		})

	case FormatEVM:
		if r.evm == nil || r.evmExec == nil {
			return nil, ErrUnsupportedFormat
		}
		if !r.hat.TrustGate(breakdown.Final, "cross_format_call") {
			return nil, ErrTrustGateDenied
		}
		r.evm.BeginTx()
		rec, err := r.evmExec(bytecode, EVMMessage{
			Contract: contract, Caller: caller, Value: value, Input: input,
			Gas: adjustedGas, BlockHeight: blockHeight, BlockHash: blockHash, Timestamp: timestamp,
		}, r.evm)
		if err != nil {
			return nil, err
		}
		if err := r.evm.EndTx(); err != nil {
			return nil, err
		}
		receipt = rec
		hops++

	case FormatHybrid:
		nativePart, evmPart, ok := SplitHybridSections(bytecode)
		if !ok {
			return nil, ErrInvalidBytecode
		}
		if r.evm == nil || r.evmExec == nil {
			return nil, ErrUnsupportedFormat
		}
		r.evm.BeginTx()
		evmRec, err := r.evmExec(evmPart, EVMMessage{
			Contract: contract, Caller: caller, Value: value, Input: input,
			Gas: adjustedGas, BlockHeight: blockHeight, BlockHash: blockHash, Timestamp: timestamp,
		}, r.evm)
		if err != nil {
			return nil, err
		}
		if err := r.evm.EndTx(); err != nil {
			return nil, err
		}
		hops++
		nativeGas := adjustedGas
		if evmRec != nil && evmRec.GasUsed < adjustedGas {
			nativeGas = adjustedGas - evmRec.GasUsed
		}
		nativeRec := r.native.Execute(nativePart, &VMContext{
			Contract: contract, Caller: caller, CallValue: value, Input: input,
			BlockHeight: blockHeight, BlockHash: blockHash, Timestamp: timestamp,
			GasLimit: nativeGas, Storage: r.storage,
		})
		receipt = &Receipt{
			Status:     nativeRec.Status,
			GasUsed:    nativeRec.GasUsed + evmIfNotNil(evmRec),
			ReturnData: nativeRec.ReturnData,
			Logs:       append(append([]VMLog{}, evmLogsIfNotNil(evmRec)...), nativeRec.Logs...),
		}

	default:
		return nil, ErrUnsupportedFormat
	}

	success := receipt.Status == StatusReturned || receipt.Status == StatusStopped
	_ = r.hat.RecordTradeOutcome(caller, success, false)

	result := &ExecutionResult{
		Status: receipt.Status, Format: detection.Format, GasLimit: adjustedGas,
		GasUsed: receipt.GasUsed, GasSaved: gasSaved, ReturnData: receipt.ReturnData,
		Logs: receipt.Logs, CrossFormatHops: hops, Reputation: breakdown.Final,
	}
	r.metrics.record(result, time.Since(start))
	return result, nil
}

func evmIfNotNil(r *Receipt) uint64 {
	if r == nil {
		return 0
	}
	return r.GasUsed
}

func evmLogsIfNotNil(r *Receipt) []VMLog {
	if r == nil {
		return nil
	}
	return r.Logs
}

func (r *ExecutionRouter) getNonce(addr Address) uint64 {
	raw, err := r.store.Get(nonceKey(addr))
	if err != nil || raw == nil {
		return 0
	}
	return WordFromBytes(raw).Uint64()
}

func (r *ExecutionRouter) incrementNonce(addr Address) error {
	n := r.getNonce(addr) + 1
	return r.store.Set(nonceKey(addr), WordFromUint64(n).Bytes())
}

// Deploy validates bytecode, checks the deployer's reputation against the
// deployment gate, computes the classic contract address, refuses if the
// address already holds code, runs the constructor (the initcode's return
// buffer becomes the runtime code), persists it, and increments the
// deployer's nonce on success (spec §4.8).
func (r *ExecutionRouter) Deploy(initCode []byte, deployer Address, gasLimit uint64, blockHeight uint64, blockHash Hash, timestamp uint64) (Address, *Receipt, error) {
	addr := ContractAddressClassic(deployer, r.getNonce(deployer))
	return r.deployAt(initCode, deployer, addr, gasLimit, blockHeight, blockHash, timestamp)
}

// DeploySalted is Deploy's CREATE2 counterpart, addressed by salt and the
// init code's hash instead of the deployer's nonce; the deployer's nonce
// is left unchanged (spec §4.7).
func (r *ExecutionRouter) DeploySalted(initCode []byte, deployer Address, salt Word, gasLimit uint64, blockHeight uint64, blockHash Hash, timestamp uint64) (Address, *Receipt, error) {
	addr := ContractAddressSalted(deployer, salt, initCode)
	raw, receipt, err := r.deployAtNoNonce(initCode, deployer, addr, gasLimit, blockHeight, blockHash, timestamp)
	return raw, receipt, err
}

func (r *ExecutionRouter) deployAt(initCode []byte, deployer, addr Address, gasLimit uint64, blockHeight uint64, blockHash Hash, timestamp uint64) (Address, *Receipt, error) {
	result, receipt, err := r.deployCommon(initCode, deployer, addr, gasLimit, blockHeight, blockHash, timestamp)
	if err != nil {
		return addr, receipt, err
	}
	if result {
		if err := r.incrementNonce(deployer); err != nil {
			return addr, receipt, err
		}
	}
	return addr, receipt, nil
}

func (r *ExecutionRouter) deployAtNoNonce(initCode []byte, deployer, addr Address, gasLimit uint64, blockHeight uint64, blockHash Hash, timestamp uint64) (Address, *Receipt, error) {
	_, receipt, err := r.deployCommon(initCode, deployer, addr, gasLimit, blockHeight, blockHash, timestamp)
	return addr, receipt, err
}

// deployCommon returns (success, receipt, error); success gates the
// classic-path nonce increment.
func (r *ExecutionRouter) deployCommon(initCode []byte, deployer, addr Address, gasLimit uint64, blockHeight uint64, blockHash Hash, timestamp uint64) (bool, *Receipt, error) {
	detection := r.detector.Detect(initCode)
	if !detection.IsValid {
		return false, nil, ErrInvalidBytecode
	}

	breakdown, err := r.hat.Breakdown(deployer, deployer)
	if err != nil {
		return false, nil, err
	}
	if !r.hat.TrustGate(breakdown.Final, "contract_deployment") {
		return false, nil, ErrTrustGateDenied
	}

	exists, err := r.store.Exists(contractKey(addr))
	if err != nil {
		return false, nil, err
	}
	if exists {
		return false, nil, ErrContractExists
	}

	adjustedGas := ApplyGasDiscount(gasLimit, breakdown.Final)

	var receipt *Receipt
	switch detection.Format {
	case FormatNative, FormatHybrid, FormatUnknown:
		receipt = r.native.Execute(initCode, &VMContext{
			Contract: addr, Caller: deployer, BlockHeight: blockHeight,
			BlockHash: blockHash, Timestamp: timestamp, GasLimit: adjustedGas, Storage: r.storage,
		})
	case FormatEVM:
		if r.evm == nil || r.evmExec == nil {
			return false, nil, ErrUnsupportedFormat
		}
		r.evm.BeginTx()
		rec, err := r.evmExec(initCode, EVMMessage{
			Contract: addr, Caller: deployer, Gas: adjustedGas,
			BlockHeight: blockHeight, BlockHash: blockHash, Timestamp: timestamp,
		}, r.evm)
		if err != nil {
			return false, nil, err
		}
		if err := r.evm.EndTx(); err != nil {
			return false, nil, err
		}
		receipt = rec
	}

	success := receipt.Status == StatusReturned || receipt.Status == StatusStopped
	if !success {
		return false, receipt, nil
	}

	runtimeCode := receipt.ReturnData
	if len(runtimeCode) == 0 {
		// No explicit RETURN in the constructor: the initcode itself is
		// the runtime code, matching a constructor-less deployment.
		runtimeCode = initCode
	}
	data, err := json.Marshal(&Contract{Code: runtimeCode})
	if err != nil {
		return false, receipt, err
	}
	if err := r.store.Set(contractKey(addr), data); err != nil {
		return false, receipt, ErrStorageWriteFail
	}
	Broadcast(TopicContractDeployed, data)
	return true, receipt, nil
}
