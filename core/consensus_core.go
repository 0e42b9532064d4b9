package core

import (
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// ConsensusCore is the single composition root that owns every component
// (C1-C12) as explicit fields wired together at construction time. It
// replaces the teacher's scattered package-level singletons (CurrentLedger,
// AI(), Anomaly(), sync.Once-guarded accessors throughout
// cross_chain.go/anomaly_detection.go) with explicit dependency passing,
// per spec §9's redesign note -- the sole exception is the byte-keyed
// store's CurrentStore/SetStore pair in kv_store.go, which spec §6 itself
// describes as "a generic byte-keyed store" reached the same way the
// teacher reaches its ledger.
type ConsensusCore struct {
	Store    KVStore
	Storage  StorageBackend
	Graph    *TrustGraph
	HAT      *HATEngine
	DAO      *DAOEngine
	Detector *BytecodeDetector
	Native   *NativeVM
	EVM      *EVMHostAdapter
	Router   *ExecutionRouter
	Safety   *ConsensusSafetyValidator
	Sync     *GraphSyncService
	Debug    *DebugServer
	Coinbase *CoinbaseSplitter
	Anomaly  *AnomalyDetector
	Resource *ResourceManager

	Logger *log.Logger
	Audit  *zap.Logger
}

// ConsensusCoreOptions carries the construction-time configuration every
// component reads its tunables from (the fields of pkg/config.Config,
// passed in rather than imported directly -- core must not depend on the
// outer pkg/config package).
type ConsensusCoreOptions struct {
	HATWeights          HATWeights
	GateThresholds      map[string]uint32
	DAOConfig           DAOConfig
	DetectorCacheSize   int
	DetectorConfidence  float64
	AnomalyConfig       AnomalyConfig
	MinDeployReputation uint32
	GCIntervalBlocks    uint64
	BlockHashProvider   BlockHashProvider
	EVMExecutor         EVMExecutor
}

// NewConsensusCore builds every component in dependency order: storage
// first, then the trust/reputation layer, then the VM stack, then the
// cross-cutting safety/anomaly/resource services. NewExecutionRouter wires
// the router's dispatcher back into the EVM host adapter after both exist,
// avoiding the import-cycle the two components would otherwise require
// (see evm_host_adapter.go's Dispatcher comment).
func NewConsensusCore(store KVStore, logger *log.Logger, audit *zap.Logger, opts ConsensusCoreOptions) *ConsensusCore {
	if logger == nil {
		logger = log.StandardLogger()
	}

	storage := NewKVStorageBackend(store)
	graph := NewTrustGraph(store, logger, audit)
	hat := NewHATEngine(store, graph, opts.HATWeights, logger)
	for op, threshold := range opts.GateThresholds {
		hat.SetGateThreshold(op, threshold)
	}
	dao := NewDAOEngine(store, graph, opts.DAOConfig, logger, audit)

	detector := NewBytecodeDetector(opts.DetectorCacheSize)
	if opts.DetectorConfidence > 0 {
		detector.SetConfidenceThreshold(opts.DetectorConfidence)
	}

	native := NewNativeVM()
	evm := NewEVMHostAdapter(store, storage, opts.BlockHashProvider, logger)

	router := NewExecutionRouter(store, storage, detector, hat, native, evm, opts.EVMExecutor, logger)

	safety := NewConsensusSafetyValidator(logger)
	sync := NewGraphSyncService(graph)
	debug := NewDebugServer(safety, sync)

	coinbase := NewCoinbaseSplitter(logger)
	anomaly := NewAnomalyDetector(store, opts.AnomalyConfig, logger)

	resource := NewResourceManager(store, hat, logger)
	if opts.MinDeployReputation > 0 {
		resource.SetMinDeployReputation(opts.MinDeployReputation)
	}
	if opts.GCIntervalBlocks > 0 {
		resource.SetGCInterval(opts.GCIntervalBlocks)
	}

	return &ConsensusCore{
		Store: store, Storage: storage, Graph: graph, HAT: hat, DAO: dao,
		Detector: detector, Native: native, EVM: evm, Router: router,
		Safety: safety, Sync: sync, Debug: debug, Coinbase: coinbase,
		Anomaly: anomaly, Resource: resource, Logger: logger, Audit: audit,
	}
}
