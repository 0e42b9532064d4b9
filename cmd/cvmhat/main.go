// Command cvmhat wires a ConsensusCore and exposes its debug HTTP surface,
// the same bootstrap shape as the teacher's VM daemon in
// virtual_machine.go: flag-configured listen address, JSON-formatted
// logrus output, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"cvmhat-network/core"
	appconfig "cvmhat-network/pkg/config"
)

func main() {
	listen := flag.String("listen", ":9090", "debug HTTP listen address")
	env := flag.String("env", "", "config environment overlay (merged over default.yaml)")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logger := logrus.StandardLogger()

	cfg, err := appconfig.Load(*env)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	audit, err := zap.NewProduction()
	if err != nil {
		logger.WithError(err).Fatal("failed to build audit logger")
	}
	defer audit.Sync()

	store := core.NewInMemoryStore()
	core.SetStore(store)

	gateThresholds := map[string]uint32{
		"contract_deployment":  cfg.HAT.GateDeployment,
		"cross_format_call":    cfg.HAT.GateCrossFormat,
		"contract_execution":   cfg.HAT.GateContractExecMin,
	}

	cc := core.NewConsensusCore(store, logger, audit, core.ConsensusCoreOptions{
		HATWeights: core.HATWeights{
			Behaviour: cfg.HAT.WeightBehaviour,
			WoT:       cfg.HAT.WeightWoT,
			Economic:  cfg.HAT.WeightEconomic,
			Temporal:  cfg.HAT.WeightTemporal,
		},
		GateThresholds: gateThresholds,
		DAOConfig: core.DAOConfig{
			CommitPhaseBlocks:   cfg.DAO.CommitPhaseBlocks,
			RevealPhaseBlocks:   cfg.DAO.RevealPhaseBlocks,
			MinVotes:            cfg.DAO.MinVotes,
			PctChallengerBounty: cfg.DAO.PctChallengerBounty,
			PctVoterPool:        cfg.DAO.PctVoterPool,
			PctBurnOnSlash:      cfg.DAO.PctBurnOnSlash,
			PctWronglyAccused:   cfg.DAO.PctWronglyAccused,
		},
		DetectorCacheSize:  cfg.Detector.CacheCapacity,
		DetectorConfidence: cfg.Detector.ConfidenceThreshold,
		AnomalyConfig: core.AnomalyConfig{
			WindowSize: cfg.Anomaly.WindowSize, SpikeZScore: cfg.Anomaly.SpikeZScore,
			DropZScore: cfg.Anomaly.DropZScore, OscillationThreshold: cfg.Anomaly.OscillationThreshold,
			SlowResponseMS: cfg.Anomaly.SlowResponseMS, SlowResponseFraction: cfg.Anomaly.SlowResponseFraction,
			ErraticTimingCV: cfg.Anomaly.ErraticTimingCV, VoteBiasThreshold: cfg.Anomaly.VoteBiasThreshold,
			VoteBiasMinVotes: cfg.Anomaly.VoteBiasMinVotes, CoordinationThreshold: cfg.Anomaly.CoordinationThreshold,
			CoordinationMinVotes: cfg.Anomaly.CoordinationMinVotes, CoordinationWindowMS: cfg.Anomaly.CoordinationWindowMS,
			SybilMinAddresses: cfg.Anomaly.SybilMinAddresses, SybilRateDelta: cfg.Anomaly.SybilRateDelta,
			SybilPairFraction: cfg.Anomaly.SybilPairFraction, AlertCap: cfg.Anomaly.AlertCap,
		},
		MinDeployReputation: cfg.Resources.MinDeployReputation,
		GCIntervalBlocks:    cfg.Resources.GCIntervalBlocks,
	})

	srv := &http.Server{
		Addr:         *listen,
		Handler:      cc.Debug,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Infof("cvmhat debug surface listening on %s", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("debug server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("debug server shutdown failed")
	}
}
