// Package config provides a reusable loader for the consensus core's
// runtime-tunable thresholds: HAT weights and gate thresholds, DAO phase
// durations and reward percentages, trust bonds, detector confidence,
// coinbase split, anomaly thresholds, and resource GC settings. Resource-
// tier rate caps and gas costs are not part of it. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"cvmhat-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified runtime configuration for a ConsensusCore
// instance. It mirrors the structure of the YAML files under
// cmd/config and the magic numbers named throughout spec §4.
type Config struct {
	HAT struct {
		WeightBehaviour uint32 `mapstructure:"weight_behaviour" json:"weight_behaviour"`
		WeightWoT       uint32 `mapstructure:"weight_wot" json:"weight_wot"`
		WeightEconomic  uint32 `mapstructure:"weight_economic" json:"weight_economic"`
		WeightTemporal  uint32 `mapstructure:"weight_temporal" json:"weight_temporal"`

		GateDeployment     uint32 `mapstructure:"gate_deployment" json:"gate_deployment"`
		GateCrossFormat    uint32 `mapstructure:"gate_cross_format" json:"gate_cross_format"`
		GateContractExecMin uint32 `mapstructure:"gate_contract_execution" json:"gate_contract_execution"`
	} `mapstructure:"hat" json:"hat"`

	Trust struct {
		MinBond      uint64 `mapstructure:"min_bond" json:"min_bond"`
		PerPointBond uint64 `mapstructure:"per_point_bond" json:"per_point_bond"`
		MaxPathDepth int    `mapstructure:"max_path_depth" json:"max_path_depth"`
	} `mapstructure:"trust" json:"trust"`

	DAO struct {
		CommitPhaseBlocks  uint64 `mapstructure:"commit_phase_blocks" json:"commit_phase_blocks"`
		RevealPhaseBlocks  uint64 `mapstructure:"reveal_phase_blocks" json:"reveal_phase_blocks"`
		MinVotes           int    `mapstructure:"min_votes" json:"min_votes"`
		PctChallengerBounty uint64 `mapstructure:"pct_challenger_bounty" json:"pct_challenger_bounty"`
		PctVoterPool       uint64 `mapstructure:"pct_voter_pool" json:"pct_voter_pool"`
		PctBurnOnSlash     uint64 `mapstructure:"pct_burn_on_slash" json:"pct_burn_on_slash"`
		PctWronglyAccused  uint64 `mapstructure:"pct_wrongly_accused" json:"pct_wrongly_accused"`
	} `mapstructure:"dao" json:"dao"`

	Detector struct {
		ConfidenceThreshold float64 `mapstructure:"confidence_threshold" json:"confidence_threshold"`
		CacheCapacity       int     `mapstructure:"cache_capacity" json:"cache_capacity"`
	} `mapstructure:"detector" json:"detector"`

	Coinbase struct {
		MinerSharePermille uint64 `mapstructure:"miner_share_permille" json:"miner_share_permille"`
		ToleranceBaseUnits uint64 `mapstructure:"tolerance_base_units" json:"tolerance_base_units"`
	} `mapstructure:"coinbase" json:"coinbase"`

	Anomaly struct {
		WindowSize            int     `mapstructure:"window_size" json:"window_size"`
		SpikeZScore           float64 `mapstructure:"spike_zscore" json:"spike_zscore"`
		DropZScore            float64 `mapstructure:"drop_zscore" json:"drop_zscore"`
		OscillationThreshold  float64 `mapstructure:"oscillation_threshold" json:"oscillation_threshold"`
		SlowResponseMS        float64 `mapstructure:"slow_response_ms" json:"slow_response_ms"`
		SlowResponseFraction  float64 `mapstructure:"slow_response_fraction" json:"slow_response_fraction"`
		ErraticTimingCV       float64 `mapstructure:"erratic_timing_cv" json:"erratic_timing_cv"`
		VoteBiasThreshold     float64 `mapstructure:"vote_bias_threshold" json:"vote_bias_threshold"`
		VoteBiasMinVotes      int     `mapstructure:"vote_bias_min_votes" json:"vote_bias_min_votes"`
		CoordinationThreshold float64 `mapstructure:"coordination_threshold" json:"coordination_threshold"`
		CoordinationMinVotes  int     `mapstructure:"coordination_min_votes" json:"coordination_min_votes"`
		CoordinationWindowMS  int64   `mapstructure:"coordination_window_ms" json:"coordination_window_ms"`
		SybilMinAddresses     int     `mapstructure:"sybil_min_addresses" json:"sybil_min_addresses"`
		SybilRateDelta        float64 `mapstructure:"sybil_rate_delta" json:"sybil_rate_delta"`
		SybilPairFraction     float64 `mapstructure:"sybil_pair_fraction" json:"sybil_pair_fraction"`
		AlertCap              int     `mapstructure:"alert_cap" json:"alert_cap"`
	} `mapstructure:"anomaly" json:"anomaly"`

	Resources struct {
		MinDeployReputation uint32 `mapstructure:"min_deploy_reputation" json:"min_deploy_reputation"`
		GCIntervalBlocks    uint64 `mapstructure:"gc_interval_blocks" json:"gc_interval_blocks"`
		TrustCacheTTLHours  int    `mapstructure:"trust_cache_ttl_hours" json:"trust_cache_ttl_hours"`
	} `mapstructure:"resources" json:"resources"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads cmd/config/default.yaml and merges any environment-specific
// override file (cmd/config/<env>.yaml) on top of it. The resulting
// configuration is stored in AppConfig and returned. If env is empty, only
// the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("CVMHAT")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CVMHAT_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CVMHAT_ENV", ""))
}
