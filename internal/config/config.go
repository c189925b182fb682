// Package config holds the engine's already-validated configuration value.
// Parsing and schema validation of the on-disk file are explicitly out of
// scope for the core (spec §1); this package models the *shape* the engine
// consumes (spec §6) and the fail-fast checks the core itself performs at
// construction (spec §9, "Configuration defaults vs. fail-fast").
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/basistrade/engine/internal/domain/errorcode"
)

// Environment selects the credential/endpoint set (spec §6).
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ExecutionMode selects backtest vs. live operation (spec §6).
type ExecutionMode string

const (
	ModeBacktest ExecutionMode = "backtest"
	ModeLive     ExecutionMode = "live"
)

// Config is the recognized shape of the core-consumed configuration value.
type Config struct {
	Mode             string  `yaml:"mode"`
	ShareClass       string  `yaml:"share_class"`
	InitialCapital   float64 `yaml:"initial_capital"`
	ReportingCurrency string `yaml:"reporting_currency"`

	PositionMonitor PositionMonitorConfig `yaml:"position_monitor"`
	ExposureMonitor ExposureMonitorConfig `yaml:"exposure_monitor"`
	RiskMonitor     RiskMonitorConfig     `yaml:"risk_monitor"`
	PnLMonitor      PnLMonitorConfig      `yaml:"pnl_monitor"`
	StrategyManager StrategyManagerConfig `yaml:"strategy_manager"`
	ExecutionManager ExecutionManagerConfig `yaml:"execution_manager"`

	Venues map[string]VenueConfig `yaml:"venues"`
}

// PositionMonitorConfig is component_config.position_monitor (spec §6).
type PositionMonitorConfig struct {
	PositionSubscriptions []string `yaml:"position_subscriptions"`
}

// ExposureMonitorConfig is component_config.exposure_monitor (spec §6).
type ExposureMonitorConfig struct {
	ExposureCurrency  string            `yaml:"exposure_currency"`
	TrackAssets       []string          `yaml:"track_assets"`
	ConversionMethods map[string]string `yaml:"conversion_methods"` // asset -> direct|usd_price|oracle|perp_mark|lst_conversion
}

// RiskMonitorConfig is component_config.risk_monitor (spec §6).
type RiskMonitorConfig struct {
	EnabledRiskTypes  []string           `yaml:"enabled_risk_types"`
	RiskLimits        map[string]float64 `yaml:"risk_limits"`
	DeltaTolerance    float64            `yaml:"delta_tolerance"`
	DeltaTrackingAsset string            `yaml:"delta_tracking_asset"`
	WarningThresholds map[string]float64 `yaml:"warning_thresholds"`
	CriticalThresholds map[string]float64 `yaml:"critical_thresholds"`
}

// PnLMonitorConfig is component_config.pnl_monitor (spec §6).
type PnLMonitorConfig struct {
	AttributionTypes       []string `yaml:"attribution_types"`
	ReconciliationTolerance float64 `yaml:"reconciliation_tolerance"`
}

// StrategyManagerConfig is component_config.strategy_manager (spec §6).
type StrategyManagerConfig struct {
	StrategyType             string   `yaml:"strategy_type"`
	RebalancingTriggers      []string `yaml:"rebalancing_triggers"`
	PositionDeviationThreshold float64 `yaml:"position_deviation_threshold"`
	ReserveRatio             float64  `yaml:"reserve_ratio"`
	HedgeAllocation          float64  `yaml:"hedge_allocation"`
}

// ExecutionManagerConfig is component_config.execution_manager (spec §6).
type ExecutionManagerConfig struct {
	SupportedActions []string          `yaml:"supported_actions"`
	ActionMapping    map[string]string `yaml:"action_mapping"`
	MaxRetries       int               `yaml:"max_retries"`
	TightLoopTimeoutSeconds int        `yaml:"tight_loop_timeout_seconds"`
	RetryDelayMillis int               `yaml:"retry_delay_millis"`
}

// VenueKind selects which concrete venue interface implementation a venue
// entry wires to (spec §6 names the venue-agnostic operations; the kind
// tag is this engine's own addition so the core can dispatch construction
// without parsing order_types heuristically).
type VenueKind string

const (
	VenueKindCEX       VenueKind = "cex"
	VenueKindLending   VenueKind = "lending"
	VenueKindStaking   VenueKind = "staking"
	VenueKindDEX       VenueKind = "dex"
	VenueKindTransfer  VenueKind = "transfer"
	VenueKindFlashLoan VenueKind = "flashloan"
)

// VenueConfig is one venues.<venue> entry (spec §6).
type VenueConfig struct {
	Enabled              bool      `yaml:"enabled"`
	Kind                 VenueKind `yaml:"venue_kind"`
	Instruments          []string  `yaml:"instruments"`
	CanonicalInstruments []string  `yaml:"canonical_instruments"`
	OrderTypes           []string  `yaml:"order_types"`
	MinAmount            float64   `yaml:"min_amount"`
	MaxLeverage          float64   `yaml:"max_leverage"`
	RequestsPerSecond    float64   `yaml:"requests_per_second"`
	TokenAddresses       map[string]string `yaml:"token_addresses"`  // symbol -> hex address, on-chain venues only
	TokenDecimals        map[string]int32  `yaml:"token_decimals"`   // symbol -> ERC20 decimals, on-chain venues only
	FeeTierBps           uint32    `yaml:"fee_tier_bps"`             // dex only
	SlippageTolerance    float64   `yaml:"slippage_tolerance"`       // dex only
	TransferDestinations map[string]string `yaml:"transfer_destinations"` // target venue -> deposit address, transfer only
}

// Load reads and parses a YAML configuration file, applying .env overrides
// the way the teacher's config.Load does. The returned value is NOT yet
// validated; callers must call Validate before constructing the engine.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}
	return &cfg, nil
}

// ResolveEnvironment reads BASIS_ENVIRONMENT, defaulting to dev only when
// the variable is entirely unset (an informational default, not a
// safety-relevant one).
func ResolveEnvironment() Environment {
	switch os.Getenv("BASIS_ENVIRONMENT") {
	case string(EnvStaging):
		return EnvStaging
	case string(EnvProd):
		return EnvProd
	default:
		return EnvDev
	}
}

// ResolveExecutionMode reads BASIS_EXECUTION_MODE, falling back to the
// caller-supplied inferred value when unset (spec §6).
func ResolveExecutionMode(inferred ExecutionMode) ExecutionMode {
	switch os.Getenv("BASIS_EXECUTION_MODE") {
	case string(ModeLive):
		return ModeLive
	case string(ModeBacktest):
		return ModeBacktest
	default:
		return inferred
	}
}

// Validate performs the fail-fast checks of spec §9: every safety-relevant
// field must be present, with no silent fallback default. It returns a
// *errorcode.Error with code CONF-001 on the first missing field found.
func (c *Config) Validate() error {
	if c.Mode == "" {
		return missing("mode")
	}
	if c.ReportingCurrency == "" {
		return missing("reporting_currency")
	}
	if len(c.PositionMonitor.PositionSubscriptions) == 0 {
		return missing("position_monitor.position_subscriptions")
	}
	if c.ExposureMonitor.ExposureCurrency == "" {
		return missing("exposure_monitor.exposure_currency")
	}
	if c.RiskMonitor.DeltaTolerance <= 0 {
		return missing("risk_monitor.delta_tolerance")
	}
	if len(c.RiskMonitor.EnabledRiskTypes) == 0 {
		return missing("risk_monitor.enabled_risk_types")
	}
	if c.PnLMonitor.ReconciliationTolerance <= 0 {
		return missing("pnl_monitor.reconciliation_tolerance")
	}
	if c.ExecutionManager.MaxRetries <= 0 {
		return missing("execution_manager.max_retries")
	}
	if c.ExecutionManager.TightLoopTimeoutSeconds <= 0 {
		return missing("execution_manager.tight_loop_timeout_seconds")
	}
	for name, v := range c.Venues {
		if !v.Enabled {
			continue
		}
		if len(v.Instruments) == 0 {
			return missing(fmt.Sprintf("venues.%s.instruments", name))
		}
		if v.Kind == "" {
			return missing(fmt.Sprintf("venues.%s.venue_kind", name))
		}
	}
	return nil
}

func missing(field string) error {
	return errorcode.New(errorcode.ConfMissingField, errorcode.Critical,
		fmt.Sprintf("required configuration field %q is missing", field))
}
