package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngineTime pairs the simulated engine timestamp with the real wall-clock
// time a record was produced, carried by every snapshot and log record
// (spec §3, "Snapshot entities").
type EngineTime struct {
	EngineTimestamp time.Time
	RealUTCTime     time.Time
}

// PositionSnapshot is an immutable record of the position map at a point in
// the tick (spec §3).
type PositionSnapshot struct {
	EngineTime
	Positions     PositionMap
	TotalValueUSD decimal.Decimal
	View          PositionView
	TriggerSource string
}

// AssetExposure is one entry of an ExposureSnapshot's per-asset breakdown.
type AssetExposure struct {
	Asset          string
	NetAmount      decimal.Decimal
	ValueReporting decimal.Decimal
	Method         string // direct | usd_price | oracle | perp_mark | lst_conversion
}

// ExposureSnapshot is the converted, reporting-currency view of positions
// (spec §3).
type ExposureSnapshot struct {
	EngineTime
	NetDeltaReporting decimal.Decimal
	PerAsset          []AssetExposure
	TotalValue        decimal.Decimal
	ReportingCurrency string
}

// RiskLevel classifies the overall health of a risk assessment.
type RiskLevel string

const (
	RiskHealthy  RiskLevel = "healthy"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the output of RiskMonitor.assess (spec §3).
type RiskAssessment struct {
	EngineTime
	HealthFactor        decimal.Decimal
	LTV                 decimal.Decimal
	LiquidationThreshold decimal.Decimal
	MarginUsage         decimal.Decimal
	DeltaDeviation      decimal.Decimal
	RiskLevel           RiskLevel
	Warnings            []string
	Breaches            []string
}

// PnLAttribution decomposes P&L into its contributing sources.
type PnLAttribution struct {
	Funding      decimal.Decimal
	PriceChange  decimal.Decimal
	Fees         decimal.Decimal
	LendingYield decimal.Decimal
	StakingYield decimal.Decimal
}

// PnLCalculation is the output of PnLMonitor.compute (spec §3).
type PnLCalculation struct {
	EngineTime
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Total      decimal.Decimal
	Fees       decimal.Decimal
	Funding    decimal.Decimal
	Attribution PnLAttribution
	ByVenue    map[string]decimal.Decimal
	ByAsset    map[string]decimal.Decimal
}

// OperationExecutionEvent records one order's execution outcome (spec §3).
type OperationExecutionEvent struct {
	EngineTime
	OperationID        string
	OperationType      OperationType
	ExpectedDeltas     map[InstrumentKey]decimal.Decimal
	ActualDeltas       map[InstrumentKey]decimal.Decimal
	ExecutionDuration  time.Duration
	Status             HandshakeStatus
	ErrorCode          string
}

// AtomicOperationGroupEvent records the outcome of an atomic group (spec §3).
type AtomicOperationGroupEvent struct {
	EngineTime
	GroupID         string
	OperationIDs    []string
	AllSucceeded    bool
	RollbackOccurred bool
	TotalDuration   time.Duration
}

// TightLoopExecutionEvent records timing and retry detail for one tight-loop
// invocation (spec §3).
type TightLoopExecutionEvent struct {
	EngineTime
	OperationID           string
	RetryCount            int
	ExecutionDuration     time.Duration
	ReconciliationDuration time.Duration
	ReconciliationSuccess bool
}

// Mismatch is one reconciled key whose simulated/real difference exceeded
// tolerance.
type Mismatch struct {
	InstrumentKey InstrumentKey
	Simulated     decimal.Decimal
	Real          decimal.Decimal
	Difference    decimal.Decimal
}

// ReconciliationEvent records one reconciliation pass (spec §3).
type ReconciliationEvent struct {
	EngineTime
	SimulatedPositions PositionMap
	RealPositions      PositionMap
	Mismatches         []Mismatch
	RetryAttempt       int
	MaxRetries         int
	Success            bool
}

// StrategyDecision records what a strategy decided to do at a tick (spec §3).
type StrategyDecision struct {
	EngineTime
	Mode          string
	Trigger       string
	TargetPositions PositionMap
	OrdersEmitted []string // operation IDs
}
