// Package ports declares the capability interfaces the engine core consumes.
// Mirrors the teacher's internal/ports convention: each interface is a
// narrow contract owned by the caller, implemented by an adapter package.
package ports

import (
	"context"
	"time"

	"github.com/basistrade/engine/internal/domain"
	"github.com/shopspring/decimal"
)

// DataProvider returns a market snapshot for a given timestamp. The backtest
// variant reads from a fixture database; the live variant polls venue feeds.
type DataProvider interface {
	Snapshot(ctx context.Context, t time.Time) (domain.MarketSnapshot, error)
	// Timestamps yields the full backtest time series in order. Live
	// providers return ErrLiveSeriesUnsupported; live mode is driven by a
	// wall-clock ticker in the engine instead.
	Timestamps(ctx context.Context) ([]time.Time, error)
}

// VenueExecutor executes one order against a venue and reports what
// happened (spec §4.4, "VenueInterface").
type VenueExecutor interface {
	Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error)
}

// VenueGroupExecutor executes a set of orders sharing an atomic group as a
// single indivisible venue call.
type VenueGroupExecutor interface {
	ExecuteGroup(ctx context.Context, orders []domain.Order) ([]domain.ExecutionHandshake, error)
}

// PositionReader queries a venue's authoritative position state, used by
// PositionMonitor.refresh_real in live mode.
type PositionReader interface {
	Positions(ctx context.Context, keys []domain.InstrumentKey) (map[domain.InstrumentKey]decimal.Decimal, error)
}

// StrategyVariant is the capability surface every strategy variant
// implements (spec §4.2, §9 "variant dispatch").
type StrategyVariant interface {
	// RequiredInstruments lists the instrument keys this variant touches;
	// checked against the mode's subscribed set at construction.
	RequiredInstruments() []domain.InstrumentKey
	// Decide inspects the current state and returns the orders to submit
	// this tick, or nil if no action is warranted.
	Decide(ctx context.Context, in DecisionInput) ([]domain.Order, error)
}

// DecisionInput bundles everything a strategy variant needs to decide.
type DecisionInput struct {
	Timestamp time.Time
	Positions domain.PositionMap
	Exposure  domain.ExposureSnapshot
	Risk      domain.RiskAssessment
	Market    domain.MarketSnapshot
}
