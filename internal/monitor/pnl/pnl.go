// Package pnl implements PnLMonitor: unrealized P&L against the run's
// starting capital, and attribution (spec §4.7). Realized P&L is not
// computed: PnLCalculation.Realized is always zero.
package pnl

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/logging"
)

// Monitor computes and caches P&L, separating read (GetLatest, GetHistory,
// GetAttributionCumulative) from compute, per spec §4.7.
type Monitor struct {
	mu      sync.RWMutex
	cfg     config.PnLMonitorConfig
	events  *logging.DomainEventLogger
	enabled map[string]bool

	initialValue decimal.Decimal
	latest       domain.PnLCalculation
	history      []domain.PnLCalculation
	cumAttr      domain.PnLAttribution
}

// New constructs a PnL Monitor. initialValue anchors unrealized P&L to the
// run's starting capital.
func New(cfg config.PnLMonitorConfig, initialValue decimal.Decimal, events *logging.DomainEventLogger) *Monitor {
	enabled := make(map[string]bool, len(cfg.AttributionTypes))
	for _, t := range cfg.AttributionTypes {
		enabled[t] = true
	}
	return &Monitor{cfg: cfg, events: events, enabled: enabled, initialValue: initialValue}
}

// Compute calculates P&L from the current exposure value against the
// initial capital, plus whichever attributions are enabled by config; the
// rest report zero and are absent from the rollup (spec §4.7). It caches
// the result — compute(t) called twice with the same snapshot yields the
// same result (spec §8 invariant 8).
func (m *Monitor) Compute(t time.Time, exposure domain.ExposureSnapshot, fees, funding, lendingYield, stakingYield decimal.Decimal) domain.PnLCalculation {
	m.mu.Lock()
	defer m.mu.Unlock()

	unrealized := exposure.TotalValue.Sub(m.initialValue)

	attr := domain.PnLAttribution{}
	if m.enabled["funding"] {
		attr.Funding = funding
	}
	if m.enabled["price"] {
		attr.PriceChange = unrealized.Sub(funding).Sub(lendingYield).Sub(stakingYield)
	}
	if m.enabled["fees"] {
		attr.Fees = fees
	}
	if m.enabled["lending_yield"] {
		attr.LendingYield = lendingYield
	}
	if m.enabled["staking_yield"] {
		attr.StakingYield = stakingYield
	}

	calc := domain.PnLCalculation{
		EngineTime:  domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		Unrealized:  unrealized,
		Total:       unrealized.Sub(fees),
		Fees:        fees,
		Funding:     funding,
		Attribution: attr,
	}

	m.latest = calc
	m.history = append(m.history, calc)
	m.cumAttr.Funding = m.cumAttr.Funding.Add(attr.Funding)
	m.cumAttr.PriceChange = m.cumAttr.PriceChange.Add(attr.PriceChange)
	m.cumAttr.Fees = m.cumAttr.Fees.Add(attr.Fees)
	m.cumAttr.LendingYield = m.cumAttr.LendingYield.Add(attr.LendingYield)
	m.cumAttr.StakingYield = m.cumAttr.StakingYield.Add(attr.StakingYield)

	if m.events != nil {
		_ = m.events.Emit(logging.KindPnL, t.Format(time.RFC3339Nano), calc.RealUTCTime.Format(time.RFC3339Nano), calc)
	}
	return calc
}

// GetLatest is an O(1) read of the most recent calculation.
func (m *Monitor) GetLatest() domain.PnLCalculation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// GetHistory returns the last n calculations, oldest first.
func (m *Monitor) GetHistory(n int) []domain.PnLCalculation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]domain.PnLCalculation, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// GetAttributionCumulative returns the attribution rollup accumulated
// across every Compute call this run.
func (m *Monitor) GetAttributionCumulative() domain.PnLAttribution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cumAttr
}
