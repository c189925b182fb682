// Package exposure implements ExposureMonitor: converts positions into net
// delta and per-asset exposure in the strategy's reporting currency
// (spec §4.7).
package exposure

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/logging"
	"github.com/basistrade/engine/internal/util"
)

// Monitor computes and caches the latest exposure snapshot.
type Monitor struct {
	cfg     config.ExposureMonitorConfig
	utility *util.Manager
	events  *logging.DomainEventLogger

	latest domain.ExposureSnapshot
}

// New constructs an exposure Monitor.
func New(cfg config.ExposureMonitorConfig, utility *util.Manager, events *logging.DomainEventLogger) *Monitor {
	return &Monitor{cfg: cfg, utility: utility, events: events}
}

// Compute folds every position into its reporting-currency value and caches
// the result (spec §4.7). It is a pure, in-memory computation: no I/O, no
// suspension (spec §5).
func (m *Monitor) Compute(t time.Time, positions domain.PositionMap, snap domain.MarketSnapshot) (domain.ExposureSnapshot, error) {
	byAsset := make(map[string]decimal.Decimal)
	netDelta := decimal.Zero
	total := decimal.Zero

	for key, amount := range positions {
		if amount.IsZero() {
			continue
		}
		value, method, err := m.utility.ValueOf(snap, key, amount)
		if err != nil {
			return domain.ExposureSnapshot{}, err
		}
		byAsset[key.Symbol] = byAsset[key.Symbol].Add(value)
		total = total.Add(value.Abs())
		netDelta = netDelta.Add(value)
		_ = method
	}

	perAsset := make([]domain.AssetExposure, 0, len(byAsset))
	for asset, value := range byAsset {
		method := m.cfg.ConversionMethods[asset]
		if method == "" {
			method = "usd_price"
		}
		perAsset = append(perAsset, domain.AssetExposure{
			Asset:          asset,
			ValueReporting: value,
			Method:         method,
		})
	}

	snapResult := domain.ExposureSnapshot{
		EngineTime:        domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		NetDeltaReporting: netDelta,
		PerAsset:          perAsset,
		TotalValue:        total,
		ReportingCurrency: m.cfg.ExposureCurrency,
	}
	m.latest = snapResult

	if m.events != nil {
		_ = m.events.Emit(logging.KindExposure, t.Format(time.RFC3339Nano), snapResult.RealUTCTime.Format(time.RFC3339Nano), snapResult)
	}
	return snapResult, nil
}

// GetLatest is an O(1) read of the last computed snapshot (spec §4.7,
// "Separation of read and compute").
func (m *Monitor) GetLatest() domain.ExposureSnapshot { return m.latest }
