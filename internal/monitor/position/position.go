// Package position implements PositionMonitor: the exclusive owner of the
// position map (spec §4.6).
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/logging"
	"github.com/basistrade/engine/internal/ports"
)

// Monitor owns the simulated and real position views. It is mutated only
// through ApplyDeltas/ApplyExtraneousDelta/RefreshReal and read through
// Get — no other component
// mutates the position map (spec §5, "Shared-resource policy").
type Monitor struct {
	subscribed *domain.InstrumentSet
	readers    map[string]ports.PositionReader // venue -> position-read interface
	liveMode   bool

	simulated domain.PositionMap
	real      domain.PositionMap

	log    *logging.StructuredLogger
	events *logging.DomainEventLogger
}

// New constructs a Monitor pre-initialized with every subscribed key at
// zero, for both views (spec §4.6 invariant).
func New(subscribed *domain.InstrumentSet, readers map[string]ports.PositionReader, liveMode bool,
	log *logging.StructuredLogger, events *logging.DomainEventLogger) *Monitor {
	m := &Monitor{
		subscribed: subscribed,
		readers:    readers,
		liveMode:   liveMode,
		simulated:  make(domain.PositionMap, subscribed.Len()),
		real:       make(domain.PositionMap, subscribed.Len()),
		log:        log,
		events:     events,
	}
	for _, k := range subscribed.Keys() {
		m.simulated[k] = decimal.Zero
		m.real[k] = decimal.Zero
	}
	return m
}

// Views is the read-only snapshot returned by Get.
type Views struct {
	Simulated domain.PositionMap
	Real      domain.PositionMap
}

// Get returns a read-only copy of both position views.
func (m *Monitor) Get() Views {
	return Views{Simulated: m.simulated.Clone(), Real: m.real.Clone()}
}

// ApplyDeltas mutates the simulated view, enforcing the instrument-closure
// invariant (spec §8 invariant 1), and logs a PositionSnapshot.
func (m *Monitor) ApplyDeltas(t time.Time, deltas map[domain.InstrumentKey]decimal.Decimal) error {
	for k := range deltas {
		if !m.subscribed.Contains(k) {
			return errorcode.New(errorcode.PosUnknownInstrument, errorcode.High,
				fmt.Sprintf("delta references unsubscribed instrument %q", k.String()))
		}
	}
	m.simulated.Apply(deltas)
	m.logSnapshot(t, domain.ViewSimulated, "apply_deltas")
	return nil
}

// RefreshReal re-queries venue position-read interfaces in live mode, or
// sets real = simulated in backtest (spec §4.6). Unsubscribed keys
// reported back by a venue are POS-001 errors, never silently inserted.
func (m *Monitor) RefreshReal(ctx context.Context, t time.Time) error {
	if !m.liveMode {
		m.real = m.simulated.Clone()
		m.logSnapshot(t, domain.ViewReal, "refresh_real_backtest")
		return nil
	}

	byVenue := make(map[string][]domain.InstrumentKey)
	for k := range m.simulated {
		byVenue[k.Venue] = append(byVenue[k.Venue], k)
	}

	updated := make(domain.PositionMap, len(m.simulated))
	for venue, keys := range byVenue {
		reader, ok := m.readers[venue]
		if !ok {
			// No position-read interface configured for this venue: keep
			// the prior real value rather than dropping the key.
			for _, k := range keys {
				updated[k] = m.real[k]
			}
			continue
		}
		amounts, err := reader.Positions(ctx, keys)
		if err != nil {
			return errorcode.Wrap(errorcode.PosReconcileMismatch, errorcode.High,
				fmt.Sprintf("failed to refresh real positions for venue %q", venue), err)
		}
		for k, amt := range amounts {
			if !m.subscribed.Contains(k) {
				return errorcode.New(errorcode.PosUnknownInstrument, errorcode.High,
					fmt.Sprintf("venue %q reported unsubscribed instrument %q", venue, k.String()))
			}
			updated[k] = amt
		}
		for _, k := range keys {
			if _, ok := updated[k]; !ok {
				updated[k] = decimal.Zero
			}
		}
	}

	m.real = updated
	m.logSnapshot(t, domain.ViewReal, "refresh_real_live")
	return nil
}

// ApplyExtraneousDelta applies a delta on a key that was not an expected
// target, per the Open Question resolution in SPEC_FULL.md: log a MEDIUM
// warning and apply it anyway.
func (m *Monitor) ApplyExtraneousDelta(t time.Time, key domain.InstrumentKey, amount decimal.Decimal) error {
	if !m.subscribed.Contains(key) {
		return errorcode.New(errorcode.PosUnknownInstrument, errorcode.High,
			fmt.Sprintf("extraneous delta on unsubscribed instrument %q", key.String()))
	}
	m.simulated[key] = m.simulated[key].Add(amount)
	if m.log != nil {
		m.log.Warn(t, "applied unexpected actual delta not present in expected_deltas", errorcode.PosUnexpectedDelta,
			"instrument_key", key.String(), "amount", amount.String())
	}
	return nil
}

func (m *Monitor) logSnapshot(t time.Time, view domain.PositionView, trigger string) {
	if m.events == nil {
		return
	}
	snap := domain.PositionSnapshot{
		EngineTime:    domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		Positions:     m.viewFor(view),
		View:          view,
		TriggerSource: trigger,
	}
	_ = m.events.Emit(logging.KindPosition, t.Format(time.RFC3339Nano), snap.RealUTCTime.Format(time.RFC3339Nano), snap)
}

func (m *Monitor) viewFor(view domain.PositionView) domain.PositionMap {
	if view == domain.ViewReal {
		return m.real.Clone()
	}
	return m.simulated.Clone()
}
