// Package execution implements ExecutionManager and the tight loop that
// follows every venue call: apply actual deltas, refresh the real view,
// reconcile against tolerance, and recompute exposure/risk/P&L (spec §4.5,
// "PositionUpdateHandler").
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/logging"
	"github.com/basistrade/engine/internal/metrics"
	"github.com/basistrade/engine/internal/monitor/exposure"
	"github.com/basistrade/engine/internal/monitor/pnl"
	"github.com/basistrade/engine/internal/monitor/position"
	"github.com/basistrade/engine/internal/monitor/risk"
)

// Attribution carries the per-tick P&L inputs the tight loop has no other
// way to derive (fees come off the handshake; the rest are supplied by the
// caller from venue-reported funding/yield figures).
type Attribution struct {
	Fees         decimal.Decimal
	Funding      decimal.Decimal
	LendingYield decimal.Decimal
	StakingYield decimal.Decimal
}

// TightLoop owns the reconcile-then-recompute sequence run after every
// order's handshake comes back (spec §4.5).
type TightLoop struct {
	positions *position.Monitor
	exposure  *exposure.Monitor
	risk      *risk.Monitor
	pnl       *pnl.Monitor

	log     *logging.StructuredLogger
	events  *logging.DomainEventLogger
	metrics *metrics.Registry

	reconciliationTolerance decimal.Decimal
	maxRetries              int
	timeout                 time.Duration
}

// NewTightLoop constructs a TightLoop wired to the monitor chain it drives.
// metricsReg may be nil, in which case reconciliation counters are skipped.
func NewTightLoop(cfg config.ExecutionManagerConfig, reconciliationTolerance float64,
	positions *position.Monitor, exp *exposure.Monitor, riskMon *risk.Monitor, pnlMon *pnl.Monitor,
	log *logging.StructuredLogger, events *logging.DomainEventLogger, metricsReg *metrics.Registry) *TightLoop {
	return &TightLoop{
		positions:               positions,
		exposure:                exp,
		risk:                    riskMon,
		pnl:                     pnlMon,
		log:                     log,
		events:                  events,
		metrics:                 metricsReg,
		reconciliationTolerance: decimal.NewFromFloat(reconciliationTolerance),
		maxRetries:              cfg.MaxRetries,
		timeout:                 time.Duration(cfg.TightLoopTimeoutSeconds) * time.Second,
	}
}

// Run executes the tight loop for one order's handshake: apply deltas
// (expected keys via ApplyDeltas, surprise keys via ApplyExtraneousDelta
// per the Open Question resolution), refresh the real view, reconcile with
// retries, and recompute Exposure → Risk → PnL in that order (spec §4.5,
// §2 "tight loop").
func (tl *TightLoop) Run(ctx context.Context, t time.Time, operationID string,
	expectedDeltas map[domain.InstrumentKey]decimal.Decimal, hs domain.ExecutionHandshake,
	snap domain.MarketSnapshot, attr Attribution) (domain.TightLoopExecutionEvent, error) {

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, tl.timeout)
	defer cancel()

	if err := tl.applyActualDeltas(t, expectedDeltas, hs.ActualDeltas); err != nil {
		return domain.TightLoopExecutionEvent{}, err
	}

	reconcileStart := time.Now()
	recon, err := tl.reconcile(ctx, t)
	reconcileDuration := time.Since(reconcileStart)
	if err != nil {
		return domain.TightLoopExecutionEvent{}, err
	}

	views := tl.positions.Get()
	expSnap, err := tl.exposure.Compute(t, views.Simulated, snap)
	if err != nil {
		return domain.TightLoopExecutionEvent{}, err
	}
	tl.risk.Assess(t, views.Simulated, expSnap)
	tl.pnl.Compute(t, expSnap, attr.Fees, attr.Funding, attr.LendingYield, attr.StakingYield)

	event := domain.TightLoopExecutionEvent{
		EngineTime:             domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		OperationID:            operationID,
		RetryCount:             recon.RetryAttempt,
		ExecutionDuration:      time.Since(start),
		ReconciliationDuration: reconcileDuration,
		ReconciliationSuccess:  recon.Success,
	}
	if tl.events != nil {
		_ = tl.events.Emit(logging.KindTightLoop, t.Format(time.RFC3339Nano), event.RealUTCTime.Format(time.RFC3339Nano), event)
	}
	return event, nil
}

// applyActualDeltas applies every key the venue reported. Keys present in
// expectedDeltas go through ApplyDeltas as a batch; keys absent from it are
// surprises and go through ApplyExtraneousDelta individually, each logging
// its own MEDIUM POS-010 warning (spec §9 Open Question resolution).
func (tl *TightLoop) applyActualDeltas(t time.Time, expectedDeltas, actualDeltas map[domain.InstrumentKey]decimal.Decimal) error {
	known := make(map[domain.InstrumentKey]decimal.Decimal, len(actualDeltas))
	for k, amt := range actualDeltas {
		if _, expected := expectedDeltas[k]; expected {
			known[k] = amt
			continue
		}
		if err := tl.positions.ApplyExtraneousDelta(t, k, amt); err != nil {
			return err
		}
	}
	if len(known) > 0 {
		if err := tl.positions.ApplyDeltas(t, known); err != nil {
			return err
		}
	}
	return nil
}

// reconcile compares simulated against the refreshed real view within
// tolerance, retrying refresh_real up to maxRetries times before raising
// EXEC-005 (spec §4.5, §4.6).
func (tl *TightLoop) reconcile(ctx context.Context, t time.Time) (domain.ReconciliationEvent, error) {
	var last domain.ReconciliationEvent
	for attempt := 0; attempt <= tl.maxRetries; attempt++ {
		if err := tl.positions.RefreshReal(ctx, t); err != nil {
			return domain.ReconciliationEvent{}, err
		}
		views := tl.positions.Get()
		mismatches := diff(views.Simulated, views.Real, tl.reconciliationTolerance)

		last = domain.ReconciliationEvent{
			EngineTime:         domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
			SimulatedPositions: views.Simulated,
			RealPositions:      views.Real,
			Mismatches:         mismatches,
			RetryAttempt:       attempt,
			MaxRetries:         tl.maxRetries,
			Success:            len(mismatches) == 0,
		}
		if tl.events != nil {
			_ = tl.events.Emit(logging.KindReconciliation, t.Format(time.RFC3339Nano), last.RealUTCTime.Format(time.RFC3339Nano), last)
		}
		if last.Success {
			return last, nil
		}
		if tl.metrics != nil {
			tl.metrics.ReconciliationMismatchesTotal.Inc()
		}
		if tl.log != nil {
			tl.log.Warn(t, "position reconciliation mismatch", errorcode.PosReconcileMismatch,
				"attempt", attempt, "mismatch_count", len(mismatches))
		}
	}
	return last, errorcode.New(errorcode.ExecReconcileTimeout, errorcode.Critical,
		"reconciliation did not converge within max_retries")
}

func diff(simulated, real domain.PositionMap, tolerance decimal.Decimal) []domain.Mismatch {
	var mismatches []domain.Mismatch
	seen := make(map[domain.InstrumentKey]struct{}, len(simulated))
	for k, simAmt := range simulated {
		seen[k] = struct{}{}
		realAmt := real[k]
		d := simAmt.Sub(realAmt).Abs()
		if d.GreaterThan(tolerance) {
			mismatches = append(mismatches, domain.Mismatch{InstrumentKey: k, Simulated: simAmt, Real: realAmt, Difference: d})
		}
	}
	for k, realAmt := range real {
		if _, ok := seen[k]; ok {
			continue
		}
		d := realAmt.Abs()
		if d.GreaterThan(tolerance) {
			mismatches = append(mismatches, domain.Mismatch{InstrumentKey: k, Simulated: decimal.Zero, Real: realAmt, Difference: d})
		}
	}
	return mismatches
}
