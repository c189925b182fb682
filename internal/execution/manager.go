package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/logging"
	"github.com/basistrade/engine/internal/metrics"
	"github.com/basistrade/engine/internal/ports"
)

// Router dispatches an order to the venue interface responsible for its
// target venue (spec §4.4, "VenueInterfaceRouter").
type Router interface {
	RouteSingle(order domain.Order) (ports.VenueExecutor, bool)
	RouteGroup(venue string) (ports.VenueGroupExecutor, bool)
}

// Manager is ExecutionManager: it walks a tick's ordered order batch,
// submitting atomic groups as one venue call and standalone orders one at a
// time, retrying each with exponential backoff up to max_retries, and
// driving the tight loop after every handshake comes back (spec §4.3).
type Manager struct {
	router    Router
	tightLoop *TightLoop
	events    *logging.DomainEventLogger
	log       *logging.StructuredLogger
	metrics   *metrics.Registry

	maxRetries      int
	retryDelay      time.Duration
}

// New constructs an ExecutionManager. metrics may be nil, in which case
// order-execution counters are skipped.
func New(cfg config.ExecutionManagerConfig, router Router, tightLoop *TightLoop, events *logging.DomainEventLogger, log *logging.StructuredLogger, metricsReg *metrics.Registry) *Manager {
	return &Manager{
		router:     router,
		tightLoop:  tightLoop,
		events:     events,
		log:        log,
		metrics:    metricsReg,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelayMillis) * time.Millisecond,
	}
}

// Run submits every order a tick's strategy decision produced, grouping by
// AtomicGroupID and preserving SequenceInGroup / submission order within a
// group (spec §3, "AtomicGroupID / SequenceInGroup"). A non-retryable venue
// failure produces a failed handshake but never aborts the batch: every
// group and standalone order in the batch is attempted, and any failures
// are aggregated and surfaced (and already individually logged) only once
// the whole batch has been run (spec §4.3, "the ExecutionManager does not
// abort the batch").
func (m *Manager) Run(ctx context.Context, t time.Time, orders []domain.Order, snap domain.MarketSnapshot) error {
	groups, standalone := partition(orders)

	var errs []error
	for _, group := range groups {
		if err := m.runGroup(ctx, t, group, snap); err != nil {
			errs = append(errs, err)
		}
	}
	for _, order := range standalone {
		if err := m.runSingle(ctx, t, order, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func partition(orders []domain.Order) (groups [][]domain.Order, standalone []domain.Order) {
	byGroup := make(map[string][]domain.Order)
	var groupOrder []string
	for _, o := range orders {
		if !o.InAtomicGroup() {
			standalone = append(standalone, o)
			continue
		}
		if _, seen := byGroup[o.AtomicGroupID]; !seen {
			groupOrder = append(groupOrder, o.AtomicGroupID)
		}
		byGroup[o.AtomicGroupID] = append(byGroup[o.AtomicGroupID], o)
	}
	for _, id := range groupOrder {
		g := byGroup[id]
		sort.Slice(g, func(i, j int) bool { return g[i].SequenceInGroup < g[j].SequenceInGroup })
		groups = append(groups, g)
	}
	return groups, standalone
}

// runSingle submits one order with retry, then drives the tight loop.
func (m *Manager) runSingle(ctx context.Context, t time.Time, order domain.Order, snap domain.MarketSnapshot) error {
	executor, ok := m.router.RouteSingle(order)
	if !ok {
		return errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("no venue interface registered for venue %q", order.TargetVenue))
	}

	start := time.Now()
	hs, retries, err := m.executeWithRetry(ctx, func(ctx context.Context) (domain.ExecutionHandshake, error) {
		return executor.Execute(ctx, order)
	})
	m.logExecution(t, order, hs, err, time.Since(start))
	if m.metrics != nil {
		if retries > 0 {
			m.metrics.RetriesTotal.Add(float64(retries))
		}
		status := string(hs.Status)
		if err != nil {
			status = string(domain.StatusFailed)
		}
		m.metrics.ObserveOrderExecuted(status)
	}
	if err != nil {
		return err
	}

	_, err = m.tightLoop.Run(ctx, t, order.OperationID, order.ExpectedDeltaMap(), hs, snap, Attribution{Fees: hs.FeeAmount})
	return err
}

// runGroup submits an atomic group as a single venue call. On any non-success
// status the whole group is treated as rolled back: no partial application,
// no tight loop run (spec §4.4, "atomic groups are all-or-nothing").
func (m *Manager) runGroup(ctx context.Context, t time.Time, group []domain.Order, snap domain.MarketSnapshot) error {
	if len(group) == 0 {
		return nil
	}
	venue := group[0].TargetVenue
	executor, ok := m.router.RouteGroup(venue)
	if !ok {
		return errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("no atomic-group venue interface registered for venue %q", venue))
	}

	groupStart := time.Now()
	var handshakes []domain.ExecutionHandshake
	var err error
	handshakes, _, err = m.executeGroupWithRetry(ctx, func(ctx context.Context) ([]domain.ExecutionHandshake, error) {
		return executor.ExecuteGroup(ctx, group)
	})

	allSucceeded := err == nil
	if allSucceeded {
		for _, hs := range handshakes {
			if hs.Status != domain.StatusConfirmed {
				allSucceeded = false
				break
			}
		}
	}

	groupEvent := domain.AtomicOperationGroupEvent{
		EngineTime:       domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		GroupID:          group[0].AtomicGroupID,
		AllSucceeded:     allSucceeded,
		RollbackOccurred: !allSucceeded,
		TotalDuration:    time.Since(groupStart),
	}
	for _, o := range group {
		groupEvent.OperationIDs = append(groupEvent.OperationIDs, o.OperationID)
	}
	if m.events != nil {
		_ = m.events.Emit(logging.KindAtomicGroup, t.Format(time.RFC3339Nano), groupEvent.RealUTCTime.Format(time.RFC3339Nano), groupEvent)
	}

	if !allSucceeded {
		if m.metrics != nil {
			m.metrics.AtomicGroupRollbacksTotal.Inc()
		}
		if m.log != nil {
			m.log.Error(t, "atomic group execution failed, rolling back", errorcode.ExecAtomicRollback, errorcode.High,
				"group_id", group[0].AtomicGroupID)
		}
		if err == nil {
			err = errorcode.New(errorcode.ExecAtomicRollback, errorcode.High,
				fmt.Sprintf("atomic group %q did not fully confirm", group[0].AtomicGroupID))
		}
		return err
	}

	for i, o := range group {
		if _, err := m.tightLoop.Run(ctx, t, o.OperationID, o.ExpectedDeltaMap(), handshakes[i], snap, Attribution{Fees: handshakes[i].FeeAmount}); err != nil {
			return err
		}
	}
	return nil
}

// executeWithRetry retries non-retryable-classified errors never, and
// retryable ones with exponential backoff up to maxRetries (spec §4.4,
// "retry with exponential backoff"). An error returned by the venue call
// itself carries no retryable class and is returned at once.
func (m *Manager) executeWithRetry(ctx context.Context, call func(context.Context) (domain.ExecutionHandshake, error)) (domain.ExecutionHandshake, int, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		hs, err := call(ctx)
		if err == nil && hs.Status == domain.StatusConfirmed {
			return hs, attempt, nil
		}
		if err == nil {
			if !hs.ErrorClass.Retryable() {
				return hs, attempt, errorcode.New(errorcode.VenNonRetryable, errorcode.High,
					fmt.Sprintf("venue reported non-retryable status %q for operation %q", hs.Status, hs.OperationID))
			}
			lastErr = errorcode.New(errorcode.ExecVenueTimeout, errorcode.Medium,
				fmt.Sprintf("venue handshake not confirmed (status %q), retrying", hs.Status))
		} else {
			return domain.ExecutionHandshake{}, attempt, err
		}
		if attempt < m.maxRetries {
			m.backoff(ctx, attempt)
		}
	}
	return domain.ExecutionHandshake{}, m.maxRetries, errorcode.Wrap(errorcode.ExecRetryExhausted, errorcode.High,
		"exhausted max_retries executing order", lastErr)
}

func (m *Manager) executeGroupWithRetry(ctx context.Context, call func(context.Context) ([]domain.ExecutionHandshake, error)) ([]domain.ExecutionHandshake, int, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		hss, err := call(ctx)
		if err == nil {
			return hss, attempt, nil
		}
		lastErr = err
		if attempt < m.maxRetries {
			m.backoff(ctx, attempt)
		}
	}
	return nil, m.maxRetries, errorcode.Wrap(errorcode.ExecRetryExhausted, errorcode.High,
		"exhausted max_retries executing atomic group", lastErr)
}

func (m *Manager) backoff(ctx context.Context, attempt int) {
	delay := m.retryDelay * time.Duration(1<<uint(attempt))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (m *Manager) logExecution(t time.Time, order domain.Order, hs domain.ExecutionHandshake, err error, duration time.Duration) {
	status := hs.Status
	errCode := ""
	if err != nil {
		status = domain.StatusFailed
		if e, ok := err.(*errorcode.Error); ok {
			errCode = string(e.Code)
		}
	}
	event := domain.OperationExecutionEvent{
		EngineTime:        domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
		OperationID:       order.OperationID,
		OperationType:     order.OperationType,
		ExpectedDeltas:    order.ExpectedDeltaMap(),
		ActualDeltas:      hs.ActualDeltas,
		ExecutionDuration: duration,
		Status:            status,
		ErrorCode:         errCode,
	}
	if m.events != nil {
		_ = m.events.Emit(logging.KindOperationExecution, t.Format(time.RFC3339Nano), event.RealUTCTime.Format(time.RFC3339Nano), event)
	}
}
