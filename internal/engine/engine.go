// Package engine wires the component graph (DataProvider, monitors,
// StrategyManager, ExecutionManager, venue router) into the run loop
// described in spec §2: strategy → order → venue → reconciliation, tick
// after tick, under one correlation scope (spec §4.8).
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/execution"
	"github.com/basistrade/engine/internal/logging"
	"github.com/basistrade/engine/internal/metrics"
	"github.com/basistrade/engine/internal/monitor/exposure"
	"github.com/basistrade/engine/internal/monitor/pnl"
	"github.com/basistrade/engine/internal/monitor/position"
	"github.com/basistrade/engine/internal/monitor/risk"
	"github.com/basistrade/engine/internal/ports"
	"github.com/basistrade/engine/internal/strategy"
	"github.com/basistrade/engine/internal/util"
	"github.com/basistrade/engine/internal/venue"
)

// State is the engine's own lifecycle state machine (spec §2, "Engine
// states: Initialized → Running → (Stopping) → Terminated").
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateTerminated  State = "terminated"
)

// Engine owns the full component graph for one run and drives its tick
// loop, the way cmd/scanner/main.go's runPaper/runBacktest own one
// scanner+storage+notifier graph for the process lifetime, generalized
// from Polymarket scanning to the strategy/order/venue/reconciliation
// pipeline.
type Engine struct {
	state State

	scope  domain.CorrelationScope
	dirMgr *logging.DirectoryManager
	events *logging.DomainEventLogger
	logs   map[string]*logging.StructuredLogger

	clock        Clock
	dataProvider ports.DataProvider

	positions *position.Monitor
	exposure  *exposure.Monitor
	risk      *risk.Monitor
	pnl       *pnl.Monitor
	utility   *util.Manager

	strategyVariant ports.StrategyVariant
	strategyMode    string

	execManager *execution.Manager
	router      *venue.Router

	refreshCron *cron.Cron
	metrics     *metrics.Registry

	liveMode bool
}

// Dependencies bundles the already-constructed pieces Build needs that
// aren't wholly derivable from cfg alone (the instrument universe and, for
// backtest mode, the fixture-backed DataProvider).
type Dependencies struct {
	Subscribed   *domain.InstrumentSet
	DataProvider ports.DataProvider
	BaseLogDir   string // root for logs/<correlation_id>/<pid>
}

// Build constructs the full component graph from cfg and deps, performing
// every fail-fast check spec §9 requires before returning a runnable
// Engine. Nothing is started yet; call Run to drive ticks.
func Build(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := config.ResolveExecutionMode(config.ExecutionMode(cfg.Mode))
	liveMode := mode == config.ModeLive
	env := config.ResolveEnvironment()

	correlationID := uuid.NewString()
	pid := os.Getpid()
	startedAt := time.Now().UTC()

	dirMgr, err := logging.NewDirectoryManager(deps.BaseLogDir, correlationID, pid, logging.RunMetadata{
		CorrelationID: correlationID,
		PID:           pid,
		Mode:          string(mode),
		Capital:       decimal.NewFromFloat(cfg.InitialCapital).String(),
		StartedAt:     startedAt,
	})
	if err != nil {
		return nil, err
	}
	events := logging.NewDomainEventLogger(dirMgr, correlationID, pid)

	logs := make(map[string]*logging.StructuredLogger)
	for _, component := range []string{
		"engine", "position_monitor", "exposure_monitor", "risk_monitor",
		"pnl_monitor", "strategy_manager", "execution_manager",
	} {
		l, err := logging.NewStructuredLogger(dirMgr, component, correlationID, pid)
		if err != nil {
			return nil, err
		}
		logs[component] = l
	}

	router := venue.NewRouter()
	factory := venue.NewFactory(env)
	if err := wireVenues(factory, router, cfg.Venues, liveMode); err != nil {
		return nil, err
	}

	readers := make(map[string]ports.PositionReader, len(router.Readers()))
	for name, r := range router.Readers() {
		readers[name] = r
	}

	positions := position.New(deps.Subscribed, readers, liveMode, logs["position_monitor"], events)
	utility := util.New()
	expMon := exposure.New(cfg.ExposureMonitor, utility, events)
	riskMon := risk.New(cfg.RiskMonitor, events)
	pnlMon := pnl.New(cfg.PnLMonitor, decimal.NewFromFloat(cfg.InitialCapital), events)

	variant, err := strategy.New(cfg.StrategyManager.StrategyType, deps.Subscribed, cfg.StrategyManager, cfg.Venues)
	if err != nil {
		return nil, err
	}
	for _, k := range variant.RequiredInstruments() {
		if !deps.Subscribed.Contains(k) {
			return nil, errorcode.New(errorcode.StratMissingInstrument, errorcode.Critical,
				fmt.Sprintf("strategy requires instrument %q not present in subscribed set", k.String()))
		}
	}

	metricsReg := metrics.New()
	tightLoop := execution.NewTightLoop(cfg.ExecutionManager, cfg.PnLMonitor.ReconciliationTolerance,
		positions, expMon, riskMon, pnlMon, logs["execution_manager"], events, metricsReg)
	execManager := execution.New(cfg.ExecutionManager, router, tightLoop, events, logs["execution_manager"], metricsReg)

	e := &Engine{
		state:           StateInitialized,
		scope:           domain.CorrelationScope{CorrelationID: correlationID, PID: pid, Mode: string(mode), Capital: decimal.NewFromFloat(cfg.InitialCapital), StartedAt: startedAt},
		dirMgr:          dirMgr,
		events:          events,
		logs:            logs,
		dataProvider:    deps.DataProvider,
		positions:       positions,
		exposure:        expMon,
		risk:            riskMon,
		pnl:             pnlMon,
		utility:         utility,
		strategyVariant: variant,
		strategyMode:    cfg.StrategyManager.StrategyType,
		execManager:     execManager,
		router:          router,
		metrics:         metricsReg,
		liveMode:        liveMode,
	}

	if liveMode {
		e.clock = NewLiveClock(time.Duration(cfg.ExecutionManager.TightLoopTimeoutSeconds) * time.Second)
		e.refreshCron = cron.New()
	} else {
		series, err := deps.DataProvider.Timestamps(context.Background())
		if err != nil {
			return nil, err
		}
		e.clock = NewBacktestClock(series)
	}

	return e, nil
}

// wireVenues builds one executor (and, where applicable, reader) per
// enabled venue and registers it on router, dispatching on cfg.Kind the
// way cmd/scanner/main.go dispatches on a run-mode flag to build the
// matching adapter.
func wireVenues(factory *venue.Factory, router *venue.Router, venues map[string]config.VenueConfig, liveMode bool) error {
	for name, v := range venues {
		if !v.Enabled {
			continue
		}
		switch v.Kind {
		case config.VenueKindCEX:
			rps := v.RequestsPerSecond
			if rps <= 0 {
				rps = 5
			}
			client, err := factory.BuildCEX(name, rps)
			if err != nil {
				return err
			}
			router.RegisterExecutor(name, client)
			router.RegisterReader(name, venue.NewCEXPositionReader(client, name))

		case config.VenueKindLending:
			tokenAddrs, decimals := addressMap(v)
			client, err := factory.BuildLending(name, tokenAddrs, decimals)
			if err != nil {
				return err
			}
			router.RegisterExecutor(name, client)

		case config.VenueKindStaking:
			client, err := factory.BuildStaking(name)
			if err != nil {
				return err
			}
			router.RegisterExecutor(name, client)

		case config.VenueKindDEX:
			tokenAddrs, decimals := addressMap(v)
			slippage := v.SlippageTolerance
			if slippage <= 0 {
				slippage = 0.005
			}
			client, err := factory.BuildDEX(name, tokenAddrs, decimals, v.FeeTierBps, slippage)
			if err != nil {
				return err
			}
			router.RegisterExecutor(name, client)

		case config.VenueKindTransfer:
			tokenAddrs, decimals := addressMap(v)
			destinations := make(map[string]common.Address, len(v.TransferDestinations))
			for target, hex := range v.TransferDestinations {
				destinations[target] = common.HexToAddress(hex)
			}
			client, err := factory.BuildTransfer(name, destinations, tokenAddrs, decimals)
			if err != nil {
				return err
			}
			router.RegisterExecutor(name, client)

		case config.VenueKindFlashLoan:
			tokenAddrs, decimals := addressMap(v)
			client, err := factory.BuildFlashLoan(name, tokenAddrs, decimals)
			if err != nil {
				return err
			}
			router.RegisterGroupExecutor(name, client)

		default:
			return errorcode.New(errorcode.ConfMissingField, errorcode.Critical,
				fmt.Sprintf("venue %q has unrecognized venue_kind %q", name, v.Kind))
		}
	}
	return nil
}

func addressMap(v config.VenueConfig) (map[string]common.Address, map[string]int32) {
	addrs := make(map[string]common.Address, len(v.TokenAddresses))
	for sym, hex := range v.TokenAddresses {
		addrs[sym] = common.HexToAddress(hex)
	}
	return addrs, v.TokenDecimals
}

// Run drives the tick loop until the clock is exhausted (backtest) or ctx
// is cancelled (live), transitioning Initialized → Running → Stopping →
// Terminated (spec §2).
func (e *Engine) Run(ctx context.Context) error {
	e.state = StateRunning
	if e.refreshCron != nil {
		e.refreshCron.Start()
		defer e.refreshCron.Stop()
	}

	var runErr error
	for {
		t, ok := e.clock.Next(ctx)
		if !ok {
			break
		}
		tickErr := e.tick(ctx, t)
		// Domain-event streams are flushed at every tick boundary.
		_ = e.events.FlushAll()
		if tickErr != nil {
			if isCritical(tickErr) {
				runErr = tickErr
				break
			}
			e.logs["engine"].Error(t, "tick failed, continuing to next tick", errFor(tickErr), sevFor(tickErr))
		}
	}

	e.state = StateStopping
	e.shutdown(runErr)
	e.state = StateTerminated
	return runErr
}

// tick runs exactly one iteration of the spec §2 control flow: snapshot →
// exposure/risk recompute → strategy decision → order execution (which
// itself drives the tight loop per order).
func (e *Engine) tick(ctx context.Context, t time.Time) error {
	snap, err := e.dataProvider.Snapshot(ctx, t)
	if err != nil {
		return err
	}

	views := e.positions.Get()
	expSnap, err := e.exposure.Compute(t, views.Simulated, snap)
	if err != nil {
		return err
	}
	riskAssess := e.risk.Assess(t, views.Simulated, expSnap)
	e.metrics.ObserveRiskLevel(string(riskAssess.RiskLevel))

	orders, err := e.strategyVariant.Decide(ctx, ports.DecisionInput{
		Timestamp: t,
		Positions: views.Simulated,
		Exposure:  expSnap,
		Risk:      riskAssess,
		Market:    snap,
	})
	if err != nil {
		return err
	}
	e.metrics.ObserveTick(len(orders))

	var runErr error
	if len(orders) > 0 {
		opIDs := make([]string, len(orders))
		for i, o := range orders {
			opIDs[i] = o.OperationID
		}
		if e.events != nil {
			decision := domain.StrategyDecision{
				EngineTime:      domain.EngineTime{EngineTimestamp: t, RealUTCTime: time.Now().UTC()},
				Mode:            e.strategyMode,
				TargetPositions: views.Simulated,
				OrdersEmitted:   opIDs,
			}
			_ = e.events.Emit(logging.KindStrategyDecision, t.Format(time.RFC3339Nano), decision.RealUTCTime.Format(time.RFC3339Nano), decision)
		}
		runErr = e.execManager.Run(ctx, t, orders, snap)
	}

	// Final P-E-R-PnL recompute for this tick (spec §4.1 step (f)): runs
	// unconditionally, including on a no-action tick, so PnL is published
	// once per tick even when the strategy emits no orders.
	finalViews := e.positions.Get()
	finalExpSnap, expErr := e.exposure.Compute(t, finalViews.Simulated, snap)
	if expErr != nil {
		if runErr != nil {
			return errors.Join(runErr, expErr)
		}
		return expErr
	}
	e.risk.Assess(t, finalViews.Simulated, finalExpSnap)
	e.pnl.Compute(t, finalExpSnap, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)

	return runErr
}

// shutdown flushes loggers and writes the final run_metadata.json (spec
// §4.8, "run_metadata updated at shutdown").
func (e *Engine) shutdown(runErr error) {
	status := "ok"
	if runErr != nil {
		status = "error: " + runErr.Error()
	}
	finishedAt := time.Now().UTC()
	_ = e.dirMgr.WriteShutdownMetadata(logging.RunMetadata{
		CorrelationID: e.scope.CorrelationID,
		PID:           e.scope.PID,
		Mode:          e.scope.Mode,
		Capital:       e.scope.Capital.String(),
		StartedAt:     e.scope.StartedAt,
		FinishedAt:    &finishedAt,
		ExitStatus:    status,
	})
	for _, l := range e.logs {
		_ = l.Close()
	}
	_ = e.events.CloseAll()
}

// ScheduleOutOfBandRefresh registers a cron job on the given schedule
// (cmd/engine passes its -refresh-cron flag, hourly by default) that
// refreshes the real position view in live mode for every venue holding a
// position, outside the per-order tight loop itself — resolving the Open
// Question on stale untouched-venue views without coupling it to order
// flow (spec §9 Open Questions).
func (e *Engine) ScheduleOutOfBandRefresh(spec string) error {
	if e.refreshCron == nil {
		return nil // backtest mode has no out-of-band schedule
	}
	_, err := e.refreshCron.AddFunc(spec, func() {
		_ = e.positions.RefreshReal(context.Background(), time.Now().UTC())
	})
	return err
}

// worstErrorcodeError walks err's unwrap tree — including an errors.Join
// batch such as ExecutionManager.Run returns for a tick with multiple
// failed orders — and returns the most severe *errorcode.Error found. A
// direct type assertion would miss every leaf once Run starts aggregating
// per-order failures, so this has to recurse through Unwrap() []error too.
func worstErrorcodeError(err error) *errorcode.Error {
	var worst *errorcode.Error
	rank := map[errorcode.Severity]int{
		errorcode.Low: 0, errorcode.Medium: 1, errorcode.High: 2, errorcode.Critical: 3,
	}
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, sub := range joined.Unwrap() {
				walk(sub)
			}
			return
		}
		if e, ok := err.(*errorcode.Error); ok {
			if worst == nil || rank[e.Severity] > rank[worst.Severity] {
				worst = e
			}
			return
		}
		walk(errors.Unwrap(err))
	}
	walk(err)
	return worst
}

func isCritical(err error) bool {
	if e := worstErrorcodeError(err); e != nil {
		return e.Severity == errorcode.Critical
	}
	return true
}

func errFor(err error) errorcode.Code {
	if e := worstErrorcodeError(err); e != nil {
		return e.Code
	}
	return errorcode.EngineCriticalAbort
}

func sevFor(err error) errorcode.Severity {
	if e := worstErrorcodeError(err); e != nil {
		return e.Severity
	}
	return errorcode.High
}
