package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/dataprovider"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/engine"
	"github.com/basistrade/engine/internal/ports"
)

// dataProviderCloser is a ports.DataProvider that also owns a resource to
// release at shutdown (the backtest fixture database's sql.DB handle; the
// live provider has nothing to close).
type dataProviderCloser interface {
	ports.DataProvider
	Close() error
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	fixtureDB := flag.String("fixtures", "fixtures/backtest.db", "path to the backtest fixture SQLite database (backtest mode only)")
	logDir := flag.String("log-dir", "logs", "base directory for run-scoped logs/<correlation_id>/<pid>")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	refreshCronSpec := flag.String("refresh-cron", "0 * * * *", "out-of-band venue refresh schedule, live mode only")
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.Info("engine starting",
		"config", *configPath,
		"mode", cfg.Mode,
		"share_class", cfg.ShareClass,
		"venues", len(cfg.Venues),
	)

	subscribed, err := domain.NewInstrumentSet(cfg.PositionMonitor.PositionSubscriptions)
	if err != nil {
		slog.Error("invalid position_subscriptions", "err", err)
		os.Exit(1)
	}

	mode := config.ResolveExecutionMode(config.ExecutionMode(cfg.Mode))

	var provider dataProviderCloser
	if mode == config.ModeBacktest {
		bp, err := dataprovider.NewBacktestProvider(*fixtureDB)
		if err != nil {
			slog.Error("failed to open backtest fixtures", "err", err, "path", *fixtureDB)
			os.Exit(1)
		}
		provider = bp
	} else {
		provider = noCloseProvider{dataprovider.NewLiveProvider()}
	}
	defer provider.Close()

	eng, err := engine.Build(cfg, engine.Dependencies{
		Subscribed:   subscribed,
		DataProvider: provider,
		BaseLogDir:   *logDir,
	})
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	if mode == config.ModeLive {
		if err := eng.ScheduleOutOfBandRefresh(*refreshCronSpec); err != nil {
			slog.Error("failed to schedule out-of-band refresh", "err", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := eng.Run(ctx)
	printRunSummary(cfg, runErr)
	if runErr != nil {
		slog.Error("engine run ended with error", "err", runErr)
		os.Exit(1)
	}
	slog.Info("engine run completed")
}

// printRunSummary renders a compact end-of-run table, modeled on the
// teacher's notify.Console table output (cmd/scanner's printFull/printTable).
func printRunSummary(cfg *config.Config, runErr error) {
	status := "ok"
	if runErr != nil {
		status = "error"
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("mode", cfg.Mode)
	table.Append("strategy", cfg.StrategyManager.StrategyType)
	table.Append("share_class", cfg.ShareClass)
	table.Append("reporting_currency", cfg.ReportingCurrency)
	table.Append("status", status)
	table.Render()
}

// noCloseProvider adapts a ports.DataProvider with no Close method (the
// live provider has no connection to release) to dataProviderCloser.
type noCloseProvider struct {
	*dataprovider.LiveProvider
}

func (noCloseProvider) Close() error { return nil }
