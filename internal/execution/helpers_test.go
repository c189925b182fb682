package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/monitor/exposure"
	"github.com/basistrade/engine/internal/monitor/pnl"
	"github.com/basistrade/engine/internal/monitor/position"
	"github.com/basistrade/engine/internal/monitor/risk"
	"github.com/basistrade/engine/internal/ports"
	"github.com/basistrade/engine/internal/util"
)

func newTestTightLoop(t *testing.T) *TightLoop {
	t.Helper()
	sub, err := domain.NewInstrumentSet([]string{"binance:BaseToken:USDC", "binance:BaseToken:BTC"})
	require.NoError(t, err)

	positions := position.New(sub, nil, false, nil, nil)
	expMon := exposure.New(config.ExposureMonitorConfig{ExposureCurrency: "USD"}, util.New(), nil)
	riskMon := risk.New(config.RiskMonitorConfig{DeltaTolerance: 0.01, EnabledRiskTypes: []string{"delta_tolerance"}}, nil)
	pnlMon := pnl.New(config.PnLMonitorConfig{ReconciliationTolerance: 0.0001}, decimal.NewFromInt(10000), nil)

	cfg := config.ExecutionManagerConfig{MaxRetries: 2, TightLoopTimeoutSeconds: 5}
	return NewTightLoop(cfg, 0.0001, positions, expMon, riskMon, pnlMon, nil, nil, nil)
}

type fakeRouter struct {
	single map[string]fakeExecutor
	group  map[string]fakeGroupExecutor
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{single: map[string]fakeExecutor{}, group: map[string]fakeGroupExecutor{}}
}

func (r *fakeRouter) RouteSingle(order domain.Order) (ports.VenueExecutor, bool) {
	e, ok := r.single[order.TargetVenue]
	return e, ok
}

func (r *fakeRouter) RouteGroup(venue string) (ports.VenueGroupExecutor, bool) {
	e, ok := r.group[venue]
	return e, ok
}

type fakeExecutor struct {
	responses []fakeResponse
	calls     *int
}

type fakeResponse struct {
	hs  domain.ExecutionHandshake
	err error
}

func (f fakeExecutor) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	i := *f.calls
	*f.calls = i + 1
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1].hs, f.responses[len(f.responses)-1].err
	}
	r := f.responses[i]
	return r.hs, r.err
}

type fakeGroupExecutor struct {
	hss []domain.ExecutionHandshake
	err error
}

func (f fakeGroupExecutor) ExecuteGroup(ctx context.Context, orders []domain.Order) ([]domain.ExecutionHandshake, error) {
	return f.hss, f.err
}
