package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
)

func TestMonitor_Compute_UnrealizedAgainstInitialCapital(t *testing.T) {
	m := New(config.PnLMonitorConfig{}, decimal.NewFromInt(1000), nil)
	exposure := domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(1100)}
	calc := m.Compute(time.Now(), exposure, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	assert.True(t, calc.Unrealized.Equal(decimal.NewFromInt(100)))
}

func TestMonitor_Compute_TotalSubtractsFees(t *testing.T) {
	m := New(config.PnLMonitorConfig{}, decimal.NewFromInt(1000), nil)
	exposure := domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(1100)}
	calc := m.Compute(time.Now(), exposure, decimal.NewFromInt(5), decimal.Zero, decimal.Zero, decimal.Zero)
	assert.True(t, calc.Total.Equal(decimal.NewFromInt(95)))
}

func TestMonitor_Compute_OnlyEnabledAttributionTypesPopulated(t *testing.T) {
	cfg := config.PnLMonitorConfig{AttributionTypes: []string{"funding", "fees"}}
	m := New(cfg, decimal.Zero, nil)
	exposure := domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(10)}
	calc := m.Compute(time.Now(), exposure, decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(4))

	assert.True(t, calc.Attribution.Funding.Equal(decimal.NewFromInt(2)))
	assert.True(t, calc.Attribution.Fees.Equal(decimal.NewFromInt(1)))
	assert.True(t, calc.Attribution.LendingYield.IsZero(), "lending_yield not in enabled attribution_types")
	assert.True(t, calc.Attribution.StakingYield.IsZero(), "staking_yield not in enabled attribution_types")
}

func TestMonitor_Compute_SameInputsProduceEqualCalculation(t *testing.T) {
	m := New(config.PnLMonitorConfig{AttributionTypes: []string{"funding", "fees"}}, decimal.NewFromInt(500), nil)
	exposure := domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(600)}
	ts := time.Now()

	first := m.Compute(ts, exposure, decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.Zero, decimal.Zero)
	second := m.Compute(ts, exposure, decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.Zero, decimal.Zero)

	assert.True(t, first.Total.Equal(second.Total))
	assert.True(t, first.Unrealized.Equal(second.Unrealized))
	assert.Equal(t, first.Attribution, second.Attribution)
}

func TestMonitor_GetLatest_ReflectsMostRecentCompute(t *testing.T) {
	m := New(config.PnLMonitorConfig{}, decimal.Zero, nil)
	m.Compute(time.Now(), domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(1)}, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	second := m.Compute(time.Now(), domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(2)}, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	assert.Equal(t, second, m.GetLatest())
}

func TestMonitor_GetHistory_ReturnsOldestFirstBoundedByN(t *testing.T) {
	m := New(config.PnLMonitorConfig{}, decimal.Zero, nil)
	for i := 1; i <= 3; i++ {
		m.Compute(time.Now(), domain.ExposureSnapshot{TotalValue: decimal.NewFromInt(int64(i))}, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	}
	hist := m.GetHistory(2)
	assert.Len(t, hist, 2)
	assert.True(t, hist[0].Unrealized.LessThan(hist[1].Unrealized))
}

func TestMonitor_GetAttributionCumulative_AccumulatesAcrossComputes(t *testing.T) {
	cfg := config.PnLMonitorConfig{AttributionTypes: []string{"fees"}}
	m := New(cfg, decimal.Zero, nil)
	m.Compute(time.Now(), domain.ExposureSnapshot{}, decimal.NewFromInt(2), decimal.Zero, decimal.Zero, decimal.Zero)
	m.Compute(time.Now(), domain.ExposureSnapshot{}, decimal.NewFromInt(3), decimal.Zero, decimal.Zero, decimal.Zero)
	assert.True(t, m.GetAttributionCumulative().Fees.Equal(decimal.NewFromInt(5)))
}
