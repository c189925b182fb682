package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

func pureLendingFixture(t *testing.T, reserveRatio float64) (*PureLending, domain.InstrumentKey, domain.InstrumentKey) {
	t.Helper()
	base := domain.InstrumentKey{Venue: "aave", PositionType: domain.BaseToken, Symbol: "USDC"}
	aToken := domain.InstrumentKey{Venue: "aave", PositionType: domain.AToken, Symbol: "USDC"}
	subscribed, err := domain.NewInstrumentSet([]string{base.String(), aToken.String()})
	require.NoError(t, err)
	p, err := NewPureLending(subscribed, config.StrategyManagerConfig{ReserveRatio: reserveRatio}, "aave", "USDC")
	require.NoError(t, err)
	return p, base, aToken
}

func TestPureLending_SuppliesExcessAboveReserve(t *testing.T) {
	p, base, aToken := pureLendingFixture(t, 0.1)
	orders, err := p.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.NewFromInt(1000), aToken: decimal.Zero},
		Market:    domain.MarketSnapshot{SupplyIndices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OpSupply, orders[0].OperationType)
}

func TestPureLending_NoActionWhenBelowReserve(t *testing.T) {
	p, base, aToken := pureLendingFixture(t, 0.5)
	// 10 idle out of 100 total sits below the 50% reserve floor of 50.
	orders, err := p.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.NewFromInt(10), aToken: decimal.NewFromInt(90)},
		Market:    domain.MarketSnapshot{SupplyIndices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPureLending_WithdrawsEverythingOnCriticalRiskBreach(t *testing.T) {
	p, base, aToken := pureLendingFixture(t, 0.1)
	orders, err := p.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.Zero, aToken: decimal.NewFromInt(500)},
		Risk:      domain.RiskAssessment{RiskLevel: domain.RiskCritical},
		Market:    domain.MarketSnapshot{SupplyIndices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OpWithdraw, orders[0].OperationType)
}

func TestPureLending_RequiredInstruments(t *testing.T) {
	p, base, aToken := pureLendingFixture(t, 0.1)
	req := p.RequiredInstruments()
	assert.ElementsMatch(t, []domain.InstrumentKey{base, aToken}, req)
}
