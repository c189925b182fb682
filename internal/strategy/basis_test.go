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

func basisFixture(t *testing.T, deviationThreshold float64) (*Basis, domain.InstrumentKey, domain.InstrumentKey, domain.InstrumentKey) {
	t.Helper()
	spot := domain.InstrumentKey{Venue: "binance", PositionType: domain.BaseToken, Symbol: "BTC"}
	perp := domain.InstrumentKey{Venue: "okx", PositionType: domain.Perp, Symbol: "BTC"}
	cash := domain.InstrumentKey{Venue: "binance", PositionType: domain.BaseToken, Symbol: "USDC"}
	subscribed, err := domain.NewInstrumentSet([]string{spot.String(), perp.String(), cash.String()})
	require.NoError(t, err)
	b, err := NewBasis(subscribed, config.StrategyManagerConfig{PositionDeviationThreshold: deviationThreshold}, "binance", "okx", "BTC", "USDC")
	require.NoError(t, err)
	return b, spot, perp, cash
}

func TestBasis_EntersSpotAndPerpLegsFromIdleCash(t *testing.T) {
	b, spot, perp, cash := basisFixture(t, 0.05)
	orders, err := b.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{spot: decimal.Zero, perp: decimal.Zero, cash: decimal.NewFromInt(60000)},
		Market:    domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OpSpotTrade, orders[0].OperationType)
	assert.Equal(t, domain.OpPerpTrade, orders[1].OperationType)
	assert.Equal(t, orders[0].AtomicGroupID, orders[1].AtomicGroupID)
}

func TestBasis_NoActionWhenNoCashAndNoPosition(t *testing.T) {
	b, spot, perp, cash := basisFixture(t, 0.05)
	orders, err := b.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{spot: decimal.Zero, perp: decimal.Zero, cash: decimal.Zero},
		Market:    domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)}},
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestBasis_RebalancesWhenLegsDriftBeyondThreshold(t *testing.T) {
	b, spot, perp, cash := basisFixture(t, 0.01)
	orders, err := b.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{spot: decimal.NewFromFloat(1.0), perp: decimal.NewFromFloat(-0.8), cash: decimal.Zero},
		Market:    domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OpPerpTrade, orders[0].OperationType)
}

func TestBasis_UnwindsBothLegsOnCriticalRiskBreach(t *testing.T) {
	b, spot, perp, cash := basisFixture(t, 0.05)
	orders, err := b.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{spot: decimal.NewFromFloat(1.0), perp: decimal.NewFromFloat(-1.0), cash: decimal.Zero},
		Risk:      domain.RiskAssessment{RiskLevel: domain.RiskCritical},
		Market:    domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OpSpotTrade, orders[0].OperationType)
	assert.Equal(t, domain.OpPerpTrade, orders[1].OperationType)
}

func TestBasis_RequiredInstruments(t *testing.T) {
	b, spot, perp, _ := basisFixture(t, 0.05)
	assert.ElementsMatch(t, []domain.InstrumentKey{spot, perp}, b.RequiredInstruments())
}
