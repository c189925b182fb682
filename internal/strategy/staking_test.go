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

func stakingFixture(t *testing.T) (*Staking, domain.InstrumentKey, domain.InstrumentKey) {
	t.Helper()
	base := domain.InstrumentKey{Venue: "lido", PositionType: domain.BaseToken, Symbol: "ETH"}
	lst := domain.InstrumentKey{Venue: "lido", PositionType: domain.LST, Symbol: "stETH"}
	subscribed, err := domain.NewInstrumentSet([]string{base.String(), lst.String()})
	require.NoError(t, err)
	s, err := NewStaking(subscribed, config.StrategyManagerConfig{}, "lido", "ETH", "stETH")
	require.NoError(t, err)
	return s, base, lst
}

func TestStaking_StakesAllIdleBaseCapital(t *testing.T) {
	s, base, lst := stakingFixture(t)
	orders, err := s.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.NewFromInt(10), lst: decimal.Zero},
		Market:    domain.MarketSnapshot{StakingRates: map[string]decimal.Decimal{"stETH": decimal.NewFromFloat(1.05)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OpStake, orders[0].OperationType)
}

func TestStaking_NoActionWhenNoIdleCapital(t *testing.T) {
	s, base, lst := stakingFixture(t)
	orders, err := s.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.Zero, lst: decimal.NewFromInt(5)},
		Market:    domain.MarketSnapshot{StakingRates: map[string]decimal.Decimal{"stETH": decimal.NewFromFloat(1.05)}},
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStaking_UnstakesEverythingOnCriticalRiskBreach(t *testing.T) {
	s, base, lst := stakingFixture(t)
	orders, err := s.Decide(context.Background(), ports.DecisionInput{
		Positions: domain.PositionMap{base: decimal.Zero, lst: decimal.NewFromInt(5)},
		Risk:      domain.RiskAssessment{RiskLevel: domain.RiskCritical},
		Market:    domain.MarketSnapshot{StakingRates: map[string]decimal.Decimal{"stETH": decimal.NewFromFloat(1.05)}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OpUnstake, orders[0].OperationType)
}

func TestStaking_RequiredInstruments(t *testing.T) {
	s, base, lst := stakingFixture(t)
	assert.ElementsMatch(t, []domain.InstrumentKey{base, lst}, s.RequiredInstruments())
}
