package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// Staking converts idle base-token capital into a liquid-staking token
// (stETH/weETH) and holds it, unwinding on a critical risk breach (spec §1,
// "staking via Lido/EtherFi").
type Staking struct {
	subscribed *domain.InstrumentSet
	cfg        config.StrategyManagerConfig

	venue       string
	baseSymbol  string
	lstSymbol   string
	baseKey     domain.InstrumentKey
	lstKey      domain.InstrumentKey
}

var _ ports.StrategyVariant = (*Staking)(nil)

// NewStaking constructs the staking variant for one venue/underlying pair.
func NewStaking(subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, venue, baseSymbol, lstSymbol string) (*Staking, error) {
	baseKey := domain.InstrumentKey{Venue: venue, PositionType: domain.BaseToken, Symbol: baseSymbol}
	lstKey := domain.InstrumentKey{Venue: venue, PositionType: domain.LST, Symbol: lstSymbol}
	if err := validateRequiredInstruments(subscribed, []domain.InstrumentKey{baseKey, lstKey}); err != nil {
		return nil, err
	}
	return &Staking{
		subscribed: subscribed, cfg: cfg, venue: venue,
		baseSymbol: baseSymbol, lstSymbol: lstSymbol, baseKey: baseKey, lstKey: lstKey,
	}, nil
}

func (s *Staking) RequiredInstruments() []domain.InstrumentKey {
	return []domain.InstrumentKey{s.baseKey, s.lstKey}
}

// Decide stakes all idle base-token capital, and unstakes everything on a
// critical risk breach (spec §4.2, entry_full / exit_full).
func (s *Staking) Decide(_ context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	baseAmt := in.Positions[s.baseKey]
	lstAmt := in.Positions[s.lstKey]
	rate := in.Market.StakingRates[s.lstSymbol]
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	if in.Risk.RiskLevel == domain.RiskCritical && lstAmt.GreaterThan(decimal.Zero) {
		deltas, err := ComputeExpectedDeltas(domain.OpUnstake, OperationParams{
			Amount: lstAmt, SourceKey: s.lstKey, TargetKey: s.baseKey, ConversionRate: rate,
		})
		if err != nil {
			return nil, err
		}
		order, err := NewOrder(s.subscribed, "unstake-"+s.venue+"-"+s.lstSymbol, domain.OpUnstake,
			s.venue, s.venue, s.lstSymbol, s.baseSymbol, lstAmt, deltas,
			map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		return []domain.Order{order}, nil
	}

	if baseAmt.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	deltas, err := ComputeExpectedDeltas(domain.OpStake, OperationParams{
		Amount: baseAmt, SourceKey: s.baseKey, TargetKey: s.lstKey, ConversionRate: decimal.NewFromInt(1).Div(rate),
	})
	if err != nil {
		return nil, err
	}
	action := ActionEntryFull
	if lstAmt.GreaterThan(decimal.Zero) {
		action = ActionEntryPartial
	}
	order, err := NewOrder(s.subscribed, "stake-"+s.venue+"-"+s.baseSymbol, domain.OpStake,
		s.venue, s.venue, s.baseSymbol, s.lstSymbol, baseAmt, deltas,
		map[string]any{"action": string(action)})
	if err != nil {
		return nil, err
	}
	return []domain.Order{order}, nil
}
