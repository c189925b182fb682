package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// PureLending supplies idle base-token capital to a single lending venue
// and withdraws it back when the risk monitor reports a breach, holding no
// directional or basis exposure at all (spec §1, "delta-neutral and
// directional strategies").
type PureLending struct {
	subscribed   *domain.InstrumentSet
	cfg          config.StrategyManagerConfig
	venue        string
	baseSymbol   string
	baseKey      domain.InstrumentKey
	aTokenKey    domain.InstrumentKey
	reserveRatio decimal.Decimal
}

var _ ports.StrategyVariant = (*PureLending)(nil)

// NewPureLending constructs the pure-lending variant for one venue/asset.
func NewPureLending(subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, venue, baseSymbol string) (*PureLending, error) {
	baseKey := domain.InstrumentKey{Venue: venue, PositionType: domain.BaseToken, Symbol: baseSymbol}
	aTokenKey := domain.InstrumentKey{Venue: venue, PositionType: domain.AToken, Symbol: baseSymbol}
	if err := validateRequiredInstruments(subscribed, []domain.InstrumentKey{baseKey, aTokenKey}); err != nil {
		return nil, err
	}
	reserve := decimal.NewFromFloat(cfg.ReserveRatio)
	return &PureLending{
		subscribed: subscribed, cfg: cfg, venue: venue, baseSymbol: baseSymbol,
		baseKey: baseKey, aTokenKey: aTokenKey, reserveRatio: reserve,
	}, nil
}

func (p *PureLending) RequiredInstruments() []domain.InstrumentKey {
	return []domain.InstrumentKey{p.baseKey, p.aTokenKey}
}

// Decide supplies excess idle cash above the configured reserve ratio, and
// withdraws everything on a critical risk breach (spec §4.2 action
// vocabulary: entry_full / exit_full).
func (p *PureLending) Decide(_ context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	baseAmt := in.Positions[p.baseKey]
	aTokenAmt := in.Positions[p.aTokenKey]

	if in.Risk.RiskLevel == domain.RiskCritical && aTokenAmt.GreaterThan(decimal.Zero) {
		supplyIndex := in.Market.SupplyIndices[p.baseSymbol]
		if supplyIndex.IsZero() {
			supplyIndex = decimal.NewFromInt(1)
		}
		deltas, err := ComputeExpectedDeltas(domain.OpWithdraw, OperationParams{
			Amount: aTokenAmt, SourceKey: p.aTokenKey, TargetKey: p.baseKey, SupplyIndex: supplyIndex,
		})
		if err != nil {
			return nil, err
		}
		order, err := NewOrder(p.subscribed, "withdraw-"+p.venue+"-"+p.baseSymbol, domain.OpWithdraw,
			p.venue, p.venue, p.baseSymbol, p.baseSymbol, aTokenAmt, deltas,
			map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		return []domain.Order{order}, nil
	}

	reserveFloor := decimal.Zero
	if !p.reserveRatio.IsZero() {
		reserveFloor = baseAmt.Add(aTokenAmt).Mul(p.reserveRatio)
	}
	excess := baseAmt.Sub(reserveFloor)
	if excess.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	supplyIndex := in.Market.SupplyIndices[p.baseSymbol]
	if supplyIndex.IsZero() {
		supplyIndex = decimal.NewFromInt(1)
	}
	deltas, err := ComputeExpectedDeltas(domain.OpSupply, OperationParams{
		Amount: excess, SourceKey: p.baseKey, TargetKey: p.aTokenKey, SupplyIndex: supplyIndex,
	})
	if err != nil {
		return nil, err
	}
	action := ActionEntryFull
	if aTokenAmt.GreaterThan(decimal.Zero) {
		action = ActionEntryPartial
	}
	order, err := NewOrder(p.subscribed, "supply-"+p.venue+"-"+p.baseSymbol, domain.OpSupply,
		p.venue, p.venue, p.baseSymbol, p.baseSymbol, excess, deltas,
		map[string]any{"action": string(action)})
	if err != nil {
		return nil, err
	}
	return []domain.Order{order}, nil
}
