package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// Basis runs a cash-and-carry basis trade: long spot on one venue, short a
// matching perp notional on another, re-hedging whenever the two legs drift
// apart by more than the configured deviation threshold (spec §1, "basis
// trades spanning CEX perps and spot").
type Basis struct {
	subscribed *domain.InstrumentSet
	cfg        config.StrategyManagerConfig

	spotVenue string
	perpVenue string
	symbol    string

	spotKey domain.InstrumentKey
	perpKey domain.InstrumentKey
	cashKey domain.InstrumentKey

	deviationThreshold decimal.Decimal
}

var _ ports.StrategyVariant = (*Basis)(nil)

// NewBasis constructs the spot+perp basis variant.
func NewBasis(subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, spotVenue, perpVenue, symbol, cashSymbol string) (*Basis, error) {
	spotKey := domain.InstrumentKey{Venue: spotVenue, PositionType: domain.BaseToken, Symbol: symbol}
	perpKey := domain.InstrumentKey{Venue: perpVenue, PositionType: domain.Perp, Symbol: symbol}
	cashKey := domain.InstrumentKey{Venue: spotVenue, PositionType: domain.BaseToken, Symbol: cashSymbol}
	if err := validateRequiredInstruments(subscribed, []domain.InstrumentKey{spotKey, perpKey}); err != nil {
		return nil, err
	}
	return &Basis{
		subscribed: subscribed, cfg: cfg,
		spotVenue: spotVenue, perpVenue: perpVenue, symbol: symbol,
		spotKey: spotKey, perpKey: perpKey, cashKey: cashKey,
		deviationThreshold: decimal.NewFromFloat(cfg.PositionDeviationThreshold),
	}, nil
}

func (b *Basis) RequiredInstruments() []domain.InstrumentKey {
	return []domain.InstrumentKey{b.spotKey, b.perpKey}
}

// Decide closes both legs on a critical risk breach, otherwise opens or
// rebalances the spot/perp pair to keep them matched within tolerance
// (spec §4.2, entry_full / rebalance / exit_full).
func (b *Basis) Decide(_ context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	spotAmt := in.Positions[b.spotKey]
	perpAmt := in.Positions[b.perpKey]
	price := in.Market.Prices[b.symbol]
	if price.IsZero() {
		return nil, nil
	}

	if in.Risk.RiskLevel == domain.RiskCritical {
		return b.unwind(spotAmt, perpAmt, price)
	}

	net := spotAmt.Add(perpAmt)
	if spotAmt.IsZero() && perpAmt.IsZero() {
		cash := in.Positions[b.cashKey]
		if cash.IsZero() {
			return nil, nil
		}
		return b.enter(cash, price)
	}

	if !b.deviationThreshold.IsZero() && net.Abs().GreaterThan(spotAmt.Abs().Mul(b.deviationThreshold)) {
		return b.rebalance(net, price)
	}
	return nil, nil
}

func (b *Basis) enter(cash, price decimal.Decimal) ([]domain.Order, error) {
	spotDeltas, err := ComputeExpectedDeltas(domain.OpSpotTrade, OperationParams{
		Amount: cash, SourceKey: b.cashKey, TargetKey: b.spotKey, Price: decimal.NewFromInt(1).Div(price),
	})
	if err != nil {
		return nil, err
	}
	notional := cash
	perpDeltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{
		Amount: notional.Div(price).Neg(), TargetKey: b.perpKey,
	})
	if err != nil {
		return nil, err
	}
	groupID := "basis-entry-" + b.symbol
	spotOrder, err := NewOrder(b.subscribed, groupID+"-spot", domain.OpSpotTrade, b.spotVenue, b.spotVenue,
		b.cashKey.Symbol, b.symbol, cash, spotDeltas, map[string]any{"action": string(ActionEntryFull)})
	if err != nil {
		return nil, err
	}
	spotOrder.AtomicGroupID = groupID
	spotOrder.SequenceInGroup = 1

	perpOrder, err := NewOrder(b.subscribed, groupID+"-perp", domain.OpPerpTrade, b.perpVenue, b.perpVenue,
		b.symbol, b.symbol, notional.Div(price), perpDeltas, map[string]any{"action": string(ActionEntryFull)})
	if err != nil {
		return nil, err
	}
	perpOrder.AtomicGroupID = groupID
	perpOrder.SequenceInGroup = 2

	return []domain.Order{spotOrder, perpOrder}, nil
}

func (b *Basis) rebalance(net, price decimal.Decimal) ([]domain.Order, error) {
	perpDeltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{
		Amount: net.Neg(), TargetKey: b.perpKey,
	})
	if err != nil {
		return nil, err
	}
	order, err := NewOrder(b.subscribed, "basis-rebalance-"+b.symbol, domain.OpPerpTrade, b.perpVenue, b.perpVenue,
		b.symbol, b.symbol, net.Abs(), perpDeltas, map[string]any{"action": string(ActionRebalance)})
	if err != nil {
		return nil, err
	}
	return []domain.Order{order}, nil
}

func (b *Basis) unwind(spotAmt, perpAmt, price decimal.Decimal) ([]domain.Order, error) {
	var orders []domain.Order
	groupID := "basis-exit-" + b.symbol

	if !spotAmt.IsZero() {
		spotDeltas, err := ComputeExpectedDeltas(domain.OpSpotTrade, OperationParams{
			Amount: spotAmt.Neg(), SourceKey: b.spotKey, TargetKey: b.cashKey, Price: price,
		})
		if err != nil {
			return nil, err
		}
		o, err := NewOrder(b.subscribed, groupID+"-spot", domain.OpSpotTrade, b.spotVenue, b.spotVenue,
			b.symbol, b.cashKey.Symbol, spotAmt.Abs(), spotDeltas, map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		o.AtomicGroupID = groupID
		o.SequenceInGroup = 1
		orders = append(orders, o)
	}
	if !perpAmt.IsZero() {
		perpDeltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{
			Amount: perpAmt.Neg(), TargetKey: b.perpKey,
		})
		if err != nil {
			return nil, err
		}
		o, err := NewOrder(b.subscribed, groupID+"-perp", domain.OpPerpTrade, b.perpVenue, b.perpVenue,
			b.symbol, b.symbol, perpAmt.Abs(), perpDeltas, map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		o.AtomicGroupID = groupID
		o.SequenceInGroup = 2
		orders = append(orders, o)
	}
	return orders, nil
}
