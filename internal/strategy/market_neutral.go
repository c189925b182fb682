package strategy

import (
	"context"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// MarketNeutral fans a tick's decision out across a set of per-asset basis
// trades, running each independently and concatenating their orders (spec
// §1, "delta-neutral strategies"). It carries no state of its own beyond
// its legs: all position/risk reads happen inside each leg's Decide.
type MarketNeutral struct {
	legs []*Basis
}

var _ ports.StrategyVariant = (*MarketNeutral)(nil)

// NewMarketNeutral constructs a multi-asset market-neutral variant from a
// set of already-constructed basis legs (one per hedged asset).
func NewMarketNeutral(legs []*Basis) *MarketNeutral {
	return &MarketNeutral{legs: legs}
}

func (mn *MarketNeutral) RequiredInstruments() []domain.InstrumentKey {
	var keys []domain.InstrumentKey
	for _, leg := range mn.legs {
		keys = append(keys, leg.RequiredInstruments()...)
	}
	return keys
}

// Decide runs every leg's decision and concatenates the resulting orders;
// a leg that errors aborts the whole tick rather than submitting a partial
// hedge (spec §8, "no partial mutation on error").
func (mn *MarketNeutral) Decide(ctx context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	var orders []domain.Order
	for _, leg := range mn.legs {
		legOrders, err := leg.Decide(ctx, in)
		if err != nil {
			return nil, err
		}
		orders = append(orders, legOrders...)
	}
	return orders, nil
}
