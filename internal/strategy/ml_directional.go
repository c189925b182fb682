package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// MLDirectional takes a directional perp position sized by the sign and
// magnitude of an externally-supplied model prediction (spec §1,
// "directional strategies"; spec §3, MarketSnapshot.ml_predictions). It
// holds no hedge leg — the prediction alone drives size and side.
type MLDirectional struct {
	subscribed *domain.InstrumentSet
	cfg        config.StrategyManagerConfig

	venue      string
	symbol     string
	perpKey    domain.InstrumentKey
	maxNotional decimal.Decimal
	entryThreshold decimal.Decimal
}

var _ ports.StrategyVariant = (*MLDirectional)(nil)

// NewMLDirectional constructs the ML-driven directional variant.
func NewMLDirectional(subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, venue, symbol string, maxNotional, entryThreshold float64) (*MLDirectional, error) {
	perpKey := domain.InstrumentKey{Venue: venue, PositionType: domain.Perp, Symbol: symbol}
	if err := validateRequiredInstruments(subscribed, []domain.InstrumentKey{perpKey}); err != nil {
		return nil, err
	}
	return &MLDirectional{
		subscribed: subscribed, cfg: cfg, venue: venue, symbol: symbol, perpKey: perpKey,
		maxNotional:    decimal.NewFromFloat(maxNotional),
		entryThreshold: decimal.NewFromFloat(entryThreshold),
	}, nil
}

func (d *MLDirectional) RequiredInstruments() []domain.InstrumentKey {
	return []domain.InstrumentKey{d.perpKey}
}

// Decide closes the position on a critical risk breach, otherwise scales
// perp notional toward maxNotional*prediction whenever the prediction's
// magnitude clears entryThreshold (spec §4.2, entry_partial / exit_full /
// rebalance).
func (d *MLDirectional) Decide(_ context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	current := in.Positions[d.perpKey]
	price := in.Market.Prices[d.symbol]
	if price.IsZero() {
		return nil, nil
	}

	if in.Risk.RiskLevel == domain.RiskCritical && !current.IsZero() {
		deltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{Amount: current.Neg(), TargetKey: d.perpKey})
		if err != nil {
			return nil, err
		}
		order, err := NewOrder(d.subscribed, "ml-exit-"+d.symbol, domain.OpPerpTrade, d.venue, d.venue,
			d.symbol, d.symbol, current.Abs(), deltas, map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		return []domain.Order{order}, nil
	}

	prediction := in.Market.MLPredictions[d.symbol]
	if prediction.Abs().LessThan(d.entryThreshold) {
		if current.IsZero() {
			return nil, nil
		}
		deltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{Amount: current.Neg(), TargetKey: d.perpKey})
		if err != nil {
			return nil, err
		}
		order, err := NewOrder(d.subscribed, "ml-flatten-"+d.symbol, domain.OpPerpTrade, d.venue, d.venue,
			d.symbol, d.symbol, current.Abs(), deltas, map[string]any{"action": string(ActionExitFull)})
		if err != nil {
			return nil, err
		}
		return []domain.Order{order}, nil
	}

	targetNotional := d.maxNotional.Mul(prediction)
	targetSize := targetNotional.Div(price)
	delta := targetSize.Sub(current)
	if delta.IsZero() {
		return nil, nil
	}

	deltas, err := ComputeExpectedDeltas(domain.OpPerpTrade, OperationParams{Amount: delta, TargetKey: d.perpKey})
	if err != nil {
		return nil, err
	}
	action := ActionEntryPartial
	if current.IsZero() {
		action = ActionEntryFull
	} else if targetSize.Sign() != current.Sign() || targetSize.Abs().LessThan(current.Abs()) {
		action = ActionRebalance
	}
	order, err := NewOrder(d.subscribed, "ml-adjust-"+d.symbol, domain.OpPerpTrade, d.venue, d.venue,
		d.symbol, d.symbol, delta.Abs(), deltas, map[string]any{"action": string(action), "prediction": prediction.String()})
	if err != nil {
		return nil, err
	}
	return []domain.Order{order}, nil
}
