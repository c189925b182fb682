package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/ports"
)

// Leveraged builds a leveraged lending position in a single atomic group:
// flash-borrow the base token, supply the flash proceeds plus existing idle
// capital as collateral, borrow back out against that collateral, and repay
// the flash loan from the borrow proceeds (spec §1, "flash loans"; spec §4.4
// atomic groups are all-or-nothing against one venue).
type Leveraged struct {
	subscribed *domain.InstrumentSet
	cfg        config.StrategyManagerConfig

	venue      string
	baseSymbol string
	baseKey    domain.InstrumentKey
	aTokenKey  domain.InstrumentKey
	debtKey    domain.InstrumentKey

	targetLeverage decimal.Decimal
	flashFeeRate   decimal.Decimal
}

var _ ports.StrategyVariant = (*Leveraged)(nil)

// NewLeveraged constructs the flash-loan leverage-loop variant.
func NewLeveraged(subscribed *domain.InstrumentSet, cfg config.StrategyManagerConfig, venue, baseSymbol string, targetLeverage, flashFeeRate float64) (*Leveraged, error) {
	baseKey := domain.InstrumentKey{Venue: venue, PositionType: domain.BaseToken, Symbol: baseSymbol}
	aTokenKey := domain.InstrumentKey{Venue: venue, PositionType: domain.AToken, Symbol: baseSymbol}
	debtKey := domain.InstrumentKey{Venue: venue, PositionType: domain.DebtToken, Symbol: baseSymbol}
	if err := validateRequiredInstruments(subscribed, []domain.InstrumentKey{baseKey, aTokenKey, debtKey}); err != nil {
		return nil, err
	}
	return &Leveraged{
		subscribed: subscribed, cfg: cfg, venue: venue, baseSymbol: baseSymbol,
		baseKey: baseKey, aTokenKey: aTokenKey, debtKey: debtKey,
		targetLeverage: decimal.NewFromFloat(targetLeverage),
		flashFeeRate:   decimal.NewFromFloat(flashFeeRate),
	}, nil
}

func (l *Leveraged) RequiredInstruments() []domain.InstrumentKey {
	return []domain.InstrumentKey{l.baseKey, l.aTokenKey, l.debtKey}
}

// Decide opens the leverage loop once on idle capital, and fully unwinds
// (repay then withdraw) on a critical risk breach (spec §4.2, entry_full /
// exit_full; spec §3, AtomicGroupID / SequenceInGroup).
func (l *Leveraged) Decide(_ context.Context, in ports.DecisionInput) ([]domain.Order, error) {
	baseAmt := in.Positions[l.baseKey]
	aTokenAmt := in.Positions[l.aTokenKey]
	debtAmt := in.Positions[l.debtKey]
	supplyIndex := nonZero(in.Market.SupplyIndices[l.baseSymbol])
	borrowIndex := nonZero(in.Market.BorrowIndices[l.baseSymbol])

	if in.Risk.RiskLevel == domain.RiskCritical && debtAmt.GreaterThan(decimal.Zero) {
		return l.unwind(debtAmt, aTokenAmt, borrowIndex, supplyIndex)
	}

	if baseAmt.LessThanOrEqual(decimal.Zero) || aTokenAmt.GreaterThan(decimal.Zero) {
		return nil, nil
	}
	return l.open(baseAmt, supplyIndex, borrowIndex)
}

func (l *Leveraged) open(baseAmt, supplyIndex, borrowIndex decimal.Decimal) ([]domain.Order, error) {
	leverage := l.targetLeverage
	if leverage.LessThanOrEqual(decimal.NewFromInt(1)) {
		leverage = decimal.NewFromInt(1)
	}
	flashAmount := baseAmt.Mul(leverage.Sub(decimal.NewFromInt(1)))
	flashFee := flashAmount.Mul(l.flashFeeRate)
	supplyAmount := baseAmt.Add(flashAmount)
	borrowAmount := flashAmount.Add(flashFee)

	groupID := "leverage-open-" + l.baseSymbol
	var orders []domain.Order

	flashBorrowDeltas, err := ComputeExpectedDeltas(domain.OpFlashBorrow, OperationParams{Amount: flashAmount, TargetKey: l.baseKey})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 1, domain.OpFlashBorrow, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, flashAmount, flashBorrowDeltas, ActionEntryFull))

	supplyDeltas, err := ComputeExpectedDeltas(domain.OpSupply, OperationParams{
		Amount: supplyAmount, SourceKey: l.baseKey, TargetKey: l.aTokenKey, SupplyIndex: supplyIndex,
	})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 2, domain.OpSupply, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, supplyAmount, supplyDeltas, ActionEntryFull))

	borrowDeltas, err := ComputeExpectedDeltas(domain.OpBorrow, OperationParams{
		Amount: borrowAmount, SourceKey: l.baseKey, TargetKey: l.debtKey, BorrowFee: decimal.Zero,
	})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 3, domain.OpBorrow, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, borrowAmount, borrowDeltas, ActionEntryFull))

	flashRepayDeltas, err := ComputeExpectedDeltas(domain.OpFlashRepay, OperationParams{Amount: borrowAmount, TargetKey: l.baseKey})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 4, domain.OpFlashRepay, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, borrowAmount, flashRepayDeltas, ActionEntryFull))

	return orders, nil
}

func (l *Leveraged) unwind(debtAmt, aTokenAmt, borrowIndex, supplyIndex decimal.Decimal) ([]domain.Order, error) {
	groupID := "leverage-unwind-" + l.baseSymbol
	var orders []domain.Order

	repayDeltas, err := ComputeExpectedDeltas(domain.OpRepay, OperationParams{Amount: debtAmt, TargetKey: l.debtKey, SourceKey: l.baseKey})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 1, domain.OpRepay, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, debtAmt, repayDeltas, ActionExitFull))

	withdrawDeltas, err := ComputeExpectedDeltas(domain.OpWithdraw, OperationParams{
		Amount: aTokenAmt.Mul(supplyIndex), SourceKey: l.aTokenKey, TargetKey: l.baseKey, SupplyIndex: supplyIndex,
	})
	if err != nil {
		return nil, err
	}
	orders = append(orders, atomicOrder(l.subscribed, groupID, 2, domain.OpWithdraw, l.venue, l.venue,
		l.baseSymbol, l.baseSymbol, aTokenAmt.Mul(supplyIndex), withdrawDeltas, ActionExitFull))

	return orders, nil
}

func atomicOrder(subscribed *domain.InstrumentSet, groupID string, seq int, op domain.OperationType,
	sourceVenue, targetVenue, sourceToken, targetToken string, amount decimal.Decimal, deltas []domain.Delta, action Action) domain.Order {
	order, err := NewOrder(subscribed, groupID+"-"+string(op), op, sourceVenue, targetVenue, sourceToken, targetToken,
		amount, deltas, map[string]any{"action": string(action)})
	if err != nil {
		// Construction only fails on an unsubscribed instrument, which
		// validateRequiredInstruments already rules out at New time.
		return domain.Order{}
	}
	order.AtomicGroupID = groupID
	order.SequenceInGroup = seq
	return order
}

func nonZero(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d
}
