// Package strategy implements StrategyManager: the base order-construction
// machinery shared by every mode variant, plus the variants themselves
// (spec §4.2). Modeled on the teacher's internal/domain/strategy package:
// a small Strategy interface plus one struct per concrete strategy.
package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
	"github.com/basistrade/engine/internal/ports"
)

// OperationParams carries the inputs compute_expected_deltas needs for one
// operation, dispatched by OperationType (spec §4.2).
type OperationParams struct {
	Amount          decimal.Decimal
	SourceKey       domain.InstrumentKey
	TargetKey       domain.InstrumentKey
	Price           decimal.Decimal // spot/swap execution price, or mark price for perps
	FeeInTarget     decimal.Decimal
	SupplyIndex     decimal.Decimal
	BorrowIndex     decimal.Decimal
	ConversionRate  decimal.Decimal // stake/unstake
	BorrowFee       decimal.Decimal
}

// ComputeExpectedDeltas is the base dispatcher every variant calls to turn
// one operation into its precomputed expected_deltas, per the per-operation
// formulas in spec §4.2.
func ComputeExpectedDeltas(op domain.OperationType, p OperationParams) ([]domain.Delta, error) {
	switch op {
	case domain.OpSpotTrade:
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Mul(p.Price).Sub(p.FeeInTarget), OperationType: op},
		}, nil

	case domain.OpPerpTrade:
		return []domain.Delta{
			{InstrumentKey: p.TargetKey, Amount: p.Amount, OperationType: op},
		}, nil

	case domain.OpSupply:
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Mul(p.SupplyIndex), OperationType: op},
		}, nil

	case domain.OpBorrow:
		return []domain.Delta{
			{InstrumentKey: p.TargetKey, Amount: p.Amount, OperationType: op},
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Sub(p.BorrowFee), OperationType: op},
		}, nil

	case domain.OpRepay:
		return []domain.Delta{
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
		}, nil

	case domain.OpWithdraw:
		if p.SupplyIndex.IsZero() {
			return nil, errorcode.New(errorcode.StratOrderConstruction, errorcode.High, "withdraw: supply index is zero")
		}
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Div(p.SupplyIndex).Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount, OperationType: op},
		}, nil

	case domain.OpStake:
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Mul(p.ConversionRate), OperationType: op},
		}, nil

	case domain.OpUnstake:
		if p.ConversionRate.IsZero() {
			return nil, errorcode.New(errorcode.StratOrderConstruction, errorcode.High, "unstake: conversion rate is zero")
		}
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Div(p.ConversionRate), OperationType: op},
		}, nil

	case domain.OpSwap:
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Mul(p.Price).Sub(p.FeeInTarget), OperationType: op},
		}, nil

	case domain.OpTransfer:
		return []domain.Delta{
			{InstrumentKey: p.SourceKey, Amount: p.Amount.Neg(), OperationType: op},
			{InstrumentKey: p.TargetKey, Amount: p.Amount, OperationType: op},
		}, nil

	case domain.OpFlashBorrow:
		return []domain.Delta{
			{InstrumentKey: p.TargetKey, Amount: p.Amount, OperationType: op},
		}, nil

	case domain.OpFlashRepay:
		return []domain.Delta{
			{InstrumentKey: p.TargetKey, Amount: p.Amount.Neg(), OperationType: op},
		}, nil

	default:
		return nil, errorcode.New(errorcode.StratOrderConstruction, errorcode.High,
			fmt.Sprintf("compute_expected_deltas: unknown operation type %q", op))
	}
}

// NewOrder validates every delta's instrument key against subscribed,
// rejecting order construction with STRAT-001 when an unsubscribed key is
// referenced (spec §4.2, §8 scenario 5).
func NewOrder(subscribed *domain.InstrumentSet, operationID string, opType domain.OperationType,
	sourceVenue, targetVenue, sourceToken, targetToken string, amount decimal.Decimal,
	deltas []domain.Delta, details map[string]any) (domain.Order, error) {
	for _, d := range deltas {
		if !subscribed.Contains(d.InstrumentKey) {
			return domain.Order{}, errorcode.New(errorcode.StratUnknownInstrument, errorcode.High,
				fmt.Sprintf("order references unsubscribed instrument %q", d.InstrumentKey.String()))
		}
	}
	return domain.Order{
		OperationID:      operationID,
		OperationType:    opType,
		SourceVenue:      sourceVenue,
		TargetVenue:      targetVenue,
		SourceToken:      sourceToken,
		TargetToken:      targetToken,
		Amount:           amount,
		ExpectedDeltas:   deltas,
		OperationDetails: details,
	}, nil
}

// Action is the variant-decided action vocabulary (spec §4.2).
type Action string

const (
	ActionEntryFull    Action = "entry_full"
	ActionEntryPartial Action = "entry_partial"
	ActionExitFull     Action = "exit_full"
	ActionExitPartial  Action = "exit_partial"
	ActionRebalance    Action = "rebalance"
	ActionSellDust     Action = "sell_dust"
)

// PriorityOf returns the tie-break priority for an action: lower sorts
// first (spec §4.2, "risk breach → exit → entry → rebalance → dust").
func PriorityOf(a Action) int {
	switch a {
	case ActionExitFull, ActionExitPartial:
		return 1
	case ActionEntryFull, ActionEntryPartial:
		return 2
	case ActionRebalance:
		return 3
	case ActionSellDust:
		return 4
	default:
		return 5
	}
}

// validateRequiredInstruments checks that every key a variant declares as
// required is a member of the subscribed set, failing construction with
// STRAT-002 otherwise (spec §4.2).
func validateRequiredInstruments(subscribed *domain.InstrumentSet, required []domain.InstrumentKey) error {
	for _, k := range required {
		if !subscribed.Contains(k) {
			return errorcode.New(errorcode.StratMissingInstrument, errorcode.High,
				fmt.Sprintf("strategy requires instrument %q which is not in the mode's subscribed set", k.String()))
		}
	}
	return nil
}

var _ ports.StrategyVariant = (*NoopVariant)(nil)

// NoopVariant is a StrategyVariant that never acts; useful as a safe
// fallback and in tests.
type NoopVariant struct {
	Required []domain.InstrumentKey
}

func (n *NoopVariant) RequiredInstruments() []domain.InstrumentKey { return n.Required }
func (n *NoopVariant) Decide(_ context.Context, _ ports.DecisionInput) ([]domain.Order, error) {
	return nil, nil
}
