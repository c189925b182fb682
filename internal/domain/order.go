package domain

import "github.com/shopspring/decimal"

// OperationType enumerates the operation kinds a strategy can emit (spec §3).
type OperationType string

const (
	OpSpotTrade   OperationType = "spot_trade"
	OpPerpTrade   OperationType = "perp_trade"
	OpSupply      OperationType = "supply"
	OpBorrow      OperationType = "borrow"
	OpRepay       OperationType = "repay"
	OpWithdraw    OperationType = "withdraw"
	OpStake       OperationType = "stake"
	OpUnstake     OperationType = "unstake"
	OpSwap        OperationType = "swap"
	OpTransfer    OperationType = "transfer"
	OpFlashBorrow OperationType = "flash_borrow"
	OpFlashRepay  OperationType = "flash_repay"
)

// Order is the strategy's intent for one operation (spec §3, "Order").
type Order struct {
	OperationID     string
	OperationType   OperationType
	SourceVenue     string
	TargetVenue     string
	SourceToken     string
	TargetToken     string
	Amount          decimal.Decimal
	ExpectedDeltas  []Delta
	OperationDetails map[string]any

	AtomicGroupID   string // empty when the order is not part of a group
	SequenceInGroup int
}

// InAtomicGroup reports whether this order must succeed or fail together
// with other orders sharing AtomicGroupID.
func (o Order) InAtomicGroup() bool { return o.AtomicGroupID != "" }

// ExpectedDeltaMap collapses ExpectedDeltas into an instrument-keyed map.
func (o Order) ExpectedDeltaMap() map[InstrumentKey]decimal.Decimal {
	return DeltasToMap(o.ExpectedDeltas)
}
