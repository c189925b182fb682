package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain"
)

func deltaOrder(venue, symbol, operationID string, amount decimal.Decimal) domain.Order {
	return domain.Order{
		OperationID:   operationID,
		OperationType: domain.OpSpotTrade,
		TargetVenue:   venue,
		ExpectedDeltas: []domain.Delta{
			{InstrumentKey: domain.InstrumentKey{Venue: venue, PositionType: domain.BaseToken, Symbol: symbol}, Amount: amount},
		},
	}
}

func newTestManager(t *testing.T, router *fakeRouter) *Manager {
	t.Helper()
	cfg := config.ExecutionManagerConfig{MaxRetries: 2, RetryDelayMillis: 1}
	return New(cfg, router, newTestTightLoop(t), nil, nil, nil)
}

func TestManager_Run_SingleOrderConfirmedRunsTightLoop(t *testing.T) {
	router := newFakeRouter()
	calls := 0
	router.single["binance"] = fakeExecutor{calls: &calls, responses: []fakeResponse{
		{hs: domain.ExecutionHandshake{Status: domain.StatusConfirmed, ActualDeltas: map[domain.InstrumentKey]decimal.Decimal{
			{Venue: "binance", PositionType: domain.BaseToken, Symbol: "USDC"}: decimal.NewFromInt(100),
		}}},
	}}
	m := newTestManager(t, router)

	order := deltaOrder("binance", "USDC", "op-1", decimal.NewFromInt(100))
	err := m.Run(context.Background(), time.Now(), []domain.Order{order}, domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestManager_Run_UnroutableOrderReturnsError(t *testing.T) {
	router := newFakeRouter()
	m := newTestManager(t, router)

	order := deltaOrder("unknown-venue", "USDC", "op-1", decimal.NewFromInt(1))
	err := m.Run(context.Background(), time.Now(), []domain.Order{order}, domain.MarketSnapshot{})
	assert.Error(t, err)
}

func TestManager_Run_RetriesPendingStatusThenSucceeds(t *testing.T) {
	router := newFakeRouter()
	calls := 0
	router.single["binance"] = fakeExecutor{calls: &calls, responses: []fakeResponse{
		{hs: domain.ExecutionHandshake{Status: domain.StatusPending, ErrorClass: domain.ErrRetryableNetwork}},
		{hs: domain.ExecutionHandshake{Status: domain.StatusConfirmed, ActualDeltas: map[domain.InstrumentKey]decimal.Decimal{
			{Venue: "binance", PositionType: domain.BaseToken, Symbol: "USDC"}: decimal.NewFromInt(50),
		}}},
	}}
	m := newTestManager(t, router)

	order := deltaOrder("binance", "USDC", "op-2", decimal.NewFromInt(50))
	err := m.Run(context.Background(), time.Now(), []domain.Order{order}, domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestManager_Run_NonRetryableFailureStopsImmediately(t *testing.T) {
	router := newFakeRouter()
	calls := 0
	router.single["binance"] = fakeExecutor{calls: &calls, responses: []fakeResponse{
		{hs: domain.ExecutionHandshake{Status: domain.StatusFailed, ErrorClass: domain.ErrNonRetryableInvalid}},
	}}
	m := newTestManager(t, router)

	order := deltaOrder("binance", "USDC", "op-3", decimal.NewFromInt(10))
	err := m.Run(context.Background(), time.Now(), []domain.Order{order}, domain.MarketSnapshot{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "a non-retryable failure should not be retried")
}

func TestManager_Run_AtomicGroupAllConfirmedHandsLegsToTightLoop(t *testing.T) {
	router := newFakeRouter()
	router.group["aave"] = fakeGroupExecutor{hss: []domain.ExecutionHandshake{
		{OperationID: "leg-1", Status: domain.StatusConfirmed, ActualDeltas: map[domain.InstrumentKey]decimal.Decimal{
			{Venue: "aave", PositionType: domain.BaseToken, Symbol: "USDC"}: decimal.NewFromInt(100),
		}},
		{OperationID: "leg-2", Status: domain.StatusConfirmed, ActualDeltas: map[domain.InstrumentKey]decimal.Decimal{
			{Venue: "aave", PositionType: domain.BaseToken, Symbol: "BTC"}: decimal.NewFromInt(1),
		}},
	}}
	m := newTestManager(t, router)

	orders := []domain.Order{
		{OperationID: "leg-1", TargetVenue: "aave", AtomicGroupID: "grp-1", SequenceInGroup: 0,
			ExpectedDeltas: []domain.Delta{{InstrumentKey: domain.InstrumentKey{Venue: "aave", PositionType: domain.BaseToken, Symbol: "USDC"}, Amount: decimal.NewFromInt(100)}}},
		{OperationID: "leg-2", TargetVenue: "aave", AtomicGroupID: "grp-1", SequenceInGroup: 1,
			ExpectedDeltas: []domain.Delta{{InstrumentKey: domain.InstrumentKey{Venue: "aave", PositionType: domain.BaseToken, Symbol: "BTC"}, Amount: decimal.NewFromInt(1)}}},
	}
	err := m.Run(context.Background(), time.Now(), orders, domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1), "BTC": decimal.NewFromInt(60000)}})
	assert.Error(t, err, "every leg confirms, so the group reaches the tight loop, whose subscribed set only covers binance keys: applying the aave deltas fails with POS-001")
}

func TestManager_Run_AtomicGroupPartialFailureRollsBackWithoutTightLoop(t *testing.T) {
	router := newFakeRouter()
	router.group["aave"] = fakeGroupExecutor{hss: []domain.ExecutionHandshake{
		{OperationID: "leg-1", Status: domain.StatusConfirmed},
		{OperationID: "leg-2", Status: domain.StatusRolledBack},
	}}
	m := newTestManager(t, router)

	orders := []domain.Order{
		{OperationID: "leg-1", TargetVenue: "aave", AtomicGroupID: "grp-2", SequenceInGroup: 0},
		{OperationID: "leg-2", TargetVenue: "aave", AtomicGroupID: "grp-2", SequenceInGroup: 1},
	}
	err := m.Run(context.Background(), time.Now(), orders, domain.MarketSnapshot{})
	assert.Error(t, err)
}

func TestManager_Run_OneStandaloneOrderFailureDoesNotAbortTheRestOfTheBatch(t *testing.T) {
	router := newFakeRouter()
	failCalls, okCalls := 0, 0
	router.single["binance"] = fakeExecutor{calls: &failCalls, responses: []fakeResponse{
		{hs: domain.ExecutionHandshake{Status: domain.StatusFailed, ErrorClass: domain.ErrNonRetryableInvalid}},
	}}
	router.single["okx"] = fakeExecutor{calls: &okCalls, responses: []fakeResponse{
		{hs: domain.ExecutionHandshake{Status: domain.StatusConfirmed, ActualDeltas: map[domain.InstrumentKey]decimal.Decimal{
			{Venue: "okx", PositionType: domain.BaseToken, Symbol: "USDC"}: decimal.NewFromInt(10),
		}}},
	}}
	m := newTestManager(t, router)

	orders := []domain.Order{
		deltaOrder("binance", "USDC", "op-fail", decimal.NewFromInt(10)),
		deltaOrder("okx", "USDC", "op-ok", decimal.NewFromInt(10)),
	}
	err := m.Run(context.Background(), time.Now(), orders, domain.MarketSnapshot{Prices: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)}})
	assert.Error(t, err, "a failed order's error is still surfaced")
	assert.Equal(t, 1, okCalls, "the second order must still be attempted after the first one failed")
}

func TestPartition_SeparatesGroupsFromStandaloneAndOrdersBySequence(t *testing.T) {
	orders := []domain.Order{
		{OperationID: "b", AtomicGroupID: "g1", SequenceInGroup: 1},
		{OperationID: "standalone"},
		{OperationID: "a", AtomicGroupID: "g1", SequenceInGroup: 0},
	}
	groups, standalone := partition(orders)
	require.Len(t, groups, 1)
	require.Len(t, standalone, 1)
	assert.Equal(t, "a", groups[0][0].OperationID)
	assert.Equal(t, "b", groups[0][1].OperationID)
	assert.Equal(t, "standalone", standalone[0].OperationID)
}
