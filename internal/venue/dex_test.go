package venue

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basistrade/engine/internal/domain"
)

func newTestDEXClient(t *testing.T) *DEXClient {
	t.Helper()
	c, err := NewDEXClient("uniswap", "http://127.0.0.1:1",
		"0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690",
		"0x4444444444444444444444444444444444444444", 1,
		map[string]common.Address{
			"USDC": common.HexToAddress("0x5555555555555555555555555555555555555555"),
			"WETH": common.HexToAddress("0x6666666666666666666666666666666666666666"),
		},
		map[string]int32{"USDC": 6, "WETH": 18}, 3000, 0.005)
	require.NoError(t, err)
	return c
}

func TestDEXClient_Execute_RejectsNonSwapOperation(t *testing.T) {
	c := newTestDEXClient(t)
	_, err := c.Execute(context.Background(), domain.Order{OperationType: domain.OpSupply})
	assert.Error(t, err)
}

func TestDEXClient_Execute_RejectsUnknownSourceToken(t *testing.T) {
	c := newTestDEXClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpSwap, SourceToken: "DAI", TargetToken: "WETH", Amount: decimal.NewFromInt(1),
	})
	assert.Error(t, err)
}

func TestDEXClient_Execute_RejectsUnknownTargetToken(t *testing.T) {
	c := newTestDEXClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpSwap, SourceToken: "USDC", TargetToken: "DAI", Amount: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestDEXClient_DecimalsOf_FallsBackTo18(t *testing.T) {
	c := newTestDEXClient(t)
	assert.Equal(t, int32(6), c.decimalsOf("USDC"))
	assert.Equal(t, int32(18), c.decimalsOf("UNKNOWN"))
}
