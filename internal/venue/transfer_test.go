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

func newTestTransferClient(t *testing.T) *TransferClient {
	t.Helper()
	c, err := NewTransferClient("binance-hot-wallet", "http://127.0.0.1:1",
		"0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690", 1,
		map[string]common.Address{"aave": common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")},
		map[string]common.Address{"USDC": common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")},
		map[string]int32{"USDC": 6})
	require.NoError(t, err)
	return c
}

func TestTransferClient_Execute_RejectsNonTransferOperation(t *testing.T) {
	c := newTestTransferClient(t)
	_, err := c.Execute(context.Background(), domain.Order{OperationType: domain.OpSupply})
	assert.Error(t, err)
}

func TestTransferClient_Execute_RejectsUnregisteredTargetVenue(t *testing.T) {
	c := newTestTransferClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpTransfer, TargetVenue: "lido", SourceToken: "USDC", Amount: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestTransferClient_Execute_RejectsUnknownSourceToken(t *testing.T) {
	c := newTestTransferClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpTransfer, TargetVenue: "aave", SourceToken: "DAI", Amount: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestTransferClient_DecimalsOf_FallsBackTo18(t *testing.T) {
	c := newTestTransferClient(t)
	assert.Equal(t, int32(6), c.decimalsOf("USDC"))
	assert.Equal(t, int32(18), c.decimalsOf("UNKNOWN"))
}
