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

func newTestLendingClient(t *testing.T) *LendingClient {
	t.Helper()
	c, err := NewLendingClient("aave", "http://127.0.0.1:1", "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690",
		"0x1111111111111111111111111111111111111111", 1,
		map[string]common.Address{"USDC": common.HexToAddress("0x2222222222222222222222222222222222222222")},
		map[string]int32{"USDC": 6},
	)
	require.NoError(t, err)
	return c
}

func TestNewLendingClient_RejectsInvalidPrivateKey(t *testing.T) {
	_, err := NewLendingClient("aave", "http://127.0.0.1:1", "not-a-key",
		"0x1111111111111111111111111111111111111111", 1, nil, nil)
	assert.Error(t, err)
}

func TestLendingClient_Execute_UnknownTokenReturnsError(t *testing.T) {
	c := newTestLendingClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpSupply, SourceToken: "DAI", Amount: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestLendingClient_Execute_UnsupportedOperationReturnsError(t *testing.T) {
	c := newTestLendingClient(t)
	_, err := c.Execute(context.Background(), domain.Order{
		OperationType: domain.OpStake, SourceToken: "USDC", Amount: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestLendingClient_DecimalsFor_FallsBackTo18WhenUnconfigured(t *testing.T) {
	c := newTestLendingClient(t)
	assert.Equal(t, int32(6), c.decimalsFor("USDC"))
	assert.Equal(t, int32(18), c.decimalsFor("UNKNOWN"))
}

func TestToWei_ScalesByDecimalsAndDropsSign(t *testing.T) {
	wei := toWei(decimal.NewFromFloat(-1.5), 6)
	assert.Equal(t, "1500000", wei.String())
}
