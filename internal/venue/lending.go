package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

const lendingGasLimit = uint64(300_000)

var poolABI abi.ABI

func init() {
	var err error
	poolABI, err = abi.JSON(strings.NewReader(`[
		{"name":"supply","type":"function","inputs":[
			{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
			{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"withdraw","type":"function","inputs":[
			{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
			{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"borrow","type":"function","inputs":[
			{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
			{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},
			{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"repay","type":"function","inputs":[
			{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
			{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],
			"outputs":[{"name":"","type":"uint256"}]}
	]`))
	if err != nil {
		panic("pool abi parse: " + err.Error())
	}
}

// LendingClient executes supply/borrow/repay/withdraw against an Aave-style
// lending pool contract, following the teacher's on-chain transaction shape
// (adapters/onchain/merge.go: pack calldata, estimate gas, sign, send, wait
// for receipt) generalized from a single fixed call to a small dispatch
// table.
type LendingClient struct {
	client     *ethclient.Client
	privateKey []byte
	address    common.Address
	poolAddr   common.Address
	venueName  string
	chainID    *big.Int
	decimals   map[string]int32
	tokenAddrs map[string]common.Address

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewLendingClient dials rpcURL and returns a client for one lending venue.
func NewLendingClient(venueName, rpcURL, privateKeyHex, poolAddress string, chainID int64, tokenAddrs map[string]common.Address, decimals map[string]int32) (*LendingClient, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "lending: invalid private key", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "lending: dial rpc", err)
	}
	return &LendingClient{
		client:     client,
		privateKey: crypto.FromECDSA(privKey),
		address:    crypto.PubkeyToAddress(privKey.PublicKey),
		poolAddr:   common.HexToAddress(poolAddress),
		venueName:  venueName,
		chainID:    big.NewInt(chainID),
		decimals:   decimals,
		tokenAddrs: tokenAddrs,
	}, nil
}

// Execute dispatches on order.OperationType to the matching pool call.
func (l *LendingClient) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()
	asset, ok := l.tokenAddrs[order.SourceToken]
	if !ok {
		asset, ok = l.tokenAddrs[order.TargetToken]
	}
	if !ok {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no token address configured for %q on venue %q", order.SourceToken, l.venueName))
	}

	amountWei := toWei(order.Amount, l.decimalsFor(order.SourceToken, order.TargetToken))

	var callData []byte
	var err error
	switch order.OperationType {
	case domain.OpSupply:
		callData, err = poolABI.Pack("supply", asset, amountWei, l.address, uint16(0))
	case domain.OpWithdraw:
		callData, err = poolABI.Pack("withdraw", asset, amountWei, l.address)
	case domain.OpBorrow:
		callData, err = poolABI.Pack("borrow", asset, amountWei, big.NewInt(2), uint16(0), l.address)
	case domain.OpRepay:
		callData, err = poolABI.Pack("repay", asset, amountWei, big.NewInt(2), l.address)
	default:
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("lending venue %q cannot execute operation %q", l.venueName, order.OperationType))
	}
	if err != nil {
		return domain.ExecutionHandshake{}, errorcode.Wrap(errorcode.ExecRoutingFailure, errorcode.High, "lending: pack calldata", err)
	}

	txHash, receipt, err := l.sendAndWait(ctx, callData, lendingGasLimit)
	if err != nil {
		return domain.ExecutionHandshake{
			OperationID: order.OperationID, Status: domain.StatusFailed,
			ErrorCode: string(errorcode.ExecVenueTimeout), ErrorMessage: err.Error(),
			ErrorClass: domain.ErrRetryableNetwork, SubmittedAt: submittedAt, ExecutedAt: time.Now().UTC(),
			AtomicGroupID: order.AtomicGroupID, SequenceInGroup: order.SequenceInGroup,
		}, nil
	}

	status := domain.StatusConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = domain.StatusFailed
	}

	return domain.ExecutionHandshake{
		OperationID:      order.OperationID,
		Status:           status,
		ActualDeltas:     order.ExpectedDeltaMap(),
		ExecutionDetails: map[string]any{"tx_hash": txHash.Hex(), "gas_used": receipt.GasUsed},
		SubmittedAt:      submittedAt,
		ExecutedAt:       time.Now().UTC(),
		AtomicGroupID:    order.AtomicGroupID,
		SequenceInGroup:  order.SequenceInGroup,
	}, nil
}

func (l *LendingClient) decimalsFor(tokens ...string) int32 {
	for _, t := range tokens {
		if d, ok := l.decimals[t]; ok {
			return d
		}
	}
	return 18
}

func (l *LendingClient) sendAndWait(ctx context.Context, callData []byte, gasLimit uint64) (common.Hash, *types.Receipt, error) {
	privKey, err := crypto.ToECDSA(l.privateKey)
	if err != nil {
		return common.Hash{}, nil, err
	}
	nonce, err := l.client.PendingNonceAt(ctx, l.address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := l.getGasPrice(ctx)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("gas price: %w", err)
	}

	estimate, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: l.address, To: &l.poolAddr, GasPrice: gasPrice, Data: callData,
	})
	if err != nil {
		estimate = gasLimit
	}
	estimate = estimate * 12 / 10

	tx := types.NewTransaction(nonce, l.poolAddr, big.NewInt(0), estimate, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), privKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, nil, fmt.Errorf("send tx: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	receipt, err := l.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return signed.Hash(), nil, fmt.Errorf("wait receipt: %w", err)
	}
	return signed.Hash(), receipt, nil
}

func (l *LendingClient) getGasPrice(ctx context.Context) (*big.Int, error) {
	l.mu.RLock()
	cached := l.cachedGasWei
	updatedAt := l.gasUpdatedAt
	l.mu.RUnlock()
	if cached != nil && time.Since(updatedAt) < 5*time.Minute {
		return cached, nil
	}
	price, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil
	}
	l.mu.Lock()
	l.cachedGasWei = price
	l.gasUpdatedAt = time.Now()
	l.mu.Unlock()
	return price, nil
}

func (l *LendingClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := l.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue
			}
			return receipt, nil
		}
	}
}

// toWei converts a decimal amount into its on-chain fixed-point
// representation for the given number of decimals.
func toWei(amount decimal.Decimal, decimals int32) *big.Int {
	scaled := amount.Abs().Shift(decimals)
	return scaled.BigInt()
}
