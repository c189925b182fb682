package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/basistrade/engine/internal/domain"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

const dexGasLimit = uint64(220_000)

var routerABI abi.ABI

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(`[
		{"name":"exactInputSingle","type":"function","inputs":[
			{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
			{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
			{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}],"outputs":[{"name":"","type":"uint256"}]}
	]`))
	if err != nil {
		panic("router abi parse: " + err.Error())
	}
}

// DEXClient swaps one token for another through a Uniswap-v3-shaped router
// contract (spec §3, OperationType "swap").
type DEXClient struct {
	client     *ethclient.Client
	privateKey []byte
	address    common.Address
	routerAddr common.Address
	venueName  string
	chainID    *big.Int
	tokenAddrs map[string]common.Address
	decimals   map[string]int32
	feeTier    uint32
	slippage   float64
}

// NewDEXClient dials rpcURL and returns a client for one DEX venue.
func NewDEXClient(venueName, rpcURL, privateKeyHex, routerAddress string, chainID int64,
	tokenAddrs map[string]common.Address, decimals map[string]int32, feeTier uint32, slippage float64) (*DEXClient, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "dex: invalid private key", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "dex: dial rpc", err)
	}
	return &DEXClient{
		client: client, privateKey: crypto.FromECDSA(privKey),
		address: crypto.PubkeyToAddress(privKey.PublicKey),
		routerAddr: common.HexToAddress(routerAddress), venueName: venueName, chainID: big.NewInt(chainID),
		tokenAddrs: tokenAddrs, decimals: decimals, feeTier: feeTier, slippage: slippage,
	}, nil
}

// Execute submits a swap order against the router.
func (d *DEXClient) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()
	if order.OperationType != domain.OpSwap {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("dex venue %q cannot execute operation %q", d.venueName, order.OperationType))
	}

	tokenIn, ok := d.tokenAddrs[order.SourceToken]
	if !ok {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no token address configured for %q on venue %q", order.SourceToken, d.venueName))
	}
	tokenOut, ok := d.tokenAddrs[order.TargetToken]
	if !ok {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no token address configured for %q on venue %q", order.TargetToken, d.venueName))
	}

	amountIn := toWei(order.Amount, d.decimalsOf(order.SourceToken))
	minOut := new(big.Int).Mul(amountIn, big.NewInt(int64((1-d.slippage)*1000)))
	minOut.Div(minOut, big.NewInt(1000))

	callData, err := routerABI.Pack("exactInputSingle", tokenIn, tokenOut, d.feeTier, d.address, amountIn, minOut, big.NewInt(0))
	if err != nil {
		return domain.ExecutionHandshake{}, errorcode.Wrap(errorcode.ExecRoutingFailure, errorcode.High, "dex: pack calldata", err)
	}

	txHash, receipt, err := d.sendAndWait(ctx, callData)
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
		ExecutionDetails: map[string]any{"tx_hash": txHash.Hex()},
		SubmittedAt:      submittedAt,
		ExecutedAt:       time.Now().UTC(),
		AtomicGroupID:    order.AtomicGroupID,
		SequenceInGroup:  order.SequenceInGroup,
	}, nil
}

func (d *DEXClient) decimalsOf(symbol string) int32 {
	if dec, ok := d.decimals[symbol]; ok {
		return dec
	}
	return 18
}

func (d *DEXClient) sendAndWait(ctx context.Context, callData []byte) (common.Hash, *types.Receipt, error) {
	privKey, err := crypto.ToECDSA(d.privateKey)
	if err != nil {
		return common.Hash{}, nil, err
	}
	nonce, err := d.client.PendingNonceAt(ctx, d.address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(30_000_000_000)
	}
	estimate, err := d.client.EstimateGas(ctx, ethereum.CallMsg{From: d.address, To: &d.routerAddr, GasPrice: gasPrice, Data: callData})
	if err != nil {
		estimate = dexGasLimit
	}
	estimate = estimate * 12 / 10

	tx := types.NewTransaction(nonce, d.routerAddr, big.NewInt(0), estimate, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(d.chainID), privKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := d.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, nil, fmt.Errorf("send tx: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-receiptCtx.Done():
			return signed.Hash(), nil, receiptCtx.Err()
		case <-ticker.C:
			receipt, err := d.client.TransactionReceipt(ctx, signed.Hash())
			if err != nil {
				continue
			}
			return signed.Hash(), receipt, nil
		}
	}
}
