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

const transferGasLimit = uint64(80_000)

var erc20TransferABI abi.ABI

func init() {
	var err error
	erc20TransferABI, err = abi.JSON(strings.NewReader(`[
		{"name":"transfer","type":"function","inputs":[
			{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
			"outputs":[{"name":"","type":"bool"}]}
	]`))
	if err != nil {
		panic("erc20 transfer abi parse: " + err.Error())
	}
}

// TransferClient moves base-token capital between wallets on the same
// chain, modeling the cross-venue transfer operation that rebalances
// capital between a CEX deposit address and an on-chain venue (spec §3,
// OperationType "transfer").
type TransferClient struct {
	client      *ethclient.Client
	privateKey  []byte
	address     common.Address
	venueName   string
	chainID     *big.Int
	destinations map[string]common.Address // target venue -> deposit address
	tokenAddrs  map[string]common.Address
	decimals    map[string]int32
}

// NewTransferClient dials rpcURL and returns a transfer client.
func NewTransferClient(venueName, rpcURL, privateKeyHex string, chainID int64,
	destinations map[string]common.Address, tokenAddrs map[string]common.Address, decimals map[string]int32) (*TransferClient, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "transfer: invalid private key", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "transfer: dial rpc", err)
	}
	return &TransferClient{
		client: client, privateKey: crypto.FromECDSA(privKey),
		address: crypto.PubkeyToAddress(privKey.PublicKey), venueName: venueName, chainID: big.NewInt(chainID),
		destinations: destinations, tokenAddrs: tokenAddrs, decimals: decimals,
	}, nil
}

// Execute sends order.Amount of order.SourceToken to the deposit address
// registered for order.TargetVenue.
func (t *TransferClient) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()
	if order.OperationType != domain.OpTransfer {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("transfer venue %q cannot execute operation %q", t.venueName, order.OperationType))
	}

	dest, ok := t.destinations[order.TargetVenue]
	if !ok {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no deposit address registered for target venue %q", order.TargetVenue))
	}
	tokenAddr, ok := t.tokenAddrs[order.SourceToken]
	if !ok {
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no token address configured for %q on venue %q", order.SourceToken, t.venueName))
	}

	amountWei := toWei(order.Amount, t.decimalsOf(order.SourceToken))
	callData, err := erc20TransferABI.Pack("transfer", dest, amountWei)
	if err != nil {
		return domain.ExecutionHandshake{}, errorcode.Wrap(errorcode.ExecRoutingFailure, errorcode.High, "transfer: pack calldata", err)
	}

	txHash, receipt, err := t.sendAndWait(ctx, tokenAddr, callData)
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

func (t *TransferClient) decimalsOf(symbol string) int32 {
	if d, ok := t.decimals[symbol]; ok {
		return d
	}
	return 18
}

func (t *TransferClient) sendAndWait(ctx context.Context, tokenAddr common.Address, callData []byte) (common.Hash, *types.Receipt, error) {
	privKey, err := crypto.ToECDSA(t.privateKey)
	if err != nil {
		return common.Hash{}, nil, err
	}
	nonce, err := t.client.PendingNonceAt(ctx, t.address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(30_000_000_000)
	}
	estimate, err := t.client.EstimateGas(ctx, ethereum.CallMsg{From: t.address, To: &tokenAddr, GasPrice: gasPrice, Data: callData})
	if err != nil {
		estimate = transferGasLimit
	}
	estimate = estimate * 12 / 10

	tx := types.NewTransaction(nonce, tokenAddr, big.NewInt(0), estimate, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), privKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
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
			receipt, err := t.client.TransactionReceipt(ctx, signed.Hash())
			if err != nil {
				continue
			}
			return signed.Hash(), receipt, nil
		}
	}
}
