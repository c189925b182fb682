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

const flashLoanGasLimit = uint64(600_000)

var flashLoanABI abi.ABI

func init() {
	var err error
	flashLoanABI, err = abi.JSON(strings.NewReader(`[
		{"name":"flashLoanSimple","type":"function","inputs":[
			{"name":"receiverAddress","type":"address"},{"name":"asset","type":"address"},
			{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"},
			{"name":"referralCode","type":"uint16"}],"outputs":[]}
	]`))
	if err != nil {
		panic("flash loan abi parse: " + err.Error())
	}
}

// FlashLoanClient executes an atomic flash-loan group (flash_borrow, supply,
// borrow, flash_repay) as a single on-chain transaction against an
// Aave-style pool's flashLoanSimple entry point: the receiver contract
// performs the supply/borrow/repay sequence inside the flash-loan callback,
// so the whole group either lands in one block or reverts entirely (spec
// §4.4, "atomic groups are all-or-nothing"; spec §1, "flash loans").
type FlashLoanClient struct {
	client         *ethclient.Client
	privateKey     []byte
	address        common.Address
	poolAddr       common.Address
	receiverAddr   common.Address
	venueName      string
	chainID        *big.Int
	tokenAddrs     map[string]common.Address
	decimals       map[string]int32
}

// NewFlashLoanClient dials rpcURL and returns a flash-loan group executor.
// receiverAddress is the deployed contract that implements
// executeOperation and runs the supply/borrow/repay sequence.
func NewFlashLoanClient(venueName, rpcURL, privateKeyHex, poolAddress, receiverAddress string, chainID int64,
	tokenAddrs map[string]common.Address, decimals map[string]int32) (*FlashLoanClient, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "flashloan: invalid private key", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "flashloan: dial rpc", err)
	}
	return &FlashLoanClient{
		client: client, privateKey: crypto.FromECDSA(privKey),
		address: crypto.PubkeyToAddress(privKey.PublicKey),
		poolAddr: common.HexToAddress(poolAddress), receiverAddr: common.HexToAddress(receiverAddress),
		venueName: venueName, chainID: big.NewInt(chainID), tokenAddrs: tokenAddrs, decimals: decimals,
	}, nil
}

// ExecuteGroup finds the flash_borrow order in the group (the leg that
// carries the loan amount and token), encodes the remaining legs as the
// callback params, and submits one transaction. The returned handshake
// slice reports the same status and tx hash for every order in the group:
// the group either all-confirms or all-fails (spec §3, "AtomicGroupID").
func (f *FlashLoanClient) ExecuteGroup(ctx context.Context, orders []domain.Order) ([]domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()

	var borrowLeg *domain.Order
	for i := range orders {
		if orders[i].OperationType == domain.OpFlashBorrow {
			borrowLeg = &orders[i]
			break
		}
	}
	if borrowLeg == nil {
		return nil, errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			"flash-loan group has no flash_borrow leg")
	}

	asset, ok := f.tokenAddrs[borrowLeg.TargetToken]
	if !ok {
		return nil, errorcode.New(errorcode.VenCredentialMissing, errorcode.High,
			fmt.Sprintf("no token address configured for %q on venue %q", borrowLeg.TargetToken, f.venueName))
	}
	amountWei := toWei(borrowLeg.Amount, f.decimalsOf(borrowLeg.TargetToken))

	params := encodeGroupParams(orders)
	callData, err := flashLoanABI.Pack("flashLoanSimple", f.receiverAddr, asset, amountWei, params, uint16(0))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.ExecRoutingFailure, errorcode.High, "flashloan: pack calldata", err)
	}

	txHash, receipt, sendErr := f.sendAndWait(ctx, callData)

	status := domain.StatusConfirmed
	errClass := domain.VenueErrorClass("")
	errMsg := ""
	if sendErr != nil {
		status = domain.StatusFailed
		errClass = domain.ErrRetryableNetwork
		errMsg = sendErr.Error()
	} else if receipt.Status != types.ReceiptStatusSuccessful {
		status = domain.StatusRolledBack
		errMsg = "flash loan transaction reverted"
	}

	handshakes := make([]domain.ExecutionHandshake, len(orders))
	for i, o := range orders {
		hs := domain.ExecutionHandshake{
			OperationID:     o.OperationID,
			Status:          status,
			SubmittedAt:     submittedAt,
			ExecutedAt:      time.Now().UTC(),
			AtomicGroupID:   o.AtomicGroupID,
			SequenceInGroup: o.SequenceInGroup,
			ErrorMessage:    errMsg,
			ErrorClass:      errClass,
		}
		if status == domain.StatusConfirmed {
			hs.ActualDeltas = o.ExpectedDeltaMap()
			hs.ExecutionDetails = map[string]any{"tx_hash": txHash.Hex()}
		}
		handshakes[i] = hs
	}
	return handshakes, nil
}

func (f *FlashLoanClient) decimalsOf(symbol string) int32 {
	if d, ok := f.decimals[symbol]; ok {
		return d
	}
	return 18
}

// encodeGroupParams packs the non-borrow, non-repay legs' operation types
// and amounts for the receiver contract's executeOperation callback. The
// wire format is an implementation detail of the deployed receiver; here it
// is a simple ABI-encoded parallel array.
func encodeGroupParams(orders []domain.Order) []byte {
	var ops []string
	var amounts []*big.Int
	for _, o := range orders {
		if o.OperationType == domain.OpFlashBorrow || o.OperationType == domain.OpFlashRepay {
			continue
		}
		ops = append(ops, string(o.OperationType))
		amounts = append(amounts, toWei(o.Amount, 18))
	}
	argsABI, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "op", Type: "string"},
		{Name: "amount", Type: "uint256"},
	})
	if err != nil {
		return nil
	}
	type leg struct {
		Op     string
		Amount *big.Int
	}
	legs := make([]leg, len(ops))
	for i := range ops {
		legs[i] = leg{Op: ops[i], Amount: amounts[i]}
	}
	packed, err := abi.Arguments{{Type: argsABI}}.Pack(legs)
	if err != nil {
		return nil
	}
	return packed
}

func (f *FlashLoanClient) sendAndWait(ctx context.Context, callData []byte) (common.Hash, *types.Receipt, error) {
	privKey, err := crypto.ToECDSA(f.privateKey)
	if err != nil {
		return common.Hash{}, nil, err
	}
	nonce, err := f.client.PendingNonceAt(ctx, f.address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := f.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(30_000_000_000)
	}
	estimate, err := f.client.EstimateGas(ctx, ethereum.CallMsg{From: f.address, To: &f.poolAddr, GasPrice: gasPrice, Data: callData})
	if err != nil {
		estimate = flashLoanGasLimit
	}
	estimate = estimate * 12 / 10

	tx := types.NewTransaction(nonce, f.poolAddr, big.NewInt(0), estimate, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(f.chainID), privKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := f.client.SendTransaction(ctx, signed); err != nil {
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
			receipt, err := f.client.TransactionReceipt(ctx, signed.Hash())
			if err != nil {
				continue
			}
			return signed.Hash(), receipt, nil
		}
	}
}
