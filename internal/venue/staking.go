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

const stakingGasLimit = uint64(150_000)

var lidoABI abi.ABI

func init() {
	var err error
	lidoABI, err = abi.JSON(strings.NewReader(`[
		{"name":"submit","type":"function","inputs":[{"name":"referral","type":"address"}],
			"outputs":[{"name":"","type":"uint256"}],"payable":true},
		{"name":"requestWithdrawals","type":"function","inputs":[
			{"name":"amounts","type":"uint256[]"},{"name":"owner","type":"address"}],
			"outputs":[{"name":"","type":"uint256[]"}]}
	]`))
	if err != nil {
		panic("lido abi parse: " + err.Error())
	}
}

// StakingClient stakes and requests unstaking of ETH against a liquid
// staking protocol contract (Lido-shaped submit/requestWithdrawals), built
// on the same transaction pipeline as LendingClient (spec §1, "staking via
// Lido/EtherFi").
type StakingClient struct {
	client      *ethclient.Client
	privateKey  []byte
	address     common.Address
	stakingAddr common.Address
	venueName   string
	chainID     *big.Int
}

// NewStakingClient dials rpcURL and returns a client for one staking venue.
func NewStakingClient(venueName, rpcURL, privateKeyHex, stakingAddress string, chainID int64) (*StakingClient, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "staking: invalid private key", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical, "staking: dial rpc", err)
	}
	return &StakingClient{
		client: client, privateKey: crypto.FromECDSA(privKey),
		address: crypto.PubkeyToAddress(privKey.PublicKey),
		stakingAddr: common.HexToAddress(stakingAddress), venueName: venueName, chainID: big.NewInt(chainID),
	}, nil
}

// Execute handles stake (submit, payable) and unstake (requestWithdrawals)
// orders.
func (s *StakingClient) Execute(ctx context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	submittedAt := time.Now().UTC()

	var callData []byte
	var value *big.Int
	var err error
	amountWei := toWei(order.Amount, 18)

	switch order.OperationType {
	case domain.OpStake:
		callData, err = lidoABI.Pack("submit", common.Address{})
		value = amountWei
	case domain.OpUnstake:
		callData, err = lidoABI.Pack("requestWithdrawals", []*big.Int{amountWei}, s.address)
		value = big.NewInt(0)
	default:
		return domain.ExecutionHandshake{}, errorcode.New(errorcode.ExecRoutingFailure, errorcode.High,
			fmt.Sprintf("staking venue %q cannot execute operation %q", s.venueName, order.OperationType))
	}
	if err != nil {
		return domain.ExecutionHandshake{}, errorcode.Wrap(errorcode.ExecRoutingFailure, errorcode.High, "staking: pack calldata", err)
	}

	txHash, receipt, err := s.sendAndWait(ctx, callData, value)
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
	// Unstake requests are asynchronous on Lido; the withdrawal NFT is
	// minted here but ETH is not returned until a later claim. The engine
	// tracks the pending claim as an application-level reconciliation
	// concern, not as a retried handshake.
	if order.OperationType == domain.OpUnstake && status == domain.StatusConfirmed {
		status = domain.StatusPending
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

func (s *StakingClient) sendAndWait(ctx context.Context, callData []byte, value *big.Int) (common.Hash, *types.Receipt, error) {
	privKey, err := crypto.ToECDSA(s.privateKey)
	if err != nil {
		return common.Hash{}, nil, err
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(30_000_000_000)
	}

	estimate, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address, To: &s.stakingAddr, GasPrice: gasPrice, Value: value, Data: callData,
	})
	if err != nil {
		estimate = stakingGasLimit
	}
	estimate = estimate * 12 / 10

	tx := types.NewTransaction(nonce, s.stakingAddr, value, estimate, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), privKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
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
			receipt, err := s.client.TransactionReceipt(ctx, signed.Hash())
			if err != nil {
				continue
			}
			return signed.Hash(), receipt, nil
		}
	}
}
