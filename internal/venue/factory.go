package venue

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/basistrade/engine/internal/config"
	"github.com/basistrade/engine/internal/domain/errorcode"
)

// Factory builds the per-venue executors a Router needs, reading
// credentials from BASIS_<VENUE>_* environment variables (spec §6,
// "Credentials"). Only CEX clients are cached, one per venue name; the
// other Build methods construct a new client on every call. The
// environment passed to NewFactory is stored but does not change which
// variables are read.
type Factory struct {
	env config.Environment

	mu        sync.Mutex
	cexClients map[string]*CEXClient
}

// NewFactory constructs a Factory for the resolved environment.
func NewFactory(env config.Environment) *Factory {
	return &Factory{env: env, cexClients: make(map[string]*CEXClient)}
}

func envKey(venue, suffix string) string {
	return "BASIS_" + strings.ToUpper(venue) + "_" + suffix
}

func requireEnv(venue, suffix string) (string, error) {
	key := envKey(venue, suffix)
	v := os.Getenv(key)
	if v == "" {
		return "", errorcode.New(errorcode.VenCredentialMissing, errorcode.Critical,
			fmt.Sprintf("missing required credential environment variable %q for venue %q", key, venue))
	}
	return v, nil
}

// BuildCEX returns the (cached) CEX trading client for venue, reading
// BASIS_<VENUE>_API_KEY / _API_SECRET / _BASE_URL from the environment.
func (f *Factory) BuildCEX(venue string, requestsPerSecond float64) (*CEXClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cexClients[venue]; ok {
		return c, nil
	}
	apiKey, err := requireEnv(venue, "API_KEY")
	if err != nil {
		return nil, err
	}
	apiSecret, err := requireEnv(venue, "API_SECRET")
	if err != nil {
		return nil, err
	}
	baseURL, err := requireEnv(venue, "BASE_URL")
	if err != nil {
		return nil, err
	}
	c := NewCEXClient(venue, baseURL, apiKey, apiSecret, requestsPerSecond)
	f.cexClients[venue] = c
	return c, nil
}

// BuildLending constructs a LendingClient for venue, reading
// BASIS_<VENUE>_RPC_URL / _PRIVATE_KEY / _POOL_ADDRESS / _CHAIN_ID.
func (f *Factory) BuildLending(venue string, tokenAddrs map[string]common.Address, decimals map[string]int32) (*LendingClient, error) {
	rpcURL, err := requireEnv(venue, "RPC_URL")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv(venue, "PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	poolAddress, err := requireEnv(venue, "POOL_ADDRESS")
	if err != nil {
		return nil, err
	}
	chainID, err := requireChainID(venue)
	if err != nil {
		return nil, err
	}
	return NewLendingClient(venue, rpcURL, privateKey, poolAddress, chainID, tokenAddrs, decimals)
}

// BuildStaking constructs a StakingClient for venue.
func (f *Factory) BuildStaking(venue string) (*StakingClient, error) {
	rpcURL, err := requireEnv(venue, "RPC_URL")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv(venue, "PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	stakingAddress, err := requireEnv(venue, "STAKING_ADDRESS")
	if err != nil {
		return nil, err
	}
	chainID, err := requireChainID(venue)
	if err != nil {
		return nil, err
	}
	return NewStakingClient(venue, rpcURL, privateKey, stakingAddress, chainID)
}

// BuildDEX constructs a DEXClient for venue.
func (f *Factory) BuildDEX(venue string, tokenAddrs map[string]common.Address, decimals map[string]int32, feeTier uint32, slippage float64) (*DEXClient, error) {
	rpcURL, err := requireEnv(venue, "RPC_URL")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv(venue, "PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	routerAddress, err := requireEnv(venue, "ROUTER_ADDRESS")
	if err != nil {
		return nil, err
	}
	chainID, err := requireChainID(venue)
	if err != nil {
		return nil, err
	}
	return NewDEXClient(venue, rpcURL, privateKey, routerAddress, chainID, tokenAddrs, decimals, feeTier, slippage)
}

// BuildFlashLoan constructs a FlashLoanClient for venue.
func (f *Factory) BuildFlashLoan(venue string, tokenAddrs map[string]common.Address, decimals map[string]int32) (*FlashLoanClient, error) {
	rpcURL, err := requireEnv(venue, "RPC_URL")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv(venue, "PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	poolAddress, err := requireEnv(venue, "POOL_ADDRESS")
	if err != nil {
		return nil, err
	}
	receiverAddress, err := requireEnv(venue, "FLASHLOAN_RECEIVER_ADDRESS")
	if err != nil {
		return nil, err
	}
	chainID, err := requireChainID(venue)
	if err != nil {
		return nil, err
	}
	return NewFlashLoanClient(venue, rpcURL, privateKey, poolAddress, receiverAddress, chainID, tokenAddrs, decimals)
}

// BuildTransfer constructs a TransferClient for venue, reading
// BASIS_<VENUE>_RPC_URL / _PRIVATE_KEY / _CHAIN_ID. destinations and token
// metadata come from config, not the environment, since they are not
// secrets.
func (f *Factory) BuildTransfer(venue string, destinations map[string]common.Address,
	tokenAddrs map[string]common.Address, decimals map[string]int32) (*TransferClient, error) {
	rpcURL, err := requireEnv(venue, "RPC_URL")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv(venue, "PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	chainID, err := requireChainID(venue)
	if err != nil {
		return nil, err
	}
	return NewTransferClient(venue, rpcURL, privateKey, chainID, destinations, tokenAddrs, decimals)
}

func requireChainID(venue string) (int64, error) {
	raw, err := requireEnv(venue, "CHAIN_ID")
	if err != nil {
		return 0, err
	}
	id, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil {
		return 0, errorcode.Wrap(errorcode.VenCredentialMissing, errorcode.Critical,
			fmt.Sprintf("invalid %s: not an integer", envKey(venue, "CHAIN_ID")), convErr)
	}
	return id, nil
}
