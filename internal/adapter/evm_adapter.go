package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/presale-coordinator/internal/types"
)

// ERC-20 and Chainlink aggregator function selectors
var (
	selectorBalanceOf       = common.Hex2Bytes("70a08231")
	selectorAllowance       = common.Hex2Bytes("dd62ed3e")
	selectorLatestRoundData = common.Hex2Bytes("feaf968c")
)

const nativeDecimals = 18

// StablecoinInfo describes one approval-gated token on an EVM network
type StablecoinInfo struct {
	Address  string
	Decimals int
}

// EVMAdapter implements ChainAdapter and Approver for Ethereum-compatible chains
type EVMAdapter struct {
	network         types.Network
	chainID         int64
	provider        *RPCProvider
	presaleContract common.Address
	stablecoins     map[types.Currency]StablecoinInfo
	confirmations   uint64

	clientMu sync.RWMutex
	client   *ethclient.Client
}

// EVMAdapterConfig holds configuration for creating an EVMAdapter
type EVMAdapterConfig struct {
	// Network is the network identifier. Required.
	Network types.Network

	// ChainID is the EVM chain id. Required.
	ChainID int64

	// Provider supplies RPC endpoints with failover. Required.
	Provider *RPCProvider

	// PresaleContract is the presale contract address, the spender for
	// stablecoin allowances.
	PresaleContract string

	// Stablecoins maps approval-gated currencies to their token contracts
	Stablecoins map[types.Currency]StablecoinInfo

	// Confirmations is the block depth at which a mined transaction is
	// considered final. Default: 2.
	Confirmations uint64
}

// NewEVMAdapter creates a new EVM chain adapter
func NewEVMAdapter(cfg *EVMAdapterConfig) (*EVMAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	client, err := ethclient.Dial(cfg.Provider.CurrentURL())
	if err != nil {
		return nil, NewAdapterError(cfg.Network, "NewEVMAdapter", err)
	}

	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 2
	}

	return &EVMAdapter{
		network:         cfg.Network,
		chainID:         cfg.ChainID,
		client:          client,
		provider:        cfg.Provider,
		presaleContract: common.HexToAddress(cfg.PresaleContract),
		stablecoins:     cfg.Stablecoins,
		confirmations:   confirmations,
	}, nil
}

// conn returns the active RPC client. Failover swaps it, so callers must
// not cache the result across calls.
func (a *EVMAdapter) conn() *ethclient.Client {
	a.clientMu.RLock()
	defer a.clientMu.RUnlock()
	return a.client
}

// shouldFailover determines if an error warrants failing over to the
// secondary endpoint
func (a *EVMAdapter) shouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if !a.provider.IsHealthy() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return true
	}
	return false
}

// failover switches the provider to its secondary endpoint and installs a
// client dialed against it. When the secondary cannot be dialed the
// provider resets to the primary so a later attempt retries it.
func (a *EVMAdapter) failover() bool {
	if err := a.provider.Failover(); err != nil {
		return false
	}

	client, err := ethclient.Dial(a.provider.CurrentURL())
	if err != nil {
		a.provider.Reset()
		return false
	}

	a.clientMu.Lock()
	old := a.client
	a.client = client
	a.clientMu.Unlock()
	if old != nil {
		old.Close()
	}
	return true
}

// Kind implements ChainAdapter
func (a *EVMAdapter) Kind() types.ChainKind { return types.KindEVM }

// Network implements ChainAdapter
func (a *EVMAdapter) Network() types.Network { return a.network }

// ChainID returns the EVM chain id this adapter serves
func (a *EVMAdapter) ChainID() int64 { return a.chainID }

// Buy broadcasts the wallet-signed transaction and returns its hash
func (a *EVMAdapter) Buy(ctx context.Context, intent *types.PurchaseIntent) (string, error) {
	tx, err := decodeSignedTx(intent.SignedPayload)
	if err != nil {
		return "", NewAdapterError(a.network, "Buy", err)
	}

	// re-broadcasting the same signed transaction after failover is safe,
	// it carries the same hash
	if err := a.conn().SendTransaction(ctx, tx); err != nil {
		a.provider.RecordFailure()
		if a.shouldFailover(err) && a.failover() {
			if retryErr := a.conn().SendTransaction(ctx, tx); retryErr == nil {
				a.provider.RecordSuccess()
				return tx.Hash().Hex(), nil
			}
		}
		return "", NewAdapterError(a.network, "Buy", err)
	}
	a.provider.RecordSuccess()

	return tx.Hash().Hex(), nil
}

// TransactionState reads the mined/finalized state of a broadcast transaction
func (a *EVMAdapter) TransactionState(ctx context.Context, hash string) (State, error) {
	txHash := common.HexToHash(hash)

	_, isPending, err := a.conn().TransactionByHash(ctx, txHash)
	if err == ethereum.NotFound {
		return nil, NewAdapterError(a.network, "TransactionState", ErrTransactionNotFound)
	}
	if err != nil {
		a.provider.RecordFailure()
		if a.shouldFailover(err) && a.failover() {
			return a.TransactionState(ctx, hash)
		}
		return nil, NewAdapterError(a.network, "TransactionState", err)
	}
	a.provider.RecordSuccess()

	if isPending {
		return EVMState{IsPending: true, Hash: hash}, nil
	}

	receipt, err := a.conn().TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		return EVMState{IsPending: true, Hash: hash}, nil
	}
	if err != nil {
		return nil, NewAdapterError(a.network, "TransactionState", err)
	}

	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return EVMState{Hash: hash, Err: fmt.Errorf("execution reverted")}, nil
	}

	head, err := a.conn().BlockNumber(ctx)
	if err != nil {
		return nil, NewAdapterError(a.network, "TransactionState", err)
	}

	depth := uint64(0)
	if head >= receipt.BlockNumber.Uint64() {
		depth = head - receipt.BlockNumber.Uint64()
	}
	if depth >= a.confirmations {
		return EVMState{IsConfirmed: true, Hash: hash}, nil
	}
	return EVMState{IsConfirming: true, Hash: hash}, nil
}

// Balance retrieves the wallet balance as an explicitly scaled decimal amount
func (a *EVMAdapter) Balance(ctx context.Context, wallet string, currency types.Currency) (float64, error) {
	if !a.ValidateAddress(wallet) {
		return 0, NewAdapterError(a.network, "Balance", ErrInvalidAddress)
	}
	owner := common.HexToAddress(wallet)

	if info, ok := a.stablecoins[currency]; ok {
		raw, err := a.callUint256(ctx, common.HexToAddress(info.Address), packCall(selectorBalanceOf, owner))
		if err != nil {
			return 0, NewAdapterError(a.network, "Balance", err)
		}
		return scaleUnits(raw, info.Decimals), nil
	}

	raw, err := a.conn().BalanceAt(ctx, owner, nil)
	if err != nil {
		a.provider.RecordFailure()
		if a.shouldFailover(err) && a.failover() {
			return a.Balance(ctx, wallet, currency)
		}
		return 0, NewAdapterError(a.network, "Balance", err)
	}
	a.provider.RecordSuccess()
	return scaleUnits(raw, nativeDecimals), nil
}

// ValidateAddress implements ChainAdapter
func (a *EVMAdapter) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// Allowance implements Approver. Returns the presale contract's spending
// allowance for the owner in base units of the currency's token.
func (a *EVMAdapter) Allowance(ctx context.Context, owner string, currency types.Currency) (*big.Int, error) {
	info, ok := a.stablecoins[currency]
	if !ok {
		return nil, NewAdapterError(a.network, "Allowance", ErrUnsupportedCurrency)
	}
	if !a.ValidateAddress(owner) {
		return nil, NewAdapterError(a.network, "Allowance", ErrInvalidAddress)
	}

	data := packCall(selectorAllowance, common.HexToAddress(owner), a.presaleContract)
	raw, err := a.callUint256(ctx, common.HexToAddress(info.Address), data)
	if err != nil {
		return nil, NewAdapterError(a.network, "Allowance", err)
	}
	return raw, nil
}

// RequiredUnits implements Approver
func (a *EVMAdapter) RequiredUnits(amount string, currency types.Currency) (*big.Int, error) {
	info, ok := a.stablecoins[currency]
	if !ok {
		return nil, NewAdapterError(a.network, "RequiredUnits", ErrUnsupportedCurrency)
	}
	units, err := ParseUnits(amount, info.Decimals)
	if err != nil {
		return nil, NewAdapterError(a.network, "RequiredUnits", err)
	}
	return units, nil
}

// Approve broadcasts a wallet-signed approval transaction
func (a *EVMAdapter) Approve(ctx context.Context, signedPayload string) (string, error) {
	tx, err := decodeSignedTx(signedPayload)
	if err != nil {
		return "", NewAdapterError(a.network, "Approve", err)
	}
	if err := a.conn().SendTransaction(ctx, tx); err != nil {
		return "", NewAdapterError(a.network, "Approve", err)
	}
	return tx.Hash().Hex(), nil
}

// FeedPriceUSD reads a Chainlink aggregator's latest answer, scaled by the
// standard 8 feed decimals. The boolean is false when the feed call fails
// so callers can fall back to static prices.
func (a *EVMAdapter) FeedPriceUSD(ctx context.Context, feedAddress string) (float64, bool) {
	if !common.IsHexAddress(feedAddress) {
		return 0, false
	}

	out, err := a.conn().CallContract(ctx, ethereum.CallMsg{
		To:   addrPtr(common.HexToAddress(feedAddress)),
		Data: selectorLatestRoundData,
	}, nil)
	if err != nil || len(out) < 64 {
		return 0, false
	}

	// latestRoundData returns (roundId, answer, startedAt, updatedAt,
	// answeredInRound); answer occupies the second word
	answer := new(big.Int).SetBytes(out[32:64])
	if answer.Sign() <= 0 {
		return 0, false
	}
	return scaleUnits(answer, 8), true
}

// callUint256 executes a read-only contract call returning a single uint256
func (a *EVMAdapter) callUint256(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	out, err := a.conn().CallContract(ctx, ethereum.CallMsg{To: addrPtr(to), Data: data}, nil)
	if err != nil {
		a.provider.RecordFailure()
		if a.shouldFailover(err) && a.failover() {
			return a.callUint256(ctx, to, data)
		}
		return nil, err
	}
	a.provider.RecordSuccess()
	if len(out) < 32 {
		return nil, fmt.Errorf("short contract call response: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

func addrPtr(a common.Address) *common.Address { return &a }

// packCall encodes a function selector with left-padded address arguments
func packCall(selector []byte, args ...common.Address) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg.Bytes(), 32)...)
	}
	return data
}

// decodeSignedTx decodes a hex-encoded, wallet-signed EVM transaction
func decodeSignedTx(payload string) (*ethtypes.Transaction, error) {
	raw := strings.TrimPrefix(payload, "0x")
	if raw == "" {
		return nil, fmt.Errorf("empty signed payload")
	}
	bytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signed payload: %w", err)
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(bytes); err != nil {
		return nil, fmt.Errorf("invalid signed transaction: %w", err)
	}
	return tx, nil
}

// ParseUnits converts a user-entered decimal amount to base units with the
// given number of decimals, without floating point rounding.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return units, nil
}

// scaleUnits converts base units to a decimal amount using the token's
// declared decimals
func scaleUnits(units *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(units)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	result, _ := new(big.Float).Quo(f, scale).Float64()
	return result
}
