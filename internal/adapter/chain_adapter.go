package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/presale-coordinator/internal/types"
)

// ChainAdapter defines the interface for ecosystem-specific presale adapters.
// Each adapter broadcasts wallet-signed purchase transactions and reports
// their state in its ecosystem's native shape; Normalize folds those shapes
// into the single snapshot the coordinator consumes.
type ChainAdapter interface {
	// Kind returns the wallet ecosystem family of this adapter
	Kind() types.ChainKind

	// Network returns the network identifier this adapter serves
	Network() types.Network

	// Buy broadcasts the wallet-signed purchase transaction carried on the
	// intent and returns the chain-native transaction identifier.
	// Returns error if the broadcast is rejected before a hash is assigned.
	Buy(ctx context.Context, intent *types.PurchaseIntent) (string, error)

	// TransactionState reads the current state of a previously broadcast
	// transaction in the ecosystem's native shape.
	// Returns error if the state provider request fails.
	TransactionState(ctx context.Context, hash string) (State, error)

	// Balance retrieves the wallet's balance in the given currency as an
	// explicitly scaled decimal amount. Adapters own the decimals of their
	// assets; ambiguous scaling is an adapter defect, never resolved by
	// guessing downstream.
	Balance(ctx context.Context, wallet string, currency types.Currency) (float64, error)

	// ValidateAddress checks if the address format is valid for this chain
	ValidateAddress(address string) bool
}

// Approver is implemented by adapters whose non-native currencies require a
// spending approval step before purchase (EVM chains only; TRON transfers
// TRC-20 tokens directly and Solana has no allowance concept).
type Approver interface {
	// Allowance returns the presale contract's current spending allowance
	// for the owner in base units of the currency's token
	Allowance(ctx context.Context, owner string, currency types.Currency) (*big.Int, error)

	// RequiredUnits converts a user-entered decimal amount to base units of
	// the currency's token on this network
	RequiredUnits(amount string, currency types.Currency) (*big.Int, error)

	// Approve broadcasts a wallet-signed approval transaction and returns
	// its hash
	Approve(ctx context.Context, signedPayload string) (string, error)
}

// State is the tagged union of per-ecosystem transaction state shapes.
// Exactly EVMState, TronState, and SolanaState implement it.
type State interface {
	StateKind() types.ChainKind
}

// EVMState is the transaction state shape reported for Ethereum-compatible
// chains: hash assigned on broadcast, then mined, then finalized.
type EVMState struct {
	IsPending    bool
	IsConfirming bool
	IsConfirmed  bool
	Hash         string
	Err          error
}

// StateKind implements State
func (EVMState) StateKind() types.ChainKind { return types.KindEVM }

// TronState is the transaction state shape reported for TRON, which adds an
// approval phase for TRC-20 transfers.
type TronState struct {
	IsApproving  bool
	IsConfirming bool
	IsConfirmed  bool
	Hash         string
	Err          error
}

// StateKind implements State
func (TronState) StateKind() types.ChainKind { return types.KindTron }

// SolanaState is the transaction state shape reported for Solana, whose buy
// call resolves to a direct success/failure result.
type SolanaState struct {
	Success   bool
	Signature string
	Err       error
}

// StateKind implements State
func (SolanaState) StateKind() types.ChainKind { return types.KindSolana }

// Snapshot is one normalized read of a transaction's state, the only shape
// the coordinator's state machine ever sees.
type Snapshot struct {
	Kind    types.ChainKind
	Network types.Network
	Status  types.TxStatus
	Hash    string
	Err     error
}

// Normalize maps an ecosystem-native state into the internal snapshot shape.
// This is the single normalization boundary: no per-ecosystem branching
// exists past this function.
func Normalize(network types.Network, st State) Snapshot {
	snap := Snapshot{Kind: st.StateKind(), Network: network, Status: types.TxPending}

	switch s := st.(type) {
	case EVMState:
		snap.Hash = s.Hash
		snap.Err = s.Err
		switch {
		case s.Err != nil:
			snap.Status = types.TxFailed
		case s.IsConfirmed:
			snap.Status = types.TxConfirmed
		case s.IsConfirming:
			snap.Status = types.TxConfirming
		default:
			snap.Status = types.TxPending
		}
	case TronState:
		snap.Hash = s.Hash
		snap.Err = s.Err
		switch {
		case s.Err != nil:
			snap.Status = types.TxFailed
		case s.IsConfirmed:
			snap.Status = types.TxConfirmed
		case s.IsConfirming:
			snap.Status = types.TxConfirming
		default:
			// covers the approval phase as well
			snap.Status = types.TxPending
		}
	case SolanaState:
		snap.Hash = s.Signature
		snap.Err = s.Err
		switch {
		case s.Err != nil:
			snap.Status = types.TxFailed
		case s.Success:
			snap.Status = types.TxConfirmed
		default:
			snap.Status = types.TxPending
		}
	}

	return snap
}

// Common error values for chain adapters

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrTransactionNotFound indicates the requested transaction was not found
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// ErrUnsupportedCurrency indicates the currency is not available on the network
	ErrUnsupportedCurrency = fmt.Errorf("currency not supported on this network")

	// ErrUnsupportedNetwork indicates no adapter is configured for the network
	ErrUnsupportedNetwork = fmt.Errorf("no adapter configured for network")

	// ErrProviderUnavailable indicates the state provider is unavailable
	ErrProviderUnavailable = fmt.Errorf("state provider unavailable")
)

// AdapterError wraps errors with chain and operation context
type AdapterError struct {
	Network types.Network
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Network, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(network types.Network, op string, err error) *AdapterError {
	return &AdapterError{Network: network, Op: op, Err: err}
}
