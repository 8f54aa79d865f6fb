package adapter

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/presale-coordinator/internal/types"
)

const lamportsPerSOL = 1_000_000_000

// SolanaRPCClient is the subset of Solana RPC operations the adapter needs.
// This allows mocking the RPC layer in tests without hitting real nodes.
type SolanaRPCClient interface {
	SendEncodedTransaction(ctx context.Context, encodedTx string) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		transactionSignatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)
}

// SolanaAdapter implements ChainAdapter for the Solana presale program
type SolanaAdapter struct {
	rpc SolanaRPCClient
}

// NewSolanaAdapter creates a new Solana chain adapter
func NewSolanaAdapter(rpcClient SolanaRPCClient) (*SolanaAdapter, error) {
	if rpcClient == nil {
		return nil, fmt.Errorf("rpc client cannot be nil")
	}
	return &SolanaAdapter{rpc: rpcClient}, nil
}

// NewSolanaAdapterFromEndpoint creates an adapter backed by a real RPC endpoint
func NewSolanaAdapterFromEndpoint(endpoint string) (*SolanaAdapter, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	return &SolanaAdapter{rpc: rpc.New(endpoint)}, nil
}

// Kind implements ChainAdapter
func (a *SolanaAdapter) Kind() types.ChainKind { return types.KindSolana }

// Network implements ChainAdapter
func (a *SolanaAdapter) Network() types.Network { return types.NetworkSolana }

// Buy broadcasts the wallet-signed transaction and returns its signature
func (a *SolanaAdapter) Buy(ctx context.Context, intent *types.PurchaseIntent) (string, error) {
	if intent.SignedPayload == "" {
		return "", NewAdapterError(types.NetworkSolana, "Buy", fmt.Errorf("empty signed payload"))
	}

	sig, err := a.rpc.SendEncodedTransaction(ctx, intent.SignedPayload)
	if err != nil {
		return "", NewAdapterError(types.NetworkSolana, "Buy", err)
	}
	return sig.String(), nil
}

// TransactionState reads the confirmation status of a broadcast transaction
func (a *SolanaAdapter) TransactionState(ctx context.Context, hash string) (State, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, NewAdapterError(types.NetworkSolana, "TransactionState", err)
	}

	result, err := a.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, NewAdapterError(types.NetworkSolana, "TransactionState", err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		// signature not yet visible to the cluster
		return SolanaState{Signature: hash}, nil
	}

	status := result.Value[0]
	if status.Err != nil {
		return SolanaState{Signature: hash, Err: fmt.Errorf("transaction failed: %v", status.Err)}, nil
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
		status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed {
		return SolanaState{Success: true, Signature: hash}, nil
	}
	return SolanaState{Signature: hash}, nil
}

// Balance retrieves the wallet's SOL balance, explicitly scaled from lamports
func (a *SolanaAdapter) Balance(ctx context.Context, wallet string, currency types.Currency) (float64, error) {
	if currency != types.CurrencySOL {
		return 0, NewAdapterError(types.NetworkSolana, "Balance", ErrUnsupportedCurrency)
	}

	pubkey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, NewAdapterError(types.NetworkSolana, "Balance", ErrInvalidAddress)
	}

	result, err := a.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, NewAdapterError(types.NetworkSolana, "Balance", err)
	}
	return float64(result.Value) / lamportsPerSOL, nil
}

// ValidateAddress implements ChainAdapter
func (a *SolanaAdapter) ValidateAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}
