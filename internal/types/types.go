// Package types provides common type definitions for the presale purchase service.
package types

import "time"

// ChainKind represents a wallet ecosystem family
type ChainKind string

const (
	// KindEVM represents Ethereum-compatible chains (injected/WalletConnect wallets)
	KindEVM ChainKind = "evm"
	// KindSolana represents the Solana ecosystem
	KindSolana ChainKind = "solana"
	// KindTron represents the TRON ecosystem
	KindTron ChainKind = "tron"
)

// Network identifies a concrete network a transaction was initiated on
type Network string

const (
	// NetworkEthereum represents the Ethereum mainnet
	NetworkEthereum Network = "ethereum"
	// NetworkPolygon represents the Polygon network
	NetworkPolygon Network = "polygon"
	// NetworkPolygonAmoy represents the Polygon Amoy testnet
	NetworkPolygonAmoy Network = "polygon-amoy"
	// NetworkBase represents the Base network
	NetworkBase Network = "base"
	// NetworkBSC represents the BNB Smart Chain
	NetworkBSC Network = "bsc"
	// NetworkBSCTestnet represents the BNB Smart Chain testnet
	NetworkBSCTestnet Network = "bsc-testnet"
	// NetworkMoonbeam represents the Moonbeam network
	NetworkMoonbeam Network = "moonbeam"
	// NetworkMoonbase represents the Moonbase Alpha testnet
	NetworkMoonbase Network = "moonbase-alpha"
	// NetworkSolana represents the Solana network
	NetworkSolana Network = "solana"
	// NetworkTron represents the TRON network
	NetworkTron Network = "tron"
)

// NetworkForChainID maps an EVM chain id to its network identifier.
// Unknown chain ids fall back to ethereum, matching the recording API's
// expectations for unrecognized networks.
func NetworkForChainID(chainID int64) Network {
	switch chainID {
	case 1:
		return NetworkEthereum
	case 137:
		return NetworkPolygon
	case 80002:
		return NetworkPolygonAmoy
	case 8453:
		return NetworkBase
	case 56:
		return NetworkBSC
	case 97:
		return NetworkBSCTestnet
	case 1284:
		return NetworkMoonbeam
	case 1287:
		return NetworkMoonbase
	default:
		return NetworkEthereum
	}
}

// Currency is a payment currency symbol (ETH, USDT, SOL, TRX, ...)
type Currency string

const (
	CurrencyETH  Currency = "ETH"
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyDOT  Currency = "DOT"
	CurrencyGLMR Currency = "GLMR"
	CurrencyDEV  Currency = "DEV"
	CurrencyPOL  Currency = "POL"
	CurrencyBNB  Currency = "BNB"
	CurrencySOL  Currency = "SOL"
	CurrencyTRX  Currency = "TRX"
)

// CurrencyType distinguishes gas-paying assets from USD-pegged tokens
type CurrencyType string

const (
	// CurrencyNative represents a chain's gas-paying asset
	CurrencyNative CurrencyType = "native"
	// CurrencyStablecoin represents a USD-pegged token requiring approval on EVM chains
	CurrencyStablecoin CurrencyType = "stablecoin"
)

// PaymentMethod describes one currency accepted on a network
type PaymentMethod struct {
	Symbol Currency     `json:"symbol"`
	Name   string       `json:"name"`
	Type   CurrencyType `json:"type"`
}

// TxStatus represents the lifecycle state of one tracked transaction
type TxStatus string

const (
	// TxPending means the transaction hash is known but not yet mined
	TxPending TxStatus = "pending"
	// TxConfirming means the transaction is mined and awaiting finality
	TxConfirming TxStatus = "confirming"
	// TxConfirmed means the transaction reached its terminal success state
	TxConfirmed TxStatus = "confirmed"
	// TxFailed means the transaction reached its terminal failure state
	TxFailed TxStatus = "failed"
)

// PurchaseIntent is created when a user submits the buy action and discarded
// once the attempt resolves or the network changes mid-flight.
type PurchaseIntent struct {
	Amount          string    `json:"amount"`
	Currency        Currency  `json:"currency"`
	ReferralCode    string    `json:"referralCode,omitempty"`
	ReferralFromURL bool      `json:"referralFromUrl,omitempty"`
	ChainKind       ChainKind `json:"chainKind"`
	Network         Network   `json:"network"`
	WalletAddress   string    `json:"walletAddress"`
	// SignedPayload is the wallet-signed transaction to broadcast. Signing
	// happens in the user's wallet; the service only relays and tracks.
	SignedPayload string `json:"signedPayload,omitempty"`
}

// TransactionRecord tracks one underlying on-chain transaction.
// A record is only actionable while the active network still matches
// the network it was initiated on.
type TransactionRecord struct {
	Hash    string   `json:"hash"`
	Network Network  `json:"network"`
	Status  TxStatus `json:"status"`
}

// PurchaseReceipt is the metadata handed to the confirmation sink and
// the recording API after a successful purchase.
type PurchaseReceipt struct {
	Tokens          float64  `json:"tokens"`
	Amount          string   `json:"amount"`
	Currency        Currency `json:"currency"`
	TransactionHash string   `json:"transactionHash"`
	Network         Network  `json:"network"`
	WalletAddress   string   `json:"walletAddress"`
	ReferralCode    string   `json:"referralCode,omitempty"`
}

// Quote is the USD equivalent and token quantity for a purchase amount
type Quote struct {
	USDValue    float64 `json:"usdValue"`
	TokenAmount float64 `json:"tokenAmount"`
}

// Stage describes one time- or cap-bounded phase of the token sale
type Stage struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	PriceUSD float64 `json:"priceUsd"`
	CapUSD   float64 `json:"capUsd"`
}

// AllocationResult is the outcome of checking a purchase against the
// active stage's remaining USD allocation
type AllocationResult struct {
	Valid               bool    `json:"valid"`
	RemainingAllocation float64 `json:"remainingAllocation"`
	ExceedsBy           float64 `json:"exceedsBy"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Purchase is one persisted purchase attempt, written when a transaction
// hash is assigned and updated when the attempt reaches a terminal state.
type Purchase struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	Network       Network   `json:"network"`
	Currency      Currency  `json:"currency"`
	Amount        string    `json:"amount"`
	USDValue      float64   `json:"usdValue"`
	Tokens        float64   `json:"tokens"`
	ReferralCode  string    `json:"referralCode,omitempty"`
	TxHash        string    `json:"txHash"`
	Status        TxStatus  `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PurchaseTransition is one coordinator status change, kept as an audit
// trail of how an attempt moved through the state machine.
type PurchaseTransition struct {
	AttemptID string    `json:"attemptId"`
	Network   Network   `json:"network"`
	Hash      string    `json:"hash,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
