package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/presale-coordinator/internal/types"
)

const sunPerTRX = 1_000_000

// TronAdapter implements ChainAdapter for TRON via a TronGrid-style HTTP API.
// No Go SDK exists for TRON, so this speaks the wallet/* JSON endpoints
// directly, the same way provider history clients do.
type TronAdapter struct {
	provider    *RPCProvider
	client      *http.Client
	stablecoins map[types.Currency]StablecoinInfo
}

// TronAdapterConfig holds configuration for creating a TronAdapter
type TronAdapterConfig struct {
	// Provider supplies the TronGrid base URL with failover. Required.
	Provider *RPCProvider

	// Stablecoins maps TRC-20 currencies to their token contracts
	Stablecoins map[types.Currency]StablecoinInfo

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration
}

// NewTronAdapter creates a new TRON chain adapter
func NewTronAdapter(cfg *TronAdapterConfig) (*TronAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &TronAdapter{
		provider:    cfg.Provider,
		client:      &http.Client{Timeout: timeout},
		stablecoins: cfg.Stablecoins,
	}, nil
}

// Kind implements ChainAdapter
func (a *TronAdapter) Kind() types.ChainKind { return types.KindTron }

// Network implements ChainAdapter
func (a *TronAdapter) Network() types.Network { return types.NetworkTron }

// broadcastResponse is the wallet/broadcasttransaction response shape
type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Buy broadcasts the wallet-signed transaction JSON and returns its txid
func (a *TronAdapter) Buy(ctx context.Context, intent *types.PurchaseIntent) (string, error) {
	if intent.SignedPayload == "" {
		return "", NewAdapterError(types.NetworkTron, "Buy", fmt.Errorf("empty signed payload"))
	}

	var resp broadcastResponse
	err := a.post(ctx, "/wallet/broadcasttransaction", json.RawMessage(intent.SignedPayload), &resp)
	if err != nil {
		return "", NewAdapterError(types.NetworkTron, "Buy", err)
	}
	if !resp.Result {
		return "", NewAdapterError(types.NetworkTron, "Buy",
			fmt.Errorf("broadcast rejected: %s %s", resp.Code, decodeTronMessage(resp.Message)))
	}
	return resp.TxID, nil
}

// txInfoResponse is the wallet/gettransactioninfobyid response shape
type txInfoResponse struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
	Result     string `json:"result"` // "FAILED" when the transaction failed
	ResMessage string `json:"resMessage"`
}

// TransactionState reads the execution state of a broadcast transaction
func (a *TronAdapter) TransactionState(ctx context.Context, hash string) (State, error) {
	var info txInfoResponse
	err := a.post(ctx, "/wallet/gettransactioninfobyid", map[string]string{"value": hash}, &info)
	if err != nil {
		return nil, NewAdapterError(types.NetworkTron, "TransactionState", err)
	}

	// An empty id means the transaction is not yet indexed: still pending,
	// not yet in a block
	if info.ID == "" {
		return TronState{Hash: hash}, nil
	}

	if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
		msg := decodeTronMessage(info.ResMessage)
		if msg == "" {
			msg = "execution reverted"
		}
		return TronState{Hash: hash, Err: fmt.Errorf("%s", msg)}, nil
	}

	if info.BlockNumber > 0 {
		return TronState{IsConfirmed: true, Hash: hash}, nil
	}
	return TronState{IsConfirming: true, Hash: hash}, nil
}

// accountResponse is the wallet/getaccount response shape
type accountResponse struct {
	Balance int64 `json:"balance"` // SUN
}

// constantResponse is the wallet/triggerconstantcontract response shape
type constantResponse struct {
	ConstantResult []string `json:"constant_result"`
}

// Balance retrieves the wallet balance as an explicitly scaled decimal
// amount: TRX from SUN, TRC-20 tokens from their declared decimals.
func (a *TronAdapter) Balance(ctx context.Context, wallet string, currency types.Currency) (float64, error) {
	if !a.ValidateAddress(wallet) {
		return 0, NewAdapterError(types.NetworkTron, "Balance", ErrInvalidAddress)
	}

	if currency == types.CurrencyTRX {
		var acct accountResponse
		err := a.post(ctx, "/wallet/getaccount", map[string]interface{}{
			"address": wallet,
			"visible": true,
		}, &acct)
		if err != nil {
			return 0, NewAdapterError(types.NetworkTron, "Balance", err)
		}
		return float64(acct.Balance) / sunPerTRX, nil
	}

	info, ok := a.stablecoins[currency]
	if !ok {
		return 0, NewAdapterError(types.NetworkTron, "Balance", ErrUnsupportedCurrency)
	}

	var result constantResponse
	err := a.post(ctx, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":     wallet,
		"contract_address":  info.Address,
		"function_selector": "balanceOf(address)",
		"parameter":         tronABIAddress(wallet),
		"visible":           true,
	}, &result)
	if err != nil {
		return 0, NewAdapterError(types.NetworkTron, "Balance", err)
	}
	if len(result.ConstantResult) == 0 {
		return 0, NewAdapterError(types.NetworkTron, "Balance", fmt.Errorf("empty constant result"))
	}

	raw, ok := parseHexUint(result.ConstantResult[0])
	if !ok {
		return 0, NewAdapterError(types.NetworkTron, "Balance", fmt.Errorf("malformed constant result"))
	}
	return scaleUnits(raw, info.Decimals), nil
}

// ValidateAddress implements ChainAdapter. TRON base58 addresses start with
// T and are 34 characters long.
func (a *TronAdapter) ValidateAddress(address string) bool {
	return len(address) == 34 && strings.HasPrefix(address, "T")
}

// post sends a JSON request to the TronGrid API and decodes the response
func (a *TronAdapter) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.provider.CurrentURL()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.provider.RecordFailure()
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		a.provider.RecordFailure()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	a.provider.RecordSuccess()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
