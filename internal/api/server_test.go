package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/coordinator"
	apperrors "github.com/presale-coordinator/internal/errors"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/referral"
	"github.com/presale-coordinator/internal/types"
)

type stubAdapter struct {
	hash string
}

func (a *stubAdapter) Kind() types.ChainKind       { return types.KindEVM }
func (a *stubAdapter) Network() types.Network      { return types.NetworkEthereum }
func (a *stubAdapter) ValidateAddress(string) bool { return true }

func (a *stubAdapter) Buy(_ context.Context, _ *types.PurchaseIntent) (string, error) {
	return a.hash, nil
}

func (a *stubAdapter) TransactionState(_ context.Context, _ string) (adapter.State, error) {
	return adapter.EVMState{IsPending: true, Hash: a.hash}, nil
}

func (a *stubAdapter) Balance(_ context.Context, _ string, _ types.Currency) (float64, error) {
	return 1e9, nil
}

type stubAllocation struct{ raised float64 }

func (a stubAllocation) RaisedUSD(_ context.Context) (float64, error) { return a.raised, nil }

type stubPurchases struct {
	byID map[string]*types.Purchase
}

func (p *stubPurchases) GetByID(_ context.Context, id string) (*types.Purchase, error) {
	if purchase, ok := p.byID[id]; ok {
		return purchase, nil
	}
	return nil, apperrors.NewNotFoundError("purchase", id)
}

func (p *stubPurchases) ListByWallet(_ context.Context, wallet string, _ int) ([]*types.Purchase, error) {
	var out []*types.Purchase
	for _, purchase := range p.byID {
		if purchase.WalletAddress == wallet {
			out = append(out, purchase)
		}
	}
	return out, nil
}

type stubReferrals struct {
	statuses map[string]referral.Status
}

func (r *stubReferrals) Validate(_ context.Context, wallet, code string) referral.Status {
	valid := code == "FRIEND50"
	status := referral.Status{Code: code, IsValid: &valid}
	if !valid {
		status.Message = "unknown code"
	}
	r.statuses[wallet] = status
	return status
}

func (r *stubReferrals) Status(wallet string) referral.Status {
	return r.statuses[wallet]
}

func serverResolver(t *testing.T) *pricing.Resolver {
	t.Helper()
	r, err := pricing.NewResolver(&pricing.ResolverConfig{
		Stages:        []types.Stage{{ID: 1, Name: "Stage 1", PriceUSD: 0.025, CapUSD: 100000}},
		ActiveStageID: 1,
		FallbackUSD:   map[types.Currency]float64{types.CurrencyUSDT: 1},
	})
	require.NoError(t, err)
	return r
}

type serverFixture struct {
	server    *Server
	sessions  *coordinator.Manager
	board     *coordinator.Board
	purchases *stubPurchases
	referrals *stubReferrals
}

func newServerFixture(t *testing.T, raised float64) *serverFixture {
	t.Helper()

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	adapters := map[types.Network]adapter.ChainAdapter{
		types.NetworkEthereum: &stubAdapter{hash: "0xabc"},
	}
	resolver := serverResolver(t)
	referrals := &stubReferrals{statuses: make(map[string]referral.Status)}
	board := coordinator.NewBoard()

	sessions := coordinator.NewManager(func(wallet string) (*coordinator.Coordinator, error) {
		return coordinator.NewCoordinator(&coordinator.Config{
			Adapters:   adapters,
			Resolver:   resolver,
			Allocation: stubAllocation{raised: raised},
			Sink:       board,
			Network:    types.NetworkEthereum,
			Logger:     logger,
		})
	})

	purchases := &stubPurchases{byID: make(map[string]*types.Purchase)}

	server := NewServer(
		&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 1000, Burst: 1000},
		adapter.NewBalanceCache(adapters, time.Minute),
		sessions,
		resolver,
		referrals,
		purchases,
		stubAllocation{raised: raised},
		board,
		nil,
		nil,
		logger,
	)
	return &serverFixture{server: server, sessions: sessions, board: board, purchases: purchases, referrals: referrals}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, 0)
	rec := f.do(t, "GET", "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestPaymentMethods(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "GET", "/api/v1/payment-methods?network=tron", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	methods := body["methods"].([]interface{})
	// TRON carries native TRX and USDT but no USDC
	assert.Len(t, methods, 2)
	assert.Equal(t, "USDT", body["defaultCurrency"])

	rec = f.do(t, "GET", "/api/v1/payment-methods?network=hyperledger", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/api/v1/payment-methods", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "GET", "/api/v1/quote?network=ethereum&currency=USDT&amount=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	quote := body["quote"].(map[string]interface{})
	assert.InDelta(t, 1000.0, quote["usdValue"], 1e-9)
	assert.InDelta(t, 40000.0, quote["tokenAmount"], 1e-9)

	rec = f.do(t, "GET", "/api/v1/quote?network=ethereum&currency=USDT&amount=-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocationEndpoint(t *testing.T) {
	f := newServerFixture(t, 99900)

	rec := f.do(t, "GET", "/api/v1/allocation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 99900.0, body["raisedUsd"], 1e-9)
	assert.InDelta(t, 100.0, body["remaining"], 1e-9)
}

func TestMaxPurchaseEndpoint(t *testing.T) {
	f := newServerFixture(t, 99000)

	// remaining $1000 at $1/USDT, wallet holds plenty
	rec := f.do(t, "GET", "/api/v1/max-purchase?network=ethereum&currency=USDT&walletAddress=0xwallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 1000.0, body["maxPurchase"], 1e-9)

	rec = f.do(t, "GET", "/api/v1/max-purchase?network=ethereum&currency=USDT", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/api/v1/max-purchase?network=tron&currency=TRX&walletAddress=Twallet", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no adapter for the network")
}

func TestSubmitPurchase(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		WalletAddress: "0xwallet",
		Currency:      "USDT",
		Amount:        "1000",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])
	record := body["record"].(map[string]interface{})
	assert.Equal(t, "0xabc", record["hash"])
	assert.Equal(t, "ethereum", record["network"])
}

func TestSubmitPurchaseValidation(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		Currency: "USDT",
		Amount:   "1000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing wallet")

	rec = f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		WalletAddress: "0xwallet",
		Currency:      "USDT",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing amount")
}

func TestSubmitPurchaseAllocationExceeded(t *testing.T) {
	f := newServerFixture(t, 99900)

	rec := f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		WalletAddress: "0xwallet",
		Currency:      "USDT",
		Amount:        "150",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "ALLOCATION_EXCEEDED", errObj["code"])
}

func TestPurchaseStateLifecycle(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "GET", "/api/v1/purchases/state?walletAddress=0xwallet", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no session yet")

	rec = f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		WalletAddress: "0xwallet",
		Currency:      "USDT",
		Amount:        "1000",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, "GET", "/api/v1/purchases/state?walletAddress=0xwallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decodeBody(t, rec)["status"])

	rec = f.do(t, "POST", "/api/v1/purchases/dismiss", walletRequest{WalletAddress: "0xwallet"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeBody(t, rec)["status"])
}

func TestSetNetworkEndpoint(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "POST", "/api/v1/purchases/network", walletRequest{
		WalletAddress: "0xwallet",
		Network:       "solana",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeBody(t, rec)["status"])

	rec = f.do(t, "POST", "/api/v1/purchases/network", walletRequest{WalletAddress: "0xwallet"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPurchaseByID(t *testing.T) {
	f := newServerFixture(t, 0)
	f.purchases.byID["p-1"] = &types.Purchase{
		ID:            "p-1",
		WalletAddress: "0xwallet",
		Network:       types.NetworkEthereum,
		TxHash:        "0xabc",
		Status:        types.TxConfirmed,
	}

	rec := f.do(t, "GET", "/api/v1/purchases/p-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", decodeBody(t, rec)["id"])

	rec = f.do(t, "GET", "/api/v1/purchases/p-2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestListPurchasesByWallet(t *testing.T) {
	f := newServerFixture(t, 0)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p-%d", i)
		f.purchases.byID[id] = &types.Purchase{ID: id, WalletAddress: "0xwallet"}
	}

	rec := f.do(t, "GET", "/api/v1/wallets/0xwallet/purchases", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 3, body["count"], 0)

	rec = f.do(t, "GET", "/api/v1/wallets/0xwallet/purchases?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletConfirmationEndpoint(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "GET", "/api/v1/wallets/0xwallet/confirmation", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no confirmed purchase yet")

	rec = f.do(t, "POST", "/api/v1/purchases", submitPurchaseRequest{
		WalletAddress: "0xwallet",
		Currency:      "USDT",
		Amount:        "1000",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	coord, ok := f.sessions.Lookup("0xwallet")
	require.True(t, ok)
	coord.ObserveSnapshot(context.Background(), adapter.Snapshot{
		Kind: types.KindEVM, Network: types.NetworkEthereum,
		Status: types.TxConfirmed, Hash: "0xabc",
	})

	rec = f.do(t, "GET", "/api/v1/wallets/0xwallet/confirmation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "0xabc", body["transactionHash"])
	assert.InDelta(t, 40000.0, body["tokens"], 1e-9)

	// the receipt outlives the attempt state
	rec = f.do(t, "POST", "/api/v1/purchases/dismiss", walletRequest{WalletAddress: "0xwallet"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "GET", "/api/v1/wallets/0xwallet/confirmation", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReferralEndpoints(t *testing.T) {
	f := newServerFixture(t, 0)

	rec := f.do(t, "POST", "/api/v1/referral/validate", validateReferralRequest{
		WalletAddress: "0xwallet",
		Code:          "FRIEND50",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isValid"])

	rec = f.do(t, "GET", "/api/v1/referral/status?walletAddress=0xwallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isValid"])

	rec = f.do(t, "POST", "/api/v1/referral/validate", validateReferralRequest{WalletAddress: "0xwallet"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	f := newServerFixture(t, 0)
	// rebuild with a tight limit
	f.server.config.RequestsPerSec = 1
	f.server.config.Burst = 2
	f.server.setupRouter()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := f.do(t, "GET", "/health", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected rate limit to trigger")
}
