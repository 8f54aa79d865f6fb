package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/types"
)

// tronTestServer serves canned wallet/gettransactioninfobyid responses
func tronTestServer(t *testing.T, info map[string]interface{}) *TronAdapter {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wallet/gettransactioninfobyid", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(info))
	}))
	t.Cleanup(server.Close)

	provider, err := NewRPCProvider(server.URL, "")
	require.NoError(t, err)
	adapter, err := NewTronAdapter(&TronAdapterConfig{Provider: provider})
	require.NoError(t, err)
	return adapter
}

func TestTronTransactionStateNotIndexedYet(t *testing.T) {
	// TronGrid returns an empty object until the transaction reaches a block
	a := tronTestServer(t, map[string]interface{}{})

	st, err := a.TransactionState(context.Background(), "abc123")
	require.NoError(t, err)

	snap := Normalize(types.NetworkTron, st)
	assert.Equal(t, types.TxPending, snap.Status)
	assert.Equal(t, "abc123", snap.Hash)
}

func TestTronTransactionStateConfirmed(t *testing.T) {
	a := tronTestServer(t, map[string]interface{}{
		"id":          "abc123",
		"blockNumber": 12345,
		"receipt":     map[string]string{"result": "SUCCESS"},
	})

	st, err := a.TransactionState(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, Normalize(types.NetworkTron, st).Status)
}

func TestTronTransactionStateFailed(t *testing.T) {
	a := tronTestServer(t, map[string]interface{}{
		"id":         "abc123",
		"result":     "FAILED",
		"resMessage": "524556455254", // "REVERT" hex-encoded
	})

	st, err := a.TransactionState(context.Background(), "abc123")
	require.NoError(t, err)

	snap := Normalize(types.NetworkTron, st)
	assert.Equal(t, types.TxFailed, snap.Status)
	assert.Contains(t, snap.Err.Error(), "REVERT")
}
