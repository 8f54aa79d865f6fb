package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/types"
)

func TestBoardLatestReceiptPerWallet(t *testing.T) {
	board := NewBoard()

	_, ok := board.LatestReceipt("0xwallet")
	assert.False(t, ok)

	board.PurchaseConfirmed(types.PurchaseReceipt{WalletAddress: "0xwallet", TransactionHash: "0xaaa"})
	board.PurchaseConfirmed(types.PurchaseReceipt{WalletAddress: "0xwallet", TransactionHash: "0xbbb"})
	board.PurchaseConfirmed(types.PurchaseReceipt{WalletAddress: "0xother", TransactionHash: "0xccc"})

	receipt, ok := board.LatestReceipt("0xwallet")
	require.True(t, ok)
	assert.Equal(t, "0xbbb", receipt.TransactionHash)

	receipt, ok = board.LatestReceipt("0xother")
	require.True(t, ok)
	assert.Equal(t, "0xccc", receipt.TransactionHash)
}

func TestBoardReceiptSurvivesDismissal(t *testing.T) {
	board := NewBoard()
	f := newFixture(t, func(cfg *Config) { cfg.Sink = board })
	ctx := context.Background()

	_, err := f.coord.Submit(ctx, usdtIntent("1000"))
	require.NoError(t, err)
	f.coord.ObserveSnapshot(ctx, confirmedSnapshot("0xabc"))

	f.coord.Dismiss(ctx)
	assert.Equal(t, StatusIdle, f.coord.State().Status)

	receipt, ok := board.LatestReceipt("0xwallet")
	require.True(t, ok)
	assert.Equal(t, "0xabc", receipt.TransactionHash)
	assert.InDelta(t, 40000.0, receipt.Tokens, 1e-9)
}
