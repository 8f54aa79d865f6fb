package coordinator

import (
	"sync"

	"github.com/presale-coordinator/internal/types"
)

// Board keeps the latest confirmed receipt per wallet. The coordinator
// hands receipts to it exactly once per transaction; the HTTP layer serves
// them as the confirmation payload, which survives the attempt state being
// dismissed or replaced.
type Board struct {
	mu       sync.RWMutex
	receipts map[string]types.PurchaseReceipt
}

// NewBoard creates an empty confirmation board
func NewBoard() *Board {
	return &Board{receipts: make(map[string]types.PurchaseReceipt)}
}

// PurchaseConfirmed implements ConfirmationSink
func (b *Board) PurchaseConfirmed(receipt types.PurchaseReceipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts[receipt.WalletAddress] = receipt
}

// LatestReceipt returns the wallet's most recent confirmed receipt
func (b *Board) LatestReceipt(wallet string) (types.PurchaseReceipt, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	receipt, ok := b.receipts[wallet]
	return receipt, ok
}
