package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/types"
)

type memoryStore struct {
	mu        sync.Mutex
	purchases map[string]*types.Purchase
	saves     int
}

func newMemoryStore(purchases ...*types.Purchase) *memoryStore {
	s := &memoryStore{purchases: make(map[string]*types.Purchase)}
	for _, p := range purchases {
		s.purchases[p.ID] = p
	}
	return s
}

func (s *memoryStore) ListPending(_ context.Context, limit int) ([]*types.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Purchase
	for _, p := range s.purchases {
		if p.Status == types.TxPending || p.Status == types.TxConfirming {
			clone := *p
			out = append(out, &clone)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) SavePurchase(_ context.Context, purchase *types.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *purchase
	s.purchases[purchase.ID] = &clone
	s.saves++
	return nil
}

func (s *memoryStore) status(id string) types.TxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchases[id].Status
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newReconcilerFixture(t *testing.T, store *memoryStore, states map[string]adapter.State) *Reconciler {
	t.Helper()

	fa := &mappedAdapter{states: states}
	rec, err := NewReconciler(&ReconcilerConfig{
		Adapters:     map[types.Network]adapter.ChainAdapter{types.NetworkEthereum: fa},
		Store:        store,
		Logger:       logging.NewLogger(logging.LevelError, logging.FormatText),
		PollInterval: 10 * time.Millisecond,
		RPCRateLimit: 1000,
		RPCBurst:     100,
	})
	require.NoError(t, err)
	return rec
}

// mappedAdapter serves transaction states keyed by hash
type mappedAdapter struct {
	states map[string]adapter.State
}

func (a *mappedAdapter) Kind() types.ChainKind       { return types.KindEVM }
func (a *mappedAdapter) Network() types.Network      { return types.NetworkEthereum }
func (a *mappedAdapter) ValidateAddress(string) bool { return true }

func (a *mappedAdapter) Buy(_ context.Context, _ *types.PurchaseIntent) (string, error) {
	return "", nil
}

func (a *mappedAdapter) TransactionState(_ context.Context, hash string) (adapter.State, error) {
	if state, ok := a.states[hash]; ok {
		return state, nil
	}
	return nil, adapter.ErrTransactionNotFound
}

func (a *mappedAdapter) Balance(_ context.Context, _ string, _ types.Currency) (float64, error) {
	return 0, nil
}

func pendingPurchase(id, hash string) *types.Purchase {
	return &types.Purchase{
		ID:            id,
		WalletAddress: "0xwallet",
		Network:       types.NetworkEthereum,
		Currency:      types.CurrencyUSDT,
		TxHash:        hash,
		Status:        types.TxPending,
	}
}

func TestReconcilerSettlesConfirmedPurchase(t *testing.T) {
	store := newMemoryStore(pendingPurchase("p-1", "0xabc"))
	rec := newReconcilerFixture(t, store, map[string]adapter.State{
		"0xabc": adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})

	rec.reconcile(context.Background())

	assert.Equal(t, types.TxConfirmed, store.status("p-1"))
	assert.Equal(t, 1, store.saveCount())
}

func TestReconcilerSettlesFailedPurchase(t *testing.T) {
	store := newMemoryStore(pendingPurchase("p-1", "0xdead"))
	rec := newReconcilerFixture(t, store, map[string]adapter.State{
		"0xdead": adapter.EVMState{Hash: "0xdead", Err: assert.AnError},
	})

	rec.reconcile(context.Background())

	assert.Equal(t, types.TxFailed, store.status("p-1"))
}

func TestReconcilerLeavesUnchangedRowsAlone(t *testing.T) {
	store := newMemoryStore(pendingPurchase("p-1", "0xabc"))
	rec := newReconcilerFixture(t, store, map[string]adapter.State{
		"0xabc": adapter.EVMState{IsPending: true, Hash: "0xabc"},
	})

	rec.reconcile(context.Background())
	rec.reconcile(context.Background())

	assert.Equal(t, types.TxPending, store.status("p-1"))
	assert.Equal(t, 0, store.saveCount(), "no status change, no write")
}

func TestReconcilerSkipsUnreadableTransactions(t *testing.T) {
	store := newMemoryStore(
		pendingPurchase("p-1", "0xmissing"),
		pendingPurchase("p-2", "0xabc"),
	)
	rec := newReconcilerFixture(t, store, map[string]adapter.State{
		"0xabc": adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})

	rec.reconcile(context.Background())

	// the unreadable row stays pending for the next cycle
	assert.Equal(t, types.TxPending, store.status("p-1"))
	assert.Equal(t, types.TxConfirmed, store.status("p-2"))
}

func TestReconcilerStartStop(t *testing.T) {
	store := newMemoryStore(pendingPurchase("p-1", "0xabc"))
	rec := newReconcilerFixture(t, store, map[string]adapter.State{
		"0xabc": adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})

	ctx := context.Background()
	require.NoError(t, rec.Start(ctx))
	assert.Error(t, rec.Start(ctx), "second start must fail")

	require.Eventually(t, func() bool {
		return store.status("p-1") == types.TxConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rec.Stop(ctx))
	assert.False(t, rec.IsRunning())
}
