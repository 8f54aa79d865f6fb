package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/types"
)

// countingAdapter serves a settable balance and counts reads
type countingAdapter struct {
	mu      sync.Mutex
	balance float64
	reads   int
}

func (a *countingAdapter) Kind() types.ChainKind       { return types.KindEVM }
func (a *countingAdapter) Network() types.Network      { return types.NetworkEthereum }
func (a *countingAdapter) ValidateAddress(string) bool { return true }

func (a *countingAdapter) Buy(_ context.Context, _ *types.PurchaseIntent) (string, error) {
	return "0xabc", nil
}

func (a *countingAdapter) TransactionState(_ context.Context, _ string) (State, error) {
	return EVMState{IsPending: true}, nil
}

func (a *countingAdapter) Balance(_ context.Context, _ string, _ types.Currency) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	return a.balance, nil
}

func (a *countingAdapter) readCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

func newBalanceCacheFixture(balance float64) (*BalanceCache, *countingAdapter) {
	fa := &countingAdapter{balance: balance}
	cache := NewBalanceCache(map[types.Network]ChainAdapter{types.NetworkEthereum: fa}, time.Minute)
	return cache, fa
}

func TestBalanceCacheServesRepeatReads(t *testing.T) {
	cache, fa := newBalanceCacheFixture(500)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		balance, err := cache.Balance(ctx, types.NetworkEthereum, "0xwallet", types.CurrencyUSDT)
		require.NoError(t, err)
		assert.InDelta(t, 500.0, balance, 1e-9)
	}
	assert.Equal(t, 1, fa.readCount())
}

func TestBalanceCacheExpiry(t *testing.T) {
	cache, fa := newBalanceCacheFixture(500)
	ctx := context.Background()

	current := time.Now()
	cache.now = func() time.Time { return current }

	_, err := cache.Balance(ctx, types.NetworkEthereum, "0xwallet", types.CurrencyUSDT)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = cache.Balance(ctx, types.NetworkEthereum, "0xwallet", types.CurrencyUSDT)
	require.NoError(t, err)
	assert.Equal(t, 2, fa.readCount())
}

func TestBalanceCacheRefreshRereadsCachedCurrencies(t *testing.T) {
	cache, fa := newBalanceCacheFixture(500)
	ctx := context.Background()

	_, err := cache.Balance(ctx, types.NetworkEthereum, "0xwallet", types.CurrencyUSDT)
	require.NoError(t, err)

	// the purchase spent funds: the next read must not serve the stale entry
	fa.mu.Lock()
	fa.balance = 200
	fa.mu.Unlock()

	cache.Refresh(ctx, types.NetworkEthereum, "0xwallet")

	balance, err := cache.Balance(ctx, types.NetworkEthereum, "0xwallet", types.CurrencyUSDT)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, balance, 1e-9)
	assert.Equal(t, 2, fa.readCount(), "refresh re-read warms the cache")
}

func TestBalanceCacheUnknownNetwork(t *testing.T) {
	cache, _ := newBalanceCacheFixture(500)

	_, err := cache.Balance(context.Background(), types.NetworkTron, "Twallet", types.CurrencyTRX)
	require.ErrorIs(t, err, ErrUnsupportedNetwork)
}
