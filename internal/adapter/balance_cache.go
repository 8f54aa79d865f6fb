package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presale-coordinator/internal/types"
)

// BalanceCache is a read-through cache over the chain adapters' balance
// reads. Balance endpoints are polled far more often than balances change,
// so reads are served from the cache until the entry expires or the wallet
// is refreshed after a confirmed purchase.
type BalanceCache struct {
	adapters map[types.Network]ChainAdapter
	ttl      time.Duration

	// now is replaced in tests
	now func() time.Time

	mu      sync.Mutex
	entries map[balanceKey]balanceEntry
}

type balanceKey struct {
	network  types.Network
	wallet   string
	currency types.Currency
}

type balanceEntry struct {
	value     float64
	expiresAt time.Time
}

// NewBalanceCache creates a balance cache over the given adapters.
// A non-positive ttl defaults to 30 seconds.
func NewBalanceCache(adapters map[types.Network]ChainAdapter, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{
		adapters: adapters,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[balanceKey]balanceEntry),
	}
}

// Balance returns the wallet's balance on the network, served from the
// cache when a live entry exists
func (c *BalanceCache) Balance(ctx context.Context, network types.Network, wallet string, currency types.Currency) (float64, error) {
	key := balanceKey{network: network, wallet: wallet, currency: currency}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	chainAdapter, ok := c.adapters[network]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}

	value, err := chainAdapter.Balance(ctx, wallet, currency)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.entries[key] = balanceEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}

// Refresh drops the wallet's entries on the network and re-reads the
// currencies that were cached, so balances reflect the spent funds of a
// just-confirmed purchase
func (c *BalanceCache) Refresh(ctx context.Context, network types.Network, wallet string) {
	c.mu.Lock()
	var currencies []types.Currency
	for key := range c.entries {
		if key.network == network && key.wallet == wallet {
			currencies = append(currencies, key.currency)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, currency := range currencies {
		_, _ = c.Balance(ctx, network, wallet, currency)
	}
}
