package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presale-coordinator/internal/circuitbreaker"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/types"
)

// FeedReader reads one on-chain price feed. The EVM adapter satisfies this
// with Chainlink aggregator calls.
type FeedReader interface {
	FeedPriceUSD(ctx context.Context, feedAddress string) (float64, bool)
}

// NetworkFeeds binds a network's feed reader to its per-currency feed addresses
type NetworkFeeds struct {
	Reader FeedReader
	Feeds  map[types.Currency]string
}

// FeedOracle resolves live prices from on-chain feeds with a short TTL cache.
// Feed reads go through a circuit breaker; while it is open the oracle
// reports no answer and callers fall back to static prices.
type FeedOracle struct {
	networks map[types.Network]NetworkFeeds
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logging.Logger
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cachedPrice
}

type cacheKey struct {
	network  types.Network
	currency types.Currency
}

type cachedPrice struct {
	price   float64
	fetched time.Time
}

// NewFeedOracle creates a FeedOracle over the given per-network feeds
func NewFeedOracle(networks map[types.Network]NetworkFeeds, breakers *circuitbreaker.Manager, logger *logging.Logger, ttl time.Duration) *FeedOracle {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &FeedOracle{
		networks: networks,
		breaker:  breakers.GetOrCreate("price-feeds", nil),
		logger:   logger,
		ttl:      ttl,
		cache:    make(map[cacheKey]cachedPrice),
	}
}

// PriceUSD implements Oracle
func (o *FeedOracle) PriceUSD(ctx context.Context, network types.Network, currency types.Currency) (float64, bool) {
	nf, ok := o.networks[network]
	if !ok || nf.Reader == nil {
		return 0, false
	}
	feed, ok := nf.Feeds[currency]
	if !ok {
		return 0, false
	}

	key := cacheKey{network: network, currency: currency}
	o.mu.RLock()
	cached, hit := o.cache[key]
	o.mu.RUnlock()
	if hit && time.Since(cached.fetched) < o.ttl {
		return cached.price, true
	}

	var price float64
	err := o.breaker.Execute(ctx, func() error {
		p, ok := nf.Reader.FeedPriceUSD(ctx, feed)
		if !ok {
			return fmt.Errorf("feed %s returned no answer", feed)
		}
		price = p
		return nil
	})
	if err != nil {
		o.logger.WithFields(map[string]interface{}{
			"network":  network,
			"currency": currency,
		}).WithError(err).Warn("Price feed read failed, falling back to static price")
		// serve a stale cache entry over no answer at all
		if hit {
			return cached.price, true
		}
		return 0, false
	}

	o.mu.Lock()
	o.cache[key] = cachedPrice{price: price, fetched: time.Now()}
	o.mu.Unlock()

	return price, true
}
