// Package pricing implements the price and stage resolver for the presale.
// Quotes are deterministic for given inputs: the resolver depends only on
// the injected oracle, the static fallback table, and the active stage's
// token price.
package pricing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/presale-coordinator/internal/types"
)

// Oracle looks up live USD prices for payment currencies. Implementations
// are fed by on-chain price feeds; a false second return means the oracle
// has no answer and the static fallback applies.
type Oracle interface {
	PriceUSD(ctx context.Context, network types.Network, currency types.Currency) (float64, bool)
}

// StaticOracle is an Oracle with fixed prices, used in tests and as a
// no-oracle placeholder.
type StaticOracle map[types.Currency]float64

// PriceUSD implements Oracle
func (o StaticOracle) PriceUSD(_ context.Context, _ types.Network, currency types.Currency) (float64, bool) {
	price, ok := o[currency]
	return price, ok
}

// Resolver computes USD equivalents, token quantities, and stage
// allocation checks
type Resolver struct {
	stages            []types.Stage
	activeStageID     int
	oracle            Oracle
	fallback          map[types.Currency]float64
	stableTolerance   float64
	volatileTolerance float64
}

// ResolverConfig holds configuration for creating a Resolver
type ResolverConfig struct {
	Stages        []types.Stage
	ActiveStageID int
	Oracle        Oracle
	FallbackUSD   map[types.Currency]float64

	// Allocation tolerances as a fraction of the purchase's USD value.
	// Stablecoins are near 1:1 with USD and get a tight tolerance;
	// oracle-priced currencies get a looser one to absorb feed jitter.
	StableTolerance   float64
	VolatileTolerance float64
}

// NewResolver creates a new price/stage resolver
func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	stableTol := cfg.StableTolerance
	if stableTol == 0 {
		stableTol = 0.001
	}
	volatileTol := cfg.VolatileTolerance
	if volatileTol == 0 {
		volatileTol = 0.01
	}

	return &Resolver{
		stages:            cfg.Stages,
		activeStageID:     cfg.ActiveStageID,
		oracle:            cfg.Oracle,
		fallback:          cfg.FallbackUSD,
		stableTolerance:   stableTol,
		volatileTolerance: volatileTol,
	}, nil
}

// ActiveStage returns the currently active sale stage
func (r *Resolver) ActiveStage() (types.Stage, error) {
	for _, stage := range r.stages {
		if stage.ID == r.activeStageID {
			return stage, nil
		}
	}
	return types.Stage{}, fmt.Errorf("active stage %d not configured", r.activeStageID)
}

// CurrencyPriceUSD returns the USD price for one unit of the currency,
// preferring the oracle and falling back to the static table
func (r *Resolver) CurrencyPriceUSD(ctx context.Context, network types.Network, currency types.Currency) float64 {
	if r.oracle != nil {
		if price, ok := r.oracle.PriceUSD(ctx, network, currency); ok && price > 0 {
			return price
		}
	}
	if price, ok := r.fallback[currency]; ok {
		return price
	}
	// stablecoins without a configured price are pegged
	return 1.0
}

// Quote converts a user-entered amount in the given currency to its USD
// equivalent and the token quantity it buys at the active stage price
func (r *Resolver) Quote(ctx context.Context, network types.Network, currency types.Currency, amount string) (types.Quote, error) {
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value <= 0 {
		return types.Quote{}, fmt.Errorf("invalid amount %q", amount)
	}

	stage, err := r.ActiveStage()
	if err != nil {
		return types.Quote{}, err
	}
	if stage.PriceUSD <= 0 {
		return types.Quote{}, fmt.Errorf("stage %d has no token price", stage.ID)
	}

	usd := value * r.CurrencyPriceUSD(ctx, network, currency)
	return types.Quote{
		USDValue:    usd,
		TokenAmount: usd / stage.PriceUSD,
	}, nil
}

// CheckAllocation validates a purchase's USD value against the active
// stage's remaining allocation. The tolerance absorbs price-feed jitter and
// is policy, not a constant: tight for stablecoins, looser for volatile
// currencies.
func (r *Resolver) CheckAllocation(usdValue, aggregatedRaisedUSD float64, currency types.Currency, network types.Network) (types.AllocationResult, error) {
	stage, err := r.ActiveStage()
	if err != nil {
		return types.AllocationResult{}, err
	}

	remaining := stage.CapUSD - aggregatedRaisedUSD
	if remaining < 0 {
		remaining = 0
	}

	tolerance := usdValue * r.toleranceFor(currency, network)
	exceedsBy := usdValue - remaining

	return types.AllocationResult{
		Valid:               usdValue <= remaining+tolerance,
		RemainingAllocation: remaining,
		ExceedsBy:           exceedsBy,
	}, nil
}

// MaxPurchase returns the largest amount of the currency that fits both the
// stage's remaining allocation and the wallet balance
func (r *Resolver) MaxPurchase(ctx context.Context, network types.Network, currency types.Currency, aggregatedRaisedUSD, walletBalance float64) (float64, error) {
	stage, err := r.ActiveStage()
	if err != nil {
		return 0, err
	}

	remaining := stage.CapUSD - aggregatedRaisedUSD
	if remaining <= 0 {
		return 0, nil
	}

	price := r.CurrencyPriceUSD(ctx, network, currency)
	if price <= 0 {
		return 0, fmt.Errorf("no price available for %s", currency)
	}

	maxFromStage := remaining / price
	if walletBalance < maxFromStage {
		return walletBalance, nil
	}
	return maxFromStage, nil
}

func (r *Resolver) toleranceFor(currency types.Currency, network types.Network) float64 {
	if IsNative(network, currency) {
		return r.volatileTolerance
	}
	return r.stableTolerance
}
