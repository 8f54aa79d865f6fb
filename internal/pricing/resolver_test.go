package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/types"
)

func testResolver(t *testing.T, oracle Oracle) *Resolver {
	t.Helper()
	r, err := NewResolver(&ResolverConfig{
		Stages: []types.Stage{
			{ID: 1, Name: "Stage 1", PriceUSD: 0.025, CapUSD: 100000},
			{ID: 2, Name: "Stage 2", PriceUSD: 0.03, CapUSD: 250000},
		},
		ActiveStageID: 1,
		Oracle:        oracle,
		FallbackUSD: map[types.Currency]float64{
			types.CurrencyETH:  3000,
			types.CurrencySOL:  150,
			types.CurrencyTRX:  0.25,
			types.CurrencyDEV:  0.10,
			types.CurrencyUSDT: 1,
			types.CurrencyUSDC: 1,
		},
	})
	require.NoError(t, err)
	return r
}

func TestQuoteStablecoin(t *testing.T) {
	r := testResolver(t, nil)

	quote, err := r.Quote(context.Background(), types.NetworkEthereum, types.CurrencyUSDT, "1000")
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, quote.USDValue, 1e-9)
	assert.InDelta(t, 40000.0, quote.TokenAmount, 1e-9)
}

func TestQuoteNativeWithFallbackPrice(t *testing.T) {
	r := testResolver(t, nil)

	quote, err := r.Quote(context.Background(), types.NetworkEthereum, types.CurrencyETH, "0.5")
	require.NoError(t, err)

	assert.InDelta(t, 1500.0, quote.USDValue, 1e-9)
	assert.InDelta(t, 60000.0, quote.TokenAmount, 1e-9)
}

func TestQuotePrefersOracle(t *testing.T) {
	r := testResolver(t, StaticOracle{types.CurrencyETH: 2500})

	quote, err := r.Quote(context.Background(), types.NetworkEthereum, types.CurrencyETH, "1")
	require.NoError(t, err)

	assert.InDelta(t, 2500.0, quote.USDValue, 1e-9)
}

func TestQuoteInvalidAmount(t *testing.T) {
	r := testResolver(t, nil)

	for _, amount := range []string{"", "abc", "0", "-5"} {
		_, err := r.Quote(context.Background(), types.NetworkEthereum, types.CurrencyUSDT, amount)
		assert.Error(t, err, "amount %q", amount)
	}
}

func TestCheckAllocation(t *testing.T) {
	r := testResolver(t, nil)

	tests := []struct {
		name      string
		usdValue  float64
		raised    float64
		currency  types.Currency
		wantValid bool
	}{
		{name: "exceeds remaining", usdValue: 150, raised: 99900, currency: types.CurrencyUSDT, wantValid: false},
		{name: "within remaining", usdValue: 50, raised: 99900, currency: types.CurrencyUSDT, wantValid: true},
		{name: "exactly remaining", usdValue: 100, raised: 99900, currency: types.CurrencyUSDT, wantValid: true},
		{name: "stage fully raised", usdValue: 1, raised: 100000, currency: types.CurrencyUSDT, wantValid: false},
		{name: "empty stage", usdValue: 99999, raised: 0, currency: types.CurrencyUSDT, wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.CheckAllocation(tt.usdValue, tt.raised, tt.currency, types.NetworkEthereum)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
		})
	}
}

func TestCheckAllocationRemainingAndExceedsBy(t *testing.T) {
	r := testResolver(t, nil)

	result, err := r.CheckAllocation(150, 99900, types.CurrencyUSDT, types.NetworkEthereum)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.InDelta(t, 100.0, result.RemainingAllocation, 1e-9)
	assert.InDelta(t, 50.0, result.ExceedsBy, 1e-9)
}

func TestCheckAllocationVolatileTolerance(t *testing.T) {
	// Native currency quotes get a 1% tolerance to absorb feed jitter:
	// $100.50 against $100 remaining passes for ETH but not for USDT.
	r := testResolver(t, nil)

	native, err := r.CheckAllocation(100.5, 99900, types.CurrencyETH, types.NetworkEthereum)
	require.NoError(t, err)
	assert.True(t, native.Valid)

	stable, err := r.CheckAllocation(100.5, 99900, types.CurrencyUSDT, types.NetworkEthereum)
	require.NoError(t, err)
	assert.False(t, stable.Valid)
}

func TestMaxPurchase(t *testing.T) {
	r := testResolver(t, nil)

	// remaining allocation $100, ETH at $3000: stage allows ~0.0333 ETH
	max, err := r.MaxPurchase(context.Background(), types.NetworkEthereum, types.CurrencyETH, 99900, 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3000.0, max, 1e-9)

	// wallet balance is the binding constraint
	max, err = r.MaxPurchase(context.Background(), types.NetworkEthereum, types.CurrencyUSDT, 0, 500)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, max, 1e-9)

	// sold-out stage
	max, err = r.MaxPurchase(context.Background(), types.NetworkEthereum, types.CurrencyUSDT, 100000, 500)
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestActiveStageNotConfigured(t *testing.T) {
	r, err := NewResolver(&ResolverConfig{
		Stages:        []types.Stage{{ID: 1, PriceUSD: 0.025, CapUSD: 100000}},
		ActiveStageID: 9,
	})
	require.NoError(t, err)

	_, err = r.Quote(context.Background(), types.NetworkEthereum, types.CurrencyUSDT, "100")
	assert.Error(t, err)
}

func TestMethodsForNetwork(t *testing.T) {
	eth := MethodsForNetwork(types.NetworkEthereum)
	require.Len(t, eth, 3)
	assert.Equal(t, types.CurrencyETH, eth[0].Symbol)
	assert.Equal(t, types.CurrencyNative, eth[0].Type)

	tron := MethodsForNetwork(types.NetworkTron)
	require.Len(t, tron, 2)
	for _, m := range tron {
		assert.NotEqual(t, types.CurrencyUSDC, m.Symbol)
	}

	assert.Nil(t, MethodsForNetwork(types.Network("unknown")))
}

func TestDefaultCurrencyPrefersUSDT(t *testing.T) {
	currency, ok := DefaultCurrency(types.NetworkSolana)
	require.True(t, ok)
	assert.Equal(t, types.CurrencyUSDT, currency)

	_, ok = DefaultCurrency(types.Network("unknown"))
	assert.False(t, ok)
}

func TestIsNative(t *testing.T) {
	assert.True(t, IsNative(types.NetworkSolana, types.CurrencySOL))
	assert.True(t, IsNative(types.NetworkBSC, types.CurrencyBNB))
	assert.False(t, IsNative(types.NetworkEthereum, types.CurrencyUSDT))
	assert.False(t, IsNative(types.Network("unknown"), types.CurrencyETH))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(types.NetworkEthereum, types.CurrencyUSDC))
	assert.False(t, IsSupported(types.NetworkTron, types.CurrencyUSDC))
	assert.True(t, IsSupported(types.NetworkTron, types.CurrencyTRX))
}
