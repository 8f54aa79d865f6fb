package pricing

import "github.com/presale-coordinator/internal/types"

// nativeCurrency maps each network to its gas-paying asset
var nativeCurrency = map[types.Network]types.PaymentMethod{
	types.NetworkEthereum:    {Symbol: types.CurrencyETH, Name: "Ethereum", Type: types.CurrencyNative},
	types.NetworkPolygon:     {Symbol: types.CurrencyPOL, Name: "Polygon", Type: types.CurrencyNative},
	types.NetworkPolygonAmoy: {Symbol: types.CurrencyPOL, Name: "Polygon", Type: types.CurrencyNative},
	types.NetworkBase:        {Symbol: types.CurrencyETH, Name: "Ethereum", Type: types.CurrencyNative},
	types.NetworkBSC:         {Symbol: types.CurrencyBNB, Name: "BNB", Type: types.CurrencyNative},
	types.NetworkBSCTestnet:  {Symbol: types.CurrencyBNB, Name: "BNB", Type: types.CurrencyNative},
	types.NetworkMoonbeam:    {Symbol: types.CurrencyGLMR, Name: "Glimmer", Type: types.CurrencyNative},
	types.NetworkMoonbase:    {Symbol: types.CurrencyDEV, Name: "Dev Token", Type: types.CurrencyNative},
	types.NetworkSolana:      {Symbol: types.CurrencySOL, Name: "Solana", Type: types.CurrencyNative},
	types.NetworkTron:        {Symbol: types.CurrencyTRX, Name: "Tron", Type: types.CurrencyNative},
}

var usdt = types.PaymentMethod{Symbol: types.CurrencyUSDT, Name: "Tether USD", Type: types.CurrencyStablecoin}
var usdc = types.PaymentMethod{Symbol: types.CurrencyUSDC, Name: "USD Coin", Type: types.CurrencyStablecoin}

// MethodsForNetwork returns the payment methods accepted on the network.
// Every network takes its native asset plus USDT; TRON has no USDC market
// on the presale contract so it is omitted there.
func MethodsForNetwork(network types.Network) []types.PaymentMethod {
	native, ok := nativeCurrency[network]
	if !ok {
		return nil
	}
	methods := []types.PaymentMethod{native, usdt}
	if network != types.NetworkTron {
		methods = append(methods, usdc)
	}
	return methods
}

// DefaultCurrency picks the pre-selected payment method for a network.
// Stablecoins are preferred so the default quote is dollar-denominated.
func DefaultCurrency(network types.Network) (types.Currency, bool) {
	methods := MethodsForNetwork(network)
	if len(methods) == 0 {
		return "", false
	}
	for _, m := range methods {
		if m.Symbol == types.CurrencyUSDT {
			return m.Symbol, true
		}
	}
	return methods[0].Symbol, true
}

// IsNative reports whether the currency is the network's gas-paying asset
func IsNative(network types.Network, currency types.Currency) bool {
	native, ok := nativeCurrency[network]
	return ok && native.Symbol == currency
}

// IsSupported reports whether the currency is accepted on the network
func IsSupported(network types.Network, currency types.Currency) bool {
	for _, m := range MethodsForNetwork(network) {
		if m.Symbol == currency {
			return true
		}
	}
	return false
}
