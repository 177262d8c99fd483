package analytics

// FactorProxy is a liquid tradable instrument standing in for a statistical
// risk factor. Its price series is fetched alongside position histories and
// used as a regressor in the factor exposure regression.
type FactorProxy struct {
	Factor string // canonical factor name
	Symbol string // ETF proxy symbol
}

// Factor names, in catalog order.
const (
	FactorMarket        = "market"
	FactorSize          = "size"
	FactorValue         = "value"
	FactorMomentum      = "momentum"
	FactorQuality       = "quality"
	FactorLowVolatility = "low_volatility"
	FactorGrowth        = "growth"
)

// factorProxies is the fixed catalog of factor proxy instruments.
var factorProxies = []FactorProxy{
	{Factor: FactorMarket, Symbol: "SPY"},
	{Factor: FactorSize, Symbol: "IWM"},
	{Factor: FactorValue, Symbol: "VTV"},
	{Factor: FactorMomentum, Symbol: "MTUM"},
	{Factor: FactorQuality, Symbol: "QUAL"},
	{Factor: FactorLowVolatility, Symbol: "USMV"},
	{Factor: FactorGrowth, Symbol: "VUG"},
}

// FactorProxies returns the factor proxy catalog in canonical order.
// The returned slice is a copy; callers may not mutate the catalog.
func FactorProxies() []FactorProxy {
	out := make([]FactorProxy, len(factorProxies))
	copy(out, factorProxies)
	return out
}

// FactorNames returns the canonical factor names in catalog order.
func FactorNames() []string {
	out := make([]string, len(factorProxies))
	for i, p := range factorProxies {
		out[i] = p.Factor
	}
	return out
}
