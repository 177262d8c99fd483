package analytics

import "sort"

// Scenario is a named set of factor shocks, e.g. "market -10%". Shocks are
// fractional moves applied to the portfolio's dollar exposure per factor.
type Scenario struct {
	Category string             `json:"category"`
	Name     string             `json:"name"`
	Shocks   map[string]float64 `json:"shocks"`
}

// stressScenarios is the fixed scenario catalog.
var stressScenarios = []Scenario{
	{Category: "equity", Name: "market_correction", Shocks: map[string]float64{FactorMarket: -0.10}},
	{Category: "equity", Name: "market_crash", Shocks: map[string]float64{FactorMarket: -0.25, FactorLowVolatility: -0.10}},
	{Category: "equity", Name: "small_cap_selloff", Shocks: map[string]float64{FactorSize: -0.15, FactorMarket: -0.05}},
	{Category: "rotation", Name: "growth_to_value", Shocks: map[string]float64{FactorGrowth: -0.12, FactorValue: 0.08}},
	{Category: "rotation", Name: "momentum_unwind", Shocks: map[string]float64{FactorMomentum: -0.15}},
	{Category: "rotation", Name: "quality_flight", Shocks: map[string]float64{FactorQuality: 0.08, FactorMarket: -0.08}},
	{Category: "volatility", Name: "vol_spike", Shocks: map[string]float64{FactorLowVolatility: 0.05, FactorMarket: -0.12}},
	{Category: "volatility", Name: "calm_grind_up", Shocks: map[string]float64{FactorMarket: 0.05, FactorLowVolatility: 0.03}},
}

// Scenarios returns the stress scenario catalog sorted by (category, name)
// ascending, so presentation order is deterministic.
func Scenarios() []Scenario {
	out := make([]Scenario, len(stressScenarios))
	copy(out, stressScenarios)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
