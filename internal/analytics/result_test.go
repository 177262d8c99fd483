package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topLevelKeys returns the sorted top-level key set of a JSON-serialized value.
func topLevelKeys(t *testing.T, v interface{}) map[string]bool {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))

	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return keys
}

func TestCompleteAndSkippedExposeIdenticalKeySets(t *testing.T) {
	complete := Complete(
		map[string]float64{FactorMarket: 1.02},
		map[string]map[string]float64{"AAPL": {FactorMarket: 1.1}},
		map[string]RegressionStats{"AAPL": {RSquared: 0.8, Observations: 120}},
		StorageOutcome{PositionRows: 1, PortfolioRows: 1},
		DataQuality{Flag: FlagOK, PositionsAnalyzed: 1, PositionsTotal: 1, DataDays: 120},
	)
	skipped := Skipped(FlagNoPublicPositions, "no public positions", 3)

	assert.Equal(t, topLevelKeys(t, complete), topLevelKeys(t, skipped))
	assert.Equal(t, topLevelKeys(t, complete.Quality), topLevelKeys(t, skipped.Quality))
}

func TestSkippedSerializesEmptyMapsNotNull(t *testing.T) {
	data, err := json.Marshal(Skipped(FlagNoPublicPositions, "", 2))
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))

	// Maps must serialize as {} - a null would crash shape-dependent consumers.
	assert.JSONEq(t, `{}`, string(m["factor_betas"]))
	assert.JSONEq(t, `{}`, string(m["position_betas"]))
	assert.JSONEq(t, `{}`, string(m["regression_stats"]))
}

func TestSkippedCounts(t *testing.T) {
	r := Skipped(FlagNoPublicPositions, "all private", 5)

	assert.True(t, r.Skipped)
	assert.Equal(t, 0, r.Quality.PositionsAnalyzed)
	assert.Equal(t, 5, r.Quality.PositionsTotal)
	assert.Equal(t, 5, r.Quality.PositionsSkipped)
	assert.Equal(t, 0, r.Quality.DataDays)
	assert.Equal(t, FlagNoPublicPositions, r.Quality.Flag)
}

func TestCompleteDefendsAgainstNilMaps(t *testing.T) {
	r := Complete(nil, nil, nil, StorageOutcome{}, DataQuality{})

	assert.NotNil(t, r.FactorBetas)
	assert.NotNil(t, r.PositionBetas)
	assert.NotNil(t, r.RegressionStats)
	assert.Equal(t, FlagOK, r.Quality.Flag)
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	inputs := []string{"aapl", " SPY ", "Brk.B", "private  equity  fund", "", "AAPL240621C00190000"}
	for _, in := range inputs {
		once := NormalizeSymbol(in)
		assert.Equal(t, once, NormalizeSymbol(once), in)
	}
}

func TestNormalizeIDIdempotent(t *testing.T) {
	inputs := []string{"Main", " RETIREMENT ", "p-001", ""}
	for _, in := range inputs {
		once := NormalizeID(in)
		assert.Equal(t, once, NormalizeID(once), in)
	}
}

func TestNormalizeSymbolCollapsesFormVariants(t *testing.T) {
	assert.Equal(t, NormalizeSymbol("aapl"), NormalizeSymbol(" AAPL "))
	assert.Equal(t, NormalizeSymbol("PE  FUND III"), NormalizeSymbol("pe fund iii"))
}

func TestScenariosSortedByCategoryThenName(t *testing.T) {
	scenarios := Scenarios()
	require.NotEmpty(t, scenarios)

	for i := 1; i < len(scenarios); i++ {
		prev, cur := scenarios[i-1], scenarios[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.Name, cur.Name)
		} else {
			assert.Less(t, prev.Category, cur.Category)
		}
	}
}

func TestFactorCatalogCoversAllScenarioShocks(t *testing.T) {
	known := make(map[string]bool)
	for _, name := range FactorNames() {
		known[name] = true
	}

	for _, sc := range Scenarios() {
		for factor := range sc.Shocks {
			assert.True(t, known[factor], "scenario %s/%s shocks unknown factor %s", sc.Category, sc.Name, factor)
		}
	}
}
