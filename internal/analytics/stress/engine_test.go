package stress

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/exposure"
	"github.com/aristath/vantage/internal/analytics/valuation"
	testingpkg "github.com/aristath/vantage/internal/testing"
)

const testDate = "2024-06-28"

func newTestEngine(t *testing.T) (*Engine, *exposure.Repository, *valuation.Repository, *Repository, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "stress", Schema+exposure.Schema+valuation.Schema)
	exposureRepo := exposure.NewRepository(db.Conn(), zerolog.Nop())
	valuationRepo := valuation.NewRepository(db.Conn(), zerolog.Nop())
	repo := NewRepository(db.Conn(), zerolog.Nop())
	engine := NewEngine(exposureRepo, valuationRepo, repo, zerolog.Nop())
	return engine, exposureRepo, valuationRepo, repo, cleanup
}

func seedExposures(t *testing.T, repo *exposure.Repository, betas map[string]float64) {
	t.Helper()

	result := analytics.Complete(
		betas,
		map[string]map[string]float64{"AAPL": betas},
		map[string]analytics.RegressionStats{"AAPL": {RSquared: 0.9, Observations: 100}},
		analytics.StorageOutcome{},
		analytics.DataQuality{Flag: analytics.FlagOK, PositionsAnalyzed: 1, PositionsTotal: 1, DataDays: 100},
	)
	_, err := repo.StoreResult("p1", testDate, result)
	require.NoError(t, err)
}

func seedValuation(t *testing.T, repo *valuation.Repository, publicValue float64) {
	t.Helper()

	_, err := repo.StoreValuation(valuation.Valuation{
		PortfolioID:   "p1",
		Date:          testDate,
		TotalValue:    publicValue,
		PublicValue:   publicValue,
		PositionCount: 1,
		PublicCount:   1,
	})
	require.NoError(t, err)
}

func TestExecuteAppliesShocksToDollarExposures(t *testing.T) {
	engine, exposureRepo, valuationRepo, repo, cleanup := newTestEngine(t)
	defer cleanup()

	seedExposures(t, exposureRepo, map[string]float64{analytics.FactorMarket: 1.0})
	seedValuation(t, valuationRepo, 1000)

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)
	require.False(t, result.Skipped)

	impacts, err := repo.GetImpacts("p1", testDate)
	require.NoError(t, err)
	require.Len(t, impacts, len(analytics.Scenarios()))

	byName := make(map[string]Impact, len(impacts))
	for _, impact := range impacts {
		byName[impact.Name] = impact
	}

	// market beta 1.0, public value 1000: a -10% market shock costs 100.
	correction := byName["market_correction"]
	assert.InDelta(t, -100.0, correction.ImpactAmount, 1e-9)
	assert.InDelta(t, -0.10, correction.ImpactPct, 1e-9)

	// Factors without a stored beta contribute nothing.
	unwind := byName["momentum_unwind"]
	assert.InDelta(t, 0.0, unwind.ImpactAmount, 1e-9)
}

func TestExecuteImpactsOrderedByCategoryThenName(t *testing.T) {
	engine, exposureRepo, valuationRepo, repo, cleanup := newTestEngine(t)
	defer cleanup()

	seedExposures(t, exposureRepo, map[string]float64{analytics.FactorMarket: 0.8})
	seedValuation(t, valuationRepo, 500)

	_, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	impacts, err := repo.GetImpacts("p1", testDate)
	require.NoError(t, err)

	for i := 1; i < len(impacts); i++ {
		prev, cur := impacts[i-1], impacts[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.Name, cur.Name)
		} else {
			assert.Less(t, prev.Category, cur.Category)
		}
	}
}

func TestExecuteSkipsWithoutExposuresAndPersistsNothing(t *testing.T) {
	engine, _, valuationRepo, repo, cleanup := newTestEngine(t)
	defer cleanup()

	seedValuation(t, valuationRepo, 1000)

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, analytics.FlagNoFactorExposures, result.Quality.Flag)

	// A zero-impact row would misread as "no risk"; absence is the contract.
	impacts, err := repo.GetImpacts("p1", testDate)
	require.NoError(t, err)
	assert.Empty(t, impacts)
}

func TestExecuteSkipsWhenExposureRunWasSkipped(t *testing.T) {
	engine, exposureRepo, valuationRepo, _, cleanup := newTestEngine(t)
	defer cleanup()

	// The exposure engine recorded a skip: quality row exists, no betas.
	_, err := exposureRepo.StoreResult("p1", testDate,
		analytics.Skipped(analytics.FlagNoPublicPositions, "all private", 3))
	require.NoError(t, err)
	seedValuation(t, valuationRepo, 1000)

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, analytics.FlagNoFactorExposures, result.Quality.Flag)
	assert.Equal(t, 3, result.Quality.PositionsTotal)
}
