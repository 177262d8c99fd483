package snapshot

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/analytics/valuation"
	testingpkg "github.com/aristath/vantage/internal/testing"
)

func newTestEngine(t *testing.T) (*Engine, *valuation.Repository, *Repository, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "snapshot", Schema+valuation.Schema)
	valuationRepo := valuation.NewRepository(db.Conn(), zerolog.Nop())
	repo := NewRepository(db.Conn(), zerolog.Nop())
	engine := NewEngine(valuationRepo, repo, zerolog.Nop())
	return engine, valuationRepo, repo, cleanup
}

func TestExecuteCopiesValuationIntoHistory(t *testing.T) {
	engine, valuationRepo, repo, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := valuationRepo.StoreValuation(valuation.Valuation{
		PortfolioID:   "p1",
		Date:          "2024-06-28",
		TotalValue:    1500,
		PublicValue:   1000,
		PrivateValue:  500,
		PositionCount: 3,
		PublicCount:   2,
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), "p1", "2024-06-28")
	require.NoError(t, err)
	require.False(t, result.Skipped)
	assert.Equal(t, 1, result.Storage.PortfolioRows)

	// Analyzed counts only the public sleeve, never private holdings.
	assert.Equal(t, 2, result.Quality.PositionsAnalyzed)
	assert.Equal(t, 3, result.Quality.PositionsTotal)
	assert.Equal(t, 1, result.Quality.PositionsSkipped)

	history, err := repo.GetHistory("p1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 1500.0, history[0].TotalValue, 1e-9)
	assert.Equal(t, 3, history[0].PositionCount)
}

func TestExecuteQualityCountsOnlyPublicPositions(t *testing.T) {
	engine, valuationRepo, _, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := valuationRepo.StoreValuation(valuation.Valuation{
		PortfolioID:   "p1",
		Date:          "2024-06-28",
		TotalValue:    1000,
		PublicValue:   600,
		PrivateValue:  400,
		PositionCount: 2,
		PublicCount:   1,
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), "p1", "2024-06-28")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Quality.PositionsAnalyzed)
	assert.Equal(t, 2, result.Quality.PositionsTotal)
	assert.Equal(t, 1, result.Quality.PositionsSkipped)
}

func TestExecuteFailsWithoutValuation(t *testing.T) {
	engine, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := engine.Execute(context.Background(), "p1", "2024-06-28")
	assert.Error(t, err)
}

func TestGetHistoryOrderedAndCapped(t *testing.T) {
	engine, valuationRepo, repo, cleanup := newTestEngine(t)
	defer cleanup()

	for _, date := range []string{"2024-06-27", "2024-06-26", "2024-06-28"} {
		_, err := valuationRepo.StoreValuation(valuation.Valuation{
			PortfolioID: "p1", Date: date, TotalValue: 100, PositionCount: 1,
		})
		require.NoError(t, err)
		_, err = engine.Execute(context.Background(), "p1", date)
		require.NoError(t, err)
	}

	history, err := repo.GetHistory("p1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-06-26", history[0].Date)
	assert.Equal(t, "2024-06-27", history[1].Date)
}
