package correlation

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
	testingpkg "github.com/aristath/vantage/internal/testing"
)

const testDate = "2024-06-28"

func randomWalk(symbol string, end time.Time, n int, seed int64) domain.PriceSeries {
	rng := rand.New(rand.NewSource(seed))
	price := 100.0
	return testingpkg.DailySeries(symbol, end, n, func(i int) float64 {
		if i > 0 {
			price *= 1 + (rng.Float64()-0.5)*0.04
		}
		return price
	})
}

func scaledFrom(base domain.PriceSeries, symbol string, multiplier float64) domain.PriceSeries {
	out := domain.PriceSeries{Symbol: symbol}
	price := 50.0
	for i := range base.Points {
		if i > 0 {
			r := base.Points[i].Close/base.Points[i-1].Close - 1
			price *= 1 + multiplier*r
		}
		out.Points = append(out.Points, domain.PricePoint{Date: base.Points[i].Date, Close: price})
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *testingpkg.MockPositionSource, *testingpkg.MockPriceProvider, *Repository, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "correlation", Schema)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	positions := testingpkg.NewMockPositionSource()
	prices := testingpkg.NewMockPriceProvider()
	engine := NewEngine(positions, prices, repo, 150, 30, zerolog.Nop())
	return engine, positions, prices, repo, cleanup
}

func TestExecuteComputesPerfectCorrelationAndScore(t *testing.T) {
	engine, positions, prices, repo, cleanup := newTestEngine(t)
	defer cleanup()

	end, _ := time.Parse("2006-01-02", testDate)
	base := randomWalk("AAPL", end, 120, 7)
	prices.SetSeries(base)
	prices.SetSeries(scaledFrom(base, "AAPL2X", 2.0))

	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "AAPL", 500),
		testingpkg.PublicPosition("p1", "AAPL2X", 500),
	})

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	require.False(t, result.Skipped)
	assert.Equal(t, 2, result.Quality.PositionsAnalyzed)

	pairs, err := repo.GetPairs("p1", testDate)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "AAPL", pairs[0].SymbolA)
	assert.Equal(t, "AAPL2X", pairs[0].SymbolB)
	assert.InDelta(t, 1.0, pairs[0].Correlation, 1e-9)

	// Equal weights, |corr| = 1: score = 1 - 2*(0.5*0.5*1) = 0.5.
	score, quality, found, err := repo.GetDiversification("p1", testDate)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.5, score, 1e-9)
	assert.Equal(t, analytics.FlagOK, quality.Flag)
}

func TestExecuteAntiCorrelationPenalizesEqually(t *testing.T) {
	engine, positions, prices, repo, cleanup := newTestEngine(t)
	defer cleanup()

	end, _ := time.Parse("2006-01-02", testDate)
	base := randomWalk("LONG", end, 120, 11)
	prices.SetSeries(base)
	prices.SetSeries(scaledFrom(base, "SHORT", -1.0))

	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "LONG", 500),
		testingpkg.PublicPosition("p1", "SHORT", 500),
	})

	_, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	pairs, err := repo.GetPairs("p1", testDate)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.InDelta(t, -1.0, pairs[0].Correlation, 1e-9)

	// Diversification uses |corr|: hedges are still concentration.
	score, _, found, err := repo.GetDiversification("p1", testDate)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestExecuteSkipsWithSingleUsablePosition(t *testing.T) {
	engine, positions, prices, repo, cleanup := newTestEngine(t)
	defer cleanup()

	end, _ := time.Parse("2006-01-02", testDate)
	prices.SetSeries(randomWalk("AAPL", end, 120, 3))
	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "AAPL", 500),
		testingpkg.PrivatePosition("p1", "PE FUND III", 500),
	})

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	// One public position exists, so "no_public_positions" would be a lie;
	// what is missing is anything to pair it with.
	assert.True(t, result.Skipped)
	assert.Equal(t, analytics.FlagNoPriceOverlap, result.Quality.Flag)
	assert.Equal(t, 2, result.Quality.PositionsTotal)

	// The skip leaves a quality row but no score and no pairs.
	_, quality, complete, err := repo.GetDiversification("p1", testDate)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, analytics.FlagNoPriceOverlap, quality.Flag)

	pairs, err := repo.GetPairs("p1", testDate)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestExecuteSkipsWhenNoPairOverlaps(t *testing.T) {
	engine, positions, prices, repo, cleanup := newTestEngine(t)
	defer cleanup()

	end, _ := time.Parse("2006-01-02", testDate)
	// Disjoint windows: one recent, one ancient.
	prices.SetSeries(randomWalk("RECENT", end, 40, 5))
	prices.SetSeries(randomWalk("ANCIENT", end.AddDate(0, 0, -120), 40, 6))

	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "RECENT", 500),
		testingpkg.PublicPosition("p1", "ANCIENT", 500),
	})

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, analytics.FlagNoPriceOverlap, result.Quality.Flag)

	_, quality, complete, err := repo.GetDiversification("p1", testDate)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, analytics.FlagNoPriceOverlap, quality.Flag)
}

func TestExecuteAllPrivateSkips(t *testing.T) {
	engine, positions, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	positions.SetPositions("p1", []domain.Position{
		testingpkg.PrivatePosition("p1", "PE FUND III", 500),
		testingpkg.PrivatePosition("p1", "RENTAL PROPERTY A", 500),
	})

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, analytics.FlagNoPublicPositions, result.Quality.Flag)
	assert.Equal(t, 0, result.Quality.PositionsAnalyzed)
	assert.Equal(t, 2, result.Quality.PositionsSkipped)
}
