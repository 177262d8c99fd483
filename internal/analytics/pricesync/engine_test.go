package pricesync

import (
	"context"
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

var testEnd = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func TestExecuteSyncsEligibleSymbolsAndProxies(t *testing.T) {
	positions := testingpkg.NewMockPositionSource()
	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "AAPL", 1000),
		testingpkg.PrivatePosition("p1", "SEED-A", 5000),
	})

	prices := testingpkg.NewMockPriceProvider()
	prices.SetSeries(testingpkg.DailySeries("AAPL", testEnd, 120, func(i int) float64 { return 100 + float64(i) }))
	for _, proxy := range analytics.FactorProxies() {
		prices.SetSeries(testingpkg.FlatSeries(proxy.Symbol, testEnd, 120, 50))
	}

	engine := NewEngine(positions, prices, 150, zerolog.Nop())

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)

	require.False(t, result.Skipped)
	wantTotal := 1 + len(analytics.FactorProxies())
	assert.Equal(t, wantTotal, result.Quality.PositionsTotal)
	assert.Equal(t, wantTotal, result.Quality.PositionsAnalyzed)
	assert.Equal(t, 120, result.Quality.DataDays)

	// The private position's symbol is never requested.
	assert.Equal(t, 0, prices.Calls("SEED-A"))
	assert.Equal(t, 1, prices.Calls("AAPL"))
}

func TestExecuteFailsOnFetchError(t *testing.T) {
	positions := testingpkg.NewMockPositionSource()
	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "AAPL", 1000),
	})

	prices := testingpkg.NewMockPriceProvider()
	prices.SetError("AAPL", assert.AnError)

	engine := NewEngine(positions, prices, 150, zerolog.Nop())

	_, err := engine.Execute(context.Background(), "p1", testDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price sync failed on AAPL")
}

func TestExecuteTreatsEmptySeriesAsNormal(t *testing.T) {
	positions := testingpkg.NewMockPositionSource()
	positions.SetPositions("p1", []domain.Position{
		testingpkg.PublicPosition("p1", "OBSCURE", 1000),
	})

	// No series registered anywhere: every fetch returns empty without error.
	prices := testingpkg.NewMockPriceProvider()

	engine := NewEngine(positions, prices, 150, zerolog.Nop())

	result, err := engine.Execute(context.Background(), "p1", testDate)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Quality.PositionsAnalyzed)
	assert.Equal(t, 0, result.Quality.DataDays)
}

func TestExecuteRejectsInvalidDate(t *testing.T) {
	positions := testingpkg.NewMockPositionSource()
	prices := testingpkg.NewMockPriceProvider()
	engine := NewEngine(positions, prices, 150, zerolog.Nop())

	_, err := engine.Execute(context.Background(), "p1", "junk")
	require.Error(t, err)
}
