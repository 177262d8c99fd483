package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/clientcache"
	"github.com/aristath/vantage/internal/domain"
	testingpkg "github.com/aristath/vantage/internal/testing"
)

var (
	testFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testTo   = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
)

func newTestCache(t *testing.T) (*clientcache.Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "marketcache", clientcache.Schema)
	return clientcache.NewRepository(db.Conn()), cleanup
}

func historyResponse(symbol string, closes ...float64) apiHistoryResponse {
	resp := apiHistoryResponse{Symbol: symbol}
	day := testFrom
	for _, c := range closes {
		resp.Candles = append(resp.Candles, apiCandle{Date: day.Format("2006-01-02"), Close: c})
		day = day.AddDate(0, 0, 1)
	}
	return resp
}

func TestGetDailyHistoryFetchesAndCaches(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/history/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(historyResponse("AAPL", 100, 101, 102))
	}))
	defer api.Close()

	client := NewClient(api.URL, "test-key", cache, zerolog.Nop())

	series, err := client.GetDailyHistory(context.Background(), "aapl", testFrom, testTo)
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())
	assert.Equal(t, "AAPL", series.Symbol)

	// Second call is served from cache.
	series, err = client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.NoError(t, err)
	assert.Equal(t, 3, series.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetDailyHistoryUnknownSymbol(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	series, err := client.GetDailyHistory(context.Background(), "NOPE", testFrom, testTo)
	require.NoError(t, err)
	assert.Equal(t, 0, series.Len())
}

func TestGetDailyHistoryRetriesServerErrors(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(historyResponse("AAPL", 100, 101))
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	series, err := client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetDailyHistoryStaleFallback(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	var healthy atomic.Bool
	healthy.Store(true)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(historyResponse("AAPL", 100, 101))
	}))
	defer api.Close()

	client := NewClient(api.URL, "", cache, zerolog.Nop())

	_, err := client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.NoError(t, err)

	// Expire the fresh entry, then take the API down. The stale series must
	// still come back instead of an error.
	cacheKey := "AAPL:" + testFrom.Format("2006-01-02") + ":" + testTo.Format("2006-01-02")
	require.NoError(t, cache.Store("price_history", cacheKey, mustFetchCached(t, cache, cacheKey), -time.Hour))
	healthy.Store(false)

	series, err := client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
}

func TestGetDailyHistoryFailsWithoutCache(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	_, err := client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestGetDailyHistoryDropsNonPositiveCloses(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(historyResponse("AAPL", 100, 0, -5, 102))
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	series, err := client.GetDailyHistory(context.Background(), "AAPL", testFrom, testTo)
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
}

func TestGetCurrentPriceFetchesAndCaches(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/quote/AAPL", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(apiQuoteResponse{Symbol: "AAPL", Price: 187.5})
	}))
	defer api.Close()

	client := NewClient(api.URL, "test-key", cache, zerolog.Nop())

	price, found, err := client.GetCurrentPrice(context.Background(), "aapl")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 187.5, price, 1e-9)

	// Second call is served from cache.
	price, found, err = client.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 187.5, price, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetCurrentPriceUnknownSymbol(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	_, found, err := client.GetCurrentPrice(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetCurrentPriceStaleFallback(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	var healthy atomic.Bool
	healthy.Store(true)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(apiQuoteResponse{Symbol: "AAPL", Price: 187.5})
	}))
	defer api.Close()

	client := NewClient(api.URL, "", cache, zerolog.Nop())

	_, _, err := client.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)

	// Expire the fresh quote, then take the API down.
	require.NoError(t, cache.Store("current_prices", "AAPL", 187.5, -time.Hour))
	healthy.Store(false)

	price, found, err := client.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 187.5, price, 1e-9)
}

func TestGetCurrentPriceFailsWithoutCache(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	client := NewClient(api.URL, "", nil, zerolog.Nop())

	_, _, err := client.GetCurrentPrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func mustFetchCached(t *testing.T, cache *clientcache.Repository, key string) domain.PriceSeries {
	t.Helper()
	var cached domain.PriceSeries
	hit, err := cache.Get("price_history", key, &cached)
	require.NoError(t, err)
	require.True(t, hit)
	return cached
}
