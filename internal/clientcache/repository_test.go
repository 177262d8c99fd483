package clientcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/vantage/internal/testing"
)

type cachedPayload struct {
	Symbol string
	Values []float64
}

func newRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "clientcache", Schema)
	return NewRepository(db.Conn()), cleanup
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	payload := cachedPayload{Symbol: "AAPL", Values: []float64{100, 101}}
	require.NoError(t, repo.Store("price_history", "AAPL:2024", payload, time.Hour))

	var got cachedPayload
	hit, err := repo.GetIfFresh("price_history", "AAPL:2024", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, payload, got)
}

func TestGetIfFreshSkipsExpired(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	require.NoError(t, repo.Store("price_history", "k", cachedPayload{Symbol: "X"}, -time.Minute))

	var got cachedPayload
	hit, err := repo.GetIfFresh("price_history", "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	// The stale read still finds it.
	hit, err = repo.Get("price_history", "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "X", got.Symbol)
}

func TestGetMissingKey(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	var got cachedPayload
	hit, err := repo.Get("price_history", "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStoreUpsertsOnKey(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	require.NoError(t, repo.Store("current_prices", "AAPL", cachedPayload{Symbol: "old"}, time.Hour))
	require.NoError(t, repo.Store("current_prices", "AAPL", cachedPayload{Symbol: "new"}, time.Hour))

	var got cachedPayload
	hit, err := repo.GetIfFresh("current_prices", "AAPL", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "new", got.Symbol)
}

func TestRejectsUnknownTable(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	err := repo.Store("positions; DROP TABLE", "k", cachedPayload{}, time.Hour)
	require.Error(t, err)

	_, err = repo.Get("nope", "k", &cachedPayload{})
	require.Error(t, err)
}

func TestPurgeExpired(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	require.NoError(t, repo.Store("price_history", "stale", cachedPayload{}, -time.Minute))
	require.NoError(t, repo.Store("price_history", "fresh", cachedPayload{}, time.Hour))
	require.NoError(t, repo.Store("current_prices", "stale", cachedPayload{}, -time.Minute))

	purged, err := repo.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	var got cachedPayload
	hit, err := repo.Get("price_history", "fresh", &got)
	require.NoError(t, err)
	assert.True(t, hit)
}
