package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/analytics/correlation"
	"github.com/aristath/vantage/internal/analytics/exposure"
	"github.com/aristath/vantage/internal/analytics/snapshot"
	"github.com/aristath/vantage/internal/analytics/stress"
	"github.com/aristath/vantage/internal/analytics/valuation"
	"github.com/aristath/vantage/internal/batch"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/portfolio"
	testingpkg "github.com/aristath/vantage/internal/testing"
)

// stubEngine is a minimal batch engine for routing tests.
type stubEngine struct {
	name     string
	critical bool
	execute  func(ctx context.Context, portfolioID, date string) (analytics.Result, error)
}

func (e *stubEngine) Name() string   { return e.name }
func (e *stubEngine) Critical() bool { return e.critical }
func (e *stubEngine) Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
	if e.execute != nil {
		return e.execute(ctx, portfolioID, date)
	}
	return analytics.Complete(nil, nil, nil, analytics.StorageOutcome{}, analytics.DataQuality{}), nil
}

type testServer struct {
	srv       *Server
	positions *portfolio.PositionRepository
	exposures *exposure.Repository
	tracker   *batch.Tracker
}

func newTestServer(t *testing.T, engines []batch.Engine) (*testServer, func()) {
	t.Helper()

	schema := portfolio.Schema + exposure.Schema + correlation.Schema +
		stress.Schema + valuation.Schema + snapshot.Schema
	analyticsDB, cleanupAnalytics := testingpkg.NewTestDB(t, "analytics", schema)
	cacheDB, cleanupCache := testingpkg.NewTestDB(t, "marketcache", "")

	log := zerolog.Nop()
	positions := portfolio.NewPositionRepository(analyticsDB.Conn(), log)
	exposures := exposure.NewRepository(analyticsDB.Conn(), log)
	correlations := correlation.NewRepository(analyticsDB.Conn(), log)
	stressRepo := stress.NewRepository(analyticsDB.Conn(), log)
	valuations := valuation.NewRepository(analyticsDB.Conn(), log)
	snapshots := snapshot.NewRepository(analyticsDB.Conn(), log)

	tracker := batch.NewTracker()
	eventManager := events.NewManager(log)
	orchestrator := batch.NewOrchestrator(tracker, positions, engines, eventManager, 5*time.Second, log)

	srv := New(Config{
		Log:          log,
		Port:         0,
		DevMode:      true,
		DataDir:      t.TempDir(),
		AnalyticsDB:  analyticsDB,
		CacheDB:      cacheDB,
		Positions:    positions,
		Exposures:    exposures,
		Correlations: correlations,
		Stress:       stressRepo,
		Valuations:   valuations,
		Snapshots:    snapshots,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Events:       eventManager,
	})

	cleanup := func() {
		cleanupAnalytics()
		cleanupCache()
	}
	return &testServer{srv: srv, positions: positions, exposures: exposures, tracker: tracker}, cleanup
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/system/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSystemStatusReportsDatabases(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/system/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	databases := data["databases"].([]interface{})
	require.Len(t, databases, 2)
}

func TestExposuresNotComputed(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	require.NoError(t, testingpkg.SeedPositions(ts.positions.Upsert,
		testingpkg.PublicPosition("p1", "AAPL", 1000),
	))

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/analytics/p1/exposures?date=2024-06-28", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["available"])
	assert.NotEmpty(t, data["reason"])
	require.Contains(t, data, "data_quality")
}

func TestExposuresAvailableAfterStore(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	require.NoError(t, testingpkg.SeedPositions(ts.positions.Upsert,
		testingpkg.PublicPosition("p1", "AAPL", 1000),
	))

	result := analytics.Complete(
		map[string]float64{"market": 1.1},
		map[string]map[string]float64{"AAPL": {"market": 1.1}},
		nil,
		analytics.StorageOutcome{},
		analytics.DataQuality{Flag: analytics.FlagOK, PositionsAnalyzed: 1, PositionsTotal: 1, DataDays: 120},
	)
	_, err := ts.exposures.StoreResult("p1", "2024-06-28", result)
	require.NoError(t, err)

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/analytics/p1/exposures?date=2024-06-28", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["available"])
	betas := data["factor_betas"].(map[string]interface{})
	assert.InDelta(t, 1.1, betas["market"].(float64), 1e-9)

	quality := data["data_quality"].(map[string]interface{})
	assert.Equal(t, float64(120), quality["data_days"])
}

func TestCorrelationsNotComputed(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/analytics/p1/correlations", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["available"])
}

func TestTriggerRunLifecycle(t *testing.T) {
	engine := &stubEngine{name: "price_sync", critical: true}
	ts, cleanup := newTestServer(t, []batch.Engine{engine})
	defer cleanup()

	require.NoError(t, testingpkg.SeedPositions(ts.positions.Upsert,
		testingpkg.PublicPosition("p1", "AAPL", 1000),
	))

	rec, body := doRequest(t, ts.srv.Router(), http.MethodPost, "/api/batch/run", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", body["status"])
	assert.NotEmpty(t, body["run_id"])

	require.Eventually(t, func() bool {
		status, ok := ts.tracker.Snapshot()
		return ok && status.Status == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	rec, body = doRequest(t, ts.srv.Router(), http.MethodGet, "/api/batch/run/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
}

func TestTriggerRunConflict(t *testing.T) {
	release := make(chan struct{})
	engine := &stubEngine{
		name:     "price_sync",
		critical: true,
		execute: func(ctx context.Context, portfolioID, date string) (analytics.Result, error) {
			<-release
			return analytics.Complete(nil, nil, nil, analytics.StorageOutcome{}, analytics.DataQuality{}), nil
		},
	}
	ts, cleanup := newTestServer(t, []batch.Engine{engine})
	defer cleanup()
	defer close(release)

	require.NoError(t, testingpkg.SeedPositions(ts.positions.Upsert,
		testingpkg.PublicPosition("p1", "AAPL", 1000),
	))

	rec, first := doRequest(t, ts.srv.Router(), http.MethodPost, "/api/batch/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, second := doRequest(t, ts.srv.Router(), http.MethodPost, "/api/batch/run", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", second["status"])
	assert.Nil(t, second["run_id"])
	assert.Equal(t, first["run_id"], second["active_run_id"])
}

func TestTriggerRunRejectsBadJSON(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, _ := doRequest(t, ts.srv.Router(), http.MethodPost, "/api/batch/run", []byte("{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCurrentRunIdleBeforeAnyRun(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, body := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/batch/run/current", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["status"])
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	ts, cleanup := newTestServer(t, nil)
	defer cleanup()

	rec, _ := doRequest(t, ts.srv.Router(), http.MethodGet, "/api/analytics/p1/history?limit=nope", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
