package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goflare/flare/internal/metrics"
	"github.com/goflare/flare/internal/storage"
	"github.com/goflare/flare/internal/worker"
	"github.com/goflare/flare/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubStore serves canned data and records admin calls.
type stubStore struct {
	logs     []model.LogEntry
	total    int
	lastQ    storage.LogQuery
	stats    model.Stats
	healthy  bool
	healthEr string
	depth    int
	flushed  bool
	forced   bool
	cleared  bool
	settings map[string]map[string]any
	failWith error
}

func newStubStore() *stubStore {
	return &stubStore{healthy: true, settings: make(map[string]map[string]any)}
}

func (s *stubStore) Enqueue(context.Context, *model.LogEntry)            {}
func (s *stubStore) EnqueueRequest(context.Context, *model.RequestEntry) {}

func (s *stubStore) Flush(_ context.Context, force bool) error {
	s.flushed = true
	s.forced = force
	return s.failWith
}
func (s *stubStore) Close() error { return nil }

func (s *stubStore) ListLogs(_ context.Context, q storage.LogQuery) ([]model.LogEntry, int, error) {
	s.lastQ = q
	return s.logs, s.total, s.failWith
}

func (s *stubStore) ListRequests(context.Context, storage.RequestQuery) ([]model.RequestEntry, int, error) {
	return nil, 0, s.failWith
}

func (s *stubStore) Stats(context.Context) (model.Stats, error) { return s.stats, s.failWith }
func (s *stubStore) RequestStats(context.Context) (model.RequestStats, error) {
	return model.RequestStats{RingBufferSize: 10}, s.failWith
}

func (s *stubStore) Health(context.Context) (bool, string, int) {
	return s.healthy, s.healthEr, s.depth
}

func (s *stubStore) Clear(context.Context) (bool, string) {
	s.cleared = true
	return true, "Deleted 3 key(s)"
}

func (s *stubStore) Overview(context.Context) model.StorageOverview {
	return model.StorageOverview{Backend: "redis", Connected: true}
}

func (s *stubStore) GetSettings(_ context.Context, key string) (map[string]any, error) {
	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return map[string]any{}, nil
}

func (s *stubStore) SaveSettings(_ context.Context, key string, value map[string]any) error {
	s.settings[key] = value
	return nil
}

type fixture struct {
	engine *gin.Engine
	store  *stubStore
	worker *worker.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newStubStore()
	agg := metrics.NewAggregator(10)
	w := worker.New(store, time.Hour)
	h := New(store, agg, w, "redis")

	engine := gin.New()
	engine.GET("/health", h.Health)
	api := engine.Group("/flare/api")
	api.GET("/logs", h.ListLogs)
	api.GET("/stats", h.Stats)
	api.GET("/requests", h.ListRequests)
	api.GET("/request-stats", h.RequestStats)
	api.GET("/metrics", h.Metrics)
	api.POST("/metrics/reset", h.ResetMetrics)
	api.POST("/storage/trim", h.TrimStorage)
	api.POST("/storage/clear", h.ClearStorage)
	api.GET("/storage/overview", h.StorageOverview)
	api.GET("/settings/:key", h.GetSettings)
	api.PUT("/settings/:key", h.SaveSettings)

	return &fixture{engine: engine, store: store, worker: w}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestListLogsPagination(t *testing.T) {
	f := newFixture(t)
	f.store.logs = []model.LogEntry{{Message: "a"}, {Message: "b"}}
	f.store.total = 12

	rec := f.do("GET", "/flare/api/logs?page=2&limit=5&level=error&search=db", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page model.LogPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Logs, 2)

	// Query params reached the store; level is uppercased.
	assert.Equal(t, "ERROR", f.store.lastQ.Level)
	assert.Equal(t, "db", f.store.lastQ.Search)
}

func TestListLogsDefaultsAndClamps(t *testing.T) {
	f := newFixture(t)

	f.do("GET", "/flare/api/logs", "")
	assert.Equal(t, 1, f.store.lastQ.Page)
	assert.Equal(t, 50, f.store.lastQ.Limit)

	f.do("GET", "/flare/api/logs?limit=100000&page=-3", "")
	assert.Equal(t, 1, f.store.lastQ.Page)
	assert.Equal(t, 200, f.store.lastQ.Limit)
}

func TestListLogsStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failWith = errors.New("redis unreachable")

	rec := f.do("GET", "/flare/api/logs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis unreachable")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.store.stats = model.Stats{TotalEntries: 9, ErrorsLast24h: 4}

	rec := f.do("GET", "/flare/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 9, stats.TotalEntries)
	assert.Equal(t, 4, stats.ErrorsLast24h)
}

func TestMetricsSnapshotEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/flare/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 10, snap.MaxEndpoints)
	assert.False(t, snap.AtCapacity)
}

func TestTrimForcesFlush(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/flare/api/storage/trim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.flushed)
	assert.True(t, f.store.forced)
}

func TestTrimReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failWith = errors.New("disk full")

	rec := f.do("POST", "/flare/api/storage/trim", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result model.StorageActionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.OK)
	assert.Equal(t, "disk full", result.Detail)
}

func TestClear(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/flare/api/storage/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.cleared)
	assert.Contains(t, rec.Body.String(), "Deleted 3 key(s)")
}

func TestStorageOverview(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/flare/api/storage/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"redis"`)
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do("PUT", "/flare/api/settings/dashboard", `{"theme":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/flare/api/settings/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"theme":"dark"}`, rec.Body.String())
}

func TestSettingsRejectsNonObjectBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do("PUT", "/flare/api/settings/dashboard", `"just a string"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthOK(t *testing.T) {
	f := newFixture(t)
	f.worker.Start()
	defer f.worker.Stop(context.Background())

	rec := f.do("GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report model.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "redis", report.StorageBackend)
	assert.True(t, report.WorkerRunning)
}

func TestHealthDegradedWhenWorkerStopped(t *testing.T) {
	f := newFixture(t) // worker never started

	rec := f.do("GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report model.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)
	assert.False(t, report.WorkerRunning)
}

func TestHealthDownWhenStorageUnreachable(t *testing.T) {
	f := newFixture(t)
	f.worker.Start()
	defer f.worker.Stop(context.Background())
	f.store.healthy = false
	f.store.healthEr = "connection refused"

	rec := f.do("GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report model.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "down", report.Status)
	assert.Equal(t, "connection refused", report.StorageError)
}
