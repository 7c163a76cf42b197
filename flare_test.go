package flare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goflare/flare/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestSetup(t *testing.T, mutate func(*Config)) (*gin.Engine, *Flare) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "flare.db")
	cfg.WorkerInterval = 50 * time.Millisecond
	cfg.RetentionCheckInterval = 0
	if mutate != nil {
		mutate(cfg)
	}

	engine := gin.New()
	f, err := Setup(engine, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.Shutdown(ctx)
	})
	return engine, f
}

func do(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestSetupCapturesFailedRequestEndToEnd(t *testing.T) {
	engine, _ := newTestSetup(t, nil)
	engine.GET("/explode", func(c *gin.Context) {
		panic("kaboom")
	})

	rec := do(engine, "GET", "/explode")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal server error"}`, rec.Body.String())

	rec = do(engine, "GET", "/flare/api/logs")
	require.Equal(t, http.StatusOK, rec.Code)

	var page model.LogPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	entry := page.Logs[0]
	assert.Equal(t, model.LevelError, entry.Level)
	assert.Equal(t, model.EventUnhandledException, entry.Event)
	assert.Equal(t, "/explode", entry.Endpoint)
	assert.NotEmpty(t, entry.StackTrace)
}

func TestSetupDashboardTrafficNotCaptured(t *testing.T) {
	engine, _ := newTestSetup(t, nil)

	// Polling the dashboard API must not create entries or metrics of itself.
	do(engine, "GET", "/flare/api/stats")
	do(engine, "GET", "/flare/api/logs")

	rec := do(engine, "GET", "/flare/api/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(0), snap.TotalRequests)
}

func TestSetupHealthEndpoint(t *testing.T) {
	engine, _ := newTestSetup(t, nil)

	rec := do(engine, "GET", "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var report model.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "sqlite", report.StorageBackend)
	assert.True(t, report.WorkerRunning)
}

func TestSetupDashboardTokenGuardsAPI(t *testing.T) {
	engine, _ := newTestSetup(t, func(cfg *Config) {
		cfg.DashboardToken = "s3cret"
	})

	rec := do(engine, "GET", "/flare/api/stats")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/flare/api/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	auth := httptest.NewRecorder()
	engine.ServeHTTP(auth, req)
	assert.Equal(t, http.StatusOK, auth.Code)

	// /health stays public.
	rec = do(engine, "GET", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	engine := gin.New()
	cfg := DefaultConfig()
	cfg.StorageBackend = "carrier-pigeon"

	_, err := Setup(engine, cfg)
	assert.Error(t, err)
}

func TestSetupTracksRequestsWhenEnabled(t *testing.T) {
	engine, _ := newTestSetup(t, func(cfg *Config) {
		cfg.TrackRequests = true
	})
	engine.GET("/fail", func(c *gin.Context) {
		c.JSON(http.StatusBadGateway, gin.H{"detail": "upstream"})
	})

	do(engine, "GET", "/fail")

	rec := do(engine, "GET", "/flare/api/requests")
	require.Equal(t, http.StatusOK, rec.Code)

	var page model.RequestPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "/fail", page.Requests[0].Path)
	assert.Equal(t, http.StatusBadGateway, page.Requests[0].StatusCode)
	assert.NotEmpty(t, page.Requests[0].ErrorID)
}

func TestPushRecordsApplicationEntry(t *testing.T) {
	engine, f := newTestSetup(t, nil)

	f.Push(context.Background(), model.LevelWarning, model.EventHTTPException,
		"nightly job degraded", map[string]any{"job": "sync", "api_key": "k-123"})

	rec := do(engine, "GET", "/flare/api/logs")
	var page model.LogPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "nightly job degraded", page.Logs[0].Message)
	assert.Equal(t, "***REDACTED***", page.Logs[0].Context["api_key"])
	assert.Equal(t, "sync", page.Logs[0].Context["job"])
}
