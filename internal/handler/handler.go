// Package handler implements the dashboard JSON API and the health probe.
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goflare/flare/internal/metrics"
	"github.com/goflare/flare/internal/storage"
	"github.com/goflare/flare/internal/worker"
	"github.com/goflare/flare/model"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type Handler struct {
	store   storage.Store
	agg     *metrics.Aggregator
	worker  *worker.Worker
	backend string
}

func New(store storage.Store, agg *metrics.Aggregator, w *worker.Worker, backend string) *Handler {
	return &Handler{store: store, agg: agg, worker: w, backend: backend}
}

// ── Logs ────────────────────────────────────────────────────────────────────

func (h *Handler) ListLogs(c *gin.Context) {
	page, limit := pageParams(c)
	q := storage.LogQuery{
		Page:   page,
		Limit:  limit,
		Level:  strings.ToUpper(c.Query("level")),
		Event:  c.Query("event"),
		Search: c.Query("search"),
	}

	logs, total, err := h.store.ListLogs(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.LogPage{
		Logs:  logs,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: pageCount(total, limit),
	})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ── Requests ────────────────────────────────────────────────────────────────

func (h *Handler) ListRequests(c *gin.Context) {
	page, limit := pageParams(c)
	q := storage.RequestQuery{
		Page:   page,
		Limit:  limit,
		Method: c.Query("method"),
		Path:   c.Query("path"),
	}
	if raw := c.Query("status_code"); raw != "" {
		q.StatusCode, _ = strconv.Atoi(raw)
	}
	if raw := c.Query("min_duration_ms"); raw != "" {
		q.MinDurationMs, _ = strconv.ParseInt(raw, 10, 64)
	}

	requests, total, err := h.store.ListRequests(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.RequestPage{
		Requests: requests,
		Total:    total,
		Page:     page,
		Limit:    limit,
		Pages:    pageCount(total, limit),
	})
}

func (h *Handler) RequestStats(c *gin.Context) {
	stats, err := h.store.RequestStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ── Metrics ─────────────────────────────────────────────────────────────────

func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, model.MetricsSnapshot{
		Endpoints:     h.agg.Snapshot(),
		TotalRequests: h.agg.TotalRequests(),
		TotalErrors:   h.agg.TotalErrors(),
		AtCapacity:    h.agg.AtCapacity(),
		MaxEndpoints:  h.agg.MaxEndpoints(),
	})
}

func (h *Handler) ResetMetrics(c *gin.Context) {
	h.agg.Reset()
	c.JSON(http.StatusOK, model.StorageActionResult{OK: true, Action: "metrics_reset"})
}

// ── Storage admin ───────────────────────────────────────────────────────────

// TrimStorage forces an immediate flush + retention pass, bypassing the
// backend's internal throttle.
func (h *Handler) TrimStorage(c *gin.Context) {
	if err := h.store.Flush(c.Request.Context(), true); err != nil {
		c.JSON(http.StatusServiceUnavailable, model.StorageActionResult{
			OK: false, Action: "trim", Detail: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, model.StorageActionResult{OK: true, Action: "trim"})
}

func (h *Handler) ClearStorage(c *gin.Context) {
	ok, detail := h.store.Clear(c.Request.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, model.StorageActionResult{OK: ok, Action: "clear", Detail: detail})
}

func (h *Handler) StorageOverview(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Overview(c.Request.Context()))
}

// ── Settings ────────────────────────────────────────────────────────────────

func (h *Handler) GetSettings(c *gin.Context) {
	value, err := h.store.GetSettings(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, value)
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var value map[string]any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "body must be a JSON object"})
		return
	}
	if err := h.store.SaveSettings(c.Request.Context(), c.Param("key"), value); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── Health ──────────────────────────────────────────────────────────────────

// Health reports storage reachability and worker liveness.
// Storage down → "down"; one of the two unhealthy → "degraded".
func (h *Handler) Health(c *gin.Context) {
	storageOK, storageErr, queueDepth := h.store.Health(c.Request.Context())
	workerRunning := h.worker.Running()

	report := model.HealthReport{
		StorageBackend:    h.backend,
		WorkerRunning:     workerRunning,
		WorkerFlushCycles: h.worker.FlushCycles(),
		QueueSize:         queueDepth,
		UptimeSeconds:     int64(h.worker.Uptime().Seconds()),
	}

	switch {
	case !storageOK:
		report.Status = "down"
		report.Storage = "unreachable"
		report.StorageError = storageErr
	case !workerRunning:
		report.Status = "degraded"
		report.Storage = "ok"
	default:
		report.Status = "ok"
		report.Storage = "ok"
	}

	status := http.StatusOK
	if report.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func pageCount(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
