// Package flare is an embeddable error and request observability layer for
// gin applications: it captures failed requests (and optionally all requests)
// into pluggable storage, aggregates per-endpoint metrics in memory, fires
// alert notifiers with cooldown, and serves a JSON dashboard API.
package flare

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goflare/flare/internal/alerting"
	"github.com/goflare/flare/internal/capture"
	"github.com/goflare/flare/internal/handler"
	"github.com/goflare/flare/internal/metrics"
	"github.com/goflare/flare/internal/middleware"
	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/internal/storage"
	"github.com/goflare/flare/internal/worker"
	"github.com/goflare/flare/model"
)

// Flare holds the wired subsystems for one application. Obtain it from Setup
// and call Shutdown during graceful termination.
type Flare struct {
	cfg *Config

	store      storage.Store
	pipeline   *capture.Pipeline
	aggregator *metrics.Aggregator
	worker     *worker.Worker
	hub        *handler.Hub
}

// Setup installs the observability layer on engine: capture middlewares on
// every route, the dashboard API under cfg.DashboardPath, the public /health
// probe, and the background retention worker (started immediately).
//
// A nil cfg uses DefaultConfig. Middlewares registered after Setup run inside
// the capture wrapping and are observed like any handler.
func Setup(engine *gin.Engine, cfg *Config) (*Flare, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)

	store, err := storage.New(storage.Options{
		Backend:           cfg.StorageBackend,
		MaxEntries:        cfg.MaxEntries,
		RetentionHours:    cfg.RetentionHours,
		RetentionInterval: cfg.RetentionCheckInterval,
		RequestMaxEntries: cfg.RequestMaxEntries,
		TrackRequests:     cfg.TrackRequests,
		BatchSize:         cfg.WorkerBatchSize,
		RedisAddr:         cfg.Redis.Addr,
		RedisPassword:     cfg.Redis.Password,
		RedisDB:           cfg.Redis.DB,
		RedisURL:          cfg.Redis.URL,
		QueueKey:          cfg.Redis.QueueKey,
		StreamKey:         cfg.Redis.StreamKey,
		SQLitePath:        cfg.SQLite.Path,
		PostgresDSN:       cfg.Postgres.DSN,
		TablePrefix:       cfg.Postgres.TablePrefix,
		MaxOpenConns:      cfg.Postgres.MaxOpenConns,
		MaxIdleConns:      cfg.Postgres.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	aggregator := metrics.NewAggregator(cfg.MetricsMaxEndpoints)
	scheduler := alerting.NewScheduler(cfg.Notifiers, model.Level(cfg.AlertMinLevel), cfg.AlertCooldown)
	sanitizer := capture.NewSanitizer(cfg.SensitiveFields)
	pipeline := capture.NewPipeline(store, sanitizer, scheduler)

	hub := handler.NewHub()
	pipeline.SetBroadcaster(hub)

	w := worker.New(store, cfg.WorkerInterval)
	w.Start()

	// The dashboard's own traffic is not captured; it would feed back into
	// itself (every poll of /api/logs becoming a tracked request).
	skipDashboard := func(h gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, cfg.DashboardPath+"/") || c.Request.URL.Path == cfg.DashboardPath {
				c.Next()
				return
			}
			h(c)
		}
	}
	engine.Use(
		middleware.RequestID(cfg.MaxRequestBodyBytes),
		skipDashboard(middleware.Metrics(aggregator, pipeline, middleware.TrackingOptions{
			TrackRequests:  cfg.TrackRequests,
			Track2xx:       cfg.Track2xx,
			CaptureHeaders: cfg.CaptureHeaders,
		})),
		skipDashboard(middleware.ErrorCapture(pipeline)),
	)

	h := handler.New(store, aggregator, w, cfg.StorageBackend)
	engine.GET("/health", h.Health)

	api := engine.Group(cfg.DashboardPath + "/api")
	api.Use(
		middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst).Handler(),
		middleware.DashboardAuth(cfg.DashboardToken),
	)
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
	api.GET("/live", hub.ServeLive)

	logger.Info("flare installed",
		"backend", cfg.StorageBackend,
		"dashboard", cfg.DashboardPath,
		"track_requests", cfg.TrackRequests,
	)

	return &Flare{
		cfg:        cfg,
		store:      store,
		pipeline:   pipeline,
		aggregator: aggregator,
		worker:     w,
		hub:        hub,
	}, nil
}

// Push records an application-level entry outside the HTTP capture path
// (background jobs, startup checks). Invalid levels are dropped silently,
// matching the middleware behavior.
func (f *Flare) Push(ctx context.Context, level model.Level, event model.Event, message string, fields map[string]any) {
	f.pipeline.Push(ctx, capture.Params{
		Level:   level,
		Event:   event,
		Message: message,
		Context: fields,
	})
}

// Shutdown stops the retention worker (waiting for the in-flight cycle),
// forces a final flush and closes the storage backend.
func (f *Flare) Shutdown(ctx context.Context) {
	f.worker.Stop(ctx)
}

// LiveClients reports connected live-feed websocket clients.
func (f *Flare) LiveClients() int {
	return f.hub.ClientCount()
}
