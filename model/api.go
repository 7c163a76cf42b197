package model

import (
	"time"
)

// LogPage is the paginated response returned by GET /api/logs.
type LogPage struct {
	Logs  []LogEntry `json:"logs"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Pages int        `json:"pages"`
}

// RequestPage is the paginated response returned by GET /api/requests.
type RequestPage struct {
	Requests []RequestEntry `json:"requests"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
	Pages    int            `json:"pages"`
}

// Stats holds the summary statistics for the dashboard header cards.
type Stats struct {
	TotalEntries    int `json:"total_entries"`
	ErrorsLast24h   int `json:"errors_last_24h"`
	WarningsLast24h int `json:"warnings_last_24h"`
	// QueueLength is always 0 for direct-write backends.
	QueueLength   int        `json:"queue_length"`
	StreamLength  int        `json:"stream_length"`
	OldestEntryTs *time.Time `json:"oldest_entry_ts,omitempty"`
	NewestEntryTs *time.Time `json:"newest_entry_ts,omitempty"`
}

// RequestStats summarises the request-tracking ring buffer.
type RequestStats struct {
	TotalStored       int    `json:"total_stored"`
	RingBufferSize    int    `json:"ring_buffer_size"`
	RequestsLastHour  int    `json:"requests_last_hour"`
	ErrorsLastHour    int    `json:"errors_last_hour"`
	AvgDurationMs     int64  `json:"avg_duration_ms,omitempty"`
	SlowestEndpoint   string `json:"slowest_endpoint,omitempty"`
	SlowestDurationMs int64  `json:"slowest_duration_ms,omitempty"`
}

// EndpointMetric is a computed per-endpoint view from the in-memory aggregator.
type EndpointMetric struct {
	Endpoint     string  `json:"endpoint"`
	Count        int64   `json:"count"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs int64   `json:"avg_latency_ms"`
	P95LatencyMs int64   `json:"p95_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
}

// MetricsSnapshot is returned by GET /api/metrics.
type MetricsSnapshot struct {
	Endpoints     []EndpointMetric `json:"endpoints"`
	TotalRequests int64            `json:"total_requests"`
	TotalErrors   int64            `json:"total_errors"`
	AtCapacity    bool             `json:"at_capacity"`
	MaxEndpoints  int              `json:"max_endpoints"`
}

// StorageActionResult is returned by the storage maintenance endpoints.
type StorageActionResult struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// StorageOverview is a runtime snapshot of the active storage backend.
// Backend-specific fields are zero for the other backends.
type StorageOverview struct {
	Backend        string `json:"backend"`
	Connected      bool   `json:"connected"`
	Error          string `json:"error,omitempty"`
	MaxEntries     int    `json:"max_entries"`
	RetentionHours int    `json:"retention_hours"`
	RowCount       int    `json:"row_count,omitempty"`

	// Redis
	QueueDepth   int `json:"queue_depth,omitempty"`
	StreamLength int `json:"stream_length,omitempty"`

	// PostgreSQL
	ServerVersion string `json:"server_version,omitempty"`
	PoolSize      int    `json:"pool_size,omitempty"`
	PoolIdle      int    `json:"pool_idle,omitempty"`
	DSN           string `json:"dsn,omitempty"`

	// SQLite
	DBPath        string `json:"db_path,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	WALActive     bool   `json:"wal_active,omitempty"`
}

// HealthReport is returned by the public GET /health probe.
//
// Status values:
//   - "ok"       — storage reachable and worker running.
//   - "degraded" — worker stopped but storage ok, or vice-versa.
//   - "down"     — storage unreachable.
type HealthReport struct {
	Status            string `json:"status"`
	StorageBackend    string `json:"storage_backend"`
	Storage           string `json:"storage"`
	StorageError      string `json:"storage_error,omitempty"`
	WorkerRunning     bool   `json:"worker_running"`
	WorkerFlushCycles int64  `json:"worker_flush_cycles"`
	QueueSize         int    `json:"queue_size"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}
