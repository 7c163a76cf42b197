// Package storage defines the Store contract that all backends satisfy and
// the factory that instantiates the configured one.
//
// Rules:
//   - The dashboard handlers speak only to Store.
//   - The capture pipeline speaks only to Store.
//   - The retention worker speaks only to Store.
//
// Enqueue and EnqueueRequest must never fail the caller: a storage outage
// never impacts application users. Every other method may return an error and
// the caller handles it.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goflare/flare/model"
)

// LogQuery filters and paginates ListLogs. Page starts at 1.
type LogQuery struct {
	Page   int
	Limit  int
	Level  string
	Event  string
	Search string // substring over message + error
}

// RequestQuery filters and paginates ListRequests.
type RequestQuery struct {
	Page          int
	Limit         int
	Method        string
	StatusCode    int // 0 = no filter
	Path          string
	MinDurationMs int64
}

// Store is the contract for all storage backends.
type Store interface {
	// Write path (request-side; fire-and-forget, never fails the caller).
	Enqueue(ctx context.Context, entry *model.LogEntry)
	EnqueueRequest(ctx context.Context, entry *model.RequestEntry)

	// Maintenance (worker-side).
	// Flush drains any write buffer and applies retention (age cutoff +
	// count cap). Backends may throttle the retention part internally;
	// force bypasses that throttle (used by the trim-now admin action).
	Flush(ctx context.Context, force bool) error
	Close() error

	// Read path (dashboard-side), newest-first.
	ListLogs(ctx context.Context, q LogQuery) ([]model.LogEntry, int, error)
	ListRequests(ctx context.Context, q RequestQuery) ([]model.RequestEntry, int, error)
	Stats(ctx context.Context) (model.Stats, error)
	RequestStats(ctx context.Context) (model.RequestStats, error)

	// Introspection and admin.
	Health(ctx context.Context) (ok bool, errMsg string, queueDepth int)
	Clear(ctx context.Context) (bool, string)
	Overview(ctx context.Context) model.StorageOverview

	// Small key-value store for backend-hosted UI preferences.
	GetSettings(ctx context.Context, key string) (map[string]any, error)
	SaveSettings(ctx context.Context, key string, value map[string]any) error
}

// Options carries the backend-independent knobs every store needs plus the
// coordinates of each concrete backend; the factory picks what it uses.
type Options struct {
	Backend string // "redis" | "sqlite" | "postgres"

	MaxEntries        int
	RetentionHours    int
	RetentionInterval time.Duration // throttle for the DELETE step; 0 = every flush
	RequestMaxEntries int
	TrackRequests     bool
	BatchSize         int // buffered backend drain batch

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisURL      string
	QueueKey      string
	StreamKey     string

	// SQLite
	SQLitePath string

	// Postgres
	PostgresDSN  string
	TablePrefix  string
	MaxOpenConns int
	MaxIdleConns int
}

// New instantiates the backend named in opts.Backend.
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "redis":
		return NewRedisStore(opts), nil
	case "sqlite":
		return NewSQLiteStore(opts), nil
	case "postgres":
		return NewPostgresStore(opts)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: redis, sqlite, postgres)", opts.Backend)
	}
}

func pageBounds(page, limit, total int) (offset, end int) {
	if page < 1 {
		page = 1
	}
	offset = (page - 1) * limit
	if offset > total {
		offset = total
	}
	end = offset + limit
	if end > total {
		end = total
	}
	return offset, end
}
