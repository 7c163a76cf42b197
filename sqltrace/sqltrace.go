// Package sqltrace correlates database queries with the HTTP request that
// issued them. Register wraps an already-registered database/sql driver so
// every statement executed through it records its SQL text, duration and the
// request id carried in the query's context.
//
// Usage:
//
//	driverName, err := sqltrace.Register("pgx")
//	db, err := sqlx.Open(driverName, dsn)
//
// Handlers that pass c.Request.Context() into their queries get them tagged
// automatically; Queries(ctx) returns everything that ran so far within the
// same request, so slow or failing queries can be tied back to the request
// id visible in the captured entry.
package sqltrace

import (
	"context"
	"sync"
	"time"
)

// Query is one recorded statement.
type Query struct {
	SQL        string `json:"sql"`
	DurationMs int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
}

type ctxKey int

const (
	queryLogKey ctxKey = iota
	requestIDKey
)

// queryLog accumulates the statements of one request. The pointer is shared
// through the context so concurrent queries within a request append safely.
type queryLog struct {
	mu      sync.Mutex
	queries []Query
}

// WithRequestID tags ctx with the request id attached to recorded queries.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithQueryLog attaches a fresh query log to ctx. Without one, traced
// queries still execute but nothing is recorded.
func WithQueryLog(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryLogKey, &queryLog{})
}

// Queries returns a copy of the statements recorded so far in ctx's request.
// Empty outside a request context or before the first query.
func Queries(ctx context.Context) []Query {
	log, _ := ctx.Value(queryLogKey).(*queryLog)
	if log == nil {
		return nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	out := make([]Query, len(log.queries))
	copy(out, log.queries)
	return out
}

func record(ctx context.Context, stmt string, elapsed time.Duration) {
	log, _ := ctx.Value(queryLogKey).(*queryLog)
	if log == nil {
		return
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	log.queries = append(log.queries, Query{
		SQL:        stmt,
		DurationMs: elapsed.Milliseconds(),
		RequestID:  RequestID(ctx),
	})
}
