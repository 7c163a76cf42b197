package model

import (
	"time"
)

// Level classifies the severity of a captured log entry.
type Level string

const (
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Valid reports whether l is one of the two accepted levels.
// Anything else causes the capture pipeline to drop the entry.
func (l Level) Valid() bool {
	return l == LevelWarning || l == LevelError
}

// Severity returns the numeric ordering used by the alert scheduler
// (WARNING < ERROR).
func (l Level) Severity() int {
	if l == LevelError {
		return 1
	}
	return 0
}

// Event identifies how a log entry was captured.
type Event string

const (
	EventHTTPException      Event = "http_exception"
	EventValidationError    Event = "validation_error"
	EventUnhandledException Event = "unhandled_exception"
)

// LogEntry is one captured error/warning event.
//
// ID is the storage backend's native identifier: the Redis Stream entry ID
// for the stream backend, the autoincrement row id (as a string) for SQLite
// and PostgreSQL. IDs are monotonically orderable within a backend but not
// globally unique across backends.
type LogEntry struct {
	ID          string         `json:"id" db:"id"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
	Level       Level          `json:"level" db:"level"`
	Event       Event          `json:"event" db:"event"`
	Message     string         `json:"message" db:"message"`
	RequestID   string         `json:"request_id,omitempty" db:"request_id"`
	Endpoint    string         `json:"endpoint,omitempty" db:"endpoint"`
	HTTPMethod  string         `json:"http_method,omitempty" db:"http_method"`
	HTTPStatus  int            `json:"http_status,omitempty" db:"http_status"`
	IPAddress   string         `json:"ip_address,omitempty" db:"ip_address"`
	DurationMs  int64          `json:"duration_ms,omitempty" db:"duration_ms"`
	Error       string         `json:"error,omitempty" db:"error"`
	StackTrace  string         `json:"stack_trace,omitempty" db:"stack_trace"`
	Context     map[string]any `json:"context,omitempty" db:"-"`
	RequestBody any            `json:"request_body,omitempty" db:"-"`
}

// RequestEntry is one captured HTTP request (broader tracking mode).
// Stored in a bounded ring buffer — the oldest rows are deleted in the same
// transaction as the insert once the configured cap is exceeded.
type RequestEntry struct {
	ID             string            `json:"id" db:"id"`
	Timestamp      time.Time         `json:"timestamp" db:"timestamp"`
	Method         string            `json:"method" db:"method"`
	Path           string            `json:"path" db:"path"`
	StatusCode     int               `json:"status_code" db:"status_code"`
	DurationMs     int64             `json:"duration_ms,omitempty" db:"duration_ms"`
	RequestID      string            `json:"request_id,omitempty" db:"request_id"`
	IPAddress      string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      string            `json:"user_agent,omitempty" db:"user_agent"`
	RequestHeaders map[string]string `json:"request_headers,omitempty" db:"-"`
	RequestBody    any               `json:"request_body,omitempty" db:"-"`
	// ErrorID back-references the LogEntry captured for the same request_id.
	ErrorID string `json:"error_id,omitempty" db:"error_id"`
}
