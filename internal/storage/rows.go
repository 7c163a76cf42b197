package storage

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/goflare/flare/model"
)

// logRow is the scan target shared by the SQLite and PostgreSQL backends.
// Both use the same column set; nested values (context, request_body,
// request_headers) are stored as JSON text / JSONB.
type logRow struct {
	ID          int64          `db:"id"`
	Timestamp   time.Time      `db:"timestamp"`
	Level       string         `db:"level"`
	Event       string         `db:"event"`
	Message     string         `db:"message"`
	RequestID   sql.NullString `db:"request_id"`
	Endpoint    sql.NullString `db:"endpoint"`
	HTTPMethod  sql.NullString `db:"http_method"`
	HTTPStatus  sql.NullInt64  `db:"http_status"`
	IPAddress   sql.NullString `db:"ip_address"`
	DurationMs  sql.NullInt64  `db:"duration_ms"`
	Error       sql.NullString `db:"error"`
	StackTrace  sql.NullString `db:"stack_trace"`
	Context     sql.NullString `db:"context"`
	RequestBody sql.NullString `db:"request_body"`
}

func (r logRow) toModel() model.LogEntry {
	entry := model.LogEntry{
		ID:         strconv.FormatInt(r.ID, 10),
		Timestamp:  r.Timestamp.UTC(),
		Level:      model.Level(r.Level),
		Event:      model.Event(r.Event),
		Message:    r.Message,
		RequestID:  r.RequestID.String,
		Endpoint:   r.Endpoint.String,
		HTTPMethod: r.HTTPMethod.String,
		HTTPStatus: int(r.HTTPStatus.Int64),
		IPAddress:  r.IPAddress.String,
		DurationMs: r.DurationMs.Int64,
		Error:      r.Error.String,
		StackTrace: r.StackTrace.String,
	}
	if r.Context.Valid && r.Context.String != "" {
		var ctx map[string]any
		if err := json.Unmarshal([]byte(r.Context.String), &ctx); err == nil {
			entry.Context = ctx
		}
	}
	if r.RequestBody.Valid && r.RequestBody.String != "" {
		var body any
		if err := json.Unmarshal([]byte(r.RequestBody.String), &body); err == nil {
			entry.RequestBody = body
		} else {
			entry.RequestBody = r.RequestBody.String
		}
	}
	return entry
}

type requestRow struct {
	ID             int64          `db:"id"`
	Timestamp      time.Time      `db:"timestamp"`
	Method         string         `db:"method"`
	Path           string         `db:"path"`
	StatusCode     int            `db:"status_code"`
	DurationMs     sql.NullInt64  `db:"duration_ms"`
	RequestID      sql.NullString `db:"request_id"`
	IPAddress      sql.NullString `db:"ip_address"`
	UserAgent      sql.NullString `db:"user_agent"`
	RequestHeaders sql.NullString `db:"request_headers"`
	RequestBody    sql.NullString `db:"request_body"`
	ErrorID        sql.NullString `db:"error_id"`
}

func (r requestRow) toModel() model.RequestEntry {
	entry := model.RequestEntry{
		ID:         strconv.FormatInt(r.ID, 10),
		Timestamp:  r.Timestamp.UTC(),
		Method:     r.Method,
		Path:       r.Path,
		StatusCode: r.StatusCode,
		DurationMs: r.DurationMs.Int64,
		RequestID:  r.RequestID.String,
		IPAddress:  r.IPAddress.String,
		UserAgent:  r.UserAgent.String,
		ErrorID:    r.ErrorID.String,
	}
	if r.RequestHeaders.Valid && r.RequestHeaders.String != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(r.RequestHeaders.String), &headers); err == nil {
			entry.RequestHeaders = headers
		}
	}
	if r.RequestBody.Valid && r.RequestBody.String != "" {
		var body any
		if err := json.Unmarshal([]byte(r.RequestBody.String), &body); err == nil {
			entry.RequestBody = body
		} else {
			entry.RequestBody = r.RequestBody.String
		}
	}
	return entry
}

// logInsertArgs maps an entry to named insert parameters. Empty optional
// fields become NULL; nested values are JSON-encoded.
func logInsertArgs(entry *model.LogEntry) map[string]any {
	return map[string]any{
		"timestamp":    entry.Timestamp.UTC(),
		"level":        string(entry.Level),
		"event":        string(entry.Event),
		"message":      entry.Message,
		"request_id":   nullString(entry.RequestID),
		"endpoint":     nullString(entry.Endpoint),
		"http_method":  nullString(entry.HTTPMethod),
		"http_status":  nullInt(entry.HTTPStatus),
		"ip_address":   nullString(entry.IPAddress),
		"duration_ms":  nullInt64(entry.DurationMs),
		"error":        nullString(entry.Error),
		"stack_trace":  nullString(entry.StackTrace),
		"context":      nullJSON(entry.Context),
		"request_body": nullJSON(entry.RequestBody),
	}
}

func requestInsertArgs(entry *model.RequestEntry) map[string]any {
	var headers any
	if entry.RequestHeaders != nil {
		headers = entry.RequestHeaders
	}
	return map[string]any{
		"timestamp":       entry.Timestamp.UTC(),
		"method":          entry.Method,
		"path":            entry.Path,
		"status_code":     entry.StatusCode,
		"duration_ms":     nullInt64(entry.DurationMs),
		"request_id":      nullString(entry.RequestID),
		"ip_address":      nullString(entry.IPAddress),
		"user_agent":      nullString(entry.UserAgent),
		"request_headers": nullJSON(headers),
		"request_body":    nullJSON(entry.RequestBody),
		"error_id":        nullString(entry.ErrorID),
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullJSON(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
