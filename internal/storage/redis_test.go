package storage

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goflare/flare/model"
)

func TestFlattenEntryOmitsEmptyFields(t *testing.T) {
	entry := &model.LogEntry{
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Level:     model.LevelError,
		Event:     model.EventUnhandledException,
		Message:   "boom",
	}

	fields := flattenEntry(entry)

	assert.Equal(t, "ERROR", fields["level"])
	assert.Equal(t, "unhandled_exception", fields["event"])
	assert.Equal(t, "boom", fields["message"])
	assert.NotContains(t, fields, "endpoint")
	assert.NotContains(t, fields, "http_status")
	assert.NotContains(t, fields, "context")
}

func TestFlattenParseLogRoundTrip(t *testing.T) {
	entry := &model.LogEntry{
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 123000000, time.UTC),
		Level:      model.LevelWarning,
		Event:      model.EventValidationError,
		Message:    "bad field",
		RequestID:  "req-1",
		Endpoint:   "/users",
		HTTPMethod: "POST",
		HTTPStatus: 422,
		IPAddress:  "10.0.0.1",
		DurationMs: 35,
		Error:      "field required",
		Context:    map[string]any{"field": "email"},
		RequestBody: map[string]any{
			"email": "not-an-email",
		},
	}

	msg := redis.XMessage{ID: "1754049600000-0", Values: flattenEntry(entry)}
	got := parseLogMessage(msg)

	assert.Equal(t, "1754049600000-0", got.ID)
	assert.Equal(t, entry.Timestamp, got.Timestamp)
	assert.Equal(t, entry.Level, got.Level)
	assert.Equal(t, entry.Event, got.Event)
	assert.Equal(t, entry.Message, got.Message)
	assert.Equal(t, entry.RequestID, got.RequestID)
	assert.Equal(t, entry.Endpoint, got.Endpoint)
	assert.Equal(t, entry.HTTPStatus, got.HTTPStatus)
	assert.Equal(t, entry.DurationMs, got.DurationMs)
	assert.Equal(t, map[string]any{"field": "email"}, got.Context)
	assert.Equal(t, map[string]any{"email": "not-an-email"}, got.RequestBody)
}

func TestParseLogMessageFallsBackToIDTimestamp(t *testing.T) {
	msg := redis.XMessage{
		ID: "1754049600000-0",
		Values: map[string]any{
			"level":   "ERROR",
			"event":   "http_exception",
			"message": "no timestamp field",
		},
	}

	got := parseLogMessage(msg)
	assert.Equal(t, time.UnixMilli(1754049600000).UTC(), got.Timestamp)
}

func TestEntryIDTime(t *testing.T) {
	assert.Equal(t, time.UnixMilli(1754049600000).UTC(), entryIDTime("1754049600000-7"))
	assert.True(t, entryIDTime("garbage").IsZero())
}

func TestFlattenParseRequestRoundTrip(t *testing.T) {
	entry := &model.RequestEntry{
		Timestamp:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Method:         "POST",
		Path:           "/login",
		StatusCode:     401,
		DurationMs:     12,
		RequestID:      "req-2",
		IPAddress:      "10.0.0.2",
		UserAgent:      "curl/8.0",
		RequestHeaders: map[string]string{"Accept": "*/*"},
		ErrorID:        "1754049600000-0",
	}

	msg := redis.XMessage{ID: "1754049600001-0", Values: flattenRequest(entry)}
	got := parseRequestMessage(msg)

	assert.Equal(t, entry.Method, got.Method)
	assert.Equal(t, entry.Path, got.Path)
	assert.Equal(t, entry.StatusCode, got.StatusCode)
	assert.Equal(t, entry.DurationMs, got.DurationMs)
	assert.Equal(t, entry.RequestHeaders, got.RequestHeaders)
	assert.Equal(t, entry.ErrorID, got.ErrorID)
}

func xmsg(level, event, message, errText string) redis.XMessage {
	return redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"event":     event,
			"message":   message,
			"error":     errText,
		},
	}
}

func TestFilterLogEntries(t *testing.T) {
	raw := []redis.XMessage{
		xmsg("ERROR", "http_exception", "db timeout", "context deadline"),
		xmsg("WARNING", "validation_error", "bad email", "field required"),
		xmsg("ERROR", "unhandled_exception", "panic in handler", "nil pointer"),
	}

	assert.Len(t, filterLogEntries(raw, LogQuery{}), 3)
	assert.Len(t, filterLogEntries(raw, LogQuery{Level: "ERROR"}), 2)
	assert.Len(t, filterLogEntries(raw, LogQuery{Event: "validation"}), 1)

	// Search covers message and error text, case-insensitively.
	assert.Len(t, filterLogEntries(raw, LogQuery{Search: "TIMEOUT"}), 1)
	assert.Len(t, filterLogEntries(raw, LogQuery{Search: "nil pointer"}), 1)
	assert.Empty(t, filterLogEntries(raw, LogQuery{Search: "absent"}))
}

func TestFilterRequestEntries(t *testing.T) {
	mk := func(method, path string, status int, dur int64) redis.XMessage {
		e := &model.RequestEntry{
			Timestamp: time.Now().UTC(), Method: method, Path: path,
			StatusCode: status, DurationMs: dur,
		}
		return redis.XMessage{ID: "1-0", Values: flattenRequest(e)}
	}
	raw := []redis.XMessage{
		mk("GET", "/users/1", 200, 5),
		mk("POST", "/users", 500, 120),
		mk("GET", "/orders", 404, 3),
	}

	assert.Len(t, filterRequestEntries(raw, RequestQuery{}), 3)
	assert.Len(t, filterRequestEntries(raw, RequestQuery{Method: "get"}), 2)
	assert.Len(t, filterRequestEntries(raw, RequestQuery{StatusCode: 500}), 1)
	assert.Len(t, filterRequestEntries(raw, RequestQuery{Path: "/users"}), 2)
	assert.Len(t, filterRequestEntries(raw, RequestQuery{MinDurationMs: 100}), 1)
}

func TestPageBounds(t *testing.T) {
	offset, end := pageBounds(1, 10, 25)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 10, end)

	offset, end = pageBounds(3, 10, 25)
	assert.Equal(t, 20, offset)
	assert.Equal(t, 25, end)

	offset, end = pageBounds(9, 10, 25)
	assert.Equal(t, 25, offset)
	assert.Equal(t, 25, end)

	offset, end = pageBounds(0, 10, 5)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 5, end)
}

func TestNewFactorySelectsBackend(t *testing.T) {
	store, err := New(Options{Backend: "redis", QueueKey: "q", StreamKey: "s"})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)

	store, err = New(Options{Backend: "sqlite", SQLitePath: "x.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)

	_, err = New(Options{Backend: "mongodb"})
	assert.Error(t, err)
}
