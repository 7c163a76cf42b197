package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/internal/pkg/prom"
	"github.com/goflare/flare/model"
	"github.com/redis/go-redis/v9"
)

// redisFailureTTL short-circuits reconnect attempts after a failed dial so an
// unreachable Redis is not re-dialed on every single request.
const redisFailureTTL = 30 * time.Second

const settingsHashSuffix = ":settings"

// RedisStore implements Store on two Redis structures:
//
//   - List (QueueKey)    — write buffer (LPUSH / RPOP)
//   - Stream (StreamKey) — durable ordered log (XADD / XREVRANGE)
//
// Enqueue is an O(1) list push; the retention worker drains the list into the
// stream on every flush cycle. Retention is enforced twice over: MAXLEN ~ on
// each XADD (count cap) and XTRIM MINID once per flush (time cap). Stream
// entry IDs are epoch-millisecond prefixed, so the time trim is a direct
// id-boundary operation.
//
// Request tracking uses a third stream capped at the ring-buffer size; XADD
// with MAXLEN evicts the oldest entries in the same command as the insert.
type RedisStore struct {
	opts Options

	mu          sync.Mutex
	client      *redis.Client
	lastFailure time.Time
	lastErr     error
}

func NewRedisStore(opts Options) *RedisStore {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &RedisStore{opts: opts}
}

func (s *RedisStore) requestsKey() string {
	return s.opts.StreamKey + ":requests"
}

func (s *RedisStore) settingsKey() string {
	return s.opts.StreamKey + settingsHashSuffix
}

// getClient returns the lazily-created client, or an error. A failed dial is
// cached for redisFailureTTL so dependent calls fail fast until the next
// revalidation window.
func (s *RedisStore) getClient(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if !s.lastFailure.IsZero() && time.Since(s.lastFailure) < redisFailureTTL {
		return nil, s.lastErr
	}

	var client *redis.Client
	if s.opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(s.opts.RedisURL)
		if err != nil {
			s.lastFailure = time.Now()
			s.lastErr = err
			return nil, err
		}
		client = redis.NewClient(redisOpts)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:        s.opts.RedisAddr,
			Password:    s.opts.RedisPassword,
			DB:          s.opts.RedisDB,
			DialTimeout: 3 * time.Second,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		s.lastFailure = time.Now()
		s.lastErr = fmt.Errorf("failed to connect to redis: %w", err)
		return nil, s.lastErr
	}

	s.client = client
	s.lastFailure = time.Time{}
	s.lastErr = nil
	return client, nil
}

// ── Write path ──────────────────────────────────────────────────────────────

func (s *RedisStore) Enqueue(ctx context.Context, entry *model.LogEntry) {
	client, err := s.getClient(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := client.LPush(ctx, s.opts.QueueKey, payload).Err(); err != nil {
		logger.Debug("redis enqueue failed", "error", err.Error())
	}
}

func (s *RedisStore) EnqueueRequest(ctx context.Context, entry *model.RequestEntry) {
	if !s.opts.TrackRequests {
		return
	}
	client, err := s.getClient(ctx)
	if err != nil {
		return
	}
	err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.requestsKey(),
		MaxLen: int64(s.opts.RequestMaxEntries),
		Approx: true,
		Values: flattenRequest(entry),
	}).Err()
	if err != nil {
		logger.Debug("redis request enqueue failed", "error", err.Error())
	}
}

// ── Maintenance ─────────────────────────────────────────────────────────────

// Flush drains up to BatchSize buffered entries from the queue list into the
// stream, pushing any failed append back onto the list tail so it is retried
// on the next cycle (at-least-once under transient unavailability), then
// applies the time-based trim.
func (s *RedisStore) Flush(ctx context.Context, force bool) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}

	pipe := client.Pipeline()
	pops := make([]*redis.StringCmd, s.opts.BatchSize)
	for i := range pops {
		pops[i] = pipe.RPop(ctx, s.opts.QueueKey)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return err
	}

	var failed []string
	for _, cmd := range pops {
		raw, err := cmd.Result()
		if err != nil {
			continue // redis.Nil — queue drained
		}
		var entry model.LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue // malformed — discard
		}
		if err := s.xadd(ctx, client, &entry); err != nil {
			failed = append(failed, raw)
		}
	}

	// Dead-letter: return failures to the queue tail for the next cycle.
	if len(failed) > 0 {
		pipe := client.Pipeline()
		for _, raw := range failed {
			pipe.RPush(ctx, s.opts.QueueKey, raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("redis dead-letter requeue failed", "count", len(failed), "error", err.Error())
		}
	}

	if depth, err := client.LLen(ctx, s.opts.QueueKey).Result(); err == nil {
		prom.QueueDepth.Set(float64(depth))
	}
	return s.trim(ctx, client)
}

func (s *RedisStore) xadd(ctx context.Context, client *redis.Client, entry *model.LogEntry) error {
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.opts.StreamKey,
		MaxLen: int64(s.opts.MaxEntries),
		Approx: true,
		Values: flattenEntry(entry),
	}).Err()
}

// trim removes stream entries older than the retention window. Entry IDs are
// epoch-ms ordered, so the cutoff is a direct MINID boundary.
func (s *RedisStore) trim(ctx context.Context, client *redis.Client) error {
	cutoff := time.Now().UTC().Add(-time.Duration(s.opts.RetentionHours) * time.Hour)
	minID := fmt.Sprintf("%d-0", cutoff.UnixMilli())
	return client.XTrimMinID(ctx, s.opts.StreamKey, minID).Err()
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// ── Read path ───────────────────────────────────────────────────────────────

// ListLogs scans the stream newest-first up to the retained window, applies
// the filters in-process, and slices for the requested page.
func (s *RedisStore) ListLogs(ctx context.Context, q LogQuery) ([]model.LogEntry, int, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, 0, err
	}

	raw, err := client.XRevRangeN(ctx, s.opts.StreamKey, "+", "-", int64(s.opts.MaxEntries)).Result()
	if err != nil {
		return nil, 0, err
	}

	matched := filterLogEntries(raw, q)
	total := len(matched)
	offset, end := pageBounds(q.Page, q.Limit, total)
	return matched[offset:end], total, nil
}

func (s *RedisStore) ListRequests(ctx context.Context, q RequestQuery) ([]model.RequestEntry, int, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, err := client.XRevRangeN(ctx, s.requestsKey(), "+", "-", int64(s.opts.RequestMaxEntries)).Result()
	if err != nil {
		return nil, 0, err
	}

	matched := filterRequestEntries(raw, q)
	total := len(matched)
	offset, end := pageBounds(q.Page, q.Limit, total)
	return matched[offset:end], total, nil
}

func (s *RedisStore) Stats(ctx context.Context) (model.Stats, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	var stats model.Stats

	queueLen, err := client.LLen(ctx, s.opts.QueueKey).Result()
	if err != nil {
		return stats, err
	}
	stats.QueueLength = int(queueLen)

	streamLen, err := client.XLen(ctx, s.opts.StreamKey).Result()
	if err != nil {
		return stats, err
	}
	stats.StreamLength = int(streamLen)
	stats.TotalEntries = int(streamLen)

	cutoffID := fmt.Sprintf("%d-0", time.Now().UTC().Add(-24*time.Hour).UnixMilli())
	recent, err := client.XRange(ctx, s.opts.StreamKey, cutoffID, "+").Result()
	if err == nil {
		for _, msg := range recent {
			switch stringField(msg.Values, "level") {
			case string(model.LevelError):
				stats.ErrorsLast24h++
			case string(model.LevelWarning):
				stats.WarningsLast24h++
			}
		}
	}

	if newest, err := client.XRevRangeN(ctx, s.opts.StreamKey, "+", "-", 1).Result(); err == nil && len(newest) > 0 {
		ts := entryIDTime(newest[0].ID)
		stats.NewestEntryTs = &ts
	}
	if oldest, err := client.XRangeN(ctx, s.opts.StreamKey, "-", "+", 1).Result(); err == nil && len(oldest) > 0 {
		ts := entryIDTime(oldest[0].ID)
		stats.OldestEntryTs = &ts
	}

	return stats, nil
}

func (s *RedisStore) RequestStats(ctx context.Context) (model.RequestStats, error) {
	stats := model.RequestStats{RingBufferSize: s.opts.RequestMaxEntries}

	client, err := s.getClient(ctx)
	if err != nil {
		return stats, err
	}
	raw, err := client.XRevRangeN(ctx, s.requestsKey(), "+", "-", int64(s.opts.RequestMaxEntries)).Result()
	if err != nil {
		return stats, err
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	var totalDuration int64
	var durationCount int64
	for _, msg := range raw {
		entry := parseRequestMessage(msg)
		stats.TotalStored++
		if entry.Timestamp.After(cutoff) {
			stats.RequestsLastHour++
			if entry.StatusCode >= 400 {
				stats.ErrorsLastHour++
			}
		}
		if entry.DurationMs > 0 {
			totalDuration += entry.DurationMs
			durationCount++
		}
		if entry.DurationMs > stats.SlowestDurationMs {
			stats.SlowestDurationMs = entry.DurationMs
			stats.SlowestEndpoint = entry.Path
		}
	}
	if durationCount > 0 {
		stats.AvgDurationMs = totalDuration / durationCount
	}
	return stats, nil
}

// ── Introspection / admin ───────────────────────────────────────────────────

func (s *RedisStore) Health(ctx context.Context) (bool, string, int) {
	client, err := s.getClient(ctx)
	if err != nil {
		return false, err.Error(), 0
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return false, err.Error(), 0
	}
	depth, _ := client.LLen(ctx, s.opts.QueueKey).Result()
	return true, "", int(depth)
}

func (s *RedisStore) Clear(ctx context.Context) (bool, string) {
	client, err := s.getClient(ctx)
	if err != nil {
		return false, err.Error()
	}
	deleted, err := client.Del(ctx, s.opts.StreamKey, s.opts.QueueKey, s.requestsKey()).Result()
	if err != nil {
		return false, err.Error()
	}
	return true, fmt.Sprintf("Deleted %d key(s)", deleted)
}

func (s *RedisStore) Overview(ctx context.Context) model.StorageOverview {
	overview := model.StorageOverview{
		Backend:        "redis",
		MaxEntries:     s.opts.MaxEntries,
		RetentionHours: s.opts.RetentionHours,
	}
	client, err := s.getClient(ctx)
	if err != nil {
		overview.Error = err.Error()
		return overview
	}
	queueLen, err := client.LLen(ctx, s.opts.QueueKey).Result()
	if err != nil {
		overview.Error = err.Error()
		return overview
	}
	streamLen, _ := client.XLen(ctx, s.opts.StreamKey).Result()

	overview.Connected = true
	overview.QueueDepth = int(queueLen)
	overview.StreamLength = int(streamLen)
	overview.RowCount = int(streamLen)
	return overview
}

func (s *RedisStore) GetSettings(ctx context.Context, key string) (map[string]any, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.HGet(ctx, s.settingsKey(), key).Result()
	if err == redis.Nil {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return map[string]any{}, nil
	}
	return value, nil
}

func (s *RedisStore) SaveSettings(ctx context.Context, key string, value map[string]any) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.HSet(ctx, s.settingsKey(), key, payload).Err()
}

// ── Stream entry codecs ─────────────────────────────────────────────────────

// flattenEntry converts a log entry into flat string fields for XADD.
// Nil/zero optional fields are omitted; nested values are JSON-encoded.
func flattenEntry(entry *model.LogEntry) map[string]any {
	fields := map[string]any{
		"timestamp": entry.Timestamp.UTC().Format(time.RFC3339Nano),
		"level":     string(entry.Level),
		"event":     string(entry.Event),
		"message":   entry.Message,
	}
	setIfNotEmpty(fields, "request_id", entry.RequestID)
	setIfNotEmpty(fields, "endpoint", entry.Endpoint)
	setIfNotEmpty(fields, "http_method", entry.HTTPMethod)
	setIfNotEmpty(fields, "ip_address", entry.IPAddress)
	setIfNotEmpty(fields, "error", entry.Error)
	setIfNotEmpty(fields, "stack_trace", entry.StackTrace)
	if entry.HTTPStatus != 0 {
		fields["http_status"] = strconv.Itoa(entry.HTTPStatus)
	}
	if entry.DurationMs != 0 {
		fields["duration_ms"] = strconv.FormatInt(entry.DurationMs, 10)
	}
	if entry.Context != nil {
		if raw, err := json.Marshal(entry.Context); err == nil {
			fields["context"] = string(raw)
		}
	}
	if entry.RequestBody != nil {
		if raw, err := json.Marshal(entry.RequestBody); err == nil {
			fields["request_body"] = string(raw)
		}
	}
	return fields
}

func flattenRequest(entry *model.RequestEntry) map[string]any {
	fields := map[string]any{
		"timestamp":   entry.Timestamp.UTC().Format(time.RFC3339Nano),
		"method":      entry.Method,
		"path":        entry.Path,
		"status_code": strconv.Itoa(entry.StatusCode),
	}
	setIfNotEmpty(fields, "request_id", entry.RequestID)
	setIfNotEmpty(fields, "ip_address", entry.IPAddress)
	setIfNotEmpty(fields, "user_agent", entry.UserAgent)
	setIfNotEmpty(fields, "error_id", entry.ErrorID)
	if entry.DurationMs != 0 {
		fields["duration_ms"] = strconv.FormatInt(entry.DurationMs, 10)
	}
	if entry.RequestHeaders != nil {
		if raw, err := json.Marshal(entry.RequestHeaders); err == nil {
			fields["request_headers"] = string(raw)
		}
	}
	if entry.RequestBody != nil {
		if raw, err := json.Marshal(entry.RequestBody); err == nil {
			fields["request_body"] = string(raw)
		}
	}
	return fields
}

func setIfNotEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func stringField(values map[string]any, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

func intField(values map[string]any, key string) int {
	n, _ := strconv.Atoi(stringField(values, key))
	return n
}

func int64Field(values map[string]any, key string) int64 {
	n, _ := strconv.ParseInt(stringField(values, key), 10, 64)
	return n
}

// entryIDTime extracts the embedded millisecond timestamp of a stream ID.
func entryIDTime(id string) time.Time {
	ms, err := strconv.ParseInt(strings.SplitN(id, "-", 2)[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseLogMessage(msg redis.XMessage) model.LogEntry {
	entry := model.LogEntry{
		ID:         msg.ID,
		Level:      model.Level(stringField(msg.Values, "level")),
		Event:      model.Event(stringField(msg.Values, "event")),
		Message:    stringField(msg.Values, "message"),
		RequestID:  stringField(msg.Values, "request_id"),
		Endpoint:   stringField(msg.Values, "endpoint"),
		HTTPMethod: stringField(msg.Values, "http_method"),
		HTTPStatus: intField(msg.Values, "http_status"),
		IPAddress:  stringField(msg.Values, "ip_address"),
		DurationMs: int64Field(msg.Values, "duration_ms"),
		Error:      stringField(msg.Values, "error"),
		StackTrace: stringField(msg.Values, "stack_trace"),
	}

	if ts, err := time.Parse(time.RFC3339Nano, stringField(msg.Values, "timestamp")); err == nil {
		entry.Timestamp = ts
	} else {
		entry.Timestamp = entryIDTime(msg.ID)
	}
	if raw := stringField(msg.Values, "context"); raw != "" {
		var ctx map[string]any
		if err := json.Unmarshal([]byte(raw), &ctx); err == nil {
			entry.Context = ctx
		}
	}
	if raw := stringField(msg.Values, "request_body"); raw != "" {
		var body any
		if err := json.Unmarshal([]byte(raw), &body); err == nil {
			entry.RequestBody = body
		} else {
			entry.RequestBody = raw
		}
	}
	return entry
}

func parseRequestMessage(msg redis.XMessage) model.RequestEntry {
	entry := model.RequestEntry{
		ID:         msg.ID,
		Method:     stringField(msg.Values, "method"),
		Path:       stringField(msg.Values, "path"),
		StatusCode: intField(msg.Values, "status_code"),
		DurationMs: int64Field(msg.Values, "duration_ms"),
		RequestID:  stringField(msg.Values, "request_id"),
		IPAddress:  stringField(msg.Values, "ip_address"),
		UserAgent:  stringField(msg.Values, "user_agent"),
		ErrorID:    stringField(msg.Values, "error_id"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, stringField(msg.Values, "timestamp")); err == nil {
		entry.Timestamp = ts
	} else {
		entry.Timestamp = entryIDTime(msg.ID)
	}
	if raw := stringField(msg.Values, "request_headers"); raw != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(raw), &headers); err == nil {
			entry.RequestHeaders = headers
		}
	}
	if raw := stringField(msg.Values, "request_body"); raw != "" {
		var body any
		if err := json.Unmarshal([]byte(raw), &body); err == nil {
			entry.RequestBody = body
		} else {
			entry.RequestBody = raw
		}
	}
	return entry
}

func filterLogEntries(raw []redis.XMessage, q LogQuery) []model.LogEntry {
	matched := make([]model.LogEntry, 0, len(raw))
	for _, msg := range raw {
		entry := parseLogMessage(msg)
		if q.Level != "" && string(entry.Level) != q.Level {
			continue
		}
		if q.Event != "" && !strings.Contains(strings.ToLower(string(entry.Event)), strings.ToLower(q.Event)) {
			continue
		}
		if q.Search != "" {
			haystack := strings.ToLower(entry.Message + " " + entry.Error)
			if !strings.Contains(haystack, strings.ToLower(q.Search)) {
				continue
			}
		}
		matched = append(matched, entry)
	}
	return matched
}

func filterRequestEntries(raw []redis.XMessage, q RequestQuery) []model.RequestEntry {
	matched := make([]model.RequestEntry, 0, len(raw))
	for _, msg := range raw {
		entry := parseRequestMessage(msg)
		if q.Method != "" && !strings.EqualFold(entry.Method, q.Method) {
			continue
		}
		if q.StatusCode != 0 && entry.StatusCode != q.StatusCode {
			continue
		}
		if q.Path != "" && !strings.Contains(entry.Path, q.Path) {
			continue
		}
		if q.MinDurationMs > 0 && entry.DurationMs < q.MinDurationMs {
			continue
		}
		matched = append(matched, entry)
	}
	return matched
}
