package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    TIMESTAMP NOT NULL,
	level        TEXT NOT NULL,
	event        TEXT NOT NULL,
	message      TEXT NOT NULL,
	request_id   TEXT,
	endpoint     TEXT,
	http_method  TEXT,
	http_status  INTEGER,
	ip_address   TEXT,
	duration_ms  INTEGER,
	error        TEXT,
	stack_trace  TEXT,
	context      TEXT,
	request_body TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs (level);
CREATE INDEX IF NOT EXISTS idx_logs_endpoint ON logs (endpoint);
CREATE INDEX IF NOT EXISTS idx_logs_event ON logs (event);
CREATE INDEX IF NOT EXISTS idx_logs_http_status ON logs (http_status);
CREATE INDEX IF NOT EXISTS idx_logs_level_ts ON logs (level, timestamp DESC);

CREATE TABLE IF NOT EXISTS requests (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TIMESTAMP NOT NULL,
	method          TEXT NOT NULL,
	path            TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	duration_ms     INTEGER,
	request_id      TEXT,
	ip_address      TEXT,
	user_agent      TEXT,
	request_headers TEXT,
	request_body    TEXT,
	error_id        TEXT
);
CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests (timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status_code);
CREATE INDEX IF NOT EXISTS idx_requests_path ON requests (path);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

const logInsertSQL = `INSERT INTO logs
	(timestamp, level, event, message, request_id, endpoint, http_method,
	 http_status, ip_address, duration_ms, error, stack_trace, context, request_body)
	VALUES
	(:timestamp, :level, :event, :message, :request_id, :endpoint, :http_method,
	 :http_status, :ip_address, :duration_ms, :error, :stack_trace, :context, :request_body)`

const requestInsertSQL = `INSERT INTO requests
	(timestamp, method, path, status_code, duration_ms, request_id, ip_address,
	 user_agent, request_headers, request_body, error_id)
	VALUES
	(:timestamp, :method, :path, :status_code, :duration_ms, :request_id, :ip_address,
	 :user_agent, :request_headers, :request_body, :error_id)`

// SQLiteStore is the zero-infrastructure backend: a single database file with
// WAL journaling, written synchronously on capture. Retention runs inside
// Flush and is throttled to at most once per RetentionInterval since a DELETE
// scan on every worker cycle would dominate the write load.
type SQLiteStore struct {
	opts Options

	mu  sync.Mutex
	db  *sqlx.DB
	err error

	retentionMu   sync.Mutex
	lastRetention time.Time
}

func NewSQLiteStore(opts Options) *SQLiteStore {
	return &SQLiteStore{opts: opts}
}

// getDB opens the database on first use, applies the pragmas and creates the
// schema. An open failure is sticky; the file path is not going to fix itself
// between requests.
func (s *SQLiteStore) getDB(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.err != nil {
		return nil, s.err
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_loc=UTC", s.opts.SQLitePath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		s.err = fmt.Errorf("failed to open sqlite database: %w", err)
		return nil, s.err
	}
	// Single writer; additional connections only contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		s.err = fmt.Errorf("failed to create sqlite schema: %w", err)
		return nil, s.err
	}

	s.db = db
	logger.Info("sqlite storage ready", "path", s.opts.SQLitePath)
	return db, nil
}

// ── Write path ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) Enqueue(ctx context.Context, entry *model.LogEntry) {
	db, err := s.getDB(ctx)
	if err != nil {
		return
	}
	res, err := db.NamedExecContext(ctx, logInsertSQL, logInsertArgs(entry))
	if err != nil {
		logger.Debug("sqlite log insert failed", "error", err.Error())
		return
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = strconv.FormatInt(id, 10)
	}
}

// EnqueueRequest inserts into the ring buffer: the insert and the eviction of
// rows beyond the cap run in the same transaction.
func (s *SQLiteStore) EnqueueRequest(ctx context.Context, entry *model.RequestEntry) {
	if !s.opts.TrackRequests {
		return
	}
	db, err := s.getDB(ctx)
	if err != nil {
		return
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, requestInsertSQL, requestInsertArgs(entry)); err != nil {
		logger.Debug("sqlite request insert failed", "error", err.Error())
		return
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM requests WHERE id NOT IN (SELECT id FROM requests ORDER BY id DESC LIMIT ?)`,
		s.opts.RequestMaxEntries)
	if err != nil {
		return
	}
	_ = tx.Commit()
}

// ── Maintenance ─────────────────────────────────────────────────────────────

// Flush applies retention: first the age cutoff, then the count cap. Writes
// are synchronous so there is no buffer to drain. The pass is throttled to
// once per RetentionInterval unless force is set.
func (s *SQLiteStore) Flush(ctx context.Context, force bool) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	s.retentionMu.Lock()
	if !force && s.opts.RetentionInterval > 0 && time.Since(s.lastRetention) < s.opts.RetentionInterval {
		s.retentionMu.Unlock()
		return nil
	}
	s.lastRetention = time.Now()
	s.retentionMu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(s.opts.RetentionHours) * time.Hour)
	if _, err := db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("retention age delete failed: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM logs WHERE id NOT IN (SELECT id FROM logs ORDER BY id DESC LIMIT ?)`,
		s.opts.MaxEntries)
	if err != nil {
		return fmt.Errorf("retention cap delete failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ── Read path ───────────────────────────────────────────────────────────────

func (s *SQLiteStore) ListLogs(ctx context.Context, q LogQuery) ([]model.LogEntry, int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildLogFilter(q)

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM logs`+where, args...); err != nil {
		return nil, 0, err
	}

	offset, end := pageBounds(q.Page, q.Limit, total)
	if end == offset {
		return []model.LogEntry{}, total, nil
	}

	var rows []logRow
	query := `SELECT * FROM logs` + where + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	if err := db.SelectContext(ctx, &rows, query, append(args, end-offset, offset)...); err != nil {
		return nil, 0, err
	}

	entries := make([]model.LogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, total, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, q RequestQuery) ([]model.RequestEntry, int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildRequestFilter(q)

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM requests`+where, args...); err != nil {
		return nil, 0, err
	}

	offset, end := pageBounds(q.Page, q.Limit, total)
	if end == offset {
		return []model.RequestEntry{}, total, nil
	}

	var rows []requestRow
	query := `SELECT * FROM requests` + where + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	if err := db.SelectContext(ctx, &rows, query, append(args, end-offset, offset)...); err != nil {
		return nil, 0, err
	}

	entries := make([]model.RequestEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, total, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	var stats model.Stats
	if err := db.GetContext(ctx, &stats.TotalEntries, `SELECT COUNT(*) FROM logs`); err != nil {
		return stats, err
	}
	stats.StreamLength = stats.TotalEntries

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if err := db.GetContext(ctx, &stats.ErrorsLast24h,
		`SELECT COUNT(*) FROM logs WHERE level = ? AND timestamp >= ?`, model.LevelError, cutoff); err != nil {
		return stats, err
	}
	if err := db.GetContext(ctx, &stats.WarningsLast24h,
		`SELECT COUNT(*) FROM logs WHERE level = ? AND timestamp >= ?`, model.LevelWarning, cutoff); err != nil {
		return stats, err
	}

	// MIN()/MAX() strip the column's declared type, which breaks the
	// driver's time conversion; select the column directly instead.
	var oldest, newest *time.Time
	_ = db.GetContext(ctx, &oldest, `SELECT timestamp FROM logs ORDER BY timestamp ASC LIMIT 1`)
	_ = db.GetContext(ctx, &newest, `SELECT timestamp FROM logs ORDER BY timestamp DESC LIMIT 1`)
	stats.OldestEntryTs = oldest
	stats.NewestEntryTs = newest
	return stats, nil
}

func (s *SQLiteStore) RequestStats(ctx context.Context) (model.RequestStats, error) {
	stats := model.RequestStats{RingBufferSize: s.opts.RequestMaxEntries}

	db, err := s.getDB(ctx)
	if err != nil {
		return stats, err
	}

	if err := db.GetContext(ctx, &stats.TotalStored, `SELECT COUNT(*) FROM requests`); err != nil {
		return stats, err
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	if err := db.GetContext(ctx, &stats.RequestsLastHour,
		`SELECT COUNT(*) FROM requests WHERE timestamp >= ?`, cutoff); err != nil {
		return stats, err
	}
	if err := db.GetContext(ctx, &stats.ErrorsLastHour,
		`SELECT COUNT(*) FROM requests WHERE timestamp >= ? AND status_code >= 400`, cutoff); err != nil {
		return stats, err
	}

	var avg *float64
	_ = db.GetContext(ctx, &avg, `SELECT AVG(duration_ms) FROM requests WHERE duration_ms IS NOT NULL`)
	if avg != nil {
		stats.AvgDurationMs = int64(*avg)
	}

	var slowest struct {
		Path       string `db:"path"`
		DurationMs int64  `db:"duration_ms"`
	}
	err = db.GetContext(ctx, &slowest,
		`SELECT path, duration_ms FROM requests WHERE duration_ms IS NOT NULL ORDER BY duration_ms DESC LIMIT 1`)
	if err == nil {
		stats.SlowestEndpoint = slowest.Path
		stats.SlowestDurationMs = slowest.DurationMs
	}
	return stats, nil
}

// ── Introspection / admin ───────────────────────────────────────────────────

func (s *SQLiteStore) Health(ctx context.Context) (bool, string, int) {
	db, err := s.getDB(ctx)
	if err != nil {
		return false, err.Error(), 0
	}
	if err := db.PingContext(ctx); err != nil {
		return false, err.Error(), 0
	}
	return true, "", 0
}

// Clear deletes every stored row and compacts the file.
func (s *SQLiteStore) Clear(ctx context.Context) (bool, string) {
	db, err := s.getDB(ctx)
	if err != nil {
		return false, err.Error()
	}

	logsRes, err := db.ExecContext(ctx, `DELETE FROM logs`)
	if err != nil {
		return false, err.Error()
	}
	reqRes, err := db.ExecContext(ctx, `DELETE FROM requests`)
	if err != nil {
		return false, err.Error()
	}
	if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
		logger.Warn("sqlite vacuum failed", "error", err.Error())
	}

	logsDeleted, _ := logsRes.RowsAffected()
	reqDeleted, _ := reqRes.RowsAffected()
	return true, fmt.Sprintf("Deleted %d log(s) and %d request(s)", logsDeleted, reqDeleted)
}

func (s *SQLiteStore) Overview(ctx context.Context) model.StorageOverview {
	overview := model.StorageOverview{
		Backend:        "sqlite",
		MaxEntries:     s.opts.MaxEntries,
		RetentionHours: s.opts.RetentionHours,
		DBPath:         s.opts.SQLitePath,
	}
	db, err := s.getDB(ctx)
	if err != nil {
		overview.Error = err.Error()
		return overview
	}

	var rowCount int
	if err := db.GetContext(ctx, &rowCount, `SELECT COUNT(*) FROM logs`); err != nil {
		overview.Error = err.Error()
		return overview
	}
	overview.Connected = true
	overview.RowCount = rowCount

	if info, err := os.Stat(s.opts.SQLitePath); err == nil {
		overview.FileSizeBytes = info.Size()
	}
	var journalMode string
	if err := db.GetContext(ctx, &journalMode, `PRAGMA journal_mode`); err == nil {
		overview.WALActive = strings.EqualFold(journalMode, "wal")
	}
	return overview
}

func (s *SQLiteStore) GetSettings(ctx context.Context, key string) (map[string]any, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var raw string
	err = db.GetContext(ctx, &raw, `SELECT value FROM settings WHERE key = ?`, key)
	if err != nil {
		return map[string]any{}, nil
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return map[string]any{}, nil
	}
	return value, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, key string, value map[string]any) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC())
	return err
}

// ── Filters ─────────────────────────────────────────────────────────────────

func buildLogFilter(q LogQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.Level != "" {
		clauses = append(clauses, "level = ?")
		args = append(args, q.Level)
	}
	if q.Event != "" {
		clauses = append(clauses, "event LIKE ?")
		args = append(args, "%"+q.Event+"%")
	}
	if q.Search != "" {
		clauses = append(clauses, "(message LIKE ? OR error LIKE ?)")
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildRequestFilter(q RequestQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.Method != "" {
		clauses = append(clauses, "method = ?")
		args = append(args, strings.ToUpper(q.Method))
	}
	if q.StatusCode != 0 {
		clauses = append(clauses, "status_code = ?")
		args = append(args, q.StatusCode)
	}
	if q.Path != "" {
		clauses = append(clauses, "path LIKE ?")
		args = append(args, "%"+q.Path+"%")
	}
	if q.MinDurationMs > 0 {
		clauses = append(clauses, "duration_ms >= ?")
		args = append(args, q.MinDurationMs)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
