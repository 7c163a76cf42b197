package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/model"
)

// tableNameRe guards the identifiers interpolated into DDL and queries.
// Prefixes come from configuration, not users, but the single place they
// enter SQL text is still validated.
var tableNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

const pgFailureTTL = 30 * time.Second

// PostgresStore is the shared-database backend: synchronous writes through a
// connection pool, JSONB for nested values, the same throttled retention as
// SQLite. Table names are derived from the configured prefix so several
// applications can share one database.
type PostgresStore struct {
	opts Options

	logsTable     string
	requestsTable string
	settingsTable string

	mu          sync.Mutex
	db          *sqlx.DB
	lastFailure time.Time
	lastErr     error

	retentionMu   sync.Mutex
	lastRetention time.Time
}

func NewPostgresStore(opts Options) (*PostgresStore, error) {
	if opts.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres backend selected but no DSN configured")
	}
	if !tableNameRe.MatchString(opts.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q: only letters, digits and underscore are allowed", opts.TablePrefix)
	}
	return &PostgresStore{
		opts:          opts,
		logsTable:     opts.TablePrefix + "_logs",
		requestsTable: opts.TablePrefix + "_requests",
		settingsTable: opts.TablePrefix + "_settings",
	}, nil
}

func (s *PostgresStore) schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           BIGSERIAL PRIMARY KEY,
	timestamp    TIMESTAMPTZ NOT NULL,
	level        TEXT NOT NULL,
	event        TEXT NOT NULL,
	message      TEXT NOT NULL,
	request_id   TEXT,
	endpoint     TEXT,
	http_method  TEXT,
	http_status  INTEGER,
	ip_address   TEXT,
	duration_ms  BIGINT,
	error        TEXT,
	stack_trace  TEXT,
	context      JSONB,
	request_body JSONB
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s (timestamp);
CREATE INDEX IF NOT EXISTS idx_%[1]s_level ON %[1]s (level);
CREATE INDEX IF NOT EXISTS idx_%[1]s_endpoint ON %[1]s (endpoint);
CREATE INDEX IF NOT EXISTS idx_%[1]s_event ON %[1]s (event);
CREATE INDEX IF NOT EXISTS idx_%[1]s_level_ts ON %[1]s (level, timestamp DESC);

CREATE TABLE IF NOT EXISTS %[2]s (
	id              BIGSERIAL PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	method          TEXT NOT NULL,
	path            TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	duration_ms     BIGINT,
	request_id      TEXT,
	ip_address      TEXT,
	user_agent      TEXT,
	request_headers JSONB,
	request_body    JSONB,
	error_id        TEXT
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_timestamp ON %[2]s (timestamp);
CREATE INDEX IF NOT EXISTS idx_%[2]s_status ON %[2]s (status_code);

CREATE TABLE IF NOT EXISTS %[3]s (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`, s.logsTable, s.requestsTable, s.settingsTable)
}

// getDB connects lazily and caches a failed attempt for pgFailureTTL so a
// down database does not get re-dialed on every request.
func (s *PostgresStore) getDB(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if !s.lastFailure.IsZero() && time.Since(s.lastFailure) < pgFailureTTL {
		return nil, s.lastErr
	}

	db, err := sqlx.Open("pgx", s.opts.PostgresDSN)
	if err != nil {
		s.lastFailure = time.Now()
		s.lastErr = fmt.Errorf("failed to open postgres pool: %w", err)
		return nil, s.lastErr
	}
	db.SetMaxOpenConns(s.opts.MaxOpenConns)
	db.SetMaxIdleConns(s.opts.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		s.lastFailure = time.Now()
		s.lastErr = fmt.Errorf("failed to connect to postgres: %w", err)
		return nil, s.lastErr
	}

	if _, err := db.ExecContext(ctx, s.schema()); err != nil {
		_ = db.Close()
		s.lastFailure = time.Now()
		s.lastErr = fmt.Errorf("failed to create postgres schema: %w", err)
		return nil, s.lastErr
	}

	s.db = db
	s.lastFailure = time.Time{}
	s.lastErr = nil
	logger.Info("postgres storage ready", "logs_table", s.logsTable)
	return db, nil
}

// ── Write path ──────────────────────────────────────────────────────────────

func (s *PostgresStore) Enqueue(ctx context.Context, entry *model.LogEntry) {
	db, err := s.getDB(ctx)
	if err != nil {
		return
	}
	query := strings.Replace(logInsertSQL, "INTO logs", "INTO "+s.logsTable, 1) + " RETURNING id"
	rows, err := db.NamedQueryContext(ctx, query, logInsertArgs(entry))
	if err != nil {
		logger.Debug("postgres log insert failed", "error", err.Error())
		return
	}
	defer rows.Close()
	if rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			entry.ID = strconv.FormatInt(id, 10)
		}
	}
}

func (s *PostgresStore) EnqueueRequest(ctx context.Context, entry *model.RequestEntry) {
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

	query := strings.Replace(requestInsertSQL, "INTO requests", "INTO "+s.requestsTable, 1)
	if _, err := tx.NamedExecContext(ctx, query, requestInsertArgs(entry)); err != nil {
		logger.Debug("postgres request insert failed", "error", err.Error())
		return
	}
	evict := fmt.Sprintf(`DELETE FROM %[1]s WHERE id NOT IN (SELECT id FROM %[1]s ORDER BY id DESC LIMIT $1)`, s.requestsTable)
	if _, err := tx.ExecContext(ctx, evict, s.opts.RequestMaxEntries); err != nil {
		return
	}
	_ = tx.Commit()
}

// ── Maintenance ─────────────────────────────────────────────────────────────

func (s *PostgresStore) Flush(ctx context.Context, force bool) error {
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
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, s.logsTable), cutoff); err != nil {
		return fmt.Errorf("retention age delete failed: %w", err)
	}
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %[1]s WHERE id NOT IN (SELECT id FROM %[1]s ORDER BY id DESC LIMIT $1)`, s.logsTable),
		s.opts.MaxEntries)
	if err != nil {
		return fmt.Errorf("retention cap delete failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
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

func (s *PostgresStore) ListLogs(ctx context.Context, q LogQuery) ([]model.LogEntry, int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildLogFilter(q)

	var total int
	countQuery := db.Rebind(`SELECT COUNT(*) FROM ` + s.logsTable + where)
	if err := db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset, end := pageBounds(q.Page, q.Limit, total)
	if end == offset {
		return []model.LogEntry{}, total, nil
	}

	var rows []logRow
	query := db.Rebind(`SELECT * FROM ` + s.logsTable + where + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	if err := db.SelectContext(ctx, &rows, query, append(args, end-offset, offset)...); err != nil {
		return nil, 0, err
	}

	entries := make([]model.LogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, total, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, q RequestQuery) ([]model.RequestEntry, int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildRequestFilter(q)

	var total int
	countQuery := db.Rebind(`SELECT COUNT(*) FROM ` + s.requestsTable + where)
	if err := db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset, end := pageBounds(q.Page, q.Limit, total)
	if end == offset {
		return []model.RequestEntry{}, total, nil
	}

	var rows []requestRow
	query := db.Rebind(`SELECT * FROM ` + s.requestsTable + where + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	if err := db.SelectContext(ctx, &rows, query, append(args, end-offset, offset)...); err != nil {
		return nil, 0, err
	}

	entries := make([]model.RequestEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, total, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (model.Stats, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	var stats model.Stats
	if err := db.GetContext(ctx, &stats.TotalEntries, `SELECT COUNT(*) FROM `+s.logsTable); err != nil {
		return stats, err
	}
	stats.StreamLength = stats.TotalEntries

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if err := db.GetContext(ctx, &stats.ErrorsLast24h,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE level = $1 AND timestamp >= $2`, s.logsTable),
		model.LevelError, cutoff); err != nil {
		return stats, err
	}
	if err := db.GetContext(ctx, &stats.WarningsLast24h,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE level = $1 AND timestamp >= $2`, s.logsTable),
		model.LevelWarning, cutoff); err != nil {
		return stats, err
	}

	var oldest, newest *time.Time
	_ = db.GetContext(ctx, &oldest, `SELECT MIN(timestamp) FROM `+s.logsTable)
	_ = db.GetContext(ctx, &newest, `SELECT MAX(timestamp) FROM `+s.logsTable)
	stats.OldestEntryTs = oldest
	stats.NewestEntryTs = newest
	return stats, nil
}

func (s *PostgresStore) RequestStats(ctx context.Context) (model.RequestStats, error) {
	stats := model.RequestStats{RingBufferSize: s.opts.RequestMaxEntries}

	db, err := s.getDB(ctx)
	if err != nil {
		return stats, err
	}

	if err := db.GetContext(ctx, &stats.TotalStored, `SELECT COUNT(*) FROM `+s.requestsTable); err != nil {
		return stats, err
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	if err := db.GetContext(ctx, &stats.RequestsLastHour,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE timestamp >= $1`, s.requestsTable), cutoff); err != nil {
		return stats, err
	}
	if err := db.GetContext(ctx, &stats.ErrorsLastHour,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE timestamp >= $1 AND status_code >= 400`, s.requestsTable),
		cutoff); err != nil {
		return stats, err
	}

	var avg *float64
	_ = db.GetContext(ctx, &avg,
		fmt.Sprintf(`SELECT AVG(duration_ms) FROM %s WHERE duration_ms IS NOT NULL`, s.requestsTable))
	if avg != nil {
		stats.AvgDurationMs = int64(*avg)
	}

	var slowest struct {
		Path       string `db:"path"`
		DurationMs int64  `db:"duration_ms"`
	}
	err = db.GetContext(ctx, &slowest,
		fmt.Sprintf(`SELECT path, duration_ms FROM %s WHERE duration_ms IS NOT NULL ORDER BY duration_ms DESC LIMIT 1`, s.requestsTable))
	if err == nil {
		stats.SlowestEndpoint = slowest.Path
		stats.SlowestDurationMs = slowest.DurationMs
	}
	return stats, nil
}

// ── Introspection / admin ───────────────────────────────────────────────────

func (s *PostgresStore) Health(ctx context.Context) (bool, string, int) {
	db, err := s.getDB(ctx)
	if err != nil {
		return false, err.Error(), 0
	}
	if err := db.PingContext(ctx); err != nil {
		return false, err.Error(), 0
	}
	return true, "", 0
}

func (s *PostgresStore) Clear(ctx context.Context) (bool, string) {
	db, err := s.getDB(ctx)
	if err != nil {
		return false, err.Error()
	}
	logsRes, err := db.ExecContext(ctx, `DELETE FROM `+s.logsTable)
	if err != nil {
		return false, err.Error()
	}
	reqRes, err := db.ExecContext(ctx, `DELETE FROM `+s.requestsTable)
	if err != nil {
		return false, err.Error()
	}
	logsDeleted, _ := logsRes.RowsAffected()
	reqDeleted, _ := reqRes.RowsAffected()
	return true, fmt.Sprintf("Deleted %d log(s) and %d request(s)", logsDeleted, reqDeleted)
}

func (s *PostgresStore) Overview(ctx context.Context) model.StorageOverview {
	overview := model.StorageOverview{
		Backend:        "postgres",
		MaxEntries:     s.opts.MaxEntries,
		RetentionHours: s.opts.RetentionHours,
		DSN:            maskDSN(s.opts.PostgresDSN),
	}
	db, err := s.getDB(ctx)
	if err != nil {
		overview.Error = err.Error()
		return overview
	}

	var rowCount int
	if err := db.GetContext(ctx, &rowCount, `SELECT COUNT(*) FROM `+s.logsTable); err != nil {
		overview.Error = err.Error()
		return overview
	}
	overview.Connected = true
	overview.RowCount = rowCount

	var version string
	if err := db.GetContext(ctx, &version, `SELECT version()`); err == nil {
		overview.ServerVersion = version
	}
	poolStats := db.DB.Stats()
	overview.PoolSize = poolStats.OpenConnections
	overview.PoolIdle = poolStats.Idle
	return overview
}

func (s *PostgresStore) GetSettings(ctx context.Context, key string) (map[string]any, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = db.GetContext(ctx, &raw,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.settingsTable), key)
	if err != nil {
		return map[string]any{}, nil
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return map[string]any{}, nil
	}
	return value, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, key string, value map[string]any) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.settingsTable),
		key, raw, time.Now().UTC())
	return err
}

// maskDSN hides the password portion of a connection string before it is
// shown on the dashboard.
var dsnPasswordRe = regexp.MustCompile(`(password=)\S+`)

func maskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
			return u.String()
		}
	}
	return dsnPasswordRe.ReplaceAllString(dsn, "${1}***")
}
