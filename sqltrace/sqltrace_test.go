package sqltrace

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTracedDB(t *testing.T) *sql.DB {
	t.Helper()
	name, err := Register("sqlite3")
	require.NoError(t, err)

	db, err := sql.Open(name, filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterIsIdempotent(t *testing.T) {
	first, err := Register("sqlite3")
	require.NoError(t, err)

	second, err := Register("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "sqlite3-flare", first)
}

func TestRegisterUnknownDriver(t *testing.T) {
	_, err := Register("no-such-driver")
	assert.ErrorContains(t, err, "unknown driver")
}

func TestQueriesTaggedWithRequestID(t *testing.T) {
	db := openTracedDB(t)

	ctx := WithQueryLog(WithRequestID(context.Background(), "req-1"))
	_, err := db.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "widget")
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, "SELECT name FROM items")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	queries := Queries(ctx)
	require.Len(t, queries, 3)
	assert.Contains(t, queries[0].SQL, "CREATE TABLE")
	assert.Contains(t, queries[1].SQL, "INSERT INTO items")
	assert.Contains(t, queries[2].SQL, "SELECT name")
	for _, q := range queries {
		assert.Equal(t, "req-1", q.RequestID)
		assert.GreaterOrEqual(t, q.DurationMs, int64(0))
	}
}

func TestPreparedStatementsAreTraced(t *testing.T) {
	db := openTracedDB(t)

	ctx := WithQueryLog(context.Background())
	_, err := db.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	stmt, err := db.PrepareContext(ctx, "INSERT INTO items (name) VALUES (?)")
	require.NoError(t, err)
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, "widget")
	require.NoError(t, err)

	queries := Queries(ctx)
	require.GreaterOrEqual(t, len(queries), 2)
	assert.Contains(t, queries[len(queries)-1].SQL, "INSERT INTO items")
}

func TestQueriesWithoutLogContext(t *testing.T) {
	db := openTracedDB(t)

	_, err := db.ExecContext(context.Background(), "CREATE TABLE plain (id INTEGER)")
	require.NoError(t, err)

	assert.Empty(t, Queries(context.Background()))
}

func TestConcurrentRecordsWithinOneRequest(t *testing.T) {
	db := openTracedDB(t)
	db.SetMaxOpenConns(1)

	ctx := WithQueryLog(WithRequestID(context.Background(), "req-9"))
	_, err := db.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = db.ExecContext(ctx, "INSERT INTO items DEFAULT VALUES")
		}()
	}
	wg.Wait()

	assert.Len(t, Queries(ctx), 9)
}
