package sqltrace

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	registerMu sync.Mutex
	registered = map[string]string{}
)

// Register wraps the named driver with query tracing and registers the
// wrapped variant under "<name>-flare", returning the new name. The
// underlying driver must already be registered (blank-import its package
// first). Calling Register twice for the same name returns the same wrapped
// name.
func Register(name string) (string, error) {
	registerMu.Lock()
	defer registerMu.Unlock()
	if traced, ok := registered[name]; ok {
		return traced, nil
	}

	db, err := sql.Open(name, "")
	if err != nil {
		return "", fmt.Errorf("sqltrace: unknown driver %q: %w", name, err)
	}
	parent := db.Driver()
	_ = db.Close()

	traced := name + "-flare"
	sql.Register(traced, WrapDriver(parent))
	registered[name] = traced
	return traced, nil
}

// WrapDriver returns d with per-statement tracing attached.
func WrapDriver(d driver.Driver) driver.Driver {
	return &tracedDriver{parent: d}
}

type tracedDriver struct {
	parent driver.Driver
}

func (d *tracedDriver) Open(dsn string) (driver.Conn, error) {
	conn, err := d.parent.Open(dsn)
	if err != nil {
		return nil, err
	}
	return &tracedConn{Conn: conn}, nil
}

// tracedConn forwards the optional interfaces database/sql probes for.
// driver.ErrSkip hands statements the underlying conn cannot run directly
// back to the prepared-statement path, which tracedStmt times instead.
type tracedConn struct {
	driver.Conn
}

func (c *tracedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := execer.ExecContext(ctx, query, args)
	record(ctx, query, time.Since(start))
	return res, err
}

func (c *tracedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	record(ctx, query, time.Since(start))
	return rows, err
}

func (c *tracedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error
	if preparer, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = preparer.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &tracedStmt{Stmt: stmt, query: query}, nil
}

func (c *tracedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if beginner, ok := c.Conn.(driver.ConnBeginTx); ok {
		return beginner.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}

func (c *tracedConn) Ping(ctx context.Context) error {
	if pinger, ok := c.Conn.(driver.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (c *tracedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.Conn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func (c *tracedConn) ResetSession(ctx context.Context) error {
	if resetter, ok := c.Conn.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}
	return nil
}

type tracedStmt struct {
	driver.Stmt
	query string
}

func (s *tracedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if execer, ok := s.Stmt.(driver.StmtExecContext); ok {
		start := time.Now()
		res, err := execer.ExecContext(ctx, args)
		record(ctx, s.query, time.Since(start))
		return res, err
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.Stmt.Exec(values)
	record(ctx, s.query, time.Since(start))
	return res, err
}

func (s *tracedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if queryer, ok := s.Stmt.(driver.StmtQueryContext); ok {
		start := time.Now()
		rows, err := queryer.QueryContext(ctx, args)
		record(ctx, s.query, time.Since(start))
		return rows, err
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.Stmt.Query(values)
	record(ctx, s.query, time.Since(start))
	return rows, err
}

func (s *tracedStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.Stmt.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func namedToValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, errors.New("sqltrace: underlying driver does not support named parameters")
		}
		values[i] = arg.Value
	}
	return values, nil
}
