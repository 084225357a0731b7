package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"querydeck/internal/domain"
)

// SQLConn is a DuckDB or SQLite session on a dedicated *sql.Conn.
type SQLConn struct {
	driver string
	db     *sql.DB
	conn   *sql.Conn
	tx     *sql.Tx
	logger *slog.Logger

	mu       sync.Mutex
	inflight context.CancelFunc
}

var _ domain.Conn = (*SQLConn)(nil)

// OpenSQL opens a database/sql session for driver.
func OpenSQL(ctx context.Context, driver, dsn string, opts Options) (*SQLConn, error) {
	opts = opts.withDefaults()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	c := &SQLConn{
		driver: driver,
		db:     db,
		conn:   conn,
		logger: opts.Logger.With("component", driver+"-session"),
	}
	if driver == DriverDuckDB {
		c.registerSecrets(ctx, opts.Credentials)
	}
	return c, nil
}

// Driver returns the driver name of the session.
func (c *SQLConn) Driver() string { return c.driver }

// Begin implements domain.Conn.
func (c *SQLConn) Begin(ctx context.Context) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx
	return nil
}

// Commit implements domain.Conn.
func (c *SQLConn) Commit(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback implements domain.Conn.
func (c *SQLConn) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Notices implements domain.Conn. Neither embedded engine reports notices.
func (c *SQLConn) Notices() []string { return nil }

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execute implements domain.Conn. The statement runs under its own context
// so that Interrupt can abort it. Cursor names are ignored: database/sql
// already streams rows from both engines.
func (c *SQLConn) Execute(ctx context.Context, statement string, _ domain.ExecOptions) (domain.Rows, error) {
	var q sqlQueryer = c.conn
	if c.tx != nil {
		q = c.tx
	}
	stmtCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.inflight = cancel
	c.mu.Unlock()

	rows, err := q.QueryContext(stmtCtx, statement)
	if err != nil {
		c.finish()
		return nil, err
	}
	r := &sqlRows{rows: rows, conn: c, affected: -1, dml: isDML(statement)}
	if err := r.loadColumns(); err != nil {
		_ = r.Close()
		return nil, err
	}
	if c.driver == DriverDuckDB && r.dml {
		if err := r.takeCount(); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// isDML reports whether statement starts with a data-modifying keyword.
func isDML(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "insert", "update", "delete", "replace", "merge":
		return true
	}
	return false
}

func (c *SQLConn) finish() {
	c.mu.Lock()
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	c.mu.Unlock()
}

// interruptInflight cancels the running statement, if any.
func (c *SQLConn) interruptInflight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return false
	}
	c.inflight()
	return true
}

// Interrupt implements domain.Conn.
func (c *SQLConn) Interrupt(_ context.Context, target domain.Conn) error {
	t, ok := target.(*SQLConn)
	if !ok {
		return errWrongTarget(target, c.driver)
	}
	interrupted := t.interruptInflight()
	c.logger.Debug("cancel requested", "statement_running", interrupted)
	return nil
}

// Close implements domain.Conn.
func (c *SQLConn) Close(_ context.Context) error {
	c.finish()
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	connErr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return connErr
}

// sqlRows adapts *sql.Rows.
type sqlRows struct {
	rows     *sql.Rows
	conn     *SQLConn
	cols     []domain.DbColumn
	dest     []any
	ptrs     []any
	affected int64
	dml      bool
	closed   bool
}

func (r *sqlRows) loadColumns() error {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return err
	}
	r.cols = make([]domain.DbColumn, len(types))
	for i, ct := range types {
		col := domain.DbColumn{ColumnOrdinal: i, ColumnName: ct.Name(), DataTypeName: ct.DatabaseTypeName()}
		if nullable, ok := ct.Nullable(); ok {
			col.AllowDBNull = &nullable
		}
		r.cols[i] = col
	}
	r.dest = make([]any, len(types))
	r.ptrs = make([]any, len(types))
	for i := range r.dest {
		r.ptrs[i] = &r.dest[i]
	}
	return nil
}

func (r *sqlRows) Columns() []domain.DbColumn { return r.cols }

func (r *sqlRows) Next() bool {
	if r.rows.Next() {
		return true
	}
	if r.rows.Err() == nil && len(r.cols) == 0 && r.dml && r.conn.driver == DriverSQLite {
		r.affected = r.conn.changes()
	}
	return false
}

// takeCount turns the single-row Count result DuckDB returns for DML into
// an affected-row count and hides it as a result set.
func (r *sqlRows) takeCount() error {
	if len(r.cols) != 1 || !strings.EqualFold(r.cols[0].ColumnName, "Count") {
		return nil
	}
	if r.rows.Next() {
		var n int64
		if err := r.rows.Scan(&n); err != nil {
			return err
		}
		r.affected = n
	}
	if err := r.rows.Err(); err != nil {
		return err
	}
	r.cols = nil
	return nil
}

func (r *sqlRows) Values() ([]any, error) {
	if err := r.rows.Scan(r.ptrs...); err != nil {
		return nil, err
	}
	out := make([]any, len(r.dest))
	copy(out, r.dest)
	return out, nil
}

func (r *sqlRows) Err() error { return r.rows.Err() }

func (r *sqlRows) NextResultSet() bool {
	if !r.rows.NextResultSet() {
		return false
	}
	return r.loadColumns() == nil
}

func (r *sqlRows) RowsAffected() int64 { return r.affected }

func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	r.conn.finish()
	return err
}

// changes returns the rows changed by the last INSERT, UPDATE or DELETE on
// SQLite, and -1 for other engines.
func (c *SQLConn) changes() int64 {
	if c.driver != DriverSQLite {
		return -1
	}
	var q interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	} = c.conn
	if c.tx != nil {
		q = c.tx
	}
	var n int64
	if err := q.QueryRowContext(context.Background(), "SELECT changes()").Scan(&n); err != nil {
		return -1
	}
	return n
}
