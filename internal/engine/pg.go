package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"querydeck/internal/domain"
)

// SQLSTATE raised on a backend whose statement was cancelled.
const pgQueryCanceled = "57014"

// PgConn is a PostgreSQL session.
type PgConn struct {
	conn      *pgx.Conn
	tx        pgx.Tx
	fetchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	notices []string

	// cancelMu serializes Interrupt calls, which share this session.
	cancelMu sync.Mutex
}

var _ domain.Conn = (*PgConn)(nil)

// OpenPg connects to PostgreSQL. Server notices are buffered and returned by
// Notices.
func OpenPg(ctx context.Context, dsn string, opts Options) (*PgConn, error) {
	opts = opts.withDefaults()
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	c := &PgConn{fetchSize: opts.FetchSize, logger: opts.Logger.With("component", "pg-session")}
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		c.addNotice(n.Severity + ": " + n.Message)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.conn = conn
	return c, nil
}

func (c *PgConn) addNotice(msg string) {
	c.mu.Lock()
	c.notices = append(c.notices, msg)
	c.mu.Unlock()
}

// Notices implements domain.Conn.
func (c *PgConn) Notices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

// PID returns the backend process id of the session.
func (c *PgConn) PID() uint32 {
	return c.conn.PgConn().PID()
}

// Begin implements domain.Conn.
func (c *PgConn) Begin(ctx context.Context) error {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx
	return nil
}

// Commit implements domain.Conn.
func (c *PgConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback implements domain.Conn.
func (c *PgConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (c *PgConn) queryer() pgQueryer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Execute implements domain.Conn. With a cursor name the statement is
// declared as a NO SCROLL cursor and fetched in pages of the configured
// fetch size; this requires an open transaction.
func (c *PgConn) Execute(ctx context.Context, statement string, opts domain.ExecOptions) (domain.Rows, error) {
	q := c.queryer()
	if opts.CursorName == "" {
		rows, err := q.Query(ctx, statement, pgx.QueryExecModeSimpleProtocol)
		if err != nil {
			return nil, err
		}
		return &pgRows{rows: rows, typeMap: c.conn.TypeMap()}, nil
	}

	if c.tx == nil {
		return nil, errors.New("server-side cursors require an open transaction")
	}
	name := pgx.Identifier{opts.CursorName}.Sanitize()
	if _, err := q.Exec(ctx, "DECLARE "+name+" NO SCROLL CURSOR FOR "+cursorStatement(statement), pgx.QueryExecModeSimpleProtocol); err != nil {
		return nil, err
	}
	cr := &cursorRows{ctx: ctx, q: q, name: name, fetchSize: c.fetchSize, typeMap: c.conn.TypeMap(), logger: c.logger}
	if err := cr.fetchPage(); err != nil {
		cr.closeCursor()
		return nil, err
	}
	return cr, nil
}

// Interrupt implements domain.Conn by running pg_cancel_backend for the
// target's backend on this session.
func (c *PgConn) Interrupt(ctx context.Context, target domain.Conn) error {
	t, ok := target.(*PgConn)
	if !ok {
		return errWrongTarget(target, "postgres")
	}
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	var sent bool
	if err := c.conn.QueryRow(ctx, "SELECT pg_cancel_backend($1)", int32(t.PID())).Scan(&sent); err != nil {
		return fmt.Errorf("pg_cancel_backend: %w", err)
	}
	c.logger.Debug("cancel requested", "target_pid", t.PID(), "signalled", sent)
	return nil
}

// Close implements domain.Conn.
func (c *PgConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// IsQueryCanceled reports whether err is the server's statement cancelled error.
func IsQueryCanceled(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled
}

func pgColumns(fields []pgconn.FieldDescription, typeMap *pgtype.Map) []domain.DbColumn {
	cols := make([]domain.DbColumn, len(fields))
	for i, fd := range fields {
		typeName := "oid:" + strconv.FormatUint(uint64(fd.DataTypeOID), 10)
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			typeName = t.Name
		}
		cols[i] = domain.DbColumn{ColumnOrdinal: i, ColumnName: fd.Name, DataTypeName: typeName}
	}
	return cols
}

// rowCountTags are the command tags whose count is a row count.
var rowCountTags = []string{"INSERT", "UPDATE", "DELETE", "SELECT", "MERGE", "COPY", "FETCH", "MOVE"}

func rowsAffected(tag pgconn.CommandTag) int64 {
	s := tag.String()
	for _, prefix := range rowCountTags {
		if strings.HasPrefix(s, prefix) {
			return tag.RowsAffected()
		}
	}
	return -1
}

// pgRows adapts pgx.Rows.
type pgRows struct {
	rows    pgx.Rows
	typeMap *pgtype.Map
	cols    []domain.DbColumn
}

func (r *pgRows) Columns() []domain.DbColumn {
	if r.cols == nil {
		r.cols = pgColumns(r.rows.FieldDescriptions(), r.typeMap)
	}
	return r.cols
}

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Values() ([]any, error) { return r.rows.Values() }
func (r *pgRows) Err() error             { return r.rows.Err() }
func (r *pgRows) NextResultSet() bool    { return false }
func (r *pgRows) RowsAffected() int64    { return rowsAffected(r.rows.CommandTag()) }

func (r *pgRows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}

// cursorRows pages through a declared cursor with FETCH FORWARD.
type cursorRows struct {
	ctx       context.Context
	q         pgQueryer
	name      string
	fetchSize int
	typeMap   *pgtype.Map
	logger    *slog.Logger

	page     pgx.Rows
	pageRows int
	cols     []domain.DbColumn
	total    int64
	lastPage bool
	err      error
	closed   bool
}

func (r *cursorRows) fetchPage() error {
	rows, err := r.q.Query(r.ctx, "FETCH FORWARD "+strconv.Itoa(r.fetchSize)+" FROM "+r.name, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return err
	}
	r.page = rows
	r.pageRows = 0
	if r.cols == nil {
		r.cols = pgColumns(rows.FieldDescriptions(), r.typeMap)
	}
	return nil
}

func (r *cursorRows) Columns() []domain.DbColumn { return r.cols }

func (r *cursorRows) Next() bool {
	for r.err == nil && r.page != nil {
		if r.page.Next() {
			r.pageRows++
			r.total++
			return true
		}
		if err := r.page.Err(); err != nil {
			r.err = err
			return false
		}
		// A short page means the cursor is exhausted.
		if r.pageRows < r.fetchSize {
			r.page = nil
			r.lastPage = true
			return false
		}
		if err := r.fetchPage(); err != nil {
			r.err = err
			r.page = nil
			return false
		}
	}
	return false
}

func (r *cursorRows) Values() ([]any, error) { return r.page.Values() }
func (r *cursorRows) Err() error             { return r.err }
func (r *cursorRows) NextResultSet() bool    { return false }

func (r *cursorRows) RowsAffected() int64 {
	if !r.lastPage {
		return -1
	}
	return r.total
}

func (r *cursorRows) Close() error {
	if r.closed {
		return r.err
	}
	r.closed = true
	if r.page != nil {
		r.page.Close()
	}
	if r.err == nil {
		r.closeCursor()
	}
	return r.err
}

// closeCursor releases the cursor. Failures are logged only; the enclosing
// transaction ends the cursor anyway.
func (r *cursorRows) closeCursor() {
	if _, err := r.q.Exec(r.ctx, "CLOSE "+r.name, pgx.QueryExecModeSimpleProtocol); err != nil {
		r.logger.Debug("close cursor", "cursor", r.name, "error", err)
	}
}
