// Package engine adapts database drivers to the domain.Conn session port.
//
// PostgreSQL sessions run on pgx and stream SELECT results through named
// server-side cursors. DuckDB and SQLite sessions run on database/sql and are
// interrupted by cancelling the context of the in-flight statement.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"querydeck/internal/domain"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
)

// DefaultFetchSize is the number of rows fetched per cursor round trip.
const DefaultFetchSize = 1000

// Options tunes the sessions opened by Open.
type Options struct {
	FetchSize   int
	Credentials CloudCredentials
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FetchSize <= 0 {
		o.FetchSize = DefaultFetchSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NormalizeDriver maps driver aliases to the canonical names.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres, nil
	case "duckdb":
		return DriverDuckDB, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", domain.ErrValidation("unsupported driver %q", driver)
	}
}

// Open opens one session for driver.
func Open(ctx context.Context, driver, dsn string, opts Options) (domain.Conn, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch name {
	case DriverPostgres:
		return OpenPg(ctx, dsn, opts)
	default:
		return OpenSQL(ctx, name, dsn, opts)
	}
}

// cursorStatement strips trailing semicolons so the text can be wrapped in
// DECLARE ... CURSOR FOR.
func cursorStatement(stmt string) string {
	return strings.TrimRight(strings.TrimSpace(stmt), "; \t\r\n")
}

func errWrongTarget(target domain.Conn, want string) error {
	return fmt.Errorf("cannot interrupt %T from a %s session", target, want)
}
