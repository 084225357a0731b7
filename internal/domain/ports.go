package domain

import "context"

// ConnectionPurpose tags a connection by what it is used for. Each owner
// URI holds at most one connection per purpose.
type ConnectionPurpose string

// Connection purposes.
const (
	PurposeDefault     ConnectionPurpose = "default"
	PurposeQuery       ConnectionPurpose = "query"
	PurposeQueryCancel ConnectionPurpose = "query_cancel"
	PurposeMetadata    ConnectionPurpose = "metadata"
)

// ConnectionProvider resolves the connection an owner URI uses for a purpose.
// Implemented by connection.Service.
type ConnectionProvider interface {
	GetConnection(ctx context.Context, ownerURI string, purpose ConnectionPurpose) (Conn, error)
}

// ExecOptions tunes how a statement is run.
type ExecOptions struct {
	// CursorName requests a named server-side cursor that is fetched in
	// pages instead of buffering the whole result. Empty means execute
	// directly.
	CursorName string
}

// Conn is a single database session. A Conn is used by one goroutine at a
// time, except for Interrupt which is called on a separate cancel connection.
// Implemented by engine.PgConn and engine.SQLConn.
type Conn interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Execute(ctx context.Context, statement string, opts ExecOptions) (Rows, error)
	// Notices returns and clears the informational messages the server sent
	// since the last call.
	Notices() []string
	// Interrupt asks the server to abort whatever target is running.
	Interrupt(ctx context.Context, target Conn) error
	Close(ctx context.Context) error
}

// Rows is a forward-only cursor over one or more result sets produced by a
// single statement.
type Rows interface {
	Columns() []DbColumn
	Next() bool
	// Values returns the current row as driver values.
	Values() ([]any, error)
	Err() error
	// NextResultSet advances to the next result set, if the driver produced one.
	NextResultSet() bool
	// RowsAffected is valid once the rows are closed. -1 means unknown.
	RowsAffected() int64
	Close() error
}

// RequestContext lets a handler answer one request and emit notifications
// on the same client channel. Implemented by jsonrpc.RequestContext and the
// HTTP transport.
type RequestContext interface {
	SendResponse(result any) error
	SendNotification(method string, params any) error
	SendError(err error) error
}

// WorkspaceResolver resolves document text for an owner URI.
// Implemented by workspace.Service.
type WorkspaceResolver interface {
	GetText(ownerURI string, selection *SelectionRange) (string, error)
}

// QueryHistoryRepository persists executed batches.
// Implemented by repository.QueryHistoryRepo.
type QueryHistoryRepository interface {
	Create(ctx context.Context, e *QueryHistoryEntry) error
	List(ctx context.Context, filter QueryHistoryFilter) ([]QueryHistoryEntry, int64, error)
}
