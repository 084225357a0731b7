// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"querydeck/internal/domain"
)

// === Rows Mock ===

// MockResult is one result set produced by MockRows.
type MockResult struct {
	Columns []domain.DbColumn
	Rows    [][]any
	// FailAt makes Next fail with Err once FailAt rows were returned. Zero disables it.
	FailAt int
	Err    error
}

// MockRows implements domain.Rows over static data.
type MockRows struct {
	Results  []MockResult
	Affected int64
	// AffectedOnClose hides Affected until Close, like pgx command tags.
	AffectedOnClose bool

	set    int
	pos    int
	err    error
	Closed bool
}

// NewMockRows returns rows with a single result set.
func NewMockRows(cols []domain.DbColumn, rows ...[]any) *MockRows {
	return &MockRows{Results: []MockResult{{Columns: cols, Rows: rows}}, Affected: -1}
}

// Columns implements the interface method for testing.
func (m *MockRows) Columns() []domain.DbColumn {
	if m.set >= len(m.Results) {
		return nil
	}
	return m.Results[m.set].Columns
}

// Next implements the interface method for testing.
func (m *MockRows) Next() bool {
	if m.err != nil || m.set >= len(m.Results) {
		return false
	}
	r := m.Results[m.set]
	if r.FailAt > 0 && m.pos >= r.FailAt {
		m.err = r.Err
		return false
	}
	if m.pos >= len(r.Rows) {
		return false
	}
	m.pos++
	return true
}

// Values implements the interface method for testing.
func (m *MockRows) Values() ([]any, error) {
	return m.Results[m.set].Rows[m.pos-1], nil
}

// Err implements the interface method for testing.
func (m *MockRows) Err() error { return m.err }

// NextResultSet implements the interface method for testing.
func (m *MockRows) NextResultSet() bool {
	if m.err != nil || m.set+1 >= len(m.Results) {
		return false
	}
	m.set++
	m.pos = 0
	return true
}

// RowsAffected implements the interface method for testing.
func (m *MockRows) RowsAffected() int64 {
	if m.AffectedOnClose && !m.Closed {
		return -1
	}
	return m.Affected
}

// Close implements the interface method for testing.
func (m *MockRows) Close() error {
	m.Closed = true
	return nil
}

var _ domain.Rows = (*MockRows)(nil)

// === Connection Mock ===

// MockConn implements domain.Conn for testing. Calls are counted so tests
// can assert on the transaction bracket.
type MockConn struct {
	BeginFn     func(ctx context.Context) error
	CommitFn    func(ctx context.Context) error
	RollbackFn  func(ctx context.Context) error
	ExecuteFn   func(ctx context.Context, statement string, opts domain.ExecOptions) (domain.Rows, error)
	InterruptFn func(ctx context.Context, target domain.Conn) error
	NoticesFn   func() []string

	mu         sync.Mutex
	begins     int
	commits    int
	rollbacks  int
	interrupts int
	statements []string
	options    []domain.ExecOptions
	closed     bool
}

// Begin implements the interface method for testing.
func (m *MockConn) Begin(ctx context.Context) error {
	m.mu.Lock()
	m.begins++
	m.mu.Unlock()
	if m.BeginFn != nil {
		return m.BeginFn(ctx)
	}
	return nil
}

// Commit implements the interface method for testing.
func (m *MockConn) Commit(ctx context.Context) error {
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
	if m.CommitFn != nil {
		return m.CommitFn(ctx)
	}
	return nil
}

// Rollback implements the interface method for testing.
func (m *MockConn) Rollback(ctx context.Context) error {
	m.mu.Lock()
	m.rollbacks++
	m.mu.Unlock()
	if m.RollbackFn != nil {
		return m.RollbackFn(ctx)
	}
	return nil
}

// Execute implements the interface method for testing.
func (m *MockConn) Execute(ctx context.Context, statement string, opts domain.ExecOptions) (domain.Rows, error) {
	m.mu.Lock()
	m.statements = append(m.statements, statement)
	m.options = append(m.options, opts)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, statement, opts)
	}
	panic("unexpected call to MockConn.Execute")
}

// Notices implements the interface method for testing.
func (m *MockConn) Notices() []string {
	if m.NoticesFn != nil {
		return m.NoticesFn()
	}
	return nil
}

// Interrupt implements the interface method for testing.
func (m *MockConn) Interrupt(ctx context.Context, target domain.Conn) error {
	m.mu.Lock()
	m.interrupts++
	m.mu.Unlock()
	if m.InterruptFn != nil {
		return m.InterruptFn(ctx, target)
	}
	return nil
}

// Close implements the interface method for testing.
func (m *MockConn) Close(_ context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Commits returns how many times Commit was called.
func (m *MockConn) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns how many times Rollback was called.
func (m *MockConn) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// Begins returns how many times Begin was called.
func (m *MockConn) Begins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins
}

// Interrupts returns how many times Interrupt was called.
func (m *MockConn) Interrupts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupts
}

// Statements returns the executed statements in order.
func (m *MockConn) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

// IsClosed reports whether Close was called.
func (m *MockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Options returns the options passed to each Execute call.
func (m *MockConn) Options() []domain.ExecOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ExecOptions(nil), m.options...)
}

var _ domain.Conn = (*MockConn)(nil)

// === Connection Provider Mock ===

// MockConnectionProvider implements domain.ConnectionProvider for testing.
type MockConnectionProvider struct {
	GetConnectionFn func(ctx context.Context, ownerURI string, purpose domain.ConnectionPurpose) (domain.Conn, error)
}

// GetConnection implements the interface method for testing.
func (m *MockConnectionProvider) GetConnection(ctx context.Context, ownerURI string, purpose domain.ConnectionPurpose) (domain.Conn, error) {
	if m.GetConnectionFn != nil {
		return m.GetConnectionFn(ctx, ownerURI, purpose)
	}
	panic("unexpected call to MockConnectionProvider.GetConnection")
}

var _ domain.ConnectionProvider = (*MockConnectionProvider)(nil)

// === Request Context Mock ===

// Notification is one recorded notification.
type Notification struct {
	Method string
	Params any
}

// MockRequestContext implements domain.RequestContext and records everything
// that was sent. It is safe for concurrent use.
type MockRequestContext struct {
	mu            sync.Mutex
	responses     []any
	errors        []error
	notifications []Notification
}

// NewMockRequestContext returns an empty recorder.
func NewMockRequestContext() *MockRequestContext {
	return &MockRequestContext{}
}

// SendResponse implements the interface method for testing.
func (m *MockRequestContext) SendResponse(result any) error {
	m.mu.Lock()
	m.responses = append(m.responses, result)
	m.mu.Unlock()
	return nil
}

// SendNotification implements the interface method for testing.
func (m *MockRequestContext) SendNotification(method string, params any) error {
	m.mu.Lock()
	m.notifications = append(m.notifications, Notification{Method: method, Params: params})
	m.mu.Unlock()
	return nil
}

// SendError implements the interface method for testing.
func (m *MockRequestContext) SendError(err error) error {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
	return nil
}

// Responses returns the recorded responses.
func (m *MockRequestContext) Responses() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.responses...)
}

// Errors returns the recorded errors.
func (m *MockRequestContext) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errors...)
}

// Notifications returns the recorded notifications in order.
func (m *MockRequestContext) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}

// Methods returns the method of every recorded notification in order.
func (m *MockRequestContext) Methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.notifications))
	for i, n := range m.notifications {
		out[i] = n.Method
	}
	return out
}

// Count returns how many notifications of method were recorded.
func (m *MockRequestContext) Count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.notifications {
		if rec.Method == method {
			n++
		}
	}
	return n
}

// Params returns the params of every notification of method, re-encoded
// through JSON into out, which must be a pointer to a slice.
func (m *MockRequestContext) Params(method string, out any) error {
	var matched []any
	for _, n := range m.Notifications() {
		if n.Method == method {
			matched = append(matched, n.Params)
		}
	}
	b, err := json.Marshal(matched)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

var _ domain.RequestContext = (*MockRequestContext)(nil)

// === Workspace Mock ===

// MockWorkspace implements domain.WorkspaceResolver for testing.
type MockWorkspace struct {
	GetTextFn func(ownerURI string, selection *domain.SelectionRange) (string, error)
}

// GetText implements the interface method for testing.
func (m *MockWorkspace) GetText(ownerURI string, selection *domain.SelectionRange) (string, error) {
	if m.GetTextFn != nil {
		return m.GetTextFn(ownerURI, selection)
	}
	panic("unexpected call to MockWorkspace.GetText")
}

var _ domain.WorkspaceResolver = (*MockWorkspace)(nil)

// === Query History Repository Mock ===

// MockHistoryRepo implements domain.QueryHistoryRepository for testing.
type MockHistoryRepo struct {
	CreateFn func(ctx context.Context, e *domain.QueryHistoryEntry) error
	ListFn   func(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error)

	mu      sync.Mutex
	entries []domain.QueryHistoryEntry
}

// Create implements the interface method for testing.
func (m *MockHistoryRepo) Create(ctx context.Context, e *domain.QueryHistoryEntry) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

// List implements the interface method for testing.
func (m *MockHistoryRepo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockHistoryRepo.List")
}

// Entries returns the collected entries.
func (m *MockHistoryRepo) Entries() []domain.QueryHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.QueryHistoryEntry(nil), m.entries...)
}

var _ domain.QueryHistoryRepository = (*MockHistoryRepo)(nil)
