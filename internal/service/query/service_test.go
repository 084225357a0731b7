package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
	"querydeck/internal/testutil"
)

const owner = "file:///work/query.sql"

var textCol = []domain.DbColumn{{ColumnOrdinal: 0, ColumnName: "version", DataTypeName: "text"}}

type harness struct {
	svc      *Service
	conn     *testutil.MockConn
	canceler *testutil.MockConn
	rc       *testutil.MockRequestContext
	spillDir string
	history  *testutil.MockHistoryRepo
}

func newHarness(t *testing.T, conn *testutil.MockConn) *harness {
	t.Helper()
	h := &harness{
		conn:     conn,
		canceler: &testutil.MockConn{},
		rc:       testutil.NewMockRequestContext(),
		spillDir: t.TempDir(),
		history:  &testutil.MockHistoryRepo{},
	}
	provider := &testutil.MockConnectionProvider{
		GetConnectionFn: func(_ context.Context, _ string, purpose domain.ConnectionPurpose) (domain.Conn, error) {
			if purpose == domain.PurposeQueryCancel {
				return h.canceler, nil
			}
			return h.conn, nil
		},
	}
	workspace := &testutil.MockWorkspace{
		GetTextFn: func(string, *domain.SelectionRange) (string, error) {
			return "", domain.ErrNotFound("document not open")
		},
	}
	h.svc = NewService(provider, workspace, resultset.NewFactory(h.spillDir, nil), nil)
	h.svc.SetHistory(h.history)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *harness) execute(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.svc.ExecuteString(context.Background(), ExecuteStringParams{OwnerURI: owner, Query: text}, h.rc))
}

func (h *harness) waitComplete(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.rc.Count(NotifyQueryComplete) >= n },
		5*time.Second, 5*time.Millisecond, "query did not complete")
}

func (h *harness) messages(t *testing.T) []MessageParams {
	t.Helper()
	var out []MessageParams
	require.NoError(t, h.rc.Params(NotifyMessage, &out))
	return out
}

func (h *harness) spillFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(h.spillDir, "*"+resultset.SpillFileExt))
	require.NoError(t, err)
	return files
}

func rowsOf(rows *testutil.MockRows) func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
	return func(context.Context, string, domain.ExecOptions) (domain.Rows, error) { return rows, nil }
}

// === Execute ===

func TestExecute_SelectVersion(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{ExecuteFn: rowsOf(testutil.NewMockRows(textCol, []any{"PostgreSQL 16.2"}))}
	h := newHarness(t, conn)
	h.execute(t, "select version()")
	h.waitComplete(t, 1)

	assert.Equal(t, []any{struct{}{}}, h.rc.Responses())
	assert.Empty(t, h.rc.Errors())
	assert.Equal(t, []string{
		NotifyBatchStart, NotifyResultSetComplete, NotifyMessage, NotifyBatchComplete, NotifyQueryComplete,
	}, h.rc.Methods())

	msgs := h.messages(t)
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.False(t, m.Message.IsError)
	}
	assert.Equal(t, "(1 row affected)", msgs[len(msgs)-1].Message.Message)

	assert.Equal(t, 1, conn.Begins())
	assert.Equal(t, 1, conn.Commits())
	assert.Equal(t, 0, conn.Rollbacks())
	opts := conn.Options()
	require.Len(t, opts, 1)
	assert.True(t, strings.HasPrefix(opts[0].CursorName, "qd_"), "select uses a named cursor")

	q, ok := h.svc.Query(owner)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionExecuted, q.State())
	b, err := q.Batch(0)
	require.NoError(t, err)
	assert.True(t, b.HasExecuted())
	assert.False(t, b.HasError())
	assert.Equal(t, resultset.StorageFile, b.StorageType())

	var complete []QueryCompleteParams
	require.NoError(t, h.rc.Params(NotifyQueryComplete, &complete))
	require.Len(t, complete[0].BatchSummaries, 1)
	require.Len(t, complete[0].BatchSummaries[0].ResultSetSummaries, 1)
	assert.Equal(t, int64(1), complete[0].BatchSummaries[0].ResultSetSummaries[0].RowCount)
}

func TestExecute_StatementErrorHaltsLaterBatches(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{
		ExecuteFn: func(_ context.Context, stmt string, _ domain.ExecOptions) (domain.Rows, error) {
			if stmt == "bogus" {
				return nil, errors.New(`syntax error at or near "bogus"`)
			}
			return testutil.NewMockRows(textCol, []any{"x"}), nil
		},
	}
	h := newHarness(t, conn)
	h.execute(t, "select 1; bogus; select 2")
	h.waitComplete(t, 1)

	assert.Equal(t, []string{"select 1", "bogus"}, conn.Statements())
	assert.Equal(t, 1, conn.Commits())
	assert.Equal(t, 1, conn.Rollbacks())
	assert.Equal(t, 2, h.rc.Count(NotifyBatchStart))
	assert.Equal(t, 2, h.rc.Count(NotifyBatchComplete))
	assert.Equal(t, 1, h.rc.Count(NotifyQueryComplete))

	var errorMsgs []string
	for _, m := range h.messages(t) {
		if m.Message.IsError {
			errorMsgs = append(errorMsgs, m.Message.Message)
			require.NotNil(t, m.Message.BatchID)
			assert.Equal(t, 1, *m.Message.BatchID)
		}
	}
	assert.Equal(t, []string{`syntax error at or near "bogus"`}, errorMsgs)

	var complete []QueryCompleteParams
	require.NoError(t, h.rc.Params(NotifyQueryComplete, &complete))
	sums := complete[0].BatchSummaries
	require.Len(t, sums, 3)
	assert.False(t, sums[0].HasError)
	assert.True(t, sums[1].HasError)
	assert.Empty(t, sums[2].ExecutionStart, "third batch never ran")

	entries := h.history.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.HistoryStatusFailed, entries[1].Status)
}

func TestExecute_DriverErrorWhileDrainingDiscardsRows(t *testing.T) {
	t.Parallel()

	rows := &testutil.MockRows{Affected: -1, Results: []testutil.MockResult{{
		Columns: textCol,
		Rows:    [][]any{{"a"}, {"b"}, {"c"}},
		FailAt:  2,
		Err:     errors.New("connection reset"),
	}}}
	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(rows)})
	h.execute(t, "select v from t")
	h.waitComplete(t, 1)

	assert.Equal(t, 0, h.rc.Count(NotifyResultSetComplete))
	assert.Empty(t, h.spillFiles(t), "partial spill file is removed")
	assert.True(t, rows.Closed)

	q, _ := h.svc.Query(owner)
	b, err := q.Batch(0)
	require.NoError(t, err)
	assert.True(t, b.HasError())
	_, err = b.ResultSet(0)
	var addr *domain.SubsetAddressingError
	require.ErrorAs(t, err, &addr)
}

func TestExecute_StorageErrorFailsOnlyItsBatch(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{
		ExecuteFn: func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
			return testutil.NewMockRows(textCol, []any{"x"}), nil
		},
	}
	h := newHarness(t, conn)
	// A regular file where the spill directory should be.
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))
	h.svc.factory = resultset.NewFactory(blocked, nil)
	h.svc.SetStoragePolicy(StorageFile)

	h.execute(t, "select 1; select 2")
	h.waitComplete(t, 1)

	assert.Len(t, conn.Statements(), 2, "execution continues after a storage failure")
	assert.Equal(t, 2, conn.Rollbacks())
	var complete []QueryCompleteParams
	require.NoError(t, h.rc.Params(NotifyQueryComplete, &complete))
	for _, sum := range complete[0].BatchSummaries {
		assert.True(t, sum.HasError)
	}
}

func TestExecute_OutcomeMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		want     string
	}{
		{name: "rows affected", affected: 3, want: "(3 rows affected)"},
		{name: "one row", affected: 1, want: "(1 row affected)"},
		{name: "zero rows", affected: 0, want: "(0 rows affected)"},
		{name: "no count", affected: -1, want: "Commands completed successfully"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows := &testutil.MockRows{Affected: tt.affected}
			conn := &testutil.MockConn{
				ExecuteFn: rowsOf(rows),
				NoticesFn: func() []string { return []string{"NOTICE: table created"} },
			}
			h := newHarness(t, conn)
			h.execute(t, "update t set a = 1")
			h.waitComplete(t, 1)

			msgs := h.messages(t)
			require.Len(t, msgs, 2)
			assert.Equal(t, "NOTICE: table created", msgs[0].Message.Message)
			assert.False(t, msgs[0].Message.IsError)
			assert.Equal(t, tt.want, msgs[1].Message.Message)
			assert.Empty(t, conn.Options()[0].CursorName)
		})
	}
}

func TestExecute_AffectedCountReadAfterClose(t *testing.T) {
	t.Parallel()

	rows := &testutil.MockRows{Affected: 4, AffectedOnClose: true}
	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(rows)})
	h.execute(t, "delete from t where n > 2")
	h.waitComplete(t, 1)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "(4 rows affected)", msgs[0].Message.Message)
	assert.True(t, rows.Closed)
}

func TestExecute_AlreadyExecuting(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	conn := &testutil.MockConn{
		ExecuteFn: func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
			<-release
			return testutil.NewMockRows(textCol), nil
		},
	}
	h := newHarness(t, conn)
	h.execute(t, "select 1")

	other := testutil.NewMockRequestContext()
	err := h.svc.ExecuteString(context.Background(), ExecuteStringParams{OwnerURI: owner, Query: "select 2"}, other)
	var busy *domain.AlreadyExecutingError
	require.ErrorAs(t, err, &busy)
	assert.Empty(t, other.Responses())

	close(release)
	h.waitComplete(t, 1)
	assert.Equal(t, []string{"select 1"}, conn.Statements())
}

func TestExecute_ConnectionUnavailable(t *testing.T) {
	t.Parallel()

	provider := &testutil.MockConnectionProvider{
		GetConnectionFn: func(context.Context, string, domain.ConnectionPurpose) (domain.Conn, error) {
			return nil, domain.ErrNotFound("no connection for %s", owner)
		},
	}
	svc := NewService(provider, nil, resultset.NewFactory(t.TempDir(), nil), nil)
	rc := testutil.NewMockRequestContext()

	err := svc.ExecuteString(context.Background(), ExecuteStringParams{OwnerURI: owner, Query: "select 1"}, rc)
	var unavailable *domain.ConnectionUnavailableError
	require.ErrorAs(t, err, &unavailable)
	_, ok := svc.Query(owner)
	assert.False(t, ok, "no query is created")
	assert.Empty(t, rc.Responses())
}

func TestExecute_ReplacesFinishedQuery(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{
		ExecuteFn: func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
			return testutil.NewMockRows(textCol, []any{"x"}), nil
		},
	}
	h := newHarness(t, conn)
	h.execute(t, "select 1")
	h.waitComplete(t, 1)
	first := h.spillFiles(t)
	require.Len(t, first, 1)

	h.execute(t, "select 2")
	h.waitComplete(t, 2)
	second := h.spillFiles(t)
	require.Len(t, second, 1)
	assert.NotEqual(t, first, second, "the previous query's spill file was deleted")
}

func TestExecuteDocumentSelection(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{
		ExecuteFn: func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
			return &testutil.MockRows{Affected: -1}, nil
		},
	}
	h := newHarness(t, conn)
	sel := &domain.SelectionRange{StartLine: 5, StartColumn: 2, EndLine: 6, EndColumn: 12}
	h.svc.workspace = &testutil.MockWorkspace{
		GetTextFn: func(uri string, got *domain.SelectionRange) (string, error) {
			assert.Equal(t, owner, uri)
			assert.Equal(t, sel, got)
			return "create table a();\ndrop table a", nil
		},
	}

	err := h.svc.ExecuteDocumentSelection(context.Background(), ExecuteDocumentSelectionParams{OwnerURI: owner, QuerySelection: sel}, h.rc)
	require.NoError(t, err)
	h.waitComplete(t, 1)

	var complete []QueryCompleteParams
	require.NoError(t, h.rc.Params(NotifyQueryComplete, &complete))
	sums := complete[0].BatchSummaries
	require.Len(t, sums, 2)
	assert.Equal(t, domain.SelectionRange{StartLine: 5, StartColumn: 2, EndLine: 5, EndColumn: 18}, sums[0].Selection)
	assert.Equal(t, domain.SelectionRange{StartLine: 6, StartColumn: 0, EndLine: 6, EndColumn: 12}, sums[1].Selection)
}

func TestExecuteDocumentSelection_DocumentMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &testutil.MockConn{})
	err := h.svc.ExecuteDocumentSelection(context.Background(), ExecuteDocumentSelectionParams{OwnerURI: owner}, h.rc)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	_, ok := h.svc.Query(owner)
	assert.False(t, ok)
}

// === Cancel ===

func assertCanceled(t *testing.T, h *harness, res domain.QueryCancelResult) {
	t.Helper()
	assert.Nil(t, res.ErrorMessage)
	assert.Equal(t, 0, h.conn.Commits(), "commit is never called")
	assert.Equal(t, 1, h.conn.Rollbacks(), "rollback is called exactly once")

	q, ok := h.svc.Query(owner)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionExecuted, q.State())
	assert.True(t, q.IsCanceled())
	b, err := q.Batch(0)
	require.NoError(t, err)
	assert.True(t, b.IsCanceled())
	assert.True(t, b.HasExecuted())
	assert.False(t, b.HasError())

	var sawCancelMsg bool
	for _, m := range h.messages(t) {
		assert.False(t, m.Message.IsError)
		if m.Message.Message == msgCanceled {
			sawCancelMsg = true
		}
	}
	assert.True(t, sawCancelMsg)
	assert.Equal(t, 1, h.rc.Count(NotifyQueryComplete))

	entries := h.history.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.HistoryStatusCanceled, entries[0].Status)
}

func TestCancel_BeforeDriverCall(t *testing.T) {
	t.Parallel()

	results := make(chan domain.QueryCancelResult, 1)
	conn := &testutil.MockConn{}
	h := newHarness(t, conn)
	conn.BeginFn = func(ctx context.Context) error {
		results <- h.svc.Cancel(ctx, owner)
		return nil
	}
	h.execute(t, "select pg_sleep(60)")
	h.waitComplete(t, 1)

	assertCanceled(t, h, <-results)
	assert.Empty(t, conn.Statements(), "the statement never reaches the driver")
	assert.Equal(t, 0, h.canceler.Interrupts(), "nothing to interrupt")
}

func TestCancel_DuringDriverCall(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	interrupted := make(chan struct{})
	conn := &testutil.MockConn{
		ExecuteFn: func(ctx context.Context, _ string, _ domain.ExecOptions) (domain.Rows, error) {
			close(entered)
			select {
			case <-interrupted:
				return nil, errors.New("canceling statement due to user request")
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	h := newHarness(t, conn)
	var target domain.Conn
	h.canceler.InterruptFn = func(_ context.Context, c domain.Conn) error {
		target = c
		close(interrupted)
		return nil
	}

	h.execute(t, "select pg_sleep(60)")
	<-entered
	res := h.svc.Cancel(context.Background(), owner)
	h.waitComplete(t, 1)

	assertCanceled(t, h, res)
	assert.Equal(t, 1, h.canceler.Interrupts())
	assert.Same(t, conn, target, "the cancel connection targets the primary one")
}

type hookRows struct {
	*testutil.MockRows
	onClose func()
}

func (r *hookRows) Close() error {
	r.onClose()
	return r.MockRows.Close()
}

func TestCancel_AfterDriverCallBeforeCommit(t *testing.T) {
	t.Parallel()

	results := make(chan domain.QueryCancelResult, 1)
	conn := &testutil.MockConn{}
	h := newHarness(t, conn)
	conn.ExecuteFn = func(ctx context.Context, _ string, _ domain.ExecOptions) (domain.Rows, error) {
		return &hookRows{
			MockRows: testutil.NewMockRows(textCol, []any{"done"}),
			onClose:  func() { results <- h.svc.Cancel(ctx, owner) },
		}, nil
	}
	h.execute(t, "select 1")
	h.waitComplete(t, 1)

	assertCanceled(t, h, <-results)
	assert.Equal(t, 0, h.rc.Count(NotifyResultSetComplete), "results of a cancelled batch are discarded")
	assert.Empty(t, h.spillFiles(t))
}

func TestCancel_NothingToCancel(t *testing.T) {
	t.Parallel()

	conn := &testutil.MockConn{ExecuteFn: rowsOf(testutil.NewMockRows(textCol, []any{"x"}))}
	h := newHarness(t, conn)

	res := h.svc.Cancel(context.Background(), owner)
	require.NotNil(t, res.ErrorMessage)

	h.execute(t, "select 1")
	h.waitComplete(t, 1)
	res = h.svc.Cancel(context.Background(), owner)
	require.NotNil(t, res.ErrorMessage)
	assert.Contains(t, *res.ErrorMessage, "already completed")

	q, _ := h.svc.Query(owner)
	assert.False(t, q.IsCanceled(), "cancel after completion changes nothing")
	assert.Equal(t, 1, conn.Commits())
}

func TestCancel_InterruptFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	conn := &testutil.MockConn{
		ExecuteFn: func(ctx context.Context, _ string, _ domain.ExecOptions) (domain.Rows, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	h := newHarness(t, conn)
	h.canceler.InterruptFn = func(context.Context, domain.Conn) error { return errors.New("permission denied") }

	h.execute(t, "select pg_sleep(60)")
	<-entered
	res := h.svc.Cancel(context.Background(), owner)
	assert.Nil(t, res.ErrorMessage)

	// The statement ignores the failed interrupt; only aborting the
	// worker's context ends it.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.svc.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, 0, conn.Commits())
	assert.Equal(t, 1, conn.Rollbacks())
}

// === Subset ===

func TestSubset(t *testing.T) {
	t.Parallel()

	rows := testutil.NewMockRows(textCol, []any{"a"}, []any{nil}, []any{"c"})
	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(rows)})
	h.execute(t, "select v from t")
	h.waitComplete(t, 1)

	sub, err := h.svc.Subset(SubsetParams{OwnerURI: owner, RowsStartIndex: 1, RowsCount: 2})
	require.NoError(t, err)
	require.Equal(t, 2, sub.RowCount)
	assert.Equal(t, domain.DbCell{DisplayValue: resultset.NullDisplay, IsNull: true, RowID: 1}, sub.Rows[0][0])
	assert.Equal(t, "c", sub.Rows[1][0].DisplayValue)

	sub, err = h.svc.Subset(SubsetParams{OwnerURI: owner, RowsStartIndex: 3, RowsCount: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RowCount)

	bad := []SubsetParams{
		{OwnerURI: "file:///other.sql"},
		{OwnerURI: owner, BatchIndex: 1},
		{OwnerURI: owner, BatchIndex: -1},
		{OwnerURI: owner, ResultSetIndex: 1},
		{OwnerURI: owner, ResultSetIndex: -1},
		{OwnerURI: owner, RowsStartIndex: -1, RowsCount: 1},
		{OwnerURI: owner, RowsStartIndex: 0, RowsCount: -1},
		{OwnerURI: owner, RowsStartIndex: 2, RowsCount: 2},
		{OwnerURI: owner, RowsStartIndex: 4, RowsCount: 0},
	}
	for _, p := range bad {
		_, err := h.svc.Subset(p)
		var addr *domain.SubsetAddressingError
		assert.ErrorAs(t, err, &addr, "%+v", p)
	}
}

// === Dispose ===

func TestDispose_DeletesSpillFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(testutil.NewMockRows(textCol, []any{"a"}))})
	h.execute(t, "select 1")
	h.waitComplete(t, 1)
	require.Len(t, h.spillFiles(t), 1)

	assert.True(t, h.svc.Dispose(context.Background(), owner))
	assert.Empty(t, h.spillFiles(t))
	_, ok := h.svc.Query(owner)
	assert.False(t, ok)
	assert.False(t, h.svc.Dispose(context.Background(), owner))
}

func TestDispose_WhileExecuting(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	interrupted := make(chan struct{})
	conn := &testutil.MockConn{
		ExecuteFn: func(context.Context, string, domain.ExecOptions) (domain.Rows, error) {
			close(entered)
			<-interrupted
			return nil, errors.New("canceling statement due to user request")
		},
	}
	h := newHarness(t, conn)
	h.canceler.InterruptFn = func(context.Context, domain.Conn) error {
		close(interrupted)
		return nil
	}

	h.execute(t, "select 1")
	<-entered
	assert.True(t, h.svc.Dispose(context.Background(), owner))
	h.waitComplete(t, 1)

	assert.Equal(t, 1, conn.Rollbacks())
	assert.Empty(t, h.spillFiles(t))
	_, ok := h.svc.Query(owner)
	assert.False(t, ok)
}

// === Save ===

func TestSaveAs(t *testing.T) {
	t.Parallel()

	rows := testutil.NewMockRows(textCol, []any{"a"}, []any{"b"})
	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(rows)})
	h.execute(t, "select v from t")
	h.waitComplete(t, 1)

	dest := filepath.Join(t.TempDir(), "out.csv")
	rc := testutil.NewMockRequestContext()
	require.NoError(t, h.svc.SaveAs(context.Background(), "csv", SaveResultsParams{OwnerURI: owner, FilePath: dest}, rc))
	require.Eventually(t, func() bool { return rc.Count(NotifySaveComplete) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{struct{}{}}, rc.Responses())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "version\na\nb\n", string(data))
}

func TestSaveAs_Failures(t *testing.T) {
	t.Parallel()

	rows := testutil.NewMockRows(textCol, []any{"a"})
	h := newHarness(t, &testutil.MockConn{ExecuteFn: rowsOf(rows)})
	h.execute(t, "select v from t")
	h.waitComplete(t, 1)

	end := 5
	rc := testutil.NewMockRequestContext()
	err := h.svc.SaveAs(context.Background(), "json", SaveResultsParams{OwnerURI: owner, FilePath: "x.json", RowEndIndex: &end}, rc)
	var addr *domain.SubsetAddressingError
	require.ErrorAs(t, err, &addr)

	err = h.svc.SaveAs(context.Background(), "csv", SaveResultsParams{OwnerURI: owner, FilePath: "x.csv", Delimiter: ";;"}, rc)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, rc.Responses())

	dest := filepath.Join(t.TempDir(), "missing-dir", "out.json")
	require.NoError(t, h.svc.SaveAs(context.Background(), "json", SaveResultsParams{OwnerURI: owner, FilePath: dest}, rc))
	require.Eventually(t, func() bool { return rc.Count(NotifySaveFailed) == 1 }, 5*time.Second, 5*time.Millisecond)

	var failed []SaveEventParams
	require.NoError(t, rc.Params(NotifySaveFailed, &failed))
	require.NotNil(t, failed[0].ErrorMessage)
	assert.Equal(t, dest, failed[0].FilePath)
}

// === History ===

func TestHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &testutil.MockConn{})
	var got domain.QueryHistoryFilter
	h.history.ListFn = func(_ context.Context, f domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
		got = f
		return nil, 0, nil
	}

	status := "failed"
	res, err := h.svc.History(context.Background(), HistoryParams{Status: &status, Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.HistoryStatusFailed, *got.Status)
	assert.Equal(t, 10, got.Limit)

	bad := "exploded"
	_, err = h.svc.History(context.Background(), HistoryParams{Status: &bad})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
