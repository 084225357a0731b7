package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

func TestClassifyBatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want BatchKind
	}{
		{"select 1", BatchStreamingSelect},
		{"  SELECT\n\t* from t", BatchStreamingSelect},
		{"Select a\nfrom t where b = 'into'", BatchStreamingSelect},
		{"select * into t2 from t", BatchPlain},
		{"SELECT *\nINTO\tt2 FROM t", BatchPlain},
		{"insert into t values (1)", BatchPlain},
		{"with x as (select 1) select * from x", BatchPlain},
		{"selectx", BatchStreamingSelect},
		{"", BatchPlain},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyBatch(tt.text))
		})
	}
}

func TestNewBatch_CursorName(t *testing.T) {
	t.Parallel()

	sel := newBatch(0, "select 1", domain.SelectionRange{}, resultset.StorageFile)
	assert.True(t, strings.HasPrefix(sel.cursorName, "qd_"))
	assert.NotContains(t, sel.cursorName, "-")

	other := newBatch(1, "select 2", domain.SelectionRange{}, resultset.StorageFile)
	assert.NotEqual(t, sel.cursorName, other.cursorName)

	plain := newBatch(2, "delete from t", domain.SelectionRange{}, resultset.StorageMemory)
	assert.Empty(t, plain.cursorName)
}

func TestBatch_Lifecycle(t *testing.T) {
	t.Parallel()

	b := newBatch(4, "select 1", domain.SelectionRange{StartLine: 1}, resultset.StorageMemory)
	_, err := b.ResultSet(0)
	var addr *domain.SubsetAddressingError
	require.ErrorAs(t, err, &addr, "not executed yet")

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.markStarted(start)
	sum := b.Summary()
	assert.NotEmpty(t, sum.ExecutionStart)
	assert.Empty(t, sum.ExecutionEnd)

	rs := resultset.New(b.nextResultSetID(), b.Ordinal(), []domain.DbColumn{{ColumnName: "a"}}, resultset.NewMemoryStorage())
	require.NoError(t, rs.Append([]resultset.Value{resultset.Integer(1)}))
	b.addResultSet(rs)
	b.finish(start.Add(1500*time.Millisecond), -1, false, nil)

	sum = b.Summary()
	assert.Equal(t, 4, sum.ID)
	assert.Equal(t, "00:00:01.500", sum.ExecutionElapsed)
	require.Len(t, sum.ResultSetSummaries, 1)
	assert.Equal(t, 4, sum.ResultSetSummaries[0].BatchID)
	got, err := b.ResultSet(0)
	require.NoError(t, err)
	assert.Same(t, rs, got)
	_, err = b.ResultSet(1)
	require.ErrorAs(t, err, &addr)
}

func TestBatch_FinishCanceledIsNotAnError(t *testing.T) {
	t.Parallel()

	b := newBatch(0, "select 1", domain.SelectionRange{}, resultset.StorageMemory)
	b.finish(time.Now(), -1, true, domain.ErrStatementExecution(assert.AnError))
	assert.True(t, b.HasExecuted())
	assert.True(t, b.IsCanceled())
	assert.False(t, b.HasError())
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00:00:00.000", formatElapsed(-time.Second))
	assert.Equal(t, "00:00:00.042", formatElapsed(42*time.Millisecond))
	assert.Equal(t, "01:02:03.004", formatElapsed(time.Hour+2*time.Minute+3*time.Second+4*time.Millisecond))
}

func TestSplitBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		origin domain.SelectionRange
		want   []batchText
	}{
		{
			name: "single",
			text: "select 1",
			want: []batchText{{text: "select 1", selection: domain.SelectionRange{EndColumn: 8}}},
		},
		{
			name: "two on one line",
			text: "select 1; select 2;",
			want: []batchText{
				{text: "select 1", selection: domain.SelectionRange{EndColumn: 8}},
				{text: "select 2", selection: domain.SelectionRange{StartColumn: 10, EndColumn: 18}},
			},
		},
		{
			name:   "multi line with origin",
			text:   "select 1;\n\nupdate t\n   set a = 1",
			origin: domain.SelectionRange{StartLine: 10, StartColumn: 4},
			want: []batchText{
				{text: "select 1", selection: domain.SelectionRange{StartLine: 10, StartColumn: 4, EndLine: 10, EndColumn: 12}},
				{text: "update t\n   set a = 1", selection: domain.SelectionRange{StartLine: 12, StartColumn: 0, EndLine: 13, EndColumn: 12}},
			},
		},
		{
			name: "semicolon inside string",
			text: "select ';'; select 2",
			want: []batchText{
				{text: "select ';'", selection: domain.SelectionRange{EndColumn: 10}},
				{text: "select 2", selection: domain.SelectionRange{StartColumn: 12, EndColumn: 20}},
			},
		},
		{name: "empty", text: "   ", want: []batchText{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitBatches(tt.text, tt.origin))
		})
	}
}
