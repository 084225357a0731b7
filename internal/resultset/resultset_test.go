package resultset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/domain"
)

func newTestResultSet(t *testing.T, typ StorageType, n int) *ResultSet {
	t.Helper()
	s, err := NewFactory(t.TempDir(), nil).New(typ)
	require.NoError(t, err)
	rs := New(0, 3, []domain.DbColumn{{ColumnName: "n", DataTypeName: "int8"}, {ColumnName: "label", DataTypeName: "text"}}, s)
	for i := 0; i < n; i++ {
		label := Text("v")
		if i%3 == 0 {
			label = Null()
		}
		require.NoError(t, rs.Append([]Value{Integer(int64(i)), label}))
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestSubset_Windows(t *testing.T) {
	t.Parallel()

	const n = 25
	for _, typ := range []StorageType{StorageMemory, StorageFile} {
		rs := newTestResultSet(t, typ, n)
		for start := 0; start <= n; start++ {
			for count := 0; start+count <= n; count += 4 {
				sub, err := rs.Subset(start, count)
				require.NoError(t, err)
				require.Equal(t, count, sub.RowCount)
				require.Len(t, sub.Rows, count)
				for i, row := range sub.Rows {
					abs := start + i
					for _, cell := range row {
						assert.Equal(t, int64(abs), cell.RowID)
					}
					assert.Equal(t, row[0].DisplayValue, Integer(int64(abs)).Display())
					assert.Equal(t, abs%3 == 0, row[1].IsNull)
					if abs%3 == 0 {
						assert.Equal(t, NullDisplay, row[1].DisplayValue)
					}
				}
			}
		}
	}
}

func TestSubset_AddressingErrors(t *testing.T) {
	t.Parallel()

	rs := newTestResultSet(t, StorageMemory, 10)
	tests := []struct {
		name         string
		start, count int
	}{
		{"negative start", -1, 1},
		{"negative count", 0, -1},
		{"start past end", 11, 0},
		{"window past end", 5, 6},
		{"count past end", 0, 11},
		{"overflowing window", 1, int(^uint(0) >> 1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := rs.Subset(tc.start, tc.count)
			var addrErr *domain.SubsetAddressingError
			require.ErrorAs(t, err, &addrErr)
		})
	}
}

func TestSubset_EmptyResult(t *testing.T) {
	t.Parallel()

	rs := newTestResultSet(t, StorageFile, 0)
	sub, err := rs.Subset(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RowCount)
	assert.Empty(t, sub.Rows)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	rs := newTestResultSet(t, StorageMemory, 4)
	sum := rs.Summary()
	assert.Equal(t, 0, sum.ID)
	assert.Equal(t, 3, sum.BatchID)
	assert.Equal(t, int64(4), sum.RowCount)
	assert.Len(t, sum.ColumnInfo, 2)
	assert.Nil(t, sum.SpecialAction)

	for _, typ := range []string{"json", "JSONB", "xml"} {
		single := New(1, 0, []domain.DbColumn{{ColumnName: "doc", DataTypeName: typ}}, NewMemoryStorage())
		require.NotNil(t, single.Summary().SpecialAction, typ)
		assert.True(t, single.Summary().SpecialAction.StructuredText)
	}
}

func TestNew_CopiesColumns(t *testing.T) {
	t.Parallel()

	cols := []domain.DbColumn{{ColumnName: "a"}}
	rs := New(0, 0, cols, NewMemoryStorage())
	cols[0].ColumnName = "changed"
	assert.Equal(t, "a", rs.Columns()[0].ColumnName)
}
