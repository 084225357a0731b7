package resultset

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/domain"
	"querydeck/internal/testutil"
)

func sampleRow(i int) []Value {
	row := []Value{
		Integer(int64(i)),
		Text("row " + string(rune('a'+i%26))),
		Real(float64(i) / 3),
		Boolean(i%2 == 0),
		Binary([]byte{byte(i), byte(i >> 8)}),
		Opaque("opaque"),
		Null(),
	}
	if i%5 == 0 {
		row[1] = Null()
	}
	return row
}

func newFileStorage(t *testing.T) (*FileStorage, *SpillRegistry) {
	t.Helper()
	reg := NewSpillRegistry()
	s, err := NewFileStorage(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, reg
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	row := []Value{Null(), Text("héllo"), Integer(math.MinInt64), Real(-0.25), Boolean(true),
		Binary([]byte{}), Opaque(""), Text("")}
	buf := appendRow(nil, row)
	assert.Equal(t, encodedSize(row), len(buf))

	got, err := decodeRow(buf)
	require.NoError(t, err)
	require.Len(t, got, len(row))
	for i := range row {
		assert.Equal(t, row[i].Kind, got[i].Kind, "cell %d", i)
		assert.Equal(t, row[i].Display(), got[i].Display(), "cell %d", i)
	}
}

func TestCodec_Corrupt(t *testing.T) {
	t.Parallel()

	valid := appendRow(nil, []Value{Text("abc"), Integer(1)})
	cases := map[string][]byte{
		"empty":          {},
		"truncated":      valid[:len(valid)-3],
		"trailing bytes": append(append([]byte(nil), valid...), 0),
		"unknown kind":   {1, 0, 0, 0, 99},
		"huge count":     {0xff, 0xff, 0xff, 0xff},
	}
	for name, data := range cases {
		_, err := decodeRow(data)
		assert.ErrorIs(t, err, errCorruptRow, name)
	}
}

func TestFileStorage_Windows(t *testing.T) {
	t.Parallel()

	const n = 57
	s, _ := newFileStorage(t)
	for i := 0; i < n; i++ {
		written, err := s.Append(sampleRow(i))
		require.NoError(t, err)
		assert.Equal(t, encodedSize(sampleRow(i)), written)
	}
	require.Equal(t, n, s.RowCount())

	windows := [][2]int{{0, 0}, {0, 1}, {0, n}, {n - 1, 1}, {n, 0}, {10, 17}, {40, n - 40}}
	for _, w := range windows {
		rows, err := s.Rows(w[0], w[1])
		require.NoError(t, err)
		require.Len(t, rows, w[1])
		for j, row := range rows {
			want := sampleRow(w[0] + j)
			require.Len(t, row, len(want))
			for c := range want {
				assert.Equal(t, want[c].IsNull(), row[c].IsNull())
				assert.Equal(t, want[c].Display(), row[c].Display())
			}
		}
	}
}

func TestFileStorage_AppendAfterRead(t *testing.T) {
	t.Parallel()

	s, _ := newFileStorage(t)
	_, err := s.Append([]Value{Integer(1)})
	require.NoError(t, err)
	rows, err := s.Rows(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows[0][0].Int)

	_, err = s.Append([]Value{Integer(2)})
	require.NoError(t, err)
	rows, err = s.Rows(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows[0][0].Int)
}

func TestFileStorage_CloseDeletesFile(t *testing.T) {
	t.Parallel()

	s, reg := newFileStorage(t)
	_, err := s.Append(sampleRow(1))
	require.NoError(t, err)
	assert.True(t, reg.Owns(s.Path()))
	assert.FileExists(t, s.Path())

	require.NoError(t, s.Close())
	assert.NoFileExists(t, s.Path())
	assert.False(t, reg.Owns(s.Path()))
	assert.Equal(t, 0, reg.Len())

	require.NoError(t, s.Close(), "second close is a no-op")
	_, err = s.Append(sampleRow(2))
	var storageErr *domain.StorageIOError
	assert.ErrorAs(t, err, &storageErr)
}

func TestFileStorage_OpenFailure(t *testing.T) {
	t.Parallel()

	// A regular file where the spill directory should be.
	blocker := t.TempDir() + "/blocker"
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := NewFileStorage(blocker+"/spill", nil)
	var storageErr *domain.StorageIOError
	require.ErrorAs(t, err, &storageErr)
}

func TestFactory_New(t *testing.T) {
	t.Parallel()

	f := NewFactory(t.TempDir(), nil)

	mem, err := f.New(StorageMemory)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, mem.Type())

	file, err := f.New(StorageFile)
	require.NoError(t, err)
	assert.Equal(t, StorageFile, file.Type())
	assert.Equal(t, 1, f.Registry().Len())
	require.NoError(t, file.Close())

	_, err = f.New(StorageType(9))
	require.Error(t, err)
}

func TestDrain(t *testing.T) {
	t.Parallel()

	for _, typ := range []StorageType{StorageMemory, StorageFile} {
		t.Run(typ.String(), func(t *testing.T) {
			t.Parallel()
			s, err := NewFactory(t.TempDir(), nil).New(typ)
			require.NoError(t, err)
			defer s.Close() //nolint:errcheck

			rows := testutil.NewMockRows(
				[]domain.DbColumn{{ColumnName: "id"}, {ColumnName: "name"}},
				[]any{int64(1), "one"},
				[]any{int64(2), nil},
			)
			require.NoError(t, s.Drain(context.Background(), rows))
			require.Equal(t, 2, s.RowCount())

			got, err := s.Rows(0, 2)
			require.NoError(t, err)
			assert.Equal(t, "one", got[0][1].Display())
			assert.True(t, got[1][1].IsNull())
		})
	}
}

func TestDrain_DriverError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	rows := &testutil.MockRows{Results: []testutil.MockResult{{
		Columns: []domain.DbColumn{{ColumnName: "n"}},
		Rows:    [][]any{{1}, {2}, {3}},
		FailAt:  2,
		Err:     boom,
	}}}

	s := NewMemoryStorage()
	err := s.Drain(context.Background(), rows)
	var execErr *domain.StatementExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, s.RowCount())
}
