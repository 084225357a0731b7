package resultset

import (
	"context"
	"sync"

	"querydeck/internal/domain"
)

// MemoryStorage keeps rows in a slice.
type MemoryStorage struct {
	mu   sync.RWMutex
	rows [][]Value
	size int
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Type implements Storage.
func (m *MemoryStorage) Type() StorageType { return StorageMemory }

// Append implements Storage. The returned size is the encoded size the row
// would have in a spill file.
func (m *MemoryStorage) Append(row []Value) (int, error) {
	n := encodedSize(row)
	m.mu.Lock()
	m.rows = append(m.rows, row)
	m.size += n
	m.mu.Unlock()
	return n, nil
}

// Rows implements Storage.
func (m *MemoryStorage) Rows(start, count int) ([][]Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]Value, count)
	copy(out, m.rows[start:start+count])
	return out, nil
}

// RowCount implements Storage.
func (m *MemoryStorage) RowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Drain implements Storage.
func (m *MemoryStorage) Drain(ctx context.Context, rows domain.Rows) error {
	return drainInto(ctx, m, rows)
}

// Close implements Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.rows = nil
	m.mu.Unlock()
	return nil
}

func encodedSize(row []Value) int {
	n := 4
	for _, v := range row {
		n++
		switch v.Kind {
		case KindInteger, KindReal:
			n += 8
		case KindBoolean:
			n++
		case KindText, KindOpaque:
			n += 4 + len(v.Str)
		case KindBinary:
			n += 4 + len(v.Bytes)
		}
	}
	return n
}
