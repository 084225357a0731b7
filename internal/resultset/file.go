package resultset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"querydeck/internal/domain"
)

// SpillFileExt is the extension of spill files.
const SpillFileExt = ".qds"

type rowExtent struct {
	offset int64
	length uint32
}

// FileStorage appends encoded rows to a private temporary file and keeps the
// offset and length of every row in memory, so any window is read with one
// positioned read per row.
type FileStorage struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	path     string
	index    []rowExtent
	size     int64
	buf      []byte
	closed   bool
	registry *SpillRegistry
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a new spill file in dir.
func NewFileStorage(dir string, registry *SpillRegistry) (*FileStorage, error) {
	if err := ensureSpillDir(dir); err != nil {
		return nil, domain.ErrStorageIO(err, "open spill file")
	}
	path := filepath.Join(dir, "qd-"+uuid.NewString()+SpillFileExt)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path is generated
	if err != nil {
		return nil, domain.ErrStorageIO(err, "open spill file")
	}
	if registry != nil {
		registry.add(path)
	}
	return &FileStorage{
		f:        f,
		w:        bufio.NewWriterSize(f, 64*1024),
		path:     path,
		registry: registry,
	}, nil
}

// Path returns the spill file path.
func (s *FileStorage) Path() string { return s.path }

// Type implements Storage.
func (s *FileStorage) Type() StorageType { return StorageFile }

// Append implements Storage.
func (s *FileStorage) Append(row []Value) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, domain.ErrStorageIO(os.ErrClosed, "write spilled row")
	}
	s.buf = appendRow(s.buf[:0], row)
	n, err := s.w.Write(s.buf)
	if err != nil {
		return n, domain.ErrStorageIO(err, "write spilled row %d", len(s.index))
	}
	s.index = append(s.index, rowExtent{offset: s.size, length: uint32(n)})
	s.size += int64(n)
	return n, nil
}

// Rows implements Storage.
func (s *FileStorage) Rows(start, count int) ([][]Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrStorageIO(os.ErrClosed, "read spilled rows")
	}
	if s.w.Buffered() > 0 {
		if err := s.w.Flush(); err != nil {
			return nil, domain.ErrStorageIO(err, "flush spill file")
		}
	}
	out := make([][]Value, 0, count)
	for i := start; i < start+count; i++ {
		ext := s.index[i]
		if cap(s.buf) < int(ext.length) {
			s.buf = make([]byte, ext.length)
		}
		data := s.buf[:ext.length]
		if _, err := s.f.ReadAt(data, ext.offset); err != nil {
			return nil, domain.ErrStorageIO(err, "read spilled row %d", i)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, domain.ErrStorageIO(err, "decode spilled row %d", i)
		}
		out = append(out, row)
	}
	return out, nil
}

// RowCount implements Storage.
func (s *FileStorage) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Drain implements Storage. Buffered rows are flushed before returning.
func (s *FileStorage) Drain(ctx context.Context, rows domain.Rows) error {
	if err := drainInto(ctx, s, rows); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return domain.ErrStorageIO(err, "flush spill file")
	}
	return nil
}

// Close implements Storage. The spill file is deleted even if it was only
// partially written.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.index = nil
	if s.registry != nil {
		s.registry.remove(s.path)
	}
	closeErr := s.f.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove spill file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close spill file: %w", closeErr)
	}
	return nil
}
