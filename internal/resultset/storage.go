package resultset

import (
	"context"
	"fmt"
	"os"
	"sync"

	"querydeck/internal/domain"
)

// StorageType selects a row storage strategy.
type StorageType int

// Storage types.
const (
	StorageMemory StorageType = iota
	StorageFile
)

func (t StorageType) String() string {
	if t == StorageFile {
		return "file"
	}
	return "memory"
}

// Storage holds the rows of one result set.
// Implemented by MemoryStorage and FileStorage.
type Storage interface {
	Type() StorageType
	// Append stores one row and returns the number of bytes written.
	Append(row []Value) (int, error)
	// Rows returns count rows starting at start. The caller validates the window.
	Rows(start, count int) ([][]Value, error)
	RowCount() int
	// Drain appends every remaining row of the current result set in rows.
	Drain(ctx context.Context, rows domain.Rows) error
	// Close releases the storage. For file storage the spill file is removed.
	Close() error
}

// Factory creates storages. Spill files are created in its directory and
// tracked in its registry while they are open.
type Factory struct {
	spillDir string
	registry *SpillRegistry
}

// NewFactory returns a Factory writing spill files to spillDir.
func NewFactory(spillDir string, registry *SpillRegistry) *Factory {
	if registry == nil {
		registry = NewSpillRegistry()
	}
	return &Factory{spillDir: spillDir, registry: registry}
}

// SpillDir returns the directory spill files are written to.
func (f *Factory) SpillDir() string { return f.spillDir }

// Registry returns the registry of live spill files.
func (f *Factory) Registry() *SpillRegistry { return f.registry }

// New creates a storage of type t.
func (f *Factory) New(t StorageType) (Storage, error) {
	switch t {
	case StorageMemory:
		return NewMemoryStorage(), nil
	case StorageFile:
		return NewFileStorage(f.spillDir, f.registry)
	default:
		return nil, fmt.Errorf("unknown storage type %d", t)
	}
}

// drainCheckInterval is how many rows are read between context checks.
const drainCheckInterval = 1000

// drainInto reads rows until exhaustion. Driver errors are returned as
// StatementExecutionError and storage failures as StorageIOError so the
// caller can tell them apart.
func drainInto(ctx context.Context, s Storage, rows domain.Rows) error {
	n := 0
	for rows.Next() {
		n++
		if n%drainCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return domain.ErrStatementExecution(err)
			}
		}
		vals, err := rows.Values()
		if err != nil {
			return domain.ErrStatementExecution(err)
		}
		row := make([]Value, len(vals))
		for i, v := range vals {
			row[i] = FromDriver(v)
		}
		if _, err := s.Append(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ErrStatementExecution(err)
	}
	return nil
}

// SpillRegistry tracks the spill files that belong to live storages.
type SpillRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewSpillRegistry returns an empty registry.
func NewSpillRegistry() *SpillRegistry {
	return &SpillRegistry{paths: make(map[string]struct{})}
}

func (r *SpillRegistry) add(path string) {
	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()
}

func (r *SpillRegistry) remove(path string) {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

// Owns reports whether path belongs to an open storage.
func (r *SpillRegistry) Owns(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[path]
	return ok
}

// Len returns the number of live spill files.
func (r *SpillRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func ensureSpillDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create spill dir %s: %w", dir, err)
	}
	return nil
}
