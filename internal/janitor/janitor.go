// Package janitor removes spill files that outlived the result sets that
// wrote them.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"querydeck/internal/resultset"
)

// Owner reports whether a spill file still belongs to a live storage.
// Implemented by resultset.SpillRegistry.
type Owner interface {
	Owns(path string) bool
}

// Janitor sweeps a spill directory on a cron schedule.
type Janitor struct {
	dir      string
	ttl      time.Duration
	schedule string
	owner    Owner
	logger   *slog.Logger
	now      func() time.Time

	cron *cron.Cron
}

// New creates a janitor for dir. Files older than ttl that owner does not
// claim are removed.
func New(dir, schedule string, ttl time.Duration, owner Owner, logger *slog.Logger) *Janitor {
	return &Janitor{
		dir:      dir,
		ttl:      ttl,
		schedule: schedule,
		owner:    owner,
		logger:   logger.With("component", "janitor"),
		now:      time.Now,
		cron:     cron.New(),
	}
}

// Sweep removes stale spill files once and returns how many it removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read spill dir: %w", err)
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), resultset.SpillFileExt) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if j.owner != nil && j.owner.Owns(path) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("remove spill file failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("removed stale spill files", "count", removed, "dir", j.dir)
	}
	return removed, nil
}

// Run sweeps once, then on every schedule tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Warn("initial sweep failed", "error", err)
	}
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Warn("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.schedule, "ttl", j.ttl.String())

	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
	return nil
}
