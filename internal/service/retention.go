package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/registry"
)

// Pruner removes artifacts last modified before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Retention periodically removes artifacts older than maxAge.
type Retention struct {
	maxAge  time.Duration
	pruners map[string]Pruner
	now     func() time.Time
}

func NewRetention(maxAge time.Duration, pruners map[string]Pruner) *Retention {
	return &Retention{
		maxAge:  maxAge,
		pruners: pruners,
		now:     time.Now,
	}
}

func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

// Sweep runs every pruner once. A failing pruner does not stop the others.
func (r *Retention) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.maxAge)
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.pruners)) {
		n, err := r.pruners[name].Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning %s: %w", name, err))
		}
		slog.InfoContext(ctx, "retention sweep", "artifact", name, "removed", n, "cutoff", cutoff)
	}
	return errors.Join(errs...)
}

// Schedule runs Sweep according to the cron expression spec until the
// returned cron is stopped.
func (r *Retention) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	schedule, err := model.CronSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := r.Sweep(ctx); err != nil {
			slog.WarnContext(ctx, "retention sweep failed", "error", err)
		}
	}))
	c.Start()
	return c, nil
}

// Uploads prunes uploaded files. The upload of a job that is still
// registered and not finished is kept regardless of its age.
type Uploads struct {
	root *os.Root
	reg  *registry.Registry
}

func NewUploads(root *os.Root, reg *registry.Registry) *Uploads {
	return &Uploads{root: root, reg: reg}
}

func (u *Uploads) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := fs.ReadDir(u.root.FS(), ".")
	if err != nil {
		return 0, fmt.Errorf("listing uploads: %w", err)
	}
	var removed int
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() || u.active(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := u.root.Remove(e.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.DebugContext(ctx, "upload removed", "job_id", e.Name())
	}
	return removed, errors.Join(errs...)
}

func (u *Uploads) active(id string) bool {
	job, ok := u.reg.Get(id)
	return ok && !job.Status().Terminal()
}
