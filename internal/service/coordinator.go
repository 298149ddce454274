package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/obsreg/importer/internal/log"
	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
	"github.com/obsreg/importer/internal/registry"
)

// ReportWriter persists rejected rows of a job owned by owner and returns
// the new report id.
type ReportWriter interface {
	Write(ctx context.Context, owner string, rows []protocol.RejectedRow) (string, error)
	Remove(id string) error
}

type Coordinator struct {
	ctx         context.Context
	registry    *registry.Registry
	launcher    Launcher
	reports     ReportWriter
	reportRoute string
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewCoordinator returns a coordinator whose workers live at most as long
// as ctx. reportRoute is prepended to report ids to form the reference
// exposed to callers.
func NewCoordinator(ctx context.Context, reg *registry.Registry, launcher Launcher, reports ReportWriter, reportRoute string) *Coordinator {
	return &Coordinator{
		ctx:         ctx,
		registry:    reg,
		launcher:    launcher,
		reports:     reports,
		reportRoute: reportRoute,
		now:         time.Now,
	}
}

// WithClock replaces the time source. This method exists for a unit testing only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Start registers job id and launches its worker. It never blocks on the
// worker and never reports the outcome; failures end up in the registry.
//
// An existing record for id is replaced. The replaced job's worker keeps
// running but its events are no longer applied.
func (c *Coordinator) Start(id string, kind model.ImportKind, principal model.Principal) {
	ctx := log.JobAttrs(c.ctx, id, string(kind))
	if _, ok := c.registry.Get(id); ok {
		slog.WarnContext(ctx, "import job id reused: replacing record")
	}

	h, err := c.launcher.Launch(ctx, protocol.Input{ID: id, Kind: kind, Principal: principal})

	now := c.now()
	job := model.Job{
		ID:      id,
		Kind:    kind,
		Owner:   principal,
		Worker:  h,
		Details: model.NotStarted{},
		Created: now,
		Updated: now,
	}
	if err != nil {
		slog.ErrorContext(ctx, "launching import worker failed", "error", err)
		c.registry.Set(id, job.With(model.Failed{Kind: model.FailureProcessError, Description: err.Error()}, now))
		return
	}
	c.registry.Set(id, job)
	slog.InfoContext(ctx, "import worker launched", "worker", h.String(), "owner", principal.ID)

	c.wg.Go(func() {
		c.drive(ctx, id, h)
	})
}

// Wait blocks until every worker event stream has been drained or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) drive(ctx context.Context, id string, h Handle) {
	for ev := range h.Events() {
		c.apply(ctx, id, h, ev)
	}
	slog.DebugContext(ctx, "import worker event stream closed")
}

func (c *Coordinator) apply(ctx context.Context, id string, h Handle, ev Event) {
	cur, ok := c.registry.Get(id)
	if !ok || cur.Worker != h {
		slog.DebugContext(ctx, "event from a replaced worker ignored", "event", ev.Kind.String())
		return
	}
	if cur.Status().Terminal() {
		if ev.Kind != EventExit {
			slog.WarnContext(ctx, "event after terminal state ignored",
				"status", cur.Status(),
				"event", ev.Kind.String(),
				"frame", ev.Frame.Kind,
			)
		}
		return
	}

	details := c.next(ctx, cur.Owner, ev)
	applied := c.registry.Update(id, func(j model.Job) (model.Job, bool) {
		if j.Worker != h {
			return j, false
		}
		return j.With(details, c.now()), true
	})
	if !applied {
		// replaced while the event was being handled
		c.discard(ctx, details)
		return
	}

	if details.Status().Terminal() {
		slog.InfoContext(ctx, "import job finished", "status", details.Status())
	}
}

// next computes the record details that follow ev. The caller guarantees
// the job is not in a terminal state.
func (c *Coordinator) next(ctx context.Context, owner model.Principal, ev Event) model.Details {
	switch ev.Kind {
	case EventError:
		return model.Failed{Kind: model.FailureProcessError, Description: ev.Err.Error()}
	case EventExit:
		return model.Failed{
			Kind:        model.FailureUnexpectedExit,
			Description: fmt.Sprintf("worker exited with code %d", ev.ExitCode),
		}
	}

	f := ev.Frame
	switch f.Kind {
	case protocol.KindSubStatus:
		return model.Ongoing{SubStatus: f.Phase}
	case protocol.KindValidationProgress:
		return model.Ongoing{
			SubStatus: model.SubStatusValidatingInput,
			Stats: &model.ValidationStats{
				TotalLines:        f.Progress.TotalLines,
				TotalEntries:      f.Progress.EntriesToValidate,
				CheckedEntries:    f.Progress.ValidatedEntries,
				EntriesWithErrors: f.Progress.ErrorCount,
			},
		}
	case protocol.KindComplete:
		return c.complete(ctx, owner, f.RejectedRows)
	case protocol.KindFailed:
		return model.Failed{Kind: model.FailureImport, Description: f.Reason}
	case protocol.KindFault:
		return model.Failed{Kind: model.FailureProcessError, Description: f.Reason}
	}
	return model.Failed{
		Kind:        model.FailureProcessError,
		Description: fmt.Sprintf("unexpected frame %q", f.Kind),
	}
}

func (c *Coordinator) complete(ctx context.Context, owner model.Principal, rows []protocol.RejectedRow) model.Details {
	if len(rows) == 0 {
		return model.Complete{}
	}
	id, err := c.reports.Write(ctx, owner.ID, rows)
	if err != nil {
		slog.ErrorContext(ctx, "writing error report failed", "error", err)
		return model.Failed{
			Kind:        model.FailureProcessError,
			Description: fmt.Sprintf("writing error report: %v", err),
		}
	}
	count := len(rows)
	return model.Complete{ErrorReportRef: c.reportRoute + id, ErrorCount: &count}
}

// discard removes the report of details that never made it to the registry.
func (c *Coordinator) discard(ctx context.Context, details model.Details) {
	d, ok := details.(model.Complete)
	if !ok || d.ErrorReportRef == "" {
		return
	}
	id := strings.TrimPrefix(d.ErrorReportRef, c.reportRoute)
	if err := c.reports.Remove(id); err != nil {
		slog.WarnContext(ctx, "removing orphaned error report failed", "report_id", id, "error", err)
		return
	}
	slog.DebugContext(ctx, "orphaned error report removed", "report_id", id)
}
