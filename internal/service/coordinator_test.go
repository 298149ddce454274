package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
	"github.com/obsreg/importer/internal/registry"
	"github.com/obsreg/importer/internal/service"
	"github.com/stretchr/testify/require"
)

const reportRoute = "/api/v1/imports/reports/"

var (
	u1    = model.Principal{ID: "u1", Role: model.RoleContributor}
	u2    = model.Principal{ID: "u2", Role: model.RoleContributor}
	admin = model.Principal{ID: "root", Role: model.RoleAdmin}
)

type fakeHandle struct {
	name   string
	events chan service.Event
}

func (h *fakeHandle) Events() <-chan service.Event { return h.events }
func (h *fakeHandle) String() string               { return h.name }

// emit blocks until the coordinator received every event.
func (h *fakeHandle) emit(evs ...service.Event) {
	for _, ev := range evs {
		h.events <- ev
	}
}

type fakeLauncher struct {
	mx      sync.Mutex
	err     error
	inputs  []protocol.Input
	handles map[string]*fakeHandle
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: make(map[string]*fakeHandle)}
}

func (l *fakeLauncher) Launch(_ context.Context, in protocol.Input) (service.Handle, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.inputs = append(l.inputs, in)
	h := &fakeHandle{name: "fake " + in.ID, events: make(chan service.Event)}
	l.handles[in.ID] = h
	return h, nil
}

func (l *fakeLauncher) handle(id string) *fakeHandle {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.handles[id]
}

type fakeReports struct {
	mx      sync.Mutex
	err     error
	calls   [][]protocol.RejectedRow
	owners  []string
	removed []string
	// afterWrite runs once a report is stored
	afterWrite func()
}

func (r *fakeReports) Write(_ context.Context, owner string, rows []protocol.RejectedRow) (string, error) {
	r.mx.Lock()
	if r.err != nil {
		r.mx.Unlock()
		return "", r.err
	}
	r.calls = append(r.calls, rows)
	r.owners = append(r.owners, owner)
	id := fmt.Sprintf("rep-%d", len(r.calls))
	after := r.afterWrite
	r.mx.Unlock()

	if after != nil {
		after()
	}
	return id, nil
}

func (r *fakeReports) Remove(id string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.removed = append(r.removed, id)
	return nil
}

type fixture struct {
	coordinator *service.Coordinator
	query       service.StatusQuery
	launcher    *fakeLauncher
	reports     *fakeReports
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := registry.New()
	launcher := newFakeLauncher()
	reports := &fakeReports{}
	return fixture{
		coordinator: service.NewCoordinator(t.Context(), reg, launcher, reports, reportRoute),
		query:       service.NewStatusQuery(reg),
		launcher:    launcher,
		reports:     reports,
	}
}

// finish closes the event stream of id and waits until it is drained.
func (f fixture) finish(t *testing.T, id string) {
	t.Helper()
	close(f.launcher.handle(id).events)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.coordinator.Wait(ctx))
}

func progress(total, validated, errs int) service.Event {
	return service.FrameEvent(protocol.ValidationProgress(protocol.Progress{
		TotalLines:        total,
		EntriesToValidate: total,
		ValidatedEntries:  validated,
		ErrorCount:        errs,
	}))
}

func TestCoordinatorNotStarted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.coordinator.Start("abc", model.ImportKindObservations, u1)
	view, ok := f.query.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, service.StatusView{Status: model.StatusNotStarted}, view)

	require.Equal(t, []protocol.Input{{ID: "abc", Kind: model.ImportKindObservations, Principal: u1}}, f.launcher.inputs)
	f.finish(t, "abc")
}

func TestCoordinatorScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.coordinator.Start("abc", model.ImportKindObservations, u1)
	h := f.launcher.handle("abc")
	h.emit(
		service.FrameEvent(protocol.SubStatus(model.SubStatusParsing)),
		progress(100, 50, 2),
		service.FrameEvent(protocol.Complete([]protocol.RejectedRow{
			{Line: 7, Column: "species", Reason: "unknown species"},
			{Line: 42, Column: "date", Reason: "invalid date"},
		})),
		service.ExitEvent(0),
	)
	f.finish(t, "abc")

	view, ok := f.query.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, model.StatusComplete, view.Status)
	require.Equal(t, reportRoute+"rep-1", view.ErrorReportRef)
	require.NotNil(t, view.ErrorCount)
	require.Equal(t, 2, *view.ErrorCount)
	require.Len(t, f.reports.calls, 1)
	require.Len(t, f.reports.calls[0], 2)
	require.Equal(t, []string{"u1"}, f.reports.owners)
	require.Empty(t, f.reports.removed)

	_, ok = f.query.GetStatus("abc", u2)
	require.False(t, ok)

	view, ok = f.query.GetStatus("abc", admin)
	require.True(t, ok)
	require.Equal(t, model.StatusComplete, view.Status)
}

func TestCoordinatorProgress(t *testing.T) {
	t.Parallel()

	t.Run("last snapshot wins", func(t *testing.T) {
		f := newFixture(t)
		f.coordinator.Start("p1", model.ImportKindObservations, u1)
		f.launcher.handle("p1").emit(
			progress(100, 10, 0),
			progress(100, 60, 3),
			progress(100, 90, 1),
		)
		f.finish(t, "p1")

		view, ok := f.query.GetStatus("p1", u1)
		require.True(t, ok)
		require.Equal(t, service.StatusView{
			Status:    model.StatusOngoing,
			SubStatus: model.SubStatusValidatingInput,
			ValidationStats: &model.ValidationStats{
				TotalLines:        100,
				TotalEntries:      100,
				CheckedEntries:    90,
				EntriesWithErrors: 1,
			},
		}, view)
	})

	t.Run("sub status drops stats", func(t *testing.T) {
		f := newFixture(t)
		f.coordinator.Start("p2", model.ImportKindLocations, u1)
		f.launcher.handle("p2").emit(
			progress(10, 10, 0),
			service.FrameEvent(protocol.SubStatus(model.SubStatusPersisting)),
		)
		f.finish(t, "p2")

		view, ok := f.query.GetStatus("p2", u1)
		require.True(t, ok)
		require.Equal(t, service.StatusView{Status: model.StatusOngoing, SubStatus: model.SubStatusPersisting}, view)
	})
}

func TestCoordinatorTerminal(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		name   string
		events []service.Event
		want   service.StatusView
	}{
		{
			name:   "complete without rows",
			events: []service.Event{service.FrameEvent(protocol.Complete(nil)), service.ExitEvent(0)},
			want:   service.StatusView{Status: model.StatusComplete},
		},
		{
			name:   "import failure",
			events: []service.Event{service.FrameEvent(protocol.Failed("missing header")), service.ExitEvent(1)},
			want:   service.StatusView{Status: model.StatusFailed, FailureKind: model.FailureImport, Description: "missing header"},
		},
		{
			name:   "process error",
			events: []service.Event{service.ErrorEvent(errors.New("pipe broken")), service.ExitEvent(2)},
			want:   service.StatusView{Status: model.StatusFailed, FailureKind: model.FailureProcessError, Description: "pipe broken"},
		},
		{
			name:   "worker fault",
			events: []service.Event{service.FrameEvent(protocol.Fault(errors.New("panic: nil map"))), service.ExitEvent(1)},
			want:   service.StatusView{Status: model.StatusFailed, FailureKind: model.FailureProcessError, Description: "panic: nil map"},
		},
		{
			name:   "unexpected exit",
			events: []service.Event{service.FrameEvent(protocol.SubStatus(model.SubStatusParsing)), service.ExitEvent(137)},
			want:   service.StatusView{Status: model.StatusFailed, FailureKind: model.FailureUnexpectedExit, Description: "worker exited with code 137"},
		},
		{
			name:   "clean exit without terminal frame",
			events: []service.Event{service.ExitEvent(0)},
			want:   service.StatusView{Status: model.StatusFailed, FailureKind: model.FailureUnexpectedExit, Description: "worker exited with code 0"},
		},
		{
			name: "frames after terminal state",
			events: []service.Event{
				service.FrameEvent(protocol.Complete(nil)),
				service.FrameEvent(protocol.Failed("late")),
				progress(1, 1, 0),
				service.ErrorEvent(errors.New("late error")),
				service.ExitEvent(3),
			},
			want: service.StatusView{Status: model.StatusComplete},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.coordinator.Start("job", model.ImportKindObservations, u1)
			f.launcher.handle("job").emit(tc.events...)
			f.finish(t, "job")

			view, ok := f.query.GetStatus("job", u1)
			require.True(t, ok)
			require.Equal(t, tc.want, view)
			require.Empty(t, f.reports.calls)
		})
	}
}

func TestCoordinatorLaunchError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.launcher.err = errors.New("exec: no such file")

	f.coordinator.Start("abc", model.ImportKindObservations, u1)
	view, ok := f.query.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, service.StatusView{
		Status:      model.StatusFailed,
		FailureKind: model.FailureProcessError,
		Description: "exec: no such file",
	}, view)
}

func TestCoordinatorReportError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.reports.err = errors.New("disk full")

	f.coordinator.Start("abc", model.ImportKindObservations, u1)
	f.launcher.handle("abc").emit(
		service.FrameEvent(protocol.Complete([]protocol.RejectedRow{{Line: 1, Reason: "bad"}})),
		service.ExitEvent(0),
	)
	f.finish(t, "abc")

	view, ok := f.query.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, view.Status)
	require.Equal(t, model.FailureProcessError, view.FailureKind)
	require.Contains(t, view.Description, "disk full")
}

func TestCoordinatorReusedID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.coordinator.Start("dup", model.ImportKindObservations, u1)
	first := f.launcher.handle("dup")
	f.coordinator.Start("dup", model.ImportKindLocations, u2)
	second := f.launcher.handle("dup")
	require.NotSame(t, first, second)

	first.emit(service.FrameEvent(protocol.Failed("stale")), service.ExitEvent(1))
	close(first.events)
	second.emit(service.FrameEvent(protocol.SubStatus(model.SubStatusReadingFile)))
	f.finish(t, "dup")

	_, ok := f.query.GetStatus("dup", u1)
	require.False(t, ok)
	view, ok := f.query.GetStatus("dup", u2)
	require.True(t, ok)
	require.Equal(t, service.StatusView{Status: model.StatusOngoing, SubStatus: model.SubStatusReadingFile}, view)
}

func TestCoordinatorReplacedWhileWritingReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.coordinator.Start("abc", model.ImportKindObservations, u1)
	first := f.launcher.handle("abc")
	f.reports.afterWrite = func() {
		f.coordinator.Start("abc", model.ImportKindLocations, u2)
	}

	first.emit(service.FrameEvent(protocol.Complete([]protocol.RejectedRow{{Line: 3, Reason: "bad"}})))
	close(first.events)
	f.finish(t, "abc")

	require.Equal(t, []string{"rep-1"}, f.reports.removed)
	_, ok := f.query.GetStatus("abc", u1)
	require.False(t, ok)
	view, ok := f.query.GetStatus("abc", u2)
	require.True(t, ok)
	require.Equal(t, service.StatusView{Status: model.StatusNotStarted}, view)
}

func TestCoordinatorConcurrentJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	const jobs = 16
	var wg sync.WaitGroup
	for i := range jobs {
		id := fmt.Sprintf("job-%d", i)
		f.coordinator.Start(id, model.ImportKindObservations, u1)
		h := f.launcher.handle(id)
		wg.Go(func() {
			for n := range 20 {
				h.emit(progress(20, n+1, i))
			}
			rows := make([]protocol.RejectedRow, i)
			for r := range rows {
				rows[r] = protocol.RejectedRow{Line: r + 1, Reason: "bad"}
			}
			h.emit(service.FrameEvent(protocol.Complete(rows)), service.ExitEvent(0))
			close(h.events)
		})
	}
	wg.Wait()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.coordinator.Wait(ctx))

	for i := range jobs {
		view, ok := f.query.GetStatus(fmt.Sprintf("job-%d", i), u1)
		require.True(t, ok)
		require.Equal(t, model.StatusComplete, view.Status)
		if i == 0 {
			require.Empty(t, view.ErrorReportRef)
			require.Nil(t, view.ErrorCount)
			continue
		}
		require.NotEmpty(t, view.ErrorReportRef)
		require.Equal(t, i, *view.ErrorCount)
	}
	require.Len(t, f.reports.calls, jobs-1)
}

func TestCoordinatorWaitTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.Start("slow", model.ImportKindObservations, u1)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.coordinator.Wait(ctx), context.DeadlineExceeded)

	f.finish(t, "slow")
}
