package service_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
	"github.com/obsreg/importer/internal/registry"
	"github.com/obsreg/importer/internal/report"
	"github.com/obsreg/importer/internal/service"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func collect(t *testing.T, h service.Handle) []service.Event {
	t.Helper()
	var events []service.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("worker events not closed in time, got %d events", len(events))
		}
	}
}

var input = protocol.Input{ID: "abc", Kind: model.ImportKindObservations, Principal: u1}

func TestProcessLauncher(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var mx sync.Mutex
	var stderr []string
	handle := func(_ context.Context, line string) {
		mx.Lock()
		defer mx.Unlock()
		stderr = append(stderr, line)
	}

	script := `read -r line; echo "$line" 1>&2
echo '{"type":"sub_status","phase":"PARSING"}'
echo '{"type":"validation_progress","progress":{"totalLines":3,"entriesToValidate":2,"validatedEntries":2,"errorCount":1}}'
echo '{"type":"complete","rejectedRows":[{"line":3,"reason":"bad"}]}'`

	launcher := service.NewProcessLauncher(service.Command{
		Path:    sh,
		Args:    []string{"-c", script},
		Timeout: 10 * time.Second,
	}, handle)
	h, err := launcher.Launch(t.Context(), input)
	require.NoError(t, err)
	require.Contains(t, h.String(), "pid")

	events := collect(t, h)
	require.Len(t, events, 4)
	require.Equal(t, service.FrameEvent(protocol.SubStatus(model.SubStatusParsing)), events[0])
	require.Equal(t, service.EventFrame, events[1].Kind)
	require.Equal(t, 1, events[1].Frame.Progress.ErrorCount)
	require.Equal(t, protocol.KindComplete, events[2].Frame.Kind)
	require.Equal(t, []protocol.RejectedRow{{Line: 3, Reason: "bad"}}, events[2].Frame.RejectedRows)
	require.Equal(t, service.ExitEvent(0), events[3])

	mx.Lock()
	defer mx.Unlock()
	require.Len(t, stderr, 1)
	var got protocol.Input
	require.NoError(t, json.Unmarshal([]byte(stderr[0]), &got))
	require.Equal(t, input, got)
}

func TestProcessLauncherExitCode(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	launcher := service.NewProcessLauncher(service.Command{
		Path: sh,
		Args: []string{"-c", `cat >/dev/null; echo '{"type":"sub_status","phase":"READING_FILE"}'; exit 3`},
	}, nil)
	h, err := launcher.Launch(t.Context(), input)
	require.NoError(t, err)

	events := collect(t, h)
	require.Len(t, events, 2)
	require.Equal(t, service.EventFrame, events[0].Kind)
	require.Equal(t, service.ExitEvent(3), events[1])
}

func TestProcessLauncherGarbage(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	launcher := service.NewProcessLauncher(service.Command{
		Path: sh,
		Args: []string{"-c", `cat >/dev/null; echo 'panic: something'; echo '{"type":"complete"}'`},
	}, nil)
	h, err := launcher.Launch(t.Context(), input)
	require.NoError(t, err)

	events := collect(t, h)
	require.Len(t, events, 2)
	require.Equal(t, service.EventError, events[0].Kind)
	require.ErrorIs(t, events[0].Err, protocol.ErrMalformedFrame)
	require.Equal(t, service.ExitEvent(0), events[1])
}

func TestProcessLauncherTimeout(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	launcher := service.NewProcessLauncher(service.Command{
		Path:    sh,
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	}, nil)
	h, err := launcher.Launch(t.Context(), input)
	require.NoError(t, err)

	events := collect(t, h)
	require.Len(t, events, 2)
	require.ErrorIs(t, events[0].Err, service.ErrWorkerTimeout)
	require.Equal(t, service.EventExit, events[1].Kind)
	require.NotZero(t, events[1].ExitCode)
}

func TestProcessLauncherExecError(t *testing.T) {
	t.Parallel()
	launcher := service.NewProcessLauncher(service.Command{Path: "does not exist"}, nil)
	_, err := launcher.Launch(t.Context(), input)
	require.Error(t, err)
	var execErr *exec.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "does not exist", execErr.Name)
}

func TestCoordinatorWithProcess(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	script := `cat >/dev/null
echo '{"type":"sub_status","phase":"PARSING"}'
echo '{"type":"complete","rejectedRows":[{"line":7,"column":"species","value":"XX","reason":"unknown species"},{"line":42,"reason":"bad date"}]}'`

	store, err := report.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	launcher := service.NewProcessLauncher(service.Command{Path: sh, Args: []string{"-c", script}, Timeout: 10 * time.Second}, nil)
	coordinator := service.NewCoordinator(t.Context(), reg, launcher, store, reportRoute)
	query := service.NewStatusQuery(reg)

	coordinator.Start("abc", model.ImportKindObservations, u1)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Wait(ctx))

	view, ok := query.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, model.StatusComplete, view.Status)
	require.Equal(t, 2, *view.ErrorCount)
	require.True(t, strings.HasPrefix(view.ErrorReportRef, reportRoute))

	rc, err := store.Open(strings.TrimPrefix(view.ErrorReportRef, reportRoute))
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	rows, err := report.Decode(rc)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 7, rows[0].Line)
	require.Equal(t, "unknown species", rows[0].Reason)
}

func TestCoordinatorWithCrashingProcess(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	reg := registry.New()
	launcher := service.NewProcessLauncher(service.Command{Path: sh, Args: []string{"-c", "cat >/dev/null; exit 9"}}, nil)
	coordinator := service.NewCoordinator(t.Context(), reg, launcher, &fakeReports{}, reportRoute)

	coordinator.Start("crash", model.ImportKindLocations, u1)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Wait(ctx))

	view, ok := service.NewStatusQuery(reg).GetStatus("crash", admin)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, view.Status)
	require.Equal(t, model.FailureUnexpectedExit, view.FailureKind)
	require.Equal(t, "worker exited with code 9", view.Description)
}
