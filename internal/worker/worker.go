// Package worker is the isolated side of an import job. It reads the launch
// input, processes the uploaded file of the job and reports every step as a
// frame on its output. It never touches the job registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/obsreg/importer/internal/log"
	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/protocol"
)

var ErrPanic = errors.New("worker panicked")

type Worker struct {
	uploads       *os.Root
	reference     ReferenceLookup
	store         Store
	progressEvery int
	limit         int
	now           func() time.Time
}

// New returns a worker reading uploads from the given root. A progress
// snapshot is emitted after every progressEvery validated entries. A nil
// reference skips the reference checks.
func New(uploads *os.Root, reference ReferenceLookup, store Store, progressEvery int) *Worker {
	if progressEvery <= 0 {
		progressEvery = 500
	}
	return &Worker{
		uploads:       uploads,
		reference:     reference,
		store:         store,
		progressEvery: progressEvery,
		limit:         runtime.NumCPU(),
		now:           time.Now,
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Serve reads the launch input from r, runs the import and writes frames to
// out. A non nil error means the import ended with a fault frame, or with
// no terminal frame at all when out is broken.
func (w *Worker) Serve(ctx context.Context, r io.Reader, out io.Writer) error {
	enc := protocol.NewEncoder(out)
	in, err := protocol.ReadInput(r)
	if err != nil {
		return errors.Join(err, enc.Encode(protocol.Fault(err)))
	}
	ctx = log.JobAttrs(ctx, in.ID, string(in.Kind))
	slog.DebugContext(ctx, "import started", "principal", in.Principal.ID)

	if err := w.Run(ctx, in, enc); err != nil {
		slog.ErrorContext(ctx, "import aborted", "error", err)
		return errors.Join(err, enc.Encode(protocol.Fault(err)))
	}
	return nil
}

// Run executes the pipeline of in.Kind. Panics are returned as ErrPanic.
func (w *Worker) Run(ctx context.Context, in protocol.Input, enc *protocol.Encoder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	switch in.Kind {
	case model.ImportKindObservations:
		return importFile(ctx, w, in, enc, w.observations())
	case model.ImportKindLocations:
		return importFile(ctx, w, in, enc, w.locations())
	}
	return fmt.Errorf("%w: %q", model.ErrUnknownImportKind, in.Kind)
}
