package worker

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"slices"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/parallel"
	"github.com/obsreg/importer/internal/protocol"
)

type entry[T any] struct {
	line  int
	value T
}

type checked[T any] struct {
	accepted []entry[T]
	rejected []protocol.RejectedRow
}

// schema describes one import kind. parse is called sequentially in file
// order, check concurrently on batches of parsed entries.
type schema[T any] struct {
	columns []string
	parse   func(row) (T, *protocol.RejectedRow)
	check   func(ctx context.Context, batch []entry[T]) (checked[T], error)
	persist func(ctx context.Context, jobID string, values []T) error
}

func reject(line int, column, value, reason string) *protocol.RejectedRow {
	return &protocol.RejectedRow{Line: line, Column: column, Value: value, Reason: reason}
}

// importFile runs s against the upload of job in. Problems with the upload
// itself end in a failed frame and a nil error. A returned error means the
// import could not be carried out at all.
func importFile[T any](ctx context.Context, w *Worker, in protocol.Input, enc *protocol.Encoder, s schema[T]) error {
	if err := enc.Encode(protocol.SubStatus(model.SubStatusReadingFile)); err != nil {
		return err
	}
	f, err := w.uploads.Open(in.ID)
	if errors.Is(err, fs.ErrNotExist) {
		return enc.Encode(protocol.Failed("uploaded file not found"))
	}
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := enc.Encode(protocol.SubStatus(model.SubStatusParsing)); err != nil {
		return err
	}
	tbl, err := readTable(f, s.columns)
	if errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrMissingColumn) {
		return enc.Encode(protocol.Failed(err.Error()))
	}
	if err != nil {
		return err
	}
	batches, rejected, total, err := parseRows(tbl.rows(), s.parse, w.progressEvery)
	if err != nil {
		return fmt.Errorf("parsing upload: %w", err)
	}
	if total == 0 {
		return enc.Encode(protocol.Failed("file contains no entries"))
	}

	if err := enc.Encode(protocol.SubStatus(model.SubStatusValidatingInput)); err != nil {
		return err
	}
	progress := protocol.Progress{
		TotalLines: total,
		ErrorCount: len(rejected),
	}
	for _, b := range batches {
		progress.EntriesToValidate += len(b)
	}
	if err := enc.Encode(protocol.ValidationProgress(progress)); err != nil {
		return err
	}

	var accepted []entry[T]
	for res, err := range parallel.NewMap(ctx, w.limit, s.check).Iter(all(batches)) {
		if err != nil {
			return fmt.Errorf("validating entries: %w", err)
		}
		accepted = append(accepted, res.accepted...)
		rejected = append(rejected, res.rejected...)
		progress.ValidatedEntries += len(res.accepted) + len(res.rejected)
		progress.ErrorCount += len(res.rejected)
		if err := enc.Encode(protocol.ValidationProgress(progress)); err != nil {
			return err
		}
	}

	if len(accepted) > 0 {
		if err := enc.Encode(protocol.SubStatus(model.SubStatusPersisting)); err != nil {
			return err
		}
		slices.SortFunc(accepted, func(a, b entry[T]) int { return cmp.Compare(a.line, b.line) })
		values := make([]T, len(accepted))
		for i, e := range accepted {
			values[i] = e.value
		}
		if err := s.persist(ctx, in.ID, values); err != nil {
			return fmt.Errorf("persisting entries: %w", err)
		}
	}

	slog.InfoContext(ctx, "import finished", "lines", total, "accepted", len(accepted), "rejected", len(rejected))
	slices.SortStableFunc(rejected, func(a, b protocol.RejectedRow) int { return cmp.Compare(a.Line, b.Line) })
	return enc.Encode(protocol.Complete(rejected))
}

// parseRows splits parsed entries into batches of at most size entries.
func parseRows[T any](rows iter.Seq2[row, error], parse func(row) (T, *protocol.RejectedRow), size int) ([][]entry[T], []protocol.RejectedRow, int, error) {
	var (
		batches  [][]entry[T]
		batch    []entry[T]
		rejected []protocol.RejectedRow
		total    int
	)
	for r, err := range rows {
		var perr *csv.ParseError
		switch {
		case errors.As(err, &perr):
			total++
			rejected = append(rejected, *reject(r.line, "", "", perr.Err.Error()))
			continue
		case err != nil:
			return nil, nil, 0, err
		}
		total++
		v, rej := parse(r)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		batch = append(batch, entry[T]{line: r.line, value: v})
		if len(batch) == size {
			batches = append(batches, batch)
			batch = nil
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches, rejected, total, nil
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
