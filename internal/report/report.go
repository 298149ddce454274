// Package report materializes the rows rejected by an import as a
// downloadable, semicolon delimited text file.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obsreg/importer/internal/protocol"
)

var (
	ErrNotFound = errors.New("report not found")
	ErrClosed   = errors.New("report store already closed")
)

const (
	Delimiter   = ';'
	ContentType = "text/csv; charset=utf-8"
	extension   = ".csv"
	ownerSuffix = ".owner"
)

var header = []string{"line", "column", "value", "reason"}

// Store writes reports below a single directory. Every report gets a fresh
// id, existing files are never rewritten. The id of the principal owning a
// report is kept in a sibling file.
type Store struct {
	root *os.Root
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating reports dir %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening reports dir %s: %w", dir, err)
	}
	return &Store{root: root}, nil
}

// Write stores rows owned by owner and returns the id of the new report.
func (s *Store) Write(ctx context.Context, owner string, rows []protocol.RejectedRow) (string, error) {
	if s.root == nil {
		return "", ErrClosed
	}

	id := uuid.NewString()
	err := s.create(id+ownerSuffix, func(w io.Writer) error {
		_, err := io.WriteString(w, owner)
		return err
	})
	if err == nil {
		err = s.create(id+extension, func(w io.Writer) error {
			return Encode(w, rows)
		})
	}
	if err != nil {
		s.remove(id)
		return "", fmt.Errorf("writing report %s: %w", id, err)
	}
	slog.DebugContext(ctx, "report saved", "report_id", id, "rows", len(rows))
	return id, nil
}

func (s *Store) create(name string, fn func(io.Writer) error) error {
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	err = fn(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Owner returns the id of the principal report id was written for.
func (s *Store) Owner(id string) (string, error) {
	if s.root == nil {
		return "", ErrClosed
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	f, err := s.root.Open(id + ownerSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("opening report owner %s: %w", id, err)
	}
	defer func() {
		_ = f.Close()
	}()
	owner, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading report owner %s: %w", id, err)
	}
	return string(owner), nil
}

// Remove deletes report id. Removing an unknown report is not an error.
func (s *Store) Remove(id string) error {
	if s.root == nil {
		return ErrClosed
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	var errs []error
	for _, name := range []string{id + extension, id + ownerSuffix} {
		if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) remove(id string) {
	_ = s.root.Remove(id + extension)
	_ = s.root.Remove(id + ownerSuffix)
}

// Open returns the content of report id.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	if s.root == nil {
		return nil, ErrClosed
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	f, err := s.root.Open(id + extension)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening report %s: %w", id, err)
	}
	return f, nil
}

// Prune removes reports last modified before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if s.root == nil {
		return 0, ErrClosed
	}
	entries, err := fs.ReadDir(s.root.FS(), ".")
	if err != nil {
		return 0, fmt.Errorf("listing reports: %w", err)
	}
	var removed int
	var errs []error
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), extension)
		if !ok || !e.Type().IsRegular() {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
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
		if err := s.Remove(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.DebugContext(ctx, "report removed", "report_id", id)
	}
	return removed, errors.Join(errs...)
}

// Filename is the download name of report id.
func Filename(id string) string {
	return "import-errors-" + id + extension
}

func (s *Store) Close() error {
	if s.root == nil {
		return ErrClosed
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// Encode writes a header and one record per row, CRLF terminated.
func Encode(w io.Writer, rows []protocol.RejectedRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	cw.UseCRLF = true

	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(r.Line), r.Column, r.Value, r.Reason}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode is the inverse of Encode.
func Decode(r io.Reader) ([]protocol.RejectedRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.FieldsPerRecord = len(header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("report without header")
	}
	rows := make([]protocol.RejectedRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		line, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("parsing line number %q: %w", rec[0], err)
		}
		rows = append(rows, protocol.RejectedRow{Line: line, Column: rec[1], Value: rec[2], Reason: rec[3]})
	}
	return rows, nil
}
