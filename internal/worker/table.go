package worker

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

var (
	ErrEmptyFile     = errors.New("file is empty")
	ErrMissingColumn = errors.New("missing column")
)

// row is one data line of an upload. Line is 1-based and counts the header.
type row struct {
	line   int
	fields map[string]string
}

func (r row) get(column string) string {
	return strings.TrimSpace(r.fields[column])
}

type table struct {
	reader  *csv.Reader
	columns []string
}

// detectDelimiter picks ';' or ',' by counting both in the header line.
// Semicolon wins ties since it is the format of generated reports.
func detectDelimiter(header []byte) rune {
	if i := bytes.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	if bytes.Count(header, []byte{','}) > bytes.Count(header, []byte{';'}) {
		return ','
	}
	return ';'
}

// readTable consumes the header of a delimited upload and checks that all
// required columns are present. Column names are matched case-insensitively.
func readTable(r io.Reader, required []string) (*table, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	peek = bytes.TrimPrefix(peek, []byte("\ufeff"))
	if len(bytes.TrimSpace(peek)) == 0 {
		return nil, ErrEmptyFile
	}

	cr := csv.NewReader(br)
	cr.Comma = detectDelimiter(peek)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = strings.ToLower(strings.TrimSpace(h))
		present[columns[i]] = true
	}
	var missing []string
	for _, c := range required {
		if !present[c] {
			missing = append(missing, strconv.Quote(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return &table{reader: cr, columns: columns}, nil
}

// rows yields every data line. A *csv.ParseError is yielded for a line that
// cannot be split into fields and reading continues with the next one. Any
// other error ends the iteration.
func (t *table) rows() iter.Seq2[row, error] {
	return func(yield func(row, error) bool) {
		for {
			rec, err := t.reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			var perr *csv.ParseError
			if err != nil && !errors.As(err, &perr) {
				yield(row{}, err)
				return
			}
			if err != nil {
				if !yield(row{line: perr.StartLine}, err) {
					return
				}
				continue
			}
			line, _ := t.reader.FieldPos(0)
			if len(rec) != len(t.columns) {
				err := &csv.ParseError{StartLine: line, Line: line, Err: fmt.Errorf("expected %d fields, got %d", len(t.columns), len(rec))}
				if !yield(row{line: line}, err) {
					return
				}
				continue
			}
			fields := make(map[string]string, len(rec))
			for i, v := range rec {
				fields[t.columns[i]] = v
			}
			if !yield(row{line: line, fields: fields}, nil) {
				return
			}
		}
	}
}
