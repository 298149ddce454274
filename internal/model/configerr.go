package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is a single human readable config validation problem.
type CueErrorDetail struct {
	Path    string // service.uploads_dir
	Code    string // missing_required | unknown_field | conflicting_values | type_mismatch | validation_error
	Message string
	Line    int
	Column  int
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.Int("line", c.Line),
		slog.Int("column", c.Column),
	)
}

func (c CueErrorDetail) String() string {
	if c.Line == 0 {
		return c.Message
	}
	return fmt.Sprintf("%d:%d: %s", c.Line, c.Column, c.Message)
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*|invalid value`)
)

// CueErrDetails splits a LoadConfig error into one entry per offending
// field. Errors not produced by CUE yield a single validation_error entry.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []CueErrorDetail{{Code: "validation_error", Message: err.Error()}}
	}

	seen := make(map[string]struct{}, len(errs))
	out := make([]CueErrorDetail, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		d := CueErrorDetail{Path: path}
		d.Code, d.Message = classify(raw, path)
		for _, p := range cueerrors.Positions(e) {
			if p.Filename() == "" {
				continue
			}
			d.Line, d.Column = p.Line(), p.Column()
			break
		}
		out = append(out, d)
	}
	return out
}

func normalizePath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("field %s is not allowed", path)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("field %s is required", path)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("conflicting values for %s: %s", path, raw)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("field %s has wrong type or value: %s", path, raw)
	default:
		return "validation_error", raw
	}
}
