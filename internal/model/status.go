package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusOngoing    Status = "ONGOING"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// SubStatus names a coarse phase of an ongoing import.
type SubStatus string

const (
	SubStatusReadingFile     SubStatus = "READING_FILE"
	SubStatusParsing         SubStatus = "PARSING"
	SubStatusValidatingInput SubStatus = "VALIDATING_INPUT"
	SubStatusPersisting      SubStatus = "PERSISTING"
)

type FailureKind string

const (
	FailureImport         FailureKind = "IMPORT_FAILURE"
	FailureProcessError   FailureKind = "IMPORT_PROCESS_ERROR"
	FailureUnexpectedExit FailureKind = "IMPORT_PROCESS_UNEXPECTED_EXIT"
)

// ImportKind selects the parse/validate pipeline a worker runs.
type ImportKind string

const (
	ImportKindObservations ImportKind = "OBSERVATIONS"
	ImportKindLocations    ImportKind = "LOCATIONS"
)

func ParseImportKind(s string) (ImportKind, error) {
	k := ImportKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case ImportKindObservations, ImportKindLocations:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownImportKind, s)
}

type ValidationStats struct {
	TotalLines        int `json:"totalLines"`
	TotalEntries      int `json:"totalEntries"`
	CheckedEntries    int `json:"checkedEntries"`
	EntriesWithErrors int `json:"entriesWithErrors"`
}

// Details is the status-specific payload of a job. The set of
// implementations is closed: NotStarted, Ongoing, Complete and Failed.
type Details interface {
	Status() Status
	sealed()
}

type NotStarted struct{}

type Ongoing struct {
	SubStatus SubStatus
	Stats     *ValidationStats
}

type Complete struct {
	ErrorReportRef string
	ErrorCount     *int
}

type Failed struct {
	Kind        FailureKind
	Description string
}

func (NotStarted) Status() Status { return StatusNotStarted }
func (Ongoing) Status() Status    { return StatusOngoing }
func (Complete) Status() Status   { return StatusComplete }
func (Failed) Status() Status     { return StatusFailed }

func (NotStarted) sealed() {}
func (Ongoing) sealed()    {}
func (Complete) sealed()   {}
func (Failed) sealed()     {}

// WorkerHandle identifies the isolated execution unit of a job. It is
// coordinator bookkeeping and never leaves the process.
type WorkerHandle interface {
	String() string
}

// Job is a registry record. Updates always replace the whole value.
type Job struct {
	ID      string
	Kind    ImportKind
	Owner   Principal
	Worker  WorkerHandle
	Details Details
	Created time.Time
	Updated time.Time
}

func (j Job) Status() Status {
	if j.Details == nil {
		return StatusNotStarted
	}
	return j.Details.Status()
}

// With returns a copy of j carrying details d. Owner and worker are kept.
func (j Job) With(d Details, now time.Time) Job {
	j.Details = d
	j.Updated = now
	return j
}
