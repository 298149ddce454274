package service

import (
	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/registry"
)

// StatusView is the caller facing projection of a job. Only the fields of
// the current status are set.
type StatusView struct {
	Status          model.Status           `json:"status"`
	SubStatus       model.SubStatus        `json:"subStatus,omitempty"`
	ValidationStats *model.ValidationStats `json:"validationStats,omitempty"`
	ErrorReportRef  string                 `json:"errorReportRef,omitempty"`
	ErrorCount      *int                   `json:"errorCount,omitempty"`
	FailureKind     model.FailureKind      `json:"failureKind,omitempty"`
	Description     string                 `json:"description,omitempty"`
}

type StatusQuery struct {
	registry *registry.Registry
}

func NewStatusQuery(reg *registry.Registry) StatusQuery {
	return StatusQuery{registry: reg}
}

// GetStatus returns the status of job id as seen by principal. Unknown
// jobs and jobs principal may not see are both reported as absent.
func (q StatusQuery) GetStatus(id string, principal model.Principal) (StatusView, bool) {
	job, ok := q.registry.Get(id)
	if !ok || !principal.CanSee(job.Owner) {
		return StatusView{}, false
	}
	return Project(job), true
}

func Project(job model.Job) StatusView {
	switch d := job.Details.(type) {
	case model.Ongoing:
		var stats *model.ValidationStats
		if d.Stats != nil {
			s := *d.Stats
			stats = &s
		}
		return StatusView{Status: model.StatusOngoing, SubStatus: d.SubStatus, ValidationStats: stats}
	case model.Complete:
		var count *int
		if d.ErrorCount != nil {
			n := *d.ErrorCount
			count = &n
		}
		return StatusView{Status: model.StatusComplete, ErrorReportRef: d.ErrorReportRef, ErrorCount: count}
	case model.Failed:
		return StatusView{Status: model.StatusFailed, FailureKind: d.Kind, Description: d.Description}
	}
	return StatusView{Status: model.StatusNotStarted}
}

// Exists reports whether job id is registered, regardless of its owner.
func (q StatusQuery) Exists(id string) bool {
	_, ok := q.registry.Get(id)
	return ok
}
