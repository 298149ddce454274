package service_test

import (
	"encoding/json"
	"testing"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/registry"
	"github.com/obsreg/importer/internal/service"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	t.Parallel()
	two := 2
	var testCases = []struct {
		name    string
		details model.Details
		json    string
	}{
		{"not started", model.NotStarted{}, `{"status":"NOT_STARTED"}`},
		{"nil details", nil, `{"status":"NOT_STARTED"}`},
		{"ongoing", model.Ongoing{SubStatus: model.SubStatusParsing}, `{"status":"ONGOING","subStatus":"PARSING"}`},
		{
			"validating",
			model.Ongoing{SubStatus: model.SubStatusValidatingInput, Stats: &model.ValidationStats{TotalLines: 10, TotalEntries: 9, CheckedEntries: 5, EntriesWithErrors: 1}},
			`{"status":"ONGOING","subStatus":"VALIDATING_INPUT","validationStats":{"totalLines":10,"totalEntries":9,"checkedEntries":5,"entriesWithErrors":1}}`,
		},
		{"complete", model.Complete{}, `{"status":"COMPLETE"}`},
		{"complete with errors", model.Complete{ErrorReportRef: "/r/1", ErrorCount: &two}, `{"status":"COMPLETE","errorReportRef":"/r/1","errorCount":2}`},
		{"failed", model.Failed{Kind: model.FailureImport, Description: "empty file"}, `{"status":"FAILED","failureKind":"IMPORT_FAILURE","description":"empty file"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			view := service.Project(model.Job{ID: "x", Details: tc.details})
			raw, err := json.Marshal(view)
			require.NoError(t, err)
			require.JSONEq(t, tc.json, string(raw))
		})
	}
}

func TestStatusQueryVisibility(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.Set("abc", model.Job{ID: "abc", Owner: u1, Details: model.NotStarted{}})
	q := service.NewStatusQuery(reg)

	_, ok := q.GetStatus("unknown", admin)
	require.False(t, ok)

	_, ok = q.GetStatus("abc", u2)
	require.False(t, ok)

	_, ok = q.GetStatus("abc", model.Principal{ID: "u1", Role: model.RoleAdmin})
	require.True(t, ok)

	view, ok := q.GetStatus("abc", u1)
	require.True(t, ok)
	require.Equal(t, model.StatusNotStarted, view.Status)
}

func TestProjectCopiesStats(t *testing.T) {
	t.Parallel()
	stats := &model.ValidationStats{CheckedEntries: 1}
	view := service.Project(model.Job{Details: model.Ongoing{SubStatus: model.SubStatusValidatingInput, Stats: stats}})
	view.ValidationStats.CheckedEntries = 99
	require.Equal(t, 1, stats.CheckedEntries)
}

func TestStatusQueryExists(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	q := service.NewStatusQuery(reg)
	require.False(t, q.Exists("abc"))

	reg.Set("abc", model.Job{ID: "abc", Owner: u1, Details: model.Failed{Kind: model.FailureImport}})
	require.True(t, q.Exists("abc"))
	_, visible := q.GetStatus("abc", u2)
	require.False(t, visible)
}
