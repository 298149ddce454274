package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/obsreg/importer/internal/model"
	"github.com/obsreg/importer/internal/report"
	"github.com/obsreg/importer/internal/service"
)

type Starter interface {
	Start(id string, kind model.ImportKind, principal model.Principal)
}

type StatusGetter interface {
	GetStatus(id string, principal model.Principal) (service.StatusView, bool)
	Exists(id string) bool
}

type ReportOpener interface {
	Owner(id string) (string, error)
	Open(id string) (io.ReadCloser, error)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type startResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, apiResponse{Error: &errorBody{Code: code, Message: message}})
}

type ImportHandler struct {
	starter Starter
	status  StatusGetter
	uploads *os.Root
	reports ReportOpener
}

func NewImportHandler(starter Starter, status StatusGetter, uploads *os.Root, reports ReportOpener) *ImportHandler {
	return &ImportHandler{starter: starter, status: status, uploads: uploads, reports: reports}
}

// StartImport stores the uploaded file under the job id and starts the job.
// The outcome is only available by polling the status. An id is accepted
// once; a second upload under the same id is a conflict.
func (h *ImportHandler) StartImport(c echo.Context) error {
	kind, err := model.ParseImportKind(c.FormValue("kind"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid_kind", err.Error())
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "missing_file", "multipart field file is required")
	}
	id := c.FormValue("id")
	if id == "" {
		id = uuid.NewString()
	}
	if !idPattern.MatchString(id) {
		return fail(c, http.StatusBadRequest, "invalid_id", "id must be up to 128 letters, digits, dots, dashes or underscores")
	}

	if h.status.Exists(id) {
		return fail(c, http.StatusConflict, "conflict", "import id already in use")
	}

	err = h.save(id, fh)
	if errors.Is(err, fs.ErrExist) {
		return fail(c, http.StatusConflict, "conflict", "import id already in use")
	}
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "storing upload", "job_id", id, "error", err)
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to store uploaded file")
	}

	h.starter.Start(id, kind, principal(c))
	return c.JSON(http.StatusAccepted, apiResponse{Data: startResponse{ID: id, Status: model.StatusNotStarted}})
}

func (h *ImportHandler) save(id string, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := h.uploads.OpenFile(id, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Join(err, h.uploads.Remove(id))
	}
	return nil
}

// GetStatus reports a job the caller owns, or any job to an admin. Other
// jobs are indistinguishable from unknown ones.
func (h *ImportHandler) GetStatus(c echo.Context) error {
	view, ok := h.status.GetStatus(c.Param("id"), principal(c))
	if !ok {
		return fail(c, http.StatusNotFound, "not_found", "import not found")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

// DownloadReport streams an error report as a CSV attachment. Like job
// status, a report is visible to the owner of its job and to admins only.
func (h *ImportHandler) DownloadReport(c echo.Context) error {
	id := c.Param("reportId")
	owner, err := h.reports.Owner(id)
	if err == nil && !principal(c).CanSee(model.Principal{ID: owner}) {
		err = report.ErrNotFound
	}
	var rc io.ReadCloser
	if err == nil {
		rc, err = h.reports.Open(id)
	}
	if errors.Is(err, report.ErrNotFound) {
		return fail(c, http.StatusNotFound, "not_found", "report not found")
	}
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "opening report", "report_id", id, "error", err)
		return fail(c, http.StatusInternalServerError, "internal_error", "failed to open report")
	}
	defer func() {
		_ = rc.Close()
	}()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", report.Filename(id)))
	return c.Stream(http.StatusOK, report.ContentType, rc)
}
