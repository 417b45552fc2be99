// Package api exposes the reshaping pipelines over HTTP: upload a
// simulator file, run a pipeline against it, retrieve or export the
// resulting tables.
package api

import (
	"bytes"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/forest-reshaper/backend/internal/config"
	"github.com/forest-reshaper/backend/internal/models"
	"github.com/forest-reshaper/backend/internal/refdata"
	"github.com/forest-reshaper/backend/internal/reshape"
	"github.com/forest-reshaper/backend/internal/session"
	"github.com/forest-reshaper/backend/internal/storage"
	"github.com/forest-reshaper/backend/internal/table"
)

// Handler handles API requests.
type Handler struct {
	store    storage.Store
	sessions *session.Manager
	cfg      *config.AppConfig
	ref      *refdata.Reference
}

// NewHandler creates a new API handler.
func NewHandler(store storage.Store, sessions *session.Manager, cfg *config.AppConfig, ref *refdata.Reference) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		ref:      ref,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Count(),
	})
}

// HandleUploadFile accepts a multipart file upload and saves it to storage.
func (h *Handler) HandleUploadFile(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return RespondWithError(c, NewValidationError("file"))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return RespondWithError(c, NewBadRequestError("cannot read uploaded file", err))
	}
	defer src.Close()

	info, err := h.store.Save(fileHeader.Filename, src)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to save file", err))
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleRecentFiles returns a list of recently uploaded files.
func (h *Handler) HandleRecentFiles(c echo.Context) error {
	files, err := h.store.List(50)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to list files", err))
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleDeleteFile removes an uploaded file.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return RespondWithError(c, NewNotFoundError("file", id))
	}
	return c.NoContent(http.StatusNoContent)
}

type reshapeSummaryRequest struct {
	FileID      string `json:"fileId"`
	HeaderLines int    `json:"headerLines"`
}

// HandleReshapeSummary runs the summary-table pipeline against an
// uploaded file and registers the result session.
func (h *Handler) HandleReshapeSummary(c echo.Context) error {
	var req reshapeSummaryRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid JSON body", err))
	}
	if req.FileID == "" {
		return RespondWithError(c, NewValidationError("fileId"))
	}

	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return RespondWithError(c, NewNotFoundError("file", req.FileID))
	}

	headerLines := req.HeaderLines
	if headerLines <= 0 {
		headerLines = h.cfg.Pipeline.SummaryHeaderLines
	}

	start := time.Now()
	reshaper := reshape.NewSummaryReshaper(headerLines, h.cfg.Pipeline.TotalColumnMarker)
	tab, err := reshaper.Reshape(path)
	if err != nil {
		return RespondWithError(c, NewUnprocessableError("summary reshaping failed", err))
	}

	sess, err := h.sessions.Create(req.FileID, "summary",
		map[string]*table.Table{"summary": tab}, []string{"summary"})
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to register result", err))
	}
	sess.ProcessingTimeMs = time.Since(start).Milliseconds()

	return c.JSON(http.StatusOK, sess)
}

type extractTreeMapRequest struct {
	FileID string `json:"fileId"`
}

// HandleExtractTreeMap runs the tree-map pipeline against an uploaded
// detailed-output document and registers the per-stage tables.
func (h *Handler) HandleExtractTreeMap(c echo.Context) error {
	var req extractTreeMapRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid JSON body", err))
	}
	if req.FileID == "" {
		return RespondWithError(c, NewValidationError("fileId"))
	}

	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return RespondWithError(c, NewNotFoundError("file", req.FileID))
	}

	start := time.Now()
	extractor := reshape.NewTreeMapExtractor(h.ref)
	tables, err := extractor.Extract(path)
	if err != nil {
		return RespondWithError(c, NewUnprocessableError("tree-map extraction failed", err))
	}

	stages := make([]string, 0, len(tables))
	for stage := range tables {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	sess, err := h.sessions.Create(req.FileID, "treemap", tables, stages)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to register result", err))
	}
	sess.ProcessingTimeMs = time.Since(start).Milliseconds()

	return c.JSON(http.StatusOK, sess)
}

type generateParamsRequest struct {
	TemplateFileID string `json:"templateFileId"`
	SurveyFileID   string `json:"surveyFileId"`
	PlotID         string `json:"plotId"`
	Timesteps      int    `json:"timesteps"`
	OutDir         string `json:"outDir"`
}

// HandleGenerateParams builds a parameter file for one plot from an
// uploaded template and survey, writes it under the output directory, and
// returns it as an attachment.
func (h *Handler) HandleGenerateParams(c echo.Context) error {
	var req generateParamsRequest
	if err := c.Bind(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid JSON body", err))
	}
	switch {
	case req.TemplateFileID == "":
		return RespondWithError(c, NewValidationError("templateFileId"))
	case req.SurveyFileID == "":
		return RespondWithError(c, NewValidationError("surveyFileId"))
	case req.PlotID == "":
		return RespondWithError(c, NewValidationError("plotId"))
	case req.Timesteps <= 0:
		return RespondWithError(c, NewValidationError("timesteps"))
	case req.OutDir == "":
		return RespondWithError(c, NewValidationError("outDir"))
	}

	templatePath, err := h.store.GetFilePath(req.TemplateFileID)
	if err != nil {
		return RespondWithError(c, NewNotFoundError("file", req.TemplateFileID))
	}
	surveyPath, err := h.store.GetFilePath(req.SurveyFileID)
	if err != nil {
		return RespondWithError(c, NewNotFoundError("file", req.SurveyFileID))
	}

	builder := reshape.NewDensityBuilder(h.ref, h.cfg.Pipeline.AliveStatusID)
	editor := reshape.NewParamFileEditor(builder, h.cfg.Pipeline.SurveyYear)
	outPath, err := editor.Generate(req.PlotID, req.Timesteps,
		templatePath, surveyPath, req.OutDir, h.cfg.Storage.OutputDirectory)
	if err != nil {
		return RespondWithError(c, NewUnprocessableError("parameter generation failed", err))
	}

	return c.Attachment(outPath, filepath.Base(outPath))
}

type resultResponse struct {
	Session *models.ResultSession   `json:"session" msgpack:"session"`
	Tables  map[string]*table.Table `json:"tables" msgpack:"tables"`
}

// HandleGetResult returns the tables of a result session as JSON, or
// msgpack when ?format=msgpack is given.
func (h *Handler) HandleGetResult(c echo.Context) error {
	id := c.Param("id")
	state, ok := h.sessions.Get(id)
	if !ok {
		return RespondWithError(c, NewNotFoundError("result session", id))
	}

	resp := resultResponse{Session: state.Session, Tables: state.Tables}
	if c.QueryParam("format") == "msgpack" {
		data, err := msgpack.Marshal(resp)
		if err != nil {
			return RespondWithError(c, NewInternalError("msgpack encoding failed", err))
		}
		return c.Blob(http.StatusOK, "application/x-msgpack", data)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleExportResult streams one table of a result session as CSV through
// the session's DuckDB store.
func (h *Handler) HandleExportResult(c echo.Context) error {
	id := c.Param("id")
	state, ok := h.sessions.Get(id)
	if !ok {
		return RespondWithError(c, NewNotFoundError("result session", id))
	}

	name := c.QueryParam("table")
	if name == "" {
		if len(state.TableOrder) == 0 {
			return RespondWithError(c, NewNotFoundError("table", "(none)"))
		}
		name = state.TableOrder[0]
	}

	var buf bytes.Buffer
	if err := state.Store.ExportCSV(name, &buf); err != nil {
		return RespondWithError(c, NewNotFoundError("table", name))
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
