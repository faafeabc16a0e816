package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"emprofiler/internal/catalog"
	apierrors "emprofiler/internal/errors"
	"emprofiler/internal/exporter"
	"emprofiler/internal/middleware"
	"emprofiler/internal/operations"
	"emprofiler/internal/storage/runstore"
)

// apiPrefix is where the app mounts Routes
const apiPrefix = "/api"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var runStatuses = []string{
	string(runstore.StatusQueued),
	string(runstore.StatusRunning),
	string(runstore.StatusSucceeded),
	string(runstore.StatusFailed),
	string(runstore.StatusCancelled),
	string(runstore.StatusRejected),
}

// AnalysisHandler handles dispatch, run and catalog requests
type AnalysisHandler struct {
	service      AnalysisServiceInterface
	errorHandler *apierrors.ErrorHandler
	validator    *middleware.RequestValidator
	query        *middleware.QueryParamValidator
	logger       *slog.Logger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service AnalysisServiceInterface, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AnalysisHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}

	return &AnalysisHandler{
		service:      service,
		errorHandler: errorHandler,
		validator:    middleware.NewRequestValidator(),
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		logger:       logger.With(slog.String("handler", "analysis")),
	}
}

// Routes returns the analysis API router
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/dispatch", h.Dispatch)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.ListRuns)
		r.Post("/", h.SubmitRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Delete("/", h.CancelRun)
			r.Post("/cancel", h.CancelRun)
			r.Get("/export", h.ExportRun)
		})
	})

	r.Get("/targets", h.ListTargets)
	r.Get("/targets/{name}", h.GetTarget)
	r.Get("/aliases", h.ListAliases)

	// Per-domain endpoints, e.g. POST /microbiome {"analysis": "alpha", ...}
	r.Post("/{domain}", h.LegacyAnalysis)

	return r
}

// DispatchRequest is the body of POST /dispatch and POST /runs
type DispatchRequest struct {
	Target string            `json:"target" validate:"required,target"`
	Params operations.Params `json:"params,omitempty"`
}

// Bind implements the render.Binder interface
func (d *DispatchRequest) Bind(r *http.Request) error {
	if d.Params == nil {
		d.Params = operations.Params{}
	}
	return nil
}

// RunResponse is returned for accepted and listed runs
type RunResponse struct {
	ID         string               `json:"id"`
	Target     string               `json:"target"`
	Status     runstore.Status      `json:"status"`
	Error      string               `json:"error,omitempty"`
	ErrorKind  operations.ErrorKind `json:"error_kind,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Links      map[string]string    `json:"links"`
}

func newRunResponse(run *runstore.Run) RunResponse {
	self := runPath(run.ID)
	return RunResponse{
		ID:         run.ID,
		Target:     run.Target,
		Status:     run.Status,
		Error:      run.Error,
		ErrorKind:  run.ErrorKind,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
		Links: map[string]string{
			"self":   self,
			"export": self + "/export",
			"cancel": self + "/cancel",
		},
	}
}

func runPath(id string) string {
	return apiPrefix + "/runs/" + id
}

// runRef validates run IDs taken from the URL
type runRef struct {
	ID string `json:"run_id" validate:"runid"`
}

// decode binds and validates a dispatch request, answering on failure
func (h *AnalysisHandler) decode(w http.ResponseWriter, r *http.Request) (*DispatchRequest, bool) {
	var req DispatchRequest
	if err := render.Bind(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, err)
		} else {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		}
		return nil, false
	}
	if err := h.validator.Struct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return nil, false
	}
	return &req, true
}

func (h *AnalysisHandler) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := h.validator.Struct(runRef{ID: id}); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return "", false
	}
	return id, true
}

// Dispatch handles POST /api/dispatch. The target runs to completion within
// the request and the sealed report is returned.
func (h *AnalysisHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, req.Target, req.Params)
}

func (h *AnalysisHandler) dispatch(w http.ResponseWriter, r *http.Request, target string, params operations.Params) {
	ctx := r.Context()
	h.logger.InfoContext(ctx, "dispatch requested",
		slog.String("target", target),
		slog.Int("params", len(params)),
	)

	run, err := h.service.Dispatch(ctx, target, params)
	if run != nil {
		w.Header().Set("X-Run-ID", run.ID)
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", runPath(run.ID))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, run.Report)
}

// SubmitRun handles POST /api/runs
func (h *AnalysisHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	run, err := h.service.Submit(ctx, req.Target, req.Params)
	if run != nil {
		w.Header().Set("X-Run-ID", run.ID)
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "run accepted",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target),
	)

	w.Header().Set("Location", runPath(run.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, newRunResponse(run))
}

// ListRuns handles GET /api/runs
func (h *AnalysisHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status, ok := h.query.ValidateEnum(w, r, "status", runStatuses, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxListLimit, defaultListLimit)
	if !ok {
		return
	}

	filter := runstore.Filter{
		Status: runstore.Status(status),
		Target: r.URL.Query().Get("target"),
		Limit:  limit,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("since", "since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = t
	}

	runs, err := h.service.ListRuns(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	items := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, newRunResponse(run))
	}
	render.JSON(w, r, map[string]interface{}{
		"runs":  items,
		"count": len(items),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *AnalysisHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, run)
}

// CancelRun handles POST /api/runs/{id}/cancel and DELETE /api/runs/{id}
func (h *AnalysisHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelRun(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"id":      id,
		"message": "cancellation requested",
	})
}

// ExportRun handles GET /api/runs/{id}/export?format=json|xlsx|csv
func (h *AnalysisHandler) ExportRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.UnsupportedFormatError(err))
		return
	}

	data, err := h.service.Export(r.Context(), id, format)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// ListTargets handles GET /api/targets
func (h *AnalysisHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets := h.service.Targets()
	render.JSON(w, r, map[string]interface{}{
		"targets": targets,
		"count":   len(targets),
	})
}

// GetTarget handles GET /api/targets/{name}
func (h *AnalysisHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Target(chi.URLParam(r, "name"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

// ListAliases handles GET /api/aliases
func (h *AnalysisHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Aliases())
}

// LegacyAnalysis handles POST /api/{domain}. The body names an analysis plus
// its parameters; the pair is resolved through the alias table and run
// synchronously.
func (h *AnalysisHandler) LegacyAnalysis(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if !isLegacyDomain(domain) {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("domain "+domain))
		return
	}

	var body map[string]interface{}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, err)
		} else {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		}
		return
	}

	analysis, _ := body["analysis"].(string)
	if analysis == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrMissingParameter)
		return
	}
	delete(body, "analysis")

	h.dispatch(w, r, catalog.LegacyAlias(domain, analysis), operations.Params(body))
}

func isLegacyDomain(domain string) bool {
	for _, d := range catalog.LegacyDomains {
		if d == domain {
			return true
		}
	}
	return false
}
