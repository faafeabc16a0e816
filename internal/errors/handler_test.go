package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/operations"
	"emprofiler/internal/services"
	"emprofiler/internal/storage/runstore"
)

func newTestHandler(includeStack bool) *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), includeStack)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantExt    map[string]interface{}
	}{
		{
			name:       "unknown target",
			err:        &operations.UnknownTargetError{Target: "chipseq.footprint"},
			wantStatus: http.StatusNotFound,
			wantType:   TypeTargetNotFound,
			wantExt:    map[string]interface{}{"target": "chipseq.footprint"},
		},
		{
			name:       "invalid parameter for a stage",
			err:        &operations.InvalidParameterError{Stage: "differential", Field: "group", Reason: "required parameter is missing"},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   TypeInvalidParameter,
			wantExt:    map[string]interface{}{"stage": "differential", "parameter": "group"},
		},
		{
			name:       "wrapped run not found",
			err:        fmt.Errorf("run abc: %w", runstore.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   TypeRunNotFound,
		},
		{
			name:       "run not finished",
			err:        fmt.Errorf("run abc: %w", services.ErrRunNotFinished),
			wantStatus: http.StatusConflict,
			wantType:   TypeRunNotFinished,
		},
		{
			name:       "queue full",
			err:        services.ErrQueueFull,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   TypeQueueFull,
			wantExt:    map[string]interface{}{"retry_after": float64(retryAfterSeconds)},
		},
		{
			name:       "decode failure",
			err:        InvalidRequestWithError(fmt.Errorf("unexpected EOF")),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantExt:    map[string]interface{}{"error_code": "INVALID_REQUEST", "details": "unexpected EOF"},
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("dispatch: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "body too large",
			err:        &http.MaxBytesError{Limit: 1024},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   TypePayloadTooLarge,
		},
		{
			name:       "anything else",
			err:        fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(false)
			req := httptest.NewRequest(http.MethodPost, "/api/dispatch", nil)
			ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "req-42")
			req = req.WithContext(ctx)
			rec := httptest.NewRecorder()

			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Equal(t, "/api/dispatch", body["instance"])
			assert.Equal(t, "req-42", body["trace_id"])
			for k, v := range tt.wantExt {
				assert.Equal(t, v, body[k], "extension %s", k)
			}
			assert.NotContains(t, body, "stack")
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(false).HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, 0, rec.Body.Len())
}

func TestErrorHandler_SingleStageParameterHasNoStage(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &operations.InvalidParameterError{Field: "metric", Reason: "must be one of [shannon simpson]"}
	newTestHandler(false).HandleError(rec, httptest.NewRequest(http.MethodPost, "/api/dispatch", nil), err)

	body := decodeProblem(t, rec)
	assert.NotContains(t, body, "stage")
	assert.Equal(t, "metric", body["parameter"])
}

func TestErrorHandler_StackOnlyForServerErrors(t *testing.T) {
	h := newTestHandler(true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("boom"))
	assert.Contains(t, decodeProblem(t, rec), "stack")

	rec = httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), NotFoundError("run"))
	assert.NotContains(t, decodeProblem(t, rec), "stack")
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	h := newTestHandler(true)
	rec := httptest.NewRecorder()

	h.HandlePanic(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil), "nil map write")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "nil map write", body["panic"])
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestHandler(false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/targets", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "DELETE")
}

func TestProblemDetails_ExtensionsCannotOverrideFields(t *testing.T) {
	problem := NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "", "").
		WithExtension("status", 200).
		WithExtension("target", "x")

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(404), body["status"])
	assert.Equal(t, "x", body["target"])
	assert.NotContains(t, body, "detail")
}

func TestAPIError_ProblemMapping(t *testing.T) {
	h := newTestHandler(false)

	tests := []struct {
		name       string
		err        *APIError
		wantStatus int
		wantDetail string
	}{
		{"validation", ErrValidation("format", "must be json, xlsx or csv"), http.StatusBadRequest, "Request validation failed"},
		{"not found", NotFoundError("run"), http.StatusNotFound, "run not found"},
		{"missing parameter", ErrMissingParameter, http.StatusBadRequest, "Required parameter is missing"},
		{"unsupported format", UnsupportedFormatError(fmt.Errorf("pdf")), http.StatusBadRequest, "Unsupported export format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/api/runs/x", nil), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDetail, decodeProblem(t, rec)["detail"])
		})
	}
}

func TestNewValidationErrors(t *testing.T) {
	err := NewValidationErrors([]ValidationError{
		{Field: "target", Message: "required"},
		{Field: "params", Message: "must be an object"},
	})
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)

	details, ok := err.Details.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, details.Errors, 2)
	assert.Equal(t, "target", details.Errors[0].Field)
}
