package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/dispatch"
	apierrors "emprofiler/internal/errors"
	"emprofiler/internal/exporter"
	"emprofiler/internal/operations"
	"emprofiler/internal/operations/testutil"
	"emprofiler/internal/services"
	"emprofiler/internal/storage/runstore"
)

// MockAnalysisService is a mock implementation of the analysis service
type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Dispatch(ctx context.Context, target string, params operations.Params) (*runstore.Run, error) {
	args := m.Called(ctx, target, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*runstore.Run), args.Error(1)
}

func (m *MockAnalysisService) Submit(ctx context.Context, target string, params operations.Params) (*runstore.Run, error) {
	args := m.Called(ctx, target, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*runstore.Run), args.Error(1)
}

func (m *MockAnalysisService) GetRun(ctx context.Context, id string) (*runstore.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*runstore.Run), args.Error(1)
}

func (m *MockAnalysisService) ListRuns(ctx context.Context, filter runstore.Filter) ([]*runstore.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*runstore.Run), args.Error(1)
}

func (m *MockAnalysisService) CancelRun(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAnalysisService) Export(ctx context.Context, runID string, format exporter.Format) ([]byte, error) {
	args := m.Called(ctx, runID, format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockAnalysisService) Targets() []dispatch.TargetInfo {
	args := m.Called()
	return args.Get(0).([]dispatch.TargetInfo)
}

func (m *MockAnalysisService) Target(name string) (dispatch.TargetInfo, error) {
	args := m.Called(name)
	return args.Get(0).(dispatch.TargetInfo), args.Error(1)
}

func (m *MockAnalysisService) Aliases() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

// Test helper to create a handler with a mock service behind a router
func setupAnalysisHandler(t *testing.T) (*MockAnalysisService, chi.Router) {
	t.Helper()
	service := &MockAnalysisService{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewAnalysisHandler(service, apierrors.NewErrorHandler(logger, false), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount(apiPrefix, handler.Routes())

	t.Cleanup(func() { service.AssertExpectations(t) })
	return service, r
}

func doRequest(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, _ := json.Marshal(b)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func finishedRun(t *testing.T, id string) *runstore.Run {
	report := testutil.SampleReport(t, id)
	finished := report.FinishedAt
	return &runstore.Run{
		ID:         id,
		Target:     "sample",
		Status:     runstore.StatusFromReport(report),
		Report:     report,
		CreatedAt:  report.StartedAt,
		FinishedAt: &finished,
	}
}

func TestAnalysisHandler_Dispatch(t *testing.T) {
	t.Run("returns the sealed report", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Dispatch", mock.Anything, "sample", operations.Params{"metric": "shannon"}).
			Return(finishedRun(t, "run-1"), nil).Once()

		w := doRequest(router, http.MethodPost, "/api/dispatch", map[string]interface{}{
			"target": "sample",
			"params": map[string]interface{}{"metric": "shannon"},
		})

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "run-1", w.Header().Get("X-Run-ID"))
		assert.Equal(t, "/api/runs/run-1", w.Header().Get("Location"))

		body := decodeBody(t, w)
		assert.Equal(t, "run-1", body["id"])
		assert.Len(t, body["stages"], 3)
	})

	t.Run("missing params default to empty", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Dispatch", mock.Anything, "sample", operations.Params{}).
			Return(finishedRun(t, "run-2"), nil).Once()

		w := doRequest(router, http.MethodPost, "/api/dispatch", map[string]interface{}{"target": "sample"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		wantStatus int
		wantType   string
	}{
		{
			name:       "unknown target",
			body:       map[string]interface{}{"target": "nope"},
			serviceErr: &operations.UnknownTargetError{Target: "nope"},
			wantStatus: http.StatusNotFound,
			wantType:   apierrors.TypeTargetNotFound,
		},
		{
			name:       "invalid parameter",
			body:       map[string]interface{}{"target": "rarefy", "params": map[string]interface{}{"depth": "deep"}},
			serviceErr: &operations.InvalidParameterError{Field: "depth", Reason: "must be an integer"},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apierrors.TypeInvalidParameter,
		},
		{
			name:       "malformed json",
			body:       `{"target":`,
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name:       "missing target",
			body:       map[string]interface{}{"params": map[string]interface{}{}},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name:       "malformed target name",
			body:       map[string]interface{}{"target": "../etc"},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, router := setupAnalysisHandler(t)
			if tt.serviceErr != nil {
				service.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.serviceErr).Once()
			}

			w := doRequest(router, http.MethodPost, "/api/dispatch", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantType, body["type"])
			assert.NotEmpty(t, body["trace_id"])
			if tt.serviceErr == nil {
				service.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAnalysisHandler_SubmitRun(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Submit", mock.Anything, "microbiome.profile", operations.Params{"depth": float64(1000)}).
			Return(&runstore.Run{ID: "run-9", Target: "microbiome.profile", Status: runstore.StatusQueued, CreatedAt: time.Now()}, nil).Once()

		w := doRequest(router, http.MethodPost, "/api/runs", map[string]interface{}{
			"target": "microbiome.profile",
			"params": map[string]interface{}{"depth": 1000},
		})

		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "/api/runs/run-9", w.Header().Get("Location"))

		body := decodeBody(t, w)
		assert.Equal(t, "run-9", body["id"])
		assert.Equal(t, "queued", body["status"])
		links := body["links"].(map[string]interface{})
		assert.Equal(t, "/api/runs/run-9/export", links["export"])
	})

	t.Run("rejected keeps the run id", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		rejected := &runstore.Run{ID: "run-10", Target: "rarefy", Status: runstore.StatusRejected}
		service.On("Submit", mock.Anything, "rarefy", operations.Params{}).
			Return(rejected, &operations.InvalidParameterError{Field: "depth", Reason: "required"}).Once()

		w := doRequest(router, http.MethodPost, "/api/runs", map[string]interface{}{"target": "rarefy"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "run-10", w.Header().Get("X-Run-ID"))
		assert.Equal(t, "depth", decodeBody(t, w)["parameter"])
	})

	t.Run("queue full", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Submit", mock.Anything, "sample", operations.Params{}).
			Return(&runstore.Run{ID: "run-11", Status: runstore.StatusFailed}, services.ErrQueueFull).Once()

		w := doRequest(router, http.MethodPost, "/api/runs", map[string]interface{}{"target": "sample"})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, apierrors.TypeQueueFull, decodeBody(t, w)["type"])
	})
}

func TestAnalysisHandler_ListRuns(t *testing.T) {
	t.Run("passes the filter through", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		service.On("ListRuns", mock.Anything, mock.MatchedBy(func(f runstore.Filter) bool {
			return f.Status == runstore.StatusRunning && f.Target == "sample" && f.Limit == 10 && f.Since.Equal(since)
		})).Return([]*runstore.Run{
			{ID: "b", Target: "sample", Status: runstore.StatusRunning},
			{ID: "a", Target: "sample", Status: runstore.StatusRunning},
		}, nil).Once()

		w := doRequest(router, http.MethodGet, "/api/runs?status=running&target=sample&limit=10&since="+since.Format(time.RFC3339), nil)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, float64(2), body["count"])
		runs := body["runs"].([]interface{})
		assert.Equal(t, "b", runs[0].(map[string]interface{})["id"])
	})

	t.Run("default limit", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("ListRuns", mock.Anything, runstore.Filter{Limit: defaultListLimit}).
			Return([]*runstore.Run{}, nil).Once()

		w := doRequest(router, http.MethodGet, "/api/runs", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	})

	for _, query := range []string{"limit=0", "limit=501", "limit=ten", "status=done", "since=yesterday"} {
		t.Run("rejects "+query, func(t *testing.T) {
			_, router := setupAnalysisHandler(t)
			w := doRequest(router, http.MethodGet, "/api/runs?"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAnalysisHandler_GetRun(t *testing.T) {
	service, router := setupAnalysisHandler(t)
	service.On("GetRun", mock.Anything, "run-1").Return(finishedRun(t, "run-1"), nil).Once()
	service.On("GetRun", mock.Anything, "missing").Return(nil, runstore.ErrNotFound).Once()

	w := doRequest(router, http.MethodGet, "/api/runs/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "run-1", body["id"])
	assert.NotNil(t, body["report"])

	w = doRequest(router, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierrors.TypeRunNotFound, decodeBody(t, w)["type"])

	w = doRequest(router, http.MethodGet, "/api/runs/a.b", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisHandler_CancelRun(t *testing.T) {
	service, router := setupAnalysisHandler(t)
	service.On("CancelRun", mock.Anything, "run-1").Return(nil).Twice()
	service.On("CancelRun", mock.Anything, "run-2").Return(fmt.Errorf("run run-2: %w", services.ErrRunNotActive)).Once()

	w := doRequest(router, http.MethodPost, "/api/runs/run-1/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/runs/run-1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/runs/run-2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierrors.TypeRunNotActive, decodeBody(t, w)["type"])
}

func TestAnalysisHandler_ExportRun(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Export", mock.Anything, "run-1", exporter.FormatCSV).Return([]byte("stage,status\n"), nil).Once()

		w := doRequest(router, http.MethodGet, "/api/runs/run-1/export?format=csv", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, exporter.FormatCSV.ContentType(), w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="run-1.csv"`, w.Header().Get("Content-Disposition"))
		assert.Equal(t, "stage,status\n", w.Body.String())
	})

	t.Run("defaults to json", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Export", mock.Anything, "run-1", exporter.FormatJSON).Return([]byte(`{}`), nil).Once()

		w := doRequest(router, http.MethodGet, "/api/runs/run-1/export", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, router := setupAnalysisHandler(t)
		w := doRequest(router, http.MethodGet, "/api/runs/run-1/export?format=pdf", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "UNSUPPORTED_FORMAT", decodeBody(t, w)["error_code"])
	})

	t.Run("run not finished", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Export", mock.Anything, "run-3", exporter.FormatXLSX).
			Return(nil, fmt.Errorf("run run-3: %w", services.ErrRunNotFinished)).Once()

		w := doRequest(router, http.MethodGet, "/api/runs/run-3/export?format=xlsx", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestAnalysisHandler_Targets(t *testing.T) {
	service, router := setupAnalysisHandler(t)
	service.On("Targets").Return([]dispatch.TargetInfo{
		{Name: "microbiome.profile", Kind: dispatch.KindPipeline},
		{Name: "alpha-diversity", Kind: dispatch.KindOperation},
	}).Once()
	service.On("Target", "alpha-diversity").Return(dispatch.TargetInfo{Name: "alpha-diversity", Kind: dispatch.KindOperation}, nil).Once()
	service.On("Target", "nope").Return(dispatch.TargetInfo{}, &operations.UnknownTargetError{Target: "nope"}).Once()
	service.On("Aliases").Return(map[string]string{"microbiome.alpha": "alpha-diversity"}).Once()

	w := doRequest(router, http.MethodGet, "/api/targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = doRequest(router, http.MethodGet, "/api/targets/alpha-diversity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha-diversity", decodeBody(t, w)["name"])

	w = doRequest(router, http.MethodGet, "/api/targets/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "nope", decodeBody(t, w)["target"])

	w = doRequest(router, http.MethodGet, "/api/aliases", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha-diversity", decodeBody(t, w)["microbiome.alpha"])
}

func TestAnalysisHandler_LegacyAnalysis(t *testing.T) {
	t.Run("maps domain and analysis to an alias", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Dispatch", mock.Anything, "microbiome.alpha", operations.Params{"metric": "shannon"}).
			Return(finishedRun(t, "run-7"), nil).Once()

		w := doRequest(router, http.MethodPost, "/api/microbiome", map[string]interface{}{
			"analysis": "alpha",
			"metric":   "shannon",
		})

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "run-7", decodeBody(t, w)["id"])
	})

	t.Run("unmapped analysis", func(t *testing.T) {
		service, router := setupAnalysisHandler(t)
		service.On("Dispatch", mock.Anything, "chipseq.unknown", operations.Params{}).
			Return(nil, &operations.UnknownTargetError{Target: "chipseq.unknown"}).Once()

		w := doRequest(router, http.MethodPost, "/api/chipseq", map[string]interface{}{"analysis": "unknown"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown domain", func(t *testing.T) {
		_, router := setupAnalysisHandler(t)
		w := doRequest(router, http.MethodPost, "/api/proteomics", map[string]interface{}{"analysis": "x"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, apierrors.TypeNotFound, decodeBody(t, w)["type"])
	})

	t.Run("missing analysis", func(t *testing.T) {
		_, router := setupAnalysisHandler(t)
		w := doRequest(router, http.MethodPost, "/api/singlecell", map[string]interface{}{"resolution": 0.8})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "MISSING_PARAMETER", decodeBody(t, w)["error_code"])
	})
}
