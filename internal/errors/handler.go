package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"emprofiler/internal/operations"
	"emprofiler/internal/services"
	"emprofiler/internal/storage/runstore"
)

// Common error types following RFC 7807
const (
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeTimeout         = "/errors/timeout"
	TypeConflict        = "/errors/conflict"
	TypePayloadTooLarge = "/errors/payload-too-large"
	TypeUnauthorized    = "/errors/unauthorized"
)

// Domain-specific error types
const (
	TypeTargetNotFound   = "/errors/target/not-found"
	TypeInvalidParameter = "/errors/target/invalid-parameter"
	TypeRunNotFound      = "/errors/run/not-found"
	TypeRunNotFinished   = "/errors/run/not-finished"
	TypeRunNotActive     = "/errors/run/not-active"
	TypeQueueFull        = "/errors/queue/full"
	TypeWebSocketUpgrade = "/errors/websocket/upgrade-failed"
)

// retryAfterSeconds is advertised when the run queue is saturated
const retryAfterSeconds = 5

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var target *operations.UnknownTargetError
	if errors.As(err, &target) {
		return NewProblemDetails(
			http.StatusNotFound,
			TypeTargetNotFound,
			"Target Not Found",
			err.Error(),
			path,
		).WithExtension("target", target.Target)
	}

	var invalid *operations.InvalidParameterError
	if errors.As(err, &invalid) {
		problem := NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeInvalidParameter,
			"Invalid Parameter",
			err.Error(),
			path,
		).WithExtension("parameter", invalid.Field).
			WithExtension("reason", invalid.Reason)
		if invalid.Stage != "" {
			problem.WithExtension("stage", invalid.Stage)
		}
		return problem
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			TypePayloadTooLarge,
			"Payload Too Large",
			fmt.Sprintf("The request body exceeds the maximum allowed size of %d bytes", tooLarge.Limit),
			path,
		)
	}

	switch {
	case errors.Is(err, runstore.ErrNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeRunNotFound, "Run Not Found", err.Error(), path)

	case errors.Is(err, services.ErrRunNotFinished):
		return NewProblemDetails(http.StatusConflict, TypeRunNotFinished, "Run Not Finished", err.Error(), path)

	case errors.Is(err, services.ErrRunNotActive):
		return NewProblemDetails(http.StatusConflict, TypeRunNotActive, "Run Not Active", err.Error(), path)

	case errors.Is(err, runstore.ErrExists):
		return NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", err.Error(), path)

	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueStopped):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeQueueFull,
			"Run Queue Unavailable",
			"The server cannot accept more runs right now. Please try again later.",
			path,
		).WithExtension("retry_after", retryAfterSeconds)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		path,
	).WithExtension("error_kind", string(operations.KindOf(err)))
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "INVALID_REQUEST", "VALIDATION_FAILED", "MISSING_PARAMETER", "UNSUPPORTED_FORMAT":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
