package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is a request-level failure raised by handlers before a
// dispatch happens. ErrorHandler turns it into a problem document.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError names one rejected request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every rejected field of a request
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

func newWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	e := New(statusCode, errorCode, message)
	e.Details = details
	return e
}

// ErrMissingParameter is returned when a required query or path parameter is absent
var ErrMissingParameter = New(http.StatusBadRequest, "MISSING_PARAMETER", "Required parameter is missing")

// InvalidRequestWithError wraps a body decoding failure
func InvalidRequestWithError(err error) *APIError {
	return newWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation rejects a single request field
func ErrValidation(field, message string) *APIError {
	return newWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed",
		ValidationError{Field: field, Message: message})
}

// NewValidationErrors rejects several request fields at once
func NewValidationErrors(errs []ValidationError) *APIError {
	return newWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed",
		ValidationErrors{Errors: errs})
}

// NotFoundError reports a missing run, snapshot or export
func NotFoundError(resource string) *APIError {
	return newWithDetails(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}

// UnsupportedFormatError reports an export format the server cannot produce
func UnsupportedFormatError(err error) *APIError {
	return newWithDetails(http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", err.Error())
}
