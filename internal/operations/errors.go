package operations

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies orchestration errors. It is the value reported in a
// stage entry's error block.
type ErrorKind string

const (
	KindDuplicateName     ErrorKind = "duplicate_name"
	KindUnknownOperation  ErrorKind = "unknown_operation"
	KindUnknownTarget     ErrorKind = "unknown_target"
	KindInvalidParameter  ErrorKind = "invalid_parameter"
	KindBindingResolution ErrorKind = "binding_resolution"
	KindTimeout           ErrorKind = "timeout"
	KindCollaborator      ErrorKind = "collaborator"
	KindCancelled         ErrorKind = "cancelled"
	KindDefinition        ErrorKind = "definition"
)

// ErrRegistryFrozen is returned by Register once the registry has been frozen.
var ErrRegistryFrozen = errors.New("operation registry is frozen")

// DuplicateNameError is returned when an operation name is registered twice
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("operation %q is already registered", e.Name)
}

// Kind implements kinded
func (e *DuplicateNameError) Kind() ErrorKind { return KindDuplicateName }

// UnknownOperationError is returned when an operation name cannot be resolved
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// Kind implements kinded
func (e *UnknownOperationError) Kind() ErrorKind { return KindUnknownOperation }

// UnknownTargetError is returned when a dispatch target names neither a
// pipeline nor an operation.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown analysis target %q", e.Target)
}

// Kind implements kinded
func (e *UnknownTargetError) Kind() ErrorKind { return KindUnknownTarget }

// InvalidParameterError names the parameter that failed validation.
// Stage is empty when the parameter was addressed to the whole target.
type InvalidParameterError struct {
	Stage  string
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("invalid parameter %q for stage %s: %s", e.Field, e.Stage, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// Kind implements kinded
func (e *InvalidParameterError) Kind() ErrorKind { return KindInvalidParameter }

// BindingResolutionError is returned when a binding references a field that
// the source stage did not produce.
type BindingResolutionError struct {
	Stage  string
	Param  string
	Source string
	Field  string
	Reason string
}

func (e *BindingResolutionError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "field not present in result"
	}
	return fmt.Sprintf("stage %s: cannot bind %s from %s.%s: %s", e.Stage, e.Param, e.Source, e.Field, reason)
}

// Kind implements kinded
func (e *BindingResolutionError) Kind() ErrorKind { return KindBindingResolution }

// TimeoutError is returned when a stage exceeds its deadline
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded timeout of %s", e.Stage, e.Timeout)
}

// Kind implements kinded
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// CollaboratorError wraps a failure reported by an external collaborator
type CollaboratorError struct {
	Stage     string
	Operation string
	Cause     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Operation, e.Cause)
}

// Unwrap returns the collaborator's error
func (e *CollaboratorError) Unwrap() error { return e.Cause }

// Kind implements kinded
func (e *CollaboratorError) Kind() ErrorKind { return KindCollaborator }

// CancellationError is returned when the run's context ends while a stage is in flight
type CancellationError struct {
	Stage string
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("run cancelled: %v", e.Cause)
	}
	return fmt.Sprintf("stage %s cancelled: %v", e.Stage, e.Cause)
}

// Unwrap returns the context error
func (e *CancellationError) Unwrap() error { return e.Cause }

// Kind implements kinded
func (e *CancellationError) Kind() ErrorKind { return KindCancelled }

// DefinitionError reports an invalid pipeline definition. It is a startup
// error: a process holding one must not serve requests.
type DefinitionError struct {
	Pipeline string
	Stage    string
	Reason   string
	Cause    error
}

func (e *DefinitionError) Error() string {
	msg := fmt.Sprintf("pipeline %s", e.Pipeline)
	if e.Stage != "" {
		msg += fmt.Sprintf(" stage %s", e.Stage)
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *DefinitionError) Unwrap() error { return e.Cause }

// Kind implements kinded
func (e *DefinitionError) Kind() ErrorKind { return KindDefinition }

type kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are reported as collaborator failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindCollaborator
}

// retryableError marks a collaborator failure as safe to retry
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. Collaborators return it when repeating
// the call is safe; the executor never retries anything else.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// StageError is the serialized form of a stage failure
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewStageError converts err into its report form
func NewStageError(err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Kind: KindOf(err), Message: err.Error()}
}
