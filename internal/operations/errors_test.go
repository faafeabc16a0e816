package operations_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"emprofiler/internal/operations"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want operations.ErrorKind
	}{
		{err: nil, want: ""},
		{err: errors.New("plain"), want: operations.KindCollaborator},
		{err: &operations.DuplicateNameError{Name: "a"}, want: operations.KindDuplicateName},
		{err: &operations.UnknownOperationError{Name: "a"}, want: operations.KindUnknownOperation},
		{err: &operations.UnknownTargetError{Target: "a"}, want: operations.KindUnknownTarget},
		{err: &operations.InvalidParameterError{Field: "metric"}, want: operations.KindInvalidParameter},
		{err: &operations.BindingResolutionError{Stage: "b"}, want: operations.KindBindingResolution},
		{err: &operations.TimeoutError{Stage: "a", Timeout: time.Second}, want: operations.KindTimeout},
		{err: &operations.CancellationError{Cause: context.Canceled}, want: operations.KindCancelled},
		{err: &operations.DefinitionError{Pipeline: "p", Reason: "bad"}, want: operations.KindDefinition},
		{err: fmt.Errorf("dispatch: %w", &operations.UnknownTargetError{Target: "x"}), want: operations.KindUnknownTarget},
		{
			err:  &operations.DefinitionError{Pipeline: "p", Reason: "cannot resolve operation", Cause: &operations.UnknownOperationError{Name: "x"}},
			want: operations.KindDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, operations.KindOf(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `invalid parameter "metric": required parameter is missing`,
		(&operations.InvalidParameterError{Field: "metric", Reason: "required parameter is missing"}).Error())
	assert.Equal(t, `invalid parameter "input" for stage peaks: expected string, got number`,
		(&operations.InvalidParameterError{Stage: "peaks", Field: "input", Reason: "expected string, got number"}).Error())
	assert.Equal(t, "stage b: cannot bind input from a.peaks: field not present in result",
		(&operations.BindingResolutionError{Stage: "b", Param: "input", Source: "a", Field: "peaks"}).Error())
	assert.Equal(t, "stage slow exceeded timeout of 1ms",
		(&operations.TimeoutError{Stage: "slow", Timeout: time.Millisecond}).Error())
}

func TestRetryable(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := operations.Retryable(base)

	assert.True(t, operations.IsRetryable(wrapped))
	assert.True(t, operations.IsRetryable(fmt.Errorf("call: %w", wrapped)))
	assert.False(t, operations.IsRetryable(base))
	assert.ErrorIs(t, wrapped, base)
	assert.Nil(t, operations.Retryable(nil))

	collab := &operations.CollaboratorError{Stage: "s", Operation: "op", Cause: wrapped}
	assert.True(t, operations.IsRetryable(collab))
	assert.ErrorIs(t, collab, base)
}

func TestNewStageError(t *testing.T) {
	assert.Nil(t, operations.NewStageError(nil))

	se := operations.NewStageError(&operations.TimeoutError{Stage: "a", Timeout: time.Second})
	assert.Equal(t, operations.KindTimeout, se.Kind)
	assert.Equal(t, "stage a exceeded timeout of 1s", se.Message)
}
