package testutil

import (
	"context"
	"sync"
	"time"

	"emprofiler/internal/operations"
)

// MockCollaborator is a configurable collaborator that records every call
type MockCollaborator struct {
	// Configurable behavior
	ResultValue operations.Result
	Err         error
	Delay       time.Duration
	// IgnoreContext makes Delay a plain sleep that does not observe cancellation
	IgnoreContext bool
	PanicValue    interface{}
	InvokeFunc    func(ctx context.Context, params operations.Params) (operations.Result, error)

	// Call tracking
	mu    sync.Mutex
	calls []InvokeCall
}

// InvokeCall tracks arguments passed to Invoke
type InvokeCall struct {
	Params operations.Params
	Time   time.Time
}

// Invoke records the call and applies the configured behavior
func (m *MockCollaborator) Invoke(ctx context.Context, params operations.Params) (operations.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, InvokeCall{Params: params.Clone(), Time: time.Now()})
	m.mu.Unlock()

	if m.PanicValue != nil {
		panic(m.PanicValue)
	}

	if m.Delay > 0 {
		if m.IgnoreContext {
			time.Sleep(m.Delay)
		} else {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, params)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.ResultValue.Clone(), nil
}

// CallCount returns the number of Invoke calls
func (m *MockCollaborator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the recorded calls
func (m *MockCollaborator) Calls() []InvokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvokeCall(nil), m.calls...)
}

// LastParams returns the params of the most recent call, nil if never called
func (m *MockCollaborator) LastParams() operations.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Params
}
