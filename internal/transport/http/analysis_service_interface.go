package http

import (
	"context"

	"emprofiler/internal/dispatch"
	"emprofiler/internal/exporter"
	"emprofiler/internal/operations"
	"emprofiler/internal/storage/runstore"
)

// AnalysisServiceInterface defines the interface for analysis run operations.
// *services.AnalysisService satisfies it; handlers depend on the interface so
// they can be tested with mocks.
type AnalysisServiceInterface interface {
	// Dispatch runs a target synchronously
	Dispatch(ctx context.Context, target string, params operations.Params) (*runstore.Run, error)

	// Submit queues a target for asynchronous execution
	Submit(ctx context.Context, target string, params operations.Params) (*runstore.Run, error)

	// GetRun returns a stored run
	GetRun(ctx context.Context, id string) (*runstore.Run, error)

	// ListRuns returns stored runs matching filter
	ListRuns(ctx context.Context, filter runstore.Filter) ([]*runstore.Run, error)

	// CancelRun cancels a queued or running submission
	CancelRun(ctx context.Context, id string) error

	// Export renders a finished run's report
	Export(ctx context.Context, runID string, format exporter.Format) ([]byte, error)

	// Targets lists every dispatchable target
	Targets() []dispatch.TargetInfo

	// Target describes one target
	Target(name string) (dispatch.TargetInfo, error)

	// Aliases returns the legacy alias table
	Aliases() map[string]string
}
