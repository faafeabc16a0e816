package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshot statuses. Stage snapshots also use "pending" and "running", which
// never appear in a sealed report.
const (
	snapshotPending = "pending"
	snapshotRunning = "running"
)

// StatusBroadcaster keeps a live snapshot of every in-flight run and pushes
// each change to the websocket hub. Updates are applied one at a time by a
// single goroutine so snapshots never interleave.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	runs    map[string]*RunSnapshot
	hub     WebSocketHub
	logger  *slog.Logger
	updates chan updateRequest
	stop    chan struct{}
	once    sync.Once
}

// RunSnapshot is the complete live state of a run
type RunSnapshot struct {
	RunID        string          `json:"run_id"`
	Target       string          `json:"target"`
	Status       string          `json:"status"`   // pending|running|succeeded|failed|cancelled
	Progress     int             `json:"progress"` // 0-100
	CurrentStage string          `json:"current_stage,omitempty"`
	Stages       []StageSnapshot `json:"stages"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// StageSnapshot is the live state of one stage
type StageSnapshot struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Status    string `json:"status"` // pending|running|succeeded|failed|skipped
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

type updateRequest struct {
	runID      string
	updateFunc func(*RunSnapshot)
	done       chan struct{}
}

// NewStatusBroadcaster creates a new status broadcaster
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		runs:    make(map[string]*RunSnapshot),
		hub:     hub,
		logger:  logger,
		updates: make(chan updateRequest, 100),
		stop:    make(chan struct{}),
	}

	go sb.processUpdates()

	return sb
}

func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	snapshot, exists := sb.runs[req.runID]
	if !exists {
		now := time.Now()
		snapshot = &RunSnapshot{
			RunID:     req.runID,
			Status:    snapshotPending,
			StartedAt: now,
			UpdatedAt: now,
			Stages:    []StageSnapshot{},
		}
		sb.runs[req.runID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()

	if n := len(snapshot.Stages); n > 0 {
		finished := 0
		for _, stage := range snapshot.Stages {
			if stage.Status != snapshotPending && stage.Status != snapshotRunning {
				finished++
			}
		}
		snapshot.Progress = finished * 100 / n
	}

	if isTerminal(snapshot.Status) && snapshot.CompletedAt == nil {
		now := time.Now()
		snapshot.CompletedAt = &now
	}

	out := snapshot.clone()
	sb.mu.Unlock()

	sb.broadcast(out)
}

func (sb *StatusBroadcaster) broadcast(snapshot *RunSnapshot) {
	if sb.hub == nil {
		return
	}

	sb.logger.Debug("broadcasting run snapshot",
		slog.String("run_id", snapshot.RunID),
		slog.String("status", snapshot.Status),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_stage", snapshot.CurrentStage),
	)

	sb.hub.BroadcastUpdate("run:snapshot", snapshot.Target, snapshot.Status, snapshot)
}

// UpdateStatus applies updateFunc to the run's snapshot and waits for the
// result to be broadcast. It is a no-op on a nil or stopped broadcaster.
func (sb *StatusBroadcaster) UpdateStatus(runID string, updateFunc func(*RunSnapshot)) {
	if sb == nil {
		return
	}

	req := updateRequest{
		runID:      runID,
		updateFunc: updateFunc,
		done:       make(chan struct{}),
	}

	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}
	select {
	case <-req.done:
	case <-sb.stop:
	}
}

// CreateRun registers a run with its stage IDs in declared order
func (sb *StatusBroadcaster) CreateRun(runID, target string, stageIDs, operations []string) {
	sb.UpdateStatus(runID, func(snapshot *RunSnapshot) {
		snapshot.Target = target
		snapshot.Status = snapshotPending
		snapshot.Stages = make([]StageSnapshot, len(stageIDs))
		for i, id := range stageIDs {
			snapshot.Stages[i] = StageSnapshot{ID: id, Operation: operations[i], Status: snapshotPending}
		}
	})
}

// StartRun marks a run as running
func (sb *StatusBroadcaster) StartRun(runID string) {
	sb.UpdateStatus(runID, func(snapshot *RunSnapshot) {
		snapshot.Status = snapshotRunning
	})
}

// StartStage marks a stage as running
func (sb *StatusBroadcaster) StartStage(runID, stageID string) {
	sb.UpdateStatus(runID, func(snapshot *RunSnapshot) {
		if stage := snapshot.stage(stageID); stage != nil {
			stage.Status = snapshotRunning
			snapshot.CurrentStage = stageID
		}
	})
}

// FinishStage records a stage outcome
func (sb *StatusBroadcaster) FinishStage(runID string, entry StageReport) {
	sb.UpdateStatus(runID, func(snapshot *RunSnapshot) {
		stage := snapshot.stage(entry.Name)
		if stage == nil {
			snapshot.Stages = append(snapshot.Stages, StageSnapshot{ID: entry.Name, Operation: entry.Operation})
			stage = &snapshot.Stages[len(snapshot.Stages)-1]
		}
		stage.Status = string(entry.Status)
		stage.ElapsedMS = entry.Elapsed.Milliseconds()
		if entry.Error != nil {
			stage.Error = entry.Error.Message
		}
		if snapshot.CurrentStage == entry.Name {
			snapshot.CurrentStage = ""
		}
	})
}

// FinishRun records the final run status
func (sb *StatusBroadcaster) FinishRun(report *RunReport) {
	sb.UpdateStatus(report.ID, func(snapshot *RunSnapshot) {
		snapshot.Status = string(report.Status)
		snapshot.CurrentStage = ""
		if failure := report.Failure(); failure != nil {
			snapshot.Error = failure.Message
		}
	})
}

// GetSnapshot returns a copy of the current snapshot for a run
func (sb *StatusBroadcaster) GetSnapshot(runID string) (*RunSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.runs[runID]
	if !exists {
		return nil, false
	}
	return snapshot.clone(), true
}

// GetAllSnapshots returns copies of all current run snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*RunSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshots := make([]*RunSnapshot, 0, len(sb.runs))
	for _, snapshot := range sb.runs {
		snapshots = append(snapshots, snapshot.clone())
	}
	return snapshots
}

// CleanupOldRuns removes finished runs older than maxAge
func (sb *StatusBroadcaster) CleanupOldRuns(ctx context.Context, maxAge time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	for id, snapshot := range sb.runs {
		if snapshot.CompletedAt != nil && now.Sub(*snapshot.CompletedAt) > maxAge {
			delete(sb.runs, id)
			sb.logger.DebugContext(ctx, "cleaned up old run",
				slog.String("run_id", id),
				slog.String("status", snapshot.Status),
			)
		}
	}
}

// Stop shuts down the update loop. Later updates are dropped.
func (sb *StatusBroadcaster) Stop() {
	sb.once.Do(func() { close(sb.stop) })
}

func (s *RunSnapshot) stage(id string) *StageSnapshot {
	for i := range s.Stages {
		if s.Stages[i].ID == id {
			return &s.Stages[i]
		}
	}
	return nil
}

func (s *RunSnapshot) clone() *RunSnapshot {
	out := *s
	out.Stages = append([]StageSnapshot(nil), s.Stages...)
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

func isTerminal(status string) bool {
	switch RunStatus(status) {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}
