package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"emprofiler/internal/infrastructure"
	"emprofiler/internal/storage/runstore"
)

const storageCheckTimeout = 2 * time.Second

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	runs      runstore.Store
	queue     *RunQueue
	hub       ClientCounter
	targets   func() int
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// HealthDeps are the components checked for readiness. Nil fields are
// reported as not configured and do not affect readiness.
type HealthDeps struct {
	Runs    runstore.Store
	Queue   *RunQueue
	Hub     ClientCounter
	Targets func() int
}

// NewHealthService creates a new health service
func NewHealthService(version, buildTime string, deps HealthDeps, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		runs:      deps.Runs,
		queue:     deps.Queue,
		hub:       deps.Hub,
		targets:   deps.Targets,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "HealthCheck: performing health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	checks := map[string]ServiceHealth{
		"storage":   hs.checkStorage(ctx),
		"queue":     hs.checkQueue(),
		"catalog":   hs.checkCatalog(),
		"websocket": hs.checkWebSocket(),
	}
	for name, check := range checks {
		status.Services[name] = check
		if check.Status == "not_ready" {
			status.Status = "not_ready"
		}
	}

	if status.Status != "ready" {
		hs.logger.WarnContext(ctx, "readiness check failed", slog.Any("services", status.Services))
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	stats := infrastructure.CollectSystemStats(hs.startTime)
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     stats.UptimeSeconds,
			"go_version": runtime.Version(),
			"goroutines": stats.Goroutines,
			"heap_bytes": stats.HeapAllocBytes,
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) checkStorage(ctx context.Context) ServiceHealth {
	if hs.runs == nil {
		return ServiceHealth{Status: "not_configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, storageCheckTimeout)
	defer cancel()

	if _, err := hs.runs.List(ctx, runstore.Filter{Limit: 1}); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("Run store error: %v", err),
		}
	}
	return ServiceHealth{Status: "ready", Message: "Run store is reachable"}
}

func (hs *HealthService) checkQueue() ServiceHealth {
	if hs.queue == nil {
		return ServiceHealth{Status: "not_configured"}
	}
	stats := hs.queue.Stats()
	if !stats.Running {
		return ServiceHealth{Status: "not_ready", Message: "Run queue is not running"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d/%d queued, %d active", stats.QueueSize, stats.QueueCap, stats.ActiveRuns),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) checkCatalog() ServiceHealth {
	if hs.targets == nil {
		return ServiceHealth{Status: "not_configured"}
	}
	n := hs.targets()
	if n == 0 {
		return ServiceHealth{Status: "not_ready", Message: "No dispatchable targets"}
	}
	return ServiceHealth{Status: "ready", Message: fmt.Sprintf("%d targets", n)}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "not_configured"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.hub.ClientCount()),
	}
}
