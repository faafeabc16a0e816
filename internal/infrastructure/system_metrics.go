package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// SystemStats is a point-in-time view of the Go runtime
type SystemStats struct {
	Goroutines     int           `json:"goroutines"`
	HeapAllocBytes uint64        `json:"heap_alloc_bytes"`
	SysBytes       uint64        `json:"sys_bytes"`
	NumGC          uint32        `json:"num_gc"`
	CPUCount       int           `json:"cpu_count"`
	Uptime         time.Duration `json:"-"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
}

// CollectSystemStats reads runtime statistics. startTime is the process start.
func CollectSystemStats(startTime time.Time) SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(startTime)
	return SystemStats{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
		CPUCount:       runtime.NumCPU(),
		Uptime:         uptime,
		UptimeSeconds:  uptime.Seconds(),
	}
}

// RegisterSystemMetrics exposes runtime statistics as observable gauges.
// Values are read when the exporter collects, so no background goroutine is needed.
func RegisterSystemMetrics(meter metric.Meter, startTime time.Time) (metric.Registration, error) {
	goroutines, err := meter.Int64ObservableGauge(
		"system_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64ObservableGauge(
		"system_memory_allocated_bytes",
		metric.WithDescription("Heap memory allocated by the Go runtime"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64ObservableGauge(
		"system_gc_count",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Float64ObservableGauge(
		"system_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := CollectSystemStats(startTime)
		o.ObserveInt64(goroutines, int64(stats.Goroutines))
		o.ObserveInt64(heapAlloc, int64(stats.HeapAllocBytes))
		o.ObserveInt64(gcCount, int64(stats.NumGC))
		o.ObserveFloat64(uptime, stats.UptimeSeconds)
		return nil
	}, goroutines, heapAlloc, gcCount, uptime)
}
