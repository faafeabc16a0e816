package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"emprofiler/internal/infrastructure"
	"emprofiler/internal/services"
	"emprofiler/internal/websocket"
)

// QueueStatsProvider reports run queue counters
type QueueStatsProvider interface {
	Stats() services.QueueStats
}

// HubStatsProvider reports websocket hub counters
type HubStatsProvider interface {
	Stats() websocket.HubStats
}

// MetricsHandler serves the Prometheus scrape endpoint and a JSON stats summary
type MetricsHandler struct {
	prometheus http.Handler
	queue      QueueStatsProvider
	hub        HubStatsProvider
	startTime  time.Time
}

// NewMetricsHandler creates a new metrics handler. prometheus may be nil when
// the Prometheus exporter is disabled; queue and hub may be nil.
func NewMetricsHandler(prometheus http.Handler, queue QueueStatsProvider, hub HubStatsProvider) *MetricsHandler {
	return &MetricsHandler{
		prometheus: prometheus,
		queue:      queue,
		hub:        hub,
		startTime:  time.Now(),
	}
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		http.Error(w, "metrics exporter disabled", http.StatusNotFound)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}

// GetStats handles GET /api/stats
func (h *MetricsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"system":    infrastructure.CollectSystemStats(h.startTime),
	}
	if h.queue != nil {
		response["queue"] = h.queue.Stats()
	}
	if h.hub != nil {
		response["websocket"] = h.hub.Stats()
	}
	render.JSON(w, r, response)
}
