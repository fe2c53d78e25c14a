package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain/event"
)

// StatsProvider reports job statistics
type StatsProvider interface {
	GetStats() (map[string]interface{}, error)
}

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	jobs    StatsProvider
	metrics *event.MetricsHandler
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(jobs StatsProvider, metrics *event.MetricsHandler, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		jobs:    jobs,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats()
	if err != nil {
		h.logger.Error("failed to get job stats", zap.Error(err))
		http.Error(w, "Failed to get job stats", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"jobs": stats,
	}
	if h.metrics != nil {
		response["events"] = h.metrics.GetMetrics()
	}

	writeJSON(w, http.StatusOK, response)
}
