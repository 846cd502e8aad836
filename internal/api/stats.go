package api

import (
	"net/http"

	"github.com/nunnr/gephiserver/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByPipeline    map[string]int `json:"by_pipeline"`
	ByFormat      map[string]int `json:"by_format"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Scheduler     engine.Stats   `json:"scheduler"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByPipeline:    stats.CountByPipeline,
		ByFormat:      stats.CountByFormat,
		AvgDurationMS: stats.AvgDurationMS,
		Scheduler:     s.scheduler.Stats(),
	})
}
