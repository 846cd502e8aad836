package api

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadyz reports 503 once the scheduler stops admitting jobs or the
// graph tables are unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.scheduler.Stats().ShuttingDown {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Reason: "shutting down"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.store.CheckSchema(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Reason: "graph store unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
