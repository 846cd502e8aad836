package api

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/nunnr/gephiserver/internal/store"
)

// handleListGraphs returns a mapping of graph id to title.
func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.store.ListGraphs(r.Context())
	if err != nil {
		s.logger.Error("list graphs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list graphs")
		return
	}
	s.writeJSON(w, http.StatusOK, graphs)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "graphID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "graph id must be an integer")
		return
	}

	g, err := s.store.GetGraph(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "graph not found")
		return
	}
	if err != nil {
		s.logger.Error("get graph", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get graph")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}
