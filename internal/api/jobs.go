package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/store"
)

// pollResponse is the JSON response for GET /v1/jobs/{id}.
type pollResponse struct {
	ID     string `json:"id"`
	Done   bool   `json:"done"`
	Status string `json:"status"`
}

// listJobsResponse wraps the paginated job history.
type listJobsResponse struct {
	Jobs   []*model.JobRecord `json:"jobs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handlePollJob reports whether an asynchronous job has finished. Cancelled
// jobs answer 410 Gone: their result will never exist.
func (s *Server) handlePollJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h, err := s.scheduler.Lookup(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	done, err := s.scheduler.IsDone(id)
	switch {
	case errors.Is(err, engine.ErrCancelled):
		s.writeJSON(w, http.StatusGone, pollResponse{ID: id, Done: true, Status: model.StatusCancelled})
		return
	case err != nil:
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, pollResponse{ID: id, Done: done, Status: h.State()})
}

// handleCollectJob returns the artifact of a finished asynchronous job and
// forgets it. A second collect answers 404.
func (s *Server) handleCollectJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	art, err := s.scheduler.Collect(id)
	switch {
	case errors.Is(err, engine.ErrNotReady):
		s.writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "job not finished",
			Hint:  "poll GET /v1/jobs/" + id + " until done is true",
		})
		return
	case errors.Is(err, engine.ErrCancelled):
		s.writeError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		s.writeFailure(w, r, err)
		return
	}
	s.writeArtifact(w, art)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.scheduler.Cancel(id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetJobRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.JobRecord{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
