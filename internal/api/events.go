package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/store"
)

// eventHistoryResponse is the JSON response for GET /v1/jobs/{id}/events/history.
type eventHistoryResponse struct {
	JobID  string           `json:"job_id"`
	Events []model.JobEvent `json:"events"`
}

// jobKnown reports whether id is a live asynchronous job or has a history
// record. A just-submitted job may not be recorded yet, so the scheduler is
// asked first.
func (s *Server) jobKnown(r *http.Request, id string) (*model.JobRecord, bool, error) {
	if h, err := s.scheduler.Lookup(id); err == nil {
		rec := h.Record()
		return &rec, true, nil
	}
	rec, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// handleStreamEvents streams the job's state changes as server-sent events
// until it reaches a terminal state.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok, err := s.jobKnown(r, id)
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already in a terminal state, return empty stream immediately.
	if model.IsTerminal(rec.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe on a finished job returns a closed channel, so a job that
	// ended after the check above still ends the loop.
	ch, unsub := s.scheduler.Events().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("encode job event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, "status", string(data)); err != nil {
				return // client gone
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, ok, err := s.jobKnown(r, id)
	if err != nil {
		s.logger.Error("get job for event history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	events, err := s.store.GetJobEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get job events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job events")
		return
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		JobID:  id,
		Events: events,
	})
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
