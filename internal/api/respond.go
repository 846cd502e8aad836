package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/pipeline"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeFailure maps err onto a status code and writes it. Server-side
// failures are logged and reported without internals.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Hint: errors.FlattenHints(err)}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		resp.Error = "server too busy"
	case http.StatusRequestTimeout:
		resp.Error = "render did not complete: " + err.Error()
		if resp.Hint == "" {
			resp.Hint = "retry later or submit the render asynchronously"
		}
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		resp.Error = "render failed"
		var perr *engine.PipelineError
		if errors.As(err, &perr) {
			resp.Error = "render failed during " + perr.Stage
		}
	}
	s.writeJSON(w, status, resp)
}

// statusFor maps engine and pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrAdmissionRejected):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTimeout),
		errors.Is(err, engine.ErrInterrupted),
		errors.Is(err, engine.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, engine.ErrNotFound),
		errors.Is(err, pipeline.ErrGraphNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrMissingParam),
		errors.Is(err, pipeline.ErrInvalidParam),
		errors.Is(err, pipeline.ErrUnknownPipeline),
		errors.Is(err, pipeline.ErrUnknownFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeArtifact writes a rendered diagram as the response body.
func (s *Server) writeArtifact(w http.ResponseWriter, art *model.Artifact) {
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("X-Job-Id", art.JobID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		s.logger.Debug("write artifact", "job_id", art.JobID, "error", err)
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
