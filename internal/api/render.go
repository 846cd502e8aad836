package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/pipeline"
	"github.com/nunnr/gephiserver/internal/store"
)

// maxSyncTimeout caps the wait a caller may ask for on a synchronous render.
const maxSyncTimeout = time.Minute

// renderRequest is the JSON body for POST /v1/render and /v1/render/async.
type renderRequest struct {
	GraphID   int64        `json:"graph_id"`
	Pipeline  string       `json:"pipeline"`
	Format    string       `json:"format"`
	Params    model.Params `json:"params"`
	TimeoutMS int          `json:"timeout_ms"`
}

// asyncResponse is returned by POST /v1/render/async.
type asyncResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	ResultURL string `json:"result_url"`
}

// reservedQuery are the query keys of the GET render route that are not
// pipeline parameters.
var reservedQuery = map[string]bool{
	"pipeline":   true,
	"format":     true,
	"timeout_ms": true,
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRenderRequest(w, r)
	if !ok {
		return
	}
	s.renderSync(w, r, req)
}

// handleRenderQuery renders with the selector, format and parameters taken
// from the query string, so diagrams can be linked directly.
func (s *Server) handleRenderQuery(w http.ResponseWriter, r *http.Request) {
	graphID, err := strconv.ParseInt(chi.URLParam(r, "graphID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "graph id must be an integer")
		return
	}

	q := r.URL.Query()
	req := renderRequest{
		GraphID:   graphID,
		Pipeline:  q.Get("pipeline"),
		Format:    q.Get("format"),
		Params:    model.Params{},
		TimeoutMS: parseIntQuery(r, "timeout_ms", 0),
	}
	for key, values := range q {
		if reservedQuery[key] || len(values) == 0 {
			continue
		}
		req.Params[key] = queryValue(values[0])
	}
	s.renderSync(w, r, req)
}

func (s *Server) handleRenderAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRenderRequest(w, r)
	if !ok {
		return
	}

	job, err := s.newJob(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id, err := s.scheduler.RunAsync(job)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+id)
	s.writeJSON(w, http.StatusAccepted, asyncResponse{
		ID:        id,
		Status:    model.StatusQueued,
		StatusURL: "/v1/jobs/" + id,
		ResultURL: "/v1/jobs/" + id + "/result",
	})
}

func (s *Server) renderSync(w http.ResponseWriter, r *http.Request, req renderRequest) {
	job, err := s.newJob(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout > maxSyncTimeout {
		timeout = maxSyncTimeout
	}
	art, err := s.scheduler.RunSync(r.Context(), job, timeout)
	if err != nil {
		w.Header().Set("X-Job-Id", job.ID)
		s.writeFailure(w, r, err)
		return
	}
	s.writeArtifact(w, art)
}

func (s *Server) decodeRenderRequest(w http.ResponseWriter, r *http.Request) (renderRequest, bool) {
	var req renderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.GraphID <= 0 {
		s.writeError(w, http.StatusBadRequest, "graph_id is required")
		return req, false
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return req, false
	}
	return req, true
}

// newJob resolves the pipeline, checks the parameters and the graph id, and
// creates the job. Bad requests fail here, before they take a queue slot.
func (s *Server) newJob(ctx context.Context, req renderRequest) (*engine.Job, error) {
	p, err := s.registry.Resolve(req.Pipeline, req.Format)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(req.Params); err != nil {
		return nil, err
	}

	if _, err := s.store.GetGraph(ctx, req.GraphID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.WithHint(
				errors.Wrapf(pipeline.ErrGraphNotFound, "graph %d", req.GraphID),
				"GET /v1/graphs lists the available graphs")
		}
		return nil, errors.Wrap(err, "look up graph")
	}

	return engine.NewJob(p, req.GraphID, req.Params), nil
}

// queryValue keeps numeric query values as numbers so that they compare
// equal to JSON-decoded parameters.
func queryValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
