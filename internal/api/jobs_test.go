package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/model"
)

func submitAsync(t *testing.T, baseURL string, req renderRequest) asyncResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/v1/render/async", req)
	defer resp.Body.Close()

	var body asyncResponse
	decodeJSON(t, resp, http.StatusAccepted, &body)
	assert.Equal(t, "/v1/jobs/"+body.ID, resp.Header.Get("Location"))
	return body
}

func getStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAsyncRenderLifecycle(t *testing.T) {
	srv := newTestServer(t)
	b := registerGated(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitAsync(t, ts.URL, renderRequest{GraphID: 1, Pipeline: "gated"})
	assert.Equal(t, model.StatusQueued, job.Status)
	b.waitEntered(t)

	resp, err := http.Get(ts.URL + job.StatusURL)
	require.NoError(t, err)
	var poll pollResponse
	decodeJSON(t, resp, http.StatusOK, &poll)
	resp.Body.Close()
	assert.False(t, poll.Done)

	resp, err = http.Get(ts.URL + job.ResultURL)
	require.NoError(t, err)
	var notReady errorResponse
	decodeJSON(t, resp, http.StatusNotFound, &notReady)
	resp.Body.Close()
	assert.Equal(t, "job not finished", notReady.Error)

	b.release()
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + job.StatusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var p pollResponse
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return false
		}
		return p.Done && p.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(ts.URL + job.ResultURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, job.ID, resp.Header.Get("X-Job-Id"))
	assert.Contains(t, string(body), "<svg")

	// A result is handed out once.
	assert.Equal(t, http.StatusNotFound, getStatus(t, ts.URL+job.ResultURL))
	assert.Equal(t, http.StatusNotFound, getStatus(t, ts.URL+job.StatusURL))
}

func TestCancelAsyncJob(t *testing.T) {
	srv := newTestServer(t)
	b := registerGated(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitAsync(t, ts.URL, renderRequest{GraphID: 1, Pipeline: "gated"})
	b.waitEntered(t)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+job.StatusURL, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusNoContent, del())
	assert.Equal(t, http.StatusNotFound, del())
	assert.Equal(t, http.StatusNotFound, getStatus(t, ts.URL+job.StatusURL))

	// The history keeps the cancelled job.
	require.Eventually(t, func() bool {
		rec, err := srv.store.GetJob(context.Background(), job.ID)
		return err == nil && rec.Status == model.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollCancelledJobIsGone(t *testing.T) {
	srv := newTestServerWithConfig(t, engine.Config{Capacity: 2})
	b := registerGated(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	submitAsync(t, ts.URL, renderRequest{GraphID: 1, Pipeline: "gated"})
	b.waitEntered(t)
	queued := submitAsync(t, ts.URL, renderRequest{GraphID: 1, Pipeline: "gated"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.scheduler.Shutdown(ctx))

	resp, err := http.Get(ts.URL + queued.StatusURL)
	require.NoError(t, err)
	var poll pollResponse
	decodeJSON(t, resp, http.StatusGone, &poll)
	resp.Body.Close()
	assert.True(t, poll.Done)
	assert.Equal(t, model.StatusCancelled, poll.Status)

	assert.Equal(t, http.StatusGone, getStatus(t, ts.URL+queued.ResultURL))
}

func TestUnknownJob(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{
		"/v1/jobs/nonexistent",
		"/v1/jobs/nonexistent/result",
		"/v1/jobs/nonexistent/record",
		"/v1/jobs/nonexistent/events",
		"/v1/jobs/nonexistent/events/history",
	} {
		assert.Equal(t, http.StatusNotFound, getStatus(t, ts.URL+path), path)
	}
}

func TestListJobsAndRecord(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var ids []string
	for range 3 {
		resp := postJSON(t, ts.URL+"/v1/render", renderRequest{GraphID: 1})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ids = append(ids, resp.Header.Get("X-Job-Id"))
	}

	// History is written behind the scheduler.
	require.Eventually(t, func() bool {
		rec, err := srv.store.GetJob(context.Background(), ids[2])
		return err == nil && rec.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	require.NoError(t, err)
	var list listJobsResponse
	decodeJSON(t, resp, http.StatusOK, &list)
	resp.Body.Close()
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.Limit)
	assert.Len(t, list.Jobs, 2)

	resp, err = http.Get(ts.URL + "/v1/jobs/" + ids[0] + "/record")
	require.NoError(t, err)
	var rec model.JobRecord
	decodeJSON(t, resp, http.StatusOK, &rec)
	resp.Body.Close()
	assert.Equal(t, model.ModeSync, rec.Mode)
	assert.Equal(t, "std", rec.Pipeline)
	assert.Equal(t, "svg", rec.Format)
	require.NotNil(t, rec.OutputSize)
	assert.Positive(t, *rec.OutputSize)
}

func TestListJobsClampsPaging(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=500&offset=-4")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list listJobsResponse
	decodeJSON(t, resp, http.StatusOK, &list)
	assert.Equal(t, defaultListLimit, list.Limit)
	assert.Equal(t, 0, list.Offset)
	assert.NotNil(t, list.Jobs)
}
