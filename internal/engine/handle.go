package engine

import (
	"context"
	"sync"
	"time"

	"github.com/nunnr/gephiserver/internal/model"
)

// Handle is the future outcome of a submitted job. Its state moves
// queued → running → completed|failed|cancelled, or queued → cancelled.
type Handle struct {
	job    *Job
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	// dequeue removes the handle from its scheduler's queue and resolves it
	// as cancelled. It reports false once the handle has left the queue.
	dequeue func(h *Handle, reason error) bool

	mu     sync.Mutex
	rec    model.JobRecord
	result *model.Artifact
	err    error
}

func newHandle(parent context.Context, job *Job, mode string) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{
		job:    job,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		rec: model.JobRecord{
			ID:        job.ID,
			Pipeline:  job.Pipeline.Name,
			Format:    job.Pipeline.Format(),
			GraphID:   job.GraphID,
			Mode:      mode,
			Status:    model.StatusQueued,
			CreatedAt: job.CreatedAt,
		},
	}
}

// ID returns the job id.
func (h *Handle) ID() string { return h.job.ID }

// Job returns the submitted job.
func (h *Handle) Job() *Job { return h.job }

// State returns the current status.
func (h *Handle) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Status
}

// Record returns a snapshot of the job's history record.
func (h *Handle) Record() model.JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec
}

// Done returns a channel closed once the handle has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsDone reports whether the handle has resolved.
func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the artifact or the error the job resolved with, or
// ErrNotReady while it is still queued or running.
func (h *Handle) Result() (*model.Artifact, error) {
	if !h.IsDone() {
		return nil, ErrNotReady
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Wait blocks until the handle resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*model.Artifact, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation with reason as the cause. A queued job is
// removed from the queue and resolves as cancelled at once; a running job
// is signalled and resolves once it reaches a checkpoint. Cancel reports
// false when the handle had already resolved.
func (h *Handle) Cancel(reason error) bool {
	if reason == nil {
		reason = ErrCancelled
	}
	if h.dequeue != nil && h.dequeue(h, reason) {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if model.IsTerminal(h.rec.Status) {
		return false
	}
	h.cancel(reason)
	return true
}

// start moves a queued handle to running.
func (h *Handle) start(now time.Time) model.JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rec.Status = model.StatusRunning
	h.rec.StartedAt = &now
	return h.rec
}

// finish resolves the handle with the outcome of Run.
func (h *Handle) finish(now time.Time, art *model.Artifact, err error) model.JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result, h.err = art, err
	h.rec.Status = outcome(err)
	h.rec.FinishedAt = &now
	if h.rec.StartedAt != nil {
		dur := int(now.Sub(*h.rec.StartedAt).Milliseconds())
		h.rec.DurationMS = &dur
	}
	if err != nil {
		h.rec.Error = err.Error()
	}
	if art != nil {
		size := len(art.Data)
		h.rec.OutputSize = &size
	}
	close(h.done)
	h.cancel(nil)
	return h.rec
}

// resolveCancelled resolves a handle that never ran.
func (h *Handle) resolveCancelled(now time.Time, reason error) model.JobRecord {
	h.cancel(reason)
	return h.finish(now, nil, cancelled("in queue", reason))
}
