package engine

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nunnr/gephiserver/internal/cache"
	"github.com/nunnr/gephiserver/internal/model"
)

// TracerName is the instrumentation scope name for render tracing.
const TracerName = "github.com/nunnr/gephiserver/internal/engine"

// Defaults applied by Config.withDefaults.
const (
	DefaultCapacity    = 10
	DefaultSyncTimeout = 5 * time.Second
	DefaultResultTTL   = 30 * time.Second
)

// Config sizes a Scheduler.
type Config struct {
	// Capacity is the most jobs admitted at once, counting the running one.
	Capacity int
	// SyncTimeout is the RunSync wait used when the caller passes zero.
	SyncTimeout time.Duration
	// ResultTTL is how long an asynchronous handle stays collectable.
	ResultTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.ResultTTL == 0 {
		c.ResultTTL = DefaultResultTTL
	}
	return c
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Capacity      int  `json:"capacity"`
	Queued        int  `json:"queued"`
	Running       int  `json:"running"`
	CachedResults int  `json:"cached_results"`
	ShuttingDown  bool `json:"shutting_down"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder persists job history through r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// Scheduler admits render jobs into a bounded FIFO queue and runs them one
// at a time on a single worker goroutine. Asynchronous handles are kept in
// a TTL cache until collected; an expired handle's job is cancelled.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
	broker   *EventBroker
	journal  *journal
	results  *cache.Cache[string, *Handle]

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	workerDone chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Handle
	running *Handle
	closed  bool
}

// NewScheduler validates cfg, starts the worker and the result cache sweep.
// Zero fields in cfg take their defaults.
func NewScheduler(cfg Config, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if cfg.Capacity < 1 {
		return nil, errors.Newf("scheduler capacity must be at least 1, got %d", cfg.Capacity)
	}
	if cfg.SyncTimeout < 0 {
		return nil, errors.Newf("sync timeout must be positive, got %s", cfg.SyncTimeout)
	}

	s := &Scheduler{
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(TracerName),
		broker:     NewEventBroker(),
		workerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)

	results, err := cache.New(cfg.ResultTTL, cache.WithEvictionFunc(s.evicted))
	if err != nil {
		return nil, errors.Wrap(err, "result cache")
	}
	s.results = results

	s.baseCtx, s.baseCancel = context.WithCancelCause(context.Background())
	s.journal = newJournal(s.recorder, s.broker, logger)
	go s.work()

	return s, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Events returns the broker that streams job state changes.
func (s *Scheduler) Events() *EventBroker { return s.broker }

// Submit admits job without blocking. It fails with ErrAdmissionRejected
// when the queued and running jobs already fill the capacity, and with
// ErrShutdown after Shutdown.
func (s *Scheduler) Submit(job *Job) (*Handle, error) {
	return s.submit(job, model.ModeDirect)
}

func (s *Scheduler) submit(job *Job, mode string) (*Handle, error) {
	h := newHandle(s.baseCtx, job, mode)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.cancel(ErrShutdown)
		return nil, ErrShutdown
	}

	inFlight := len(s.queue)
	if s.running != nil {
		inFlight++
	}
	if inFlight >= s.cfg.Capacity {
		rec := h.rec
		rec.Status = model.StatusRejected
		s.journal.add(true, rec, "queue full")
		s.mu.Unlock()

		h.cancel(ErrAdmissionRejected)
		admissionRejections.Inc()
		s.logger.Warn("render job rejected", "job_id", job.ID, "graph_id", job.GraphID, "capacity", s.cfg.Capacity)
		return nil, errors.Wrapf(ErrAdmissionRejected, "capacity %d", s.cfg.Capacity)
	}

	h.dequeue = s.dequeue
	s.queue = append(s.queue, h)
	s.journal.add(true, h.Record(), "")
	queueDepth.Set(float64(len(s.queue)))
	s.cond.Signal()
	s.mu.Unlock()

	s.logger.Debug("render job queued", "job_id", job.ID, "mode", mode, "position", inFlight)
	return h, nil
}

// dequeue removes h from the queue and resolves it as cancelled. It
// reports false when h is no longer queued.
func (s *Scheduler) dequeue(h *Handle, reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.queue, h)
	if i < 0 {
		return false
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	queueDepth.Set(float64(len(s.queue)))

	rec := h.resolveCancelled(time.Now().UTC(), reason)
	s.journal.add(false, rec, reason.Error())
	jobsTotal.WithLabelValues(model.StatusCancelled).Inc()
	return true
}

// work is the single worker loop.
func (s *Scheduler) work() {
	defer close(s.workerDone)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		h := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running = h
		s.journal.add(false, h.start(time.Now().UTC()), "")
		queueDepth.Set(float64(len(s.queue)))
		jobsRunning.Set(1)
		s.mu.Unlock()

		start := time.Now()
		art, err := h.job.Run(h.ctx, s.logger, s.tracer)
		elapsed := time.Since(start)

		s.mu.Lock()
		rec := h.finish(time.Now().UTC(), art, err)
		s.running = nil
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.journal.add(false, rec, msg)
		jobsRunning.Set(0)
		s.mu.Unlock()

		jobsTotal.WithLabelValues(rec.Status).Inc()
		jobDuration.WithLabelValues(rec.Pipeline, rec.Format).Observe(elapsed.Seconds())
	}
}

// RunSync submits job and waits up to timeout for its result; zero means
// the configured SyncTimeout. On timeout the job is cancelled (dequeued if
// it has not started) and ErrTimeout is returned. If ctx ends first the job
// is cancelled and ErrInterrupted is returned.
func (s *Scheduler) RunSync(ctx context.Context, job *Job, timeout time.Duration) (*model.Artifact, error) {
	if timeout <= 0 {
		timeout = s.cfg.SyncTimeout
	}
	h, err := s.submit(job, model.ModeSync)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason error
	select {
	case <-h.Done():
		return h.Result()
	case <-timer.C:
		syncTimeouts.Inc()
		reason = errors.Wrapf(ErrTimeout, "no result after %s", timeout)
	case <-ctx.Done():
		reason = errors.Wrap(ErrInterrupted, context.Cause(ctx).Error())
	}

	if !h.Cancel(reason) {
		// Resolved between the wake-up and the cancel.
		return h.Result()
	}
	s.logger.Info("sync render abandoned", "job_id", job.ID, "reason", reason)
	return nil, reason
}

// RunAsync submits job and stores its handle under job.ID until collected
// or expired.
func (s *Scheduler) RunAsync(job *Job) (string, error) {
	h, err := s.submit(job, model.ModeAsync)
	if err != nil {
		return "", err
	}
	s.results.Put(job.ID, h)
	cachedResults.Set(float64(s.results.Len()))
	return job.ID, nil
}

// Lookup returns the cached handle of an asynchronous job.
func (s *Scheduler) Lookup(id string) (*Handle, error) {
	h, ok := s.results.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return h, nil
}

// IsDone reports whether the asynchronous job id has resolved. It returns
// ErrNotFound for unknown, expired or collected ids and ErrCancelled for a
// cancelled job.
func (s *Scheduler) IsDone(id string) (bool, error) {
	h, err := s.Lookup(id)
	if err != nil {
		return false, err
	}
	if h.State() == model.StatusCancelled {
		return true, errors.Wrapf(ErrCancelled, "job %s", id)
	}
	return h.IsDone(), nil
}

// Collect removes and returns the outcome of the finished asynchronous job
// id. An unfinished job returns ErrNotReady and stays in the cache. Only
// one of any number of concurrent collectors receives the result.
func (s *Scheduler) Collect(id string) (*model.Artifact, error) {
	h, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !h.IsDone() {
		return nil, errors.Wrapf(ErrNotReady, "job %s", id)
	}
	if !s.results.CompareAndRemove(id, h) {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	cachedResults.Set(float64(s.results.Len()))
	return h.Result()
}

// Cancel removes the asynchronous job id from the cache and cancels it.
func (s *Scheduler) Cancel(id string) error {
	h, ok := s.results.Remove(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "job %s", id)
	}
	cachedResults.Set(float64(s.results.Len()))
	if h.Cancel(errors.Wrap(ErrCancelled, "cancelled by request")) {
		s.logger.Info("render job cancelled", "job_id", id)
	}
	return nil
}

// evicted runs on the cache sweep goroutine for every expired handle.
func (s *Scheduler) evicted(id string, h *Handle) {
	cachedResults.Set(float64(s.results.Len()))
	finished := h.IsDone()
	resultEvictions.WithLabelValues(strconv.FormatBool(finished)).Inc()
	if finished {
		s.logger.Debug("uncollected render result discarded", "job_id", id)
		return
	}
	if h.Cancel(errors.Wrapf(ErrCancelled, "result expired after %s", s.cfg.ResultTTL)) {
		s.logger.Info("expired render job cancelled", "job_id", id, "ttl", s.cfg.ResultTTL.String())
	}
}

// Stats returns the current queue and cache sizes.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Capacity:     s.cfg.Capacity,
		Queued:       len(s.queue),
		ShuttingDown: s.closed,
	}
	if s.running != nil {
		st.Running = 1
	}
	s.mu.Unlock()
	st.CachedResults = s.results.Len()
	return st
}

// Shutdown stops admission, cancels the running job, cancels and discards
// queued jobs and stops the cache sweep. It waits for the worker and the
// history journal, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		queued := s.queue
		s.queue = nil
		now := time.Now().UTC()
		for _, h := range queued {
			rec := h.resolveCancelled(now, ErrShutdown)
			s.journal.add(false, rec, ErrShutdown.Error())
			jobsTotal.WithLabelValues(model.StatusCancelled).Inc()
		}
		queueDepth.Set(0)
		s.cond.Broadcast()
		s.logger.Info("scheduler shutting down", "discarded", len(queued), "running", s.running != nil)
	}
	s.mu.Unlock()

	s.baseCancel(ErrShutdown)
	s.results.DisableExpiry()

	select {
	case <-s.workerDone:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for render worker")
	}
	if err := s.journal.close(ctx); err != nil {
		return errors.Wrap(err, "flush job history")
	}
	return nil
}
