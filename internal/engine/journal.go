package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nunnr/gephiserver/internal/model"
)

// recordTimeout bounds each history write.
const recordTimeout = 5 * time.Second

// Recorder persists job history. store.SQLiteStore implements it.
type Recorder interface {
	CreateJob(ctx context.Context, j *model.JobRecord) error
	UpdateJob(ctx context.Context, j *model.JobRecord) error
	InsertJobEvent(ctx context.Context, e model.JobEvent) error
}

type journalEntry struct {
	create bool
	record model.JobRecord
	event  model.JobEvent
}

// journal writes job state changes to the recorder and the event broker on
// its own goroutine, in the order they were added. Adding never blocks on
// I/O, so the scheduler can add entries while holding its lock.
type journal struct {
	rec    Recorder
	broker *EventBroker
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []journalEntry
	seq     map[string]int
	closed  bool
	done    chan struct{}
}

func newJournal(rec Recorder, broker *EventBroker, logger *slog.Logger) *journal {
	j := &journal{
		rec:    rec,
		broker: broker,
		logger: logger,
		seq:    make(map[string]int),
		done:   make(chan struct{}),
	}
	j.cond = sync.NewCond(&j.mu)
	go j.run()
	return j
}

// add queues a state change. create marks the first record of a job.
func (j *journal) add(create bool, rec model.JobRecord, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}

	seq := j.seq[rec.ID]
	if model.IsTerminal(rec.Status) {
		delete(j.seq, rec.ID)
	} else {
		j.seq[rec.ID] = seq + 1
	}

	j.pending = append(j.pending, journalEntry{
		create: create,
		record: rec,
		event: model.JobEvent{
			JobID:     rec.ID,
			Seq:       seq,
			Status:    rec.Status,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		},
	})
	j.cond.Signal()
}

func (j *journal) run() {
	defer close(j.done)
	for {
		j.mu.Lock()
		for len(j.pending) == 0 && !j.closed {
			j.cond.Wait()
		}
		batch := j.pending
		j.pending = nil
		closed := j.closed
		j.mu.Unlock()

		for _, e := range batch {
			j.write(e)
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

func (j *journal) write(e journalEntry) {
	if j.rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		var err error
		if e.create {
			err = j.rec.CreateJob(ctx, &e.record)
		} else {
			err = j.rec.UpdateJob(ctx, &e.record)
		}
		if err != nil {
			j.logger.Error("failed to record job", "job_id", e.record.ID, "status", e.record.Status, "error", err)
		}
		if err := j.rec.InsertJobEvent(ctx, e.event); err != nil {
			j.logger.Error("failed to record job event", "job_id", e.event.JobID, "seq", e.event.Seq, "error", err)
		}
		cancel()
	}

	// Persist first, then publish for live subscribers.
	j.broker.Publish(e.event)
	if model.IsTerminal(e.record.Status) {
		j.broker.Close(e.record.ID)
	}
}

// close stops accepting entries and waits, bounded by ctx, until the
// pending ones are written.
func (j *journal) close(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.cond.Signal()
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
