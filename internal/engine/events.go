package engine

import (
	"sync"

	"github.com/nunnr/gephiserver/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxClosedTopics bounds how many finished jobs keep a closed marker.
const maxClosedTopics = 1024

// EventBroker manages per-job event streaming to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job finishes) receive a closed channel instead of
// blocking forever. Only the most recent maxClosedTopics markers are kept.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
	closed []string
}

type eventTopic struct {
	subs   map[int]chan model.JobEvent
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given job and an
// unsubscribe function. If the job has already finished (Close was called),
// the returned channel is immediately closed.
func (b *EventBroker) Subscribe(jobID string) (<-chan model.JobEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.JobEvent)}
		b.topics[jobID] = t
	}

	ch := make(chan model.JobEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its job.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(e model.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[e.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Drop event for slow subscribers to avoid blocking the journal.
		}
	}
}

// Close signals that no more events will be published for the given job.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		t = &eventTopic{subs: make(map[int]chan model.JobEvent)}
		b.topics[jobID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	b.closed = append(b.closed, jobID)
	if len(b.closed) > maxClosedTopics {
		delete(b.topics, b.closed[0])
		b.closed = b.closed[1:]
	}
}
