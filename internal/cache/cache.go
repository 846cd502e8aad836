// Package cache provides a key-value store whose entries expire a fixed
// time after insertion.
//
// All entries share one TTL, so insertion order is also expiry order. A
// background sweep goroutine sleeps until the oldest entry is due (or until
// an insert wakes it), evicts the expired prefix and fires the eviction
// callback once per evicted entry.
package cache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrInvalidTTL is returned by New when the TTL is not positive.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// EvictionFunc is called once for every entry removed by the sweep. It runs
// on the sweep goroutine after the entry has been removed and the cache lock
// released, so it may call back into the cache. It must return quickly;
// expensive work belongs on another goroutine.
type EvictionFunc[K comparable, V any] func(key K, value V)

type entry[V any] struct {
	value  V
	expiry time.Time
}

// Cache is a TTL cache safe for concurrent use.
type Cache[K comparable, V comparable] struct {
	ttl     time.Duration
	onEvict EvictionFunc[K, V]
	now     func() time.Time

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[K, entry[V]]

	// wake has capacity one: any number of inserts between two sweeps
	// collapse into a single wake-up.
	wake chan struct{}

	loopMu  sync.Mutex
	stop    chan struct{}
	noSweep bool
}

// Option configures a Cache.
type Option[K comparable, V comparable] func(*Cache[K, V])

// WithEvictionFunc sets the callback fired for every expired entry.
func WithEvictionFunc[K comparable, V comparable](fn EvictionFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// WithClock replaces time.Now as the source of insertion and sweep times.
func WithClock[K comparable, V comparable](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// WithExpiryDisabled creates the cache without starting the sweep.
// EnableExpiry starts it later.
func WithExpiryDisabled[K comparable, V comparable]() Option[K, V] {
	return func(c *Cache[K, V]) { c.noSweep = true }
}

// New creates a cache whose entries live for ttl. The sweep starts
// immediately unless WithExpiryDisabled is given.
func New[K comparable, V comparable](ttl time.Duration, opts ...Option[K, V]) (*Cache[K, V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	c := &Cache[K, V]{
		ttl:     ttl,
		onEvict: func(K, V) {},
		now:     time.Now,
		entries: orderedmap.New[K, entry[V]](),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.noSweep {
		c.EnableExpiry()
	}
	return c, nil
}

// TTL returns the lifetime of every entry.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Put inserts or replaces the value for key. The entry's TTL restarts from
// now and it moves to the back of the expiry order.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.entries.Set(key, entry[V]{value: value, expiry: c.now().Add(c.ttl)})
	_ = c.entries.MoveToBack(key)
	c.mu.Unlock()

	c.signal()
}

// Get returns the value stored for key without removing it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	return e.value, ok
}

// Remove deletes key and returns the value it held.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Delete(key)
	return e.value, ok
}

// CompareAndRemove deletes key only if it currently maps to old. It reports
// whether the entry was removed.
func (c *Cache[K, V]) CompareAndRemove(key K, old V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok || e.value != old {
		return false
	}
	c.entries.Delete(key)
	return true
}

// ContainsKey reports whether key is present.
func (c *Cache[K, V]) ContainsKey(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries.Get(key)
	return ok
}

// ContainsValue reports whether any entry holds value.
func (c *Cache[K, V]) ContainsValue(value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := c.entries.Oldest(); p != nil; p = p.Next() {
		if p.Value.value == value {
			return true
		}
	}
	return false
}

// Keys returns the keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.entries.Len())
	for p := c.entries.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// IsEmpty reports whether the cache holds no entries.
func (c *Cache[K, V]) IsEmpty() bool {
	return c.Len() == 0
}

// Clear drops every entry. No eviction callbacks fire.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = orderedmap.New[K, entry[V]]()
	c.mu.Unlock()
}

// EnableExpiry starts the sweep goroutine if it is not already running.
func (c *Cache[K, V]) EnableExpiry() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	go c.sweepLoop(c.stop)
}

// DisableExpiry stops the sweep goroutine. Entries are kept but no longer
// evicted. It does not wait for an in-progress sweep to return, so it is
// safe to call from an EvictionFunc.
func (c *Cache[K, V]) DisableExpiry() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	c.stop = nil
}

// ExpiryEnabled reports whether the sweep goroutine is running.
func (c *Cache[K, V]) ExpiryEnabled() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.stop != nil
}

func (c *Cache[K, V]) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Cache[K, V]) sweepLoop(stop <-chan struct{}) {
	timer := time.NewTimer(c.ttl)
	defer timer.Stop()

	for {
		next, pending := c.Sweep()

		var due <-chan time.Time
		if pending {
			timer.Reset(next)
			due = timer.C
		} else {
			timer.Stop()
		}

		select {
		case <-stop:
			return
		case <-c.wake:
		case <-due:
		}
	}
}

// Sweep evicts every expired entry now and reports how long until the next
// entry expires. pending is false when the cache is empty afterwards. The
// background loop calls Sweep; it is exported so callers can force a pass.
func (c *Cache[K, V]) Sweep() (next time.Duration, pending bool) {
	type evicted struct {
		key   K
		value V
	}
	var expired []evicted

	c.mu.Lock()
	now := c.now()
	for p := c.entries.Oldest(); p != nil; {
		if now.Before(p.Value.expiry) {
			next, pending = p.Value.expiry.Sub(now), true
			break
		}
		expired = append(expired, evicted{key: p.Key, value: p.Value.value})
		nextPair := p.Next()
		c.entries.Delete(p.Key)
		p = nextPair
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.onEvict(e.key, e.value)
	}
	return next, pending
}
