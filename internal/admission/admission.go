// Package admission implements per-client token-bucket admission control.
// Buckets accumulate capacity over time and spend one token per admitted
// request, bounding both instantaneous burst and long-run average without
// storing per-request timestamps.
package admission

import (
	"sync"
	"time"
)

// Decision is the result of an admission check. A denial is not an error
// condition; RetryAfter tells the caller when a token will be available.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Store hands out admission decisions keyed by client. The in-memory
// MemoryStore is the default; a shared-store implementation can replace it
// without touching call sites.
type Store interface {
	TryAcquire(clientKey string, now time.Time) Decision
}

// Controller fronts a Store with a real clock.
type Controller struct {
	store Store
	now   func() time.Time
}

func NewController(store Store) *Controller {
	return &Controller{store: store, now: time.Now}
}

func (c *Controller) TryAcquire(clientKey string) Decision {
	return c.store.TryAcquire(clientKey, c.now())
}

// MemoryStore keeps one bucket per client key, created lazily on first use.
// Buckets are never destroyed; key cardinality is capped by the caller.
type MemoryStore struct {
	capacity   float64
	refillRate float64 // tokens per second
	buckets    sync.Map // clientKey → *bucket
}

// NewMemoryStore builds a store where every bucket starts full at capacity
// and refills at refillRatePerSecond.
func NewMemoryStore(capacity, refillRatePerSecond float64) *MemoryStore {
	return &MemoryStore{capacity: capacity, refillRate: refillRatePerSecond}
}

func (s *MemoryStore) TryAcquire(clientKey string, now time.Time) Decision {
	b := s.getOrCreateBucket(clientKey, now)
	return b.tryAcquire(s.capacity, s.refillRate, now)
}

func (s *MemoryStore) getOrCreateBucket(key string, now time.Time) *bucket {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*bucket)
	}
	b := &bucket{tokens: s.capacity, lastRefillAt: now}
	actual, _ := s.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

// bucket holds the mutable per-client state. The critical section covers
// only the refill arithmetic and the decrement; no I/O happens under mu.
type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time
}

func (b *bucket) tryAcquire(capacity, refillRate float64, now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Refill is monotonic in elapsed time, capped at capacity. A clock that
	// goes backwards contributes nothing.
	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed > 0 {
		b.tokens = min(capacity, b.tokens+elapsed*refillRate)
		b.lastRefillAt = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return Decision{Admitted: true}
	}

	missing := 1 - b.tokens
	return Decision{
		Admitted:   false,
		RetryAfter: time.Duration(missing / refillRate * float64(time.Second)),
	}
}
