package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTTL matches how long the vendor honours a create-checkout key.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Cache remembers the outcome of keyed requests so a retried request with the
// same key replays the first result instead of repeating its side effects.
// Entries live in process memory and expire after the TTL.
//
// A key is reserved by Claim before any work is done. While it is reserved,
// other claims for the same key wait until the holder calls Complete or
// Release.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	fingerprint string
	value       V
	completed   bool
	expires     time.Time
	done        chan struct{} // closed when the reservation ends
}

// NewCache creates a cache. A non-positive ttl uses DefaultTTL.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
		now:     time.Now,
	}
}

// Claim looks key up for a request identified by fingerprint.
//
// When a completed entry exists it is returned with replay set. When the key
// is free it is reserved for the caller, who must then call Complete or
// Release. When another caller holds the key, Claim waits for it or for ctx.
// A key held or completed under another fingerprint yields ErrKeyReused.
func (c *Cache[V]) Claim(ctx context.Context, key, fingerprint string) (value V, replay bool, err error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok && e.completed && !c.now().Before(e.expires) {
			delete(c.entries, key)
			ok = false
		}
		if !ok {
			c.entries[key] = &entry[V]{fingerprint: fingerprint, done: make(chan struct{})}
			c.mu.Unlock()
			return value, false, nil
		}
		if e.fingerprint != fingerprint {
			c.mu.Unlock()
			return value, false, ErrKeyReused
		}
		if e.completed {
			c.mu.Unlock()
			return e.value, true, nil
		}
		done := e.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return value, false, ctx.Err()
		}
	}
}

// Complete stores value for a key reserved by Claim and wakes any waiters.
// Expired entries are dropped.
func (c *Cache[V]) Complete(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if e.completed && !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}

	e, ok := c.entries[key]
	if !ok || e.completed {
		return
	}
	e.value = value
	e.completed = true
	e.expires = now.Add(c.ttl)
	close(e.done)
}

// Release gives up a reservation without storing a result. The next waiter
// then claims the key for itself.
func (c *Cache[V]) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.completed {
		return
	}
	delete(c.entries, key)
	close(e.done)
}
