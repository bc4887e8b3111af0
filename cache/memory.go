package cache

import (
	"slices"
	"sync"
	"time"
)

// Bounded is an in-memory TTL cache with a hard entry cap.
//
// When the cap is exceeded the oldest entries (by insertion time) are
// evicted in one batch of overage plus Policy.EvictionMargin.
type Bounded[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	policy  Policy
	inserts int
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// NewBounded creates a bounded cache with the given policy.
func NewBounded[V any](policy Policy) *Bounded[V] {
	return &Bounded[V]{
		entries: make(map[string]*entry[V]),
		policy:  policy,
		now:     time.Now,
	}
}

// WithClock replaces the cache clock. Intended for tests.
func (c *Bounded[V]) WithClock(now func() time.Time) *Bounded[V] {
	c.now = now
	return c
}

// Get returns the value for key. Expired entries are misses.
func (c *Bounded[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value for the policy TTL.
func (c *Bounded[V]) Set(key string, value V) {
	c.SetUntil(key, value, time.Time{})
}

// SetUntil stores value for the policy TTL but never past deadline. A
// deadline that has already passed stores nothing and drops any previous
// entry for key.
func (c *Bounded[V]) SetUntil(key string, value V, deadline time.Time) {
	now := c.now()
	ttl := c.policy.Lifetime(now, deadline)
	if ttl <= 0 {
		c.Delete(key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry[V]{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	c.inserts++

	if c.policy.CleanupEvery > 0 && c.inserts%c.policy.CleanupEvery == 0 {
		c.removeExpiredLocked(now)
	}
	if c.policy.MaxEntries > 0 && len(c.entries) > c.policy.MaxEntries {
		c.evictOldestLocked(len(c.entries) - c.policy.MaxEntries + c.policy.EvictionMargin)
	}
}

// Delete removes a value. Idempotent.
func (c *Bounded[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// removed.
func (c *Bounded[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes expired entries and returns how many were removed.
func (c *Bounded[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeExpiredLocked(c.now())
}

func (c *Bounded[V]) removeExpiredLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Bounded[V]) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, at: e.storedAt})
	}
	slices.SortFunc(all, func(a, b aged) int { return a.at.Compare(b.at) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}
