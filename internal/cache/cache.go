// Package cache provides the bounded TTL cache primitive and the named
// cache registry built on top of it.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one live cache record. elem points at this entry's node in the
// recency list, so promotion and eviction are O(1).
type entry struct {
	key        string
	value      any
	insertedAt time.Time
	expiresAt  time.Time // zero when the cache has no TTL
	elem       *list.Element
}

// Cache is a fixed-capacity key/value store whose entries also expire
// after a fixed lifetime. Eviction removes the least-recently-touched
// entry; expiry is lazy, performed on the next Get/Has of the stale key.
//
// All operations are guarded by one mutex per instance: Get mutates
// recency state, so even reads require exclusion. Operations never fail.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*entry
	// recency orders entries from least- (front) to most-recently-touched
	// (back). Ties are impossible: promotion is by node identity, not by
	// timestamp.
	recency *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time // overridable in tests
}

// New creates a Cache holding at most maxSize live entries, each expiring
// ttl after its most recent Set. A non-positive maxSize falls back to 1;
// a non-positive ttl disables expiry.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*entry),
		recency: list.New(),
		now:     time.Now,
	}
}

// Set inserts or overwrites key. When the cache is full and key is new,
// exactly one entry is evicted first: the least-recently-touched one.
// Overwriting an existing key never evicts. Every Set restarts the
// entry's expiry from now, not from its original insertion.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.insertedAt = now
		e.expiresAt = c.deadline(now)
		c.recency.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  c.deadline(now),
	}
	e.elem = c.recency.PushBack(e)
	c.entries[key] = e
}

// Get returns the live value for key. An expired entry is deleted lazily
// and reported as a miss. A live hit promotes the entry to
// most-recently-used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		c.remove(e)
		c.misses++
		return nil, false
	}
	c.recency.MoveToBack(e.elem)
	c.hits++
	return e.value, true
}

// Has reports whether key holds a live entry. Unlike Get it does not
// refresh recency, but it performs the same lazy expiry.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.expired(e) {
		c.remove(e)
		return false
	}
	return true
}

// Delete removes key and its bookkeeping, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Clear removes all entries atomically, returning the prior size.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.recency.Init()
	return n
}

// Len returns the number of entries currently held, including entries
// whose TTL has elapsed but which no Get/Has has collected yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys in recency order, least-recently-touched first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for el := c.recency.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// MaxSize returns the configured capacity.
func (c *Cache) MaxSize() int { return c.maxSize }

// TTL returns the configured entry lifetime (zero means no expiry).
func (c *Cache) TTL() time.Duration { return c.ttl }

// Counters returns the accumulated hit, miss, and eviction counts.
func (c *Cache) Counters() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

func (c *Cache) deadline(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(c.ttl)
}

func (c *Cache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

// remove deletes e from both the map and the recency list. Caller holds mu.
func (c *Cache) remove(e *entry) {
	c.recency.Remove(e.elem)
	delete(c.entries, e.key)
}

// evictOldest drops the entry at the front of the recency list. Caller
// holds mu and has verified the cache is full.
func (c *Cache) evictOldest() {
	front := c.recency.Front()
	if front == nil {
		return
	}
	c.remove(front.Value.(*entry))
	c.evictions++
}
