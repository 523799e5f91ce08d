package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Definition sizes one named cache. Definitions come from configuration,
// read once at startup.
type Definition struct {
	Name    string
	MaxSize int
	TTL     time.Duration
}

// DecodeFunc rehydrates a serialized cache value into the concrete type
// the cache's consumers expect. Caches without a decoder restore values
// as json.RawMessage.
type DecodeFunc func(data json.RawMessage) (any, error)

// Stats describes one named cache for diagnostics.
type Stats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	UsagePercent float64 `json:"usage_percentage"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Evictions    uint64  `json:"evictions"`
}

// SnapshotEntry is one serialized cache entry. Absolute timestamps are
// preserved so a restore does not extend an entry's lifetime.
type SnapshotEntry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	InsertedAt time.Time       `json:"inserted_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"`
}

// Snapshot is the serialized form of one named cache: its configuration
// plus its live entries in recency order, least-recently-touched first.
type Snapshot struct {
	Name    string          `json:"name"`
	MaxSize int             `json:"max_size"`
	TTL     time.Duration   `json:"ttl"`
	TakenAt time.Time       `json:"taken_at"`
	Entries []SnapshotEntry `json:"entries"`
}

// RestoreReport summarizes a RestoreAll: entries loaded and dropped per
// cache, plus per-cache failures that did not block the others.
type RestoreReport struct {
	Loaded  map[string]int   `json:"loaded"`
	Dropped map[string]int   `json:"dropped"`
	Errors  map[string]error `json:"-"`
}

// Registry owns the process-wide set of named caches. It is the explicit
// context object injected into every component needing cache access; no
// package-level cache state exists anywhere in the repo.
type Registry struct {
	mu       sync.RWMutex
	caches   map[string]*Cache
	decoders map[string]DecodeFunc
	order    []string
}

// NewRegistry creates a Registry with one cache per definition.
// Duplicate names are an error.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		caches:   make(map[string]*Cache),
		decoders: make(map[string]DecodeFunc),
	}
	for _, def := range defs {
		if _, err := r.Ensure(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Ensure returns the named cache, creating it from def when absent.
// An existing cache keeps its original sizing: configuration is read once
// at startup and never re-applied.
func (r *Registry) Ensure(def Definition) (*Cache, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("cache definition requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[def.Name]; ok {
		return c, nil
	}
	c := New(def.MaxSize, def.TTL)
	r.caches[def.Name] = c
	r.order = append(r.order, def.Name)
	return c, nil
}

// Lookup returns the named cache.
func (r *Registry) Lookup(name string) (*Cache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[name]
	return c, ok
}

// RegisterDecoder installs the value decoder used when restoring the
// named cache from a snapshot.
func (r *Registry) RegisterDecoder(name string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = fn
}

// Names returns the cache names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StatsSnapshot returns per-cache diagnostics for periodic logging and
// the operator endpoint.
func (r *Registry) StatsSnapshot() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.caches))
	for name, c := range r.caches {
		hits, misses, evictions := c.Counters()
		size := c.Len()
		out[name] = Stats{
			Size:         size,
			MaxSize:      c.MaxSize(),
			UsagePercent: 100 * float64(size) / float64(c.MaxSize()),
			Hits:         hits,
			Misses:       misses,
			Evictions:    evictions,
		}
	}
	return out
}

// SerializeAll converts every cache's currently-live entries into
// snapshots, one per cache, in registration order. Values that fail to
// marshal are skipped with a warning rather than failing the snapshot.
func (r *Registry) SerializeAll() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	snaps := make([]Snapshot, 0, len(r.order))
	for _, name := range r.order {
		c := r.caches[name]
		snap := Snapshot{
			Name:    name,
			MaxSize: c.MaxSize(),
			TTL:     c.TTL(),
			TakenAt: now,
		}
		for _, e := range c.export() {
			data, err := json.Marshal(e.value)
			if err != nil {
				slog.Warn("skipping unserializable cache entry",
					"cache", name, "key", e.key, "error", err)
				continue
			}
			snap.Entries = append(snap.Entries, SnapshotEntry{
				Key:        e.key,
				Value:      data,
				InsertedAt: e.insertedAt,
				ExpiresAt:  e.expiresAt,
			})
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// RestoreAll loads snapshots into their named caches. Each cache is
// cleared before loading; entries already expired at restore time are
// dropped. A snapshot naming an unknown cache is recorded as an error
// and does not block the others.
func (r *Registry) RestoreAll(snaps []Snapshot) RestoreReport {
	report := RestoreReport{
		Loaded:  make(map[string]int),
		Dropped: make(map[string]int),
		Errors:  make(map[string]error),
	}
	for _, snap := range snaps {
		c, ok := r.Lookup(snap.Name)
		if !ok {
			report.Errors[snap.Name] = fmt.Errorf("no cache named %q", snap.Name)
			continue
		}
		r.mu.RLock()
		decode := r.decoders[snap.Name]
		r.mu.RUnlock()

		loaded, dropped := c.restore(snap.Entries, decode)
		report.Loaded[snap.Name] = loaded
		report.Dropped[snap.Name] = dropped
	}
	return report
}

// ClearNamed empties one cache, returning its prior size for audit
// logging.
func (r *Registry) ClearNamed(name string) (int, bool) {
	c, ok := r.Lookup(name)
	if !ok {
		return 0, false
	}
	return c.Clear(), true
}

// ClearAll empties every cache, returning prior sizes per cache name.
func (r *Registry) ClearAll() map[string]int {
	out := make(map[string]int)
	for _, name := range r.Names() {
		if n, ok := r.ClearNamed(name); ok {
			out[name] = n
		}
	}
	return out
}

// export returns shallow copies of the live entries in recency order.
// Expired entries are excluded.
func (c *Cache) export() []entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]entry, 0, len(c.entries))
	for el := c.recency.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if c.expired(e) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// restore replaces the cache content with the given entries, preserving
// their absolute expiries and recency order. Entries that are expired,
// fail to decode, or exceed capacity are dropped.
func (c *Cache) restore(entries []SnapshotEntry, decode DecodeFunc) (loaded, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.recency.Init()

	now := c.now()
	for _, se := range entries {
		if !se.ExpiresAt.IsZero() && !now.Before(se.ExpiresAt) {
			dropped++
			continue
		}
		if len(c.entries) >= c.maxSize {
			dropped++
			continue
		}
		var value any = se.Value
		if decode != nil {
			v, err := decode(se.Value)
			if err != nil {
				slog.Warn("dropping undecodable cache entry", "key", se.Key, "error", err)
				dropped++
				continue
			}
			value = v
		}
		e := &entry{
			key:        se.Key,
			value:      value,
			insertedAt: se.InsertedAt,
			expiresAt:  se.ExpiresAt,
		}
		e.elem = c.recency.PushBack(e)
		c.entries[se.Key] = e
		loaded++
	}
	return loaded, dropped
}
