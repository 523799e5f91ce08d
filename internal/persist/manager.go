package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"gorecs/internal/cache"
	"gorecs/internal/observability"
)

// brotliQuality trades compression ratio against flush latency; snapshot
// payloads are repetitive JSON, so a mid-level quality compresses well.
const brotliQuality = 6

// Manager composes the cache registry with a snapshot Store. It flushes
// on a periodic interval and on shutdown, and restores at startup. Each
// named cache is handled independently: one failing file or key never
// blocks the others.
type Manager struct {
	registry *cache.Registry
	store    Store
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// NewManager creates a Manager. A non-positive interval disables the
// periodic flush; Restore and the shutdown flush still work.
func NewManager(registry *cache.Registry, store Store, interval time.Duration) *Manager {
	return &Manager{
		registry: registry,
		store:    store,
		interval: interval,
	}
}

// Restore discovers persisted snapshots, decompresses them, and loads
// them into the registry. It runs before the service starts serving
// cache-dependent requests. Per-cache failures are logged and reported
// in the result map, never propagated.
func (m *Manager) Restore(ctx context.Context) (map[string]error, error) {
	names, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing persisted snapshots: %w", err)
	}

	failures := make(map[string]error)
	var snaps []cache.Snapshot
	for _, name := range names {
		snap, err := m.readSnapshot(ctx, name)
		if err != nil {
			slog.Warn("skipping unreadable snapshot", "cache", name, "error", err)
			observability.SnapshotFailures.WithLabelValues("restore").Inc()
			failures[name] = err
			continue
		}
		snaps = append(snaps, *snap)
	}

	report := m.registry.RestoreAll(snaps)
	for name, err := range report.Errors {
		slog.Warn("snapshot not restored", "cache", name, "error", err)
		failures[name] = err
	}
	for name, n := range report.Loaded {
		slog.Info("cache restored", "cache", name, "entries", n, "dropped", report.Dropped[name])
	}
	return failures, nil
}

// Flush serializes the registry and writes each named cache's compressed
// payload independently. Failures are isolated per cache and returned in
// the result map for structured logging.
func (m *Manager) Flush(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, snap := range m.registry.SerializeAll() {
		if err := m.writeSnapshot(ctx, snap); err != nil {
			slog.Warn("snapshot flush failed", "cache", snap.Name, "error", err)
			observability.SnapshotFailures.WithLabelValues("flush").Inc()
			failures[snap.Name] = err
			continue
		}
		slog.Debug("cache flushed", "cache", snap.Name, "entries", len(snap.Entries))
	}
	return failures
}

// Start launches the periodic flush. It is a no-op when the interval is
// disabled or the manager already started.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed || m.interval <= 0 {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.run(runCtx)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

// Close cancels the periodic flush, waits for any in-flight tick to
// finish, then performs the final shutdown flush. The ordering guarantees
// the timer and the shutdown flush never write concurrently. Close is
// idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.Flush(ctx)
	return m.store.Close()
}

func (m *Manager) writeSnapshot(ctx context.Context, snap cache.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotliQuality)
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	return m.store.Write(ctx, snap.Name, buf.Bytes())
}

func (m *Manager) readSnapshot(ctx context.Context, name string) (*cache.Snapshot, error) {
	data, err := m.store.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %q: %w", name, err)
	}
	var snap cache.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %q: %w", name, err)
	}
	return &snap, nil
}
