package watchdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gorecs/internal/cache"
	"gorecs/internal/core"
	"gorecs/internal/observability"
	"gorecs/internal/retry"
)

// Default names of the two caches the engine registers. Both live in the
// shared registry, so they are persisted and restored like every other
// named cache.
const (
	RawCacheName       = "history_raw"
	ProcessedCacheName = "history_processed"
)

// Options configures the sync engine.
type Options struct {
	Registry *cache.Registry
	Provider core.HistoryProvider

	// RawCache and ProcessedCache size the engine's two named caches.
	// Zero-value definitions fall back to defaults.
	RawCache       cache.Definition
	ProcessedCache cache.Definition

	// Retry is the base policy for provider fetches; the engine stamps a
	// per-collection label onto it. Zero value uses retry.DefaultPolicy.
	Retry retry.Policy

	// MinRecheck throttles delta fetches: a dataset younger than this is
	// served as-is. Zero (the default) attempts a delta on every request.
	MinRecheck time.Duration

	// PageLimit is the page size for full refreshes.
	PageLimit int
}

// Engine is the incremental sync engine. It keeps a raw watch-history
// mirror and a derived-preferences projection per (account, category),
// both in named caches from the shared registry.
type Engine struct {
	provider   core.HistoryProvider
	raw        *cache.Cache
	processed  *cache.Cache
	baseRetry  retry.Policy
	minRecheck time.Duration
	pageLimit  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the engine, ensuring its caches exist in the registry and
// installing the snapshot decoders that rehydrate restored entries into
// the engine's concrete types.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("watchdata: registry is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("watchdata: history provider is required")
	}

	rawDef := opts.RawCache
	if rawDef.Name == "" {
		rawDef = cache.Definition{Name: RawCacheName, MaxSize: 500, TTL: 24 * time.Hour}
	}
	procDef := opts.ProcessedCache
	if procDef.Name == "" {
		procDef = cache.Definition{Name: ProcessedCacheName, MaxSize: 500, TTL: 24 * time.Hour}
	}

	raw, err := opts.Registry.Ensure(rawDef)
	if err != nil {
		return nil, err
	}
	processed, err := opts.Registry.Ensure(procDef)
	if err != nil {
		return nil, err
	}
	opts.Registry.RegisterDecoder(rawDef.Name, func(data json.RawMessage) (any, error) {
		var ds RawDataset
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, err
		}
		return &ds, nil
	})
	opts.Registry.RegisterDecoder(procDef.Name, func(data json.RawMessage) (any, error) {
		var p Preferences
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})

	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy("history")
	}
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}

	return &Engine{
		provider:   opts.Provider,
		raw:        raw,
		processed:  processed,
		baseRetry:  policy,
		minRecheck: opts.MinRecheck,
		pageLimit:  pageLimit,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Preferences returns the derived preferences for (credential, category),
// refreshing the raw mirror first: a full refresh when no mirror exists,
// otherwise a delta fetch merged into the existing snapshot. When the
// delta fails the engine falls back to a full refresh within the same
// request; only when both fail does the error propagate. An expired
// credential propagates immediately as a reauth_required failure.
func (e *Engine) Preferences(ctx context.Context, cred core.Credential, category string) (*Preferences, error) {
	key := datasetKey(cred, category)
	unlock := e.lockKey(key)
	defer unlock()

	ctx = core.WithSyncRunID(ctx, uuid.NewString())
	log := slog.With("sync_run", core.SyncRunID(ctx), "category", category)

	ds, err := e.refresh(ctx, log, key, cred, category)
	if err != nil {
		return nil, err
	}
	e.raw.Set(key, ds)

	if v, ok := e.processed.Get(key); ok {
		if p, ok := v.(*Preferences); ok && p.Revision == ds.Revision {
			return p, nil
		}
	}
	p := BuildPreferences(ds)
	e.processed.Set(key, p)
	return p, nil
}

// Invalidate drops the raw mirror for (credential, category), forcing a
// full refresh on the next request. The processed projection is kept
// until a fresh raw snapshot replaces it.
func (e *Engine) Invalidate(cred core.Credential, category string) {
	key := datasetKey(cred, category)
	unlock := e.lockKey(key)
	defer unlock()
	e.raw.Delete(key)
}

func (e *Engine) refresh(ctx context.Context, log *slog.Logger, key string, cred core.Credential, category string) (*RawDataset, error) {
	existing, ok := e.dataset(key)
	if !ok {
		log.Debug("no raw mirror, performing full refresh")
		return e.fullRefresh(ctx, cred, category, 0)
	}

	if e.minRecheck > 0 && time.Since(existing.LastUpdate) < e.minRecheck {
		log.Debug("raw mirror inside recheck window", "last_update", existing.LastUpdate)
		return existing, nil
	}

	ds, err := e.incrementalUpdate(ctx, cred, category, existing)
	if err == nil {
		return ds, nil
	}
	if core.IsReauthRequired(err) {
		return nil, err
	}

	log.Warn("incremental update failed, falling back to full refresh", "error", err)
	ds, err = e.fullRefresh(ctx, cred, category, existing.Revision)
	if err != nil {
		if core.IsReauthRequired(err) {
			return nil, err
		}
		return nil, core.NewUnavailableError("history", "watch-history refresh failed", err)
	}
	return ds, nil
}

// dataset returns the live raw mirror for key. A value of an unexpected
// type indicates a corrupt snapshot: it is discarded so the caller runs a
// full refresh instead of failing.
func (e *Engine) dataset(key string) (*RawDataset, bool) {
	v, ok := e.raw.Get(key)
	if !ok {
		return nil, false
	}
	ds, ok := v.(*RawDataset)
	if !ok || ds == nil {
		slog.Warn("discarding corrupt raw mirror", "key", key)
		e.raw.Delete(key)
		return nil, false
	}
	return ds, true
}

func (e *Engine) fullRefresh(ctx context.Context, cred core.Credential, category string, prevRevision uint64) (*RawDataset, error) {
	delta, err := e.fetchAll(ctx, cred, category, core.PageOptions{Page: 1, Limit: e.pageLimit})
	if err != nil {
		observability.SyncRefreshes.WithLabelValues("full", "error").Inc()
		return nil, err
	}
	observability.SyncRefreshes.WithLabelValues("full", "ok").Inc()
	return newDataset(delta, time.Now().UTC(), prevRevision+1), nil
}

func (e *Engine) incrementalUpdate(ctx context.Context, cred core.Credential, category string, existing *RawDataset) (*RawDataset, error) {
	delta, err := e.fetchAll(ctx, cred, category, core.PageOptions{Since: existing.LastUpdate, Page: 1, Limit: e.pageLimit})
	if err != nil {
		observability.SyncRefreshes.WithLabelValues("incremental", "error").Inc()
		return nil, err
	}
	observability.SyncRefreshes.WithLabelValues("incremental", "ok").Inc()
	return mergeDataset(existing, delta, time.Now().UTC()), nil
}

// fetchAll issues the three collection fetches concurrently through the
// retry executor and waits for all of them. Results are merged only once
// every sibling has resolved; any failure discards the whole cycle.
func (e *Engine) fetchAll(ctx context.Context, cred core.Credential, category string, opt core.PageOptions) (Delta, error) {
	var delta Delta

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := retry.Do(gctx, e.policy("history.watched"), func(ctx context.Context) ([]core.HistoryItem, error) {
			return e.provider.Watched(ctx, cred, category, opt)
		})
		delta.Watched = items
		return err
	})
	g.Go(func() error {
		items, err := retry.Do(gctx, e.policy("history.ratings"), func(ctx context.Context) ([]core.HistoryItem, error) {
			return e.provider.Rated(ctx, cred, category, opt)
		})
		delta.Rated = items
		return err
	})
	g.Go(func() error {
		items, err := retry.Do(gctx, e.policy("history.history"), func(ctx context.Context) ([]core.HistoryItem, error) {
			return e.provider.History(ctx, cred, category, opt)
		})
		delta.History = items
		return err
	})

	if err := g.Wait(); err != nil {
		return Delta{}, err
	}
	return delta, nil
}

func (e *Engine) policy(label string) retry.Policy {
	p := e.baseRetry
	p.Label = label
	return p
}

// lockKey serializes the read-modify-write refresh cycle per (account,
// category) key, so concurrent requests neither race into redundant
// refreshes nor clobber each other's merge.
func (e *Engine) lockKey(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// datasetKey derives the cache key for (credential, category). The
// credential is hashed so access tokens never appear in cache keys,
// snapshots, or log lines.
func datasetKey(cred core.Credential, category string) string {
	h := xxhash.New()
	_, _ = h.WriteString(cred.AccountID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(cred.AccessToken)
	return fmt.Sprintf("%016x:%s", h.Sum64(), category)
}
