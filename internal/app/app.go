// Package app provides centralized dependency wiring and lifecycle
// control for the service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"gorecs/config"
	"gorecs/internal/cache"
	"gorecs/internal/httpclient"
	"gorecs/internal/observability"
	"gorecs/internal/persist"
	"gorecs/internal/providers/history"
	"gorecs/internal/providers/metadata"
	"gorecs/internal/retry"
	"gorecs/internal/server"
	"gorecs/internal/watchdata"
)

// App holds the wired components. The cache registry is constructed once
// here and injected into every component needing cache access; nothing in
// the repo keeps module-level cache state.
type App struct {
	Registry *cache.Registry
	Persist  *persist.Manager
	Engine   *watchdata.Engine
	Server   *server.Server

	cfg *config.Config

	shutdownMu sync.Mutex
	shutdown   bool
}

// New wires the application: registry from configuration, snapshot
// restore, provider clients, sync engine, and the HTTP surface. The
// caller must call Shutdown to flush and release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	registry, err := cache.NewRegistry(cfg.Caches)
	if err != nil {
		return nil, fmt.Errorf("building cache registry: %w", err)
	}

	store, err := newStore(cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("building snapshot store: %w", err)
	}
	manager := persist.NewManager(registry, store, cfg.Persistence.Interval)

	basePolicy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   2.0,
	}

	historyClient := history.New(history.Config{
		BaseURL:   cfg.History.BaseURL,
		APIKey:    cfg.History.APIKey,
		PageLimit: cfg.History.PageLimit,
		HTTP:      httpclient.Config{Timeout: cfg.History.Timeout},
	})
	metadataClient := metadata.New(metadata.Config{
		BaseURL: cfg.Metadata.BaseURL,
		APIKey:  cfg.Metadata.APIKey,
		HTTP:    httpclient.Config{Timeout: cfg.Metadata.Timeout},
	})

	engine, err := watchdata.New(watchdata.Options{
		Registry:   registry,
		Provider:   historyClient,
		Retry:      basePolicy,
		MinRecheck: cfg.Sync.MinRecheck,
		PageLimit:  cfg.History.PageLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("building sync engine: %w", err)
	}

	// Decoders are installed above; restore must precede serving so
	// cache-dependent requests see the persisted state.
	if failures, err := manager.Restore(ctx); err != nil {
		slog.Warn("snapshot restore unavailable", "error", err)
	} else if len(failures) > 0 {
		slog.Warn("some caches were not restored", "count", len(failures))
	}

	prometheus.MustRegister(observability.NewCacheCollector(func() map[string]observability.CacheStats {
		stats := registry.StatsSnapshot()
		out := make(map[string]observability.CacheStats, len(stats))
		for name, s := range stats {
			out[name] = observability.CacheStats{
				Size: s.Size, MaxSize: s.MaxSize,
				Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions,
			}
		}
		return out
	}))

	handler := server.NewHandler(registry, engine, metadataClient, basePolicy)

	app := &App{
		Registry: registry,
		Persist:  manager,
		Engine:   engine,
		Server:   server.New(handler),
		cfg:      cfg,
	}
	manager.Start(ctx)
	return app, nil
}

// Run starts the HTTP server and blocks until it stops.
func (a *App) Run() error {
	addr := ":" + a.cfg.Server.Port
	slog.Info("listening", "addr", addr)
	return a.Server.Start(addr)
}

// Shutdown stops the HTTP server, cancels the periodic persistence timer,
// and performs the final flush, in that order, so the timer and the
// shutdown flush never write concurrently. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	defer a.shutdownMu.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	if err := a.Server.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return a.Persist.Close(ctx)
}

func newStore(cfg config.PersistenceConfig) (persist.Store, error) {
	switch cfg.Backend {
	case "", "file":
		return persist.NewFileStore(cfg.Dir), nil
	case "redis":
		return persist.NewRedisStore(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
