// Package observability holds the Prometheus collectors for the service
// core: cache occupancy, retry attempts, sync refresh outcomes, and
// snapshot persistence failures.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts counts retry-executor attempts per operation label.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gorecs_retry_attempts_total",
		Help: "Provider call attempts issued by the retry executor.",
	}, []string{"operation"})

	// SyncRefreshes counts sync-engine refreshes by mode and outcome.
	SyncRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gorecs_sync_refreshes_total",
		Help: "Watch-history refresh cycles by mode (full, incremental) and outcome (ok, error).",
	}, []string{"mode", "outcome"})

	// SnapshotFailures counts isolated per-cache persistence failures.
	SnapshotFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gorecs_snapshot_failures_total",
		Help: "Per-cache snapshot write/read failures, by direction (flush, restore).",
	}, []string{"direction"})
)

// StatsSource yields per-cache statistics on demand; the app layer adapts
// the cache registry into one.
type StatsSource func() map[string]CacheStats

// CacheStats mirrors the registry's per-cache diagnostics without
// importing the cache package, keeping this package a leaf.
type CacheStats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cacheCollector struct {
	source StatsSource

	size      *prometheus.Desc
	maxSize   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
}

// NewCacheCollector builds a prometheus.Collector that reads the registry
// on every scrape instead of tracking state of its own.
func NewCacheCollector(source StatsSource) prometheus.Collector {
	return &cacheCollector{
		source: source,
		size: prometheus.NewDesc("gorecs_cache_entries",
			"Live entries per named cache.", []string{"cache"}, nil),
		maxSize: prometheus.NewDesc("gorecs_cache_max_entries",
			"Configured capacity per named cache.", []string{"cache"}, nil),
		hits: prometheus.NewDesc("gorecs_cache_hits_total",
			"Accumulated cache hits per named cache.", []string{"cache"}, nil),
		misses: prometheus.NewDesc("gorecs_cache_misses_total",
			"Accumulated cache misses per named cache.", []string{"cache"}, nil),
		evictions: prometheus.NewDesc("gorecs_cache_evictions_total",
			"Accumulated evictions per named cache.", []string{"cache"}, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.maxSize
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize), name)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions), name)
	}
}
