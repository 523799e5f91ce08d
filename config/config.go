// Package config provides configuration management for the service.
// Configuration is read once at startup and never re-read at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gorecs/internal/cache"
)

// Config holds the application configuration.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Persistence PersistenceConfig
	Retry       RetryConfig
	Metadata    ProviderConfig
	History     HistoryConfig
	Sync        SyncConfig
	Caches      []cache.Definition
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Port string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // trace|debug|info|warn|error
	Format string // json|pretty
}

// PersistenceConfig sizes the snapshot store.
type PersistenceConfig struct {
	Backend  string // file|redis
	Dir      string
	RedisURL string
	Interval time.Duration
}

// RetryConfig parametrizes the default retry policy for provider calls.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// ProviderConfig holds one external provider's endpoint settings.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HistoryConfig extends ProviderConfig with pagination settings.
type HistoryConfig struct {
	ProviderConfig
	PageLimit int
}

// SyncConfig tunes the incremental sync engine.
type SyncConfig struct {
	// MinRecheck throttles delta fetches; zero attempts one per request.
	MinRecheck time.Duration
}

// Load reads configuration from the environment (and an optional .env
// file) plus the named-cache sizing file referenced by CACHES_FILE.
func Load() (*Config, error) {
	// .env is optional; absence is the normal production case.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SNAPSHOT_BACKEND", "file")
	v.SetDefault("SNAPSHOT_DIR", "./data/snapshots")
	v.SetDefault("SNAPSHOT_INTERVAL", "5m")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", "500ms")
	v.SetDefault("RETRY_MAX_DELAY", "10s")
	v.SetDefault("METADATA_TIMEOUT", "15s")
	v.SetDefault("HISTORY_TIMEOUT", "20s")
	v.SetDefault("HISTORY_PAGE_LIMIT", 1000)
	v.SetDefault("SYNC_MIN_RECHECK", "0s")

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Persistence: PersistenceConfig{
			Backend:  v.GetString("SNAPSHOT_BACKEND"),
			Dir:      v.GetString("SNAPSHOT_DIR"),
			RedisURL: v.GetString("REDIS_URL"),
			Interval: v.GetDuration("SNAPSHOT_INTERVAL"),
		},
		Retry: RetryConfig{
			MaxAttempts:  v.GetInt("RETRY_MAX_ATTEMPTS"),
			InitialDelay: v.GetDuration("RETRY_INITIAL_DELAY"),
			MaxDelay:     v.GetDuration("RETRY_MAX_DELAY"),
		},
		Metadata: ProviderConfig{
			BaseURL: v.GetString("METADATA_BASE_URL"),
			APIKey:  v.GetString("METADATA_API_KEY"),
			Timeout: v.GetDuration("METADATA_TIMEOUT"),
		},
		History: HistoryConfig{
			ProviderConfig: ProviderConfig{
				BaseURL: v.GetString("HISTORY_BASE_URL"),
				APIKey:  v.GetString("HISTORY_API_KEY"),
				Timeout: v.GetDuration("HISTORY_TIMEOUT"),
			},
			PageLimit: v.GetInt("HISTORY_PAGE_LIMIT"),
		},
		Sync: SyncConfig{
			MinRecheck: v.GetDuration("SYNC_MIN_RECHECK"),
		},
	}

	defs, err := loadCacheDefinitions(v.GetString("CACHES_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Caches = defs

	return cfg, nil
}

// cacheDefYAML is the on-disk shape of one named cache definition.
// TTL uses Go duration syntax ("30m", "24h").
type cacheDefYAML struct {
	Name    string `yaml:"name"`
	MaxSize int    `yaml:"max_size"`
	TTL     string `yaml:"ttl"`
}

// DefaultCacheDefinitions sizes the named caches used when no sizing
// file is configured.
func DefaultCacheDefinitions() []cache.Definition {
	return []cache.Definition{
		{Name: "metadata", MaxSize: 2000, TTL: 6 * time.Hour},
		{Name: "history_raw", MaxSize: 500, TTL: 24 * time.Hour},
		{Name: "history_processed", MaxSize: 500, TTL: 24 * time.Hour},
	}
}

// loadCacheDefinitions parses the YAML sizing file. An empty path yields
// the defaults; a configured-but-missing file is an error, since an
// operator asked for sizing that cannot be honored.
func loadCacheDefinitions(path string) ([]cache.Definition, error) {
	if path == "" {
		return DefaultCacheDefinitions(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cache sizing file: %w", err)
	}

	var doc struct {
		Caches []cacheDefYAML `yaml:"caches"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cache sizing file: %w", err)
	}

	defs := make([]cache.Definition, 0, len(doc.Caches))
	for _, c := range doc.Caches {
		if c.Name == "" {
			return nil, fmt.Errorf("cache sizing file: entry without a name")
		}
		ttl, err := time.ParseDuration(c.TTL)
		if err != nil {
			return nil, fmt.Errorf("cache sizing file: cache %q: invalid ttl %q: %w", c.Name, c.TTL, err)
		}
		defs = append(defs, cache.Definition{Name: c.Name, MaxSize: c.MaxSize, TTL: ttl})
	}
	return defs, nil
}
