// Package httpclient provides the shared HTTP client factory used by the
// provider clients.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds transport options for a provider client.
type Config struct {
	// Timeout bounds one whole request, independent of retry bookkeeping.
	Timeout time.Duration

	// MaxIdleConnsPerHost controls keep-alive connections per provider host.
	MaxIdleConnsPerHost int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

// DefaultConfig returns transport defaults suited to small, idempotent
// provider calls rather than long streaming requests.
func DefaultConfig() Config {
	return Config{
		Timeout:             15 * time.Second,
		MaxIdleConnsPerHost: 16,
		DialTimeout:         5 * time.Second,
	}
}

// New creates an *http.Client from cfg. Zero fields fall back to
// DefaultConfig values.
func New(cfg Config) *http.Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
