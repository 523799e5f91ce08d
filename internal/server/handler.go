package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"gorecs/internal/cache"
	"gorecs/internal/core"
	"gorecs/internal/retry"
	"gorecs/internal/watchdata"
)

// MetadataCacheName is the named cache fronting metadata lookups.
const MetadataCacheName = "metadata"

// Handler carries the request-path dependencies.
type Handler struct {
	registry *cache.Registry
	engine   *watchdata.Engine
	metadata core.MetadataProvider
	retry    retry.Policy
}

// NewHandler creates a Handler.
func NewHandler(registry *cache.Registry, engine *watchdata.Engine, metadata core.MetadataProvider, retryPolicy retry.Policy) *Handler {
	return &Handler{
		registry: registry,
		engine:   engine,
		metadata: metadata,
		retry:    retryPolicy,
	}
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CacheStats returns per-cache {size, maxSize, usagePercentage} for the
// operator.
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.StatsSnapshot())
}

// ClearCache empties one named cache, returning its prior size.
func (h *Handler) ClearCache(c echo.Context) error {
	name := c.Param("name")
	n, ok := h.registry.ClearNamed(name)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no cache named %q", name)})
	}
	return c.JSON(http.StatusOK, map[string]any{"cache": name, "cleared": n})
}

// ClearAllCaches empties every named cache, returning prior sizes.
func (h *Handler) ClearAllCaches(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"cleared": h.registry.ClearAll()})
}

// Preferences runs the sync engine for the requesting account and
// category and returns the derived preferences.
func (h *Handler) Preferences(c echo.Context) error {
	cred, err := credentialFrom(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	category := c.QueryParam("category")
	if category == "" {
		category = "movies"
	}

	prefs, err := h.engine.Preferences(c.Request().Context(), cred, category)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

// Metadata resolves a title or identifier through the metadata cache,
// falling through to the provider via the retry executor on a miss.
func (h *Handler) Metadata(c echo.Context) error {
	q := core.MetadataQuery{
		ID:       c.QueryParam("id"),
		Title:    c.QueryParam("title"),
		Category: c.QueryParam("category"),
	}
	if q.ID == "" && q.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id or title is required"})
	}

	mc, ok := h.registry.Lookup(MetadataCacheName)
	key := metadataKey(q)
	if ok {
		if v, hit := mc.Get(key); hit {
			return c.JSON(http.StatusOK, v)
		}
	}

	policy := h.retry
	policy.Label = "metadata.lookup"
	meta, err := retry.Do(c.Request().Context(), policy, func(ctx context.Context) (*core.MediaMetadata, error) {
		return h.metadata.Lookup(ctx, q)
	})
	if err != nil {
		return writeProviderError(c, err)
	}
	if meta == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "title not found"})
	}
	if ok {
		mc.Set(key, meta)
	}
	return c.JSON(http.StatusOK, meta)
}

func metadataKey(q core.MetadataQuery) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(q.Category+"\x00"+q.ID+"\x00"+strings.ToLower(q.Title)))
}

// credentialFrom reads the account identifier from the query string and
// the access token from the Authorization header.
func credentialFrom(c echo.Context) (core.Credential, error) {
	account := c.QueryParam("account_id")
	if account == "" {
		return core.Credential{}, fmt.Errorf("account_id is required")
	}
	auth := c.Request().Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return core.Credential{}, fmt.Errorf("bearer token is required")
	}
	return core.Credential{AccountID: account, AccessToken: token}, nil
}

// writeProviderError maps the error taxonomy onto user-visible responses:
// re-auth and auth failures are the caller's to fix; everything else that
// survived the retry executor is "unavailable".
func writeProviderError(c echo.Context, err error) error {
	if core.IsReauthRequired(err) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "needs re-authentication"})
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case core.KindAuth:
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authorized"})
		case core.KindInvalidRequest:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": pe.Message})
		}
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
}
