// Package history provides the watch-history provider client. Each call
// fetches one paginated collection for an (account, category) pair,
// optionally limited to items changed since a stored instant.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gorecs/internal/core"
	"gorecs/internal/httpclient"
)

const providerName = "history"

const maxBodySize = 8 << 20

// DefaultPageLimit is the maximum page size, used by full refreshes.
const DefaultPageLimit = 1000

// Config holds the watch-history provider settings, read once at startup.
type Config struct {
	BaseURL   string
	APIKey    string
	PageLimit int
	HTTP      httpclient.Config
}

// Client talks to the watch-history provider.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	pageLimit int
}

var _ core.HistoryProvider = (*Client)(nil)

// New creates a watch-history client.
func New(cfg Config) *Client {
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &Client{
		http:      httpclient.New(cfg.HTTP),
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageLimit: limit,
	}
}

// wireItem is the provider's item shape. The stable identifier and the
// activity timestamp are nested per collection upstream; the provider
// normalizes them into top-level fields here.
type wireItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Year       int       `json:"year"`
	ActivityAt time.Time `json:"activity_at"`
	Rating     int       `json:"rating"`
	Plays      int       `json:"plays"`
	Genres     []string  `json:"genres"`
	Actors     []string  `json:"actors"`
	Directors  []string  `json:"directors"`
}

// Watched returns the watched collection.
func (c *Client) Watched(ctx context.Context, cred core.Credential, category string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return c.collection(ctx, "watched", cred, category, opt)
}

// Rated returns the ratings collection.
func (c *Client) Rated(ctx context.Context, cred core.Credential, category string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return c.collection(ctx, "ratings", cred, category, opt)
}

// History returns the play-history collection.
func (c *Client) History(ctx context.Context, cred core.Credential, category string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return c.collection(ctx, "history", cred, category, opt)
}

func (c *Client) collection(ctx context.Context, kind string, cred core.Credential, category string, opt core.PageOptions) ([]core.HistoryItem, error) {
	q := url.Values{}
	if !opt.Since.IsZero() {
		q.Set("since", opt.Since.UTC().Format(time.RFC3339))
	}
	page := opt.Page
	if page < 1 {
		page = 1
	}
	limit := opt.Limit
	if limit <= 0 {
		limit = c.pageLimit
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/sync/%s/%s?%s", c.baseURL, kind, url.PathEscape(category), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, core.NewInvalidRequestError(providerName, 0, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Includes client-side timeouts: retryable transport failures.
		return nil, core.NewTransportError(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, core.NewTransportError(providerName, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusGone:
		// The provider signals an expired token with 401 invalid_grant or
		// 410; both mean the user must re-authenticate, not that we retry.
		pe := core.ParseProviderError(providerName, resp.StatusCode, body)
		if pe.Kind == core.KindAuth || resp.StatusCode == http.StatusGone {
			return nil, core.NewReauthRequiredError(providerName, pe.Message)
		}
		return nil, pe
	default:
		return nil, core.ParseProviderError(providerName, resp.StatusCode, body)
	}

	var items []wireItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, core.NewUnavailableError(providerName, "malformed collection payload: "+err.Error(), err)
	}

	out := make([]core.HistoryItem, 0, len(items))
	for _, it := range items {
		out = append(out, core.HistoryItem(it))
	}
	return out, nil
}
