// Package metadata provides the content-metadata provider client. Lookups
// are idempotent and every failure is a classifiable core.ProviderError,
// so the retry executor's default classifier applies.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"gorecs/internal/core"
	"gorecs/internal/httpclient"
)

const providerName = "metadata"

// maxBodySize caps provider responses; anything larger is malformed.
const maxBodySize = 4 << 20

// Config holds the metadata provider settings, read once at startup.
type Config struct {
	BaseURL string
	APIKey  string
	HTTP    httpclient.Config
}

// Client talks to the metadata provider.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

var _ core.MetadataProvider = (*Client)(nil)

// New creates a metadata client.
func New(cfg Config) *Client {
	return &Client{
		http:    httpclient.New(cfg.HTTP),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Lookup resolves a title or identifier into a normalized description.
// A miss (provider 404 or empty search result) returns (nil, nil): "not
// found" is a valid, silent result, never an error.
func (c *Client) Lookup(ctx context.Context, q core.MetadataQuery) (*core.MediaMetadata, error) {
	endpoint, err := c.buildURL(q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, core.NewInvalidRequestError(providerName, 0, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.NewTransportError(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, core.NewTransportError(providerName, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ParseProviderError(providerName, resp.StatusCode, body)
	}

	return parseMetadata(body, q.Category), nil
}

// buildURL targets /{category}/{id} for identifier lookups and
// /search/{category}?query= for title lookups.
func (c *Client) buildURL(q core.MetadataQuery) (string, error) {
	category := q.Category
	if category == "" {
		category = "movies"
	}
	switch {
	case q.ID != "":
		return fmt.Sprintf("%s/%s/%s", c.baseURL, category, url.PathEscape(q.ID)), nil
	case q.Title != "":
		return fmt.Sprintf("%s/search/%s?query=%s", c.baseURL, category, url.QueryEscape(q.Title)), nil
	default:
		return "", core.NewInvalidRequestError(providerName, 0, "metadata query requires an id or a title")
	}
}

// parseMetadata tolerates both the direct-object and the search-result
// payload shapes; gjson lets the two share one extraction path. An empty
// search result yields nil.
func parseMetadata(body []byte, category string) *core.MediaMetadata {
	root := gjson.ParseBytes(body)
	if results := root.Get("results"); results.Exists() {
		if len(results.Array()) == 0 {
			return nil
		}
		root = results.Array()[0]
	}

	meta := &core.MediaMetadata{
		ID:          root.Get("id").String(),
		Title:       root.Get("title").String(),
		Category:    category,
		Year:        int(root.Get("year").Int()),
		Overview:    root.Get("overview").String(),
		PosterURL:   root.Get("images.poster").String(),
		BackdropURL: root.Get("images.backdrop").String(),
		Rating:      root.Get("rating").Float(),
		Votes:       int(root.Get("votes").Int()),
	}
	for _, g := range root.Get("genres").Array() {
		meta.Genres = append(meta.Genres, g.String())
	}
	if ids := root.Get("ids"); ids.Exists() {
		meta.ExternalIDs = make(map[string]string)
		ids.ForEach(func(key, value gjson.Result) bool {
			if value.String() != "" {
				meta.ExternalIDs[key.String()] = value.String()
			}
			return true
		})
	}
	return meta
}
