package core

import (
	"context"
	"time"
)

// MediaMetadata is the normalized description of a title returned by the
// metadata provider.
type MediaMetadata struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Category    string            `json:"category"`
	Year        int               `json:"year,omitempty"`
	Overview    string            `json:"overview,omitempty"`
	PosterURL   string            `json:"poster_url,omitempty"`
	BackdropURL string            `json:"backdrop_url,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Votes       int               `json:"votes,omitempty"`
	Genres      []string          `json:"genres,omitempty"`
	// ExternalIDs cross-references the title in other catalogs
	// (e.g. "imdb", "tmdb", "trakt").
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
}

// MetadataQuery identifies a title for a metadata lookup. Either ID or
// Title must be set; Category narrows the search.
type MetadataQuery struct {
	ID       string
	Title    string
	Category string
}

// HistoryItem is one entry in a watch-history collection. ID is the
// provider's stable identifier; ActivityAt is the timestamp used by the
// last-writer-wins merge.
type HistoryItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Year       int       `json:"year,omitempty"`
	ActivityAt time.Time `json:"activity_at"`
	Rating     int       `json:"rating,omitempty"`
	Plays      int       `json:"plays,omitempty"`
	Genres     []string  `json:"genres,omitempty"`
	Actors     []string  `json:"actors,omitempty"`
	Directors  []string  `json:"directors,omitempty"`
}

// Credential identifies one upstream account. AccountID is a stable
// public identifier; AccessToken is the bearer token and must never be
// logged or used verbatim in cache keys or filenames.
type Credential struct {
	AccountID   string
	AccessToken string
}

// PageOptions controls a watch-history fetch. A zero Since requests the
// full collection; a non-zero Since requests only items changed after it.
type PageOptions struct {
	Since time.Time
	Page  int
	Limit int
}

// MetadataProvider is the contract for the content-metadata backend.
// Lookups are idempotent and failures are classifiable ProviderErrors.
type MetadataProvider interface {
	Lookup(ctx context.Context, q MetadataQuery) (*MediaMetadata, error)
}

// HistoryProvider is the contract for the watch-history backend. Each
// method returns one collection for (credential, category). An expired
// credential surfaces as a reauth_required ProviderError, distinguishable
// from other failures via IsReauthRequired.
type HistoryProvider interface {
	Watched(ctx context.Context, cred Credential, category string, opt PageOptions) ([]HistoryItem, error)
	Rated(ctx context.Context, cred Credential, category string, opt PageOptions) ([]HistoryItem, error)
	History(ctx context.Context, cred Credential, category string, opt PageOptions) ([]HistoryItem, error)
}
