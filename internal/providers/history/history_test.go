package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorecs/internal/core"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL, APIKey: "test-key"})
}

var cred = core.Credential{AccountID: "acct-1", AccessToken: "tok-1"}

func TestWatchedParsesCollection(t *testing.T) {
	var gotPath, gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"m1","title":"Alien","year":1979,"activity_at":"2026-02-01T10:00:00Z","plays":2,"genres":["horror","sci-fi"]},
			{"id":"m2","title":"Heat","year":1995,"activity_at":"2026-02-02T10:00:00Z"}
		]`))
	}))
	defer srv.Close()

	items, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
	if err != nil {
		t.Fatalf("Watched: %v", err)
	}
	if gotPath != "/sync/watched/movies" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-1" || gotKey != "test-key" {
		t.Errorf("auth headers = %q, %q", gotAuth, gotKey)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ID != "m1" || items[0].Plays != 2 || len(items[0].Genres) != 2 {
		t.Errorf("item = %+v", items[0])
	}
	if items[0].ActivityAt.IsZero() {
		t.Error("activity timestamp not parsed")
	}
}

func TestCollectionQueryParameters(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"since": r.URL.Query().Get("since"),
			"page":  r.URL.Query().Get("page"),
			"limit": r.URL.Query().Get("limit"),
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	since := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err := newTestClient(srv).Rated(context.Background(), cred, "movies", core.PageOptions{
		Since: since,
		Page:  3,
		Limit: 50,
	})
	if err != nil {
		t.Fatalf("Rated: %v", err)
	}
	if gotQuery["since"] != "2026-02-01T12:00:00Z" {
		t.Errorf("since = %q", gotQuery["since"])
	}
	if gotQuery["page"] != "3" || gotQuery["limit"] != "50" {
		t.Errorf("page/limit = %q/%q", gotQuery["page"], gotQuery["limit"])
	}
}

func TestCollectionDefaultsOmitSince(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).History(context.Background(), cred, "shows", core.PageOptions{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if rawQuery != "limit=1000&page=1" {
		t.Errorf("query = %q, want the page defaults without since", rawQuery)
	}
}

func TestExpiredTokenSignals(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"401 invalid_grant", http.StatusUnauthorized, `{"error":{"code":"invalid_grant","message":"token expired"}}`},
		{"410 gone", http.StatusGone, `{"error":{"message":"account revoked"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
			if !core.IsReauthRequired(err) {
				t.Fatalf("error = %v, want reauth_required", err)
			}
			if core.Retryable(err) {
				t.Error("an expired credential must not be retried")
			}
		})
	}
}

func TestPlainUnauthorizedStaysAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad api key"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
	if core.IsReauthRequired(err) {
		t.Fatal("a plain 401 is an auth failure, not an expired credential")
	}
	var pe *core.ProviderError
	if !errors.As(err, &pe) || pe.Kind != core.KindAuth {
		t.Errorf("error = %v, want auth", err)
	}
}

func TestServerFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !core.Retryable(err) {
		t.Errorf("5xx must classify as retryable, got %v", err)
	}
}

func TestConnectionFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
	var pe *core.ProviderError
	if !errors.As(err, &pe) || pe.Kind != core.KindTransport {
		t.Fatalf("error = %v, want transport", err)
	}
	if !core.Retryable(err) {
		t.Error("transport failures must be retryable")
	}
}

func TestMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Watched(context.Background(), cred, "movies", core.PageOptions{})
	var pe *core.ProviderError
	if !errors.As(err, &pe) || pe.Kind != core.KindUnavailable {
		t.Fatalf("error = %v, want unavailable", err)
	}
}
