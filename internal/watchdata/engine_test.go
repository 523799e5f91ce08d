package watchdata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorecs/internal/cache"
	"gorecs/internal/core"
	"gorecs/internal/retry"
)

// fakeProvider scripts the three collection fetches. Each call records the
// page options it saw so tests can assert full-vs-delta behavior.
type fakeProvider struct {
	mu    sync.Mutex
	calls []core.PageOptions

	watched []core.HistoryItem
	rated   []core.HistoryItem
	history []core.HistoryItem
	err     error
	// errOnce fails only the next cycle, then clears.
	errOnce error
}

func (p *fakeProvider) fetch(opt core.PageOptions, items []core.HistoryItem) ([]core.HistoryItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, opt)
	if p.errOnce != nil {
		err := p.errOnce
		p.errOnce = nil
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	return items, nil
}

func (p *fakeProvider) Watched(_ context.Context, _ core.Credential, _ string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return p.fetch(opt, p.watched)
}

func (p *fakeProvider) Rated(_ context.Context, _ core.Credential, _ string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return p.fetch(opt, p.rated)
}

func (p *fakeProvider) History(_ context.Context, _ core.Credential, _ string, opt core.PageOptions) ([]core.HistoryItem, error) {
	return p.fetch(opt, p.history)
}

func (p *fakeProvider) sinceValues() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Time, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Since
	}
	return out
}

func newTestEngine(t *testing.T, provider core.HistoryProvider) *Engine {
	t.Helper()
	reg, err := cache.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	eng, err := New(Options{
		Registry: reg,
		Provider: provider,
		Retry:    retry.Policy{MaxAttempts: 1, InitialDelay: time.Microsecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

var testCred = core.Credential{AccountID: "acct-1", AccessToken: "tok-secret"}

func TestPreferencesFullThenIncremental(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", Genres: []string{"drama"}, ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	ctx := context.Background()

	first, err := eng.Preferences(ctx, testCred, "movies")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.ItemCount != 1 {
		t.Fatalf("itemCount = %d, want 1", first.ItemCount)
	}
	for _, since := range provider.sinceValues() {
		if !since.IsZero() {
			t.Errorf("first cycle must be a full refresh, got since=%v", since)
		}
	}

	// Second request: delta fetch with a non-zero since, and an empty
	// delta must serve the cached projection untouched.
	provider.watched = nil
	second, err := eng.Preferences(ctx, testCred, "movies")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second != first {
		t.Error("empty delta must reuse the cached projection")
	}
	if second.Revision != first.Revision {
		t.Errorf("revision changed on an empty delta: %d vs %d", second.Revision, first.Revision)
	}
	sinces := provider.sinceValues()
	for _, since := range sinces[3:] {
		if since.IsZero() {
			t.Error("second cycle must carry the last-update watermark")
		}
	}
}

func TestPreferencesEffectiveDeltaRebuildsProjection(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", Genres: []string{"drama"}, ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	ctx := context.Background()

	first, err := eng.Preferences(ctx, testCred, "movies")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	provider.watched = []core.HistoryItem{{ID: "2", Genres: []string{"crime"}, ActivityAt: ts(200)}}
	second, err := eng.Preferences(ctx, testCred, "movies")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second == first {
		t.Fatal("effective delta must rebuild the projection")
	}
	if second.Revision != first.Revision+1 {
		t.Errorf("revision = %d, want %d", second.Revision, first.Revision+1)
	}
	if second.ItemCount != 2 {
		t.Errorf("itemCount = %d, want 2", second.ItemCount)
	}
}

func TestPreferencesIncrementalFailureFallsBack(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	ctx := context.Background()

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	provider.errOnce = core.NewUnavailableError("history", "backend down", nil)
	provider.watched = []core.HistoryItem{
		{ID: "1", ActivityAt: ts(100)},
		{ID: "2", ActivityAt: ts(150)},
	}
	prefs, err := eng.Preferences(ctx, testCred, "movies")
	if err != nil {
		t.Fatalf("fallback full refresh should succeed, got %v", err)
	}
	if prefs.ItemCount != 2 {
		t.Errorf("itemCount = %d, want the full-refresh result", prefs.ItemCount)
	}
}

func TestPreferencesBothCyclesFailing(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	ctx := context.Background()

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	provider.err = core.NewUnavailableError("history", "backend down", nil)
	_, err := eng.Preferences(ctx, testCred, "movies")
	if err == nil {
		t.Fatal("expected an error when both cycles fail")
	}
	var perr *core.ProviderError
	if !errors.As(err, &perr) || perr.Kind != core.KindUnavailable {
		t.Errorf("error = %v, want an unavailable provider error", err)
	}
}

func TestPreferencesReauthPropagates(t *testing.T) {
	provider := &fakeProvider{
		err: core.NewReauthRequiredError("history", "token expired"),
	}
	eng := newTestEngine(t, provider)

	_, err := eng.Preferences(context.Background(), testCred, "movies")
	if !core.IsReauthRequired(err) {
		t.Fatalf("error = %v, want reauth_required", err)
	}
	if len(provider.calls) > 3 {
		t.Errorf("reauth must not trigger a fallback cycle, saw %d calls", len(provider.calls))
	}
}

func TestPreferencesMinRecheckServesExisting(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	eng.minRecheck = time.Hour
	ctx := context.Background()

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	callsAfterFirst := len(provider.calls)

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if len(provider.calls) != callsAfterFirst {
		t.Errorf("request inside the recheck window must not hit the provider, calls %d -> %d",
			callsAfterFirst, len(provider.calls))
	}
}

func TestInvalidateForcesFullRefresh(t *testing.T) {
	provider := &fakeProvider{
		watched: []core.HistoryItem{{ID: "1", ActivityAt: ts(100)}},
	}
	eng := newTestEngine(t, provider)
	ctx := context.Background()

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	eng.Invalidate(testCred, "movies")

	if _, err := eng.Preferences(ctx, testCred, "movies"); err != nil {
		t.Fatalf("post-invalidate request: %v", err)
	}
	sinces := provider.sinceValues()
	for _, since := range sinces[3:] {
		if !since.IsZero() {
			t.Error("request after Invalidate must be a full refresh")
		}
	}
}

func TestDatasetKeyHidesCredential(t *testing.T) {
	key := datasetKey(testCred, "movies")
	if key == "" {
		t.Fatal("empty key")
	}
	for _, secret := range []string{testCred.AccessToken, testCred.AccountID} {
		if strings.Contains(key, secret) {
			t.Errorf("key %q leaks credential %q", key, secret)
		}
	}

	other := datasetKey(core.Credential{AccountID: "acct-2", AccessToken: "tok-other"}, "movies")
	if other == key {
		t.Error("different credentials must derive different keys")
	}
	if datasetKey(testCred, "shows") == key {
		t.Error("different categories must derive different keys")
	}
}
