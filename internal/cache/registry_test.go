package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func testDefs() []Definition {
	return []Definition{
		{Name: "alpha", MaxSize: 4, TTL: time.Minute},
		{Name: "beta", MaxSize: 2, TTL: time.Hour},
	}
}

func TestRegistryLookupAndStats(t *testing.T) {
	r, err := NewRegistry(testDefs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alpha, ok := r.Lookup("alpha")
	if !ok {
		t.Fatal("expected alpha cache")
	}
	alpha.Set("k1", "v1")
	alpha.Set("k2", "v2")

	stats := r.StatsSnapshot()
	if got := stats["alpha"].Size; got != 2 {
		t.Errorf("alpha size = %d, want 2", got)
	}
	if got := stats["alpha"].MaxSize; got != 4 {
		t.Errorf("alpha maxSize = %d, want 4", got)
	}
	if got := stats["alpha"].UsagePercent; got != 50 {
		t.Errorf("alpha usage = %v, want 50", got)
	}
	if got := stats["beta"].Size; got != 0 {
		t.Errorf("beta size = %d, want 0", got)
	}
}

func TestRegistryEnsureKeepsExistingSizing(t *testing.T) {
	r, _ := NewRegistry(testDefs())
	c, err := r.Ensure(Definition{Name: "alpha", MaxSize: 99, TTL: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.MaxSize(); got != 4 {
		t.Errorf("Ensure must not resize an existing cache, maxSize %d", got)
	}
}

func TestRegistrySerializeRestoreRoundTrip(t *testing.T) {
	r, _ := NewRegistry(testDefs())
	alpha, _ := r.Lookup("alpha")
	alpha.Set("k1", "v1")
	alpha.Set("k2", "v2")
	alpha.Get("k1") // promote so the round trip must keep recency order

	snaps := r.SerializeAll()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}

	fresh, _ := NewRegistry(testDefs())
	report := fresh.RestoreAll(snaps)
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected restore errors: %v", report.Errors)
	}
	if got := report.Loaded["alpha"]; got != 2 {
		t.Errorf("alpha loaded = %d, want 2", got)
	}

	restored, _ := fresh.Lookup("alpha")
	if got, want := restored.Keys(), []string{"k2", "k1"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("restored key order = %v, want %v", got, want)
	}
	v, ok := restored.Get("k1")
	if !ok {
		t.Fatal("expected k1 to be live after restore")
	}
	// Without a decoder, restored values come back as raw JSON.
	raw, isRaw := v.(json.RawMessage)
	if !isRaw || string(raw) != `"v1"` {
		t.Errorf("restored value = %#v, want raw JSON \"v1\"", v)
	}
}

func TestRegistryRestoreWithDecoder(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}

	r, _ := NewRegistry(testDefs())
	alpha, _ := r.Lookup("alpha")
	alpha.Set("k", &payload{N: 7})
	snaps := r.SerializeAll()

	fresh, _ := NewRegistry(testDefs())
	fresh.RegisterDecoder("alpha", func(data json.RawMessage) (any, error) {
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	fresh.RestoreAll(snaps)

	restored, _ := fresh.Lookup("alpha")
	v, ok := restored.Get("k")
	if !ok {
		t.Fatal("expected k to be live")
	}
	p, isTyped := v.(*payload)
	if !isTyped || p.N != 7 {
		t.Errorf("decoded value = %#v, want &payload{N:7}", v)
	}
}

func TestRegistryRestoreDropsExpired(t *testing.T) {
	r, _ := NewRegistry(testDefs())
	alpha, _ := r.Lookup("alpha")

	clk := newFakeClock()
	alpha.now = clk.now
	alpha.Set("old", 1)
	snaps := r.SerializeAll()

	fresh, _ := NewRegistry(testDefs())
	freshAlpha, _ := fresh.Lookup("alpha")
	freshClk := newFakeClock()
	freshClk.advance(2 * time.Minute) // past alpha's TTL
	freshAlpha.now = freshClk.now

	report := fresh.RestoreAll(snaps)
	if got := report.Dropped["alpha"]; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if freshAlpha.Len() != 0 {
		t.Error("expired entry must not be restored")
	}
}

func TestRegistryRestoreUnknownCacheIsolated(t *testing.T) {
	r, _ := NewRegistry(testDefs())
	alpha, _ := r.Lookup("alpha")
	alpha.Set("k", 1)
	snaps := r.SerializeAll()
	snaps = append(snaps, Snapshot{Name: "ghost"})

	fresh, _ := NewRegistry(testDefs())
	report := fresh.RestoreAll(snaps)
	if _, ok := report.Errors["ghost"]; !ok {
		t.Error("expected an error for the unknown cache")
	}
	if got := report.Loaded["alpha"]; got != 1 {
		t.Errorf("alpha must restore despite the ghost snapshot, loaded %d", got)
	}
}

func TestRegistryClear(t *testing.T) {
	r, _ := NewRegistry(testDefs())
	alpha, _ := r.Lookup("alpha")
	beta, _ := r.Lookup("beta")
	alpha.Set("a", 1)
	alpha.Set("b", 2)
	beta.Set("c", 3)

	n, ok := r.ClearNamed("alpha")
	if !ok || n != 2 {
		t.Errorf("ClearNamed = (%d,%v), want (2,true)", n, ok)
	}
	if _, ok := r.ClearNamed("ghost"); ok {
		t.Error("expected ClearNamed of unknown cache to report false")
	}

	sizes := r.ClearAll()
	if sizes["beta"] != 1 || sizes["alpha"] != 0 {
		t.Errorf("ClearAll sizes = %v", sizes)
	}
}
