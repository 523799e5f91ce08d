package watchdata

import (
	"time"

	"gorecs/internal/core"
)

// Merge folds incoming items into an identifier-keyed collection under
// the last-writer-wins rule: an absent identifier is inserted; a present
// one is overwritten only when the incoming activity timestamp is
// strictly newer. Equal or missing timestamps keep the existing item, so
// replaying a delta is idempotent. The existing map is not mutated; the
// returned count is the number of inserts and overwrites applied.
func Merge(existing map[string]core.HistoryItem, incoming []core.HistoryItem) (map[string]core.HistoryItem, int) {
	merged := make(map[string]core.HistoryItem, len(existing)+len(incoming))
	for id, item := range existing {
		merged[id] = item
	}

	changed := 0
	for _, item := range incoming {
		if item.ID == "" {
			continue
		}
		prev, ok := merged[item.ID]
		if ok && !item.ActivityAt.After(prev.ActivityAt) {
			continue
		}
		merged[item.ID] = item
		changed++
	}
	return merged, changed
}

// newDataset builds a RawDataset from a full-refresh delta. Duplicate
// identifiers within one page resolve through the same merge rule.
func newDataset(delta Delta, now time.Time, revision uint64) *RawDataset {
	watched, _ := Merge(nil, delta.Watched)
	rated, _ := Merge(nil, delta.Rated)
	history, _ := Merge(nil, delta.History)
	return &RawDataset{
		Watched:    watched,
		Rated:      rated,
		History:    history,
		LastUpdate: now,
		Revision:   revision,
	}
}

// mergeDataset applies an incremental delta to an existing dataset,
// merging each collection independently. The result is a fresh dataset:
// the existing one stays untouched until the caller swaps it in. The
// revision advances only when something actually changed, so an empty
// delta leaves the cached projection valid.
func mergeDataset(existing *RawDataset, delta Delta, now time.Time) *RawDataset {
	watched, cw := Merge(existing.Watched, delta.Watched)
	rated, cr := Merge(existing.Rated, delta.Rated)
	history, ch := Merge(existing.History, delta.History)

	revision := existing.Revision
	if cw+cr+ch > 0 {
		revision++
	}
	return &RawDataset{
		Watched:    watched,
		Rated:      rated,
		History:    history,
		LastUpdate: now,
		Revision:   revision,
	}
}
