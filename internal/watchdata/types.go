// Package watchdata maintains the per-(account, category) watch-history
// mirror: the raw three-collection snapshot, the last-writer-wins merge,
// the derived-preferences projection, and the incremental sync engine
// that ties them together.
package watchdata

import (
	"time"

	"gorecs/internal/core"
)

// RawDataset is the unprocessed mirror of one account/category's
// watch-history data: three identifier-keyed collections plus the instant
// of the last successful sync. At most one item per external identifier
// exists per collection.
type RawDataset struct {
	Watched map[string]core.HistoryItem `json:"watched"`
	Rated   map[string]core.HistoryItem `json:"rated"`
	History map[string]core.HistoryItem `json:"history"`

	// LastUpdate is the "changed since" anchor of the next delta fetch.
	LastUpdate time.Time `json:"last_update"`

	// Revision increments whenever a refresh changes the dataset, so the
	// preferences projection can tell whether its cached result is still
	// current.
	Revision uint64 `json:"revision"`
}

// Delta is the result of one fetch cycle: the three collections fetched
// jointly, either in full or limited to items changed since LastUpdate.
type Delta struct {
	Watched []core.HistoryItem
	Rated   []core.HistoryItem
	History []core.HistoryItem
}

// Empty reports whether the delta carries no items at all.
func (d Delta) Empty() bool {
	return len(d.Watched) == 0 && len(d.Rated) == 0 && len(d.History) == 0
}

// Weight is one ranked preference entry.
type Weight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Preferences is the derived read-only projection of a RawDataset. It is
// cached separately and regenerated only when the raw dataset's revision
// changes.
type Preferences struct {
	Genres    []Weight `json:"genres"`
	Actors    []Weight `json:"actors"`
	Directors []Weight `json:"directors"`

	YearMin int `json:"year_min,omitempty"`
	YearMax int `json:"year_max,omitempty"`

	// RatingHistogram counts rated items per rating value (1-10).
	RatingHistogram map[int]int `json:"rating_histogram,omitempty"`

	ItemCount int       `json:"item_count"`
	Revision  uint64    `json:"revision"`
	BuiltAt   time.Time `json:"built_at"`
}
