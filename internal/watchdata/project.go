package watchdata

import (
	"sort"
	"time"

	"gorecs/internal/core"
)

// BuildPreferences computes the derived projection of a raw dataset. It
// is a pure function of the dataset: the same revision always projects to
// the same preferences, which is what lets the engine cache the result
// keyed by revision.
func BuildPreferences(ds *RawDataset) *Preferences {
	items := collectItems(ds)

	genres := make(map[string]float64)
	actors := make(map[string]float64)
	directors := make(map[string]float64)
	histogram := make(map[int]int)
	yearMin, yearMax := 0, 0

	for _, item := range items {
		w := itemWeight(item)
		for _, g := range item.Genres {
			genres[g] += w
		}
		for _, a := range item.Actors {
			actors[a] += w
		}
		for _, d := range item.Directors {
			directors[d] += w
		}
		if item.Year > 0 {
			if yearMin == 0 || item.Year < yearMin {
				yearMin = item.Year
			}
			if item.Year > yearMax {
				yearMax = item.Year
			}
		}
	}

	for _, item := range ds.Rated {
		if item.Rating >= 1 && item.Rating <= 10 {
			histogram[item.Rating]++
		}
	}
	if len(histogram) == 0 {
		histogram = nil
	}

	return &Preferences{
		Genres:          rank(genres),
		Actors:          rank(actors),
		Directors:       rank(directors),
		YearMin:         yearMin,
		YearMax:         yearMax,
		RatingHistogram: histogram,
		ItemCount:       len(items),
		Revision:        ds.Revision,
		BuiltAt:         time.Now().UTC(),
	}
}

// collectItems unions the three collections by identifier. Where the same
// identifier appears in several collections, ratings are folded into the
// watched/history record so the weight sees both signals.
func collectItems(ds *RawDataset) map[string]core.HistoryItem {
	items := make(map[string]core.HistoryItem, len(ds.Watched)+len(ds.History))
	for id, item := range ds.Watched {
		items[id] = item
	}
	for id, item := range ds.History {
		if existing, ok := items[id]; ok {
			if item.Plays > existing.Plays {
				existing.Plays = item.Plays
				items[id] = existing
			}
			continue
		}
		items[id] = item
	}
	for id, item := range ds.Rated {
		if existing, ok := items[id]; ok {
			if existing.Rating == 0 {
				existing.Rating = item.Rating
				items[id] = existing
			}
			continue
		}
		items[id] = item
	}
	return items
}

// itemWeight scores one item: each item counts once, repeated plays add a
// dampened bonus, and an explicit rating scales the whole contribution
// around the 5/10 midpoint.
func itemWeight(item core.HistoryItem) float64 {
	w := 1.0
	if item.Plays > 1 {
		w += 0.1 * float64(item.Plays-1)
		if w > 2.0 {
			w = 2.0
		}
	}
	if item.Rating > 0 {
		w *= float64(item.Rating) / 5.0
	}
	return w
}

// rank converts a weight map into a descending list with a deterministic
// name tie-break.
func rank(weights map[string]float64) []Weight {
	if len(weights) == 0 {
		return nil
	}
	out := make([]Weight, 0, len(weights))
	for name, w := range weights {
		out = append(out, Weight{Name: name, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}
