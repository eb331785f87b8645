package quarters

import (
	"sort"
	"strings"
	"time"

	"formula-signal-engine/internal/types"
)

// DefaultWindowSize bounds how many quarters a single evaluation sees.
const DefaultWindowSize = 12

// Quarter labels come from scraped report headers and are not uniform.
// These are the layouts observed in the wild; anything else sorts as the
// epoch minimum rather than failing the evaluation.
var labelLayouts = []string{
	"Jan 2006",
	"January 2006",
	"Jan-2006",
	"Jan 06",
	"Jan-06",
}

// ParseLabel converts a quarter label like "Mar 2024" into a comparable
// time. The second return is false when no known layout matches.
func ParseLabel(label string) (time.Time, bool) {
	label = strings.TrimSpace(label)
	for _, layout := range labelLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Window selects the quarters one evaluation runs against and returns them
// oldest to newest, so that window index 1 is the oldest quarter and the
// last index is the most recent.
//
// When selected is non-empty, evaluation is restricted to those labels
// (still re-sorted chronologically). Otherwise the newest `size` quarters
// are taken. size <= 0 falls back to DefaultWindowSize. An empty input
// yields an empty window; the evaluator treats that as "no data".
func Window(all []types.Quarter, selected []string, size int) []types.Quarter {
	if size <= 0 {
		size = DefaultWindowSize
	}

	pool := all
	if len(selected) > 0 {
		wanted := make(map[string]bool, len(selected))
		for _, label := range selected {
			wanted[strings.TrimSpace(label)] = true
		}
		pool = make([]types.Quarter, 0, len(selected))
		for _, q := range all {
			if wanted[strings.TrimSpace(q.Label)] {
				pool = append(pool, q)
			}
		}
	}

	sorted := make([]types.Quarter, len(pool))
	copy(sorted, pool)

	// Newest first. Unparseable labels compare as the epoch minimum, so
	// they deterministically sink to the old end of the window.
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, _ := ParseLabel(sorted[i].Label)
		tj, _ := ParseLabel(sorted[j].Label)
		return ti.After(tj)
	})

	if len(sorted) > size {
		sorted = sorted[:size]
	}

	// Reverse to oldest-first for 1-based indexing.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	return sorted
}

// Labels returns the labels of a window in window order.
func Labels(window []types.Quarter) []string {
	labels := make([]string, len(window))
	for i, q := range window {
		labels[i] = q.Label
	}
	return labels
}
