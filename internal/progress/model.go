package progress

import (
	"strings"
	"time"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// CurrentStep derives the index of the step that is currently running.
//
// A completed run always reports the last step. Otherwise elapsed time walks
// the cumulative step durations (the held final step is never reached by time)
// and artifact floors may then raise, but never lower, the result.
func (p Pipeline) CurrentStep(elapsed time.Duration, kinds []string, status runs.Status) int {
	last := p.Last()
	if status == runs.StatusCompleted {
		return last
	}

	current := 0
	if elapsed > 0 {
		var cumulative time.Duration
		for i := 0; i < last; i++ {
			d := p.Steps[i].Duration
			if d == Held || elapsed < cumulative+d {
				break
			}
			cumulative += d
			current = i + 1
		}
	}

	for _, f := range p.Floors {
		if f.Index > current && containsKind(kinds, f.Match) {
			current = f.Index
		}
	}

	switch {
	case current < 0:
		return 0
	case current > last:
		return last
	default:
		return current
	}
}

// containsKind reports whether any kind contains match, ignoring case.
func containsKind(kinds []string, match string) bool {
	needle := strings.ToLower(match)
	for _, k := range kinds {
		if strings.Contains(strings.ToLower(k), needle) {
			return true
		}
	}
	return false
}
