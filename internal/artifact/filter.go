// Package artifact partitions run artifacts into the result categories the
// user browses and turns their free-form content into structured blocks.
package artifact

import (
	"strings"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Result categories in display order.
const (
	CategorySynthesis  = "synthesis"
	CategoryGaps       = "gaps"
	CategoryHypotheses = "hypotheses"
)

// Categories lists the browsable categories. The first is the default.
var Categories = []string{CategorySynthesis, CategoryGaps, CategoryHypotheses}

// DefaultCategory is selected when the caller names none.
const DefaultCategory = CategorySynthesis

// ValidCategory reports whether name is one of Categories.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// FilterByCategory returns the artifacts whose kind contains category,
// ignoring case, in backend order. The result is never nil.
func FilterByCategory(artifacts []runs.Artifact, category string) []runs.Artifact {
	needle := strings.ToLower(category)
	out := make([]runs.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if strings.Contains(strings.ToLower(a.Kind), needle) {
			out = append(out, a)
		}
	}
	return out
}
