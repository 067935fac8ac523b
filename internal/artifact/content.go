package artifact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Hypothesis is one proposed research direction.
type Hypothesis struct {
	Title      string `json:"title"`
	Rationale  string `json:"rationale"`
	Validation string `json:"validation"`
}

// Content is the structured form of one artifact. Exactly one of the block
// fields is populated, chosen by the artifact kind.
type Content struct {
	Kind       string       `json:"kind"`
	Paragraphs []string     `json:"paragraphs,omitempty"`
	Gaps       []string     `json:"gaps,omitempty"`
	Hypotheses []Hypothesis `json:"hypotheses,omitempty"`
	Text       string       `json:"text,omitempty"`
}

// Parse structures an artifact by its exact (case-insensitive) kind. Unknown
// kinds keep their raw text.
func Parse(a runs.Artifact) Content {
	kind := strings.ToLower(a.Kind)
	c := Content{Kind: kind}
	switch kind {
	case CategorySynthesis:
		c.Paragraphs = Paragraphs(a.Content)
	case CategoryGaps:
		c.Gaps = GapLines(a.Content)
	case CategoryHypotheses:
		c.Hypotheses = ParseHypotheses(a.Content)
	default:
		c.Text = a.Content
	}
	return c
}

// Paragraphs splits synthesis text on newlines, keeping blank lines.
func Paragraphs(content string) []string {
	return strings.Split(content, "\n")
}

// GapLines returns the non-blank lines of a gap analysis.
func GapLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

var hypothesisHeading = regexp.MustCompile(`Hypothesis \d+:`)

// ParseHypotheses decodes a JSON array of hypotheses. Content that is not
// such an array is treated as text with "Hypothesis <n>:" headings. It never
// fails; unrecognised text yields a single block titled by its first line.
func ParseHypotheses(content string) []Hypothesis {
	var parsed []Hypothesis
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed
	}

	var out []Hypothesis
	for i, block := range splitHeadings(content) {
		lines := nonBlankLines(strings.TrimSpace(block))
		h := Hypothesis{Title: fmt.Sprintf("Hypothesis %d", i+1)}
		if len(lines) > 0 {
			h.Title = lines[0]
		}
		rationale := labelIndex(lines, "rationale:")
		validation := labelIndex(lines, "validation:")
		if rationale != -1 {
			end := len(lines)
			if validation != -1 {
				end = validation
			}
			if end > rationale {
				h.Rationale = strings.TrimSpace(strings.Join(lines[rationale+1:end], " "))
			}
		}
		if validation != -1 {
			h.Validation = strings.TrimSpace(strings.Join(lines[validation+1:], " "))
		}
		out = append(out, h)
	}
	return out
}

// splitHeadings cuts content in front of every heading and drops blank pieces.
func splitHeadings(content string) []string {
	var blocks []string
	prev := 0
	for _, loc := range hypothesisHeading.FindAllStringIndex(content, -1) {
		if loc[0] > prev {
			blocks = append(blocks, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	blocks = append(blocks, content[prev:])

	out := blocks[:0]
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

func nonBlankLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func labelIndex(lines []string, label string) int {
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), label) {
			return i
		}
	}
	return -1
}
