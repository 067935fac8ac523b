package progress

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Held marks a step that never advances on elapsed time alone.
const Held = time.Duration(math.MaxInt64)

// Step is one stage of the fixed research pipeline.
type Step struct {
	ID          string
	Label       string
	Description string
	// Duration is the nominal simulated duration; Held for the last step.
	Duration time.Duration
}

// Floor raises the current step to Index once an artifact kind containing
// Match (case-insensitive) has been observed.
type Floor struct {
	Match string
	Index int
}

// Pipeline is the ordered step list plus the artifact floors that can
// fast-forward it.
type Pipeline struct {
	Steps  []Step
	Floors []Floor
}

// DefaultDurations are the simulated durations of every step but the last.
// They are a UX pacing aid, not backend timings.
var DefaultDurations = []time.Duration{
	4 * time.Second,
	5 * time.Second,
	6 * time.Second,
	5 * time.Second,
}

// DefaultPipeline returns the retrieve -> hypotheses pipeline with default pacing.
func DefaultPipeline() Pipeline {
	p, err := NewPipeline(DefaultDurations)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPipeline builds the standard pipeline with custom durations for the
// first four steps. The final step is always held.
func NewPipeline(durations []time.Duration) (Pipeline, error) {
	steps := []Step{
		{ID: "retrieve", Label: "Retrieve", Description: "Gathering relevant papers and data"},
		{ID: "extract", Label: "Extract", Description: "Extracting key information"},
		{ID: "synthesize", Label: "Synthesize", Description: "Creating comprehensive synthesis"},
		{ID: "gap_analysis", Label: "Gap Analysis", Description: "Identifying research gaps"},
		{ID: "hypotheses", Label: "Hypotheses", Description: "Generating research hypotheses", Duration: Held},
	}
	if len(durations) != len(steps)-1 {
		return Pipeline{}, fmt.Errorf("expected %d step durations, got %d", len(steps)-1, len(durations))
	}
	for i, d := range durations {
		if d <= 0 {
			return Pipeline{}, fmt.Errorf("step %q duration must be > 0", steps[i].ID)
		}
		steps[i].Duration = d
	}
	return Pipeline{
		Steps: steps,
		Floors: []Floor{
			{Match: "synthesis", Index: 3},
			{Match: "gaps", Index: 4},
			{Match: "hypotheses", Index: 4},
		},
	}, nil
}

// Validate checks the pipeline shape.
func (p Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("pipeline has no steps")
	}
	for _, f := range p.Floors {
		if f.Index < 0 || f.Index >= len(p.Steps) {
			return fmt.Errorf("floor %q index %d out of range", f.Match, f.Index)
		}
		if strings.TrimSpace(f.Match) == "" {
			return errors.New("floor match must not be empty")
		}
	}
	return nil
}

// Last is the index of the final step.
func (p Pipeline) Last() int {
	if len(p.Steps) == 0 {
		return 0
	}
	return len(p.Steps) - 1
}

// SimulatedTotal sums every non-held step duration.
func (p Pipeline) SimulatedTotal() time.Duration {
	var total time.Duration
	for _, s := range p.Steps {
		if s.Duration == Held {
			continue
		}
		total += s.Duration
	}
	return total
}
