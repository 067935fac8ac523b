package progress

import (
	"time"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// maxSimulatedPercent caps the time-driven bar until the backend confirms completion.
const maxSimulatedPercent = 90.0

// Snapshot is the fully materialized input to Evaluate.
type Snapshot struct {
	RunID   int64
	Status  runs.Status
	Elapsed time.Duration
	Kinds   []string
}

// StepView is the derived state of one step.
type StepView struct {
	Index       int            `json:"index"`
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Status      StepState      `json:"status"`
	Connector   ConnectorState `json:"connector,omitempty"`
}

// View is everything a rendering layer needs. It carries no mutable state.
type View struct {
	RunID          int64       `json:"run_id"`
	Status         runs.Status `json:"status"`
	CurrentStep    int         `json:"current_step"`
	CurrentLabel   string      `json:"current_label"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Percent        float64     `json:"percent"`
	Terminal       bool        `json:"terminal"`
	Steps          []StepView  `json:"steps"`
}

// Evaluate reduces a snapshot into a View. Identical snapshots produce
// identical views.
func (p Pipeline) Evaluate(s Snapshot) View {
	current := p.CurrentStep(s.Elapsed, s.Kinds, s.Status)
	steps := make([]StepView, len(p.Steps))
	for i, step := range p.Steps {
		sv := StepView{
			Index:       i,
			ID:          step.ID,
			Label:       step.Label,
			Description: step.Description,
			Status:      StepStatus(i, current, s.Status),
		}
		if i < len(p.Steps)-1 {
			sv.Connector = Connector(i, current, s.Status)
		}
		steps[i] = sv
	}
	v := View{
		RunID:       s.RunID,
		Status:      s.Status,
		CurrentStep: current,
		Percent:     p.percent(s),
		Terminal:    s.Status.Terminal(),
		Steps:       steps,
	}
	if s.Elapsed > 0 {
		v.ElapsedSeconds = s.Elapsed.Seconds()
	}
	if current < len(p.Steps) {
		v.CurrentLabel = p.Steps[current].Label
	}
	return v
}

func (p Pipeline) percent(s Snapshot) float64 {
	if s.Status == runs.StatusCompleted {
		return 100
	}
	total := p.SimulatedTotal()
	if s.Elapsed <= 0 || total <= 0 {
		return 0
	}
	pct := s.Elapsed.Seconds() / total.Seconds() * maxSimulatedPercent
	if pct > maxSimulatedPercent {
		return maxSimulatedPercent
	}
	return pct
}
