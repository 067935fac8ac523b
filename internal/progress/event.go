package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Stage denotes the kind of transition represented by an Event.
type Stage string

// Supported event stages.
const (
	StageStatusChanged Stage = "STATUS_CHANGED"
	StageStepAdvanced  Stage = "STEP_ADVANCED"
	StageRunTerminal   Stage = "RUN_TERMINAL"
	StageAnchorSet     Stage = "ANCHOR_SET"
	StageAnchorCleared Stage = "ANCHOR_CLEARED"
	StageFetchFailed   Stage = "FETCH_FAILED"
)

// Event captures a single observed transition for a tracked run.
type Event struct {
	// RunID identifies the backend run.
	RunID int64 `json:"run_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which transition occurred.
	Stage Stage `json:"stage"`
	// Status is the run status at the time of the event.
	Status runs.Status `json:"status"`
	// Step is the current step index after the transition.
	Step int `json:"step"`
	// Resource names the polled resource for fetch failures ("run", "artifacts").
	Resource string `json:"resource,omitempty"`
	// Elapsed is the time since the execution anchor, zero when unknown.
	Elapsed time.Duration `json:"elapsed"`
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID <= 0 {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageStatusChanged, StageStepAdvanced, StageAnchorSet, StageAnchorCleared:
	case StageRunTerminal:
		if !e.Status.Terminal() {
			return fmt.Errorf("terminal event with non-terminal status %q", e.Status)
		}
	case StageFetchFailed:
		if e.Resource == "" {
			return errors.New("fetch failure requires resource")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Step < 0 {
		return errors.New("step must be >= 0")
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}
