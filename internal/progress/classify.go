package progress

import "github.com/JakeFAU/runwatch/internal/runs"

// StepState is the rendered state of a single step.
type StepState string

// Step states.
const (
	StepCompleted StepState = "completed"
	StepRunning   StepState = "running"
	StepPending   StepState = "pending"
	StepFailed    StepState = "failed"
)

// ConnectorState is the emphasis of the connector between step i and i+1.
type ConnectorState string

// Connector states. Failed is the global failure palette.
const (
	ConnectorDone   ConnectorState = "done"
	ConnectorActive ConnectorState = "active"
	ConnectorIdle   ConnectorState = "idle"
	ConnectorFailed ConnectorState = "failed"
)

// StepStatus classifies step i given the current step and run status.
// A failed run fails every step; a completed run completes every step.
func StepStatus(i, current int, status runs.Status) StepState {
	switch status {
	case runs.StatusFailed:
		return StepFailed
	case runs.StatusCompleted:
		return StepCompleted
	}
	switch {
	case i < current:
		return StepCompleted
	case i == current:
		return StepRunning
	default:
		return StepPending
	}
}

// Connector classifies the connector following step i. The edge between the
// last completed step and the running one is the only active connector.
func Connector(i, current int, status runs.Status) ConnectorState {
	switch status {
	case runs.StatusFailed:
		return ConnectorFailed
	case runs.StatusCompleted:
		return ConnectorDone
	}
	switch {
	case i < current-1:
		return ConnectorDone
	case i == current-1:
		return ConnectorActive
	default:
		return ConnectorIdle
	}
}
