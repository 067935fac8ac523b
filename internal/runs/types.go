package runs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the coarse lifecycle state the backend reports for a run.
type Status string

// Run status values reported by the orchestrator.
const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along created -> running -> terminal. Unknown values
// rank with created since the backend only reports them before execution.
func (s Status) Rank() int {
	switch s {
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return 0
	}
}

// Run mirrors the backend run record. The core only ever reads it.
type Run struct {
	ID              int64     `json:"id" validate:"required,gt=0"`
	Topic           string    `json:"topic" validate:"required"`
	Status          Status    `json:"status" validate:"required"`
	UploadedSources bool      `json:"upload_papers"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Artifact is one typed output produced by a backend stage.
type Artifact struct {
	ID        ArtifactID `json:"id"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// ArtifactID is an opaque identifier. The backend emits integers today but
// the contract is a string, so both JSON forms decode into it.
type ArtifactID string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ArtifactID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode artifact id: %w", err)
		}
		*id = ArtifactID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode artifact id: %w", err)
	}
	*id = ArtifactID(n.String())
	return nil
}

// Kinds projects the artifact kinds in backend order.
func Kinds(artifacts []Artifact) []string {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.Kind)
	}
	return out
}

// ParseID converts a textual run identifier into the numeric form the backend uses.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", raw)
	}
	return id, nil
}

// CreateRequest is the payload for creating a run.
type CreateRequest struct {
	Topic string `json:"topic" validate:"required,min=3,max=300"`
	Notes string `json:"notes,omitempty"`
}
