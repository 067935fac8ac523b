package runs

import (
	"context"
	"io"
	"time"
)

// Backend is the read-mostly surface of the job orchestrator.
type Backend interface {
	GetRun(ctx context.Context, id int64) (Run, error)
	ListArtifacts(ctx context.Context, id int64) ([]Artifact, error)
	ExecuteRun(ctx context.Context, id int64) error
}

// Directory lists and creates runs. It is only used by the CLI.
type Directory interface {
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	CreateRun(ctx context.Context, req CreateRequest) (Run, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
