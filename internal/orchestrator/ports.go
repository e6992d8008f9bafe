package orchestrator

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// RunRepository is the persistence port the Orchestrator writes Run state
// through. The in-memory and Postgres-backed adapters both implement it.
type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	Update(ctx context.Context, run *model.Run) error
	Get(ctx context.Context, id string) (*model.Run, error)
	ListByTest(ctx context.Context, testID string, limit int) ([]*model.Run, error)
}

// TestRepository is the read port for fetching a Test's script payload.
type TestRepository interface {
	Get(ctx context.Context, id string) (*model.Test, error)
}

// ArtifactSink is the narrow slice of the Artifact Store the Orchestrator
// needs to capture logs and screenshots against a Run.
type ArtifactSink interface {
	PutLog(runID string, content []byte) (string, error)
	PutScreenshot(runID string, seq int, content []byte) (string, error)
}
