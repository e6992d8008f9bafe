package scheduler

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
)

// Repository is the persistence port the Scheduler reads/writes
// ScheduleEntry rows through.
type Repository interface {
	Create(ctx context.Context, entry *model.ScheduleEntry) error
	Update(ctx context.Context, entry *model.ScheduleEntry) error
	Get(ctx context.Context, id string) (*model.ScheduleEntry, error)
	List(ctx context.Context) ([]*model.ScheduleEntry, error)
	// TryClaim atomically sets running=true and returns true iff the entry
	// was not already running, so two overlapping ticks can never both
	// submit the same entry (overlap prevention, §4.F).
	TryClaim(ctx context.Context, id string) (bool, error)
	// Release clears running, independent of the terminal run's outcome.
	Release(ctx context.Context, id string) error
}

// Submitter is the narrow slice of the Execution Orchestrator the
// Scheduler drives jobs through — satisfied directly by
// *orchestrator.Orchestrator.
type Submitter interface {
	Submit(ctx context.Context, testID string, opts orchestrator.SubmitOptions) (*model.Run, error)
	Observe(obs orchestrator.Observer)
}
