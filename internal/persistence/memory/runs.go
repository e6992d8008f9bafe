package memory

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// RunRepository adapts Store to orchestrator.RunRepository.
type RunRepository struct{ store *Store }

// NewRunRepository constructs a RunRepository backed by store.
func NewRunRepository(store *Store) *RunRepository { return &RunRepository{store: store} }

func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.runs[run.ID] = *run
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *model.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.runs[run.ID]; !ok {
		return apperrors.NewNotFound("run", run.ID)
	}
	r.store.runs[run.ID] = *run
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*model.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[id]
	if !ok {
		return nil, apperrors.NewNotFound("run", id)
	}
	return &run, nil
}

func (r *RunRepository) ListByTest(ctx context.Context, testID string, limit int) ([]*model.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*model.Run
	for _, run := range r.store.runs {
		run := run
		if testID == "" || run.TestID == testID {
			out = append(out, &run)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
