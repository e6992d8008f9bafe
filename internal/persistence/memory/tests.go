package memory

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// TestRepository adapts Store to orchestrator.TestRepository plus the
// wider CRUD surface the in-process api.Core exposes for test management.
type TestRepository struct{ store *Store }

// NewTestRepository constructs a TestRepository backed by store.
func NewTestRepository(store *Store) *TestRepository { return &TestRepository{store: store} }

func (r *TestRepository) Create(ctx context.Context, test *model.Test) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.tests[test.ID] = *test
	return nil
}

func (r *TestRepository) Update(ctx context.Context, test *model.Test) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tests[test.ID]; !ok {
		return apperrors.NewNotFound("test", test.ID)
	}
	r.store.tests[test.ID] = *test
	return nil
}

func (r *TestRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tests[id]; !ok {
		return apperrors.NewNotFound("test", id)
	}
	delete(r.store.tests, id)
	return nil
}

func (r *TestRepository) Get(ctx context.Context, id string) (*model.Test, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	test, ok := r.store.tests[id]
	if !ok {
		return nil, apperrors.NewNotFound("test", id)
	}
	return &test, nil
}

func (r *TestRepository) List(ctx context.Context, activeOnly bool) ([]*model.Test, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*model.Test
	for _, test := range r.store.tests {
		test := test
		if !activeOnly || test.Active {
			out = append(out, &test)
		}
	}
	return out, nil
}
