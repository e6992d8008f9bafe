package memory

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// ScheduleRepository adapts Store to scheduler.Repository, including the
// atomic TryClaim/Release pair overlap prevention depends on.
type ScheduleRepository struct{ store *Store }

// NewScheduleRepository constructs a ScheduleRepository backed by store.
func NewScheduleRepository(store *Store) *ScheduleRepository {
	return &ScheduleRepository{store: store}
}

func (r *ScheduleRepository) Create(ctx context.Context, entry *model.ScheduleEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.schedules[entry.ID] = *entry
	return nil
}

func (r *ScheduleRepository) Update(ctx context.Context, entry *model.ScheduleEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.schedules[entry.ID]; !ok {
		return apperrors.NewNotFound("schedule", entry.ID)
	}
	r.store.schedules[entry.ID] = *entry
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	entry, ok := r.store.schedules[id]
	if !ok {
		return nil, apperrors.NewNotFound("schedule", id)
	}
	return &entry, nil
}

func (r *ScheduleRepository) List(ctx context.Context) ([]*model.ScheduleEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*model.ScheduleEntry, 0, len(r.store.schedules))
	for _, entry := range r.store.schedules {
		entry := entry
		out = append(out, &entry)
	}
	return out, nil
}

// TryClaim atomically flips running false->true, returning false if the
// entry was already running or does not exist.
func (r *ScheduleRepository) TryClaim(ctx context.Context, id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.schedules[id]
	if !ok {
		return false, apperrors.NewNotFound("schedule", id)
	}
	if entry.Running {
		return false, nil
	}
	entry.Running = true
	r.store.schedules[id] = entry
	return true, nil
}

// Release flips running back to false. A no-op if the entry is missing or
// already released.
func (r *ScheduleRepository) Release(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.schedules[id]
	if !ok {
		return nil
	}
	entry.Running = false
	r.store.schedules[id] = entry
	return nil
}
