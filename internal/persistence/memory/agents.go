package memory

import (
	"context"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// AgentRepository adapts Store to the in-process api.Core's agent-execution
// bookkeeping (the Fix Agent loop itself is stateless between calls; this
// just persists the AgentExecution record it returns).
type AgentRepository struct{ store *Store }

// NewAgentRepository constructs an AgentRepository backed by store.
func NewAgentRepository(store *Store) *AgentRepository {
	return &AgentRepository{store: store}
}

func (r *AgentRepository) Put(ctx context.Context, exec *model.AgentExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.agents[exec.ID] = *exec
	return nil
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*model.AgentExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	exec, ok := r.store.agents[id]
	if !ok {
		return nil, apperrors.NewNotFound("agent_execution", id)
	}
	return &exec, nil
}

func (r *AgentRepository) List(ctx context.Context) ([]*model.AgentExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*model.AgentExecution, 0, len(r.store.agents))
	for _, exec := range r.store.agents {
		exec := exec
		out = append(out, &exec)
	}
	return out, nil
}
