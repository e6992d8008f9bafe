package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// AgentRepository is the Postgres-backed implementation of
// api.AgentStore, splitting an AgentExecution across agent_runs (the
// header row) and agent_actions (its append-only action log).
type AgentRepository struct{ db *sqlx.DB }

// NewAgentRepository constructs an AgentRepository backed by db.
func NewAgentRepository(db *sqlx.DB) *AgentRepository { return &AgentRepository{db: db} }

func (r *AgentRepository) Put(ctx context.Context, exec *model.AgentExecution) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewTransientInfra("begin agent execution tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_runs (id, agent_kind, status, goal, current_iter, max_iter, started_at, completed_at, total_cost)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status=$3, current_iter=$5, completed_at=$8, total_cost=$9
	`, exec.ID, exec.AgentKind, exec.Status, exec.Goal, exec.CurrentIter, exec.MaxIter, exec.StartedAt,
		exec.CompletedAt, exec.TotalCost)
	if err != nil {
		return apperrors.NewTransientInfra("upsert agent run", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_actions WHERE agent_id=$1`, exec.ID); err != nil {
		return apperrors.NewTransientInfra("clear agent actions", err)
	}
	for _, entry := range exec.ActionLog {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_actions (agent_id, iteration, kind, input, output, err, cost, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, exec.ID, entry.Iteration, entry.Kind, entry.Input, entry.Output, nullIfEmpty(entry.Err), entry.Cost, entry.Timestamp)
		if err != nil {
			return apperrors.NewTransientInfra("insert agent action", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewTransientInfra("commit agent execution tx", err)
	}
	return nil
}

type agentRunRow struct {
	ID          string       `db:"id"`
	AgentKind   string       `db:"agent_kind"`
	Status      string       `db:"status"`
	Goal        string       `db:"goal"`
	CurrentIter int          `db:"current_iter"`
	MaxIter     int          `db:"max_iter"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	TotalCost   float64      `db:"total_cost"`
}

type agentActionRow struct {
	Iteration  int            `db:"iteration"`
	Kind       string         `db:"kind"`
	Input      string         `db:"input"`
	Output     string         `db:"output"`
	Err        sql.NullString `db:"err"`
	Cost       float64        `db:"cost"`
	OccurredAt time.Time      `db:"occurred_at"`
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*model.AgentExecution, error) {
	var runRow agentRunRow
	err := r.db.GetContext(ctx, &runRow, `
		SELECT id, agent_kind, status, goal, current_iter, max_iter, started_at, completed_at, total_cost
		FROM agent_runs WHERE id=$1
	`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("agent_execution", id)
	}
	if err != nil {
		return nil, apperrors.NewTransientInfra("get agent run", err)
	}

	var actionRows []agentActionRow
	err = r.db.SelectContext(ctx, &actionRows, `
		SELECT iteration, kind, input, output, err, cost, occurred_at
		FROM agent_actions WHERE agent_id=$1 ORDER BY iteration, occurred_at
	`, id)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list agent actions", err)
	}

	return toAgentExecution(runRow, actionRows), nil
}

func (r *AgentRepository) List(ctx context.Context) ([]*model.AgentExecution, error) {
	var runRows []agentRunRow
	err := r.db.SelectContext(ctx, &runRows, `
		SELECT id, agent_kind, status, goal, current_iter, max_iter, started_at, completed_at, total_cost
		FROM agent_runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list agent runs", err)
	}
	out := make([]*model.AgentExecution, 0, len(runRows))
	for _, runRow := range runRows {
		var actionRows []agentActionRow
		err := r.db.SelectContext(ctx, &actionRows, `
			SELECT iteration, kind, input, output, err, cost, occurred_at
			FROM agent_actions WHERE agent_id=$1 ORDER BY iteration, occurred_at
		`, runRow.ID)
		if err != nil {
			return nil, apperrors.NewTransientInfra("list agent actions", err)
		}
		out = append(out, toAgentExecution(runRow, actionRows))
	}
	return out, nil
}

func toAgentExecution(runRow agentRunRow, actionRows []agentActionRow) *model.AgentExecution {
	exec := &model.AgentExecution{
		ID: runRow.ID, AgentKind: runRow.AgentKind, Status: model.AgentStatus(runRow.Status),
		Goal: runRow.Goal, CurrentIter: runRow.CurrentIter, MaxIter: runRow.MaxIter,
		StartedAt: runRow.StartedAt, TotalCost: runRow.TotalCost,
	}
	if runRow.CompletedAt.Valid {
		t := runRow.CompletedAt.Time
		exec.CompletedAt = &t
	}
	for _, a := range actionRows {
		exec.ActionLog = append(exec.ActionLog, model.ActionLogEntry{
			Iteration: a.Iteration, Kind: a.Kind, Input: a.Input, Output: a.Output,
			Err: a.Err.String, Cost: a.Cost, Timestamp: a.OccurredAt,
		})
	}
	return exec
}
