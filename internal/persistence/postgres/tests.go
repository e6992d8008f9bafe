package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// TestRepository is the Postgres-backed implementation of api.TestStore /
// orchestrator.TestRepository, grounded on the teacher's
// packages/com.r3e.services.automation store_postgres.go query shape.
type TestRepository struct{ db *sqlx.DB }

// NewTestRepository constructs a TestRepository backed by db.
func NewTestRepository(db *sqlx.DB) *TestRepository { return &TestRepository{db: db} }

func (r *TestRepository) Create(ctx context.Context, test *model.Test) error {
	script, err := json.Marshal(test.Script)
	if err != nil {
		return apperrors.NewInternal("marshal script", test.ID, err)
	}
	prefs, err := json.Marshal(test.NotificationPrefs)
	if err != nil {
		return apperrors.NewInternal("marshal notification prefs", test.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tests (id, name, framework, script, active, priority, notification_prefs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, test.ID, test.Name, test.Framework, script, test.Active, test.Priority, prefs, test.CreatedAt, test.UpdatedAt)
	if err != nil {
		return apperrors.NewTransientInfra("insert test", err)
	}
	return nil
}

func (r *TestRepository) Update(ctx context.Context, test *model.Test) error {
	script, err := json.Marshal(test.Script)
	if err != nil {
		return apperrors.NewInternal("marshal script", test.ID, err)
	}
	prefs, err := json.Marshal(test.NotificationPrefs)
	if err != nil {
		return apperrors.NewInternal("marshal notification prefs", test.ID, err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE tests SET name=$2, framework=$3, script=$4, active=$5, priority=$6, notification_prefs=$7, updated_at=$8
		WHERE id=$1
	`, test.ID, test.Name, test.Framework, script, test.Active, test.Priority, prefs, test.UpdatedAt)
	if err != nil {
		return apperrors.NewTransientInfra("update test", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound("test", test.ID)
	}
	return nil
}

func (r *TestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id)
	if err != nil {
		return apperrors.NewTransientInfra("delete test", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound("test", id)
	}
	return nil
}

type testRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Framework         string         `db:"framework"`
	Script            []byte         `db:"script"`
	Active            bool           `db:"active"`
	Priority          int            `db:"priority"`
	NotificationPrefs []byte         `db:"notification_prefs"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	UpdatedAt         sql.NullTime   `db:"updated_at"`
}

func (row testRow) toModel() (*model.Test, error) {
	test := &model.Test{
		ID: row.ID, Name: row.Name, Framework: model.Framework(row.Framework),
		Active: row.Active, Priority: row.Priority,
		CreatedAt: row.CreatedAt.Time, UpdatedAt: row.UpdatedAt.Time,
	}
	if err := json.Unmarshal(row.Script, &test.Script); err != nil {
		return nil, apperrors.NewInternal("unmarshal script", row.ID, err)
	}
	if len(row.NotificationPrefs) > 0 {
		if err := json.Unmarshal(row.NotificationPrefs, &test.NotificationPrefs); err != nil {
			return nil, apperrors.NewInternal("unmarshal notification prefs", row.ID, err)
		}
	}
	return test, nil
}

func (r *TestRepository) Get(ctx context.Context, id string) (*model.Test, error) {
	var row testRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, name, framework, script, active, priority, notification_prefs, created_at, updated_at
		FROM tests WHERE id=$1
	`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("test", id)
	}
	if err != nil {
		return nil, apperrors.NewTransientInfra("get test", err)
	}
	return row.toModel()
}

func (r *TestRepository) List(ctx context.Context, activeOnly bool) ([]*model.Test, error) {
	var rows []testRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, name, framework, script, active, priority, notification_prefs, created_at, updated_at
		FROM tests WHERE (NOT $1) OR active
		ORDER BY created_at
	`, activeOnly)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list tests", err)
	}
	out := make([]*model.Test, 0, len(rows))
	for _, row := range rows {
		test, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, test)
	}
	return out, nil
}
