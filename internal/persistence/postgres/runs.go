package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// RunRepository is the Postgres-backed implementation of
// orchestrator.RunRepository.
type RunRepository struct{ db *sqlx.DB }

// NewRunRepository constructs a RunRepository backed by db.
func NewRunRepository(db *sqlx.DB) *RunRepository { return &RunRepository{db: db} }

func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, test_id, status, browser, environment, start_ts, end_ts, duration_ms,
			retry_count, failure_category, error_summary, artifact_refs, log_ref, triggered_by, schedule_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, run.ID, run.TestID, run.Status, run.Browser, run.Environment, run.StartTS, run.EndTS, run.DurationMs,
		run.RetryCount, categoryOrNil(run.FailureCategory), run.ErrorSummary, pq.Array(run.ArtifactRefs), run.LogRef,
		run.TriggeredBy, nullIfEmpty(run.ScheduleID))
	if err != nil {
		return apperrors.NewTransientInfra("insert run", err)
	}
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *model.Run) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status=$2, end_ts=$3, duration_ms=$4, retry_count=$5, failure_category=$6,
			error_summary=$7, artifact_refs=$8, log_ref=$9
		WHERE id=$1
	`, run.ID, run.Status, run.EndTS, run.DurationMs, run.RetryCount, categoryOrNil(run.FailureCategory),
		run.ErrorSummary, pq.Array(run.ArtifactRefs), run.LogRef)
	if err != nil {
		return apperrors.NewTransientInfra("update run", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound("run", run.ID)
	}
	return nil
}

type runRow struct {
	ID              string         `db:"id"`
	TestID          string         `db:"test_id"`
	Status          string         `db:"status"`
	Browser         string         `db:"browser"`
	Environment     string         `db:"environment"`
	StartTS         sql.NullTime   `db:"start_ts"`
	EndTS           sql.NullTime   `db:"end_ts"`
	DurationMs      int64          `db:"duration_ms"`
	RetryCount      int            `db:"retry_count"`
	FailureCategory sql.NullString `db:"failure_category"`
	ErrorSummary    string         `db:"error_summary"`
	ArtifactRefs    pq.StringArray `db:"artifact_refs"`
	LogRef          string         `db:"log_ref"`
	TriggeredBy     string         `db:"triggered_by"`
	ScheduleID      sql.NullString `db:"schedule_id"`
}

func (row runRow) toModel() *model.Run {
	run := &model.Run{
		ID: row.ID, TestID: row.TestID, Status: model.RunStatus(row.Status),
		Browser: model.BrowserKind(row.Browser), Environment: row.Environment,
		StartTS: row.StartTS.Time, DurationMs: row.DurationMs, RetryCount: row.RetryCount,
		ErrorSummary: row.ErrorSummary, ArtifactRefs: []string(row.ArtifactRefs), LogRef: row.LogRef,
		TriggeredBy: model.TriggerSource(row.TriggeredBy),
	}
	if row.EndTS.Valid {
		t := row.EndTS.Time
		run.EndTS = &t
	}
	if row.FailureCategory.Valid {
		cat := model.FailureCategory(row.FailureCategory.String)
		run.FailureCategory = &cat
	}
	if row.ScheduleID.Valid {
		run.ScheduleID = row.ScheduleID.String
	}
	return run
}

func (r *RunRepository) Get(ctx context.Context, id string) (*model.Run, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, test_id, status, browser, environment, start_ts, end_ts, duration_ms, retry_count,
			failure_category, error_summary, artifact_refs, log_ref, triggered_by, schedule_id
		FROM runs WHERE id=$1
	`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("run", id)
	}
	if err != nil {
		return nil, apperrors.NewTransientInfra("get run", err)
	}
	return row.toModel(), nil
}

func (r *RunRepository) ListByTest(ctx context.Context, testID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, test_id, status, browser, environment, start_ts, end_ts, duration_ms, retry_count,
			failure_category, error_summary, artifact_refs, log_ref, triggered_by, schedule_id
		FROM runs WHERE ($1 = '' OR test_id = $1)
		ORDER BY start_ts DESC
		LIMIT $2
	`, testID, limit)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list runs", err)
	}
	out := make([]*model.Run, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func categoryOrNil(c *model.FailureCategory) any {
	if c == nil {
		return nil
	}
	return string(*c)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
