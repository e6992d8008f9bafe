package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// ScheduleRepository is the Postgres-backed implementation of
// scheduler.Repository, including the overlap-prevention TryClaim/Release
// pair expressed as a conditional UPDATE rather than the in-memory
// adapter's mutex-guarded compare-and-set.
type ScheduleRepository struct{ db *sqlx.DB }

// NewScheduleRepository constructs a ScheduleRepository backed by db.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository { return &ScheduleRepository{db: db} }

func (r *ScheduleRepository) Create(ctx context.Context, entry *model.ScheduleEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, test_id, cron, timezone, enabled, running, last_run_ts, next_run_ts,
			total, success, failure, missed, last_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ID, entry.TestID, entry.Cron, entry.Timezone, entry.Enabled, entry.Running,
		nullTime(entry.LastRunTS), nullTime(entry.NextRunTS), entry.Total, entry.Success, entry.Failure,
		entry.Missed, nullIfEmpty(string(entry.LastStatus)))
	if err != nil {
		return apperrors.NewTransientInfra("insert schedule", err)
	}
	return nil
}

func (r *ScheduleRepository) Update(ctx context.Context, entry *model.ScheduleEntry) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET test_id=$2, cron=$3, timezone=$4, enabled=$5, running=$6, last_run_ts=$7,
			next_run_ts=$8, total=$9, success=$10, failure=$11, missed=$12, last_status=$13
		WHERE id=$1
	`, entry.ID, entry.TestID, entry.Cron, entry.Timezone, entry.Enabled, entry.Running,
		nullTime(entry.LastRunTS), nullTime(entry.NextRunTS), entry.Total, entry.Success, entry.Failure,
		entry.Missed, nullIfEmpty(string(entry.LastStatus)))
	if err != nil {
		return apperrors.NewTransientInfra("update schedule", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFound("schedule", entry.ID)
	}
	return nil
}

type scheduleRow struct {
	ID         string         `db:"id"`
	TestID     string         `db:"test_id"`
	Cron       string         `db:"cron"`
	Timezone   string         `db:"timezone"`
	Enabled    bool           `db:"enabled"`
	Running    bool           `db:"running"`
	LastRunTS  sql.NullTime   `db:"last_run_ts"`
	NextRunTS  sql.NullTime   `db:"next_run_ts"`
	Total      int            `db:"total"`
	Success    int            `db:"success"`
	Failure    int            `db:"failure"`
	Missed     int            `db:"missed"`
	LastStatus sql.NullString `db:"last_status"`
}

func (row scheduleRow) toModel() *model.ScheduleEntry {
	return &model.ScheduleEntry{
		ID: row.ID, TestID: row.TestID, Cron: row.Cron, Timezone: row.Timezone,
		Enabled: row.Enabled, Running: row.Running, LastRunTS: row.LastRunTS.Time, NextRunTS: row.NextRunTS.Time,
		Total: row.Total, Success: row.Success, Failure: row.Failure, Missed: row.Missed,
		LastStatus: model.RunStatus(row.LastStatus.String),
	}
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	var row scheduleRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, test_id, cron, timezone, enabled, running, last_run_ts, next_run_ts,
			total, success, failure, missed, last_status
		FROM schedules WHERE id=$1
	`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("schedule", id)
	}
	if err != nil {
		return nil, apperrors.NewTransientInfra("get schedule", err)
	}
	return row.toModel(), nil
}

func (r *ScheduleRepository) List(ctx context.Context) ([]*model.ScheduleEntry, error) {
	var rows []scheduleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, test_id, cron, timezone, enabled, running, last_run_ts, next_run_ts,
			total, success, failure, missed, last_status
		FROM schedules
	`)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list schedules", err)
	}
	out := make([]*model.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// TryClaim atomically flips running false->true via a conditional UPDATE;
// a zero rows-affected result means either the row doesn't exist or is
// already claimed, both of which report false rather than an error so the
// scheduler's tick simply skips the entry.
func (r *ScheduleRepository) TryClaim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET running=true WHERE id=$1 AND NOT running
	`, id)
	if err != nil {
		return false, apperrors.NewTransientInfra("claim schedule", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Release flips running back to false. A no-op if the entry is missing.
func (r *ScheduleRepository) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE schedules SET running=false WHERE id=$1`, id)
	if err != nil {
		return apperrors.NewTransientInfra("release schedule", err)
	}
	return nil
}

func nullTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}
