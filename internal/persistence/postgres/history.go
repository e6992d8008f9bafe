package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// HistoryRepository is the Postgres-backed implementation of
// history.Repository / flaky.HistorySource, covering run_history,
// failure_patterns and quality_snapshots.
type HistoryRepository struct{ db *sqlx.DB }

// NewHistoryRepository constructs a HistoryRepository backed by db.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository { return &HistoryRepository{db: db} }

func (r *HistoryRepository) AppendHistory(ctx context.Context, rec *model.RunHistory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_history (run_id, test_name, status, duration_ms, failure_type, error_signature,
			browser, environment, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id) DO NOTHING
	`, rec.RunID, rec.TestName, rec.Status, rec.DurationMs, nullIfEmpty(string(rec.FailureType)),
		rec.ErrorSignature, rec.Browser, rec.Environment, rec.ExecutedAt)
	if err != nil {
		return apperrors.NewTransientInfra("append run history", err)
	}
	return nil
}

type historyRow struct {
	RunID          string         `db:"run_id"`
	TestName       string         `db:"test_name"`
	Status         string         `db:"status"`
	DurationMs     int64          `db:"duration_ms"`
	FailureType    sql.NullString `db:"failure_type"`
	ErrorSignature string         `db:"error_signature"`
	Browser        string         `db:"browser"`
	Environment    string         `db:"environment"`
	ExecutedAt     time.Time      `db:"executed_at"`
}

func (row historyRow) toModel() *model.RunHistory {
	return &model.RunHistory{
		RunID: row.RunID, TestName: row.TestName, Status: model.RunStatus(row.Status),
		DurationMs: row.DurationMs, FailureType: model.FailureCategory(row.FailureType.String),
		ErrorSignature: row.ErrorSignature, Browser: model.BrowserKind(row.Browser),
		Environment: row.Environment, ExecutedAt: row.ExecutedAt,
	}
}

func (r *HistoryRepository) ListHistory(ctx context.Context, from, to time.Time) ([]*model.RunHistory, error) {
	var rows []historyRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, test_name, status, duration_ms, failure_type, error_signature, browser, environment, executed_at
		FROM run_history
		WHERE executed_at >= $1 AND executed_at < $2
		ORDER BY executed_at
	`, from, to)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list run history", err)
	}
	out := make([]*model.RunHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *HistoryRepository) UpsertPattern(ctx context.Context, testName, signature string, category model.FailureCategory, occurredAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failure_patterns (test_name, error_signature, category, occurrences, first_seen, last_seen, impact_score, resolved)
		VALUES ($1,$2,$3,1,$4,$4,1,false)
		ON CONFLICT (test_name, error_signature) DO UPDATE SET
			occurrences = failure_patterns.occurrences + 1,
			last_seen = $4,
			impact_score = failure_patterns.occurrences + 1
	`, testName, signature, category, occurredAt)
	if err != nil {
		return apperrors.NewTransientInfra("upsert failure pattern", err)
	}
	return nil
}

type patternRow struct {
	TestName       string    `db:"test_name"`
	ErrorSignature string    `db:"error_signature"`
	Category       string    `db:"category"`
	Occurrences    int       `db:"occurrences"`
	FirstSeen      time.Time `db:"first_seen"`
	LastSeen       time.Time `db:"last_seen"`
	ImpactScore    float64   `db:"impact_score"`
	Resolved       bool      `db:"resolved"`
}

func (r *HistoryRepository) ListPatterns(ctx context.Context) ([]*model.FailurePattern, error) {
	var rows []patternRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT test_name, error_signature, category, occurrences, first_seen, last_seen, impact_score, resolved
		FROM failure_patterns
		ORDER BY occurrences DESC
	`)
	if err != nil {
		return nil, apperrors.NewTransientInfra("list failure patterns", err)
	}
	out := make([]*model.FailurePattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, &model.FailurePattern{
			TestName: row.TestName, ErrorSignature: row.ErrorSignature, Category: model.FailureCategory(row.Category),
			Occurrences: row.Occurrences, FirstSeen: row.FirstSeen, LastSeen: row.LastSeen,
			ImpactScore: row.ImpactScore, Resolved: row.Resolved,
		})
	}
	return out, nil
}

func (r *HistoryRepository) PutSnapshot(ctx context.Context, snap *model.QualitySnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quality_snapshots (date, total_all, total_active, total_stable, total_flaky, total_failing,
			avg_pass_rate, avg_flakiness_score, overall_health_score, total_executions, avg_execution_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (date) DO UPDATE SET
			total_all=$2, total_active=$3, total_stable=$4, total_flaky=$5, total_failing=$6,
			avg_pass_rate=$7, avg_flakiness_score=$8, overall_health_score=$9, total_executions=$10, avg_execution_ms=$11
	`, snap.Date, snap.TotalAll, snap.TotalActive, snap.TotalStable, snap.TotalFlaky, snap.TotalFailing,
		snap.AvgPassRate, snap.AvgFlakinessScore, snap.OverallHealthScore, snap.TotalExecutions, snap.AvgExecutionMs)
	if err != nil {
		return apperrors.NewTransientInfra("put quality snapshot", err)
	}
	return nil
}
