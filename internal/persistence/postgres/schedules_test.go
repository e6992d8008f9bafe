package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*ScheduleRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return NewScheduleRepository(db), mock
}

func TestScheduleRepositoryTryClaimSucceedsWhenNotRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE schedules SET running=true WHERE id=\$1 AND NOT running`).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.TryClaim(context.Background(), "sched-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryTryClaimFailsWhenAlreadyRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE schedules SET running=true WHERE id=\$1 AND NOT running`).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.TryClaim(context.Background(), "sched-1")
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryRelease(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE schedules SET running=false WHERE id=\$1`).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Release(context.Background(), "sched-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
