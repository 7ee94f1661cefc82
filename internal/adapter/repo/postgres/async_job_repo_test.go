package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/domain"
)

func TestAsyncJobRepo_CreateGetUpdateStatus(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAsyncJobRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO async_jobs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	created, err := repo.Create(ctx, domain.AsyncJob{PrincipalID: "p1", Status: domain.JobPending, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, created.JobID)

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"job_id", "principal_id", "status", "payload", "result", "error", "created_at", "updated_at"}).
		AddRow(created.JobID, "p1", string(domain.JobPending), []byte(`{}`), []byte(`{}`), nil, fixed, fixed)
	m.ExpectQuery(`FROM async_jobs WHERE job_id=\$1`).
		WithArgs(created.JobID).
		WillReturnRows(rows)
	got, err := repo.Get(ctx, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status)

	m.ExpectQuery(`FROM async_jobs WHERE job_id=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(ctx, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	m.ExpectExec("UPDATE async_jobs SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateStatus(ctx, created.JobID, domain.JobCompleted, json.RawMessage(`{"ok":true}`), nil))

	require.NoError(t, m.ExpectationsWereMet())
}

func TestAsyncJobRepo_ListStuck(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAsyncJobRepo(m)
	ctx := context.Background()

	cutoff := time.Now().UTC()
	stale := cutoff.Add(-time.Hour)
	rows := pgxmock.NewRows([]string{"job_id", "principal_id", "status", "payload", "result", "error", "created_at", "updated_at"}).
		AddRow("job-1", "p1", string(domain.JobRunning), []byte(`{}`), []byte(`{}`), nil, stale, stale)
	m.ExpectQuery(`FROM async_jobs WHERE status=\$1 AND updated_at < \$2`).
		WithArgs(domain.JobRunning, cutoff, 0, 100).
		WillReturnRows(rows)

	jobs, err := repo.ListStuck(ctx, domain.JobRunning, cutoff, 0, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)

	require.NoError(t, m.ExpectationsWereMet())
}
