package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/domain"
)

func TestCredentialRepo_ResolveByOpaqueKey(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewCredentialRepo(m)
	ctx := context.Background()

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "principal_id", "opaque_key", "label", "status", "last_used", "created_at",
		"display_name", "status", "rpm_limit", "token_quota", "token_used", "is_admin", "created_at"}).
		AddRow("cred1", "p1", "sk-live", "default", string(domain.CredentialActive), nil, fixed,
			"alice", string(domain.PrincipalActive), 60, int64(1000), int64(0), false, fixed)
	m.ExpectQuery(`FROM credentials c JOIN principals p ON p.id = c.principal_id`).
		WithArgs("sk-live").
		WillReturnRows(rows)
	cred, principal, err := repo.ResolveByOpaqueKey(ctx, "sk-live")
	require.NoError(t, err)
	assert.Equal(t, "p1", cred.PrincipalID)
	assert.Equal(t, "p1", principal.ID)
	assert.Equal(t, "alice", principal.DisplayName)

	m.ExpectQuery(`FROM credentials c JOIN principals p ON p.id = c.principal_id`).
		WithArgs("bad-key").
		WillReturnError(pgx.ErrNoRows)
	_, _, err = repo.ResolveByOpaqueKey(ctx, "bad-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthFailure)

	require.NoError(t, m.ExpectationsWereMet())
}

func TestCredentialRepo_Revoke(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewCredentialRepo(m)

	m.ExpectExec("UPDATE credentials SET status").
		WithArgs("cred1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Revoke(context.Background(), "cred1"))
	require.NoError(t, m.ExpectationsWereMet())
}
