package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/domain"
)

func TestToolPolicyRepo_EffectiveFound(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewToolPolicyRepo(m)

	rows := pgxmock.NewRows([]string{"policy"}).AddRow(string(domain.ToolPolicyConfirm))
	m.ExpectQuery(`SELECT policy FROM tool_policies`).
		WithArgs("delete_file", "p1").
		WillReturnRows(rows)
	policy, err := repo.Effective(context.Background(), "delete_file", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ToolPolicyConfirm, policy)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestToolPolicyRepo_EffectiveDefaultsToAuto(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewToolPolicyRepo(m)

	m.ExpectQuery(`SELECT policy FROM tool_policies`).
		WithArgs("search", "p1").
		WillReturnError(pgx.ErrNoRows)
	policy, err := repo.Effective(context.Background(), "search", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ToolPolicyAuto, policy)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestToolPolicyRepo_Upsert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewToolPolicyRepo(m)

	m.ExpectExec("INSERT INTO tool_policies").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Upsert(context.Background(), domain.ToolPolicy{ToolName: "search", Policy: domain.ToolPolicyAuto}))
	require.NoError(t, m.ExpectationsWereMet())
}
