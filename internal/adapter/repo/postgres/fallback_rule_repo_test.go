package postgres_test

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowart/gateway/internal/adapter/repo/postgres"
	"github.com/lowart/gateway/internal/domain"
)

func TestFallbackRuleRepo_ListByPrimaryAndUpsert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewFallbackRuleRepo(m)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{"primary_model", "fallback_model", "priority"}).
		AddRow("gpt-4o", "gpt-4o-mini", 1).
		AddRow("gpt-4o", "claude-3", 2)
	m.ExpectQuery(`SELECT primary_model, fallback_model, priority FROM fallback_rules WHERE primary_model=\$1`).
		WithArgs("gpt-4o").
		WillReturnRows(rows)
	rules, err := repo.ListByPrimary(ctx, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "gpt-4o-mini", rules[0].FallbackModel)

	m.ExpectExec("INSERT INTO fallback_rules").
		WithArgs("gpt-4o", "gpt-4o-mini", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Upsert(ctx, domain.FallbackRule{PrimaryModel: "gpt-4o", FallbackModel: "gpt-4o-mini", Priority: 1}))

	require.NoError(t, m.ExpectationsWereMet())
}
