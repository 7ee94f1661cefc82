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

func TestConfirmSessionRepo_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewConfirmSessionRepo(m)
	ctx := context.Background()

	session := domain.ConfirmSession{
		SessionID: "sess1", PrincipalID: "p1", ModelID: "gpt-4o",
		SerializedPayload: json.RawMessage(`[]`), SerializedPendingCalls: json.RawMessage(`[]`),
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	m.ExpectExec("INSERT INTO confirm_sessions").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Save(ctx, session))

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"session_id", "principal_id", "model_id", "payload", "pending_calls", "created_at", "expires_at"}).
		AddRow("sess1", "p1", "gpt-4o", []byte(`[]`), []byte(`[]`), fixed, fixed.Add(time.Hour))
	m.ExpectQuery(`FROM confirm_sessions WHERE session_id=\$1`).
		WithArgs("sess1").
		WillReturnRows(rows)
	loaded, err := repo.Load(ctx, "sess1")
	require.NoError(t, err)
	assert.Equal(t, "p1", loaded.PrincipalID)

	m.ExpectQuery(`FROM confirm_sessions WHERE session_id=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.Load(ctx, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionMissing)

	m.ExpectExec("DELETE FROM confirm_sessions").
		WithArgs("sess1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.Delete(ctx, "sess1"))

	require.NoError(t, m.ExpectationsWereMet())
}
