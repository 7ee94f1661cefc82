package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// ConfirmSessionRepo persists and loads ConfirmSession rows.
type ConfirmSessionRepo struct{ Pool PgxPool }

// NewConfirmSessionRepo constructs a ConfirmSessionRepo with the given pool.
func NewConfirmSessionRepo(p PgxPool) *ConfirmSessionRepo { return &ConfirmSessionRepo{Pool: p} }

// Save upserts a ConfirmSession row.
func (r *ConfirmSessionRepo) Save(ctx domain.Context, s domain.ConfirmSession) error {
	tracer := otel.Tracer("repo.confirm_session")
	ctx, span := tracer.Start(ctx, "confirm_session.Save")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "confirm_sessions"))

	q := `INSERT INTO confirm_sessions (session_id, principal_id, model_id, payload, pending_calls, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id) DO UPDATE SET payload=$4, pending_calls=$5, expires_at=$7`
	_, err := r.Pool.Exec(ctx, q, s.SessionID, s.PrincipalID, s.ModelID, []byte(s.SerializedPayload),
		[]byte(s.SerializedPendingCalls), s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("op=confirm_session.save: %w", err)
	}
	return nil
}

// Load loads a ConfirmSession by id.
func (r *ConfirmSessionRepo) Load(ctx domain.Context, sessionID string) (domain.ConfirmSession, error) {
	tracer := otel.Tracer("repo.confirm_session")
	ctx, span := tracer.Start(ctx, "confirm_session.Load")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "confirm_sessions"))

	q := `SELECT session_id, principal_id, model_id, payload, pending_calls, created_at, expires_at
		FROM confirm_sessions WHERE session_id=$1`
	var s domain.ConfirmSession
	var payload, pending []byte
	err := r.Pool.QueryRow(ctx, q, sessionID).Scan(&s.SessionID, &s.PrincipalID, &s.ModelID, &payload, &pending, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConfirmSession{}, fmt.Errorf("op=confirm_session.load: %w", domain.ErrSessionMissing)
		}
		return domain.ConfirmSession{}, fmt.Errorf("op=confirm_session.load: %w", err)
	}
	s.SerializedPayload = json.RawMessage(payload)
	s.SerializedPendingCalls = json.RawMessage(pending)
	return s, nil
}

// Delete removes a ConfirmSession row by id. Missing rows are not an error:
// callers delete both on normal resume and on guard-failure cleanup.
func (r *ConfirmSessionRepo) Delete(ctx domain.Context, sessionID string) error {
	tracer := otel.Tracer("repo.confirm_session")
	ctx, span := tracer.Start(ctx, "confirm_session.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "confirm_sessions"))

	if _, err := r.Pool.Exec(ctx, `DELETE FROM confirm_sessions WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("op=confirm_session.delete: %w", err)
	}
	return nil
}

var _ domain.ConfirmSessionRepository = (*ConfirmSessionRepo)(nil)
