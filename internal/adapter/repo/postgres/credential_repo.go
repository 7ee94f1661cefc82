package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// CredentialRepo persists and loads Credential rows.
type CredentialRepo struct{ Pool PgxPool }

// NewCredentialRepo constructs a CredentialRepo with the given pool.
func NewCredentialRepo(p PgxPool) *CredentialRepo { return &CredentialRepo{Pool: p} }

const credentialColumns = `id, principal_id, opaque_key, label, status, last_used, created_at`

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var c domain.Credential
	if err := row.Scan(&c.ID, &c.PrincipalID, &c.OpaqueKey, &c.Label, &c.Status, &c.LastUsed, &c.CreatedAt); err != nil {
		return domain.Credential{}, err
	}
	return c, nil
}

// Get loads a Credential by id.
func (r *CredentialRepo) Get(ctx domain.Context, id string) (domain.Credential, error) {
	tracer := otel.Tracer("repo.credential")
	ctx, span := tracer.Start(ctx, "credential.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	c, err := scanCredential(r.Pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Credential{}, fmt.Errorf("op=credential.get: %w", domain.ErrNotFound)
		}
		return domain.Credential{}, fmt.Errorf("op=credential.get: %w", err)
	}
	return c, nil
}

// ResolveByOpaqueKey loads the (Credential, Principal) pair bound to an
// unrevoked opaque bearer key.
func (r *CredentialRepo) ResolveByOpaqueKey(ctx domain.Context, key string) (domain.Credential, domain.Principal, error) {
	tracer := otel.Tracer("repo.credential")
	ctx, span := tracer.Start(ctx, "credential.ResolveByOpaqueKey")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	q := `SELECT c.id, c.principal_id, c.opaque_key, c.label, c.status, c.last_used, c.created_at,
		p.display_name, p.status, p.rpm_limit, p.token_quota, p.token_used, p.is_admin, p.created_at
		FROM credentials c JOIN principals p ON p.id = c.principal_id
		WHERE c.opaque_key=$1 AND c.status='active'`
	row := r.Pool.QueryRow(ctx, q, key)

	var c domain.Credential
	var p domain.Principal
	err := row.Scan(&c.ID, &c.PrincipalID, &c.OpaqueKey, &c.Label, &c.Status, &c.LastUsed, &c.CreatedAt,
		&p.DisplayName, &p.Status, &p.RPMLimit, &p.TokenQuota, &p.TokenUsed, &p.IsAdmin, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Credential{}, domain.Principal{}, fmt.Errorf("op=credential.resolve: %w", domain.ErrAuthFailure)
		}
		return domain.Credential{}, domain.Principal{}, fmt.Errorf("op=credential.resolve: %w", err)
	}
	p.ID = c.PrincipalID
	return c, p, nil
}

// ListByPrincipal returns every Credential bound to a principal.
func (r *CredentialRepo) ListByPrincipal(ctx domain.Context, principalID string) ([]domain.Credential, error) {
	tracer := otel.Tracer("repo.credential")
	ctx, span := tracer.Start(ctx, "credential.ListByPrincipal")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	rows, err := r.Pool.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE principal_id=$1 ORDER BY created_at DESC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("op=credential.list_by_principal: %w", err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("op=credential.list_by_principal_scan: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=credential.list_by_principal_rows: %w", err)
	}
	return creds, nil
}

// Create inserts a new Credential row, generating an id if empty.
func (r *CredentialRepo) Create(ctx domain.Context, c domain.Credential) (domain.Credential, error) {
	tracer := otel.Tracer("repo.credential")
	ctx, span := tracer.Start(ctx, "credential.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	q := `INSERT INTO credentials (id, principal_id, opaque_key, label, status, last_used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, c.ID, c.PrincipalID, c.OpaqueKey, c.Label, c.Status, c.LastUsed, c.CreatedAt)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("op=credential.create: %w", err)
	}
	return c, nil
}

// Revoke marks a Credential as revoked.
func (r *CredentialRepo) Revoke(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.credential")
	ctx, span := tracer.Start(ctx, "credential.Revoke")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	tag, err := r.Pool.Exec(ctx, `UPDATE credentials SET status='revoked' WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=credential.revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=credential.revoke: %w", domain.ErrNotFound)
	}
	return nil
}

var _ domain.CredentialRepository = (*CredentialRepo)(nil)
