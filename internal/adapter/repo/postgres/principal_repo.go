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

// PrincipalRepo persists and loads Principal rows.
type PrincipalRepo struct{ Pool PgxPool }

// NewPrincipalRepo constructs a PrincipalRepo with the given pool.
func NewPrincipalRepo(p PgxPool) *PrincipalRepo { return &PrincipalRepo{Pool: p} }

func scanPrincipal(row pgx.Row) (domain.Principal, error) {
	var p domain.Principal
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Status, &p.RPMLimit, &p.TokenQuota, &p.TokenUsed,
		&p.IsAdmin, &p.CreatedAt); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

const principalColumns = `id, display_name, status, rpm_limit, token_quota, token_used, is_admin, created_at`

// Get loads a Principal by id.
func (r *PrincipalRepo) Get(ctx domain.Context, id string) (domain.Principal, error) {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	p, err := scanPrincipal(r.Pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Principal{}, fmt.Errorf("op=principal.get: %w", domain.ErrNotFound)
		}
		return domain.Principal{}, fmt.Errorf("op=principal.get: %w", err)
	}
	return p, nil
}

// GetByDisplayName loads a Principal by its display name.
func (r *PrincipalRepo) GetByDisplayName(ctx domain.Context, name string) (domain.Principal, error) {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.GetByDisplayName")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	p, err := scanPrincipal(r.Pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE display_name=$1`, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Principal{}, fmt.Errorf("op=principal.get_by_display_name: %w", domain.ErrNotFound)
		}
		return domain.Principal{}, fmt.Errorf("op=principal.get_by_display_name: %w", err)
	}
	return p, nil
}

// List returns every Principal row.
func (r *PrincipalRepo) List(ctx domain.Context) ([]domain.Principal, error) {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	rows, err := r.Pool.Query(ctx, `SELECT `+principalColumns+` FROM principals ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=principal.list: %w", err)
	}
	defer rows.Close()

	var principals []domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("op=principal.list_scan: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=principal.list_rows: %w", err)
	}
	return principals, nil
}

// Create inserts a new Principal row, generating an id if empty.
func (r *PrincipalRepo) Create(ctx domain.Context, p domain.Principal) (domain.Principal, error) {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	q := `INSERT INTO principals (` + principalColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, p.ID, p.DisplayName, p.Status, p.RPMLimit, p.TokenQuota, p.TokenUsed, p.IsAdmin, p.CreatedAt)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("op=principal.create: %w", err)
	}
	return p, nil
}

// Update overwrites an existing Principal row's mutable fields.
func (r *PrincipalRepo) Update(ctx domain.Context, p domain.Principal) error {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	q := `UPDATE principals SET display_name=$2, status=$3, rpm_limit=$4, token_quota=$5, is_admin=$6 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, p.ID, p.DisplayName, p.Status, p.RPMLimit, p.TokenQuota, p.IsAdmin)
	if err != nil {
		return fmt.Errorf("op=principal.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=principal.update: %w", domain.ErrNotFound)
	}
	return nil
}

// IncrementTokenUsed atomically adds delta to a Principal's token_used counter.
func (r *PrincipalRepo) IncrementTokenUsed(ctx domain.Context, id string, delta int64) error {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.IncrementTokenUsed")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	tag, err := r.Pool.Exec(ctx, `UPDATE principals SET token_used = token_used + $2 WHERE id=$1`, id, delta)
	if err != nil {
		return fmt.Errorf("op=principal.increment_token_used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=principal.increment_token_used: %w", domain.ErrNotFound)
	}
	return nil
}

// Count returns the total number of Principal rows.
func (r *PrincipalRepo) Count(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.principal")
	ctx, span := tracer.Start(ctx, "principal.Count")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "principals"))

	var count int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=principal.count: %w", err)
	}
	return count, nil
}

var _ domain.PrincipalRepository = (*PrincipalRepo)(nil)
