package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// ToolPolicyRepo persists and resolves ToolPolicy rows.
type ToolPolicyRepo struct{ Pool PgxPool }

// NewToolPolicyRepo constructs a ToolPolicyRepo with the given pool.
func NewToolPolicyRepo(p PgxPool) *ToolPolicyRepo { return &ToolPolicyRepo{Pool: p} }

// Effective resolves the governance for toolName, preferring a principal-scoped
// override over the global (PrincipalID IS NULL) row, defaulting to auto when
// neither is configured.
func (r *ToolPolicyRepo) Effective(ctx domain.Context, toolName, principalID string) (domain.ToolGovernance, error) {
	tracer := otel.Tracer("repo.tool_policy")
	ctx, span := tracer.Start(ctx, "tool_policy.Effective")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "tool_policies"))

	q := `SELECT policy FROM tool_policies WHERE tool_name=$1 AND principal_id=$2
		UNION ALL
		SELECT policy FROM tool_policies WHERE tool_name=$1 AND principal_id IS NULL
		LIMIT 1`
	var policy domain.ToolGovernance
	err := r.Pool.QueryRow(ctx, q, toolName, principalID).Scan(&policy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ToolPolicyAuto, nil
		}
		return "", fmt.Errorf("op=tool_policy.effective: %w", err)
	}
	return policy, nil
}

// Upsert inserts or updates a (tool_name, principal_id) policy row. A nil
// PrincipalID targets the global default.
func (r *ToolPolicyRepo) Upsert(ctx domain.Context, p domain.ToolPolicy) error {
	tracer := otel.Tracer("repo.tool_policy")
	ctx, span := tracer.Start(ctx, "tool_policy.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "tool_policies"))

	q := `INSERT INTO tool_policies (tool_name, principal_id, policy) VALUES ($1,$2,$3)
		ON CONFLICT (tool_name, principal_id) DO UPDATE SET policy=$3`
	if _, err := r.Pool.Exec(ctx, q, p.ToolName, p.PrincipalID, p.Policy); err != nil {
		return fmt.Errorf("op=tool_policy.upsert: %w", err)
	}
	return nil
}

var _ domain.ToolPolicyRepository = (*ToolPolicyRepo)(nil)
