package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// FallbackRuleRepo persists and loads FallbackRule rows.
type FallbackRuleRepo struct{ Pool PgxPool }

// NewFallbackRuleRepo constructs a FallbackRuleRepo with the given pool.
func NewFallbackRuleRepo(p PgxPool) *FallbackRuleRepo { return &FallbackRuleRepo{Pool: p} }

// ListByPrimary returns the fallback rules rooted at primaryModel, unordered
// (the fallback.Router sorts by Priority itself).
func (r *FallbackRuleRepo) ListByPrimary(ctx domain.Context, primaryModel string) ([]domain.FallbackRule, error) {
	tracer := otel.Tracer("repo.fallback_rule")
	ctx, span := tracer.Start(ctx, "fallback_rule.ListByPrimary")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "fallback_rules"))

	q := `SELECT primary_model, fallback_model, priority FROM fallback_rules WHERE primary_model=$1`
	rows, err := r.Pool.Query(ctx, q, primaryModel)
	if err != nil {
		return nil, fmt.Errorf("op=fallback_rule.list_by_primary: %w", err)
	}
	defer rows.Close()

	var rules []domain.FallbackRule
	for rows.Next() {
		var rule domain.FallbackRule
		if err := rows.Scan(&rule.PrimaryModel, &rule.FallbackModel, &rule.Priority); err != nil {
			return nil, fmt.Errorf("op=fallback_rule.list_by_primary_scan: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=fallback_rule.list_by_primary_rows: %w", err)
	}
	return rules, nil
}

// Upsert inserts or updates a (primary_model, fallback_model) rule's priority.
func (r *FallbackRuleRepo) Upsert(ctx domain.Context, rule domain.FallbackRule) error {
	tracer := otel.Tracer("repo.fallback_rule")
	ctx, span := tracer.Start(ctx, "fallback_rule.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "fallback_rules"))

	q := `INSERT INTO fallback_rules (primary_model, fallback_model, priority) VALUES ($1,$2,$3)
		ON CONFLICT (primary_model, fallback_model) DO UPDATE SET priority=$3`
	if _, err := r.Pool.Exec(ctx, q, rule.PrimaryModel, rule.FallbackModel, rule.Priority); err != nil {
		return fmt.Errorf("op=fallback_rule.upsert: %w", err)
	}
	return nil
}

var _ domain.FallbackRuleRepository = (*FallbackRuleRepo)(nil)
