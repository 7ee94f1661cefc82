package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// UsageRepo appends UsageRecord rows and serves per-principal aggregate sums.
type UsageRepo struct{ Pool PgxPool }

// NewUsageRepo constructs a UsageRepo with the given pool.
func NewUsageRepo(p PgxPool) *UsageRepo { return &UsageRepo{Pool: p} }

// Append inserts a new UsageRecord row, generating an id if empty.
func (r *UsageRepo) Append(ctx domain.Context, rec domain.UsageRecord) error {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Append")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "usage_records"))

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	q := `INSERT INTO usage_records (id, principal_id, model_id, req_tokens, res_tokens, duration_ms, kind, "timestamp")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, rec.ID, rec.PrincipalID, rec.ModelID, rec.ReqTokens, rec.ResTokens, rec.DurationMS, rec.Kind, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("op=usage.append: %w", err)
	}
	return nil
}

// SumByPrincipal sums req/res tokens across every usage record for a principal.
func (r *UsageRepo) SumByPrincipal(ctx domain.Context, principalID string) (reqTokens, resTokens int64, err error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.SumByPrincipal")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "usage_records"))

	q := `SELECT COALESCE(SUM(req_tokens),0), COALESCE(SUM(res_tokens),0) FROM usage_records WHERE principal_id=$1`
	if scanErr := r.Pool.QueryRow(ctx, q, principalID).Scan(&reqTokens, &resTokens); scanErr != nil {
		return 0, 0, fmt.Errorf("op=usage.sum_by_principal: %w", scanErr)
	}
	return reqTokens, resTokens, nil
}

var _ domain.UsageRepository = (*UsageRepo)(nil)
