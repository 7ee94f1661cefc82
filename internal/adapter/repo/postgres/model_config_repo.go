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

// ModelConfigRepo persists and loads ModelConfig rows.
type ModelConfigRepo struct{ Pool PgxPool }

// NewModelConfigRepo constructs a ModelConfigRepo with the given pool.
func NewModelConfigRepo(p PgxPool) *ModelConfigRepo { return &ModelConfigRepo{Pool: p} }

func scanModelConfig(row pgx.Row) (domain.ModelConfig, error) {
	var m domain.ModelConfig
	if err := row.Scan(&m.ID, &m.Title, &m.LogicalModelID, &m.OpaqueAPIKey, &m.BaseURL, &m.Vendor,
		&m.CostPer1kTokens, &m.RequestScript, &m.ResponseScript, &m.IsActive, &m.CreatedAt); err != nil {
		return domain.ModelConfig{}, err
	}
	return m, nil
}

// GetActiveByLogicalID loads the active ModelConfig bound to a logical model id.
func (r *ModelConfigRepo) GetActiveByLogicalID(ctx domain.Context, logicalModelID string) (domain.ModelConfig, error) {
	tracer := otel.Tracer("repo.model_config")
	ctx, span := tracer.Start(ctx, "model_config.GetActiveByLogicalID")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "model_configs"))

	q := `SELECT id, title, logical_model_id, opaque_api_key, base_url, vendor, cost_per_1k_tokens,
		request_script, response_script, is_active, created_at
		FROM model_configs WHERE logical_model_id=$1 AND is_active=true LIMIT 1`
	m, err := scanModelConfig(r.Pool.QueryRow(ctx, q, logicalModelID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ModelConfig{}, fmt.Errorf("op=model_config.get_active: %w", domain.ErrModelNotFound)
		}
		return domain.ModelConfig{}, fmt.Errorf("op=model_config.get_active: %w", err)
	}
	return m, nil
}

// List returns every ModelConfig row.
func (r *ModelConfigRepo) List(ctx domain.Context) ([]domain.ModelConfig, error) {
	tracer := otel.Tracer("repo.model_config")
	ctx, span := tracer.Start(ctx, "model_config.List")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "model_configs"))

	q := `SELECT id, title, logical_model_id, opaque_api_key, base_url, vendor, cost_per_1k_tokens,
		request_script, response_script, is_active, created_at FROM model_configs ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=model_config.list: %w", err)
	}
	defer rows.Close()

	var configs []domain.ModelConfig
	for rows.Next() {
		m, err := scanModelConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("op=model_config.list_scan: %w", err)
		}
		configs = append(configs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=model_config.list_rows: %w", err)
	}
	return configs, nil
}

// Create inserts a new ModelConfig row, generating an id if empty.
func (r *ModelConfigRepo) Create(ctx domain.Context, m domain.ModelConfig) (domain.ModelConfig, error) {
	tracer := otel.Tracer("repo.model_config")
	ctx, span := tracer.Start(ctx, "model_config.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "model_configs"))

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	q := `INSERT INTO model_configs (id, title, logical_model_id, opaque_api_key, base_url, vendor,
		cost_per_1k_tokens, request_script, response_script, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, m.ID, m.Title, m.LogicalModelID, m.OpaqueAPIKey, m.BaseURL, m.Vendor,
		m.CostPer1kTokens, m.RequestScript, m.ResponseScript, m.IsActive, m.CreatedAt)
	if err != nil {
		return domain.ModelConfig{}, fmt.Errorf("op=model_config.create: %w", err)
	}
	return m, nil
}

// Update overwrites an existing ModelConfig row by id.
func (r *ModelConfigRepo) Update(ctx domain.Context, m domain.ModelConfig) error {
	tracer := otel.Tracer("repo.model_config")
	ctx, span := tracer.Start(ctx, "model_config.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "model_configs"))

	q := `UPDATE model_configs SET title=$2, logical_model_id=$3, opaque_api_key=$4, base_url=$5,
		vendor=$6, cost_per_1k_tokens=$7, request_script=$8, response_script=$9, is_active=$10 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, m.ID, m.Title, m.LogicalModelID, m.OpaqueAPIKey, m.BaseURL, m.Vendor,
		m.CostPer1kTokens, m.RequestScript, m.ResponseScript, m.IsActive)
	if err != nil {
		return fmt.Errorf("op=model_config.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=model_config.update: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a ModelConfig row by id.
func (r *ModelConfigRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.model_config")
	ctx, span := tracer.Start(ctx, "model_config.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "model_configs"))

	tag, err := r.Pool.Exec(ctx, `DELETE FROM model_configs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=model_config.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=model_config.delete: %w", domain.ErrNotFound)
	}
	return nil
}

var _ domain.ModelConfigRepository = (*ModelConfigRepo)(nil)
