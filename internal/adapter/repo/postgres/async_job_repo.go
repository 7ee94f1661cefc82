package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lowart/gateway/internal/domain"
)

// AsyncJobRepo persists and loads AsyncJob rows.
type AsyncJobRepo struct{ Pool PgxPool }

// NewAsyncJobRepo constructs an AsyncJobRepo with the given pool.
func NewAsyncJobRepo(p PgxPool) *AsyncJobRepo { return &AsyncJobRepo{Pool: p} }

const asyncJobColumns = `job_id, principal_id, status, payload, COALESCE(result, '{}'), error, created_at, updated_at`

func scanAsyncJob(row pgx.Row) (domain.AsyncJob, error) {
	var j domain.AsyncJob
	var payload, result []byte
	if err := row.Scan(&j.JobID, &j.PrincipalID, &j.Status, &payload, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.AsyncJob{}, err
	}
	j.Payload = json.RawMessage(payload)
	j.Result = json.RawMessage(result)
	return j, nil
}

// Get loads an AsyncJob by id.
func (r *AsyncJobRepo) Get(ctx domain.Context, jobID string) (domain.AsyncJob, error) {
	tracer := otel.Tracer("repo.async_job")
	ctx, span := tracer.Start(ctx, "async_job.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "async_jobs"))

	j, err := scanAsyncJob(r.Pool.QueryRow(ctx, `SELECT `+asyncJobColumns+` FROM async_jobs WHERE job_id=$1`, jobID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AsyncJob{}, fmt.Errorf("op=async_job.get: %w", domain.ErrJobNotFound)
		}
		return domain.AsyncJob{}, fmt.Errorf("op=async_job.get: %w", err)
	}
	return j, nil
}

// ListByPrincipal returns every AsyncJob belonging to a principal.
func (r *AsyncJobRepo) ListByPrincipal(ctx domain.Context, principalID string) ([]domain.AsyncJob, error) {
	tracer := otel.Tracer("repo.async_job")
	ctx, span := tracer.Start(ctx, "async_job.ListByPrincipal")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "async_jobs"))

	q := `SELECT ` + asyncJobColumns + ` FROM async_jobs WHERE principal_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, principalID)
	if err != nil {
		return nil, fmt.Errorf("op=async_job.list_by_principal: %w", err)
	}
	defer rows.Close()

	var jobs []domain.AsyncJob
	for rows.Next() {
		j, err := scanAsyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=async_job.list_by_principal_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=async_job.list_by_principal_rows: %w", err)
	}
	return jobs, nil
}

// Create inserts a new AsyncJob row, generating a job id if empty.
func (r *AsyncJobRepo) Create(ctx domain.Context, j domain.AsyncJob) (domain.AsyncJob, error) {
	tracer := otel.Tracer("repo.async_job")
	ctx, span := tracer.Start(ctx, "async_job.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "async_jobs"))

	if j.JobID == "" {
		j.JobID = uuid.New().String()
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	q := `INSERT INTO async_jobs (job_id, principal_id, status, payload, result, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, j.JobID, j.PrincipalID, j.Status, []byte(j.Payload), []byte(j.Result), j.Error, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("op=async_job.create: %w", err)
	}
	return j, nil
}

// UpdateStatus transitions a job's status and optionally sets its result/error.
func (r *AsyncJobRepo) UpdateStatus(ctx domain.Context, jobID string, status domain.JobStatus, result json.RawMessage, errMsg *string) error {
	tracer := otel.Tracer("repo.async_job")
	ctx, span := tracer.Start(ctx, "async_job.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "async_jobs"))

	q := `UPDATE async_jobs SET status=$2, result=$3, error=$4, updated_at=$5 WHERE job_id=$1`
	tag, err := r.Pool.Exec(ctx, q, jobID, status, []byte(result), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=async_job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=async_job.update_status: %w", domain.ErrJobNotFound)
	}
	return nil
}

// ListStuck returns jobs in status that haven't been touched since before before,
// used by a sweeper to reclaim jobs a crashed worker left running.
func (r *AsyncJobRepo) ListStuck(ctx domain.Context, status domain.JobStatus, before time.Time, offset, limit int) ([]domain.AsyncJob, error) {
	tracer := otel.Tracer("repo.async_job")
	ctx, span := tracer.Start(ctx, "async_job.ListStuck")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "async_jobs"))

	q := `SELECT ` + asyncJobColumns + ` FROM async_jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC OFFSET $3 LIMIT $4`
	rows, err := r.Pool.Query(ctx, q, status, before, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("op=async_job.list_stuck: %w", err)
	}
	defer rows.Close()

	var jobs []domain.AsyncJob
	for rows.Next() {
		j, err := scanAsyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=async_job.list_stuck_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=async_job.list_stuck_rows: %w", err)
	}
	return jobs, nil
}

var _ domain.AsyncJobRepository = (*AsyncJobRepo)(nil)
