package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// DefaultJobTable is the table used when none is configured.
const DefaultJobTable = "webrag_jobs"

const jobColumns = "id, url, status, error, chunk_count, submitted_at, created_at, updated_at"

// JobRepository implements storage.JobRepository on a PostgreSQL table.
type JobRepository struct {
	pool   *pgxpool.Pool
	table  string
	schema schema
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a job repository stored in table.
func NewJobRepository(pool *pgxpool.Pool, table string) (*JobRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultJobTable
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	return &JobRepository{pool: pool, table: table}, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *JobRepository) Close() error {
	return nil
}

func (r *JobRepository) ensureSchema(ctx context.Context) error {
	err := r.schema.ensure(ctx, r.pool, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		submitted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[1]s_submitted_idx ON %[1]s(submitted_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s(status);
	`, r.table))
	if err != nil {
		return fmt.Errorf("creating job table: %w", err)
	}
	return nil
}

// CreateJob stores a new job.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`, r.table, jobColumns),
		job.ID, job.URL, string(job.Status), job.Error, job.ChunkCount,
		job.SubmittedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", jobColumns, r.table), id)
	return scanJob(row)
}

// UpdateStatus moves a job forward in its lifecycle. The row is locked for
// the check and the write, so concurrent updates serialize.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, next core.JobStatus, errMsg string, chunkCount int) (*core.Job, error) {
	if err := core.ValidateStatus(next); err != nil {
		return nil, err
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var job *core.Job
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 FOR UPDATE", jobColumns, r.table), id)
		var err error
		job, err = scanJob(row)
		if err != nil {
			return err
		}
		if !job.Status.CanTransition(next) {
			return fmt.Errorf("%w: job %s %s -> %s", storage.ErrInvalidTransition, id, job.Status, next)
		}

		job.Status = next
		job.UpdatedAt = time.Now().UTC()
		switch next {
		case core.JobStatusFailed:
			job.Error = errMsg
		case core.JobStatusCompleted:
			job.ChunkCount = chunkCount
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $2, error = $3, chunk_count = $4, updated_at = $5
			WHERE id = $1`, r.table),
			id, string(job.Status), job.Error, job.ChunkCount, job.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally restricted to one status.
// A non-positive limit returns every match.
func (r *JobRepository) ListJobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE ($1::text = '' OR status = $1) ORDER BY submitted_at DESC, id DESC", jobColumns, r.table)
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, job)
	}
	return results, rows.Err()
}

func scanJob(row scanner) (*core.Job, error) {
	var job core.Job
	var status string
	err := row.Scan(&job.ID, &job.URL, &status, &job.Error, &job.ChunkCount,
		&job.SubmittedAt, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	job.SubmittedAt = job.SubmittedAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
