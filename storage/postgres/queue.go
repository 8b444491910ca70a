package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

const (
	// DefaultQueueTable is the table used when none is configured.
	DefaultQueueTable = "webrag_queue"

	defaultPollInterval = 500 * time.Millisecond
)

// Queue implements storage.Queue on a PostgreSQL table.
// Several named queues can share one table.
type Queue struct {
	pool         *pgxpool.Pool
	table        string
	name         string
	pollInterval time.Duration
	logger       *slog.Logger
	schema       schema
}

var _ storage.Queue = (*Queue)(nil)

// NewQueue creates a queue named name stored in table.
func NewQueue(pool *pgxpool.Pool, table, name string, pollInterval time.Duration) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultQueueTable
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Queue{
		pool:         pool,
		table:        table,
		name:         name,
		pollInterval: pollInterval,
		logger:       slog.Default().With("component", "pgqueue", "queue", name),
	}, nil
}

// Close is a no-op; the pool is owned by the caller.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) ensureSchema(ctx context.Context) error {
	err := q.schema.ensure(ctx, q.pool, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id BIGSERIAL PRIMARY KEY,
		queue TEXT NOT NULL,
		payload JSONB NOT NULL,
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS %[1]s_queue_id_idx ON %[1]s(queue, id);
	`, q.table))
	if err != nil {
		return fmt.Errorf("creating queue table: %w", err)
	}
	return nil
}

// Enqueue appends the job to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, job *core.Job) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	payload, err := storage.MarshalJob(job)
	if err != nil {
		return err
	}
	if err := q.ensureSchema(ctx); err != nil {
		return err
	}

	_, err = q.pool.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (queue, payload) VALUES ($1, $2)", q.table),
		q.name, string(payload))
	return err
}

// Dequeue pops the head of the queue, polling until timeout.
// Returns nil, nil when nothing arrives in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*core.Job, error) {
	if err := q.ensureSchema(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		job, err := q.pop(ctx)
		if err != nil || job != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, q.pollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	if err := q.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	err := q.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE queue = $1", q.table), q.name).Scan(&n)
	return n, err
}

// pop deletes and returns the oldest entry. Rows locked by another consumer
// are skipped, so concurrent pops never return the same entry.
func (q *Queue) pop(ctx context.Context) (*core.Job, error) {
	query := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE queue = $1
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload::text`, q.table)

	var payload string
	if err := q.pool.QueryRow(ctx, query, q.name).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	job, err := storage.UnmarshalJob([]byte(payload))
	if err != nil {
		q.logger.Error("dropping undecodable queue entry", "error", err)
		return nil, nil
	}
	return job, nil
}
