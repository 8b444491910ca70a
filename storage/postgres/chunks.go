package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// DefaultChunkTable is the table used when none is configured.
const DefaultChunkTable = "webrag_chunks"

// ChunkRepository implements storage.ChunkRepository on a PostgreSQL table.
// The chunk document is stored as JSONB beside its lookup columns.
type ChunkRepository struct {
	pool   *pgxpool.Pool
	table  string
	schema schema
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a chunk repository stored in table.
func NewChunkRepository(pool *pgxpool.Pool, table string) (*ChunkRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultChunkTable
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	return &ChunkRepository{pool: pool, table: table}, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *ChunkRepository) Close() error {
	return nil
}

func (r *ChunkRepository) ensureSchema(ctx context.Context) error {
	err := r.schema.ensure(ctx, r.pool, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		url TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		doc JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[1]s_job_idx ON %[1]s(job_id, chunk_index);
	CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s(url);
	`, r.table))
	if err != nil {
		return fmt.Errorf("creating chunk table: %w", err)
	}
	return nil
}

// AddChunks stores chunks in one transaction. Any existing or repeated ID
// rolls the whole batch back with ErrDuplicateKey.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	docs := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if _, dup := seen[chunk.ID]; dup {
			return fmt.Errorf("%w: chunk %s repeated in batch", storage.ErrDuplicateKey, chunk.ID)
		}
		seen[chunk.ID] = struct{}{}

		doc, err := storage.MarshalChunk(chunk)
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, job_id, url, chunk_index, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`, r.table)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, chunk := range chunks {
			batch.Queue(insert, chunk.ID, chunk.Metadata.JobID, chunk.Metadata.URL,
				chunk.Metadata.ChunkIndex, string(docs[i]))
		}

		results := tx.SendBatch(ctx, batch)
		for _, chunk := range chunks {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return err
			}
			if tag.RowsAffected() == 0 {
				results.Close()
				return fmt.Errorf("%w: chunk %s", storage.ErrDuplicateKey, chunk.ID)
			}
		}
		return results.Close()
	})
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var doc []byte
	err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", r.table), id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalChunk(doc)
}

// GetChunks retrieves chunks in request order, skipping unknown IDs.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...string) ([]*core.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	found, err := r.query(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE id = ANY($1)", r.table), ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.Chunk, len(found))
	for _, chunk := range found {
		byID[chunk.ID] = chunk
	}

	var results []*core.Chunk
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			results = append(results, chunk)
		}
	}
	return results, nil
}

// GetChunksByJob returns a job's chunks ordered by chunk index.
func (r *ChunkRepository) GetChunksByJob(ctx context.Context, jobID string) ([]*core.Chunk, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.query(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE job_id = $1 ORDER BY chunk_index", r.table), jobID)
}

// GetChunksByURL returns every chunk ingested from url across all jobs.
func (r *ChunkRepository) GetChunksByURL(ctx context.Context, url string) ([]*core.Chunk, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.query(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE url = $1 ORDER BY job_id, chunk_index", r.table), url)
}

// DeleteChunksByJob removes a job's chunks.
func (r *ChunkRepository) DeleteChunksByJob(ctx context.Context, jobID string) (int, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE job_id = $1", r.table), jobID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *ChunkRepository) query(ctx context.Context, sql string, args ...any) ([]*core.Chunk, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Chunk
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		chunk, err := storage.UnmarshalChunk(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}
	return results, rows.Err()
}
