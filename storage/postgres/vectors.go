package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// DefaultVectorTable is the table used when none is configured.
const DefaultVectorTable = "webrag_vectors"

// VectorIndex implements storage.VectorIndex with pgvector.
// The table is created on first use with a vector column of the configured
// dimension.
type VectorIndex struct {
	pool      *pgxpool.Pool
	table     string
	dimension int

	mu    sync.Mutex
	ready bool
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a vector index backed by table.
func NewVectorIndex(pool *pgxpool.Pool, table string, dimension int) (*VectorIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultVectorTable
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}
	return &VectorIndex{pool: pool, table: table, dimension: dimension}, nil
}

// Close is a no-op; the pool is owned by the caller.
func (v *VectorIndex) Close() error {
	return nil
}

// Dimension returns the index dimension.
func (v *VectorIndex) Dimension() int {
	return v.dimension
}

func (v *VectorIndex) ensureSchema(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ready {
		return nil
	}

	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		chunk_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		embedding vector(%[2]d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[1]s_job_id_idx ON %[1]s(job_id);
	CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s(url);
	`, v.table, v.dimension)
	if _, err := v.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating vector table: %w", err)
	}

	// An existing table with another dimension is a configuration error.
	var typmod int
	err := v.pool.QueryRow(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = $1::regclass AND a.attname = 'embedding'`, v.table).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("reading vector dimension: %w", err)
	}
	if typmod > 0 && typmod != v.dimension {
		return fmt.Errorf("%w: table has dimension %d, configured %d", storage.ErrDimensionMismatch, typmod, v.dimension)
	}

	v.ready = true
	return nil
}

// Upsert inserts or replaces vectors keyed by chunk ID.
func (v *VectorIndex) Upsert(ctx context.Context, records ...*core.EmbeddingRecord) error {
	for _, rec := range records {
		if err := core.ValidateEmbedding(rec); err != nil {
			return err
		}
		if len(rec.Vector) != v.dimension {
			return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(rec.Vector), v.dimension)
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := v.ensureSchema(ctx); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, job_id, url, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chunk_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			url = EXCLUDED.url,
			embedding = EXCLUDED.embedding`, v.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, rec.ChunkID, rec.JobID, rec.URL, pgvector.NewVector(rec.Vector))
	}
	return v.pool.SendBatch(ctx, batch).Close()
}

// Search returns the topK nearest vectors by cosine distance.
// Score is 1 - distance.
func (v *VectorIndex) Search(ctx context.Context, vector []float32, topK int, filter core.Filter) ([]core.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), v.dimension)
	}
	if err := v.ensureSchema(ctx); err != nil {
		return nil, err
	}

	where, args := filterClause(filter, 3)
	query := fmt.Sprintf(`
		SELECT chunk_id, job_id, url, 1-(embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`, v.table, where)

	rows, err := v.pool.Query(ctx, query, append([]any{pgvector.NewVector(vector), topK}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []core.Match
	for rows.Next() {
		var rec core.EmbeddingRecord
		var score float64
		if err := rows.Scan(&rec.ChunkID, &rec.JobID, &rec.URL, &score); err != nil {
			return nil, err
		}
		results = append(results, core.Match{
			ID:       rec.ChunkID,
			Score:    float32(score),
			Metadata: rec.Metadata(),
		})
	}
	return results, rows.Err()
}

// Delete removes every vector matching filter.
func (v *VectorIndex) Delete(ctx context.Context, filter core.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("%w: delete requires a filter", storage.ErrInvalidQuery)
	}
	if err := v.ensureSchema(ctx); err != nil {
		return 0, err
	}

	where, args := filterClause(filter, 1)
	tag, err := v.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s %s", v.table, where), args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// filterClause renders filter as a WHERE clause whose placeholders start at
// $firstArg. An empty filter renders as an empty string.
func filterClause(filter core.Filter, firstArg int) (string, []any) {
	var conds []string
	var args []any
	add := func(column, value string) {
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(firstArg+len(args)-1))
	}
	if filter.JobID != "" {
		add("job_id", filter.JobID)
	}
	if filter.URL != "" {
		add("url", filter.URL)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
