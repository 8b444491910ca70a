package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterClause(t *testing.T) {
	tests := []struct {
		name     string
		filter   core.Filter
		first    int
		wantSQL  string
		wantArgs []any
	}{
		{"empty", core.Filter{}, 1, "", nil},
		{"job only", core.Filter{JobID: "j1"}, 1, "WHERE job_id = $1", []any{"j1"}},
		{"url offset", core.Filter{URL: "https://a.com"}, 3, "WHERE url = $3", []any{"https://a.com"}},
		{"both", core.Filter{JobID: "j1", URL: "u"}, 3, "WHERE job_id = $3 AND url = $4", []any{"j1", "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := filterClause(tt.filter, tt.first)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestValidIdent(t *testing.T) {
	assert.NoError(t, validIdent("webrag_vectors"))
	assert.Error(t, validIdent("vectors; DROP TABLE x"))
	assert.Error(t, validIdent("1abc"))
}

func TestNewVectorIndex_Validation(t *testing.T) {
	_, err := NewVectorIndex(nil, "", 3)
	assert.Error(t, err)
}

// testPool connects to the database named by WEBRAG_TEST_POSTGRES_DSN.
// Tests needing a live database are skipped without it.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("WEBRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WEBRAG_TEST_POSTGRES_DSN not set")
	}
	pool, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func uniqueTable(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestVectorIndex_Postgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	table := uniqueTable("test_vectors")
	t.Cleanup(func() { pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table) })

	idx, err := NewVectorIndex(pool, table, 3)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx,
		&core.EmbeddingRecord{ChunkID: "a", Vector: []float32{1, 0, 0}, JobID: "j1", URL: "https://a.com"},
		&core.EmbeddingRecord{ChunkID: "b", Vector: []float32{0.9, 0.1, 0}, JobID: "j1", URL: "https://a.com"},
		&core.EmbeddingRecord{ChunkID: "c", Vector: []float32{0, 0, 1}, JobID: "j2", URL: "https://b.com"},
	))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, core.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "j1", results[0].Metadata["job_id"])

	filtered, err := idx.Search(ctx, []float32{1, 0, 0}, 5, core.Filter{JobID: "j2"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "c", filtered[0].ID)

	_, err = idx.Search(ctx, []float32{1, 0}, 5, core.Filter{})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	n, err := idx.Delete(ctx, core.Filter{JobID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Reusing the table with another dimension fails
	other, err := NewVectorIndex(pool, table, 4)
	require.NoError(t, err)
	_, err = other.Search(ctx, []float32{1, 0, 0, 0}, 1, core.Filter{})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestQueue_Postgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	table := uniqueTable("test_queue")
	t.Cleanup(func() { pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table) })

	q, err := NewQueue(pool, table, "urls", 10*time.Millisecond)
	require.NoError(t, err)

	for _, id := range []string{"j1", "j2"} {
		require.NoError(t, q.Enqueue(ctx, &core.Job{ID: id, URL: "https://example.com", Status: core.JobStatusPending}))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j2", job.ID)

	job, err = q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}
