package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// VectorIndex implements storage.VectorIndex on BadgerDB with a brute-force
// cosine scan. The dimension is fixed on first use and persisted; reopening
// with a different dimension fails.
type VectorIndex struct {
	backend   *Backend
	dimension int
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex opens the vector index with the given dimension.
func NewVectorIndex(backend *Backend, dimension int) (*VectorIndex, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}

	err := backend.Update(func(tx *badger.Txn) error {
		var stored int
		found, err := getValue(tx, []byte(vectorDimKey), func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("%w: bad dimension record", storage.ErrSerializationFailed)
			}
			stored = int(binary.BigEndian.Uint64(val))
			return nil
		})
		if err != nil {
			return err
		}
		if found {
			if stored != dimension {
				return fmt.Errorf("%w: index has dimension %d, configured %d", storage.ErrDimensionMismatch, stored, dimension)
			}
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(dimension))
		return tx.Set([]byte(vectorDimKey), buf)
	})
	if err != nil {
		return nil, err
	}

	return &VectorIndex{backend: backend, dimension: dimension}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (v *VectorIndex) Close() error {
	return nil
}

// Dimension returns the index dimension.
func (v *VectorIndex) Dimension() int {
	return v.dimension
}

// Upsert stores or replaces embedding records keyed by chunk ID. Large
// batches span several commits.
func (v *VectorIndex) Upsert(ctx context.Context, records ...*core.EmbeddingRecord) error {
	for _, rec := range records {
		if err := core.ValidateEmbedding(rec); err != nil {
			return err
		}
		if len(rec.Vector) != v.dimension {
			return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(rec.Vector), v.dimension)
		}
	}

	// Upserts are idempotent, so replaying an interrupted record is harmless.
	return v.backend.UpdateEach(len(records), func(tx *badger.Txn, i int, _ bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := storage.MarshalEmbedding(records[i])
		if err != nil {
			return err
		}
		return tx.Set(makeVectorKey(records[i].ChunkID), value)
	})
}

// Search returns the topK records most similar to vector.
func (v *VectorIndex) Search(ctx context.Context, vector []float32, topK int, filter core.Filter) ([]core.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), v.dimension)
	}

	var results []core.Match
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec *core.EmbeddingRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalEmbedding(val)
				return err
			})
			if err != nil {
				return err
			}

			md := rec.Metadata()
			if !filter.Matches(md) {
				continue
			}

			results = append(results, core.Match{
				ID:       rec.ChunkID,
				Score:    ai.CosineSimilarity(vector, rec.Vector),
				Metadata: md,
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, ties by ID for stable output
	slices.SortFunc(results, func(a, b core.Match) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes every record matching filter.
func (v *VectorIndex) Delete(ctx context.Context, filter core.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("%w: delete requires a filter", storage.ErrInvalidQuery)
	}

	var keys [][]byte
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var rec *core.EmbeddingRecord
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalEmbedding(val)
				return err
			})
			if err != nil {
				return err
			}
			if filter.Matches(rec.Metadata()) {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}

	err = v.backend.UpdateEach(len(keys), func(tx *badger.Txn, i int, _ bool) error {
		return tx.Delete(keys[i])
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
