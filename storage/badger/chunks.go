package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	return &ChunkRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *ChunkRepository) Close() error {
	return nil
}

// AddChunks stores chunks with their job and url index entries.
// Duplicates are rejected before anything is written. Large batches are
// committed in several transactions, so a storage failure part way
// through can leave a prefix of the chunks stored.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if _, dup := seen[chunk.ID]; dup {
			return fmt.Errorf("%w: chunk %s repeated in batch", storage.ErrDuplicateKey, chunk.ID)
		}
		seen[chunk.ID] = struct{}{}
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			found, err := exists(tx, makeChunkKey(chunk.ID))
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("%w: chunk %s", storage.ErrDuplicateKey, chunk.ID)
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	return r.backend.UpdateEach(len(chunks), func(tx *badger.Txn, i int, resumed bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := chunks[i]
		key := makeChunkKey(chunk.ID)
		if !resumed {
			// A concurrent writer may have claimed the id since the check
			found, err := exists(tx, key)
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("%w: chunk %s", storage.ErrDuplicateKey, chunk.ID)
			}
		}

		value, err := storage.MarshalChunk(chunk)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}

		md := chunk.Metadata
		if md.JobID != "" {
			if err := tx.Set(makeChunkJobKey(md.JobID, md.ChunkIndex, chunk.ID), []byte(chunk.ID)); err != nil {
				return err
			}
		}
		if md.URL != "" {
			if err := tx.Set(makeChunkURLKey(md.URL, chunk.ID), []byte(chunk.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetChunks retrieves multiple chunks by their IDs.
// Returns only the chunks that exist, in request order.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...string) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				result = append(result, chunk)
			}
		}
		return nil
	}, false)
	return result, err
}

// GetChunksByJob returns a job's chunks ordered by chunk index.
func (r *ChunkRepository) GetChunksByJob(ctx context.Context, jobID string) ([]*core.Chunk, error) {
	return r.scanIndex(makePartialChunkJobKey(jobID))
}

// GetChunksByURL returns every chunk ingested from url across all jobs.
func (r *ChunkRepository) GetChunksByURL(ctx context.Context, url string) ([]*core.Chunk, error) {
	return r.scanIndex(makePartialChunkURLKey(url))
}

// DeleteChunksByJob removes a job's chunks together with their index entries.
func (r *ChunkRepository) DeleteChunksByJob(ctx context.Context, jobID string) (int, error) {
	var deleted int
	err := r.backend.Update(func(tx *badger.Txn) error {
		deleted = 0
		var indexKeys [][]byte
		var chunkIDs []string

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkJobKey(jobID)
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			indexKeys = append(indexKeys, item.KeyCopy(nil))
			val, err := item.ValueCopy(nil)
			if err != nil {
				iter.Close()
				return err
			}
			chunkIDs = append(chunkIDs, string(val))
		}
		iter.Close()

		for i, id := range chunkIDs {
			key := makeChunkKey(id)
			chunk, err := readChunk(tx, key)
			if err != nil {
				return err
			}
			if chunk != nil {
				if chunk.Metadata.URL != "" {
					if err := tx.Delete(makeChunkURLKey(chunk.Metadata.URL, id)); err != nil {
						return err
					}
				}
				if err := tx.Delete(key); err != nil {
					return err
				}
				deleted++
			}
			if err := tx.Delete(indexKeys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// scanIndex resolves every chunk referenced by index entries under prefix.
func (r *ChunkRepository) scanIndex(prefix []byte) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunkID string
			if err := iter.Item().Value(func(val []byte) error {
				chunkID = string(val)
				return nil
			}); err != nil {
				return err
			}

			chunk, err := readChunk(tx, makeChunkKey(chunkID))
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	}, false)
	return results, err
}

// readChunk reads a chunk within a transaction.
// Returns nil, nil if the chunk doesn't exist.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	var chunk *core.Chunk
	_, err := getValue(tx, key, func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
