package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	return &JobRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *JobRepository) Close() error {
	return nil
}

// CreateJob stores a new job and its submission-time index entry.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) error {
	if err := core.ValidateJob(job); err != nil {
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

	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeJobKey(job.ID)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
		}

		value, err := storage.MarshalJob(job)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Set(makeJobSubmittedKey(job.SubmittedAt, job.ID), []byte(job.ID))
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var job *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return job, err
}

// UpdateStatus moves a job forward in its lifecycle.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, next core.JobStatus, errMsg string, chunkCount int) (*core.Job, error) {
	if err := core.ValidateStatus(next); err != nil {
		return nil, err
	}

	var job *core.Job
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeJobKey(id)
		var err error
		job, err = readJob(tx, key)
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
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

		value, err := storage.MarshalJob(job)
		if err != nil {
			return err
		}
		return tx.Set(key, value)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally restricted to one status.
// A non-positive limit returns every match.
func (r *JobRepository) ListJobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var results []*core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := []byte(jobSubmittedPrefix + ":")
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefixEnd(prefix)); iter.Valid(); iter.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}

			var jobID string
			if err := iter.Item().Value(func(val []byte) error {
				jobID = string(val)
				return nil
			}); err != nil {
				return err
			}

			job, err := readJob(tx, makeJobKey(jobID))
			if err != nil {
				return err
			}
			if job == nil {
				continue
			}
			if status != "" && job.Status != status {
				continue
			}
			results = append(results, job)
		}
		return nil
	}, false)
	return results, err
}

// readJob reads a job within a transaction.
// Returns nil, nil if the job doesn't exist.
func readJob(tx *badger.Txn, key []byte) (*core.Job, error) {
	var job *core.Job
	_, err := getValue(tx, key, func(val []byte) error {
		var err error
		job, err = storage.UnmarshalJob(val)
		return err
	})
	return job, err
}
