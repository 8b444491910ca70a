package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

const (
	// DefaultQueueName is the queue used when none is configured.
	DefaultQueueName = "url_processing_queue"

	defaultPollInterval = 250 * time.Millisecond
)

// Queue implements storage.Queue on BadgerDB.
// Entries are keyed by a monotonically increasing sequence, so iteration
// order is FIFO. A pop reads and deletes the head in one read-write
// transaction; concurrent consumers racing for the same head resolve
// through badger's conflict detection and retry.
type Queue struct {
	backend      *Backend
	name         string
	prefix       []byte
	seq          *badger.Sequence
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	notify chan struct{}
}

var _ storage.Queue = (*Queue)(nil)

// QueueOption configures a Queue.
type QueueOption func(*Queue) error

// WithPollInterval sets how often a blocked Dequeue re-checks the store.
// Waiters are woken immediately by Enqueue on the same Queue; polling picks
// up entries written through another Queue handle on the same backend.
// Badger locks its directory, so the store is never shared across processes.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
		q.pollInterval = d
		return nil
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) error {
		q.logger = logger
		return nil
	}
}

// NewQueue creates a named queue on the backend.
func NewQueue(backend *Backend, name string, opts ...QueueOption) (*Queue, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if name == "" {
		name = DefaultQueueName
	}

	seq, err := backend.GetSequence(makeQueueSeqKey(name))
	if err != nil {
		return nil, err
	}

	q := &Queue{
		backend:      backend,
		name:         name,
		prefix:       makeQueuePrefix(name),
		seq:          seq,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		notify:       make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			seq.Release()
			return nil, err
		}
	}
	q.logger = q.logger.With("component", "queue", "queue", name)
	return q, nil
}

// Close releases the entry sequence.
func (q *Queue) Close() error {
	return q.seq.Release()
}

// Enqueue appends the job to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, job *core.Job) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	value, err := storage.MarshalJob(job)
	if err != nil {
		return err
	}

	seq, err := q.seq.Next()
	if err != nil {
		return err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if seq == 0 {
		seq, err = q.seq.Next()
		if err != nil {
			return err
		}
	}

	err = q.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeQueueKey(q.name, seq), value)
	})
	if err != nil {
		return err
	}

	q.wake()
	q.logger.Debug("enqueued job", "job_id", job.ID, "seq", seq)
	return nil
}

// Dequeue pops the head of the queue, waiting up to timeout for an entry.
// Returns nil, nil when nothing arrives in time. A non-positive timeout
// makes a single non-blocking attempt.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*core.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		// Grab the wake channel before looking so an Enqueue between the
		// look and the wait is not missed.
		wake := q.waitChan()

		job, err := q.pop()
		if err != nil || job != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := min(remaining, q.pollInterval)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	count := 0
	err := q.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = q.prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// pop removes and returns the head entry, or nil if the queue is empty.
// An undecodable entry is dropped and logged so it cannot wedge the queue.
func (q *Queue) pop() (*core.Job, error) {
	var job *core.Job
	err := q.backend.Update(func(tx *badger.Txn) error {
		job = nil
		opts := badger.DefaultIteratorOptions
		opts.Prefix = q.prefix
		opts.PrefetchSize = 1
		iter := tx.NewIterator(opts)

		iter.Rewind()
		if !iter.Valid() {
			iter.Close()
			return nil
		}
		item := iter.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		iter.Close()
		if err != nil {
			return err
		}

		if err := tx.Delete(key); err != nil {
			return err
		}

		decoded, err := storage.UnmarshalJob(val)
		if err != nil {
			q.logger.Error("dropping undecodable queue entry", "error", err)
			return nil
		}
		job = decoded
		return nil
	})
	return job, err
}

func (q *Queue) waitChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify
}

// wake releases every in-process waiter.
func (q *Queue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.notify)
	q.notify = make(chan struct{})
}
