package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/webrag/storage"
)

const (
	defaultSequenceBandwidth = 100
	maxConflictRetries       = 64
)

// Backend is the single BadgerDB instance shared by every badger store.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// slogAdapter routes badger's printf-style logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any) {
	a.logger.Error(fmt.Sprintf(msg, items...))
}

func (a *slogAdapter) Warningf(msg string, items ...any) {
	a.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; its startup and compaction notes are demoted.
func (a *slogAdapter) Infof(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

func (a *slogAdapter) Debugf(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

// BackendOption configures OpenBackend.
type BackendOption func(*badger.Options)

// WithSyncWrites makes every commit wait for fsync.
func WithSyncWrites(sync bool) BackendOption {
	return func(o *badger.Options) {
		o.SyncWrites = sync
	}
}

// WithMemTableSize sets the memtable size in bytes. Badger caps a single
// transaction at 15% of it; the value threshold is lowered to match.
func WithMemTableSize(size int64) BackendOption {
	return func(o *badger.Options) {
		o.MemTableSize = size
		o.ValueThreshold = min(o.ValueThreshold, 15*size/100)
	}
}

// OpenBackend opens the database in dir, creating the directory when needed.
// With inMemory set dir is ignored and nothing touches the disk.
// Badger locks dir exclusively, so a second open of the same directory fails
// until the first backend is closed, whether from this process or another.
func OpenBackend(dir string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	badgerOpts := badger.DefaultOptions("").WithInMemory(true)
	if !inMemory {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		badgerOpts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "badger")
	badgerOpts.Logger = &slogAdapter{logger: logger}
	badgerOpts.Compression = options.None
	for _, opt := range opts {
		opt(&badgerOpts)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Backend{db: db, logger: logger}, nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("database directory is required")
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx runs fn inside a transaction that is always discarded afterwards;
// writers must commit inside fn. A closed backend yields storage.ErrStorageClosed.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it.
// A commit that loses an optimistic-concurrency race is retried with a fresh
// transaction, so fn must be safe to run more than once.
func (b *Backend) Update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = b.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("transaction conflict, retrying", "attempt", attempt)
	}
	return err
}

// UpdateEach calls fn for items 0..n-1 in read-write transactions,
// committing and starting a new one whenever badger reports the current
// transaction full. Each commit is atomic; the run as a whole is not.
//
// An item interrupted by ErrTxnTooBig is replayed in the next transaction
// with resumed set, after part of its writes may already have committed.
// fn must rewrite the same keys with the same values in that case. An item
// too big for an empty transaction fails with badger.ErrTxnTooBig.
func (b *Backend) UpdateEach(n int, fn func(tx *badger.Txn, i int, resumed bool) error) error {
	next, resumed := 0, false
	for next < n {
		start, startResumed := next, resumed
		err := b.Update(func(tx *badger.Txn) error {
			next, resumed = start, startResumed
			for ; next < n; next++ {
				err := fn(tx, next, resumed)
				if errors.Is(err, badger.ErrTxnTooBig) && (next > start || !resumed) {
					// Commit what fits; a fresh transaction replays this item.
					resumed = true
					return nil
				}
				if err != nil {
					return err
				}
				resumed = false
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetSequence returns a leased badger sequence; callers must Release it.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	if b.db.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}

// getValue reads key and hands its value to fn.
// Returns found=false when the key doesn't exist.
func getValue(tx *badger.Txn, key []byte, fn func(val []byte) error) (bool, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(fn)
}

// exists reports whether key is present.
func exists(tx *badger.Txn, key []byte) (bool, error) {
	_, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}
