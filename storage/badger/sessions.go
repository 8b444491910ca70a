package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
// Each session is a single document, so an append is one read-modify-write
// transaction and concurrent appends serialize through conflict retries.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) (*SessionRepository, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	return &SessionRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *SessionRepository) Close() error {
	return nil
}

// GetOrCreateSession returns the session, creating it if absent.
func (r *SessionRepository) GetOrCreateSession(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return nil, core.ErrEmptyID
	}

	var session *core.Session
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeSessionKey(id)
		var err error
		session, err = readSession(tx, key)
		if err != nil {
			return err
		}
		if session != nil {
			return nil
		}

		session = newSession(id)
		return writeSession(tx, key, session)
	})
	return session, err
}

// GetSession returns an existing session.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var session *core.Session
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		session, err = readSession(tx, makeSessionKey(id))
		if err != nil {
			return err
		}
		if session == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return session, err
}

// AppendMessage appends msg to the session, creating the session if needed.
func (r *SessionRepository) AppendMessage(ctx context.Context, id string, msg core.Message) error {
	if id == "" {
		return core.ErrEmptyID
	}
	if err := core.ValidateMessage(&msg); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeSessionKey(id)
		session, err := readSession(tx, key)
		if err != nil {
			return err
		}
		if session == nil {
			session = newSession(id)
		}
		session.Messages = append(session.Messages, msg)
		session.UpdatedAt = time.Now().UTC()
		return writeSession(tx, key, session)
	})
}

// RecentMessages returns the last limit messages in chronological order.
// A non-positive limit yields no messages.
func (r *SessionRepository) RecentMessages(ctx context.Context, id string, limit int) ([]core.Message, error) {
	messages := []core.Message{}
	if limit <= 0 {
		return messages, nil
	}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		session, err := readSession(tx, makeSessionKey(id))
		if err != nil {
			return err
		}
		if session == nil {
			return nil
		}
		tail := session.Messages[max(len(session.Messages)-limit, 0):]
		messages = append(messages, tail...)
		return nil
	}, false)
	return messages, err
}

// ClearSession drops every message but keeps the session itself.
func (r *SessionRepository) ClearSession(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeSessionKey(id)
		session, err := readSession(tx, key)
		if err != nil {
			return err
		}
		if session == nil {
			return storage.ErrNotFound
		}
		session.Messages = []core.Message{}
		session.UpdatedAt = time.Now().UTC()
		return writeSession(tx, key, session)
	})
}

// DeleteSession removes the session.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeSessionKey(id)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return tx.Delete(key)
	})
}

func newSession(id string) *core.Session {
	now := time.Now().UTC()
	return &core.Session{
		ID:        id,
		Messages:  []core.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func writeSession(tx *badger.Txn, key []byte, session *core.Session) error {
	value, err := storage.MarshalSession(session)
	if err != nil {
		return err
	}
	return tx.Set(key, value)
}

// readSession reads a session within a transaction.
// Returns nil, nil if the session doesn't exist.
func readSession(tx *badger.Txn, key []byte) (*core.Session, error) {
	var session *core.Session
	_, err := getValue(tx, key, func(val []byte) error {
		var err error
		session, err = storage.UnmarshalSession(val)
		return err
	})
	return session, err
}
