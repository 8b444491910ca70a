package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// DefaultSessionTable is the table used when none is configured.
const DefaultSessionTable = "webrag_sessions"

// SessionRepository implements storage.SessionRepository on a PostgreSQL
// table. Messages are a JSONB array, so an append is a single statement
// and concurrent appends never lose each other's messages.
type SessionRepository struct {
	pool   *pgxpool.Pool
	table  string
	schema schema
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a session repository stored in table.
func NewSessionRepository(pool *pgxpool.Pool, table string) (*SessionRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultSessionTable
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	return &SessionRepository{pool: pool, table: table}, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *SessionRepository) Close() error {
	return nil
}

func (r *SessionRepository) ensureSchema(ctx context.Context) error {
	err := r.schema.ensure(ctx, r.pool, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		messages JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`, r.table))
	if err != nil {
		return fmt.Errorf("creating session table: %w", err)
	}
	return nil
}

// GetOrCreateSession returns the session, creating it if absent.
func (r *SessionRepository) GetOrCreateSession(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return nil, core.ErrEmptyID
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, messages, created_at, updated_at) VALUES ($1, '[]'::jsonb, $2, $2)
		ON CONFLICT (id) DO NOTHING`, r.table), id, now)
	if err != nil {
		return nil, err
	}
	return r.GetSession(ctx, id)
}

// GetSession returns an existing session.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var session core.Session
	var messages []byte
	err := r.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT id, messages, created_at, updated_at FROM %s WHERE id = $1", r.table), id).
		Scan(&session.ID, &messages, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	session.Messages, err = storage.UnmarshalMessages(messages)
	if err != nil {
		return nil, err
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return &session, nil
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
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	doc, err := storage.MarshalMessages([]core.Message{msg})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s AS s (id, messages, created_at, updated_at) VALUES ($1, $2::jsonb, $3, $3)
		ON CONFLICT (id) DO UPDATE SET
			messages = s.messages || EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at`, r.table),
		id, string(doc), now)
	return err
}

// RecentMessages returns the last limit messages in chronological order.
// A non-positive limit yields no messages.
func (r *SessionRepository) RecentMessages(ctx context.Context, id string, limit int) ([]core.Message, error) {
	messages := []core.Message{}
	if limit <= 0 {
		return messages, nil
	}

	session, err := r.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return messages, nil
	}
	if err != nil {
		return nil, err
	}
	tail := session.Messages[max(len(session.Messages)-limit, 0):]
	return append(messages, tail...), nil
}

// ClearSession drops every message but keeps the session itself.
func (r *SessionRepository) ClearSession(ctx context.Context, id string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET messages = '[]'::jsonb, updated_at = $2 WHERE id = $1", r.table),
		id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSession removes the session.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
