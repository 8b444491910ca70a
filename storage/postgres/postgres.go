// Package postgres provides PostgreSQL implementations of every storage
// interface. Vectors live in a pgvector column and are ranked by cosine
// distance; queue entries are popped with FOR UPDATE SKIP LOCKED so any
// number of workers can share one queue table. Jobs are plain rows, chunks
// keep their JSON document next to the columns they are looked up by, and
// session messages are one JSONB array per session.
//
// Unlike the badger store, which locks its directory, one database can be
// shared by an API process and any number of worker processes.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open connects a pool to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Default().With("component", "postgres").Debug("connected")
	return pool, nil
}

// validIdent rejects table names that cannot be interpolated safely.
func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// schema creates a table on first use.
type schema struct {
	mu    sync.Mutex
	ready bool
}

func (s *schema) ensure(ctx context.Context, pool *pgxpool.Pool, ddl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}
