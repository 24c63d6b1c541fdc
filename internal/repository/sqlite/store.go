package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/set-night/scrapebot/internal/repository"
)

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Queries = (*Queries)(nil)
)

// Store is the embedded backend used for single-node deployments and tests.
type Store struct {
	db      *sql.DB
	queries *Queries
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, queries: New(db)}
}

func (s *Store) Queries() repository.Queries {
	return s.queries
}

func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapErr(err))
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.PingContext(ctx))
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		slog.Error("close sqlite", "error", err)
	}
}
