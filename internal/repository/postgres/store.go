package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/scrapebot/internal/repository"
)

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Queries = (*Queries)(nil)
)

type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, queries: New(pool)}
}

func (s *Store) Queries() repository.Queries {
	return s.queries
}

func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapErr(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.Ping(ctx))
}

func (s *Store) Close() {
	s.db.Close()
}
