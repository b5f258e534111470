package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/billing/internal/ingest"
)

// Store serves reads and single-statement writes from the pool and opens
// transactions for import batches.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// NewStore wraps pool. The pool's lifecycle stays with the caller.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Queries: New(pool), pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens a transaction for one import batch.
func (s *Store) Begin(ctx context.Context) (*BatchTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &BatchTx{Queries: s.WithTx(tx), tx: tx}, nil
}

// Backend exposes Begin to the import pipeline.
func (s *Store) Backend() ingest.Backend {
	return ingest.BackendFunc(func(ctx context.Context) (ingest.UnitOfWork, error) {
		return s.Begin(ctx)
	})
}

// BatchTx is an open transaction with savepoint support.
type BatchTx struct {
	*Queries
	tx pgx.Tx
}

var _ ingest.UnitOfWork = (*BatchTx)(nil)

func (b *BatchTx) Savepoint(ctx context.Context, name string) error {
	_, err := b.tx.Exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (b *BatchTx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := b.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (b *BatchTx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := b.tx.Exec(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize())
	return err
}

func (b *BatchTx) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

// Rollback is safe to call after Commit.
func (b *BatchTx) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
