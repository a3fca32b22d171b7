// Package postgres is the production Store. Units of work run SERIALIZABLE
// and take row locks in a fixed order (session, token, document, fields);
// serialization failures are retried with exponential backoff.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	*repo
	DB       *pgxpool.Pool
	maxTries uint
}

type Option func(*Store)

// WithMaxTries bounds how often a transaction is attempted when Postgres
// reports a serialization failure or deadlock.
func WithMaxTries(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

func New(db *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{repo: &repo{q: db}, DB: db, maxTries: 5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.runTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if retryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &repo{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// retryable reports serialization failures and deadlocks.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

type repo struct {
	q querier
}

// atomic runs fn in a transaction unless r already belongs to one.
func (r *repo) atomic(ctx context.Context, fn func(q querier) error) error {
	pool, ok := r.q.(*pgxpool.Pool)
	if !ok {
		return fn(r.q)
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error { return fn(tx) })
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Repository = (*repo)(nil)
)
