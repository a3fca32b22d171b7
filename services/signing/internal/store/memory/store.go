// Package memory is an in-process Store. Transactions are serialized by one
// mutex and applied copy-on-write, so a failed unit of work leaves no trace.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

type Option func(*Store)

// WithClock overrides the time source used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.repo.now = now }
}

// Store promotes every Repository method from its root repo, which locks the
// store mutex per call.
type Store struct {
	*repo
	txMu sync.Mutex
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{}
	s.repo = &repo{st: newState(), now: time.Now, mu: &s.txMu}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn against a private copy of the data and publishes the copy only
// if fn succeeds. fn must not call back into s.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	clone := s.repo.st.clone()
	if err := fn(ctx, &repo{st: clone, now: s.repo.now}); err != nil {
		return err
	}
	s.repo.st = clone
	return nil
}

var _ store.Store = (*Store)(nil)
