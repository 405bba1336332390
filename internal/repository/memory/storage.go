// Package memory is an in-process token store.
//
// Committed rows live in a table indexed by id, token value and subject.
// Writing transactions run one at a time and keep their changes in an overlay
// that is applied to the table on commit. Reads and the expiry sweep take the
// table lock only for short sections, so they never wait for a transaction.
package memory

import (
	"context"

	"github.com/nkiryanov/parcelguard/internal/repository"
)

type Storage struct {
	table *table

	// Holds a value while a writing transaction runs
	writer chan struct{}

	// Enclosing transaction, nil outside of it
	tx *txn
}

func NewStorage() *Storage {
	return &Storage{
		table:  newTable(),
		writer: make(chan struct{}, 1),
	}
}

func (s *Storage) Token() repository.TokenRepo {
	return &TokenRepo{storage: s}
}

// InTx runs fn in transaction. Nested call behaves as a savepoint: its changes
// reach the enclosing transaction only if fn succeeds.
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.tx != nil {
		return s.savepoint(ctx, fn)
	}

	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()

	tx := newTxn(s.table, nil)
	if err := fn(s.with(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.table.apply(tx.changes)
	return nil
}

func (s *Storage) savepoint(ctx context.Context, fn func(repository.Storage) error) error {
	tx := newTxn(s.table, s.tx)
	if err := fn(s.with(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.tx.merge(tx)
	return nil
}

func (s *Storage) with(tx *txn) *Storage {
	return &Storage{table: s.table, writer: s.writer, tx: tx}
}
