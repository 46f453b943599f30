/*
store.go - Persistence interface for the journal

PURPOSE:
  The interface between the accounting core and the database. The Store
  persists journal entries while enforcing append-only semantics.

APPEND-ONLY CONTRACT:
  - Append() is the ONLY write. No Update() or Delete() methods exist.
  - The idempotency key column is unique; the store rejects reuse with
    ErrDuplicateIdempotencyKey.

TRANSACTIONS:
  Check-then-append sequences (reserve, withdraw) must see a consistent
  balance snapshot and close the read/write race at the storage layer.
  TxStore.WithTx runs a function against a transactional view; LockWallet
  pins the wallet's journal for the duration (row lock on Postgres,
  writer serialization on SQLite and in-memory).

IMPLEMENTATIONS:
  - store/memory:   in-memory, for tests and development
  - store/sqlite:   embedded production store
  - store/postgres: pgx-backed store for server deployments
*/
package ledger

import (
	"context"
	"time"
)

// Store persists journal entries. Append-only: no update, no delete.
type Store interface {
	// Append persists one entry. Fails with ErrDuplicateIdempotencyKey if
	// the entry's key (when set) already exists.
	Append(ctx context.Context, e Entry) error

	// Entries returns a wallet's journal in effective-time order. A wallet
	// with no history yields an empty slice, not an error.
	Entries(ctx context.Context, walletID WalletID) ([]Entry, error)

	// EntriesAsOf returns the journal restricted to entries with
	// EffectiveAt <= at.
	EntriesAsOf(ctx context.Context, walletID WalletID, at time.Time) ([]Entry, error)

	// ExistsKey reports whether an idempotency key has been used.
	ExistsKey(ctx context.Context, idempotencyKey string) (bool, error)

	// EntryByKey returns the entry previously appended under a key, so a
	// replayed call can return the original result.
	EntryByKey(ctx context.Context, idempotencyKey string) (Entry, bool, error)

	// LockWallet pins the wallet's journal until the enclosing transaction
	// ends. Outside a transaction it is a no-op.
	LockWallet(ctx context.Context, walletID WalletID) error
}

// TxStore extends Store with atomic multi-statement execution.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store. If fn
	// returns an error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
