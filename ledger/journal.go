/*
journal.go - Append-only journal write path

PURPOSE:
  The Journal is the single write path into a wallet's ledger. It enforces
  the two rules the journal itself owns: magnitudes are strictly positive,
  and an idempotency key is never reused. It deliberately does NOT check
  balance sufficiency - that belongs to the callers that hold the
  transaction (ReservationManager, wallet withdrawals), because only they
  know which balance (available vs current) gates the write.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete. Ever.
  2. IDEMPOTENT: same key = same entry, no duplicates.
  3. UNCHECKED: appending never reads a balance. Settlement relies on this;
     the debit of a confirmed transfer must land even while its own hold is
     still open.
*/
package ledger

import (
	"context"
	"time"
)

// Journal is the write path into the append-only ledger.
type Journal struct {
	Store Store
}

func NewJournal(store Store) *Journal {
	return &Journal{Store: store}
}

// Append validates and persists one journal entry, returning its id.
// Replays (reused idempotency key) fail with ErrDuplicateIdempotencyKey;
// use AppendOnce when a replay should return the original entry instead.
func (j *Journal) Append(ctx context.Context, e Entry) (EntryID, error) {
	if err := j.prepare(&e); err != nil {
		return "", err
	}
	if e.IdempotencyKey != "" {
		exists, err := j.Store.ExistsKey(ctx, e.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateIdempotencyKey
		}
	}
	if err := j.Store.Append(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendOnce is Append with replay-as-success semantics: if the key was
// already used, the original entry's id is returned and nothing is written.
// This is what makes settlement re-runnable after a partial failure.
func (j *Journal) AppendOnce(ctx context.Context, e Entry) (EntryID, error) {
	if e.IdempotencyKey != "" {
		prior, ok, err := j.Store.EntryByKey(ctx, e.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if ok {
			return prior.ID, nil
		}
	}
	return j.Append(ctx, e)
}

// Exists reports whether an idempotency key has been recorded.
func (j *Journal) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return j.Store.ExistsKey(ctx, idempotencyKey)
}

func (j *Journal) prepare(e *Entry) error {
	if !e.Operation.Valid() {
		return &ValidationError{Field: "operation", Message: "unknown journal operation: " + string(e.Operation)}
	}
	if e.WalletID == "" {
		return &ValidationError{Field: "walletId", Message: "wallet id is required"}
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.Amount.Currency == "" {
		e.Amount.Currency = BRL
	}
	if e.Amount.Currency != BRL {
		return ErrCurrencyMismatch
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = EntryID(NewID())
	}
	if e.EffectiveAt.IsZero() {
		e.EffectiveAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return nil
}
