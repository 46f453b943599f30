/*
reservation.go - Hold and release of funds

PURPOSE:
  A PIX transfer is confirmed by the payment network seconds to hours
  after it is created. Between creation and settlement the promised funds
  must be unspendable - but the accounting balance must not move, because
  no money has actually left. The hold is therefore a RESERVED journal
  entry (reduces availability, not the books) and its release is a
  matching UNRESERVED entry.

CONCURRENCY:
  Reserve is the one place a balance read gates a journal write. Two
  concurrent reserves against the same wallet must not together overcommit
  below zero, so the available-balance fold and the RESERVED append run
  inside one store transaction with the wallet locked. Treating them as
  two independent statements reproduces a real double-spend.

RELEASE:
  Unreserve never checks balance: a release is bounded by prior holds by
  construction, so it cannot be invalid. The caller (settlement processor)
  is responsible for passing the originating transfer's amount.
*/
package ledger

import (
	"context"
)

// ReservationManager holds and releases funds against the journal.
type ReservationManager struct {
	Store TxStore
}

func NewReservationManager(store TxStore) *ReservationManager {
	return &ReservationManager{Store: store}
}

// Reserve places a hold of amount on the wallet, keyed for idempotent
// retry. Fails with InsufficientFundsError when the available balance is
// short. A replayed key returns the original entry id without re-checking
// the balance, provided the wallet and amount match the original request;
// a mismatched reuse fails with ErrDuplicateIdempotencyKey.
func (rm *ReservationManager) Reserve(ctx context.Context, walletID WalletID, amount Amount, idempotencyKey string, transferID string) (EntryID, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return "", &ValidationError{Field: "idempotencyKey", Message: "idempotency key is required"}
	}

	var entryID EntryID
	err := rm.Store.WithTx(ctx, func(s Store) error {
		if err := s.LockWallet(ctx, walletID); err != nil {
			return err
		}

		prior, ok, err := s.EntryByKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if ok {
			// A replay must match the original request; the same key on a
			// different wallet or amount is a reused key, not a retry.
			if prior.WalletID != walletID || !prior.Amount.Equal(amount) {
				return ErrDuplicateIdempotencyKey
			}
			entryID = prior.ID
			return nil
		}

		entries, err := s.Entries(ctx, walletID)
		if err != nil {
			return err
		}
		available := Fold(entries, true)
		if available.LessThan(amount) {
			return &InsufficientFundsError{WalletID: walletID, Available: available, Requested: amount}
		}

		journal := NewJournal(s)
		entryID, err = journal.Append(ctx, Entry{
			WalletID:       walletID,
			Operation:      OpReserved,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			TransferID:     transferID,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

// Unreserve releases a hold. No balance check: a release is bounded by
// the prior hold. Replays return the original entry id.
func (rm *ReservationManager) Unreserve(ctx context.Context, walletID WalletID, amount Amount, idempotencyKey string, transferID string) (EntryID, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return "", &ValidationError{Field: "idempotencyKey", Message: "idempotency key is required"}
	}

	var entryID EntryID
	err := rm.Store.WithTx(ctx, func(s Store) error {
		journal := NewJournal(s)
		id, err := journal.AppendOnce(ctx, Entry{
			WalletID:       walletID,
			Operation:      OpUnreserved,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			TransferID:     transferID,
		})
		if err != nil {
			return err
		}
		entryID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}
