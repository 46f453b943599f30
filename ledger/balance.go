/*
balance.go - Balance derivation

PURPOSE:
  Answers "how much money does this wallet have?" by folding the journal.
  There is no cached balance column to drift out of sync; every read
  replays the entries.

TWO BALANCES:
  current   = Σ DEPOSIT − Σ WITHDRAW
              the accounted funds; what the books say the wallet owns
  available = current − Σ RESERVED + Σ UNRESERVED
              what can be promised to a new withdrawal or transfer;
              open holds reduce it without touching the books

  available ≤ current holds at every instant, because RESERVED entries
  are only ever written against funds that were available when the hold
  was taken, and UNRESERVED entries are bounded by prior holds.

AS-OF QUERIES:
  AsOf restricts the fold to entries effective at or before a timestamp.
  The journal is write-once, so a given (wallet, timestamp) fold is stable
  forever - the property audits rely on.
*/
package ledger

import (
	"context"
	"time"
)

// BalanceCalculator derives wallet balances from the journal.
type BalanceCalculator struct {
	Store Store
}

func NewBalanceCalculator(store Store) *BalanceCalculator {
	return &BalanceCalculator{Store: store}
}

// Current returns Σ DEPOSIT − Σ WITHDRAW. A wallet with no entries is
// worth zero, not an error.
func (bc *BalanceCalculator) Current(ctx context.Context, walletID WalletID) (Amount, error) {
	entries, err := bc.Store.Entries(ctx, walletID)
	if err != nil {
		return Amount{}, err
	}
	return Fold(entries, false), nil
}

// Available returns the current balance minus open holds.
func (bc *BalanceCalculator) Available(ctx context.Context, walletID WalletID) (Amount, error) {
	entries, err := bc.Store.Entries(ctx, walletID)
	if err != nil {
		return Amount{}, err
	}
	return Fold(entries, true), nil
}

// AsOf returns the current balance considering only entries effective at
// or before the given time.
func (bc *BalanceCalculator) AsOf(ctx context.Context, walletID WalletID, at time.Time) (Amount, error) {
	entries, err := bc.Store.EntriesAsOf(ctx, walletID, at)
	if err != nil {
		return Amount{}, err
	}
	return Fold(entries, false), nil
}

// Fold replays journal entries into a balance. With holds included, the
// result is the available balance; without, the current balance.
func Fold(entries []Entry, includeHolds bool) Amount {
	balance := ZeroAmount(BRL)
	for _, e := range entries {
		switch e.Operation {
		case OpDeposit:
			balance = balance.Add(e.Amount)
		case OpWithdraw:
			balance = balance.Sub(e.Amount)
		case OpReserved:
			if includeHolds {
				balance = balance.Sub(e.Amount)
			}
		case OpUnreserved:
			if includeHolds {
				balance = balance.Add(e.Amount)
			}
		}
	}
	return balance
}
