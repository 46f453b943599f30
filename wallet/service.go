/*
service.go - Wallet use cases

PURPOSE:
  Deposit, withdraw and balance queries over the ledger journal. Deposits
  append unconditionally. Withdrawals gate on the AVAILABLE balance (not
  the current one - held funds are not spendable) and close the
  check-then-append race inside one store transaction, the same way the
  reservation manager does.

IDEMPOTENCY:
  Both mutations require a caller-supplied idempotency key. A replayed key
  returns the original result and writes nothing; the replay is
  indistinguishable in outcome from the first call.
*/
package wallet

import (
	"context"
	"time"

	"github.com/brpix/wallet-engine/ledger"
)

// Service implements the wallet-facing operation contracts.
type Service struct {
	Wallets  Store
	Ledger   ledger.TxStore
	Balances *ledger.BalanceCalculator
}

func NewService(wallets Store, ledgerStore ledger.TxStore) *Service {
	return &Service{
		Wallets:  wallets,
		Ledger:   ledgerStore,
		Balances: ledger.NewBalanceCalculator(ledgerStore),
	}
}

// OperationResult echoes the wallet and key of a completed (or replayed)
// mutation.
type OperationResult struct {
	WalletID       ledger.WalletID
	IdempotencyKey string
}

// BalanceResult carries the accounted balance and, for convenience of
// callers deciding whether to spend, the available one.
type BalanceResult struct {
	WalletID  ledger.WalletID
	Balance   ledger.Amount
	Available ledger.Amount
}

// Create mints a new ACTIVE wallet.
func (s *Service) Create(ctx context.Context) (Wallet, error) {
	return s.Wallets.Create(ctx, Wallet{
		ID:        ledger.WalletID(ledger.NewID()),
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	})
}

// ActiveWallet reports whether the wallet exists and may move money.
// Satisfies transfer.WalletDirectory.
func (s *Service) ActiveWallet(ctx context.Context, id ledger.WalletID) error {
	w, err := s.Wallets.ByID(ctx, id)
	if err != nil {
		return err
	}
	if w.Status != StatusActive {
		return ErrWalletBlocked
	}
	return nil
}

// Deposit credits the wallet. No balance check: money coming in is always
// welcome.
func (s *Service) Deposit(ctx context.Context, walletID ledger.WalletID, amount ledger.Amount, idempotencyKey string) (OperationResult, error) {
	if err := s.validateMutation(ctx, walletID, amount, idempotencyKey); err != nil {
		return OperationResult{}, err
	}

	err := s.Ledger.WithTx(ctx, func(st ledger.Store) error {
		journal := ledger.NewJournal(st)
		_, err := journal.AppendOnce(ctx, ledger.Entry{
			WalletID:       walletID,
			Operation:      ledger.OpDeposit,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
		})
		return err
	})
	if err != nil {
		return OperationResult{}, err
	}
	return OperationResult{WalletID: walletID, IdempotencyKey: idempotencyKey}, nil
}

// Withdraw debits the wallet if the available balance covers the amount.
// The balance fold and the append share one transaction with the wallet
// locked, so two concurrent withdrawals cannot both pass the check.
func (s *Service) Withdraw(ctx context.Context, walletID ledger.WalletID, amount ledger.Amount, idempotencyKey string) (OperationResult, error) {
	if err := s.validateMutation(ctx, walletID, amount, idempotencyKey); err != nil {
		return OperationResult{}, err
	}

	err := s.Ledger.WithTx(ctx, func(st ledger.Store) error {
		if err := st.LockWallet(ctx, walletID); err != nil {
			return err
		}

		if _, ok, err := st.EntryByKey(ctx, idempotencyKey); err != nil {
			return err
		} else if ok {
			return nil
		}

		entries, err := st.Entries(ctx, walletID)
		if err != nil {
			return err
		}
		available := ledger.Fold(entries, true)
		if available.LessThan(amount) {
			return &ledger.InsufficientFundsError{WalletID: walletID, Available: available, Requested: amount}
		}

		journal := ledger.NewJournal(st)
		_, err = journal.Append(ctx, ledger.Entry{
			WalletID:       walletID,
			Operation:      ledger.OpWithdraw,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
		})
		return err
	})
	if err != nil {
		return OperationResult{}, err
	}
	return OperationResult{WalletID: walletID, IdempotencyKey: idempotencyKey}, nil
}

// Balance returns the accounted balance, or the balance as of a point in
// time when asOf is non-nil.
func (s *Service) Balance(ctx context.Context, walletID ledger.WalletID, asOf *time.Time) (BalanceResult, error) {
	if _, err := s.Wallets.ByID(ctx, walletID); err != nil {
		return BalanceResult{}, err
	}

	if asOf != nil {
		bal, err := s.Balances.AsOf(ctx, walletID, *asOf)
		if err != nil {
			return BalanceResult{}, err
		}
		return BalanceResult{WalletID: walletID, Balance: bal, Available: bal}, nil
	}

	current, err := s.Balances.Current(ctx, walletID)
	if err != nil {
		return BalanceResult{}, err
	}
	available, err := s.Balances.Available(ctx, walletID)
	if err != nil {
		return BalanceResult{}, err
	}
	return BalanceResult{WalletID: walletID, Balance: current, Available: available}, nil
}

func (s *Service) validateMutation(ctx context.Context, walletID ledger.WalletID, amount ledger.Amount, idempotencyKey string) error {
	if !amount.IsPositive() {
		return &ledger.ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if idempotencyKey == "" {
		return &ledger.ValidationError{Field: "idempotencyKey", Message: "idempotency key is required"}
	}
	return s.ActiveWallet(ctx, walletID)
}
