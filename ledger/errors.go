/*
errors.go - Centralized error types for the accounting core

PURPOSE:
  All failure kinds the ledger and its callers distinguish, in one place.
  Domain packages (transfer, wallet, pixkey) wrap these with context.

CATEGORIES:
  1. Validation errors - malformed input, never retried
  2. Funds errors      - insufficient available balance, carries both figures
  3. Concurrency       - optimistic lock conflicts, retryable
  4. Idempotency       - duplicate keys; a replay is NOT a failure, callers
     short-circuit on it and return the original result

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) { ... }
  var ife *ledger.InsufficientFundsError
  if errors.As(err, &ife) { ... ife.Available ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a journal append carries a zero or
	// negative magnitude. Direction is encoded by Operation, never by sign.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateIdempotencyKey is returned when an append reuses an
	// existing idempotency key. Expected on retries; callers treat the
	// original entry as the result.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientFunds is returned when a withdrawal or reservation
	// exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound is returned when a referenced wallet doesn't exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails. Safe to retry after re-reading.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCurrencyMismatch is returned when an operation would mix
	// currencies inside one wallet journal.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the wallet is. Both figures are
// surfaced to the caller for diagnostics.
type InsufficientFundsError struct {
	WalletID  WalletID
	Available Amount
	Requested Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the error might succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
