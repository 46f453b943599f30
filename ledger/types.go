/*
Package ledger is the accounting core of the wallet engine.

PURPOSE:
  A wallet's money is represented as an append-only journal of signed
  monetary facts. Balances are never stored as mutable counters; they are
  always derived by folding the journal. Temporary holds (for in-flight
  PIX transfers) are expressed as RESERVED/UNRESERVED journal entries that
  net to zero once released, so the journal stays the single source of
  truth for both accounting balance and availability.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount:    exact decimal money value with a currency (never floats)
  - Operation: the four journal entry kinds and the sign each contributes
  - Entry:     one immutable journal row

SEE ALSO:
  - journal.go:     the append-only write path with the idempotency guard
  - balance.go:     current / available / as-of balance folds
  - reservation.go: hold and release of funds
*/
package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Exact decimal money
// =============================================================================

// Currency is an ISO 4217 code. The engine only moves BRL today, but the
// journal records the currency with every value so mixed-currency wallets
// fail loudly instead of summing apples with oranges.
type Currency string

const BRL Currency = "BRL"

// Amount is a monetary value. Arithmetic goes through decimal.Decimal so
// folding thousands of journal entries never accumulates rounding drift.
type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

// ParseAmount parses a decimal string as a BRL amount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, &ValidationError{Field: "amount", Message: "invalid decimal value: " + s}
	}
	return Amount{Value: d, Currency: BRL}, nil
}

// MustParseAmount parses a decimal string as a BRL amount. Panics on
// malformed input; intended for literals in tests and seed data.
func MustParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("ledger: invalid amount literal: " + s)
	}
	return Amount{Value: d, Currency: BRL}
}

func ZeroAmount(currency Currency) Amount {
	return Amount{Value: decimal.Zero, Currency: currency}
}

func (a Amount) Add(b Amount) Amount   { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount   { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Neg() Amount           { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsPositive() bool      { return a.Value.IsPositive() }
func (a Amount) IsNegative() bool      { return a.Value.IsNegative() }
func (a Amount) IsZero() bool          { return a.Value.IsZero() }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) && a.Currency == b.Currency }

// String renders with two fractional digits, the BRL convention.
func (a Amount) String() string { return a.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WalletID string
type EntryID string

// NewID returns a 32-character lowercase hex identifier.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("ledger: rand.Read failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// =============================================================================
// OPERATION - Journal entry kinds
// =============================================================================

// Operation tags a journal entry with its accounting meaning. Amounts are
// always stored as positive magnitudes; the sign is applied by kind when
// folding.
type Operation string

const (
	OpDeposit    Operation = "DEPOSIT"
	OpWithdraw   Operation = "WITHDRAW"
	OpReserved   Operation = "RESERVED"   // funds held for an in-flight transfer
	OpUnreserved Operation = "UNRESERVED" // hold released (settled or rejected)
)

// Valid reports whether op is one of the four journal kinds.
func (op Operation) Valid() bool {
	switch op {
	case OpDeposit, OpWithdraw, OpReserved, OpUnreserved:
		return true
	}
	return false
}

// ParseOperation normalizes and validates a journal kind.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	return op, op.Valid()
}

// =============================================================================
// ENTRY - One immutable journal row
// =============================================================================

// Entry is a single monetary fact. Once appended it is never mutated or
// deleted; corrections are new entries.
//
// Invariants, for every wallet:
//
//	current   = Σ DEPOSIT − Σ WITHDRAW
//	available = current − Σ RESERVED + Σ UNRESERVED
//	available ≤ current
type Entry struct {
	ID        EntryID
	WalletID  WalletID
	Operation Operation
	Amount    Amount // strictly positive magnitude

	// EffectiveAt orders the journal and drives as-of balance queries.
	EffectiveAt time.Time

	// IdempotencyKey, when set, must be unique across the whole journal.
	// A second append with the same key is a replay, not a new fact.
	IdempotencyKey string

	// TransferID back-references the end-to-end id of the PIX transfer
	// that produced this entry, when there is one.
	TransferID string

	CreatedAt time.Time
}
