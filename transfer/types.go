/*
Package transfer models PIX transfers between wallets.

PURPOSE:
  A transfer is created PENDING with a hold on the source wallet, then
  settled asynchronously when the payment network delivers its verdict by
  webhook. This file holds the transfer record, its status state machine,
  and the end-to-end id that correlates a transfer across the network.

STATE MACHINE:
  PENDING ──> CONFIRMED (terminal)
  PENDING ──> REJECTED  (terminal)
  Every state may transition to itself (idempotent no-op; the network
  redelivers webhooks). Everything else is rejected, including any move
  away from a terminal state.

VERSIONING:
  Version increments on every status write and is the optimistic
  concurrency token: two webhook deliveries racing to settle the same
  transfer cannot both win.
*/
package transfer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brpix/wallet-engine/ledger"
)

// =============================================================================
// STATUS - Transfer lifecycle
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// CanTransitionTo implements the transition table. Same-state transitions
// are always allowed so a redelivered webhook is a no-op instead of an
// error.
func (s Status) CanTransitionTo(target Status) bool {
	if s == target {
		return true
	}
	return s == StatusPending && (target == StatusConfirmed || target == StatusRejected)
}

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// =============================================================================
// TRANSFER - The record itself
// =============================================================================

// Transfer is the intent to move money between two wallets. Created
// PENDING by the orchestrator; mutated only through version-guarded status
// writes; terminal once CONFIRMED or REJECTED.
type Transfer struct {
	ID             string
	EndToEndID     string
	FromWalletID   ledger.WalletID
	ToWalletID     ledger.WalletID
	Amount         ledger.Amount
	Status         Status
	Version        int
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MaxAmount is the per-transfer cap, in BRL.
var MaxAmount = ledger.MustParseAmount("100000.00")

// NewEndToEndID generates a network correlation id: a leading "E" followed
// by 32 uppercase hex characters.
func NewEndToEndID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("transfer: rand.Read failed: " + err.Error())
	}
	return "E" + strings.ToUpper(hex.EncodeToString(b[:]))
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no transfer matches the lookup.
	ErrNotFound = errors.New("transfer not found")

	// ErrInvalidStatusTransition is the root of all illegal state-machine
	// moves. Never silently coerced.
	ErrInvalidStatusTransition = errors.New("invalid transfer status transition")
)

// InvalidStatusTransitionError reports an illegal state-machine move.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid transfer status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Unwrap() error { return ErrInvalidStatusTransition }
