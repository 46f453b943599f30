/*
Package wallet holds the wallet entity and its money-movement use cases:
create, deposit, withdraw and balance queries. All money state lives in
the ledger journal; a wallet row is only identity plus lifecycle status.
*/
package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brpix/wallet-engine/ledger"
)

// =============================================================================
// WALLET - Identity and lifecycle
// =============================================================================

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBlocked Status = "BLOCKED"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st == StatusActive || st == StatusBlocked
}

// Wallet is created once and immutable thereafter except for status.
type Wallet struct {
	ID        ledger.WalletID
	Status    Status
	CreatedAt time.Time
}

// ErrWalletBlocked is returned when a blocked wallet is asked to move money.
var ErrWalletBlocked = errors.New("wallet is blocked")

// =============================================================================
// STORE
// =============================================================================

// Store persists wallet records.
type Store interface {
	Create(ctx context.Context, w Wallet) (Wallet, error)

	// ByID returns ledger.ErrWalletNotFound when absent.
	ByID(ctx context.Context, id ledger.WalletID) (Wallet, error)
}
