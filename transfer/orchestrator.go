/*
orchestrator.go - The create-transfer use case

PURPOSE:
  Composes wallet lookup, PIX key resolution, funds reservation and
  transfer creation into one operation. No money moves here: creation only
  places a hold on the source wallet and records a PENDING transfer;
  settlement is deferred to the webhook processor.

ORDER OF STEPS:
  Each step is a hard precondition for the next. The idempotency check
  runs before any lookup so a replay returns the original transfer even if
  the wallet or key has since changed state.
*/
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/brpix/wallet-engine/ledger"
)

// WalletDirectory is the orchestrator's view of wallet existence. It is
// satisfied by wallet.Service.
type WalletDirectory interface {
	// ActiveWallet returns ledger.ErrWalletNotFound when the wallet does
	// not exist or cannot move money.
	ActiveWallet(ctx context.Context, id ledger.WalletID) error
}

// PixKeyResolver resolves a PIX key string to the wallet that owns it.
// Satisfied by pixkey.Service.
type PixKeyResolver interface {
	// Resolve returns the destination wallet for an ACTIVE key, or an
	// error wrapping ledger.ErrWalletNotFound semantics for missing or
	// inactive keys.
	Resolve(ctx context.Context, key string) (ledger.WalletID, error)
}

// CreateInput carries the caller's request to move money.
type CreateInput struct {
	FromWalletID   ledger.WalletID
	ToPixKey       string
	Amount         ledger.Amount
	IdempotencyKey string
}

// CreateResult is what the caller learns: the network correlation id and
// the (initially PENDING) status.
type CreateResult struct {
	EndToEndID string
	Status     Status
}

// Orchestrator implements transfer creation.
type Orchestrator struct {
	Wallets      WalletDirectory
	Keys         PixKeyResolver
	Reservations *ledger.ReservationManager
	Transfers    Store
}

// Create validates the request, reserves the funds and records a PENDING
// transfer. A replayed idempotency key returns the original transfer
// unchanged with no further side effects.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if err := o.validate(in); err != nil {
		return CreateResult{}, err
	}

	// Replay before anything else: the original outcome is the answer.
	if prior, ok, err := o.Transfers.ByIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
		return CreateResult{}, err
	} else if ok {
		return CreateResult{EndToEndID: prior.EndToEndID, Status: prior.Status}, nil
	}

	if err := o.Wallets.ActiveWallet(ctx, in.FromWalletID); err != nil {
		return CreateResult{}, err
	}

	toWalletID, err := o.Keys.Resolve(ctx, in.ToPixKey)
	if err != nil {
		return CreateResult{}, err
	}
	if err := o.Wallets.ActiveWallet(ctx, toWalletID); err != nil {
		return CreateResult{}, err
	}
	if toWalletID == in.FromWalletID {
		return CreateResult{}, &ledger.ValidationError{Field: "toPixKey", Message: "cannot transfer to the same wallet"}
	}

	endToEndID := NewEndToEndID()

	// The hold closes the double-spend window; it may fail with
	// InsufficientFundsError.
	if _, err := o.Reservations.Reserve(ctx, in.FromWalletID, in.Amount, in.IdempotencyKey+"-reserve", endToEndID); err != nil {
		return CreateResult{}, err
	}

	now := time.Now().UTC()
	created, err := o.Transfers.Create(ctx, Transfer{
		ID:             ledger.NewID(),
		EndToEndID:     endToEndID,
		FromWalletID:   in.FromWalletID,
		ToWalletID:     toWalletID,
		Amount:         in.Amount,
		Status:         StatusPending,
		Version:        0,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		// A concurrent create with the same key won the insert between our
		// replay check and here. Its transfer is the result; both holds
		// collapsed onto one reservation entry via the derived key.
		prior, ok, perr := o.Transfers.ByIdempotencyKey(ctx, in.IdempotencyKey)
		if perr != nil {
			return CreateResult{}, perr
		}
		if !ok {
			return CreateResult{}, err
		}
		return CreateResult{EndToEndID: prior.EndToEndID, Status: prior.Status}, nil
	}
	if err != nil {
		return CreateResult{}, err
	}

	return CreateResult{EndToEndID: created.EndToEndID, Status: created.Status}, nil
}

func (o *Orchestrator) validate(in CreateInput) error {
	if in.FromWalletID == "" {
		return &ledger.ValidationError{Field: "fromWalletId", Message: "source wallet id is required"}
	}
	if in.ToPixKey == "" {
		return &ledger.ValidationError{Field: "toPixKey", Message: "pix key is required"}
	}
	if !in.Amount.IsPositive() {
		return &ledger.ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if in.Amount.GreaterThan(MaxAmount) {
		return &ledger.ValidationError{Field: "amount", Message: "amount exceeds the 100000.00 BRL transfer limit"}
	}
	if in.IdempotencyKey == "" {
		return &ledger.ValidationError{Field: "idempotencyKey", Message: "idempotency key is required"}
	}
	return nil
}
