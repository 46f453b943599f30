/*
webhook.go - Webhook-driven settlement

PURPOSE:
  The payment network confirms or rejects a transfer by webhook, possibly
  out of order and possibly more than once. This processor turns those
  deliveries into exactly-once settlement:

    1. event-id dedup against the inbox (redelivery short-circuits)
    2. version-guarded status transition (racing deliveries: one wins,
       the loser gets ErrConcurrentModification and retries safely)
    3. on CONFIRMED: debit source, credit destination, release the
       hold - every step keyed by an id derived from the end-to-end id,
       so the whole sequence re-runs on every delivery and never
       double-applies; a run cut short mid-settlement finishes on retry
    4. on REJECTED: release the hold; funds simply become available again
    5. the inbox row is written LAST, after the state change, so a crash
       in between leaves a retryable, idempotent handler run

DERIVED KEYS:
  <endToEndId>-apply-debit      settlement withdrawal on the source
  <endToEndId>-apply-credit     settlement deposit on the destination
  <endToEndId>-apply-unreserve  hold release after a confirmation
  <endToEndId>-reject-unreserve hold release after a rejection

  Settlement appends go through the unchecked journal path on purpose:
  while the transfer's own hold is still open, an availability check on
  the debit would wrongly fail a wallet whose funds are all held.
*/
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/brpix/wallet-engine/ledger"
)

// Event is one webhook delivery from the payment network.
type Event struct {
	EndToEndID string
	EventID    string
	EventType  string
	OccurredAt time.Time
}

// Processor consumes settlement events.
type Processor struct {
	Inbox        InboxStore
	Transfers    Store
	Journal      *ledger.Journal
	Reservations *ledger.ReservationManager
}

// Process applies one webhook delivery. Duplicated event ids return nil
// with no state change. InvalidStatusTransitionError and
// ledger.ErrConcurrentModification propagate to the caller; the entry
// point treats the latter as transient and retries.
func (p *Processor) Process(ctx context.Context, ev Event) error {
	if err := p.validate(ev); err != nil {
		return err
	}

	seen, err := p.Inbox.SeenEvent(ctx, ev.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	tr, err := p.Transfers.ByEndToEndID(ctx, ev.EndToEndID)
	if err != nil {
		return err
	}

	target := targetStatus(ev.EventType, tr.Status)
	if !tr.Status.CanTransitionTo(target) {
		return &InvalidStatusTransitionError{From: tr.Status, To: target}
	}

	if err := p.Transfers.UpdateStatus(ctx, ev.EndToEndID, target, tr.Version); err != nil {
		return err
	}

	// Keyed on target alone, never on the pre-read status: a retry after
	// a crash between the status write and the money movement re-reads a
	// terminal status, and must still finish settling. The derived keys
	// make every step below a no-op once it has landed.
	switch target {
	case StatusConfirmed:
		if err := p.settle(ctx, tr); err != nil {
			return err
		}
	case StatusRejected:
		if _, err := p.Reservations.Unreserve(ctx, tr.FromWalletID, tr.Amount, tr.EndToEndID+"-reject-unreserve", tr.EndToEndID); err != nil {
			return err
		}
	}

	// Inbox last: a crash before this line leaves a retry that the
	// derived keys above make harmless.
	err = p.Inbox.Record(ctx, InboxEvent{
		ID:         ledger.NewID(),
		EndToEndID: ev.EndToEndID,
		EventID:    ev.EventID,
		EventType:  ev.EventType,
		OccurredAt: ev.OccurredAt,
		ReceivedAt: time.Now().UTC(),
	})
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		// A concurrent delivery recorded it first; same end state.
		return nil
	}
	return err
}

// settle performs the actual money movement for a confirmation.
func (p *Processor) settle(ctx context.Context, tr Transfer) error {
	if _, err := p.Journal.AppendOnce(ctx, ledger.Entry{
		WalletID:       tr.FromWalletID,
		Operation:      ledger.OpWithdraw,
		Amount:         tr.Amount,
		IdempotencyKey: tr.EndToEndID + "-apply-debit",
		TransferID:     tr.EndToEndID,
	}); err != nil {
		return err
	}
	if _, err := p.Journal.AppendOnce(ctx, ledger.Entry{
		WalletID:       tr.ToWalletID,
		Operation:      ledger.OpDeposit,
		Amount:         tr.Amount,
		IdempotencyKey: tr.EndToEndID + "-apply-credit",
		TransferID:     tr.EndToEndID,
	}); err != nil {
		return err
	}
	_, err := p.Reservations.Unreserve(ctx, tr.FromWalletID, tr.Amount, tr.EndToEndID+"-apply-unreserve", tr.EndToEndID)
	return err
}

// targetStatus maps a network event type onto the state machine.
// Unrecognized types map to the current status, which the machine accepts
// as an idempotent no-op; the event is still recorded in the inbox.
func targetStatus(eventType string, current Status) Status {
	if st, ok := ParseStatus(eventType); ok {
		return st
	}
	return current
}

func (p *Processor) validate(ev Event) error {
	if ev.EndToEndID == "" {
		return &ledger.ValidationError{Field: "endToEndId", Message: "end-to-end id is required"}
	}
	if ev.EventID == "" {
		return &ledger.ValidationError{Field: "eventId", Message: "event id is required"}
	}
	if ev.EventType == "" {
		return &ledger.ValidationError{Field: "eventType", Message: "event type is required"}
	}
	if ev.OccurredAt.IsZero() {
		return &ledger.ValidationError{Field: "occurredAt", Message: "occurred-at timestamp is required"}
	}
	if ev.OccurredAt.After(time.Now().Add(clockSkewTolerance)) {
		return &ledger.ValidationError{Field: "occurredAt", Message: "event timestamp cannot be in the future"}
	}
	return nil
}

// clockSkewTolerance forgives small clock drift between the network and
// this service when rejecting future-dated events.
const clockSkewTolerance = 2 * time.Second
