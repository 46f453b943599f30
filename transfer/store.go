/*
store.go - Persistence interfaces for transfers and the webhook inbox

PURPOSE:
  Transfers have exactly one mutable field, status, and it only moves
  through UpdateStatus under an optimistic version check. The webhook
  inbox is a write-once set of event ids whose existence is the sole
  deduplication signal for redelivered webhooks.
*/
package transfer

import (
	"context"
	"time"
)

// Store persists transfer records.
type Store interface {
	// Create persists a new transfer. The creator's idempotency key and
	// the end-to-end id are both unique.
	Create(ctx context.Context, t Transfer) (Transfer, error)

	// ByEndToEndID returns the transfer for a network correlation id, or
	// ErrNotFound.
	ByEndToEndID(ctx context.Context, endToEndID string) (Transfer, error)

	// ByIdempotencyKey returns the transfer a creation key produced, so a
	// replayed create returns the original result.
	ByIdempotencyKey(ctx context.Context, idempotencyKey string) (Transfer, bool, error)

	// UpdateStatus applies a status write guarded by the version the
	// caller last read. A stored version that differs fails with
	// ledger.ErrConcurrentModification and writes nothing; on success the
	// version increments.
	UpdateStatus(ctx context.Context, endToEndID string, target Status, expectedVersion int) error
}

// InboxEvent is the durable record of one delivered webhook.
// Created exactly once per distinct event id; never mutated.
type InboxEvent struct {
	ID         string
	EndToEndID string
	EventID    string
	EventType  string
	OccurredAt time.Time
	ReceivedAt time.Time
}

// InboxStore records delivered webhook event ids for deduplication.
type InboxStore interface {
	// SeenEvent reports whether an event id was already recorded.
	SeenEvent(ctx context.Context, eventID string) (bool, error)

	// Record persists the event. A duplicate event id fails with
	// ledger.ErrDuplicateIdempotencyKey; callers racing on the same event
	// treat that as the other delivery having won.
	Record(ctx context.Context, ev InboxEvent) error
}
