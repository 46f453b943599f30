/*
dto.go - Request and response shapes for the REST surface

PURPOSE:
  JSON contracts only. Monetary values cross the wire as decimal strings
  ("150.00"), never as floats; timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: where these are parsed and produced
*/
package api

// =============================================================================
// REQUESTS
// =============================================================================

// MoneyRequest is the body of deposits and withdrawals. The idempotency
// key may come in the body or in the Idempotency-Key header; the header
// wins when both are present.
type MoneyRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type RegisterPixKeyRequest struct {
	WalletID string `json:"walletId"`
	KeyType  string `json:"keyType"`
	KeyValue string `json:"keyValue,omitempty"`
}

type CreateTransferRequest struct {
	FromWalletID   string `json:"fromWalletId"`
	ToPixKey       string `json:"toPixKey"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// WebhookRequest is a settlement notification from the payment network.
type WebhookRequest struct {
	EndToEndID string `json:"endToEndId"`
	EventID    string `json:"eventId"`
	EventType  string `json:"eventType"`
	OccurredAt string `json:"occurredAt"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type WalletDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type BalanceDTO struct {
	WalletID  string `json:"walletId"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Currency  string `json:"currency"`
	AsOf      string `json:"asOf,omitempty"`
}

type OperationDTO struct {
	WalletID       string `json:"walletId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type PixKeyDTO struct {
	ID        string `json:"id"`
	WalletID  string `json:"walletId"`
	KeyType   string `json:"keyType"`
	KeyValue  string `json:"keyValue"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type TransferDTO struct {
	EndToEndID   string `json:"endToEndId"`
	FromWalletID string `json:"fromWalletId,omitempty"`
	ToWalletID   string `json:"toWalletId,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Status       string `json:"status"`
}

type WebhookAckDTO struct {
	EndToEndID string `json:"endToEndId"`
	EventID    string `json:"eventId"`
	Accepted   bool   `json:"accepted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
