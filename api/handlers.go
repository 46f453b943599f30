/*
handlers.go - HTTP handlers for the wallet engine

PURPOSE:
  Exposes wallets, PIX keys, transfers and the settlement webhook over
  REST. Handlers parse and validate the transport layer, then delegate to
  the domain services; no money logic lives here.

ENDPOINTS:
  Wallets:
    POST   /api/wallets                    Create wallet
    GET    /api/wallets/{id}/balance       Balance (optional ?at=RFC3339)
    POST   /api/wallets/{id}/deposits      Credit funds
    POST   /api/wallets/{id}/withdrawals   Debit funds

  PIX keys:
    POST   /api/pix-keys                   Register a key

  Transfers:
    POST   /api/transfers                  Create (PENDING) transfer
    GET    /api/transfers/{endToEndId}     Transfer status

  Settlement:
    POST   /api/webhooks/pix               Network confirmation/rejection

ERROR HANDLING:
  Domain errors map onto HTTP status via httpStatus():
  - 400: validation failures, malformed amounts/timestamps
  - 404: unknown wallet, key or transfer
  - 409: insufficient funds, blocked wallet, duplicate pix key,
         concurrent modification, illegal status transition
  - 500: everything else

IDEMPOTENCY:
  Mutating endpoints take an Idempotency-Key header (body field accepted
  as fallback). Replays return 200 with the original outcome instead of
  erroring, per the service contracts.

SECURITY NOTE:
  No authentication. The engine is meant to sit behind a gateway that
  terminates auth; webhook signature checks belong there too.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/pixkey"
	"github.com/brpix/wallet-engine/transfer"
	"github.com/brpix/wallet-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Wallets   *wallet.Service
	PixKeys   *pixkey.Service
	Transfers *transfer.Orchestrator
	Webhooks  *transfer.Processor
	Lookup    transfer.Store

	metrics *Metrics
}

// NewHandler wires the domain services into the HTTP layer.
func NewHandler(wallets *wallet.Service, keys *pixkey.Service, orch *transfer.Orchestrator, proc *transfer.Processor, lookup transfer.Store) *Handler {
	return &Handler{
		Wallets:   wallets,
		PixKeys:   keys,
		Transfers: orch,
		Webhooks:  proc,
		Lookup:    lookup,
		metrics:   NewMetrics(),
	}
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// CreateWallet mints a new ACTIVE wallet.
// POST /api/wallets
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wallets.Create(r.Context())
	if err != nil {
		h.fail(w, "create wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, WalletDTO{
		ID:        string(wl.ID),
		Status:    string(wl.Status),
		CreatedAt: wl.CreatedAt.Format(time.RFC3339),
	})
}

// GetBalance returns the current balance, or the balance as of a point
// in time when ?at= carries an RFC 3339 timestamp.
// GET /api/wallets/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	walletID := ledger.WalletID(chi.URLParam(r, "id"))

	var asOf *time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'at' timestamp, expected RFC 3339", err)
			return
		}
		asOf = &t
	}

	res, err := h.Wallets.Balance(r.Context(), walletID, asOf)
	if err != nil {
		h.fail(w, "get balance", err)
		return
	}

	dto := BalanceDTO{
		WalletID:  string(res.WalletID),
		Balance:   res.Balance.String(),
		Available: res.Available.String(),
		Currency:  string(res.Balance.Currency),
	}
	if asOf != nil {
		dto.AsOf = asOf.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// Deposit credits the wallet.
// POST /api/wallets/{id}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moneyMutation(w, r, h.Wallets.Deposit)
}

// Withdraw debits the wallet, gated on the available balance.
// POST /api/wallets/{id}/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moneyMutation(w, r, h.Wallets.Withdraw)
}

type mutationFn func(ctx context.Context, walletID ledger.WalletID, amount ledger.Amount, idempotencyKey string) (wallet.OperationResult, error)

func (h *Handler) moneyMutation(w http.ResponseWriter, r *http.Request, fn mutationFn) {
	walletID := ledger.WalletID(chi.URLParam(r, "id"))

	var req MoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.fail(w, "parse amount", err)
		return
	}

	key := idempotencyKey(r, req.IdempotencyKey)
	res, err := fn(r.Context(), walletID, amount, key)
	if err != nil {
		h.fail(w, "wallet mutation", err)
		return
	}

	writeJSON(w, http.StatusOK, OperationDTO{
		WalletID:       string(res.WalletID),
		IdempotencyKey: res.IdempotencyKey,
	})
}

// =============================================================================
// PIX KEY HANDLERS
// =============================================================================

// RegisterPixKey registers a new ACTIVE key for a wallet.
// POST /api/pix-keys
func (h *Handler) RegisterPixKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterPixKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	keyType, ok := pixkey.ParseKeyType(req.KeyType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported key type: "+req.KeyType, nil)
		return
	}

	k, err := h.PixKeys.Register(r.Context(), ledger.WalletID(req.WalletID), keyType, req.KeyValue)
	if err != nil {
		h.fail(w, "register pix key", err)
		return
	}

	writeJSON(w, http.StatusCreated, PixKeyDTO{
		ID:        k.ID,
		WalletID:  string(k.WalletID),
		KeyType:   string(k.Type),
		KeyValue:  k.Value,
		Status:    string(k.Status),
		CreatedAt: k.CreatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer places a hold and records a PENDING transfer.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.fail(w, "parse amount", err)
		return
	}

	res, err := h.Transfers.Create(r.Context(), transfer.CreateInput{
		FromWalletID:   ledger.WalletID(req.FromWalletID),
		ToPixKey:       req.ToPixKey,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.metrics.TransfersRejected.Inc()
		h.fail(w, "create transfer", err)
		return
	}

	h.metrics.TransfersCreated.Inc()
	logEvent("transfer_created", map[string]any{
		"endToEndId":   res.EndToEndID,
		"fromWalletId": req.FromWalletID,
		"amount":       amount.String(),
	})
	writeJSON(w, http.StatusCreated, TransferDTO{
		EndToEndID: res.EndToEndID,
		Status:     string(res.Status),
	})
}

// GetTransfer returns the transfer behind an end-to-end id.
// GET /api/transfers/{endToEndId}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := h.Lookup.ByEndToEndID(r.Context(), chi.URLParam(r, "endToEndId"))
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}

	writeJSON(w, http.StatusOK, TransferDTO{
		EndToEndID:   tr.EndToEndID,
		FromWalletID: string(tr.FromWalletID),
		ToWalletID:   string(tr.ToWalletID),
		Amount:       tr.Amount.String(),
		Status:       string(tr.Status),
	})
}

// =============================================================================
// WEBHOOK HANDLER
// =============================================================================

// retryAttempts bounds the in-handler retries when two deliveries race on
// the same transfer version.
const retryAttempts = 3

// HandleWebhook applies a settlement notification. Duplicate deliveries
// are acknowledged with 200 so the network stops retrying.
// POST /api/webhooks/pix
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, req.OccurredAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'occurredAt' timestamp, expected RFC 3339", err)
		return
	}

	ev := transfer.Event{
		EndToEndID: req.EndToEndID,
		EventID:    req.EventID,
		EventType:  req.EventType,
		OccurredAt: occurredAt,
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err = h.Webhooks.Process(r.Context(), ev)
		if !ledger.IsRetryable(err) || attempt+1 >= retryAttempts {
			break
		}
	}
	h.metrics.WebhookDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.metrics.WebhooksFailed.Inc()
		logEvent("webhook_failed", map[string]any{
			"endToEndId": req.EndToEndID,
			"eventId":    req.EventID,
			"eventType":  req.EventType,
			"error":      err.Error(),
		})
		h.fail(w, "process webhook", err)
		return
	}

	h.metrics.WebhooksProcessed.Inc()
	logEvent("webhook_processed", map[string]any{
		"endToEndId": req.EndToEndID,
		"eventId":    req.EventID,
		"eventType":  req.EventType,
	})
	writeJSON(w, http.StatusOK, WebhookAckDTO{
		EndToEndID: req.EndToEndID,
		EventID:    req.EventID,
		Accepted:   true,
	})
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, fromBody string) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return fromBody
}

// fail translates a domain error to its HTTP shape and records it.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := httpStatus(err)
	h.metrics.RequestErrors.WithLabelValues(op).Inc()
	writeError(w, status, err.Error(), nil)
}

// httpStatus maps the domain error taxonomy onto status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, transfer.ErrNotFound),
		errors.Is(err, pixkey.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, transfer.ErrInvalidStatusTransition),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, wallet.ErrWalletBlocked),
		errors.Is(err, pixkey.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
