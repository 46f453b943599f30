package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brpix/wallet-engine/api"
	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/pixkey"
	"github.com/brpix/wallet-engine/store/memory"
	"github.com/brpix/wallet-engine/transfer"
	"github.com/brpix/wallet-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()

	walletSvc := wallet.NewService(st.Wallets, st.Ledger)
	keySvc := pixkey.NewService(st.PixKeys, st.Wallets)
	reservations := ledger.NewReservationManager(st.Ledger)
	orchestrator := &transfer.Orchestrator{
		Wallets:      walletSvc,
		Keys:         keySvc,
		Reservations: reservations,
		Transfers:    st.Transfers,
	}
	processor := &transfer.Processor{
		Inbox:        st.Inbox,
		Transfers:    st.Transfers,
		Journal:      ledger.NewJournal(st.Ledger),
		Reservations: reservations,
	}

	handler := api.NewHandler(walletSvc, keySvc, orchestrator, processor, st.Transfers)
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

// call sends a JSON request and decodes the JSON response into out.
func call(t *testing.T, server *httptest.Server, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createWallet(t *testing.T, server *httptest.Server) string {
	t.Helper()
	var dto api.WalletDTO
	code := call(t, server, http.MethodPost, "/api/wallets", nil, &dto)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, dto.ID)
	return dto.ID
}

func deposit(t *testing.T, server *httptest.Server, walletID, amount, key string) {
	t.Helper()
	code := call(t, server, http.MethodPost, "/api/wallets/"+walletID+"/deposits",
		api.MoneyRequest{Amount: amount, IdempotencyKey: key}, nil)
	require.Equal(t, http.StatusOK, code)
}

func registerRandomKey(t *testing.T, server *httptest.Server, walletID string) string {
	t.Helper()
	var dto api.PixKeyDTO
	code := call(t, server, http.MethodPost, "/api/pix-keys",
		api.RegisterPixKeyRequest{WalletID: walletID, KeyType: "RANDOM"}, &dto)
	require.Equal(t, http.StatusCreated, code)
	return dto.KeyValue
}

func getBalance(t *testing.T, server *httptest.Server, walletID string) api.BalanceDTO {
	t.Helper()
	var dto api.BalanceDTO
	code := call(t, server, http.MethodGet, "/api/wallets/"+walletID+"/balance", nil, &dto)
	require.Equal(t, http.StatusOK, code)
	return dto
}

// =============================================================================
// WALLET ENDPOINTS
// =============================================================================

func TestAPI_CreateWalletAndDeposit(t *testing.T) {
	server := newTestServer(t)

	walletID := createWallet(t, server)
	deposit(t, server, walletID, "150.50", "dep-1")

	bal := getBalance(t, server, walletID)
	assert.Equal(t, "150.50", bal.Balance)
	assert.Equal(t, "150.50", bal.Available)
	assert.Equal(t, "BRL", bal.Currency)
}

func TestAPI_Deposit_IdempotencyKeyHeader(t *testing.T) {
	// GIVEN: Two deposits with the same Idempotency-Key header
	// WHEN: Both are sent
	// THEN: The wallet is credited once

	server := newTestServer(t)
	walletID := createWallet(t, server)

	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(api.MoneyRequest{Amount: "100.00"})
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/wallets/"+walletID+"/deposits", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "dep-1")

		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, "100.00", getBalance(t, server, walletID).Balance)
}

func TestAPI_Withdraw_InsufficientFunds_409(t *testing.T) {
	server := newTestServer(t)
	walletID := createWallet(t, server)
	deposit(t, server, walletID, "50.00", "dep-1")

	var errResp api.ErrorResponse
	code := call(t, server, http.MethodPost, "/api/wallets/"+walletID+"/withdrawals",
		api.MoneyRequest{Amount: "60.00", IdempotencyKey: "wd-1"}, &errResp)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, errResp.Error, "insufficient funds")
}

func TestAPI_Balance_UnknownWallet_404(t *testing.T) {
	server := newTestServer(t)

	code := call(t, server, http.MethodGet, "/api/wallets/w-ghost/balance", nil, &api.ErrorResponse{})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_Deposit_MalformedAmount_400(t *testing.T) {
	server := newTestServer(t)
	walletID := createWallet(t, server)

	code := call(t, server, http.MethodPost, "/api/wallets/"+walletID+"/deposits",
		api.MoneyRequest{Amount: "ten reais", IdempotencyKey: "dep-1"}, &api.ErrorResponse{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_Balance_AsOf(t *testing.T) {
	server := newTestServer(t)
	walletID := createWallet(t, server)
	deposit(t, server, walletID, "100.00", "dep-1")

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	var dto api.BalanceDTO
	code := call(t, server, http.MethodGet, "/api/wallets/"+walletID+"/balance?at="+future, nil, &dto)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100.00", dto.Balance)

	code = call(t, server, http.MethodGet, "/api/wallets/"+walletID+"/balance?at=yesterday", nil, &api.ErrorResponse{})
	assert.Equal(t, http.StatusBadRequest, code)
}

// =============================================================================
// TRANSFER FLOW
// =============================================================================

func TestAPI_TransferLifecycle_Confirmed(t *testing.T) {
	// GIVEN: A funded source and a keyed destination
	// WHEN: A transfer is created and the network confirms it
	// THEN: The money lands on the destination and the transfer reads
	//       CONFIRMED

	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "100.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	var created api.TransferDTO
	code := call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
		FromWalletID:   from,
		ToPixKey:       toKey,
		Amount:         "60.00",
		IdempotencyKey: "req-1",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "PENDING", created.Status)

	// Hold is visible immediately.
	bal := getBalance(t, server, from)
	assert.Equal(t, "100.00", bal.Balance)
	assert.Equal(t, "40.00", bal.Available)

	var ack api.WebhookAckDTO
	code = call(t, server, http.MethodPost, "/api/webhooks/pix", api.WebhookRequest{
		EndToEndID: created.EndToEndID,
		EventID:    "ev-1",
		EventType:  "CONFIRMED",
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}, &ack)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, ack.Accepted)

	fromBal := getBalance(t, server, from)
	assert.Equal(t, "40.00", fromBal.Balance)
	assert.Equal(t, "40.00", fromBal.Available)
	assert.Equal(t, "60.00", getBalance(t, server, to).Balance)

	var fetched api.TransferDTO
	code = call(t, server, http.MethodGet, "/api/transfers/"+created.EndToEndID, nil, &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CONFIRMED", fetched.Status)
	assert.Equal(t, "60.00", fetched.Amount)
}

func TestAPI_TransferLifecycle_Rejected(t *testing.T) {
	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "100.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	var created api.TransferDTO
	code := call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
		FromWalletID: from, ToPixKey: toKey, Amount: "60.00", IdempotencyKey: "req-1",
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	code = call(t, server, http.MethodPost, "/api/webhooks/pix", api.WebhookRequest{
		EndToEndID: created.EndToEndID,
		EventID:    "ev-1",
		EventType:  "REJECTED",
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusOK, code)

	bal := getBalance(t, server, from)
	assert.Equal(t, "100.00", bal.Balance)
	assert.Equal(t, "100.00", bal.Available)
	assert.Equal(t, "0.00", getBalance(t, server, to).Balance)
}

func TestAPI_Transfer_InsufficientFunds_409(t *testing.T) {
	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "10.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	code := call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
		FromWalletID: from, ToPixKey: toKey, Amount: "60.00", IdempotencyKey: "req-1",
	}, &api.ErrorResponse{})
	assert.Equal(t, http.StatusConflict, code)
}

func TestAPI_Webhook_RejectAfterConfirm_409(t *testing.T) {
	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "100.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	var created api.TransferDTO
	code := call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
		FromWalletID: from, ToPixKey: toKey, Amount: "60.00", IdempotencyKey: "req-1",
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	webhook := func(eventID, eventType string) int {
		return call(t, server, http.MethodPost, "/api/webhooks/pix", api.WebhookRequest{
			EndToEndID: created.EndToEndID,
			EventID:    eventID,
			EventType:  eventType,
			OccurredAt: time.Now().UTC().Format(time.RFC3339),
		}, nil)
	}

	require.Equal(t, http.StatusOK, webhook("ev-1", "CONFIRMED"))
	assert.Equal(t, http.StatusConflict, webhook("ev-2", "REJECTED"))
}

func TestAPI_Webhook_DuplicateDelivery_200(t *testing.T) {
	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "100.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	var created api.TransferDTO
	code := call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
		FromWalletID: from, ToPixKey: toKey, Amount: "60.00", IdempotencyKey: "req-1",
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	body := api.WebhookRequest{
		EndToEndID: created.EndToEndID,
		EventID:    "ev-1",
		EventType:  "CONFIRMED",
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	require.Equal(t, http.StatusOK, call(t, server, http.MethodPost, "/api/webhooks/pix", body, nil))
	require.Equal(t, http.StatusOK, call(t, server, http.MethodPost, "/api/webhooks/pix", body, nil))

	assert.Equal(t, "60.00", getBalance(t, server, to).Balance)
}

func TestAPI_Webhook_UnknownTransfer_404(t *testing.T) {
	server := newTestServer(t)

	code := call(t, server, http.MethodPost, "/api/webhooks/pix", api.WebhookRequest{
		EndToEndID: "E-ghost",
		EventID:    "ev-1",
		EventType:  "CONFIRMED",
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}, &api.ErrorResponse{})
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// PIX KEY ENDPOINTS
// =============================================================================

func TestAPI_RegisterPixKey_Validation(t *testing.T) {
	server := newTestServer(t)
	walletID := createWallet(t, server)

	cases := []struct {
		name string
		req  api.RegisterPixKeyRequest
		want int
	}{
		{"valid cpf", api.RegisterPixKeyRequest{WalletID: walletID, KeyType: "CPF", KeyValue: "12345678901"}, http.StatusCreated},
		{"bad cpf", api.RegisterPixKeyRequest{WalletID: walletID, KeyType: "CPF", KeyValue: "123"}, http.StatusBadRequest},
		{"bad type", api.RegisterPixKeyRequest{WalletID: walletID, KeyType: "CNPJ", KeyValue: "x"}, http.StatusBadRequest},
		{"unknown wallet", api.RegisterPixKeyRequest{WalletID: "w-ghost", KeyType: "RANDOM"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code := call(t, server, http.MethodPost, "/api/pix-keys", tc.req, &json.RawMessage{})
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestAPI_RegisterPixKey_Duplicate_409(t *testing.T) {
	server := newTestServer(t)
	walletID := createWallet(t, server)

	req := api.RegisterPixKeyRequest{WalletID: walletID, KeyType: "EMAIL", KeyValue: "maria@example.com"}
	require.Equal(t, http.StatusCreated, call(t, server, http.MethodPost, "/api/pix-keys", req, &json.RawMessage{}))
	assert.Equal(t, http.StatusConflict, call(t, server, http.MethodPost, "/api/pix-keys", req, &json.RawMessage{}))
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestAPI_HealthAndMetrics(t *testing.T) {
	server := newTestServer(t)

	var health map[string]string
	code := call(t, server, http.MethodGet, "/health", nil, &health)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", health["status"])

	resp, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ConcurrentTransfers_SharedSource(t *testing.T) {
	// GIVEN: One source wallet holding 100 and two 60 transfer requests
	// WHEN: Both are submitted
	// THEN: Only one obtains the hold; the other is refused

	server := newTestServer(t)
	from := createWallet(t, server)
	to := createWallet(t, server)
	deposit(t, server, from, "100.00", "dep-1")
	toKey := registerRandomKey(t, server, to)

	codes := make([]int, 2)
	for i := range codes {
		codes[i] = call(t, server, http.MethodPost, "/api/transfers", api.CreateTransferRequest{
			FromWalletID: from, ToPixKey: toKey, Amount: "60.00",
			IdempotencyKey: fmt.Sprintf("req-%d", i),
		}, &json.RawMessage{})
	}

	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)
	assert.Equal(t, "40.00", getBalance(t, server, from).Available)
}
