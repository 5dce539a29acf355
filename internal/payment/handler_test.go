package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/models"
)

func authed(req *http.Request, acc *models.Account) *http.Request {
	return req.WithContext(middleware.WithAccount(req.Context(), acc))
}

func TestHandlerSend(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	body := `{"recipient_handle":"bob","amount":"25","idempotency_key":"key-1"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/transactions/send", strings.NewReader(body)), f.alice)
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool                `json:"success"`
		Data    TransactionResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Data.Status != models.TxStatusCreated {
		t.Errorf("status = %s, want CREATED", resp.Data.Status)
	}
	if resp.Data.Type != models.TxTypeP2PSend {
		t.Errorf("type = %s, want P2P_SEND for the sender view", resp.Data.Type)
	}
	if resp.Data.Counterparty != "bob" {
		t.Errorf("counterparty = %q, want bob", resp.Data.Counterparty)
	}
}

func TestHandlerSendValidationEnvelope(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/transactions/send",
		strings.NewReader(`{"recipient_handle":"bob","amount":"not-a-number"}`)), f.alice)
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Error("success = true on error response")
	}
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s, want VALIDATION_ERROR", resp.Error.Code)
	}
}

func TestHandlerGetFlipsDirectionForRecipient(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	sent, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(25), "")
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+sent.ID.String(), nil), f.bob)
	req.SetPathValue("id", sent.ID.String())
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data TransactionResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Type != models.TxTypeP2PReceive {
		t.Errorf("type = %s, want P2P_RECEIVE for the recipient view", resp.Data.Type)
	}
	if resp.Data.Counterparty != "alice" {
		t.Errorf("counterparty = %q, want alice", resp.Data.Counterparty)
	}
}

func TestHandlerHistoryInvalidStatus(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/history?status=BOGUS", nil), f.alice)
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerUnauthenticated(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil)

	rec := httptest.NewRecorder()
	h.Send(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transactions/send", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
