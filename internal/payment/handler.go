package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/httpapi"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/models"
)

type SendRequest struct {
	RecipientHandle string `json:"recipient_handle"`
	Amount          string `json:"amount"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// TransactionResponse is the participant-facing view of a transaction. The
// type is flipped to P2P_RECEIVE when the viewer is the recipient; rows are
// stored as P2P_SEND only.
type TransactionResponse struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Amount        string  `json:"amount"`
	Counterparty  string  `json:"counterparty,omitempty"`
	StellarTxHash *string `json:"stellar_tx_hash,omitempty"`
	LedgerSeq     *int64  `json:"ledger_seq,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	RetryCount    int     `json:"retry_count"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

type HistoryResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid JSON body")
		return
	}
	if req.RecipientHandle == "" {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "recipient_handle is required")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "amount must be a decimal string")
		return
	}

	t, err := h.svc.SendPayment(r.Context(), acc.ID, req.RecipientHandle, amount, req.IdempotencyKey)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusCreated, toResponse(t, acc.ID))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid transaction id")
		return
	}

	t, err := h.svc.GetTransaction(r.Context(), acc, id)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, toResponse(t, acc.ID))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	status := q.Get("status")
	if status != "" && !validStatusFilter(status) {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid status filter")
		return
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	txs, total, err := h.svc.History(r.Context(), acc.ID, status, page, limit)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toResponse(t, acc.ID))
	}
	httpapi.WriteSuccess(w, http.StatusOK, HistoryResponse{
		Transactions: out,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

func validStatusFilter(s string) bool {
	switch s {
	case models.TxStatusCreated, models.TxStatusPending, models.TxStatusSuccess, models.TxStatusFailed:
		return true
	}
	return false
}

func toResponse(t *models.Transaction, viewerID uuid.UUID) TransactionResponse {
	resp := TransactionResponse{
		ID:            t.ID.String(),
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount.String(),
		StellarTxHash: t.StellarTxHash,
		LedgerSeq:     t.LedgerSeq,
		FailureReason: t.FailureReason,
		RetryCount:    t.RetryCount,
		CreatedAt:     t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}

	var meta models.TxMetadata
	if len(t.Metadata) > 0 {
		_ = json.Unmarshal(t.Metadata, &meta)
	}
	switch {
	case t.Type == models.TxTypeFunding:
		// Self-referential row; no counterparty.
	case viewerID == t.ReceiverID && viewerID != t.SenderID:
		resp.Type = models.TxTypeP2PReceive
		resp.Counterparty = meta.SenderHandle
	default:
		resp.Counterparty = meta.ReceiverHandle
	}
	return resp
}
