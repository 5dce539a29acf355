package custody

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/httpapi"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/models"
)

type FundRequest struct {
	Amount string `json:"amount"`
}

type WalletResponse struct {
	ID            string `json:"id"`
	PublicAddress string `json:"public_address"`
	Balance       string `json:"balance"`
	Status        string `json:"status"`
	FundingCount  int    `json:"funding_count_today"`
	DailyFunded   string `json:"daily_funding_sum"`
}

type BalanceResponse struct {
	Balance        string `json:"balance"`
	StellarBalance string `json:"stellar_balance"`
	Synced         bool   `json:"synced"`
}

type FundResponse struct {
	Wallet      WalletResponse `json:"wallet"`
	Transaction fundTxView     `json:"transaction"`
}

type fundTxView struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Amount        string  `json:"amount"`
	StellarTxHash *string `json:"stellar_tx_hash,omitempty"`
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

func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}

	// Amount is optional; an empty body means the default funding amount.
	var amount *decimal.Decimal
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid JSON body")
		return
	}
	if req.Amount != "" {
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			httpapi.WriteErrorCode(w, apperr.CodeValidation, "amount must be a decimal string")
			return
		}
		amount = &amt
	}

	wallet, tx, err := h.svc.FundWallet(r.Context(), acc.ID, amount)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, FundResponse{
		Wallet: toWalletResponse(wallet),
		Transaction: fundTxView{
			ID:            tx.ID.String(),
			Type:          tx.Type,
			Status:        tx.Status,
			Amount:        tx.Amount.String(),
			StellarTxHash: tx.StellarTxHash,
		},
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}

	wallet, onLedger, synced, err := h.svc.Balance(r.Context(), acc.ID)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, BalanceResponse{
		Balance:        wallet.Balance.String(),
		StellarBalance: onLedger.String(),
		Synced:         synced,
	})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}

	wallet, err := h.svc.wallets.GetByAccountID(r.Context(), acc.ID)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	refreshed, err := h.svc.SyncBalance(r.Context(), wallet.ID)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, toWalletResponse(refreshed))
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}
	wallet, err := h.svc.wallets.GetByAccountID(r.Context(), acc.ID)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, toWalletResponse(wallet))
}

func toWalletResponse(w *models.Wallet) WalletResponse {
	return WalletResponse{
		ID:            w.ID.String(),
		PublicAddress: w.PublicAddress,
		Balance:       w.Balance.String(),
		Status:        w.Status,
		FundingCount:  w.FundingCount,
		DailyFunded:   w.DailyFundingSum.String(),
	}
}
