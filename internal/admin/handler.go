// Package admin exposes the operator surface: account listing, status
// overrides and aggregate stats. Every route is admin-role-guarded in the
// router and every mutation leaves an audit entry.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/httpapi"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/repository"
)

type AccountStore interface {
	List(ctx context.Context, status string, limit, offset int) ([]*models.Account, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type WalletStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type TransactionStats interface {
	Aggregate(ctx context.Context) (*repository.Stats, error)
}

type Auditor interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AccountView struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	Status    string `json:"status"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type StatsResponse struct {
	CountByStatus map[string]int64 `json:"count_by_status"`
	TotalVolume   string           `json:"total_volume"`
	AverageAmount string           `json:"average_amount"`
}

type OverviewResponse struct {
	AccountsByStatus map[string]int64 `json:"accounts_by_status"`
	WalletsByStatus  map[string]int64 `json:"wallets_by_status"`
}

type Handler struct {
	accounts AccountStore
	wallets  WalletStore
	txs      TransactionStats
	audit    Auditor
	log      *slog.Logger
}

func NewHandler(accounts AccountStore, wallets WalletStore, txs TransactionStats, audit Auditor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, wallets: wallets, txs: txs, audit: audit, log: log}
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !validAccountStatus(status) {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid status filter")
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	accounts, err := h.accounts.List(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountView{
			ID:        a.ID.String(),
			Handle:    a.Handle,
			Status:    a.Status,
			Role:      a.Role,
			CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpapi.WriteSuccess(w, http.StatusOK, map[string]any{"accounts": out, "page": page, "limit": limit})
}

func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid account id")
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validAccountStatus(req.Status) {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "status must be one of ACTIVE, BLOCKED, SUSPENDED")
		return
	}

	if err := h.accounts.UpdateStatus(r.Context(), id, req.Status); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	h.recordAudit(r, models.AuditActionStatusChanged, "account", id, req.Status)
	httpapi.WriteSuccess(w, http.StatusOK, map[string]string{"id": id.String(), "status": req.Status})
}

func (h *Handler) SetWalletStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid wallet id")
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validWalletStatus(req.Status) {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "status must be one of ACTIVE, FROZEN, CLOSED")
		return
	}

	if err := h.wallets.UpdateStatus(r.Context(), id, req.Status); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	h.recordAudit(r, models.AuditActionWalletStatus, "wallet", id, req.Status)
	httpapi.WriteSuccess(w, http.StatusOK, map[string]string{"id": id.String(), "status": req.Status})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.txs.Aggregate(r.Context())
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, StatsResponse{
		CountByStatus: stats.CountByStatus,
		TotalVolume:   stats.TotalVolume.String(),
		AverageAmount: stats.AverageAmount.String(),
	})
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.CountByStatus(r.Context())
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	wallets, err := h.wallets.CountByStatus(r.Context())
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, OverviewResponse{
		AccountsByStatus: accounts,
		WalletsByStatus:  wallets,
	})
}

func (h *Handler) recordAudit(r *http.Request, action, resource string, id uuid.UUID, status string) {
	var actorID *uuid.UUID
	if acc := middleware.AccountFromCtx(r.Context()); acc != nil {
		actorID = &acc.ID
	}
	if err := h.audit.Record(r.Context(), actorID, action, resource, id.String(),
		map[string]string{"status": status}); err != nil {
		h.log.Warn("audit write failed", "resource", resource, "id", id, "error", err)
	}
}

func validAccountStatus(s string) bool {
	switch s {
	case models.AccountStatusActive, models.AccountStatusBlocked, models.AccountStatusSuspended:
		return true
	}
	return false
}

func validWalletStatus(s string) bool {
	switch s {
	case models.WalletStatusActive, models.WalletStatusFrozen, models.WalletStatusClosed:
		return true
	}
	return false
}
