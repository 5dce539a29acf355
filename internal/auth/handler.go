package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/httpapi"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/models"
)

type UpdateHandleRequest struct {
	Handle string `json:"handle"`
}

type AccountResponse struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	Status    string `json:"status"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type SessionResponse struct {
	Account AccountResponse `json:"account"`
	Created bool            `json:"created"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Session exchanges an identity-provider token for a local account,
// provisioning account and wallet on first authentication.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "missing bearer token")
		return
	}
	claims, err := h.svc.VerifyToken(token)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	acc, created, err := h.svc.EnsureAccount(r.Context(), claims)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpapi.WriteSuccess(w, status, SessionResponse{Account: toAccountResponse(acc), Created: created})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) UpdateHandle(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
		return
	}
	var req UpdateHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorCode(w, apperr.CodeValidation, "invalid JSON body")
		return
	}

	updated, err := h.svc.UpdateHandle(r.Context(), acc.ID, req.Handle)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteSuccess(w, http.StatusOK, toAccountResponse(updated))
}

func toAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Handle:    a.Handle,
		Status:    a.Status,
		Role:      a.Role,
		CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
