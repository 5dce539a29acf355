package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenpay/backend/internal/admin"
	"github.com/lumenpay/backend/internal/auth"
	"github.com/lumenpay/backend/internal/custody"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/payment"
)

// New wires the API under /api/v1. The session endpoint authenticates itself
// from the raw token (it has to, accounts don't exist yet); everything else
// sits behind the bearer-auth middleware.
func New(
	authHandler *auth.Handler,
	custodyHandler *custody.Handler,
	paymentHandler *payment.Handler,
	adminHandler *admin.Handler,
	authn func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/session", authHandler.Session)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/account/me", authHandler.Me)
	api.HandleFunc("PATCH /api/v1/account/handle", middleware.RequireActive(authHandler.UpdateHandle))

	api.HandleFunc("GET /api/v1/wallet", custodyHandler.GetWallet)
	api.HandleFunc("GET /api/v1/wallet/balance", custodyHandler.Balance)
	api.HandleFunc("POST /api/v1/wallet/fund", middleware.RequireActive(custodyHandler.Fund))
	api.HandleFunc("POST /api/v1/wallet/sync", custodyHandler.Sync)

	api.HandleFunc("POST /api/v1/transactions/send", middleware.RequireActive(paymentHandler.Send))
	api.HandleFunc("GET /api/v1/transactions/history", paymentHandler.History)
	api.HandleFunc("GET /api/v1/transactions/{id}", paymentHandler.Get)

	api.HandleFunc("GET /api/v1/admin/accounts", middleware.RequireAdmin(adminHandler.ListAccounts))
	api.HandleFunc("PATCH /api/v1/admin/accounts/{id}/status", middleware.RequireAdmin(adminHandler.SetAccountStatus))
	api.HandleFunc("PATCH /api/v1/admin/wallets/{id}/status", middleware.RequireAdmin(adminHandler.SetWalletStatus))
	api.HandleFunc("GET /api/v1/admin/stats", middleware.RequireAdmin(adminHandler.Stats))
	api.HandleFunc("GET /api/v1/admin/overview", middleware.RequireAdmin(adminHandler.Overview))

	mux.Handle("/api/v1/", authn(api))

	return middleware.Metrics(mux)
}
