package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/httpapi"
	"github.com/lumenpay/backend/internal/models"
)

type contextKey string

const ctxAccountKey contextKey = "account"

// VerifySubjectFunc validates a bearer token and returns the identity
// provider subject it was issued for.
type VerifySubjectFunc func(token string) (string, error)

// AccountLookup resolves the local account for an idp subject.
type AccountLookup interface {
	GetByIdpID(ctx context.Context, idpID string) (*models.Account, error)
}

// BearerAuth authenticates requests with an identity-provider JWT and puts
// the resolved local account into request context. Accounts are created by
// the session endpoint, not here; an unknown subject is unauthorized.
func BearerAuth(verify VerifySubjectFunc, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "missing or malformed Authorization header")
				return
			}
			subject, err := verify(raw)
			if err != nil {
				httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "invalid token")
				return
			}
			acc, err := accounts.GetByIdpID(r.Context(), subject)
			if err != nil {
				if apperr.CodeOf(err) == apperr.CodeNotFound {
					httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "no account for this identity, create a session first")
					return
				}
				httpapi.WriteError(w, nil, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// RequireActive rejects blocked and suspended accounts on mutating routes.
func RequireActive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc := AccountFromCtx(r.Context())
		if acc == nil {
			httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
			return
		}
		if acc.Status != models.AccountStatusActive {
			httpapi.WriteErrorCode(w, apperr.CodeUserBlocked, "account is not active")
			return
		}
		next(w, r)
	}
}

// RequireAdmin guards admin routes.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc := AccountFromCtx(r.Context())
		if acc == nil {
			httpapi.WriteErrorCode(w, apperr.CodeUnauthorized, "authentication required")
			return
		}
		if !acc.IsAdmin() {
			httpapi.WriteErrorCode(w, apperr.CodeForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
