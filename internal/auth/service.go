package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/repository"
)

// handleCollisionAttempts bounds the suffix search before giving up.
const handleCollisionAttempts = 20

// Claims are what the identity provider signs into the bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role,omitempty"`
	Handle string `json:"handle,omitempty"`
	Email  string `json:"email,omitempty"`
}

// TxBeginner opens the transaction account and wallet are created in.
// Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the account persistence the auth service needs.
type AccountStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByIdpID(ctx context.Context, idpID string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateHandle(ctx context.Context, id uuid.UUID, handle string) error
}

// WalletCreator provisions a wallet inside the account-creation transaction.
type WalletCreator interface {
	CreateWallet(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error)
}

// Auditor records account lifecycle entries.
type Auditor interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
	RecordTx(ctx context.Context, tx pgx.Tx, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
}

type Service interface {
	VerifyToken(token string) (*Claims, error)
	EnsureAccount(ctx context.Context, claims *Claims) (*models.Account, bool, error)
	GetByIdpID(ctx context.Context, idpID string) (*models.Account, error)
	UpdateHandle(ctx context.Context, accountID uuid.UUID, handle string) (*models.Account, error)
}

type service struct {
	pool     TxBeginner
	accounts AccountStore
	wallets  WalletCreator
	audit    Auditor
	secret   []byte
	log      *slog.Logger
}

func NewService(pool TxBeginner, accounts AccountStore, wallets WalletCreator, audit Auditor, secret []byte, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{pool: pool, accounts: accounts, wallets: wallets, audit: audit, secret: secret, log: log}
}

var _ Service = (*service)(nil)

// VerifyToken checks the HS256 signature and standard validity window of an
// identity-provider token.
func (s *service) VerifyToken(token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthorized, "invalid token", err)
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid token")
	}
	return c, nil
}

// EnsureAccount resolves the local account for an idp subject, creating
// account and wallet together on first authentication. Returns created=true
// on the first call for a subject.
func (s *service) EnsureAccount(ctx context.Context, claims *Claims) (*models.Account, bool, error) {
	acc, err := s.accounts.GetByIdpID(ctx, claims.Subject)
	if err == nil {
		return acc, false, nil
	}
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		return nil, false, err
	}

	base := deriveHandle(claims)
	handle := base
	for attempt := 0; attempt < handleCollisionAttempts; attempt++ {
		acc, err = s.createAccount(ctx, claims, handle)
		if err == nil {
			s.log.Info("account provisioned", "account_id", acc.ID, "handle", acc.Handle)
			return acc, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateHandle) {
			// The idp id itself can collide when two first logins race;
			// the loser finds the winner's row.
			if existing, gerr := s.accounts.GetByIdpID(ctx, claims.Subject); gerr == nil {
				return existing, false, nil
			}
			return nil, false, err
		}
		handle = suffixHandle(base, attempt+2)
	}
	return nil, false, apperr.Newf(apperr.CodeConflict, "could not allocate a unique handle for %q", base)
}

func (s *service) createAccount(ctx context.Context, claims *Claims, handle string) (*models.Account, error) {
	role := models.RoleUser
	if claims.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}
	acc := &models.Account{
		ID:     uuid.New(),
		IdpID:  claims.Subject,
		Handle: handle,
		Status: models.AccountStatusActive,
		Role:   role,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := s.accounts.CreateTx(ctx, tx, acc); err != nil {
		return nil, err
	}
	w, err := s.wallets.CreateWallet(ctx, tx, acc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.audit.RecordTx(ctx, tx, &acc.ID, models.AuditActionAccountCreated, "account", acc.ID.String(),
		map[string]string{"handle": acc.Handle, "wallet_id": w.ID.String()}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "commit account creation", err)
	}
	return acc, nil
}

func (s *service) GetByIdpID(ctx context.Context, idpID string) (*models.Account, error) {
	return s.accounts.GetByIdpID(ctx, idpID)
}

// UpdateHandle renames the caller's handle, enforcing the handle rules and
// uniqueness.
func (s *service) UpdateHandle(ctx context.Context, accountID uuid.UUID, handle string) (*models.Account, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateHandle(ctx, accountID, handle); err != nil {
		if errors.Is(err, repository.ErrDuplicateHandle) {
			return nil, apperr.Newf(apperr.CodeConflict, "handle %q is already taken", handle)
		}
		return nil, err
	}
	if err := s.audit.Record(ctx, &accountID, models.AuditActionHandleChanged, "account", accountID.String(),
		map[string]string{"handle": handle}); err != nil {
		s.log.Warn("audit write failed", "error", err)
	}
	return s.accounts.GetByID(ctx, accountID)
}

func validateHandle(h string) error {
	if len(h) < models.HandleMinLen || len(h) > models.HandleMaxLen {
		return apperr.Newf(apperr.CodeValidation, "handle must be %d-%d characters", models.HandleMinLen, models.HandleMaxLen)
	}
	for _, r := range h {
		if !isHandleRune(r) {
			return apperr.New(apperr.CodeValidation, "handle may contain lowercase letters, digits and underscores only")
		}
	}
	return nil
}

func isHandleRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// deriveHandle builds a starting handle from the token claims: the explicit
// handle claim when present, otherwise the email local part, sanitized to the
// handle alphabet.
func deriveHandle(c *Claims) string {
	raw := c.Handle
	if raw == "" {
		raw = c.Email
		if i := strings.IndexByte(raw, '@'); i >= 0 {
			raw = raw[:i]
		}
	}
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case isHandleRune(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
			b.WriteByte('_')
		}
	}
	h := b.String()
	if len(h) < models.HandleMinLen {
		h = "user_" + time.Now().Format("060102150405")
	}
	if len(h) > models.HandleMaxLen {
		h = h[:models.HandleMaxLen]
	}
	return h
}

// suffixHandle appends a numeric suffix, trimming the base so the result
// stays within the length limit.
func suffixHandle(base string, n int) string {
	suffix := fmt.Sprintf("%d", n)
	maxBase := models.HandleMaxLen - len(suffix)
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + suffix
}
