package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/repository"
)

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- account store mock enforcing handle uniqueness ---

type mockAccounts struct {
	byIdpID  map[string]*models.Account
	byHandle map[string]*models.Account
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{
		byIdpID:  make(map[string]*models.Account),
		byHandle: make(map[string]*models.Account),
	}
}

func (m *mockAccounts) CreateTx(_ context.Context, _ pgx.Tx, a *models.Account) error {
	if _, taken := m.byHandle[a.Handle]; taken {
		return repository.ErrDuplicateHandle
	}
	m.byIdpID[a.IdpID] = a
	m.byHandle[a.Handle] = a
	return nil
}

func (m *mockAccounts) GetByIdpID(_ context.Context, idpID string) (*models.Account, error) {
	a, ok := m.byIdpID[idpID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	return a, nil
}

func (m *mockAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	for _, a := range m.byIdpID {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "account not found")
}

func (m *mockAccounts) UpdateHandle(_ context.Context, id uuid.UUID, handle string) error {
	if _, taken := m.byHandle[handle]; taken {
		return repository.ErrDuplicateHandle
	}
	a, err := m.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	delete(m.byHandle, a.Handle)
	a.Handle = handle
	m.byHandle[handle] = a
	return nil
}

type mockWalletCreator struct{ created int }

func (m *mockWalletCreator) CreateWallet(_ context.Context, _ pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	m.created++
	return &models.Wallet{ID: uuid.New(), AccountID: accountID}, nil
}

type mockAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockAuditor) Record(_ context.Context, _ *uuid.UUID, action, _, _ string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

func (m *mockAuditor) RecordTx(_ context.Context, _ pgx.Tx, _ *uuid.UUID, action, _, _ string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

func (m *mockAuditor) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

const testSecret = "test-idp-secret"

func newTestService(accounts *mockAccounts) (*service, *mockWalletCreator) {
	wallets := &mockWalletCreator{}
	return NewService(mockPool{}, accounts, wallets, &mockAuditor{}, []byte(testSecret), nil), wallets
}

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// --- tests ---

func TestVerifyToken(t *testing.T) {
	svc, _ := newTestService(newMockAccounts())

	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Handle: "alice",
	})

	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "idp-123" || claims.Handle != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyTokenRejectsBadSignature(t *testing.T) {
	svc, _ := newTestService(newMockAccounts())

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-123"},
	})
	signed, _ := tok.SignedString([]byte("some-other-secret"))

	if _, err := svc.VerifyToken(signed); apperr.CodeOf(err) != apperr.CodeUnauthorized {
		t.Errorf("code = %s, want UNAUTHORIZED", apperr.CodeOf(err))
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc, _ := newTestService(newMockAccounts())

	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if _, err := svc.VerifyToken(token); apperr.CodeOf(err) != apperr.CodeUnauthorized {
		t.Errorf("code = %s, want UNAUTHORIZED", apperr.CodeOf(err))
	}
}

func TestEnsureAccountCreatesOnce(t *testing.T) {
	accounts := newMockAccounts()
	svc, wallets := newTestService(accounts)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-1"}, Handle: "alice"}

	acc, created, err := svc.EnsureAccount(context.Background(), claims)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if !created {
		t.Error("first authentication should create the account")
	}
	if acc.Handle != "alice" {
		t.Errorf("handle = %q, want alice", acc.Handle)
	}
	if wallets.created != 1 {
		t.Errorf("wallets created = %d, want 1", wallets.created)
	}

	again, created, err := svc.EnsureAccount(context.Background(), claims)
	if err != nil {
		t.Fatalf("second EnsureAccount: %v", err)
	}
	if created {
		t.Error("second authentication must not create a new account")
	}
	if again.ID != acc.ID {
		t.Error("second authentication resolved a different account")
	}
	if wallets.created != 1 {
		t.Errorf("wallets created = %d, want still 1", wallets.created)
	}
}

func TestEnsureAccountHandleCollision(t *testing.T) {
	accounts := newMockAccounts()
	svc, _ := newTestService(accounts)

	first, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-1"}, Handle: "alice",
	})
	if err != nil {
		t.Fatalf("first EnsureAccount: %v", err)
	}
	second, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-2"}, Handle: "alice",
	})
	if err != nil {
		t.Fatalf("second EnsureAccount: %v", err)
	}

	if first.Handle != "alice" {
		t.Errorf("first handle = %q, want alice", first.Handle)
	}
	if second.Handle == "alice" {
		t.Error("collision must produce a different handle")
	}
	if !strings.HasPrefix(second.Handle, "alice") {
		t.Errorf("suffixed handle = %q, want alice prefix", second.Handle)
	}
}

func TestEnsureAccountDerivesFromEmail(t *testing.T) {
	accounts := newMockAccounts()
	svc, _ := newTestService(accounts)

	acc, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-9"},
		Email:            "Bob.Smith@example.com",
	})
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if acc.Handle != "bob_smith" {
		t.Errorf("handle = %q, want bob_smith", acc.Handle)
	}
}

func TestUpdateHandleValidation(t *testing.T) {
	accounts := newMockAccounts()
	svc, _ := newTestService(accounts)

	acc, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-1"}, Handle: "alice",
	})
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	for _, bad := range []string{"ab", strings.Repeat("x", 31), "no spaces", "UPPER?", "dash-ed"} {
		if _, err := svc.UpdateHandle(context.Background(), acc.ID, bad); apperr.CodeOf(err) != apperr.CodeValidation {
			t.Errorf("UpdateHandle(%q) code = %s, want VALIDATION_ERROR", bad, apperr.CodeOf(err))
		}
	}

	updated, err := svc.UpdateHandle(context.Background(), acc.ID, "alice_2")
	if err != nil {
		t.Fatalf("UpdateHandle: %v", err)
	}
	if updated.Handle != "alice_2" {
		t.Errorf("handle = %q, want alice_2", updated.Handle)
	}
}

func TestUpdateHandleAudited(t *testing.T) {
	accounts := newMockAccounts()
	audit := &mockAuditor{}
	svc := NewService(mockPool{}, accounts, &mockWalletCreator{}, audit, []byte(testSecret), nil)

	acc, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-1"}, Handle: "alice",
	})
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if !audit.has(models.AuditActionAccountCreated) {
		t.Error("account creation not audited")
	}

	if _, err := svc.UpdateHandle(context.Background(), acc.ID, "alice_2"); err != nil {
		t.Fatalf("UpdateHandle: %v", err)
	}
	if !audit.has(models.AuditActionHandleChanged) {
		t.Error("handle change not audited")
	}
}

func TestUpdateHandleConflict(t *testing.T) {
	accounts := newMockAccounts()
	svc, _ := newTestService(accounts)

	_, _, _ = svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-1"}, Handle: "alice",
	})
	bob, _, err := svc.EnsureAccount(context.Background(), &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-2"}, Handle: "bob",
	})
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	if _, err := svc.UpdateHandle(context.Background(), bob.ID, "alice"); apperr.CodeOf(err) != apperr.CodeConflict {
		t.Errorf("code = %s, want CONFLICT", apperr.CodeOf(err))
	}
}

func TestSuffixHandleRespectsLengthLimit(t *testing.T) {
	base := strings.Repeat("a", models.HandleMaxLen)
	got := suffixHandle(base, 12)
	if len(got) > models.HandleMaxLen {
		t.Errorf("suffixed handle length = %d, exceeds %d", len(got), models.HandleMaxLen)
	}
	if !strings.HasSuffix(got, "12") {
		t.Errorf("suffixed handle = %q, want numeric suffix 12", got)
	}
}
