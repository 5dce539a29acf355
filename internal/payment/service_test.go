package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/limits"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/settlement"
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

// --- mocks ---

type mockAccounts struct {
	byID     map[uuid.UUID]*models.Account
	byHandle map[string]*models.Account
}

func (m *mockAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	return a, nil
}

func (m *mockAccounts) GetByHandle(_ context.Context, handle string) (*models.Account, error) {
	a, ok := m.byHandle[handle]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	return a, nil
}

type mockWallets struct {
	byAccount map[uuid.UUID]*models.Wallet
}

func (m *mockWallets) GetByAccountID(_ context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	w, ok := m.byAccount[accountID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return w, nil
}

type mockTxStore struct {
	mu       sync.Mutex
	txs      map[uuid.UUID]*models.Transaction
	byKey    map[string]*models.Transaction
	dailySum decimal.Decimal
}

func newMockTxStore() *mockTxStore {
	return &mockTxStore{
		txs:      make(map[uuid.UUID]*models.Transaction),
		byKey:    make(map[string]*models.Transaction),
		dailySum: decimal.Zero,
	}
}

func (m *mockTxStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockTxStore) CreateIfAbsent(_ context.Context, _ pgx.Tx, t *models.Transaction) (*models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IdempotencyKey != nil {
		if prior, ok := m.byKey[*t.IdempotencyKey]; ok {
			return prior, false, nil
		}
		m.byKey[*t.IdempotencyKey] = t
	}
	m.txs[t.ID] = t
	return t, true, nil
}

func (m *mockTxStore) GetByIdempotencyKey(_ context.Context, key string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[key], nil
}

func (m *mockTxStore) GetByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "transaction not found")
	}
	return t, nil
}

func (m *mockTxStore) SumDailyVolume(context.Context, uuid.UUID, time.Time) (decimal.Decimal, error) {
	return m.dailySum, nil
}

func (m *mockTxStore) ListByParticipant(_ context.Context, accountID uuid.UUID, status string, limit, offset int) ([]*models.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Transaction
	for _, t := range m.txs {
		if t.SenderID == accountID || t.ReceiverID == accountID {
			list = append(list, t)
		}
	}
	return list, int64(len(list)), nil
}

func (m *mockTxStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

type mockAuditor struct{ entries int }

func (m *mockAuditor) RecordTx(context.Context, pgx.Tx, *uuid.UUID, string, string, string, any) error {
	m.entries++
	return nil
}

// --- fixture ---

type fixture struct {
	svc      *Service
	txs      *mockTxStore
	enqueued []uuid.UUID
	alice    *models.Account
	bob      *models.Account
	wallets  *mockWallets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	alice := &models.Account{ID: uuid.New(), Handle: "alice", Status: models.AccountStatusActive}
	bob := &models.Account{ID: uuid.New(), Handle: "bob", Status: models.AccountStatusActive}

	f := &fixture{
		txs:   newMockTxStore(),
		alice: alice,
		bob:   bob,
		wallets: &mockWallets{byAccount: map[uuid.UUID]*models.Wallet{
			alice.ID: {ID: uuid.New(), AccountID: alice.ID, Balance: decimal.NewFromInt(500), Status: models.WalletStatusActive},
			bob.ID:   {ID: uuid.New(), AccountID: bob.ID, Balance: decimal.Zero, Status: models.WalletStatusActive},
		}},
	}
	accounts := &mockAccounts{
		byID:     map[uuid.UUID]*models.Account{alice.ID: alice, bob.ID: bob},
		byHandle: map[string]*models.Account{"alice": alice, "bob": bob},
	}
	enqueue := func(_ context.Context, _ pgx.Tx, args settlement.SettlePaymentArgs) error {
		f.enqueued = append(f.enqueued, args.TransactionID)
		return nil
	}
	f.svc = NewService(accounts, f.wallets, f.txs, &mockAuditor{}, enqueue, Policy{
		Amount:         limits.AmountPolicy{Min: decimal.RequireFromString("0.0000001"), Max: decimal.NewFromInt(10000)},
		DailySendLimit: decimal.NewFromInt(1000),
	}, nil)
	return f
}

// --- tests ---

func TestSendPaymentCreatesAndEnqueues(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(25), "key-1")
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}
	if tx.Status != models.TxStatusCreated {
		t.Errorf("status = %s, want CREATED", tx.Status)
	}
	if tx.Type != models.TxTypeP2PSend {
		t.Errorf("type = %s, want P2P_SEND", tx.Type)
	}
	if len(f.enqueued) != 1 || f.enqueued[0] != tx.ID {
		t.Errorf("expected exactly one settlement job for %s, got %v", tx.ID, f.enqueued)
	}
}

func TestSendPaymentIdempotentRetry(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(25), "key-1")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(25), "key-1")
	if err != nil {
		t.Fatalf("retried send: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("retry returned a different transaction: %s vs %s", first.ID, second.ID)
	}
	if n := f.txs.count(); n != 1 {
		t.Errorf("transaction rows = %d, want 1", n)
	}
	if len(f.enqueued) != 1 {
		t.Errorf("settlement jobs = %d, want 1", len(f.enqueued))
	}
}

func TestSendPaymentSelfPaymentRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "alice", decimal.NewFromInt(5), "")
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("error code = %s, want VALIDATION_ERROR", apperr.CodeOf(err))
	}
	if n := f.txs.count(); n != 0 {
		t.Errorf("transaction rows = %d, want 0", n)
	}
}

func TestSendPaymentUnknownRecipient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "mallory", decimal.NewFromInt(5), "")
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", apperr.CodeOf(err))
	}
}

func TestSendPaymentBlockedSender(t *testing.T) {
	f := newFixture(t)
	f.alice.Status = models.AccountStatusBlocked

	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(5), "")
	if apperr.CodeOf(err) != apperr.CodeUserBlocked {
		t.Fatalf("error code = %s, want USER_BLOCKED", apperr.CodeOf(err))
	}
}

func TestSendPaymentFrozenSenderWallet(t *testing.T) {
	f := newFixture(t)
	f.wallets.byAccount[f.alice.ID].Status = models.WalletStatusFrozen

	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(5), "")
	if apperr.CodeOf(err) != apperr.CodeWalletFrozen {
		t.Fatalf("error code = %s, want WALLET_FROZEN", apperr.CodeOf(err))
	}
}

func TestSendPaymentInsufficientBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(600), "")
	if apperr.CodeOf(err) != apperr.CodeInsufficientBalance {
		t.Fatalf("error code = %s, want INSUFFICIENT_BALANCE", apperr.CodeOf(err))
	}

	var e *apperr.Error
	if !errors.As(err, &e) {
		t.Fatal("expected an apperr.Error")
	}
	if e.Metadata["required"] != "600" || e.Metadata["available"] != "500" {
		t.Errorf("metadata = %v, want required=600 available=500", e.Metadata)
	}
	if n := f.txs.count(); n != 0 {
		t.Errorf("transaction rows = %d, want 0", n)
	}
	if len(f.enqueued) != 0 {
		t.Errorf("settlement jobs = %d, want 0", len(f.enqueued))
	}
}

func TestSendPaymentDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.txs.dailySum = decimal.NewFromInt(990)

	// 990 sent today + 20 requested exceeds the 1000 cap.
	_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(20), "")
	if apperr.CodeOf(err) != apperr.CodeLimitExceeded {
		t.Fatalf("error code = %s, want LIMIT_EXCEEDED", apperr.CodeOf(err))
	}

	// Exactly at the cap is allowed.
	if _, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(10), ""); err != nil {
		t.Fatalf("send at exact limit: %v", err)
	}
}

func TestSendPaymentAmountBounds(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5", "10001", "0.00000001"} {
		_, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.RequireFromString(amount), "")
		if apperr.CodeOf(err) != apperr.CodeValidation {
			t.Errorf("amount %s: error code = %s, want VALIDATION_ERROR", amount, apperr.CodeOf(err))
		}
	}
}

func TestGetTransactionForbiddenForOutsiders(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.SendPayment(context.Background(), f.alice.ID, "bob", decimal.NewFromInt(25), "")
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}

	outsider := &models.Account{ID: uuid.New(), Handle: "eve", Role: models.RoleUser}
	if _, err := f.svc.GetTransaction(context.Background(), outsider, tx.ID); apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Errorf("outsider access: error code = %s, want FORBIDDEN", apperr.CodeOf(err))
	}

	admin := &models.Account{ID: uuid.New(), Handle: "ops", Role: models.RoleAdmin}
	if _, err := f.svc.GetTransaction(context.Background(), admin, tx.ID); err != nil {
		t.Errorf("admin access should be allowed, got %v", err)
	}
	if _, err := f.svc.GetTransaction(context.Background(), f.bob, tx.ID); err != nil {
		t.Errorf("recipient access should be allowed, got %v", err)
	}
}
