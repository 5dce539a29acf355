package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/limits"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/settlement"
)

// AccountStore resolves payment participants.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByHandle(ctx context.Context, handle string) (*models.Account, error)
}

// WalletStore resolves participant wallets.
type WalletStore interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

// TransactionStore is the subset of the transaction ledger store intake needs.
type TransactionStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, t *models.Transaction) (*models.Transaction, bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	SumDailyVolume(ctx context.Context, senderID uuid.UUID, dayStart time.Time) (decimal.Decimal, error)
	ListByParticipant(ctx context.Context, accountID uuid.UUID, status string, limit, offset int) ([]*models.Transaction, int64, error)
}

// Auditor records intake audit entries inside the intake transaction.
type Auditor interface {
	RecordTx(ctx context.Context, tx pgx.Tx, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
}

// EnqueueSettlementTxFunc enqueues a settlement job within the given database
// transaction. Provided by main as a closure over river.Client.InsertTx so
// the job and the transaction row commit atomically.
type EnqueueSettlementTxFunc func(ctx context.Context, tx pgx.Tx, args settlement.SettlePaymentArgs) error

// Policy bundles the intake-time limit configuration.
type Policy struct {
	Amount         limits.AmountPolicy
	DailySendLimit decimal.Decimal
}

// Service validates payment requests and persists them in CREATED state. The
// caller never waits for settlement; the worker protocol owns everything
// after the enqueue.
type Service struct {
	accounts AccountStore
	wallets  WalletStore
	txs      TransactionStore
	audit    Auditor
	enqueue  EnqueueSettlementTxFunc
	policy   Policy
	log      *slog.Logger
}

func NewService(accounts AccountStore, wallets WalletStore, txs TransactionStore, audit Auditor, enqueue EnqueueSettlementTxFunc, policy Policy, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{accounts: accounts, wallets: wallets, txs: txs, audit: audit, enqueue: enqueue, policy: policy, log: log}
}

// SendPayment runs the full intake pipeline. Returns the CREATED transaction
// (or the prior transaction when the idempotency key was already used).
func (s *Service) SendPayment(ctx context.Context, senderID uuid.UUID, recipientHandle string, amount decimal.Decimal, idempotencyKey string) (*models.Transaction, error) {
	if err := limits.ValidateAmount(amount, s.policy.Amount); err != nil {
		return nil, err
	}

	// Idempotency short-circuit before any participant lookups: a retried
	// request returns the original transaction with no new side effects.
	if idempotencyKey != "" {
		prior, err := s.txs.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	sender, err := s.accounts.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.accounts.GetByHandle(ctx, recipientHandle)
	if err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "recipient %q not found", recipientHandle)
	}
	if sender.ID == recipient.ID {
		return nil, apperr.New(apperr.CodeValidation, "cannot send a payment to yourself")
	}
	if sender.Status == models.AccountStatusBlocked {
		return nil, apperr.New(apperr.CodeUserBlocked, "sender account is blocked")
	}
	if recipient.Status == models.AccountStatusBlocked {
		return nil, apperr.New(apperr.CodeUserBlocked, "recipient account is blocked")
	}

	senderWallet, err := s.wallets.GetByAccountID(ctx, sender.ID)
	if err != nil {
		return nil, err
	}
	recipientWallet, err := s.wallets.GetByAccountID(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	if err := checkWalletUsable(senderWallet, "sender"); err != nil {
		return nil, err
	}
	if err := checkWalletUsable(recipientWallet, "recipient"); err != nil {
		return nil, err
	}

	// Cached balance check. The cache may be stale; the ledger itself is the
	// final enforcer at settlement time, where an overdraft resolves to
	// FAILED instead of an error here.
	if senderWallet.Balance.LessThan(amount) {
		return nil, apperr.New(apperr.CodeInsufficientBalance, "insufficient balance").
			WithMeta(map[string]string{
				"required":  amount.String(),
				"available": senderWallet.Balance.String(),
			})
	}

	dailySum, err := s.txs.SumDailyVolume(ctx, sender.ID, limits.DayStart(time.Now()))
	if err != nil {
		return nil, err
	}
	if err := limits.CheckDailySendVolume(dailySum, amount, s.policy.DailySendLimit); err != nil {
		return nil, err
	}

	meta, err := json.Marshal(models.TxMetadata{
		SenderHandle:   sender.Handle,
		ReceiverHandle: recipient.Handle,
	})
	if err != nil {
		return nil, err
	}

	t := &models.Transaction{
		ID:         uuid.New(),
		SenderID:   sender.ID,
		ReceiverID: recipient.ID,
		Amount:     amount,
		Type:       models.TxTypeP2PSend,
		Status:     models.TxStatusCreated,
		Metadata:   meta,
	}
	if idempotencyKey != "" {
		t.IdempotencyKey = &idempotencyKey
	}

	tx, err := s.txs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	persisted, created, err := s.txs.CreateIfAbsent(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if !created {
		// Concurrent retry won the insert; return its row, enqueue nothing.
		return persisted, nil
	}

	if err := s.audit.RecordTx(ctx, tx, &sender.ID, models.AuditActionTxCreated, "transaction", t.ID.String(),
		map[string]string{"amount": amount.String(), "recipient": recipient.Handle}); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, settlement.SettlePaymentArgs{TransactionID: t.ID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("payment accepted", "transaction_id", t.ID, "sender", sender.Handle, "recipient", recipient.Handle, "amount", amount)
	return persisted, nil
}

// GetTransaction returns a transaction snapshot, restricted to participants
// and admins.
func (s *Service) GetTransaction(ctx context.Context, caller *models.Account, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && caller.ID != t.SenderID && caller.ID != t.ReceiverID {
		return nil, apperr.New(apperr.CodeForbidden, "not a participant in this transaction")
	}
	return t, nil
}

// History pages the caller's transactions, newest first.
func (s *Service) History(ctx context.Context, callerID uuid.UUID, status string, page, limit int) ([]*models.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.txs.ListByParticipant(ctx, callerID, status, limit, (page-1)*limit)
}

func checkWalletUsable(w *models.Wallet, who string) error {
	switch w.Status {
	case models.WalletStatusFrozen:
		return apperr.Newf(apperr.CodeWalletFrozen, "%s wallet is frozen", who)
	case models.WalletStatusClosed:
		return apperr.Newf(apperr.CodeValidation, "%s wallet is closed", who)
	}
	return nil
}
