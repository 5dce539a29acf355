package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/repository"
	"github.com/lumenpay/backend/internal/stellar"
)

var settlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payments_settlement_outcomes_total",
	Help: "Settlement job outcomes by result",
}, []string{"outcome"})

// TransactionStore is the guarded transaction ledger store the worker drives.
type TransactionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, fromStates []string, toState string, outcome repository.TransitionOutcome) (*models.Transaction, error)
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
}

// AccountStore re-reads participant accounts at processing time.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// WalletStore re-reads participant wallets at processing time.
type WalletStore interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

// Custodian decrypts the sender seed and refreshes balance caches.
type Custodian interface {
	DecryptSeed(w *models.Wallet) (string, error)
	SyncBalance(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
}

// Auditor records worker-side transitions.
type Auditor interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
}

// Worker drives one transaction per job from CREATED through ledger
// submission to a terminal state. Safe under duplicate delivery: the guarded
// status transitions make sure at most one concurrent worker reaches ledger
// submission for a given transaction.
type Worker struct {
	river.WorkerDefaults[SettlePaymentArgs]

	txs        TransactionStore
	accounts   AccountStore
	wallets    WalletStore
	custody    Custodian
	gateway    stellar.Gateway
	audit      Auditor
	log        *slog.Logger
	maxRetries int
	baseDelay  time.Duration
}

func NewWorker(
	txs TransactionStore,
	accounts AccountStore,
	wallets WalletStore,
	custody Custodian,
	gateway stellar.Gateway,
	audit Auditor,
	log *slog.Logger,
	maxRetries int,
	baseDelay time.Duration,
) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		txs: txs, accounts: accounts, wallets: wallets, custody: custody,
		gateway: gateway, audit: audit, log: log,
		maxRetries: maxRetries, baseDelay: baseDelay,
	}
}

// NextRetry implements exponential backoff: the base delay doubles with each
// attempt.
func (w *Worker) NextRetry(job *river.Job[SettlePaymentArgs]) time.Time {
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return time.Now().Add(w.baseDelay << (attempt - 1))
}

func (w *Worker) Work(ctx context.Context, job *river.Job[SettlePaymentArgs]) error {
	txID := job.Args.TransactionID
	log := w.log.With("transaction_id", txID, "attempt", job.Attempt)

	t, err := w.txs.GetByID(ctx, txID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			// Nothing to settle and nothing a retry could find; drop the job.
			log.Error("settlement job references missing transaction")
			return nil
		}
		return err
	}

	// Duplicate delivery of an already-settled transaction is a no-op.
	if t.IsTerminal() {
		return nil
	}

	switch t.Status {
	case models.TxStatusCreated:
		if _, err := w.txs.TransitionStatus(ctx, txID, []string{models.TxStatusCreated}, models.TxStatusPending, repository.TransitionOutcome{}); err != nil {
			if apperr.CodeOf(err) == apperr.CodeInvalidTransition {
				// A concurrent delivery won the pickup; it owns this
				// transaction now.
				log.Info("lost pickup race, exiting")
				return nil
			}
			return err
		}
		w.recordTransition(ctx, txID, models.TxStatusCreated, models.TxStatusPending, "")
	case models.TxStatusPending:
		// PENDING on a first attempt means a different delivery holds the
		// transaction. On a retry it is our own earlier attempt; continue.
		if job.Attempt <= 1 {
			log.Info("transaction already in flight, exiting")
			return nil
		}
	}

	// Re-validate everything that can have changed since intake. Violations
	// here go straight to FAILED without touching the ledger.
	senderWallet, receiverWallet, reason, err := w.revalidate(ctx, t)
	if err != nil {
		return err
	}
	if reason != "" {
		log.Warn("pre-submission validation failed", "reason", reason)
		return w.fail(ctx, t, reason)
	}

	seed, err := w.custody.DecryptSeed(senderWallet)
	if err != nil {
		// Corrupted ciphertext won't heal on retry; fail the transaction and
		// leave the security event in the logs.
		return w.fail(ctx, t, "wallet secret integrity check failed")
	}

	result, err := w.gateway.SubmitPayment(ctx, seed, receiverWallet.PublicAddress, t.Amount, t.ID.String())
	if err != nil {
		return w.handleSubmitFailure(ctx, t, err, log)
	}

	if _, err := w.txs.TransitionStatus(ctx, txID, []string{models.TxStatusPending}, models.TxStatusSuccess, repository.TransitionOutcome{
		StellarTxHash: &result.Hash,
		LedgerSeq:     &result.LedgerSeq,
	}); err != nil {
		if apperr.CodeOf(err) == apperr.CodeInvalidTransition {
			// Another worker already finalized it; our submission was the
			// duplicate the guard exists to absorb.
			log.Warn("transaction finalized concurrently after submission")
			return nil
		}
		return err
	}
	w.recordTransition(ctx, txID, models.TxStatusPending, models.TxStatusSuccess, "")
	settlementOutcomes.WithLabelValues("success").Inc()
	log.Info("payment settled", "hash", result.Hash, "ledger", result.LedgerSeq)

	// Best-effort cache refresh; staleness here is corrected by the next
	// sync and never reverts the SUCCESS transition.
	for _, wid := range []uuid.UUID{senderWallet.ID, receiverWallet.ID} {
		if _, err := w.custody.SyncBalance(ctx, wid); err != nil {
			log.Warn("post-settlement balance refresh failed", "wallet_id", wid, "error", err)
		}
	}
	return nil
}

// revalidate reloads both participants and returns a human-readable failure
// reason when a precondition no longer holds.
func (w *Worker) revalidate(ctx context.Context, t *models.Transaction) (senderWallet, receiverWallet *models.Wallet, reason string, err error) {
	sender, err := w.accounts.GetByID(ctx, t.SenderID)
	if err != nil {
		return nil, nil, "", err
	}
	receiver, err := w.accounts.GetByID(ctx, t.ReceiverID)
	if err != nil {
		return nil, nil, "", err
	}
	if senderWallet, err = w.wallets.GetByAccountID(ctx, t.SenderID); err != nil {
		return nil, nil, "", err
	}
	if receiverWallet, err = w.wallets.GetByAccountID(ctx, t.ReceiverID); err != nil {
		return nil, nil, "", err
	}

	switch {
	case sender.Status == models.AccountStatusBlocked:
		reason = "sender account is blocked"
	case receiver.Status == models.AccountStatusBlocked:
		reason = "recipient account is blocked"
	case senderWallet.Status != models.WalletStatusActive:
		reason = fmt.Sprintf("sender wallet is %s", senderWallet.Status)
	case receiverWallet.Status != models.WalletStatusActive:
		reason = fmt.Sprintf("recipient wallet is %s", receiverWallet.Status)
	}
	return senderWallet, receiverWallet, reason, nil
}

// handleSubmitFailure implements the retry contract: every failure either
// schedules another attempt or lands the transaction in FAILED. A transaction
// is never left in PENDING with no retry coming.
func (w *Worker) handleSubmitFailure(ctx context.Context, t *models.Transaction, submitErr error, log *slog.Logger) error {
	count, err := w.txs.IncrementRetry(ctx, t.ID)
	if err != nil {
		// Can't record the attempt; let the queue redeliver and try again.
		log.Error("retry counter update failed", "error", err)
		return submitErr
	}

	if !apperr.IsRetryable(submitErr) || count >= w.maxRetries {
		settlementOutcomes.WithLabelValues("failed").Inc()
		log.Warn("settlement failed permanently", "retry_count", count, "error", submitErr)
		return w.fail(ctx, t, fmt.Sprintf("settlement failed after %d attempt(s): %v", count, submitErr))
	}

	settlementOutcomes.WithLabelValues("retried").Inc()
	log.Warn("settlement attempt failed, queue will retry", "retry_count", count, "error", submitErr)
	return submitErr
}

// fail drives the transaction to FAILED from either non-terminal state and
// completes the job (nil) so the queue stops redelivering.
func (w *Worker) fail(ctx context.Context, t *models.Transaction, reason string) error {
	from := []string{models.TxStatusCreated, models.TxStatusPending}
	if _, err := w.txs.TransitionStatus(ctx, t.ID, from, models.TxStatusFailed, repository.TransitionOutcome{
		FailureReason: &reason,
	}); err != nil {
		if apperr.CodeOf(err) == apperr.CodeInvalidTransition {
			return nil
		}
		return err
	}
	w.recordTransition(ctx, t.ID, t.Status, models.TxStatusFailed, reason)
	settlementOutcomes.WithLabelValues("failed").Inc()
	return nil
}

func (w *Worker) recordTransition(ctx context.Context, txID uuid.UUID, from, to, reason string) {
	meta := map[string]string{"from": from, "to": to}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := w.audit.Record(ctx, nil, models.AuditActionTxTransitioned, "transaction", txID.String(), meta); err != nil {
		w.log.Warn("audit write failed", "transaction_id", txID, "error", err)
	}
}
