package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const txCols = `id, sender_id, receiver_id, amount::text, type, status, stellar_tx_hash, ledger_seq,
	idempotency_key, failure_reason, retry_count, metadata, created_at, updated_at, completed_at`

// CreateIfAbsent inserts the transaction unless a row with the same
// idempotency key already exists, in which case that row is returned
// unchanged and created is false. This is the sole guard against duplicate
// submission from client retries.
func (r *TransactionRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, t *models.Transaction) (existing *models.Transaction, created bool, err error) {
	if t.IdempotencyKey != nil {
		prior, err := r.getByIdempotencyKeyTx(ctx, tx, *t.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if prior != nil {
			return prior, false, nil
		}
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (id, sender_id, receiver_id, amount, type, status, idempotency_key, metadata, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		RETURNING created_at, updated_at
	`, t.ID, t.SenderID, t.ReceiverID, t.Amount.String(), t.Type, t.Status, t.IdempotencyKey, t.Metadata).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err, "transactions_idempotency_key_key") {
		// Lost a race with a concurrent retry holding the same key.
		prior, lookupErr := r.getByIdempotencyKeyTx(ctx, tx, *t.IdempotencyKey)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return prior, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Create inserts a transaction directly, used for synchronous funding records.
func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, sender_id, receiver_id, amount, type, status, stellar_tx_hash, ledger_seq, metadata, retry_count, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		RETURNING created_at, updated_at
	`, t.ID, t.SenderID, t.ReceiverID, t.Amount.String(), t.Type, t.Status, t.StellarTxHash, t.LedgerSeq, t.Metadata, t.CompletedAt).
		Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "transaction not found")
	}
	return t, err
}

// GetByIdempotencyKey returns the transaction holding the key, or nil when
// the key is unused.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *TransactionRepo) getByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// TransitionOutcome carries the settlement metadata written alongside a
// status change. Zero-value fields are left untouched.
type TransitionOutcome struct {
	StellarTxHash *string
	LedgerSeq     *int64
	FailureReason *string
}

// TransitionStatus applies a guarded state change: the update only lands if
// the current status is one of fromStates. A stale worker that lost the race
// observes apperr.CodeInvalidTransition and must stop. Terminal transitions
// stamp completed_at.
func (r *TransactionRepo) TransitionStatus(ctx context.Context, id uuid.UUID, fromStates []string, toState string, outcome TransitionOutcome) (*models.Transaction, error) {
	terminal := toState == models.TxStatusSuccess || toState == models.TxStatusFailed
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		UPDATE transactions
		SET status = $3,
		    stellar_tx_hash = COALESCE($4, stellar_tx_hash),
		    ledger_seq      = COALESCE($5, ledger_seq),
		    failure_reason  = COALESCE($6, failure_reason),
		    completed_at    = CASE WHEN $7 THEN now() ELSE completed_at END,
		    updated_at      = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+txCols+`
	`, id, fromStates, toState, outcome.StellarTxHash, outcome.LedgerSeq, outcome.FailureReason, terminal))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Newf(apperr.CodeInvalidTransition,
			"cannot transition transaction from %s to %s", current.Status, toState)
	}
	return t, err
}

// IncrementRetry bumps the retry counter and returns the new value.
func (r *TransactionRepo) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE transactions SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count
	`, id).Scan(&count)
	return count, err
}

// SumDailyVolume totals the sender's committed volume (PENDING and SUCCESS)
// created since dayStart.
func (r *TransactionRepo) SumDailyVolume(ctx context.Context, senderID uuid.UUID, dayStart time.Time) (decimal.Decimal, error) {
	var sum string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE sender_id = $1
		  AND status IN ($2, $3)
		  AND type != $4
		  AND created_at >= $5
	`, senderID, models.TxStatusPending, models.TxStatusSuccess, models.TxTypeFunding, dayStart).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

// ListByParticipant pages the caller's history, newest first, optionally
// filtered by status.
func (r *TransactionRepo) ListByParticipant(ctx context.Context, accountID uuid.UUID, status string, limit, offset int) ([]*models.Transaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1) AND ($2 = '' OR status = $2)
	`, accountID, status).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+txCols+` FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, accountID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

// Stats aggregates transaction counts by status plus total and average
// settled volume, for the admin dashboard.
type Stats struct {
	CountByStatus map[string]int64
	TotalVolume   decimal.Decimal
	AverageAmount decimal.Decimal
}

func (r *TransactionRepo) Aggregate(ctx context.Context) (*Stats, error) {
	stats := &Stats{CountByStatus: make(map[string]int64), TotalVolume: decimal.Zero, AverageAmount: decimal.Zero}

	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.CountByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total, avg string
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text, COALESCE(AVG(amount), 0)::text
		FROM transactions WHERE status = $1
	`, models.TxStatusSuccess).Scan(&total, &avg)
	if err != nil {
		return nil, err
	}
	if stats.TotalVolume, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if stats.AverageAmount, err = decimal.NewFromString(avg); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount string
	err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &amount, &t.Type, &t.Status, &t.StellarTxHash, &t.LedgerSeq,
		&t.IdempotencyKey, &t.FailureReason, &t.RetryCount, &t.Metadata, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &t, nil
}
