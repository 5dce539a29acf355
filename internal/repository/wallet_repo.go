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

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Numeric columns are selected as text and parsed into decimals so no float
// conversion ever touches an amount.
const walletCols = `id, account_id, public_address, encrypted_seed, seed_iv, balance::text, status,
	funding_count, daily_funding_sum::text, last_reset_date, last_funded_at, created_at, updated_at`

// CreateTx inserts a wallet inside the caller's transaction, atomically with
// its account row.
func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallets (id, account_id, public_address, encrypted_seed, seed_iv, balance, status, funding_count, daily_funding_sum, last_reset_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, w.ID, w.AccountID, w.PublicAddress, w.EncryptedSeed, w.SeedIV, w.Balance.String(), w.Status,
		w.FundingCount, w.DailyFundingSum.String(), w.LastResetDate).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE id = $1`, id))
}

func (r *WalletRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE account_id = $1`, accountID))
}

// UpdateBalance overwrites the cached balance. Last-writer-wins on purpose:
// the value is a cache of the on-ledger truth, not the authority.
func (r *WalletRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = now() WHERE id = $1
	`, id, balance.String())
	return err
}

// ApplyFunding records a settled funding in one statement: new cached balance
// plus the post-reset counters.
func (r *WalletRepo) ApplyFunding(ctx context.Context, id uuid.UUID, balance, dailySum decimal.Decimal, fundingCount int, lastReset, fundedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE wallets
		SET balance = $2, funding_count = $3, daily_funding_sum = $4, last_reset_date = $5, last_funded_at = $6, updated_at = now()
		WHERE id = $1
	`, id, balance.String(), fundingCount, dailySum.String(), lastReset, fundedAt)
	return err
}

func (r *WalletRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE wallets SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	return nil
}

func (r *WalletRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM wallets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	var balance, dailySum string
	err := row.Scan(&w.ID, &w.AccountID, &w.PublicAddress, &w.EncryptedSeed, &w.SeedIV, &balance, &w.Status,
		&w.FundingCount, &dailySum, &w.LastResetDate, &w.LastFundedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	if err != nil {
		return nil, err
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	if w.DailyFundingSum, err = decimal.NewFromString(dailySum); err != nil {
		return nil, err
	}
	return &w, nil
}
