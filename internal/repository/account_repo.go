package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
)

// ErrDuplicateHandle signals a unique violation on the handle column.
var ErrDuplicateHandle = errors.New("handle already taken")

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const accountCols = "id, idp_id, handle, status, role, created_at, updated_at"

// CreateTx inserts an account inside the caller's transaction so account and
// wallet creation commit or roll back together.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO accounts (id, idp_id, handle, status, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, a.ID, a.IdpID, a.Handle, a.Status, a.Role).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err, "accounts_handle_key") {
		return ErrDuplicateHandle
	}
	return err
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetByIdpID(ctx context.Context, idpID string) (*models.Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE idp_id = $1`, idpID))
}

// GetByHandle resolves case-insensitively; handles are stored lowercase.
func (r *AccountRepo) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE handle = lower($1)`, handle))
}

func (r *AccountRepo) UpdateHandle(ctx context.Context, id uuid.UUID, handle string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET handle = $2, updated_at = now() WHERE id = $1
	`, id, handle)
	if isUniqueViolation(err, "accounts_handle_key") {
		return ErrDuplicateHandle
	}
	return err
}

func (r *AccountRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "account not found")
	}
	return nil
}

// List returns a page of accounts, optionally filtered by status.
func (r *AccountRepo) List(ctx context.Context, status string, limit, offset int) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountCols+` FROM accounts
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.IdpID, &a.Handle, &a.Status, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// CountByStatus returns account counts keyed by status.
func (r *AccountRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM accounts GROUP BY status`)
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

func (r *AccountRepo) scanOne(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.IdpID, &a.Handle, &a.Status, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}
