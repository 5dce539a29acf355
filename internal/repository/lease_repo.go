package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseRepo backs the distributed lock with a Postgres lease row per key.
// The relational store and the job queue are the only coordination points
// between instances, so the lease lives in the store too.
//
// Acquire succeeds when the key is free or its lease has expired; holders
// must Release (or let the TTL lapse) when done. Used to serialize payments
// from the master funding account, which shares one on-ledger sequence
// number.
type LeaseRepo struct {
	pool *pgxpool.Pool
}

func NewLeaseRepo(pool *pgxpool.Pool) *LeaseRepo {
	return &LeaseRepo{pool: pool}
}

func (r *LeaseRepo) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO leases (key, holder, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (key) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < now()
	`, key, holder, ttl)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeaseRepo) Release(ctx context.Context, key, holder string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM leases WHERE key = $1 AND holder = $2`, key, holder)
	return err
}

// Renew extends a held lease; returns false if the caller no longer holds it.
func (r *LeaseRepo) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leases SET expires_at = now() + $3 WHERE key = $1 AND holder = $2 AND expires_at >= now()
	`, key, holder, ttl)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
