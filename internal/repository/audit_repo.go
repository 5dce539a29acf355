package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenpay/backend/internal/models"
)

// AuditRepo writes the append-only audit log. There are no update or delete
// operations on purpose.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Record(ctx context.Context, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, resource, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), actorID, action, resource, resourceID, meta)
	return err
}

// RecordTx writes an entry inside the caller's transaction so the audit trail
// commits atomically with the change it describes.
func (r *AuditRepo) RecordTx(ctx context.Context, tx pgx.Tx, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, resource, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), actorID, action, resource, resourceID, meta)
	return err
}

func (r *AuditRepo) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*models.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, resource, resource_id, metadata, created_at
		FROM audit_log WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at DESC LIMIT $3
	`, resource, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Resource, &e.ResourceID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func marshalMeta(metadata any) (json.RawMessage, error) {
	if metadata == nil {
		return nil, nil
	}
	if raw, ok := metadata.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(metadata)
}
