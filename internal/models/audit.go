package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by intake, the settlement worker and admin handlers.
const (
	AuditActionAccountCreated = "account.created"
	AuditActionHandleChanged  = "account.handle_changed"
	AuditActionStatusChanged  = "account.status_changed"
	AuditActionWalletCreated  = "wallet.created"
	AuditActionWalletFunded   = "wallet.funded"
	AuditActionWalletStatus   = "wallet.status_changed"
	AuditActionTxCreated      = "transaction.created"
	AuditActionTxTransitioned = "transaction.transitioned"
)

// AuditEntry is an append-only record. Entries are never updated or deleted.
type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
