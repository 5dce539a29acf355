package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction type enums.
const (
	TxTypeFunding    = "FUNDING"
	TxTypeP2PSend    = "P2P_SEND"
	TxTypeP2PReceive = "P2P_RECEIVE"
)

// Transaction status state machine:
//
//	CREATED -> PENDING -> SUCCESS
//	CREATED -> FAILED   (pre-validation)
//	PENDING -> FAILED   (retries exhausted)
//
// SUCCESS and FAILED are terminal.
const (
	TxStatusCreated = "CREATED"
	TxStatusPending = "PENDING"
	TxStatusSuccess = "SUCCESS"
	TxStatusFailed  = "FAILED"
)

// Transaction is the authoritative internal record of a payment. Sender,
// receiver and amount are immutable after creation; only status, settlement
// metadata and failure bookkeeping change, and only via guarded transitions.
// Rows are never deleted.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	SenderID       uuid.UUID       `json:"sender_id"`
	ReceiverID     uuid.UUID       `json:"receiver_id"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	StellarTxHash  *string         `json:"stellar_tx_hash,omitempty"`
	LedgerSeq      *int64          `json:"ledger_seq,omitempty"`
	IdempotencyKey *string         `json:"-"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	RetryCount     int             `json:"retry_count"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the transaction has reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TxStatusSuccess || t.Status == TxStatusFailed
}

// TxMetadata is the handle snapshot stored on each transaction at creation
// time so history stays displayable even if handles later change.
type TxMetadata struct {
	SenderHandle   string `json:"sender_handle"`
	ReceiverHandle string `json:"receiver_handle"`
}
