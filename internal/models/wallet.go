package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet status enums.
const (
	WalletStatusActive = "ACTIVE"
	WalletStatusFrozen = "FROZEN"
	WalletStatusClosed = "CLOSED"
)

// Wallet is a custodial Stellar account owned 1:1 by an Account. The secret
// seed is stored AES-GCM encrypted; only the custody service ever decrypts it.
// Balance is a cache of the on-ledger balance, refreshed on sync and after
// every settled transfer; the ledger is the source of truth.
type Wallet struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	PublicAddress string          `json:"public_address"`
	EncryptedSeed []byte          `json:"-"`
	SeedIV        []byte          `json:"-"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`

	FundingCount    int             `json:"funding_count"`
	DailyFundingSum decimal.Decimal `json:"daily_funding_sum"`
	LastResetDate   time.Time       `json:"last_reset_date"`
	LastFundedAt    *time.Time      `json:"last_funded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
