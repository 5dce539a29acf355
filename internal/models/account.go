package models

import (
	"time"

	"github.com/google/uuid"
)

// Account status and role enums.
const (
	AccountStatusActive    = "ACTIVE"
	AccountStatusBlocked   = "BLOCKED"
	AccountStatusSuspended = "SUSPENDED"

	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Handle constraints: 3-30 chars of [a-z0-9_], unique case-insensitively.
const (
	HandleMinLen = 3
	HandleMaxLen = 30
)

type Account struct {
	ID        uuid.UUID `json:"id"`
	IdpID     string    `json:"-"`
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }
