package models

import "time"

// Ledger transaction types.
const (
	TxTypeAllocation   = "allocation"
	TxTypeAdjustment   = "adjustment"
	TxTypeReservation  = "reservation"
	TxTypeDisbursement = "disbursement"
	TxTypeRelease      = "release"
	TxTypeExpiry       = "expiry"
)

// LedgerTransaction is one immutable entry in the append-only budget log.
// Rows are never updated or deleted; corrections are new offsetting
// entries. Amount is signed minor units.
type LedgerTransaction struct {
	ID             string  `gorm:"size:36;primaryKey" json:"id"`
	BudgetID       uint    `gorm:"index;not null" json:"budget_id"`
	Type           string  `gorm:"size:16;index;not null" json:"type"`
	Amount         int64   `gorm:"not null" json:"amount"`
	BalanceBefore  int64   `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64   `gorm:"not null" json:"balance_after"`
	ReferenceType  string  `gorm:"size:32;index" json:"reference_type"`
	ReferenceID    string  `gorm:"size:64;index" json:"reference_id"`
	IdempotencyKey *string `gorm:"size:128;uniqueIndex" json:"idempotency_key,omitempty"`
	Notes          string  `gorm:"size:255" json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
