package models

import "time"

// Disbursement methods.
const (
	DisbursementMethodGateway  = "gateway"
	DisbursementMethodManual   = "manual"
	DisbursementMethodWithdraw = "withdrawal"
)

// Disbursement is the terminal, irreversible record of funds leaving a
// budget for one application. Exactly one row may exist per application;
// its existence is itself an idempotency guard on the webhook path.
type Disbursement struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	ApplicationID     *uint  `gorm:"uniqueIndex" json:"application_id,omitempty"`
	BudgetID          uint   `gorm:"index;not null" json:"budget_id"`
	Amount            int64  `gorm:"not null" json:"amount"`
	Method            string `gorm:"size:16;not null" json:"method"`
	ProviderName      string `gorm:"size:64" json:"provider_name"`
	ProviderReference string `gorm:"size:128;index" json:"provider_reference"`
	ReceiptPath       string `gorm:"size:255" json:"receipt_path"`
	Notes             string `gorm:"size:255" json:"notes,omitempty"`
	DisbursedAt       time.Time `json:"disbursed_at"`
	CreatedAt         time.Time `json:"created_at"`
}
