package models

import "time"

// Application statuses relevant to the funding lifecycle.
const (
	AppStatusApproved            = "approved"
	AppStatusPendingDisbursement = "pending_disbursement"
	AppStatusGrantsProcessing    = "grants_processing"
	AppStatusGrantsDisbursed     = "grants_disbursed"
	AppStatusPaymentFailed       = "payment_failed"
)

// Application is a funding request raised for one student against one
// school budget. BudgetID is nil for unbudgeted/global-pool requests.
type Application struct {
	ID                   uint    `gorm:"primaryKey" json:"id"`
	StudentName          string  `gorm:"size:128;not null" json:"student_name"`
	StudentEmail         string  `gorm:"size:128" json:"student_email"`
	SchoolID             string  `gorm:"size:64;index;not null" json:"school_id"`
	BudgetID             *uint   `gorm:"index" json:"budget_id,omitempty"`
	Amount               int64   `gorm:"not null" json:"amount"`
	Status               string  `gorm:"size:32;index;not null" json:"status"`
	PaymentTransactionID *uint   `gorm:"index" json:"payment_transaction_id,omitempty"`
	DisbursementID       *uint   `gorm:"index" json:"disbursement_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
