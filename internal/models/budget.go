package models

import "time"

// Budget statuses.
const (
	BudgetStatusActive   = "active"
	BudgetStatusExpired  = "expired"
	BudgetStatusDepleted = "depleted"
)

// Budget is a bounded pool of money allocated to one school for one
// academic year. All amounts are int64 minor units (cents); never floats.
// Budgets are only mutated through ledger.Store inside a logged
// transaction, never edited in place.
type Budget struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	SchoolID        string `gorm:"size:64;index:idx_budget_scope,unique;not null" json:"school_id"`
	AcademicYear    string `gorm:"size:16;index:idx_budget_scope,unique;not null" json:"academic_year"`
	AllocatedAmount int64  `gorm:"not null" json:"allocated_amount"`
	DisbursedAmount int64  `gorm:"not null;default:0" json:"disbursed_amount"`
	ReservedAmount  int64  `gorm:"not null;default:0" json:"reserved_amount"`
	Status          string `gorm:"size:16;index;not null;default:active" json:"status"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AvailableAmount is derived, never stored.
func (b *Budget) AvailableAmount() int64 {
	return b.AllocatedAmount - b.DisbursedAmount - b.ReservedAmount
}

func (b *Budget) Expired(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}
