package models

import "time"

// PaymentTransaction statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// PaymentTransaction tracks one checkout session at the external payment
// provider. ProviderCheckoutID doubles as the ledger idempotency key for
// the webhook-driven disbursement.
type PaymentTransaction struct {
	ID                 uint    `gorm:"primaryKey" json:"id"`
	ApplicationID      uint    `gorm:"index;not null" json:"application_id"`
	ProviderCheckoutID string  `gorm:"size:128;uniqueIndex;not null" json:"provider_checkout_id"`
	ProviderPaymentID  *string `gorm:"size:128;index" json:"provider_payment_id,omitempty"`
	ReferenceNumber    string  `gorm:"size:64;index" json:"reference_number"`
	Status             string  `gorm:"size:16;index;not null;default:pending" json:"status"`
	Amount             int64   `gorm:"not null" json:"amount"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
