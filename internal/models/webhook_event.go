package models

import "time"

// Webhook event dispositions.
const (
	EventApplied    = "applied"
	EventDuplicate  = "duplicate"
	EventUnrouted   = "unrouted"
	EventUnparsable = "unparsable"
	EventOrphan     = "orphan"
	EventFailed     = "failed"
)

// WebhookEvent records every inbound provider delivery and how it was
// handled. Rows with NeedsReview set are the operator's manual-review
// queue; the provider itself only ever sees a 200.
type WebhookEvent struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	EventType   string `gorm:"size:64;index" json:"event_type"`
	CheckoutID  string `gorm:"size:128;index" json:"checkout_id"`
	Disposition string `gorm:"size:16;index;not null" json:"disposition"`
	Detail      string `gorm:"size:255" json:"detail,omitempty"`
	Payload     string `gorm:"type:text" json:"-"`
	NeedsReview bool   `gorm:"index;not null;default:false" json:"needs_review"`
	CreatedAt   time.Time `json:"created_at"`
}
