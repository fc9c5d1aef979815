package models

import "time"

// AuditLog records staff mutations for the operator trail. The money
// trail itself lives in LedgerTransaction; this only answers "who called
// what, when".
type AuditLog struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    *uint  `gorm:"index" json:"user_id,omitempty"`
	Method    string `gorm:"size:8" json:"method"`
	Path      string `gorm:"size:255" json:"path"`
	Status    int    `json:"status"`
	IP        string `gorm:"size:64" json:"ip"`
	UserAgent string `gorm:"size:255" json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
