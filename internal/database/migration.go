package database

import (
	"fmt"

	"scholarship-ledger/internal/models"

	"gorm.io/gorm"
)

// AutoMigrate runs database schema migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Budget{},
		&models.LedgerTransaction{},
		&models.Application{},
		&models.PaymentTransaction{},
		&models.Disbursement{},
		&models.WebhookEvent{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
