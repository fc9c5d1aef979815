package router

import (
	"scholarship-ledger/internal/config"
	"scholarship-ledger/internal/gateway"
	"scholarship-ledger/internal/handler"
	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/middleware"
	"scholarship-ledger/internal/receipt"
	"scholarship-ledger/internal/reconciler"
	"scholarship-ledger/internal/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter wires all components and configures the Gin engine.
func SetupRouter(cfg *config.Config, db *gorm.DB) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	store := ledger.NewStore(db)
	receipts := receipt.NewService(cfg.Receipt.Dir, cfg.Receipt.MaxUploadBytes)
	gw := gateway.NewClient(cfg.Gateway)
	flow := workflow.New(db, store, receipts)
	rec := reconciler.New(db, flow, "paymongo")

	// Provider-facing. Signature-checked, never JWT.
	webhookHandler := handler.NewWebhookHandler(db, rec, cfg.Gateway.WebhookSecret)
	r.POST("/webhooks/payment", webhookHandler.HandlePayment)

	// ====== API ======
	api := r.Group("/api")

	authHandler := handler.NewAuthHandler(db, cfg.JWT.Secret, cfg.JWT.ExpireHours)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(
		middleware.AuthMiddleware(cfg.JWT.Secret, db),
		middleware.AuditMiddleware(db),
	)

	budgetHandler := handler.NewBudgetHandler(store, receipts)
	protected.GET("/budgets/:schoolId", budgetHandler.Get)
	protected.GET("/budgets/:schoolId/ledger", budgetHandler.Ledger)
	protected.GET("/budgets/:schoolId/ledger/export", budgetHandler.ExportLedger)
	protected.POST("/budgets/:schoolId/withdrawals", budgetHandler.Withdraw)

	appHandler := handler.NewApplicationHandler(db, store, flow, gw, receipts)
	protected.POST("/applications", appHandler.Create)
	protected.GET("/applications/:id", appHandler.Get)
	protected.POST("/applications/:id/reserve", appHandler.Reserve)
	protected.POST("/applications/:id/checkout", appHandler.Checkout)
	protected.POST("/applications/:id/disburse", appHandler.Disburse)

	// budget allocation and the review queue are admin-only
	admin := protected.Group("")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/budgets/:schoolId", budgetHandler.Allocate)
	admin.GET("/webhook-events", webhookHandler.ListEvents)

	return r
}
