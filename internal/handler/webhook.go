package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/reconciler"
	"scholarship-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives provider deliveries. The contract with the
// provider is narrow: 400 only on malformed JSON or a bad signature,
// 200 {} for everything else. Business failures are logged and flagged,
// never surfaced, so the provider does not retry-storm us.
type WebhookHandler struct {
	DB            *gorm.DB
	Reconciler    *reconciler.Reconciler
	WebhookSecret string
}

func NewWebhookHandler(db *gorm.DB, r *reconciler.Reconciler, secret string) *WebhookHandler {
	return &WebhookHandler{DB: db, Reconciler: r, WebhookSecret: secret}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body. Skipped
// when no secret is configured (local development).
func (h *WebhookHandler) verifySignature(c *gin.Context, body []byte) bool {
	if h.WebhookSecret == "" {
		return true
	}
	sig := c.GetHeader("Webhook-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// HandlePayment is POST /webhooks/payment.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{})
		return
	}

	if !h.verifySignature(c, body) {
		log.Printf("webhook: rejected delivery with bad signature from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{})
		return
	}

	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{})
		return
	}

	// Every outcome past this point is an acknowledgment.
	h.Reconciler.Handle(body)
	c.JSON(http.StatusOK, gin.H{})
}

// ListEvents is the operator review queue: recorded deliveries, flagged
// ones first when needs_review=true.
func (h *WebhookHandler) ListEvents(c *gin.Context) {
	q := h.DB.Order("created_at DESC").Limit(100)
	if c.Query("needs_review") == "true" {
		q = q.Where("needs_review = ?", true)
	}
	var events []models.WebhookEvent
	if err := q.Find(&events).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "failed to load webhook events")
		return
	}
	util.Success(c, util.Response{"events": events})
}
