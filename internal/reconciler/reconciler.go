package reconciler

import (
	"errors"
	"fmt"
	"log"
	"time"

	"scholarship-ledger/internal/gateway"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/workflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event types the reconciler routes. Everything else is acknowledged and
// logged as unrouted so the provider does not retry events we ignore.
const (
	EventCheckoutPaid  = "checkout_session.payment.paid"
	EventPaymentPaid   = "payment.paid"
	EventPaymentFailed = "payment.failed"
)

// Result is what the webhook handler needs to answer the provider: the
// disposition is for our logs, the provider always gets a 200.
type Result struct {
	Disposition string
	Detail      string
}

// Reconciler turns at-least-once, unordered, possibly duplicated
// provider deliveries into at-most-once ledger effects. Three guards
// stack: the payment-status short-circuit, the ledger idempotency key
// (the provider checkout id) and the terminal application state.
type Reconciler struct {
	db           *gorm.DB
	flow         *workflow.Workflow
	providerName string
}

func New(db *gorm.DB, flow *workflow.Workflow, providerName string) *Reconciler {
	if providerName == "" {
		providerName = "gateway"
	}
	return &Reconciler{db: db, flow: flow, providerName: providerName}
}

// record persists the delivery for the operator trail. This runs outside
// the processing transaction so it survives a rollback.
func (r *Reconciler) record(ev *gateway.Event, raw []byte, disposition, detail string, review bool) {
	row := models.WebhookEvent{
		Disposition: disposition,
		Detail:      detail,
		Payload:     string(raw),
		NeedsReview: review,
	}
	if ev != nil {
		row.EventType = ev.Type
		row.CheckoutID = ev.CheckoutID
	}
	if err := r.db.Create(&row).Error; err != nil {
		log.Printf("webhook: record event: %v", err)
	}
}

// Handle processes one raw webhook body. It never returns an error the
// provider should retry on; every business-level failure is logged,
// recorded and acknowledged.
func (r *Reconciler) Handle(raw []byte) *Result {
	ev, err := gateway.ParseEvent(raw)
	if err != nil {
		log.Printf("webhook: %v", err)
		r.record(nil, raw, models.EventUnparsable, err.Error(), true)
		return &Result{Disposition: models.EventUnparsable, Detail: err.Error()}
	}

	switch ev.Type {
	case EventCheckoutPaid, EventPaymentPaid:
		return r.handlePaid(ev, raw)
	case EventPaymentFailed:
		return r.handleFailed(ev, raw)
	default:
		log.Printf("webhook: unrouted event type %q", ev.Type)
		r.record(ev, raw, models.EventUnrouted, "", false)
		return &Result{Disposition: models.EventUnrouted}
	}
}

// findPayment resolves the PaymentTransaction for an event: checkout id
// first, then provider payment id, then stored reference number.
func findPayment(tx *gorm.DB, ev *gateway.Event) (*models.PaymentTransaction, error) {
	var p models.PaymentTransaction
	if ev.CheckoutID != "" {
		err := tx.Where("provider_checkout_id = ?", ev.CheckoutID).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.PaymentID != "" {
		err := tx.Where("provider_payment_id = ?", ev.PaymentID).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.ReferenceNumber != "" {
		err := tx.Where("reference_number = ?", ev.ReferenceNumber).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// lockPayment re-reads the payment row inside the transaction, under a
// row lock on postgres, so two near-simultaneous deliveries of the same
// event serialize here.
func lockPayment(tx *gorm.DB, id uint) (*models.PaymentTransaction, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.PaymentTransaction
	if err := q.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Reconciler) handlePaid(ev *gateway.Event, raw []byte) *Result {
	payment, err := findPayment(r.db, ev)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("webhook: no payment transaction for event %q (checkout %q)", ev.Type, ev.CheckoutID)
		r.record(ev, raw, models.EventOrphan, "no matching payment transaction", true)
		return &Result{Disposition: models.EventOrphan}
	}
	if err != nil {
		log.Printf("webhook: lookup payment: %v", err)
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}

	// Cheap short-circuit before opening a transaction.
	if payment.Status == models.PaymentStatusCompleted {
		r.record(ev, raw, models.EventDuplicate, "", false)
		return &Result{Disposition: models.EventDuplicate}
	}

	// A paid amount that disagrees with what we asked for is never
	// auto-applied; the operator resolves it from the review queue.
	if ev.Amount != 0 && ev.Amount != payment.Amount {
		detail := fmt.Sprintf("amount mismatch: provider %d, expected %d", ev.Amount, payment.Amount)
		log.Printf("webhook: %s (checkout %s)", detail, payment.ProviderCheckoutID)
		r.record(ev, raw, models.EventFailed, detail, true)
		return &Result{Disposition: models.EventFailed, Detail: detail}
	}

	// The receipt artifact is generated before the transaction; a file
	// orphaned by a rollback is harmless, a committed disbursement
	// without its receipt is not.
	var app models.Application
	if err := r.db.First(&app, payment.ApplicationID).Error; err != nil {
		log.Printf("webhook: load application %d: %v", payment.ApplicationID, err)
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}
	receiptPath, err := r.flow.Receipts().Generate(&app, payment, payment.Amount, time.Now())
	if err != nil {
		log.Printf("webhook: generate receipt: %v", err)
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}

	disposition := models.EventApplied
	err = r.db.Transaction(func(tx *gorm.DB) error {
		locked, err := lockPayment(tx, payment.ID)
		if err != nil {
			return err
		}
		if locked.Status == models.PaymentStatusCompleted {
			disposition = models.EventDuplicate
			return nil
		}

		updates := map[string]interface{}{"status": models.PaymentStatusCompleted}
		if ev.PaymentID != "" {
			updates["provider_payment_id"] = ev.PaymentID
			locked.ProviderPaymentID = &ev.PaymentID
		}
		if err := tx.Model(locked).Updates(updates).Error; err != nil {
			return fmt.Errorf("complete payment transaction: %w", err)
		}

		_, err = r.flow.CompleteFromWebhook(tx, locked, r.providerName, receiptPath)
		return err
	})
	if err != nil {
		// Full rollback; the provider's retry redelivers the event.
		log.Printf("webhook: apply %q for checkout %s: %v", ev.Type, payment.ProviderCheckoutID, err)
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}

	r.record(ev, raw, disposition, "", false)
	return &Result{Disposition: disposition}
}

func (r *Reconciler) handleFailed(ev *gateway.Event, raw []byte) *Result {
	payment, err := findPayment(r.db, ev)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("webhook: no payment transaction for failed event (checkout %q)", ev.CheckoutID)
		r.record(ev, raw, models.EventOrphan, "no matching payment transaction", true)
		return &Result{Disposition: models.EventOrphan}
	}
	if err != nil {
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}

	// A completed payment beats a late failure notification.
	if payment.Status == models.PaymentStatusCompleted {
		r.record(ev, raw, models.EventDuplicate, "payment already completed", false)
		return &Result{Disposition: models.EventDuplicate}
	}
	if payment.Status == models.PaymentStatusFailed {
		r.record(ev, raw, models.EventDuplicate, "", false)
		return &Result{Disposition: models.EventDuplicate}
	}

	disposition := models.EventApplied
	err = r.db.Transaction(func(tx *gorm.DB) error {
		locked, err := lockPayment(tx, payment.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.PaymentStatusPending {
			disposition = models.EventDuplicate
			return nil
		}
		if err := tx.Model(locked).Update("status", models.PaymentStatusFailed).Error; err != nil {
			return fmt.Errorf("fail payment transaction: %w", err)
		}
		_, err = r.flow.FailFromWebhook(tx, locked)
		return err
	})
	if err != nil {
		log.Printf("webhook: apply payment.failed for checkout %s: %v", payment.ProviderCheckoutID, err)
		r.record(ev, raw, models.EventFailed, err.Error(), true)
		return &Result{Disposition: models.EventFailed, Detail: err.Error()}
	}

	r.record(ev, raw, disposition, "", false)
	return &Result{Disposition: disposition}
}
