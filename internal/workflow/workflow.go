package workflow

import (
	"errors"
	"fmt"
	"time"

	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/receipt"

	"gorm.io/gorm"
)

// InvalidTransitionError rejects an event the application's current
// state does not accept.
type InvalidTransitionError struct {
	ApplicationID uint
	From          string
	Event         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("application %d in state %q cannot accept %q", e.ApplicationID, e.From, e.Event)
}

// ErrApplicationNotFound is returned for unknown application ids.
var ErrApplicationNotFound = errors.New("application not found")

// disbursableStates are the states that accept a disbursement, manual or
// webhook-driven.
var disbursableStates = map[string]bool{
	models.AppStatusPendingDisbursement: true,
	models.AppStatusGrantsProcessing:    true,
}

// IsTerminal reports whether the application has reached
// grants_disbursed. No transition leaves it; every further event is a
// no-op, which is one of the three replay guards.
func IsTerminal(status string) bool {
	return status == models.AppStatusGrantsDisbursed
}

// ManualInput is what an admin supplies for a manual disbursement. All
// fields plus the stored receipt file are mandatory.
type ManualInput struct {
	Method          string
	ProviderName    string
	ReferenceNumber string
	ReceiptPath     string
	Notes           string
}

// Workflow drives an application's funding lifecycle:
//
//	approved -> pending_disbursement -> grants_processing -> grants_disbursed
//
// with payment_failed reverting to approved rather than dead-ending.
// Every ledger effect happens in the same transaction as the status flip.
type Workflow struct {
	db       *gorm.DB
	store    *ledger.Store
	receipts *receipt.Service
}

func New(db *gorm.DB, store *ledger.Store, receipts *receipt.Service) *Workflow {
	return &Workflow{db: db, store: store, receipts: receipts}
}

func loadApplication(tx *gorm.DB, id uint) (*models.Application, error) {
	var app models.Application
	if err := tx.First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("load application %d: %w", id, err)
	}
	return &app, nil
}

// ReserveFunds moves an approved application to pending_disbursement and
// places the hold on its budget in the same atomic unit.
func (w *Workflow) ReserveFunds(appID uint) (*models.Application, error) {
	var out *models.Application
	err := w.db.Transaction(func(tx *gorm.DB) error {
		app, err := loadApplication(tx, appID)
		if err != nil {
			return err
		}
		if app.Status != models.AppStatusApproved {
			return &InvalidTransitionError{ApplicationID: app.ID, From: app.Status, Event: "reserve funds"}
		}
		if app.BudgetID != nil {
			if _, _, err := w.store.ApplyTransaction(tx, ledger.TxParams{
				BudgetID: *app.BudgetID,
				Type:     models.TxTypeReservation,
				Amount:   app.Amount,
				RefType:  "application",
				RefID:    fmt.Sprint(app.ID),
			}); err != nil {
				return err
			}
		}
		app.Status = models.AppStatusPendingDisbursement
		if err := tx.Model(app).Update("status", app.Status).Error; err != nil {
			return fmt.Errorf("update application: %w", err)
		}
		out = app
		return nil
	})
	return out, err
}

// CheckoutRef carries only the checkout fields the workflow needs, so
// this package does not import the gateway client.
type CheckoutRef struct {
	ID              string
	ReferenceNumber string
}

// AttachCheckout records the gateway checkout session created for this
// application and moves it to grants_processing. The gateway call itself
// happens before this, never inside the transaction.
func (w *Workflow) AttachCheckout(appID uint, session CheckoutRef) (*models.PaymentTransaction, error) {
	var out *models.PaymentTransaction
	err := w.db.Transaction(func(tx *gorm.DB) error {
		app, err := loadApplication(tx, appID)
		if err != nil {
			return err
		}
		if app.Status != models.AppStatusPendingDisbursement {
			return &InvalidTransitionError{ApplicationID: app.ID, From: app.Status, Event: "attach checkout"}
		}

		payment := &models.PaymentTransaction{
			ApplicationID:      app.ID,
			ProviderCheckoutID: session.ID,
			ReferenceNumber:    session.ReferenceNumber,
			Status:             models.PaymentStatusPending,
			Amount:             app.Amount,
		}
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("create payment transaction: %w", err)
		}

		if err := tx.Model(app).Updates(map[string]interface{}{
			"status":                 models.AppStatusGrantsProcessing,
			"payment_transaction_id": payment.ID,
		}).Error; err != nil {
			return fmt.Errorf("update application: %w", err)
		}
		out = payment
		return nil
	})
	return out, err
}

// DisburseManually promotes the reservation to a disbursement with an
// admin-entered provider reference and receipt. A terminal application
// is a no-op returning its existing state.
func (w *Workflow) DisburseManually(appID uint, in ManualInput) (*models.Application, *models.Disbursement, error) {
	if in.Method == "" {
		return nil, nil, &ledger.ValidationError{Field: "method", Message: "required"}
	}
	if in.ProviderName == "" {
		return nil, nil, &ledger.ValidationError{Field: "provider_name", Message: "required"}
	}
	if in.ReferenceNumber == "" {
		return nil, nil, &ledger.ValidationError{Field: "reference_number", Message: "required"}
	}
	if in.ReceiptPath == "" {
		return nil, nil, &ledger.ValidationError{Field: "receipt_file", Message: "required"}
	}

	var (
		outApp *models.Application
		outDis *models.Disbursement
	)
	err := w.db.Transaction(func(tx *gorm.DB) error {
		app, err := loadApplication(tx, appID)
		if err != nil {
			return err
		}
		if IsTerminal(app.Status) {
			outApp = app
			return nil
		}
		if !disbursableStates[app.Status] {
			return &InvalidTransitionError{ApplicationID: app.ID, From: app.Status, Event: "manual disbursement"}
		}

		dis, err := w.finalizeDisbursement(tx, app, finalizeParams{
			method:            models.DisbursementMethodManual,
			providerName:      in.ProviderName,
			providerReference: in.ReferenceNumber,
			receiptPath:       in.ReceiptPath,
			notes:             in.Notes,
			idemKey:           fmt.Sprintf("manual:%d:%s", app.ID, in.ReferenceNumber),
		})
		if err != nil {
			return err
		}
		outApp, outDis = app, dis
		return nil
	})
	return outApp, outDis, err
}

type finalizeParams struct {
	method            string
	providerName      string
	providerReference string
	receiptPath       string
	notes             string
	idemKey           string
}

// finalizeDisbursement does the shared tail of both disbursement paths:
// promote the reservation (full hold, exact disbursed amount), create
// the Disbursement row and flip the application to its terminal state.
// Caller owns the transaction.
func (w *Workflow) finalizeDisbursement(tx *gorm.DB, app *models.Application, p finalizeParams) (*models.Disbursement, error) {
	var budgetID uint
	if app.BudgetID != nil {
		budgetID = *app.BudgetID
		if _, err := w.store.PromoteReservation(tx, budgetID, app.Amount, app.Amount, app.ID, p.idemKey); err != nil {
			return nil, err
		}
	}

	dis := &models.Disbursement{
		ApplicationID:     &app.ID,
		BudgetID:          budgetID,
		Amount:            app.Amount,
		Method:            p.method,
		ProviderName:      p.providerName,
		ProviderReference: p.providerReference,
		ReceiptPath:       p.receiptPath,
		Notes:             p.notes,
		DisbursedAt:       time.Now(),
	}
	if err := tx.Create(dis).Error; err != nil {
		return nil, fmt.Errorf("create disbursement: %w", err)
	}

	app.Status = models.AppStatusGrantsDisbursed
	app.DisbursementID = &dis.ID
	if err := tx.Model(app).Updates(map[string]interface{}{
		"status":          app.Status,
		"disbursement_id": dis.ID,
	}).Error; err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	return dis, nil
}

// CompleteFromWebhook finalizes a paid application inside the caller's
// transaction. The ledger idempotency key is the provider checkout id,
// so a duplicate delivery is a guaranteed no-op at the ledger layer too.
func (w *Workflow) CompleteFromWebhook(tx *gorm.DB, payment *models.PaymentTransaction, providerName, receiptPath string) (*models.Application, error) {
	app, err := loadApplication(tx, payment.ApplicationID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(app.Status) {
		return app, nil
	}
	if !disbursableStates[app.Status] {
		return nil, &InvalidTransitionError{ApplicationID: app.ID, From: app.Status, Event: "webhook payment.paid"}
	}

	providerRef := payment.ReferenceNumber
	if payment.ProviderPaymentID != nil {
		providerRef = *payment.ProviderPaymentID
	}
	if _, err := w.finalizeDisbursement(tx, app, finalizeParams{
		method:            models.DisbursementMethodGateway,
		providerName:      providerName,
		providerReference: providerRef,
		receiptPath:       receiptPath,
		idemKey:           payment.ProviderCheckoutID,
	}); err != nil {
		return nil, err
	}
	return app, nil
}

// FailFromWebhook releases the reservation and reverts the application
// to approved, but only when it is still in a processing state. A state
// the operator has since moved on from is never clobbered.
func (w *Workflow) FailFromWebhook(tx *gorm.DB, payment *models.PaymentTransaction) (*models.Application, error) {
	app, err := loadApplication(tx, payment.ApplicationID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(app.Status) {
		return app, nil
	}
	if !disbursableStates[app.Status] {
		return app, nil
	}

	if app.BudgetID != nil {
		if _, err := w.store.ReleaseTx(tx, *app.BudgetID, app.Amount, app.ID); err != nil {
			return nil, err
		}
	}
	app.Status = models.AppStatusApproved
	if err := tx.Model(app).Update("status", app.Status).Error; err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	return app, nil
}

// Receipts exposes the receipt service for the webhook path, which
// generates its own artifact.
func (w *Workflow) Receipts() *receipt.Service {
	return w.receipts
}
