package workflow

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/receipt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setup(t *testing.T) (*gorm.DB, *ledger.Store, *Workflow) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Budget{}, &models.LedgerTransaction{},
		&models.Application{}, &models.PaymentTransaction{}, &models.Disbursement{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := ledger.NewStore(db)
	receipts := receipt.NewService(filepath.Join(t.TempDir(), "receipts"), 0)
	return db, store, New(db, store, receipts)
}

func seedApplication(t *testing.T, db *gorm.DB, store *ledger.Store, amount int64) *models.Application {
	t.Helper()
	b, err := store.Allocate("school-a", "2025-2026", 100000, nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	app := &models.Application{
		StudentName: "Maria Santos",
		SchoolID:    "school-a",
		BudgetID:    &b.ID,
		Amount:      amount,
		Status:      models.AppStatusApproved,
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}
	return app
}

func budgetOf(t *testing.T, db *gorm.DB, app *models.Application) *models.Budget {
	t.Helper()
	var b models.Budget
	if err := db.First(&b, *app.BudgetID).Error; err != nil {
		t.Fatalf("load budget: %v", err)
	}
	return &b
}

func TestReserveFunds(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)

	got, err := flow.ReserveFunds(app.ID)
	if err != nil {
		t.Fatalf("reserve funds: %v", err)
	}
	if got.Status != models.AppStatusPendingDisbursement {
		t.Errorf("status = %q, want pending_disbursement", got.Status)
	}

	b := budgetOf(t, db, app)
	if b.ReservedAmount != 30000 || b.AvailableAmount() != 70000 {
		t.Errorf("reserved %d available %d, want 30000 / 70000", b.ReservedAmount, b.AvailableAmount())
	}
}

func TestReserveFundsRequiresApproved(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)
	db.Model(app).Update("status", models.AppStatusGrantsProcessing)

	_, err := flow.ReserveFunds(app.ID)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	// the rejected transition must not have touched the budget
	b := budgetOf(t, db, app)
	if b.ReservedAmount != 0 {
		t.Errorf("reserved = %d, want 0", b.ReservedAmount)
	}
}

func TestAttachCheckout(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)
	if _, err := flow.ReserveFunds(app.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	payment, err := flow.AttachCheckout(app.ID, CheckoutRef{ID: "cs_123", ReferenceNumber: "SCH-1-AAAA"})
	if err != nil {
		t.Fatalf("attach checkout: %v", err)
	}
	if payment.Status != models.PaymentStatusPending || payment.Amount != 30000 {
		t.Errorf("payment = %+v", payment)
	}

	var fresh models.Application
	db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusGrantsProcessing {
		t.Errorf("status = %q, want grants_processing", fresh.Status)
	}
	if fresh.PaymentTransactionID == nil || *fresh.PaymentTransactionID != payment.ID {
		t.Errorf("payment transaction not linked")
	}
}

func TestDisburseManuallyValidation(t *testing.T) {
	_, _, flow := setup(t)

	cases := []struct {
		name  string
		in    ManualInput
		field string
	}{
		{"missing method", ManualInput{ProviderName: "GCash", ReferenceNumber: "R1", ReceiptPath: "/r/x.pdf"}, "method"},
		{"missing provider", ManualInput{Method: "bank", ReferenceNumber: "R1", ReceiptPath: "/r/x.pdf"}, "provider_name"},
		{"missing reference", ManualInput{Method: "bank", ProviderName: "BDO", ReceiptPath: "/r/x.pdf"}, "reference_number"},
		{"missing receipt", ManualInput{Method: "bank", ProviderName: "BDO", ReferenceNumber: "R1"}, "receipt_file"},
	}
	for _, tc := range cases {
		_, _, err := flow.DisburseManually(1, tc.in)
		var ve *ledger.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: err = %v, want ValidationError", tc.name, err)
			continue
		}
		if ve.Field != tc.field {
			t.Errorf("%s: field = %q, want %q", tc.name, ve.Field, tc.field)
		}
	}
}

func TestDisburseManually(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)
	if _, err := flow.ReserveFunds(app.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	in := ManualInput{
		Method:          "bank_transfer",
		ProviderName:    "BDO",
		ReferenceNumber: "BT-2025-001",
		ReceiptPath:     "/receipts/manual.pdf",
		Notes:           "released at branch",
	}
	got, dis, err := flow.DisburseManually(app.ID, in)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if got.Status != models.AppStatusGrantsDisbursed {
		t.Errorf("status = %q, want grants_disbursed", got.Status)
	}
	if dis == nil || dis.Amount != 30000 || dis.Method != models.DisbursementMethodManual {
		t.Errorf("disbursement = %+v", dis)
	}

	b := budgetOf(t, db, app)
	if b.DisbursedAmount != 30000 || b.ReservedAmount != 0 {
		t.Errorf("disbursed %d reserved %d, want 30000 / 0", b.DisbursedAmount, b.ReservedAmount)
	}
}

func TestDisburseManuallyFromApprovedRejected(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)

	_, _, err := flow.DisburseManually(app.ID, ManualInput{
		Method: "bank", ProviderName: "BDO", ReferenceNumber: "R1", ReceiptPath: "/r/x.pdf",
	})
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	b := budgetOf(t, db, app)
	if b.DisbursedAmount != 0 {
		t.Errorf("disbursed = %d, want 0", b.DisbursedAmount)
	}
}

// Terminal state is sticky: a second manual disbursement of a disbursed
// application changes nothing.
func TestDisburseManuallyTerminalNoop(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 30000)
	if _, err := flow.ReserveFunds(app.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	in := ManualInput{Method: "bank", ProviderName: "BDO", ReferenceNumber: "R1", ReceiptPath: "/r/x.pdf"}
	if _, _, err := flow.DisburseManually(app.ID, in); err != nil {
		t.Fatalf("first disburse: %v", err)
	}

	got, dis, err := flow.DisburseManually(app.ID, in)
	if err != nil {
		t.Fatalf("second disburse: %v", err)
	}
	if got.Status != models.AppStatusGrantsDisbursed {
		t.Errorf("status = %q", got.Status)
	}
	if dis != nil {
		t.Errorf("second call created a disbursement")
	}

	b := budgetOf(t, db, app)
	if b.DisbursedAmount != 30000 {
		t.Errorf("disbursed = %d, want 30000 (unchanged)", b.DisbursedAmount)
	}
	var count int64
	db.Model(&models.Disbursement{}).Where("application_id = ?", app.ID).Count(&count)
	if count != 1 {
		t.Errorf("disbursements = %d, want exactly 1", count)
	}
}

func TestFailFromWebhookRevertsProcessing(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 20000)
	if _, err := flow.ReserveFunds(app.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	payment, err := flow.AttachCheckout(app.ID, CheckoutRef{ID: "cs_fail", ReferenceNumber: "SCH-1-FFFF"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := flow.FailFromWebhook(tx, payment)
		return err
	})
	if err != nil {
		t.Fatalf("fail from webhook: %v", err)
	}

	var fresh models.Application
	db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusApproved {
		t.Errorf("status = %q, want approved (revert, not dead end)", fresh.Status)
	}
	b := budgetOf(t, db, app)
	if b.ReservedAmount != 0 {
		t.Errorf("reserved = %d, want 0 (released)", b.ReservedAmount)
	}
}

// A failure event must never clobber a state the operator has since
// moved the application out of.
func TestFailFromWebhookDoesNotClobber(t *testing.T) {
	db, store, flow := setup(t)
	app := seedApplication(t, db, store, 20000)
	payment := &models.PaymentTransaction{
		ApplicationID:      app.ID,
		ProviderCheckoutID: "cs_stale",
		Status:             models.PaymentStatusPending,
		Amount:             20000,
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := flow.FailFromWebhook(tx, payment)
		return err
	})
	if err != nil {
		t.Fatalf("fail from webhook: %v", err)
	}

	var fresh models.Application
	db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusApproved {
		t.Errorf("status = %q, want approved untouched", fresh.Status)
	}
}
