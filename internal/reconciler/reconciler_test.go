package reconciler

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/receipt"
	"scholarship-ledger/internal/workflow"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db    *gorm.DB
	store *ledger.Store
	flow  *workflow.Workflow
	rec   *Reconciler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reconciler.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Budget{}, &models.LedgerTransaction{},
		&models.Application{}, &models.PaymentTransaction{},
		&models.Disbursement{}, &models.WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := ledger.NewStore(db)
	receipts := receipt.NewService(filepath.Join(t.TempDir(), "receipts"), 0)
	flow := workflow.New(db, store, receipts)
	return &fixture{db: db, store: store, flow: flow, rec: New(db, flow, "testpay")}
}

// seedProcessing sets up the steady state before a webhook arrives:
// budget allocated, funds reserved, checkout session attached.
func (f *fixture) seedProcessing(t *testing.T, amount int64, checkoutID string) *models.Application {
	t.Helper()
	b, err := f.store.Allocate("school-a", "2025-2026", 100000, nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	app := &models.Application{
		StudentName: "Jose Rizal",
		SchoolID:    "school-a",
		BudgetID:    &b.ID,
		Amount:      amount,
		Status:      models.AppStatusApproved,
	}
	if err := f.db.Create(app).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}
	if _, err := f.flow.ReserveFunds(app.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.flow.AttachCheckout(app.ID, workflow.CheckoutRef{ID: checkoutID, ReferenceNumber: "SCH-REF"}); err != nil {
		t.Fatalf("attach checkout: %v", err)
	}
	return app
}

func paidPayload(checkoutID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"data": {
			"id": "evt_1",
			"attributes": {
				"type": "checkout_session.payment.paid",
				"data": {
					"id": "%s",
					"attributes": {
						"checkout_session_id": "%s",
						"payment_intent_id": "pi_1",
						"status": "paid",
						"amount": %d
					}
				}
			}
		}
	}`, checkoutID, checkoutID, amount))
}

func failedPayload(checkoutID string) []byte {
	return []byte(fmt.Sprintf(`{
		"data": {
			"id": "evt_2",
			"attributes": {
				"type": "payment.failed",
				"data": {
					"id": "pay_x",
					"attributes": {"checkout_session_id": "%s", "status": "failed"}
				}
			}
		}
	}`, checkoutID))
}

func (f *fixture) budget(t *testing.T, app *models.Application) *models.Budget {
	t.Helper()
	var b models.Budget
	if err := f.db.First(&b, *app.BudgetID).Error; err != nil {
		t.Fatalf("load budget: %v", err)
	}
	return &b
}

func TestPaidEventDisburses(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_paid_1")

	res := f.rec.Handle(paidPayload("cs_paid_1", 30000))
	if res.Disposition != models.EventApplied {
		t.Fatalf("disposition = %q (%s), want applied", res.Disposition, res.Detail)
	}

	var fresh models.Application
	f.db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusGrantsDisbursed {
		t.Errorf("status = %q, want grants_disbursed", fresh.Status)
	}

	b := f.budget(t, app)
	if b.DisbursedAmount != 30000 || b.ReservedAmount != 0 {
		t.Errorf("disbursed %d reserved %d, want 30000 / 0", b.DisbursedAmount, b.ReservedAmount)
	}

	var dis models.Disbursement
	if err := f.db.Where("application_id = ?", app.ID).First(&dis).Error; err != nil {
		t.Fatalf("disbursement not created: %v", err)
	}
	if dis.Method != models.DisbursementMethodGateway || dis.ReceiptPath == "" {
		t.Errorf("disbursement = %+v", dis)
	}

	var payment models.PaymentTransaction
	f.db.Where("provider_checkout_id = ?", "cs_paid_1").First(&payment)
	if payment.Status != models.PaymentStatusCompleted {
		t.Errorf("payment status = %q, want completed", payment.Status)
	}
	if payment.ProviderPaymentID == nil || *payment.ProviderPaymentID != "pi_1" {
		t.Errorf("provider payment id not recorded")
	}
}

// Idempotent replay: the identical delivery N times produces exactly one
// disbursement and exactly one keyed ledger entry.
func TestPaidEventRedeliveryIsNoop(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_dup")

	payload := paidPayload("cs_dup", 30000)
	if res := f.rec.Handle(payload); res.Disposition != models.EventApplied {
		t.Fatalf("first delivery: %q (%s)", res.Disposition, res.Detail)
	}
	for i := 0; i < 3; i++ {
		if res := f.rec.Handle(payload); res.Disposition != models.EventDuplicate {
			t.Errorf("redelivery %d: disposition = %q, want duplicate", i, res.Disposition)
		}
	}

	b := f.budget(t, app)
	if b.DisbursedAmount != 30000 || b.ReservedAmount != 0 {
		t.Errorf("disbursed %d reserved %d after redeliveries, want 30000 / 0",
			b.DisbursedAmount, b.ReservedAmount)
	}

	var disCount, keyCount int64
	f.db.Model(&models.Disbursement{}).Where("application_id = ?", app.ID).Count(&disCount)
	f.db.Model(&models.LedgerTransaction{}).Where("idempotency_key = ?", "cs_dup").Count(&keyCount)
	if disCount != 1 || keyCount != 1 {
		t.Errorf("disbursements %d keyed entries %d, want 1 / 1", disCount, keyCount)
	}
}

func TestConcurrentDeliveriesProduceOneDisbursement(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_race")

	payload := paidPayload("cs_race", 30000)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.rec.Handle(payload)
		}()
	}
	wg.Wait()

	var disCount int64
	f.db.Model(&models.Disbursement{}).Where("application_id = ?", app.ID).Count(&disCount)
	if disCount != 1 {
		t.Errorf("disbursements = %d, want exactly 1", disCount)
	}
	b := f.budget(t, app)
	if b.DisbursedAmount != 30000 {
		t.Errorf("disbursed = %d, want 30000", b.DisbursedAmount)
	}
}

func TestFailedEventReleasesReservation(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 20000, "cs_fail")

	res := f.rec.Handle(failedPayload("cs_fail"))
	if res.Disposition != models.EventApplied {
		t.Fatalf("disposition = %q (%s)", res.Disposition, res.Detail)
	}

	var fresh models.Application
	f.db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusApproved {
		t.Errorf("status = %q, want approved", fresh.Status)
	}
	b := f.budget(t, app)
	if b.ReservedAmount != 0 || b.DisbursedAmount != 0 {
		t.Errorf("reserved %d disbursed %d, want 0 / 0", b.ReservedAmount, b.DisbursedAmount)
	}

	var payment models.PaymentTransaction
	f.db.Where("provider_checkout_id = ?", "cs_fail").First(&payment)
	if payment.Status != models.PaymentStatusFailed {
		t.Errorf("payment status = %q, want failed", payment.Status)
	}
}

// An out-of-order failure arriving after the payment completed must not
// undo the disbursement.
func TestLateFailureAfterPaidIgnored(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_order")

	if res := f.rec.Handle(paidPayload("cs_order", 30000)); res.Disposition != models.EventApplied {
		t.Fatalf("paid: %q", res.Disposition)
	}
	if res := f.rec.Handle(failedPayload("cs_order")); res.Disposition != models.EventDuplicate {
		t.Errorf("late failure disposition = %q, want duplicate", res.Disposition)
	}

	var fresh models.Application
	f.db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusGrantsDisbursed {
		t.Errorf("status = %q, terminal state must be sticky", fresh.Status)
	}
	b := f.budget(t, app)
	if b.DisbursedAmount != 30000 {
		t.Errorf("disbursed = %d, want 30000", b.DisbursedAmount)
	}
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	f := setup(t)
	res := f.rec.Handle([]byte(`{
		"data": {"id":"evt_x","attributes":{"type":"source.chargeable","data":{"id":"src_1","attributes":{}}}}
	}`))
	if res.Disposition != models.EventUnrouted {
		t.Errorf("disposition = %q, want unrouted", res.Disposition)
	}

	var row models.WebhookEvent
	if err := f.db.Where("disposition = ?", models.EventUnrouted).First(&row).Error; err != nil {
		t.Fatalf("unrouted event not recorded: %v", err)
	}
	if row.NeedsReview {
		t.Errorf("intentionally ignored events must not be flagged for review")
	}
}

func TestUnparsablePayloadFlagged(t *testing.T) {
	f := setup(t)
	res := f.rec.Handle([]byte(`{"hello":"world"}`))
	if res.Disposition != models.EventUnparsable {
		t.Errorf("disposition = %q, want unparsable", res.Disposition)
	}

	var row models.WebhookEvent
	if err := f.db.Where("disposition = ?", models.EventUnparsable).First(&row).Error; err != nil {
		t.Fatalf("unparsable event not recorded: %v", err)
	}
	if !row.NeedsReview {
		t.Errorf("unparsable events must be flagged for operator review")
	}
}

func TestOrphanEventAcknowledged(t *testing.T) {
	f := setup(t)
	res := f.rec.Handle(paidPayload("cs_never_seen", 1000))
	if res.Disposition != models.EventOrphan {
		t.Errorf("disposition = %q, want orphan", res.Disposition)
	}
}

func TestAmountMismatchNotApplied(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_mismatch")

	res := f.rec.Handle(paidPayload("cs_mismatch", 29999))
	if res.Disposition != models.EventFailed {
		t.Fatalf("disposition = %q, want failed", res.Disposition)
	}

	var fresh models.Application
	f.db.First(&fresh, app.ID)
	if fresh.Status != models.AppStatusGrantsProcessing {
		t.Errorf("status = %q, mismatched amount must not disburse", fresh.Status)
	}
	b := f.budget(t, app)
	if b.DisbursedAmount != 0 {
		t.Errorf("disbursed = %d, want 0", b.DisbursedAmount)
	}

	var row models.WebhookEvent
	if err := f.db.Where("needs_review = ?", true).First(&row).Error; err != nil {
		t.Fatalf("mismatch not flagged: %v", err)
	}
}

// Full happy path: allocate 100000, reserve 30000, webhook paid,
// redeliver.
func TestEndToEndScenario(t *testing.T) {
	f := setup(t)
	app := f.seedProcessing(t, 30000, "cs_scenario")

	b := f.budget(t, app)
	if b.AvailableAmount() != 70000 {
		t.Fatalf("available = %d after reserve, want 70000", b.AvailableAmount())
	}

	payload := paidPayload("cs_scenario", 30000)
	f.rec.Handle(payload)
	b = f.budget(t, app)
	if b.DisbursedAmount != 30000 || b.ReservedAmount != 0 || b.AvailableAmount() != 70000 {
		t.Fatalf("after paid: %+v", b)
	}

	f.rec.Handle(payload)
	after := f.budget(t, app)
	if after.AllocatedAmount != b.AllocatedAmount ||
		after.DisbursedAmount != b.DisbursedAmount ||
		after.ReservedAmount != b.ReservedAmount ||
		after.Status != b.Status {
		t.Errorf("redelivery changed the budget: %+v vs %+v", after, b)
	}
}
