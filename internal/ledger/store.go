package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"scholarship-ledger/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns every Budget mutation. Each mutation runs inside one atomic
// unit that locks the target budget row, appends exactly one
// LedgerTransaction per balance change and updates the Budget in the same
// commit. Different budgets never serialize against each other.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TxParams describes one ledger entry to apply.
type TxParams struct {
	BudgetID       uint
	Type           string
	Amount         int64 // positive except adjustment, which is signed
	RefType        string
	RefID          string
	IdempotencyKey *string
	Notes          string
}

// WithTx runs fn inside a database transaction: commit on nil, full
// rollback on any error. Repository functions take the injected handle;
// there is no ambient connection.
func (s *Store) WithTx(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// withRetry runs fn in its own transaction, retrying once on a lock
// conflict before surfacing ConcurrencyConflictError.
func (s *Store) withRetry(budgetID uint, fn func(tx *gorm.DB) error) error {
	err := s.db.Transaction(fn)
	if err != nil && isLockConflict(err) {
		err = s.db.Transaction(fn)
		if err != nil && isLockConflict(err) {
			return &ConcurrencyConflictError{BudgetID: budgetID, Err: err}
		}
	}
	return err
}

func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || // sqlite
		strings.Contains(msg, "lock timeout") || // postgres lock_timeout
		strings.Contains(msg, "deadlock detected")
}

// lockBudget loads the budget row under a write lock. Postgres takes a
// real FOR UPDATE row lock; sqlite's single-writer transaction already
// serializes mutations on the whole file.
func lockBudget(tx *gorm.DB, budgetID uint) (*models.Budget, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var b models.Budget
	if err := q.First(&b, budgetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetNotFound
		}
		return nil, fmt.Errorf("load budget %d: %w", budgetID, err)
	}
	return &b, nil
}

// availableDelta maps an entry type and positive amount to the signed
// delta applied to the available balance.
func availableDelta(txType string, amount int64) int64 {
	switch txType {
	case models.TxTypeAllocation, models.TxTypeRelease:
		return amount
	case models.TxTypeAdjustment:
		return amount // already signed
	case models.TxTypeReservation, models.TxTypeDisbursement:
		return -amount
	default: // expiry
		return 0
	}
}

// ApplyTransaction applies one ledger entry to a budget. It must be
// called inside a transaction (use WithTx or the convenience wrappers).
// If p.IdempotencyKey is set and an entry with that key exists, the
// existing entry is returned and nothing is re-applied.
func (s *Store) ApplyTransaction(tx *gorm.DB, p TxParams) (*models.Budget, *models.LedgerTransaction, error) {
	if err := validateParams(&p); err != nil {
		return nil, nil, err
	}

	budget, err := lockBudget(tx, p.BudgetID)
	if err != nil {
		return nil, nil, err
	}

	// Idempotent replay. Checked after taking the budget lock so a
	// concurrent duplicate always sees the first writer's committed row.
	if p.IdempotencyKey != nil {
		var existing models.LedgerTransaction
		err := tx.Where("idempotency_key = ?", *p.IdempotencyKey).First(&existing).Error
		if err == nil {
			return budget, &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	if err := checkInvariants(budget, p.Type, p.Amount); err != nil {
		return nil, nil, err
	}

	before := budget.AvailableAmount()
	applyEffect(budget, p.Type, p.Amount)
	after := budget.AvailableAmount()

	entry := &models.LedgerTransaction{
		ID:             uuid.NewString(),
		BudgetID:       budget.ID,
		Type:           p.Type,
		Amount:         availableDelta(p.Type, p.Amount),
		BalanceBefore:  before,
		BalanceAfter:   after,
		ReferenceType:  p.RefType,
		ReferenceID:    p.RefID,
		IdempotencyKey: p.IdempotencyKey,
		Notes:          p.Notes,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, nil, fmt.Errorf("append ledger transaction: %w", err)
	}

	// Status follows the balance, except expiry which is terminal until
	// funds are re-allocated by an operator.
	if budget.Status != models.BudgetStatusExpired {
		if budget.AvailableAmount() == 0 && budget.AllocatedAmount > 0 {
			budget.Status = models.BudgetStatusDepleted
		} else {
			budget.Status = models.BudgetStatusActive
		}
	}

	if err := tx.Model(&models.Budget{}).Where("id = ?", budget.ID).Updates(map[string]interface{}{
		"allocated_amount": budget.AllocatedAmount,
		"disbursed_amount": budget.DisbursedAmount,
		"reserved_amount":  budget.ReservedAmount,
		"status":           budget.Status,
	}).Error; err != nil {
		return nil, nil, fmt.Errorf("update budget: %w", err)
	}

	return budget, entry, nil
}

func validateParams(p *TxParams) error {
	switch p.Type {
	case models.TxTypeAllocation, models.TxTypeReservation,
		models.TxTypeDisbursement, models.TxTypeRelease:
		if p.Amount <= 0 {
			return &ValidationError{Field: "amount", Message: "must be a positive amount in minor units"}
		}
	case models.TxTypeAdjustment:
		if p.Amount == 0 {
			return &ValidationError{Field: "amount", Message: "adjustment must be non-zero"}
		}
	case models.TxTypeExpiry:
		if p.Amount != 0 {
			return &ValidationError{Field: "amount", Message: "expiry carries no amount"}
		}
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", p.Type)}
	}
	return nil
}

// checkInvariants rejects, before any write, every mutation that would
// break allocated >= disbursed + reserved >= 0.
func checkInvariants(b *models.Budget, txType string, amount int64) error {
	switch txType {
	case models.TxTypeReservation:
		if b.Status == models.BudgetStatusExpired {
			return ErrBudgetInactive
		}
		if b.AvailableAmount() < amount {
			return &InsufficientFundsError{BudgetID: b.ID, Requested: amount, Available: b.AvailableAmount()}
		}
	case models.TxTypeDisbursement:
		if b.AvailableAmount() < amount {
			return &InsufficientFundsError{BudgetID: b.ID, Requested: amount, Available: b.AvailableAmount()}
		}
	case models.TxTypeRelease:
		if b.ReservedAmount < amount {
			return &ValidationError{Field: "amount", Message: "release exceeds reserved amount"}
		}
	case models.TxTypeAdjustment:
		if b.AllocatedAmount+amount < b.DisbursedAmount+b.ReservedAmount {
			return &InsufficientFundsError{
				BudgetID:  b.ID,
				Requested: -amount,
				Available: b.AvailableAmount(),
			}
		}
	}
	return nil
}

func applyEffect(b *models.Budget, txType string, amount int64) {
	switch txType {
	case models.TxTypeAllocation, models.TxTypeAdjustment:
		b.AllocatedAmount += amount
	case models.TxTypeReservation:
		b.ReservedAmount += amount
	case models.TxTypeRelease:
		b.ReservedAmount -= amount
	case models.TxTypeDisbursement:
		b.DisbursedAmount += amount
	case models.TxTypeExpiry:
		b.Status = models.BudgetStatusExpired
	}
}

// Reserve places a hold of amount against the budget for an application.
func (s *Store) Reserve(budgetID uint, amount int64, applicationID uint) (*models.LedgerTransaction, error) {
	var entry *models.LedgerTransaction
	err := s.withRetry(budgetID, func(tx *gorm.DB) error {
		var err error
		_, entry, err = s.ApplyTransaction(tx, TxParams{
			BudgetID: budgetID,
			Type:     models.TxTypeReservation,
			Amount:   amount,
			RefType:  "application",
			RefID:    fmt.Sprint(applicationID),
		})
		return err
	})
	return entry, err
}

// Release returns a hold to the available pool.
func (s *Store) Release(budgetID uint, amount int64, applicationID uint) (*models.LedgerTransaction, error) {
	var entry *models.LedgerTransaction
	err := s.withRetry(budgetID, func(tx *gorm.DB) error {
		var err error
		_, entry, err = s.ApplyTransaction(tx, TxParams{
			BudgetID: budgetID,
			Type:     models.TxTypeRelease,
			Amount:   amount,
			RefType:  "application",
			RefID:    fmt.Sprint(applicationID),
		})
		return err
	})
	return entry, err
}

// ReleaseTx is Release inside a caller-owned transaction.
func (s *Store) ReleaseTx(tx *gorm.DB, budgetID uint, amount int64, applicationID uint) (*models.LedgerTransaction, error) {
	_, entry, err := s.ApplyTransaction(tx, TxParams{
		BudgetID: budgetID,
		Type:     models.TxTypeRelease,
		Amount:   amount,
		RefType:  "application",
		RefID:    fmt.Sprint(applicationID),
	})
	return entry, err
}

// PromoteReservation converts a hold into a final disbursement inside a
// caller-owned transaction. It appends a release entry for the full hold
// and a disbursement entry carrying the idempotency key; a replayed key
// returns the existing disbursement entry and leaves the budget alone.
// Disbursing less than the hold releases the difference, per the
// reserve/release net-zero rule.
func (s *Store) PromoteReservation(tx *gorm.DB, budgetID uint, reserved, disburse int64, applicationID uint, idemKey string) (*models.LedgerTransaction, error) {
	if disburse > reserved {
		return nil, &ValidationError{Field: "amount", Message: "disbursement exceeds reserved amount"}
	}

	// Key check first: on replay neither entry may be re-applied.
	if _, err := lockBudget(tx, budgetID); err != nil {
		return nil, err
	}
	var existing models.LedgerTransaction
	lookupErr := tx.Where("idempotency_key = ?", idemKey).First(&existing).Error
	if lookupErr == nil {
		return &existing, nil
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", lookupErr)
	}

	if _, _, err := s.ApplyTransaction(tx, TxParams{
		BudgetID: budgetID,
		Type:     models.TxTypeRelease,
		Amount:   reserved,
		RefType:  "application",
		RefID:    fmt.Sprint(applicationID),
	}); err != nil {
		return nil, err
	}

	key := idemKey
	_, entry, err := s.ApplyTransaction(tx, TxParams{
		BudgetID:       budgetID,
		Type:           models.TxTypeDisbursement,
		Amount:         disburse,
		RefType:        "application",
		RefID:          fmt.Sprint(applicationID),
		IdempotencyKey: &key,
	})
	return entry, err
}

// Withdraw is the partner-school self-service path: a direct deduction
// with no reservation phase.
func (s *Store) Withdraw(budgetID uint, amount int64, refID, notes string) (*models.LedgerTransaction, error) {
	var entry *models.LedgerTransaction
	err := s.withRetry(budgetID, func(tx *gorm.DB) error {
		var err error
		_, entry, err = s.ApplyTransaction(tx, TxParams{
			BudgetID: budgetID,
			Type:     models.TxTypeDisbursement,
			Amount:   amount,
			RefType:  "withdrawal",
			RefID:    refID,
			Notes:    notes,
		})
		return err
	})
	return entry, err
}

// Allocate creates the budget for a school/year or adjusts an existing
// one to the requested allocation. Reductions below committed funds are
// rejected inside ApplyTransaction.
func (s *Store) Allocate(schoolID, academicYear string, allocated int64, expiry *time.Time) (*models.Budget, error) {
	if allocated < 0 {
		return nil, &ValidationError{Field: "allocated_amount", Message: "must not be negative"}
	}
	var out models.Budget
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var b models.Budget
		err := tx.Where("school_id = ? AND academic_year = ?", schoolID, academicYear).First(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			b = models.Budget{
				SchoolID:     schoolID,
				AcademicYear: academicYear,
				Status:       models.BudgetStatusActive,
				ExpiryDate:   expiry,
			}
			if err := tx.Create(&b).Error; err != nil {
				return fmt.Errorf("create budget: %w", err)
			}
			updated, _, err := s.ApplyTransaction(tx, TxParams{
				BudgetID: b.ID,
				Type:     models.TxTypeAllocation,
				Amount:   allocated,
				RefType:  "budget",
				RefID:    fmt.Sprint(b.ID),
			})
			if err != nil {
				return err
			}
			out = *updated
			return nil
		}
		if err != nil {
			return fmt.Errorf("load budget: %w", err)
		}

		delta := allocated - b.AllocatedAmount
		if delta == 0 {
			out = b
			return nil
		}
		updated, _, err := s.ApplyTransaction(tx, TxParams{
			BudgetID: b.ID,
			Type:     models.TxTypeAdjustment,
			Amount:   delta,
			RefType:  "budget",
			RefID:    fmt.Sprint(b.ID),
		})
		if err != nil {
			return err
		}
		out = *updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BudgetForSchool returns the budget for a school, picking the most
// recent academic year unless one is given.
func (s *Store) BudgetForSchool(schoolID, academicYear string) (*models.Budget, error) {
	var b models.Budget
	q := s.db.Where("school_id = ?", schoolID)
	if academicYear != "" {
		q = q.Where("academic_year = ?", academicYear)
	}
	if err := q.Order("academic_year DESC").First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Transactions pages the append-only log for one budget, newest first.
func (s *Store) Transactions(budgetID uint, limit, offset int) ([]models.LedgerTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerTransaction
	err := s.db.Where("budget_id = ?", budgetID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}

// ExpireDue flips budgets past their expiry date to expired and appends
// an expiry entry for each. Returns how many were expired.
func (s *Store) ExpireDue(now time.Time) (int, error) {
	var due []models.Budget
	if err := s.db.Where("status <> ? AND expiry_date IS NOT NULL AND expiry_date < ?",
		models.BudgetStatusExpired, now).Find(&due).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range due {
		err := s.withRetry(b.ID, func(tx *gorm.DB) error {
			_, _, err := s.ApplyTransaction(tx, TxParams{
				BudgetID: b.ID,
				Type:     models.TxTypeExpiry,
				RefType:  "budget",
				RefID:    fmt.Sprint(b.ID),
				Notes:    "past expiry date",
			})
			return err
		})
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
