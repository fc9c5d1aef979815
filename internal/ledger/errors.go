package ledger

import (
	"errors"
	"fmt"
)

// ErrBudgetNotFound is returned when the target budget does not exist.
var ErrBudgetNotFound = errors.New("budget not found")

// ErrBudgetInactive is returned when a new reservation is attempted
// against an expired budget. Funds already reserved may still be
// promoted or released.
var ErrBudgetInactive = errors.New("budget is not active")

// ValidationError marks user-correctable input problems (4xx).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientFundsError rejects a mutation that would overdraw the
// budget. The requested amount is never silently clamped.
type InsufficientFundsError struct {
	BudgetID  uint
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on budget %d: requested %d, available %d",
		e.BudgetID, e.Requested, e.Available)
}

// ConcurrencyConflictError surfaces a lock conflict that persisted after
// the transparent retry.
type ConcurrencyConflictError struct {
	BudgetID uint
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on budget %d: %v", e.BudgetID, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }
