package util

import (
	"fmt"
	"time"
)

// maxAmountMinor caps a single operation at 100 million in minor units
// (1,000,000.00), a sanity bound well above any real scholarship.
const maxAmountMinor = int64(100_000_000)

// ValidateAmount validates an amount in minor units: positive and below
// the sanity cap. Amounts are never floats anywhere in the system.
func ValidateAmount(minor int64) error {
	if minor <= 0 {
		return fmt.Errorf("amount must be positive, got %d", minor)
	}
	if minor > maxAmountMinor {
		return fmt.Errorf("amount too large, got %d", minor)
	}
	return nil
}

// ValidateDate validates a YYYY-MM-DD date string and returns the parsed
// time.
func ValidateDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %w", err)
	}
	return t, nil
}

// ValidateAcademicYear validates the "2025-2026" form used as a budget
// scope key.
func ValidateAcademicYear(year string) error {
	if len(year) != 9 || year[4] != '-' {
		return fmt.Errorf("academic year must look like 2025-2026")
	}
	var from, to int
	if _, err := fmt.Sscanf(year, "%d-%d", &from, &to); err != nil {
		return fmt.Errorf("academic year must look like 2025-2026")
	}
	if to != from+1 {
		return fmt.Errorf("academic year must span consecutive years")
	}
	return nil
}
