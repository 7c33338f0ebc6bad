package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPeriod is returned when a statement month/year is malformed or out of range.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrUpstreamUnavailable is returned when an invoice or payment store fetch fails.
	ErrUpstreamUnavailable = errors.New("billing: upstream unavailable")
	// ErrNilStore is returned when a service is built without a store.
	ErrNilStore = errors.New("billing: nil store")
	// ErrNegativeAmount is returned when an invoice total is negative.
	ErrNegativeAmount = errors.New("billing: negative amount")
	// ErrNonPositiveAmount is returned when a payment amount is zero or negative.
	ErrNonPositiveAmount = errors.New("billing: amount must be positive")
)

// InvalidPeriodError carries the rejected month/year. Month and Year are only
// meaningful when Parsed is set.
type InvalidPeriodError struct {
	Month  int
	Year   int
	Parsed bool
	Reason string
}

func (e *InvalidPeriodError) Error() string {
	if !e.Parsed {
		if e.Reason == "" {
			return "billing: invalid period"
		}
		return "billing: invalid period: " + e.Reason
	}
	if e.Reason == "" {
		return fmt.Sprintf("billing: invalid period month=%d year=%d", e.Month, e.Year)
	}
	return fmt.Sprintf("billing: invalid period month=%d year=%d: %s", e.Month, e.Year, e.Reason)
}

// Is reports ErrInvalidPeriod equivalence.
func (e *InvalidPeriodError) Is(target error) bool {
	return target == ErrInvalidPeriod
}

// UpstreamUnavailableError wraps a failed store call with the store and period it served.
type UpstreamUnavailableError struct {
	Store  string
	Period string
	Err    error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("billing: %s store unavailable (period %s): %v", e.Store, e.Period, e.Err)
}

// Unwrap returns the underlying store error.
func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// Is reports ErrUpstreamUnavailable equivalence.
func (e *UpstreamUnavailableError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

const (
	StoreInvoices = "invoice"
	StorePayments = "payment"
	StorePatients = "patient"
)
