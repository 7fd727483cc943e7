/*
errors.go - Centralized error types

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  The lending and store packages return these (possibly wrapped), and
  the api package maps them to HTTP status codes.

ERROR CATEGORIES:
  1. Not found - Referenced loan, payment, client or route is missing
  2. Validation - Business rule violations (non-positive amount, bad terms)
  3. Store - Database-level failures (wrapped with context by the store)

The aggregation engine itself never returns errors: malformed input is
excluded or defaulted to zero.
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrRouteNotFound is returned when a referenced route doesn't exist.
	ErrRouteNotFound = errors.New("route not found")

	// ErrInvalidAmount is returned for zero or negative money inputs.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidLoanTerms is returned when loan terms cannot produce a schedule.
	ErrInvalidLoanTerms = errors.New("invalid loan terms")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrDuplicateID is returned when a record with the same ID already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidKind is returned for an unknown finance entry kind.
	ErrInvalidKind = errors.New("invalid finance kind")

	// ErrInvalidRoute is returned when a route has no name.
	ErrInvalidRoute = errors.New("route name is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LoanTermsError names the offending field of a loan request.
type LoanTermsError struct {
	Field  string
	Reason string
}

func (e *LoanTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s", e.Field, e.Reason)
}

func (e *LoanTermsError) Unwrap() error {
	return ErrInvalidLoanTerms
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidLoanTerms) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidRoute)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrRouteNotFound)
}
