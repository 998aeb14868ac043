/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Pricing and ledger packages return these (or structured errors that
  unwrap to them) so callers can branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Catalog lookups - unknown business unit, bundle, addon
  2. Validation - bundle membership, durations, milestone sets, amounts
  3. Ledger - double settlement, transaction ID reuse, lost CAS
  4. Store - missing records

ALL-OR-NOTHING:
  Every pricing error is returned before a result is constructed. A
  caller receives either a complete result or one of these errors.

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
  - payments/ledger.go: Ledger errors
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUnknownBusinessUnit           = errors.New("unknown business unit")
	ErrUnknownBundle                 = errors.New("unknown bundle")
	ErrUnknownAddon                  = errors.New("unknown addon")
	ErrMissingRequiredServices       = errors.New("missing required services")
	ErrInvalidServiceForBundle       = errors.New("invalid service for bundle")
	ErrInvalidDuration               = errors.New("invalid duration")
	ErrInvalidMilestoneConfiguration = errors.New("invalid milestone configuration")
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrInvalidCatalog                = errors.New("invalid catalog")

	// ErrAlreadyProcessed is returned when settling a payment that is already PAID.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// ErrTransactionIDConflict is returned when a transaction ID was already used.
	ErrTransactionIDConflict = errors.New("transaction id already used")

	ErrMissingTransactionID = errors.New("transaction id is required")

	// ErrConcurrentModification is returned when the PENDING->PAID check-and-set lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrOpportunityNotFound = errors.New("opportunity not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type UnknownBusinessUnitError struct {
	BusinessUnit string
}

func (e *UnknownBusinessUnitError) Error() string {
	return fmt.Sprintf("unknown business unit: %q", e.BusinessUnit)
}

func (e *UnknownBusinessUnitError) Unwrap() error { return ErrUnknownBusinessUnit }

// BundleMembershipError lists the services that break a bundle's membership
// rules. It unwraps to ErrMissingRequiredServices or ErrInvalidServiceForBundle.
type BundleMembershipError struct {
	BundleID string
	Services []string
	kind     error
}

func MissingRequiredServices(bundleID string, names []string) *BundleMembershipError {
	return &BundleMembershipError{BundleID: bundleID, Services: names, kind: ErrMissingRequiredServices}
}

func InvalidServicesForBundle(bundleID string, names []string) *BundleMembershipError {
	return &BundleMembershipError{BundleID: bundleID, Services: names, kind: ErrInvalidServiceForBundle}
}

func (e *BundleMembershipError) Error() string {
	return fmt.Sprintf("%s: bundle %s: %s", e.kind, e.BundleID, strings.Join(e.Services, ", "))
}

func (e *BundleMembershipError) Unwrap() error { return e.kind }

// MilestoneConfigError explains why a milestone set was rejected.
type MilestoneConfigError struct {
	Sum    decimal.Decimal
	Reason string
}

func (e *MilestoneConfigError) Error() string {
	return fmt.Sprintf("invalid milestone configuration: %s (sum %s)", e.Reason, e.Sum.StringFixed(2))
}

func (e *MilestoneConfigError) Unwrap() error { return ErrInvalidMilestoneConfiguration }

// PaymentStateError reports a settlement rejected because of payment state.
type PaymentStateError struct {
	PaymentID     PaymentID
	TransactionID string
	Status        PaymentStatus
	cause         error
}

func AlreadyProcessed(id PaymentID, status PaymentStatus) *PaymentStateError {
	return &PaymentStateError{PaymentID: id, Status: status, cause: ErrAlreadyProcessed}
}

func TransactionIDConflict(id PaymentID, txID string) *PaymentStateError {
	return &PaymentStateError{PaymentID: id, TransactionID: txID, cause: ErrTransactionIDConflict}
}

func (e *PaymentStateError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("%s: payment %s, transaction %s", e.cause, e.PaymentID, e.TransactionID)
	}
	return fmt.Sprintf("%s: payment %s is %s", e.cause, e.PaymentID, e.Status)
}

func (e *PaymentStateError) Unwrap() error { return e.cause }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownBusinessUnit) ||
		errors.Is(err, ErrUnknownBundle) ||
		errors.Is(err, ErrUnknownAddon) ||
		errors.Is(err, ErrMissingRequiredServices) ||
		errors.Is(err, ErrInvalidServiceForBundle) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidMilestoneConfiguration) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingTransactionID)
}

// IsConflict returns true if the request clashes with current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrTransactionIDConflict) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrOpportunityNotFound)
}
