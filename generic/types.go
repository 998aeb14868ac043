/*
Package generic provides the core data model of the billing engine.

PURPOSE:
  This package contains the types every other package speaks: money
  helpers, identifiers, payment schedules, payments, settled transactions
  and persisted milestones. Pricing, billing, proposal and payment
  packages all build on these definitions; persistence adapters store them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal rounding, percentages, IVA
  - Identifiers: type-safe schedule/payment/contract IDs
  - PaymentSchedule / Payment: the state machines owned by the ledger
  - PaymentTransaction: immutable record of a settled payment
  - PaymentMilestone: persisted materialization of a milestone

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Immutability: transactions are written once and never modified
  3. Derived state: OVERDUE is computed from the due date, never stored
  4. Type Safety: distinct ID types prevent mixing schedules and payments

USAGE:
  net := generic.Round2(total.Div(generic.TaxMultiplier))
  iva := generic.IVA(net)

SEE ALSO:
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
  - time.go: Date helpers
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal helpers shared by every calculator
// =============================================================================

// Currency is an ISO-4217 code. The engine never converts between currencies.
type Currency string

const CurrencyMXN Currency = "MXN"

var (
	// TaxRate is the fixed IVA rate applied to every taxable subtotal.
	TaxRate = decimal.RequireFromString("0.16")

	// TaxMultiplier turns a tax-exclusive amount into a tax-inclusive one.
	TaxMultiplier = decimal.RequireFromString("1.16")

	Hundred = decimal.NewFromInt(100)
)

// Round2 rounds to cents, half away from zero (HALF_UP for positive amounts).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns pct% of base, unrounded. pct is expressed as 10 for 10%.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(Hundred)
}

// IVA returns the rounded tax for a tax-exclusive subtotal.
func IVA(subtotal decimal.Decimal) decimal.Decimal {
	return Round2(subtotal.Mul(TaxRate))
}

// SumDecimals adds values in order.
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MustParseDecimal parses s or panics. Use for literals in presets and tests.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ScheduleID string
type PaymentID string
type ContractID string
type ClientID string
type OpportunityID string

// =============================================================================
// PAYMENT SCHEDULE - owns an ordered set of payments
// =============================================================================

type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "PENDING"
	ScheduleActive    ScheduleStatus = "ACTIVE"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
)

// PaymentSchedule is the persisted payment plan of a contract.
// TotalAmount always equals the sum of its payments' amounts.
type PaymentSchedule struct {
	ID           ScheduleID
	ContractID   ContractID
	ClientID     ClientID
	BusinessUnit string
	Currency     Currency
	TotalAmount  decimal.Decimal
	Status       ScheduleStatus
	CreatedAt    time.Time
	Payments     []Payment
}

// AllPaid reports whether every payment of the schedule is settled.
func (s PaymentSchedule) AllPaid() bool {
	if len(s.Payments) == 0 {
		return false
	}
	for _, p := range s.Payments {
		if p.Status != PaymentPaid {
			return false
		}
	}
	return true
}

// =============================================================================
// PAYMENT - a single installment
// =============================================================================

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"

	// PaymentOverdue is derived: PENDING and past due. It is never stored.
	PaymentOverdue PaymentStatus = "OVERDUE"
)

type PaymentMethod string

const (
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodCash     PaymentMethod = "cash"
	MethodGateway  PaymentMethod = "gateway"
)

type Payment struct {
	ID            PaymentID
	ScheduleID    ScheduleID
	Sequence      int
	MilestoneName string
	Amount        decimal.Decimal
	DueDate       time.Time
	Status        PaymentStatus
	PaymentDate   *time.Time
	TransactionID *string
	Method        PaymentMethod
}

// EffectiveStatus returns OVERDUE for a pending payment whose due date is
// before today; otherwise the stored status.
func (p Payment) EffectiveStatus(today time.Time) PaymentStatus {
	if p.Status == PaymentPending && DateOf(p.DueDate).Before(DateOf(today)) {
		return PaymentOverdue
	}
	return p.Status
}

// =============================================================================
// PAYMENT TRANSACTION - immutable settlement record
// =============================================================================

// PaymentTransaction is keyed by the caller-supplied transaction ID and is
// created exactly once per successful settlement.
type PaymentTransaction struct {
	ID          string
	PaymentID   PaymentID
	ScheduleID  ScheduleID
	Amount      decimal.Decimal
	Method      PaymentMethod
	ProcessedAt time.Time
}

// =============================================================================
// MILESTONES
// =============================================================================

// MilestoneSpec is a named fraction of a contract. A template's percentages
// sum to exactly 100.00.
type MilestoneSpec struct {
	Name         string          `json:"name" yaml:"name"`
	Percentage   decimal.Decimal `json:"percentage" yaml:"percentage"`
	TriggerEvent string          `json:"trigger_event" yaml:"trigger_event"`
	DaysOffset   int             `json:"days_offset" yaml:"days_offset"`
}

// PaymentMilestone is a MilestoneSpec materialized against a contract.
type PaymentMilestone struct {
	ID           string
	ContractID   ContractID
	ScheduleID   ScheduleID
	PaymentID    PaymentID
	Name         string
	Percentage   decimal.Decimal
	TriggerEvent string
	DaysOffset   int
	Amount       decimal.Decimal
	IVA          decimal.Decimal
	Total        decimal.Decimal
	DueDate      time.Time
}

// Contract is the signed agreement a schedule is anchored to.
type Contract struct {
	ID           ContractID
	ClientID     ClientID
	BusinessUnit string
	ServiceType  string
	SignedDate   time.Time
	TotalAmount  decimal.Decimal
}
