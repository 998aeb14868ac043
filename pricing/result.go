/*
Package pricing turns counted services into discounted, taxed prices.

PURPOSE:
  Three calculators share one Calculator value: volume pricing over
  grouped positions, recurring pricing over a contract duration and bundle
  pricing over a predefined service group. Each returns a PricingResult or
  a typed error from generic/errors.go; no partial result is ever built.

KEY CONCEPTS:
  - PricingLineItem: one requested subject (position/service) with a count
  - LineResult: a priced line with the discount that was applied
  - PricingResult: immutable aggregate of lines + subtotal, tax, total

ROUNDING:
  Line discounts and tax are rounded to cents, half away from zero.
  subtotal = Σ line_total, tax = round(subtotal * 0.16), total = subtotal + tax.

CONCURRENCY:
  A Calculator only reads its catalog and clock. It holds no mutable
  state and can be shared between goroutines.

SEE ALSO:
  - volume.go, recurring.go, bundle.go: The calculators
  - catalog/catalog.go: Tier tables
  - proposal/: Composes these results into proposals
*/
package pricing

import (
	"time"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// DiscountSource names the rule that produced a line's discount.
type DiscountSource string

const (
	SourceNone          DiscountSource = "none"
	SourceSamePosition  DiscountSource = "same_position"
	SourceCrossPosition DiscountSource = "cross_position"
	SourceDuration      DiscountSource = "duration"
	SourceBundle        DiscountSource = "bundle"
	SourceVolume        DiscountSource = "volume"
	SourceLoyalty       DiscountSource = "loyalty"
	SourceStrategy      DiscountSource = "strategy"
	SourceStacked       DiscountSource = "stacked"
)

// PricingLineItem is one requested subject. It is never persisted.
type PricingLineItem struct {
	SubjectID     string          `json:"subject_id"`
	SubjectName   string          `json:"subject_name"`
	Count         int             `json:"count"`
	UnitBasePrice decimal.Decimal `json:"unit_base_price"`
}

type LineResult struct {
	SubjectID      string          `json:"subject_id"`
	SubjectName    string          `json:"subject_name"`
	Count          int             `json:"count"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	BaseTotal      decimal.Decimal `json:"base_total"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`
	Discount       decimal.Decimal `json:"discount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	DiscountSource DiscountSource  `json:"discount_source"`
}

// Adjustment is one step of a sequential discount stack, computed on the
// running subtotal left by the previous step.
type Adjustment struct {
	Source      DiscountSource  `json:"source"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	Amount      decimal.Decimal `json:"amount"`
	Running     decimal.Decimal `json:"running_subtotal"`
}

// PricingResult is the value every calculator returns. Callers must not
// mutate Items.
type PricingResult struct {
	Items         []LineResult     `json:"items"`
	Adjustments   []Adjustment     `json:"adjustments,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	DiscountTotal decimal.Decimal  `json:"discount_total"`
	Tax           decimal.Decimal  `json:"tax"`
	Total         decimal.Decimal  `json:"total"`
	Currency      generic.Currency `json:"currency"`
	ComputedAt    time.Time        `json:"computed_at"`
}

// NewResult aggregates priced lines and applies IVA to the subtotal.
func NewResult(items []LineResult, currency generic.Currency, computedAt time.Time) PricingResult {
	subtotal, discount := decimal.Zero, decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
		discount = discount.Add(it.Discount)
	}
	if items == nil {
		items = []LineResult{}
	}
	tax := generic.IVA(subtotal)
	return PricingResult{
		Items:         items,
		Subtotal:      subtotal,
		DiscountTotal: discount,
		Tax:           tax,
		Total:         subtotal.Add(tax),
		Currency:      currency,
		ComputedAt:    computedAt,
	}
}

// PriceLine prices count units at unitPrice with a single discount.
func PriceLine(id, name string, count int, unitPrice, pct decimal.Decimal, source DiscountSource) LineResult {
	base := unitPrice.Mul(decimal.NewFromInt(int64(count)))
	discount := generic.Round2(generic.Percent(base, pct))
	if pct.IsZero() {
		source = SourceNone
	}
	return LineResult{
		SubjectID:      id,
		SubjectName:    name,
		Count:          count,
		UnitPrice:      unitPrice,
		BaseTotal:      base,
		DiscountPct:    pct,
		Discount:       discount,
		LineTotal:      base.Sub(discount),
		DiscountSource: source,
	}
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator prices requests against one catalog.
type Calculator struct {
	catalog *catalog.Catalog
	clock   generic.Clock
}

// NewCalculator returns a Calculator. A nil clock means the system clock.
func NewCalculator(c *catalog.Catalog, clock generic.Clock) *Calculator {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Calculator{catalog: c, clock: clock}
}

func (c *Calculator) Catalog() *catalog.Catalog { return c.catalog }

func (c *Calculator) Currency() generic.Currency { return c.catalog.Currency }

// Now returns the calculator's clock reading.
func (c *Calculator) Now() time.Time { return c.clock() }
