package pricing

import (
	"fmt"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECURRING PRICING
// =============================================================================

// RecurringPricing holds the monthly view and the whole-contract view of a
// recurring service. Both use the same duration discount.
type RecurringPricing struct {
	DurationMonths int             `json:"duration_months"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`
	Monthly        PricingResult   `json:"monthly"`
	TotalContract  PricingResult   `json:"total_contract"`
}

// CalculateRecurringPricing prices count units of a monthly service over
// durationMonths using the catalog-wide duration tiers.
func (c *Calculator) CalculateRecurringPricing(unitPrice decimal.Decimal, count, durationMonths int) (RecurringPricing, error) {
	return c.recurring(c.catalog.DurationTiers, "recurring", "Recurring service", unitPrice, count, durationMonths)
}

// CalculateRecurringPricingFor is CalculateRecurringPricing with the duration
// axis of a specific business unit.
func (c *Calculator) CalculateRecurringPricingFor(businessUnit string, unitPrice decimal.Decimal, count, durationMonths int) (RecurringPricing, error) {
	bu, err := c.catalog.Unit(businessUnit)
	if err != nil {
		return RecurringPricing{}, err
	}
	return c.recurring(bu.Duration, "recurring", "Recurring service", unitPrice, count, durationMonths)
}

// RecurringLine prices a named recurring subject; addons use it to keep
// their own subject IDs on the lines.
func (c *Calculator) RecurringLine(id, name string, unitPrice decimal.Decimal, count, durationMonths int) (RecurringPricing, error) {
	return c.recurring(c.catalog.DurationTiers, id, name, unitPrice, count, durationMonths)
}

func (c *Calculator) recurring(tiers catalog.Tiers, id, name string, unitPrice decimal.Decimal, count, months int) (RecurringPricing, error) {
	if months <= 0 {
		return RecurringPricing{}, fmt.Errorf("%w: %d months", generic.ErrInvalidDuration, months)
	}
	if count <= 0 || unitPrice.IsNegative() {
		return RecurringPricing{}, fmt.Errorf("%w: count %d, unit price %s", generic.ErrInvalidAmount, count, unitPrice)
	}

	pct := tiers.Lookup(months)
	now := c.clock()

	monthly := PriceLine(id, name, count, unitPrice, pct, SourceDuration)

	// The contract view scales the monthly line; it is not re-tiered or
	// re-rounded, so total = monthly x months holds exactly.
	m := decimal.NewFromInt(int64(months))
	contract := monthly
	contract.BaseTotal = monthly.BaseTotal.Mul(m)
	contract.Discount = monthly.Discount.Mul(m)
	contract.LineTotal = monthly.LineTotal.Mul(m)

	return RecurringPricing{
		DurationMonths: months,
		DiscountPct:    pct,
		Monthly:        NewResult([]LineResult{monthly}, c.Currency(), now),
		TotalContract:  NewResult([]LineResult{contract}, c.Currency(), now),
	}, nil
}
