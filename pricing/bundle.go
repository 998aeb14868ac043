package pricing

import (
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BUNDLE PRICING
// =============================================================================

// SelectedService is one service chosen for a bundle. A Quantity of zero or
// less counts as one.
type SelectedService struct {
	ServiceID string          `json:"service_id"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// CalculateBundlePricing prices the selected services of a predefined bundle.
//
// Membership is checked first: every required service must be selected and
// nothing outside the bundle may be. The discount is the bundle's size
// table entry for the highest threshold <= len(selected); bundles without
// their own table use their business unit's bundle_size axis. The one
// discount applies to every selected line.
func (c *Calculator) CalculateBundlePricing(bundleID string, selected []SelectedService) (PricingResult, error) {
	b, err := c.catalog.Bundle(bundleID)
	if err != nil {
		return PricingResult{}, err
	}

	chosen := make(map[string]bool, len(selected))
	for _, s := range selected {
		chosen[s.ServiceID] = true
	}

	var missing []string
	for _, id := range b.Required {
		if !chosen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return PricingResult{}, generic.MissingRequiredServices(bundleID, missing)
	}

	var invalid []string
	seen := make(map[string]bool)
	for _, s := range selected {
		if !b.Allows(s.ServiceID) && !seen[s.ServiceID] {
			invalid = append(invalid, s.ServiceID)
			seen[s.ServiceID] = true
		}
	}
	if len(invalid) > 0 {
		return PricingResult{}, generic.InvalidServicesForBundle(bundleID, invalid)
	}

	pct, own := b.SizeDiscount(len(selected))
	if !own {
		bu, err := c.catalog.Unit(b.BusinessUnit)
		if err != nil {
			return PricingResult{}, err
		}
		pct = bu.BundleSize.Lookup(len(selected))
	}

	items := make([]LineResult, 0, len(selected))
	for _, s := range selected {
		if s.Price.IsNegative() {
			return PricingResult{}, generic.ErrInvalidAmount
		}
		qty := s.Quantity
		if qty <= 0 {
			qty = 1
		}
		name := s.Name
		if name == "" {
			name = s.ServiceID
		}
		items = append(items, PriceLine(s.ServiceID, name, qty, s.Price, pct, SourceBundle))
	}

	return NewResult(items, c.Currency(), c.clock()), nil
}
