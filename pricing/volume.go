package pricing

import (
	"fmt"

	"github.com/huntred/billing-engine/generic"
)

// =============================================================================
// VOLUME PRICING
// =============================================================================

// CalculateVolumePricing prices grouped position counts for a business unit.
//
// Entries sharing a SubjectID are merged by summing their counts; the first
// entry's name and unit price are kept and groups stay in order of first
// appearance. Each group gets the better of two discounts: the
// same-position tier for its own count, or the cross-position tier for the
// number of distinct subjects in the request.
//
// An empty request yields a zero result, not an error.
func (c *Calculator) CalculateVolumePricing(businessUnit string, groups []PricingLineItem) (PricingResult, error) {
	bu, err := c.catalog.Unit(businessUnit)
	if err != nil {
		return PricingResult{}, err
	}

	merged, err := mergeGroups(groups)
	if err != nil {
		return PricingResult{}, err
	}

	crossPct := bu.CrossPosition.Lookup(len(merged))

	items := make([]LineResult, 0, len(merged))
	for _, g := range merged {
		samePct := bu.SamePosition.Lookup(g.Count)

		pct, source := samePct, SourceSamePosition
		if crossPct.GreaterThan(samePct) {
			pct, source = crossPct, SourceCrossPosition
		}
		items = append(items, PriceLine(g.SubjectID, g.SubjectName, g.Count, g.UnitBasePrice, pct, source))
	}

	return NewResult(items, c.Currency(), c.clock()), nil
}

func mergeGroups(groups []PricingLineItem) ([]PricingLineItem, error) {
	index := make(map[string]int, len(groups))
	merged := make([]PricingLineItem, 0, len(groups))
	for _, g := range groups {
		if g.Count < 0 {
			return nil, fmt.Errorf("%w: subject %s has negative count %d", generic.ErrInvalidAmount, g.SubjectID, g.Count)
		}
		if g.UnitBasePrice.IsNegative() {
			return nil, fmt.Errorf("%w: subject %s has negative price", generic.ErrInvalidAmount, g.SubjectID)
		}
		if i, ok := index[g.SubjectID]; ok {
			merged[i].Count += g.Count
			continue
		}
		index[g.SubjectID] = len(merged)
		merged = append(merged, g)
	}
	return merged, nil
}
