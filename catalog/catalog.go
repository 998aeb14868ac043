/*
Package catalog holds the discount and milestone tables of every business unit.

PURPOSE:
  A Catalog is the versioned configuration the pricing components read:
  discount tiers per axis, predefined service bundles and milestone
  templates. It is loaded once at startup (see factory/) and then only
  read, so it can be shared between goroutines without locking.

KEY CONCEPTS:
  - Tier: a contiguous count range mapped to a discount percentage
  - Tiers: one axis (same-position, cross-position, bundle size, duration);
    exhaustive and non-overlapping over [0, inf)
  - AmountTier: contract amounts above a threshold switch templates
  - Bundle: named service group with required/optional membership

AXES PER BUSINESS UNIT:
  same_position   count of one position/service in a request
  cross_position  number of distinct positions in a request
  bundle_size     number of services in a bundle (fallback table)
  duration        contract length in months

SEE ALSO:
  - presets.go: Built-in v1 catalog
  - factory/catalog.go: YAML/JSON loading
  - pricing/: Consumers of the tier tables
*/
package catalog

import (
	"fmt"
	"sort"

	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TIERS
// =============================================================================

// Tier maps the inclusive range [Min, Max] to a discount. A nil Max is unbounded.
type Tier struct {
	Min         int             `json:"min" yaml:"min"`
	Max         *int            `json:"max,omitempty" yaml:"max,omitempty"`
	DiscountPct decimal.Decimal `json:"discount_pct" yaml:"discount_pct"`
}

func (t Tier) Contains(n int) bool {
	return n >= t.Min && (t.Max == nil || n <= *t.Max)
}

// Tiers is one discount axis, ordered by Min.
type Tiers []Tier

// Lookup returns the discount for n. Validated tiers always match a
// non-negative n; anything else gets zero.
func (ts Tiers) Lookup(n int) decimal.Decimal {
	for _, t := range ts {
		if t.Contains(n) {
			return t.DiscountPct
		}
	}
	return decimal.Zero
}

// Validate checks that the tiers start at 0, leave no gaps, never overlap
// and end with an unbounded tier.
func (ts Tiers) Validate(axis string) error {
	if len(ts) == 0 {
		return fmt.Errorf("%w: %s has no tiers", generic.ErrInvalidCatalog, axis)
	}
	sorted := append(Tiers(nil), ts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	if sorted[0].Min != 0 {
		return fmt.Errorf("%w: %s starts at %d, not 0", generic.ErrInvalidCatalog, axis, sorted[0].Min)
	}
	for i, t := range sorted {
		if t.DiscountPct.IsNegative() || t.DiscountPct.GreaterThan(generic.Hundred) {
			return fmt.Errorf("%w: %s tier %d has discount %s", generic.ErrInvalidCatalog, axis, i, t.DiscountPct)
		}
		if t.Max == nil {
			if i != len(sorted)-1 {
				return fmt.Errorf("%w: %s tier %d is unbounded but not last", generic.ErrInvalidCatalog, axis, i)
			}
			continue
		}
		if *t.Max < t.Min {
			return fmt.Errorf("%w: %s tier %d has max %d below min %d", generic.ErrInvalidCatalog, axis, i, *t.Max, t.Min)
		}
		if i == len(sorted)-1 {
			return fmt.Errorf("%w: %s last tier must be unbounded", generic.ErrInvalidCatalog, axis)
		}
		if next := sorted[i+1].Min; next != *t.Max+1 {
			return fmt.Errorf("%w: %s gap or overlap between %d and %d", generic.ErrInvalidCatalog, axis, *t.Max, next)
		}
	}
	return nil
}

// =============================================================================
// BUSINESS UNITS
// =============================================================================

// AmountTier redirects contracts whose amount is strictly above Above to
// the named milestone template.
type AmountTier struct {
	Above    decimal.Decimal `json:"above" yaml:"above"`
	Template string          `json:"template" yaml:"template"`
}

type BusinessUnit struct {
	Name          string       `json:"name" yaml:"name"`
	SamePosition  Tiers        `json:"same_position" yaml:"same_position"`
	CrossPosition Tiers        `json:"cross_position" yaml:"cross_position"`
	BundleSize    Tiers        `json:"bundle_size" yaml:"bundle_size"`
	Duration      Tiers        `json:"duration" yaml:"duration"`
	AmountTiers   []AmountTier `json:"amount_tiers,omitempty" yaml:"amount_tiers,omitempty"`
}

// =============================================================================
// BUNDLES
// =============================================================================

type Bundle struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	BusinessUnit string `json:"business_unit,omitempty" yaml:"business_unit,omitempty"`

	Required []string `json:"required" yaml:"required"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty"`

	// SizeDiscounts maps a minimum number of selected services to a
	// discount. When empty, the business unit's bundle_size axis applies.
	SizeDiscounts map[int]decimal.Decimal `json:"size_discounts,omitempty" yaml:"size_discounts,omitempty"`
}

// Allows reports whether serviceID is a declared member of the bundle.
func (b Bundle) Allows(serviceID string) bool {
	for _, id := range b.Required {
		if id == serviceID {
			return true
		}
	}
	for _, id := range b.Optional {
		if id == serviceID {
			return true
		}
	}
	return false
}

// SizeDiscount returns the discount of the highest threshold <= size, and
// whether the bundle defines its own table at all.
func (b Bundle) SizeDiscount(size int) (decimal.Decimal, bool) {
	if len(b.SizeDiscounts) == 0 {
		return decimal.Zero, false
	}
	best, pct := -1, decimal.Zero
	for threshold, d := range b.SizeDiscounts {
		if threshold <= size && threshold > best {
			best, pct = threshold, d
		}
	}
	return pct, true
}

// =============================================================================
// CATALOG
// =============================================================================

type Catalog struct {
	Version  string           `json:"version" yaml:"version"`
	Currency generic.Currency `json:"currency" yaml:"currency"`

	BusinessUnits map[string]BusinessUnit `json:"business_units" yaml:"business_units"`

	// DurationTiers apply to recurring pricing requests without a business unit.
	DurationTiers Tiers `json:"duration_tiers" yaml:"duration_tiers"`

	// MilestoneTemplates are keyed by business unit, by "{unit}_{service_type}"
	// or by any name an AmountTier points to.
	MilestoneTemplates map[string][]generic.MilestoneSpec `json:"milestone_templates" yaml:"milestone_templates"`

	Bundles map[string]Bundle `json:"bundles" yaml:"bundles"`
}

// Unit returns the tables of a business unit.
func (c *Catalog) Unit(name string) (BusinessUnit, error) {
	bu, ok := c.BusinessUnits[name]
	if !ok {
		return BusinessUnit{}, &generic.UnknownBusinessUnitError{BusinessUnit: name}
	}
	return bu, nil
}

func (c *Catalog) Bundle(id string) (Bundle, error) {
	b, ok := c.Bundles[id]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: %q", generic.ErrUnknownBundle, id)
	}
	return b, nil
}

func (c *Catalog) Template(name string) ([]generic.MilestoneSpec, bool) {
	t, ok := c.MilestoneTemplates[name]
	return t, ok
}

// Validate checks every table of the catalog.
func (c *Catalog) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", generic.ErrInvalidCatalog)
	}
	if err := c.DurationTiers.Validate("duration_tiers"); err != nil {
		return err
	}
	for name, bu := range c.BusinessUnits {
		axes := map[string]Tiers{
			"same_position":  bu.SamePosition,
			"cross_position": bu.CrossPosition,
			"bundle_size":    bu.BundleSize,
			"duration":       bu.Duration,
		}
		for axis, tiers := range axes {
			if err := tiers.Validate(name + "." + axis); err != nil {
				return err
			}
		}
		if _, ok := c.MilestoneTemplates[name]; !ok {
			return fmt.Errorf("%w: business unit %s has no milestone template", generic.ErrInvalidCatalog, name)
		}
		for _, at := range bu.AmountTiers {
			if _, ok := c.MilestoneTemplates[at.Template]; !ok {
				return fmt.Errorf("%w: %s amount tier points to unknown template %s", generic.ErrInvalidCatalog, name, at.Template)
			}
		}
	}
	for name, specs := range c.MilestoneTemplates {
		if err := ValidateMilestones(specs); err != nil {
			return fmt.Errorf("%w: template %s: %v", generic.ErrInvalidCatalog, name, err)
		}
	}
	for id, b := range c.Bundles {
		if len(b.Required) == 0 {
			return fmt.Errorf("%w: bundle %s has no required services", generic.ErrInvalidCatalog, id)
		}
		if len(b.SizeDiscounts) == 0 {
			if _, ok := c.BusinessUnits[b.BusinessUnit]; !ok {
				return fmt.Errorf("%w: bundle %s has no size discounts and no business unit", generic.ErrInvalidCatalog, id)
			}
		}
	}
	return nil
}

// ValidateMilestones enforces the 100.00 allocation invariant together with
// positive 2dp percentages and non-negative day offsets.
func ValidateMilestones(specs []generic.MilestoneSpec) error {
	sum := decimal.Zero
	if len(specs) == 0 {
		return &generic.MilestoneConfigError{Sum: sum, Reason: "no milestones"}
	}
	for _, s := range specs {
		sum = sum.Add(s.Percentage)
	}
	for _, s := range specs {
		if !s.Percentage.IsPositive() {
			return &generic.MilestoneConfigError{Sum: sum, Reason: fmt.Sprintf("milestone %q has non-positive percentage", s.Name)}
		}
		if !s.Percentage.Equal(s.Percentage.Round(2)) {
			return &generic.MilestoneConfigError{Sum: sum, Reason: fmt.Sprintf("milestone %q percentage %s has more than 2 decimal places", s.Name, s.Percentage)}
		}
		if s.DaysOffset < 0 {
			return &generic.MilestoneConfigError{Sum: sum, Reason: fmt.Sprintf("milestone %q has negative day offset", s.Name)}
		}
	}
	if !sum.Equal(generic.Hundred) {
		return &generic.MilestoneConfigError{Sum: sum, Reason: "percentages must sum to 100.00"}
	}
	return nil
}
