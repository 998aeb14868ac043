package pricing_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = generic.NewDate(2025, 3, 1)

func newCalculator() *pricing.Calculator {
	return pricing.NewCalculator(catalog.Default(), generic.FixedClock(now))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
}

func position(id string, count int, price string) pricing.PricingLineItem {
	return pricing.PricingLineItem{SubjectID: id, SubjectName: id, Count: count, UnitBasePrice: dec(price)}
}

// =============================================================================
// VOLUME PRICING
// =============================================================================

func TestVolumePricing_HuntREDSamePositionTiers(t *testing.T) {
	calc := newCalculator()

	for count, want := range map[int]string{1: "0", 3: "5", 6: "10", 21: "20"} {
		res, err := calc.CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("dev", count, "10000")})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assertDec(t, want, res.Items[0].DiscountPct, "count %d", count)
	}
}

func TestVolumePricing_BelowFirstTier_NoDiscount(t *testing.T) {
	// GIVEN: One or two openings of a single position
	// WHEN: Pricing them for every business unit
	// THEN: Neither axis has reached its first discounted tier

	calc := newCalculator()
	for name := range catalog.Default().BusinessUnits {
		for _, count := range []int{1, 2} {
			res, err := calc.CalculateVolumePricing(name, []pricing.PricingLineItem{position("dev", count, "10000")})
			require.NoError(t, err)
			assertDec(t, "0", res.Items[0].DiscountPct, "%s count %d", name, count)
		}
	}

	res, err := calc.CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("dev", 1, "10000")})
	require.NoError(t, err)
	assertDec(t, "10000", res.Subtotal)
	assertDec(t, "11600", res.Total)
}

func TestVolumePricing_ThreePositions_Amounts(t *testing.T) {
	// GIVEN: huntRED, one position with count 3 at 10,000
	// WHEN: Pricing
	// THEN: 5% discount, IVA on the discounted subtotal

	res, err := newCalculator().CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("dev", 3, "10000")})
	require.NoError(t, err)

	line := res.Items[0]
	assertDec(t, "30000", line.BaseTotal)
	assertDec(t, "1500", line.Discount)
	assertDec(t, "28500", line.LineTotal)
	assert.Equal(t, pricing.SourceSamePosition, line.DiscountSource)

	assertDec(t, "28500", res.Subtotal)
	assertDec(t, "1500", res.DiscountTotal)
	assertDec(t, "4560", res.Tax)
	assertDec(t, "33060", res.Total)
	assert.Equal(t, generic.CurrencyMXN, res.Currency)
	assert.Equal(t, now, res.ComputedAt)
}

func TestVolumePricing_EmptyGroups_ZeroResult(t *testing.T) {
	res, err := newCalculator().CalculateVolumePricing("huntRED", nil)
	require.NoError(t, err)

	assert.Empty(t, res.Items)
	assert.True(t, res.Subtotal.IsZero())
	assert.True(t, res.Tax.IsZero())
	assert.True(t, res.Total.IsZero())
}

func TestVolumePricing_UnknownBusinessUnit(t *testing.T) {
	_, err := newCalculator().CalculateVolumePricing("nope", []pricing.PricingLineItem{position("dev", 1, "100")})
	assert.ErrorIs(t, err, generic.ErrUnknownBusinessUnit)
}

func TestVolumePricing_DuplicateSubjects_AreAdditive(t *testing.T) {
	// GIVEN: Two entries for the same subject with counts 2 and 1
	// WHEN: Pricing
	// THEN: They merge into one group of 3 and reach the 5% tier

	res, err := newCalculator().CalculateVolumePricing("huntRED", []pricing.PricingLineItem{
		position("dev", 2, "10000"),
		position("qa", 1, "8000"),
		{SubjectID: "dev", SubjectName: "other name", Count: 1, UnitBasePrice: dec("99999")},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	dev := res.Items[0]
	assert.Equal(t, "dev", dev.SubjectID)
	assert.Equal(t, "dev", dev.SubjectName, "first-seen name is kept")
	assert.Equal(t, 3, dev.Count)
	assertDec(t, "10000", dev.UnitPrice)
	assertDec(t, "5", dev.DiscountPct)
	assert.Equal(t, "qa", res.Items[1].SubjectID)
}

func TestVolumePricing_CrossPositionWinsWhenBetter(t *testing.T) {
	// GIVEN: Four distinct positions with one opening each
	// WHEN: Pricing for huntRED (cross 4-5 -> 8%, same 1 -> 0%)
	// THEN: Every line gets 8% from the cross-position view

	res, err := newCalculator().CalculateVolumePricing("huntRED", []pricing.PricingLineItem{
		position("a", 1, "1000"), position("b", 1, "1000"),
		position("c", 1, "1000"), position("d", 1, "1000"),
	})
	require.NoError(t, err)

	for _, line := range res.Items {
		assertDec(t, "8", line.DiscountPct)
		assert.Equal(t, pricing.SourceCrossPosition, line.DiscountSource)
	}
	assertDec(t, "3680", res.Subtotal)
}

func TestVolumePricing_SameAndCrossTakeMax(t *testing.T) {
	// Two subjects: cross tier 2-3 -> 5%. "big" has 6 -> same 10%.
	res, err := newCalculator().CalculateVolumePricing("huntRED", []pricing.PricingLineItem{
		position("big", 6, "1000"),
		position("small", 1, "1000"),
	})
	require.NoError(t, err)

	assertDec(t, "10", res.Items[0].DiscountPct)
	assert.Equal(t, pricing.SourceSamePosition, res.Items[0].DiscountSource)
	assertDec(t, "5", res.Items[1].DiscountPct)
	assert.Equal(t, pricing.SourceCrossPosition, res.Items[1].DiscountSource)
}

func TestVolumePricing_Idempotent(t *testing.T) {
	calc := newCalculator()
	groups := []pricing.PricingLineItem{position("dev", 7, "12345.67"), position("qa", 2, "999.99")}

	first, err := calc.CalculateVolumePricing("huntRED", groups)
	require.NoError(t, err)
	second, err := calc.CalculateVolumePricing("huntRED", groups)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestVolumePricing_NegativeCount_Rejected(t *testing.T) {
	_, err := newCalculator().CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("dev", -1, "100")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestVolumePricing_DiscountRoundsHalfUp(t *testing.T) {
	// 3 x 0.15 = 0.45; 5% = 0.0225 -> 0.02
	// 3 x 0.50 = 1.50; 5% = 0.075 -> 0.08
	calc := newCalculator()

	res, err := calc.CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("x", 3, "0.15")})
	require.NoError(t, err)
	assertDec(t, "0.02", res.Items[0].Discount)

	res, err = calc.CalculateVolumePricing("huntRED", []pricing.PricingLineItem{position("x", 3, "0.50")})
	require.NoError(t, err)
	assertDec(t, "0.08", res.Items[0].Discount)
}

// =============================================================================
// RECURRING PRICING
// =============================================================================

func TestRecurringPricing_SixMonths(t *testing.T) {
	// GIVEN: 2 units at 1,000/month for 6 months (duration tier 6-11 -> 10%)
	// WHEN: Pricing
	// THEN: Monthly and contract views share the discount; contract = monthly x 6

	rp, err := newCalculator().CalculateRecurringPricing(dec("1000"), 2, 6)
	require.NoError(t, err)

	assertDec(t, "10", rp.DiscountPct)
	assert.Equal(t, 6, rp.DurationMonths)

	assertDec(t, "1800", rp.Monthly.Subtotal)
	assertDec(t, "288", rp.Monthly.Tax)
	assertDec(t, "2088", rp.Monthly.Total)

	assertDec(t, "10800", rp.TotalContract.Subtotal)
	assertDec(t, "1200", rp.TotalContract.DiscountTotal)
	assertDec(t, "12528", rp.TotalContract.Total)
	assert.Equal(t, pricing.SourceDuration, rp.TotalContract.Items[0].DiscountSource)
}

func TestRecurringPricing_ShortDuration_NoDiscount(t *testing.T) {
	calc := newCalculator()
	for _, months := range []int{1, 2} {
		rp, err := calc.CalculateRecurringPricing(dec("1000"), 1, months)
		require.NoError(t, err)
		assertDec(t, "0", rp.DiscountPct, "months %d", months)
		assertDec(t, "1160", rp.Monthly.Total, "months %d", months)
	}

	rp, err := calc.CalculateRecurringPricingFor("huntRED_executive", dec("1000"), 1, 5)
	require.NoError(t, err)
	assertDec(t, "0", rp.DiscountPct)
}

func TestRecurringPricing_ContractIsMonthlyTimesDuration(t *testing.T) {
	calc := newCalculator()
	for _, months := range []int{1, 3, 7, 12, 36} {
		rp, err := calc.CalculateRecurringPricing(dec("333.33"), 3, months)
		require.NoError(t, err)
		m := decimal.NewFromInt(int64(months))
		assert.True(t, rp.Monthly.Subtotal.Mul(m).Equal(rp.TotalContract.Subtotal), "months %d", months)
		assert.True(t, rp.Monthly.DiscountTotal.Mul(m).Equal(rp.TotalContract.DiscountTotal), "months %d", months)
	}
}

func TestRecurringPricing_NonPositiveDuration(t *testing.T) {
	calc := newCalculator()
	for _, months := range []int{0, -3} {
		_, err := calc.CalculateRecurringPricing(dec("1000"), 1, months)
		assert.ErrorIs(t, err, generic.ErrInvalidDuration)
	}
}

func TestRecurringPricingFor_UsesUnitAxis(t *testing.T) {
	// SEXSI has only a 12+ -> 5% duration tier
	calc := newCalculator()

	rp, err := calc.CalculateRecurringPricingFor("SEXSI", dec("100"), 1, 6)
	require.NoError(t, err)
	assert.True(t, rp.DiscountPct.IsZero())

	rp, err = calc.CalculateRecurringPricingFor("SEXSI", dec("100"), 1, 12)
	require.NoError(t, err)
	assertDec(t, "5", rp.DiscountPct)

	_, err = calc.CalculateRecurringPricingFor("nope", dec("100"), 1, 12)
	assert.ErrorIs(t, err, generic.ErrUnknownBusinessUnit)
}

// =============================================================================
// BUNDLE PRICING
// =============================================================================

func TestBundlePricing_TalentAcquisition_TwoServices(t *testing.T) {
	// GIVEN: recruitment (required) + talent_360
	// WHEN: Pricing the talent_acquisition bundle
	// THEN: 5% applies uniformly to both lines

	res, err := newCalculator().CalculateBundlePricing("talent_acquisition", []pricing.SelectedService{
		{ServiceID: "recruitment", Price: dec("50000"), Quantity: 1},
		{ServiceID: "talent_360", Price: dec("20000"), Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	for _, line := range res.Items {
		assertDec(t, "5", line.DiscountPct)
		assert.Equal(t, pricing.SourceBundle, line.DiscountSource)
	}
	assertDec(t, "2500", res.Items[0].Discount)
	assertDec(t, "1000", res.Items[1].Discount)
	assertDec(t, "66500", res.Subtotal)
	assertDec(t, "10640", res.Tax)
	assertDec(t, "77140", res.Total)
}

func TestBundlePricing_HighestThresholdNotAboveSize(t *testing.T) {
	res, err := newCalculator().CalculateBundlePricing("talent_acquisition", []pricing.SelectedService{
		{ServiceID: "recruitment", Price: dec("100")},
		{ServiceID: "talent_360", Price: dec("100")},
		{ServiceID: "onboarding", Price: dec("100")},
		{ServiceID: "assessment", Price: dec("100")},
	})
	require.NoError(t, err)
	assertDec(t, "15", res.Items[0].DiscountPct)
	assert.Equal(t, 1, res.Items[0].Count, "zero quantity counts as one")
}

func TestBundlePricing_RequiredOnly_NoDiscount(t *testing.T) {
	res, err := newCalculator().CalculateBundlePricing("talent_acquisition", []pricing.SelectedService{
		{ServiceID: "recruitment", Price: dec("100"), Quantity: 2},
	})
	require.NoError(t, err)
	assert.True(t, res.Items[0].DiscountPct.IsZero())
	assertDec(t, "200", res.Subtotal)
}

func TestBundlePricing_MissingRequired(t *testing.T) {
	_, err := newCalculator().CalculateBundlePricing("talent_acquisition", []pricing.SelectedService{
		{ServiceID: "talent_360", Price: dec("100")},
	})
	require.ErrorIs(t, err, generic.ErrMissingRequiredServices)

	var membership *generic.BundleMembershipError
	require.True(t, errors.As(err, &membership))
	assert.Equal(t, []string{"recruitment"}, membership.Services)
}

func TestBundlePricing_ServiceOutsideBundle(t *testing.T) {
	_, err := newCalculator().CalculateBundlePricing("talent_acquisition", []pricing.SelectedService{
		{ServiceID: "recruitment", Price: dec("100")},
		{ServiceID: "payroll", Price: dec("100")},
		{ServiceID: "payroll", Price: dec("100")},
	})
	require.ErrorIs(t, err, generic.ErrInvalidServiceForBundle)

	var membership *generic.BundleMembershipError
	require.True(t, errors.As(err, &membership))
	assert.Equal(t, []string{"payroll"}, membership.Services)
}

func TestBundlePricing_UnknownBundle(t *testing.T) {
	_, err := newCalculator().CalculateBundlePricing("nope", nil)
	assert.ErrorIs(t, err, generic.ErrUnknownBundle)
}

func TestBundlePricing_FallsBackToUnitBundleSizeAxis(t *testing.T) {
	// campus_program has no own table; huntU bundle_size 2 -> 10%
	res, err := newCalculator().CalculateBundlePricing("campus_program", []pricing.SelectedService{
		{ServiceID: "campus_recruitment", Price: dec("1000")},
		{ServiceID: "onboarding", Price: dec("500")},
	})
	require.NoError(t, err)
	assertDec(t, "10", res.Items[0].DiscountPct)
	assertDec(t, "1350", res.Subtotal)
}
