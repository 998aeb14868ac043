package proposal

import (
	"context"
	"fmt"

	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// VOLUME
// =============================================================================

// QuantityDiscount is the volume step of the service discount stack.
func QuantityDiscount(quantity int) decimal.Decimal {
	switch {
	case quantity >= 5:
		return decimal.NewFromInt(10)
	case quantity >= 3:
		return decimal.NewFromInt(5)
	default:
		return decimal.Zero
	}
}

// =============================================================================
// LOYALTY
// =============================================================================

// LoyaltyPolicy returns the loyalty discount percentage for a client.
type LoyaltyPolicy interface {
	LoyaltyDiscount(ctx context.Context, clientID generic.ClientID) (decimal.Decimal, error)
}

// NoLoyalty never discounts.
type NoLoyalty struct{}

func (NoLoyalty) LoyaltyDiscount(context.Context, generic.ClientID) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// LoyaltyStep maps a minimum number of completed contracts to a discount.
type LoyaltyStep struct {
	MinCompleted int
	DiscountPct  decimal.Decimal
}

// DefaultLoyaltySteps: 10+ completed schedules -> 5%, 5+ -> 3%, 1+ -> 1%.
var DefaultLoyaltySteps = []LoyaltyStep{
	{MinCompleted: 10, DiscountPct: decimal.NewFromInt(5)},
	{MinCompleted: 5, DiscountPct: decimal.NewFromInt(3)},
	{MinCompleted: 1, DiscountPct: decimal.NewFromInt(1)},
}

// HistoryLoyalty derives loyalty from the client's completed payment
// schedules. Steps must be ordered by MinCompleted, highest first.
type HistoryLoyalty struct {
	Store generic.Store
	Steps []LoyaltyStep
}

func (h HistoryLoyalty) LoyaltyDiscount(ctx context.Context, clientID generic.ClientID) (decimal.Decimal, error) {
	if clientID == "" {
		return decimal.Zero, nil
	}
	completed, err := h.Store.CountCompletedSchedules(ctx, clientID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to count completed schedules: %w", err)
	}
	steps := h.Steps
	if steps == nil {
		steps = DefaultLoyaltySteps
	}
	for _, s := range steps {
		if completed >= s.MinCompleted {
			return s.DiscountPct, nil
		}
	}
	return decimal.Zero, nil
}

// =============================================================================
// STRATEGY
// =============================================================================

// StrategyPolicy returns a commercial discount for a service, optionally in
// the context of an opportunity.
type StrategyPolicy interface {
	StrategyDiscount(ctx context.Context, svc Service, opp *Opportunity) (decimal.Decimal, error)
}

type NoStrategy struct{}

func (NoStrategy) StrategyDiscount(context.Context, Service, *Opportunity) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// ServiceTypeStrategy discounts by billing type and by the opportunity's
// business unit; the larger of the two applies.
type ServiceTypeStrategy struct {
	ByBillingType  map[BillingType]decimal.Decimal
	ByBusinessUnit map[string]decimal.Decimal
}

func (s ServiceTypeStrategy) StrategyDiscount(_ context.Context, svc Service, opp *Opportunity) (decimal.Decimal, error) {
	pct := s.ByBillingType[svc.BillingType]
	if opp != nil {
		pct = generic.MaxDecimal(pct, s.ByBusinessUnit[opp.BusinessUnit])
	}
	return pct, nil
}
