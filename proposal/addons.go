package proposal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/pricing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING STRATEGY - capability every addon implements
// =============================================================================

// AddonRequest is what an addon prices.
type AddonRequest struct {
	Opportunity *Opportunity
	Selection   AddonSelection
	Currency    generic.Currency
	Now         time.Time
}

// quantity is the selected quantity, at least one.
func (r AddonRequest) quantity() int {
	if r.Selection.Quantity < 1 {
		return 1
	}
	return r.Selection.Quantity
}

// PricingStrategy prices one addon.
type PricingStrategy interface {
	ID() string

	// CalculateTotal returns the addon's priced lines.
	CalculateTotal(ctx context.Context, req AddonRequest) (pricing.PricingResult, error)

	// GenerateProposalData returns the fields a proposal document renders
	// for the addon.
	GenerateProposalData(ctx context.Context, req AddonRequest) (map[string]any, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// AddonRegistry is the set of addons an Orchestrator can price.
type AddonRegistry struct {
	mu         sync.RWMutex
	strategies map[string]PricingStrategy
}

// NewAddonRegistry registers the given strategies. Duplicate IDs are an error.
func NewAddonRegistry(strategies ...PricingStrategy) (*AddonRegistry, error) {
	r := &AddonRegistry{strategies: make(map[string]PricingStrategy, len(strategies))}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *AddonRegistry) Register(s PricingStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.ID()]; exists {
		return fmt.Errorf("addon %q already registered", s.ID())
	}
	r.strategies[s.ID()] = s
	return nil
}

func (r *AddonRegistry) Get(id string) (PricingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", generic.ErrUnknownAddon, id)
	}
	return s, nil
}

// IDs returns the registered addon IDs, sorted.
func (r *AddonRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// BUILT-IN ADDONS
// =============================================================================

// FlatAddon charges a fixed price per selected unit.
type FlatAddon struct {
	AddonID     string
	Name        string
	Description string
	Price       decimal.Decimal
}

func (a FlatAddon) ID() string { return a.AddonID }

func (a FlatAddon) CalculateTotal(_ context.Context, req AddonRequest) (pricing.PricingResult, error) {
	line := pricing.PriceLine(a.AddonID, a.Name, req.quantity(), a.Price, decimal.Zero, pricing.SourceNone)
	return pricing.NewResult([]pricing.LineResult{line}, req.Currency, req.Now), nil
}

func (a FlatAddon) GenerateProposalData(ctx context.Context, req AddonRequest) (map[string]any, error) {
	res, err := a.CalculateTotal(ctx, req)
	if err != nil {
		return nil, err
	}
	return proposalData(a.AddonID, a.Name, a.Description, res), nil
}

// PerPositionAddon charges per opening across the opportunity's positions.
type PerPositionAddon struct {
	AddonID          string
	Name             string
	Description      string
	PricePerPosition decimal.Decimal
}

func (a PerPositionAddon) ID() string { return a.AddonID }

func (a PerPositionAddon) CalculateTotal(_ context.Context, req AddonRequest) (pricing.PricingResult, error) {
	if req.Opportunity == nil || req.Opportunity.PositionCount() == 0 {
		return pricing.PricingResult{}, fmt.Errorf("%w: addon %s needs at least one position", generic.ErrInvalidAmount, a.AddonID)
	}
	line := pricing.PriceLine(a.AddonID, a.Name, req.Opportunity.PositionCount(), a.PricePerPosition, decimal.Zero, pricing.SourceNone)
	return pricing.NewResult([]pricing.LineResult{line}, req.Currency, req.Now), nil
}

func (a PerPositionAddon) GenerateProposalData(ctx context.Context, req AddonRequest) (map[string]any, error) {
	res, err := a.CalculateTotal(ctx, req)
	if err != nil {
		return nil, err
	}
	data := proposalData(a.AddonID, a.Name, a.Description, res)
	data["positions"] = req.Opportunity.PositionCount()
	return data, nil
}

// RecurringAddon is a monthly service priced over the selected months with
// the catalog's duration tiers.
type RecurringAddon struct {
	AddonID      string
	Name         string
	Description  string
	MonthlyPrice decimal.Decimal
	Calculator   *pricing.Calculator
}

func (a RecurringAddon) ID() string { return a.AddonID }

func (a RecurringAddon) CalculateTotal(_ context.Context, req AddonRequest) (pricing.PricingResult, error) {
	rp, err := a.Calculator.RecurringLine(a.AddonID, a.Name, a.MonthlyPrice, req.quantity(), req.Selection.Months)
	if err != nil {
		return pricing.PricingResult{}, err
	}
	return rp.TotalContract, nil
}

func (a RecurringAddon) GenerateProposalData(_ context.Context, req AddonRequest) (map[string]any, error) {
	rp, err := a.Calculator.RecurringLine(a.AddonID, a.Name, a.MonthlyPrice, req.quantity(), req.Selection.Months)
	if err != nil {
		return nil, err
	}
	data := proposalData(a.AddonID, a.Name, a.Description, rp.TotalContract)
	data["months"] = rp.DurationMonths
	data["monthly_total"] = rp.Monthly.Total.StringFixed(2)
	data["duration_discount_pct"] = rp.DiscountPct.String()
	return data, nil
}

func proposalData(id, name, description string, res pricing.PricingResult) map[string]any {
	return map[string]any{
		"id":          id,
		"name":        name,
		"description": description,
		"subtotal":    res.Subtotal.StringFixed(2),
		"tax":         res.Tax.StringFixed(2),
		"total":       res.Total.StringFixed(2),
	}
}

// DefaultAddons returns the standard addon set.
func DefaultAddons(calc *pricing.Calculator) []PricingStrategy {
	return []PricingStrategy{
		FlatAddon{
			AddonID:     "background_check",
			Name:        "Verificación de antecedentes",
			Description: "Background and reference verification per hire",
			Price:       decimal.NewFromInt(2500),
		},
		PerPositionAddon{
			AddonID:          "job_posting",
			Name:             "Publicación de vacantes",
			Description:      "Premium job board posting per opening",
			PricePerPosition: decimal.NewFromInt(1500),
		},
		RecurringAddon{
			AddonID:      "talent_pool",
			Name:         "Talent pool",
			Description:  "Monthly access to the curated candidate pool",
			MonthlyPrice: decimal.NewFromInt(4000),
			Calculator:   calc,
		},
	}
}
