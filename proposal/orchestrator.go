package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huntred/billing-engine/billing"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/logger"
	"github.com/huntred/billing-engine/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallelSections = 8

// Config wires an Orchestrator. Calculator and Planner are required; nil
// policies mean no loyalty or strategy discount.
type Config struct {
	Calculator    *pricing.Calculator
	Planner       *billing.Planner
	Addons        *AddonRegistry
	Loyalty       LoyaltyPolicy
	Strategy      StrategyPolicy
	Opportunities generic.OpportunityStore
	Logger        *zap.Logger
}

// Orchestrator composes pricing calculators into service prices and
// proposals.
type Orchestrator struct {
	calc          *pricing.Calculator
	planner       *billing.Planner
	addons        *AddonRegistry
	loyalty       LoyaltyPolicy
	strategy      StrategyPolicy
	opportunities generic.OpportunityStore
	log           *zap.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		calc:          cfg.Calculator,
		planner:       cfg.Planner,
		addons:        cfg.Addons,
		loyalty:       cfg.Loyalty,
		strategy:      cfg.Strategy,
		opportunities: cfg.Opportunities,
		log:           logger.OrNop(cfg.Logger).Named("proposal"),
	}
	if o.addons == nil {
		o.addons, _ = NewAddonRegistry()
	}
	if o.loyalty == nil {
		o.loyalty = NoLoyalty{}
	}
	if o.strategy == nil {
		o.strategy = NoStrategy{}
	}
	return o
}

// Addons returns the registry proposals price addons from.
func (o *Orchestrator) Addons() *AddonRegistry { return o.addons }

// =============================================================================
// SERVICE PRICING
// =============================================================================

// CalculateServicePrice prices one service with the sequential
// volume -> loyalty -> strategy discount stack.
func (o *Orchestrator) CalculateServicePrice(ctx context.Context, req ServicePriceRequest) (pricing.PricingResult, error) {
	svc := req.Service
	if req.Quantity <= 0 {
		return pricing.PricingResult{}, fmt.Errorf("%w: quantity %d", generic.ErrInvalidAmount, req.Quantity)
	}
	if svc.BasePrice.IsNegative() {
		return pricing.PricingResult{}, fmt.Errorf("%w: service %s has negative base price", generic.ErrInvalidAmount, svc.ID)
	}

	var unit decimal.Decimal
	switch {
	case svc.BillingType == BillingPercentage:
		if req.BaseAmount == nil || req.BaseAmount.IsNegative() {
			return pricing.PricingResult{}, fmt.Errorf("%w: percentage service %s needs a base amount", generic.ErrInvalidAmount, svc.ID)
		}
		unit = generic.Round2(generic.Percent(*req.BaseAmount, svc.BasePrice))
	case svc.BillingType.Timed():
		if req.Duration <= 0 {
			return pricing.PricingResult{}, fmt.Errorf("%w: %s service %s needs a positive duration", generic.ErrInvalidDuration, svc.BillingType, svc.ID)
		}
		unit = svc.BasePrice.Mul(decimal.NewFromInt(int64(req.Duration)))
	default:
		unit = svc.BasePrice
	}

	loyaltyPct, err := o.loyalty.LoyaltyDiscount(ctx, req.ClientID)
	if err != nil {
		return pricing.PricingResult{}, err
	}
	strategyPct, err := o.strategy.StrategyDiscount(ctx, svc, req.Opportunity)
	if err != nil {
		return pricing.PricingResult{}, err
	}

	base := unit.Mul(decimal.NewFromInt(int64(req.Quantity)))
	running := base
	var adjustments []pricing.Adjustment
	stack := []struct {
		source pricing.DiscountSource
		pct    decimal.Decimal
	}{
		{pricing.SourceVolume, QuantityDiscount(req.Quantity)},
		{pricing.SourceLoyalty, loyaltyPct},
		{pricing.SourceStrategy, strategyPct},
	}
	for _, step := range stack {
		if !step.pct.IsPositive() {
			continue
		}
		amount := generic.Round2(generic.Percent(running, step.pct))
		running = running.Sub(amount)
		adjustments = append(adjustments, pricing.Adjustment{
			Source:      step.source,
			DiscountPct: step.pct,
			Amount:      amount,
			Running:     running,
		})
	}

	discount := base.Sub(running)
	effective := decimal.Zero
	if base.IsPositive() {
		effective = generic.Round2(discount.Mul(generic.Hundred).Div(base))
	}
	source := pricing.SourceStacked
	switch len(adjustments) {
	case 0:
		source = pricing.SourceNone
	case 1:
		source = adjustments[0].Source
	}

	line := pricing.LineResult{
		SubjectID:      svc.ID,
		SubjectName:    svc.Name,
		Count:          req.Quantity,
		UnitPrice:      unit,
		BaseTotal:      base,
		DiscountPct:    effective,
		Discount:       discount,
		LineTotal:      running,
		DiscountSource: source,
	}
	result := pricing.NewResult([]pricing.LineResult{line}, o.calc.Currency(), o.calc.Now())
	result.Adjustments = adjustments
	return result, nil
}

// =============================================================================
// OPPORTUNITIES
// =============================================================================

// SaveOpportunity validates and stores an opportunity, assigning an ID when
// it has none.
func (o *Orchestrator) SaveOpportunity(ctx context.Context, opp Opportunity) (Opportunity, error) {
	if o.opportunities == nil {
		return Opportunity{}, errors.New("proposal: no opportunity store configured")
	}
	if _, err := o.calc.Catalog().Unit(opp.BusinessUnit); err != nil {
		return Opportunity{}, err
	}
	if opp.ID == "" {
		opp.ID = generic.OpportunityID(uuid.NewString())
	}
	doc, err := json.Marshal(opp)
	if err != nil {
		return Opportunity{}, fmt.Errorf("failed to encode opportunity: %w", err)
	}
	if err := o.opportunities.SaveOpportunity(ctx, opp.ID, doc); err != nil {
		return Opportunity{}, fmt.Errorf("failed to save opportunity: %w", err)
	}
	return opp, nil
}

func (o *Orchestrator) GetOpportunity(ctx context.Context, id generic.OpportunityID) (Opportunity, error) {
	if o.opportunities == nil {
		return Opportunity{}, errors.New("proposal: no opportunity store configured")
	}
	doc, err := o.opportunities.GetOpportunity(ctx, id)
	if err != nil {
		return Opportunity{}, err
	}
	var opp Opportunity
	if err := json.Unmarshal(doc, &opp); err != nil {
		return Opportunity{}, fmt.Errorf("failed to decode opportunity %s: %w", id, err)
	}
	return opp, nil
}

// =============================================================================
// PROPOSALS
// =============================================================================

type addonOutcome struct {
	line AddonLine
	err  error
}

type bundleOutcome struct {
	line BundleLine
	err  error
}

// GenerateProposal prices a stored opportunity.
func (o *Orchestrator) GenerateProposal(ctx context.Context, id generic.OpportunityID, opts ProposalOptions) (ProposalPricing, error) {
	opp, err := o.GetOpportunity(ctx, id)
	if err != nil {
		return ProposalPricing{}, err
	}
	return o.PriceOpportunity(ctx, opp, opts)
}

// PriceOpportunity builds the proposal for an opportunity. Sections are
// computed in parallel and merged in selection order.
func (o *Orchestrator) PriceOpportunity(ctx context.Context, opp Opportunity, opts ProposalOptions) (ProposalPricing, error) {
	now := o.calc.Now()

	var (
		volume      pricing.PricingResult
		assessments *pricing.PricingResult
		addons      []addonOutcome
		bundles     []bundleOutcome
	)
	if opts.IncludeAddons {
		addons = make([]addonOutcome, len(opp.Addons))
	}
	if opts.IncludeBundles {
		bundles = make([]bundleOutcome, len(opp.Bundles))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSections)

	g.Go(func() error {
		res, err := o.calc.CalculateVolumePricing(opp.BusinessUnit, opp.Positions)
		if err != nil {
			return fmt.Errorf("volume pricing: %w", err)
		}
		volume = res
		return nil
	})

	if opts.IncludeAssessments && len(opp.Assessments) > 0 {
		g.Go(func() error {
			res, err := o.priceAssessments(opp.Assessments)
			if err != nil {
				return fmt.Errorf("assessment pricing: %w", err)
			}
			assessments = &res
			return nil
		})
	}

	for i := range addons {
		i := i
		sel := opp.Addons[i]
		g.Go(func() error {
			line, err := o.priceAddon(gctx, &opp, sel, now)
			addons[i] = addonOutcome{line: line, err: err}
			return nil
		})
	}

	for i := range bundles {
		i := i
		sel := opp.Bundles[i]
		g.Go(func() error {
			res, err := o.calc.CalculateBundlePricing(sel.BundleID, sel.Services)
			bundles[i] = bundleOutcome{line: BundleLine{BundleID: sel.BundleID, Pricing: res}, err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ProposalPricing{}, err
	}

	p := ProposalPricing{
		OpportunityID: opp.ID,
		ClientID:      opp.ClientID,
		BusinessUnit:  opp.BusinessUnit,
		Currency:      o.calc.Currency(),
		Volume:        volume,
		Assessments:   assessments,
		GeneratedAt:   now,
	}
	sections := []pricing.PricingResult{volume}
	if assessments != nil {
		sections = append(sections, *assessments)
	}

	for i, out := range addons {
		if out.err != nil {
			o.exclude(&p, "addon", opp.Addons[i].AddonID, out.err)
			continue
		}
		p.Addons = append(p.Addons, out.line)
		sections = append(sections, out.line.Pricing)
	}
	for i, out := range bundles {
		if out.err != nil {
			o.exclude(&p, "bundle", opp.Bundles[i].BundleID, out.err)
			continue
		}
		p.Bundles = append(p.Bundles, out.line)
		sections = append(sections, out.line.Pricing)
	}

	p.Subtotal, p.Tax, p.Total = decimal.Zero, decimal.Zero, decimal.Zero
	for _, s := range sections {
		p.Subtotal = p.Subtotal.Add(s.Subtotal)
		p.Tax = p.Tax.Add(s.Tax)
		p.Total = p.Total.Add(s.Total)
	}

	if opts.PaymentSchedule && p.Total.IsPositive() {
		start := generic.DateOf(now)
		if opp.StartDate != nil {
			start = *opp.StartDate
		}
		schedule, err := o.planner.GeneratePaymentSchedule(billing.ScheduleRequest{
			BusinessUnit:     opp.BusinessUnit,
			StartDate:        start,
			ContractAmount:   p.Total,
			ServiceType:      opp.ServiceType,
			CustomMilestones: opts.CustomMilestones,
		})
		if err != nil {
			return ProposalPricing{}, err
		}
		p.Schedule = &schedule
	}

	o.log.Info("proposal generated",
		zap.String("opportunity_id", string(opp.ID)),
		zap.String("business_unit", opp.BusinessUnit),
		zap.Int("addons", len(p.Addons)),
		zap.Int("bundles", len(p.Bundles)),
		zap.Int("excluded", len(p.Excluded)),
		zap.Stringer("total", p.Total),
	)
	return p, nil
}

func (o *Orchestrator) exclude(p *ProposalPricing, kind, id string, err error) {
	o.log.Warn("excluding item from proposal",
		zap.String("opportunity_id", string(p.OpportunityID)),
		zap.String("kind", kind),
		zap.String("id", id),
		zap.Error(err),
	)
	p.Excluded = append(p.Excluded, Exclusion{Kind: kind, ID: id, Reason: err.Error()})
}

func (o *Orchestrator) priceAddon(ctx context.Context, opp *Opportunity, sel AddonSelection, now time.Time) (AddonLine, error) {
	strategy, err := o.addons.Get(sel.AddonID)
	if err != nil {
		return AddonLine{}, err
	}
	req := AddonRequest{Opportunity: opp, Selection: sel, Currency: o.calc.Currency(), Now: now}
	res, err := strategy.CalculateTotal(ctx, req)
	if err != nil {
		return AddonLine{}, err
	}
	data, err := strategy.GenerateProposalData(ctx, req)
	if err != nil {
		return AddonLine{}, err
	}
	return AddonLine{AddonID: sel.AddonID, Pricing: res, Data: data}, nil
}

// priceAssessments prices each assessment per candidate with the quantity
// discount.
func (o *Orchestrator) priceAssessments(selections []AssessmentSelection) (pricing.PricingResult, error) {
	items := make([]pricing.LineResult, 0, len(selections))
	for _, a := range selections {
		if a.Candidates <= 0 || a.UnitPrice.IsNegative() {
			return pricing.PricingResult{}, fmt.Errorf("%w: assessment %s", generic.ErrInvalidAmount, a.AssessmentID)
		}
		name := a.Name
		if name == "" {
			name = a.AssessmentID
		}
		items = append(items, pricing.PriceLine(a.AssessmentID, name, a.Candidates, a.UnitPrice, QuantityDiscount(a.Candidates), pricing.SourceVolume))
	}
	return pricing.NewResult(items, o.calc.Currency(), o.calc.Now()), nil
}
