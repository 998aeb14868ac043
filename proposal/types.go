/*
Package proposal composes the pricing calculators into client proposals.

PURPOSE:
  An Orchestrator prices single services with a sequential discount stack
  and assembles full proposals for opportunities: volume pricing over the
  opportunity's positions, plus addons, bundles and assessments, plus an
  optional payment schedule for the combined total.

DISCOUNT STACK (CalculateServicePrice):
  base     = by billing type (percentage of base amount, rate x duration, flat)
  subtotal = base x quantity
  volume   ≥5 -> 10%, ≥3 -> 5%      on subtotal
  loyalty  LoyaltyPolicy             on subtotal after volume
  strategy StrategyPolicy            on subtotal after loyalty
  Each step applies to the running subtotal, so the discounts compound.

PARTIAL FAILURE (GenerateProposal):
  Addon and bundle failures are logged and listed in Excluded; the rest
  of the proposal is still produced. Volume and assessment failures abort
  the proposal.

KEY CONCEPTS:
  - PricingStrategy: capability every addon implements
  - AddonRegistry: explicit set of strategies passed to the orchestrator
  - Opportunity: the sales record a proposal is generated for

SEE ALSO:
  - addons.go: PricingStrategy, AddonRegistry, built-in addons
  - discounts.go: Loyalty and strategy policies
  - orchestrator.go: Orchestrator
*/
package proposal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/huntred/billing-engine/billing"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/pricing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICES
// =============================================================================

type BillingType string

const (
	BillingFixed      BillingType = "fixed"
	BillingPercentage BillingType = "percentage"
	BillingHourly     BillingType = "hourly"
	BillingDaily      BillingType = "daily"
	BillingMonthly    BillingType = "monthly"
	BillingRecurring  BillingType = "recurring"
)

// Timed reports whether the price is a rate multiplied by a duration.
func (b BillingType) Timed() bool {
	switch b {
	case BillingHourly, BillingDaily, BillingMonthly, BillingRecurring:
		return true
	}
	return false
}

// Service is a priced catalog service. For percentage billing, BasePrice is
// the percentage of the request's base amount (e.g. 20 for 20%).
type Service struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	BillingType BillingType     `json:"billing_type"`
	BasePrice   decimal.Decimal `json:"base_price"`
}

type ServicePriceRequest struct {
	Service  Service `json:"service"`
	Quantity int     `json:"quantity"`

	// Duration in the service's billing unit (hours, days, months).
	Duration int `json:"duration,omitempty"`

	// BaseAmount is what a percentage service is a percentage of.
	BaseAmount *decimal.Decimal `json:"base_amount,omitempty"`

	ClientID    generic.ClientID `json:"client_id,omitempty"`
	Opportunity *Opportunity     `json:"-"`
}

// =============================================================================
// OPPORTUNITIES
// =============================================================================

type AddonSelection struct {
	AddonID  string `json:"addon_id"`
	Quantity int    `json:"quantity,omitempty"`
	Months   int    `json:"months,omitempty"`
}

type BundleSelection struct {
	BundleID string                    `json:"bundle_id"`
	Services []pricing.SelectedService `json:"services"`
}

// AssessmentSelection prices a psychometric or technical assessment per
// evaluated candidate.
type AssessmentSelection struct {
	AssessmentID string          `json:"assessment_id"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Candidates   int             `json:"candidates"`
}

type Opportunity struct {
	ID           generic.OpportunityID `json:"id"`
	ClientID     generic.ClientID      `json:"client_id"`
	BusinessUnit string                `json:"business_unit"`
	ServiceType  string                `json:"service_type,omitempty"`

	// StartDate anchors the payment schedule; nil means the proposal date.
	StartDate *time.Time `json:"start_date,omitempty"`

	Positions   []pricing.PricingLineItem `json:"positions"`
	Addons      []AddonSelection          `json:"addons,omitempty"`
	Bundles     []BundleSelection         `json:"bundles,omitempty"`
	Assessments []AssessmentSelection     `json:"assessments,omitempty"`
}

// MarshalJSON renders StartDate as YYYY-MM-DD.
func (o Opportunity) MarshalJSON() ([]byte, error) {
	type alias Opportunity
	doc := struct {
		alias
		StartDate string `json:"start_date,omitempty"`
	}{alias: alias(o)}
	if o.StartDate != nil {
		doc.StartDate = generic.FormatDate(*o.StartDate)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON accepts StartDate as YYYY-MM-DD.
func (o *Opportunity) UnmarshalJSON(data []byte) error {
	type alias Opportunity
	var doc struct {
		alias
		StartDate string `json:"start_date,omitempty"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*o = Opportunity(doc.alias)
	o.StartDate = nil
	if doc.StartDate != "" {
		d, err := generic.ParseDate(doc.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start_date %q (use YYYY-MM-DD): %w", doc.StartDate, err)
		}
		o.StartDate = &d
	}
	return nil
}

// PositionCount is the total number of openings across positions.
func (o Opportunity) PositionCount() int {
	n := 0
	for _, p := range o.Positions {
		n += p.Count
	}
	return n
}

// =============================================================================
// PROPOSALS
// =============================================================================

type ProposalOptions struct {
	IncludeAddons      bool                    `json:"include_addons"`
	IncludeBundles     bool                    `json:"include_bundles"`
	IncludeAssessments bool                    `json:"include_assessments"`
	PaymentSchedule    bool                    `json:"payment_schedule"`
	CustomMilestones   []generic.MilestoneSpec `json:"custom_milestones,omitempty"`
}

// DefaultProposalOptions includes every section and a payment schedule.
func DefaultProposalOptions() ProposalOptions {
	return ProposalOptions{
		IncludeAddons:      true,
		IncludeBundles:     true,
		IncludeAssessments: true,
		PaymentSchedule:    true,
	}
}

type AddonLine struct {
	AddonID string                `json:"addon_id"`
	Pricing pricing.PricingResult `json:"pricing"`
	Data    map[string]any        `json:"data,omitempty"`
}

type BundleLine struct {
	BundleID string                `json:"bundle_id"`
	Pricing  pricing.PricingResult `json:"pricing"`
}

// Exclusion records an addon or bundle left out because pricing it failed.
type Exclusion struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ProposalPricing is the document-ready pricing of an opportunity. Subtotal,
// Tax and Total are sums over the included sections.
type ProposalPricing struct {
	OpportunityID generic.OpportunityID `json:"opportunity_id"`
	ClientID      generic.ClientID      `json:"client_id"`
	BusinessUnit  string                `json:"business_unit"`
	Currency      generic.Currency      `json:"currency"`

	Volume      pricing.PricingResult  `json:"volume"`
	Addons      []AddonLine            `json:"addons,omitempty"`
	Bundles     []BundleLine           `json:"bundles,omitempty"`
	Assessments *pricing.PricingResult `json:"assessments,omitempty"`
	Excluded    []Exclusion            `json:"excluded,omitempty"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`

	Schedule    *billing.ScheduleResult `json:"schedule,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
}
