/*
Package billing turns a contract total into a dated milestone schedule.

PURPOSE:
  Progressive billing splits one tax-inclusive contract amount into
  installments tied to trigger events (contract signed, candidates
  presented, candidate hired...). The Planner chooses a milestone template,
  validates it and computes each installment.

TEMPLATE PRECEDENCE (GetMilestoneConfig):
  1. "{business_unit}_{service_type}" when such a template exists
  2. amount tier: the highest AmountTier.Above strictly below the amount
  3. the business unit's base template

ARITHMETIC (GeneratePaymentSchedule):
  net    = contract_amount / 1.16
  amount = round(net * pct / 100, 2)
  iva    = amount * 0.16
  total  = amount + iva
  due    = start_date + days_offset

  Each installment is taxed on its own rounded amount, so the sum of
  totals differs from the contract amount by at most 0.0058 per
  milestone. Aggregates are always sums of the milestone values.

ALL-OR-NOTHING:
  Percentages must sum to exactly 100.00. The check runs before any
  amount is computed; a rejected set never yields a partial schedule.

SEE ALSO:
  - milestones.go: CreatePaymentMilestones persists a schedule
  - catalog/catalog.go: ValidateMilestones
  - payments/: Settles the persisted installments
*/
package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

type ScheduleRequest struct {
	BusinessUnit     string                  `json:"business_unit"`
	StartDate        time.Time               `json:"start_date"`
	ContractAmount   decimal.Decimal         `json:"contract_amount"`
	ServiceType      string                  `json:"service_type,omitempty"`
	CustomMilestones []generic.MilestoneSpec `json:"custom_milestones,omitempty"`
}

// ScheduledMilestone is one computed installment. Amount is rounded to 2dp;
// IVA and Total are exact, so a document renderer rounds them for display
// and the persisted Payment.Amount is Round2(Total).
type ScheduledMilestone struct {
	Sequence     int             `json:"sequence"`
	Name         string          `json:"name"`
	Percentage   decimal.Decimal `json:"percentage"`
	TriggerEvent string          `json:"trigger_event"`
	DaysOffset   int             `json:"days_offset"`
	Amount       decimal.Decimal `json:"amount"`
	IVA          decimal.Decimal `json:"iva"`
	Total        decimal.Decimal `json:"total"`
	DueDate      time.Time       `json:"due_date"`
}

// MarshalJSON renders DueDate as YYYY-MM-DD.
func (m ScheduledMilestone) MarshalJSON() ([]byte, error) {
	type alias ScheduledMilestone
	return json.Marshal(struct {
		alias
		DueDate string `json:"due_date"`
	}{alias: alias(m), DueDate: generic.FormatDate(m.DueDate)})
}

func (m *ScheduledMilestone) UnmarshalJSON(data []byte) error {
	type alias ScheduledMilestone
	var doc struct {
		alias
		DueDate string `json:"due_date"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*m = ScheduledMilestone(doc.alias)
	m.DueDate = time.Time{}
	if doc.DueDate != "" {
		d, err := generic.ParseDate(doc.DueDate)
		if err != nil {
			return fmt.Errorf("invalid due_date %q: %w", doc.DueDate, err)
		}
		m.DueDate = d
	}
	return nil
}

type ScheduleResult struct {
	BusinessUnit   string               `json:"business_unit"`
	Currency       generic.Currency     `json:"currency"`
	ContractAmount decimal.Decimal      `json:"contract_amount"`
	NetSubtotal    decimal.Decimal      `json:"net_subtotal"`
	Milestones     []ScheduledMilestone `json:"milestones"`

	// Sums of the milestone values.
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalIVA    decimal.Decimal `json:"total_iva"`
	Total       decimal.Decimal `json:"total"`
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner selects milestone templates and builds schedules. Store is only
// needed by CreatePaymentMilestones.
type Planner struct {
	catalog *catalog.Catalog
	store   generic.TxStore
	clock   generic.Clock
	log     *zap.Logger
}

func NewPlanner(c *catalog.Catalog, store generic.TxStore, clock generic.Clock, log *zap.Logger) *Planner {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Planner{catalog: c, store: store, clock: clock, log: logger.OrNop(log).Named("billing")}
}

// GetMilestoneConfig returns the milestone template for a business unit.
// contractAmount and serviceType are optional.
func (p *Planner) GetMilestoneConfig(businessUnit string, contractAmount *decimal.Decimal, serviceType string) ([]generic.MilestoneSpec, error) {
	bu, err := p.catalog.Unit(businessUnit)
	if err != nil {
		return nil, err
	}

	if serviceType != "" {
		if specs, ok := p.catalog.Template(businessUnit + "_" + serviceType); ok {
			return cloneSpecs(specs), nil
		}
	}

	if contractAmount != nil {
		var best *catalog.AmountTier
		for i := range bu.AmountTiers {
			at := &bu.AmountTiers[i]
			if contractAmount.GreaterThan(at.Above) && (best == nil || at.Above.GreaterThan(best.Above)) {
				best = at
			}
		}
		if best != nil {
			if specs, ok := p.catalog.Template(best.Template); ok {
				return cloneSpecs(specs), nil
			}
		}
	}

	specs, ok := p.catalog.Template(businessUnit)
	if !ok {
		return nil, fmt.Errorf("%w: no milestone template for %s", generic.ErrInvalidMilestoneConfiguration, businessUnit)
	}
	return cloneSpecs(specs), nil
}

// GeneratePaymentSchedule computes the installments of a contract.
func (p *Planner) GeneratePaymentSchedule(req ScheduleRequest) (ScheduleResult, error) {
	if !req.ContractAmount.IsPositive() {
		return ScheduleResult{}, fmt.Errorf("%w: contract amount %s", generic.ErrInvalidAmount, req.ContractAmount)
	}
	if _, err := p.catalog.Unit(req.BusinessUnit); err != nil {
		return ScheduleResult{}, err
	}

	specs := req.CustomMilestones
	if len(specs) == 0 {
		amount := req.ContractAmount
		var err error
		if specs, err = p.GetMilestoneConfig(req.BusinessUnit, &amount, req.ServiceType); err != nil {
			return ScheduleResult{}, err
		}
	}
	if err := catalog.ValidateMilestones(specs); err != nil {
		return ScheduleResult{}, err
	}

	start := generic.DateOf(req.StartDate)
	net := req.ContractAmount.Div(generic.TaxMultiplier)

	result := ScheduleResult{
		BusinessUnit:   req.BusinessUnit,
		Currency:       p.catalog.Currency,
		ContractAmount: req.ContractAmount,
		NetSubtotal:    generic.Round2(net),
		Milestones:     make([]ScheduledMilestone, 0, len(specs)),
		TotalAmount:    decimal.Zero,
		TotalIVA:       decimal.Zero,
		Total:          decimal.Zero,
	}
	for i, s := range specs {
		amount := generic.Round2(generic.Percent(net, s.Percentage))
		iva := amount.Mul(generic.TaxRate)
		m := ScheduledMilestone{
			Sequence:     i + 1,
			Name:         s.Name,
			Percentage:   s.Percentage,
			TriggerEvent: s.TriggerEvent,
			DaysOffset:   s.DaysOffset,
			Amount:       amount,
			IVA:          iva,
			Total:        amount.Add(iva),
			DueDate:      generic.AddDays(start, s.DaysOffset),
		}
		result.Milestones = append(result.Milestones, m)
		result.TotalAmount = result.TotalAmount.Add(m.Amount)
		result.TotalIVA = result.TotalIVA.Add(m.IVA)
		result.Total = result.Total.Add(m.Total)
	}
	return result, nil
}

func cloneSpecs(specs []generic.MilestoneSpec) []generic.MilestoneSpec {
	return append([]generic.MilestoneSpec(nil), specs...)
}
