/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in
  generic/ carry no JSON tags; these types are the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates travel as YYYY-MM-DD strings. Money travels as decimal
  strings so clients never see float rounding.

VALIDATION:
  Validation is done in handlers and domain code, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/pricing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING REQUESTS
// =============================================================================

type VolumePricingRequest struct {
	BusinessUnit string                    `json:"business_unit"`
	Groups       []pricing.PricingLineItem `json:"groups"`
}

type RecurringPricingRequest struct {
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Count          int             `json:"count"`
	DurationMonths int             `json:"duration_months"`

	// BusinessUnit selects the unit's own duration tiers when set.
	BusinessUnit string `json:"business_unit,omitempty"`
}

type BundlePricingRequest struct {
	Selected []pricing.SelectedService `json:"selected"`
}

// =============================================================================
// BILLING REQUESTS
// =============================================================================

type MilestoneConfigDTO struct {
	BusinessUnit string                  `json:"business_unit"`
	Milestones   []generic.MilestoneSpec `json:"milestones"`
}

type ScheduleRequest struct {
	BusinessUnit     string                  `json:"business_unit"`
	StartDate        string                  `json:"start_date"`
	ContractAmount   decimal.Decimal         `json:"contract_amount"`
	ServiceType      string                  `json:"service_type,omitempty"`
	CustomMilestones []generic.MilestoneSpec `json:"custom_milestones,omitempty"`
}

type ContractMilestonesRequest struct {
	ClientID     string          `json:"client_id"`
	BusinessUnit string          `json:"business_unit"`
	ServiceType  string          `json:"service_type,omitempty"`
	SignedDate   string          `json:"signed_date"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type PaymentMilestoneDTO struct {
	ID           string          `json:"id"`
	ContractID   string          `json:"contract_id"`
	ScheduleID   string          `json:"schedule_id"`
	PaymentID    string          `json:"payment_id"`
	Name         string          `json:"name"`
	Percentage   decimal.Decimal `json:"percentage"`
	TriggerEvent string          `json:"trigger_event"`
	DaysOffset   int             `json:"days_offset"`
	Amount       decimal.Decimal `json:"amount"`
	IVA          decimal.Decimal `json:"iva"`
	Total        decimal.Decimal `json:"total"`
	DueDate      string          `json:"due_date"`
}

// =============================================================================
// SCHEDULES AND PAYMENTS
// =============================================================================

type ScheduleDTO struct {
	ID           string          `json:"id"`
	ContractID   string          `json:"contract_id"`
	ClientID     string          `json:"client_id"`
	BusinessUnit string          `json:"business_unit"`
	Currency     string          `json:"currency"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	Payments     []PaymentDTO    `json:"payments"`
}

// PaymentDTO carries the effective status: OVERDUE appears here even though
// it is never stored.
type PaymentDTO struct {
	ID            string          `json:"id"`
	Sequence      int             `json:"sequence"`
	MilestoneName string          `json:"milestone_name"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date"`
	Status        string          `json:"status"`
	PaymentDate   *time.Time      `json:"payment_date,omitempty"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Method        string          `json:"method,omitempty"`
}

type ProcessPaymentRequest struct {
	Method        string           `json:"method"`
	TransactionID string           `json:"transaction_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

type TransactionDTO struct {
	ID          string          `json:"id"`
	PaymentID   string          `json:"payment_id"`
	ScheduleID  string          `json:"schedule_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	ProcessedAt time.Time       `json:"processed_at"`
}

type ExecuteDueRequest struct {
	// AsOf defaults to today.
	AsOf   string `json:"as_of,omitempty"`
	Method string `json:"method,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toScheduleDTO(s *generic.PaymentSchedule) ScheduleDTO {
	dto := ScheduleDTO{
		ID:           string(s.ID),
		ContractID:   string(s.ContractID),
		ClientID:     string(s.ClientID),
		BusinessUnit: s.BusinessUnit,
		Currency:     string(s.Currency),
		TotalAmount:  s.TotalAmount,
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt,
		Payments:     make([]PaymentDTO, len(s.Payments)),
	}
	for i, p := range s.Payments {
		dto.Payments[i] = toPaymentDTO(p)
	}
	return dto
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		Sequence:      p.Sequence,
		MilestoneName: p.MilestoneName,
		Amount:        p.Amount,
		DueDate:       generic.FormatDate(p.DueDate),
		Status:        string(p.Status),
		PaymentDate:   p.PaymentDate,
		TransactionID: p.TransactionID,
		Method:        string(p.Method),
	}
}

func toMilestoneDTOs(ms []generic.PaymentMilestone) []PaymentMilestoneDTO {
	dtos := make([]PaymentMilestoneDTO, len(ms))
	for i, m := range ms {
		dtos[i] = PaymentMilestoneDTO{
			ID:           m.ID,
			ContractID:   string(m.ContractID),
			ScheduleID:   string(m.ScheduleID),
			PaymentID:    string(m.PaymentID),
			Name:         m.Name,
			Percentage:   m.Percentage,
			TriggerEvent: m.TriggerEvent,
			DaysOffset:   m.DaysOffset,
			Amount:       m.Amount,
			IVA:          m.IVA,
			Total:        m.Total,
			DueDate:      generic.FormatDate(m.DueDate),
		}
	}
	return dtos
}

func toTransactionDTO(tx generic.PaymentTransaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		PaymentID:   string(tx.PaymentID),
		ScheduleID:  string(tx.ScheduleID),
		Amount:      tx.Amount,
		Method:      string(tx.Method),
		ProcessedAt: tx.ProcessedAt,
	}
}
