/*
handlers.go - HTTP API handlers for the pricing and billing engine

PURPOSE:
  Exposes pricing, schedules, proposals and payment settlement via REST.
  Handles HTTP request/response and JSON, and delegates to domain logic.

ENDPOINTS:
  Pricing:
    POST   /api/pricing/volume            Volume pricing for a business unit
    POST   /api/pricing/recurring         Recurring pricing over a duration
    POST   /api/pricing/bundles/{id}      Bundle pricing
    POST   /api/pricing/services          One service through the discount stack

  Billing:
    GET    /api/billing/milestones        Milestone template for a contract
    POST   /api/billing/schedules         Preview a payment schedule
    POST   /api/contracts/{id}/milestones Persist a contract's schedule

  Proposals:
    POST   /api/opportunities             Store an opportunity
    POST   /api/opportunities/{id}/proposal Price an opportunity
    GET    /api/addons                    Registered addon IDs

  Payments:
    GET    /api/schedules/{id}            Schedule with effective statuses
    GET    /api/payments                  Payments (?status, ?schedule_id)
    POST   /api/payments/{id}/process     Settle a payment
    POST   /api/payments/execute-due      Charge all due payments
    GET    /api/dashboard                 Collection metrics

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain logic (validation lives there)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Schedule, payment or opportunity not found
  - 409: Already processed, transaction ID reuse, lost race
  - 503: No payment gateway configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/huntred/billing-engine/billing"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/logger"
	"github.com/huntred/billing-engine/payments"
	"github.com/huntred/billing-engine/pricing"
	"github.com/huntred/billing-engine/proposal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the domain components the API delegates to.
type Services struct {
	Calculator   *pricing.Calculator
	Planner      *billing.Planner
	Orchestrator *proposal.Orchestrator
	Ledger       *payments.Ledger
	Metrics      *Metrics
	Clock        generic.Clock
	Logger       *zap.Logger

	// Database is checked by /health when set.
	Database Pinger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	calc    *pricing.Calculator
	planner *billing.Planner
	orch    *proposal.Orchestrator
	ledger  *payments.Ledger
	metrics *Metrics
	clock   generic.Clock
	db      Pinger
	log     *zap.Logger
}

// NewHandler creates a handler. Nil metrics get a private registry; a nil
// clock uses the system clock.
func NewHandler(s Services) *Handler {
	h := &Handler{
		calc:    s.Calculator,
		planner: s.Planner,
		orch:    s.Orchestrator,
		ledger:  s.Ledger,
		metrics: s.Metrics,
		clock:   s.Clock,
		db:      s.Database,
		log:     logger.OrNop(s.Logger).Named("api"),
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if h.clock == nil {
		h.clock = generic.SystemClock
	}
	return h
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

// PriceVolume prices positions with the business unit's volume tiers.
// POST /api/pricing/volume
func (h *Handler) PriceVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumePricingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.calc.CalculateVolumePricing(req.BusinessUnit, req.Groups)
	h.metrics.recordPricing("volume", err)
	if err != nil {
		h.writeDomainError(w, "Failed to price volume", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PriceRecurring prices a monthly service over a duration.
// POST /api/pricing/recurring
func (h *Handler) PriceRecurring(w http.ResponseWriter, r *http.Request) {
	var req RecurringPricingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		result pricing.RecurringPricing
		err    error
	)
	if req.BusinessUnit != "" {
		result, err = h.calc.CalculateRecurringPricingFor(req.BusinessUnit, req.UnitPrice, req.Count, req.DurationMonths)
	} else {
		result, err = h.calc.CalculateRecurringPricing(req.UnitPrice, req.Count, req.DurationMonths)
	}
	h.metrics.recordPricing("recurring", err)
	if err != nil {
		h.writeDomainError(w, "Failed to price recurring service", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PriceBundle prices a bundle selection.
// POST /api/pricing/bundles/{id}
func (h *Handler) PriceBundle(w http.ResponseWriter, r *http.Request) {
	var req BundlePricingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.calc.CalculateBundlePricing(chi.URLParam(r, "id"), req.Selected)
	h.metrics.recordPricing("bundle", err)
	if err != nil {
		h.writeDomainError(w, "Failed to price bundle", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PriceService runs one service through the quantity, loyalty and strategy
// discounts.
// POST /api/pricing/services
func (h *Handler) PriceService(w http.ResponseWriter, r *http.Request) {
	var req proposal.ServicePriceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.orch.CalculateServicePrice(r.Context(), req)
	h.metrics.recordPricing("service", err)
	if err != nil {
		h.writeDomainError(w, "Failed to price service", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GetMilestoneConfig returns the milestone template a contract would use.
// GET /api/billing/milestones?business_unit=&contract_amount=&service_type=
func (h *Handler) GetMilestoneConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bu := q.Get("business_unit")

	var amount *decimal.Decimal
	if raw := q.Get("contract_amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid contract_amount", err)
			return
		}
		amount = &d
	}

	specs, err := h.planner.GetMilestoneConfig(bu, amount, q.Get("service_type"))
	if err != nil {
		h.writeDomainError(w, "Failed to get milestone configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, MilestoneConfigDTO{BusinessUnit: bu, Milestones: specs})
}

// GenerateSchedule previews a payment schedule without persisting it.
// POST /api/billing/schedules
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := h.dateOrToday(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.planner.GeneratePaymentSchedule(billing.ScheduleRequest{
		BusinessUnit:     req.BusinessUnit,
		StartDate:        start,
		ContractAmount:   req.ContractAmount,
		ServiceType:      req.ServiceType,
		CustomMilestones: req.CustomMilestones,
	})
	h.metrics.recordPricing("schedule", err)
	if err != nil {
		h.writeDomainError(w, "Failed to generate schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateContractMilestones persists a signed contract's schedule.
// POST /api/contracts/{id}/milestones
func (h *Handler) CreateContractMilestones(w http.ResponseWriter, r *http.Request) {
	var req ContractMilestonesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	signed, err := h.dateOrToday(req.SignedDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signed_date (use YYYY-MM-DD)", err)
		return
	}

	milestones, err := h.planner.CreatePaymentMilestones(r.Context(), generic.Contract{
		ID:           generic.ContractID(chi.URLParam(r, "id")),
		ClientID:     generic.ClientID(req.ClientID),
		BusinessUnit: req.BusinessUnit,
		ServiceType:  req.ServiceType,
		SignedDate:   signed,
		TotalAmount:  req.TotalAmount,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create milestones", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMilestoneDTOs(milestones))
}

// =============================================================================
// PROPOSAL HANDLERS
// =============================================================================

// CreateOpportunity stores an opportunity for later proposals.
// POST /api/opportunities
func (h *Handler) CreateOpportunity(w http.ResponseWriter, r *http.Request) {
	var opp proposal.Opportunity
	if !decodeBody(w, r, &opp) {
		return
	}

	saved, err := h.orch.SaveOpportunity(r.Context(), opp)
	if err != nil {
		h.writeDomainError(w, "Failed to save opportunity", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// ListAddons returns the IDs of the registered addons.
// GET /api/addons
func (h *Handler) ListAddons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"addons": h.orch.Addons().IDs()})
}

// GenerateProposal prices a stored opportunity. An empty body uses the
// default options.
// POST /api/opportunities/{id}/proposal
func (h *Handler) GenerateProposal(w http.ResponseWriter, r *http.Request) {
	opts := proposal.DefaultProposalOptions()
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	start := time.Now()
	result, err := h.orch.GenerateProposal(r.Context(), generic.OpportunityID(chi.URLParam(r, "id")), opts)
	h.metrics.observeProposal(start)
	h.metrics.recordPricing("proposal", err)
	if err != nil {
		h.writeDomainError(w, "Failed to generate proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// GetSchedule returns a schedule with effective payment statuses.
// GET /api/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.ledger.GetSchedule(r.Context(), generic.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(schedule))
}

// ListPayments lists payments; status=OVERDUE selects past-due PENDING ones.
// GET /api/payments?status=&schedule_id=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.ledger.ListPayments(r.Context(), generic.PaymentFilter{
		ScheduleID: generic.ScheduleID(q.Get("schedule_id")),
		Status:     generic.PaymentStatus(q.Get("status")),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(list))
	for i, p := range list {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ProcessPayment settles a payment exactly once.
// POST /api/payments/{id}/process
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.ledger.ProcessPayment(r.Context(),
		generic.PaymentID(chi.URLParam(r, "id")),
		generic.PaymentMethod(req.Method),
		req.TransactionID,
		req.Amount,
	)
	h.metrics.recordSettlement(err)
	if err != nil {
		h.writeDomainError(w, "Failed to process payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// ExecuteDuePayments charges every payment due on or before as_of.
// POST /api/payments/execute-due
func (h *Handler) ExecuteDuePayments(w http.ResponseWriter, r *http.Request) {
	var req ExecuteDueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	asOf, err := h.dateOrToday(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.ledger.ExecuteAllDuePayments(r.Context(), asOf, generic.PaymentMethod(req.Method))
	if err != nil {
		h.writeDomainError(w, "Failed to execute due payments", err)
		return
	}
	h.metrics.recordBatch(result)
	writeJSON(w, http.StatusOK, result)
}

// Dashboard returns collection metrics.
// GET /api/dashboard?as_of=
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.dateOrToday(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
		return
	}

	metrics, err := h.ledger.Dashboard(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// Health reports liveness and database reachability.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) dateOrToday(s string) (time.Time, error) {
	if s == "" {
		return generic.DateOf(h.clock()), nil
	}
	return generic.ParseDate(s)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, payments.ErrNoGateway):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, fmt.Errorf("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
