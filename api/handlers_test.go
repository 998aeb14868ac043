/*
handlers_test.go - HTTP tests for the API

Tests for:
- Pricing endpoints and error mapping
- Contract schedules, settlement and exactly-once conflicts
- Proposals from stored opportunities
- Dashboard, metrics exposition and the due-payment scheduler
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/huntred/billing-engine/api"
	"github.com/huntred/billing-engine/billing"
	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/generic/store"
	"github.com/huntred/billing-engine/payments"
	"github.com/huntred/billing-engine/pricing"
	"github.com/huntred/billing-engine/proposal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = generic.NewDate(2025, 2, 20)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testServer struct {
	mem    *store.TxMemory
	ledger *payments.Ledger
	router http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	return newTestServerWithDB(t, nil)
}

func newTestServerWithDB(t *testing.T, db api.Pinger) testServer {
	t.Helper()
	mem := store.NewTxMemory()
	clock := generic.FixedClock(today)
	cat := catalog.Default()
	calc := pricing.NewCalculator(cat, clock)
	planner := billing.NewPlanner(cat, mem, clock, nil)
	registry, err := proposal.NewAddonRegistry(proposal.DefaultAddons(calc)...)
	require.NoError(t, err)

	ledger := payments.NewLedger(mem, nil, clock, nil)
	h := api.NewHandler(api.Services{
		Calculator: calc,
		Planner:    planner,
		Orchestrator: proposal.NewOrchestrator(proposal.Config{
			Calculator:    calc,
			Planner:       planner,
			Addons:        registry,
			Loyalty:       proposal.HistoryLoyalty{Store: mem},
			Opportunities: mem,
		}),
		Ledger:  ledger,
		Metrics:  api.NewMetrics(prometheus.NewRegistry()),
		Clock:    clock,
		Database: db,
	})
	return testServer{mem: mem, ledger: ledger, router: api.NewRouter(h)}
}

func (s testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// createContract persists a huntRED 100,000 contract signed 2025-01-15.
func (s testServer) createContract(t *testing.T) api.ScheduleDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/contracts/contract-1/milestones", `{
		"client_id": "client-1",
		"business_unit": "huntRED",
		"signed_date": "2025-01-15",
		"total_amount": "100000"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	milestones := decode[[]api.PaymentMilestoneDTO](t, rec)
	require.Len(t, milestones, 3)

	rec = s.do(t, http.MethodGet, "/api/schedules/"+milestones[0].ScheduleID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.ScheduleDTO](t, rec)
}

// =============================================================================
// PRICING
// =============================================================================

func TestPriceVolume_ReturnsDiscountedTotal(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pricing/volume", `{
		"business_unit": "huntRED",
		"groups": [{"subject_id": "dev", "subject_name": "Developer", "count": 3, "unit_base_price": "10000"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[pricing.PricingResult](t, rec)
	assert.True(t, result.Total.Equal(dec("33060")), result.Total.String())
	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].DiscountPct.Equal(dec("5")))
}

func TestPriceVolume_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pricing/volume", `{"business_unit": "nope", "groups": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Details, "nope")

	rec = srv.do(t, http.MethodPost, "/api/pricing/volume", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceRecurring_UsesDurationTiers(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pricing/recurring", `{"unit_price": "1000", "count": 2, "duration_months": 6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[pricing.RecurringPricing](t, rec)
	assert.True(t, result.Monthly.Total.Equal(dec("2088")), result.Monthly.Total.String())

	rec = srv.do(t, http.MethodPost, "/api/pricing/recurring", `{"unit_price": "1000", "count": 2, "duration_months": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceBundle_MembershipErrorsAreClientErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pricing/bundles/talent_acquisition", `{
		"selected": [{"service_id": "onboarding", "name": "Onboarding", "price": "5000"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing required services")

	rec = srv.do(t, http.MethodPost, "/api/pricing/bundles/unknown", `{"selected": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceService_FixedWithQuantityDiscount(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pricing/services", `{
		"service": {"id": "assessment", "name": "Assessment", "billing_type": "fixed", "base_price": "1000"},
		"quantity": 5
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[pricing.PricingResult](t, rec)
	assert.True(t, result.Total.Equal(dec("5220")), result.Total.String())
}

// =============================================================================
// BILLING
// =============================================================================

func TestGetMilestoneConfig_AmountTier(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/billing/milestones?business_unit=huntRED&contract_amount=600000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[api.MilestoneConfigDTO](t, rec).Milestones, 5)

	rec = srv.do(t, http.MethodGet, "/api/billing/milestones?business_unit=huntRED&contract_amount=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateSchedule_PreviewOnly(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/billing/schedules", `{
		"business_unit": "huntRED",
		"start_date": "2025-01-15",
		"contract_amount": "100000"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[billing.ScheduleResult](t, rec)
	require.Len(t, result.Milestones, 3)
	assert.True(t, result.Milestones[0].Amount.Equal(dec("25862.07")))

	schedules, err := srv.mem.ListSchedules(context.Background(), generic.ScheduleFilter{})
	require.NoError(t, err)
	assert.Empty(t, schedules)

	rec = srv.do(t, http.MethodPost, "/api/billing/schedules", `{
		"business_unit": "huntRED",
		"contract_amount": "1000",
		"custom_milestones": [{"name": "a", "percentage": "50", "trigger_event": "x", "days_offset": 0}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid milestone configuration")
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestContractSchedule_ShowsDerivedOverdue(t *testing.T) {
	srv := newTestServer(t)
	schedule := srv.createContract(t)

	assert.Equal(t, "PENDING", schedule.Status)
	require.Len(t, schedule.Payments, 3)
	assert.Equal(t, "OVERDUE", schedule.Payments[0].Status)
	assert.Equal(t, "OVERDUE", schedule.Payments[1].Status)
	assert.Equal(t, "PENDING", schedule.Payments[2].Status)
	assert.Equal(t, "2025-02-14", schedule.Payments[1].DueDate)

	rec := srv.do(t, http.MethodGet, "/api/schedules/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessPayment_ExactlyOnceOverHTTP(t *testing.T) {
	// GIVEN: A persisted schedule
	// WHEN: The first installment is settled, then settled again
	// THEN: 200 then 409; the schedule turns ACTIVE

	srv := newTestServer(t)
	schedule := srv.createContract(t)
	path := "/api/payments/" + schedule.Payments[0].ID + "/process"

	rec := srv.do(t, http.MethodPost, path, `{"method": "card", "transaction_id": "tx-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tx := decode[api.TransactionDTO](t, rec)
	assert.Equal(t, "tx-1", tx.ID)
	assert.True(t, tx.Amount.Equal(dec("30000")))

	rec = srv.do(t, http.MethodPost, path, `{"method": "card", "transaction_id": "tx-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/payments/"+schedule.Payments[1].ID+"/process", `{"transaction_id": "tx-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/payments/"+schedule.Payments[1].ID+"/process", `{"transaction_id": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/payments/missing/process", `{"transaction_id": "tx-9"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/schedules/"+schedule.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[api.ScheduleDTO](t, rec)
	assert.Equal(t, "ACTIVE", after.Status)
	assert.Equal(t, "PAID", after.Payments[0].Status)
	require.NotNil(t, after.Payments[0].TransactionID)
	assert.Equal(t, "tx-1", *after.Payments[0].TransactionID)
}

func TestListPayments_OverdueFilter(t *testing.T) {
	srv := newTestServer(t)
	schedule := srv.createContract(t)

	rec := srv.do(t, http.MethodGet, "/api/payments?status=OVERDUE", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overdue := decode[[]api.PaymentDTO](t, rec)
	require.Len(t, overdue, 2)
	assert.Equal(t, schedule.Payments[0].ID, overdue[0].ID)

	rec = srv.do(t, http.MethodGet, "/api/payments?schedule_id="+schedule.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.PaymentDTO](t, rec), 3)
}

func TestExecuteDuePayments_NoGateway(t *testing.T) {
	srv := newTestServer(t)
	srv.createContract(t)

	rec := srv.do(t, http.MethodPost, "/api/payments/execute-due", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type approvingGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *approvingGateway) Charge(_ context.Context, p generic.Payment) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return "gw-" + string(p.ID), nil
}

func TestExecuteDuePayments_WithGateway(t *testing.T) {
	srv := newTestServer(t)
	srv.createContract(t)
	gateway := &approvingGateway{}
	srv.ledger.WithGateway(gateway)

	rec := srv.do(t, http.MethodPost, "/api/payments/execute-due", `{"as_of": "2025-02-20"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[payments.BatchResult](t, rec)
	assert.Equal(t, 2, result.Succeeded)
	assert.True(t, result.Collected.Equal(dec("70000")))
	assert.Equal(t, 2, gateway.calls)

	rec = srv.do(t, http.MethodPost, "/api/payments/execute-due", `{"as_of": "20-02-2025"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	srv := newTestServer(t)
	schedule := srv.createContract(t)
	rec := srv.do(t, http.MethodPost, "/api/payments/"+schedule.Payments[0].ID+"/process", `{"transaction_id": "tx-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[payments.DashboardMetrics](t, rec)
	assert.Equal(t, 1, m.PaidCount)
	assert.Equal(t, 1, m.OverdueCount)
	assert.Equal(t, 1, m.PendingCount)
	assert.Equal(t, 1, m.Schedules[generic.ScheduleActive])
}

// =============================================================================
// PROPOSALS
// =============================================================================

func TestOpportunityProposal(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/opportunities", `{
		"client_id": "client-9",
		"business_unit": "huntRED",
		"positions": [{"subject_id": "dev", "subject_name": "Developer", "count": 3, "unit_base_price": "10000"}],
		"addons": [{"addon_id": "background_check", "quantity": 2}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opp := decode[proposal.Opportunity](t, rec)
	require.NotEmpty(t, opp.ID)

	rec = srv.do(t, http.MethodPost, "/api/opportunities/"+string(opp.ID)+"/proposal", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[proposal.ProposalPricing](t, rec)
	assert.True(t, result.Volume.Total.Equal(dec("33060")), result.Volume.Total.String())
	require.Len(t, result.Addons, 1)
	require.NotNil(t, result.Schedule)

	rec = srv.do(t, http.MethodPost, "/api/opportunities/"+string(opp.ID)+"/proposal", `{"payment_schedule": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[proposal.ProposalPricing](t, rec).Schedule)

	rec = srv.do(t, http.MethodPost, "/api/opportunities/missing/proposal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/opportunities", `{"business_unit": "unknown"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpportunityProposal_DatedSmallOpportunity(t *testing.T) {
	// GIVEN: An opportunity starting 2025-01-15 with one opening and a
	//        two-month talent pool subscription
	// WHEN: Storing it and generating its proposal
	// THEN: Dates travel as YYYY-MM-DD, the schedule is anchored on the
	//       start date and neither line reaches a discount tier

	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/opportunities", `{
		"client_id": "client-7",
		"business_unit": "huntRED",
		"start_date": "2025-01-15",
		"positions": [{"subject_id": "dev", "subject_name": "Developer", "count": 1, "unit_base_price": "10000"}],
		"addons": [{"addon_id": "talent_pool", "months": 2}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"start_date":"2025-01-15"`)
	opp := decode[proposal.Opportunity](t, rec)
	require.NotNil(t, opp.StartDate)
	assert.Equal(t, generic.NewDate(2025, 1, 15), *opp.StartDate)

	rec = srv.do(t, http.MethodPost, "/api/opportunities/"+string(opp.ID)+"/proposal", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"due_date":"2025-01-15"`)

	result := decode[proposal.ProposalPricing](t, rec)
	require.Len(t, result.Volume.Items, 1)
	assert.True(t, result.Volume.Items[0].DiscountPct.IsZero())
	assert.True(t, result.Volume.Total.Equal(dec("11600")), result.Volume.Total.String())

	require.Len(t, result.Addons, 1)
	require.Len(t, result.Addons[0].Pricing.Items, 1)
	assert.True(t, result.Addons[0].Pricing.Items[0].DiscountPct.IsZero())

	require.NotNil(t, result.Schedule)
	assert.Equal(t, generic.NewDate(2025, 1, 15), result.Schedule.Milestones[0].DueDate)

	rec = srv.do(t, http.MethodPost, "/api/opportunities", `{"business_unit": "huntRED", "start_date": "15/01/2025"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/pricing/volume", `{"business_unit": "huntRED", "groups": []}`)

	rec := srv.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `billing_pricing_requests_total{operation="volume",status="ok"} 1`), rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth_ChecksDatabase(t *testing.T) {
	rec := newTestServerWithDB(t, stubPinger{}).do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newTestServerWithDB(t, stubPinger{err: errors.New("database is closed")}).do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestListAddons(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodGet, "/api/addons", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"background_check", "job_posting", "talent_pool"}, body["addons"])
}

func TestDueScheduler_RunOnceSettlesDuePayments(t *testing.T) {
	srv := newTestServer(t)
	schedule := srv.createContract(t)
	srv.ledger.WithGateway(&approvingGateway{})

	scheduler, err := api.NewDueScheduler(srv.ledger, api.SchedulerConfig{Clock: generic.FixedClock(today)}, nil, nil)
	require.NoError(t, err)
	scheduler.RunOnce(context.Background())

	p, err := srv.mem.GetPayment(context.Background(), generic.PaymentID(schedule.Payments[1].ID))
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentPaid, p.Status)

	third, err := srv.mem.GetPayment(context.Background(), generic.PaymentID(schedule.Payments[2].ID))
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentPending, third.Status)
}

func TestDueScheduler_RejectsBadSpec(t *testing.T) {
	srv := newTestServer(t)
	_, err := api.NewDueScheduler(srv.ledger, api.SchedulerConfig{Spec: "not a cron spec"}, nil, nil)
	assert.Error(t, err)

	scheduler, err := api.NewDueScheduler(srv.ledger, api.SchedulerConfig{}, nil, nil)
	require.NoError(t, err)
	scheduler.Start()
	scheduler.Stop()
}
