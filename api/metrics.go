package api

import (
	"net/http"
	"time"

	"github.com/huntred/billing-engine/payments"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	PricingRequestsTotal *prometheus.CounterVec
	SettlementsTotal     *prometheus.CounterVec
	DueBatchPayments     *prometheus.CounterVec
	ProposalDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PricingRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_pricing_requests_total",
				Help: "Total number of pricing calculations",
			},
			[]string{"operation", "status"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payment_settlements_total",
				Help: "Total number of payment settlement attempts",
			},
			[]string{"status"},
		),
		DueBatchPayments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_due_batch_payments_total",
				Help: "Payments handled by due-payment batches",
			},
			[]string{"outcome"},
		),
		ProposalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_proposal_duration_seconds",
				Help:    "Proposal generation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.PricingRequestsTotal,
		m.SettlementsTotal,
		m.DueBatchPayments,
		m.ProposalDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordPricing(operation string, err error) {
	m.PricingRequestsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Metrics) recordSettlement(err error) {
	m.SettlementsTotal.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) recordBatch(result payments.BatchResult) {
	m.DueBatchPayments.WithLabelValues(string(payments.OutcomePaid)).Add(float64(result.Succeeded))
	m.DueBatchPayments.WithLabelValues(string(payments.OutcomeSkipped)).Add(float64(result.Skipped))
	m.DueBatchPayments.WithLabelValues(string(payments.OutcomeFailed)).Add(float64(result.Failed))
}

func (m *Metrics) observeProposal(start time.Time) {
	m.ProposalDuration.Observe(time.Since(start).Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
