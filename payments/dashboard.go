package payments

import (
	"context"
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

// UpcomingWindow is how far ahead the dashboard looks for upcoming payments.
const UpcomingWindow = 30 * 24 * time.Hour

// DashboardMetrics aggregates the ledger as of one day. Pending amounts
// exclude overdue ones.
type DashboardMetrics struct {
	AsOf time.Time `json:"as_of"`

	Schedules map[generic.ScheduleStatus]int `json:"schedules"`

	PaidCount    int `json:"paid_count"`
	PendingCount int `json:"pending_count"`
	OverdueCount int `json:"overdue_count"`

	Collected decimal.Decimal `json:"collected"`
	Pending   decimal.Decimal `json:"pending"`
	Overdue   decimal.Decimal `json:"overdue"`

	UpcomingCount  int             `json:"upcoming_count"`
	UpcomingAmount decimal.Decimal `json:"upcoming_amount"`
}

// Dashboard reports collection metrics as of asOf.
func (l *Ledger) Dashboard(ctx context.Context, asOf time.Time) (DashboardMetrics, error) {
	today := generic.DateOf(asOf)
	horizon := generic.DateOf(today.Add(UpcomingWindow))

	m := DashboardMetrics{
		AsOf: today,
		Schedules: map[generic.ScheduleStatus]int{
			generic.SchedulePending:   0,
			generic.ScheduleActive:    0,
			generic.ScheduleCompleted: 0,
		},
		Collected:      decimal.Zero,
		Pending:        decimal.Zero,
		Overdue:        decimal.Zero,
		UpcomingAmount: decimal.Zero,
	}

	schedules, err := l.store.ListSchedules(ctx, generic.ScheduleFilter{})
	if err != nil {
		return DashboardMetrics{}, err
	}
	for _, s := range schedules {
		m.Schedules[s.Status]++
	}

	payments, err := l.store.ListPayments(ctx, generic.PaymentFilter{})
	if err != nil {
		return DashboardMetrics{}, err
	}
	for _, p := range payments {
		switch p.EffectiveStatus(today) {
		case generic.PaymentPaid:
			m.PaidCount++
			m.Collected = m.Collected.Add(p.Amount)
		case generic.PaymentOverdue:
			m.OverdueCount++
			m.Overdue = m.Overdue.Add(p.Amount)
		default:
			m.PendingCount++
			m.Pending = m.Pending.Add(p.Amount)
			if p.DueDate.After(today) && !p.DueDate.After(horizon) {
				m.UpcomingCount++
				m.UpcomingAmount = m.UpcomingAmount.Add(p.Amount)
			}
		}
	}
	return m, nil
}

// =============================================================================
// READ HELPERS - stored state with OVERDUE derived as of today
// =============================================================================

// GetSchedule returns a schedule with each payment's effective status.
func (l *Ledger) GetSchedule(ctx context.Context, id generic.ScheduleID) (*generic.PaymentSchedule, error) {
	s, err := l.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	today := l.clock()
	for i := range s.Payments {
		s.Payments[i].Status = s.Payments[i].EffectiveStatus(today)
	}
	return s, nil
}

// ListPayments lists payments with effective statuses. Filtering by
// PaymentOverdue selects PENDING payments that are past due.
func (l *Ledger) ListPayments(ctx context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	wantOverdue := filter.Status == generic.PaymentOverdue
	if wantOverdue {
		filter.Status = generic.PaymentPending
	}
	payments, err := l.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	today := l.clock()
	result := make([]generic.Payment, 0, len(payments))
	for _, p := range payments {
		p.Status = p.EffectiveStatus(today)
		if wantOverdue && p.Status != generic.PaymentOverdue {
			continue
		}
		if filter.Status == generic.PaymentPending && !wantOverdue && p.Status == generic.PaymentOverdue {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}
