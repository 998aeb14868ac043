package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/huntred/billing-engine/generic"
	"go.uber.org/zap"
)

var (
	errNoStore    = errors.New("billing: planner has no store")
	errNoContract = errors.New("billing: contract id is required")
)

// CreatePaymentMilestones materializes a contract's schedule anchored to its
// signed date. The schedule (PENDING), one payment per milestone and the
// milestone records are written in a single transaction.
//
// Payment amounts are the milestone totals rounded to cents; the schedule
// total is their sum.
func (p *Planner) CreatePaymentMilestones(ctx context.Context, contract generic.Contract) ([]generic.PaymentMilestone, error) {
	if p.store == nil {
		return nil, errNoStore
	}
	if contract.ID == "" {
		return nil, errNoContract
	}

	plan, err := p.GeneratePaymentSchedule(ScheduleRequest{
		BusinessUnit:   contract.BusinessUnit,
		StartDate:      contract.SignedDate,
		ContractAmount: contract.TotalAmount,
		ServiceType:    contract.ServiceType,
	})
	if err != nil {
		return nil, err
	}

	schedule := generic.PaymentSchedule{
		ID:           generic.ScheduleID(uuid.NewString()),
		ContractID:   contract.ID,
		ClientID:     contract.ClientID,
		BusinessUnit: contract.BusinessUnit,
		Currency:     plan.Currency,
		Status:       generic.SchedulePending,
		CreatedAt:    p.clock(),
	}

	milestones := make([]generic.PaymentMilestone, 0, len(plan.Milestones))
	for _, m := range plan.Milestones {
		payment := generic.Payment{
			ID:            generic.PaymentID(uuid.NewString()),
			ScheduleID:    schedule.ID,
			Sequence:      m.Sequence,
			MilestoneName: m.Name,
			Amount:        generic.Round2(m.Total),
			DueDate:       m.DueDate,
			Status:        generic.PaymentPending,
		}
		schedule.Payments = append(schedule.Payments, payment)
		schedule.TotalAmount = schedule.TotalAmount.Add(payment.Amount)

		milestones = append(milestones, generic.PaymentMilestone{
			ID:           uuid.NewString(),
			ContractID:   contract.ID,
			ScheduleID:   schedule.ID,
			PaymentID:    payment.ID,
			Name:         m.Name,
			Percentage:   m.Percentage,
			TriggerEvent: m.TriggerEvent,
			DaysOffset:   m.DaysOffset,
			Amount:       m.Amount,
			IVA:          m.IVA,
			Total:        m.Total,
			DueDate:      m.DueDate,
		})
	}

	err = p.store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.SaveSchedule(ctx, schedule); err != nil {
			return fmt.Errorf("failed to save schedule: %w", err)
		}
		if err := tx.SaveMilestones(ctx, milestones); err != nil {
			return fmt.Errorf("failed to save milestones: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("payment milestones created",
		zap.String("contract_id", string(contract.ID)),
		zap.String("schedule_id", string(schedule.ID)),
		zap.Int("milestones", len(milestones)),
		zap.Stringer("total", schedule.TotalAmount),
	)
	return milestones, nil
}
