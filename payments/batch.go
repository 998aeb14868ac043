package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxParallelCharges bounds concurrent gateway calls in a batch.
const MaxParallelCharges = 4

// ErrNoGateway is returned by ExecuteAllDuePayments when the ledger has no
// Gateway.
var ErrNoGateway = errors.New("payments: no gateway configured")

type OutcomeStatus string

const (
	OutcomePaid    OutcomeStatus = "paid"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

type PaymentOutcome struct {
	PaymentID     generic.PaymentID `json:"payment_id"`
	Status        OutcomeStatus     `json:"status"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Error         string            `json:"error,omitempty"`
}

// BatchResult summarizes one ExecuteAllDuePayments run. Outcomes follow
// the due-date order of the payments.
type BatchResult struct {
	AsOf      time.Time        `json:"as_of"`
	Attempted int              `json:"attempted"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Collected decimal.Decimal  `json:"collected"`
	Outcomes  []PaymentOutcome `json:"outcomes"`
}

// ExecuteAllDuePayments charges every PENDING payment due on or before asOf
// and settles the ones the gateway accepts. A failed charge or settlement
// is reported in its outcome and does not stop the batch.
func (l *Ledger) ExecuteAllDuePayments(ctx context.Context, asOf time.Time, method generic.PaymentMethod) (BatchResult, error) {
	gateway := l.gateway
	if gateway == nil {
		return BatchResult{}, ErrNoGateway
	}
	if method == "" {
		method = generic.MethodGateway
	}
	cutoff := generic.DateOf(asOf)
	due, err := l.store.ListPayments(ctx, generic.PaymentFilter{Status: generic.PaymentPending, DueBefore: &cutoff})
	if err != nil {
		return BatchResult{}, err
	}

	outcomes := make([]PaymentOutcome, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelCharges)
	for i, p := range due {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = l.executeOne(gctx, gateway, p, method)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{AsOf: cutoff, Attempted: len(due), Collected: decimal.Zero, Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomePaid:
			result.Succeeded++
			result.Collected = result.Collected.Add(o.Amount)
		case OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	l.log.Info("due payments executed",
		zap.String("as_of", generic.FormatDate(cutoff)),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Stringer("collected", result.Collected),
	)
	return result, nil
}

// executeOne holds the payment's lock across the charge and the settlement
// so a payment is never charged twice by overlapping batches.
func (l *Ledger) executeOne(ctx context.Context, gateway Gateway, p generic.Payment, method generic.PaymentMethod) PaymentOutcome {
	unlock := l.locks.Lock(string(p.ID))
	defer unlock()

	out := PaymentOutcome{PaymentID: p.ID, Amount: p.Amount}

	current, err := l.store.GetPayment(ctx, p.ID)
	if err != nil {
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}
	if current.Status != generic.PaymentPending {
		out.Status = OutcomeSkipped
		return out
	}

	txID, err := gateway.Charge(ctx, *current)
	if err != nil {
		l.log.Warn("gateway charge failed", zap.String("payment_id", string(p.ID)), zap.Error(err))
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}
	out.TransactionID = txID

	settled, err := l.process(ctx, p.ID, method, txID, nil)
	if err != nil {
		l.log.Error("charged payment could not be settled",
			zap.String("payment_id", string(p.ID)),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		out.Status, out.Error = OutcomeFailed, err.Error()
		return out
	}
	out.Status, out.Amount = OutcomePaid, settled.Amount
	return out
}

// SendDueReminders notifies every PENDING payment due within [asOf,
// asOf+window]. It returns the number of reminders delivered.
func (l *Ledger) SendDueReminders(ctx context.Context, asOf time.Time, window time.Duration) (int, error) {
	from := generic.DateOf(asOf)
	to := generic.DateOf(from.Add(window))
	due, err := l.store.ListPayments(ctx, generic.PaymentFilter{
		Status:    generic.PaymentPending,
		DueAfter:  &from,
		DueBefore: &to,
	})
	if err != nil {
		return 0, err
	}

	var (
		mu   sync.Mutex
		sent int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelCharges)
	for _, p := range due {
		p := p
		g.Go(func() error {
			ok := l.notify(gctx, Notification{
				Event:      EventDue,
				PaymentID:  p.ID,
				ScheduleID: p.ScheduleID,
				Amount:     p.Amount,
				DueDate:    p.DueDate,
			})
			if ok {
				mu.Lock()
				sent++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sent, err
	}
	l.log.Info("due reminders sent", zap.Int("due", len(due)), zap.Int("sent", sent))
	return sent, nil
}
