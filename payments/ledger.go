/*
Package payments owns the payment state machine.

PURPOSE:
  The Ledger settles installments created by billing.CreatePaymentMilestones,
  runs due-payment batches against an external gateway and reports
  collection metrics.

STATE MACHINE:
  Payment:   PENDING -> PAID           (OVERDUE = PENDING and past due, derived)
  Schedule:  PENDING -> ACTIVE -> COMPLETED
             first settlement makes a schedule ACTIVE; the last one
             makes it COMPLETED

SETTLEMENT (ProcessPayment):
  Runs inside one store transaction:
    1. transaction_id already used  -> TransactionIDConflict
    2. payment already PAID         -> AlreadyProcessed
    3. PENDING -> PAID check-and-set (ErrConcurrentModification if lost)
    4. insert the PaymentTransaction
    5. advance the schedule status
  Any error rolls everything back. The state transition is never retried.

  After commit, a receipt goes to the Notifier with bounded exponential
  backoff. A notification failure is logged and does not undo the payment.

CONCURRENCY:
  Settlements of one payment are serialized by a per-payment lock within
  the process and by the store's check-and-set across processes. Distinct
  payments settle in parallel.

SEE ALSO:
  - batch.go: ExecuteAllDuePayments, SendDueReminders
  - dashboard.go: Dashboard and read helpers
  - notify.go: Notifier and retry policy
*/
package payments

import (
	"context"
	"errors"
	"fmt"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway charges a payment through an external processor and returns the
// processor's transaction ID.
type Gateway interface {
	Charge(ctx context.Context, p generic.Payment) (string, error)
}

// Ledger settles payments against a transactional store.
type Ledger struct {
	store        generic.TxStore
	notifier     Notifier
	gateway      Gateway
	clock        generic.Clock
	log          *zap.Logger
	buildBackoff func() backoff.BackOff
	locks        *keyedLock
}

// NewLedger returns a Ledger. A nil notifier logs notifications; a nil
// clock uses the system clock.
func NewLedger(store generic.TxStore, notifier Notifier, clock generic.Clock, log *zap.Logger) *Ledger {
	log = logger.OrNop(log).Named("payments")
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Ledger{
		store:        store,
		notifier:     notifier,
		clock:        clock,
		log:          log,
		buildBackoff: DefaultBackOff,
		locks:        newKeyedLock(),
	}
}

// WithBackOff replaces the notification retry policy.
func (l *Ledger) WithBackOff(factory func() backoff.BackOff) *Ledger {
	if factory != nil {
		l.buildBackoff = factory
	}
	return l
}

// WithGateway sets the processor used by ExecuteAllDuePayments.
func (l *Ledger) WithGateway(g Gateway) *Ledger {
	l.gateway = g
	return l
}

// ProcessPayment settles a payment exactly once. amount overrides the
// recorded transaction amount and must be positive when given.
func (l *Ledger) ProcessPayment(ctx context.Context, paymentID generic.PaymentID, method generic.PaymentMethod, transactionID string, amount *decimal.Decimal) (generic.PaymentTransaction, error) {
	unlock := l.locks.Lock(string(paymentID))
	defer unlock()
	return l.process(ctx, paymentID, method, transactionID, amount)
}

func (l *Ledger) process(ctx context.Context, paymentID generic.PaymentID, method generic.PaymentMethod, transactionID string, amount *decimal.Decimal) (generic.PaymentTransaction, error) {
	if transactionID == "" {
		return generic.PaymentTransaction{}, generic.ErrMissingTransactionID
	}
	if amount != nil && !amount.IsPositive() {
		return generic.PaymentTransaction{}, fmt.Errorf("%w: %s", generic.ErrInvalidAmount, amount)
	}
	if method == "" {
		method = generic.MethodTransfer
	}

	now := l.clock()
	var (
		settled generic.PaymentTransaction
		payment generic.Payment
	)
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		used, err := tx.TransactionExists(ctx, transactionID)
		if err != nil {
			return err
		}
		if used {
			return generic.TransactionIDConflict(paymentID, transactionID)
		}

		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == generic.PaymentPaid {
			return generic.AlreadyProcessed(paymentID, p.Status)
		}

		if err := tx.MarkPaymentPaid(ctx, paymentID, now, method, transactionID); err != nil {
			return err
		}

		settled = generic.PaymentTransaction{
			ID:          transactionID,
			PaymentID:   paymentID,
			ScheduleID:  p.ScheduleID,
			Amount:      p.Amount,
			Method:      method,
			ProcessedAt: now,
		}
		if amount != nil {
			settled.Amount = *amount
		}
		if err := tx.AppendTransaction(ctx, settled); err != nil {
			if errors.Is(err, generic.ErrTransactionIDConflict) {
				return generic.TransactionIDConflict(paymentID, transactionID)
			}
			return err
		}

		schedule, err := tx.GetSchedule(ctx, p.ScheduleID)
		if err != nil {
			return err
		}
		next := schedule.Status
		if schedule.AllPaid() {
			next = generic.ScheduleCompleted
		} else if schedule.Status == generic.SchedulePending {
			next = generic.ScheduleActive
		}
		if next != schedule.Status {
			if err := tx.UpdateScheduleStatus(ctx, schedule.ID, next); err != nil {
				return err
			}
		}
		payment = *p
		return nil
	})
	if err != nil {
		l.log.Debug("payment not processed",
			zap.String("payment_id", string(paymentID)),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return generic.PaymentTransaction{}, err
	}

	l.log.Info("payment processed",
		zap.String("payment_id", string(paymentID)),
		zap.String("schedule_id", string(settled.ScheduleID)),
		zap.String("transaction_id", transactionID),
		zap.String("method", string(method)),
		zap.Stringer("amount", settled.Amount),
	)

	l.notify(ctx, Notification{
		Event:         EventPaid,
		PaymentID:     paymentID,
		ScheduleID:    settled.ScheduleID,
		Amount:        settled.Amount,
		DueDate:       payment.DueDate,
		TransactionID: transactionID,
	})
	return settled, nil
}
