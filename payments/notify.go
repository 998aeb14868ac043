package payments

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// NOTIFICATIONS - receipts and reminders for an external dispatcher
// =============================================================================

type Event string

const (
	EventPaid Event = "paid"
	EventDue  Event = "due"
)

type Notification struct {
	Event         Event              `json:"event"`
	PaymentID     generic.PaymentID  `json:"payment_id"`
	ScheduleID    generic.ScheduleID `json:"schedule_id"`
	Amount        decimal.Decimal    `json:"amount"`
	DueDate       time.Time          `json:"due_date"`
	TransactionID string             `json:"transaction_id,omitempty"`
}

// Notifier delivers notifications. Implementations may fail transiently;
// the ledger retries with bounded backoff.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is the default when no
// dispatcher is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Notification) error {
	if n.Log == nil {
		return nil
	}
	n.Log.Info("payment notification",
		zap.String("event", string(msg.Event)),
		zap.String("payment_id", string(msg.PaymentID)),
		zap.String("schedule_id", string(msg.ScheduleID)),
		zap.Stringer("amount", msg.Amount),
		zap.String("due_date", generic.FormatDate(msg.DueDate)),
	)
	return nil
}

// DefaultBackOff retries for at most three seconds starting at 100ms.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return b
}

// notify delivers n with retries. Failures are logged and swallowed: the
// payment state is already committed.
func (l *Ledger) notify(ctx context.Context, n Notification) bool {
	b := backoff.WithContext(l.buildBackoff(), ctx)
	err := backoff.Retry(func() error { return l.notifier.Notify(ctx, n) }, b)
	if err != nil {
		l.log.Warn("notification failed",
			zap.String("event", string(n.Event)),
			zap.String("payment_id", string(n.PaymentID)),
			zap.Error(err),
		)
		return false
	}
	return true
}
