/*
store.go - Persistence interface for schedules, payments and settlements

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:            Schedules, payments, milestones, transactions
  TxStore:          Transactional operations (atomic multi-table writes)
  OpportunityStore: Opportunities consumed by proposal generation

IMMUTABLE SETTLEMENTS:
  PaymentTransaction rows are insert-only. The transaction ID is unique:
  AppendTransaction returns ErrTransactionIDConflict for a reused ID.

CHECK-AND-SET:
  MarkPaymentPaid only succeeds while the stored status is PENDING.
  Losing the race yields ErrConcurrentModification, so two concurrent
  settlement attempts on one payment cannot both succeed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - payments/ledger.go: ProcessPayment uses WithTx + MarkPaymentPaid
  - billing/milestones.go: CreatePaymentMilestones uses SaveSchedule + SaveMilestones
*/
package generic

import (
	"context"
	"time"
)

// PaymentFilter selects payments. Zero values mean "any".
type PaymentFilter struct {
	ScheduleID ScheduleID
	Status     PaymentStatus
	DueBefore  *time.Time // inclusive
	DueAfter   *time.Time // inclusive
}

// ScheduleFilter selects schedules. Zero values mean "any".
type ScheduleFilter struct {
	ClientID ClientID
	Status   ScheduleStatus
}

// Store handles persistence of payment schedules and their settlements.
type Store interface {
	// SaveSchedule inserts a schedule together with its payments.
	SaveSchedule(ctx context.Context, s PaymentSchedule) error

	// GetSchedule returns the schedule with its payments ordered by sequence.
	GetSchedule(ctx context.Context, id ScheduleID) (*PaymentSchedule, error)

	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]PaymentSchedule, error)

	UpdateScheduleStatus(ctx context.Context, id ScheduleID, status ScheduleStatus) error

	// CountCompletedSchedules counts COMPLETED schedules of a client.
	CountCompletedSchedules(ctx context.Context, clientID ClientID) (int, error)

	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// ListPayments returns payments ordered by due date, then sequence.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// MarkPaymentPaid transitions PENDING -> PAID. Returns
	// ErrConcurrentModification if the payment is no longer PENDING.
	MarkPaymentPaid(ctx context.Context, id PaymentID, paidAt time.Time, method PaymentMethod, transactionID string) error

	// AppendTransaction persists a settlement. Insert-only.
	AppendTransaction(ctx context.Context, tx PaymentTransaction) error

	TransactionExists(ctx context.Context, transactionID string) (bool, error)

	SaveMilestones(ctx context.Context, milestones []PaymentMilestone) error

	ListMilestones(ctx context.Context, contractID ContractID) ([]PaymentMilestone, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OpportunityStore persists opportunities as opaque JSON documents so the
// store does not depend on the proposal package's types.
type OpportunityStore interface {
	SaveOpportunity(ctx context.Context, id OpportunityID, document []byte) error
	GetOpportunity(ctx context.Context, id OpportunityID) ([]byte, error)
}
