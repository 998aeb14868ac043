/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore and generic.OpportunityStore using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:            Schedules, payments, settlements, milestones
  generic.TxStore:          Atomic multi-table writes
  generic.OpportunityStore: Opportunity documents

KEY TABLES:
  schedules:            One row per contract schedule
  payments:             Installments; status PENDING or PAID
  payment_transactions: Insert-only settlements, keyed by transaction ID
  payment_milestones:   Milestone records created with a schedule
  opportunities:        JSON documents read by proposal generation

MONEY AND DATES:
  Decimals are stored as TEXT so no value passes through float64.
  Due dates are stored as YYYY-MM-DD, which sorts and compares correctly
  as text. Timestamps are RFC3339 in UTC.

CHECK-AND-SET:
  MarkPaymentPaid is `UPDATE ... WHERE status = 'PENDING'`. Zero affected
  rows on an existing payment means another settlement won the race.

CONNECTIONS:
  The pool is limited to one connection. SQLite allows a single writer;
  funnelling everything through one connection turns lock contention
  into queueing instead of SQLITE_BUSY errors, and makes ":memory:"
  databases behave as one database.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// queries holds every statement; Store runs them on the pool and txStore
// inside a transaction.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		business_unit TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_client_status
		ON schedules(client_id, status);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		sequence INTEGER NOT NULL,
		milestone_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT,
		transaction_id TEXT UNIQUE,
		method TEXT NOT NULL DEFAULT ''
	);

	-- Due-payment batches scan by status and due date (hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_status_due
		ON payments(status, due_date);
	CREATE INDEX IF NOT EXISTS idx_payments_schedule
		ON payments(schedule_id, sequence);

	-- Settlements are insert-only; the primary key makes a transaction ID
	-- usable exactly once
	CREATE TABLE IF NOT EXISTS payment_transactions (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		schedule_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		processed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_payment
		ON payment_transactions(payment_id);

	CREATE TABLE IF NOT EXISTS payment_milestones (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		payment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		percentage TEXT NOT NULL,
		trigger_event TEXT NOT NULL,
		days_offset INTEGER NOT NULL,
		amount TEXT NOT NULL,
		iva TEXT NOT NULL,
		total TEXT NOT NULL,
		due_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_milestones_contract
		ON payment_milestones(contract_id);

	CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{queries: queries{q: sqlTx}}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every Store operation on the open transaction.
type txStore struct {
	queries
}

// =============================================================================
// SCHEDULES
// =============================================================================

// SaveSchedule upserts a schedule and its payments.
func (s queries) SaveSchedule(ctx context.Context, schedule generic.PaymentSchedule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO schedules
		(id, contract_id, client_id, business_unit, currency, total_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_amount = excluded.total_amount,
			status = excluded.status
	`,
		schedule.ID,
		schedule.ContractID,
		schedule.ClientID,
		schedule.BusinessUnit,
		string(schedule.Currency),
		schedule.TotalAmount.String(),
		schedule.Status,
		formatTimestamp(schedule.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	for _, p := range schedule.Payments {
		if err := s.savePayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s queries) savePayment(ctx context.Context, p generic.Payment) error {
	var paidAt sql.NullString
	if p.PaymentDate != nil {
		paidAt = nullString(formatTimestamp(*p.PaymentDate))
	}
	var txID sql.NullString
	if p.TransactionID != nil {
		txID = nullString(*p.TransactionID)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments
		(id, schedule_id, sequence, milestone_name, amount, due_date, status, payment_date, transaction_id, method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			due_date = excluded.due_date,
			status = excluded.status,
			payment_date = excluded.payment_date,
			transaction_id = excluded.transaction_id,
			method = excluded.method
	`,
		p.ID,
		p.ScheduleID,
		p.Sequence,
		p.MilestoneName,
		p.Amount.String(),
		generic.FormatDate(p.DueDate),
		p.Status,
		paidAt,
		txID,
		string(p.Method),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment %s: %w", p.ID, err)
	}
	return nil
}

// GetSchedule returns a schedule with its payments ordered by sequence.
func (s queries) GetSchedule(ctx context.Context, id generic.ScheduleID) (*generic.PaymentSchedule, error) {
	schedules, err := s.querySchedules(ctx, scheduleColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, generic.ErrScheduleNotFound
	}
	return &schedules[0], nil
}

// ListSchedules returns schedules ordered by creation time.
func (s queries) ListSchedules(ctx context.Context, filter generic.ScheduleFilter) ([]generic.PaymentSchedule, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	return s.querySchedules(ctx, scheduleColumns+whereClause(where)+` ORDER BY created_at ASC, id ASC`, args...)
}

// UpdateScheduleStatus sets a schedule's lifecycle status.
func (s queries) UpdateScheduleStatus(ctx context.Context, id generic.ScheduleID, status generic.ScheduleStatus) error {
	result, err := s.q.ExecContext(ctx, `UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update schedule status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrScheduleNotFound
	}
	return nil
}

// CountCompletedSchedules counts a client's COMPLETED schedules.
func (s queries) CountCompletedSchedules(ctx context.Context, clientID generic.ClientID) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedules WHERE client_id = ? AND status = ?`,
		clientID, generic.ScheduleCompleted,
	).Scan(&count)
	return count, err
}

const scheduleColumns = `
	SELECT id, contract_id, client_id, business_unit, currency, total_amount, status, created_at
	FROM schedules`

func (s queries) querySchedules(ctx context.Context, query string, args ...any) ([]generic.PaymentSchedule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	var schedules []generic.PaymentSchedule
	for rows.Next() {
		var (
			sc        generic.PaymentSchedule
			currency  string
			createdAt string
		)
		if err := rows.Scan(&sc.ID, &sc.ContractID, &sc.ClientID, &sc.BusinessUnit,
			&currency, &sc.TotalAmount, &sc.Status, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		sc.Currency = generic.Currency(currency)
		sc.CreatedAt = parseTimestamp(createdAt)
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the cursor before loading payments; the pool has one connection.
	rows.Close()

	for i := range schedules {
		payments, err := s.queryPayments(ctx,
			paymentColumns+` WHERE schedule_id = ? ORDER BY sequence ASC`, schedules[i].ID)
		if err != nil {
			return nil, err
		}
		schedules[i].Payments = payments
	}
	return schedules, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// GetPayment returns a single payment.
func (s queries) GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error) {
	payments, err := s.queryPayments(ctx, paymentColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, generic.ErrPaymentNotFound
	}
	return &payments[0], nil
}

// ListPayments returns payments ordered by due date, then sequence.
func (s queries) ListPayments(ctx context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	var (
		where []string
		args  []any
	)
	if filter.ScheduleID != "" {
		where = append(where, "schedule_id = ?")
		args = append(args, filter.ScheduleID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date <= ?")
		args = append(args, generic.FormatDate(*filter.DueBefore))
	}
	if filter.DueAfter != nil {
		where = append(where, "due_date >= ?")
		args = append(args, generic.FormatDate(*filter.DueAfter))
	}
	return s.queryPayments(ctx,
		paymentColumns+whereClause(where)+` ORDER BY due_date ASC, sequence ASC, id ASC`, args...)
}

// MarkPaymentPaid transitions PENDING -> PAID with a check-and-set.
func (s queries) MarkPaymentPaid(ctx context.Context, id generic.PaymentID, paidAt time.Time, method generic.PaymentMethod, transactionID string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, payment_date = ?, transaction_id = ?, method = ?
		WHERE id = ? AND status = ?
	`,
		generic.PaymentPaid,
		formatTimestamp(paidAt),
		transactionID,
		string(method),
		id,
		generic.PaymentPending,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrTransactionIDConflict
		}
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing payment from a lost race.
	if _, err := s.GetPayment(ctx, id); err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

const paymentColumns = `
	SELECT id, schedule_id, sequence, milestone_name, amount, due_date, status,
	       payment_date, transaction_id, method
	FROM payments`

func (s queries) queryPayments(ctx context.Context, query string, args ...any) ([]generic.Payment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []generic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (generic.Payment, error) {
	var (
		p           generic.Payment
		dueDate     string
		paymentDate sql.NullString
		txID        sql.NullString
		method      string
	)

	err := rows.Scan(&p.ID, &p.ScheduleID, &p.Sequence, &p.MilestoneName, &p.Amount,
		&dueDate, &p.Status, &paymentDate, &txID, &method)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.DueDate, err = generic.ParseDate(dueDate)
	if err != nil {
		return p, fmt.Errorf("payment %s: bad due date %q: %w", p.ID, dueDate, err)
	}
	if paymentDate.Valid {
		t := parseTimestamp(paymentDate.String)
		p.PaymentDate = &t
	}
	if txID.Valid {
		id := txID.String
		p.TransactionID = &id
	}
	p.Method = generic.PaymentMethod(method)
	return p, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// AppendTransaction inserts a settlement. A reused ID is a conflict.
func (s queries) AppendTransaction(ctx context.Context, tx generic.PaymentTransaction) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_transactions
		(id, payment_id, schedule_id, amount, method, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.PaymentID,
		tx.ScheduleID,
		tx.Amount.String(),
		string(tx.Method),
		formatTimestamp(tx.ProcessedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrTransactionIDConflict
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// TransactionExists checks whether a transaction ID was already used.
func (s queries) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_transactions WHERE id = ?`,
		transactionID,
	).Scan(&count)
	return count > 0, err
}

// ListTransactions returns the settlements recorded for a payment.
func (s queries) ListTransactions(ctx context.Context, paymentID generic.PaymentID) ([]generic.PaymentTransaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, payment_id, schedule_id, amount, method, processed_at
		FROM payment_transactions
		WHERE payment_id = ?
		ORDER BY processed_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []generic.PaymentTransaction
	for rows.Next() {
		var (
			tx          generic.PaymentTransaction
			method      string
			processedAt string
		)
		if err := rows.Scan(&tx.ID, &tx.PaymentID, &tx.ScheduleID, &tx.Amount, &method, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Method = generic.PaymentMethod(method)
		tx.ProcessedAt = parseTimestamp(processedAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// MILESTONES
// =============================================================================

// SaveMilestones inserts milestone records.
func (s queries) SaveMilestones(ctx context.Context, milestones []generic.PaymentMilestone) error {
	for _, m := range milestones {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO payment_milestones
			(id, contract_id, schedule_id, payment_id, name, percentage, trigger_event,
			 days_offset, amount, iva, total, due_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ID,
			m.ContractID,
			m.ScheduleID,
			m.PaymentID,
			m.Name,
			m.Percentage.String(),
			m.TriggerEvent,
			m.DaysOffset,
			m.Amount.String(),
			m.IVA.String(),
			m.Total.String(),
			generic.FormatDate(m.DueDate),
		)
		if err != nil {
			return fmt.Errorf("failed to save milestone %q: %w", m.Name, err)
		}
	}
	return nil
}

// ListMilestones returns a contract's milestones in insertion order.
func (s queries) ListMilestones(ctx context.Context, contractID generic.ContractID) ([]generic.PaymentMilestone, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contract_id, schedule_id, payment_id, name, percentage, trigger_event,
		       days_offset, amount, iva, total, due_date
		FROM payment_milestones
		WHERE contract_id = ?
		ORDER BY rowid ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	result := []generic.PaymentMilestone{}
	for rows.Next() {
		var (
			m       generic.PaymentMilestone
			dueDate string
		)
		if err := rows.Scan(&m.ID, &m.ContractID, &m.ScheduleID, &m.PaymentID, &m.Name,
			&m.Percentage, &m.TriggerEvent, &m.DaysOffset, &m.Amount, &m.IVA, &m.Total, &dueDate); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.DueDate, err = generic.ParseDate(dueDate)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// =============================================================================
// OPPORTUNITIES (generic.OpportunityStore interface)
// =============================================================================

// SaveOpportunity upserts an opportunity document.
func (s *Store) SaveOpportunity(ctx context.Context, id generic.OpportunityID, document []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (id, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, id, string(document), formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save opportunity: %w", err)
	}
	return nil
}

// GetOpportunity returns an opportunity document.
func (s *Store) GetOpportunity(ctx context.Context, id generic.OpportunityID) ([]byte, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM opportunities WHERE id = ?`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrOpportunityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return []byte(document), nil
}

// Reset clears all data. Intended for demos and tests.
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range []string{"payment_transactions", "payment_milestones", "payments", "schedules", "opportunities"} {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
