// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/huntred/billing-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	schedules     map[generic.ScheduleID]generic.PaymentSchedule
	payments      map[generic.PaymentID]generic.Payment
	transactions  map[string]generic.PaymentTransaction
	milestones    map[generic.ContractID][]generic.PaymentMilestone
	opportunities map[generic.OpportunityID][]byte
}

func NewMemory() *Memory {
	return &Memory{
		schedules:     make(map[generic.ScheduleID]generic.PaymentSchedule),
		payments:      make(map[generic.PaymentID]generic.Payment),
		transactions:  make(map[string]generic.PaymentTransaction),
		milestones:    make(map[generic.ContractID][]generic.PaymentMilestone),
		opportunities: make(map[generic.OpportunityID][]byte),
	}
}

func (m *Memory) SaveSchedule(_ context.Context, s generic.PaymentSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveScheduleLocked(s)
	return nil
}

func (m *Memory) saveScheduleLocked(s generic.PaymentSchedule) {
	for _, p := range s.Payments {
		m.payments[p.ID] = p
	}
	s.Payments = nil
	m.schedules[s.ID] = s
}

func (m *Memory) GetSchedule(_ context.Context, id generic.ScheduleID) (*generic.PaymentSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getScheduleLocked(id)
}

func (m *Memory) getScheduleLocked(id generic.ScheduleID) (*generic.PaymentSchedule, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, generic.ErrScheduleNotFound
	}
	s.Payments = m.listPaymentsLocked(generic.PaymentFilter{ScheduleID: id})
	sort.Slice(s.Payments, func(i, j int) bool { return s.Payments[i].Sequence < s.Payments[j].Sequence })
	return &s, nil
}

func (m *Memory) ListSchedules(_ context.Context, filter generic.ScheduleFilter) ([]generic.PaymentSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSchedulesLocked(filter), nil
}

func (m *Memory) listSchedulesLocked(filter generic.ScheduleFilter) []generic.PaymentSchedule {
	var result []generic.PaymentSchedule
	for id, s := range m.schedules {
		if filter.ClientID != "" && s.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		full, _ := m.getScheduleLocked(id)
		result = append(result, *full)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) UpdateScheduleStatus(_ context.Context, id generic.ScheduleID, status generic.ScheduleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateScheduleStatusLocked(id, status)
}

func (m *Memory) updateScheduleStatusLocked(id generic.ScheduleID, status generic.ScheduleStatus) error {
	s, ok := m.schedules[id]
	if !ok {
		return generic.ErrScheduleNotFound
	}
	s.Status = status
	m.schedules[id] = s
	return nil
}

func (m *Memory) CountCompletedSchedules(_ context.Context, clientID generic.ClientID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.schedules {
		if s.ClientID == clientID && s.Status == generic.ScheduleCompleted {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetPayment(_ context.Context, id generic.PaymentID) (*generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

func (m *Memory) getPaymentLocked(id generic.PaymentID) (*generic.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, generic.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(filter), nil
}

func (m *Memory) listPaymentsLocked(filter generic.PaymentFilter) []generic.Payment {
	var result []generic.Payment
	for _, p := range m.payments {
		if filter.ScheduleID != "" && p.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.DueBefore != nil && p.DueDate.After(*filter.DueBefore) {
			continue
		}
		if filter.DueAfter != nil && p.DueDate.Before(*filter.DueAfter) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		if result[i].Sequence != result[j].Sequence {
			return result[i].Sequence < result[j].Sequence
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) MarkPaymentPaid(_ context.Context, id generic.PaymentID, paidAt time.Time, method generic.PaymentMethod, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaidLocked(id, paidAt, method, transactionID)
}

func (m *Memory) markPaidLocked(id generic.PaymentID, paidAt time.Time, method generic.PaymentMethod, transactionID string) error {
	p, ok := m.payments[id]
	if !ok {
		return generic.ErrPaymentNotFound
	}
	if p.Status != generic.PaymentPending {
		return generic.ErrConcurrentModification
	}
	txID := transactionID
	p.Status = generic.PaymentPaid
	p.PaymentDate = &paidAt
	p.TransactionID = &txID
	p.Method = method
	m.payments[id] = p
	return nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx generic.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Memory) appendTransactionLocked(tx generic.PaymentTransaction) error {
	if _, exists := m.transactions[tx.ID]; exists {
		return generic.ErrTransactionIDConflict
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) TransactionExists(_ context.Context, transactionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transactions[transactionID]
	return ok, nil
}

func (m *Memory) SaveMilestones(_ context.Context, milestones []generic.PaymentMilestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveMilestonesLocked(milestones)
	return nil
}

func (m *Memory) saveMilestonesLocked(milestones []generic.PaymentMilestone) {
	for _, ms := range milestones {
		m.milestones[ms.ContractID] = append(m.milestones[ms.ContractID], ms)
	}
}

func (m *Memory) ListMilestones(_ context.Context, contractID generic.ContractID) ([]generic.PaymentMilestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.PaymentMilestone, len(m.milestones[contractID]))
	copy(result, m.milestones[contractID])
	return result, nil
}

func (m *Memory) SaveOpportunity(_ context.Context, id generic.OpportunityID, document []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities[id] = append([]byte(nil), document...)
	return nil
}

func (m *Memory) GetOpportunity(_ context.Context, id generic.OpportunityID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.opportunities[id]
	if !ok {
		return nil, generic.ErrOpportunityNotFound
	}
	return append([]byte(nil), doc...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, which serializes settlements.
func (tm *TxMemory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	schedules    map[generic.ScheduleID]generic.PaymentSchedule
	payments     map[generic.PaymentID]generic.Payment
	transactions map[string]generic.PaymentTransaction
	milestones   map[generic.ContractID][]generic.PaymentMilestone
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		schedules:    make(map[generic.ScheduleID]generic.PaymentSchedule, len(tm.schedules)),
		payments:     make(map[generic.PaymentID]generic.Payment, len(tm.payments)),
		transactions: make(map[string]generic.PaymentTransaction, len(tm.transactions)),
		milestones:   make(map[generic.ContractID][]generic.PaymentMilestone, len(tm.milestones)),
	}
	for k, v := range tm.schedules {
		s.schedules[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = v
	}
	for k, v := range tm.transactions {
		s.transactions[k] = v
	}
	for k, v := range tm.milestones {
		s.milestones[k] = append([]generic.PaymentMilestone{}, v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.schedules = s.schedules
	tm.payments = s.payments
	tm.transactions = s.transactions
	tm.milestones = s.milestones
}

// txMemoryView runs against the parent's maps without taking the lock,
// which WithTx already holds.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveSchedule(_ context.Context, s generic.PaymentSchedule) error {
	tv.parent.saveScheduleLocked(s)
	return nil
}

func (tv *txMemoryView) GetSchedule(_ context.Context, id generic.ScheduleID) (*generic.PaymentSchedule, error) {
	return tv.parent.getScheduleLocked(id)
}

func (tv *txMemoryView) ListSchedules(_ context.Context, filter generic.ScheduleFilter) ([]generic.PaymentSchedule, error) {
	return tv.parent.listSchedulesLocked(filter), nil
}

func (tv *txMemoryView) UpdateScheduleStatus(_ context.Context, id generic.ScheduleID, status generic.ScheduleStatus) error {
	return tv.parent.updateScheduleStatusLocked(id, status)
}

func (tv *txMemoryView) CountCompletedSchedules(_ context.Context, clientID generic.ClientID) (int, error) {
	n := 0
	for _, s := range tv.parent.schedules {
		if s.ClientID == clientID && s.Status == generic.ScheduleCompleted {
			n++
		}
	}
	return n, nil
}

func (tv *txMemoryView) GetPayment(_ context.Context, id generic.PaymentID) (*generic.Payment, error) {
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) ListPayments(_ context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	return tv.parent.listPaymentsLocked(filter), nil
}

func (tv *txMemoryView) MarkPaymentPaid(_ context.Context, id generic.PaymentID, paidAt time.Time, method generic.PaymentMethod, transactionID string) error {
	return tv.parent.markPaidLocked(id, paidAt, method, transactionID)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx generic.PaymentTransaction) error {
	return tv.parent.appendTransactionLocked(tx)
}

func (tv *txMemoryView) TransactionExists(_ context.Context, transactionID string) (bool, error) {
	_, ok := tv.parent.transactions[transactionID]
	return ok, nil
}

func (tv *txMemoryView) SaveMilestones(_ context.Context, milestones []generic.PaymentMilestone) error {
	tv.parent.saveMilestonesLocked(milestones)
	return nil
}

func (tv *txMemoryView) ListMilestones(_ context.Context, contractID generic.ContractID) ([]generic.PaymentMilestone, error) {
	return append([]generic.PaymentMilestone{}, tv.parent.milestones[contractID]...), nil
}
