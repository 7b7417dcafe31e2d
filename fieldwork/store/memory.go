// Package store provides an in-memory Store implementation (testing/dev).
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of fieldwork.TxStore + billing.Store
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	trainees    map[fieldwork.TraineeID]fieldwork.TraineeProfile
	supervisors map[fieldwork.SupervisorID]fieldwork.SupervisorProfile
	independent map[fieldwork.EntryID]fieldwork.IndependentHourEntry
	supervised  map[fieldwork.EntryID]fieldwork.SupervisedHourEntry
	aggregates  map[aggKey]fieldwork.MonthlyPaymentAggregate
	invoices    map[billing.InvoiceID]billing.Invoice
	payments    []billing.TraineePayment
}

type aggKey struct {
	SupervisorID fieldwork.SupervisorID
	TraineeID    fieldwork.TraineeID
	Month        fieldwork.Month
}

func NewMemory() *Memory {
	return &Memory{
		trainees:    make(map[fieldwork.TraineeID]fieldwork.TraineeProfile),
		supervisors: make(map[fieldwork.SupervisorID]fieldwork.SupervisorProfile),
		independent: make(map[fieldwork.EntryID]fieldwork.IndependentHourEntry),
		supervised:  make(map[fieldwork.EntryID]fieldwork.SupervisedHourEntry),
		aggregates:  make(map[aggKey]fieldwork.MonthlyPaymentAggregate),
		invoices:    make(map[billing.InvoiceID]billing.Invoice),
	}
}

// Interface checks.
var (
	_ fieldwork.TxStore = (*Memory)(nil)
	_ billing.Store     = (*Memory)(nil)
)

// =============================================================================
// PROFILE STORE
// =============================================================================

func (m *Memory) TraineeByID(_ context.Context, id fieldwork.TraineeID) (*fieldwork.TraineeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.traineeByIDLocked(id)
}

func (m *Memory) traineeByIDLocked(id fieldwork.TraineeID) (*fieldwork.TraineeProfile, error) {
	t, ok := m.trainees[id]
	if !ok {
		return nil, fieldwork.ErrProfileNotFound
	}
	return &t, nil
}

func (m *Memory) TraineeByUser(_ context.Context, userID fieldwork.UserID) (*fieldwork.TraineeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trainees {
		if t.UserID == userID {
			t := t
			return &t, nil
		}
	}
	return nil, fieldwork.ErrProfileNotFound
}

func (m *Memory) SupervisorByID(_ context.Context, id fieldwork.SupervisorID) (*fieldwork.SupervisorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.supervisors[id]
	if !ok {
		return nil, fieldwork.ErrProfileNotFound
	}
	return &s, nil
}

func (m *Memory) SupervisorByUser(_ context.Context, userID fieldwork.UserID) (*fieldwork.SupervisorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.supervisors {
		if s.UserID == userID {
			s := s
			return &s, nil
		}
	}
	return nil, fieldwork.ErrProfileNotFound
}

func (m *Memory) SaveTrainee(_ context.Context, t *fieldwork.TraineeProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainees[t.ID] = *t
	return nil
}

func (m *Memory) SaveSupervisor(_ context.Context, s *fieldwork.SupervisorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervisors[s.ID] = *s
	return nil
}

func (m *Memory) DeleteTrainee(_ context.Context, id fieldwork.TraineeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trainees[id]; !ok {
		return fieldwork.ErrProfileNotFound
	}
	for _, e := range m.independent {
		if e.TraineeID == id {
			return fieldwork.ErrTraineeReferenced
		}
	}
	for _, e := range m.supervised {
		if e.TraineeID == id {
			return fieldwork.ErrTraineeReferenced
		}
	}
	delete(m.trainees, id)
	return nil
}

func (m *Memory) ActiveTrainees(_ context.Context) ([]fieldwork.TraineeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fieldwork.TraineeProfile
	for _, t := range m.trainees {
		if t.Status == fieldwork.ProfileActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) InsertIndependent(_ context.Context, e *fieldwork.IndependentHourEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.independent[e.ID] = *e
	return nil
}

func (m *Memory) InsertSupervised(_ context.Context, e *fieldwork.SupervisedHourEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervised[e.ID] = *e
	return nil
}

func (m *Memory) SupervisedByID(_ context.Context, id fieldwork.EntryID) (*fieldwork.SupervisedHourEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.supervised[id]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &e, nil
}

func (m *Memory) UpdateSupervised(_ context.Context, e *fieldwork.SupervisedHourEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.supervised[e.ID]; !ok {
		return fieldwork.ErrNotFound
	}
	m.supervised[e.ID] = *e
	return nil
}

func (m *Memory) MonthlyHours(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month) (fieldwork.MonthlyHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hrs fieldwork.MonthlyHours
	hrs.Total = decimal.Zero
	hrs.Restricted = decimal.Zero

	for _, e := range m.independent {
		if e.TraineeID == traineeID && month.Contains(e.Date) {
			hrs.Total = hrs.Total.Add(e.Hours)
			if e.Activity == fieldwork.ActivityRestricted {
				hrs.Restricted = hrs.Restricted.Add(e.Hours)
			}
		}
	}
	for _, e := range m.supervised {
		if e.TraineeID == traineeID && month.Contains(e.Date) {
			hrs.Total = hrs.Total.Add(e.Hours)
			if e.Activity == fieldwork.ActivityRestricted {
				hrs.Restricted = hrs.Restricted.Add(e.Hours)
			}
		}
	}
	return hrs, nil
}

func (m *Memory) SupervisedForMonth(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month, status fieldwork.EntryStatus) ([]fieldwork.SupervisedHourEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fieldwork.SupervisedHourEntry
	for _, e := range m.supervised {
		if e.TraineeID != traineeID || !month.Contains(e.Date) {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (m *Memory) Aggregate(_ context.Context, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, month fieldwork.Month) (*fieldwork.MonthlyPaymentAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.aggregates[aggKey{supervisorID, traineeID, month}]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &a, nil
}

func (m *Memory) UpsertAggregate(_ context.Context, a *fieldwork.MonthlyPaymentAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates[aggKey{a.SupervisorID, a.TraineeID, a.Month}] = *a
	return nil
}

func (m *Memory) AggregatesForSupervisor(_ context.Context, supervisorID fieldwork.SupervisorID, month fieldwork.Month) ([]fieldwork.MonthlyPaymentAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fieldwork.MonthlyPaymentAggregate
	for k, a := range m.aggregates {
		if k.SupervisorID == supervisorID && k.Month == month {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// INVOICE STORE (billing.Store)
// =============================================================================

func (m *Memory) InvoiceByID(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &inv, nil
}

func (m *Memory) InvoiceForMonth(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invoices {
		if inv.TraineeID == traineeID && inv.Month == month {
			inv := inv
			return &inv, nil
		}
	}
	return nil, fieldwork.ErrNotFound
}

func (m *Memory) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *Memory) UpdateInvoice(_ context.Context, inv *billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		return fieldwork.ErrNotFound
	}
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *Memory) InsertTraineePayment(_ context.Context, p *billing.TraineePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, *p)
	return nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn under the write lock against an unlocked view,
// restoring a snapshot on error. Holding the lock for the whole unit
// serializes concurrent units of work, the property the cap check and the
// aggregate increment rely on.
func (m *Memory) WithTx(ctx context.Context, fn func(fieldwork.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{m: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	trainees    map[fieldwork.TraineeID]fieldwork.TraineeProfile
	supervisors map[fieldwork.SupervisorID]fieldwork.SupervisorProfile
	independent map[fieldwork.EntryID]fieldwork.IndependentHourEntry
	supervised  map[fieldwork.EntryID]fieldwork.SupervisedHourEntry
	aggregates  map[aggKey]fieldwork.MonthlyPaymentAggregate
	invoices    map[billing.InvoiceID]billing.Invoice
	payments    []billing.TraineePayment
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		trainees:    make(map[fieldwork.TraineeID]fieldwork.TraineeProfile, len(m.trainees)),
		supervisors: make(map[fieldwork.SupervisorID]fieldwork.SupervisorProfile, len(m.supervisors)),
		independent: make(map[fieldwork.EntryID]fieldwork.IndependentHourEntry, len(m.independent)),
		supervised:  make(map[fieldwork.EntryID]fieldwork.SupervisedHourEntry, len(m.supervised)),
		aggregates:  make(map[aggKey]fieldwork.MonthlyPaymentAggregate, len(m.aggregates)),
		invoices:    make(map[billing.InvoiceID]billing.Invoice, len(m.invoices)),
		payments:    append([]billing.TraineePayment(nil), m.payments...),
	}
	for k, v := range m.trainees {
		s.trainees[k] = v
	}
	for k, v := range m.supervisors {
		s.supervisors[k] = v
	}
	for k, v := range m.independent {
		s.independent[k] = v
	}
	for k, v := range m.supervised {
		s.supervised[k] = v
	}
	for k, v := range m.aggregates {
		s.aggregates[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.trainees = s.trainees
	m.supervisors = s.supervisors
	m.independent = s.independent
	m.supervised = s.supervised
	m.aggregates = s.aggregates
	m.invoices = s.invoices
	m.payments = s.payments
}

// txView exposes the parent's maps without re-acquiring the lock WithTx
// already holds.
type txView struct {
	m *Memory
}

var (
	_ fieldwork.Store = (*txView)(nil)
	_ billing.Store   = (*txView)(nil)
)

func (v *txView) TraineeByID(_ context.Context, id fieldwork.TraineeID) (*fieldwork.TraineeProfile, error) {
	return v.m.traineeByIDLocked(id)
}

func (v *txView) TraineeByUser(_ context.Context, userID fieldwork.UserID) (*fieldwork.TraineeProfile, error) {
	for _, t := range v.m.trainees {
		if t.UserID == userID {
			t := t
			return &t, nil
		}
	}
	return nil, fieldwork.ErrProfileNotFound
}

func (v *txView) SupervisorByID(_ context.Context, id fieldwork.SupervisorID) (*fieldwork.SupervisorProfile, error) {
	s, ok := v.m.supervisors[id]
	if !ok {
		return nil, fieldwork.ErrProfileNotFound
	}
	return &s, nil
}

func (v *txView) SupervisorByUser(_ context.Context, userID fieldwork.UserID) (*fieldwork.SupervisorProfile, error) {
	for _, s := range v.m.supervisors {
		if s.UserID == userID {
			s := s
			return &s, nil
		}
	}
	return nil, fieldwork.ErrProfileNotFound
}

func (v *txView) SaveTrainee(_ context.Context, t *fieldwork.TraineeProfile) error {
	v.m.trainees[t.ID] = *t
	return nil
}

func (v *txView) SaveSupervisor(_ context.Context, s *fieldwork.SupervisorProfile) error {
	v.m.supervisors[s.ID] = *s
	return nil
}

func (v *txView) DeleteTrainee(_ context.Context, id fieldwork.TraineeID) error {
	if _, ok := v.m.trainees[id]; !ok {
		return fieldwork.ErrProfileNotFound
	}
	for _, e := range v.m.independent {
		if e.TraineeID == id {
			return fieldwork.ErrTraineeReferenced
		}
	}
	for _, e := range v.m.supervised {
		if e.TraineeID == id {
			return fieldwork.ErrTraineeReferenced
		}
	}
	delete(v.m.trainees, id)
	return nil
}

func (v *txView) ActiveTrainees(_ context.Context) ([]fieldwork.TraineeProfile, error) {
	var out []fieldwork.TraineeProfile
	for _, t := range v.m.trainees {
		if t.Status == fieldwork.ProfileActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v *txView) InsertIndependent(_ context.Context, e *fieldwork.IndependentHourEntry) error {
	v.m.independent[e.ID] = *e
	return nil
}

func (v *txView) InsertSupervised(_ context.Context, e *fieldwork.SupervisedHourEntry) error {
	v.m.supervised[e.ID] = *e
	return nil
}

func (v *txView) SupervisedByID(_ context.Context, id fieldwork.EntryID) (*fieldwork.SupervisedHourEntry, error) {
	e, ok := v.m.supervised[id]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &e, nil
}

func (v *txView) UpdateSupervised(_ context.Context, e *fieldwork.SupervisedHourEntry) error {
	if _, ok := v.m.supervised[e.ID]; !ok {
		return fieldwork.ErrNotFound
	}
	v.m.supervised[e.ID] = *e
	return nil
}

func (v *txView) MonthlyHours(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month) (fieldwork.MonthlyHours, error) {
	var hrs fieldwork.MonthlyHours
	hrs.Total = decimal.Zero
	hrs.Restricted = decimal.Zero
	for _, e := range v.m.independent {
		if e.TraineeID == traineeID && month.Contains(e.Date) {
			hrs.Total = hrs.Total.Add(e.Hours)
			if e.Activity == fieldwork.ActivityRestricted {
				hrs.Restricted = hrs.Restricted.Add(e.Hours)
			}
		}
	}
	for _, e := range v.m.supervised {
		if e.TraineeID == traineeID && month.Contains(e.Date) {
			hrs.Total = hrs.Total.Add(e.Hours)
			if e.Activity == fieldwork.ActivityRestricted {
				hrs.Restricted = hrs.Restricted.Add(e.Hours)
			}
		}
	}
	return hrs, nil
}

func (v *txView) SupervisedForMonth(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month, status fieldwork.EntryStatus) ([]fieldwork.SupervisedHourEntry, error) {
	var out []fieldwork.SupervisedHourEntry
	for _, e := range v.m.supervised {
		if e.TraineeID != traineeID || !month.Contains(e.Date) {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (v *txView) Aggregate(_ context.Context, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, month fieldwork.Month) (*fieldwork.MonthlyPaymentAggregate, error) {
	a, ok := v.m.aggregates[aggKey{supervisorID, traineeID, month}]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &a, nil
}

func (v *txView) UpsertAggregate(_ context.Context, a *fieldwork.MonthlyPaymentAggregate) error {
	v.m.aggregates[aggKey{a.SupervisorID, a.TraineeID, a.Month}] = *a
	return nil
}

func (v *txView) AggregatesForSupervisor(_ context.Context, supervisorID fieldwork.SupervisorID, month fieldwork.Month) ([]fieldwork.MonthlyPaymentAggregate, error) {
	var out []fieldwork.MonthlyPaymentAggregate
	for k, a := range v.m.aggregates {
		if k.SupervisorID == supervisorID && k.Month == month {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *txView) InvoiceByID(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	inv, ok := v.m.invoices[id]
	if !ok {
		return nil, fieldwork.ErrNotFound
	}
	return &inv, nil
}

func (v *txView) InvoiceForMonth(_ context.Context, traineeID fieldwork.TraineeID, month fieldwork.Month) (*billing.Invoice, error) {
	for _, inv := range v.m.invoices {
		if inv.TraineeID == traineeID && inv.Month == month {
			inv := inv
			return &inv, nil
		}
	}
	return nil, fieldwork.ErrNotFound
}

func (v *txView) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	v.m.invoices[inv.ID] = *inv
	return nil
}

func (v *txView) UpdateInvoice(_ context.Context, inv *billing.Invoice) error {
	if _, ok := v.m.invoices[inv.ID]; !ok {
		return fieldwork.ErrNotFound
	}
	v.m.invoices[inv.ID] = *inv
	return nil
}

func (v *txView) InsertTraineePayment(_ context.Context, p *billing.TraineePayment) error {
	v.m.payments = append(v.m.payments, *p)
	return nil
}
