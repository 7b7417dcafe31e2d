/*
approval.go - Supervised-hour approval state machine

PURPOSE:
  Drives a SupervisedHourEntry through its lifecycle and applies the
  financial side effects tied to each transition.

STATES AND TRANSITIONS:
  PENDING  -> APPROVED   approve: resolve rates, compute amountBilled and
                         supervisorPay, increment month aggregate
  REJECTED -> APPROVED   re-approve: recompute from CURRENT rates, never
                         reuse the stale amounts
  APPROVED -> REJECTED   reverse the pay applied at approval, clear the
                         derived amounts, store the reason
  PENDING  -> REJECTED   store the reason; no financial effect existed
  REJECTED -> PENDING    revert (highest privilege tier); clears reason
  APPROVED -> BILLED     billing-cycle collaborator (billing package)

ATOMICITY:
  The status write and the aggregate mutation happen inside one WithTx.
  A failure after computing the amounts but before persisting leaves the
  entry at its prior status with no partial aggregate change.

AUDIT:
  Every transition emits one event with before/after amounts. Sink
  failures are logged and swallowed.
*/
package fieldwork

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalService is the approval state machine over supervised entries.
type ApprovalService struct {
	Store    TxStore
	Rates    RateResolver
	Settings SettingsSource
	Audit    AuditSink

	Now func() time.Time
}

func NewApprovalService(store TxStore, settings SettingsSource, audit AuditSink) *ApprovalService {
	if audit == nil {
		audit = NopAudit{}
	}
	return &ApprovalService{
		Store:    store,
		Settings: settings,
		Audit:    audit,
		Now:      time.Now,
	}
}

// Approve transitions PENDING or REJECTED to APPROVED, resolving rates at
// this moment and incrementing the month's aggregate by the supervisor pay.
func (a *ApprovalService) Approve(ctx context.Context, actor Identity, id EntryID) (*SupervisedHourEntry, error) {
	if !actor.CanApproveHours() {
		return nil, fmt.Errorf("role %s cannot approve hours: %w", actor.Role, ErrUnauthorized)
	}

	cfg, err := a.Settings.Current(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "settings", Err: err}
	}

	now := a.Now().UTC()
	var entry *SupervisedHourEntry
	var before map[string]string

	err = a.Store.WithTx(ctx, func(s Store) error {
		entry, err = s.SupervisedByID(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusPending && entry.Status != StatusRejected {
			return &TransitionError{EntryID: id, From: entry.Status, To: StatusApproved}
		}
		before = amounts(entry)

		trainee, err := s.TraineeByID(ctx, entry.TraineeID)
		if err != nil {
			return err
		}
		supervisor, err := s.SupervisorByID(ctx, entry.SupervisorID)
		if err != nil {
			return err
		}

		card := a.Rates.Resolve(trainee, supervisor, cfg)
		amountBilled, supervisorPay := card.Bill(entry.Hours)

		entry.Status = StatusApproved
		entry.AmountBilled = &amountBilled
		entry.SupervisorPay = &supervisorPay
		entry.RejectReason = ""
		if err := s.UpdateSupervised(ctx, entry); err != nil {
			return &PersistenceError{Op: "update entry", Err: err}
		}

		return applyPay(ctx, s, entry.SupervisorID, entry.TraineeID, MonthOf(entry.Date), supervisorPay, now)
	})
	if err != nil {
		return nil, err
	}

	a.emit(ctx, AuditEvent{
		At: now, ActorID: actor.UserID,
		Entity: "SupervisedHour", EntityID: string(id), Action: "APPROVE",
		Before: before, After: amounts(entry),
	})
	return entry, nil
}

// Reject transitions PENDING or APPROVED to REJECTED. Rejecting a
// previously approved entry reverses the pay applied at approval.
// A non-empty reason is required.
func (a *ApprovalService) Reject(ctx context.Context, actor Identity, id EntryID, reason string) (*SupervisedHourEntry, error) {
	if !actor.CanApproveHours() {
		return nil, fmt.Errorf("role %s cannot reject hours: %w", actor.Role, ErrUnauthorized)
	}
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "rejection reason is required"}
	}

	now := a.Now().UTC()
	var entry *SupervisedHourEntry
	var before map[string]string

	err := a.Store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = s.SupervisedByID(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusPending && entry.Status != StatusApproved {
			return &TransitionError{EntryID: id, From: entry.Status, To: StatusRejected}
		}
		before = amounts(entry)

		// Reverse the financial effect of a prior approval.
		if entry.Status == StatusApproved {
			if entry.SupervisorPay == nil {
				return &ValidationError{Field: "supervisorPay", Message: "approved entry missing supervisor pay"}
			}
			if err := reversePay(ctx, s, entry.SupervisorID, entry.TraineeID, MonthOf(entry.Date), *entry.SupervisorPay, now); err != nil {
				return err
			}
		}

		entry.Status = StatusRejected
		entry.AmountBilled = nil
		entry.SupervisorPay = nil
		entry.RejectReason = reason
		if err := s.UpdateSupervised(ctx, entry); err != nil {
			return &PersistenceError{Op: "update entry", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.emit(ctx, AuditEvent{
		At: now, ActorID: actor.UserID,
		Entity: "SupervisedHour", EntityID: string(id), Action: "REJECT",
		Before: before, After: amounts(entry),
	})
	return entry, nil
}

// RevertToPending clears a rejection. Highest privilege tier only; no
// financial change exists at REJECTED so none is made.
func (a *ApprovalService) RevertToPending(ctx context.Context, actor Identity, id EntryID) (*SupervisedHourEntry, error) {
	if !actor.CanRevertRejection() {
		return nil, fmt.Errorf("role %s cannot revert rejections: %w", actor.Role, ErrUnauthorized)
	}

	now := a.Now().UTC()
	var entry *SupervisedHourEntry

	err := a.Store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = s.SupervisedByID(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusRejected {
			return &TransitionError{EntryID: id, From: entry.Status, To: StatusPending}
		}

		entry.Status = StatusPending
		entry.RejectReason = ""
		if err := s.UpdateSupervised(ctx, entry); err != nil {
			return &PersistenceError{Op: "update entry", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.emit(ctx, AuditEvent{
		At: now, ActorID: actor.UserID,
		Entity: "SupervisedHour", EntityID: string(id), Action: "REVERT",
	})
	return entry, nil
}

// MarkBilled transitions APPROVED to BILLED. Invoked by the billing-cycle
// collaborator, which runs it inside its own unit of work.
func MarkBilled(ctx context.Context, s Store, id EntryID) (*SupervisedHourEntry, error) {
	entry, err := s.SupervisedByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusApproved {
		return nil, &TransitionError{EntryID: id, From: entry.Status, To: StatusBilled}
	}
	entry.Status = StatusBilled
	if err := s.UpdateSupervised(ctx, entry); err != nil {
		return nil, &PersistenceError{Op: "update entry", Err: err}
	}
	return entry, nil
}

func amounts(e *SupervisedHourEntry) map[string]string {
	m := map[string]string{"status": string(e.Status)}
	if e.AmountBilled != nil {
		m["amountBilled"] = e.AmountBilled.StringFixed(2)
	}
	if e.SupervisorPay != nil {
		m["supervisorPay"] = e.SupervisorPay.StringFixed(2)
	}
	return m
}

func (a *ApprovalService) emit(ctx context.Context, ev AuditEvent) {
	if err := a.Audit.Append(ctx, ev); err != nil {
		log.Printf("audit append failed: %v", err)
	}
}

// UpdateTraineeRate mutates a trainee's hourly billing rate. Elevated
// capability only; takes effect on the next approval, not retroactively.
func UpdateTraineeRate(ctx context.Context, store Store, actor Identity, id TraineeID, rate decimal.Decimal) (*TraineeProfile, error) {
	if !actor.CanEditBillingRate() {
		return nil, fmt.Errorf("role %s cannot edit billing rates: %w", actor.Role, ErrUnauthorized)
	}
	if rate.IsNegative() {
		return nil, &ValidationError{Field: "hourlyRate", Message: "rate must not be negative"}
	}
	trainee, err := store.TraineeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	trainee.HourlyRate = rate
	if err := store.SaveTrainee(ctx, trainee); err != nil {
		return nil, &PersistenceError{Op: "save trainee", Err: err}
	}
	return trainee, nil
}
