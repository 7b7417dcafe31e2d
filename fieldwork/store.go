/*
store.go - Persistence interfaces and the unit-of-work boundary

PURPOSE:
  Defines the contract between the engine and the database. Implementations
  live in store/sqlite (production) and fieldwork/store (in-memory, tests).

UNIT OF WORK:
  Every multi-write operation in this engine is atomic:
  - submission = cap check + entry insert (closes the cap-race window)
  - approval   = status write + aggregate upsert
  - rejection  = status write + aggregate reversal
  TxStore.WithTx is the single explicit transaction boundary; if fn returns
  an error the whole unit rolls back.

CONTENTION:
  The MonthlyPaymentAggregate row is the main contention point. WithTx
  implementations must serialize concurrent units touching the same row
  (row locks, serialized writers, or optimistic retry) - lost aggregate
  updates are a correctness violation.
*/
package fieldwork

import (
	"context"
	"time"
)

// =============================================================================
// PROFILE STORE
// =============================================================================

type ProfileStore interface {
	// TraineeByID returns ErrProfileNotFound when missing.
	TraineeByID(ctx context.Context, id TraineeID) (*TraineeProfile, error)

	// TraineeByUser resolves the trainee profile behind an acting identity.
	TraineeByUser(ctx context.Context, userID UserID) (*TraineeProfile, error)

	SupervisorByID(ctx context.Context, id SupervisorID) (*SupervisorProfile, error)
	SupervisorByUser(ctx context.Context, userID UserID) (*SupervisorProfile, error)

	SaveTrainee(ctx context.Context, t *TraineeProfile) error
	SaveSupervisor(ctx context.Context, s *SupervisorProfile) error

	// DeleteTrainee fails with ErrTraineeReferenced while ledger entries
	// reference the trainee. Referential integrity invariant.
	DeleteTrainee(ctx context.Context, id TraineeID) error

	// ActiveTrainees lists trainees eligible for invoice generation.
	ActiveTrainees(ctx context.Context) ([]TraineeProfile, error)
}

// =============================================================================
// ENTRY STORE
// =============================================================================

type EntryStore interface {
	InsertIndependent(ctx context.Context, e *IndependentHourEntry) error
	InsertSupervised(ctx context.Context, e *SupervisedHourEntry) error

	// SupervisedByID returns ErrNotFound when missing.
	SupervisedByID(ctx context.Context, id EntryID) (*SupervisedHourEntry, error)

	// UpdateSupervised persists status, amounts, and rejection reason.
	// Everything else on an entry is immutable after insert.
	UpdateSupervised(ctx context.Context, e *SupervisedHourEntry) error

	// MonthlyHours sums hours (independent + supervised) for a trainee's
	// calendar month. The validator's inputs.
	MonthlyHours(ctx context.Context, traineeID TraineeID, m Month) (MonthlyHours, error)

	// SupervisedForMonth lists a trainee's supervised entries in a month,
	// optionally filtered by status ("" = all). Used by the billing cycle.
	SupervisedForMonth(ctx context.Context, traineeID TraineeID, m Month, status EntryStatus) ([]SupervisedHourEntry, error)
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

type AggregateStore interface {
	// Aggregate returns ErrNotFound when no row exists yet; aggregates are
	// created lazily by the engine.
	Aggregate(ctx context.Context, supervisorID SupervisorID, traineeID TraineeID, m Month) (*MonthlyPaymentAggregate, error)

	// UpsertAggregate inserts or replaces the aggregate row.
	UpsertAggregate(ctx context.Context, a *MonthlyPaymentAggregate) error

	// AggregatesForSupervisor lists a supervisor's aggregates for a month.
	AggregatesForSupervisor(ctx context.Context, supervisorID SupervisorID, m Month) ([]MonthlyPaymentAggregate, error)
}

// =============================================================================
// COMBINED STORE + UNIT OF WORK
// =============================================================================

// Store is the full persistence surface the engine operates on.
type Store interface {
	ProfileStore
	EntryStore
	AggregateStore
}

// TxStore wraps Store with the explicit transaction boundary.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. fn receives a Store view
	// whose writes are committed together or not at all.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT SINK - External notification/audit collaborator
// =============================================================================

// AuditEvent is one append per transition or submission: entity, action,
// and the before/after amounts the reconciliation team cares about.
type AuditEvent struct {
	At       time.Time
	ActorID  UserID
	Entity   string // "SupervisedHour", "IndependentHour", "Invoice", ...
	EntityID string
	Action   string // "SUBMIT", "APPROVE", "REJECT", "REVERT", "BILL", "PAY"
	Before   map[string]string
	After    map[string]string
}

// AuditSink receives audit events. The engine emits without awaiting a
// meaningful response: implementations should be fast and failures are
// logged, never propagated into the main flow.
type AuditSink interface {
	Append(ctx context.Context, ev AuditEvent) error
}

// NopAudit discards events.
type NopAudit struct{}

func (NopAudit) Append(ctx context.Context, ev AuditEvent) error { return nil }
