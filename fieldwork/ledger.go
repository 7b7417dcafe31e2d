/*
ledger.go - Hour submission path

PURPOSE:
  Append-only creation of hour entries after validator admission. Entries
  are never edited or deleted once admitted; corrections happen through
  the approval lifecycle (approval.go).

ACTOR RESOLUTION:
  - A student submits for themself. Supervised entries use the assigned
    supervisor; no assignment means ErrSupervisorNotAssigned.
  - A supervisor submits on behalf of a named trainee.
  Either way the acting identity must map to a profile, otherwise
  ErrProfileNotFound.

ATOMICITY:
  The cap check reads monthly totals and the insert writes a new row. Both
  run inside one WithTx so two concurrent submissions for the same trainee
  cannot both observe the cap as not-yet-exceeded and both commit. The
  store serializes the units of work.

SIDE EFFECTS:
  None beyond the record itself: billing fields stay unset until approval.
  An audit event is emitted after commit, fire-and-forget.
*/
package fieldwork

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind selects which ledger table a submission lands in.
type EntryKind string

const (
	KindIndependent EntryKind = "independent"
	KindSupervised  EntryKind = "supervised"
)

// Submission is a candidate hour entry from the web boundary.
type Submission struct {
	Kind EntryKind

	// TraineeID is required when a supervisor submits, ignored when a
	// student submits for themself.
	TraineeID TraineeID

	Date     time.Time
	StartTime string // "HH:MM", local to the entry date
	Hours    decimal.Decimal
	Setting  SettingCategory
	Activity ActivityCategory
	Format   SupervisionFormat // supervised entries only, defaults INDIVIDUAL
	Notes    string
}

// SubmitResult reports the admitted entry and any compliance warning.
type SubmitResult struct {
	EntryID EntryID
	Warning string
}

// HourLedger owns the submission path.
type HourLedger struct {
	Store     TxStore
	Validator *Validator
	Settings  SettingsSource
	Audit     AuditSink

	// NewID generates entry IDs; defaults to a timestamp-based ID.
	NewID func() EntryID

	// Now is injectable for tests.
	Now func() time.Time
}

func NewHourLedger(store TxStore, settings SettingsSource, audit AuditSink) *HourLedger {
	if audit == nil {
		audit = NopAudit{}
	}
	return &HourLedger{
		Store:     store,
		Validator: &Validator{},
		Settings:  settings,
		Audit:     audit,
		NewID:     defaultEntryID,
		Now:       time.Now,
	}
}

func defaultEntryID() EntryID {
	return EntryID(fmt.Sprintf("ent-%d", time.Now().UnixNano()))
}

// Submit validates and records an hour entry for the acting identity.
func (l *HourLedger) Submit(ctx context.Context, actor Identity, sub Submission) (*SubmitResult, error) {
	if !actor.CanSubmitHours() {
		return nil, fmt.Errorf("role %s cannot submit hours: %w", actor.Role, ErrUnauthorized)
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	trainee, supervisorID, err := l.resolveParties(ctx, actor, sub)
	if err != nil {
		return nil, err
	}

	cfg, err := l.Settings.Current(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "settings", Err: err}
	}

	start, err := sub.startDateTime()
	if err != nil {
		return nil, err
	}

	id := l.NewID()
	now := l.Now().UTC()
	result := &SubmitResult{EntryID: id}

	err = l.Store.WithTx(ctx, func(s Store) error {
		admission, err := l.Validator.Admit(ctx, s, trainee, MonthOf(sub.Date), sub.Hours, sub.Activity, cfg)
		if err != nil {
			return err
		}
		result.Warning = admission.Warning

		switch sub.Kind {
		case KindIndependent:
			return s.InsertIndependent(ctx, &IndependentHourEntry{
				ID:        id,
				TraineeID: trainee.ID,
				Date:      sub.Date,
				StartTime: start,
				Hours:     sub.Hours,
				Setting:   sub.Setting,
				Activity:  sub.Activity,
				Notes:     sub.Notes,
				Status:    StatusPending,
				CreatedAt: now,
			})
		case KindSupervised:
			format := sub.Format
			if format == "" {
				format = FormatIndividual
			}
			return s.InsertSupervised(ctx, &SupervisedHourEntry{
				ID:           id,
				TraineeID:    trainee.ID,
				SupervisorID: supervisorID,
				Date:         sub.Date,
				StartTime:    start,
				Hours:        sub.Hours,
				Setting:      sub.Setting,
				Activity:     sub.Activity,
				Format:       format,
				Notes:        sub.Notes,
				Status:       StatusPending,
				CreatedAt:    now,
			})
		default:
			return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown entry kind %q", sub.Kind)}
		}
	})
	if err != nil {
		return nil, err
	}

	l.emit(ctx, AuditEvent{
		At:       now,
		ActorID:  actor.UserID,
		Entity:   sub.Kind.auditEntity(),
		EntityID: string(id),
		Action:   "SUBMIT",
		After: map[string]string{
			"trainee": string(trainee.ID),
			"hours":   sub.Hours.String(),
			"month":   MonthOf(sub.Date).String(),
		},
	})

	return result, nil
}

// resolveParties maps the acting identity onto (trainee, supervisor).
func (l *HourLedger) resolveParties(ctx context.Context, actor Identity, sub Submission) (*TraineeProfile, SupervisorID, error) {
	switch actor.Role {
	case RoleStudent:
		trainee, err := l.Store.TraineeByUser(ctx, actor.UserID)
		if err != nil {
			return nil, "", err
		}
		if sub.Kind == KindSupervised {
			if trainee.SupervisorID == "" {
				return nil, "", ErrSupervisorNotAssigned
			}
			return trainee, trainee.SupervisorID, nil
		}
		return trainee, "", nil

	case RoleSupervisor:
		if sub.TraineeID == "" {
			return nil, "", &ValidationError{Field: "traineeId", Message: "trainee selection is required for supervisors"}
		}
		supervisor, err := l.Store.SupervisorByUser(ctx, actor.UserID)
		if err != nil {
			return nil, "", err
		}
		trainee, err := l.Store.TraineeByID(ctx, sub.TraineeID)
		if err != nil {
			return nil, "", err
		}
		return trainee, supervisor.ID, nil
	}
	return nil, "", fmt.Errorf("role %s cannot submit hours: %w", actor.Role, ErrUnauthorized)
}

func (s Submission) validate() error {
	if !s.Hours.IsPositive() {
		return &ValidationError{Field: "hours", Message: "duration must be positive"}
	}
	if s.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	switch s.Activity {
	case ActivityRestricted, ActivityUnrestricted:
	default:
		return &ValidationError{Field: "activity", Message: fmt.Sprintf("unknown activity category %q", s.Activity)}
	}
	return nil
}

// startDateTime combines the entry date with the "HH:MM" start time.
// An empty start time means start-of-day.
func (s Submission) startDateTime() (time.Time, error) {
	if s.StartTime == "" {
		return s.Date, nil
	}
	t, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "startTime", Message: "expected HH:MM"}
	}
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(),
		t.Hour(), t.Minute(), 0, 0, s.Date.Location()), nil
}

func (k EntryKind) auditEntity() string {
	if k == KindSupervised {
		return "SupervisedHour"
	}
	return "IndependentHour"
}

// emit sends an audit event without letting sink failures reach the caller.
func (l *HourLedger) emit(ctx context.Context, ev AuditEvent) {
	if err := l.Audit.Append(ctx, ev); err != nil {
		log.Printf("audit append failed: %v", err)
	}
}
