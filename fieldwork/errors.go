/*
errors.go - Centralized error types for the fieldwork engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / errors.As; the HTTP boundary maps
  categories to status codes without inspecting messages.

ERROR CATEGORIES:
  1. Validation errors - malformed input, blocked submissions
  2. Authorization errors - capability check failures
  3. Not-found errors - missing entries/profiles
  4. Persistence errors - underlying store failures (never leaked raw)
*/
package fieldwork

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when the acting identity lacks the
	// capability a transition or submission requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation is the base for malformed-input failures
	// (non-positive duration, missing rejection reason, ...).
	ErrValidation = errors.New("validation failed")

	// ErrLimitExceeded is returned when a submission would push a trainee
	// past the monthly hour cap. Always blocking.
	ErrLimitExceeded = errors.New("monthly hour limit exceeded")

	// ErrNotFound is returned when a referenced entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProfileNotFound is returned when the acting identity has no
	// trainee/supervisor profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSupervisorNotAssigned is returned when a trainee submits a
	// supervised entry without an assigned supervisor.
	ErrSupervisorNotAssigned = errors.New("no supervisor assigned")

	// ErrInvalidTransition is returned for a status change the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPersistence wraps any underlying store failure. Internal detail
	// is attached for logs but should not reach end users.
	ErrPersistence = errors.New("persistence failure")

	// ErrTraineeReferenced is returned when deleting a trainee that still
	// has ledger entries. Referential integrity invariant.
	ErrTraineeReferenced = errors.New("trainee has ledger entries")

	// ErrStoreRequired is returned when an operation needs a store
	// capability the configured store does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry context for user-facing messages
// =============================================================================

// LimitExceededError reports a blocked submission with enough context to
// render "you are at X of Y hours" style messages.
type LimitExceededError struct {
	TraineeID TraineeID
	Month     Month
	Current   decimal.Decimal
	Requested decimal.Decimal
	Limit     decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("monthly cap of %sh reached for %s (current: %sh + new: %sh)",
		e.Limit.String(), e.Month, e.Current.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports a rejected state-machine transition.
type TransitionError struct {
	EntryID EntryID
	From    EntryStatus
	To      EntryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("entry %s: cannot transition %s -> %s", e.EntryID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PersistenceError hides the raw store failure behind a stable category.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business-rule block (HTTP 4xx territory).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrSupervisorNotAssigned) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrTraineeReferenced)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrProfileNotFound)
}

// IsUnauthorized returns true for capability-check failures.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
