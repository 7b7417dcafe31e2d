/*
validator.go - Monthly cap and restricted-ratio checks

PURPOSE:
  Every candidate entry passes through here before it is admitted to the
  ledger. Two independent checks run against the candidate's calendar
  month:

  1. MONTHLY CAP (blocking): existing + candidate hours must not exceed
     the applicable cap (130h, 160h for 2027, or the trainee override).
     Violation returns *LimitExceededError with current/new/limit context.

  2. RESTRICTED RATIO (non-blocking): restricted / total hours including
     the candidate. Over 40% (BCBA) or 60% (BCaBA) produces a warning
     string; it never blocks admission. No warning when the grand total
     is zero.

  The ratio check always executes, even when the cap check passes with
  room to spare - a submission can be admitted and still carry a warning.

CONCURRENCY:
  The validator reads monthly totals; the ledger runs Admit plus the
  insert inside one store transaction so two concurrent submissions
  cannot both observe the pre-insert total. See ledger.go.
*/
package fieldwork

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Admission is the validator's verdict for an admitted entry.
// Warning is empty unless the restricted ratio crossed its threshold.
type Admission struct {
	MonthTotal decimal.Decimal // including the candidate
	Warning    string
}

// Validator enforces the monthly regulatory constraints.
type Validator struct{}

// Admit checks a candidate entry against the trainee's month. It returns a
// blocking error (the entry must not be persisted) or an Admission carrying
// an optional non-blocking warning.
func (v *Validator) Admit(
	ctx context.Context,
	store EntryStore,
	trainee *TraineeProfile,
	m Month,
	hours decimal.Decimal,
	activity ActivityCategory,
	cfg Settings,
) (*Admission, error) {
	if !hours.IsPositive() {
		return nil, &ValidationError{Field: "hours", Message: "duration must be positive"}
	}

	existing, err := store.MonthlyHours(ctx, trainee.ID, m)
	if err != nil {
		return nil, &PersistenceError{Op: "monthly hours", Err: err}
	}

	// Cap check (blocking).
	limit := cfg.CapFor(trainee, m)
	total := existing.Total.Add(hours)
	if total.GreaterThan(limit) {
		return nil, &LimitExceededError{
			TraineeID: trainee.ID,
			Month:     m,
			Current:   existing.Total,
			Requested: hours,
			Limit:     limit,
		}
	}

	// Ratio check (never blocking), including the candidate's contribution.
	restricted := existing.Restricted
	if activity == ActivityRestricted {
		restricted = restricted.Add(hours)
	}

	admission := &Admission{MonthTotal: total}
	if total.IsZero() {
		return admission, nil
	}

	pct := restricted.Div(total).Mul(oneHundred)
	max := cfg.RestrictedMaxFor(trainee.Track)
	if pct.GreaterThan(max) {
		admission.Warning = fmt.Sprintf(
			"restricted hours are at %s%% (max %s%% recommended for %s)",
			pct.StringFixed(1), max.String(), trainee.Track)
	}

	return admission, nil
}
