/*
Package fieldwork implements the hours ledger and approval/payment engine
for a behavioral-analysis supervision practice.

PURPOSE:
  Trainees pursuing BCBA/BCaBA certification log fieldwork hours. The engine
  validates those hours against monthly regulatory caps, records them in an
  append-per-entry ledger, moves supervised hours through an approval
  lifecycle, and derives the financial side effects: what the client is
  billed and what the supervisor is owed, aggregated per month.

KEY CONCEPTS IN THIS FILE (types.go):
  - TraineeProfile / SupervisorProfile: the two parties on every entry
  - IndependentHourEntry / SupervisedHourEntry: the ledger records
  - MonthlyPaymentAggregate: per (supervisor, trainee, month) running balance
  - Month: calendar-month key used throughout

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for hours and money, never float64
  2. Entries are immutable once created except for status transitions
  3. Aggregates are derived state, only ever touched by the engine itself
  4. Strong typing for IDs prevents mixing trainee/supervisor/entry IDs

SEE ALSO:
  - validator.go: monthly cap and restricted-ratio checks
  - ledger.go: submission path
  - approval.go: status lifecycle and financial effects
  - payments.go: aggregate upsert/reversal/settlement
*/
package fieldwork

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TraineeID string
type SupervisorID string
type EntryID string

// =============================================================================
// MONTH - Calendar-month key for caps, ratios, and payment aggregates
// =============================================================================

// Month identifies a calendar month. It is the grouping key for the monthly
// cap check, the restricted-ratio check, and MonthlyPaymentAggregate rows.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the last day of the month.
func (m Month) End() time.Time {
	return time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Month
}

func (m Month) Next() Month     { return MonthOf(m.Start().AddDate(0, 1, 0)) }
func (m Month) Previous() Month { return MonthOf(m.Start().AddDate(0, -1, 0)) }

func (m Month) String() string { return m.Start().Format("2006-01") }

// ParseMonth parses "2006-01" formatted strings.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, err
	}
	return MonthOf(t), nil
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

// CertTrack is the certification a trainee is pursuing. It determines the
// restricted-activity ratio threshold (40% for BCBA, 60% for BCaBA).
type CertTrack string

const (
	TrackBCBA  CertTrack = "BCBA"
	TrackBCaBA CertTrack = "BCaBA"
)

// ActivityCategory classifies fieldwork activity. Restricted activity is
// subject to a percentage cap relative to total monthly hours.
type ActivityCategory string

const (
	ActivityRestricted   ActivityCategory = "RESTRICTED"
	ActivityUnrestricted ActivityCategory = "UNRESTRICTED"
)

// SettingCategory is where the fieldwork took place.
type SettingCategory string

const (
	SettingClinic    SettingCategory = "CLINIC"
	SettingHome      SettingCategory = "HOME"
	SettingSchool    SettingCategory = "SCHOOL"
	SettingCommunity SettingCategory = "COMMUNITY"
	SettingTelehealth SettingCategory = "TELEHEALTH"
)

// SupervisionFormat distinguishes one-on-one from group supervision.
type SupervisionFormat string

const (
	FormatIndividual SupervisionFormat = "INDIVIDUAL"
	FormatGroup      SupervisionFormat = "GROUP"
)

// EntryStatus is the approval lifecycle of an hour entry.
//
//	PENDING -> APPROVED -> BILLED (terminal)
//	APPROVED <-> REJECTED (reversible)
//	REJECTED -> PENDING (privileged revert)
type EntryStatus string

const (
	StatusPending  EntryStatus = "PENDING"
	StatusApproved EntryStatus = "APPROVED"
	StatusRejected EntryStatus = "REJECTED"
	StatusBilled   EntryStatus = "BILLED"
)

// ProfileStatus gates invoice generation and onboarding flows.
type ProfileStatus string

const (
	ProfileActive   ProfileStatus = "ACTIVE"
	ProfileInactive ProfileStatus = "INACTIVE"
)

// =============================================================================
// PROFILES
// =============================================================================

// TraineeProfile is the trainee side of every hour entry.
//
// HourlyRate is the client billing rate and is mutable only through the
// SUPER_ADMIN capability (see identity.go). A zero rate is valid and simply
// produces zero billed amounts. MonthlyCapOverride, when set, replaces the
// settings-derived cap for this trainee.
type TraineeProfile struct {
	ID           TraineeID
	UserID       UserID
	Name         string
	Track        CertTrack
	SupervisorID SupervisorID // empty = no supervisor assigned
	HourlyRate   decimal.Decimal
	MonthlyCapOverride *decimal.Decimal
	Status       ProfileStatus
	CreatedAt    time.Time
}

// SupervisorProfile is the supervising professional.
//
// CommissionPct is the fraction of the billed amount paid to the supervisor
// (e.g. 0.54). When nil, the settings default applies at resolution time.
type SupervisorProfile struct {
	ID            SupervisorID
	UserID        UserID
	Name          string
	CommissionPct *decimal.Decimal
	MaxTrainees   int
	CreatedAt     time.Time
}

// =============================================================================
// HOUR ENTRIES
// =============================================================================

// IndependentHourEntry records fieldwork performed without direct supervisor
// presence. Immutable once created except for status.
type IndependentHourEntry struct {
	ID        EntryID
	TraineeID TraineeID
	Date      time.Time
	StartTime time.Time
	Hours     decimal.Decimal
	Setting   SettingCategory
	Activity  ActivityCategory
	Notes     string
	Status    EntryStatus
	RejectReason string
	CreatedAt time.Time
}

// SupervisedHourEntry records fieldwork performed under supervision. It is
// the subject of the approval state machine: AmountBilled and SupervisorPay
// are populated if and only if the status is APPROVED or BILLED, and
// RejectReason only while REJECTED.
type SupervisedHourEntry struct {
	ID           EntryID
	TraineeID    TraineeID
	SupervisorID SupervisorID
	Date         time.Time
	StartTime    time.Time
	Hours        decimal.Decimal
	Setting      SettingCategory
	Activity     ActivityCategory
	Format       SupervisionFormat
	Notes        string
	Status       EntryStatus

	// Populated by the approval transition, cleared on rejection.
	AmountBilled  *decimal.Decimal
	SupervisorPay *decimal.Decimal

	RejectReason string
	CreatedAt    time.Time
}

// =============================================================================
// MONTHLY PAYMENT AGGREGATE - Derived financial state
// =============================================================================

// MonthlyPaymentAggregate is the running balance owed to a supervisor for a
// given trainee and month. It is created lazily on first approval, never by
// a client.
//
// INVARIANT: BalanceDue == AmountDue - TotalPaid, floored at zero.
type MonthlyPaymentAggregate struct {
	SupervisorID  SupervisorID
	TraineeID     TraineeID
	Month         Month
	AmountDue     decimal.Decimal
	BalanceDue    decimal.Decimal
	PaidThisMonth decimal.Decimal
	TotalPaid     decimal.Decimal
	UpdatedAt     time.Time
}

// MonthlyHours is the per-month hour totals the validator checks against.
type MonthlyHours struct {
	Total      decimal.Decimal // independent + supervised
	Restricted decimal.Decimal // RESTRICTED activity only
}
