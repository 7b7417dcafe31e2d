package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
	"github.com/warp/fieldwork-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func seedProfiles(t *testing.T, s *sqlite.Store) (*fieldwork.TraineeProfile, *fieldwork.SupervisorProfile) {
	t.Helper()
	ctx := context.Background()

	supervisor := &fieldwork.SupervisorProfile{
		ID:     "sup-1",
		UserID: "u-supervisor",
		Name:   "Dr. Casey Morgan",
	}
	require.NoError(t, s.SaveSupervisor(ctx, supervisor))

	override := d("100")
	trainee := &fieldwork.TraineeProfile{
		ID:                 "trn-1",
		UserID:             "u-student",
		Name:               "Jordan Blake",
		Track:              fieldwork.TrackBCBA,
		SupervisorID:       supervisor.ID,
		HourlyRate:         d("75"),
		MonthlyCapOverride: &override,
		Status:             fieldwork.ProfileActive,
	}
	require.NoError(t, s.SaveTrainee(ctx, trainee))
	return trainee, supervisor
}

func supervisedEntry(id string, date time.Time, hours string, activity fieldwork.ActivityCategory) *fieldwork.SupervisedHourEntry {
	return &fieldwork.SupervisedHourEntry{
		ID:           fieldwork.EntryID(id),
		TraineeID:    "trn-1",
		SupervisorID: "sup-1",
		Date:         date,
		StartTime:    date.Add(9 * time.Hour),
		Hours:        d(hours),
		Setting:      fieldwork.SettingClinic,
		Activity:     activity,
		Format:       fieldwork.FormatIndividual,
		Status:       fieldwork.StatusPending,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// =============================================================================
// PROFILE PERSISTENCE
// =============================================================================

func TestSQLite_TraineeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProfiles(t, s)
	ctx := context.Background()

	loaded, err := s.TraineeByID(ctx, "trn-1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Blake", loaded.Name)
	assert.Equal(t, fieldwork.TrackBCBA, loaded.Track)
	assert.Equal(t, fieldwork.SupervisorID("sup-1"), loaded.SupervisorID)
	assert.True(t, loaded.HourlyRate.Equal(d("75")))
	require.NotNil(t, loaded.MonthlyCapOverride)
	assert.True(t, loaded.MonthlyCapOverride.Equal(d("100")))

	byUser, err := s.TraineeByUser(ctx, "u-student")
	require.NoError(t, err)
	assert.Equal(t, loaded.ID, byUser.ID)

	_, err = s.TraineeByID(ctx, "trn-missing")
	assert.ErrorIs(t, err, fieldwork.ErrProfileNotFound)
}

func TestSQLite_SaveTrainee_Upserts(t *testing.T) {
	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()

	trainee.HourlyRate = d("82.50")
	trainee.MonthlyCapOverride = nil
	require.NoError(t, s.SaveTrainee(ctx, trainee))

	loaded, err := s.TraineeByID(ctx, trainee.ID)
	require.NoError(t, err)
	assert.True(t, loaded.HourlyRate.Equal(d("82.50")))
	assert.Nil(t, loaded.MonthlyCapOverride)
}

func TestSQLite_SupervisorCommission_NullableRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, supervisor := seedProfiles(t, s)
	ctx := context.Background()

	loaded, err := s.SupervisorByID(ctx, supervisor.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.CommissionPct)

	pct := d("0.60")
	supervisor.CommissionPct = &pct
	require.NoError(t, s.SaveSupervisor(ctx, supervisor))

	loaded, err = s.SupervisorByUser(ctx, supervisor.UserID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CommissionPct)
	assert.True(t, loaded.CommissionPct.Equal(d("0.60")))
}

func TestSQLite_DeleteTrainee_BlockedByEntries(t *testing.T) {
	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertSupervised(ctx, supervisedEntry("ent-1", date, "2", fieldwork.ActivityUnrestricted)))

	err := s.DeleteTrainee(ctx, trainee.ID)
	assert.ErrorIs(t, err, fieldwork.ErrTraineeReferenced)

	_, err = s.TraineeByID(ctx, trainee.ID)
	assert.NoError(t, err, "trainee must survive a blocked delete")
}

// =============================================================================
// ENTRIES AND MONTHLY TOTALS
// =============================================================================

func TestSQLite_MonthlyHours_SumsBothLedgers(t *testing.T) {
	// GIVEN: Independent and supervised entries in May, plus a June entry
	// WHEN: Summing May
	// THEN: Only May hours count, restricted tracked separately

	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	may12 := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	june2 := time.Date(2026, time.June, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertIndependent(ctx, &fieldwork.IndependentHourEntry{
		ID: "ind-1", TraineeID: trainee.ID, Date: may12, StartTime: may12,
		Hours: d("3.5"), Setting: fieldwork.SettingHome,
		Activity: fieldwork.ActivityRestricted,
		Status:   fieldwork.StatusPending, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.InsertSupervised(ctx, supervisedEntry("ent-1", may12, "2", fieldwork.ActivityUnrestricted)))
	require.NoError(t, s.InsertSupervised(ctx, supervisedEntry("ent-2", june2, "4", fieldwork.ActivityUnrestricted)))

	totals, err := s.MonthlyHours(ctx, trainee.ID, fieldwork.Month{Year: 2026, Month: time.May})
	require.NoError(t, err)
	assert.True(t, totals.Total.Equal(d("5.5")), "got %s", totals.Total)
	assert.True(t, totals.Restricted.Equal(d("3.5")))
}

func TestSQLite_SupervisedEntry_LifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProfiles(t, s)
	ctx := context.Background()
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertSupervised(ctx, supervisedEntry("ent-1", date, "2", fieldwork.ActivityUnrestricted)))

	entry, err := s.SupervisedByID(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusPending, entry.Status)
	assert.Nil(t, entry.AmountBilled)

	billed := d("150")
	pay := d("81")
	entry.Status = fieldwork.StatusApproved
	entry.AmountBilled = &billed
	entry.SupervisorPay = &pay
	require.NoError(t, s.UpdateSupervised(ctx, entry))

	loaded, err := s.SupervisedByID(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusApproved, loaded.Status)
	require.NotNil(t, loaded.AmountBilled)
	assert.True(t, loaded.AmountBilled.Equal(d("150")))
	assert.True(t, loaded.SupervisorPay.Equal(d("81")))

	_, err = s.SupervisedByID(ctx, "ent-missing")
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)
}

func TestSQLite_SupervisedForMonth_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	may := fieldwork.Month{Year: 2026, Month: time.May}

	require.NoError(t, s.InsertSupervised(ctx, supervisedEntry("ent-1", date, "2", fieldwork.ActivityUnrestricted)))
	approved := supervisedEntry("ent-2", date.AddDate(0, 0, 1), "3", fieldwork.ActivityUnrestricted)
	approved.Status = fieldwork.StatusApproved
	require.NoError(t, s.InsertSupervised(ctx, approved))

	all, err := s.SupervisedForMonth(ctx, trainee.ID, may, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyApproved, err := s.SupervisedForMonth(ctx, trainee.ID, may, fieldwork.StatusApproved)
	require.NoError(t, err)
	require.Len(t, onlyApproved, 1)
	assert.Equal(t, fieldwork.EntryID("ent-2"), onlyApproved[0].ID)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that inserts an entry and then fails
	// WHEN: WithTx returns the error
	// THEN: The insert is rolled back

	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx fieldwork.Store) error {
		if err := tx.InsertSupervised(ctx, supervisedEntry("ent-1", date, "2", fieldwork.ActivityUnrestricted)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.SupervisedByID(ctx, "ent-1")
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)

	totals, err := s.MonthlyHours(ctx, trainee.ID, fieldwork.MonthOf(date))
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
}

func TestSQLite_WithTx_ExposesInvoiceStore(t *testing.T) {
	// The transactional view must satisfy the billing surface so invoice
	// generation can run atomically with entry flips.
	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}

	err := s.WithTx(ctx, func(tx fieldwork.Store) error {
		bs, ok := tx.(billing.Store)
		require.True(t, ok)
		now := time.Now().UTC()
		return bs.InsertInvoice(ctx, &billing.Invoice{
			ID: "inv-1", TraineeID: trainee.ID, Month: may,
			AmountDue: d("375"), AmountPaid: decimal.Zero,
			Status: billing.InvoiceSent, IssuedAt: now, SentAt: &now,
		})
	})
	require.NoError(t, err)

	inv, err := s.InvoiceForMonth(ctx, trainee.ID, may)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceID("inv-1"), inv.ID)
	assert.True(t, inv.AmountDue.Equal(d("375")))
	require.NotNil(t, inv.SentAt)
}

// =============================================================================
// AGGREGATES AND INVOICES
// =============================================================================

func TestSQLite_AggregateUpsert_SingleRowPerKey(t *testing.T) {
	s := newTestStore(t)
	trainee, supervisor := seedProfiles(t, s)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}

	_, err := s.Aggregate(ctx, supervisor.ID, trainee.ID, may)
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)

	agg := &fieldwork.MonthlyPaymentAggregate{
		SupervisorID: supervisor.ID, TraineeID: trainee.ID, Month: may,
		AmountDue: d("81"), BalanceDue: d("81"),
		PaidThisMonth: decimal.Zero, TotalPaid: decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertAggregate(ctx, agg))

	agg.AmountDue = d("162")
	agg.BalanceDue = d("162")
	require.NoError(t, s.UpsertAggregate(ctx, agg))

	rows, err := s.AggregatesForSupervisor(ctx, supervisor.ID, may)
	require.NoError(t, err)
	require.Len(t, rows, 1, "upsert must not fork duplicate rows")
	assert.True(t, rows[0].AmountDue.Equal(d("162")))
}

func TestSQLite_InvoiceUnique_PerTraineeMonth(t *testing.T) {
	s := newTestStore(t)
	trainee, _ := seedProfiles(t, s)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	now := time.Now().UTC()

	require.NoError(t, s.InsertInvoice(ctx, &billing.Invoice{
		ID: "inv-1", TraineeID: trainee.ID, Month: may,
		AmountDue: d("375"), AmountPaid: decimal.Zero,
		Status: billing.InvoiceSent, IssuedAt: now,
	}))

	err := s.InsertInvoice(ctx, &billing.Invoice{
		ID: "inv-2", TraineeID: trainee.ID, Month: may,
		AmountDue: d("100"), AmountPaid: decimal.Zero,
		Status: billing.InvoiceSent, IssuedAt: now,
	})
	assert.Error(t, err, "second invoice for the same trainee/month must violate UNIQUE")
}

func TestSQLite_AuditLog_AppendOnlySink(t *testing.T) {
	s := newTestStore(t)
	err := s.Append(context.Background(), fieldwork.AuditEvent{
		At: time.Now().UTC(), ActorID: "u-qa",
		Entity: "SupervisedHour", EntityID: "ent-1", Action: "APPROVE",
		Before: map[string]string{"status": "PENDING"},
		After:  map[string]string{"status": "APPROVED", "supervisorPay": "81.00"},
	})
	assert.NoError(t, err)
}
