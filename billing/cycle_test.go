package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fieldwork-engine/billing"
	"github.com/warp/fieldwork-engine/fieldwork"
	"github.com/warp/fieldwork-engine/fieldwork/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	qaActor     = fieldwork.Identity{UserID: "u-qa", Role: fieldwork.RoleQA}
	officeActor = fieldwork.Identity{UserID: "u-office", Role: fieldwork.RoleOffice}
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fixture struct {
	mem       *store.Memory
	cycle     *billing.Cycle
	approvals *fieldwork.ApprovalService

	trainee    *fieldwork.TraineeProfile
	supervisor *fieldwork.SupervisorProfile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	supervisor := &fieldwork.SupervisorProfile{
		ID:     "sup-1",
		UserID: "u-supervisor",
		Name:   "Dr. Casey Morgan",
	}
	require.NoError(t, mem.SaveSupervisor(ctx, supervisor))

	trainee := &fieldwork.TraineeProfile{
		ID:           "trn-1",
		UserID:       "u-student",
		Name:         "Jordan Blake",
		Track:        fieldwork.TrackBCBA,
		SupervisorID: supervisor.ID,
		HourlyRate:   d("75"),
		Status:       fieldwork.ProfileActive,
	}
	require.NoError(t, mem.SaveTrainee(ctx, trainee))

	cycle := billing.NewCycle(mem, fieldwork.Defaults(), nil)
	var n int
	cycle.NewID = func() billing.InvoiceID {
		n++
		return billing.InvoiceID("inv-" + time.Now().Format("150405") + "-" + string(rune('a'+n)))
	}

	return &fixture{
		mem:        mem,
		cycle:      cycle,
		approvals:  fieldwork.NewApprovalService(mem, fieldwork.Defaults(), nil),
		trainee:    trainee,
		supervisor: supervisor,
	}
}

// approvedEntry inserts a supervised entry and approves it (populating the
// billed amounts and the month's aggregate).
func (f *fixture) approvedEntry(t *testing.T, id string, date time.Time, hours string) fieldwork.EntryID {
	t.Helper()
	ctx := context.Background()
	entryID := fieldwork.EntryID(id)
	require.NoError(t, f.mem.InsertSupervised(ctx, &fieldwork.SupervisedHourEntry{
		ID:           entryID,
		TraineeID:    f.trainee.ID,
		SupervisorID: f.supervisor.ID,
		Date:         date,
		StartTime:    date,
		Hours:        d(hours),
		Setting:      fieldwork.SettingClinic,
		Activity:     fieldwork.ActivityUnrestricted,
		Format:       fieldwork.FormatIndividual,
		Status:       fieldwork.StatusPending,
		CreatedAt:    time.Now(),
	}))
	_, err := f.approvals.Approve(ctx, qaActor, entryID)
	require.NoError(t, err)
	return entryID
}

// =============================================================================
// INVOICE GENERATION TESTS
// =============================================================================

func TestCycle_GenerateMonth_InvoicesApprovedHours(t *testing.T) {
	// GIVEN: Two approved entries (2h + 3h at $75/h) in May 2026
	// WHEN: The billing cycle runs for the month
	// THEN: One SENT invoice for 375.00 exists and both entries are BILLED

	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	e1 := f.approvedEntry(t, "ent-1", may.Start().AddDate(0, 0, 3), "2")
	e2 := f.approvedEntry(t, "ent-2", may.Start().AddDate(0, 0, 9), "3")

	created, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	inv, err := f.mem.InvoiceForMonth(ctx, f.trainee.ID, may)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceSent, inv.Status)
	assert.Equal(t, "375.00", inv.AmountDue.StringFixed(2))
	require.NotNil(t, inv.SentAt)

	for _, id := range []fieldwork.EntryID{e1, e2} {
		entry, err := f.mem.SupervisedByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fieldwork.StatusBilled, entry.Status)
	}
}

func TestCycle_GenerateMonth_IdempotentRerun(t *testing.T) {
	// GIVEN: A month already invoiced
	// WHEN: The cycle runs again, even with a new approved entry
	// THEN: No second invoice for that trainee/month

	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	f.approvedEntry(t, "ent-1", may.Start(), "2")

	created, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	f.approvedEntry(t, "ent-2", may.Start().AddDate(0, 0, 5), "1")
	created, err = f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestCycle_GenerateMonth_SkipsEmptyAndPending(t *testing.T) {
	// GIVEN: Only a PENDING entry in the month
	// WHEN: The cycle runs
	// THEN: No invoice is created and the entry stays PENDING

	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	require.NoError(t, f.mem.InsertSupervised(ctx, &fieldwork.SupervisedHourEntry{
		ID:           "ent-1",
		TraineeID:    f.trainee.ID,
		SupervisorID: f.supervisor.ID,
		Date:         may.Start(),
		StartTime:    may.Start(),
		Hours:        d("2"),
		Setting:      fieldwork.SettingClinic,
		Activity:     fieldwork.ActivityUnrestricted,
		Format:       fieldwork.FormatIndividual,
		Status:       fieldwork.StatusPending,
		CreatedAt:    time.Now(),
	}))

	created, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	entry, err := f.mem.SupervisedByID(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusPending, entry.Status)
}

func TestCycle_GenerateMonth_OfficeOnly(t *testing.T) {
	f := newFixture(t)
	may := fieldwork.Month{Year: 2026, Month: time.May}

	_, err := f.cycle.GenerateMonth(context.Background(), qaActor, may)
	assert.ErrorIs(t, err, fieldwork.ErrUnauthorized)
}

// =============================================================================
// PAYMENT TESTS
// =============================================================================

func TestCycle_MarkPaid_SettlesCommission(t *testing.T) {
	// GIVEN: A 375.00 invoice for May with 202.50 commission outstanding
	// WHEN: The office records full payment by check
	// THEN: The invoice is PAID, a trainee payment exists, and the May
	//       aggregate settles (balance 0, paid counters up)

	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	f.approvedEntry(t, "ent-1", may.Start().AddDate(0, 0, 3), "2")
	f.approvedEntry(t, "ent-2", may.Start().AddDate(0, 0, 9), "3")

	_, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	inv, err := f.mem.InvoiceForMonth(ctx, f.trainee.ID, may)
	require.NoError(t, err)

	paid, err := f.cycle.MarkPaid(ctx, officeActor, inv.ID, d("375"), billing.PayCheck)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, paid.Status)
	assert.Equal(t, "375.00", paid.AmountPaid.StringFixed(2))
	require.NotNil(t, paid.PaidAt)

	// 375 x 0.54 = 202.50 commission settled against the invoice month.
	agg, err := f.mem.Aggregate(ctx, f.supervisor.ID, f.trainee.ID, may)
	require.NoError(t, err)
	assert.Equal(t, "0.00", agg.BalanceDue.StringFixed(2))
	assert.Equal(t, "202.50", agg.PaidThisMonth.StringFixed(2))
	assert.Equal(t, "202.50", agg.TotalPaid.StringFixed(2))
}

func TestCycle_MarkPaid_AlreadyPaid_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	f.approvedEntry(t, "ent-1", may.Start(), "2")

	_, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)
	inv, err := f.mem.InvoiceForMonth(ctx, f.trainee.ID, may)
	require.NoError(t, err)

	_, err = f.cycle.MarkPaid(ctx, officeActor, inv.ID, d("150"), billing.PayCard)
	require.NoError(t, err)

	_, err = f.cycle.MarkPaid(ctx, officeActor, inv.ID, d("150"), billing.PayCard)
	assert.ErrorIs(t, err, fieldwork.ErrValidation)
}

func TestCycle_MarkPaid_ValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cycle.MarkPaid(ctx, officeActor, "inv-missing", d("0"), billing.PayCheck)
	assert.ErrorIs(t, err, fieldwork.ErrValidation, "non-positive amount")

	_, err = f.cycle.MarkPaid(ctx, qaActor, "inv-missing", d("10"), billing.PayCheck)
	assert.ErrorIs(t, err, fieldwork.ErrUnauthorized)

	_, err = f.cycle.MarkPaid(ctx, officeActor, "inv-missing", d("10"), billing.PayCheck)
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)
}

func TestCycle_MarkPaid_NoSupervisor_NoSettlement(t *testing.T) {
	// GIVEN: A trainee whose supervisor assignment was cleared after billing
	// WHEN: Their invoice is paid
	// THEN: The payment records but no aggregate settlement happens

	f := newFixture(t)
	ctx := context.Background()
	may := fieldwork.Month{Year: 2026, Month: time.May}
	f.approvedEntry(t, "ent-1", may.Start(), "2")

	_, err := f.cycle.GenerateMonth(ctx, officeActor, may)
	require.NoError(t, err)

	f.trainee.SupervisorID = ""
	require.NoError(t, f.mem.SaveTrainee(ctx, f.trainee))

	inv, err := f.mem.InvoiceForMonth(ctx, f.trainee.ID, may)
	require.NoError(t, err)
	paid, err := f.cycle.MarkPaid(ctx, officeActor, inv.ID, d("150"), billing.PayTransfer)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, paid.Status)

	agg, err := f.mem.Aggregate(ctx, f.supervisor.ID, f.trainee.ID, may)
	require.NoError(t, err)
	assert.Equal(t, "0.00", agg.TotalPaid.StringFixed(2), "no settlement without a supervisor")
}
