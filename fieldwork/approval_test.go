package fieldwork_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fieldwork-engine/fieldwork"
	"github.com/warp/fieldwork-engine/fieldwork/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestApprovals(t *testing.T) (*fieldwork.ApprovalService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return fieldwork.NewApprovalService(mem, fieldwork.Defaults(), nil), mem
}

// insertPendingEntry stores a supervised entry directly, bypassing admission.
func insertPendingEntry(t *testing.T, m *store.Memory, id string, traineeID fieldwork.TraineeID, supervisorID fieldwork.SupervisorID, date time.Time, hours string) fieldwork.EntryID {
	t.Helper()
	entryID := fieldwork.EntryID(id)
	err := m.InsertSupervised(context.Background(), &fieldwork.SupervisedHourEntry{
		ID:           entryID,
		TraineeID:    traineeID,
		SupervisorID: supervisorID,
		Date:         date,
		StartTime:    date,
		Hours:        d(hours),
		Setting:      fieldwork.SettingClinic,
		Activity:     fieldwork.ActivityUnrestricted,
		Format:       fieldwork.FormatIndividual,
		Status:       fieldwork.StatusPending,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	return entryID
}

func mustAggregate(t *testing.T, m *store.Memory, supervisorID fieldwork.SupervisorID, traineeID fieldwork.TraineeID, month fieldwork.Month) *fieldwork.MonthlyPaymentAggregate {
	t.Helper()
	agg, err := m.Aggregate(context.Background(), supervisorID, traineeID, month)
	require.NoError(t, err)
	return agg
}

// =============================================================================
// APPROVAL TESTS
// =============================================================================

func TestApproval_Approve_ComputesAmounts(t *testing.T) {
	// GIVEN: A pending 2h entry, trainee billed at $75/h, default 0.54 commission
	// WHEN: QA approves it
	// THEN: amountBilled = 150.00, supervisorPay = 81.00, and the month's
	//       aggregate is created with that amount due

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	entry, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)

	assert.Equal(t, fieldwork.StatusApproved, entry.Status)
	require.NotNil(t, entry.AmountBilled)
	require.NotNil(t, entry.SupervisorPay)
	assert.Equal(t, "150.00", entry.AmountBilled.StringFixed(2))
	assert.Equal(t, "81.00", entry.SupervisorPay.StringFixed(2))

	agg := mustAggregate(t, mem, supervisor.ID, trainee.ID, fieldwork.MonthOf(date))
	assert.Equal(t, "81.00", agg.AmountDue.StringFixed(2))
	assert.Equal(t, "81.00", agg.BalanceDue.StringFixed(2))
	assert.Equal(t, "0.00", agg.TotalPaid.StringFixed(2))
}

func TestApproval_Approve_SupervisorCommissionOverride(t *testing.T) {
	// GIVEN: A supervisor with a 0.60 commission override
	// WHEN: Approving a 2h entry at $75/h
	// THEN: supervisorPay = 90.00, not the default 81.00

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	pct := d("0.60")
	supervisor.CommissionPct = &pct
	require.NoError(t, mem.SaveSupervisor(context.Background(), supervisor))

	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	entry, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)
	assert.Equal(t, "90.00", entry.SupervisorPay.StringFixed(2))
}

func TestApproval_Approve_CapabilityRequired(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	for _, actor := range []fieldwork.Identity{studentActor, supervisorActor,
		{UserID: "u-office", Role: fieldwork.RoleOffice}} {
		_, err := svc.Approve(context.Background(), actor, id)
		assert.ErrorIs(t, err, fieldwork.ErrUnauthorized, "role %s/%s", actor.Role, actor.OfficeSubRole)
	}

	// Office ADMIN is allowed.
	_, err := svc.Approve(context.Background(), officeAdmin, id)
	assert.NoError(t, err)
}

func TestApproval_Approve_FromBilled_Rejected(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)
	_, err = fieldwork.MarkBilled(context.Background(), mem, id)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), qaActor, id)
	var transitionErr *fieldwork.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, fieldwork.StatusBilled, transitionErr.From)
}

// =============================================================================
// REJECTION TESTS
// =============================================================================

func TestApproval_Reject_RequiresReason(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.Reject(context.Background(), qaActor, id, "")
	assert.ErrorIs(t, err, fieldwork.ErrValidation)

	entry, err := svc.Reject(context.Background(), qaActor, id, "overlapping session times")
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusRejected, entry.Status)
	assert.Equal(t, "overlapping session times", entry.RejectReason)
}

func TestApproval_RejectApproved_ReversesPay(t *testing.T) {
	// GIVEN: An approved 2h entry that put 81.00 on the month's aggregate
	// WHEN: The entry is rejected
	// THEN: The aggregate returns to zero and the derived amounts are cleared

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)

	entry, err := svc.Reject(context.Background(), qaActor, id, "wrong client")
	require.NoError(t, err)
	assert.Nil(t, entry.AmountBilled)
	assert.Nil(t, entry.SupervisorPay)

	agg := mustAggregate(t, mem, supervisor.ID, trainee.ID, fieldwork.MonthOf(date))
	assert.Equal(t, "0.00", agg.AmountDue.StringFixed(2))
	assert.Equal(t, "0.00", agg.BalanceDue.StringFixed(2))
}

func TestApproval_RejectBilled_Rejected(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)
	_, err = fieldwork.MarkBilled(context.Background(), mem, id)
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), qaActor, id, "too late")
	assert.ErrorIs(t, err, fieldwork.ErrInvalidTransition)
}

// =============================================================================
// REVERT AND RE-APPROVAL TESTS
// =============================================================================

func TestApproval_Revert_SuperAdminOnly(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.Reject(context.Background(), qaActor, id, "incomplete notes")
	require.NoError(t, err)

	_, err = svc.RevertToPending(context.Background(), qaActor, id)
	assert.ErrorIs(t, err, fieldwork.ErrUnauthorized)
	_, err = svc.RevertToPending(context.Background(), officeAdmin, id)
	assert.ErrorIs(t, err, fieldwork.ErrUnauthorized)

	entry, err := svc.RevertToPending(context.Background(), superAdmin, id)
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusPending, entry.Status)
	assert.Empty(t, entry.RejectReason)
}

func TestApproval_Revert_OnlyFromRejected(t *testing.T) {
	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	_, err := svc.RevertToPending(context.Background(), superAdmin, id)
	assert.ErrorIs(t, err, fieldwork.ErrInvalidTransition)
}

func TestApproval_ReApproval_RecomputesFromCurrentRates(t *testing.T) {
	// GIVEN: An entry approved at $75/h, then rejected, then the rate
	//        raised to $80/h
	// WHEN: The entry is approved again
	// THEN: Amounts reflect the current rate, and the aggregate carries
	//       exactly one approval's worth of pay

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")
	ctx := context.Background()

	_, err := svc.Approve(ctx, qaActor, id)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, qaActor, id, "rate under review")
	require.NoError(t, err)

	_, err = fieldwork.UpdateTraineeRate(ctx, mem, superAdmin, trainee.ID, d("80"))
	require.NoError(t, err)

	entry, err := svc.Approve(ctx, qaActor, id)
	require.NoError(t, err)
	assert.Equal(t, "160.00", entry.AmountBilled.StringFixed(2))
	assert.Equal(t, "86.40", entry.SupervisorPay.StringFixed(2))
	assert.Empty(t, entry.RejectReason)

	agg := mustAggregate(t, mem, supervisor.ID, trainee.ID, fieldwork.MonthOf(date))
	assert.Equal(t, "86.40", agg.AmountDue.StringFixed(2), "reject+re-approve must not double count")
}

func TestUpdateTraineeRate_SuperAdminOnly(t *testing.T) {
	_, mem := newTestApprovals(t)
	trainee, _ := seedParties(t, mem)
	ctx := context.Background()

	_, err := fieldwork.UpdateTraineeRate(ctx, mem, officeAdmin, trainee.ID, d("90"))
	assert.ErrorIs(t, err, fieldwork.ErrUnauthorized)

	_, err = fieldwork.UpdateTraineeRate(ctx, mem, superAdmin, trainee.ID, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, fieldwork.ErrValidation)

	updated, err := fieldwork.UpdateTraineeRate(ctx, mem, superAdmin, trainee.ID, d("90"))
	require.NoError(t, err)
	assert.True(t, updated.HourlyRate.Equal(d("90")))
}

// =============================================================================
// AGGREGATE ACCUMULATION
// =============================================================================

func TestApproval_ConcurrentApprovals_NoLostUpdates(t *testing.T) {
	// GIVEN: Eight pending 1h entries for the same supervisor/trainee/month
	// WHEN: All are approved concurrently
	// THEN: The aggregate holds the full sum (8 x 40.50 = 324.00)

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)

	const entries = 8
	ids := make([]fieldwork.EntryID, entries)
	for i := 0; i < entries; i++ {
		ids[i] = insertPendingEntry(t, mem, fmt.Sprintf("ent-%d", i), trainee.ID, supervisor.ID, date, "1")
	}

	var wg sync.WaitGroup
	errs := make(chan error, entries)
	for _, id := range ids {
		wg.Add(1)
		go func(id fieldwork.EntryID) {
			defer wg.Done()
			_, err := svc.Approve(context.Background(), qaActor, id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg := mustAggregate(t, mem, supervisor.ID, trainee.ID, fieldwork.MonthOf(date))
	assert.Equal(t, "324.00", agg.AmountDue.StringFixed(2))
}

func TestSettlePay_BalanceFloorsAtZero(t *testing.T) {
	// GIVEN: An aggregate with 81.00 due
	// WHEN: 100.00 is settled against it
	// THEN: BalanceDue floors at zero while TotalPaid records the full amount

	svc, mem := newTestApprovals(t)
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")
	ctx := context.Background()

	_, err := svc.Approve(ctx, qaActor, id)
	require.NoError(t, err)

	month := fieldwork.MonthOf(date)
	require.NoError(t, fieldwork.SettlePay(ctx, mem, supervisor.ID, trainee.ID, month, d("100"), time.Now()))

	agg := mustAggregate(t, mem, supervisor.ID, trainee.ID, month)
	assert.Equal(t, "0.00", agg.BalanceDue.StringFixed(2))
	assert.Equal(t, "100.00", agg.TotalPaid.StringFixed(2))
	assert.Equal(t, "100.00", agg.PaidThisMonth.StringFixed(2))
}

func TestApproval_AuditFailure_DoesNotBlock(t *testing.T) {
	// GIVEN: An audit sink that always fails
	// WHEN: An entry is approved
	// THEN: The approval itself still succeeds

	mem := store.NewMemory()
	svc := fieldwork.NewApprovalService(mem, fieldwork.Defaults(), failingAudit{})
	trainee, supervisor := seedParties(t, mem)
	date := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	id := insertPendingEntry(t, mem, "ent-1", trainee.ID, supervisor.ID, date, "2")

	entry, err := svc.Approve(context.Background(), qaActor, id)
	require.NoError(t, err)
	assert.Equal(t, fieldwork.StatusApproved, entry.Status)
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, fieldwork.AuditEvent) error {
	return errors.New("sink unavailable")
}
