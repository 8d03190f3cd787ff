package closing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/timeclock"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const company = "co-1"

func day(d int) timeclock.Day {
	return timeclock.NewDay(2026, time.March, d, time.UTC)
}

func period(from, to int) timeclock.Period {
	return timeclock.Period{Start: day(from), End: day(to)}
}

type fixture struct {
	store  *memory.Store
	clock  *timeclock.ManualClock
	engine *closing.Engine
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := timeclock.NewManualClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	engine := closing.NewEngine(closing.Deps{
		Roster:     store,
		Punches:    store,
		Exceptions: store,
		Payments:   store,
		Closings:   store,
	}, closing.WithClock(clock), closing.WithConcurrency(2))
	return &fixture{store: store, clock: clock, engine: engine}
}

func (f *fixture) worker(t *testing.T, id string, rate int64) timeclock.Worker {
	t.Helper()
	w := timeclock.Worker{
		ID:                      id,
		CompanyID:               company,
		Name:                    "Worker " + id,
		Role:                    "mason",
		BaseDailyRateMinorUnits: rate,
		Active:                  true,
	}
	require.NoError(t, f.store.SaveWorker(context.Background(), w))
	return w
}

// work stores a four-punch day with a one hour lunch at 12:00.
func (f *fixture) work(t *testing.T, workerID string, d, inHour, outHour int) {
	t.Helper()
	f.punches(t, workerID, d, map[timeclock.PunchKind]int{
		timeclock.ClockIn:  inHour,
		timeclock.LunchOut: 12,
		timeclock.LunchIn:  13,
		timeclock.ClockOut: outHour,
	})
}

func (f *fixture) punches(t *testing.T, workerID string, d int, hours map[timeclock.PunchKind]int) {
	t.Helper()
	for _, kind := range timeclock.PunchOrder {
		h, ok := hours[kind]
		if !ok {
			continue
		}
		f.seq++
		require.NoError(t, f.store.AppendPunch(context.Background(), timeclock.Punch{
			ID:         fmt.Sprintf("p-%d", f.seq),
			WorkerID:   workerID,
			CompanyID:  company,
			Kind:       kind,
			OccurredAt: time.Date(2026, time.March, d, h, 0, 0, 0, time.UTC),
		}))
	}
}

func (f *fixture) exception(t *testing.T, workerID string, d int, kind ledger.ExceptionKind, impact int64) {
	t.Helper()
	f.seq++
	require.NoError(t, f.store.AppendException(context.Background(), ledger.Exception{
		ID:                        fmt.Sprintf("ex-%d", f.seq),
		WorkerID:                  workerID,
		CompanyID:                 company,
		Date:                      day(d),
		Kind:                      kind,
		Reason:                    string(kind),
		Justification:             "note",
		ApprovedBy:                "manager-1",
		FinancialImpactMinorUnits: impact,
		Timestamp:                 f.clock.Now(),
	}))
}

func generateRequest(p timeclock.Period) closing.GenerateRequest {
	return closing.GenerateRequest{
		CompanyID:   company,
		Period:      p,
		Periodicity: timeclock.Weekly,
		ActorID:     "manager-1",
	}
}

func issueKinds(issues []closing.Issue) []closing.IssueKind {
	out := []closing.IssueKind{}
	for _, i := range issues {
		out = append(out, i.Kind)
	}
	return out
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate_CompletePeriod_IsClosedAndSealed(t *testing.T) {
	// GIVEN: One worker with two standard days
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	f.work(t, "w-1", 3, 8, 17)

	// WHEN: Generating the closing
	record, err := f.engine.Generate(context.Background(), generateRequest(period(2, 3)))

	// THEN: It is closed, numbered and verifiable
	require.NoError(t, err)
	assert.Equal(t, closing.Closed, record.Status)
	assert.Equal(t, int64(1), record.SequenceNumber)
	assert.True(t, record.Validation.CanClose)
	assert.Equal(t, int64(30000), record.Totals.TotalCostMinorUnits)
	assert.Equal(t, 2, record.Totals.DaysFull)
	assert.Equal(t, "16", record.Totals.HoursWorked.String())
	assert.NoError(t, closing.VerifyRecord(record))

	stored, err := f.engine.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.IntegrityHash, stored.IntegrityHash)
}

func TestGenerate_MissingDay_SavedAsDraft(t *testing.T) {
	// GIVEN: A worker with no activity on Mar 3
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)

	// WHEN: Generating
	record, err := f.engine.Generate(context.Background(), generateRequest(period(2, 3)))

	// THEN: Validation data is on the record, which stays draft
	require.NoError(t, err)
	assert.Equal(t, closing.Draft, record.Status)
	require.Len(t, record.Validation.CriticalErrors, 1)
	issue := record.Validation.CriticalErrors[0]
	assert.Equal(t, closing.WorkerMissingPunch, issue.Kind)
	assert.Equal(t, "w-1", issue.WorkerID)
	require.NotNil(t, issue.Date)
	assert.Equal(t, "2026-03-03", issue.Date.String())
}

func TestGenerate_ExceptionsCoverDays(t *testing.T) {
	// GIVEN: An absence on Mar 2 and a half day on Mar 3, no punches
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.exception(t, "w-1", 2, ledger.Absence, 0)
	f.exception(t, "w-1", 3, ledger.HalfDay, 0)

	record, err := f.engine.Generate(context.Background(), generateRequest(period(2, 3)))

	// THEN: Both days resolve from the exceptions
	require.NoError(t, err)
	assert.Equal(t, closing.Closed, record.Status)
	line := record.PerWorker[0]
	assert.Equal(t, 1, line.Absences)
	assert.Equal(t, 1, line.HalfDays)
	assert.Equal(t, int64(7500), line.WagesMinorUnits)
	assert.Equal(t, closing.Absence, line.Days[0].Kind)
	assert.Equal(t, closing.FromException, line.Days[0].Basis)
	assert.NotEmpty(t, line.Days[0].ExceptionID)
}

func TestGenerate_UnfinishedShiftAndUnsetRate_AreCritical(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 0)
	f.punches(t, "w-1", 2, map[timeclock.PunchKind]int{timeclock.ClockIn: 8, timeclock.LunchOut: 12})

	v, err := f.engine.Validate(context.Background(), company, period(2, 2))

	require.NoError(t, err)
	assert.False(t, v.CanClose)
	assert.ElementsMatch(t,
		[]closing.IssueKind{closing.DailyRateUnset, closing.ShiftNotFinished},
		issueKinds(v.CriticalErrors))
}

func TestValidate_ConflictingExceptions_WarnOnly(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.exception(t, "w-1", 2, ledger.HalfDay, 0)
	f.exception(t, "w-1", 2, ledger.Absence, 0)

	v, err := f.engine.Validate(context.Background(), company, period(2, 2))

	require.NoError(t, err)
	assert.True(t, v.CanClose)
	assert.Contains(t, issueKinds(v.Warnings), closing.ConflictingExceptions)
}

func TestValidate_NoActiveWorkers_Warns(t *testing.T) {
	f := newFixture(t)

	v, err := f.engine.Validate(context.Background(), company, period(2, 3))

	require.NoError(t, err)
	assert.True(t, v.CanClose)
	assert.Equal(t, []closing.IssueKind{closing.NoActiveWorkers}, issueKinds(v.Warnings))
}

func TestGenerate_PaymentsReduceBalance(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 7, 18)
	f.exception(t, "w-1", 2, ledger.Lateness, -1000)
	require.NoError(t, f.store.AppendPayment(context.Background(), ledger.Payment{
		ID:                   "pay-1",
		WorkerID:             "w-1",
		CompanyID:            company,
		Date:                 day(2),
		PaidAmountMinorUnits: 10000,
		Method:               ledger.Cash,
		PaidBy:               "manager-1",
	}))

	record, err := f.engine.Generate(context.Background(), generateRequest(period(2, 2)))

	require.NoError(t, err)
	line := record.PerWorker[0]
	assert.Equal(t, int64(20625), line.WagesMinorUnits)
	assert.Equal(t, int64(5625), line.OvertimePremiumMinorUnits)
	assert.Equal(t, int64(-1000), line.ExceptionAdjustmentsMinorUnits)
	assert.Equal(t, int64(19625), line.TotalDueMinorUnits)
	assert.Equal(t, int64(10000), line.PaidMinorUnits)
	assert.Equal(t, int64(9625), line.BalanceMinorUnits)
	assert.Equal(t, 1, line.OvertimeDays)
}

func TestGenerate_SequenceNumbersIncrease(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)

	first, err := f.engine.Generate(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)
	second, err := f.engine.Generate(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.SequenceNumber)
	assert.Equal(t, int64(2), second.SequenceNumber)

	list, err := f.engine.List(context.Background(), company, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestGenerate_Concurrent_UniqueSequenceNumbers(t *testing.T) {
	// GIVEN: A complete day
	const callers = 16
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)

	// WHEN: Generating the same period from many goroutines
	records := make([]*closing.Record, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			r, err := f.engine.Generate(context.Background(), generateRequest(period(2, 2)))
			records[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Every record gets its own number and the same content
	seen := make(map[int64]bool)
	for _, r := range records {
		seen[r.SequenceNumber] = true
		assert.Equal(t, records[0].IntegrityHash, r.IntegrityHash)
	}
	assert.Len(t, seen, callers)
	for n := int64(1); n <= callers; n++ {
		assert.True(t, seen[n], "sequence %d missing", n)
	}
}

func TestGenerate_Twice_SameTotalsAndHash(t *testing.T) {
	// GIVEN: A period with overtime, an exception and a payment
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.worker(t, "w-2", 12000)
	f.work(t, "w-1", 2, 7, 18)
	f.work(t, "w-2", 2, 8, 17)
	f.exception(t, "w-2", 3, ledger.Absence, 0)
	f.work(t, "w-1", 3, 8, 17)
	require.NoError(t, f.store.AppendPayment(ctx, ledger.Payment{
		ID:                   "pay-1",
		WorkerID:             "w-1",
		CompanyID:            company,
		Date:                 day(3),
		PaidAmountMinorUnits: 5000,
		Method:               ledger.Cash,
		PaidBy:               "manager-1",
	}))

	// WHEN: Generating the same period twice and reading both back
	first, err := f.engine.Generate(ctx, generateRequest(period(2, 3)))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.engine.Generate(ctx, generateRequest(period(2, 3)))
	require.NoError(t, err)

	storedFirst, err := f.engine.Verify(ctx, first.ID)
	require.NoError(t, err)
	storedSecond, err := f.engine.Verify(ctx, second.ID)
	require.NoError(t, err)

	// THEN: Only the identity differs
	assert.NotEqual(t, storedFirst.ID, storedSecond.ID)
	assert.Equal(t, storedFirst.IntegrityHash, storedSecond.IntegrityHash)
	assert.Equal(t, storedFirst.Totals.TotalCostMinorUnits, storedSecond.Totals.TotalCostMinorUnits)
	assert.Equal(t, storedFirst.Totals.BalanceMinorUnits, storedSecond.Totals.BalanceMinorUnits)
	assert.True(t, storedFirst.Totals.HoursWorked.Equal(storedSecond.Totals.HoursWorked))
	assert.Equal(t, first.IntegrityHash, storedFirst.IntegrityHash)
}

func TestGenerate_RejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reversed := generateRequest(timeclock.Period{Start: day(5), End: day(1)})
	_, err := f.engine.Generate(ctx, reversed)
	assert.ErrorIs(t, err, timeclock.ErrInvalidDateRange)

	periodicity := generateRequest(period(2, 2))
	periodicity.Periodicity = "yearly"
	_, err = f.engine.Generate(ctx, periodicity)
	assert.ErrorIs(t, err, closing.ErrInvalidRequest)

	actor := generateRequest(period(2, 2))
	actor.ActorID = ""
	_, err = f.engine.Generate(ctx, actor)
	assert.True(t, closing.IsRejection(err))
}

// =============================================================================
// PREVIEW & CONSOLIDATION TESTS
// =============================================================================

func TestPreview_IsDeterministicAndNotPersisted(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.worker(t, "w-2", 12000)
	f.work(t, "w-1", 2, 8, 17)
	f.work(t, "w-2", 2, 9, 18)

	a, err := f.engine.Preview(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)
	b, err := f.engine.Preview(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)

	assert.Equal(t, a.IntegrityHash, b.IntegrityHash)
	assert.Zero(t, a.SequenceNumber)
	assert.Equal(t, "w-1", a.PerWorker[0].WorkerID)

	list, err := f.engine.List(context.Background(), company, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConsolidateWorker_SingleLine(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "w-1", 16000)
	f.work(t, "w-1", 2, 9, 16)

	line, err := f.engine.ConsolidateWorker(context.Background(), w, company, period(2, 2))

	require.NoError(t, err)
	assert.Equal(t, int64(12000), line.WagesMinorUnits)
	assert.True(t, line.Days[0].Proportional)
	assert.Equal(t, "6", line.HoursWorked.String())
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestAdjust_SupersedesClosedRecord(t *testing.T) {
	// GIVEN: A closed record, then a late lateness exception
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	original, err := f.engine.Generate(ctx, generateRequest(period(2, 2)))
	require.NoError(t, err)
	f.exception(t, "w-1", 2, ledger.Lateness, -1000)

	// WHEN: Adjusting it
	f.clock.Advance(time.Hour)
	successor, err := f.engine.Adjust(ctx, original.ID, "manager-2", "lateness registered late")

	// THEN: A new closed record replaces the original
	require.NoError(t, err)
	assert.Equal(t, closing.Closed, successor.Status)
	assert.Equal(t, int64(2), successor.SequenceNumber)
	assert.Equal(t, int64(14000), successor.Totals.TotalCostMinorUnits)
	require.Len(t, successor.Adjustments, 1)
	adj := successor.Adjustments[0]
	assert.Equal(t, original.ID, adj.PreviousClosingID)
	assert.Equal(t, int64(15000), adj.PreviousTotalCostMinorUnits)
	assert.Equal(t, int64(14000), adj.NewTotalCostMinorUnits)

	replaced, err := f.engine.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.Adjusted, replaced.Status)
	assert.Equal(t, successor.ID, replaced.SupersededBy)
	assert.Equal(t, original.IntegrityHash, replaced.IntegrityHash)

	// AND: The adjusted record cannot be adjusted again
	_, err = f.engine.Adjust(ctx, original.ID, "manager-2", "again")
	var transition *closing.TransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, closing.Adjusted, transition.From)
}

func TestAdjust_InvalidSuccessor_LeavesOriginalClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	original, err := f.engine.Generate(ctx, generateRequest(period(2, 2)))
	require.NoError(t, err)

	// A second worker without punches joins the roster.
	f.worker(t, "w-2", 15000)

	successor, err := f.engine.Adjust(ctx, original.ID, "manager-1", "roster change")

	require.NoError(t, err)
	assert.Equal(t, closing.Draft, successor.Status)
	still, err := f.engine.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.Closed, still.Status)
}

func TestCancel_OnlyFromClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	record, err := f.engine.Generate(ctx, generateRequest(period(2, 2)))
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, record.ID, "", "")
	assert.ErrorIs(t, err, closing.ErrInvalidRequest)

	cancelled, err := f.engine.Cancel(ctx, record.ID, "manager-1", "wrong period")
	require.NoError(t, err)
	assert.Equal(t, closing.Cancelled, cancelled.Status)
	assert.Equal(t, "manager-1", cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.CancelledAt.Equal(f.clock.Now()))

	_, err = f.engine.Cancel(ctx, record.ID, "manager-1", "again")
	assert.ErrorIs(t, err, closing.ErrInvalidTransition)

	_, err = f.engine.Cancel(ctx, "missing", "manager-1", "x")
	assert.True(t, closing.IsNotFound(err))
}

func TestCancel_DraftIsRejected(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	draft, err := f.engine.Generate(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)
	require.Equal(t, closing.Draft, draft.Status)

	_, err = f.engine.Cancel(context.Background(), draft.ID, "manager-1", "x")

	assert.ErrorIs(t, err, closing.ErrInvalidTransition)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, closing.CanTransition(closing.Draft, closing.Closed))
	assert.True(t, closing.CanTransition(closing.Closed, closing.Adjusted))
	assert.True(t, closing.CanTransition(closing.Closed, closing.Cancelled))
	assert.False(t, closing.CanTransition(closing.Cancelled, closing.Closed))
	assert.False(t, closing.CanTransition(closing.Adjusted, closing.Cancelled))
	assert.False(t, closing.CanTransition(closing.Draft, closing.Cancelled))
}

// =============================================================================
// INTEGRITY TESTS
// =============================================================================

func TestVerify_DetectsTamperedTotals(t *testing.T) {
	// GIVEN: A sealed record and a forged copy with a changed total
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	record, err := f.engine.Generate(ctx, generateRequest(period(2, 2)))
	require.NoError(t, err)

	forged := *record
	forged.ID = "forged"
	forged.Totals.TotalCostMinorUnits++
	require.NoError(t, f.store.AppendClosing(ctx, forged))

	// WHEN: Verifying both
	_, err = f.engine.Verify(ctx, record.ID)
	require.NoError(t, err)
	_, err = f.engine.Verify(ctx, "forged")

	// THEN: Only the forgery fails
	var integrity *closing.IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, record.IntegrityHash, integrity.Stored)
	assert.NotEqual(t, integrity.Stored, integrity.Computed)
}

func TestIntegrityHash_IgnoresInsightsAndStatus(t *testing.T) {
	f := newFixture(t)
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 2, 8, 17)
	record, err := f.engine.Preview(context.Background(), generateRequest(period(2, 2)))
	require.NoError(t, err)

	record.Status = closing.Cancelled
	record.Insights = append(record.Insights, closing.Insight{Kind: closing.CostVariance})

	assert.NoError(t, closing.VerifyRecord(record))
}
