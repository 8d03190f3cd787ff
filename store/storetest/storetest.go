/*
Package storetest is the conformance suite every store implementation runs.

USAGE:
  func TestStore(t *testing.T) {
      storetest.Run(t, func(t *testing.T) storetest.Store {
          return memory.New()
      })
  }

Every case uses fresh random IDs, so the suite can run repeatedly against
a long-lived database.
*/
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
	"github.com/warp/attendance-engine/wages"
	"golang.org/x/sync/errgroup"
)

// Store is the full persistence surface of the engine.
type Store interface {
	timeclock.WorkerDirectory
	timeclock.PunchStore
	timeclock.AttemptLog
	ledger.ExceptionStore
	ledger.PaymentStore
	closing.Store
	closing.ScheduleStore
}

// Run executes every conformance case against stores built by open.
func Run(t *testing.T, open func(t *testing.T) Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"Workers", testWorkers},
		{"PunchesByDayAndRange", testPunchesByDayAndRange},
		{"Corrections", testCorrections},
		{"RejectedAttempts", testRejectedAttempts},
		{"ExceptionsAndPayments", testExceptionsAndPayments},
		{"ClosingRoundTrip", testClosingRoundTrip},
		{"ClosingCopiesAreIsolated", testClosingCopiesAreIsolated},
		{"ClosingSequence", testClosingSequence},
		{"ClosingSequenceConcurrent", testClosingSequenceConcurrent},
		{"ClosingTransitions", testClosingTransitions},
		{"Schedules", testSchedules},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func newID(prefix string) string {
	return prefix + "-" + timeclock.NewID()
}

var base = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func day(offset int) timeclock.Day {
	return timeclock.DayOf(base.AddDate(0, 0, offset))
}

func punch(workerID, companyID string, kind timeclock.PunchKind, at time.Time) timeclock.Punch {
	return timeclock.Punch{
		ID:         newID("p"),
		WorkerID:   workerID,
		CompanyID:  companyID,
		Kind:       kind,
		OccurredAt: at,
		Location:   timeclock.Location{Lat: -23.5505, Lng: -46.6333, ResolvedAddress: "Praça da Sé"},
	}
}

func record(companyID string, status closing.Status) closing.Record {
	lines := []closing.WorkerLine{{
		WorkerID:                "w-1",
		Name:                    "Ana",
		BaseDailyRateMinorUnits: 15000,
		DaysFull:                1,
		HoursWorked:             wages.Hours(8 * time.Hour),
		OvertimeHours:           decimal.Zero,
		WagesMinorUnits:         15000,
		TotalDueMinorUnits:      15000,
		BalanceMinorUnits:       15000,
		Days: []closing.DailyOutcome{{
			Date:             day(0),
			Kind:             closing.FullDay,
			Hours:            wages.Hours(8 * time.Hour),
			OvertimeHours:    decimal.Zero,
			AmountMinorUnits: 15000,
			Basis:            closing.FromPunches,
		}},
	}}
	totals := closing.Totals{
		Workers:             1,
		DaysFull:            1,
		HoursWorked:         wages.Hours(8 * time.Hour),
		OvertimeHours:       decimal.Zero,
		WagesMinorUnits:     15000,
		TotalCostMinorUnits: 15000,
		BalanceMinorUnits:   15000,
	}
	hash, err := closing.IntegrityHash(lines, totals)
	if err != nil {
		panic(err)
	}
	return closing.Record{
		ID:            newID("cl"),
		CompanyID:     companyID,
		PeriodStart:   day(0),
		PeriodEnd:     day(0),
		Periodicity:   timeclock.Daily,
		PerWorker:     lines,
		Totals:        totals,
		Insights:      []closing.Insight{},
		Validation:    closing.Validation{IsValid: true, CanClose: true, CriticalErrors: []closing.Issue{}, Warnings: []closing.Issue{}},
		Status:        status,
		GeneratedAt:   base.Add(20 * time.Hour),
		GeneratedBy:   "manager-1",
		Adjustments:   []closing.Adjustment{},
		IntegrityHash: hash,
	}
}

// =============================================================================
// CASES
// =============================================================================

func testWorkers(t *testing.T, s Store) {
	ctx := context.Background()
	companyID := newID("co")
	active := timeclock.Worker{ID: newID("w"), CompanyID: companyID, Name: "Ana", Role: "mason", BaseDailyRateMinorUnits: 15000, Active: true}
	inactive := timeclock.Worker{ID: newID("w"), CompanyID: companyID, Name: "Bruno", Active: false}
	require.NoError(t, s.SaveWorker(ctx, active))
	require.NoError(t, s.SaveWorker(ctx, inactive))

	got, err := s.GetWorker(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, active, *got)

	list, err := s.ListActiveWorkers(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	// Saving again updates in place.
	active.BaseDailyRateMinorUnits = 16000
	require.NoError(t, s.SaveWorker(ctx, active))
	got, err = s.GetWorker(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(16000), got.BaseDailyRateMinorUnits)

	_, err = s.GetWorker(ctx, newID("missing"))
	assert.ErrorIs(t, err, timeclock.ErrWorkerNotFound)
}

func testPunchesByDayAndRange(t *testing.T, s Store) {
	ctx := context.Background()
	workerID, companyID := newID("w"), newID("co")

	late := punch(workerID, companyID, timeclock.LunchOut, base.Add(12*time.Hour))
	early := punch(workerID, companyID, timeclock.ClockIn, base.Add(8*time.Hour))
	nextDay := punch(workerID, companyID, timeclock.ClockIn, base.Add(32*time.Hour))
	for _, p := range []timeclock.Punch{late, early, nextDay} {
		require.NoError(t, s.AppendPunch(ctx, p))
	}

	got, err := s.GetPunch(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, early.Kind, got.Kind)
	assert.True(t, got.OccurredAt.Equal(early.OccurredAt))
	assert.Equal(t, "Praça da Sé", got.Location.ResolvedAddress)

	today, err := s.ListPunchesForWorkerOnDate(ctx, workerID, day(0))
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, early.ID, today[0].ID)
	assert.Equal(t, late.ID, today[1].ID)

	both, err := s.ListPunchesForWorkerInRange(ctx, workerID, base, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, both, 3)

	// The range end is exclusive.
	none, err := s.ListPunchesForWorkerInRange(ctx, workerID, base, base.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetPunch(ctx, newID("missing"))
	assert.ErrorIs(t, err, timeclock.ErrPunchNotFound)
}

func testCorrections(t *testing.T, s Store) {
	ctx := context.Background()
	workerID, companyID := newID("w"), newID("co")
	original := punch(workerID, companyID, timeclock.ClockIn, base.Add(8*time.Hour))
	require.NoError(t, s.AppendPunch(ctx, original))

	c := timeclock.Correction{
		ID:              newID("c"),
		OriginalPunchID: original.ID,
		WorkerID:        workerID,
		CompanyID:       companyID,
		OriginalKind:    original.Kind,
		OriginalTime:    original.OccurredAt,
		CorrectedKind:   timeclock.ClockIn,
		CorrectedTime:   base.Add(7*time.Hour + 40*time.Minute),
		Reason:          "badge reader down",
		CorrectedBy:     "manager-1",
		Timestamp:       base.Add(9 * time.Hour),
	}
	require.NoError(t, s.ApplyCorrection(ctx, c))

	got, err := s.GetPunch(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, got.Corrected)
	assert.Equal(t, c.ID, got.CorrectionID)
	assert.True(t, got.OccurredAt.Equal(c.CorrectedTime))

	history, err := s.ListCorrectionsForPunch(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].OriginalTime.Equal(original.OccurredAt))
	assert.Equal(t, "badge reader down", history[0].Reason)

	missing := c
	missing.ID = newID("c")
	missing.OriginalPunchID = newID("missing")
	assert.ErrorIs(t, s.ApplyCorrection(ctx, missing), timeclock.ErrPunchNotFound)
}

func testRejectedAttempts(t *testing.T, s Store) {
	ctx := context.Background()
	companyID := newID("co")
	for i, code := range []string{"too_soon", "sequence_violation"} {
		require.NoError(t, s.AppendRejectedAttempt(ctx, timeclock.RejectedAttempt{
			ID:          newID("a"),
			WorkerID:    "w-1",
			CompanyID:   companyID,
			Kind:        timeclock.LunchOut,
			AttemptedAt: base.Add(time.Duration(10-i) * time.Hour),
			Code:        code,
			Reason:      code,
		}))
	}

	list, err := s.ListRejectedAttempts(ctx, companyID, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sequence_violation", list[0].Code)

	other, err := s.ListRejectedAttempts(ctx, newID("co"), base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testExceptionsAndPayments(t *testing.T, s Store) {
	ctx := context.Background()
	workerID, companyID := newID("w"), newID("co")
	week := timeclock.Period{Start: day(0), End: day(6)}

	for _, offset := range []int{0, 6, 7} {
		require.NoError(t, s.AppendException(ctx, ledger.Exception{
			ID:                        newID("ex"),
			WorkerID:                  workerID,
			CompanyID:                 companyID,
			Date:                      day(offset),
			Kind:                      ledger.Lateness,
			Reason:                    "traffic",
			ApprovedBy:                "manager-1",
			FinancialImpactMinorUnits: -500,
			Timestamp:                 base.Add(time.Duration(offset) * time.Hour),
		}))
		require.NoError(t, s.AppendPayment(ctx, ledger.Payment{
			ID:                       newID("pay"),
			WorkerID:                 workerID,
			CompanyID:                companyID,
			Date:                     day(offset),
			ComputedAmountMinorUnits: 15000,
			PaidAmountMinorUnits:     15000,
			Method:                   ledger.BankTransfer,
			PaidBy:                   "manager-1",
			Timestamp:                base.Add(time.Duration(offset) * time.Hour),
		}))
	}

	byWorker, err := s.ListExceptionsForWorkerInRange(ctx, workerID, week)
	require.NoError(t, err)
	assert.Len(t, byWorker, 2)
	assert.Equal(t, int64(-1000), ledger.AdjustmentTotal(byWorker))

	byCompany, err := s.ListExceptionsForCompanyInRange(ctx, companyID, week)
	require.NoError(t, err)
	assert.Len(t, byCompany, 2)

	payments, err := s.ListPaymentsForWorkerInRange(ctx, workerID, week)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, int64(30000), ledger.PaidTotal(payments))

	// A colleague's payment shows up in the company listing only.
	require.NoError(t, s.AppendPayment(ctx, ledger.Payment{
		ID:                   newID("pay"),
		WorkerID:             newID("w"),
		CompanyID:            companyID,
		Date:                 day(3),
		PaidAmountMinorUnits: 7000,
		Method:               ledger.Cash,
		PaidBy:               "manager-1",
		Timestamp:            base,
	}))
	companyPayments, err := s.ListPaymentsForCompanyInRange(ctx, companyID, week)
	require.NoError(t, err)
	assert.Len(t, companyPayments, 3)
	assert.Equal(t, int64(37000), ledger.PaidTotal(companyPayments))

	none, err := s.ListPaymentsForCompanyInRange(ctx, newID("co"), week)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testClosingRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	r := record(newID("co"), closing.Closed)
	r.SequenceNumber = 1
	require.NoError(t, s.AppendClosing(ctx, r))

	got, err := s.GetClosing(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.IntegrityHash, got.IntegrityHash)
	assert.Equal(t, closing.Closed, got.Status)
	assert.True(t, got.PeriodStart.Equal(r.PeriodStart))
	assert.NoError(t, closing.VerifyRecord(got))

	count, err := s.CountClosingsForCompany(ctx, r.CompanyID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.GetClosing(ctx, newID("missing"))
	assert.ErrorIs(t, err, closing.ErrClosingNotFound)
}

func testClosingCopiesAreIsolated(t *testing.T, s Store) {
	ctx := context.Background()
	r := record(newID("co"), closing.Closed)
	r.SequenceNumber = 1
	r.Insights = []closing.Insight{{Kind: closing.RecurringAbsence, Severity: closing.Warning, WorkerID: "w-1"}}
	require.NoError(t, s.AppendClosing(ctx, r))

	// Writes to the caller's record after the append.
	r.PerWorker[0].TotalDueMinorUnits = 1
	r.PerWorker[0].Days[0].AmountMinorUnits = 1
	r.Insights[0].WorkerID = "w-2"

	got, err := s.GetClosing(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), got.PerWorker[0].TotalDueMinorUnits)
	assert.Equal(t, int64(15000), got.PerWorker[0].Days[0].AmountMinorUnits)
	assert.Equal(t, "w-1", got.Insights[0].WorkerID)

	// Writes to a record that was read back.
	got.PerWorker[0].TotalDueMinorUnits = 2
	got.Insights[0].WorkerID = "w-3"
	list, err := s.ListClosingsForCompany(ctx, r.CompanyID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list[0].PerWorker[0].Days[0].AmountMinorUnits = 3

	again, err := s.GetClosing(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), again.PerWorker[0].TotalDueMinorUnits)
	assert.Equal(t, int64(15000), again.PerWorker[0].Days[0].AmountMinorUnits)
	assert.Equal(t, "w-1", again.Insights[0].WorkerID)
	assert.NoError(t, closing.VerifyRecord(again))
}

func testClosingSequence(t *testing.T, s Store) {
	ctx := context.Background()
	companyID := newID("co")

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextClosingSequence(ctx, companyID)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		r := record(companyID, closing.Closed)
		r.SequenceNumber = got
		require.NoError(t, s.AppendClosing(ctx, r))
	}

	other, err := s.NextClosingSequence(ctx, newID("co"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	list, err := s.ListClosingsForCompany(ctx, companyID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].SequenceNumber)
	assert.Equal(t, int64(2), list[1].SequenceNumber)
}

func testClosingSequenceConcurrent(t *testing.T, s Store) {
	const callers = 16
	ctx := context.Background()
	companyID := newID("co")

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			n, err := s.NextClosingSequence(gctx, companyID)
			if err != nil {
				return err
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, callers)
	for n := int64(1); n <= callers; n++ {
		assert.True(t, seen[n], "sequence %d was not handed out", n)
	}
}

func testClosingTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	companyID := newID("co")
	original := record(companyID, closing.Closed)
	original.SequenceNumber = 1
	require.NoError(t, s.AppendClosing(ctx, original))

	successor := record(companyID, closing.Closed)
	successor.SequenceNumber = 2
	require.NoError(t, s.SupersedeClosing(ctx, original.ID, successor))

	prev, err := s.GetClosing(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.Adjusted, prev.Status)
	assert.Equal(t, successor.ID, prev.SupersededBy)
	assert.NoError(t, closing.VerifyRecord(prev))

	// An adjusted record can be neither superseded nor cancelled.
	again := record(companyID, closing.Closed)
	again.SequenceNumber = 3
	assert.ErrorIs(t, s.SupersedeClosing(ctx, original.ID, again), closing.ErrInvalidTransition)
	assert.ErrorIs(t, s.CancelClosing(ctx, original.ID, "manager-1", "x", base), closing.ErrInvalidTransition)

	at := base.Add(30 * time.Hour)
	require.NoError(t, s.CancelClosing(ctx, successor.ID, "manager-1", "wrong period", at))
	cancelled, err := s.GetClosing(ctx, successor.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.Cancelled, cancelled.Status)
	assert.Equal(t, "manager-1", cancelled.CancelledBy)
	assert.Equal(t, "wrong period", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.CancelledAt.Equal(at))

	draft := record(companyID, closing.Draft)
	draft.SequenceNumber = 4
	require.NoError(t, s.AppendClosing(ctx, draft))
	assert.ErrorIs(t, s.CancelClosing(ctx, draft.ID, "manager-1", "x", base), closing.ErrInvalidTransition)
}

func testSchedules(t *testing.T, s Store) {
	ctx := context.Background()
	companyID := newID("co")
	sched := closing.Schedule{
		CompanyID:   companyID,
		Periodicity: timeclock.Weekly,
		Weekday:     time.Friday,
		At:          "18:00",
		Enabled:     true,
	}
	require.NoError(t, s.SaveSchedule(ctx, sched))

	sched.At = "19:30"
	sched.BlockIfInvalid = true
	require.NoError(t, s.SaveSchedule(ctx, sched))

	list, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	var found []closing.Schedule
	for _, got := range list {
		if got.CompanyID == companyID {
			found = append(found, got)
		}
	}
	require.Len(t, found, 1)
	assert.Equal(t, sched, found[0])
}
