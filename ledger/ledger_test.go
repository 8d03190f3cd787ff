package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(d int) timeclock.Day {
	return timeclock.NewDay(2026, time.March, d, time.UTC)
}

func march() timeclock.Period {
	return timeclock.Period{Start: day(1), End: day(31)}
}

func validException() ledger.ExceptionInput {
	return ledger.ExceptionInput{
		WorkerID:   "w-1",
		CompanyID:  "co-1",
		Date:       day(2),
		Kind:       ledger.Absence,
		Reason:     "flu",
		ApprovedBy: "manager-1",
	}
}

func validPayment() ledger.PaymentInput {
	return ledger.PaymentInput{
		WorkerID:                 "w-1",
		CompanyID:                "co-1",
		Date:                     day(6),
		ComputedAmountMinorUnits: 75000,
		PaidAmountMinorUnits:     75000,
		Method:                   ledger.InstantTransfer,
		PaidBy:                   "manager-1",
	}
}

// =============================================================================
// EXCEPTION LEDGER TESTS
// =============================================================================

func TestExceptionLedger_Record_ThenListForWorkerAndCompany(t *testing.T) {
	// GIVEN: An approved absence
	ctx := context.Background()
	store := memory.New()
	clock := timeclock.NewManualClock(time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC))
	l := ledger.NewExceptionLedger(store, clock, nil)

	// WHEN: Recording it
	id, err := l.Record(ctx, validException())

	// THEN: It is listed for the worker and the company with its timestamp
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	byWorker, err := l.ListForWorker(ctx, "w-1", march())
	require.NoError(t, err)
	require.Len(t, byWorker, 1)
	assert.Equal(t, id, byWorker[0].ID)
	assert.True(t, byWorker[0].Timestamp.Equal(clock.Now()))

	byCompany, err := l.ListForCompany(ctx, "co-1", march())
	require.NoError(t, err)
	assert.Len(t, byCompany, 1)

	other, err := l.ListForWorker(ctx, "w-2", march())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestExceptionLedger_Record_RejectsIncompleteInput(t *testing.T) {
	l := ledger.NewExceptionLedger(memory.New(), nil, nil)

	cases := map[string]func(*ledger.ExceptionInput){
		"no worker":   func(in *ledger.ExceptionInput) { in.WorkerID = "" },
		"no company":  func(in *ledger.ExceptionInput) { in.CompanyID = "" },
		"no date":     func(in *ledger.ExceptionInput) { in.Date = timeclock.Day{} },
		"bad kind":    func(in *ledger.ExceptionInput) { in.Kind = "vacation" },
		"no reason":   func(in *ledger.ExceptionInput) { in.Reason = "" },
		"no approver": func(in *ledger.ExceptionInput) { in.ApprovedBy = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validException()
			mutate(&in)

			_, err := l.Record(context.Background(), in)

			assert.ErrorIs(t, err, ledger.ErrInvalidException)
			assert.True(t, ledger.IsRejection(err))
		})
	}
}

func TestExceptionLedger_ListForWorker_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := ledger.NewExceptionLedger(store, nil, nil)

	for _, d := range []int{3, 10, 5} {
		in := validException()
		in.Date = day(d)
		_, err := l.Record(ctx, in)
		require.NoError(t, err)
	}

	list, err := l.ListForWorker(ctx, "w-1", march())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2026-03-10", list[0].Date.String())
	assert.Equal(t, "2026-03-05", list[1].Date.String())
	assert.Equal(t, "2026-03-03", list[2].Date.String())
}

// =============================================================================
// PRECEDENCE TESTS
// =============================================================================

func TestGoverning_AbsenceBeatsHalfDay(t *testing.T) {
	// GIVEN: A half day recorded before an absence on the same date
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	list := []ledger.Exception{
		{ID: "half", Kind: ledger.HalfDay, Timestamp: base},
		{ID: "late", Kind: ledger.Lateness, Timestamp: base.Add(time.Minute)},
		{ID: "abs", Kind: ledger.Absence, Timestamp: base.Add(time.Hour)},
	}

	// WHEN: Picking the governing exception
	gov := ledger.Governing(list)

	// THEN: The absence governs, and the day is flagged as conflicting
	require.NotNil(t, gov)
	assert.Equal(t, "abs", gov.ID)
	assert.True(t, ledger.Conflicting(list))
}

func TestGoverning_EarliestOfSameKindWins(t *testing.T) {
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	list := []ledger.Exception{
		{ID: "second", Kind: ledger.HalfDay, Timestamp: base.Add(time.Hour)},
		{ID: "first", Kind: ledger.HalfDay, Timestamp: base},
	}

	assert.Equal(t, "first", ledger.Governing(list).ID)
	assert.False(t, ledger.Conflicting(list))
}

func TestGoverning_OnlyAdjustments_ReturnsNil(t *testing.T) {
	list := []ledger.Exception{
		{Kind: ledger.Lateness},
		{Kind: ledger.Overtime},
	}

	assert.Nil(t, ledger.Governing(list))
	assert.Nil(t, ledger.Governing(nil))
}

func TestAdjustmentTotal_IgnoresPayGoverningKinds(t *testing.T) {
	list := []ledger.Exception{
		{Kind: ledger.Lateness, FinancialImpactMinorUnits: -1000},
		{Kind: ledger.EarlyDeparture, FinancialImpactMinorUnits: -500},
		{Kind: ledger.Overtime, FinancialImpactMinorUnits: 3000},
		{Kind: ledger.Absence, FinancialImpactMinorUnits: -15000},
		{Kind: ledger.HalfDay, FinancialImpactMinorUnits: -7500},
	}

	assert.Equal(t, int64(1500), ledger.AdjustmentTotal(list))
}

func TestSortNewestFirst_SameDateByTimestamp(t *testing.T) {
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	list := []ledger.Exception{
		{ID: "old", Date: day(2), Timestamp: base},
		{ID: "new", Date: day(2), Timestamp: base.Add(time.Hour)},
		{ID: "later-day", Date: day(4), Timestamp: base},
	}

	ledger.SortNewestFirst(list)

	assert.Equal(t, []string{"later-day", "new", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

// =============================================================================
// PAYMENT LEDGER TESTS
// =============================================================================

func TestPaymentLedger_Record_ThenPaidTotal(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewPaymentLedger(memory.New(), nil, nil)

	first := validPayment()
	second := validPayment()
	second.Date = day(13)
	second.PaidAmountMinorUnits = 50000
	second.Method = ledger.Cash

	for _, in := range []ledger.PaymentInput{first, second} {
		_, err := l.Record(ctx, in)
		require.NoError(t, err)
	}

	list, err := l.ListForWorker(ctx, "w-1", march())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2026-03-13", list[0].Date.String())
	assert.Equal(t, int64(125000), ledger.PaidTotal(list))
}

func TestPaymentLedger_Record_RejectsNegativeAmountsAndUnknownMethod(t *testing.T) {
	l := ledger.NewPaymentLedger(memory.New(), nil, nil)

	negative := validPayment()
	negative.PaidAmountMinorUnits = -1
	_, err := l.Record(context.Background(), negative)
	assert.ErrorIs(t, err, ledger.ErrInvalidPayment)

	method := validPayment()
	method.Method = "cheque"
	_, err = l.Record(context.Background(), method)
	assert.ErrorIs(t, err, ledger.ErrInvalidPayment)

	payer := validPayment()
	payer.PaidBy = ""
	_, err = l.Record(context.Background(), payer)
	assert.True(t, ledger.IsRejection(err))
}

func TestPaymentLedger_ListOutsidePeriod_IsEmpty(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewPaymentLedger(memory.New(), nil, nil)
	_, err := l.Record(ctx, validPayment())
	require.NoError(t, err)

	april := timeclock.Period{
		Start: timeclock.NewDay(2026, time.April, 1, time.UTC),
		End:   timeclock.NewDay(2026, time.April, 30, time.UTC),
	}
	list, err := l.ListForWorker(ctx, "w-1", april)

	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPaymentLedger_ListForCompany_EveryWorkerNewestFirst(t *testing.T) {
	// GIVEN: Payments to two workers of the company and one elsewhere
	ctx := context.Background()
	l := ledger.NewPaymentLedger(memory.New(), nil, nil)

	colleague := validPayment()
	colleague.WorkerID = "w-2"
	colleague.Date = day(9)
	colleague.PaidAmountMinorUnits = 30000
	elsewhere := validPayment()
	elsewhere.WorkerID = "w-9"
	elsewhere.CompanyID = "co-2"

	for _, in := range []ledger.PaymentInput{validPayment(), colleague, elsewhere} {
		_, err := l.Record(ctx, in)
		require.NoError(t, err)
	}

	// WHEN: Listing the company's payments
	list, err := l.ListForCompany(ctx, "co-1", march())

	// THEN: Both workers are included, latest date first
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "w-2", list[0].WorkerID)
	assert.Equal(t, "w-1", list[1].WorkerID)
	assert.Equal(t, int64(105000), ledger.PaidTotal(list))
}
