package timeclock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var office = timeclock.Location{Lat: -23.5505, Lng: -46.6333}

type fixture struct {
	store *memory.Store
	clock *timeclock.ManualClock
	seq   *timeclock.Sequencer
}

func newFixture(t *testing.T, opts ...timeclock.Option) *fixture {
	t.Helper()
	store := memory.New()
	clock := timeclock.NewManualClock(at(8, 0, 0))
	opts = append([]timeclock.Option{
		timeclock.WithClock(clock),
		timeclock.WithAttemptLog(store),
	}, opts...)
	return &fixture{
		store: store,
		clock: clock,
		seq:   timeclock.NewSequencer(store, opts...),
	}
}

func at(hour, minute, second int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, second, 0, time.UTC)
}

func request(kind timeclock.PunchKind) timeclock.PunchRequest {
	return timeclock.PunchRequest{
		WorkerID:  "w-1",
		CompanyID: "co-1",
		Kind:      kind,
		Location:  office,
	}
}

func (f *fixture) submitAt(t *testing.T, when time.Time, kind timeclock.PunchKind) (*timeclock.PunchResult, error) {
	t.Helper()
	f.clock.Set(when)
	return f.seq.Submit(context.Background(), request(kind))
}

func (f *fixture) mustSubmitAt(t *testing.T, when time.Time, kind timeclock.PunchKind) *timeclock.PunchResult {
	t.Helper()
	res, err := f.submitAt(t, when, kind)
	require.NoError(t, err)
	return res
}

func advisoryKinds(res *timeclock.PunchResult) []timeclock.AdvisoryKind {
	out := []timeclock.AdvisoryKind{}
	for _, a := range res.Advisories {
		out = append(out, a.Kind)
	}
	return out
}

// =============================================================================
// HARD RULE TESTS
// =============================================================================

func TestSubmit_FullDay_InOrder(t *testing.T) {
	// GIVEN: A worker with no punches today
	f := newFixture(t)

	// WHEN: Punching the four kinds in order with normal gaps
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)
	f.mustSubmitAt(t, at(12, 0, 0), timeclock.LunchOut)
	f.mustSubmitAt(t, at(13, 0, 0), timeclock.LunchIn)
	res := f.mustSubmitAt(t, at(17, 0, 0), timeclock.ClockOut)

	// THEN: All are stored and no advisory is raised
	assert.Empty(t, res.Advisories)
	punches, err := f.store.ListPunchesForWorkerOnDate(context.Background(), "w-1", timeclock.NewDay(2026, time.March, 2, time.UTC))
	require.NoError(t, err)
	require.Len(t, punches, 4)
	assert.Equal(t, timeclock.ClockedOut, timeclock.ShiftStateOf(punches))
}

func TestSubmit_GapScenario_TooSoonThenAccepted(t *testing.T) {
	// GIVEN: clock_in at 08:00
	f := newFixture(t)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	// WHEN: lunch_out at 08:20
	_, err := f.submitAt(t, at(8, 20, 0), timeclock.LunchOut)

	// THEN: Rejected with 10 minutes remaining
	var tooSoon *timeclock.TooSoonError
	require.True(t, errors.As(err, &tooSoon))
	assert.Equal(t, 10, tooSoon.MinutesRemaining())
	assert.Equal(t, timeclock.ClockIn, tooSoon.Previous)
	assert.ErrorIs(t, err, timeclock.ErrTooSoon)
	assert.True(t, timeclock.IsRejection(err))

	// AND: lunch_out at 08:30:01 is accepted
	res := f.mustSubmitAt(t, at(8, 30, 1), timeclock.LunchOut)
	assert.Equal(t, timeclock.LunchOut, res.Punch.Kind)
}

func TestSubmit_ExactlyAtMinimumGap_IsAccepted(t *testing.T) {
	f := newFixture(t)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	_, err := f.submitAt(t, at(8, 30, 0), timeclock.LunchOut)

	assert.NoError(t, err)
}

func TestSubmit_TooSoon_RoundsRemainingUp(t *testing.T) {
	f := newFixture(t)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	_, err := f.submitAt(t, at(8, 29, 30), timeclock.LunchOut)

	var tooSoon *timeclock.TooSoonError
	require.True(t, errors.As(err, &tooSoon))
	assert.Equal(t, 1, tooSoon.MinutesRemaining())
}

func TestSubmit_OutOfSequence_NamesExpectedKind(t *testing.T) {
	f := newFixture(t)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	_, err := f.submitAt(t, at(12, 0, 0), timeclock.ClockOut)

	var seqErr *timeclock.SequenceError
	require.True(t, errors.As(err, &seqErr))
	assert.Equal(t, timeclock.LunchOut, seqErr.Expected)
	assert.Equal(t, timeclock.ClockOut, seqErr.Got)
	assert.False(t, seqErr.ShiftClosed)
}

func TestSubmit_AfterClockOut_ShiftClosed(t *testing.T) {
	f := newFixture(t)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)
	f.mustSubmitAt(t, at(12, 0, 0), timeclock.LunchOut)
	f.mustSubmitAt(t, at(13, 0, 0), timeclock.LunchIn)
	f.mustSubmitAt(t, at(17, 0, 0), timeclock.ClockOut)

	_, err := f.submitAt(t, at(18, 0, 0), timeclock.ClockIn)

	var seqErr *timeclock.SequenceError
	require.True(t, errors.As(err, &seqErr))
	assert.True(t, seqErr.ShiftClosed)
}

func TestSubmit_SequenceIsAlwaysAPrefix(t *testing.T) {
	// GIVEN: Random attempts at every kind, hour after hour
	f := newFixture(t)
	kinds := []timeclock.PunchKind{timeclock.ClockOut, timeclock.LunchIn, timeclock.ClockIn, timeclock.LunchIn, timeclock.LunchOut, timeclock.ClockIn, timeclock.LunchIn, timeclock.ClockOut}

	for i, kind := range kinds {
		_, _ = f.submitAt(t, at(7+i, 0, 0), kind)
	}

	// THEN: Whatever was accepted is a prefix of the legal order
	punches, err := f.store.ListPunchesForWorkerOnDate(context.Background(), "w-1", timeclock.NewDay(2026, time.March, 2, time.UTC))
	require.NoError(t, err)
	for i, p := range punches {
		assert.Equal(t, timeclock.PunchOrder[i], p.Kind)
	}
	assert.Len(t, punches, 4)
}

func TestSubmit_InvalidInput_Rejected(t *testing.T) {
	f := newFixture(t)

	cases := map[string]timeclock.PunchRequest{
		"no worker":  {CompanyID: "co-1", Kind: timeclock.ClockIn, Location: office},
		"no company": {WorkerID: "w-1", Kind: timeclock.ClockIn, Location: office},
		"bad kind":   {WorkerID: "w-1", CompanyID: "co-1", Kind: "break", Location: office},
		"bad coords": {WorkerID: "w-1", CompanyID: "co-1", Kind: timeclock.ClockIn, Location: timeclock.Location{Lat: 95}},
		"bad site": {WorkerID: "w-1", CompanyID: "co-1", Kind: timeclock.ClockIn, Location: office,
			Site: &timeclock.Site{ID: "s-1", Center: timeclock.Coordinate{Lat: 1, Lng: 1}}},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.seq.Submit(context.Background(), req)
			assert.ErrorIs(t, err, timeclock.ErrInvalidPunch)
			assert.Equal(t, "invalid_punch", timeclock.RejectionCode(err))
		})
	}
}

func TestSubmit_Rejections_AreLoggedAsAttempts(t *testing.T) {
	// GIVEN: One sequence violation and one too-soon punch
	f := newFixture(t)
	_, _ = f.submitAt(t, at(7, 0, 0), timeclock.LunchIn)
	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)
	_, _ = f.submitAt(t, at(8, 5, 0), timeclock.LunchOut)

	// WHEN: Listing the day's attempts
	attempts, err := f.store.ListRejectedAttempts(context.Background(), "co-1", at(0, 0, 0), at(23, 59, 59))

	// THEN: Both are recorded in order with their codes
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "sequence_violation", attempts[0].Code)
	assert.Equal(t, "too_soon", attempts[1].Code)
	assert.True(t, attempts[1].AttemptedAt.Equal(at(8, 5, 0)))
}

func TestSubmit_DaysFollowConfiguredLocation(t *testing.T) {
	// GIVEN: A UTC-3 company; clock-in at 22:00 local on Mar 2 (01:00 UTC Mar 3)
	brt := time.FixedZone("BRT", -3*60*60)
	f := newFixture(t, timeclock.WithLocation(brt))
	f.mustSubmitAt(t, time.Date(2026, time.March, 2, 22, 0, 0, 0, brt), timeclock.ClockIn)

	// WHEN: Clocking in again at 08:00 local on Mar 3
	_, err := f.submitAt(t, time.Date(2026, time.March, 3, 8, 0, 0, 0, brt), timeclock.ClockIn)

	// THEN: It is a new local day, so the clock-in is legal
	assert.NoError(t, err)
}

// =============================================================================
// SOFT RULE TESTS
// =============================================================================

func TestSubmit_Advisories_NeverBlock(t *testing.T) {
	f := newFixture(t)

	// Late clock-in
	res := f.mustSubmitAt(t, at(12, 30, 0), timeclock.ClockIn)
	assert.Equal(t, []timeclock.AdvisoryKind{timeclock.AdvisoryLateClockIn}, advisoryKinds(res))

	// Short morning
	res = f.mustSubmitAt(t, at(13, 30, 0), timeclock.LunchOut)
	assert.Equal(t, []timeclock.AdvisoryKind{timeclock.AdvisoryShortMorning}, advisoryKinds(res))

	// Long lunch
	res = f.mustSubmitAt(t, at(16, 0, 0), timeclock.LunchIn)
	assert.Equal(t, []timeclock.AdvisoryKind{timeclock.AdvisoryLongLunch}, advisoryKinds(res))

	res = f.mustSubmitAt(t, at(20, 0, 0), timeclock.ClockOut)
	assert.Empty(t, res.Advisories)
}

func TestSubmit_LongShift_Advisory(t *testing.T) {
	f := newFixture(t)
	f.mustSubmitAt(t, at(6, 0, 0), timeclock.ClockIn)
	f.mustSubmitAt(t, at(11, 0, 0), timeclock.LunchOut)
	f.mustSubmitAt(t, at(12, 0, 0), timeclock.LunchIn)

	res := f.mustSubmitAt(t, at(19, 0, 0), timeclock.ClockOut)

	assert.Equal(t, []timeclock.AdvisoryKind{timeclock.AdvisoryLongShift}, advisoryKinds(res))
}

func TestSubmit_OutsideFence_AdvisoryOnly(t *testing.T) {
	f := newFixture(t)
	req := request(timeclock.ClockIn)
	req.Site = &timeclock.Site{
		ID:           "site-1",
		Name:         "Paulista tower",
		Center:       timeclock.Coordinate{Lat: -23.5614, Lng: -46.6559},
		RadiusMeters: 200,
	}

	res, err := f.seq.Submit(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, res.Advisories, 1)
	assert.Equal(t, timeclock.AdvisoryOutsideFence, res.Advisories[0].Kind)
	assert.Contains(t, res.Advisories[0].Message, "Paulista tower")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestSubmit_ConcurrentClockIns_ExactlyOneAccepted(t *testing.T) {
	// GIVEN: Twenty simultaneous clock-ins for the same worker
	f := newFixture(t)
	const attempts = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.seq.Submit(context.Background(), request(timeclock.ClockIn)); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly one is stored
	assert.Equal(t, 1, accepted)
	punches, err := f.store.ListPunchesForWorkerOnDate(context.Background(), "w-1", timeclock.NewDay(2026, time.March, 2, time.UTC))
	require.NoError(t, err)
	assert.Len(t, punches, 1)
}

func TestSubmit_DifferentWorkers_DoNotContend(t *testing.T) {
	f := newFixture(t)
	workers := []string{"w-1", "w-2", "w-3", "w-4"}

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, id := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request(timeclock.ClockIn)
			req.WorkerID = id
			_, errs[i] = f.seq.Submit(context.Background(), req)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// =============================================================================
// NEXT PUNCH & CORRECTION TESTS
// =============================================================================

func TestNext_ReportsKindAllowedAtAndClosedShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next, err := f.seq.Next(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, timeclock.ClockIn, next.Kind)
	assert.Equal(t, timeclock.NotStarted, next.State)

	f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)
	f.clock.Set(at(8, 10, 0))
	next, err = f.seq.Next(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, timeclock.LunchOut, next.Kind)
	assert.True(t, next.AllowedAt.Equal(at(8, 30, 0)))

	f.mustSubmitAt(t, at(12, 0, 0), timeclock.LunchOut)
	f.mustSubmitAt(t, at(13, 0, 0), timeclock.LunchIn)
	f.mustSubmitAt(t, at(17, 0, 0), timeclock.ClockOut)
	next, err = f.seq.Next(ctx, "w-1")
	require.NoError(t, err)
	assert.True(t, next.ShiftClosed)
	assert.Empty(t, next.Kind)

	_, err = f.seq.Next(ctx, "")
	assert.ErrorIs(t, err, timeclock.ErrInvalidPunch)
}

func TestCorrect_RewritesPunchAndKeepsAudit(t *testing.T) {
	// GIVEN: A clock-in at 08:00
	f := newFixture(t)
	ctx := context.Background()
	original := f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn).Punch

	// WHEN: Correcting it to 07:40
	f.clock.Set(at(9, 0, 0))
	updated, correction, err := f.seq.Correct(ctx, timeclock.CorrectionRequest{
		PunchID:     original.ID,
		Kind:        timeclock.ClockIn,
		OccurredAt:  at(7, 40, 0),
		Reason:      "badge reader down",
		CorrectedBy: "manager-1",
	})

	// THEN: The punch is rewritten and the correction holds the original
	require.NoError(t, err)
	assert.True(t, updated.OccurredAt.Equal(at(7, 40, 0)))
	assert.True(t, updated.Corrected)
	assert.True(t, correction.OriginalTime.Equal(at(8, 0, 0)))
	assert.True(t, correction.Timestamp.Equal(at(9, 0, 0)))

	stored, err := f.store.GetPunch(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, correction.ID, stored.CorrectionID)

	history, err := f.store.ListCorrectionsForPunch(ctx, original.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCorrect_RequiresReasonAndKnownPunch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.seq.Correct(ctx, timeclock.CorrectionRequest{
		PunchID:     "p-1",
		Kind:        timeclock.ClockIn,
		OccurredAt:  at(8, 0, 0),
		CorrectedBy: "manager-1",
	})
	assert.ErrorIs(t, err, timeclock.ErrInvalidPunch)

	_, _, err = f.seq.Correct(ctx, timeclock.CorrectionRequest{
		PunchID:     "missing",
		Kind:        timeclock.ClockIn,
		OccurredAt:  at(8, 0, 0),
		Reason:      "typo",
		CorrectedBy: "manager-1",
	})
	assert.True(t, timeclock.IsNotFound(err))
}

// =============================================================================
// ADDRESS RESOLUTION TESTS
// =============================================================================

type stubResolver struct {
	address string
	err     error
	calls   int
}

func (r *stubResolver) ResolveAddress(_ context.Context, _ timeclock.Coordinate) (string, error) {
	r.calls++
	return r.address, r.err
}

func TestSubmit_ResolvesAddressWhenMissing(t *testing.T) {
	resolver := &stubResolver{address: "Praça da Sé, São Paulo"}
	f := newFixture(t, timeclock.WithResolver(resolver))

	res := f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	assert.Equal(t, "Praça da Sé, São Paulo", res.Punch.Location.ResolvedAddress)
	assert.Equal(t, 1, resolver.calls)
}

func TestSubmit_ResolverFailure_DoesNotBlockPunch(t *testing.T) {
	resolver := &stubResolver{err: errors.New("geocoder unavailable")}
	f := newFixture(t, timeclock.WithResolver(resolver))

	res := f.mustSubmitAt(t, at(8, 0, 0), timeclock.ClockIn)

	assert.Empty(t, res.Punch.Location.ResolvedAddress)
}

func TestSubmit_ClientAddress_SkipsResolver(t *testing.T) {
	resolver := &stubResolver{address: "ignored"}
	f := newFixture(t, timeclock.WithResolver(resolver))
	req := request(timeclock.ClockIn)
	req.Location.ResolvedAddress = "Av. Paulista 1000"

	res, err := f.seq.Submit(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Av. Paulista 1000", res.Punch.Location.ResolvedAddress)
	assert.Zero(t, resolver.calls)
}
