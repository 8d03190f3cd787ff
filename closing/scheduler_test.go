package closing_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// TRIGGER TESTS
// =============================================================================

func TestLastTrigger(t *testing.T) {
	cases := []struct {
		name       string
		schedule   closing.Schedule
		now        time.Time
		wantAt     time.Time
		wantPeriod string
	}{
		{
			name:       "daily before today's trigger uses yesterday",
			schedule:   closing.Schedule{Periodicity: timeclock.Daily, At: "18:00"},
			now:        time.Date(2026, time.March, 3, 17, 0, 0, 0, time.UTC),
			wantAt:     time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC),
			wantPeriod: "[2026-03-02, 2026-03-02]",
		},
		{
			name:       "daily at the trigger",
			schedule:   closing.Schedule{Periodicity: timeclock.Daily, At: "18:00"},
			now:        time.Date(2026, time.March, 3, 18, 0, 0, 0, time.UTC),
			wantAt:     time.Date(2026, time.March, 3, 18, 0, 0, 0, time.UTC),
			wantPeriod: "[2026-03-03, 2026-03-03]",
		},
		{
			name:       "weekly on sunday night",
			schedule:   closing.Schedule{Periodicity: timeclock.Weekly, Weekday: time.Sunday, At: "23:00"},
			now:        time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC),
			wantAt:     time.Date(2026, time.March, 1, 23, 0, 0, 0, time.UTC),
			wantPeriod: "[2026-02-23, 2026-03-01]",
		},
		{
			name:       "monthly clamps to the end of february",
			schedule:   closing.Schedule{Periodicity: timeclock.Monthly, DayOfMonth: 31, At: "06:00"},
			now:        time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
			wantAt:     time.Date(2026, time.February, 28, 6, 0, 0, 0, time.UTC),
			wantPeriod: "[2026-01-29, 2026-02-28]",
		},
		{
			name:       "monthly in the current month",
			schedule:   closing.Schedule{Periodicity: timeclock.Monthly, DayOfMonth: 5, At: "06:00"},
			now:        time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
			wantAt:     time.Date(2026, time.March, 5, 6, 0, 0, 0, time.UTC),
			wantPeriod: "[2026-02-06, 2026-03-05]",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.schedule.LastTrigger(tc.now, time.UTC)
			assert.True(t, got.Equal(tc.wantAt), "got %s", got)
			assert.Equal(t, tc.wantPeriod, tc.schedule.PeriodFor(got, time.UTC).String())
		})
	}
}

func TestSchedule_Validate(t *testing.T) {
	valid := closing.Schedule{CompanyID: company, Periodicity: timeclock.Monthly, DayOfMonth: 1, At: "06:30"}
	assert.NoError(t, valid.Validate())

	cases := map[string]func(*closing.Schedule){
		"no company":  func(s *closing.Schedule) { s.CompanyID = "" },
		"periodicity": func(s *closing.Schedule) { s.Periodicity = "hourly" },
		"time":        func(s *closing.Schedule) { s.At = "6pm" },
		"day":         func(s *closing.Schedule) { s.DayOfMonth = 32 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), closing.ErrInvalidRequest)
		})
	}
}

// =============================================================================
// RUN TESTS
// =============================================================================

func newScheduler(f *fixture, now time.Time) *closing.Scheduler {
	f.clock.Set(now)
	s := closing.NewScheduler(f.engine, f.store)
	s.Clock = f.clock
	s.Logger = slog.New(slog.DiscardHandler)
	return s
}

func TestRunNow_GeneratesOncePerPeriod(t *testing.T) {
	// GIVEN: A daily schedule at 18:00 and a complete day
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 3, 8, 17)
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: company, Periodicity: timeclock.Daily, At: "18:00", Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))

	// WHEN: Running twice
	first, err := s.RunNow(ctx)
	require.NoError(t, err)
	second, err := s.RunNow(ctx)
	require.NoError(t, err)

	// THEN: The period is generated once, by the scheduler
	assert.Equal(t, closing.RunSummary{Generated: 1}, first)
	assert.Equal(t, closing.RunSummary{Skipped: 1}, second)

	list, err := f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, closing.SchedulerActor, list[0].GeneratedBy)
	assert.Equal(t, closing.Closed, list[0].Status)
	assert.Equal(t, timeclock.Daily, list[0].Periodicity)
}

func TestRunNow_CancelledPeriodIsRegenerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	f.work(t, "w-1", 3, 8, 17)
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: company, Periodicity: timeclock.Daily, At: "18:00", Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))

	_, err := s.RunNow(ctx)
	require.NoError(t, err)
	list, err := f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, list[0].ID, "manager-1", "redo")
	require.NoError(t, err)

	summary, err := s.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated)
}

func TestRunNow_BlockIfInvalid(t *testing.T) {
	// GIVEN: A day with no punches
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: company, Periodicity: timeclock.Daily, At: "18:00",
		BlockIfInvalid: true, Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))

	// WHEN: Running
	summary, err := s.RunNow(ctx)

	// THEN: Nothing is generated until the data is fixed
	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Blocked: 1}, summary)
	list, err := f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// AND: The next check generates once the day is complete
	f.work(t, "w-1", 3, 8, 17)
	summary, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Generated: 1}, summary)
}

func TestRunNow_WithoutBlocking_SavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: company, Periodicity: timeclock.Daily, At: "18:00", Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))

	summary, err := s.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated)
	list, err := f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, closing.Draft, list[0].Status)
}

func TestRunNow_DraftIsClosedOnceDataIsFixed(t *testing.T) {
	// GIVEN: A scheduled run that left a draft for a day without punches
	f := newFixture(t)
	ctx := context.Background()
	f.worker(t, "w-1", 15000)
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: company, Periodicity: timeclock.Daily, At: "18:00", Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))
	_, err := s.RunNow(ctx)
	require.NoError(t, err)

	// WHEN: Checking again before the data is fixed
	summary, err := s.RunNow(ctx)

	// THEN: No second draft is written
	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Skipped: 1}, summary)
	list, err := f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// AND: Once the day is complete the next check closes the period
	f.work(t, "w-1", 3, 8, 17)
	summary, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Generated: 1}, summary)

	list, err = f.engine.List(ctx, company, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, closing.Closed, list[0].Status)

	summary, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Skipped: 1}, summary)
}

func TestRunNow_DisabledAndInvalidSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: "co-off", Periodicity: timeclock.Daily, At: "18:00", Enabled: false,
	}))
	require.NoError(t, f.store.SaveSchedule(ctx, closing.Schedule{
		CompanyID: "co-bad", Periodicity: timeclock.Daily, At: "25:00", Enabled: true,
	}))
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))

	summary, err := s.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, closing.RunSummary{Failed: 1}, summary)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s := newScheduler(f, time.Date(2026, time.March, 3, 19, 0, 0, 0, time.UTC))
	s.CheckInterval = time.Hour

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	assert.True(t, s.NextRunTime().Equal(f.clock.Now().Add(time.Hour)))
}
