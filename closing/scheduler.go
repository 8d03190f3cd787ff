/*
scheduler.go - Automated closing scheduler

PURPOSE:
  Generates each company's closing once its configured trigger time has
  passed, according to the company's schedule (daily, weekly or monthly).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - For every enabled schedule, finds the latest trigger at or before now
    and the period that trigger closes
  - Skips periods that already have a closed or adjusted record
  - A period with only drafts is validated again on every check and is
    generated once it can close; no new draft is written meanwhile
  - With BlockIfInvalid, a period that fails validation is not generated;
    it is retried on the next check

TRIGGERS:
  daily    every day at At; closes that day
  weekly   on Weekday at At; closes the 7 days ending that day
  monthly  on DayOfMonth at At (clamped to the month's last day);
           closes the month ending that day

USAGE:
  scheduler := NewScheduler(engine, schedules)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine.go: Generate
  - timeclock/period.go: PeriodEnding
*/
package closing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// SCHEDULE
// =============================================================================

// Schedule is a company's automatic closing configuration.
type Schedule struct {
	CompanyID      string                `json:"companyId"`
	Periodicity    timeclock.Periodicity `json:"periodicity"`
	Weekday        time.Weekday          `json:"weekday"`
	DayOfMonth     int                   `json:"dayOfMonth"`
	At             string                `json:"at"`
	BlockIfInvalid bool                  `json:"blockIfInvalid"`
	Enabled        bool                  `json:"enabled"`
}

const timeOfDayLayout = "15:04"

func (s Schedule) Validate() error {
	if s.CompanyID == "" {
		return fmt.Errorf("%w: company id is required", ErrInvalidRequest)
	}
	if !s.Periodicity.Valid() {
		return fmt.Errorf("%w: unknown periodicity %q", ErrInvalidRequest, s.Periodicity)
	}
	if _, err := time.Parse(timeOfDayLayout, s.At); err != nil {
		return fmt.Errorf("%w: time of day must be HH:MM, got %q", ErrInvalidRequest, s.At)
	}
	if s.Periodicity == timeclock.Weekly && (s.Weekday < time.Sunday || s.Weekday > time.Saturday) {
		return fmt.Errorf("%w: weekday must be 0-6", ErrInvalidRequest)
	}
	if s.Periodicity == timeclock.Monthly && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		return fmt.Errorf("%w: day of month must be 1-31", ErrInvalidRequest)
	}
	return nil
}

// LastTrigger returns the latest trigger instant at or before now.
func (s Schedule) LastTrigger(now time.Time, loc *time.Location) time.Time {
	clock, _ := time.Parse(timeOfDayLayout, s.At)
	local := now.In(loc)
	today := timeclock.DayIn(local, loc)
	at := func(d timeclock.Day) time.Time {
		return d.Start().Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
	}

	switch s.Periodicity {
	case timeclock.Weekly:
		back := (int(today.Weekday()) - int(s.Weekday) + 7) % 7
		d := today.AddDays(-back)
		if at(d).After(local) {
			d = d.AddDays(-7)
		}
		return at(d)
	case timeclock.Monthly:
		d := monthDay(today.Time.Year(), today.Time.Month(), s.DayOfMonth, loc)
		if at(d).After(local) {
			d = monthDay(today.Time.Year(), today.Time.Month()-1, s.DayOfMonth, loc)
		}
		return at(d)
	default:
		d := today
		if at(d).After(local) {
			d = d.AddDays(-1)
		}
		return at(d)
	}
}

// PeriodFor returns the period closed by a trigger.
func (s Schedule) PeriodFor(trigger time.Time, loc *time.Location) timeclock.Period {
	return timeclock.PeriodEnding(s.Periodicity, timeclock.DayIn(trigger, loc))
}

// monthDay clamps day to the length of the month. month may be out of
// range; it is normalised the way time.Date does.
func monthDay(year int, month time.Month, day int, loc *time.Location) timeclock.Day {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return timeclock.NewDay(first.Year(), first.Month(), day, loc)
}

// =============================================================================
// SCHEDULER
// =============================================================================

// SchedulerActor is recorded as GeneratedBy on scheduled closings.
const SchedulerActor = "scheduler"

// RunSummary counts what one check did.
type RunSummary struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
}

type Scheduler struct {
	Engine        *Engine
	Schedules     ScheduleStore
	Clock         timeclock.Clock
	Location      *time.Location
	CheckInterval time.Duration
	RunTimeout    time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(engine *Engine, schedules ScheduleStore) *Scheduler {
	return &Scheduler{
		Engine:        engine,
		Schedules:     schedules,
		Clock:         timeclock.SystemClock{},
		Location:      time.UTC,
		CheckInterval: 15 * time.Minute,
		RunTimeout:    5 * time.Minute,
		Enabled:       true,
		Logger:        slog.Default(),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("closing scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("closing scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("closing scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.RunTimeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.Logger.Error("closing scheduler check failed", "err", err)
	}
}

// RunNow performs one check immediately.
func (s *Scheduler) RunNow(ctx context.Context) (RunSummary, error) {
	var summary RunSummary

	schedules, err := s.Schedules.ListSchedules(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list schedules: %w", err)
	}

	now := s.Clock.Now()
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := sched.Validate(); err != nil {
			s.Logger.Warn("skipping invalid closing schedule", "companyId", sched.CompanyID, "err", err)
			summary.Failed++
			continue
		}

		period := sched.PeriodFor(sched.LastTrigger(now, s.Location), s.Location)

		existing, err := s.periodState(ctx, sched.CompanyID, period)
		if err != nil {
			s.Logger.Error("failed to check existing closings", "companyId", sched.CompanyID, "err", err)
			summary.Failed++
			continue
		}
		if existing == periodClosed {
			summary.Skipped++
			continue
		}

		if sched.BlockIfInvalid || existing == periodDrafted {
			v, err := s.Engine.Validate(ctx, sched.CompanyID, period)
			if err != nil {
				s.Logger.Error("scheduled validation failed", "companyId", sched.CompanyID, "err", err)
				summary.Failed++
				continue
			}
			if !v.CanClose {
				if existing == periodDrafted {
					summary.Skipped++
					continue
				}
				s.Logger.Warn("scheduled closing blocked by validation",
					"companyId", sched.CompanyID, "period", period.String(),
					"criticalErrors", len(v.CriticalErrors))
				summary.Blocked++
				continue
			}
		}

		record, err := s.Engine.Generate(ctx, GenerateRequest{
			CompanyID:   sched.CompanyID,
			Period:      period,
			Periodicity: sched.Periodicity,
			ActorID:     SchedulerActor,
		})
		if err != nil {
			s.Logger.Error("scheduled closing failed", "companyId", sched.CompanyID, "period", period.String(), "err", err)
			summary.Failed++
			continue
		}
		summary.Generated++
		s.Logger.Info("scheduled closing generated",
			"companyId", sched.CompanyID, "closingId", record.ID, "status", record.Status)
	}

	if summary != (RunSummary{}) {
		s.Logger.Info("closing scheduler check completed",
			"generated", summary.Generated, "skipped", summary.Skipped,
			"blocked", summary.Blocked, "failed", summary.Failed)
	}
	return summary, nil
}

type periodStatus int

const (
	periodOpen periodStatus = iota
	periodDrafted
	periodClosed
)

// periodState reports the furthest status reached by the period's records.
// Cancelled records are ignored.
func (s *Scheduler) periodState(ctx context.Context, companyID string, period timeclock.Period) (periodStatus, error) {
	records, err := s.Engine.List(ctx, companyID, previousLookback)
	if err != nil {
		return periodOpen, err
	}
	state := periodOpen
	for _, r := range records {
		if r.Status == Cancelled {
			continue
		}
		if !r.PeriodStart.Equal(period.Start) || !r.PeriodEnd.Equal(period.End) {
			continue
		}
		if r.Status != Draft {
			return periodClosed, nil
		}
		state = periodDrafted
	}
	return state, nil
}

// NextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return s.Clock.Now().Add(s.CheckInterval)
}
