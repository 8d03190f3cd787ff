/*
sequencer.go - Punch sequencing: the gate every attendance event passes

PURPOSE:
  Accepts or rejects one punch against the worker's punches for the day,
  and records corrections to punches already taken.

HARD RULES (reject, nothing persisted):
  - The punch must be the single legal next kind:
      clock_in -> lunch_out -> lunch_in -> clock_out
  - At least Rules.MinGap (30m) must have passed since the previous punch

SOFT RULES (advisories on success, never block):
  - Lunch shorter than MinLunch or longer than MaxLunch
  - Less than MinMorning worked before lunch
  - Shift longer than MaxShift
  - Clock-in at or after LateClockInHour (local time)
  - Punch outside the designated site's radius

CONCURRENCY:
  Submit and Correct hold a per-worker lock across load -> check -> append,
  so two near-simultaneous clock-ins cannot both pass. Different workers
  never contend.

SEE ALSO:
  - shift.go: State machine and transition table
  - geofence.go: Haversine distance
  - store.go: PunchStore, AttemptLog
*/
package timeclock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rules are the sequencing thresholds.
type Rules struct {
	MinGap          time.Duration
	MinLunch        time.Duration
	MaxLunch        time.Duration
	MinMorning      time.Duration
	MaxShift        time.Duration
	LateClockInHour int
}

// DefaultRules returns the standard thresholds.
func DefaultRules() Rules {
	return Rules{
		MinGap:          30 * time.Minute,
		MinLunch:        30 * time.Minute,
		MaxLunch:        2 * time.Hour,
		MinMorning:      2 * time.Hour,
		MaxShift:        12 * time.Hour,
		LateClockInHour: 12,
	}
}

// =============================================================================
// SEQUENCER
// =============================================================================

type Sequencer struct {
	punches  PunchStore
	attempts AttemptLog
	resolver LocationResolver
	clock    Clock
	loc      *time.Location
	rules    Rules
	newID    func() string
	logger   *slog.Logger
	tracer   trace.Tracer
	locks    *keyedMutex
}

type Option func(*Sequencer)

func WithClock(c Clock) Option               { return func(s *Sequencer) { s.clock = c } }
func WithLocation(loc *time.Location) Option { return func(s *Sequencer) { s.loc = loc } }
func WithRules(r Rules) Option               { return func(s *Sequencer) { s.rules = r } }
func WithAttemptLog(a AttemptLog) Option     { return func(s *Sequencer) { s.attempts = a } }
func WithResolver(r LocationResolver) Option { return func(s *Sequencer) { s.resolver = r } }
func WithLogger(l *slog.Logger) Option       { return func(s *Sequencer) { s.logger = l } }
func WithIDGenerator(f func() string) Option { return func(s *Sequencer) { s.newID = f } }
func WithTracer(t trace.Tracer) Option       { return func(s *Sequencer) { s.tracer = t } }

// NewSequencer creates a sequencer over the given punch store.
func NewSequencer(punches PunchStore, opts ...Option) *Sequencer {
	s := &Sequencer{
		punches: punches,
		clock:   SystemClock{},
		loc:     time.UTC,
		rules:   DefaultRules(),
		newID:   NewID,
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/warp/attendance-engine/timeclock"),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the zone that defines calendar days and local hours.
func (s *Sequencer) Location() *time.Location { return s.loc }

// =============================================================================
// SUBMIT
// =============================================================================

// PunchRequest is one attendance event as submitted by a worker.
type PunchRequest struct {
	WorkerID  string
	CompanyID string
	Kind      PunchKind
	Location  Location
	Site      *Site
}

func (r PunchRequest) validate() error {
	switch {
	case r.WorkerID == "":
		return fmt.Errorf("%w: worker id is required", ErrInvalidPunch)
	case r.CompanyID == "":
		return fmt.Errorf("%w: company id is required", ErrInvalidPunch)
	case !r.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPunch, r.Kind)
	case !r.Location.Coordinate().Valid():
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidPunch)
	case r.Site != nil && (!r.Site.Center.Valid() || r.Site.RadiusMeters <= 0):
		return fmt.Errorf("%w: site %q has no usable fence", ErrInvalidPunch, r.Site.ID)
	}
	return nil
}

// PunchResult is an accepted punch plus its advisories.
type PunchResult struct {
	Punch      Punch      `json:"punch"`
	Advisories []Advisory `json:"advisories"`
}

// Submit validates and records one punch at the clock's current time.
func (s *Sequencer) Submit(ctx context.Context, req PunchRequest) (*PunchResult, error) {
	ctx, span := s.tracer.Start(ctx, "timeclock.Submit", trace.WithAttributes(
		attribute.String("worker.id", req.WorkerID),
		attribute.String("punch.kind", string(req.Kind)),
	))
	defer span.End()

	if err := req.validate(); err != nil {
		s.recordRejection(ctx, req, s.clock.Now(), err)
		return nil, err
	}

	location := req.Location
	if location.ResolvedAddress == "" && s.resolver != nil {
		addr, err := s.resolver.ResolveAddress(ctx, location.Coordinate())
		if err != nil {
			s.logger.Warn("address lookup failed", "workerId", req.WorkerID, "err", err)
		} else {
			location.ResolvedAddress = addr
		}
	}

	unlock := s.locks.Lock(req.WorkerID)
	defer unlock()

	at := s.clock.Now()
	existing, err := s.punches.ListPunchesForWorkerOnDate(ctx, req.WorkerID, DayIn(at, s.loc))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load punches: %w", err)
	}

	advisories, err := s.Evaluate(existing, req.Kind, at, location, req.Site)
	if err != nil {
		span.SetAttributes(attribute.String("punch.rejected", RejectionCode(err)))
		s.recordRejection(ctx, req, at, err)
		return nil, err
	}

	punch := Punch{
		ID:         s.newID(),
		WorkerID:   req.WorkerID,
		CompanyID:  req.CompanyID,
		Kind:       req.Kind,
		OccurredAt: at,
		Location:   location,
	}
	if err := s.punches.AppendPunch(ctx, punch); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to append punch: %w", err)
	}

	s.logger.Info("punch recorded",
		"punchId", punch.ID, "workerId", punch.WorkerID, "kind", punch.Kind,
		"advisories", len(advisories))

	return &PunchResult{Punch: punch, Advisories: advisories}, nil
}

// Evaluate applies the hard and soft rules to a candidate punch. It has no
// side effects; existing must hold the worker's punches for the same day.
func (s *Sequencer) Evaluate(existing []Punch, kind PunchKind, at time.Time, location Location, site *Site) ([]Advisory, error) {
	if !ValidTransition(ShiftStateOf(existing), kind) {
		expected, open := NextKind(existing)
		if !open {
			return nil, &SequenceError{Got: kind, ShiftClosed: true}
		}
		return nil, &SequenceError{Got: kind, Expected: expected}
	}

	if last, ok := LastPunch(existing); ok {
		if gap := at.Sub(last.OccurredAt); gap < s.rules.MinGap {
			return nil, &TooSoonError{Previous: last.Kind, Remaining: s.rules.MinGap - gap}
		}
	}

	return s.advise(existing, kind, at, location, site), nil
}

func (s *Sequencer) advise(existing []Punch, kind PunchKind, at time.Time, location Location, site *Site) []Advisory {
	var out []Advisory

	switch kind {
	case ClockIn:
		local := at.In(s.loc)
		if local.Hour() >= s.rules.LateClockInHour {
			out = append(out, Advisory{
				Kind:    AdvisoryLateClockIn,
				Message: fmt.Sprintf("clock-in at %s is after %02d:00", local.Format("15:04"), s.rules.LateClockInHour),
			})
		}
	case LunchOut:
		if in, ok := FirstOfKind(existing, ClockIn); ok {
			if worked := at.Sub(in.OccurredAt); worked < s.rules.MinMorning {
				out = append(out, Advisory{
					Kind:    AdvisoryShortMorning,
					Message: fmt.Sprintf("only %s worked before lunch (minimum %s)", formatDuration(worked), formatDuration(s.rules.MinMorning)),
				})
			}
		}
	case LunchIn:
		if lunchOut, ok := FirstOfKind(existing, LunchOut); ok {
			lunch := at.Sub(lunchOut.OccurredAt)
			switch {
			case lunch < s.rules.MinLunch:
				out = append(out, Advisory{
					Kind:    AdvisoryShortLunch,
					Message: fmt.Sprintf("lunch lasted %s (minimum %s)", formatDuration(lunch), formatDuration(s.rules.MinLunch)),
				})
			case lunch > s.rules.MaxLunch:
				out = append(out, Advisory{
					Kind:    AdvisoryLongLunch,
					Message: fmt.Sprintf("lunch lasted %s (maximum %s)", formatDuration(lunch), formatDuration(s.rules.MaxLunch)),
				})
			}
		}
	case ClockOut:
		if in, ok := FirstOfKind(existing, ClockIn); ok {
			if shift := at.Sub(in.OccurredAt); shift > s.rules.MaxShift {
				out = append(out, Advisory{
					Kind:    AdvisoryLongShift,
					Message: fmt.Sprintf("shift lasted %s (maximum %s)", formatDuration(shift), formatDuration(s.rules.MaxShift)),
				})
			}
		}
	}

	if site != nil {
		if dist := DistanceMeters(location.Coordinate(), site.Center); dist > site.RadiusMeters {
			out = append(out, Advisory{
				Kind:    AdvisoryOutsideFence,
				Message: fmt.Sprintf("punch taken %.0fm from %s (allowed %.0fm)", dist, siteName(site), site.RadiusMeters),
			})
		}
	}

	return out
}

func (s *Sequencer) recordRejection(ctx context.Context, req PunchRequest, at time.Time, cause error) {
	s.logger.Debug("punch rejected", "workerId", req.WorkerID, "kind", req.Kind, "reason", cause.Error())
	if s.attempts == nil {
		return
	}
	attempt := RejectedAttempt{
		ID:          s.newID(),
		WorkerID:    req.WorkerID,
		CompanyID:   req.CompanyID,
		Kind:        req.Kind,
		AttemptedAt: at,
		Location:    req.Location,
		Code:        RejectionCode(cause),
		Reason:      cause.Error(),
	}
	if err := s.attempts.AppendRejectedAttempt(ctx, attempt); err != nil {
		s.logger.Warn("rejected attempt not recorded", "workerId", req.WorkerID, "err", err)
	}
}

// RejectionCode is the stable code for a rejection error.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrSequenceViolation):
		return "sequence_violation"
	case errors.Is(err, ErrTooSoon):
		return "too_soon"
	case errors.Is(err, ErrInvalidPunch):
		return "invalid_punch"
	default:
		return "rejected"
	}
}

// =============================================================================
// NEXT ALLOWED PUNCH
// =============================================================================

// NextPunch tells a worker what they may punch next and from when.
type NextPunch struct {
	Kind        PunchKind  `json:"kind,omitempty"`
	AllowedAt   time.Time  `json:"allowedAt"`
	ShiftClosed bool       `json:"shiftClosed"`
	State       ShiftState `json:"state"`
}

// Next reports the worker's next legal punch for today.
func (s *Sequencer) Next(ctx context.Context, workerID string) (*NextPunch, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidPunch)
	}
	now := s.clock.Now()
	existing, err := s.punches.ListPunchesForWorkerOnDate(ctx, workerID, DayIn(now, s.loc))
	if err != nil {
		return nil, fmt.Errorf("failed to load punches: %w", err)
	}

	next := &NextPunch{State: ShiftStateOf(existing), AllowedAt: now}
	kind, open := NextKind(existing)
	if !open {
		next.ShiftClosed = true
		return next, nil
	}
	next.Kind = kind
	if last, ok := LastPunch(existing); ok {
		if earliest := last.OccurredAt.Add(s.rules.MinGap); earliest.After(now) {
			next.AllowedAt = earliest
		}
	}
	return next, nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// CorrectionRequest rewrites one punch's kind and time.
type CorrectionRequest struct {
	PunchID     string
	Kind        PunchKind
	OccurredAt  time.Time
	Reason      string
	CorrectedBy string
}

func (r CorrectionRequest) validate() error {
	switch {
	case r.PunchID == "":
		return fmt.Errorf("%w: punch id is required", ErrInvalidPunch)
	case !r.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPunch, r.Kind)
	case r.OccurredAt.IsZero():
		return fmt.Errorf("%w: corrected time is required", ErrInvalidPunch)
	case r.Reason == "":
		return fmt.Errorf("%w: a reason is required", ErrInvalidPunch)
	case r.CorrectedBy == "":
		return fmt.Errorf("%w: corrected by is required", ErrInvalidPunch)
	}
	return nil
}

// Correct stores a Correction and returns the rewritten punch.
func (s *Sequencer) Correct(ctx context.Context, req CorrectionRequest) (*Punch, *Correction, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}

	original, err := s.punches.GetPunch(ctx, req.PunchID)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.locks.Lock(original.WorkerID)
	defer unlock()

	// Re-read under the lock; a concurrent correction may have landed.
	original, err = s.punches.GetPunch(ctx, req.PunchID)
	if err != nil {
		return nil, nil, err
	}

	correction := Correction{
		ID:              s.newID(),
		OriginalPunchID: original.ID,
		WorkerID:        original.WorkerID,
		CompanyID:       original.CompanyID,
		OriginalKind:    original.Kind,
		OriginalTime:    original.OccurredAt,
		CorrectedKind:   req.Kind,
		CorrectedTime:   req.OccurredAt,
		Reason:          req.Reason,
		CorrectedBy:     req.CorrectedBy,
		Timestamp:       s.clock.Now(),
	}
	if err := s.punches.ApplyCorrection(ctx, correction); err != nil {
		return nil, nil, fmt.Errorf("failed to apply correction: %w", err)
	}

	updated := correction.Apply(*original)
	s.logger.Info("punch corrected",
		"punchId", original.ID, "workerId", original.WorkerID,
		"from", original.Kind, "to", req.Kind, "by", req.CorrectedBy)

	return &updated, &correction, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

func siteName(site *Site) string {
	if site.Name != "" {
		return site.Name
	}
	if site.ID != "" {
		return site.ID
	}
	return "work site"
}
