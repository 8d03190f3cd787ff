/*
engine.go - Payroll closing: validate, consolidate, seal

PURPOSE:
  Turns a company's punches, exceptions and payments for a period into a
  sequentially numbered closing record with per-worker lines, totals,
  insights and an integrity hash.

GENERATE FLOW:
  1. Snapshot every read for the period once (roster, punches,
     exceptions, payments, previous closed record)
  2. Validate from the snapshot
  3. Consolidate every worker in parallel
  4. Aggregate totals and derive insights
  5. Take the next sequence number and hash the financial content
  6. Persist as closed when validation allows it, draft otherwise

LIFECYCLE:
  draft -> closed            by generating again once the data is fixed
  closed -> adjusted         Adjust(): a new closed record supersedes it
  closed -> cancelled        Cancel()

  A closed record's lines and totals never change. Corrections always
  produce a new record linked through an Adjustment.

SEE ALSO:
  - snapshot.go: Concurrent loading
  - validate.go: Critical errors and warnings
  - consolidate.go: Per-worker lines
  - insights.go: Anomaly rules
  - hash.go: Integrity checksum
*/
package closing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
	"github.com/warp/attendance-engine/wages"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel store reads and consolidation.
const DefaultConcurrency = 8

// Deps are the collaborators the engine reads from and writes to.
type Deps struct {
	Roster     timeclock.WorkerRoster
	Punches    timeclock.PunchStore
	Exceptions ledger.ExceptionStore
	Payments   ledger.PaymentStore
	Closings   Store
}

type Engine struct {
	roster      timeclock.WorkerRoster
	punches     timeclock.PunchStore
	exceptions  ledger.ExceptionStore
	payments    ledger.PaymentStore
	closings    Store
	calc        *wages.Calculator
	clock       timeclock.Clock
	loc         *time.Location
	newID       func() string
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
}

type Option func(*Engine)

func WithCalculator(c *wages.Calculator) Option { return func(e *Engine) { e.calc = c } }
func WithClock(c timeclock.Clock) Option        { return func(e *Engine) { e.clock = c } }
func WithLocation(loc *time.Location) Option    { return func(e *Engine) { e.loc = loc } }
func WithLogger(l *slog.Logger) Option          { return func(e *Engine) { e.logger = l } }
func WithIDGenerator(f func() string) Option    { return func(e *Engine) { e.newID = f } }
func WithTracer(t trace.Tracer) Option          { return func(e *Engine) { e.tracer = t } }

// WithConcurrency sets how many workers are loaded and consolidated at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		roster:      deps.Roster,
		punches:     deps.Punches,
		exceptions:  deps.Exceptions,
		payments:    deps.Payments,
		closings:    deps.Closings,
		calc:        wages.NewCalculator(),
		clock:       timeclock.SystemClock{},
		loc:         time.UTC,
		newID:       timeclock.NewID,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/warp/attendance-engine/closing"),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// REQUESTS
// =============================================================================

type GenerateRequest struct {
	CompanyID    string
	Period       timeclock.Period
	Periodicity  timeclock.Periodicity
	ActorID      string
	ManualReason string
}

func (r GenerateRequest) validate() error {
	if err := validatePeriod(r.CompanyID, r.Period); err != nil {
		return err
	}
	if !r.Periodicity.Valid() {
		return fmt.Errorf("%w: unknown periodicity %q", ErrInvalidRequest, r.Periodicity)
	}
	if r.ActorID == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidRequest)
	}
	return nil
}

func validatePeriod(companyID string, period timeclock.Period) error {
	if companyID == "" {
		return fmt.Errorf("%w: company id is required", ErrInvalidRequest)
	}
	if period.Start.IsZero() || period.End.IsZero() {
		return fmt.Errorf("%w: period start and end are required", ErrInvalidRequest)
	}
	if period.End.Before(period.Start) {
		return fmt.Errorf("%w: period ends before it starts", timeclock.ErrInvalidDateRange)
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Validate checks whether the period can be closed for every active worker.
func (e *Engine) Validate(ctx context.Context, companyID string, period timeclock.Period) (*Validation, error) {
	if err := validatePeriod(companyID, period); err != nil {
		return nil, err
	}
	snap, err := e.loadSnapshot(ctx, companyID, period.In(e.loc), nil, false)
	if err != nil {
		return nil, err
	}
	v := validateSnapshot(snap)
	return &v, nil
}

// ConsolidateWorker computes one worker's line for the period.
func (e *Engine) ConsolidateWorker(ctx context.Context, worker timeclock.Worker, companyID string, period timeclock.Period) (*WorkerLine, error) {
	if err := validatePeriod(companyID, period); err != nil {
		return nil, err
	}
	snap, err := e.loadSnapshot(ctx, companyID, period.In(e.loc), []timeclock.Worker{worker}, false)
	if err != nil {
		return nil, err
	}
	line := e.consolidate(worker, snap)
	return &line, nil
}

// Preview builds a record without numbering or persisting it.
func (e *Engine) Preview(ctx context.Context, req GenerateRequest) (*Record, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return e.build(ctx, req, nil)
}

// Generate builds, numbers and persists a closing. The record is closed
// when validation passes and draft otherwise; validation failures are data
// on the record, not errors.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*Record, error) {
	ctx, span := e.tracer.Start(ctx, "closing.Generate", trace.WithAttributes(
		attribute.String("company.id", req.CompanyID),
		attribute.String("period", req.Period.String()),
	))
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	record, err := e.build(ctx, req, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	seq, err := e.closings.NextClosingSequence(ctx, req.CompanyID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to allocate sequence number: %w", err)
	}
	record.SequenceNumber = seq

	if err := e.closings.AppendClosing(ctx, *record); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save closing: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("closing.sequence", seq),
		attribute.String("closing.status", string(record.Status)),
	)
	e.logger.Info("closing generated",
		"closingId", record.ID, "companyId", record.CompanyID, "sequence", seq,
		"status", record.Status, "workers", record.Totals.Workers,
		"totalCost", record.Totals.TotalCostMinorUnits,
		"criticalErrors", len(record.Validation.CriticalErrors))

	return record, nil
}

// Adjust replaces a closed record with a freshly generated one for the same
// period. When the new record can close it supersedes the original in one
// step; otherwise the draft is saved and the original stays closed.
func (e *Engine) Adjust(ctx context.Context, closingID, actorID, reason string) (*Record, error) {
	if actorID == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required to adjust", ErrInvalidRequest)
	}

	original, err := e.closings.GetClosing(ctx, closingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(original.Status, Adjusted) {
		return nil, &TransitionError{ClosingID: closingID, From: original.Status, To: Adjusted}
	}
	if err := VerifyRecord(original); err != nil {
		e.logger.Error("closing failed integrity check", "closingId", closingID, "err", err)
		return nil, err
	}

	req := GenerateRequest{
		CompanyID:    original.CompanyID,
		Period:       original.Period(),
		Periodicity:  original.Periodicity,
		ActorID:      actorID,
		ManualReason: reason,
	}
	successor, err := e.build(ctx, req, original)
	if err != nil {
		return nil, err
	}

	seq, err := e.closings.NextClosingSequence(ctx, original.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence number: %w", err)
	}
	successor.SequenceNumber = seq
	successor.Adjustments = append(successor.Adjustments, Adjustment{
		At:                          successor.GeneratedAt,
		By:                          actorID,
		Reason:                      reason,
		PreviousClosingID:           original.ID,
		NewClosingID:                successor.ID,
		PreviousTotalCostMinorUnits: original.Totals.TotalCostMinorUnits,
		NewTotalCostMinorUnits:      successor.Totals.TotalCostMinorUnits,
	})

	if successor.Status != Closed {
		if err := e.closings.AppendClosing(ctx, *successor); err != nil {
			return nil, fmt.Errorf("failed to save closing: %w", err)
		}
		e.logger.Warn("adjustment left as draft",
			"closingId", successor.ID, "previousId", original.ID,
			"criticalErrors", len(successor.Validation.CriticalErrors))
		return successor, nil
	}

	if err := e.closings.SupersedeClosing(ctx, original.ID, *successor); err != nil {
		return nil, fmt.Errorf("failed to supersede closing: %w", err)
	}
	e.logger.Info("closing adjusted",
		"closingId", successor.ID, "previousId", original.ID, "by", actorID,
		"previousCost", original.Totals.TotalCostMinorUnits,
		"newCost", successor.Totals.TotalCostMinorUnits)

	return successor, nil
}

// Cancel voids a closed record.
func (e *Engine) Cancel(ctx context.Context, closingID, actorID, reason string) (*Record, error) {
	if actorID == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required to cancel", ErrInvalidRequest)
	}

	record, err := e.closings.GetClosing(ctx, closingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(record.Status, Cancelled) {
		return nil, &TransitionError{ClosingID: closingID, From: record.Status, To: Cancelled}
	}

	if err := e.closings.CancelClosing(ctx, closingID, actorID, reason, e.clock.Now()); err != nil {
		return nil, fmt.Errorf("failed to cancel closing: %w", err)
	}
	e.logger.Info("closing cancelled", "closingId", closingID, "by", actorID)

	return e.closings.GetClosing(ctx, closingID)
}

// Verify reloads a record and checks its integrity hash.
func (e *Engine) Verify(ctx context.Context, closingID string) (*Record, error) {
	record, err := e.closings.GetClosing(ctx, closingID)
	if err != nil {
		return nil, err
	}
	if err := VerifyRecord(record); err != nil {
		return record, err
	}
	return record, nil
}

func (e *Engine) Get(ctx context.Context, closingID string) (*Record, error) {
	return e.closings.GetClosing(ctx, closingID)
}

func (e *Engine) List(ctx context.Context, companyID string, limit int) ([]Record, error) {
	return e.closings.ListClosingsForCompany(ctx, companyID, limit)
}

// =============================================================================
// BUILD
// =============================================================================

// build runs the generate flow up to persistence. previous overrides the
// record used for cost variance; nil loads the newest closed record.
func (e *Engine) build(ctx context.Context, req GenerateRequest, previous *Record) (*Record, error) {
	period := req.Period.In(e.loc)

	snap, err := e.loadSnapshot(ctx, req.CompanyID, period, nil, previous == nil)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		snap.previous = previous
	}

	validation := validateSnapshot(snap)

	lines := make([]WorkerLine, len(snap.workers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, w := range snap.workers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lines[i] = e.consolidate(w, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := aggregate(lines)
	hash, err := IntegrityHash(lines, totals)
	if err != nil {
		return nil, err
	}

	status := Draft
	if validation.CanClose {
		status = Closed
	}

	return &Record{
		ID:            e.newID(),
		CompanyID:     req.CompanyID,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		Periodicity:   req.Periodicity,
		PerWorker:     lines,
		Totals:        totals,
		Insights:      GenerateInsights(lines, snap.previous),
		Validation:    validation,
		Status:        status,
		GeneratedAt:   e.clock.Now(),
		GeneratedBy:   req.ActorID,
		ManualReason:  req.ManualReason,
		Adjustments:   []Adjustment{},
		IntegrityHash: hash,
	}, nil
}
