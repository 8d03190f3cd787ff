/*
exception.go - Exception ledger: manual overrides of a worker's day

PURPOSE:
  Records absences, half days, lateness, early departures and overtime
  approved by a supervisor, each with a signed financial impact.

APPEND-ONLY:
  Exceptions are never edited or removed. Several exceptions may exist
  for the same worker and date; nothing is rejected for overlapping.

PRECEDENCE (read time):
  When a day carries more than one exception, pay follows Governing():
    1. the earliest-recorded absence
    2. else the earliest-recorded half day
    3. else the day's punches
  Lateness, early departure and overtime never change how a day is
  classified; their impact is added to the worker's total instead.

ORDERING:
  ListForWorker and ListForCompany return the newest date first; on the
  same date, the newest recorded first.

SEE ALSO:
  - payment.go: Payment ledger
  - wages/calculator.go: Applies the governing exception
  - closing/validate.go: Warns about conflicting absence + half day
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// EXCEPTION TYPES
// =============================================================================

type ExceptionKind string

const (
	Absence        ExceptionKind = "absence"
	HalfDay        ExceptionKind = "half_day"
	Lateness       ExceptionKind = "lateness"
	EarlyDeparture ExceptionKind = "early_departure"
	Overtime       ExceptionKind = "overtime"
)

func (k ExceptionKind) Valid() bool {
	switch k {
	case Absence, HalfDay, Lateness, EarlyDeparture, Overtime:
		return true
	}
	return false
}

// GovernsPay reports whether the kind replaces the day's punch-derived pay.
func (k ExceptionKind) GovernsPay() bool {
	return k == Absence || k == HalfDay
}

// Exception is a manual override for one worker on one date.
type Exception struct {
	ID                        string        `json:"id"`
	WorkerID                  string        `json:"workerId"`
	CompanyID                 string        `json:"companyId"`
	Date                      timeclock.Day `json:"date"`
	Kind                      ExceptionKind `json:"kind"`
	Reason                    string        `json:"reason"`
	Justification             string        `json:"justification,omitempty"`
	ApprovedBy                string        `json:"approvedBy"`
	FinancialImpactMinorUnits int64         `json:"financialImpactMinorUnits"`
	Timestamp                 time.Time     `json:"timestamp"`
}

// =============================================================================
// EXCEPTION LEDGER
// =============================================================================

type ExceptionLedger struct {
	store  ExceptionStore
	clock  timeclock.Clock
	newID  func() string
	logger *slog.Logger
}

func NewExceptionLedger(store ExceptionStore, clock timeclock.Clock, logger *slog.Logger) *ExceptionLedger {
	if clock == nil {
		clock = timeclock.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExceptionLedger{store: store, clock: clock, newID: timeclock.NewID, logger: logger}
}

// ExceptionInput is what an approver submits.
type ExceptionInput struct {
	WorkerID                  string
	CompanyID                 string
	Date                      timeclock.Day
	Kind                      ExceptionKind
	Reason                    string
	Justification             string
	ApprovedBy                string
	FinancialImpactMinorUnits int64
}

func (in ExceptionInput) validate() error {
	switch {
	case in.WorkerID == "":
		return fmt.Errorf("%w: worker id is required", ErrInvalidException)
	case in.CompanyID == "":
		return fmt.Errorf("%w: company id is required", ErrInvalidException)
	case in.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidException)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidException, in.Kind)
	case in.Reason == "":
		return fmt.Errorf("%w: a reason is required", ErrInvalidException)
	case in.ApprovedBy == "":
		return fmt.Errorf("%w: approved by is required", ErrInvalidException)
	}
	return nil
}

// Record appends an exception and returns its ID.
func (l *ExceptionLedger) Record(ctx context.Context, in ExceptionInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	e := Exception{
		ID:                        l.newID(),
		WorkerID:                  in.WorkerID,
		CompanyID:                 in.CompanyID,
		Date:                      in.Date,
		Kind:                      in.Kind,
		Reason:                    in.Reason,
		Justification:             in.Justification,
		ApprovedBy:                in.ApprovedBy,
		FinancialImpactMinorUnits: in.FinancialImpactMinorUnits,
		Timestamp:                 l.clock.Now(),
	}
	if err := l.store.AppendException(ctx, e); err != nil {
		return "", fmt.Errorf("failed to append exception: %w", err)
	}

	l.logger.Info("exception recorded",
		"exceptionId", e.ID, "workerId", e.WorkerID, "date", e.Date.String(),
		"kind", e.Kind, "impact", e.FinancialImpactMinorUnits)
	return e.ID, nil
}

// ListForWorker returns the worker's exceptions in the period, newest date first.
func (l *ExceptionLedger) ListForWorker(ctx context.Context, workerID string, period timeclock.Period) ([]Exception, error) {
	list, err := l.store.ListExceptionsForWorkerInRange(ctx, workerID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	SortNewestFirst(list)
	return list, nil
}

// ListForCompany returns the company's exceptions in the period, newest date first.
func (l *ExceptionLedger) ListForCompany(ctx context.Context, companyID string, period timeclock.Period) ([]Exception, error) {
	list, err := l.store.ListExceptionsForCompanyInRange(ctx, companyID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	SortNewestFirst(list)
	return list, nil
}

// SortNewestFirst orders by date descending, then timestamp descending.
func SortNewestFirst(list []Exception) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
}

// =============================================================================
// PRECEDENCE
// =============================================================================

// Governing returns the exception that decides a day's pay: the
// earliest-recorded absence, else the earliest-recorded half day, else nil.
// All exceptions passed in must belong to the same worker and date.
func Governing(list []Exception) *Exception {
	var absence, halfDay *Exception
	for i := range list {
		e := &list[i]
		switch e.Kind {
		case Absence:
			if absence == nil || e.Timestamp.Before(absence.Timestamp) {
				absence = e
			}
		case HalfDay:
			if halfDay == nil || e.Timestamp.Before(halfDay.Timestamp) {
				halfDay = e
			}
		}
	}
	if absence != nil {
		return absence
	}
	return halfDay
}

// Conflicting reports whether the day holds both an absence and a half day.
func Conflicting(list []Exception) bool {
	var absence, halfDay bool
	for _, e := range list {
		switch e.Kind {
		case Absence:
			absence = true
		case HalfDay:
			halfDay = true
		}
	}
	return absence && halfDay
}

// AdjustmentTotal sums the impact of exceptions that do not govern pay.
func AdjustmentTotal(list []Exception) int64 {
	var total int64
	for _, e := range list {
		if !e.Kind.GovernsPay() {
			total += e.FinancialImpactMinorUnits
		}
	}
	return total
}
