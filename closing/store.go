/*
store.go - Persistence interfaces for closings and closing schedules

APPEND-ONLY CONTRACT:
  A closing's content (lines, totals, insights, validation, hash) is
  written once by AppendClosing. The only later writes are status moves:
  - SupersedeClosing(): closed -> adjusted, inserting the successor in the
    same atomic step
  - CancelClosing():    closed -> cancelled

SEQUENCE NUMBERS:
  NextClosingSequence() is an atomic per-company increment. It is the
  only source of SequenceNumber; counting existing rows races.

SEE ALSO:
  - engine.go: Uses Store
  - scheduler.go: Uses ScheduleStore
*/
package closing

import (
	"context"
	"time"
)

type Store interface {
	// NextClosingSequence atomically increments and returns the company's counter.
	NextClosingSequence(ctx context.Context, companyID string) (int64, error)

	// CountClosingsForCompany returns how many closings exist.
	CountClosingsForCompany(ctx context.Context, companyID string) (int, error)

	// AppendClosing persists a new record.
	AppendClosing(ctx context.Context, r Record) error

	// GetClosing returns ErrClosingNotFound when the ID is unknown.
	GetClosing(ctx context.Context, id string) (*Record, error)

	// ListClosingsForCompany returns records newest sequence first; limit <= 0 means all.
	ListClosingsForCompany(ctx context.Context, companyID string, limit int) ([]Record, error)

	// SupersedeClosing appends successor and marks previousID adjusted.
	// Fails with ErrInvalidTransition unless previousID is closed.
	SupersedeClosing(ctx context.Context, previousID string, successor Record) error

	// CancelClosing marks a closed record cancelled.
	// Fails with ErrInvalidTransition unless the record is closed.
	CancelClosing(ctx context.Context, id, by, reason string, at time.Time) error
}

// ScheduleStore persists one closing schedule per company.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s Schedule) error
	ListSchedules(ctx context.Context) ([]Schedule, error)
}
