/*
store.go - Persistence interfaces for punches, corrections and workers

PURPOSE:
  Defines what the sequencer and the closing engine need from the
  database. Implementations live in store/memory, store/sqlite and
  store/postgres; each one implements every interface in this file.

APPEND-ONLY CONTRACT:
  - AppendPunch() is the only way a punch comes into existence
  - ApplyCorrection() is the only way a punch changes, and it always
    writes the Correction audit row in the same atomic step
  - NO Delete() methods exist

ORDERING:
  Every List method returns punches ordered by OccurredAt ascending.

SEE ALSO:
  - sequencer.go: Uses PunchStore, AttemptLog
  - closing/engine.go: Uses PunchStore, WorkerRoster
*/
package timeclock

import (
	"context"
	"time"
)

// =============================================================================
// PUNCH STORE
// =============================================================================

type PunchStore interface {
	// AppendPunch persists a new punch.
	AppendPunch(ctx context.Context, p Punch) error

	// GetPunch returns ErrPunchNotFound when the ID is unknown.
	GetPunch(ctx context.Context, id string) (*Punch, error)

	// ListPunchesForWorkerOnDate returns the punches inside [day.Start, day.End).
	ListPunchesForWorkerOnDate(ctx context.Context, workerID string, day Day) ([]Punch, error)

	// ListPunchesForWorkerInRange returns the punches inside [from, to).
	ListPunchesForWorkerInRange(ctx context.Context, workerID string, from, to time.Time) ([]Punch, error)

	// ApplyCorrection stores the correction and rewrites the original punch
	// atomically.
	ApplyCorrection(ctx context.Context, c Correction) error

	// ListCorrectionsForPunch returns the correction history, oldest first.
	ListCorrectionsForPunch(ctx context.Context, punchID string) ([]Correction, error)
}

// AttemptLog records rejected punch submissions for audit.
type AttemptLog interface {
	AppendRejectedAttempt(ctx context.Context, a RejectedAttempt) error
	ListRejectedAttempts(ctx context.Context, companyID string, from, to time.Time) ([]RejectedAttempt, error)
}

// =============================================================================
// WORKERS
// =============================================================================

// WorkerRoster is the read side the closing engine consumes.
type WorkerRoster interface {
	// ListActiveWorkers returns non-terminated workers ordered by ID.
	ListActiveWorkers(ctx context.Context, companyID string) ([]Worker, error)

	// GetWorker returns ErrWorkerNotFound when the ID is unknown.
	GetWorker(ctx context.Context, id string) (*Worker, error)
}

// WorkerDirectory adds the write side used by the host application.
type WorkerDirectory interface {
	WorkerRoster
	SaveWorker(ctx context.Context, w Worker) error
}

// =============================================================================
// LOCATION RESOLVER
// =============================================================================

// LocationResolver turns coordinates into a human-readable address.
type LocationResolver interface {
	ResolveAddress(ctx context.Context, c Coordinate) (string, error)
}
