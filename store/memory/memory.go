// Package memory provides an in-memory implementation of every store
// interface (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	workers     map[string]timeclock.Worker
	punches     map[string][]timeclock.Punch // worker -> punches by OccurredAt
	punchOwner  map[string]string            // punch -> worker
	corrections map[string][]timeclock.Correction
	attempts    []timeclock.RejectedAttempt
	exceptions  []ledger.Exception
	payments    []ledger.Payment
	closings    map[string]closing.Record
	sequences   map[string]int64
	schedules   map[string]closing.Schedule
}

func New() *Store {
	return &Store{
		workers:     make(map[string]timeclock.Worker),
		punches:     make(map[string][]timeclock.Punch),
		punchOwner:  make(map[string]string),
		corrections: make(map[string][]timeclock.Correction),
		closings:    make(map[string]closing.Record),
		sequences:   make(map[string]int64),
		schedules:   make(map[string]closing.Schedule),
	}
}

// =============================================================================
// WORKERS
// =============================================================================

func (s *Store) SaveWorker(_ context.Context, w timeclock.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
	return nil
}

func (s *Store) GetWorker(_ context.Context, id string) (*timeclock.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrWorkerNotFound, id)
	}
	return &w, nil
}

func (s *Store) ListActiveWorkers(_ context.Context, companyID string) ([]timeclock.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []timeclock.Worker{}
	for _, w := range s.workers {
		if w.CompanyID == companyID && w.Active {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PUNCHES
// =============================================================================

// AppendPunch keeps each worker's punches sorted by OccurredAt.
func (s *Store) AppendPunch(_ context.Context, p timeclock.Punch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.punchOwner[p.ID]; exists {
		return fmt.Errorf("punch %s already exists", p.ID)
	}
	s.insertPunchLocked(p)
	s.punchOwner[p.ID] = p.WorkerID
	return nil
}

func (s *Store) insertPunchLocked(p timeclock.Punch) {
	list := s.punches[p.WorkerID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].OccurredAt.After(p.OccurredAt)
	})
	list = append(list, timeclock.Punch{})
	copy(list[i+1:], list[i:])
	list[i] = p
	s.punches[p.WorkerID] = list
}

func (s *Store) GetPunch(_ context.Context, id string) (*timeclock.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, _, ok := s.findPunchLocked(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrPunchNotFound, id)
	}
	return &p, nil
}

func (s *Store) findPunchLocked(id string) (timeclock.Punch, int, bool) {
	workerID, ok := s.punchOwner[id]
	if !ok {
		return timeclock.Punch{}, -1, false
	}
	for i, p := range s.punches[workerID] {
		if p.ID == id {
			return p, i, true
		}
	}
	return timeclock.Punch{}, -1, false
}

func (s *Store) ListPunchesForWorkerOnDate(ctx context.Context, workerID string, day timeclock.Day) ([]timeclock.Punch, error) {
	return s.ListPunchesForWorkerInRange(ctx, workerID, day.Start(), day.End())
}

func (s *Store) ListPunchesForWorkerInRange(_ context.Context, workerID string, from, to time.Time) ([]timeclock.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []timeclock.Punch{}
	for _, p := range s.punches[workerID] {
		if !p.OccurredAt.Before(from) && p.OccurredAt.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ApplyCorrection rewrites the punch and records the correction together.
func (s *Store) ApplyCorrection(_ context.Context, c timeclock.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, i, ok := s.findPunchLocked(c.OriginalPunchID)
	if !ok {
		return fmt.Errorf("%w: %s", timeclock.ErrPunchNotFound, c.OriginalPunchID)
	}

	list := s.punches[p.WorkerID]
	s.punches[p.WorkerID] = append(list[:i:i], list[i+1:]...)
	s.insertPunchLocked(c.Apply(p))
	s.corrections[p.ID] = append(s.corrections[p.ID], c)
	return nil
}

func (s *Store) ListCorrectionsForPunch(_ context.Context, punchID string) ([]timeclock.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]timeclock.Correction{}, s.corrections[punchID]...), nil
}

// =============================================================================
// REJECTED ATTEMPTS
// =============================================================================

func (s *Store) AppendRejectedAttempt(_ context.Context, a timeclock.RejectedAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *Store) ListRejectedAttempts(_ context.Context, companyID string, from, to time.Time) ([]timeclock.RejectedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []timeclock.RejectedAttempt{}
	for _, a := range s.attempts {
		if a.CompanyID == companyID && !a.AttemptedAt.Before(from) && a.AttemptedAt.Before(to) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

// =============================================================================
// EXCEPTIONS AND PAYMENTS
// =============================================================================

func (s *Store) AppendException(_ context.Context, e ledger.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, e)
	return nil
}

func (s *Store) ListExceptionsForWorkerInRange(_ context.Context, workerID string, period timeclock.Period) ([]ledger.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ledger.Exception{}
	for _, e := range s.exceptions {
		if e.WorkerID == workerID && period.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListExceptionsForCompanyInRange(_ context.Context, companyID string, period timeclock.Period) ([]ledger.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ledger.Exception{}
	for _, e := range s.exceptions {
		if e.CompanyID == companyID && period.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) AppendPayment(_ context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, p)
	return nil
}

func (s *Store) ListPaymentsForWorkerInRange(_ context.Context, workerID string, period timeclock.Period) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ledger.Payment{}
	for _, p := range s.payments {
		if p.WorkerID == workerID && period.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListPaymentsForCompanyInRange(_ context.Context, companyID string, period timeclock.Period) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ledger.Payment{}
	for _, p := range s.payments {
		if p.CompanyID == companyID && period.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (s *Store) NextClosingSequence(_ context.Context, companyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[companyID]++
	return s.sequences[companyID], nil
}

func (s *Store) CountClosingsForCompany(_ context.Context, companyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.closings {
		if r.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendClosing(_ context.Context, r closing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendClosingLocked(r)
}

func (s *Store) appendClosingLocked(r closing.Record) error {
	if _, exists := s.closings[r.ID]; exists {
		return fmt.Errorf("closing %s already exists", r.ID)
	}
	s.closings[r.ID] = cloneRecord(r)
	return nil
}

// cloneRecord copies every slice and pointer so callers never share memory
// with a stored record.
func cloneRecord(r closing.Record) closing.Record {
	if r.PerWorker != nil {
		lines := make([]closing.WorkerLine, len(r.PerWorker))
		for i, l := range r.PerWorker {
			if l.Days != nil {
				l.Days = append([]closing.DailyOutcome{}, l.Days...)
			}
			lines[i] = l
		}
		r.PerWorker = lines
	}
	if r.Insights != nil {
		insights := make([]closing.Insight, len(r.Insights))
		for i, in := range r.Insights {
			if in.Percentage != nil {
				pct := *in.Percentage
				in.Percentage = &pct
			}
			insights[i] = in
		}
		r.Insights = insights
	}
	r.Validation.CriticalErrors = cloneIssues(r.Validation.CriticalErrors)
	r.Validation.Warnings = cloneIssues(r.Validation.Warnings)
	if r.Adjustments != nil {
		r.Adjustments = append([]closing.Adjustment{}, r.Adjustments...)
	}
	if r.CancelledAt != nil {
		at := *r.CancelledAt
		r.CancelledAt = &at
	}
	return r
}

func cloneIssues(issues []closing.Issue) []closing.Issue {
	if issues == nil {
		return nil
	}
	out := make([]closing.Issue, len(issues))
	for i, is := range issues {
		if is.Date != nil {
			d := *is.Date
			is.Date = &d
		}
		out[i] = is
	}
	return out
}

func (s *Store) GetClosing(_ context.Context, id string) (*closing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.closings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", closing.ErrClosingNotFound, id)
	}
	r = cloneRecord(r)
	return &r, nil
}

func (s *Store) ListClosingsForCompany(_ context.Context, companyID string, limit int) ([]closing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []closing.Record{}
	for _, r := range s.closings {
		if r.CompanyID == companyID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber > out[j].SequenceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SupersedeClosing(_ context.Context, previousID string, successor closing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.closings[previousID]
	if !ok {
		return fmt.Errorf("%w: %s", closing.ErrClosingNotFound, previousID)
	}
	if prev.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: previousID, From: prev.Status, To: closing.Adjusted}
	}
	if err := s.appendClosingLocked(successor); err != nil {
		return err
	}
	prev.Status = closing.Adjusted
	prev.SupersededBy = successor.ID
	s.closings[previousID] = prev
	return nil
}

func (s *Store) CancelClosing(_ context.Context, id, by, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.closings[id]
	if !ok {
		return fmt.Errorf("%w: %s", closing.ErrClosingNotFound, id)
	}
	if r.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: id, From: r.Status, To: closing.Cancelled}
	}
	r.Status = closing.Cancelled
	r.CancelledAt = &at
	r.CancelledBy = by
	r.CancelReason = reason
	s.closings[id] = r
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Store) SaveSchedule(_ context.Context, sched closing.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.CompanyID] = sched
	return nil
}

func (s *Store) ListSchedules(_ context.Context) ([]closing.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]closing.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}
