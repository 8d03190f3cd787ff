package closing

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
	"golang.org/x/sync/errgroup"
)

// snapshot is every read a closing needs, taken once at the start of a run.
// Validation, consolidation, insights and the hash all work from it, so they
// see one consistent view even while punches keep arriving.
type snapshot struct {
	companyID  string
	period     timeclock.Period
	workers    []timeclock.Worker
	punches    map[string]map[string][]timeclock.Punch  // worker -> day -> punches
	exceptions map[string]map[string][]ledger.Exception // worker -> day -> exceptions
	payments   map[string][]ledger.Payment              // worker -> payments
	previous   *Record
}

func (s *snapshot) dayPunches(workerID string, day timeclock.Day) []timeclock.Punch {
	return s.punches[workerID][day.String()]
}

func (s *snapshot) dayExceptions(workerID string, day timeclock.Day) []ledger.Exception {
	return s.exceptions[workerID][day.String()]
}

// loadSnapshot reads the period for the given workers. When workers is nil
// the active roster is loaded.
func (e *Engine) loadSnapshot(ctx context.Context, companyID string, period timeclock.Period, workers []timeclock.Worker, withPrevious bool) (*snapshot, error) {
	if workers == nil {
		active, err := e.roster.ListActiveWorkers(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to list workers: %w", err)
		}
		workers = active
	}
	for _, w := range workers {
		if w.ID == "" {
			return nil, fmt.Errorf("%w: worker without id in company %s", timeclock.ErrMalformedWorker, companyID)
		}
	}
	workers = append([]timeclock.Worker(nil), workers...)
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	snap := &snapshot{
		companyID:  companyID,
		period:     period,
		workers:    workers,
		punches:    make(map[string]map[string][]timeclock.Punch, len(workers)),
		exceptions: make(map[string]map[string][]ledger.Exception, len(workers)),
		payments:   make(map[string][]ledger.Payment, len(workers)),
	}

	punches := make([][]timeclock.Punch, len(workers))
	payments := make([][]ledger.Payment, len(workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, w := range workers {
		g.Go(func() error {
			list, err := e.punches.ListPunchesForWorkerInRange(gctx, w.ID, period.From(), period.Until())
			if err != nil {
				return fmt.Errorf("failed to load punches for %s: %w", w.ID, err)
			}
			punches[i] = list
			return nil
		})
		g.Go(func() error {
			list, err := e.payments.ListPaymentsForWorkerInRange(gctx, w.ID, period)
			if err != nil {
				return fmt.Errorf("failed to load payments for %s: %w", w.ID, err)
			}
			payments[i] = list
			return nil
		})
	}

	var exceptions []ledger.Exception
	g.Go(func() error {
		list, err := e.exceptions.ListExceptionsForCompanyInRange(gctx, companyID, period)
		if err != nil {
			return fmt.Errorf("failed to load exceptions: %w", err)
		}
		exceptions = list
		return nil
	})

	if withPrevious {
		g.Go(func() error {
			prev, err := e.previousClosed(gctx, companyID)
			if err != nil {
				return err
			}
			snap.previous = prev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, w := range workers {
		byDay := make(map[string][]timeclock.Punch)
		for _, p := range punches[i] {
			if !period.ContainsInstant(p.OccurredAt) {
				continue
			}
			key := timeclock.DayIn(p.OccurredAt, e.loc).String()
			byDay[key] = append(byDay[key], p)
		}
		for _, list := range byDay {
			timeclock.SortPunches(list)
		}
		snap.punches[w.ID] = byDay
		snap.payments[w.ID] = payments[i]
	}

	for _, ex := range exceptions {
		byDay, ok := snap.exceptions[ex.WorkerID]
		if !ok {
			byDay = make(map[string][]ledger.Exception)
			snap.exceptions[ex.WorkerID] = byDay
		}
		key := ex.Date.String()
		byDay[key] = append(byDay[key], ex)
	}

	return snap, nil
}

// previousClosed returns the newest closed record for the company, or nil.
func (e *Engine) previousClosed(ctx context.Context, companyID string) (*Record, error) {
	records, err := e.closings.ListClosingsForCompany(ctx, companyID, previousLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to list closings: %w", err)
	}
	for i := range records {
		if records[i].Status == Closed {
			return &records[i], nil
		}
	}
	return nil, nil
}

const previousLookback = 50
