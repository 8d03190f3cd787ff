/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the attendance engine using
  SQLite. store/postgres follows the same schema with PostgreSQL types.

INTERFACES IMPLEMENTED:
  timeclock.PunchStore:      Punches and corrections
  timeclock.AttemptLog:      Rejected punch attempts
  timeclock.WorkerDirectory: Worker roster
  ledger.ExceptionStore:     Exceptions
  ledger.PaymentStore:       Payments
  closing.Store:             Closing records and sequence counters
  closing.ScheduleStore:     Closing schedules

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements anywhere
  - punches are only updated by ApplyCorrection, in the same transaction
    that inserts the punch_corrections audit row
  - closings content_json is written once; later updates touch status
    columns only

KEY TABLES:
  punches:           Accepted punches
  punch_corrections: Audit trail of rewritten punches
  rejected_attempts: Refused punches
  exceptions:        Manual day overrides
  payments:          Disbursements
  closings:          Sealed closing records (JSON content + scalar columns)
  closing_sequences: Per-company sequence counters
  closing_schedules: Automatic closing configuration

TIME STORAGE:
  Instants are UTC text in a fixed-width layout so string comparison
  orders them correctly. Calendar dates are YYYY-MM-DD text.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - timeclock/store.go, ledger/store.go, closing/store.go: Interfaces
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

// instantLayout is fixed width so that text order matches time order.
const instantLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT,
		base_daily_rate INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workers_company
		ON workers(company_id, active);

	-- Punches (only ApplyCorrection updates a row)
	CREATE TABLE IF NOT EXISTS punches (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		address TEXT,
		corrected INTEGER NOT NULL DEFAULT 0,
		correction_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: the sequencer's same-day lookup and closing range scans
	CREATE INDEX IF NOT EXISTS idx_punches_worker_time
		ON punches(worker_id, occurred_at);

	CREATE TABLE IF NOT EXISTS punch_corrections (
		id TEXT PRIMARY KEY,
		punch_id TEXT NOT NULL REFERENCES punches(id),
		worker_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		original_kind TEXT NOT NULL,
		original_time TEXT NOT NULL,
		corrected_kind TEXT NOT NULL,
		corrected_time TEXT NOT NULL,
		reason TEXT NOT NULL,
		corrected_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_punch_corrections_punch
		ON punch_corrections(punch_id, created_at);

	CREATE TABLE IF NOT EXISTS rejected_attempts (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		attempted_at TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		address TEXT,
		code TEXT NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rejected_attempts_company_time
		ON rejected_attempts(company_id, attempted_at);

	-- Exceptions (append-only; several per worker and date are allowed)
	CREATE TABLE IF NOT EXISTS exceptions (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL,
		justification TEXT,
		approved_by TEXT NOT NULL,
		financial_impact INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exceptions_worker_date
		ON exceptions(worker_id, date);
	CREATE INDEX IF NOT EXISTS idx_exceptions_company_date
		ON exceptions(company_id, date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		date TEXT NOT NULL,
		computed_amount INTEGER NOT NULL,
		paid_amount INTEGER NOT NULL,
		method TEXT NOT NULL,
		paid_by TEXT NOT NULL,
		receipt_ref TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_worker_date
		ON payments(worker_id, date);
	CREATE INDEX IF NOT EXISTS idx_payments_company_date
		ON payments(company_id, date);

	-- Closings: content_json is immutable, status columns move
	CREATE TABLE IF NOT EXISTS closings (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		periodicity TEXT NOT NULL,
		status TEXT NOT NULL,
		integrity_hash TEXT NOT NULL,
		content_json TEXT NOT NULL,
		superseded_by TEXT,
		cancelled_at TEXT,
		cancelled_by TEXT,
		cancel_reason TEXT,
		generated_at TEXT NOT NULL,
		UNIQUE(company_id, sequence_number)
	);

	CREATE INDEX IF NOT EXISTS idx_closings_company_period
		ON closings(company_id, period_start, period_end);

	CREATE TABLE IF NOT EXISTS closing_sequences (
		company_id TEXT PRIMARY KEY,
		last_seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS closing_schedules (
		company_id TEXT PRIMARY KEY,
		periodicity TEXT NOT NULL,
		weekday INTEGER NOT NULL DEFAULT 0,
		day_of_month INTEGER NOT NULL DEFAULT 0,
		at_time TEXT NOT NULL,
		block_if_invalid INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WORKERS (timeclock.WorkerDirectory)
// =============================================================================

// SaveWorker inserts or updates a worker.
func (s *Store) SaveWorker(ctx context.Context, w timeclock.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO workers (id, company_id, name, role, base_daily_rate, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			role = excluded.role,
			base_daily_rate = excluded.base_daily_rate,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		w.ID, w.CompanyID, w.Name, nullString(w.Role),
		w.BaseDailyRateMinorUnits, w.Active,
		formatInstant(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (*timeclock.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, role, base_daily_rate, active FROM workers WHERE id = ?",
		id,
	)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrWorkerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListActiveWorkers returns the company's active workers ordered by ID.
func (s *Store) ListActiveWorkers(ctx context.Context, companyID string) ([]timeclock.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, role, base_daily_rate, active
		FROM workers
		WHERE company_id = ? AND active = 1
		ORDER BY id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	workers := []timeclock.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorker(row scanner) (timeclock.Worker, error) {
	var (
		w    timeclock.Worker
		role sql.NullString
	)
	if err := row.Scan(&w.ID, &w.CompanyID, &w.Name, &role, &w.BaseDailyRateMinorUnits, &w.Active); err != nil {
		return w, err
	}
	w.Role = role.String
	return w, nil
}

// =============================================================================
// PUNCHES (timeclock.PunchStore)
// =============================================================================

const punchColumns = `id, worker_id, company_id, kind, occurred_at, latitude, longitude,
		       address, corrected, correction_id`

// AppendPunch inserts a punch.
func (s *Store) AppendPunch(ctx context.Context, p timeclock.Punch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO punches
		(id, worker_id, company_id, kind, occurred_at, latitude, longitude,
		 address, corrected, correction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.WorkerID, p.CompanyID, p.Kind,
		formatInstant(p.OccurredAt),
		p.Location.Lat, p.Location.Lng, nullString(p.Location.ResolvedAddress),
		p.Corrected, nullString(p.CorrectionID),
		formatInstant(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("punch %s already exists", p.ID)
		}
		return fmt.Errorf("failed to append punch: %w", err)
	}
	return nil
}

// GetPunch retrieves a punch by ID.
func (s *Store) GetPunch(ctx context.Context, id string) (*timeclock.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPunch(ctx, s.db, id)
}

func getPunch(ctx context.Context, db queryer, id string) (*timeclock.Punch, error) {
	row := db.QueryRowContext(ctx, "SELECT "+punchColumns+" FROM punches WHERE id = ?", id)
	p, err := scanPunch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrPunchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPunchesForWorkerOnDate returns the punches of one calendar day.
func (s *Store) ListPunchesForWorkerOnDate(ctx context.Context, workerID string, day timeclock.Day) ([]timeclock.Punch, error) {
	return s.ListPunchesForWorkerInRange(ctx, workerID, day.Start(), day.End())
}

// ListPunchesForWorkerInRange returns punches in [from, to) ordered by time.
func (s *Store) ListPunchesForWorkerInRange(ctx context.Context, workerID string, from, to time.Time) ([]timeclock.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + punchColumns + `
		FROM punches
		WHERE worker_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workerID, formatInstant(from), formatInstant(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query punches: %w", err)
	}
	defer rows.Close()

	punches := []timeclock.Punch{}
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

func scanPunch(row scanner) (timeclock.Punch, error) {
	var (
		p            timeclock.Punch
		occurredAt   string
		address      sql.NullString
		correctionID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.WorkerID, &p.CompanyID, &p.Kind, &occurredAt,
		&p.Location.Lat, &p.Location.Lng, &address, &p.Corrected, &correctionID,
	)
	if err != nil {
		return p, err
	}
	p.OccurredAt = parseInstant(occurredAt)
	p.Location.ResolvedAddress = address.String
	p.CorrectionID = correctionID.String
	return p, nil
}

// ApplyCorrection writes the audit row and rewrites the punch in one
// transaction.
func (s *Store) ApplyCorrection(ctx context.Context, c timeclock.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getPunch(ctx, tx, c.OriginalPunchID); err != nil {
		return err
	}

	if err := appendCorrection(ctx, tx, c); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE punches
		SET kind = ?, occurred_at = ?, corrected = 1, correction_id = ?
		WHERE id = ?
	`, c.CorrectedKind, formatInstant(c.CorrectedTime), c.ID, c.OriginalPunchID)
	if err != nil {
		return fmt.Errorf("failed to update punch: %w", err)
	}

	return tx.Commit()
}

func appendCorrection(ctx context.Context, db execer, c timeclock.Correction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO punch_corrections
		(id, punch_id, worker_id, company_id, original_kind, original_time,
		 corrected_kind, corrected_time, reason, corrected_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.OriginalPunchID, c.WorkerID, c.CompanyID,
		c.OriginalKind, formatInstant(c.OriginalTime),
		c.CorrectedKind, formatInstant(c.CorrectedTime),
		c.Reason, c.CorrectedBy, formatInstant(c.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}
	return nil
}

// ListCorrectionsForPunch returns a punch's corrections, oldest first.
func (s *Store) ListCorrectionsForPunch(ctx context.Context, punchID string) ([]timeclock.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, punch_id, worker_id, company_id, original_kind, original_time,
		       corrected_kind, corrected_time, reason, corrected_by, created_at
		FROM punch_corrections
		WHERE punch_id = ?
		ORDER BY created_at ASC
	`, punchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	corrections := []timeclock.Correction{}
	for rows.Next() {
		var (
			c                                      timeclock.Correction
			originalTime, correctedTime, createdAt string
		)
		err := rows.Scan(
			&c.ID, &c.OriginalPunchID, &c.WorkerID, &c.CompanyID,
			&c.OriginalKind, &originalTime, &c.CorrectedKind, &correctedTime,
			&c.Reason, &c.CorrectedBy, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.OriginalTime = parseInstant(originalTime)
		c.CorrectedTime = parseInstant(correctedTime)
		c.Timestamp = parseInstant(createdAt)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// =============================================================================
// REJECTED ATTEMPTS (timeclock.AttemptLog)
// =============================================================================

func (s *Store) AppendRejectedAttempt(ctx context.Context, a timeclock.RejectedAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rejected_attempts
		(id, worker_id, company_id, kind, attempted_at, latitude, longitude, address, code, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.WorkerID, a.CompanyID, a.Kind, formatInstant(a.AttemptedAt),
		a.Location.Lat, a.Location.Lng, nullString(a.Location.ResolvedAddress),
		a.Code, a.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append rejected attempt: %w", err)
	}
	return nil
}

func (s *Store) ListRejectedAttempts(ctx context.Context, companyID string, from, to time.Time) ([]timeclock.RejectedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_id, company_id, kind, attempted_at, latitude, longitude, address, code, reason
		FROM rejected_attempts
		WHERE company_id = ? AND attempted_at >= ? AND attempted_at < ?
		ORDER BY attempted_at ASC
	`, companyID, formatInstant(from), formatInstant(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected attempts: %w", err)
	}
	defer rows.Close()

	attempts := []timeclock.RejectedAttempt{}
	for rows.Next() {
		var (
			a           timeclock.RejectedAttempt
			attemptedAt string
			address     sql.NullString
		)
		err := rows.Scan(
			&a.ID, &a.WorkerID, &a.CompanyID, &a.Kind, &attemptedAt,
			&a.Location.Lat, &a.Location.Lng, &address, &a.Code, &a.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rejected attempt: %w", err)
		}
		a.AttemptedAt = parseInstant(attemptedAt)
		a.Location.ResolvedAddress = address.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// =============================================================================
// EXCEPTIONS (ledger.ExceptionStore)
// =============================================================================

const exceptionColumns = `id, worker_id, company_id, date, kind, reason, justification,
		       approved_by, financial_impact, created_at`

func (s *Store) AppendException(ctx context.Context, e ledger.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exceptions (`+exceptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.WorkerID, e.CompanyID, e.Date.String(), e.Kind, e.Reason,
		nullString(e.Justification), e.ApprovedBy, e.FinancialImpactMinorUnits,
		formatInstant(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append exception: %w", err)
	}
	return nil
}

func (s *Store) ListExceptionsForWorkerInRange(ctx context.Context, workerID string, period timeclock.Period) ([]ledger.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryExceptions(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE worker_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, created_at ASC
	`, workerID, period.Start.String(), period.End.String())
}

func (s *Store) ListExceptionsForCompanyInRange(ctx context.Context, companyID string, period timeclock.Period) ([]ledger.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryExceptions(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE company_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, created_at ASC
	`, companyID, period.Start.String(), period.End.String())
}

func (s *Store) queryExceptions(ctx context.Context, query string, args ...any) ([]ledger.Exception, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	exceptions := []ledger.Exception{}
	for rows.Next() {
		var (
			e               ledger.Exception
			date, createdAt string
			justification   sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.WorkerID, &e.CompanyID, &date, &e.Kind, &e.Reason,
			&justification, &e.ApprovedBy, &e.FinancialImpactMinorUnits, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		if e.Date, err = parseDay(date); err != nil {
			return nil, err
		}
		e.Justification = justification.String
		e.Timestamp = parseInstant(createdAt)
		exceptions = append(exceptions, e)
	}
	return exceptions, rows.Err()
}

// =============================================================================
// PAYMENTS (ledger.PaymentStore)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, worker_id, company_id, date, computed_amount, paid_amount, method,
		 paid_by, receipt_ref, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.WorkerID, p.CompanyID, p.Date.String(),
		p.ComputedAmountMinorUnits, p.PaidAmountMinorUnits, p.Method, p.PaidBy,
		nullString(p.ReceiptRef), nullString(p.Notes), formatInstant(p.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) ListPaymentsForWorkerInRange(ctx context.Context, workerID string, period timeclock.Period) ([]ledger.Payment, error) {
	return s.listPayments(ctx, "worker_id", workerID, period)
}

func (s *Store) ListPaymentsForCompanyInRange(ctx context.Context, companyID string, period timeclock.Period) ([]ledger.Payment, error) {
	return s.listPayments(ctx, "company_id", companyID, period)
}

// listPayments filters on column, which is always one of the two indexed
// owner columns.
func (s *Store) listPayments(ctx context.Context, column, owner string, period timeclock.Period) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_id, company_id, date, computed_amount, paid_amount, method,
		       paid_by, receipt_ref, notes, created_at
		FROM payments
		WHERE `+column+` = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, created_at ASC
	`, owner, period.Start.String(), period.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []ledger.Payment{}
	for rows.Next() {
		var (
			p                 ledger.Payment
			date, createdAt   string
			receiptRef, notes sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.WorkerID, &p.CompanyID, &date,
			&p.ComputedAmountMinorUnits, &p.PaidAmountMinorUnits, &p.Method,
			&p.PaidBy, &receiptRef, &notes, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Date, err = parseDay(date); err != nil {
			return nil, err
		}
		p.ReceiptRef = receiptRef.String
		p.Notes = notes.String
		p.Timestamp = parseInstant(createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// CLOSINGS (closing.Store)
// =============================================================================

// NextClosingSequence increments the company's counter in a single statement.
func (s *Store) NextClosingSequence(ctx context.Context, companyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO closing_sequences (company_id, last_seq) VALUES (?, 1)
		ON CONFLICT(company_id) DO UPDATE SET last_seq = last_seq + 1
		RETURNING last_seq
	`, companyID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to increment closing sequence: %w", err)
	}
	return next, nil
}

func (s *Store) CountClosingsForCompany(ctx context.Context, companyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM closings WHERE company_id = ?", companyID,
	).Scan(&count)
	return count, err
}

func (s *Store) AppendClosing(ctx context.Context, r closing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendClosing(ctx, s.db, r)
}

func appendClosing(ctx context.Context, db execer, r closing.Record) error {
	contentJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode closing: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO closings
		(id, company_id, sequence_number, period_start, period_end, periodicity,
		 status, integrity_hash, content_json, superseded_by, cancelled_at,
		 cancelled_by, cancel_reason, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.CompanyID, r.SequenceNumber,
		r.PeriodStart.String(), r.PeriodEnd.String(), r.Periodicity,
		r.Status, r.IntegrityHash, string(contentJSON),
		nullString(r.SupersededBy), nullInstant(r.CancelledAt),
		nullString(r.CancelledBy), nullString(r.CancelReason),
		formatInstant(r.GeneratedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("closing %s or sequence %d already exists", r.ID, r.SequenceNumber)
		}
		return fmt.Errorf("failed to append closing: %w", err)
	}
	return nil
}

const closingColumns = `content_json, status, superseded_by, cancelled_at, cancelled_by, cancel_reason`

func (s *Store) GetClosing(ctx context.Context, id string) (*closing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClosing(ctx, s.db, id)
}

func getClosing(ctx context.Context, db queryer, id string) (*closing.Record, error) {
	row := db.QueryRowContext(ctx, "SELECT "+closingColumns+" FROM closings WHERE id = ?", id)
	r, err := scanClosing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", closing.ErrClosingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListClosingsForCompany(ctx context.Context, companyID string, limit int) ([]closing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + closingColumns + `
		FROM closings
		WHERE company_id = ?
		ORDER BY sequence_number DESC
	`
	args := []any{companyID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query closings: %w", err)
	}
	defer rows.Close()

	records := []closing.Record{}
	for rows.Next() {
		r, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// scanClosing decodes the immutable content and overlays the status columns.
func scanClosing(row scanner) (closing.Record, error) {
	var (
		r                                      closing.Record
		contentJSON, status                    string
		supersededBy, cancelledAt, cancelledBy sql.NullString
		cancelReason                           sql.NullString
	)
	if err := row.Scan(&contentJSON, &status, &supersededBy, &cancelledAt, &cancelledBy, &cancelReason); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(contentJSON), &r); err != nil {
		return r, fmt.Errorf("failed to decode closing: %w", err)
	}
	r.Status = closing.Status(status)
	r.SupersededBy = supersededBy.String
	r.CancelledBy = cancelledBy.String
	r.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		t := parseInstant(cancelledAt.String)
		r.CancelledAt = &t
	}
	return r, nil
}

// SupersedeClosing inserts the successor and marks the previous record
// adjusted in one transaction.
func (s *Store) SupersedeClosing(ctx context.Context, previousID string, successor closing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := getClosing(ctx, tx, previousID)
	if err != nil {
		return err
	}
	if prev.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: previousID, From: prev.Status, To: closing.Adjusted}
	}

	if err := appendClosing(ctx, tx, successor); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE closings SET status = ?, superseded_by = ?
		WHERE id = ? AND status = ?
	`, closing.Adjusted, successor.ID, previousID, closing.Closed)
	if err != nil {
		return fmt.Errorf("failed to supersede closing: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &closing.TransitionError{ClosingID: previousID, From: prev.Status, To: closing.Adjusted}
	}

	return tx.Commit()
}

func (s *Store) CancelClosing(ctx context.Context, id, by, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := getClosing(ctx, tx, id)
	if err != nil {
		return err
	}
	if r.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: id, From: r.Status, To: closing.Cancelled}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE closings
		SET status = ?, cancelled_at = ?, cancelled_by = ?, cancel_reason = ?
		WHERE id = ?
	`, closing.Cancelled, formatInstant(at), by, reason, id)
	if err != nil {
		return fmt.Errorf("failed to cancel closing: %w", err)
	}

	return tx.Commit()
}

// =============================================================================
// SCHEDULES (closing.ScheduleStore)
// =============================================================================

func (s *Store) SaveSchedule(ctx context.Context, sched closing.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closing_schedules
		(company_id, periodicity, weekday, day_of_month, at_time, block_if_invalid, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			periodicity = excluded.periodicity,
			weekday = excluded.weekday,
			day_of_month = excluded.day_of_month,
			at_time = excluded.at_time,
			block_if_invalid = excluded.block_if_invalid,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`,
		sched.CompanyID, sched.Periodicity, int(sched.Weekday), sched.DayOfMonth,
		sched.At, sched.BlockIfInvalid, sched.Enabled, formatInstant(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]closing.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, periodicity, weekday, day_of_month, at_time, block_if_invalid, enabled
		FROM closing_schedules
		ORDER BY company_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []closing.Schedule{}
	for rows.Next() {
		var (
			sched   closing.Schedule
			weekday int
		)
		err := rows.Scan(
			&sched.CompanyID, &sched.Periodicity, &weekday, &sched.DayOfMonth,
			&sched.At, &sched.BlockIfInvalid, &sched.Enabled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		sched.Weekday = time.Weekday(weekday)
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// Helper functions

func formatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(s string) time.Time {
	t, _ := time.Parse(instantLayout, s)
	return t
}

func parseDay(s string) (timeclock.Day, error) {
	return timeclock.ParseDay(s, time.UTC)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInstant(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatInstant(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
