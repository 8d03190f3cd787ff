/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces using pgx.

Same tables and contract as store/sqlite, with native types:
TIMESTAMPTZ for instants, DATE for calendar days and JSONB for closing
content. Sequence numbers come from a single
INSERT ... ON CONFLICT DO UPDATE ... RETURNING on closing_sequences, so
concurrent generators never share a number.

USAGE:
  pool, err := postgres.Connect(ctx, databaseURL, 10)
  store, err := postgres.New(ctx, pool)
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against databaseURL.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnLifetime = time.Hour
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MinConns = 1
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// New migrates the schema and returns the store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name TEXT NOT NULL,
	role TEXT,
	base_daily_rate BIGINT NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workers_company ON workers(company_id, active);

CREATE TABLE IF NOT EXISTS punches (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	address TEXT,
	corrected BOOLEAN NOT NULL DEFAULT FALSE,
	correction_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_punches_worker_time ON punches(worker_id, occurred_at);

CREATE TABLE IF NOT EXISTS punch_corrections (
	id TEXT PRIMARY KEY,
	punch_id TEXT NOT NULL REFERENCES punches(id),
	worker_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	original_kind TEXT NOT NULL,
	original_time TIMESTAMPTZ NOT NULL,
	corrected_kind TEXT NOT NULL,
	corrected_time TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL,
	corrected_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_punch_corrections_punch ON punch_corrections(punch_id, created_at);

CREATE TABLE IF NOT EXISTS rejected_attempts (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	address TEXT,
	code TEXT NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejected_attempts_company_time ON rejected_attempts(company_id, attempted_at);

CREATE TABLE IF NOT EXISTS exceptions (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	date DATE NOT NULL,
	kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	justification TEXT,
	approved_by TEXT NOT NULL,
	financial_impact BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exceptions_worker_date ON exceptions(worker_id, date);
CREATE INDEX IF NOT EXISTS idx_exceptions_company_date ON exceptions(company_id, date);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	company_id TEXT NOT NULL,
	date DATE NOT NULL,
	computed_amount BIGINT NOT NULL,
	paid_amount BIGINT NOT NULL,
	method TEXT NOT NULL,
	paid_by TEXT NOT NULL,
	receipt_ref TEXT,
	notes TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_worker_date ON payments(worker_id, date);
CREATE INDEX IF NOT EXISTS idx_payments_company_date ON payments(company_id, date);

CREATE TABLE IF NOT EXISTS closings (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	period_start DATE NOT NULL,
	period_end DATE NOT NULL,
	periodicity TEXT NOT NULL,
	status TEXT NOT NULL,
	integrity_hash TEXT NOT NULL,
	content JSONB NOT NULL,
	superseded_by TEXT,
	cancelled_at TIMESTAMPTZ,
	cancelled_by TEXT,
	cancel_reason TEXT,
	generated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (company_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS idx_closings_company_period ON closings(company_id, period_start, period_end);

CREATE TABLE IF NOT EXISTS closing_sequences (
	company_id TEXT PRIMARY KEY,
	next_number BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS closing_schedules (
	company_id TEXT PRIMARY KEY,
	periodicity TEXT NOT NULL,
	weekday INT NOT NULL DEFAULT 0,
	day_of_month INT NOT NULL DEFAULT 0,
	at_time TEXT NOT NULL,
	block_if_invalid BOOLEAN NOT NULL DEFAULT FALSE,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// WORKERS
// =============================================================================

func (s *Store) SaveWorker(ctx context.Context, w timeclock.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, company_id, name, role, base_daily_rate, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			base_daily_rate = EXCLUDED.base_daily_rate,
			active = EXCLUDED.active,
			updated_at = now()
	`, w.ID, w.CompanyID, w.Name, nullIfEmpty(w.Role), w.BaseDailyRateMinorUnits, w.Active)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (*timeclock.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, company_id, name, role, base_daily_rate, active FROM workers WHERE id = $1
	`, id)
	w, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrWorkerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListActiveWorkers(ctx context.Context, companyID string) ([]timeclock.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, role, base_daily_rate, active
		FROM workers
		WHERE company_id = $1 AND active
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

func scanWorker(row pgx.Row) (timeclock.Worker, error) {
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
// PUNCHES
// =============================================================================

const punchColumns = `id, worker_id, company_id, kind, occurred_at, latitude, longitude, address, corrected, correction_id`

func (s *Store) AppendPunch(ctx context.Context, p timeclock.Punch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO punches (`+punchColumns+`, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`,
		p.ID, p.WorkerID, p.CompanyID, string(p.Kind), p.OccurredAt.UTC(),
		p.Location.Lat, p.Location.Lng, nullIfEmpty(p.Location.ResolvedAddress),
		p.Corrected, nullIfEmpty(p.CorrectionID),
	)
	if err != nil {
		return fmt.Errorf("failed to append punch: %w", err)
	}
	return nil
}

func (s *Store) GetPunch(ctx context.Context, id string) (*timeclock.Punch, error) {
	return getPunch(ctx, s.pool, id)
}

func getPunch(ctx context.Context, db dbtx, id string) (*timeclock.Punch, error) {
	p, err := scanPunch(db.QueryRow(ctx, "SELECT "+punchColumns+" FROM punches WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", timeclock.ErrPunchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPunchesForWorkerOnDate(ctx context.Context, workerID string, day timeclock.Day) ([]timeclock.Punch, error) {
	return s.ListPunchesForWorkerInRange(ctx, workerID, day.Start(), day.End())
}

func (s *Store) ListPunchesForWorkerInRange(ctx context.Context, workerID string, from, to time.Time) ([]timeclock.Punch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+punchColumns+`
		FROM punches
		WHERE worker_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, created_at
	`, workerID, from.UTC(), to.UTC())
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

func scanPunch(row pgx.Row) (timeclock.Punch, error) {
	var (
		p                     timeclock.Punch
		kind                  string
		address, correctionID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.WorkerID, &p.CompanyID, &kind, &p.OccurredAt,
		&p.Location.Lat, &p.Location.Lng, &address, &p.Corrected, &correctionID,
	)
	if err != nil {
		return p, err
	}
	p.Kind = timeclock.PunchKind(kind)
	p.Location.ResolvedAddress = address.String
	p.CorrectionID = correctionID.String
	return p, nil
}

func (s *Store) ApplyCorrection(ctx context.Context, c timeclock.Correction) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the row so concurrent corrections serialize.
	var exists bool
	err = tx.QueryRow(ctx, `SELECT true FROM punches WHERE id = $1 FOR UPDATE`, c.OriginalPunchID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", timeclock.ErrPunchNotFound, c.OriginalPunchID)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO punch_corrections
		(id, punch_id, worker_id, company_id, original_kind, original_time,
		 corrected_kind, corrected_time, reason, corrected_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.OriginalPunchID, c.WorkerID, c.CompanyID,
		string(c.OriginalKind), c.OriginalTime.UTC(),
		string(c.CorrectedKind), c.CorrectedTime.UTC(),
		c.Reason, c.CorrectedBy, c.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE punches SET kind = $1, occurred_at = $2, corrected = TRUE, correction_id = $3
		WHERE id = $4
	`, string(c.CorrectedKind), c.CorrectedTime.UTC(), c.ID, c.OriginalPunchID)
	if err != nil {
		return fmt.Errorf("failed to update punch: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListCorrectionsForPunch(ctx context.Context, punchID string) ([]timeclock.Correction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, punch_id, worker_id, company_id, original_kind, original_time,
		       corrected_kind, corrected_time, reason, corrected_by, created_at
		FROM punch_corrections
		WHERE punch_id = $1
		ORDER BY created_at
	`, punchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	corrections := []timeclock.Correction{}
	for rows.Next() {
		var (
			c                           timeclock.Correction
			originalKind, correctedKind string
		)
		err := rows.Scan(
			&c.ID, &c.OriginalPunchID, &c.WorkerID, &c.CompanyID,
			&originalKind, &c.OriginalTime, &correctedKind, &c.CorrectedTime,
			&c.Reason, &c.CorrectedBy, &c.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		c.OriginalKind = timeclock.PunchKind(originalKind)
		c.CorrectedKind = timeclock.PunchKind(correctedKind)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// =============================================================================
// REJECTED ATTEMPTS
// =============================================================================

func (s *Store) AppendRejectedAttempt(ctx context.Context, a timeclock.RejectedAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rejected_attempts
		(id, worker_id, company_id, kind, attempted_at, latitude, longitude, address, code, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID, a.WorkerID, a.CompanyID, string(a.Kind), a.AttemptedAt.UTC(),
		a.Location.Lat, a.Location.Lng, nullIfEmpty(a.Location.ResolvedAddress),
		a.Code, a.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append rejected attempt: %w", err)
	}
	return nil
}

func (s *Store) ListRejectedAttempts(ctx context.Context, companyID string, from, to time.Time) ([]timeclock.RejectedAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, worker_id, company_id, kind, attempted_at, latitude, longitude, address, code, reason
		FROM rejected_attempts
		WHERE company_id = $1 AND attempted_at >= $2 AND attempted_at < $3
		ORDER BY attempted_at
	`, companyID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected attempts: %w", err)
	}
	defer rows.Close()

	attempts := []timeclock.RejectedAttempt{}
	for rows.Next() {
		var (
			a       timeclock.RejectedAttempt
			kind    string
			address sql.NullString
		)
		err := rows.Scan(
			&a.ID, &a.WorkerID, &a.CompanyID, &kind, &a.AttemptedAt,
			&a.Location.Lat, &a.Location.Lng, &address, &a.Code, &a.Reason,
		)
		if err != nil {
			return nil, err
		}
		a.Kind = timeclock.PunchKind(kind)
		a.Location.ResolvedAddress = address.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// =============================================================================
// EXCEPTIONS AND PAYMENTS
// =============================================================================

const exceptionColumns = `id, worker_id, company_id, date, kind, reason, justification, approved_by, financial_impact, created_at`

func (s *Store) AppendException(ctx context.Context, e ledger.Exception) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exceptions (`+exceptionColumns+`)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, e.WorkerID, e.CompanyID, e.Date.String(), string(e.Kind), e.Reason,
		nullIfEmpty(e.Justification), e.ApprovedBy, e.FinancialImpactMinorUnits, e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append exception: %w", err)
	}
	return nil
}

func (s *Store) ListExceptionsForWorkerInRange(ctx context.Context, workerID string, period timeclock.Period) ([]ledger.Exception, error) {
	return s.queryExceptions(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE worker_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date, created_at
	`, workerID, period.Start.String(), period.End.String())
}

func (s *Store) ListExceptionsForCompanyInRange(ctx context.Context, companyID string, period timeclock.Period) ([]ledger.Exception, error) {
	return s.queryExceptions(ctx, `
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE company_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date, created_at
	`, companyID, period.Start.String(), period.End.String())
}

func (s *Store) queryExceptions(ctx context.Context, query string, args ...any) ([]ledger.Exception, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	exceptions := []ledger.Exception{}
	for rows.Next() {
		var (
			e             ledger.Exception
			date          time.Time
			kind          string
			justification sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.WorkerID, &e.CompanyID, &date, &kind, &e.Reason,
			&justification, &e.ApprovedBy, &e.FinancialImpactMinorUnits, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		e.Date = dayOf(date)
		e.Kind = ledger.ExceptionKind(kind)
		e.Justification = justification.String
		exceptions = append(exceptions, e)
	}
	return exceptions, rows.Err()
}

func (s *Store) AppendPayment(ctx context.Context, p ledger.Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments
		(id, worker_id, company_id, date, computed_amount, paid_amount, method,
		 paid_by, receipt_ref, notes, created_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID, p.WorkerID, p.CompanyID, p.Date.String(),
		p.ComputedAmountMinorUnits, p.PaidAmountMinorUnits, string(p.Method),
		p.PaidBy, nullIfEmpty(p.ReceiptRef), nullIfEmpty(p.Notes), p.Timestamp.UTC(),
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

func (s *Store) listPayments(ctx context.Context, column, owner string, period timeclock.Period) ([]ledger.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, worker_id, company_id, date, computed_amount, paid_amount, method,
		       paid_by, receipt_ref, notes, created_at
		FROM payments
		WHERE `+column+` = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date, created_at
	`, owner, period.Start.String(), period.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []ledger.Payment{}
	for rows.Next() {
		var (
			p                 ledger.Payment
			date              time.Time
			method            string
			receiptRef, notes sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.WorkerID, &p.CompanyID, &date,
			&p.ComputedAmountMinorUnits, &p.PaidAmountMinorUnits, &method,
			&p.PaidBy, &receiptRef, &notes, &p.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		p.Date = dayOf(date)
		p.Method = ledger.PaymentMethod(method)
		p.ReceiptRef = receiptRef.String
		p.Notes = notes.String
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (s *Store) NextClosingSequence(ctx context.Context, companyID string) (int64, error) {
	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO closing_sequences (company_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (company_id)
		DO UPDATE SET next_number = closing_sequences.next_number + 1
		RETURNING next_number
	`, companyID)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to increment closing sequence: %w", err)
	}
	return next, nil
}

func (s *Store) CountClosingsForCompany(ctx context.Context, companyID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM closings WHERE company_id = $1`, companyID).Scan(&count)
	return count, err
}

func (s *Store) AppendClosing(ctx context.Context, r closing.Record) error {
	return appendClosing(ctx, s.pool, r)
}

func appendClosing(ctx context.Context, db dbtx, r closing.Record) error {
	content, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode closing: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO closings
		(id, company_id, sequence_number, period_start, period_end, periodicity,
		 status, integrity_hash, content, superseded_by, cancelled_at,
		 cancelled_by, cancel_reason, generated_at)
		VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		r.ID, r.CompanyID, r.SequenceNumber,
		r.PeriodStart.String(), r.PeriodEnd.String(), string(r.Periodicity),
		string(r.Status), r.IntegrityHash, content,
		nullIfEmpty(r.SupersededBy), r.CancelledAt,
		nullIfEmpty(r.CancelledBy), nullIfEmpty(r.CancelReason),
		r.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append closing: %w", err)
	}
	return nil
}

const closingColumns = `content, status, superseded_by, cancelled_at, cancelled_by, cancel_reason`

func (s *Store) GetClosing(ctx context.Context, id string) (*closing.Record, error) {
	return getClosing(ctx, s.pool, id, false)
}

func getClosing(ctx context.Context, db dbtx, id string, forUpdate bool) (*closing.Record, error) {
	query := "SELECT " + closingColumns + " FROM closings WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	r, err := scanClosing(db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", closing.ErrClosingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListClosingsForCompany(ctx context.Context, companyID string, limit int) ([]closing.Record, error) {
	query := `
		SELECT ` + closingColumns + `
		FROM closings
		WHERE company_id = $1
		ORDER BY sequence_number DESC
	`
	args := []any{companyID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanClosing(row pgx.Row) (closing.Record, error) {
	var (
		r                                       closing.Record
		content                                 []byte
		status                                  string
		supersededBy, cancelledBy, cancelReason sql.NullString
		cancelledAt                             sql.NullTime
	)
	if err := row.Scan(&content, &status, &supersededBy, &cancelledAt, &cancelledBy, &cancelReason); err != nil {
		return r, err
	}
	if err := json.Unmarshal(content, &r); err != nil {
		return r, fmt.Errorf("failed to decode closing: %w", err)
	}
	r.Status = closing.Status(status)
	r.SupersededBy = supersededBy.String
	r.CancelledBy = cancelledBy.String
	r.CancelReason = cancelReason.String
	r.CancelledAt = nil
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return r, nil
}

func (s *Store) SupersedeClosing(ctx context.Context, previousID string, successor closing.Record) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	prev, err := getClosing(ctx, tx, previousID, true)
	if err != nil {
		return err
	}
	if prev.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: previousID, From: prev.Status, To: closing.Adjusted}
	}

	if err = appendClosing(ctx, tx, successor); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE closings SET status = $1, superseded_by = $2 WHERE id = $3
	`, string(closing.Adjusted), successor.ID, previousID)
	if err != nil {
		return fmt.Errorf("failed to supersede closing: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) CancelClosing(ctx context.Context, id, by, reason string, at time.Time) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := getClosing(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if r.Status != closing.Closed {
		return &closing.TransitionError{ClosingID: id, From: r.Status, To: closing.Cancelled}
	}

	_, err = tx.Exec(ctx, `
		UPDATE closings SET status = $1, cancelled_at = $2, cancelled_by = $3, cancel_reason = $4
		WHERE id = $5
	`, string(closing.Cancelled), at.UTC(), by, reason, id)
	if err != nil {
		return fmt.Errorf("failed to cancel closing: %w", err)
	}

	return tx.Commit(ctx)
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Store) SaveSchedule(ctx context.Context, sched closing.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO closing_schedules
		(company_id, periodicity, weekday, day_of_month, at_time, block_if_invalid, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (company_id) DO UPDATE SET
			periodicity = EXCLUDED.periodicity,
			weekday = EXCLUDED.weekday,
			day_of_month = EXCLUDED.day_of_month,
			at_time = EXCLUDED.at_time,
			block_if_invalid = EXCLUDED.block_if_invalid,
			enabled = EXCLUDED.enabled,
			updated_at = now()
	`,
		sched.CompanyID, string(sched.Periodicity), int(sched.Weekday), sched.DayOfMonth,
		sched.At, sched.BlockIfInvalid, sched.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]closing.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
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
			sched       closing.Schedule
			periodicity string
			weekday     int
		)
		err := rows.Scan(
			&sched.CompanyID, &periodicity, &weekday, &sched.DayOfMonth,
			&sched.At, &sched.BlockIfInvalid, &sched.Enabled,
		)
		if err != nil {
			return nil, err
		}
		sched.Periodicity = timeclock.Periodicity(periodicity)
		sched.Weekday = time.Weekday(weekday)
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func dayOf(t time.Time) timeclock.Day {
	return timeclock.NewDay(t.Year(), t.Month(), t.Day(), time.UTC)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
