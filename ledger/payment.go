package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/attendance-engine/timeclock"
)

type PaymentMethod string

const (
	Cash            PaymentMethod = "cash"
	InstantTransfer PaymentMethod = "instant_transfer"
	BankTransfer    PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case Cash, InstantTransfer, BankTransfer:
		return true
	}
	return false
}

// Payment is one disbursement to a worker. Immutable once recorded.
type Payment struct {
	ID                       string        `json:"id"`
	WorkerID                 string        `json:"workerId"`
	CompanyID                string        `json:"companyId"`
	Date                     timeclock.Day `json:"date"`
	ComputedAmountMinorUnits int64         `json:"computedAmountMinorUnits"`
	PaidAmountMinorUnits     int64         `json:"paidAmountMinorUnits"`
	Method                   PaymentMethod `json:"method"`
	PaidBy                   string        `json:"paidBy"`
	ReceiptRef               string        `json:"receiptRef,omitempty"`
	Notes                    string        `json:"notes,omitempty"`
	Timestamp                time.Time     `json:"timestamp"`
}

// PaymentLedger records disbursements.
type PaymentLedger struct {
	store  PaymentStore
	clock  timeclock.Clock
	newID  func() string
	logger *slog.Logger
}

func NewPaymentLedger(store PaymentStore, clock timeclock.Clock, logger *slog.Logger) *PaymentLedger {
	if clock == nil {
		clock = timeclock.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentLedger{store: store, clock: clock, newID: timeclock.NewID, logger: logger}
}

type PaymentInput struct {
	WorkerID                 string
	CompanyID                string
	Date                     timeclock.Day
	ComputedAmountMinorUnits int64
	PaidAmountMinorUnits     int64
	Method                   PaymentMethod
	PaidBy                   string
	ReceiptRef               string
	Notes                    string
}

func (in PaymentInput) validate() error {
	switch {
	case in.WorkerID == "":
		return fmt.Errorf("%w: worker id is required", ErrInvalidPayment)
	case in.CompanyID == "":
		return fmt.Errorf("%w: company id is required", ErrInvalidPayment)
	case in.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidPayment)
	case in.ComputedAmountMinorUnits < 0 || in.PaidAmountMinorUnits < 0:
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidPayment)
	case !in.Method.Valid():
		return fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, in.Method)
	case in.PaidBy == "":
		return fmt.Errorf("%w: paid by is required", ErrInvalidPayment)
	}
	return nil
}

// Record appends a payment and returns its ID.
func (l *PaymentLedger) Record(ctx context.Context, in PaymentInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	p := Payment{
		ID:                       l.newID(),
		WorkerID:                 in.WorkerID,
		CompanyID:                in.CompanyID,
		Date:                     in.Date,
		ComputedAmountMinorUnits: in.ComputedAmountMinorUnits,
		PaidAmountMinorUnits:     in.PaidAmountMinorUnits,
		Method:                   in.Method,
		PaidBy:                   in.PaidBy,
		ReceiptRef:               in.ReceiptRef,
		Notes:                    in.Notes,
		Timestamp:                l.clock.Now(),
	}
	if err := l.store.AppendPayment(ctx, p); err != nil {
		return "", fmt.Errorf("failed to append payment: %w", err)
	}

	l.logger.Info("payment recorded",
		"paymentId", p.ID, "workerId", p.WorkerID, "date", p.Date.String(),
		"paid", p.PaidAmountMinorUnits, "method", p.Method)
	return p.ID, nil
}

// ListForWorker returns the worker's payments in the period, newest date first.
func (l *PaymentLedger) ListForWorker(ctx context.Context, workerID string, period timeclock.Period) ([]Payment, error) {
	list, err := l.store.ListPaymentsForWorkerInRange(ctx, workerID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	sortPaymentsNewestFirst(list)
	return list, nil
}

// ListForCompany returns every payment of the company in the period, newest
// date first.
func (l *PaymentLedger) ListForCompany(ctx context.Context, companyID string, period timeclock.Period) ([]Payment, error) {
	list, err := l.store.ListPaymentsForCompanyInRange(ctx, companyID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list company payments: %w", err)
	}
	sortPaymentsNewestFirst(list)
	return list, nil
}

func sortPaymentsNewestFirst(list []Payment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
}

// PaidTotal sums the paid amounts.
func PaidTotal(list []Payment) int64 {
	var total int64
	for _, p := range list {
		total += p.PaidAmountMinorUnits
	}
	return total
}
