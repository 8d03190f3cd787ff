package ledger

import (
	"context"

	"github.com/warp/attendance-engine/timeclock"
)

// ExceptionStore persists exceptions. APPEND-ONLY: no Update, no Delete.
type ExceptionStore interface {
	AppendException(ctx context.Context, e Exception) error

	// ListExceptionsForWorkerInRange returns exceptions dated inside the period.
	ListExceptionsForWorkerInRange(ctx context.Context, workerID string, period timeclock.Period) ([]Exception, error)

	// ListExceptionsForCompanyInRange returns exceptions dated inside the period.
	ListExceptionsForCompanyInRange(ctx context.Context, companyID string, period timeclock.Period) ([]Exception, error)
}

// PaymentStore persists payments. APPEND-ONLY: no Update, no Delete.
type PaymentStore interface {
	AppendPayment(ctx context.Context, p Payment) error

	// ListPaymentsForWorkerInRange returns payments dated inside the period.
	ListPaymentsForWorkerInRange(ctx context.Context, workerID string, period timeclock.Period) ([]Payment, error)

	// ListPaymentsForCompanyInRange returns payments dated inside the period.
	ListPaymentsForCompanyInRange(ctx context.Context, companyID string, period timeclock.Period) ([]Payment, error)
}
