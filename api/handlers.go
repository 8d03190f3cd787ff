/*
handlers.go - HTTP API handlers for the attendance and closing engine

PURPOSE:
  Exposes punches, the exception and payment ledgers, and payroll
  closings via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the domain packages.

ENDPOINTS:
  Workers:
    POST   /api/workers                               Create or replace worker
    GET    /api/companies/{companyID}/workers         List active workers

  Punches:
    POST   /api/punches                               Submit a punch
    POST   /api/punches/{punchID}/corrections         Correct a punch
    GET    /api/workers/{workerID}/punches?date=      Punches on one day
    GET    /api/workers/{workerID}/next-punch         Next legal punch
    GET    /api/companies/{companyID}/rejected-attempts?from=&to=

  Ledgers:
    POST   /api/exceptions                            Record exception
    GET    /api/workers/{workerID}/exceptions?from=&to=
    GET    /api/companies/{companyID}/exceptions?from=&to=
    POST   /api/payments                              Record payment
    GET    /api/workers/{workerID}/payments?from=&to=

  Closings:
    POST   /api/companies/{companyID}/closings/validate
    POST   /api/companies/{companyID}/closings/preview
    POST   /api/companies/{companyID}/closings        Generate and persist
    GET    /api/companies/{companyID}/closings?limit=
    GET    /api/closings/{closingID}
    GET    /api/closings/{closingID}/verify
    POST   /api/closings/{closingID}/adjust
    POST   /api/closings/{closingID}/cancel

  Schedules:
    PUT    /api/companies/{companyID}/closing-schedule
    GET    /api/closing-schedules
    POST   /api/closing-schedules/run

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code:
  - 400: Malformed body or rejected input (invalid_punch, invalid_request...)
  - 404: Punch, worker or closing not found
  - 409: Sequence violation, too soon, invalid status transition
  - 500: Store failures and integrity faults

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what every store driver implements.
type Store interface {
	timeclock.WorkerDirectory
	timeclock.PunchStore
	timeclock.AttemptLog
	ledger.ExceptionStore
	ledger.PaymentStore
	closing.Store
	closing.ScheduleStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Workers    timeclock.WorkerDirectory
	Punches    timeclock.PunchStore
	Attempts   timeclock.AttemptLog
	Schedules  closing.ScheduleStore
	Sequencer  *timeclock.Sequencer
	Exceptions *ledger.ExceptionLedger
	Payments   *ledger.PaymentLedger
	Closings   *closing.Engine

	// Scheduler is optional; without it /closing-schedules/run returns 503.
	Scheduler *closing.Scheduler

	Location *time.Location
	Logger   *slog.Logger
}

// NewHandler wires the handler over one store. The ledgers share the
// sequencer's calendar zone.
func NewHandler(store Store, seq *timeclock.Sequencer, engine *closing.Engine, clock timeclock.Clock, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Workers:    store,
		Punches:    store,
		Attempts:   store,
		Schedules:  store,
		Sequencer:  seq,
		Exceptions: ledger.NewExceptionLedger(store, clock, logger),
		Payments:   ledger.NewPaymentLedger(store, clock, logger),
		Closings:   engine,
		Location:   seq.Location(),
		Logger:     logger,
	}
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// CreateWorker stores a worker. An existing ID is replaced.
// POST /api/workers
func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.CompanyID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "companyId and name are required", nil)
		return
	}
	if req.BaseDailyRateMinorUnits < 0 {
		writeError(w, http.StatusBadRequest, "baseDailyRateMinorUnits must not be negative", nil)
		return
	}

	worker := timeclock.Worker{
		ID:                      req.ID,
		CompanyID:               req.CompanyID,
		Name:                    req.Name,
		Role:                    req.Role,
		BaseDailyRateMinorUnits: req.BaseDailyRateMinorUnits,
		Active:                  true,
	}
	if worker.ID == "" {
		worker.ID = timeclock.NewID()
	}
	if req.Active != nil {
		worker.Active = *req.Active
	}

	if err := h.Workers.SaveWorker(r.Context(), worker); err != nil {
		h.writeDomainError(w, "Failed to save worker", err)
		return
	}

	writeJSON(w, http.StatusCreated, worker)
}

// ListWorkers returns the company's active workers.
// GET /api/companies/{companyID}/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Workers.ListActiveWorkers(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.writeDomainError(w, "Failed to list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// =============================================================================
// PUNCH HANDLERS
// =============================================================================

// SubmitPunch records a punch at the server's current time.
// POST /api/punches
func (h *Handler) SubmitPunch(w http.ResponseWriter, r *http.Request) {
	var req SubmitPunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	punch := timeclock.PunchRequest{
		WorkerID:  req.WorkerID,
		CompanyID: req.CompanyID,
		Kind:      timeclock.PunchKind(req.Kind),
		Location: timeclock.Location{
			Lat:             req.Latitude,
			Lng:             req.Longitude,
			ResolvedAddress: req.Address,
		},
	}
	if req.Site != nil {
		punch.Site = &timeclock.Site{
			ID:           req.Site.ID,
			Name:         req.Site.Name,
			Center:       timeclock.Coordinate{Lat: req.Site.Latitude, Lng: req.Site.Longitude},
			RadiusMeters: req.Site.RadiusMeters,
		}
	}

	result, err := h.Sequencer.Submit(r.Context(), punch)
	if err != nil {
		h.writeDomainError(w, "Failed to record punch", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// CorrectPunch rewrites one punch and returns the audit record.
// POST /api/punches/{punchID}/corrections
func (h *Handler) CorrectPunch(w http.ResponseWriter, r *http.Request) {
	var req CorrectPunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	punch, correction, err := h.Sequencer.Correct(r.Context(), timeclock.CorrectionRequest{
		PunchID:     chi.URLParam(r, "punchID"),
		Kind:        timeclock.PunchKind(req.Kind),
		OccurredAt:  req.OccurredAt,
		Reason:      req.Reason,
		CorrectedBy: req.CorrectedBy,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to correct punch", err)
		return
	}

	writeJSON(w, http.StatusCreated, CorrectionResponse{Punch: *punch, Correction: *correction})
}

// ListPunchCorrections returns the audit trail of one punch.
// GET /api/punches/{punchID}/corrections
func (h *Handler) ListPunchCorrections(w http.ResponseWriter, r *http.Request) {
	punchID := chi.URLParam(r, "punchID")

	punch, err := h.Punches.GetPunch(r.Context(), punchID)
	if err != nil {
		h.writeDomainError(w, "Failed to load punch", err)
		return
	}

	corrections, err := h.Punches.ListCorrectionsForPunch(r.Context(), punchID)
	if err != nil {
		h.writeDomainError(w, "Failed to list corrections", err)
		return
	}
	writeJSON(w, http.StatusOK, CorrectionHistoryResponse{Punch: *punch, Corrections: corrections})
}

// ListPunches returns a worker's punches for one day.
// GET /api/workers/{workerID}/punches?date=YYYY-MM-DD
func (h *Handler) ListPunches(w http.ResponseWriter, r *http.Request) {
	day, err := timeclock.ParseDay(r.URL.Query().Get("date"), h.Location)
	if err != nil {
		h.writeDomainError(w, "Invalid date", err)
		return
	}

	punches, err := h.Punches.ListPunchesForWorkerOnDate(r.Context(), chi.URLParam(r, "workerID"), day)
	if err != nil {
		h.writeDomainError(w, "Failed to list punches", err)
		return
	}

	writeJSON(w, http.StatusOK, PunchListResponse{
		Date:    day.String(),
		State:   timeclock.ShiftStateOf(punches),
		Punches: punches,
	})
}

// NextPunch tells the worker what they may punch next.
// GET /api/workers/{workerID}/next-punch
func (h *Handler) NextPunch(w http.ResponseWriter, r *http.Request) {
	next, err := h.Sequencer.Next(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		h.writeDomainError(w, "Failed to compute next punch", err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// ListRejectedAttempts returns refused punches in a date range.
// GET /api/companies/{companyID}/rejected-attempts?from=&to=
func (h *Handler) ListRejectedAttempts(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	attempts, err := h.Attempts.ListRejectedAttempts(r.Context(), chi.URLParam(r, "companyID"), period.From(), period.Until())
	if err != nil {
		h.writeDomainError(w, "Failed to list rejected attempts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// RecordException appends an approved exception.
// POST /api/exceptions
func (h *Handler) RecordException(w http.ResponseWriter, r *http.Request) {
	var req RecordExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := timeclock.ParseDay(req.Date, h.Location)
	if err != nil {
		h.writeDomainError(w, "Invalid date", err)
		return
	}

	id, err := h.Exceptions.Record(r.Context(), ledger.ExceptionInput{
		WorkerID:                  req.WorkerID,
		CompanyID:                 req.CompanyID,
		Date:                      date,
		Kind:                      ledger.ExceptionKind(req.Kind),
		Reason:                    req.Reason,
		Justification:             req.Justification,
		ApprovedBy:                req.ApprovedBy,
		FinancialImpactMinorUnits: req.FinancialImpactMinorUnits,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record exception", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// ListWorkerExceptions returns a worker's exceptions, newest first.
// GET /api/workers/{workerID}/exceptions?from=&to=
func (h *Handler) ListWorkerExceptions(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	list, err := h.Exceptions.ListForWorker(r.Context(), chi.URLParam(r, "workerID"), period)
	if err != nil {
		h.writeDomainError(w, "Failed to list exceptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": list})
}

// ListCompanyExceptions returns every exception of the company.
// GET /api/companies/{companyID}/exceptions?from=&to=
func (h *Handler) ListCompanyExceptions(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	list, err := h.Exceptions.ListForCompany(r.Context(), chi.URLParam(r, "companyID"), period)
	if err != nil {
		h.writeDomainError(w, "Failed to list exceptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": list})
}

// RecordPayment appends a disbursement.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := timeclock.ParseDay(req.Date, h.Location)
	if err != nil {
		h.writeDomainError(w, "Invalid date", err)
		return
	}

	id, err := h.Payments.Record(r.Context(), ledger.PaymentInput{
		WorkerID:                 req.WorkerID,
		CompanyID:                req.CompanyID,
		Date:                     date,
		ComputedAmountMinorUnits: req.ComputedAmountMinorUnits,
		PaidAmountMinorUnits:     req.PaidAmountMinorUnits,
		Method:                   ledger.PaymentMethod(req.Method),
		PaidBy:                   req.PaidBy,
		ReceiptRef:               req.ReceiptRef,
		Notes:                    req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// ListWorkerPayments returns a worker's payments and their total.
// GET /api/workers/{workerID}/payments?from=&to=
func (h *Handler) ListWorkerPayments(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	list, err := h.Payments.ListForWorker(r.Context(), chi.URLParam(r, "workerID"), period)
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payments":            list,
		"paidTotalMinorUnits": ledger.PaidTotal(list),
	})
}

// ListCompanyPayments returns every payment of the company and their total.
// GET /api/companies/{companyID}/payments?from=&to=
func (h *Handler) ListCompanyPayments(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	list, err := h.Payments.ListForCompany(r.Context(), chi.URLParam(r, "companyID"), period)
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payments":            list,
		"paidTotalMinorUnits": ledger.PaidTotal(list),
	})
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

// ValidateClosing reports whether the period can be closed.
// POST /api/companies/{companyID}/closings/validate
func (h *Handler) ValidateClosing(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeClosingRequest(w, r)
	if !ok {
		return
	}

	validation, err := h.Closings.Validate(r.Context(), req.CompanyID, req.Period)
	if err != nil {
		h.writeDomainError(w, "Failed to validate closing", err)
		return
	}
	writeJSON(w, http.StatusOK, validation)
}

// PreviewClosing computes a closing without persisting it.
// POST /api/companies/{companyID}/closings/preview
func (h *Handler) PreviewClosing(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeClosingRequest(w, r)
	if !ok {
		return
	}

	record, err := h.Closings.Preview(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to preview closing", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GenerateClosing computes and persists a closing. The record is closed
// when validation allowed it, otherwise it is kept as a draft.
// POST /api/companies/{companyID}/closings
func (h *Handler) GenerateClosing(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeClosingRequest(w, r)
	if !ok {
		return
	}

	record, err := h.Closings.Generate(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to generate closing", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListClosings returns the company's closings, newest first.
// GET /api/companies/{companyID}/closings?limit=
func (h *Handler) ListClosings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	records, err := h.Closings.List(r.Context(), chi.URLParam(r, "companyID"), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list closings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closings": records})
}

// GetClosing returns one closing.
// GET /api/closings/{closingID}
func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	record, err := h.Closings.Get(r.Context(), chi.URLParam(r, "closingID"))
	if err != nil {
		h.writeDomainError(w, "Failed to get closing", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// VerifyClosing recomputes the integrity hash. A mismatch is reported in
// the body, not as an HTTP error.
// GET /api/closings/{closingID}/verify
func (h *Handler) VerifyClosing(w http.ResponseWriter, r *http.Request) {
	record, err := h.Closings.Verify(r.Context(), chi.URLParam(r, "closingID"))

	var mismatch *closing.IntegrityError
	switch {
	case errors.As(err, &mismatch):
		h.Logger.Error("closing integrity mismatch",
			"closingId", mismatch.ClosingID, "stored", mismatch.Stored, "computed", mismatch.Computed)
		writeJSON(w, http.StatusOK, VerifyResponse{
			ClosingID: mismatch.ClosingID,
			Valid:     false,
			Stored:    mismatch.Stored,
			Computed:  mismatch.Computed,
		})
	case err != nil:
		h.writeDomainError(w, "Failed to verify closing", err)
	default:
		writeJSON(w, http.StatusOK, VerifyResponse{
			ClosingID: record.ID,
			Valid:     true,
			Stored:    record.IntegrityHash,
			Computed:  record.IntegrityHash,
		})
	}
}

// AdjustClosing recomputes a closed record and supersedes it.
// POST /api/closings/{closingID}/adjust
func (h *Handler) AdjustClosing(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Closings.Adjust(r.Context(), chi.URLParam(r, "closingID"), req.ActorID, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to adjust closing", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// CancelClosing voids a closed record.
// POST /api/closings/{closingID}/cancel
func (h *Handler) CancelClosing(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Closings.Cancel(r.Context(), chi.URLParam(r, "closingID"), req.ActorID, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to cancel closing", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// SaveSchedule replaces the company's closing schedule.
// PUT /api/companies/{companyID}/closing-schedule
func (h *Handler) SaveSchedule(w http.ResponseWriter, r *http.Request) {
	var sched closing.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	sched.CompanyID = chi.URLParam(r, "companyID")

	if err := sched.Validate(); err != nil {
		h.writeDomainError(w, "Invalid schedule", err)
		return
	}
	if err := h.Schedules.SaveSchedule(r.Context(), sched); err != nil {
		h.writeDomainError(w, "Failed to save schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// ListSchedules returns every company's schedule.
// GET /api/closing-schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Schedules.ListSchedules(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list schedules", err)
		return
	}

	resp := ScheduleListResponse{Schedules: schedules}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		next := h.Scheduler.NextRunTime()
		resp.NextCheck = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunSchedules performs one scheduler check immediately.
// POST /api/closing-schedules/run
func (h *Handler) RunSchedules(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Closing scheduler is not configured", nil)
		return
	}

	summary, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, "Scheduler check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeClosingRequest(w http.ResponseWriter, r *http.Request) (closing.GenerateRequest, bool) {
	var req ClosingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return closing.GenerateRequest{}, false
	}

	period, err := h.parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.writeDomainError(w, "Invalid period", err)
		return closing.GenerateRequest{}, false
	}

	return closing.GenerateRequest{
		CompanyID:    chi.URLParam(r, "companyID"),
		Period:       period,
		Periodicity:  timeclock.Periodicity(req.Periodicity),
		ActorID:      req.ActorID,
		ManualReason: req.ManualReason,
	}, true
}

func (h *Handler) periodQuery(r *http.Request) (timeclock.Period, error) {
	q := r.URL.Query()
	return h.parsePeriod(q.Get("from"), q.Get("to"))
}

func (h *Handler) parsePeriod(from, to string) (timeclock.Period, error) {
	start, err := timeclock.ParseDay(from, h.Location)
	if err != nil {
		return timeclock.Period{}, err
	}
	end, err := timeclock.ParseDay(to, h.Location)
	if err != nil {
		return timeclock.Period{}, err
	}
	return timeclock.NewPeriod(start, end)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "bad_request"}
	if status >= http.StatusInternalServerError {
		resp.Code = "internal"
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a core error to its HTTP status and code.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var (
		tooSoon    *timeclock.TooSoonError
		sequence   *timeclock.SequenceError
		transition *closing.TransitionError
	)

	switch {
	case errors.As(err, &tooSoon):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  timeclock.RejectionCode(err),
			Details: map[string]any{
				"previous":         tooSoon.Previous,
				"minutesRemaining": tooSoon.MinutesRemaining(),
			},
		})
	case errors.As(err, &sequence):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  timeclock.RejectionCode(err),
			Details: map[string]any{
				"expected":    sequence.Expected,
				"shiftClosed": sequence.ShiftClosed,
			},
		})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Code:    "invalid_transition",
			Details: map[string]any{"from": transition.From, "to": transition.To},
		})
	case closing.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case ledger.IsRejection(err) || closing.IsRejection(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: rejectionCode(err)})
	default:
		h.Logger.Error(message, "err", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, timeclock.ErrInvalidPunch):
		return "invalid_punch"
	case errors.Is(err, timeclock.ErrInvalidDateRange):
		return "invalid_date_range"
	case errors.Is(err, ledger.ErrInvalidException):
		return "invalid_exception"
	case errors.Is(err, ledger.ErrInvalidPayment):
		return "invalid_payment"
	default:
		return "invalid_request"
	}
}
