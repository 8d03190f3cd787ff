/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Cancels the request context after RouterConfig.Timeout
  5. CORS:       Cross-origin requests for the attendance frontend

ROUTE GROUPS:
  /api/workers/*            Workers and their punches, exceptions, payments
  /api/punches/*            Punch submission, correction and history
  /api/exceptions           Exception ledger
  /api/payments             Payment ledger
  /api/companies/*          Company-scoped reads and closing generation
  /api/closings/*           Closing lifecycle
  /api/closing-schedules/*  Scheduler configuration
  /healthz                  Liveness probe

SECURITY NOTE:
  No authentication middleware. Actor IDs (approvedBy, correctedBy,
  actorId) are taken from the request body as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the middleware settings that come from config.
type RouterConfig struct {
	AllowedOrigins []string
	Timeout        time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Worker routes
		r.Route("/workers", func(r chi.Router) {
			r.Post("/", h.CreateWorker)
			r.Get("/{workerID}/punches", h.ListPunches)
			r.Get("/{workerID}/next-punch", h.NextPunch)
			r.Get("/{workerID}/exceptions", h.ListWorkerExceptions)
			r.Get("/{workerID}/payments", h.ListWorkerPayments)
		})

		// Punch routes
		r.Route("/punches", func(r chi.Router) {
			r.Post("/", h.SubmitPunch)
			r.Get("/{punchID}/corrections", h.ListPunchCorrections)
			r.Post("/{punchID}/corrections", h.CorrectPunch)
		})

		// Ledger routes
		r.Post("/exceptions", h.RecordException)
		r.Post("/payments", h.RecordPayment)

		// Company routes
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/workers", h.ListWorkers)
			r.Get("/rejected-attempts", h.ListRejectedAttempts)
			r.Get("/exceptions", h.ListCompanyExceptions)
			r.Get("/payments", h.ListCompanyPayments)
			r.Put("/closing-schedule", h.SaveSchedule)

			r.Route("/closings", func(r chi.Router) {
				r.Get("/", h.ListClosings)
				r.Post("/", h.GenerateClosing)
				r.Post("/validate", h.ValidateClosing)
				r.Post("/preview", h.PreviewClosing)
			})
		})

		// Closing lifecycle routes
		r.Route("/closings/{closingID}", func(r chi.Router) {
			r.Get("/", h.GetClosing)
			r.Get("/verify", h.VerifyClosing)
			r.Post("/adjust", h.AdjustClosing)
			r.Post("/cancel", h.CancelClosing)
		})

		// Scheduler routes
		r.Route("/closing-schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/run", h.RunSchedules)
		})
	})

	return r
}

// Health reports that the process is serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
