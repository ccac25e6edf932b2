/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. Logger:      zerolog request logging
  3. Recoverer:   Panic recovery (500 instead of crash)
  4. Metrics:     Prometheus request latency
  5. CORS:        Cross-origin requests for frontend
  6. Timeout:     Per-request deadline on the context
  7. Idempotency: Replays POSTs carrying Idempotency-Key (API routes only)

ROUTE GROUPS:
  /api/purchases        Inventory intake
  /api/securities/*     Ledger reads
  /api/counterparties/* Buyer registration
  /api/bookings/*       Booking lifecycle
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness (and store ping)
  /metrics              Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterOptions configures NewRouter. Nil fields disable their feature.
type RouterOptions struct {
	Logger         zerolog.Logger
	Metrics        *Metrics
	Idempotency    *Idempotency
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Health is called by /healthz; nil reports healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole, HeaderIdempotencyKey},
		ExposedHeaders:   []string{HeaderReplayed},
		AllowCredentials: true,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Unhealthy", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.Idempotency != nil {
			r.Use(opts.Idempotency.Middleware)
		}

		r.Post("/purchases", h.ReceivePurchase)

		// Ledger routes
		r.Route("/securities", func(r chi.Router) {
			r.Get("/", h.ListInventory)
			r.Get("/{id}", h.GetInventory)
		})

		// Counterparty routes
		r.Route("/counterparties", func(r chi.Router) {
			r.Post("/", h.RegisterCounterparty)
			r.Get("/{id}", h.GetCounterparty)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Post("/approve", h.ApproveBooking)
				r.Post("/reject", h.RejectBooking)
				r.Post("/loss/approve", h.ApproveLoss)
				r.Post("/loss/reject", h.RejectLoss)
				r.Post("/confirm", h.ConfirmBooking)
				r.Post("/decline", h.DeclineBooking)
				r.Post("/payments", h.RecordPayment)
				r.Post("/void", h.VoidBooking)
				r.Post("/transfer", h.ConfirmTransfer)
				r.Post("/commission/paid", h.MarkCommissionPaid)
				r.Get("/payables", h.ListPayables)
				r.Get("/refunds", h.ListRefunds)
				r.Get("/audit", h.ListAudit)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
