/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the proposal frontend

ROUTE GROUPS:
  /api/pricing/*        Pricing calculators
  /api/billing/*        Milestone templates and schedule previews
  /api/contracts/*      Persisted schedules
  /api/opportunities/*  Opportunities and proposals
  /api/addons           Registered addons
  /api/schedules/*      Schedule reads
  /api/payments/*       Settlement and due-payment batches
  /api/dashboard        Collection metrics
  /metrics              Prometheus
  /health               Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/pricing", func(r chi.Router) {
			r.Post("/volume", h.PriceVolume)
			r.Post("/recurring", h.PriceRecurring)
			r.Post("/bundles/{id}", h.PriceBundle)
			r.Post("/services", h.PriceService)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Get("/milestones", h.GetMilestoneConfig)
			r.Post("/schedules", h.GenerateSchedule)
		})

		r.Post("/contracts/{id}/milestones", h.CreateContractMilestones)

		r.Get("/addons", h.ListAddons)

		r.Route("/opportunities", func(r chi.Router) {
			r.Post("/", h.CreateOpportunity)
			r.Post("/{id}/proposal", h.GenerateProposal)
		})

		r.Get("/schedules/{id}", h.GetSchedule)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/execute-due", h.ExecuteDuePayments)
			r.Post("/{id}/process", h.ProcessPayment)
		})

		r.Get("/dashboard", h.Dashboard)
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
