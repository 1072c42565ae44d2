/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front desk UI
  5. Metrics:    Request counter labelled by route pattern

ROUTE GROUPS:
  /api/appointments/*    Scheduling, lifecycle, encounters
  /api/practitioners/*   Worklists
  /api/invoices/*        Billing
  /api/products/*        Inventory
  /api/scenarios/*       Demo data
  /healthz               Liveness
  /metrics               Prometheus exposition

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/clinic-engine/metrics"
)

// RouterConfig carries router-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(requestMetrics(h.Metrics))

	r.Get("/healthz", h.Health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// Appointment routes
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.ListAppointments)
			r.Post("/", h.ScheduleAppointment)
			r.Get("/agenda", h.GetAgenda)
			r.Get("/search", h.SearchAppointments)
			r.Get("/pending-billing", h.ListPendingBilling)
			r.Get("/{id}", h.GetAppointment)
			r.Put("/{id}", h.RescheduleAppointment)
			r.Post("/{id}/cancel", h.CancelAppointment)
			r.Get("/{id}/encounters", h.ListEncounters)
			r.Post("/{id}/encounters", h.RecordEncounter)
			r.Get("/{id}/invoice", h.GetAppointmentInvoice)
		})

		r.Get("/practitioners/{id}/worklist", h.GetWorklist)

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.IssueInvoice)
			r.Get("/{id}", h.GetInvoice)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/low-stock", h.ListLowStock)
			r.Post("/{id}/stock", h.AdjustStock)
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

// requestMetrics counts requests by method, route pattern and status.
func requestMetrics(m *metrics.ClinicMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.ObserveRequest(r.Method, route, rec.Status)
		})
	}
}
