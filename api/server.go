/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer-token identity resolution (everything under /api)

ROUTE GROUPS:
  /api/hours/*        Hour submission and approval lifecycle
  /api/trainees/*     Trainee profiles, summaries, invoices, rates
  /api/supervisors/*  Supervisor profiles and payment aggregates
  /api/invoices/*     Billing cycle
  /healthz            Liveness, unauthenticated

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes: everything behind identity resolution.
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/hours", func(r chi.Router) {
			r.Post("/", h.SubmitHours)
			r.Post("/{id}/approve", h.ApproveEntry)
			r.Post("/{id}/reject", h.RejectEntry)
			r.Post("/{id}/revert", h.RevertEntry)
		})

		r.Route("/trainees", func(r chi.Router) {
			r.Post("/", h.CreateTrainee)
			r.Delete("/{id}", h.DeleteTrainee)
			r.Get("/{id}/summary", h.TraineeMonthSummary)
			r.Get("/{id}/invoice", h.TraineeInvoice)
			r.Patch("/{id}/rate", h.UpdateTraineeRate)
		})

		r.Route("/supervisors", func(r chi.Router) {
			r.Post("/", h.CreateSupervisor)
			r.Get("/{id}/payments", h.SupervisorPayments)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/generate", h.GenerateInvoices)
			r.Post("/{id}/pay", h.PayInvoice)
		})
	})

	return r
}
