/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the till frontend

ROUTE GROUPS:
  /api/register/*   Session commands and queries (X-Company-ID)
  /api/admin/*      Summary cache maintenance (X-Company-ID)
  /api/scenarios/*  Demo scenarios
  /api/companies    Companies with activity
  /api/health       Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when NewRouter gets no origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", CompanyHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/companies", h.ListCompanies)

		r.Route("/register", func(r chi.Router) {
			r.Use(RequireCompany)
			r.Get("/status", h.GetStatus)
			r.Post("/open", h.OpenSession)
			r.Post("/supply", h.Supply)
			r.Post("/withdraw", h.Withdraw)
			r.Post("/close", h.CloseSession)
			r.Get("/history", h.GetHistory)
			r.Get("/sessions", h.ListSessions)
			r.Get("/sessions/{id}/entries", h.GetEntries)
			r.Get("/sessions/{id}/at/{n}", h.GetSessionAt)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireCompany)
			r.Post("/rebuild", h.Rebuild)
			r.Get("/verify", h.Verify)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
