// Package httpapi assembles the chi router for the API server.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"atelier/internal/domain"
	"atelier/internal/http/handlers"
	"atelier/internal/middleware"
)

// Options carries router-level configuration.
type Options struct {
	TenantMode      domain.TenantMode
	DefaultTenantID string
	AllowedOrigins  []string
	RateLimitPerMin int
}

// NewRouter wires middleware and routes around the handler set.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(opts.TenantMode, opts.DefaultTenantID))

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.CreateGeneration)
			r.Get("/{id}", app.GetGeneration)
			r.Post("/{id}/fork", app.ForkGeneration)
			r.Post("/{id}/cancel", app.CancelGeneration)
			r.Get("/{id}/progress", app.GetProgress)
			r.Get("/{id}/progress/stream", app.StreamProgress)
		})

		r.Route("/v1/boards", func(r chi.Router) {
			r.Post("/", app.CreateBoard)
			r.Get("/{id}/generations", app.ListBoardGenerations)
			r.Post("/{id}/members", app.AddBoardMember)
		})

		r.Post("/v1/users", app.UpsertUser)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Post("/tenants", app.CreateTenant)
			r.Get("/isolation-audit", app.IsolationAudit)
		})

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/balance", app.GetBalance)
			r.Get("/transactions", app.ListTransactions)
			r.Post("/grants", app.GrantCredit)
		})
	})

	return r
}
