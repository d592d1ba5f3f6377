package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/opsloop/internal/adapter/otel"
	"github.com/Strob0t/opsloop/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	ServiceName string
	// RunLimiter throttles POST /v1/runs per client; nil disables it.
	RunLimiter *middleware.RateLimiter
	// APIKey, when set, guards every /v1 route with middleware.APIKey.
	APIKey func() string
}

// NewRouter builds the API router with the standard middleware stack.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(opts.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)

	MountRoutes(r, h, opts.RunLimiter, opts.APIKey)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, runLimiter *middleware.RateLimiter, apiKey func() string) {
	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if apiKey != nil {
			r.Use(middleware.APIKey(apiKey))
		}
		r.Get("/policies", h.ListPolicies)
		r.Get("/policies/{name}", h.GetPolicy)
		r.Post("/classify", h.Classify)

		if runLimiter != nil {
			r.With(runLimiter.Handler).Post("/runs", h.CreateRun)
		} else {
			r.Post("/runs", h.CreateRun)
		}
	})
}
