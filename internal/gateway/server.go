package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())

	// Everything else requires the bearer token when one is configured.
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.cfg.AuthToken))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/decay", g.handleTrigger("decay"))
			r.Post("/deliveries", g.handleTrigger("delivery_sweep"))
			r.Post("/daily-summary", g.handleTrigger("daily_summary"))
			r.Post("/cleanup", g.handleTrigger("cleanup"))
			r.Post("/conversations", g.handleTrigger("stale_conversations"))
		})

		r.Get("/status", g.handleStatus())
		r.Get("/metrics", g.metrics.Handler().ServeHTTP)
		r.Get("/ws/events", g.events.ServeHTTP)
	})

	return r
}
