package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - uploads come straight from browser single-page apps
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Account-ID"},
		ExposedHeaders: []string{"X-Credits-Used"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/credits", h.GetCredits)

		r.Post("/clean", h.CleanList)
		r.Get("/clean/{sessionID}/progress", h.GetProgress)
		r.Get("/clean/{sessionID}/result", h.GetResult)

		r.Post("/checkout", h.CreateCheckout)
		r.Post("/payments/webhook", h.PaymentWebhook)
	})

	return r
}
