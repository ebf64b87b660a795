package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/metrics"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(metrics.HTTPMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check and Prometheus scrape endpoint (no auth, outside /api)
	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Patch("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)

				r.Get("/recipients", h.ListRecipients)
				r.Post("/recipients", h.AddRecipient)

				r.Post("/send", h.SendCampaign)
				r.Get("/stats", h.GetCampaignStats)
			})
		})
	})

	return r
}
