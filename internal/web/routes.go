package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/veridate/faceseek/internal/web/handlers"
	"github.com/veridate/faceseek/internal/web/middleware"
)

func (s *Server) setupRoutes(deps Deps) {
	searchHandler := handlers.NewSearchHandler(deps.Searcher, deps.Registry)
	providersHandler := handlers.NewProvidersHandler(s.config, deps.Providers, deps.Registry)
	regenerateHandler := handlers.NewRegenerateHandler(s.jobManager, deps.NewRegeneration)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Matching
		r.Post("/match/search", searchHandler.Search)

		// Provider configuration
		r.Get("/providers", providersHandler.List)
		r.Post("/providers", providersHandler.Create)
		r.Post("/providers/{id}/activate", providersHandler.Activate)
		r.Put("/providers/{id}/enabled", providersHandler.SetEnabled)
		r.Delete("/providers/{id}", providersHandler.Delete)

		// Descriptor regeneration (long-running)
		r.Post("/regenerate", regenerateHandler.Start)
		r.Get("/regenerate/{jobId}", regenerateHandler.Status)
		r.Delete("/regenerate/{jobId}", regenerateHandler.Cancel)
	})
}
