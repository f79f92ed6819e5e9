package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
	"github.com/gbabichev/Twinalyzer-sub001/internal/thumbcache"
	"github.com/gbabichev/Twinalyzer-sub001/internal/web/handlers"
)

func (s *Server) setupRoutes(scanner *scan.Scanner, cache *thumbcache.Cache) {
	scanHandler := handlers.NewScanHandler(s.config, scanner)
	thumbHandler := handlers.NewThumbHandler(cache)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Post("/scan", scanHandler.Scan)
		r.Post("/export", scanHandler.Export)
		r.Get("/thumb", thumbHandler.Get)
	})
}
