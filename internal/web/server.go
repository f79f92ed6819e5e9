// Package web exposes the scan engine over a small HTTP API.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gbabichev/Twinalyzer-sub001/internal/config"
	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
	"github.com/gbabichev/Twinalyzer-sub001/internal/thumbcache"
)

// Server wires the scanner and thumbnail cache into an HTTP server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates the HTTP server. cache may be nil; the thumbnail
// endpoint then decodes on every request.
func NewServer(cfg *config.Config, scanner *scan.Scanner, cache *thumbcache.Cache) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	// Scans over large trees can run for a while.
	r.Use(chiMiddleware.Timeout(10 * time.Minute))

	s.setupRoutes(scanner, cache)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Serve.Host, cfg.Serve.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
