package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// Server represents the campaign API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
	router  *chi.Mux
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, svc *campaign.Service) *Server {
	handlers := NewHandlers(svc)
	router := SetupRoutes(handlers)

	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
