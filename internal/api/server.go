package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/meridian/cohort-scheduler/internal/config"
	"github.com/meridian/cohort-scheduler/internal/worker"
)

// Server wraps the HTTP server with graceful shutdown support.
type Server struct {
	config   config.ServerConfig
	handlers *Handlers
	handler  http.Handler
	server   *http.Server
}

// NewServer builds the router over the given handlers. recv may be nil when
// the API binary should not accept provider callbacks.
func NewServer(cfg config.ServerConfig, h *Handlers, hc *HealthChecker, recv *worker.WebhookReceiver) *Server {
	return &Server{
		config:   cfg,
		handlers: h,
		handler:  SetupRoutes(h, hc, recv),
	}
}

// ListenAndServe starts the HTTP server on the configured host and port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.GetHost(), s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
