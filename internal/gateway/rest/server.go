package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"courtside/internal/realtime"
)

// Server owns the HTTP listener for the REST gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the gateway server with all routes registered.
func NewServer(service *realtime.Service, cfg Config, logger *slog.Logger) *Server {
	handler := NewHandler(service, cfg, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "rest"),
	}
}

// Start serves until the listener closes. Blocks.
func (s *Server) Start() error {
	s.logger.Info("rest gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest gateway failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
