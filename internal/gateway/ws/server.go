package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"courtside/internal/realtime"
)

// Config holds websocket gateway settings.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowDevOrigin bool     `yaml:"allow_dev_origin"`
	SendBufferSize int      `yaml:"send_buffer_size"`
}

// DefaultConfig returns the default gateway settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8081",
		AllowDevOrigin: true,
		SendBufferSize: 256,
	}
}

// Server owns the websocket listener and the hub.
type Server struct {
	hub        *Hub
	service    *realtime.Service
	config     Config
	logger     *slog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer builds the websocket gateway.
func NewServer(service *realtime.Service, cfg Config, logger *slog.Logger) *Server {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}

	s := &Server{
		hub:     NewHub(service.PubSub(), logger),
		service: service,
		config:  cfg,
		logger:  logger.With("component", "ws"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return checkOrigin(r, cfg) },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWS)
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub exposes the hub for stats.
func (s *Server) Hub() *Hub { return s.hub }

// HandleWS upgrades the connection and starts the client pumps.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		service:       s.service,
		conn:          conn,
		send:          make(chan BaseMessage, s.config.SendBufferSize),
		subscriptions: make(map[string]string),
	}

	if !client.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Start runs the hub and serves until the context is cancelled or the
// listener fails. Blocks.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.hub.Run(ctx)
	}()

	s.logger.Info("websocket gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket gateway failed: %w", err)
	}
	return <-errCh
}

// Shutdown closes the listener and drains in-flight requests. The hub
// stops when the Start context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
