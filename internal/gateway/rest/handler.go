// Package rest exposes the admin and read API over HTTP: health,
// metrics, presence, chat state, history replay, feed access and
// maintenance controls.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courtside/internal/realtime"
)

// Config holds REST gateway settings.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodySize    int64         `yaml:"max_body_size"`
}

// DefaultConfig returns the default gateway settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		RequestTimeout: 30 * time.Second,
		MaxBodySize:    1 << 20,
	}
}

// APIError is the structured error response body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTooMany       = "TOO_MANY_REQUESTS"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Handler serves the realtime admin and read API.
type Handler struct {
	service *realtime.Service
	config  Config
	logger  *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(service *realtime.Service, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		config:  cfg,
		logger:  logger.With("component", "rest"),
	}
}

// RegisterRoutes attaches every endpoint to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	timeout := h.config.RequestTimeout

	mux.HandleFunc("GET /health", withTimeout(h.handleHealth, timeout))
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.service.Metrics(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/v1/metrics", withTimeout(h.handleMetrics, timeout))
	mux.HandleFunc("POST /api/v1/metrics/reset", withTimeout(h.handleMetricsReset, timeout))
	mux.HandleFunc("POST /api/v1/maintenance/run", withTimeout(h.handleMaintenanceRun, timeout))

	mux.HandleFunc("GET /api/v1/presence/online", withTimeout(h.handleOnlineUsers, timeout))
	mux.HandleFunc("GET /api/v1/presence/{username}", withTimeout(h.handlePresence, timeout))

	mux.HandleFunc("GET /api/v1/games/{gameId}/typing", withTimeout(h.handleTyping, timeout))
	mux.HandleFunc("GET /api/v1/games/{gameId}/activity", withTimeout(h.handleActivity, timeout))
	mux.HandleFunc("GET /api/v1/games/{gameId}/history", withTimeout(h.handleGameHistory, timeout))

	mux.HandleFunc("GET /api/v1/history/global", withTimeout(h.handleGlobalHistory, timeout))
	mux.HandleFunc("GET /api/v1/users/{username}/events", withTimeout(h.handleUserEvents, timeout))

	mux.HandleFunc("GET /api/v1/feed/global", withTimeout(h.handleGlobalFeed, timeout))
	mux.HandleFunc("GET /api/v1/feed/{username}", withTimeout(h.handleUserFeed, timeout))

	maxBody := h.config.MaxBodySize
	mux.HandleFunc("POST /api/v1/users/{username}/block",
		withTimeout(maxBodySize(h.handleBlock, maxBody), timeout))
	mux.HandleFunc("POST /api/v1/users/{username}/unblock",
		withTimeout(maxBodySize(h.handleUnblock, maxBody), timeout))
	mux.HandleFunc("PUT /api/v1/users/{username}/preferences",
		withTimeout(maxBodySize(h.handleUpdatePreferences, maxBody), timeout))
	mux.HandleFunc("POST /api/v1/events",
		withTimeout(maxBodySize(h.handlePublishEvent, maxBody), timeout))
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		http.TimeoutHandler(next, timeout, "request timed out").ServeHTTP(w, r)
	}
}

func maxBodySize(next http.HandlerFunc, limit int64) http.HandlerFunc {
	if limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next(w, r)
	}
}
