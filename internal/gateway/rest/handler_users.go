package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"courtside/internal/realtime/filter"
	"courtside/internal/realtime/router"
	"courtside/pkg/event"
)

type blockRequest struct {
	Sender string `json:"sender"`
}

// handleBlock adds a sender to the user's block list.
func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sender == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "sender is required")
		return
	}

	if err := h.service.Filter().Block(r.Context(), username, req.Sender); err != nil {
		h.logger.Error("block failed", "username", username, "sender", req.Sender, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "block failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
}

// handleUnblock removes a sender from the user's block list.
func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sender == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "sender is required")
		return
	}

	if err := h.service.Filter().Unblock(r.Context(), username, req.Sender); err != nil {
		h.logger.Error("unblock failed", "username", username, "sender", req.Sender, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "unblock failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

type preferencesRequest struct {
	DisabledTypes []string       `json:"disabledTypes"`
	MutedGames    []string       `json:"mutedGames"`
	BlockedUsers  []string       `json:"blockedUsers"`
	MinPriority   event.Priority `json:"minPriority"`
}

// handleUpdatePreferences replaces the user's delivery preferences.
func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	prefs := &filter.Preferences{
		Username:      username,
		DisabledTypes: req.DisabledTypes,
		MutedGames:    req.MutedGames,
		BlockedUsers:  req.BlockedUsers,
		MinPriority:   req.MinPriority,
	}
	if err := h.service.Feed().UpdatePreferences(r.Context(), prefs); err != nil {
		h.logger.Error("preferences update failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "preferences update failed")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type publishRequest struct {
	Type       string        `json:"type"`
	Priority   int           `json:"priority"`
	Target     event.Target  `json:"target"`
	RoutingKey string        `json:"routingKey"`
	Payload    event.Payload `json:"payload"`
	TTLSeconds int64         `json:"ttlSeconds"`
	Persistent bool          `json:"persistent"`
}

// handlePublishEvent injects an event into the router. Intended for
// system announcements and backend services that have no socket.
func (h *Handler) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	priority := event.Priority(req.Priority)
	if req.Priority == 0 {
		priority = event.PriorityNormal
	}

	evt := event.New(req.Type, priority, req.Target, req.RoutingKey, req.Payload)
	if req.TTLSeconds > 0 {
		evt.WithTTL(req.TTLSeconds)
	}
	if req.Persistent {
		evt.WithPersistence()
	}

	err := h.service.Router().Publish(r.Context(), evt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": evt.ID})
	case errors.Is(err, router.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, ErrCodeTooMany, "publish quota exceeded")
	case errors.Is(err, router.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "event queue full")
	case errors.Is(err, router.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "service shutting down")
	default:
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	}
}
