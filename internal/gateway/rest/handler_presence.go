package rest

import (
	"net/http"
)

// handlePresence returns one user's presence record.
func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	record, err := h.service.Presence().PresenceDetails(r.Context(), username)
	if err != nil {
		h.logger.Error("presence lookup failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "presence lookup failed")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no presence record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleOnlineUsers lists currently online usernames.
func (h *Handler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Presence().OnlineUsers(r.Context())
	if err != nil {
		h.logger.Error("online users lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "online users lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleTyping lists users currently typing in a game room.
func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")

	users, err := h.service.Presence().TypingUsers(r.Context(), gameID)
	if err != nil {
		h.logger.Error("typing lookup failed", "game", gameID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "typing lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gameId": gameID,
		"users":  users,
	})
}

// handleActivity returns the chat activity summary for a game room.
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")

	summary, err := h.service.Chat().ActivitySummary(r.Context(), gameID)
	if err != nil {
		h.logger.Error("activity summary failed", "game", gameID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "activity summary failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
