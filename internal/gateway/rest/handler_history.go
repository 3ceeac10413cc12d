package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"courtside/internal/realtime/feed"
	"courtside/pkg/event"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// historyQuery carries the replay query parameters. Since is unix
// milliseconds; zero replays from the beginning of retention.
type historyQuery struct {
	Limit int   `schema:"limit"`
	Since int64 `schema:"since"`
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func parseHistoryQuery(r *http.Request) (historyQuery, error) {
	q := historyQuery{Limit: defaultHistoryLimit}
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		return q, err
	}
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	return q, nil
}

func (q historyQuery) since() time.Time {
	if q.Since <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(q.Since)
}

func writeEvents(w http.ResponseWriter, events []*event.Event) {
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func writeActivities(w http.ResponseWriter, activities []*feed.Activity) {
	if activities == nil {
		activities = []*feed.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activities": activities,
		"count":      len(activities),
	})
}

// handleGameHistory replays recent persistent events for one game room,
// newest first.
func (h *Handler) handleGameHistory(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")

	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid query parameters")
		return
	}

	events, err := h.service.History().GetGameEvents(r.Context(), gameID, q.since(), q.Limit)
	if err != nil {
		h.logger.Error("game history replay failed", "game", gameID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "history replay failed")
		return
	}
	writeEvents(w, events)
}

// handleGlobalHistory replays recent global broadcasts, newest first.
func (h *Handler) handleGlobalHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid query parameters")
		return
	}

	events, err := h.service.History().GetGlobalEvents(r.Context(), q.since(), q.Limit)
	if err != nil {
		h.logger.Error("global history replay failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "history replay failed")
		return
	}
	writeEvents(w, events)
}

// handleUserEvents drains a user's stored events. Events queued while
// the user was offline are cleared once read, matching the reconnect
// flow where a single consumer replays them.
func (h *Handler) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid query parameters")
		return
	}

	events, err := h.service.Router().OfflineEvents(r.Context(), username, q.since(), q.Limit)
	if err != nil {
		h.logger.Error("offline replay failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "offline replay failed")
		return
	}
	writeEvents(w, events)
}

// handleGlobalFeed returns the newest global activities.
func (h *Handler) handleGlobalFeed(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid query parameters")
		return
	}

	activities, err := h.service.Feed().GlobalFeed(r.Context(), q.Limit)
	if err != nil {
		h.logger.Error("global feed read failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "feed read failed")
		return
	}
	writeActivities(w, activities)
}

// handleUserFeed returns the global feed filtered by the user's block
// list.
func (h *Handler) handleUserFeed(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid query parameters")
		return
	}

	activities, err := h.service.Feed().UserFeed(r.Context(), username, q.Limit)
	if err != nil {
		h.logger.Error("user feed read failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "feed read failed")
		return
	}
	writeActivities(w, activities)
}
