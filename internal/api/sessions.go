package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amma-stories/amma/internal/identity"
)

// ConnectionCounter reports live streaming connections.
type ConnectionCounter interface {
	Count() int
}

// SessionsHandler serves the session diagnostics routes.
type SessionsHandler struct {
	sessions    Sessions
	connections ConnectionCounter
	archive     StoryArchive
	logger      *slog.Logger
}

// NewSessionsHandler creates a sessions handler. archive may be nil.
func NewSessionsHandler(sessions Sessions, connections ConnectionCounter, archive StoryArchive, logger *slog.Logger) *SessionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionsHandler{
		sessions:    sessions,
		connections: connections,
		archive:     archive,
		logger:      logger,
	}
}

// SessionsResponse is the GET /sessions payload.
type SessionsResponse struct {
	ActiveSessions       int      `json:"active_sessions"`
	WebSocketConnections int      `json:"websocket_connections"`
	SessionIDs           []string `json:"session_ids"`
}

// List handles GET /sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, _ *http.Request) {
	ids := h.sessions.IDs()
	JSON(w, http.StatusOK, SessionsResponse{
		ActiveSessions:       len(ids),
		WebSocketConnections: h.connections.Count(),
		SessionIDs:           ids,
	})
}

// Delete handles DELETE /sessions/{session_id}.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if !h.sessions.Remove(r.Context(), id) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Session %s cleared", id)})
}

// Stories handles GET /sessions/{session_id}/stories.
func (h *SessionsHandler) Stories(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusNotFound, "Story archive is disabled")
		return
	}
	id, ok := identity.SanitizeSessionID(chi.URLParam(r, "session_id"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	stories, err := h.archive.ListStories(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list stories", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list stories")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"stories":    stories,
	})
}
