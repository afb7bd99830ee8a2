// Package api provides HTTP handlers for the AMMA story service.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/session"
)

// Sessions is the session manager as seen by the HTTP layer.
type Sessions interface {
	ApplyTurn(ctx context.Context, sessionID, text string) (session.Turn, error)
	IsFresh(sessionID string) bool
	IDs() []string
	Count() int
	Remove(ctx context.Context, sessionID string) bool
}

// StoryArchive lists archived stories.
type StoryArchive interface {
	ListStories(ctx context.Context, sessionID string) ([]domain.StoryRecord, error)
	Ping(ctx context.Context) error
}

var _ Sessions = (*session.Manager)(nil)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response of the form {"detail": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"detail": message})
}
