package domain

import (
	"time"
)

// TurnRecord summarizes one pass of the agent graph for a session.
type TurnRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	UserText  string        `json:"user_text"`
	Reply     string        `json:"reply"`
	Path      []string      `json:"path"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the turn ended with a fault reply.
func (t TurnRecord) Failed() bool {
	return t.Error != ""
}

// StoryRecord is a story that reached the child through the presenter.
type StoryRecord struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	TurnID        string    `json:"turn_id"`
	ChildName     string    `json:"child_name,omitempty"`
	Theme         string    `json:"theme,omitempty"`
	Story         string    `json:"story"`
	RevisionCount int       `json:"revision_count"`
	CreatedAt     time.Time `json:"created_at"`
}
