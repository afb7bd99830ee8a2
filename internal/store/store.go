// Package store archives turns and presented stories for diagnostics. The
// archive is never read back into conversation state.
package store

import (
	"context"

	"github.com/amma-stories/amma/internal/domain"
)

// Repository defines the archive operations.
type Repository interface {
	// RecordTurn stores one graph turn.
	RecordTurn(ctx context.Context, rec domain.TurnRecord) error

	// RecordStory stores a story delivered by the presenter.
	RecordStory(ctx context.Context, rec domain.StoryRecord) error

	// ListStories returns a session's stories, oldest first.
	ListStories(ctx context.Context, sessionID string) ([]domain.StoryRecord, error)

	// ListTurns returns a session's turns, oldest first.
	ListTurns(ctx context.Context, sessionID string) ([]domain.TurnRecord, error)

	// DeleteSession removes every record of a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
