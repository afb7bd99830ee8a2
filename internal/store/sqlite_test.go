package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amma-stories/amma/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "amma.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListStories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordStory(ctx, domain.StoryRecord{
		ID: "02", SessionID: "s1", TurnID: "t2", Story: "second", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.RecordStory(ctx, domain.StoryRecord{
		ID: "01", SessionID: "s1", TurnID: "t1", ChildName: "Mia", Theme: "owls",
		Story: "first", RevisionCount: 2, CreatedAt: base,
	}))
	require.NoError(t, s.RecordStory(ctx, domain.StoryRecord{
		ID: "03", SessionID: "other", TurnID: "t3", Story: "elsewhere", CreatedAt: base,
	}))

	stories, err := s.ListStories(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, domain.StoryRecord{
		ID: "01", SessionID: "s1", TurnID: "t1", ChildName: "Mia", Theme: "owls",
		Story: "first", RevisionCount: 2, CreatedAt: base,
	}, stories[0])
	assert.Equal(t, "second", stories[1].Story)

	none, err := s.ListStories(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordAndListTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)

	rec := domain.TurnRecord{
		ID:        "01J0000000000000000000000",
		SessionID: "s1",
		UserText:  "dragons",
		Reply:     "I encountered an error: writer: timeout. Please try again.",
		Path:      []string{"collector", "writer"},
		Error:     "writer: timeout",
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}
	require.NoError(t, s.RecordTurn(ctx, rec))
	require.NoError(t, s.RecordTurn(ctx, domain.TurnRecord{
		ID: "02", SessionID: "s1", UserText: "hi", Reply: "hello", Path: []string{"collector"}, StartedAt: started.Add(time.Second),
	}))

	turns, err := s.ListTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, rec, turns[0])
	assert.False(t, turns[1].Failed())
}

func TestRecordTurnRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.TurnRecord{ID: "dup", SessionID: "s1", Path: []string{}, StartedAt: time.Now()}
	require.NoError(t, s.RecordTurn(ctx, rec))
	assert.Error(t, s.RecordTurn(ctx, rec))
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordTurn(ctx, domain.TurnRecord{ID: "t1", SessionID: "s1", StartedAt: now}))
	require.NoError(t, s.RecordStory(ctx, domain.StoryRecord{ID: "st1", SessionID: "s1", TurnID: "t1", Story: "x", CreatedAt: now}))
	require.NoError(t, s.RecordStory(ctx, domain.StoryRecord{ID: "st2", SessionID: "s2", TurnID: "t2", Story: "y", CreatedAt: now}))

	require.NoError(t, s.DeleteSession(ctx, "s1"))

	stories, err := s.ListStories(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, stories)
	turns, err := s.ListTurns(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	kept, err := s.ListStories(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestPingAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amma.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.RecordStory(context.Background(), domain.StoryRecord{ID: "a", SessionID: "s", Story: "kept", CreatedAt: time.Now()}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	stories, err := reopened.ListStories(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "kept", stories[0].Story)
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("constraint failed")
	err = withRetry(context.Background(), "op", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = withRetry(ctx, "op", func() error { return errors.New("SQLITE_BUSY") })
	assert.ErrorIs(t, err, context.Canceled)
}
