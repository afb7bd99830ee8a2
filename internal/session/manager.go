// Package session owns the conversation state of every active session and
// runs one graph turn at a time per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/amma-stories/amma/internal/agent"
	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/identity"
)

// ApologyText is the reply when a turn ends without an assistant message.
const ApologyText = "I'm sorry, I couldn't generate a response. Please try again."

// ErrNotFound is returned for operations on unknown sessions.
var ErrNotFound = errors.New("session not found")

// FaultText is the reply for a turn whose graph run failed.
func FaultText(err error) string {
	return fmt.Sprintf("I encountered an error: %s. Please try again.", err)
}

// Archive receives diagnostic records. Failures are logged and never affect a
// turn.
type Archive interface {
	RecordTurn(ctx context.Context, rec domain.TurnRecord) error
	RecordStory(ctx context.Context, rec domain.StoryRecord) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type entry struct {
	// turn holds one token; whoever holds it runs the session's turn.
	turn chan struct{}

	mu         sync.Mutex
	state      domain.ConversationState
	lastActive time.Time
}

func newEntry(now time.Time) *entry {
	return &entry{turn: make(chan struct{}, 1), lastActive: now}
}

func (e *entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastActive = now
	e.mu.Unlock()
}

func (e *entry) idleSince(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive.Before(cutoff)
}

func (e *entry) snapshot() domain.ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Manager maps session identifiers to conversation state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	runner  agent.Runner
	archive Archive
	convLog agent.ConversationLogger
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive records turns and presented stories.
func WithArchive(a Archive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithConversationLogger records user and assistant messages.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.convLog = l
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager running turns through runner.
func NewManager(runner agent.Runner, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		runner:   runner,
		convLog:  agent.NopConversationLogger(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) getOrCreate(id string) *entry {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.sessions[id]; ok {
		return e
	}
	e = newEntry(m.now())
	m.sessions[id] = e
	m.logger.Info("Session created", "session_id", id)
	return e
}

// claim returns the session's entry with its turn token held. The entry is
// marked active while the manager lock is held so an idle sweep cannot take
// it between lookup and token acquisition.
func (m *Manager) claim(ctx context.Context, id string) (*entry, error) {
	for {
		m.mu.Lock()
		e, ok := m.sessions[id]
		if !ok {
			e = newEntry(m.now())
			m.sessions[id] = e
			m.logger.Info("Session created", "session_id", id)
		}
		e.touch(m.now())
		m.mu.Unlock()

		select {
		case e.turn <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if m.owns(id, e) {
			return e, nil
		}
		// Removed while we waited; start over on a fresh entry.
		<-e.turn
	}
}

// owns reports whether e is still the registered entry for id.
func (m *Manager) owns(id string, e *entry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id] == e
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	return e, ok
}

// GetOrCreate returns a copy of the session's state, creating an empty
// session when none exists.
func (m *Manager) GetOrCreate(id string) domain.ConversationState {
	return m.getOrCreate(id).snapshot()
}

// Snapshot returns a copy of the session's state.
func (m *Manager) Snapshot(id string) (domain.ConversationState, bool) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.ConversationState{}, false
	}
	return e.snapshot(), true
}

// IsFresh reports whether the session is unknown or has no history yet.
func (m *Manager) IsFresh(id string) bool {
	s, ok := m.Snapshot(id)
	return !ok || len(s.Messages) == 0
}

// Remove drops the session. It reports whether the session existed. Archived
// rows are purged once any running turn of the session has finished.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.logger.Info("Session removed", "session_id", id)
	m.purge(ctx, id, e)
	return true
}

// purge waits for e's turn token and then forgets the session's records. If
// ctx ends first the purge finishes in the background.
func (m *Manager) purge(ctx context.Context, id string, e *entry) {
	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		go m.purge(context.WithoutCancel(ctx), id, e)
		return
	}
	defer func() { <-e.turn }()
	m.purgeHeld(ctx, id)
}

// purgeHeld forgets the session's records; the caller holds the turn token.
func (m *Manager) purgeHeld(ctx context.Context, id string) {
	m.convLog.Log(agent.ConversationLogEvent{
		SessionID: id,
		EventType: agent.EventSessionRemoved,
	})
	if m.archive == nil {
		return
	}
	if err := m.archive.DeleteSession(context.WithoutCancel(ctx), id); err != nil {
		m.logger.Warn("Failed to delete archived session", "session_id", id, "error", err)
	}
}

// IDs returns the identifiers of all sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Turn is the outcome of ApplyTurn.
type Turn struct {
	Reply  string
	Record domain.TurnRecord
}

// ApplyTurn appends text as a user message, runs the graph and stores the
// resulting state. Graph failures become a fault reply; the state is kept as
// of the last applied update. The only error returned is ctx's, when it ends
// while waiting for an earlier turn of the same session.
func (m *Manager) ApplyTurn(ctx context.Context, id, text string) (Turn, error) {
	e, err := m.claim(ctx, id)
	if err != nil {
		return Turn{}, err
	}
	defer func() { <-e.turn }()

	ctx = identity.WithSessionID(ctx, id)
	started := m.now()
	rec := domain.TurnRecord{
		ID:        ulid.Make().String(),
		SessionID: id,
		UserText:  text,
		StartedAt: started,
	}

	m.convLog.Log(agent.ConversationLogEvent{
		SessionID:  id,
		Direction:  "inbound",
		EventType:  agent.EventUserMessage,
		ContentRaw: text,
		Meta:       map[string]any{"turn_id": rec.ID},
	})

	input := e.snapshot().WithUserMessage(text)
	res, err := m.runner.Run(ctx, input)

	e.mu.Lock()
	e.state = res.State
	e.lastActive = m.now()
	e.mu.Unlock()

	for _, n := range res.Path {
		rec.Path = append(rec.Path, string(n))
	}
	rec.Duration = m.now().Sub(started)

	var reply string
	if err != nil {
		rec.Error = err.Error()
		reply = FaultText(err)
		m.logger.Error("Turn failed", "session_id", id, "turn_id", rec.ID, "error", err)
		m.convLog.Log(agent.ConversationLogEvent{
			SessionID: id,
			EventType: agent.EventTurnError,
			Content:   err.Error(),
			Meta:      map[string]any{"turn_id": rec.ID},
		})
	} else if out, ok := agent.ReplyText(res.State); ok {
		reply = out
	} else {
		reply = ApologyText
	}
	rec.Reply = reply

	m.convLog.Log(agent.ConversationLogEvent{
		SessionID:  id,
		Direction:  "outbound",
		EventType:  agent.EventAssistantMessage,
		ContentRaw: reply,
		Meta:       map[string]any{"turn_id": rec.ID, "path": rec.Path, "duration_ms": rec.Duration.Milliseconds()},
	})
	m.logger.Info("Turn completed",
		"session_id", id,
		"turn_id", rec.ID,
		"steps", len(rec.Path),
		"stories", len(res.Presented),
		"duration", rec.Duration,
		"failed", rec.Failed())

	if m.owns(id, e) {
		m.archiveTurn(ctx, rec, res)
	} else {
		m.logger.Info("Session removed during turn, archive skipped", "session_id", id, "turn_id", rec.ID)
	}
	return Turn{Reply: reply, Record: rec}, nil
}

func (m *Manager) archiveTurn(ctx context.Context, rec domain.TurnRecord, res agent.Result) {
	if m.archive == nil {
		return
	}
	// Archive writes outlive a canceled request.
	ctx = context.WithoutCancel(ctx)
	if err := m.archive.RecordTurn(ctx, rec); err != nil {
		m.logger.Warn("Failed to archive turn", "session_id", rec.SessionID, "turn_id", rec.ID, "error", err)
	}
	for _, p := range res.Presented {
		story := domain.StoryRecord{
			ID:            ulid.Make().String(),
			SessionID:     rec.SessionID,
			TurnID:        rec.ID,
			ChildName:     res.State.ChildName,
			Theme:         res.State.StoryTheme,
			Story:         p.Story,
			RevisionCount: p.RevisionCount,
			CreatedAt:     m.now(),
		}
		if err := m.archive.RecordStory(ctx, story); err != nil {
			m.logger.Warn("Failed to archive story", "session_id", rec.SessionID, "turn_id", rec.ID, "error", err)
		}
	}
}
