package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amma-stories/amma/internal/agent"
	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/identity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type runnerFunc func(ctx context.Context, s domain.ConversationState) (agent.Result, error)

func (f runnerFunc) Run(ctx context.Context, s domain.ConversationState) (agent.Result, error) {
	return f(ctx, s)
}

// echoRunner answers every user message with "echo: <text>".
func echoRunner() runnerFunc {
	return func(_ context.Context, s domain.ConversationState) (agent.Result, error) {
		last, _ := s.LastMessage()
		out := s.Apply(domain.Patch{Messages: []domain.Message{domain.AssistantMessage("echo: " + last.Content)}})
		return agent.Result{State: out, Path: []agent.Node{agent.NodeCollector}}, nil
	}
}

type memArchive struct {
	mu      sync.Mutex
	turns   []domain.TurnRecord
	stories []domain.StoryRecord
	deleted []string
	err     error
}

func (a *memArchive) RecordTurn(_ context.Context, rec domain.TurnRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, rec)
	return a.err
}

func (a *memArchive) RecordStory(_ context.Context, rec domain.StoryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stories = append(a.stories, rec)
	return a.err
}

func (a *memArchive) DeleteSession(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, id)
	return a.err
}

func TestApplyTurnStoresStateAndReturnsReply(t *testing.T) {
	m := NewManager(echoRunner())

	turn, err := m.ApplyTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", turn.Reply)
	assert.Equal(t, "s1", turn.Record.SessionID)
	assert.Len(t, turn.Record.ID, 26)
	assert.Equal(t, []string{"collector"}, turn.Record.Path)
	assert.False(t, turn.Record.Failed())

	s, ok := m.Snapshot("s1")
	require.True(t, ok)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.UserMessage("hello"), s.Messages[0])

	turn, err = m.ApplyTurn(context.Background(), "s1", "again")
	require.NoError(t, err)
	assert.Equal(t, "echo: again", turn.Reply)
	s, _ = m.Snapshot("s1")
	assert.Len(t, s.Messages, 4)
}

func TestApplyTurnApologizesWithoutAssistantMessage(t *testing.T) {
	m := NewManager(runnerFunc(func(_ context.Context, s domain.ConversationState) (agent.Result, error) {
		return agent.Result{State: s}, nil
	}))

	turn, err := m.ApplyTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, ApologyText, turn.Reply)
}

func TestApplyTurnFailureKeepsPartialState(t *testing.T) {
	boom := errors.New("model unavailable")
	m := NewManager(runnerFunc(func(_ context.Context, s domain.ConversationState) (agent.Result, error) {
		partial := s.Apply(domain.Patch{StoryTheme: domain.Set("dragons")})
		return agent.Result{State: partial}, &agent.NodeError{Node: agent.NodeWriter, Err: boom}
	}))

	turn, err := m.ApplyTurn(context.Background(), "s1", "dragons")
	require.NoError(t, err)
	assert.Equal(t, "I encountered an error: writer: model unavailable. Please try again.", turn.Reply)
	assert.True(t, turn.Record.Failed())

	s, ok := m.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "dragons", s.StoryTheme)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "dragons", s.Messages[0].Content)
}

func TestApplyTurnPassesSessionIDInContext(t *testing.T) {
	var seen string
	m := NewManager(runnerFunc(func(ctx context.Context, s domain.ConversationState) (agent.Result, error) {
		seen = identity.SessionIDFromContext(ctx)
		return agent.Result{State: s}, nil
	}))

	_, err := m.ApplyTurn(context.Background(), "tab-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, "tab-9", seen)
}

func TestSessionsAreIsolated(t *testing.T) {
	m := NewManager(echoRunner())

	const sessions, turns = 8, 5
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		for j := 0; j < turns; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.ApplyTurn(context.Background(), id, id)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, sessions, m.Count())
	for _, id := range m.IDs() {
		s, ok := m.Snapshot(id)
		require.True(t, ok)
		// Serialized turns never lose an update.
		require.Len(t, s.Messages, 2*turns)
		for _, msg := range s.Messages {
			assert.Contains(t, msg.Content, id)
		}
	}
}

func TestApplyTurnWaitsForRunningTurn(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	m := NewManager(runnerFunc(func(_ context.Context, s domain.ConversationState) (agent.Result, error) {
		close(started)
		<-release
		return agent.Result{State: s.Apply(domain.Patch{Messages: []domain.Message{domain.AssistantMessage("done")}})}, nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.ApplyTurn(context.Background(), "s1", "first")
		assert.NoError(t, err)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.ApplyTurn(ctx, "s1", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	s, _ := m.Snapshot("s1")
	assert.Len(t, s.Messages, 2)
}

func TestSessionLifecycle(t *testing.T) {
	archive := &memArchive{}
	m := NewManager(echoRunner(), WithArchive(archive))

	assert.True(t, m.IsFresh("s1"))
	state := m.GetOrCreate("s1")
	assert.Empty(t, state.Messages)
	assert.True(t, m.IsFresh("s1"))
	assert.Equal(t, 1, m.Count())

	_, err := m.ApplyTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.False(t, m.IsFresh("s1"))

	m.GetOrCreate("a0")
	assert.Equal(t, []string{"a0", "s1"}, m.IDs())

	assert.True(t, m.Remove(context.Background(), "s1"))
	assert.False(t, m.Remove(context.Background(), "s1"))
	_, ok := m.Snapshot("s1")
	assert.False(t, ok)
	assert.Equal(t, []string{"s1"}, archive.deleted)
	assert.Equal(t, 1, m.Count())
}

func TestArchiveReceivesTurnsAndStories(t *testing.T) {
	archive := &memArchive{err: errors.New("disk full")}
	m := NewManager(runnerFunc(func(_ context.Context, s domain.ConversationState) (agent.Result, error) {
		out := s.Apply(domain.Patch{
			ChildName:      domain.Set("Mia"),
			StoryTheme:     domain.Set("owls"),
			GeneratedStory: domain.Set("The owl blinked."),
			Messages:       []domain.Message{domain.AssistantMessage("The owl blinked.")},
		})
		return agent.Result{
			State:     out,
			Path:      []agent.Node{agent.NodeCollector, agent.NodeWriter, agent.NodeCritic, agent.NodePresenter},
			Presented: []agent.Presented{{Story: "The owl blinked.", RevisionCount: 1}},
		}, nil
	}), WithArchive(archive))

	turn, err := m.ApplyTurn(context.Background(), "s1", "owls")
	require.NoError(t, err, "archive failures never fail a turn")
	assert.Equal(t, "The owl blinked.", turn.Reply)

	require.Len(t, archive.turns, 1)
	assert.Equal(t, turn.Record.ID, archive.turns[0].ID)
	require.Len(t, archive.stories, 1)
	assert.Equal(t, turn.Record.ID, archive.stories[0].TurnID)
	assert.Equal(t, "Mia", archive.stories[0].ChildName)
	assert.Equal(t, "owls", archive.stories[0].Theme)
	assert.Equal(t, 1, archive.stories[0].RevisionCount)
}

func TestConversationLoggerSeesBothSides(t *testing.T) {
	rec := &recordingLog{}
	m := NewManager(echoRunner(), WithConversationLogger(rec))

	_, err := m.ApplyTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, agent.EventUserMessage, rec.events[0].EventType)
	assert.Equal(t, agent.EventAssistantMessage, rec.events[1].EventType)
	assert.Equal(t, "echo: hi", rec.events[1].ContentRaw)
}

type recordingLog struct {
	mu     sync.Mutex
	events []agent.ConversationLogEvent
}

func (r *recordingLog) Log(e agent.ConversationLogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLog) Close() error { return nil }

// gatedRunner signals started when a turn enters the graph and holds it there
// until release is closed.
func gatedRunner(started chan<- struct{}, release <-chan struct{}) runnerFunc {
	return func(ctx context.Context, s domain.ConversationState) (agent.Result, error) {
		started <- struct{}{}
		<-release
		return echoRunner()(ctx, s)
	}
}

func (a *memArchive) snapshot() (turns []domain.TurnRecord, deleted []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.TurnRecord(nil), a.turns...), append([]string(nil), a.deleted...)
}

func TestRemoveDuringTurnLeavesNoArchiveRows(t *testing.T) {
	archive := &memArchive{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := NewManager(gatedRunner(started, release), WithArchive(archive))

	turnDone := make(chan Turn, 1)
	go func() {
		turn, err := m.ApplyTurn(context.Background(), "a", "hi")
		assert.NoError(t, err)
		turnDone <- turn
	}()
	<-started

	removed := make(chan bool, 1)
	go func() { removed <- m.Remove(context.Background(), "a") }()

	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	select {
	case <-removed:
		t.Fatal("Remove returned before the running turn finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "echo: hi", (<-turnDone).Reply)
	assert.True(t, <-removed)

	turns, deleted := archive.snapshot()
	assert.Empty(t, turns)
	assert.Equal(t, []string{"a"}, deleted)
	_, ok := m.Snapshot("a")
	assert.False(t, ok)
}

func TestRemoveWithExpiredContextPurgesAfterTurn(t *testing.T) {
	archive := &memArchive{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := NewManager(gatedRunner(started, release), WithArchive(archive))

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		_, err := m.ApplyTurn(context.Background(), "a", "hi")
		assert.NoError(t, err)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, m.Remove(ctx, "a"))

	_, deleted := archive.snapshot()
	assert.Empty(t, deleted, "purge waits for the running turn")

	close(release)
	<-turnDone
	require.Eventually(t, func() bool {
		_, deleted := archive.snapshot()
		return len(deleted) == 1
	}, time.Second, 5*time.Millisecond)

	turns, _ := archive.snapshot()
	assert.Empty(t, turns)
}

func TestManagerLogMessagesAreSentenceCase(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := NewManager(echoRunner(), WithLogger(logger), WithArchive(&memArchive{}))

	_, err := m.ApplyTurn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.True(t, m.Remove(context.Background(), "s1"))

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec struct {
			Msg string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		msgs = append(msgs, rec.Msg)
		first := []rune(rec.Msg)[0]
		assert.True(t, unicode.IsUpper(first), "log message %q starts lowercase", rec.Msg)
	}
	assert.Equal(t, []string{"Session created", "Turn completed", "Session removed"}, msgs)
}
