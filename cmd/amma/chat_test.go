package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amma-stories/amma/internal/session"
	"github.com/amma-stories/amma/internal/stream"
)

type echoSessions struct {
	inputs []string
	err    error
}

func (s *echoSessions) IsFresh(string) bool { return len(s.inputs) == 0 }

func (s *echoSessions) ApplyTurn(_ context.Context, _ string, text string) (session.Turn, error) {
	if s.err != nil {
		return session.Turn{}, s.err
	}
	s.inputs = append(s.inputs, text)
	return session.Turn{Reply: "You said " + text}, nil
}

func newTestDeliverer() *stream.Deliverer {
	return stream.NewDeliverer(stream.NewRegistry(nil), stream.Pacing{}, nil)
}

func TestChatLoopTypesReplies(t *testing.T) {
	sessions := &echoSessions{}
	var out bytes.Buffer

	err := chatLoop(context.Background(), sessions, newTestDeliverer(), "cli",
		strings.NewReader("Mia\n\n   \ndragons\nquit\nnever read\n"), &out)

	require.NoError(t, err)
	assert.Equal(t, []string{"Mia", "dragons"}, sessions.inputs)
	assert.Equal(t,
		"You: AMMA: You said Mia\nYou: You: You: AMMA: You said dragons\nYou: ",
		out.String())
}

func TestChatLoopEndsOnEOF(t *testing.T) {
	sessions := &echoSessions{}
	var out bytes.Buffer

	err := chatLoop(context.Background(), sessions, newTestDeliverer(), "cli", strings.NewReader("EXIT"), &out)

	require.NoError(t, err)
	assert.Empty(t, sessions.inputs)

	out.Reset()
	err = chatLoop(context.Background(), sessions, newTestDeliverer(), "cli", strings.NewReader("hello"), &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, sessions.inputs)
	assert.True(t, strings.HasSuffix(out.String(), "You: \n"))
}

func TestChatLoopShowsTurnErrors(t *testing.T) {
	sessions := &echoSessions{err: errors.New("turn lock busy")}
	var out bytes.Buffer

	err := chatLoop(context.Background(), sessions, newTestDeliverer(), "cli", strings.NewReader("hi\nexit\n"), &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Error: turn lock busy\n")
}
