package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
	"github.com/amma-stories/amma/internal/prompts"
)

type reply struct {
	resp llm.Response
	err  error
}

func text(s string) reply { return reply{resp: llm.Response{Text: s}} }

func toolCall(id, name, args string) reply {
	return reply{resp: llm.Response{ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: args}}}}
}

func failure(err error) reply { return reply{err: err} }

// scriptedModel answers each role from its own queue. The last reply of a
// queue repeats once the queue is exhausted.
type scriptedModel struct {
	mu       sync.Mutex
	scripts  map[Node][]reply
	served   map[Node]int
	requests map[Node][]llm.Request
}

func newScriptedModel(scripts map[Node][]reply) *scriptedModel {
	return &scriptedModel{
		scripts:  scripts,
		served:   map[Node]int{},
		requests: map[Node][]llm.Request{},
	}
}

// roleOf identifies the calling role from the request shape.
func roleOf(req llm.Request) Node {
	if len(req.Messages) == 1 && req.Messages[0].Role == domain.RoleUser {
		switch content := req.Messages[0].Content; {
		case content == "Please review the story now.":
			return NodeCritic
		case content == "Please write the story now.", strings.HasPrefix(content, "Revise based on: "):
			return NodeWriter
		}
	}
	return NodeCollector
}

func (m *scriptedModel) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role := roleOf(req)
	m.requests[role] = append(m.requests[role], req)

	script := m.scripts[role]
	if len(script) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	i := m.served[role]
	if i >= len(script) {
		i = len(script) - 1
	}
	m.served[role]++
	r := script[i]
	return r.resp, r.err
}

func (m *scriptedModel) calls(role Node) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[role])
}

func (m *scriptedModel) request(role Node, i int) llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[role][i]
}

func newTestRoles(t *testing.T, model llm.Model) *Roles {
	t.Helper()
	renderer, err := prompts.NewRenderer()
	require.NoError(t, err)
	roles, err := NewRoles(model, renderer, nil)
	require.NoError(t, err)
	roles.now = func() time.Time { return time.Date(2026, 1, 2, 20, 0, 0, 0, time.UTC) }
	return roles
}

func newTestGraph(t *testing.T, model llm.Model, opts ...Option) *Graph {
	t.Helper()
	return NewGraph(newTestRoles(t, model), opts...)
}
