package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini", MaxTokens: 256})
	require.NoError(t, err)
	return m
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestGenerateExtractsFunctionCalls(t *testing.T) {
	t.Parallel()

	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/responses"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "resp_1",
			"object": "response",
			"created_at": 0,
			"model": "gpt-4o-mini",
			"status": "completed",
			"output": [{
				"type": "function_call",
				"id": "fc_1",
				"call_id": "call_1",
				"name": "update_story_preferences",
				"arguments": "{\"child_name\":\"Mia\"}",
				"status": "completed"
			}]
		}`)
	})

	resp, err := m.Generate(context.Background(), llm.Request{
		SystemPrompt: "be kind",
		Messages:     []domain.Message{domain.UserMessage("my name is Mia")},
		Tools: []llm.ToolDefinition{{
			Name:       "update_story_preferences",
			Properties: []llm.ToolProperty{{Name: "child_name"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "update_story_preferences", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"child_name":"Mia"}`, resp.ToolCalls[0].Arguments)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.NotEmpty(t, body["tools"])
}

func TestGenerateEmptyOutputIsError(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"resp_2","object":"response","created_at":0,"model":"gpt-4o-mini","status":"completed","output":[]}`)
	})

	_, err := m.Generate(context.Background(), llm.Request{Messages: []domain.Message{domain.UserMessage("hey")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}

func TestConvertMessagesKeepsToolRoundTrip(t *testing.T) {
	t.Parallel()

	call := domain.ToolCall{ID: "call_1", Name: "request_new_story", Arguments: `{}`}
	items := convertMessages([]domain.Message{
		domain.UserMessage("another story please"),
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{call}},
		domain.ToolResultMessage(call, "Starting new story - with current preferences"),
	}, "system")

	// system + user + function_call + function_call_output
	assert.Len(t, items, 4)
}
