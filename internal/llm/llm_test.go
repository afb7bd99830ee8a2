package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    ModelSpec
		wantErr bool
	}{
		{in: "openai/gpt-4o-mini", want: ModelSpec{Provider: "openai", Model: "gpt-4o-mini"}},
		{in: "Anthropic/claude-haiku-4-5-20251001", want: ModelSpec{Provider: "anthropic", Model: "claude-haiku-4-5-20251001"}},
		{in: "gemini/gemini-2.5-flash", want: ModelSpec{Provider: "google", Model: "gemini-2.5-flash"}},
		{in: "gpt-4o", want: ModelSpec{Provider: "openai", Model: "gpt-4o"}},
		{in: "", wantErr: true},
		{in: "openai/", wantErr: true},
		{in: "mistral/large", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseModelSpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToolDefinitionJSONSchema(t *testing.T) {
	t.Parallel()

	def := ToolDefinition{
		Name: "update_story_preferences",
		Properties: []ToolProperty{
			{Name: "child_name", Description: "name"},
			{Name: "story_theme", Description: "theme", Required: true},
		},
	}

	schema := def.JSONSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"story_theme"}, schema["required"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 2)
	assert.Equal(t, []string{"story_theme"}, def.RequiredNames())
}

func TestResponseMessageCopiesToolCalls(t *testing.T) {
	t.Parallel()

	resp := Response{Text: "ok"}
	msg := resp.Message()
	assert.Equal(t, "ok", msg.Content)
	assert.False(t, msg.HasToolCalls())
}

func TestWithTimeoutCancelsStalledCall(t *testing.T) {
	t.Parallel()

	stalled := Func(func(ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})

	_, err := WithTimeout(stalled, 10*time.Millisecond).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithTimeoutZeroIsPassthrough(t *testing.T) {
	t.Parallel()

	m := Func(func(context.Context, Request) (Response, error) { return Response{Text: "hi"}, nil })
	wrapped := WithTimeout(m, 0)

	resp, err := wrapped.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
}

func TestProviderErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := &ProviderError{Provider: "openai", Err: ErrEmptyResponse}
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, err.Error(), "openai")
}
