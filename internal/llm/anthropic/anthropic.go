// Package anthropic adapts the Anthropic Messages API to llm.Model.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
)

const defaultMaxTokens = 2048

// Config configures the Anthropic adapter.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Model calls a single Claude model.
type Model struct {
	client *anthropic.Client
	cfg    Config
}

// New creates an Anthropic-backed model.
func New(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &Model{client: &client, cfg: cfg}, nil
}

// Generate implements llm.Model.
func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	msg, err := m.client.Messages.New(ctx, m.buildParams(req))
	if err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderAnthropic, Err: err}
	}

	resp := convertResponse(msg)
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderAnthropic, Err: llm.ErrEmptyResponse}
	}
	return resp, nil
}

func (m *Model) buildParams(req llm.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.cfg.Model),
		MaxTokens: int64(m.cfg.MaxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if m.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(m.cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

// convertMessages maps the transcript to alternating user/assistant turns.
// Consecutive tool results are folded into one user turn.
func convertMessages(messages []domain.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case domain.RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.RoleAssistant:
			flush()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(args),
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return out
}

func convertTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := tool.JSONSchema()
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   tool.RequiredNames(),
				},
			},
		}
	}
	return out
}

func convertResponse(msg *anthropic.Message) llm.Response {
	var text strings.Builder
	var calls []domain.ToolCall

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, domain.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return llm.Response{
		Text:      strings.TrimSpace(text.String()),
		ToolCalls: calls,
	}
}
