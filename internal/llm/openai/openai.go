// Package openai adapts the OpenAI Responses API to llm.Model.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
)

// Config configures the OpenAI adapter.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Model calls a single OpenAI model.
type Model struct {
	client *openai.Client
	cfg    Config
}

// New creates an OpenAI-backed model.
func New(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &Model{client: &client, cfg: cfg}, nil
}

// Generate implements llm.Model.
func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	result, err := m.client.Responses.New(ctx, m.buildParams(req))
	if err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderOpenAI, Err: err}
	}

	resp := llm.Response{
		Text:      strings.TrimSpace(result.OutputText()),
		ToolCalls: extractToolCalls(result),
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderOpenAI, Err: llm.ErrEmptyResponse}
	}
	return resp, nil
}

func (m *Model) buildParams(req llm.Request) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(m.cfg.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.Messages, req.SystemPrompt),
		},
	}
	if m.cfg.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(m.cfg.MaxTokens))
	}
	if m.cfg.Temperature > 0 {
		params.Temperature = openai.Float(m.cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

func convertMessages(messages []domain.Message, systemPrompt string) responses.ResponseInputParam {
	out := make(responses.ResponseInputParam, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, responses.ResponseInputItemParamOfMessage(systemPrompt, responses.EasyInputMessageRoleSystem))
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case domain.RoleAssistant:
			if msg.Content != "" {
				out = append(out, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				out = append(out, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case domain.RoleTool:
			out = append(out, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}
	return out
}

func convertTools(tools []llm.ToolDefinition) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		out[i] = responses.ToolParamOfFunction(tool.Name, tool.JSONSchema(), false)
		if tool.Description != "" {
			fn := out[i].OfFunction
			fn.Description = openai.String(tool.Description)
			out[i].OfFunction = fn
		}
	}
	return out
}

func extractToolCalls(result *responses.Response) []domain.ToolCall {
	var calls []domain.ToolCall
	for _, item := range result.Output {
		if item.Type != "function_call" {
			continue
		}
		id := item.CallID
		if id == "" {
			id = item.ID
		}
		calls = append(calls, domain.ToolCall{
			ID:        id,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}
	return calls
}
