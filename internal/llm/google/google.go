// Package google adapts the Gemini GenerateContent API to llm.Model.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"google.golang.org/genai"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
)

// Config configures the Gemini adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Model calls a single Gemini model.
type Model struct {
	client *genai.Client
	cfg    Config
}

// New creates a Gemini-backed model.
func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google: GOOGLE_API_KEY is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("google: model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Model{client: client, cfg: cfg}, nil
}

// Generate implements llm.Model.
func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderGoogle, Err: err}
	}

	result, err := m.client.Models.GenerateContent(ctx, m.cfg.Model, contents, m.buildConfig(req))
	if err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderGoogle, Err: err}
	}

	resp := convertResponse(result)
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return llm.Response{}, &llm.ProviderError{Provider: llm.ProviderGoogle, Err: llm.ErrEmptyResponse}
	}
	return resp, nil
}

func (m *Model) buildConfig(req llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if m.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(m.cfg.MaxTokens)
	}
	if m.cfg.Temperature > 0 {
		t := float32(m.cfg.Temperature)
		cfg.Temperature = &t
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	return cfg
}

func convertMessages(messages []domain.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case domain.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if strings.TrimSpace(tc.Arguments) != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", tc.ID, err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case domain.RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, map[string]any{"output": msg.Content})
			out = append(out, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return out, nil
}

func convertTools(tools []llm.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		props := make(map[string]*genai.Schema, len(tool.Properties))
		for _, p := range tool.Properties {
			props[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   tool.RequiredNames(),
			},
		}
	}
	return out
}

func convertResponse(result *genai.GenerateContentResponse) llm.Response {
	if result == nil {
		return llm.Response{}
	}

	var calls []domain.ToolCall
	for _, fc := range result.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = "call_" + ulid.Make().String()
		}
		calls = append(calls, domain.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
	}

	return llm.Response{
		Text:      strings.TrimSpace(result.Text()),
		ToolCalls: calls,
	}
}
