// Package llm defines the provider-neutral language model contract used by the
// story agent roles.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amma-stories/amma/internal/domain"
)

// ErrEmptyResponse is returned when a provider answers with neither text nor
// tool calls.
var ErrEmptyResponse = errors.New("llm: empty response")

// Model generates one assistant turn from a transcript.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request is a single model invocation.
type Request struct {
	SystemPrompt string
	Messages     []domain.Message
	Tools        []ToolDefinition
}

// Response is the assistant turn produced by a model.
type Response struct {
	Text      string
	ToolCalls []domain.ToolCall
}

// Message converts the response into a transcript entry.
func (r Response) Message() domain.Message {
	m := domain.AssistantMessage(r.Text)
	if len(r.ToolCalls) > 0 {
		m.ToolCalls = append([]domain.ToolCall(nil), r.ToolCalls...)
	}
	return m
}

// ToolProperty is one string argument of a tool.
type ToolProperty struct {
	Name        string
	Description string
	Required    bool
}

// ToolDefinition describes a tool the model may call. All arguments are
// strings, which is all the story tools need.
type ToolDefinition struct {
	Name        string
	Description string
	Properties  []ToolProperty
}

// JSONSchema returns the object schema for the tool arguments.
func (d ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Properties))
	required := []string{}
	for _, p := range d.Properties {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// RequiredNames lists the required argument names in declaration order.
func (d ToolDefinition) RequiredNames() []string {
	var out []string
	for _, p := range d.Properties {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// ProviderError wraps a failure reported by a model provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider names accepted in a model spec.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// ModelSpec names a provider and one of its models.
type ModelSpec struct {
	Provider string
	Model    string
}

func (s ModelSpec) String() string {
	return s.Provider + "/" + s.Model
}

// ParseModelSpec splits "provider/model". A bare model name is treated as an
// OpenAI model; "gemini" is accepted as an alias for google.
func ParseModelSpec(spec string) (ModelSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ModelSpec{}, fmt.Errorf("model spec is empty")
	}

	provider, model, ok := strings.Cut(spec, "/")
	if !ok {
		return ModelSpec{Provider: ProviderOpenAI, Model: spec}, nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if model == "" {
		return ModelSpec{}, fmt.Errorf("model spec %q has no model name", spec)
	}

	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	case "gemini":
		provider = ProviderGoogle
	default:
		return ModelSpec{}, fmt.Errorf("unsupported model provider %q", provider)
	}
	return ModelSpec{Provider: provider, Model: model}, nil
}
