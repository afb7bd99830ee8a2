package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
	"github.com/amma-stories/amma/internal/prompts"
)

// Tool names exposed to the collector.
const (
	ToolUpdatePreferences = "update_story_preferences"
	ToolRequestNewStory   = "request_new_story"
)

// ErrUnknownTool is returned when the model names a tool that does not exist.
var ErrUnknownTool = errors.New("unknown tool")

// ToolInvocation is a decoded tool call. The concrete type is one of
// UpdatePreferences or RequestNewStory.
type ToolInvocation interface {
	isToolInvocation()
}

// UpdatePreferences merges any provided value into the story preferences.
type UpdatePreferences struct {
	ChildName          string `json:"child_name"`
	StoryTheme         string `json:"story_theme"`
	SuggestedRevisions string `json:"suggested_revisions"`
}

// RequestNewStory merges name and theme, then discards the current story and
// every transient field.
type RequestNewStory struct {
	ChildName  string `json:"child_name"`
	StoryTheme string `json:"story_theme"`
}

func (UpdatePreferences) isToolInvocation() {}
func (RequestNewStory) isToolInvocation()   {}

// toolArgs lists each tool's arguments in prompt order.
var toolArgs = map[string][]string{
	ToolUpdatePreferences: {"child_name", "story_theme", "suggested_revisions"},
	ToolRequestNewStory:   {"child_name", "story_theme"},
}

var toolOrder = []string{ToolUpdatePreferences, ToolRequestNewStory}

// Toolset holds the collector's tool definitions and their compiled argument
// schemas.
type Toolset struct {
	defs    []llm.ToolDefinition
	schemas map[string]*jsonschema.Schema
}

// NewToolset builds the tool definitions from the prompt texts.
func NewToolset(r *prompts.Renderer) (*Toolset, error) {
	ts := &Toolset{schemas: make(map[string]*jsonschema.Schema, len(toolOrder))}
	for _, name := range toolOrder {
		text := r.Tool(name)
		def := llm.ToolDefinition{Name: name, Description: text.Description}
		for _, arg := range toolArgs[name] {
			def.Properties = append(def.Properties, llm.ToolProperty{Name: arg, Description: text.Properties[arg]})
		}

		schema, err := compileSchema(name, def.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		ts.defs = append(ts.defs, def)
		ts.schemas[name] = schema
	}
	return ts, nil
}

// Definitions returns the tools offered to the model.
func (t *Toolset) Definitions() []llm.ToolDefinition {
	return append([]llm.ToolDefinition(nil), t.defs...)
}

// Decode validates a tool call and returns its typed invocation.
func (t *Toolset) Decode(call domain.ToolCall) (ToolInvocation, error) {
	schema, ok := t.schemas[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	args, err := parseArgs(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}
	if err := schema.Validate(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}

	switch call.Name {
	case ToolUpdatePreferences:
		var inv UpdatePreferences
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
		return inv, nil
	case ToolRequestNewStory:
		var inv RequestNewStory
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
		return inv, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
}

// parseArgs decodes the argument object. Null values are dropped so that an
// explicit null means the same as an omitted argument.
func parseArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return map[string]any{}, nil
	}
	for k, v := range args {
		if v == nil {
			delete(args, k)
		}
	}
	return args, nil
}

// Execute returns the state update and the tool-result text for inv.
func Execute(inv ToolInvocation) (domain.Patch, string) {
	switch inv := inv.(type) {
	case UpdatePreferences:
		patch := domain.Patch{
			ChildName:          domain.SetIfNotEmpty(inv.ChildName),
			StoryTheme:         domain.SetIfNotEmpty(inv.StoryTheme),
			SuggestedRevisions: domain.SetIfNotEmpty(inv.SuggestedRevisions),
		}
		updates := describe(
			"name", inv.ChildName,
			"theme", inv.StoryTheme,
			"revisions", inv.SuggestedRevisions,
		)
		if updates == "" {
			updates = "no changes"
		}
		return patch, "Successfully updated - " + updates

	case RequestNewStory:
		patch := domain.Patch{
			ChildName:          domain.SetIfNotEmpty(inv.ChildName),
			StoryTheme:         domain.SetIfNotEmpty(inv.StoryTheme),
			GeneratedStory:     domain.Clear[string](),
			SuggestedRevisions: domain.Clear[string](),
			CurrentStory:       domain.Clear[string](),
			EvaluationResult:   domain.Clear[domain.Evaluation](),
			EvaluationFeedback: domain.Clear[string](),
			RevisionCount:      domain.Set(0),
		}
		updates := describe("name", inv.ChildName, "theme", inv.StoryTheme)
		if updates == "" {
			updates = "with current preferences"
		}
		return patch, "Starting new story - " + updates

	default:
		panic(fmt.Sprintf("agent: unhandled tool invocation %T", inv))
	}
}

// describe renders "label: value" pairs for the non-empty values.
func describe(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			parts = append(parts, pairs[i]+": "+pairs[i+1])
		}
	}
	return strings.Join(parts, ", ")
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
