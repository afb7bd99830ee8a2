// Package prompts renders the system instructions given to each agent role.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Name identifies a prompt template.
type Name string

const (
	Collector      Name = "collector"
	LastStep       Name = "last_step"
	Writer         Name = "writer"
	WriteRequest   Name = "write_request"
	ReviseFeedback Name = "revise_feedback"
	Critic         Name = "critic"
	ReviewRequest  Name = "review_request"
)

var requiredTemplates = []Name{Collector, LastStep, Writer, WriteRequest, ReviseFeedback, Critic, ReviewRequest}

// CollectorData fills the collector template. Empty fields render as "None".
type CollectorData struct {
	ChildName          string
	StoryTheme         string
	GeneratedStory     string
	SuggestedRevisions string
	SystemTime         string
}

// WriterData fills the writer template.
type WriterData struct {
	ChildName          string
	ChildAge           string
	StoryTheme         string
	GeneratedStory     string
	SuggestedRevisions string
	SystemTime         string
}

// CriticData fills the critic template.
type CriticData struct {
	StoryTheme         string
	Story              string
	SuggestedRevisions string
	SystemTime         string
}

// FeedbackData fills the revise_feedback template.
type FeedbackData struct {
	Feedback string
}

// ToolText holds the model-facing description of a tool and its arguments.
type ToolText struct {
	Description string            `yaml:"description"`
	Properties  map[string]string `yaml:"properties"`
}

type file struct {
	Templates map[Name]string     `yaml:"templates"`
	Tools     map[string]ToolText `yaml:"tools"`
}

// Renderer holds parsed prompt templates.
type Renderer struct {
	templates map[Name]*template.Template
	tools     map[string]ToolText
}

// NewRenderer parses the embedded prompts.
func NewRenderer() (*Renderer, error) {
	return Load("")
}

// Load parses the embedded prompts and, when overridePath is set, replaces
// any template or tool text the override file defines.
func Load(overridePath string) (*Renderer, error) {
	var base file
	if err := yaml.Unmarshal(defaultPrompts, &base); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}
		var override file
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse prompts file %s: %w", overridePath, err)
		}
		for name, text := range override.Templates {
			base.Templates[name] = text
		}
		for name, tool := range override.Tools {
			base.Tools[name] = tool
		}
	}

	r := &Renderer{
		templates: make(map[Name]*template.Template, len(base.Templates)),
		tools:     base.Tools,
	}
	for _, name := range requiredTemplates {
		text, ok := base.Templates[name]
		if !ok {
			return nil, fmt.Errorf("prompt template %q is missing", name)
		}
		tmpl, err := template.New(string(name)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %q: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name Name, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// Tool returns the model-facing text for a tool. Unknown tools yield an
// empty ToolText.
func (r *Renderer) Tool(name string) ToolText {
	return r.tools[name]
}

// OrNone substitutes "None" for an empty value.
func OrNone(s string) string {
	return OrDefault(s, "None")
}

// OrDefault substitutes fallback for an empty value.
func OrDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
