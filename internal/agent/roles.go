package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/amma-stories/amma/internal/domain"
	"github.com/amma-stories/amma/internal/llm"
	"github.com/amma-stories/amma/internal/prompts"
)

const (
	defaultChildName = "little one"
	defaultChildAge  = "5-10 years old"
	defaultTheme     = "magical adventure"

	// feedbackWindow is how many trailing transcript entries the writer scans
	// for critic feedback.
	feedbackWindow = 3
)

// ExecContext carries per-step facts into a role.
type ExecContext struct {
	Step     int
	LastStep bool
}

// Roles executes the graph nodes. Each method returns a partial state update
// and never mutates the state it receives.
type Roles struct {
	model   llm.Model
	prompts *prompts.Renderer
	tools   *Toolset
	now     func() time.Time
	logger  *slog.Logger
}

// NewRoles creates the role executors.
func NewRoles(model llm.Model, renderer *prompts.Renderer, logger *slog.Logger) (*Roles, error) {
	if model == nil {
		return nil, errors.New("agent: model is required")
	}
	if renderer == nil {
		return nil, errors.New("agent: prompt renderer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tools, err := NewToolset(renderer)
	if err != nil {
		return nil, err
	}
	return &Roles{
		model:   model,
		prompts: renderer,
		tools:   tools,
		now:     time.Now,
		logger:  logger,
	}, nil
}

func (r *Roles) systemTime() string {
	return r.now().UTC().Format(time.RFC3339)
}

// Collector talks with the child and may request tool calls.
func (r *Roles) Collector(ctx context.Context, s domain.ConversationState, ec ExecContext) (domain.Patch, error) {
	system, err := r.prompts.Render(prompts.Collector, prompts.CollectorData{
		ChildName:          prompts.OrNone(s.ChildName),
		StoryTheme:         prompts.OrNone(s.StoryTheme),
		GeneratedStory:     prompts.OrNone(s.GeneratedStory),
		SuggestedRevisions: prompts.OrNone(s.SuggestedRevisions),
		SystemTime:         r.systemTime(),
	})
	if err != nil {
		return domain.Patch{}, err
	}

	resp, err := r.model.Generate(ctx, llm.Request{
		SystemPrompt: system,
		Messages:     s.Messages,
		Tools:        r.tools.Definitions(),
	})
	if err != nil {
		return domain.Patch{}, err
	}

	if ec.LastStep && len(resp.ToolCalls) > 0 {
		suffix, err := r.prompts.Render(prompts.LastStep, nil)
		if err != nil {
			return domain.Patch{}, err
		}
		r.logger.Debug("Collector tool call on last step, re-invoking without tools", "step", ec.Step)
		resp, err = r.model.Generate(ctx, llm.Request{
			SystemPrompt: system + suffix,
			Messages:     s.Messages,
		})
		if err != nil {
			return domain.Patch{}, err
		}
		resp.ToolCalls = nil
	}

	return domain.Patch{Messages: []domain.Message{resp.Message()}}, nil
}

// ToolHandler executes the tool calls of the collector's last message. Every
// call is answered with a tool-result message, including calls that fail to
// decode.
func (r *Roles) ToolHandler(_ context.Context, s domain.ConversationState, _ ExecContext) (domain.Patch, error) {
	last, ok := s.LastMessage()
	if !ok || !last.HasToolCalls() {
		return domain.Patch{}, nil
	}

	var patch domain.Patch
	for _, call := range last.ToolCalls {
		inv, err := r.tools.Decode(call)
		if err != nil {
			r.logger.Warn("Rejected tool call", "tool", call.Name, "call_id", call.ID, "error", err)
			patch = patch.Merge(domain.Patch{
				Messages: []domain.Message{domain.ToolResultMessage(call, "Error: "+err.Error())},
			})
			continue
		}
		update, result := Execute(inv)
		update.Messages = append(update.Messages, domain.ToolResultMessage(call, result))
		patch = patch.Merge(update)
	}
	return patch, nil
}

// Writer drafts a new story or revises the existing one.
func (r *Roles) Writer(ctx context.Context, s domain.ConversationState, _ ExecContext) (domain.Patch, error) {
	system, err := r.prompts.Render(prompts.Writer, prompts.WriterData{
		ChildName:          prompts.OrDefault(s.ChildName, defaultChildName),
		ChildAge:           defaultChildAge,
		StoryTheme:         prompts.OrDefault(s.StoryTheme, defaultTheme),
		GeneratedStory:     s.GeneratedStory,
		SuggestedRevisions: s.SuggestedRevisions,
		SystemTime:         r.systemTime(),
	})
	if err != nil {
		return domain.Patch{}, err
	}

	var instruction string
	if feedback, ok := revisionFeedback(s); ok {
		instruction, err = r.prompts.Render(prompts.ReviseFeedback, prompts.FeedbackData{Feedback: feedback})
	} else {
		instruction, err = r.prompts.Render(prompts.WriteRequest, nil)
	}
	if err != nil {
		return domain.Patch{}, err
	}

	resp, err := r.model.Generate(ctx, llm.Request{
		SystemPrompt: system,
		Messages:     []domain.Message{domain.UserMessage(instruction)},
	})
	if err != nil {
		return domain.Patch{}, err
	}
	draft := strings.TrimSpace(resp.Text)
	if draft == "" {
		return domain.Patch{}, llm.ErrEmptyResponse
	}

	return domain.Patch{
		Messages:     []domain.Message{domain.AssistantMessage(draft)},
		CurrentStory: domain.Set(draft),
	}, nil
}

// revisionFeedback finds critic feedback for the writer: first among the last
// few transcript entries, then in the verdict kept across a revision loop.
func revisionFeedback(s domain.ConversationState) (string, bool) {
	start := len(s.Messages) - feedbackWindow
	if start < 0 {
		start = 0
	}
	for _, m := range s.Messages[start:] {
		if strings.Contains(m.Content, revisionMarker) {
			return m.Content, true
		}
	}
	if s.RevisionCount > 0 && strings.Contains(s.EvaluationFeedback, revisionMarker) {
		return s.EvaluationFeedback, true
	}
	return "", false
}

// Critic judges the draft in flight. Its text never reaches the transcript.
func (r *Roles) Critic(ctx context.Context, s domain.ConversationState, _ ExecContext) (domain.Patch, error) {
	story := s.CurrentStory
	if story == "" {
		if last, ok := s.LastMessage(); ok {
			story = last.Content
		}
	}

	system, err := r.prompts.Render(prompts.Critic, prompts.CriticData{
		StoryTheme:         prompts.OrDefault(s.StoryTheme, defaultTheme),
		Story:              story,
		SuggestedRevisions: prompts.OrNone(s.SuggestedRevisions),
		SystemTime:         r.systemTime(),
	})
	if err != nil {
		return domain.Patch{}, err
	}
	instruction, err := r.prompts.Render(prompts.ReviewRequest, nil)
	if err != nil {
		return domain.Patch{}, err
	}

	resp, err := r.model.Generate(ctx, llm.Request{
		SystemPrompt: system,
		Messages:     []domain.Message{domain.UserMessage(instruction)},
	})
	if err != nil {
		return domain.Patch{}, err
	}

	verdict := domain.EvaluationNeedsRevision
	if IsApproval(resp.Text) {
		verdict = domain.EvaluationApproved
	}
	return domain.Patch{
		CurrentStory:       domain.Set(story),
		EvaluationResult:   domain.Set(verdict),
		EvaluationFeedback: domain.Set(resp.Text),
	}, nil
}

// Presenter shows the draft to the child and returns the state to baseline.
func (r *Roles) Presenter(_ context.Context, s domain.ConversationState, _ ExecContext) (domain.Patch, error) {
	return domain.Patch{
		Messages:           []domain.Message{domain.AssistantMessage(s.CurrentStory)},
		GeneratedStory:     domain.Set(s.CurrentStory),
		CurrentStory:       domain.Clear[string](),
		SuggestedRevisions: domain.Clear[string](),
		EvaluationResult:   domain.Clear[domain.Evaluation](),
		EvaluationFeedback: domain.Clear[string](),
		RevisionCount:      domain.Set(0),
	}, nil
}

// RevisionHandler sends the draft back to the writer.
func (r *Roles) RevisionHandler(_ context.Context, s domain.ConversationState, _ ExecContext) (domain.Patch, error) {
	return domain.Patch{
		RevisionCount:    domain.Set(s.RevisionCount + 1),
		EvaluationResult: domain.Clear[domain.Evaluation](),
		CurrentStory:     domain.Clear[string](),
	}, nil
}
