package agent

import (
	"github.com/amma-stories/amma/internal/domain"
)

// Route reasons, logged with every transition.
const (
	ReasonToolCall                = "tool_call"
	ReasonRevisionRequested       = "revision_requested"
	ReasonPreferencesWithoutStory = "preferences_without_story"
	ReasonUserClosingCue          = "user_closing_cue"
	ReasonAssistantClosingCue     = "assistant_closing_cue"
	ReasonAwaitingUser            = "awaiting_user"
	ReasonApproved                = "approved"
	ReasonRevisionCap             = "revision_cap"
	ReasonNeedsRevision           = "needs_revision"
	ReasonFixed                   = "fixed_edge"
)

// Route is a routing decision.
type Route struct {
	Next   Node
	Reason string
}

// RouteFromCollector picks the node after the collector. It is a pure
// function of the state with the collector's reply applied.
func RouteFromCollector(s domain.ConversationState) Route {
	reply, _ := s.LastMessage()
	if reply.HasToolCalls() {
		return Route{Next: NodeToolHandler, Reason: ReasonToolCall}
	}

	if s.SuggestedRevisions != "" && s.GeneratedStory != "" {
		return Route{Next: NodeWriter, Reason: ReasonRevisionRequested}
	}
	if (s.ChildName != "" || s.StoryTheme != "") && s.GeneratedStory == "" {
		return Route{Next: NodeWriter, Reason: ReasonPreferencesWithoutStory}
	}

	if user, ok := s.LastMessageWithRole(domain.RoleUser); ok && IsUserClosing(user.Content) {
		return Route{Next: NodeEnd, Reason: ReasonUserClosingCue}
	}
	if reply.Role == domain.RoleAssistant && IsAssistantClosing(reply.Content) {
		return Route{Next: NodeEnd, Reason: ReasonAssistantClosingCue}
	}
	return Route{Next: NodeEnd, Reason: ReasonAwaitingUser}
}

// RouteFromCritic presents an approved draft, or any draft once the revision
// cap is reached, and otherwise loops through the revision handler.
func RouteFromCritic(s domain.ConversationState) Route {
	if s.EvaluationResult == domain.EvaluationApproved {
		return Route{Next: NodePresenter, Reason: ReasonApproved}
	}
	if s.RevisionCapReached() {
		return Route{Next: NodePresenter, Reason: ReasonRevisionCap}
	}
	return Route{Next: NodeRevisionHandler, Reason: ReasonNeedsRevision}
}

// next returns the transition out of node for the updated state.
func next(node Node, s domain.ConversationState) Route {
	switch node {
	case NodeCollector:
		return RouteFromCollector(s)
	case NodeToolHandler:
		return Route{Next: NodeCollector, Reason: ReasonFixed}
	case NodeWriter:
		return Route{Next: NodeCritic, Reason: ReasonFixed}
	case NodeCritic:
		return RouteFromCritic(s)
	case NodeRevisionHandler:
		return Route{Next: NodeWriter, Reason: ReasonFixed}
	default:
		return Route{Next: NodeEnd, Reason: ReasonFixed}
	}
}
