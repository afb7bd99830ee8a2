package domain

// MaxRevisions caps the writer/critic cycles for a single story. The draft
// judged on the last allowed cycle is presented whatever the critic says.
const MaxRevisions = 3

// Evaluation is the critic's verdict on the draft in flight.
type Evaluation string

const (
	// EvaluationNone means no verdict is pending.
	EvaluationNone Evaluation = ""
	// EvaluationApproved lets the draft be presented.
	EvaluationApproved Evaluation = "approved"
	// EvaluationNeedsRevision sends the draft back to the writer.
	EvaluationNeedsRevision Evaluation = "needs_revision"
)

// ConversationState is the per-session record shared by every role.
// Empty strings stand for "not set".
type ConversationState struct {
	Messages []Message `json:"messages"`

	ChildName          string `json:"child_name,omitempty"`
	StoryTheme         string `json:"story_theme,omitempty"`
	GeneratedStory     string `json:"generated_story,omitempty"`
	CurrentStory       string `json:"current_story,omitempty"`
	SuggestedRevisions string `json:"suggested_revisions,omitempty"`

	EvaluationResult   Evaluation `json:"evaluation_result,omitempty"`
	EvaluationFeedback string     `json:"evaluation_feedback,omitempty"`
	RevisionCount      int        `json:"revision_count"`
}

// Clone returns a copy that shares no mutable memory with s.
func (s ConversationState) Clone() ConversationState {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return out
}

// WithUserMessage returns a copy of s with text appended as a user message.
func (s ConversationState) WithUserMessage(text string) ConversationState {
	return s.Apply(Patch{Messages: []Message{UserMessage(text)}})
}

// LastMessage returns the newest transcript entry.
func (s ConversationState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastMessageWithRole returns the newest transcript entry carrying role.
func (s ConversationState) LastMessageWithRole(role Role) (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == role {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// IsBaseline reports whether no draft, verdict, or pending revision remains.
func (s ConversationState) IsBaseline() bool {
	return s.CurrentStory == "" &&
		s.SuggestedRevisions == "" &&
		s.EvaluationResult == EvaluationNone &&
		s.EvaluationFeedback == "" &&
		s.RevisionCount == 0
}

// DraftCycle is the 1-based writer/critic cycle of the draft in flight.
func (s ConversationState) DraftCycle() int {
	return s.RevisionCount + 1
}

// RevisionCapReached reports whether the draft must be presented regardless of
// the critic's verdict.
func (s ConversationState) RevisionCapReached() bool {
	return s.DraftCycle() >= MaxRevisions
}
