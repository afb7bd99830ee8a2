package domain

// Field is one slot of a Patch. The zero value leaves the target untouched;
// Set replaces it and Clear resets it to its zero value.
type Field[T any] struct {
	set   bool
	value T
}

// Set returns a field that overwrites the target with v.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Clear returns a field that resets the target to its zero value.
func Clear[T any]() Field[T] {
	var zero T
	return Field[T]{set: true, value: zero}
}

// SetIfNotEmpty returns Set(v) for a non-empty string and an untouched field otherwise.
func SetIfNotEmpty(v string) Field[string] {
	if v == "" {
		return Field[string]{}
	}
	return Set(v)
}

// IsSet reports whether the field changes its target.
func (f Field[T]) IsSet() bool { return f.set }

// Value returns the value the field would write.
func (f Field[T]) Value() T { return f.value }

func (f Field[T]) applyTo(dst *T) {
	if f.set {
		*dst = f.value
	}
}

// Patch is a partial state update returned by a role executor.
// Messages are appended; every other field follows Field semantics.
type Patch struct {
	Messages []Message

	ChildName          Field[string]
	StoryTheme         Field[string]
	GeneratedStory     Field[string]
	CurrentStory       Field[string]
	SuggestedRevisions Field[string]
	EvaluationResult   Field[Evaluation]
	EvaluationFeedback Field[string]
	RevisionCount      Field[int]
}

// IsEmpty reports whether applying p would change nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Messages) == 0 &&
		!p.ChildName.IsSet() &&
		!p.StoryTheme.IsSet() &&
		!p.GeneratedStory.IsSet() &&
		!p.CurrentStory.IsSet() &&
		!p.SuggestedRevisions.IsSet() &&
		!p.EvaluationResult.IsSet() &&
		!p.EvaluationFeedback.IsSet() &&
		!p.RevisionCount.IsSet()
}

// Merge returns p followed by q: messages of both, and q's fields where q
// sets them.
func (p Patch) Merge(q Patch) Patch {
	out := p
	out.Messages = append(append([]Message(nil), p.Messages...), q.Messages...)
	mergeField(&out.ChildName, q.ChildName)
	mergeField(&out.StoryTheme, q.StoryTheme)
	mergeField(&out.GeneratedStory, q.GeneratedStory)
	mergeField(&out.CurrentStory, q.CurrentStory)
	mergeField(&out.SuggestedRevisions, q.SuggestedRevisions)
	mergeField(&out.EvaluationResult, q.EvaluationResult)
	mergeField(&out.EvaluationFeedback, q.EvaluationFeedback)
	mergeField(&out.RevisionCount, q.RevisionCount)
	return out
}

func mergeField[T any](dst *Field[T], src Field[T]) {
	if src.set {
		*dst = src
	}
}

// Apply merges p into a copy of s. s itself is never modified.
func (s ConversationState) Apply(p Patch) ConversationState {
	out := s.Clone()
	for _, m := range p.Messages {
		out.Messages = append(out.Messages, m.Clone())
	}
	p.ChildName.applyTo(&out.ChildName)
	p.StoryTheme.applyTo(&out.StoryTheme)
	p.GeneratedStory.applyTo(&out.GeneratedStory)
	p.CurrentStory.applyTo(&out.CurrentStory)
	p.SuggestedRevisions.applyTo(&out.SuggestedRevisions)
	p.EvaluationResult.applyTo(&out.EvaluationResult)
	p.EvaluationFeedback.applyTo(&out.EvaluationFeedback)
	p.RevisionCount.applyTo(&out.RevisionCount)
	return out
}
