package agent

import "strings"

// Phrases that close a bedtime conversation. Matching is a case-insensitive
// substring test.
var (
	userClosingCues      = []string{"good night", "goodnight", "bye", "goodbye", "sleep", "tired", "bedtime"}
	assistantClosingCues = []string{"sweet dreams", "sleep well", "goodnight", "time for bed", "close your eyes"}
)

// approvalToken marks a critic verdict that lets the draft through.
const approvalToken = "approved"

// revisionMarker is the critic's rejection header. The writer folds recent
// transcript entries carrying it into its prompt.
const revisionMarker = "NEEDS_REVISION"

// IsUserClosing reports whether the child's utterance signals the end of the
// conversation.
func IsUserClosing(text string) bool {
	return containsAny(text, userClosingCues)
}

// IsAssistantClosing reports whether the agent's reply says goodnight.
func IsAssistantClosing(text string) bool {
	return containsAny(text, assistantClosingCues)
}

// IsApproval classifies a critic response.
func IsApproval(text string) bool {
	return strings.Contains(strings.ToLower(text), approvalToken)
}

func containsAny(text string, cues []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, cue := range cues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
