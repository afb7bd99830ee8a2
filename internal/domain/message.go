// Package domain contains core domain types for the AMMA story agent.
package domain

// Role tags a transcript entry.
type Role string

const (
	// RoleUser marks text typed by the child or parent.
	RoleUser Role = "user"
	// RoleAssistant marks text produced by the agent (chat replies, drafts, stories).
	RoleAssistant Role = "assistant"
	// RoleTool marks the synthetic result of an executed tool call.
	RoleTool Role = "tool"
)

// ToolCall is a structured tool invocation requested by the model.
// Arguments holds the raw JSON object sent by the provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the chat transcript fed back to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// UserMessage builds a user transcript entry.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant transcript entry without tool calls.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the transcript entry answering a tool call.
func ToolResultMessage(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}
