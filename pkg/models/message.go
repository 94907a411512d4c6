// Package models defines the shared value types of the assistant core:
// chat messages, completion options, stream events, tool contracts,
// routing decisions, and the file-safety records produced by the
// safety pipeline. All types are plain values safe to copy and
// marshal; none hold locks or goroutines.
package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in an ordered conversation transcript.
// By convention at most one system message appears, at the head.
// Tool messages reference a prior assistant tool call via ToolCallID.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name optionally identifies the tool that produced a tool message.
	Name string `json:"name,omitempty"`
	// ToolCallID links a tool message to the assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds a tool-role message answering the given call.
func ToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: toolName, ToolCallID: callID}
}
