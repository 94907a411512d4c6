package models

import "time"

// ApprovalScope distinguishes a per-tool decision from a category one.
type ApprovalScope string

const (
	ApprovalScopeTool     ApprovalScope = "tool"
	ApprovalScopeCategory ApprovalScope = "category"
)

// ApprovalDecision is one cached user decision. Session-scoped; never
// persisted across processes.
type ApprovalDecision struct {
	ToolName string        `json:"tool_name,omitempty"`
	Category string        `json:"category,omitempty"`
	Approved bool          `json:"approved"`
	Scope    ApprovalScope `json:"scope"`
	TS       time.Time     `json:"ts"`
}
