package models

// DecisionType tags the routing decision variant.
type DecisionType string

const (
	DecisionCommand       DecisionType = "command"
	DecisionTaskPlan      DecisionType = "task_plan"
	DecisionConversation  DecisionType = "conversation"
	DecisionClarification DecisionType = "clarification"
	DecisionFileOperation DecisionType = "file_operation"
)

// RiskLevel is the coarse risk attached to a routing decision.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CommandInvocation is the payload of a command decision.
type CommandInvocation struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
	// Method records the fast-path strategy that matched
	// (exact, alias, pattern, fuzzy, cache).
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TaskPlanStep is one step of a multi-step plan.
type TaskPlanStep struct {
	Order       int    `json:"order"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
}

// TaskPlan is the payload of a task_plan decision.
type TaskPlan struct {
	ID               string         `json:"id"`
	Goal             string         `json:"goal"`
	Steps            []TaskPlanStep `json:"steps,omitempty"`
	EstimatedSeconds int            `json:"estimated_seconds,omitempty"`
}

// ConversationPrompt is the payload of a conversation decision: the
// synthesized prompt the orchestrator streams through a provider.
type ConversationPrompt struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// ClarificationRequest is the payload of a clarification decision.
type ClarificationRequest struct {
	Questions []string `json:"questions"`
	Options   []string `json:"options,omitempty"`
	Context   string   `json:"context,omitempty"`
	Required  bool     `json:"required"`
}

// RoutingDecision is the tagged union produced for every user line.
// Exactly one payload field matching Type is non-nil.
type RoutingDecision struct {
	Type   DecisionType `json:"type"`
	Action string       `json:"action,omitempty"`

	Command       *CommandInvocation    `json:"command,omitempty"`
	TaskPlan      *TaskPlan             `json:"task_plan,omitempty"`
	Conversation  *ConversationPrompt   `json:"conversation,omitempty"`
	Clarification *ClarificationRequest `json:"clarification,omitempty"`
	FileOperation *FileOperationIntent  `json:"file_operation,omitempty"`

	RequiresConfirmation bool      `json:"requires_confirmation"`
	EstimatedSeconds     int       `json:"estimated_seconds,omitempty"`
	Risk                 RiskLevel `json:"risk"`
}
