package models

// IntentType classifies what the user is asking for.
type IntentType string

const (
	IntentQuestion              IntentType = "question"
	IntentTaskRequest           IntentType = "task_request"
	IntentCommand               IntentType = "command"
	IntentClarificationResponse IntentType = "clarification_response"
)

// Complexity grades how involved a request is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Entities are the concrete nouns extracted from user input.
type Entities struct {
	Files        []string `json:"files,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	Functions    []string `json:"functions,omitempty"`
	Classes      []string `json:"classes,omitempty"`
	Concepts     []string `json:"concepts,omitempty"`
}

// UserIntent is the analyzer's structured reading of one user line.
type UserIntent struct {
	Type                     IntentType `json:"type"`
	Action                   string     `json:"action,omitempty"`
	Entities                 Entities   `json:"entities"`
	Complexity               Complexity `json:"complexity"`
	MultiStep                bool       `json:"multi_step"`
	RiskLevel                RiskLevel  `json:"risk_level"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds,omitempty"`
	Confidence               float64    `json:"confidence"`
	RequiresClarification    bool       `json:"requires_clarification"`
	SuggestedClarifications  []string   `json:"suggested_clarifications,omitempty"`
}
