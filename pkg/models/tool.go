package models

import (
	"encoding/json"
	"fmt"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// ToolParameter describes one named argument of a tool.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	// Enum restricts string parameters to the listed values.
	Enum []string `json:"enum,omitempty"`
}

// ToolSchema declares a tool's name, argument contract, and safety
// metadata. Schemas are compared structurally on registration;
// re-registering a name with a different schema is an error.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	Category    string          `json:"category,omitempty"`
	// Dangerous tools require an approval decision before execution.
	Dangerous bool `json:"dangerous,omitempty"`
	// SideEffectFree marks tools eligible for parallel execution
	// within a round. Tools that mutate anything must leave it false.
	SideEffectFree bool `json:"side_effect_free,omitempty"`
}

// Equal reports whether two schemas are structurally identical.
func (s ToolSchema) Equal(other ToolSchema) bool {
	a, err := json.Marshal(s)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// ToolCall is the model's request to invoke a named tool.
type ToolCall struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsJSON renders the arguments as a single JSON object.
func (c ToolCall) ArgumentsJSON() json.RawMessage {
	if len(c.Arguments) == 0 {
		return json.RawMessage(`{}`)
	}
	payload, err := json.Marshal(c.Arguments)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return payload
}

// ParseToolArguments decodes a raw JSON object into the per-argument map
// used by ToolCall. A missing or empty payload yields an empty map.
func ParseToolArguments(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	args := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return args, nil
}

// ToolResult is the outcome of one tool invocation.
// OK=false implies Error is non-empty.
type ToolResult struct {
	CallID     string `json:"call_id"`
	OK         bool   `json:"ok"`
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}
