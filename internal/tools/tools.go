// Package tools defines the tool contract and the registry that
// validates and dispatches tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/forge/pkg/models"
)

// Tool is one capability the assistant can invoke during a turn.
//
// Execute receives arguments already validated against the schema and
// must honor ctx cancellation; the orchestrator bounds every call
// with a deadline. Implementations report failure through the result,
// never by panicking.
type Tool interface {
	Schema() models.ToolSchema
	Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult
}

// DecodeArgs unmarshals a validated argument map into a typed struct.
func DecodeArgs(args map[string]json.RawMessage, v any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	return json.Unmarshal(payload, v)
}

// Errorf builds a failed result.
func Errorf(format string, args ...any) models.ToolResult {
	return models.ToolResult{OK: false, Error: fmt.Sprintf(format, args...)}
}

// JSONResult renders payload as indented JSON in a successful result.
func JSONResult(payload any) models.ToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Errorf("encode result: %v", err)
	}
	return models.ToolResult{OK: true, Data: string(data)}
}
