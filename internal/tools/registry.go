package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// Config tunes the registry. The zero value is usable.
type Config struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Registry holds the registered tools and the compiled argument
// schemas used to validate calls before dispatch. Safe for concurrent
// use.
type Registry struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Registry{
		logger:  logger,
		metrics: cfg.Metrics,
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool under its schema name. Registering the same
// tool twice is a no-op; registering a name again with a different
// schema is rejected.
func (r *Registry) Register(t Tool) error {
	schema := t.Schema()
	name := normalizeTool(schema.Name)
	if name == "" {
		return errors.New("tool name must not be empty")
	}
	doc, err := schemaDocument(schema)
	if err != nil {
		return fmt.Errorf("render schema for %q: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(doc))
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[name]; ok {
		if existing.Schema().Equal(schema) {
			return nil
		}
		return fmt.Errorf("tool %q already registered with a different schema", name)
	}
	r.tools[name] = t
	r.schemas[name] = compiled
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[normalizeTool(name)]
	return t, ok
}

// List returns every registered schema sorted by name.
func (r *Registry) List() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SchemasForProvider returns the schemas in the form attached to a
// completion request's tool list.
func (r *Registry) SchemasForProvider() []models.ToolSchema {
	return r.List()
}

// Validate checks args against a tool's compiled schema without
// running it. Type mismatches, missing required arguments, enum
// violations, and unknown arguments all fail.
func (r *Registry) Validate(name string, args map[string]json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.schemas[normalizeTool(name)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	payload := make(map[string]any, len(args))
	for key, raw := range args {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("argument %q is not valid JSON: %w", key, err)
		}
		payload[key] = value
	}
	return compiled.Validate(payload)
}

// Execute looks up, validates, and runs one tool call, stamping the
// call ID and duration on the result. Unknown tools and invalid
// arguments yield failed results without invoking the tool.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	started := time.Now()
	tool, ok := r.Get(call.Name)
	if !ok {
		return r.finish(ctx, call, Errorf("unknown_tool: %s", call.Name), started)
	}
	if err := r.Validate(call.Name, call.Arguments); err != nil {
		return r.finish(ctx, call, Errorf("invalid_arguments: %v", err), started)
	}
	return r.finish(ctx, call, tool.Execute(ctx, call.Arguments), started)
}

func (r *Registry) finish(ctx context.Context, call models.ToolCall, result models.ToolResult, started time.Time) models.ToolResult {
	result.CallID = call.ID
	result.DurationMS = time.Since(started).Milliseconds()
	status := "success"
	if !result.OK {
		status = "error"
	}
	r.logger.Debug(ctx, "tool executed",
		"tool", call.Name,
		"status", status,
		"duration_ms", result.DurationMS)
	if r.metrics != nil {
		r.metrics.RecordToolExecution(normalizeTool(call.Name), status, float64(result.DurationMS)/1000)
	}
	return result
}

// schemaDocument renders a tool schema as the draft 2020-12 document
// its arguments are validated against. additionalProperties is always
// false: arguments the schema does not declare are rejected.
func schemaDocument(schema models.ToolSchema) ([]byte, error) {
	properties := map[string]any{}
	var required []string
	for _, param := range schema.Parameters {
		prop := map[string]any{
			"type": schemaType(param.Type),
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 && prop["type"] == "string" {
			prop["enum"] = param.Enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if prop["type"] == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func schemaType(t models.ParamType) string {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "number":
		return "number"
	case "integer", "int":
		return "integer"
	case "boolean", "bool":
		return "boolean"
	case "array":
		return "array"
	case "object":
		return "object"
	default:
		return "string"
	}
}

func normalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
