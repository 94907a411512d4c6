package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/haasonsaas/forge/pkg/models"
)

// toolSchemaMap renders a tool schema as a JSON-schema object. Extra
// properties are rejected so models cannot invent argument names.
func toolSchemaMap(schema models.ToolSchema) map[string]any {
	properties := map[string]any{}
	var required []string

	for _, param := range schema.Parameters {
		prop := map[string]any{
			"type": jsonSchemaType(param.Type),
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 {
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

	out := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func jsonSchemaType(t models.ParamType) string {
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

func toOpenAITools(schemas []models.ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(schemas))
	for _, schema := range schemas {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  toolSchemaMap(schema),
			},
		})
	}
	return tools
}

func toAnthropicTools(schemas []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		raw, err := json.Marshal(toolSchemaMap(schema))
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", schema.Name, err)
		}
		var input anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, fmt.Errorf("convert schema for %s: %w", schema.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(input, schema.Name)
		if schema.Description != "" {
			tool.OfTool.Description = anthropic.String(schema.Description)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// toGeminiTools converts schemas to a single tool carrying all
// function declarations, which is how the Gemini API expects them.
func toGeminiTools(schemas []models.ToolSchema) []*genai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, schema := range schemas {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters:  toGeminiSchema(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(schema models.ToolSchema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	for _, param := range schema.Parameters {
		prop := &genai.Schema{
			Type:        geminiType(param.Type),
			Description: param.Description,
		}
		if prop.Type == genai.TypeString && len(param.Enum) > 0 {
			prop.Enum = param.Enum
		}
		if prop.Type == genai.TypeArray {
			prop.Items = &genai.Schema{Type: genai.TypeString}
		}
		out.Properties[param.Name] = prop
		if param.Required {
			out.Required = append(out.Required, param.Name)
		}
	}
	return out
}

func geminiType(t models.ParamType) genai.Type {
	switch jsonSchemaType(t) {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func toBedrockTools(schemas []models.ToolSchema) *brtypes.ToolConfiguration {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(schemas))
	for _, schema := range schemas {
		spec := brtypes.ToolSpecification{
			Name: aws.String(schema.Name),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{
				Value: document.NewLazyDocument(toolSchemaMap(schema)),
			},
		}
		if schema.Description != "" {
			spec.Description = aws.String(schema.Description)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}
