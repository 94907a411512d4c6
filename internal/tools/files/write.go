package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// WriteTool writes files inside the workspace.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *WriteTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, overwriting by default.",
		Parameters: []models.ToolParameter{
			{Name: "path", Type: models.ParamString, Description: "Path relative to the workspace.", Required: true},
			{Name: "content", Type: models.ParamString, Description: "File contents to write.", Required: true},
			{Name: "append", Type: models.ParamBoolean, Description: "Append instead of overwrite."},
			{Name: "create_dirs", Type: models.ParamBoolean, Description: "Create missing parent directories.", Default: true},
		},
		Category: "filesystem",
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Path       string `json:"path"`
		Content    string `json:"content"`
		Append     bool   `json:"append"`
		CreateDirs *bool  `json:"create_dirs"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	createDirs := input.CreateDirs == nil || *input.CreateDirs
	if createDirs {
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return tools.Errorf("create directory: %v", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return tools.Errorf("open file: %v", err)
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return tools.Errorf("write file: %v", err)
	}

	return tools.JSONResult(map[string]any{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	})
}
