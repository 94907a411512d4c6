package files

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// EditTool performs targeted text replacement in workspace files.
type EditTool struct {
	resolver Resolver
	maxRead  int
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	cfg = cfg.withDefaults()
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}, maxRead: cfg.MaxReadBytes}
}

func (t *EditTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "edit_file",
		Description: "Replace an exact text fragment in a file. The old text must appear in the file.",
		Parameters: []models.ToolParameter{
			{Name: "path", Type: models.ParamString, Description: "Path relative to the workspace.", Required: true},
			{Name: "old_text", Type: models.ParamString, Description: "Exact text to replace.", Required: true},
			{Name: "new_text", Type: models.ParamString, Description: "Replacement text.", Required: true},
			{Name: "replace_all", Type: models.ParamBoolean, Description: "Replace every occurrence instead of the first."},
		},
		Category: "filesystem",
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Path       string `json:"path"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}
	if input.OldText == "" {
		return tools.Errorf("old_text is required")
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return tools.Errorf("stat file: %v", err)
	}
	if info.Size() > int64(t.maxRead) {
		return tools.Errorf("file too large to edit: %d bytes", info.Size())
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return tools.Errorf("read file: %v", err)
	}
	content := string(raw)

	count := strings.Count(content, input.OldText)
	if count == 0 {
		return tools.Errorf("old_text not found in %s", input.Path)
	}

	replacements := 1
	if input.ReplaceAll {
		content = strings.ReplaceAll(content, input.OldText, input.NewText)
		replacements = count
	} else {
		content = strings.Replace(content, input.OldText, input.NewText, 1)
	}

	if err := os.WriteFile(resolved, []byte(content), info.Mode().Perm()); err != nil {
		return tools.Errorf("write file: %v", err)
	}

	return tools.JSONResult(map[string]any{
		"path":         input.Path,
		"replacements": replacements,
	})
}
