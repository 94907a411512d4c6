package files

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// ReadTool reads files inside the workspace with a byte budget.
type ReadTool struct {
	resolver Resolver
	maxRead  int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	cfg = cfg.withDefaults()
	return &ReadTool{
		resolver: Resolver{Root: cfg.Workspace},
		maxRead:  cfg.MaxReadBytes,
	}
}

func (t *ReadTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "read_file",
		Description: "Read a file from the workspace with optional offset and byte limit.",
		Parameters: []models.ToolParameter{
			{Name: "path", Type: models.ParamString, Description: "Path relative to the workspace.", Required: true},
			{Name: "offset", Type: models.ParamNumber, Description: "Byte offset to start reading from."},
			{Name: "max_bytes", Type: models.ParamNumber, Description: "Maximum bytes to read, capped by the tool default."},
		},
		Category:       "filesystem",
		SideEffectFree: true,
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}
	if input.Offset < 0 {
		return tools.Errorf("offset must be >= 0")
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return tools.Errorf("open file: %v", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return tools.Errorf("stat file: %v", err)
	}
	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return tools.Errorf("seek file: %v", err)
		}
	}

	limit := t.maxRead
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}
	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return tools.Errorf("read file: %v", err)
	}

	truncated := input.Offset+int64(len(buf)) < info.Size()
	return tools.JSONResult(map[string]any{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	})
}
