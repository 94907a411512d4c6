package files

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// ListTool enumerates directory contents inside the workspace.
type ListTool struct {
	resolver   Resolver
	maxEntries int
}

// NewListTool creates a list tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	cfg = cfg.withDefaults()
	return &ListTool{resolver: Resolver{Root: cfg.Workspace}, maxEntries: cfg.MaxEntries}
}

func (t *ListTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "list_dir",
		Description: "List files and directories under a workspace path.",
		Parameters: []models.ToolParameter{
			{Name: "path", Type: models.ParamString, Description: "Directory relative to the workspace.", Default: "."},
			{Name: "recursive", Type: models.ParamBoolean, Description: "Descend into subdirectories."},
			{Name: "max_entries", Type: models.ParamNumber, Description: "Cap on returned entries."},
		},
		Category:       "filesystem",
		SideEffectFree: true,
	}
}

type listEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func (t *ListTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Path       string `json:"path"`
		Recursive  bool   `json:"recursive"`
		MaxEntries int    `json:"max_entries"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}
	if input.Path == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	limit := t.maxEntries
	if input.MaxEntries > 0 && input.MaxEntries < limit {
		limit = input.MaxEntries
	}

	var entries []listEntry
	truncated := false

	if input.Recursive {
		err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == resolved {
				return nil
			}
			if d.IsDir() && d.Name() == ".git" {
				return filepath.SkipDir
			}
			if len(entries) >= limit {
				truncated = true
				return filepath.SkipAll
			}
			rel, relErr := filepath.Rel(resolved, path)
			if relErr != nil {
				return relErr
			}
			entries = append(entries, newListEntry(rel, d))
			return nil
		})
		if err != nil {
			return tools.Errorf("walk directory: %v", err)
		}
	} else {
		dirEntries, readErr := os.ReadDir(resolved)
		if readErr != nil {
			return tools.Errorf("read directory: %v", readErr)
		}
		for _, d := range dirEntries {
			if len(entries) >= limit {
				truncated = true
				break
			}
			entries = append(entries, newListEntry(d.Name(), d))
		}
	}

	return tools.JSONResult(map[string]any{
		"path":      input.Path,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	})
}

func newListEntry(rel string, d fs.DirEntry) listEntry {
	entry := listEntry{Path: filepath.ToSlash(rel), Type: "file"}
	if d.IsDir() {
		entry.Type = "dir"
		return entry
	}
	if info, err := d.Info(); err == nil {
		entry.Size = info.Size()
	}
	return entry
}
