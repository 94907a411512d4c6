package files

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// maxMatchTextBytes bounds how much of a matching line is returned.
const maxMatchTextBytes = 240

// SearchTool scans workspace files for a literal substring.
type SearchTool struct {
	resolver     Resolver
	maxResults   int
	maxScanBytes int64
}

// NewSearchTool creates a search tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	cfg = cfg.withDefaults()
	return &SearchTool{
		resolver:     Resolver{Root: cfg.Workspace},
		maxResults:   cfg.MaxResults,
		maxScanBytes: cfg.MaxScanBytes,
	}
}

func (t *SearchTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "search_files",
		Description: "Search workspace files for a literal text pattern.",
		Parameters: []models.ToolParameter{
			{Name: "pattern", Type: models.ParamString, Description: "Literal text to find.", Required: true},
			{Name: "path", Type: models.ParamString, Description: "Directory relative to the workspace.", Default: "."},
			{Name: "glob", Type: models.ParamString, Description: "Filename glob, e.g. *.go."},
			{Name: "max_results", Type: models.ParamNumber, Description: "Cap on returned matches."},
		},
		Category:       "filesystem",
		SideEffectFree: true,
	}
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		Glob       string `json:"glob"`
		MaxResults int    `json:"max_results"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}
	if input.Pattern == "" {
		return tools.Errorf("pattern is required")
	}
	if input.Path == "" {
		input.Path = "."
	}
	if input.Glob != "" {
		if _, err := filepath.Match(input.Glob, "probe"); err != nil {
			return tools.Errorf("invalid glob: %v", err)
		}
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	limit := t.maxResults
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	var matches []searchMatch
	truncated := false

	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		if input.Glob != "" {
			ok, _ := filepath.Match(input.Glob, d.Name())
			if !ok {
				return nil
			}
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > t.maxScanBytes {
			return nil
		}
		rel, relErr := filepath.Rel(resolved, path)
		if relErr != nil {
			return relErr
		}
		found, scanErr := scanFile(path, rel, input.Pattern, limit-len(matches))
		if scanErr != nil {
			return nil
		}
		matches = append(matches, found...)
		return nil
	})
	if err != nil {
		return tools.Errorf("search: %v", err)
	}
	if len(matches) >= limit {
		truncated = true
	}

	return tools.JSONResult(map[string]any{
		"pattern":   input.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}

func scanFile(path, rel, pattern string, budget int) ([]searchMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var found []searchMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !strings.Contains(text, pattern) {
			continue
		}
		if len(text) > maxMatchTextBytes {
			text = text[:maxMatchTextBytes]
		}
		found = append(found, searchMatch{Path: filepath.ToSlash(rel), Line: line, Text: text})
		if len(found) >= budget {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return found, err
	}
	return found, nil
}
