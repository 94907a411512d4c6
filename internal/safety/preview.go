package safety

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/haasonsaas/forge/pkg/models"
)

// previews renders a unified diff for every touched path whose
// proposed content is known. Previews are advisory; a missing entry
// just means approvers see the operation without a diff for that file.
func (p *Pipeline) previews(ctx context.Context, op models.FileOperationIntent, proposed map[string]string) []models.ChangePreview {
	if len(proposed) == 0 {
		return nil
	}
	var previews []models.ChangePreview
	for _, path := range opPaths(op) {
		content, ok := proposed[path]
		if !ok {
			continue
		}
		preview, err := p.buildPreview(path, content)
		if err != nil {
			p.logger.Debug(ctx, "change preview failed", "path", path, "error", err)
			continue
		}
		previews = append(previews, preview)
	}
	return previews
}

func (p *Pipeline) buildPreview(path, proposed string) (models.ChangePreview, error) {
	var current string
	if raw, err := os.ReadFile(path); err == nil {
		current = string(raw)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(proposed),
		FromFile: "current",
		ToFile:   "proposed",
		Context:  p.cfg.PreviewContextLines,
	})
	if err != nil {
		return models.ChangePreview{}, err
	}

	preview := models.ChangePreview{
		Path:            path,
		Dependencies:    scanImports(path, proposed),
		PotentialIssues: contentIssues(current, proposed),
		BreakingChange:  removesExportedDecl(path, diff),
	}
	// Counts describe the whole change; only the rendering is capped.
	preview.LinesAdded, preview.LinesRemoved = countChanges(diff)
	preview.Diff, preview.Truncated = capLines(diff, p.cfg.MaxPreviewLines)
	return preview, nil
}

// capLines keeps the first limit lines of text and reports truncation.
func capLines(text string, limit int) (string, bool) {
	if text == "" {
		return "", false
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) <= limit {
		return text, false
	}
	return strings.Join(lines[:limit], "\n") + "\n", true
}

// countChanges tallies added and removed lines, skipping file headers.
func countChanges(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

// contentIssues flags patterns that usually mean a bad write: merge
// conflict markers, unbalanced delimiter pairs, and new TODO markers.
func contentIssues(current, proposed string) []string {
	var issues []string
	if strings.Contains(proposed, "<<<<<<<") || strings.Contains(proposed, ">>>>>>>") {
		issues = append(issues, "merge conflict markers present")
	}
	for _, pair := range []struct {
		open, close, name string
	}{
		{"{", "}", "braces"},
		{"(", ")", "parentheses"},
		{"[", "]", "brackets"},
	} {
		if strings.Count(proposed, pair.open) != strings.Count(proposed, pair.close) {
			issues = append(issues, "unbalanced "+pair.name)
		}
	}
	if todoCount(proposed) > todoCount(current) {
		issues = append(issues, "introduces TODO or FIXME markers")
	}
	return issues
}

func todoCount(s string) int {
	return strings.Count(s, "TODO") + strings.Count(s, "FIXME")
}

// removesExportedDecl reports whether the diff deletes a line that
// declared part of the file's public surface.
func removesExportedDecl(path, diff string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "-") || strings.HasPrefix(line, "---") {
			continue
		}
		decl := strings.TrimSpace(line[1:])
		switch ext {
		case ".go":
			if exportedGoDecl(decl) {
				return true
			}
		case ".js", ".jsx", ".ts", ".tsx", ".mjs":
			if strings.HasPrefix(decl, "export ") {
				return true
			}
		case ".py":
			if strings.HasPrefix(decl, "def ") || strings.HasPrefix(decl, "class ") {
				return true
			}
		}
	}
	return false
}

func exportedGoDecl(line string) bool {
	for _, prefix := range []string{"func ", "type ", "var ", "const "} {
		rest, ok := strings.CutPrefix(line, prefix)
		if !ok || rest == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(rest)
		return unicode.IsUpper(r)
	}
	return false
}

// scanImports pulls the modules the proposed content references so an
// approver can see what the change depends on. Line-based and naive.
func scanImports(path, content string) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return goImports(content)
	case ".py":
		return pythonImports(content)
	case ".js", ".jsx", ".ts", ".tsx", ".mjs":
		return jsImports(content)
	}
	return nil
}

func goImports(content string) []string {
	var deps []string
	inBlock := false
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(line, ")"):
			inBlock = false
		case inBlock, strings.HasPrefix(line, "import "):
			deps = appendUnique(deps, firstQuoted(line))
		}
	}
	return deps
}

func pythonImports(content string) []string {
	var deps []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "from "):
			if fields := strings.Fields(line); len(fields) >= 2 {
				deps = appendUnique(deps, fields[1])
			}
		case strings.HasPrefix(line, "import "):
			for _, part := range strings.Split(strings.TrimPrefix(line, "import "), ",") {
				if fields := strings.Fields(part); len(fields) > 0 {
					deps = appendUnique(deps, fields[0])
				}
			}
		}
	}
	return deps
}

func jsImports(content string) []string {
	var deps []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if idx := strings.Index(line, "from "); idx >= 0 && strings.HasPrefix(line, "import") {
			deps = appendUnique(deps, firstQuoted(line[idx:]))
			continue
		}
		if strings.HasPrefix(line, "import ") && !strings.Contains(line, "from") {
			// Side-effect import: import "./styles.css"
			deps = appendUnique(deps, firstQuoted(line))
			continue
		}
		if idx := strings.Index(line, "require("); idx >= 0 {
			deps = appendUnique(deps, firstQuoted(line[idx:]))
		}
	}
	return deps
}

// firstQuoted returns the first quoted span in s, trying double,
// single, then backtick quotes.
func firstQuoted(s string) string {
	for _, quote := range []byte{'"', '\'', '`'} {
		start := strings.IndexByte(s, quote)
		if start < 0 {
			continue
		}
		end := strings.IndexByte(s[start+1:], quote)
		if end < 0 {
			continue
		}
		return s[start+1 : start+1+end]
	}
	return ""
}

func appendUnique(deps []string, dep string) []string {
	if dep == "" {
		return deps
	}
	for _, existing := range deps {
		if existing == dep {
			return deps
		}
	}
	return append(deps, dep)
}
