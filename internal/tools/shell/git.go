package shell

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/haasonsaas/forge/internal/exec"
	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

const gitTimeout = 20 * time.Second

// gitSubcommands is the allowlist of read-only git operations.
var gitSubcommands = []string{"status", "diff", "log", "branch", "show"}

// GitTool runs a read-only subset of git against the workspace
// repository. Arguments are validated and passed without a shell, so
// nothing the model supplies is subject to shell interpretation.
type GitTool struct {
	runner *Runner
}

// NewGitTool creates a git tool scoped to the workspace.
func NewGitTool(workspace string) *GitTool {
	return &GitTool{runner: NewRunner(workspace)}
}

func (t *GitTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "git",
		Description: "Run a read-only git subcommand (status, diff, log, branch, show) in the workspace.",
		Parameters: []models.ToolParameter{
			{Name: "subcommand", Type: models.ParamString, Description: "Git subcommand to run.", Required: true, Enum: gitSubcommands},
			{Name: "args", Type: models.ParamArray, Description: "Extra arguments such as a path or revision."},
		},
		Category:       "system",
		SideEffectFree: true,
	}
}

func (t *GitTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Subcommand string   `json:"subcommand"`
		Args       []string `json:"args"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}

	if !allowedSubcommand(input.Subcommand) {
		return tools.Errorf("subcommand %q is not allowed", input.Subcommand)
	}
	safeArgs, err := exec.SanitizeArguments(input.Args)
	if err != nil {
		return tools.Errorf("unsafe argument: %v", err)
	}
	for _, arg := range safeArgs {
		if strings.HasPrefix(arg, "-") {
			return tools.Errorf("option arguments are not allowed: %q", arg)
		}
	}

	argv := append([]string{input.Subcommand}, safeArgs...)
	result, err := t.runner.RunArgv(ctx, "git", argv, "", gitTimeout)
	if err != nil {
		return tools.Errorf("%v", err)
	}
	return tools.JSONResult(commandPayload(result))
}

func allowedSubcommand(name string) bool {
	for _, sub := range gitSubcommands {
		if name == sub {
			return true
		}
	}
	return false
}
