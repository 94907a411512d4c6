package shell

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/forge/internal/exec"
	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

// Wall-clock budgets for shell commands.
const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 2 * time.Minute
)

// ShellTool runs arbitrary command lines through the system shell.
// It is registered as dangerous, so every invocation goes through an
// approval decision first.
type ShellTool struct {
	runner  *Runner
	timeout time.Duration
}

// NewShellTool creates a shell tool scoped to the workspace. timeout
// is the default command deadline; a per-call timeout_seconds argument
// may shorten it but not exceed it. Zero keeps the stock deadline.
func NewShellTool(workspace string, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	return &ShellTool{runner: NewRunner(workspace), timeout: timeout}
}

func (t *ShellTool) Schema() models.ToolSchema {
	return models.ToolSchema{
		Name:        "shell",
		Description: "Run a shell command in the workspace and capture its output.",
		Parameters: []models.ToolParameter{
			{Name: "command", Type: models.ParamString, Description: "Command line passed to /bin/sh -c.", Required: true},
			{Name: "cwd", Type: models.ParamString, Description: "Working directory relative to the workspace."},
			{Name: "timeout_seconds", Type: models.ParamNumber, Description: "Kill the command after this many seconds."},
		},
		Category:  "system",
		Dangerous: true,
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]json.RawMessage) models.ToolResult {
	var input struct {
		Command        string  `json:"command"`
		Cwd            string  `json:"cwd"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return tools.Errorf("decode arguments: %v", err)
	}

	token := exec.ExecutableToken(input.Command)
	if _, err := exec.SanitizeExecutable(token); err != nil {
		return tools.Errorf("unsafe executable %q: %v", token, err)
	}

	timeout := t.timeout
	if input.TimeoutSeconds > 0 {
		if req := time.Duration(input.TimeoutSeconds * float64(time.Second)); req < timeout {
			timeout = req
		}
	}

	result, err := t.runner.Run(ctx, input.Command, input.Cwd, nil, timeout)
	if err != nil {
		return tools.Errorf("%v", err)
	}
	return tools.JSONResult(commandPayload(result))
}

func commandPayload(result Result) map[string]any {
	payload := map[string]any{
		"command":     result.Command,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"exit_code":   result.ExitCode,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.TimedOut {
		payload["timed_out"] = true
	}
	return payload
}
