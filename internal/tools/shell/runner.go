// Package shell exposes command execution tools scoped to the
// workspace. Output is captured with a hard byte cap so a chatty
// command cannot flood the conversation.
package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/tools/files"
)

// maxCapturedOutput bounds the stdout and stderr captured per command.
const maxCapturedOutput = 64000

// Runner executes commands with the workspace as the working directory.
type Runner struct {
	resolver  files.Resolver
	maxOutput int
}

// NewRunner creates a runner scoped to the workspace.
func NewRunner(workspace string) *Runner {
	return &Runner{
		resolver:  files.Resolver{Root: workspace},
		maxOutput: maxCapturedOutput,
	}
}

// Result summarizes a finished command.
type Result struct {
	Command  string        `json:"command"`
	Cwd      string        `json:"cwd"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Run executes a command line through /bin/sh -c.
func (r *Runner) Run(ctx context.Context, command, cwd string, env map[string]string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("command is required")
	}
	return r.run(ctx, command, []string{"/bin/sh", "-c", command}, cwd, env, timeout)
}

// RunArgv executes a program with explicit arguments and no shell in
// between, so nothing in args is subject to shell interpretation.
func (r *Runner) RunArgv(ctx context.Context, name string, args []string, cwd string, timeout time.Duration) (Result, error) {
	if name == "" {
		return Result{}, fmt.Errorf("program name is required")
	}
	display := name
	if len(args) > 0 {
		display += " " + strings.Join(args, " ")
	}
	return r.run(ctx, display, append([]string{name}, args...), cwd, nil, timeout)
}

func (r *Runner) run(ctx context.Context, display string, argv []string, cwd string, env map[string]string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if cwd == "" {
		cwd = "."
	}
	dir, err := r.resolver.Resolve(cwd)
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if env != nil {
		base := os.Environ()
		for k, v := range env {
			base = append(base, k+"="+v)
		}
		cmd.Env = base
	}

	stdout := newLimitedBuffer(r.maxOutput)
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	result := Result{
		Command:  display,
		Cwd:      dir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(runErr),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return result, nil
}

// limitedBuffer accepts writes until max bytes are stored, then
// silently discards the rest. Write never reports an error so the
// child process keeps running after the cap is hit.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
