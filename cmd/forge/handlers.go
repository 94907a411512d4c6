package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/forge/internal/app"
	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/pkg/models"
	"github.com/haasonsaas/forge/pkg/terminal"
)

// defaultConfigFile is tried in the current directory when neither the
// --config flag nor FORGE_CONFIG names a file.
const defaultConfigFile = "forge.yaml"

const shutdownTimeout = 5 * time.Second

// =============================================================================
// Chat Handler
// =============================================================================

// runChat handles the chat command: an interactive loop that routes
// each line and executes the decision. The loop survives per-turn
// failures; only /exit, end of input, or a signal ends it.
func runChat(cmd *cobra.Command, provider string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tty := newStdioTerminal(cmd.InOrStdin(), cmd.OutOrStdout(), stdinIsTerminal())
	a, err := openApp(ctx, tty, provider)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if tty.interactive {
		tty.Print(fmt.Sprintf("forge %s in %s", a.Version(), a.Workspace()))
		tty.Print("type a request, /help for commands, /exit to leave")
	}

	for {
		tty.prompt()
		line, err := tty.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := runLine(ctx, a, line); err != nil {
			if errors.Is(err, app.ErrSessionEnd) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			renderFailure(tty, err)
		}
	}
}

// runLine routes one input line and executes the resulting decision.
func runLine(ctx context.Context, a *app.App, line string) error {
	d, err := a.ProcessLine(ctx, line)
	if err != nil {
		return err
	}
	return a.Execute(ctx, d)
}

// renderFailure reports a per-turn failure without ending the session.
func renderFailure(t *stdioTerminal, err error) {
	msg, resolution := app.Describe(err)
	t.Print("error: " + msg)
	if resolution != "" {
		t.Print("  " + resolution)
	}
}

// =============================================================================
// Ask Handler
// =============================================================================

// runAsk handles the ask command: one routed request, then exit. The
// error is returned raw so main can map it to an exit code.
func runAsk(cmd *cobra.Command, provider string, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tty := newStdioTerminal(cmd.InOrStdin(), cmd.OutOrStdout(), false)
	a, err := openApp(ctx, tty, provider)
	if err != nil {
		return err
	}
	defer closeApp(a)

	d, err := a.ProcessLine(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := a.Execute(ctx, d); err != nil && !errors.Is(err, app.ErrSessionEnd) {
		return err
	}
	return nil
}

// =============================================================================
// Inspection Handlers
// =============================================================================

// runFastpath handles the one-shot inspection commands by invoking the
// named fast-path command against a fresh session.
func runFastpath(cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	tty := newStdioTerminal(cmd.InOrStdin(), cmd.OutOrStdout(), false)
	a, err := openApp(ctx, tty, "")
	if err != nil {
		return err
	}
	defer closeApp(a)

	out, err := a.ExecuteCommand(ctx, &models.CommandInvocation{
		Name:       name,
		Method:     "exact",
		Confidence: 1,
	})
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return nil
}

// =============================================================================
// Session Construction
// =============================================================================

// openApp builds and starts a session from the resolved configuration
// and the persistent flag overrides.
func openApp(ctx context.Context, t terminal.Terminal, provider string) (*app.App, error) {
	cfg, err := loadSessionConfig(provider)
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Config{
		Config:   cfg,
		Terminal: t,
		Version:  version,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		closeApp(a)
		return nil, err
	}
	return a, nil
}

// loadSessionConfig resolves the config source and applies flag
// overrides. Without a config file the environment-driven defaults
// apply, so forge works out of the box next to an Ollama server.
func loadSessionConfig(provider string) (*config.Config, error) {
	var cfg *config.Config
	if path := resolveConfigPath(configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, &app.UserError{
				Category:   app.CategoryValidation,
				Message:    fmt.Sprintf("cannot load config %s: %v", path, err),
				Resolution: "fix the file or point --config at another one",
			}
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	if workspaceDir != "" {
		cfg.Workspace.Root = workspaceDir
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	if provider != "" {
		cfg.Providers.Default = provider
	}
	return cfg, nil
}

// resolveConfigPath picks the config source: explicit flag, then the
// FORGE_CONFIG environment variable, then forge.yaml if one exists in
// the current directory. Empty means run on defaults.
func resolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv("FORGE_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// closeApp shuts the session down with a bounded grace period so
// history persistence and audit flushing get to finish.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

// stdinIsTerminal reports whether the process is talking to a person.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
