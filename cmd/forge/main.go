// Package main provides the CLI entry point for the Forge coding assistant.
//
// Forge turns natural-language requests into routed actions over a local
// workspace: slash commands, multi-step task plans, safe file operations,
// and plain conversation, served by whichever AI provider is available
// (Anthropic, OpenAI, Bedrock, Gemini, OpenRouter, or a local Ollama).
//
// # Basic Usage
//
// Start an interactive session in the current directory:
//
//	forge chat
//
// Route a single request without a session:
//
//	forge ask "add a retry helper to client.go"
//
// Inspect the session surface:
//
//	forge status
//	forge providers
//	forge tools
//
// # Environment Variables
//
// Without a config file, providers are enabled from conventional keys:
//
//   - FORGE_CONFIG: Path to the configuration file (default: forge.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - OPENROUTER_API_KEY: OpenRouter API key
//   - GEMINI_API_KEY: Google Gemini API key
//
// The local provider talks to an Ollama server on localhost and needs no
// key at all.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/forge/internal/app"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp

	// Persistent flags shared by every subcommand.
	configPath   string
	workspaceDir string
	debugMode    bool
)

// main executes the root command and maps the resulting error to a
// process exit code. User-facing failures are rendered as a message
// plus a suggested fix, never a stack trace.
func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	err := buildRootCmd().ExecuteContext(context.Background())
	if err == nil || errors.Is(err, app.ErrSessionEnd) {
		return
	}
	msg, resolution := app.Describe(err)
	fmt.Fprintln(os.Stderr, "error: "+msg)
	if resolution != "" {
		fmt.Fprintln(os.Stderr, "  "+resolution)
	}
	os.Exit(app.ExitCode(err))
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main to facilitate testing.
func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge",
		Short: "Forge is an AI coding assistant for your workspace",
		Long: `Forge is an AI coding assistant that routes natural language to
commands, task plans, and guarded file operations in a local workspace.

Requests are classified before any model is called: exact commands run
on a fast path, multi-step work becomes a reviewable plan, and file
changes pass through risk assessment, backups, and approval prompts.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the configuration file (default: $FORGE_CONFIG, then forge.yaml)")
	cmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "",
		"Workspace root to operate in (default from config)")
	cmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false,
		"Enable debug logging (verbose output)")

	cmd.AddCommand(
		buildChatCmd(),
		buildAskCmd(),
		buildStatusCmd(),
		buildProvidersCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildHistoryCmd(),
		buildVersionCmd(),
	)

	return cmd
}
