package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/forge/internal/fastpath"
)

// =============================================================================
// Chat Command
// =============================================================================

// buildChatCmd creates the "chat" command that runs an interactive
// session. This is the primary way to use Forge.
func buildChatCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session in the workspace",
		Long: `Start an interactive session in the workspace.

Each input line is routed before execution:
1. Slash commands (/help, /status, /exit) run immediately
2. Multi-step requests become a task plan executed step by step
3. File changes are risk-assessed, backed up, and confirmed first
4. Everything else is answered conversationally with streaming output

End the session with /exit, Ctrl-D, or Ctrl-C.`,
		Example: `  # Chat in the current directory
  forge chat

  # Chat in another workspace with a specific provider
  forge chat --workspace ~/src/api --provider anthropic

  # Feed a scripted session
  printf '/status\n/exit\n' | forge chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, provider)
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "",
		"Provider to prefer for this session (anthropic, openai, bedrock, gemini, openrouter, local)")

	return cmd
}

// =============================================================================
// Ask Command
// =============================================================================

// buildAskCmd creates the "ask" command for one-shot requests.
func buildAskCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Route a single request and exit",
		Long: `Route a single request through the full pipeline and exit.

The request is classified exactly as it would be in a chat session, so
"ask" can trigger commands, plans, and file operations, not just
conversation. Useful for scripting and shell aliases.`,
		Example: `  forge ask "what does internal/router do"
  forge ask "create notes/todo.md with a checklist for the release"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, provider, args)
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "",
		"Provider to prefer for this request")

	return cmd
}

// =============================================================================
// Inspection Commands
// =============================================================================

// buildStatusCmd creates the "status" command for a session overview.
func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace, provider, and tool status",
		Long: `Display the session surface Forge would start with.

Shows the workspace root, how many providers are reachable, how many
tools are registered, the indexed file count, and the persisted
conversation length.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFastpath(cmd, fastpath.CmdStatus)
		},
	}
}

// buildProvidersCmd creates the "providers" command.
func buildProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFastpath(cmd, fastpath.CmdProviders)
		},
	}
}

// buildToolsCmd creates the "tools" command.
func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the assistant can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFastpath(cmd, fastpath.CmdTools)
		},
	}
}

// buildConfigCmd creates the "config" command. Secrets never appear
// in its output.
func buildConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFastpath(cmd, fastpath.CmdConfig)
		},
	}
}

// buildVersionCmd creates the "version" command. Unlike the other
// one-shots it needs no session, so it works with no providers
// configured at all.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "forge %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// buildHistoryCmd creates the "history" command.
func buildHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recent conversation turns",
		Long: `Show recent turns from the persisted conversation history.

History is stored under the workspace (conversation.persist_path) and
survives across sessions until /clear.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFastpath(cmd, fastpath.CmdHistory)
		},
	}
}
