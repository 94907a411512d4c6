package fastpath

// Builtin command names recognized without a provider call.
const (
	CmdHelp      = "help"
	CmdVersion   = "version"
	CmdStatus    = "status"
	CmdProviders = "providers"
	CmdTools     = "tools"
	CmdConfig    = "config"
	CmdHistory   = "history"
	CmdClear     = "clear"
	CmdExit      = "exit"
)

// Command is one entry in the fast-path table. Aliases are short synonyms
// that resolve with near-exact confidence; Patterns are free-form phrasings
// compared by word overlap.
type Command struct {
	Name        string
	Aliases     []string
	Patterns    []string
	Category    string
	Description string
}

// builtinOrder fixes the display order for List.
var builtinOrder = []string{
	CmdHelp,
	CmdVersion,
	CmdStatus,
	CmdProviders,
	CmdTools,
	CmdConfig,
	CmdHistory,
	CmdClear,
	CmdExit,
}

var builtinCommands = map[string]Command{
	CmdHelp: {
		Name:        CmdHelp,
		Aliases:     []string{"h", "?"},
		Patterns:    []string{"show help", "list commands", "what can you do"},
		Category:    "session",
		Description: "list available commands and what they do",
	},
	CmdVersion: {
		Name:        CmdVersion,
		Aliases:     []string{"ver"},
		Patterns:    []string{"show version", "what version is this"},
		Category:    "session",
		Description: "print the build version",
	},
	CmdStatus: {
		Name:        CmdStatus,
		Aliases:     []string{"health"},
		Patterns:    []string{"show status", "provider status", "health check"},
		Category:    "diagnostics",
		Description: "summarize provider health and session state",
	},
	CmdProviders: {
		Name:        CmdProviders,
		Aliases:     []string{"provider"},
		Patterns:    []string{"list providers", "show providers", "available providers"},
		Category:    "diagnostics",
		Description: "list configured model providers",
	},
	CmdTools: {
		Name:        CmdTools,
		Aliases:     []string{"tool"},
		Patterns:    []string{"list tools", "show tools", "what tools are available"},
		Category:    "diagnostics",
		Description: "list registered tools and their categories",
	},
	CmdConfig: {
		Name:        CmdConfig,
		Aliases:     []string{"settings"},
		Patterns:    []string{"show config", "show configuration", "open settings"},
		Category:    "session",
		Description: "show the active configuration",
	},
	CmdHistory: {
		Name:        CmdHistory,
		Aliases:     []string{"hist"},
		Patterns:    []string{"show history", "conversation history", "recent turns"},
		Category:    "session",
		Description: "show recent conversation turns",
	},
	CmdClear: {
		Name:        CmdClear,
		Aliases:     []string{"cls"},
		Patterns:    []string{"clear screen", "clear the screen", "start over"},
		Category:    "session",
		Description: "clear the screen and scrollback",
	},
	CmdExit: {
		Name:        CmdExit,
		Aliases:     []string{"quit", "q", "bye"},
		Patterns:    []string{"goodbye", "see you later", "close the session"},
		Category:    "session",
		Description: "end the session",
	},
}

// Builtins returns the default command table in display order.
func Builtins() []Command {
	out := make([]Command, 0, len(builtinOrder))
	for _, name := range builtinOrder {
		out = append(out, builtinCommands[name])
	}
	return out
}
