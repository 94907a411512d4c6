package config

import "time"

// ToolsConfig holds tool execution defaults.
type ToolsConfig struct {
	// MaxConcurrency bounds parallel execution of side-effect-free
	// tool calls within one round.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Timeout is the per-tool execution deadline.
	Timeout time.Duration `yaml:"timeout"`

	// ApprovalRequired enables the interactive approval flow for
	// dangerous tools. Unset means enabled; disabling it auto-approves
	// everything.
	ApprovalRequired *bool `yaml:"approval_required"`

	// CacheTTL and CacheSize bound the orchestrator results cache.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`

	Files FileToolsConfig `yaml:"files"`
	Shell ShellToolConfig `yaml:"shell"`
}

// FileToolsConfig tunes the built-in file tools.
type FileToolsConfig struct {
	// MaxReadBytes caps read_file output before truncation.
	MaxReadBytes int64 `yaml:"max_read_bytes"`

	// MaxSearchResults caps search_files matches.
	MaxSearchResults int `yaml:"max_search_results"`

	// MaxListEntries caps list_dir output.
	MaxListEntries int `yaml:"max_list_entries"`
}

// ShellToolConfig tunes the built-in shell and git tools.
type ShellToolConfig struct {
	// Enabled registers the shell tool. Unset means enabled.
	Enabled *bool `yaml:"enabled"`

	// Timeout is the default command deadline; per-call
	// timeout_seconds arguments may shorten but not exceed it.
	Timeout time.Duration `yaml:"timeout"`
}

// ApprovalEnabled reports whether dangerous tools require approval.
func (t *ToolsConfig) ApprovalEnabled() bool {
	return boolValue(t.ApprovalRequired, true)
}

// ShellEnabled reports whether the shell tool is registered.
func (t *ToolsConfig) ShellEnabled() bool {
	return boolValue(t.Shell.Enabled, true)
}

func boolValue(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// OrchestratorConfig bounds the streaming tool-call loop.
type OrchestratorConfig struct {
	// MaxToolCallsPerTurn caps tool executions within one user turn.
	MaxToolCallsPerTurn int `yaml:"max_tool_calls_per_turn"`

	// MaxRounds caps model round-trips within one user turn.
	MaxRounds int `yaml:"max_rounds"`

	// TurnBudget is an optional wall-clock cap for a whole turn.
	// Zero disables it.
	TurnBudget time.Duration `yaml:"turn_budget"`
}

func applyToolDefaults(t *ToolsConfig) {
	if t.MaxConcurrency == 0 {
		t.MaxConcurrency = 4
	}
	if t.Timeout == 0 {
		t.Timeout = 30 * time.Second
	}
	if t.CacheTTL == 0 {
		t.CacheTTL = 5 * time.Minute
	}
	if t.CacheSize == 0 {
		t.CacheSize = 1000
	}
	if t.Files.MaxReadBytes == 0 {
		t.Files.MaxReadBytes = 512 * 1024
	}
	if t.Files.MaxSearchResults == 0 {
		t.Files.MaxSearchResults = 200
	}
	if t.Files.MaxListEntries == 0 {
		t.Files.MaxListEntries = 500
	}
	if t.Shell.Timeout == 0 {
		t.Shell.Timeout = 30 * time.Second
	}
}

func applyOrchestratorDefaults(o *OrchestratorConfig) {
	if o.MaxToolCallsPerTurn == 0 {
		o.MaxToolCallsPerTurn = 10
	}
	if o.MaxRounds == 0 {
		o.MaxRounds = 5
	}
}
