package config

import (
	"os"
)

// Config is the main configuration structure for Forge.
//
// The core consumes this as a typed struct; file parsing, $include
// resolution, and environment expansion happen in the loader.
type Config struct {
	// Version is the config file schema version. Zero means "current".
	Version int `yaml:"version"`

	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Router       RouterConfig       `yaml:"router"`
	Routing      RoutingConfig      `yaml:"routing"`
	Tools        ToolsConfig        `yaml:"tools"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Conversation ConversationConfig `yaml:"conversation"`
	Safety       SafetyConfig       `yaml:"safety"`
	Audit        AuditConfig        `yaml:"audit"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// WorkspaceConfig scopes file tools and the project index to a directory.
type WorkspaceConfig struct {
	// Root is the workspace directory. Paths outside it are rejected.
	Root string `yaml:"root"`

	// MaxIndexedFiles bounds the project index.
	MaxIndexedFiles int `yaml:"max_indexed_files"`

	// IgnoreDirs are directory names skipped by the index walk,
	// in addition to the built-in set (.git, node_modules, vendor).
	IgnoreDirs []string `yaml:"ignore_dirs"`
}

// MaintenanceConfig holds cron schedules for background jobs.
type MaintenanceConfig struct {
	HealthProbeSchedule string `yaml:"health_probe_schedule"`
	AutosaveSchedule    string `yaml:"autosave_schedule"`
	BackupSweepSchedule string `yaml:"backup_sweep_schedule"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads, merges, and validates the configuration file at path.
// YAML is the primary format; .json and .json5 files are accepted.
// $include directives are resolved relative to the including file and
// environment variables are expanded before parsing.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a usable configuration without a config file.
// Cloud providers are enabled when their conventional environment keys
// are present; the local provider is always enabled.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)

	cfg.Routing.ModelRefinement = true
	cfg.Providers.Local.Enabled = true
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers.Anthropic.Enabled = true
		cfg.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers.OpenAI.Enabled = true
		cfg.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Providers.OpenRouter.Enabled = true
		cfg.Providers.OpenRouter.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Providers.Gemini.Enabled = true
		cfg.Providers.Gemini.APIKey = key
	}
	cfg.Providers.Default = firstEnabledProvider(&cfg.Providers)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.MaxIndexedFiles == 0 {
		cfg.Workspace.MaxIndexedFiles = 20000
	}

	applyProviderDefaults(&cfg.Providers)
	applyRouterDefaults(&cfg.Router)
	applyRoutingDefaults(&cfg.Routing)
	applyToolDefaults(&cfg.Tools)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyConversationDefaults(&cfg.Conversation)
	applySafetyDefaults(&cfg.Safety)
	applyAuditDefaults(&cfg.Audit)

	if cfg.Maintenance.HealthProbeSchedule == "" {
		cfg.Maintenance.HealthProbeSchedule = "@every 30s"
	}
	if cfg.Maintenance.AutosaveSchedule == "" {
		cfg.Maintenance.AutosaveSchedule = "@every 5m"
	}
	if cfg.Maintenance.BackupSweepSchedule == "" {
		cfg.Maintenance.BackupSweepSchedule = "@every 1h"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
