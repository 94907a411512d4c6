package config

import (
	"fmt"
	"strings"
)

var providerNames = []string{"local", "openai", "anthropic", "openrouter", "bedrock", "gemini"}

// Validate checks cross-field constraints and resolves the default
// provider. Defaults must be applied first.
func (c *Config) Validate() error {
	enabled := c.Providers.EnabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("providers: at least one provider must be enabled")
	}

	if c.Providers.Default == "" {
		c.Providers.Default = firstEnabledProvider(&c.Providers)
	}
	if !validProviderName(c.Providers.Default) {
		return fmt.Errorf("providers.default: unknown provider %q (valid: %s)",
			c.Providers.Default, strings.Join(providerNames, ", "))
	}
	if !c.Providers.ProviderEnabled(c.Providers.Default) {
		return fmt.Errorf("providers.default: provider %q is not enabled", c.Providers.Default)
	}

	if c.Providers.Anthropic.Enabled && strings.TrimSpace(c.Providers.Anthropic.APIKey) == "" {
		return fmt.Errorf("providers.anthropic: api_key is required when enabled")
	}
	if c.Providers.OpenAI.Enabled && strings.TrimSpace(c.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("providers.openai: api_key is required when enabled")
	}
	if c.Providers.OpenRouter.Enabled && strings.TrimSpace(c.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("providers.openrouter: api_key is required when enabled")
	}
	if c.Providers.Gemini.Enabled && strings.TrimSpace(c.Providers.Gemini.APIKey) == "" {
		return fmt.Errorf("providers.gemini: api_key is required when enabled")
	}

	if c.Providers.Retry.MaxAttempts < 1 {
		return fmt.Errorf("providers.retry.max_attempts: must be at least 1")
	}
	if c.Providers.Retry.Multiplier < 1 {
		return fmt.Errorf("providers.retry.multiplier: must be at least 1")
	}
	if c.Providers.Retry.MaxDelay < c.Providers.Retry.InitialDelay {
		return fmt.Errorf("providers.retry.max_delay: must be >= initial_delay")
	}

	for name, v := range map[string]float64{
		"routing.fast_path_cutoff":    c.Routing.FastPathCutoff,
		"routing.fast_path_threshold": c.Routing.FastPathThreshold,
		"routing.fuzzy_threshold":     c.Routing.FuzzyThreshold,
		"routing.planner_confidence":  c.Routing.PlannerConfidence,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s: must be in (0, 1], got %v", name, v)
		}
	}

	if c.Tools.MaxConcurrency < 1 {
		return fmt.Errorf("tools.max_concurrency: must be at least 1")
	}
	if c.Orchestrator.MaxToolCallsPerTurn < 1 {
		return fmt.Errorf("orchestrator.max_tool_calls_per_turn: must be at least 1")
	}
	if c.Orchestrator.MaxRounds < 1 {
		return fmt.Errorf("orchestrator.max_rounds: must be at least 1")
	}

	switch c.Conversation.Strategy {
	case "truncate", "summarize":
	default:
		return fmt.Errorf("conversation.strategy: must be \"truncate\" or \"summarize\", got %q", c.Conversation.Strategy)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if c.Tracing.SamplingRate <= 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate: must be in (0, 1], got %v", c.Tracing.SamplingRate)
	}
	if c.Audit.SampleRate <= 0 || c.Audit.SampleRate > 1 {
		return fmt.Errorf("audit.sample_rate: must be in (0, 1], got %v", c.Audit.SampleRate)
	}

	if c.Safety.RetentionDays < 0 {
		return fmt.Errorf("safety.retention_days: must not be negative")
	}
	if c.Safety.MaxBackupsPerFile < 1 {
		return fmt.Errorf("safety.max_backups_per_file: must be at least 1")
	}

	return nil
}

func validProviderName(name string) bool {
	for _, n := range providerNames {
		if n == name {
			return true
		}
	}
	return false
}
