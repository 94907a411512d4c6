package config

import "time"

// ProvidersConfig configures the model provider adapters.
type ProvidersConfig struct {
	// Default names the provider used when routing has no preference.
	// Empty selects the first enabled provider in preference order
	// (anthropic, openai, bedrock, gemini, openrouter, local).
	Default string `yaml:"default"`

	// Retry applies to all adapters unless an operation overrides it.
	Retry RetryConfig `yaml:"retry"`

	Local      LocalProviderConfig      `yaml:"local"`
	OpenAI     OpenAIProviderConfig     `yaml:"openai"`
	Anthropic  AnthropicProviderConfig  `yaml:"anthropic"`
	OpenRouter OpenRouterProviderConfig `yaml:"openrouter"`
	Bedrock    BedrockProviderConfig    `yaml:"bedrock"`
	Gemini     GeminiProviderConfig     `yaml:"gemini"`
}

// RetryConfig bounds automatic retries of retryable provider errors.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// RateLimitConfig declares provider-side limits for capability reporting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// LocalProviderConfig configures the Ollama-compatible local adapter.
type LocalProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	// BaseURL is the API root; /tags, /chat, and /generate are
	// appended to it.
	BaseURL        string          `yaml:"base_url"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type OpenAIProviderConfig struct {
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	BaseURL        string          `yaml:"base_url"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type AnthropicProviderConfig struct {
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type OpenRouterProviderConfig struct {
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	BaseURL        string          `yaml:"base_url"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type BedrockProviderConfig struct {
	Enabled        bool            `yaml:"enabled"`
	Region         string          `yaml:"region"`
	Profile        string          `yaml:"profile"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type GeminiProviderConfig struct {
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	Model          string          `yaml:"model"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

func applyProviderDefaults(p *ProvidersConfig) {
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.InitialDelay == 0 {
		p.Retry.InitialDelay = time.Second
	}
	if p.Retry.MaxDelay == 0 {
		p.Retry.MaxDelay = 10 * time.Second
	}
	if p.Retry.Multiplier == 0 {
		p.Retry.Multiplier = 2.0
	}

	if p.Local.BaseURL == "" {
		p.Local.BaseURL = "http://localhost:11434/api"
	}
	if p.Local.Model == "" {
		p.Local.Model = "llama3.2"
	}
	if p.OpenAI.Model == "" {
		p.OpenAI.Model = "gpt-4o"
	}
	if p.Anthropic.Model == "" {
		p.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if p.OpenRouter.BaseURL == "" {
		p.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if p.OpenRouter.Model == "" {
		p.OpenRouter.Model = "anthropic/claude-sonnet-4"
	}
	if p.Bedrock.Region == "" {
		p.Bedrock.Region = "us-east-1"
	}
	if p.Bedrock.Model == "" {
		p.Bedrock.Model = "anthropic.claude-sonnet-4-20250514-v1:0"
	}
	if p.Gemini.Model == "" {
		p.Gemini.Model = "gemini-2.0-flash"
	}

	for _, timeout := range []*time.Duration{
		&p.Local.RequestTimeout,
		&p.OpenAI.RequestTimeout,
		&p.Anthropic.RequestTimeout,
		&p.OpenRouter.RequestTimeout,
		&p.Bedrock.RequestTimeout,
		&p.Gemini.RequestTimeout,
	} {
		if *timeout == 0 {
			*timeout = 30 * time.Second
		}
	}
}

// firstEnabledProvider returns the default provider name in preference
// order, or "" when no provider is enabled.
func firstEnabledProvider(p *ProvidersConfig) string {
	order := []struct {
		name    string
		enabled bool
	}{
		{"anthropic", p.Anthropic.Enabled},
		{"openai", p.OpenAI.Enabled},
		{"bedrock", p.Bedrock.Enabled},
		{"gemini", p.Gemini.Enabled},
		{"openrouter", p.OpenRouter.Enabled},
		{"local", p.Local.Enabled},
	}
	for _, entry := range order {
		if entry.enabled {
			return entry.name
		}
	}
	return ""
}

// EnabledProviders returns the names of all enabled providers in
// preference order.
func (p *ProvidersConfig) EnabledProviders() []string {
	var names []string
	for _, name := range []string{"anthropic", "openai", "bedrock", "gemini", "openrouter", "local"} {
		if p.ProviderEnabled(name) {
			names = append(names, name)
		}
	}
	return names
}

// ProviderEnabled reports whether the named provider is enabled.
func (p *ProvidersConfig) ProviderEnabled(name string) bool {
	switch name {
	case "local":
		return p.Local.Enabled
	case "openai":
		return p.OpenAI.Enabled
	case "anthropic":
		return p.Anthropic.Enabled
	case "openrouter":
		return p.OpenRouter.Enabled
	case "bedrock":
		return p.Bedrock.Enabled
	case "gemini":
		return p.Gemini.Enabled
	default:
		return false
	}
}
