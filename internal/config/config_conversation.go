package config

import "time"

// ConversationConfig controls turn history and persistence.
type ConversationConfig struct {
	// MaxTurns bounds the in-memory turn ring; older turns are
	// evicted oldest-first.
	MaxTurns int `yaml:"max_turns"`

	// MaxTokens is the approximate context budget used when building
	// model prompts from history.
	MaxTokens int `yaml:"max_tokens"`

	// Strategy selects how history over budget is reduced:
	// "truncate" drops oldest turns, "summarize" folds them into a
	// summary turn.
	Strategy string `yaml:"strategy"`

	// PersistPath is the history file, relative to the workspace root
	// unless absolute. Empty disables persistence.
	PersistPath string `yaml:"persist_path"`

	// AutosaveInterval is how often the maintenance scheduler saves
	// history.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

func applyConversationDefaults(c *ConversationConfig) {
	if c.MaxTurns == 0 {
		c.MaxTurns = 200
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 32000
	}
	if c.Strategy == "" {
		c.Strategy = "summarize"
	}
	if c.PersistPath == "" {
		c.PersistPath = ".forge/history.json"
	}
	if c.AutosaveInterval == 0 {
		c.AutosaveInterval = 5 * time.Minute
	}
}
