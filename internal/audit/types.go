package audit

import (
	"time"
)

// EventType classifies an audit record.
type EventType string

const (
	EventToolInvocation   EventType = "tool.invocation"
	EventToolCompletion   EventType = "tool.completion"
	EventToolDenied       EventType = "tool.denied"
	EventApprovalDecision EventType = "approval.decision"
	EventRiskAssessment   EventType = "safety.assessment"
	EventFileOperation    EventType = "file.operation"
	EventBackupCreated    EventType = "backup.created"
	EventBackupPruned     EventType = "backup.pruned"
	EventRollback         EventType = "rollback.completed"
)

// Event is one audit record, marshaled as a single JSON line.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	TurnID      string         `json:"turn_id,omitempty"`
	OperationID string         `json:"operation_id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	CallID      string         `json:"call_id,omitempty"`
	Outcome     string         `json:"outcome,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Config controls what the trail records and where it goes.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output selects the sink: "stdout", "stderr", or "file:<path>".
	Output string `yaml:"output" json:"output"`

	// IncludeToolInput writes raw tool arguments into events. When false
	// only a content hash is recorded.
	IncludeToolInput bool `yaml:"include_tool_input" json:"include_tool_input"`

	// IncludeToolOutput writes tool result payloads into events. When
	// false only the payload size is recorded.
	IncludeToolOutput bool `yaml:"include_tool_output" json:"include_tool_output"`

	// MaxFieldSize truncates recorded argument payloads.
	MaxFieldSize int `yaml:"max_field_size" json:"max_field_size"`

	// SampleRate in [0,1] drops a fraction of events. 1.0 records everything.
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`

	BufferSize    int           `yaml:"buffer_size" json:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// DefaultConfig returns a disabled trail with sensible limits filled in.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Output:        "stderr",
		MaxFieldSize:  1024,
		SampleRate:    1.0,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Output == "" {
		c.Output = "stderr"
	}
	if c.MaxFieldSize <= 0 {
		c.MaxFieldSize = 1024
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}
