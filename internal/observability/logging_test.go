package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(LogConfig{})
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}
	if logger.logger == nil {
		t.Error("Logger.logger is nil")
	}
	if len(logger.redacts) == 0 {
		t.Error("default redact patterns not compiled")
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "routing input", "decision", "command", "ms", 12)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "routing input" {
		t.Errorf("msg = %v, want %q", entry["msg"], "routing input")
	}
	if entry["decision"] != "command" {
		t.Errorf("decision = %v, want %q", entry["decision"], "command")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "error", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")

	if buf.Len() != 0 {
		t.Errorf("expected no output below error level, got %q", buf.String())
	}

	logger.Error(ctx, "error message")
	if buf.Len() == 0 {
		t.Error("error message was not written")
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"anthropic key", "sk-ant-" + strings.Repeat("a", 96)},
		{"openai key", "sk-" + strings.Repeat("b", 50)},
		{"bearer token", "bearer abcdefghijklmnopqrstuvwxyz123456"},
		{"password assignment", "password=supersecret99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

			logger.Info(context.Background(), "credential leak", "value", tt.value)

			out := buf.String()
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("output not redacted: %s", out)
			}
		})
	}
}

func TestLoggerSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "config loaded", "settings", map[string]any{
		"api_key": "plaintext-value",
		"model":   "claude-sonnet-4",
	})

	out := buf.String()
	if strings.Contains(out, "plaintext-value") {
		t.Errorf("api_key value leaked: %s", out)
	}
	if !strings.Contains(out, "claude-sonnet-4") {
		t.Errorf("non-sensitive value dropped: %s", out)
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := WithTurnID(context.Background(), "turn-123")
	ctx = WithOperationID(ctx, "op-456")
	logger.Info(ctx, "executing")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["turn_id"] != "turn-123" {
		t.Errorf("turn_id = %v, want turn-123", entry["turn_id"])
	}
	if entry["operation_id"] != "op-456" {
		t.Errorf("operation_id = %v, want op-456", entry["operation_id"])
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	routerLog := logger.WithFields("component", "router")
	routerLog.Info(context.Background(), "selected provider")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["component"] != "router" {
		t.Errorf("component = %v, want router", entry["component"])
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in).String(); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
