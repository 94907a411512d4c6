package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestBuildAnthropicMessages(t *testing.T) {
	msgs := []models.Message{
		models.SystemMessage("extra system"),
		models.UserMessage("run both"),
		{
			Role:    models.RoleAssistant,
			Content: "running",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Arguments: map[string]json.RawMessage{"path": json.RawMessage(`"a.txt"`)}},
				{ID: "call_2", Name: "read_file", Arguments: map[string]json.RawMessage{"path": json.RawMessage(`"b.txt"`)}},
			},
		},
		models.ToolMessage("call_1", "read_file", "contents of a"),
		models.ToolMessage("call_2", "read_file", "contents of b"),
	}

	params, system := buildAnthropicMessages(msgs, "base system")

	if system != "base system\n\nextra system" {
		t.Errorf("system = %q", system)
	}
	if len(params) != 3 {
		t.Fatalf("got %d messages, want 3", len(params))
	}

	if params[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("first role = %v", params[0].Role)
	}

	assistant := params[1]
	if assistant.Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("assistant role = %v", assistant.Role)
	}
	if len(assistant.Content) != 3 {
		t.Fatalf("assistant blocks = %d, want text + 2 tool uses", len(assistant.Content))
	}
	if assistant.Content[0].OfText == nil || assistant.Content[0].OfText.Text != "running" {
		t.Errorf("text block = %+v", assistant.Content[0])
	}
	use := assistant.Content[1].OfToolUse
	if use == nil || use.ID != "call_1" || use.Name != "read_file" {
		t.Errorf("tool use = %+v", assistant.Content[1])
	}

	// Both tool results collapse into a single user message so the
	// conversation keeps alternating roles.
	results := params[2]
	if results.Role != anthropic.MessageParamRoleUser {
		t.Errorf("results role = %v", results.Role)
	}
	if len(results.Content) != 2 {
		t.Fatalf("result blocks = %d, want 2", len(results.Content))
	}
	first := results.Content[0].OfToolResult
	if first == nil || first.ToolUseID != "call_1" {
		t.Errorf("first result = %+v", results.Content[0])
	}
	second := results.Content[1].OfToolResult
	if second == nil || second.ToolUseID != "call_2" {
		t.Errorf("second result = %+v", results.Content[1])
	}
}

func TestBuildAnthropicMessagesSkipsEmpty(t *testing.T) {
	params, system := buildAnthropicMessages([]models.Message{
		models.UserMessage(""),
		models.AssistantMessage(""),
	}, "")
	if len(params) != 0 || system != "" {
		t.Errorf("params = %+v, system = %q", params, system)
	}
}

func TestTranslateAnthropicMessage(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "toolu_1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
		},
		StopReason: anthropic.StopReasonToolUse,
		Usage:      anthropic.Usage{InputTokens: 20, OutputTokens: 9},
	}

	resp := translateAnthropicMessage(msg, "claude-sonnet-4-20250514", "anthropic")

	if resp.Content != "let me check" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 29 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "read_file" {
		t.Errorf("call = %+v", tc)
	}
	if string(tc.Arguments["path"]) != `"a.txt"` {
		t.Errorf("path arg = %s", tc.Arguments["path"])
	}
}

func TestTranslateAnthropicMessageStopReasons(t *testing.T) {
	tests := []struct {
		reason anthropic.StopReason
		want   string
	}{
		{anthropic.StopReasonEndTurn, "stop"},
		{anthropic.StopReasonMaxTokens, "length"},
		{anthropic.StopReasonToolUse, "tool_calls"},
		{anthropic.StopReasonStopSequence, "stop"},
	}
	for _, tt := range tests {
		msg := &anthropic.Message{StopReason: tt.reason}
		if got := translateAnthropicMessage(msg, "m", "anthropic").FinishReason; got != tt.want {
			t.Errorf("stop reason %q -> %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestAnthropicToolBufferFinish(t *testing.T) {
	tb := &anthropicToolBuffer{id: "toolu_1", name: "shell"}
	tb.args.WriteString(`{"cmd"`)
	tb.args.WriteString(`:"ls"}`)

	call := tb.finish()
	if call.ID != "toolu_1" || call.Name != "shell" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments["cmd"]) != `"ls"` {
		t.Errorf("cmd arg = %s", call.Arguments["cmd"])
	}

	// No argument JSON at all still yields an empty argument map.
	empty := (&anthropicToolBuffer{id: "toolu_2", name: "noop"}).finish()
	if empty.Arguments == nil || len(empty.Arguments) != 0 {
		t.Errorf("empty arguments = %+v", empty.Arguments)
	}

	// Broken argument JSON degrades to an empty map rather than failing.
	broken := &anthropicToolBuffer{id: "toolu_3", name: "shell"}
	broken.args.WriteString(`{"cmd":`)
	if got := broken.finish(); len(got.Arguments) != 0 {
		t.Errorf("broken arguments = %+v", got.Arguments)
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "key"})
	temp := 0.2

	params, err := p.buildParams("claude-sonnet-4-20250514", Request{
		Messages: []models.Message{models.UserMessage("hi")},
		Options: models.CompletionOptions{
			System:        "be brief",
			Temperature:   &temp,
			StopSequences: []string{"DONE"},
			Tools:         []models.ToolSchema{convTestSchema()},
		},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}

	if params.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %v", params.Model)
	}
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max tokens = %d, want default %d", params.MaxTokens, defaultAnthropicMaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("system = %+v", params.System)
	}
	if params.Temperature.Value != 0.2 {
		t.Errorf("temperature = %v", params.Temperature.Value)
	}
	if len(params.StopSequences) != 1 || params.StopSequences[0] != "DONE" {
		t.Errorf("stop sequences = %v", params.StopSequences)
	}
	if len(params.Tools) != 1 {
		t.Errorf("tools = %d", len(params.Tools))
	}

	// An explicit token budget is passed through.
	params, err = p.buildParams("claude-sonnet-4-20250514", Request{
		Messages: []models.Message{models.UserMessage("hi")},
		Options:  models.CompletionOptions{MaxTokens: 1000},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.MaxTokens != 1000 {
		t.Errorf("max tokens = %d, want 1000", params.MaxTokens)
	}
}

func TestAnthropicListModels(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "key"})

	infos, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(infos) == 0 {
		t.Fatal("empty catalog")
	}
	for _, info := range infos {
		if info.ContextWindow != 200000 {
			t.Errorf("%s context window = %d", info.ID, info.ContextWindow)
		}
	}

	sonnet, err := p.GetModel(context.Background(), "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	// Dated releases pick up family pricing by prefix.
	if sonnet.InputPricePerMTok != 3.00 || sonnet.OutputPricePerMTok != 15.00 {
		t.Errorf("sonnet pricing = %v/%v", sonnet.InputPricePerMTok, sonnet.OutputPricePerMTok)
	}
}

func TestToolArgsMap(t *testing.T) {
	tc := models.ToolCall{
		Name:      "shell",
		Arguments: map[string]json.RawMessage{"cmd": json.RawMessage(`"ls"`), "timeout": json.RawMessage(`30`)},
	}
	got := toolArgsMap(tc)
	if got["cmd"] != "ls" {
		t.Errorf("cmd = %v", got["cmd"])
	}
	if got["timeout"] != float64(30) {
		t.Errorf("timeout = %v", got["timeout"])
	}

	if got := toolArgsMap(models.ToolCall{Name: "noop"}); len(got) != 0 {
		t.Errorf("empty call args = %v", got)
	}
}
