package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestBuildBedrockMessages(t *testing.T) {
	msgs := []models.Message{
		models.SystemMessage("dropped"),
		models.UserMessage("check both files"),
		{
			Role:    models.RoleAssistant,
			Content: "checking",
			ToolCalls: []models.ToolCall{
				{ID: "use_1", Name: "read_file", Arguments: map[string]json.RawMessage{"path": json.RawMessage(`"a.txt"`)}},
				{ID: "use_2", Name: "read_file", Arguments: map[string]json.RawMessage{"path": json.RawMessage(`"b.txt"`)}},
			},
		},
		models.ToolMessage("use_1", "read_file", "contents of a"),
		models.ToolMessage("use_2", "read_file", "contents of b"),
	}

	out := buildBedrockMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}

	if out[0].Role != brtypes.ConversationRoleUser {
		t.Errorf("first role = %v", out[0].Role)
	}

	assistant := out[1]
	if assistant.Role != brtypes.ConversationRoleAssistant {
		t.Errorf("assistant role = %v", assistant.Role)
	}
	if len(assistant.Content) != 3 {
		t.Fatalf("assistant blocks = %d", len(assistant.Content))
	}
	use, ok := assistant.Content[1].(*brtypes.ContentBlockMemberToolUse)
	if !ok || aws.ToString(use.Value.ToolUseId) != "use_1" {
		t.Errorf("tool use = %+v", assistant.Content[1])
	}

	// Consecutive tool results collapse into one user message.
	results := out[2]
	if results.Role != brtypes.ConversationRoleUser || len(results.Content) != 2 {
		t.Fatalf("results = %+v", results)
	}
	first, ok := results.Content[0].(*brtypes.ContentBlockMemberToolResult)
	if !ok || aws.ToString(first.Value.ToolUseId) != "use_1" {
		t.Errorf("first result = %+v", results.Content[0])
	}
}

func TestTranslateBedrockResponse(t *testing.T) {
	output := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "using a tool"},
					&brtypes.ContentBlockMemberToolUse{
						Value: brtypes.ToolUseBlock{
							ToolUseId: aws.String("use_1"),
							Name:      aws.String("read_file"),
							Input:     document.NewLazyDocument(map[string]any{"path": "a.txt"}),
						},
					},
				},
			},
		},
		StopReason: brtypes.StopReasonToolUse,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(8),
			OutputTokens: aws.Int32(3),
			TotalTokens:  aws.Int32(11),
		},
	}

	resp := translateBedrockResponse(output, "anthropic.claude-sonnet-4-20250514-v1:0", "bedrock")

	if resp.Content != "using a tool" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 11 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "use_1" || tc.Name != "read_file" {
		t.Errorf("call = %+v", tc)
	}
	if string(tc.Arguments["path"]) != `"a.txt"` {
		t.Errorf("path arg = %s", tc.Arguments["path"])
	}
}

func TestTranslateBedrockResponseStopReasons(t *testing.T) {
	resp := translateBedrockResponse(&bedrockruntime.ConverseOutput{
		StopReason: brtypes.StopReasonMaxTokens,
	}, "m", "bedrock")
	if resp.FinishReason != "length" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}

	if got := translateBedrockResponse(nil, "m", "bedrock"); got.FinishReason != "stop" {
		t.Errorf("nil output = %+v", got)
	}
}

func TestBedrockClassify(t *testing.T) {
	p := &BedrockProvider{base: newBase("bedrock", "AWS Bedrock", testRetrySettings(), nil)}

	tests := []struct {
		code string
		want ErrorKind
	}{
		{"ThrottlingException", KindRateLimit},
		{"ModelTimeoutException", KindTimeout},
		{"AccessDeniedException", KindAuthentication},
		{"ExpiredTokenException", KindAuthentication},
		{"ValidationException", KindInvalidRequest},
		{"ResourceNotFoundException", KindModelUnavailable},
		{"ServiceUnavailableException", KindServer},
		{"ModelNotReadyException", KindServer},
	}
	for _, tt := range tests {
		err := p.classify("m", &smithy.GenericAPIError{Code: tt.code, Message: "boom"})
		var perr *ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: err = %v", tt.code, err)
		}
		if perr.Kind != tt.want {
			t.Errorf("%s kind = %v, want %v", tt.code, perr.Kind, tt.want)
		}
		if perr.Code != tt.code {
			t.Errorf("%s code = %q", tt.code, perr.Code)
		}
	}

	// Unknown API codes keep the string classification of the cause.
	err := p.classify("m", &smithy.GenericAPIError{Code: "SomethingNew", Message: "internal server error"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Kind != KindServer {
		t.Errorf("unknown code err = %v", err)
	}
}

func TestApplyBedrockOptions(t *testing.T) {
	temp := 0.4
	var system []brtypes.SystemContentBlock
	var inference *brtypes.InferenceConfiguration
	var tools *brtypes.ToolConfiguration

	applyBedrockOptions(models.CompletionOptions{
		System:        "stay safe",
		MaxTokens:     512,
		Temperature:   &temp,
		StopSequences: []string{"STOP"},
		Tools:         []models.ToolSchema{convTestSchema()},
	}, func(s []brtypes.SystemContentBlock, i *brtypes.InferenceConfiguration, tc *brtypes.ToolConfiguration) {
		system, inference, tools = s, i, tc
	})

	if len(system) != 1 {
		t.Fatalf("system = %+v", system)
	}
	if text, ok := system[0].(*brtypes.SystemContentBlockMemberText); !ok || text.Value != "stay safe" {
		t.Errorf("system block = %+v", system[0])
	}
	if inference == nil || aws.ToInt32(inference.MaxTokens) != 512 {
		t.Errorf("inference = %+v", inference)
	}
	if len(inference.StopSequences) != 1 {
		t.Errorf("stop sequences = %v", inference.StopSequences)
	}
	if tools == nil || len(tools.Tools) != 1 {
		t.Errorf("tools = %+v", tools)
	}

	// Empty options produce nothing rather than empty structs.
	applyBedrockOptions(models.CompletionOptions{}, func(s []brtypes.SystemContentBlock, i *brtypes.InferenceConfiguration, tc *brtypes.ToolConfiguration) {
		system, inference, tools = s, i, tc
	})
	if system != nil || inference != nil || tools != nil {
		t.Errorf("empty options = %+v, %+v, %+v", system, inference, tools)
	}
}

func TestBedrockToolBufferFinish(t *testing.T) {
	tb := &bedrockToolBuffer{id: "use_1", name: "shell"}
	tb.args.WriteString(`{"cmd":`)
	tb.args.WriteString(`"ls"}`)

	call := tb.finish()
	if call.ID != "use_1" || call.Name != "shell" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments["cmd"]) != `"ls"` {
		t.Errorf("cmd arg = %s", call.Arguments["cmd"])
	}

	if got := (&bedrockToolBuffer{id: "use_2", name: "noop"}).finish(); len(got.Arguments) != 0 {
		t.Errorf("empty args = %+v", got.Arguments)
	}
}

func TestDecodeBedrockToolInput(t *testing.T) {
	args := decodeBedrockToolInput(document.NewLazyDocument(map[string]any{"path": "a.txt", "limit": 10}))
	if string(args["path"]) != `"a.txt"` {
		t.Errorf("path = %s", args["path"])
	}

	if got := decodeBedrockToolInput(nil); got == nil || len(got) != 0 {
		t.Errorf("nil doc = %v", got)
	}
}

func TestBedrockContextWindow(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"anthropic.claude-sonnet-4-20250514-v1:0", 200000},
		{"anthropic.claude-instant-v1", 100000},
		{"meta.llama3-1-405b-instruct-v1:0", 128000},
		{"meta.llama3-8b-instruct-v1:0", 8192},
		{"meta.llama2-70b-chat-v1", 4096},
		{"mistral.mixtral-8x7b-instruct-v0:1", 32768},
		{"cohere.command-r-plus-v1:0", 128000},
		{"cohere.command-text-v14", 4096},
		{"amazon.nova-pro-v1:0", 300000},
		{"ai21.jamba-1-5-large-v1:0", 256000},
		{"amazon.titan-text-lite-v1", 4096},
		{"amazon.titan-text-express-v1", 8192},
		{"something.else-v1", 32768},
	}
	for _, tt := range tests {
		if got := bedrockContextWindow(tt.id); got != tt.want {
			t.Errorf("bedrockContextWindow(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}
