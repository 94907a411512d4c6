package providers

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestBuildGeminiContents(t *testing.T) {
	msgs := []models.Message{
		models.SystemMessage("dropped here"),
		models.UserMessage("list files"),
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "list_dir", Arguments: map[string]json.RawMessage{"path": json.RawMessage(`"."`)}},
			},
		},
		models.ToolMessage("call_1", "", `{"files":["a.txt"]}`),
	}

	contents := buildGeminiContents(msgs)
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3 (system dropped)", len(contents))
	}

	if contents[0].Role != genai.RoleUser || contents[0].Parts[0].Text != "list files" {
		t.Errorf("user content = %+v", contents[0])
	}

	model := contents[1]
	if model.Role != genai.RoleModel {
		t.Errorf("assistant role = %q", model.Role)
	}
	if model.Parts[0].FunctionCall == nil || model.Parts[0].FunctionCall.Name != "list_dir" {
		t.Errorf("function call = %+v", model.Parts[0])
	}
	if model.Parts[0].FunctionCall.Args["path"] != "." {
		t.Errorf("args = %v", model.Parts[0].FunctionCall.Args)
	}

	result := contents[2]
	if result.Role != genai.RoleUser {
		t.Errorf("tool result role = %q", result.Role)
	}
	fr := result.Parts[0].FunctionResponse
	if fr == nil {
		t.Fatalf("tool result = %+v", result.Parts[0])
	}
	// The name is recovered from the assistant call the result answers.
	if fr.Name != "list_dir" {
		t.Errorf("function response name = %q", fr.Name)
	}
	if _, ok := fr.Response["files"]; !ok {
		t.Errorf("response = %v", fr.Response)
	}
}

func TestBuildGeminiContentsWrapsPlainToolOutput(t *testing.T) {
	contents := buildGeminiContents([]models.Message{
		models.ToolMessage("call_1", "shell", "plain text output"),
	})
	if len(contents) != 1 {
		t.Fatalf("contents = %+v", contents)
	}
	fr := contents[0].Parts[0].FunctionResponse
	if fr.Response["result"] != "plain text output" {
		t.Errorf("response = %v", fr.Response)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	temp := 0.3
	cfg := buildGeminiConfig(models.CompletionOptions{
		System:        "short answers",
		MaxTokens:     256,
		Temperature:   &temp,
		StopSequences: []string{"END"},
		Tools:         []models.ToolSchema{convTestSchema()},
	})

	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "short answers" {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.MaxOutputTokens != 256 {
		t.Errorf("max output tokens = %d", cfg.MaxOutputTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != float32(0.3) {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if len(cfg.StopSequences) != 1 {
		t.Errorf("stop sequences = %v", cfg.StopSequences)
	}
	if len(cfg.Tools) != 1 {
		t.Errorf("tools = %d", len(cfg.Tools))
	}

	empty := buildGeminiConfig(models.CompletionOptions{})
	if empty.SystemInstruction != nil || empty.Tools != nil {
		t.Errorf("empty config = %+v", empty)
	}
}

func TestTranslateGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{Text: "checking "},
						{Text: "now"},
						{FunctionCall: &genai.FunctionCall{Name: "read_file", Args: map[string]any{"path": "a.txt"}}},
					},
				},
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     11,
			CandidatesTokenCount: 4,
			TotalTokenCount:      15,
		},
	}

	out := translateGeminiResponse(resp, "gemini-2.0-flash", "gemini")

	if out.Content != "checking now" {
		t.Errorf("content = %q", out.Content)
	}
	if out.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", out.FinishReason)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", out.Usage)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	tc := out.ToolCalls[0]
	if tc.Name != "read_file" {
		t.Errorf("name = %q", tc.Name)
	}
	if !strings.HasPrefix(tc.ID, "call_read_file_") {
		t.Errorf("id = %q", tc.ID)
	}
	if string(tc.Arguments["path"]) != `"a.txt"` {
		t.Errorf("path arg = %s", tc.Arguments["path"])
	}
}

func TestTranslateGeminiResponseLength(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				FinishReason: genai.FinishReasonMaxTokens,
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: "truncated"}},
				},
			},
		},
	}
	out := translateGeminiResponse(resp, "m", "gemini")
	if out.FinishReason != "length" {
		t.Errorf("finish reason = %q", out.FinishReason)
	}

	if got := translateGeminiResponse(nil, "m", "gemini"); got.FinishReason != "stop" || got.Content != "" {
		t.Errorf("nil response = %+v", got)
	}
}

func TestGeminiStreamPeekThenNext(t *testing.T) {
	first := &genai.GenerateContentResponse{}
	second := &genai.GenerateContentResponse{}

	s := newGeminiStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
		if !yield(first, nil) {
			return
		}
		yield(second, nil)
	})
	defer s.stop()

	peeked, err := s.peek()
	if err != nil || peeked != first {
		t.Fatalf("peek = %v, %v", peeked, err)
	}

	// next replays the held response before pulling new ones.
	got, err := s.next()
	if err != nil || got != first {
		t.Fatalf("first next = %v, %v", got, err)
	}
	got, err = s.next()
	if err != nil || got != second {
		t.Fatalf("second next = %v, %v", got, err)
	}
	got, err = s.next()
	if err != nil || got != nil {
		t.Fatalf("exhausted next = %v, %v", got, err)
	}
}

func TestGeminiStreamPeekError(t *testing.T) {
	open := errors.New("open failed")
	s := newGeminiStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
		yield(nil, open)
	})
	defer s.stop()

	if _, err := s.peek(); !errors.Is(err, open) {
		t.Errorf("peek err = %v", err)
	}
}

func TestGeminiClassify(t *testing.T) {
	p := &GeminiProvider{base: newBase("gemini", "Google Gemini", testRetrySettings(), nil)}

	apiErr := genai.APIError{Code: 429, Message: "quota exceeded", Status: "RESOURCE_EXHAUSTED"}
	err := p.classify("gemini-2.0-flash", apiErr)

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v", err)
	}
	if perr.Kind != KindRateLimit || perr.Status != 429 {
		t.Errorf("kind/status = %v/%d", perr.Kind, perr.Status)
	}
	if perr.Message != "quota exceeded" {
		t.Errorf("message = %q", perr.Message)
	}

	// Non-API errors fall back to string classification.
	err = p.classify("m", errors.New("connection refused"))
	if !errors.As(err, &perr) || perr.Kind != KindConnection {
		t.Errorf("fallback err = %v", err)
	}
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	if _, err := NewGeminiProvider(GeminiConfig{}); err == nil {
		t.Fatal("expected an error without an API key")
	}

	p, err := NewGeminiProvider(GeminiConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("name = %q", p.Name())
	}
}
