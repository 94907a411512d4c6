package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetrySettings
	Logger  *observability.Logger
}

// anthropicCatalog is the curated model set for direct Anthropic access.
var anthropicCatalog = []models.ModelInfo{
	{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000},
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000},
}

const defaultAnthropicMaxTokens = 4096

// maxEmptyStreamEvents bounds how many consecutive unrecognized events
// the stream loop tolerates before declaring the stream malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	base

	confMu  sync.RWMutex
	client  anthropic.Client
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	p := &AnthropicProvider{
		base:    newBase("anthropic", "Anthropic", cfg.Retry, cfg.Logger),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimSpace(cfg.BaseURL),
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Minute
	}
	p.client = newAnthropicClient(p.apiKey, p.baseURL)
	return p
}

func newAnthropicClient(apiKey, baseURL string) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	return anthropic.NewClient(opts...)
}

func (p *AnthropicProvider) Capabilities() models.Capabilities {
	return models.Capabilities{
		MaxContext: 200000,
		Features: models.Features{
			Streaming:       true,
			FunctionCalling: true,
			ImageInput:      true,
			DocumentInput:   true,
		},
		Supported: map[models.Capability]bool{
			models.CapStreaming:       true,
			models.CapFunctionCalling: true,
			models.CapImageInput:      true,
			models.CapDocumentInput:   true,
		},
	}
}

func (p *AnthropicProvider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection lists models, which is free and exercises auth.
func (p *AnthropicProvider) TestConnection(ctx context.Context) error {
	client, _, timeout := p.snapshot()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	if err != nil {
		err = p.classify("", err)
	}
	p.setHealth(err)
	return err
}

func (p *AnthropicProvider) ListModels(context.Context) ([]models.ModelInfo, error) {
	return catalogWithPricing(anthropicCatalog, anthropicPricing), nil
}

func (p *AnthropicProvider) GetModel(ctx context.Context, id string) (*models.ModelInfo, error) {
	return lookupModel(ctx, p.name, p.ListModels, id)
}

func (p *AnthropicProvider) CalculateCost(usage models.Usage, model string) float64 {
	return costFor(anthropicPricing, model, usage)
}

func (p *AnthropicProvider) UpdateConfig(patch ConfigPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	p.confMu.Lock()
	defer p.confMu.Unlock()
	rebuild := false
	if patch.APIKey != nil {
		p.apiKey = strings.TrimSpace(*patch.APIKey)
		rebuild = true
	}
	if patch.BaseURL != nil {
		p.baseURL = strings.TrimSpace(*patch.BaseURL)
		rebuild = true
	}
	if patch.Model != nil {
		p.model = strings.TrimSpace(*patch.Model)
	}
	if patch.RequestTimeout != nil {
		p.timeout = *patch.RequestTimeout
	}
	if rebuild {
		p.client = newAnthropicClient(p.apiKey, p.baseURL)
	}
	return nil
}

func (p *AnthropicProvider) Cleanup() error { return nil }

// Complete performs a blocking messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*models.CompletionResponse, error) {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		return nil, NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	params, err := p.buildParams(model, req)
	if err != nil {
		return nil, err
	}

	return doRetry(ctx, &p.base, func(int) (*models.CompletionResponse, error) {
		start := time.Now()
		msg, err := client.Messages.New(ctx, params)
		if err != nil {
			err = p.classify(model, err)
			p.recordAttempt(start, models.Usage{}, 0, err)
			return nil, err
		}

		out := translateAnthropicMessage(msg, model, p.name)
		cost := p.CalculateCost(out.Usage, model)
		p.recordAttempt(start, out.Usage, cost, nil)
		return out, nil
	})
}

// CompleteStream streams a messages request. Only opening the stream
// is retried.
func (p *AnthropicProvider) CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		err := NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	params, err := p.buildParams(model, req)
	if err != nil {
		onEvent(models.StreamEvent{Done: true})
		return err
	}

	start := time.Now()
	stream, err := doRetry(ctx, &p.base, func(int) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
		attemptStart := time.Now()
		s := client.Messages.NewStreaming(ctx, params)
		if err := s.Err(); err != nil {
			err = p.classify(model, err)
			p.recordAttempt(attemptStart, models.Usage{}, 0, err)
			s.Close()
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	defer stream.Close()

	usage, streamErr := p.consumeStream(ctx, stream, model, onEvent)
	cost := 0.0
	if streamErr == nil {
		cost = p.CalculateCost(usage, model)
	}
	p.recordAttempt(start, usage, cost, streamErr)
	return streamErr
}

func (p *AnthropicProvider) consumeStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, onEvent StreamHandler) (models.Usage, error) {
	var usage models.Usage
	var calls []models.ToolCall
	pending := map[int]*anthropicToolBuffer{}
	emptyEvents := 0

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
			return usage, err
		}

		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			emptyEvents = 0

		case anthropic.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				pending[int(ev.Index)] = &anthropicToolBuffer{id: toolUse.ID, name: toolUse.Name}
			}
			emptyEvents = 0

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					onEvent(models.StreamEvent{Delta: delta.Text})
				}
			case anthropic.InputJSONDelta:
				if tb := pending[int(ev.Index)]; tb != nil {
					tb.args.WriteString(delta.PartialJSON)
				}
			}
			emptyEvents = 0

		case anthropic.ContentBlockStopEvent:
			if tb := pending[int(ev.Index)]; tb != nil {
				delete(pending, int(ev.Index))
				calls = append(calls, tb.finish())
			}
			emptyEvents = 0

		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			emptyEvents = 0

		case anthropic.MessageStopEvent:
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls})
			return usage, nil

		default:
			emptyEvents++
			if emptyEvents > maxEmptyStreamEvents {
				err := NewError(p.name, model, errors.New("stream produced no recognizable events")).WithKind(KindServer)
				onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
				return usage, err
			}
		}
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	if err := stream.Err(); err != nil {
		streamErr := p.classify(model, err)
		onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
		return usage, streamErr
	}

	// Stream ended without message_stop. Treat what arrived as the
	// complete response rather than dropping it.
	onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls})
	return usage, nil
}

func (p *AnthropicProvider) buildParams(model string, req Request) (anthropic.MessageNewParams, error) {
	messages, system := buildAnthropicMessages(req.Messages, req.Options.System)

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = anthropic.Float(*req.Options.TopP)
	}
	if req.Options.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.Options.TopK))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	if len(req.Options.Tools) > 0 {
		tools, err := toAnthropicTools(req.Options.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, NewError(p.name, model, err).WithKind(KindInvalidRequest)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) snapshot() (anthropic.Client, string, time.Duration) {
	p.confMu.RLock()
	defer p.confMu.RUnlock()
	return p.client, p.model, p.timeout
}

func (p *AnthropicProvider) classify(model string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).WithStatus(apiErr.StatusCode)
		if apiErr.RequestID != "" {
			pe = pe.WithRequestID(apiErr.RequestID)
		}
		var payload struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
			RequestID string `json:"request_id"`
		}
		if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Type != "" {
				pe = pe.WithCode(payload.Error.Type)
			}
			if payload.Error.Message != "" {
				pe = pe.WithMessage(payload.Error.Message)
			}
			if payload.RequestID != "" {
				pe = pe.WithRequestID(payload.RequestID)
			}
		}
		return pe
	}

	return NewError(p.name, model, err)
}

type anthropicToolBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (tb *anthropicToolBuffer) finish() models.ToolCall {
	raw := strings.TrimSpace(tb.args.String())
	if raw == "" {
		raw = "{}"
	}
	args, err := models.ParseToolArguments([]byte(raw))
	if err != nil {
		args = map[string]json.RawMessage{}
	}
	return models.ToolCall{ID: tb.id, Name: tb.name, Arguments: args}
}

func translateAnthropicMessage(msg *anthropic.Message, model, provider string) *models.CompletionResponse {
	out := &models.CompletionResponse{
		Model:    model,
		Provider: provider,
		Usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var content strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, err := models.ParseToolArguments(block.Input)
			if err != nil {
				args = map[string]json.RawMessage{}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	out.Content = content.String()

	switch msg.StopReason {
	case anthropic.StopReasonMaxTokens:
		out.FinishReason = "length"
	case anthropic.StopReasonToolUse:
		out.FinishReason = "tool_calls"
	default:
		out.FinishReason = "stop"
	}
	return out
}

// buildAnthropicMessages converts the transcript to Anthropic message
// params. System content moves to the system parameter; consecutive
// tool results collapse into one user message so roles alternate.
func buildAnthropicMessages(messages []models.Message, system string) ([]anthropic.MessageParam, string) {
	var systemParts []string
	if s := strings.TrimSpace(system); s != "" {
		systemParts = append(systemParts, s)
	}

	out := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if s := strings.TrimSpace(msg.Content); s != "" {
				systemParts = append(systemParts, s)
			}
		case models.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case models.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolArgsMap(tc), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()

	return out, strings.Join(systemParts, "\n\n")
}

func toolArgsMap(tc models.ToolCall) map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal(tc.ArgumentsJSON(), &out); err != nil {
		return map[string]any{}
	}
	return out
}
