package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the default API endpoint, for proxies and
	// compatible servers.
	BaseURL string

	Model   string
	Timeout time.Duration
	Retry   RetrySettings
	Logger  *observability.Logger
}

// OpenAIProvider talks to the OpenAI chat completion API or any
// wire-compatible endpoint. OpenRouter reuses this implementation with
// a fixed base URL and a curated catalog.
type OpenAIProvider struct {
	base

	confMu  sync.RWMutex
	client  *openai.Client
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration

	pricing map[string]ModelPricing
	catalog []models.ModelInfo
	caps    models.Capabilities
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		base:    newBase("openai", "OpenAI", cfg.Retry, cfg.Logger),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimSpace(cfg.BaseURL),
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
		pricing: openaiPricing,
		caps: models.Capabilities{
			MaxContext: 128000,
			Features: models.Features{
				Streaming:       true,
				FunctionCalling: true,
				ImageInput:      true,
			},
			Supported: map[models.Capability]bool{
				models.CapStreaming:       true,
				models.CapFunctionCalling: true,
				models.CapImageInput:      true,
			},
		},
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Minute
	}
	p.client = newOpenAIClient(p.apiKey, p.baseURL)
	return p
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	if baseURL == "" {
		return openai.NewClient(apiKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) Capabilities() models.Capabilities { return p.caps }

// Initialize verifies credentials by listing models.
func (p *OpenAIProvider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection issues a cheap authenticated request.
func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	client, _, timeout := p.snapshot()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := client.ListModels(ctx)
	if err != nil {
		err = p.classify("", err)
	}
	p.setHealth(err)
	return err
}

// ListModels returns the curated catalog when one is configured,
// otherwise the chat-capable models the endpoint reports.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if len(p.catalog) > 0 {
		out := make([]models.ModelInfo, len(p.catalog))
		copy(out, p.catalog)
		return out, nil
	}

	client, _, timeout := p.snapshot()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, p.classify("", err)
	}

	infos := make([]models.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		if !isOpenAIChatModel(m.ID) {
			continue
		}
		info := models.ModelInfo{
			ID:            m.ID,
			Name:          m.ID,
			ContextWindow: openaiContextWindow(m.ID),
		}
		if price, ok := pricingFor(p.pricing, m.ID); ok {
			info.InputPricePerMTok = price.InputPerMillion
			info.OutputPricePerMTok = price.OutputPerMillion
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (p *OpenAIProvider) GetModel(ctx context.Context, id string) (*models.ModelInfo, error) {
	return lookupModel(ctx, p.name, p.ListModels, id)
}

func (p *OpenAIProvider) CalculateCost(usage models.Usage, model string) float64 {
	return costFor(p.pricing, model, usage)
}

// UpdateConfig applies a partial reconfiguration, rebuilding the
// client when credentials or endpoint change.
func (p *OpenAIProvider) UpdateConfig(patch ConfigPatch) error {
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
		p.client = newOpenAIClient(p.apiKey, p.baseURL)
	}
	return nil
}

func (p *OpenAIProvider) Cleanup() error { return nil }

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*models.CompletionResponse, error) {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		return nil, NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	chatReq := p.buildRequest(model, req, false)

	return doRetry(ctx, &p.base, func(int) (*models.CompletionResponse, error) {
		start := time.Now()
		resp, err := client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			err = p.classify(model, err)
			p.recordAttempt(start, models.Usage{}, 0, err)
			return nil, err
		}

		out := &models.CompletionResponse{
			Model:    model,
			Provider: p.name,
			Usage: models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
			FinishReason: "stop",
		}
		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			out.Content = choice.Message.Content
			out.ToolCalls = fromOpenAIToolCalls(choice.Message.ToolCalls)
			out.FinishReason = mapOpenAIFinish(choice.FinishReason, len(out.ToolCalls) > 0)
		}
		cost := p.CalculateCost(out.Usage, model)
		p.recordAttempt(start, out.Usage, cost, nil)
		return out, nil
	})
}

// CompleteStream streams a chat completion. Only opening the stream is
// retried; once data flows, failures surface to the caller.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		err := NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	chatReq := p.buildRequest(model, req, true)

	start := time.Now()
	stream, err := doRetry(ctx, &p.base, func(int) (*openai.ChatCompletionStream, error) {
		attemptStart := time.Now()
		s, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			err = p.classify(model, err)
			p.recordAttempt(attemptStart, models.Usage{}, 0, err)
		}
		return s, err
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

func (p *OpenAIProvider) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, onEvent StreamHandler) (models.Usage, error) {
	var usage models.Usage
	calls := openaiCallAccumulator{}

	for {
		if err := ctx.Err(); err != nil {
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls.finish()})
			return usage, err
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls.finish()})
			return usage, nil
		}
		if err != nil {
			streamErr := p.classify(model, err)
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls.finish()})
			return usage, streamErr
		}

		if resp.Usage != nil {
			usage = models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			onEvent(models.StreamEvent{Delta: delta.Content})
		}
		calls.add(delta.ToolCalls)
	}
}

func (p *OpenAIProvider) buildRequest(model string, req Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildOpenAIMessages(req.Messages, req.Options.System),
		Stream:   stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.Options.MaxTokens > 0 {
		out.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		out.Temperature = float32(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		out.TopP = float32(*req.Options.TopP)
	}
	if len(req.Options.StopSequences) > 0 {
		out.Stop = req.Options.StopSequences
	}
	if len(req.Options.Tools) > 0 {
		out.Tools = toOpenAITools(req.Options.Tools)
	}
	return out
}

func (p *OpenAIProvider) snapshot() (*openai.Client, string, time.Duration) {
	p.confMu.RLock()
	defer p.confMu.RUnlock()
	return p.client, p.model, p.timeout
}

func (p *OpenAIProvider) classify(model string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
		return pe
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewError(p.name, model, err)
}

// openaiCallAccumulator assembles tool calls from stream fragments
// keyed by choice index. The ID and name arrive on the first fragment,
// argument JSON accumulates across the rest.
type openaiCallAccumulator struct {
	pending map[int]*openaiPendingCall
}

type openaiPendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (a *openaiCallAccumulator) add(fragments []openai.ToolCall) {
	for _, tc := range fragments {
		if tc.Index == nil {
			continue
		}
		if a.pending == nil {
			a.pending = map[int]*openaiPendingCall{}
		}
		pc, ok := a.pending[*tc.Index]
		if !ok {
			pc = &openaiPendingCall{}
			a.pending[*tc.Index] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		if tc.Function.Name != "" {
			pc.name = tc.Function.Name
		}
		pc.args.WriteString(tc.Function.Arguments)
	}
}

func (a *openaiCallAccumulator) finish() []models.ToolCall {
	if len(a.pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.pending))
	for i := range a.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]models.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.pending[i]
		if pc.name == "" {
			continue
		}
		id := pc.id
		if id == "" {
			id = "call_" + pc.name
		}
		args, err := models.ParseToolArguments([]byte(pc.args.String()))
		if err != nil {
			args = map[string]json.RawMessage{}
		}
		out = append(out, models.ToolCall{ID: id, Name: pc.name, Arguments: args})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if tc.Function.Name == "" {
			continue
		}
		args, err := models.ParseToolArguments([]byte(tc.Function.Arguments))
		if err != nil {
			args = map[string]json.RawMessage{}
		}
		out = append(out, models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

func mapOpenAIFinish(reason openai.FinishReason, hasTools bool) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	case openai.FinishReasonLength:
		return "length"
	default:
		if hasTools {
			return "tool_calls"
		}
		return "stop"
	}
}

func buildOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system = strings.TrimSpace(system); system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.ArgumentsJSON()),
					},
				})
			}
			out = append(out, m)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return out
}

var openaiChatPrefixes = []string{"gpt-4", "gpt-3.5-turbo", "gpt-5", "chatgpt-", "o1", "o3", "o4"}

var openaiNonChatMarkers = []string{
	"embed", "whisper", "tts", "dall-e", "audio", "realtime",
	"moderation", "transcribe", "instruct", "search",
}

func isOpenAIChatModel(id string) bool {
	for _, marker := range openaiNonChatMarkers {
		if strings.Contains(id, marker) {
			return false
		}
	}
	for _, prefix := range openaiChatPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func openaiContextWindow(id string) int {
	switch {
	case strings.HasPrefix(id, "gpt-4.1"):
		return 1047576
	case strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"), strings.HasPrefix(id, "o1"):
		return 200000
	case strings.HasPrefix(id, "gpt-4o"), strings.HasPrefix(id, "chatgpt-"):
		return 128000
	case strings.HasPrefix(id, "gpt-4"):
		return 128000
	case strings.HasPrefix(id, "gpt-3.5-turbo"):
		return 16385
	default:
		return 128000
	}
}
