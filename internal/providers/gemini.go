package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetrySettings
	Logger  *observability.Logger
}

// geminiCatalog is the curated model set for the Gemini API.
var geminiCatalog = []models.ModelInfo{
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextWindow: 1048576},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1048576},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextWindow: 1048576},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextWindow: 1048576},
}

// GeminiProvider talks to the Gemini API through the Google Gen AI SDK.
type GeminiProvider struct {
	base

	confMu  sync.RWMutex
	client  *genai.Client
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider. Client construction
// validates configuration, so this can fail without touching the network.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}

	p := &GeminiProvider{
		base:    newBase("gemini", "Google Gemini", cfg.Retry, cfg.Logger),
		apiKey:  apiKey,
		baseURL: strings.TrimSpace(cfg.BaseURL),
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
	}
	if p.model == "" {
		p.model = "gemini-2.0-flash"
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Minute
	}

	client, err := newGeminiClient(p.apiKey, p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p.client = client
	return p, nil
}

func newGeminiClient(apiKey, baseURL string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return genai.NewClient(context.Background(), cc)
}

func (p *GeminiProvider) Capabilities() models.Capabilities {
	return models.Capabilities{
		MaxContext: 1048576,
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

func (p *GeminiProvider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection counts tokens for a one-word prompt, which is free
// and exercises auth end to end.
func (p *GeminiProvider) TestConnection(ctx context.Context) error {
	client, model, timeout := p.snapshot()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: "ping"}},
	}}
	_, err := client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		err = p.classify(model, err)
	}
	p.setHealth(err)
	return err
}

func (p *GeminiProvider) ListModels(context.Context) ([]models.ModelInfo, error) {
	return catalogWithPricing(geminiCatalog, geminiPricing), nil
}

func (p *GeminiProvider) GetModel(ctx context.Context, id string) (*models.ModelInfo, error) {
	return lookupModel(ctx, p.name, p.ListModels, id)
}

func (p *GeminiProvider) CalculateCost(usage models.Usage, model string) float64 {
	return costFor(geminiPricing, model, usage)
}

func (p *GeminiProvider) UpdateConfig(patch ConfigPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	p.confMu.Lock()
	defer p.confMu.Unlock()
	apiKey, baseURL := p.apiKey, p.baseURL
	if patch.APIKey != nil {
		apiKey = strings.TrimSpace(*patch.APIKey)
	}
	if patch.BaseURL != nil {
		baseURL = strings.TrimSpace(*patch.BaseURL)
	}
	if apiKey != p.apiKey || baseURL != p.baseURL {
		client, err := newGeminiClient(apiKey, baseURL)
		if err != nil {
			return fmt.Errorf("gemini: create client: %w", err)
		}
		p.client = client
		p.apiKey = apiKey
		p.baseURL = baseURL
	}
	if patch.Model != nil {
		p.model = strings.TrimSpace(*patch.Model)
	}
	if patch.RequestTimeout != nil {
		p.timeout = *patch.RequestTimeout
	}
	return nil
}

func (p *GeminiProvider) Cleanup() error { return nil }

// Complete performs a blocking generation.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*models.CompletionResponse, error) {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		return nil, NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	contents := buildGeminiContents(req.Messages)
	config := buildGeminiConfig(req.Options)

	return doRetry(ctx, &p.base, func(int) (*models.CompletionResponse, error) {
		start := time.Now()
		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			err = p.classify(model, err)
			p.recordAttempt(start, models.Usage{}, 0, err)
			return nil, err
		}

		out := translateGeminiResponse(resp, model, p.name)
		cost := p.CalculateCost(out.Usage, model)
		p.recordAttempt(start, out.Usage, cost, nil)
		return out, nil
	})
}

// CompleteStream streams a generation. The iterator performs its HTTP
// request on first iteration, so the probe for the first item runs
// inside the retried attempt.
func (p *GeminiProvider) CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error {
	client, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		err := NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	contents := buildGeminiContents(req.Messages)
	config := buildGeminiConfig(req.Options)

	start := time.Now()
	stream, err := doRetry(ctx, &p.base, func(int) (*geminiStream, error) {
		attemptStart := time.Now()
		s := newGeminiStream(client.Models.GenerateContentStream(ctx, model, contents, config))
		if _, err := s.peek(); err != nil {
			err = p.classify(model, err)
			p.recordAttempt(attemptStart, models.Usage{}, 0, err)
			s.stop()
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	defer stream.stop()

	usage, streamErr := p.consumeStream(ctx, stream, model, onEvent)
	cost := 0.0
	if streamErr == nil {
		cost = p.CalculateCost(usage, model)
	}
	p.recordAttempt(start, usage, cost, streamErr)
	return streamErr
}

func (p *GeminiProvider) consumeStream(ctx context.Context, stream *geminiStream, model string, onEvent StreamHandler) (models.Usage, error) {
	var usage models.Usage
	var calls []models.ToolCall

	for {
		if err := ctx.Err(); err != nil {
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
			return usage, err
		}

		resp, err := stream.next()
		if err != nil {
			streamErr := p.classify(model, err)
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
			return usage, streamErr
		}
		if resp == nil {
			onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls})
			return usage, nil
		}

		if resp.UsageMetadata != nil {
			usage = models.Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					onEvent(models.StreamEvent{Delta: part.Text})
				}
				if part.FunctionCall != nil {
					calls = append(calls, geminiToolCall(part.FunctionCall))
				}
			}
		}
	}
}

func (p *GeminiProvider) snapshot() (*genai.Client, string, time.Duration) {
	p.confMu.RLock()
	defer p.confMu.RUnlock()
	return p.client, p.model, p.timeout
}

func (p *GeminiProvider) classify(model string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).WithStatus(apiErr.Code)
		if apiErr.Message != "" {
			pe = pe.WithMessage(apiErr.Message)
		}
		if apiErr.Status != "" {
			pe = pe.WithCode(apiErr.Status)
		}
		return pe
	}

	pe := NewError(p.name, model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		pe = pe.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		pe = pe.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		pe = pe.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		pe = pe.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "503"):
		pe = pe.WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(msg, "500"):
		pe = pe.WithStatus(http.StatusInternalServerError)
	}
	return pe
}

// geminiStream adapts the SDK's range-style iterator to a pull API so
// the first response can be probed before committing to the stream.
type geminiStream struct {
	pull   func() (*genai.GenerateContentResponse, error, bool)
	cancel func()
	peeked *genai.GenerateContentResponse
	hold   bool
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{pull: next, cancel: stop}
}

// peek fetches and holds the first item. A later next returns it.
func (s *geminiStream) peek() (*genai.GenerateContentResponse, error) {
	resp, err, ok := s.pull()
	if !ok {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.peeked = resp
	s.hold = true
	return resp, nil
}

// next returns the next response, or nil when the stream is exhausted.
func (s *geminiStream) next() (*genai.GenerateContentResponse, error) {
	if s.hold {
		s.hold = false
		resp := s.peeked
		s.peeked = nil
		return resp, nil
	}
	resp, err, ok := s.pull()
	if !ok {
		return nil, nil
	}
	return resp, err
}

func (s *geminiStream) stop() { s.cancel() }

func buildGeminiConfig(opts models.CompletionOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if s := strings.TrimSpace(opts.System); s != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: s}},
		}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		config.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		config.StopSequences = opts.StopSequences
	}
	if len(opts.Tools) > 0 {
		config.Tools = toGeminiTools(opts.Tools)
	}
	return config
}

// buildGeminiContents converts the transcript. System messages are
// dropped here; they travel in the SystemInstruction config.
func buildGeminiContents(messages []models.Message) []*genai.Content {
	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	var out []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" && msg.Role != models.RoleTool {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: toolArgsMap(tc),
				},
			})
		}
		if msg.Role == models.RoleTool {
			name := msg.Name
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     name,
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func translateGeminiResponse(resp *genai.GenerateContentResponse, model, provider string) *models.CompletionResponse {
	out := &models.CompletionResponse{
		Model:        model,
		Provider:     provider,
		FinishReason: "stop",
	}
	if resp == nil {
		return out
	}

	if resp.UsageMetadata != nil {
		out.Usage = models.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	var content strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		if candidate.FinishReason == genai.FinishReasonMaxTokens {
			out.FinishReason = "length"
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				content.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, geminiToolCall(part.FunctionCall))
			}
		}
	}
	out.Content = content.String()
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out
}

// Gemini does not assign tool call IDs; generate stable-enough ones.
func geminiToolCall(fc *genai.FunctionCall) models.ToolCall {
	raw, err := json.Marshal(fc.Args)
	if err != nil {
		raw = []byte("{}")
	}
	args, err := models.ParseToolArguments(raw)
	if err != nil {
		args = map[string]json.RawMessage{}
	}
	return models.ToolCall{
		ID:        fmt.Sprintf("call_%s_%d", fc.Name, time.Now().UnixNano()),
		Name:      fc.Name,
		Arguments: args,
	}
}
