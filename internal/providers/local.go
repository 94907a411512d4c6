package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// LocalConfig configures the local (Ollama-compatible) provider.
type LocalConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:11434/api".
	BaseURL string

	// Model is used when a request does not name one.
	Model string

	// Timeout is the default per-request deadline.
	Timeout time.Duration

	Retry  RetrySettings
	Logger *observability.Logger
}

// LocalProvider serves completions from an Ollama-compatible HTTP
// endpoint speaking newline-delimited JSON.
type LocalProvider struct {
	base

	confMu  sync.RWMutex
	client  *http.Client
	baseURL string
	model   string
	timeout time.Duration
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a local provider. The endpoint is not
// contacted until Initialize or the first request.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalProvider{
		base:    newBase("local", "Local (Ollama)", cfg.Retry, cfg.Logger),
		client:  &http.Client{},
		baseURL: baseURL,
		model:   strings.TrimSpace(cfg.Model),
		timeout: timeout,
	}
}

// Capabilities reports the local endpoint's feature surface. Context
// size depends on the loaded model; this is a conservative floor.
func (p *LocalProvider) Capabilities() models.Capabilities {
	return models.Capabilities{
		MaxContext: 8192,
		Features: models.Features{
			Streaming:       true,
			FunctionCalling: true,
		},
		Supported: map[models.Capability]bool{
			models.CapStreaming:       true,
			models.CapFunctionCalling: true,
		},
	}
}

// Initialize verifies the endpoint is reachable.
func (p *LocalProvider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection probes the tags endpoint.
func (p *LocalProvider) TestConnection(ctx context.Context) error {
	_, err := p.fetchTags(ctx)
	p.setHealth(err)
	return err
}

// ListModels returns the models the endpoint currently serves.
func (p *LocalProvider) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	tags, err := p.fetchTags(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]models.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		infos = append(infos, models.ModelInfo{ID: m.Name, Name: m.Name})
	}
	return infos, nil
}

// GetModel resolves one model by name.
func (p *LocalProvider) GetModel(ctx context.Context, id string) (*models.ModelInfo, error) {
	return lookupModel(ctx, p.name, p.ListModels, id)
}

// CalculateCost always returns zero: local inference is free.
func (p *LocalProvider) CalculateCost(models.Usage, string) float64 {
	return 0
}

// UpdateConfig applies a partial reconfiguration. API keys are
// meaningless for local endpoints and are ignored.
func (p *LocalProvider) UpdateConfig(patch ConfigPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	p.confMu.Lock()
	defer p.confMu.Unlock()
	if patch.BaseURL != nil {
		p.baseURL = strings.TrimRight(strings.TrimSpace(*patch.BaseURL), "/")
	}
	if patch.Model != nil {
		p.model = strings.TrimSpace(*patch.Model)
	}
	if patch.RequestTimeout != nil {
		p.timeout = *patch.RequestTimeout
	}
	return nil
}

// Cleanup drops idle connections.
func (p *LocalProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

// Complete performs a blocking completion against /chat (or /generate
// for bare single-turn prompts).
func (p *LocalProvider) Complete(ctx context.Context, req Request) (*models.CompletionResponse, error) {
	url, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		return nil, NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	return doRetry(ctx, &p.base, func(int) (*models.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.completeOnce(ctx, url, model, req)
		if err != nil {
			p.recordAttempt(start, models.Usage{}, 0, err)
			return nil, err
		}
		p.recordAttempt(start, resp.Usage, 0, nil)
		return resp, nil
	})
}

func (p *LocalProvider) completeOnce(ctx context.Context, url, model string, req Request) (*models.CompletionResponse, error) {
	if prompt, ok := barePrompt(req); ok {
		return p.generateOnce(ctx, url, model, prompt, req.Options)
	}

	payload := localChatRequest{
		Model:    model,
		Stream:   false,
		Messages: buildLocalMessages(req.Messages, req.Options.System),
		Options:  localOptions(req.Options),
	}
	if len(req.Options.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Options.Tools)
	}

	body, err := p.post(ctx, url+"/chat", payload, model)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out localChatResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, NewError(p.name, model, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, NewError(p.name, model, errors.New(out.Error))
	}

	resp := &models.CompletionResponse{
		Model:    model,
		Provider: p.name,
		Usage:    localUsage(out.PromptEvalCount, out.EvalCount),
	}
	if out.Message != nil {
		resp.Content = out.Message.Content
		resp.ToolCalls = localToolCalls(out.Message.ToolCalls, nil)
	}
	resp.FinishReason = "stop"
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

func (p *LocalProvider) generateOnce(ctx context.Context, url, model, prompt string, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	payload := localGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  opts.System,
		Stream:  false,
		Options: localOptions(opts),
	}
	body, err := p.post(ctx, url+"/generate", payload, model)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out localGenerateResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, NewError(p.name, model, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, NewError(p.name, model, errors.New(out.Error))
	}
	return &models.CompletionResponse{
		Content:      out.Response,
		Model:        model,
		Provider:     p.name,
		Usage:        localUsage(out.PromptEvalCount, out.EvalCount),
		FinishReason: "stop",
	}, nil
}

// CompleteStream streams a chat completion, decoding one JSON object
// per line. Malformed lines are logged and skipped; an unrecoverable
// framing error still produces the terminal done event.
func (p *LocalProvider) CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error {
	url, model, timeout := p.snapshot()
	if model = resolveModel(req.Options, model); model == "" {
		err := NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	payload := localChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildLocalMessages(req.Messages, req.Options.System),
		Options:  localOptions(req.Options),
	}
	if len(req.Options.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Options.Tools)
	}

	start := time.Now()
	body, err := doRetry(ctx, &p.base, func(int) (io.ReadCloser, error) {
		attemptStart := time.Now()
		b, err := p.post(ctx, url+"/chat", payload, model)
		if err != nil {
			p.recordAttempt(attemptStart, models.Usage{}, 0, err)
		}
		return b, err
	})
	if err != nil {
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	defer body.Close()

	usage, streamErr := p.consumeStream(ctx, body, model, onEvent)
	p.recordAttempt(start, usage, 0, streamErr)
	return streamErr
}

// consumeStream reads NDJSON lines until done, emitting events in
// order. It always emits exactly one terminal done event.
func (p *LocalProvider) consumeStream(ctx context.Context, body io.Reader, model string, onEvent StreamHandler) (models.Usage, error) {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var usage models.Usage
	calls := localCallAccumulator{}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			onEvent(models.StreamEvent{Done: true})
			return usage, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp localChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			p.logger.Debug(ctx, "skipping malformed stream line",
				"provider", p.name, "error", err.Error())
			continue
		}
		if resp.Error != "" {
			err := NewError(p.name, model, errors.New(resp.Error))
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls.ordered()})
			return usage, err
		}
		if resp.Message != nil {
			if resp.Message.Content != "" {
				onEvent(models.StreamEvent{Delta: resp.Message.Content})
			}
			calls.add(resp.Message.ToolCalls)
		}
		if resp.Done {
			usage = localUsage(resp.PromptEvalCount, resp.EvalCount)
			onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls.ordered()})
			return usage, nil
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	streamErr := NewError(p.name, model, err)
	onEvent(models.StreamEvent{Done: true, ToolCalls: calls.ordered()})
	return usage, streamErr
}

func (p *LocalProvider) snapshot() (url, model string, timeout time.Duration) {
	p.confMu.RLock()
	defer p.confMu.RUnlock()
	return p.baseURL, p.model, p.timeout
}

func (p *LocalProvider) post(ctx context.Context, url string, payload any, model string) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(p.name, model, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(p.name, model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError(p.name, model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewError(p.name, model,
				fmt.Errorf("status %d (read body failed: %v)", resp.StatusCode, readErr)).
				WithStatus(resp.StatusCode).
				WithRetryAfter(retryAfterFromHeader(resp.Header))
		}
		return nil, NewError(p.name, model,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).
			WithStatus(resp.StatusCode).
			WithRetryAfter(retryAfterFromHeader(resp.Header))
	}
	return resp.Body, nil
}

func (p *LocalProvider) fetchTags(ctx context.Context) (*localTagsResponse, error) {
	url, _, timeout := p.snapshot()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/tags", nil)
	if err != nil {
		return nil, NewError(p.name, "", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError(p.name, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewError(p.name, "", fmt.Errorf("status %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}
	var tags localTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, NewError(p.name, "", fmt.Errorf("decode tags: %w", err))
	}
	return &tags, nil
}

// barePrompt reports whether the request is a single user turn with no
// tools, which can use the cheaper generate endpoint.
func barePrompt(req Request) (string, bool) {
	if len(req.Options.Tools) > 0 || len(req.Messages) != 1 {
		return "", false
	}
	msg := req.Messages[0]
	if msg.Role != models.RoleUser || len(msg.ToolCalls) > 0 {
		return "", false
	}
	return msg.Content, msg.Content != ""
}

// localCallAccumulator dedupes tool calls by ID across stream lines,
// preserving first-seen order.
type localCallAccumulator struct {
	order []string
	byID  map[string]models.ToolCall
}

func (a *localCallAccumulator) add(calls []localToolCall) {
	for _, tc := range calls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = localCallKey(tc)
			if id == "" {
				id = uuid.NewString()
			}
		}
		if a.byID == nil {
			a.byID = map[string]models.ToolCall{}
		}
		if _, seen := a.byID[id]; seen {
			continue
		}
		args, err := models.ParseToolArguments(tc.Function.Arguments)
		if err != nil {
			args = map[string]json.RawMessage{}
		}
		a.byID[id] = models.ToolCall{
			ID:        id,
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
		}
		a.order = append(a.order, id)
	}
}

func (a *localCallAccumulator) ordered() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

func localCallKey(tc localToolCall) string {
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}

func localToolCalls(calls []localToolCall, into []models.ToolCall) []models.ToolCall {
	acc := localCallAccumulator{}
	acc.add(calls)
	return append(into, acc.ordered()...)
}

func localUsage(prompt, completion int) models.Usage {
	return models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func localOptions(opts models.CompletionOptions) map[string]any {
	out := map[string]any{}
	if opts.MaxTokens > 0 {
		out["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		out["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		out["top_p"] = *opts.TopP
	}
	if opts.TopK != nil {
		out["top_k"] = *opts.TopK
	}
	if len(opts.StopSequences) > 0 {
		out["stop"] = opts.StopSequences
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Tools    []openai.Tool      `json:"tools,omitempty"`
	Stream   bool               `json:"stream"`
	Options  map[string]any     `json:"options,omitempty"`
}

type localChatMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []localToolCall `json:"tool_calls,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
}

type localChatResponse struct {
	Message         *localChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error"`
	EvalCount       int               `json:"eval_count"`
	PromptEvalCount int               `json:"prompt_eval_count"`
}

type localGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type localGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

type localToolCall struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function localToolFunction `json:"function"`
}

type localToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type localTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// buildLocalMessages maps the transcript to the wire roles, resolving
// tool-message names from the assistant calls that requested them.
func buildLocalMessages(messages []models.Message, system string) []localChatMessage {
	out := make([]localChatMessage, 0, len(messages)+1)

	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	if system = strings.TrimSpace(system); system != "" {
		out = append(out, localChatMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			m := localChatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, localToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: localToolFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON(),
					},
				})
			}
			out = append(out, m)
		case models.RoleTool:
			name := msg.Name
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			out = append(out, localChatMessage{Role: "tool", Content: msg.Content, ToolName: name})
		case models.RoleSystem:
			out = append(out, localChatMessage{Role: "system", Content: msg.Content})
		default:
			out = append(out, localChatMessage{Role: "user", Content: msg.Content})
		}
	}
	return out
}
