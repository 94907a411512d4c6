package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/sync/singleflight"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// BedrockConfig configures the AWS Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region. Defaults to us-east-1.
	Region string

	// Explicit credentials. When empty the default AWS credential
	// chain applies (env vars, shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Model   string
	Timeout time.Duration

	// ModelCacheTTL bounds how long discovered models are cached.
	ModelCacheTTL time.Duration

	Retry  RetrySettings
	Logger *observability.Logger
}

const defaultBedrockModelCacheTTL = time.Hour

// BedrockProvider talks to AWS Bedrock through the Converse API.
// Model discovery goes through the Bedrock control plane and is cached.
type BedrockProvider struct {
	base

	confMu  sync.RWMutex
	runtime *bedrockruntime.Client
	control *bedrock.Client
	region  string
	model   string
	timeout time.Duration

	cacheTTL    time.Duration
	cacheMu     sync.RWMutex
	cached      []models.ModelInfo
	cacheExpiry time.Time
	flight      singleflight.Group
}

var _ Provider = (*BedrockProvider)(nil)

// NewBedrockProvider creates a Bedrock provider. Loading the AWS
// configuration can fail, for example on malformed shared config.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	p := &BedrockProvider{
		base:     newBase("bedrock", "AWS Bedrock", cfg.Retry, cfg.Logger),
		runtime:  bedrockruntime.NewFromConfig(awsCfg),
		control:  bedrock.NewFromConfig(awsCfg),
		region:   region,
		model:    strings.TrimSpace(cfg.Model),
		timeout:  cfg.Timeout,
		cacheTTL: cfg.ModelCacheTTL,
	}
	if p.model == "" {
		p.model = "anthropic.claude-sonnet-4-20250514-v1:0"
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Minute
	}
	if p.cacheTTL <= 0 {
		p.cacheTTL = defaultBedrockModelCacheTTL
	}
	return p, nil
}

func (p *BedrockProvider) Capabilities() models.Capabilities {
	return models.Capabilities{
		MaxContext: 200000,
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
	}
}

func (p *BedrockProvider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection lists foundation models, which exercises credentials
// and region without invoking a model.
func (p *BedrockProvider) TestConnection(ctx context.Context) error {
	_, timeout := p.snapshotModel()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		err = p.classify("", err)
	}
	p.setHealth(err)
	return err
}

// ListModels returns the active foundation models in this region.
// Results are cached; concurrent refreshes collapse into one request.
func (p *BedrockProvider) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	p.cacheMu.RLock()
	if time.Now().Before(p.cacheExpiry) && len(p.cached) > 0 {
		out := make([]models.ModelInfo, len(p.cached))
		copy(out, p.cached)
		p.cacheMu.RUnlock()
		return out, nil
	}
	p.cacheMu.RUnlock()

	v, err, _ := p.flight.Do("models", func() (any, error) {
		infos, err := p.discoverModels(ctx)
		if err != nil {
			return nil, err
		}
		p.cacheMu.Lock()
		p.cached = infos
		p.cacheExpiry = time.Now().Add(p.cacheTTL)
		p.cacheMu.Unlock()
		return infos, nil
	})
	if err != nil {
		return nil, err
	}

	infos := v.([]models.ModelInfo)
	out := make([]models.ModelInfo, len(infos))
	copy(out, infos)
	return out, nil
}

func (p *BedrockProvider) discoverModels(ctx context.Context) ([]models.ModelInfo, error) {
	_, timeout := p.snapshotModel()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, p.classify("", err)
	}

	infos := make([]models.ModelInfo, 0, len(output.ModelSummaries))
	for _, summary := range output.ModelSummaries {
		if summary.ModelLifecycle != nil {
			if status := string(summary.ModelLifecycle.Status); status != "" && status != "ACTIVE" {
				continue
			}
		}
		id := aws.ToString(summary.ModelId)
		if id == "" {
			continue
		}
		name := aws.ToString(summary.ModelName)
		if name == "" {
			name = id
		}
		info := models.ModelInfo{
			ID:            id,
			Name:          name,
			ContextWindow: bedrockContextWindow(id),
		}
		if price, ok := pricingFor(bedrockPricing, id); ok {
			info.InputPricePerMTok = price.InputPerMillion
			info.OutputPricePerMTok = price.OutputPerMillion
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (p *BedrockProvider) GetModel(ctx context.Context, id string) (*models.ModelInfo, error) {
	return lookupModel(ctx, p.name, p.ListModels, id)
}

func (p *BedrockProvider) CalculateCost(usage models.Usage, model string) float64 {
	return costFor(bedrockPricing, model, usage)
}

// UpdateConfig applies a partial reconfiguration. Credentials and
// endpoint come from the AWS config chain, so only model and timeout
// apply here.
func (p *BedrockProvider) UpdateConfig(patch ConfigPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	p.confMu.Lock()
	defer p.confMu.Unlock()
	if patch.Model != nil {
		p.model = strings.TrimSpace(*patch.Model)
	}
	if patch.RequestTimeout != nil {
		p.timeout = *patch.RequestTimeout
	}
	return nil
}

func (p *BedrockProvider) Cleanup() error { return nil }

// Complete performs a blocking Converse request.
func (p *BedrockProvider) Complete(ctx context.Context, req Request) (*models.CompletionResponse, error) {
	model, timeout := p.snapshotModel()
	if model = resolveModel(req.Options, model); model == "" {
		return nil, NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: buildBedrockMessages(req.Messages),
	}
	applyBedrockOptions(req.Options, func(system []brtypes.SystemContentBlock, inference *brtypes.InferenceConfiguration, tools *brtypes.ToolConfiguration) {
		input.System = system
		input.InferenceConfig = inference
		input.ToolConfig = tools
	})

	return doRetry(ctx, &p.base, func(int) (*models.CompletionResponse, error) {
		start := time.Now()
		output, err := p.runtime.Converse(ctx, input)
		if err != nil {
			err = p.classify(model, err)
			p.recordAttempt(start, models.Usage{}, 0, err)
			return nil, err
		}

		out := translateBedrockResponse(output, model, p.name)
		cost := p.CalculateCost(out.Usage, model)
		p.recordAttempt(start, out.Usage, cost, nil)
		return out, nil
	})
}

// CompleteStream streams a Converse request. Only opening the stream
// is retried. Usage metadata arrives after the message stop event, so
// the loop drains the channel before emitting the terminal event.
func (p *BedrockProvider) CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error {
	model, timeout := p.snapshotModel()
	if model = resolveModel(req.Options, model); model == "" {
		err := NewError(p.name, "", errors.New("model is required")).WithKind(KindInvalidRequest)
		onEvent(models.StreamEvent{Done: true})
		return err
	}
	ctx, cancel := requestContext(ctx, req.Options, timeout)
	defer cancel()

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: buildBedrockMessages(req.Messages),
	}
	applyBedrockOptions(req.Options, func(system []brtypes.SystemContentBlock, inference *brtypes.InferenceConfiguration, tools *brtypes.ToolConfiguration) {
		input.System = system
		input.InferenceConfig = inference
		input.ToolConfig = tools
	})

	start := time.Now()
	stream, err := doRetry(ctx, &p.base, func(int) (*bedrockruntime.ConverseStreamOutput, error) {
		attemptStart := time.Now()
		s, err := p.runtime.ConverseStream(ctx, input)
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

	usage, streamErr := p.consumeStream(ctx, stream, model, onEvent)
	cost := 0.0
	if streamErr == nil {
		cost = p.CalculateCost(usage, model)
	}
	p.recordAttempt(start, usage, cost, streamErr)
	return streamErr
}

func (p *BedrockProvider) consumeStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, model string, onEvent StreamHandler) (models.Usage, error) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var usage models.Usage
	var calls []models.ToolCall
	var current *bedrockToolBuffer

	flushCurrent := func() {
		if current != nil && current.id != "" {
			calls = append(calls, current.finish())
		}
		current = nil
	}

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			flushCurrent()
			onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
			return usage, ctx.Err()

		case event, ok := <-events:
			if !ok {
				flushCurrent()
				if err := eventStream.Err(); err != nil {
					streamErr := p.classify(model, err)
					onEvent(models.StreamEvent{Done: true, ToolCalls: calls})
					return usage, streamErr
				}
				onEvent(models.StreamEvent{Done: true, Usage: &usage, ToolCalls: calls})
				return usage, nil
			}

			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					flushCurrent()
					current = &bedrockToolBuffer{
						id:   aws.ToString(toolUse.Value.ToolUseId),
						name: aws.ToString(toolUse.Value.Name),
					}
				}

			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						onEvent(models.StreamEvent{Delta: delta.Value})
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					if current != nil && delta.Value.Input != nil {
						current.args.WriteString(*delta.Value.Input)
					}
				}

			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				flushCurrent()

			case *brtypes.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = models.Usage{
						PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						TotalTokens:      int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
					}
				}
			}
		}
	}
}

func (p *BedrockProvider) snapshotModel() (string, time.Duration) {
	p.confMu.RLock()
	defer p.confMu.RUnlock()
	return p.model, p.timeout
}

func (p *BedrockProvider) classify(model string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).WithCode(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			pe = pe.WithMessage(msg)
		}
		if kind, ok := bedrockErrorKinds[apiErr.ErrorCode()]; ok {
			pe = pe.WithKind(kind)
		}
		return pe
	}

	return NewError(p.name, model, err)
}

var bedrockErrorKinds = map[string]ErrorKind{
	"ThrottlingException":         KindRateLimit,
	"TooManyRequestsException":    KindRateLimit,
	"ServiceUnavailableException": KindServer,
	"InternalServerException":     KindServer,
	"ModelErrorException":         KindServer,
	"ModelNotReadyException":      KindServer,
	"ModelTimeoutException":       KindTimeout,
	"AccessDeniedException":       KindAuthentication,
	"UnrecognizedClientException": KindAuthentication,
	"ExpiredTokenException":       KindAuthentication,
	"InvalidSignatureException":   KindAuthentication,
	"ValidationException":         KindInvalidRequest,
	"ResourceNotFoundException":   KindModelUnavailable,
}

type bedrockToolBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (tb *bedrockToolBuffer) finish() models.ToolCall {
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

func applyBedrockOptions(opts models.CompletionOptions, set func([]brtypes.SystemContentBlock, *brtypes.InferenceConfiguration, *brtypes.ToolConfiguration)) {
	var system []brtypes.SystemContentBlock
	if s := strings.TrimSpace(opts.System); s != "" {
		system = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: s},
		}
	}

	var inference *brtypes.InferenceConfiguration
	ensure := func() *brtypes.InferenceConfiguration {
		if inference == nil {
			inference = &brtypes.InferenceConfiguration{}
		}
		return inference
	}
	if opts.MaxTokens > 0 {
		ensure().MaxTokens = aws.Int32(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		ensure().Temperature = aws.Float32(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		ensure().TopP = aws.Float32(float32(*opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		ensure().StopSequences = opts.StopSequences
	}

	set(system, inference, toBedrockTools(opts.Tools))
}

// buildBedrockMessages converts the transcript for the Converse API.
// System content travels separately; consecutive tool results collapse
// into one user message so roles alternate.
func buildBedrockMessages(messages []models.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	var pendingResults []brtypes.ContentBlock

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: pendingResults,
			})
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleTool:
			pendingResults = append(pendingResults, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			})
		case models.RoleAssistant:
			flushResults()
			var content []brtypes.ContentBlock
			if msg.Content != "" {
				content = append(content, &brtypes.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(toolArgsMap(tc)),
					},
				})
			}
			if len(content) > 0 {
				out = append(out, brtypes.Message{
					Role:    brtypes.ConversationRoleAssistant,
					Content: content,
				})
			}
		default:
			flushResults()
			if msg.Content != "" {
				out = append(out, brtypes.Message{
					Role: brtypes.ConversationRoleUser,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: msg.Content},
					},
				})
			}
		}
	}
	flushResults()
	return out
}

func translateBedrockResponse(output *bedrockruntime.ConverseOutput, model, provider string) *models.CompletionResponse {
	out := &models.CompletionResponse{
		Model:        model,
		Provider:     provider,
		FinishReason: "stop",
	}
	if output == nil {
		return out
	}

	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var content strings.Builder
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				content.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				out.ToolCalls = append(out.ToolCalls, models.ToolCall{
					ID:        aws.ToString(v.Value.ToolUseId),
					Name:      aws.ToString(v.Value.Name),
					Arguments: decodeBedrockToolInput(v.Value.Input),
				})
			}
		}
		out.Content = content.String()
	}

	if output.Usage != nil {
		out.Usage = models.Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}

	switch output.StopReason {
	case brtypes.StopReasonMaxTokens:
		out.FinishReason = "length"
	case brtypes.StopReasonToolUse:
		out.FinishReason = "tool_calls"
	}
	return out
}

func decodeBedrockToolInput(doc document.Interface) map[string]json.RawMessage {
	if doc == nil {
		return map[string]json.RawMessage{}
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil || len(raw) == 0 {
		return map[string]json.RawMessage{}
	}
	args, err := models.ParseToolArguments(raw)
	if err != nil {
		return map[string]json.RawMessage{}
	}
	return args
}

// bedrockContextWindow maps model families to context sizes; the
// control plane does not report them.
func bedrockContextWindow(modelID string) int {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude"):
		if strings.Contains(id, "instant") {
			return 100000
		}
		return 200000
	case strings.Contains(id, "llama3"):
		if strings.Contains(id, "405b") {
			return 128000
		}
		return 8192
	case strings.Contains(id, "llama2"):
		return 4096
	case strings.Contains(id, "mistral"), strings.Contains(id, "mixtral"):
		return 32768
	case strings.Contains(id, "command-r"):
		return 128000
	case strings.Contains(id, "command"):
		return 4096
	case strings.Contains(id, "nova"):
		return 300000
	case strings.Contains(id, "jamba"):
		return 256000
	case strings.Contains(id, "titan-text-lite"):
		return 4096
	case strings.Contains(id, "titan"):
		return 8192
	default:
		return 32768
	}
}
