// Package orchestrator drives one conversation turn end to end: stream
// the model's reply through the provider router, execute the tool calls
// it requests under approval and budget rules, feed the results back,
// and repeat until the model answers in plain text or the turn budget
// runs out.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/approval"
	"github.com/haasonsaas/forge/internal/audit"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	defaultMaxToolCallsPerTurn = 10
	defaultMaxRounds           = 5
	defaultToolTimeout         = 30 * time.Second
	defaultMaxConcurrency      = 4
	defaultResultsCacheSize    = 1000
)

// budgetExhausted is the error on results synthesized for calls past
// the turn budget, and the lead of the system note asking the model to
// wrap up.
const budgetExhausted = "tool budget exhausted"

const budgetNote = budgetExhausted + "; answer with the results gathered so far, without requesting more tools"

// Streamer is the slice of the provider router the orchestrator uses.
type Streamer interface {
	CompleteStream(ctx context.Context, req router.RouteRequest, onEvent providers.StreamHandler) error
}

// PromptFunc asks the user to approve a dangerous tool call. It blocks
// until they answer or ctx ends.
type PromptFunc func(ctx context.Context, schema models.ToolSchema, call models.ToolCall) (bool, error)

// Config assembles an Orchestrator. Streamer and Registry are
// required; everything else has a working default.
type Config struct {
	Streamer  Streamer
	Registry  *tools.Registry
	Approvals *approval.Cache

	// Prompt is consulted for dangerous tools with no cached approval
	// decision. Nil behaves like SkipUnapproved.
	Prompt PromptFunc

	// SkipUnapproved synthesizes "unapproved" results for dangerous
	// tools with no cached decision instead of prompting.
	SkipUnapproved bool

	MaxToolCallsPerTurn int
	MaxRounds           int
	ToolTimeout         time.Duration

	// Parallel allows a round's calls to execute concurrently when
	// every call in the round is side-effect-free.
	Parallel       bool
	MaxConcurrency int

	// ResultsCacheSize and ResultsCacheTTL bound the per-session tool
	// result cache. A zero TTL keeps entries until evicted.
	ResultsCacheSize int
	ResultsCacheTTL  time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   *audit.Log
}

// TurnRequest is one user turn: the transcript so far plus routing
// preferences.
type TurnRequest struct {
	Messages []models.Message
	Options  models.CompletionOptions

	Preferred []string
	Forbidden []string

	QualitySensitive bool
	LatencySensitive bool
	CostSensitive    bool

	// OnDelta receives streamed answer content as it arrives.
	OnDelta func(delta string)
}

// TurnResult is the completed turn.
type TurnResult struct {
	// Content is the model's final plain-text answer.
	Content string
	// Messages is the full transcript including the tool exchange.
	Messages []models.Message
	// Usage accumulates token counts across every round.
	Usage models.Usage
	// Rounds counts model completions, including the final answer.
	Rounds int
	// ToolCalls counts the calls the model declared this turn.
	ToolCalls int
}

// Orchestrator runs turns. Safe for concurrent use, though a CLI
// session runs one turn at a time.
type Orchestrator struct {
	cfg       Config
	streamer  Streamer
	registry  *tools.Registry
	approvals *approval.Cache
	results   *resultsCache
	logger    *observability.Logger
	metrics   *observability.Metrics
	audit     *audit.Log
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Streamer == nil {
		return nil, errors.New("streamer is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = defaultMaxToolCallsPerTurn
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}

	approvals := cfg.Approvals
	if approvals == nil {
		approvals = approval.NewCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	if cfg.Prompt == nil && !cfg.SkipUnapproved {
		logger.Warn(context.Background(), "no approval prompt configured, dangerous tools will be blocked as unapproved")
	}
	aud := cfg.Audit
	if aud == nil {
		disabled, err := audit.Open(audit.Config{})
		if err != nil {
			return nil, err
		}
		aud = disabled
	}

	return &Orchestrator{
		cfg:       cfg,
		streamer:  cfg.Streamer,
		registry:  cfg.Registry,
		approvals: approvals,
		results:   newResultsCache(cfg.ResultsCacheSize, cfg.ResultsCacheTTL),
		logger:    logger,
		metrics:   cfg.Metrics,
		audit:     aud,
	}, nil
}

// Approvals exposes the session approval cache for status commands.
func (o *Orchestrator) Approvals() *approval.Cache {
	return o.approvals
}

// ResultsCached reports the number of tool results currently retained.
func (o *Orchestrator) ResultsCached() int {
	return o.results.Len()
}

// RunTurn executes one conversation turn. Canceling ctx stops the
// stream, in-flight tools, and any pending approval prompt; the turn
// returns the context error.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if observability.TurnID(ctx) == "" {
		ctx = observability.WithTurnID(ctx, uuid.NewString())
	}

	messages := make([]models.Message, len(req.Messages))
	copy(messages, req.Messages)

	result := &TurnResult{}
	remaining := o.cfg.MaxToolCallsPerTurn
	finalOnly := false

	for {
		options := req.Options
		options.Stream = true
		if finalOnly {
			options.Tools = nil
		} else {
			options.Tools = o.registry.SchemasForProvider()
		}

		content, usage, calls, err := o.stream(ctx, req, messages, options)
		if err != nil {
			return nil, err
		}
		result.Rounds++
		result.Usage.PromptTokens += usage.PromptTokens
		result.Usage.CompletionTokens += usage.CompletionTokens
		result.Usage.TotalTokens += usage.TotalTokens

		if len(calls) == 0 || finalOnly {
			messages = append(messages, models.AssistantMessage(content))
			result.Content = content
			result.Messages = messages
			o.logger.Debug(ctx, "turn completed",
				"rounds", result.Rounds,
				"tool_calls", result.ToolCalls,
				"tokens", result.Usage.TotalTokens)
			return result, nil
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		results := o.runRound(ctx, calls, &remaining)
		for i, call := range calls {
			messages = append(messages, models.ToolMessage(call.ID, call.Name, resultContent(results[i])))
		}
		result.ToolCalls += len(calls)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if remaining <= 0 || result.Rounds >= o.cfg.MaxRounds {
			messages = append(messages, models.SystemMessage(budgetNote))
			o.logger.Info(ctx, "tool budget exhausted",
				"rounds", result.Rounds,
				"tool_calls", result.ToolCalls)
			finalOnly = true
		}
	}
}

func (o *Orchestrator) stream(ctx context.Context, req TurnRequest, messages []models.Message, options models.CompletionOptions) (string, models.Usage, []models.ToolCall, error) {
	route := router.RouteRequest{
		Request:          providers.Request{Messages: messages, Options: options},
		Preferred:        req.Preferred,
		Forbidden:        req.Forbidden,
		QualitySensitive: req.QualitySensitive,
		LatencySensitive: req.LatencySensitive,
		CostSensitive:    req.CostSensitive,
	}
	route.RequiredCapabilities = []models.Capability{models.CapStreaming}
	if len(options.Tools) > 0 {
		route.RequiredCapabilities = append(route.RequiredCapabilities, models.CapFunctionCalling)
	}

	var (
		content strings.Builder
		usage   models.Usage
		calls   []models.ToolCall
	)
	err := o.streamer.CompleteStream(ctx, route, func(event models.StreamEvent) {
		if event.Delta != "" {
			content.WriteString(event.Delta)
			if req.OnDelta != nil {
				req.OnDelta(event.Delta)
			}
		}
		if event.Done {
			if event.Usage != nil {
				usage = *event.Usage
			}
			calls = event.ToolCalls
		}
	})
	if err != nil {
		return "", models.Usage{}, nil, err
	}
	return content.String(), usage, calls, nil
}

// resultContent renders a result as the body of its tool message.
func resultContent(result models.ToolResult) string {
	if result.OK {
		return result.Data
	}
	return result.Error
}
