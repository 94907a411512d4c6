// Package providers contains the LLM provider implementations and the
// uniform interface the router consumes. Every adapter translates the
// neutral message/tool types in pkg/models to its backend's wire format
// and reports failures as classified ProviderError values.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/backoff"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// nopLogger swallows adapter logs when no logger is wired in.
var nopLogger = observability.NewLogger(observability.LogConfig{Output: io.Discard})

// Request bundles the transcript and options for one completion.
type Request struct {
	Messages []models.Message
	Options  models.CompletionOptions
}

// StreamHandler receives stream events strictly in order. The final
// event carries Done=true; no handler call follows it.
type StreamHandler func(models.StreamEvent)

// ConfigPatch is a partial provider reconfiguration. Nil fields keep
// their current values. An invalid patch is rejected as a whole.
type ConfigPatch struct {
	APIKey         *string
	BaseURL        *string
	Model          *string
	RequestTimeout *time.Duration
}

// Validate checks the set fields without applying them.
func (p ConfigPatch) Validate() error {
	if p.BaseURL != nil {
		u, err := url.Parse(strings.TrimSpace(*p.BaseURL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base_url %q", *p.BaseURL)
		}
	}
	if p.Model != nil && strings.TrimSpace(*p.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if p.RequestTimeout != nil && *p.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// Provider is the uniform surface every LLM backend implements.
//
// Implementations must be safe for concurrent use. Blocking operations
// honor context cancellation; CompleteStream stops within one in-flight
// chunk of cancel and always delivers a terminal Done event on the
// handler before returning.
type Provider interface {
	// Name returns the stable registry identifier (e.g. "anthropic").
	Name() string

	// DisplayName returns the human-readable name for UI output.
	DisplayName() string

	// Capabilities reports what this backend supports.
	Capabilities() models.Capabilities

	// Initialize prepares clients and verifies configuration.
	// A provider that fails Initialize reports unhealthy.
	Initialize(ctx context.Context) error

	// TestConnection performs a cheap liveness probe.
	TestConnection(ctx context.Context) error

	// Complete performs a blocking completion.
	Complete(ctx context.Context, req Request) (*models.CompletionResponse, error)

	// CompleteStream streams a completion through onEvent.
	CompleteStream(ctx context.Context, req Request, onEvent StreamHandler) error

	// ListModels returns the models this provider can serve.
	ListModels(ctx context.Context) ([]models.ModelInfo, error)

	// GetModel returns one model by ID, or a model_unavailable error.
	GetModel(ctx context.Context, id string) (*models.ModelInfo, error)

	// CalculateCost prices a usage record against the static pricing
	// table. Unknown models cost zero.
	CalculateCost(usage models.Usage, model string) float64

	// Health returns the current health snapshot.
	Health() models.ProviderHealth

	// Metrics returns cumulative counters since process start.
	Metrics() models.ProviderMetrics

	// UpdateConfig applies a partial reconfiguration. Invalid patches
	// are rejected without touching provider state.
	UpdateConfig(patch ConfigPatch) error

	// Cleanup releases connections and background resources.
	Cleanup() error
}

// RetrySettings tunes the shared attempt loop adapters run requests
// through. Only errors whose kind is retryable are attempted again.
type RetrySettings struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetrySettings returns the stock retry loop: three attempts,
// exponential delays from one second capped at ten.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func (r RetrySettings) normalized() RetrySettings {
	def := DefaultRetrySettings()
	if r.MaxAttempts < 1 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = def.InitialDelay
	}
	if r.MaxDelay < r.InitialDelay {
		r.MaxDelay = def.MaxDelay
	}
	if r.Multiplier < 1 {
		r.Multiplier = def.Multiplier
	}
	return r
}

func (r RetrySettings) policy() backoff.BackoffPolicy {
	return backoff.PolicyFrom(r.InitialDelay, r.MaxDelay, r.Multiplier)
}

// healthFailureThreshold is the consecutive-failure count at which a
// provider's self-reported health degrades; twice it reads unhealthy.
const healthFailureThreshold = 3

// base carries the bookkeeping every adapter shares: identity, the
// retry settings, and the mutex-guarded health and metrics snapshots.
type base struct {
	name        string
	displayName string
	logger      *observability.Logger
	retry       RetrySettings

	mu      sync.RWMutex
	health  models.ProviderHealth
	metrics models.ProviderMetrics
}

func newBase(name, displayName string, retry RetrySettings, logger *observability.Logger) base {
	if logger == nil {
		logger = nopLogger
	}
	return base{
		name:        name,
		displayName: displayName,
		logger:      logger,
		retry:       retry.normalized(),
		health:      models.ProviderHealth{Status: models.HealthUnknown},
	}
}

// Name returns the provider name.
func (b *base) Name() string { return b.name }

// DisplayName returns the human-readable provider name.
func (b *base) DisplayName() string { return b.displayName }

// Health returns a copy of the current health snapshot.
func (b *base) Health() models.ProviderHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

// Metrics returns a copy of the cumulative counters, with the average
// latency derived at read time.
func (b *base) Metrics() models.ProviderMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.metrics
	if m.Requests > 0 {
		m.AvgLatencyMS = float64(m.TotalLatencyMS) / float64(m.Requests)
	}
	return m
}

// setHealth records the outcome of Initialize or TestConnection.
func (b *base) setHealth(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health.LastCheck = time.Now()
	if err != nil {
		b.health.Status = models.HealthUnhealthy
		b.health.LastError = err.Error()
		b.health.ConsecutiveFailures++
		return
	}
	b.health.Status = models.HealthHealthy
	b.health.LastError = ""
	b.health.ConsecutiveFailures = 0
}

// recordAttempt folds one request outcome into metrics and health.
// Every attempt counts as a request; tokens and cost accrue only on
// success.
func (b *base) recordAttempt(start time.Time, usage models.Usage, cost float64, err error) {
	elapsed := time.Since(start).Milliseconds()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	b.metrics.TotalLatencyMS += elapsed
	b.health.LastCheck = time.Now()

	if err != nil {
		b.metrics.Failures++
		b.health.LastError = err.Error()
		b.health.ConsecutiveFailures++
		switch {
		case b.health.ConsecutiveFailures >= 2*healthFailureThreshold:
			b.health.Status = models.HealthUnhealthy
		case b.health.ConsecutiveFailures >= healthFailureThreshold:
			b.health.Status = models.HealthDegraded
		}
		return
	}

	b.metrics.Successes++
	b.metrics.TotalTokens += int64(usage.TotalTokens)
	b.metrics.TotalCost += cost
	b.health.Status = models.HealthHealthy
	b.health.LastError = ""
	b.health.ConsecutiveFailures = 0
}

// doRetry runs fn through the shared retry loop. Non-retryable errors
// return immediately; exhaustion returns the last classified error.
func doRetry[T any](ctx context.Context, b *base, fn func(attempt int) (T, error)) (T, error) {
	result, err := backoff.RetryIf(ctx, b.retry.policy(), b.retry.MaxAttempts, IsRetryable, fn)
	return result.Value, err
}

// resolveModel picks the request model, falling back to the default.
func resolveModel(opts models.CompletionOptions, fallback string) string {
	if model := strings.TrimSpace(opts.Model); model != "" {
		return model
	}
	return fallback
}

// requestContext derives the per-request context: an explicit request
// timeout wins, then the provider default; zero means no added deadline.
func requestContext(ctx context.Context, opts models.CompletionOptions, def time.Duration) (context.Context, context.CancelFunc) {
	timeout := def
	if opts.TimeoutMS > 0 {
		timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// lookupModel resolves one model from a provider listing.
func lookupModel(ctx context.Context, provider string, list func(context.Context) ([]models.ModelInfo, error), id string) (*models.ModelInfo, error) {
	infos, err := list(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].ID == id {
			info := infos[i]
			return &info, nil
		}
	}
	return nil, NewError(provider, id, fmt.Errorf("model %q not found", id)).WithKind(KindModelUnavailable)
}
