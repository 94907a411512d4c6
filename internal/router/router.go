// Package router ranks the registered providers for every request and
// walks that ranking when an attempt fails with a retryable error.
//
// A provider's score combines a static quality rating, its observed
// average latency, and the estimated cost of a nominal exchange, minus
// a penalty that grows with consecutive failures. Sensitivity flags on
// the request double the matching weight. Unhealthy providers are
// skipped entirely until a connection retest brings them back.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/pkg/models"
)

// ErrNoProviderAvailable is returned when filtering leaves no
// candidate to route to.
var ErrNoProviderAvailable = errors.New("no provider available")

const (
	// failurePenalty is subtracted from a candidate's score once per
	// recorded consecutive failure.
	failurePenalty = 0.25

	// fallbackQuality rates providers absent from the quality table.
	fallbackQuality = 0.80
)

// defaultQuality rates the stock backends relative to each other.
// Values are overridable per deployment through Config.Quality.
var defaultQuality = map[string]float64{
	"anthropic":  0.95,
	"openai":     0.92,
	"bedrock":    0.90,
	"gemini":     0.88,
	"openrouter": 0.85,
	"local":      0.70,
}

// Config tunes routing behavior. The zero value is usable.
type Config struct {
	// MaxFallbacks caps how many alternate providers a single request
	// may fall back to after a retryable failure. Zero or negative
	// means every remaining candidate may be tried.
	MaxFallbacks int

	// Quality overrides the built-in per-provider quality ratings.
	Quality map[string]float64

	// NominalUsage is the exchange size assumed when estimating cost
	// for scoring. Defaults to a 1000-in 1000-out exchange.
	NominalUsage models.Usage

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// RouteRequest is one completion request plus the preferences used to
// rank candidates for it.
type RouteRequest struct {
	Request providers.Request

	// RequiredCapabilities filters out providers that do not
	// advertise every listed capability.
	RequiredCapabilities []models.Capability

	// Preferred breaks score ties; earlier names win.
	Preferred []string

	// Forbidden providers are never considered.
	Forbidden []string

	// Sensitivity flags double the weight of the matching score term.
	QualitySensitive bool
	LatencySensitive bool
	CostSensitive    bool
}

// Candidate is one scored provider in a routing decision.
type Candidate struct {
	Provider string              `json:"provider"`
	Score    float64             `json:"score"`
	Health   models.HealthStatus `json:"health"`
}

// Selection records the outcome of ranking the registry for one
// request: the chosen provider plus every candidate considered, in
// rank order.
type Selection struct {
	Provider   string      `json:"provider"`
	Score      float64     `json:"score"`
	Candidates []Candidate `json:"candidates"`
}

// ProviderStatus pairs a provider's identity with its live health and
// counters, for status listings.
type ProviderStatus struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Health      models.ProviderHealth  `json:"health"`
	Metrics     models.ProviderMetrics `json:"metrics"`
}

// Router dispatches completions across the registered providers.
// Safe for concurrent use.
type Router struct {
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	providers map[string]providers.Provider
}

// New returns an empty router.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	if cfg.NominalUsage == (models.Usage{}) {
		cfg.NominalUsage = models.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}
	}
	return &Router{
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		providers: make(map[string]providers.Provider),
	}
}

// Register adds a provider under its own name. Names are
// case-insensitive and must be unique.
func (r *Router) Register(p providers.Provider) error {
	name := normalizeName(p.Name())
	if name == "" {
		return errors.New("provider name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Provider looks up a registered provider by name.
func (r *Router) Provider(name string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeName(name)]
	return p, ok
}

// Providers returns the registered names sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every registered provider's health and counters,
// sorted by name.
func (r *Router) Status() []ProviderStatus {
	statuses := make([]ProviderStatus, 0)
	for _, name := range r.Providers() {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}
		statuses = append(statuses, ProviderStatus{
			Name:        name,
			DisplayName: p.DisplayName(),
			Health:      p.Health(),
			Metrics:     p.Metrics(),
		})
	}
	return statuses
}

// Select ranks the registry for req and returns the decision. The
// candidates slice holds every provider that survived filtering, best
// first, so callers can log or replay the decision.
func (r *Router) Select(req RouteRequest) (*Selection, error) {
	cands := r.rank(req)
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return &Selection{
		Provider:   cands[0].Provider,
		Score:      cands[0].Score,
		Candidates: cands,
	}, nil
}

// Complete routes a blocking completion. On a retryable failure the
// next-ranked provider is tried, up to the fallback budget; terminal
// errors and context cancellation propagate immediately.
func (r *Router) Complete(ctx context.Context, req RouteRequest) (*models.CompletionResponse, error) {
	cands := r.rank(req)
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	attempts := r.fallbackBudget(len(cands)) + 1

	var lastErr error
	for i, cand := range cands[:attempts] {
		p, ok := r.Provider(cand.Provider)
		if !ok {
			continue
		}
		start := time.Now()
		resp, err := p.Complete(ctx, req.Request)
		if err == nil {
			r.recordSuccess(ctx, cand.Provider, resp, time.Since(start))
			return resp, nil
		}
		lastErr = err
		r.recordFailure(ctx, cand.Provider, req, time.Since(start), err)
		if !providers.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if i+1 < attempts {
			r.failover(ctx, cand.Provider, cands[i+1].Provider)
		}
	}
	return nil, lastErr
}

// CompleteStream routes a streaming completion. Fallback happens only
// between attempts that produced no output: once any event has reached
// onEvent the stream is committed to its provider, and a mid-stream
// failure surfaces as a terminal Done event followed by the error.
// onEvent sees exactly one Done event regardless of how many providers
// were tried.
func (r *Router) CompleteStream(ctx context.Context, req RouteRequest, onEvent providers.StreamHandler) error {
	cands := r.rank(req)
	if len(cands) == 0 {
		return ErrNoProviderAvailable
	}
	attempts := r.fallbackBudget(len(cands)) + 1

	var lastErr error
	for i, cand := range cands[:attempts] {
		p, ok := r.Provider(cand.Provider)
		if !ok {
			continue
		}
		relay := &streamRelay{out: onEvent}
		start := time.Now()
		err := p.CompleteStream(ctx, req.Request, relay.handle)
		if err == nil {
			relay.finish()
			r.recordStreamSuccess(ctx, cand.Provider, req, relay, time.Since(start))
			return nil
		}
		lastErr = err
		r.recordFailure(ctx, cand.Provider, req, time.Since(start), err)

		retriable := !relay.forwarded && providers.IsRetryable(err) && ctx.Err() == nil
		if !retriable || i+1 >= attempts {
			relay.finish()
			return err
		}
		r.failover(ctx, cand.Provider, cands[i+1].Provider)
	}
	return lastErr
}

// RetestUnhealthy probes every unhealthy provider with a connection
// test and reports how many recovered. The scheduler drives this on a
// fixed tick so a failed backend rejoins routing without a restart.
func (r *Router) RetestUnhealthy(ctx context.Context) int {
	recovered := 0
	for _, name := range r.Providers() {
		p, ok := r.Provider(name)
		if !ok || p.Health().Status != models.HealthUnhealthy {
			continue
		}
		if err := p.TestConnection(ctx); err != nil {
			r.logger.Debug(ctx, "provider still unhealthy", "provider", name, "error", err)
			continue
		}
		recovered++
		r.logger.Info(ctx, "provider recovered", "provider", name)
	}
	return recovered
}

// rank filters and scores the registry for one request.
func (r *Router) rank(req RouteRequest) []Candidate {
	r.mu.RLock()
	snapshot := make(map[string]providers.Provider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	r.mu.RUnlock()

	forbidden := make(map[string]bool, len(req.Forbidden))
	for _, name := range req.Forbidden {
		forbidden[normalizeName(name)] = true
	}

	cands := make([]Candidate, 0, len(snapshot))
	for name, p := range snapshot {
		if forbidden[name] {
			continue
		}
		if !p.Capabilities().Supports(req.RequiredCapabilities) {
			continue
		}
		health := p.Health()
		if health.Status == models.HealthUnhealthy {
			continue
		}
		cands = append(cands, Candidate{
			Provider: name,
			Score:    r.score(p, req, health),
			Health:   health.Status,
		})
	}

	preferred := make(map[string]int, len(req.Preferred))
	for i, name := range req.Preferred {
		name = normalizeName(name)
		if _, ok := preferred[name]; !ok {
			preferred[name] = i
		}
	}
	rankOf := func(name string) int {
		if i, ok := preferred[name]; ok {
			return i
		}
		return len(req.Preferred)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		ri, rj := rankOf(cands[i].Provider), rankOf(cands[j].Provider)
		if ri != rj {
			return ri < rj
		}
		return cands[i].Provider < cands[j].Provider
	})
	return cands
}

// score computes one candidate's rank value. Latency enters in
// seconds and cost in dollars for the nominal exchange, so both terms
// decay from 1.0 as the underlying quantity grows. Cost is estimated
// against the request's model; an unpriced or unspecified model
// contributes the neutral 1.0.
func (r *Router) score(p providers.Provider, req RouteRequest, health models.ProviderHealth) float64 {
	wq, wl, wc := 1.0, 1.0, 1.0
	if req.QualitySensitive {
		wq = 2
	}
	if req.LatencySensitive {
		wl = 2
	}
	if req.CostSensitive {
		wc = 2
	}

	latency := p.Metrics().AvgLatencyMS / 1000
	cost := p.CalculateCost(r.cfg.NominalUsage, req.Request.Options.Model)

	score := wq*r.quality(p.Name()) + wl*(1/(1+latency)) + wc*(1/(1+cost))
	return score - failurePenalty*float64(health.ConsecutiveFailures)
}

func (r *Router) quality(name string) float64 {
	name = normalizeName(name)
	if q, ok := r.cfg.Quality[name]; ok {
		return q
	}
	if q, ok := defaultQuality[name]; ok {
		return q
	}
	return fallbackQuality
}

// fallbackBudget is the number of extra providers one request may try
// beyond the first, never exceeding the remaining candidates.
func (r *Router) fallbackBudget(candidates int) int {
	budget := r.cfg.MaxFallbacks
	if budget <= 0 || budget > candidates-1 {
		return candidates - 1
	}
	return budget
}

func (r *Router) failover(ctx context.Context, from, to string) {
	r.logger.Warn(ctx, "failing over to next provider", "from", from, "to", to)
	if r.metrics != nil {
		r.metrics.RecordFailover(from, to)
	}
}

func (r *Router) recordSuccess(ctx context.Context, name string, resp *models.CompletionResponse, elapsed time.Duration) {
	r.logger.Debug(ctx, "routed completion",
		"provider", name,
		"model", resp.Model,
		"latency_ms", elapsed.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)
	if r.metrics == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = "default"
	}
	r.metrics.RecordLLMRequest(name, model, "success", elapsed.Seconds(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if p, ok := r.Provider(name); ok {
		if cost := p.CalculateCost(resp.Usage, resp.Model); cost > 0 {
			r.metrics.RecordLLMCost(name, model, cost)
		}
	}
}

func (r *Router) recordStreamSuccess(ctx context.Context, name string, req RouteRequest, relay *streamRelay, elapsed time.Duration) {
	var usage models.Usage
	if relay.done != nil && relay.done.Usage != nil {
		usage = *relay.done.Usage
	}
	r.logger.Debug(ctx, "routed stream",
		"provider", name,
		"latency_ms", elapsed.Milliseconds(),
		"total_tokens", usage.TotalTokens)
	if r.metrics == nil {
		return
	}
	model := req.Request.Options.Model
	if model == "" {
		model = "default"
	}
	r.metrics.RecordLLMRequest(name, model, "success", elapsed.Seconds(), usage.PromptTokens, usage.CompletionTokens)
	if p, ok := r.Provider(name); ok {
		if cost := p.CalculateCost(usage, req.Request.Options.Model); cost > 0 {
			r.metrics.RecordLLMCost(name, model, cost)
		}
	}
}

func (r *Router) recordFailure(ctx context.Context, name string, req RouteRequest, elapsed time.Duration, err error) {
	r.logger.Warn(ctx, "provider request failed",
		"provider", name,
		"latency_ms", elapsed.Milliseconds(),
		"error", err)
	if r.metrics == nil {
		return
	}
	model := req.Request.Options.Model
	if model == "" {
		model = "default"
	}
	r.metrics.RecordLLMRequest(name, model, "error", elapsed.Seconds(), 0, 0)
}

// streamRelay forwards stream events to the outer handler but holds
// back the terminal one, so a failed attempt that produced no output
// can be retried on another provider without the consumer seeing two
// Done events.
type streamRelay struct {
	out       providers.StreamHandler
	forwarded bool
	done      *models.StreamEvent
}

func (s *streamRelay) handle(ev models.StreamEvent) {
	if ev.Done {
		s.done = &ev
		return
	}
	s.forwarded = true
	s.out(ev)
}

// finish delivers the held terminal event. A terminal event is always
// delivered, even when the attempt never produced one.
func (s *streamRelay) finish() {
	if s.done != nil {
		s.out(*s.done)
		return
	}
	s.out(models.StreamEvent{Done: true})
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
