// Package fastpath resolves obvious command inputs without a provider
// call. Four strategies run in order (exact, alias, pattern, fuzzy)
// under a wall-clock budget; the first to clear the confidence threshold
// wins, and decisions are memoized in a small LRU keyed by the
// normalized input.
package fastpath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// Match methods recorded on CommandInvocation.
const (
	MethodExact   = "exact"
	MethodAlias   = "alias"
	MethodPattern = "pattern"
	MethodFuzzy   = "fuzzy"
	MethodCache   = "cache"
)

const (
	defaultThreshold      = 0.6
	defaultFuzzyThreshold = 0.7
	defaultBudget         = 50 * time.Millisecond
	defaultCacheSize      = 256

	aliasConfidence  = 0.95
	nontrivialPrefix = 3
)

// Config configures a Matcher. Zero values select the defaults.
type Config struct {
	// Commands seeds the table; nil means Builtins().
	Commands []Command

	// Threshold is the minimum confidence a strategy must reach to win.
	Threshold float64

	// FuzzyThreshold is the minimum Levenshtein similarity accepted by
	// the fuzzy strategy.
	FuzzyThreshold float64

	// Budget caps wall-clock time per input. Strategies that have not
	// started when it expires are skipped.
	Budget time.Duration

	// CacheSize bounds the LRU of previously classified inputs.
	CacheSize int

	Logger *observability.Logger
}

// Matcher maps user input to a registered command.
type Matcher struct {
	cfg Config

	mu       sync.RWMutex
	order    []string
	commands map[string]*Command
	names    map[string]*Command
	aliases  map[string]*Command

	cache *lru.Cache[string, models.CommandInvocation]
	now   func() time.Time
}

// New builds a Matcher over cfg.Commands, falling back to the builtin
// table when none are given.
func New(cfg Config) (*Matcher, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = defaultFuzzyThreshold
	}
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}

	cache, err := lru.New[string, models.CommandInvocation](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fast path cache: %w", err)
	}

	m := &Matcher{
		cfg:      cfg,
		commands: make(map[string]*Command),
		names:    make(map[string]*Command),
		aliases:  make(map[string]*Command),
		cache:    cache,
		now:      time.Now,
	}

	seed := cfg.Commands
	if seed == nil {
		seed = Builtins()
	}
	for _, cmd := range seed {
		if err := m.register(cmd); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a command to the table and invalidates cached decisions.
func (m *Matcher) Register(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.register(cmd); err != nil {
		return err
	}
	m.cache.Purge()
	return nil
}

func (m *Matcher) register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return errors.New("command name is required")
	}
	if _, ok := m.commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}

	stored := cmd
	stored.Name = name
	stored.Aliases = normalizeTerms(cmd.Aliases)
	stored.Patterns = normalizeTerms(cmd.Patterns)

	nameKeys := keysFor(name)
	aliasKeys := make([]string, 0, len(stored.Aliases)*2)
	for _, alias := range stored.Aliases {
		aliasKeys = append(aliasKeys, keysFor(alias)...)
	}
	for _, key := range nameKeys {
		if err := m.checkCollision(name, key); err != nil {
			return err
		}
	}
	for _, key := range aliasKeys {
		if err := m.checkCollision(name, key); err != nil {
			return err
		}
	}

	m.commands[name] = &stored
	m.order = append(m.order, name)
	for _, key := range nameKeys {
		m.names[key] = &stored
	}
	for _, key := range aliasKeys {
		m.aliases[key] = &stored
	}
	return nil
}

func (m *Matcher) checkCollision(name, key string) error {
	if other, ok := m.names[key]; ok {
		return fmt.Errorf("command %q collides with %q", name, other.Name)
	}
	if other, ok := m.aliases[key]; ok {
		return fmt.Errorf("command %q collides with alias of %q", name, other.Name)
	}
	return nil
}

// Lookup resolves a command by name or alias. Hyphens and underscores in
// names count as word separators, so "git status" finds "git-status".
func (m *Matcher) Lookup(name string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	for _, k := range keysFor(key) {
		if cmd, ok := m.names[k]; ok {
			return cmd, true
		}
	}
	for _, k := range keysFor(key) {
		if cmd, ok := m.aliases[k]; ok {
			return cmd, true
		}
	}
	return nil, false
}

// List returns the registered commands in registration order.
func (m *Matcher) List() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Command, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.commands[name])
	}
	return out
}

// Match classifies input against the command table. It returns nil when
// no strategy clears the confidence threshold or the budget expires
// first. Context is used for log correlation only.
func (m *Matcher) Match(ctx context.Context, input string) *models.CommandInvocation {
	normalized := normalizeInput(input)
	if normalized == "" {
		return nil
	}

	if cached, ok := m.cache.Get(normalized); ok {
		inv := cached
		inv.Method = MethodCache
		m.cfg.Logger.Debug(ctx, "fast path cache hit", "command", inv.Name)
		return &inv
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := m.now()
	deadline := start.Add(m.cfg.Budget)
	for i, s := range m.strategies() {
		if i > 0 && m.now().After(deadline) {
			m.cfg.Logger.Debug(ctx, "fast path budget exhausted",
				"skipped", s.name,
				"elapsed", m.now().Sub(start))
			return nil
		}
		inv := s.fn(normalized)
		if inv == nil || inv.Confidence < m.cfg.Threshold {
			continue
		}
		m.cache.Add(normalized, *inv)
		m.cfg.Logger.Debug(ctx, "fast path matched",
			"command", inv.Name,
			"method", inv.Method,
			"confidence", inv.Confidence)
		return inv
	}
	return nil
}

type strategy struct {
	name string
	fn   func(string) *models.CommandInvocation
}

func (m *Matcher) strategies() []strategy {
	return []strategy{
		{MethodExact, m.matchExact},
		{MethodAlias, m.matchAlias},
		{MethodPattern, m.matchPattern},
		{MethodFuzzy, m.matchFuzzy},
	}
}

func (m *Matcher) matchExact(input string) *models.CommandInvocation {
	cmd, ok := m.names[input]
	if !ok {
		return nil
	}
	return &models.CommandInvocation{Name: cmd.Name, Method: MethodExact, Confidence: 1.0}
}

func (m *Matcher) matchAlias(input string) *models.CommandInvocation {
	cmd, ok := m.aliases[input]
	if !ok {
		return nil
	}
	return &models.CommandInvocation{Name: cmd.Name, Method: MethodAlias, Confidence: aliasConfidence}
}

func (m *Matcher) matchPattern(input string) *models.CommandInvocation {
	var best *Command
	var bestScore float64
	for _, name := range m.order {
		cmd := m.commands[name]
		for _, pattern := range cmd.Patterns {
			if score := patternScore(input, pattern); score > bestScore {
				best, bestScore = cmd, score
			}
		}
	}
	if best == nil {
		return nil
	}
	return &models.CommandInvocation{Name: best.Name, Method: MethodPattern, Confidence: bestScore}
}

func (m *Matcher) matchFuzzy(input string) *models.CommandInvocation {
	var best *Command
	var bestScore float64
	for _, name := range m.order {
		cmd := m.commands[name]
		candidates := make([]string, 0, len(cmd.Aliases)+2)
		candidates = append(candidates, cmd.Name)
		if spaced := spacedKey(cmd.Name); spaced != cmd.Name {
			candidates = append(candidates, spaced)
		}
		candidates = append(candidates, cmd.Aliases...)
		for _, cand := range candidates {
			if score := fuzzyScore(input, cand); score > bestScore {
				best, bestScore = cmd, score
			}
		}
	}
	if best == nil || bestScore < m.cfg.FuzzyThreshold {
		return nil
	}
	return &models.CommandInvocation{Name: best.Name, Method: MethodFuzzy, Confidence: bestScore}
}

// normalizeInput lowercases and collapses whitespace.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// spacedKey treats hyphens and underscores as word separators, so
// "git-status" and "git status" resolve identically.
func spacedKey(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return normalizeInput(s)
}

func keysFor(term string) []string {
	keys := []string{term}
	if spaced := spacedKey(term); spaced != term {
		keys = append(keys, spaced)
	}
	return keys
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := normalizeInput(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}
