package fastpath

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
)

func newTestMatcher(t *testing.T, cfg Config) *Matcher {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestExactMatch(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "status")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdStatus || inv.Method != MethodExact {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdStatus, MethodExact)
	}
	if inv.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", inv.Confidence)
	}
}

func TestHyphenatedNameMatchesSpacedInput(t *testing.T) {
	m := newTestMatcher(t, Config{})
	if err := m.Register(Command{Name: "git-status", Category: "shell"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	inv := m.Match(context.Background(), "  Git   STATUS ")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != "git-status" || inv.Method != MethodExact || inv.Confidence != 1.0 {
		t.Errorf("got %+v, want git-status via exact at 1.0", inv)
	}
	if len(inv.Args) != 0 {
		t.Errorf("args = %v, want none", inv.Args)
	}
}

func TestAliasMatch(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "q")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdExit || inv.Method != MethodAlias {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdExit, MethodAlias)
	}
	if math.Abs(inv.Confidence-aliasConfidence) > 1e-9 {
		t.Errorf("confidence = %v, want %v", inv.Confidence, aliasConfidence)
	}
}

func TestPatternPicksBestAcrossCommands(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "please show me the providers")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdProviders || inv.Method != MethodPattern {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdProviders, MethodPattern)
	}
	if math.Abs(inv.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want 0.7", inv.Confidence)
	}
}

func TestPatternContainment(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "show providers now")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdProviders || inv.Method != MethodPattern {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdProviders, MethodPattern)
	}
	if math.Abs(inv.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want 0.9", inv.Confidence)
	}
}

func TestFuzzyTypoMatch(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "provders")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdProviders || inv.Method != MethodFuzzy {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdProviders, MethodFuzzy)
	}
	want := 1.0 - 1.0/9.0
	if math.Abs(inv.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", inv.Confidence, want)
	}
}

func TestFuzzyPrefixBoost(t *testing.T) {
	m := newTestMatcher(t, Config{})

	inv := m.Match(context.Background(), "exi")
	if inv == nil {
		t.Fatal("expected a match")
	}
	if inv.Name != CmdExit || inv.Method != MethodFuzzy {
		t.Errorf("got %s via %s, want %s via %s", inv.Name, inv.Method, CmdExit, MethodFuzzy)
	}
	if math.Abs(inv.Confidence-0.85) > 1e-9 {
		t.Errorf("confidence = %v, want 0.85", inv.Confidence)
	}
}

func TestFuzzyThresholdConfigurable(t *testing.T) {
	m := newTestMatcher(t, Config{FuzzyThreshold: 0.9})

	if inv := m.Match(context.Background(), "provders"); inv != nil {
		t.Fatalf("got %+v, want nil below the raised threshold", inv)
	}
}

func TestNoMatchReturnsNil(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if inv := m.Match(context.Background(), "write a haiku about the sea"); inv != nil {
		t.Fatalf("got %+v, want nil", inv)
	}
}

func TestEmptyInputReturnsNil(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if inv := m.Match(context.Background(), "   "); inv != nil {
		t.Fatalf("got %+v, want nil", inv)
	}
	if m.cache.Len() != 0 {
		t.Errorf("cache size = %d, want 0", m.cache.Len())
	}
}

func TestCacheHitStampsMethod(t *testing.T) {
	m := newTestMatcher(t, Config{})
	ctx := context.Background()

	first := m.Match(ctx, "Status")
	if first == nil {
		t.Fatal("expected a match")
	}
	second := m.Match(ctx, "status")
	if second == nil {
		t.Fatal("expected a cached match")
	}
	if second.Method != MethodCache {
		t.Errorf("method = %s, want %s", second.Method, MethodCache)
	}
	if second.Name != first.Name || second.Confidence != first.Confidence {
		t.Errorf("cached decision %+v diverged from %+v", second, first)
	}
	if m.cache.Len() != 1 {
		t.Errorf("cache size = %d, want 1", m.cache.Len())
	}
}

func TestMissIsNotCached(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if inv := m.Match(context.Background(), "completely unrelated gibberish"); inv != nil {
		t.Fatalf("got %+v, want nil", inv)
	}
	if m.cache.Len() != 0 {
		t.Errorf("cache size = %d, want 0", m.cache.Len())
	}
}

func TestRegisterPurgesCache(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if inv := m.Match(context.Background(), "status"); inv == nil {
		t.Fatal("expected a match")
	}
	if m.cache.Len() != 1 {
		t.Fatalf("cache size = %d, want 1", m.cache.Len())
	}
	if err := m.Register(Command{Name: "deploy"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if m.cache.Len() != 0 {
		t.Errorf("cache size = %d after Register, want 0", m.cache.Len())
	}
}

func TestBudgetSkipsRemainingStrategies(t *testing.T) {
	m := newTestMatcher(t, Config{})

	// Every clock read advances past the 50ms budget, so only the exact
	// strategy runs and the fuzzy match never happens.
	clock := time.Unix(0, 0)
	m.now = func() time.Time {
		clock = clock.Add(60 * time.Millisecond)
		return clock
	}

	if inv := m.Match(context.Background(), "provders"); inv != nil {
		t.Fatalf("got %+v, want nil once the budget expired", inv)
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if err := m.Register(Command{Name: "status"}); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := m.Register(Command{Name: "quit"}); err == nil {
		t.Error("name colliding with an alias accepted")
	}
	if err := m.Register(Command{Name: "deploy", Aliases: []string{"help"}}); err == nil {
		t.Error("alias colliding with a name accepted")
	}
	if err := m.Register(Command{Name: "   "}); err == nil {
		t.Error("blank name accepted")
	}
}

func TestLookupResolvesNamesAndAliases(t *testing.T) {
	m := newTestMatcher(t, Config{})

	if cmd, ok := m.Lookup("q"); !ok || cmd.Name != CmdExit {
		t.Errorf("Lookup(q) = %+v, %v", cmd, ok)
	}
	if cmd, ok := m.Lookup("HELP"); !ok || cmd.Name != CmdHelp {
		t.Errorf("Lookup(HELP) = %+v, %v", cmd, ok)
	}
	if _, ok := m.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) succeeded")
	}

	if err := m.Register(Command{Name: "git-status"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if cmd, ok := m.Lookup("git status"); !ok || cmd.Name != "git-status" {
		t.Errorf("Lookup(git status) = %+v, %v", cmd, ok)
	}
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	m := newTestMatcher(t, Config{})

	list := m.List()
	if len(list) != len(builtinOrder) {
		t.Fatalf("len = %d, want %d", len(list), len(builtinOrder))
	}
	for i, name := range builtinOrder {
		if list[i].Name != name {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Name, name)
		}
	}

	if err := m.Register(Command{Name: "deploy"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	list = m.List()
	if list[len(list)-1].Name != "deploy" {
		t.Errorf("last = %s, want deploy", list[len(list)-1].Name)
	}
}
