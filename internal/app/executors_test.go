package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/internal/safety"
	"github.com/haasonsaas/forge/pkg/models"
)

// stubProvider satisfies the provider interface with a canned
// completion, for wiring into a real router.
type stubProvider struct {
	name     string
	complete func(ctx context.Context, req providers.Request) (*models.CompletionResponse, error)
}

var _ providers.Provider = (*stubProvider)(nil)

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) DisplayName() string { return s.name }

func (s *stubProvider) Capabilities() models.Capabilities {
	return models.Capabilities{
		MaxContext: 100000,
		Supported: map[models.Capability]bool{
			models.CapStreaming:       true,
			models.CapFunctionCalling: true,
		},
	}
}

func (s *stubProvider) Initialize(context.Context) error     { return nil }
func (s *stubProvider) TestConnection(context.Context) error { return nil }

func (s *stubProvider) Complete(ctx context.Context, req providers.Request) (*models.CompletionResponse, error) {
	if s.complete != nil {
		return s.complete(ctx, req)
	}
	return &models.CompletionResponse{Content: "ok", Provider: s.name}, nil
}

func (s *stubProvider) CompleteStream(ctx context.Context, req providers.Request, onEvent providers.StreamHandler) error {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return err
	}
	onEvent(models.StreamEvent{Delta: resp.Content})
	onEvent(models.StreamEvent{Done: true})
	return nil
}

func (s *stubProvider) ListModels(context.Context) ([]models.ModelInfo, error) { return nil, nil }

func (s *stubProvider) GetModel(_ context.Context, id string) (*models.ModelInfo, error) {
	return &models.ModelInfo{ID: id}, nil
}

func (s *stubProvider) CalculateCost(models.Usage, string) float64 { return 0 }

func (s *stubProvider) Health() models.ProviderHealth {
	return models.ProviderHealth{Status: models.HealthHealthy}
}

func (s *stubProvider) Metrics() models.ProviderMetrics { return models.ProviderMetrics{} }

func (s *stubProvider) UpdateConfig(providers.ConfigPatch) error { return nil }
func (s *stubProvider) Cleanup() error                           { return nil }

// swapProviders replaces the provider router with one backed only by
// the stub, so content drafting needs no live backend.
func swapProviders(t *testing.T, a *App, stub *stubProvider) {
	t.Helper()
	r := router.New(router.Config{Logger: a.logger})
	if err := r.Register(stub); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a.providers = r
}

// failingStreamer rejects every completion.
type failingStreamer struct{}

func (failingStreamer) CompleteStream(context.Context, router.RouteRequest, providers.StreamHandler) error {
	return errors.New("model down")
}

func TestExecuteConversationStreams(t *testing.T) {
	a, term := newTestApp(t)
	fake := &scriptStreamer{replies: []string{"hello world"}}
	swapStreamer(t, a, fake)
	ctx := context.Background()

	d, err := a.ProcessLine(ctx, "what is the scheduler for")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if d.Type != models.DecisionConversation || d.Conversation == nil {
		t.Fatalf("decision = %+v, want a conversation", d)
	}

	content, err := a.ExecuteConversation(ctx, d.Conversation)
	if err != nil {
		t.Fatalf("ExecuteConversation: %v", err)
	}
	if content != "hello world" {
		t.Errorf("content = %q", content)
	}
	if got := term.streamed(); got != "hello world" {
		t.Errorf("streamed = %q, want the deltas relayed", got)
	}

	turn := a.conv.Recent(1)[0]
	if turn.Response != "hello world" {
		t.Errorf("turn response = %q", turn.Response)
	}
	if turn.Outcome != models.OutcomeSuccess {
		t.Errorf("turn outcome = %s, want success", turn.Outcome)
	}
}

func TestExecuteConversationRejectsEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	var ue *UserError
	if _, err := a.ExecuteConversation(context.Background(), nil); !errors.As(err, &ue) {
		t.Errorf("err = %v, want a UserError", err)
	}
	if _, err := a.ExecuteConversation(context.Background(), &models.ConversationPrompt{Prompt: "  "}); !errors.As(err, &ue) {
		t.Errorf("err = %v, want a UserError", err)
	}
}

func TestExecuteTaskPlanRunsSteps(t *testing.T) {
	a, term := newTestApp(t)
	fake := &scriptStreamer{replies: []string{"step one done", "step two done"}}
	swapStreamer(t, a, fake)

	plan := &models.TaskPlan{
		ID:   "plan-1",
		Goal: "wire the cache",
		Steps: []models.TaskPlanStep{
			{Order: 1, Description: "add the cache type", Action: "create"},
			{Order: 2, Description: "use it from the loader", Action: "edit"},
		},
	}
	a.plans.put(plan.ID, plan)

	report, err := a.ExecuteTaskPlan(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("ExecuteTaskPlan: %v", err)
	}
	if report.StepsRun != 2 || !report.Completed {
		t.Errorf("report = %+v, want both steps completed", report)
	}
	if report.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v, want accumulated tokens", report.Usage)
	}

	printed := term.printed()
	if !strings.Contains(printed, "step 1/2: add the cache type") {
		t.Errorf("printed = %q, want the step header", printed)
	}
	if !strings.Contains(term.streamed(), "step one done") {
		t.Errorf("streamed = %q, want step output relayed", term.streamed())
	}

	system := fake.request(t, 0).Request.Options.System
	if !strings.Contains(system, "wire the cache") {
		t.Errorf("system prompt = %q, want the goal included", system)
	}
}

func TestExecuteTaskPlanUnknownID(t *testing.T) {
	a, _ := newTestApp(t)
	var ue *UserError
	if _, err := a.ExecuteTaskPlan(context.Background(), "nope"); !errors.As(err, &ue) {
		t.Errorf("err = %v, want a UserError", err)
	}
}

func TestExecuteTaskPlanStopsOnFailure(t *testing.T) {
	a, _ := newTestApp(t)
	swapStreamer(t, a, failingStreamer{})

	plan := &models.TaskPlan{
		ID:   "plan-2",
		Goal: "doomed",
		Steps: []models.TaskPlanStep{
			{Order: 1, Description: "first"},
			{Order: 2, Description: "second"},
		},
	}
	a.plans.put(plan.ID, plan)

	report, err := a.ExecuteTaskPlan(context.Background(), "plan-2")
	if err == nil {
		t.Fatal("expected the step failure")
	}
	if !strings.Contains(err.Error(), "step 1 of 2") {
		t.Errorf("err = %v, want the failing step named", err)
	}
	if report.StepsRun != 0 || report.Completed {
		t.Errorf("report = %+v, want no completed steps", report)
	}
}

func TestExecuteFileOperationCreatesEmptyFile(t *testing.T) {
	a, _ := newTestApp(t)
	path := filepath.Join(a.Workspace(), "notes", "todo.md")
	op := &models.FileOperationIntent{
		ID:        "op-1",
		Operation: models.FileOpCreate,
		Targets:   []models.FileTarget{{Path: path, Confidence: 0.9}},
		Safety:    models.SafetySafe,
		Impact:    models.ImpactMinimal,
	}
	a.fileOps.put(op.ID, op)

	res, err := a.ExecuteFileOperation(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("ExecuteFileOperation: %v", err)
	}
	if res.OperationID != "op-1" {
		t.Errorf("operation id = %q", res.OperationID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("created file missing: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("content = %q, want an empty file", data)
	}
}

func TestExecuteFileOperationDraftsContent(t *testing.T) {
	a, _ := newTestApp(t)
	stub := &stubProvider{name: "fake"}
	stub.complete = func(_ context.Context, req providers.Request) (*models.CompletionResponse, error) {
		return &models.CompletionResponse{
			Content:  "```markdown\n# Notes\n```",
			Provider: "fake",
		}, nil
	}
	swapProviders(t, a, stub)

	path := filepath.Join(a.Workspace(), "NOTES.md")
	op := &models.FileOperationIntent{
		ID:          "op-2",
		Operation:   models.FileOpCreate,
		ContentSpec: "a notes file",
		Targets:     []models.FileTarget{{Path: path, Confidence: 0.9}},
		Safety:      models.SafetySafe,
		Impact:      models.ImpactMinimal,
	}
	a.fileOps.put(op.ID, op)

	if _, err := a.ExecuteFileOperation(context.Background(), "op-2"); err != nil {
		t.Fatalf("ExecuteFileOperation: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if got := string(data); got != "# Notes\n" {
		t.Errorf("content = %q, want the fence stripped", got)
	}
}

func TestExecuteFileOperationEditSendsCurrent(t *testing.T) {
	a, _ := newTestApp(t)
	path := filepath.Join(a.Workspace(), "doc.txt")
	if err := os.WriteFile(path, []byte("old words\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	var prompt string
	stub := &stubProvider{name: "fake"}
	stub.complete = func(_ context.Context, req providers.Request) (*models.CompletionResponse, error) {
		prompt = req.Messages[len(req.Messages)-1].Content
		return &models.CompletionResponse{Content: "new words\n", Provider: "fake"}, nil
	}
	swapProviders(t, a, stub)

	op := &models.FileOperationIntent{
		ID:          "op-3",
		Operation:   models.FileOpEdit,
		ContentSpec: "replace old with new",
		Targets:     []models.FileTarget{{Path: path, Exists: true, Confidence: 0.9}},
		Safety:      models.SafetySafe,
		Impact:      models.ImpactMinimal,
	}
	a.fileOps.put(op.ID, op)

	if _, err := a.ExecuteFileOperation(context.Background(), "op-3"); err != nil {
		t.Fatalf("ExecuteFileOperation: %v", err)
	}
	if !strings.Contains(prompt, "old words") {
		t.Errorf("draft prompt = %q, want the current content included", prompt)
	}
	data, _ := os.ReadFile(path)
	if got := string(data); got != "new words\n" {
		t.Errorf("content = %q, want the drafted body", got)
	}
}

func TestExecuteFileOperationDeniedLeavesFile(t *testing.T) {
	a, term := newTestApp(t)
	term.mu.Lock()
	term.confirm = false
	term.mu.Unlock()

	path := filepath.Join(a.Workspace(), "keep.txt")
	if err := os.WriteFile(path, []byte("precious\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	op := &models.FileOperationIntent{
		ID:        "op-4",
		Operation: models.FileOpDelete,
		Targets:   []models.FileTarget{{Path: path, Exists: true, Confidence: 0.9}},
		Safety:    models.SafetyDangerous,
		Impact:    models.ImpactSignificant,
	}
	a.fileOps.put(op.ID, op)

	_, err := a.ExecuteFileOperation(context.Background(), "op-4")
	if !errors.Is(err, safety.ErrApprovalDenied) {
		t.Fatalf("err = %v, want approval denied", err)
	}
	if ExitCode(err) != ExitUser {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitUser)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file should survive the denied delete: %v", err)
	}
}

func TestExecuteFileOperationUnknownID(t *testing.T) {
	a, _ := newTestApp(t)
	var ue *UserError
	if _, err := a.ExecuteFileOperation(context.Background(), "nope"); !errors.As(err, &ue) {
		t.Errorf("err = %v, want a UserError", err)
	}
}

func TestExecuteDispatch(t *testing.T) {
	a, term := newTestApp(t)

	err := a.Execute(context.Background(), &models.RoutingDecision{
		Type:    models.DecisionCommand,
		Command: &models.CommandInvocation{Name: "version"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(term.printed(), "forge test") {
		t.Errorf("printed = %q, want the command output", term.printed())
	}

	var ue *UserError
	if err := a.Execute(context.Background(), nil); !errors.As(err, &ue) {
		t.Errorf("err = %v, want a UserError for a nil decision", err)
	}
}

func TestExecuteDispatchClarification(t *testing.T) {
	a, term := newTestApp(t)

	err := a.Execute(context.Background(), &models.RoutingDecision{
		Type: models.DecisionClarification,
		Clarification: &models.ClarificationRequest{
			Questions: []string{"which file did you mean?"},
			Options:   []string{"a.go", "b.go"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	printed := term.printed()
	if !strings.Contains(printed, "which file did you mean?") {
		t.Errorf("printed = %q, want the question", printed)
	}
	if !strings.Contains(printed, "a.go, b.go") {
		t.Errorf("printed = %q, want the options", printed)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "package main\n", "package main\n"},
		{"fenced", "```go\npackage main\n```", "package main\n"},
		{"fenced no language", "```\nhello\n```\n", "hello\n"},
		{"backticks inline only", "use `go test` here\n", "use `go test` here\n"},
		{"unterminated fence", "```go\npackage main\n", "```go\npackage main\n"},
		{"empty fence", "```\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateLine("one\ntwo\tthree", 40); got != "one two three" {
		t.Errorf("got %q, want whitespace folded", got)
	}
	got := truncateLine(strings.Repeat("x", 50), 10)
	if len([]rune(got)) != 13 || !strings.HasSuffix(got, "...") {
		t.Errorf("got %q, want a 10-rune cut plus ellipsis", got)
	}
}

func TestFirstSentence(t *testing.T) {
	in := "Reads a file from the workspace. Arguments are validated against the schema."
	if got := firstSentence(in); got != "Reads a file from the workspace." {
		t.Errorf("got %q", got)
	}
	if got := firstSentence("no terminator here"); got != "no terminator here" {
		t.Errorf("got %q", got)
	}
}
