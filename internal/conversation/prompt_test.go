package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/internal/route"
	"github.com/haasonsaas/forge/pkg/models"
)

var _ route.PromptBuilder = (*Store)(nil)

func TestPromptBareInputWithoutHistory(t *testing.T) {
	s := New(Config{})
	got := s.GenerateContextualPrompt("what is a goroutine", models.UserIntent{})

	if got.Prompt != "what is a goroutine" {
		t.Errorf("prompt = %q, want the bare input", got.Prompt)
	}
	if !strings.Contains(got.System, "coding assistant") {
		t.Errorf("system = %q, want the base instruction", got.System)
	}
	if strings.Contains(got.System, "Request analysis") {
		t.Error("an empty intent must not add an analysis line")
	}
}

func TestPromptIncludesRecentTurns(t *testing.T) {
	s := New(Config{})
	s.AddTurn(models.ConversationTurn{UserInput: "how do I run tests", Response: "go test ./...", Outcome: models.OutcomeSuccess})
	s.AddTurn(models.ConversationTurn{UserInput: "what about coverage", Response: "add -cover", Outcome: models.OutcomeSuccess})

	got := s.GenerateContextualPrompt("and race detection", models.UserIntent{})
	for _, want := range []string{
		"Recent conversation:",
		"User: how do I run tests",
		"Assistant: go test ./...",
		"User: what about coverage",
	} {
		if !strings.Contains(got.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, got.Prompt)
		}
	}
	if !strings.HasSuffix(got.Prompt, "Current request: and race detection") {
		t.Errorf("prompt must end with the current request:\n%s", got.Prompt)
	}
	if strings.Index(got.Prompt, "how do I run tests") > strings.Index(got.Prompt, "what about coverage") {
		t.Error("turns must render oldest first")
	}
}

func TestPromptIntentSummaryInSystem(t *testing.T) {
	ui := models.UserIntent{
		Type:       models.IntentQuestion,
		Action:     "explain",
		Complexity: models.ComplexitySimple,
		Entities: models.Entities{
			Files:        []string{"main.go"},
			Technologies: []string{"go"},
		},
	}

	got := New(Config{}).GenerateContextualPrompt("what does main do", ui)
	if !strings.Contains(got.System, "Request analysis: type question, action explain, complexity simple.") {
		t.Errorf("system = %q, want the analysis line", got.System)
	}
	if !strings.Contains(got.System, "Mentions files main.go; technologies go.") {
		t.Errorf("system = %q, want the entity mentions", got.System)
	}
}

func TestPromptBudgetDropsOldest(t *testing.T) {
	s := New(Config{Strategy: StrategyTruncate})
	s.AddTurn(models.ConversationTurn{UserInput: "old question", Response: "old answer", Outcome: models.OutcomeSuccess})
	newest := s.AddTurn(models.ConversationTurn{UserInput: "new question", Response: "new answer", Outcome: models.OutcomeSuccess})

	input := "one more thing"
	s.maxTokens = estimateTokens(systemInstruction) + estimateTokens(input) +
		promptOverheadTokens + estimateTokens(renderTurn(newest))

	got := s.GenerateContextualPrompt(input, models.UserIntent{})
	if !strings.Contains(got.Prompt, "new question") {
		t.Errorf("prompt must keep the newest turn:\n%s", got.Prompt)
	}
	if strings.Contains(got.Prompt, "old question") {
		t.Error("over-budget history must be dropped")
	}
	if strings.Contains(got.Prompt, "older turn(s) omitted") {
		t.Error("the truncate strategy must not summarize")
	}
}

func TestPromptSummarizesDroppedTurns(t *testing.T) {
	s := New(Config{})
	s.AddTurn(models.ConversationTurn{
		UserInput: "format everything",
		Actions:   []string{"fmt", "build"},
		Outcome:   models.OutcomeFailure,
	})
	newest := s.AddTurn(models.ConversationTurn{UserInput: "try again", Response: "done", Outcome: models.OutcomeSuccess})

	input := "status?"
	s.maxTokens = estimateTokens(systemInstruction) + estimateTokens(input) +
		promptOverheadTokens + estimateTokens(renderTurn(newest))

	got := s.GenerateContextualPrompt(input, models.UserIntent{})
	if !strings.Contains(got.Prompt, "Earlier in this session: 1 older turn(s) omitted, 1 of them failed.") {
		t.Errorf("prompt missing the fold summary:\n%s", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "Actions taken: fmt, build.") {
		t.Errorf("prompt missing the folded actions:\n%s", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "User: try again") {
		t.Errorf("prompt must keep the newest turn:\n%s", got.Prompt)
	}
	if strings.Index(got.Prompt, "Earlier in this session") > strings.Index(got.Prompt, "Recent conversation:") {
		t.Error("the summary must precede the rendered turns")
	}
}

func TestFitTurnsExhaustedBudget(t *testing.T) {
	turns := []models.ConversationTurn{{UserInput: "a"}, {UserInput: "b"}}
	included, dropped := fitTurns(turns, 0)
	if len(included) != 0 {
		t.Errorf("included = %v, want none", included)
	}
	if len(dropped) != 2 {
		t.Errorf("dropped = %d, want all", len(dropped))
	}
}

func TestRenderTurn(t *testing.T) {
	tests := []struct {
		name string
		turn models.ConversationTurn
		want string
	}{
		{
			"response",
			models.ConversationTurn{UserInput: "q", Response: "a"},
			"User: q\nAssistant: a",
		},
		{
			"actions without response",
			models.ConversationTurn{UserInput: "fix", Actions: []string{"edit main.go"}},
			"User: fix\nAssistant: ran edit main.go",
		},
		{
			"response wins over actions",
			models.ConversationTurn{UserInput: "x", Response: "r", Actions: []string{"a"}},
			"User: x\nAssistant: r",
		},
		{
			"failure marker",
			models.ConversationTurn{UserInput: "deploy", Response: "no", Outcome: models.OutcomeFailure},
			"User: deploy\nAssistant: no [failed]",
		},
		{
			"bare input",
			models.ConversationTurn{UserInput: "hello"},
			"User: hello",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderTurn(tt.turn); got != tt.want {
				t.Errorf("renderTurn = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeTurnsCapsActions(t *testing.T) {
	var turns []models.ConversationTurn
	for i := 0; i < 8; i++ {
		turns = append(turns, models.ConversationTurn{
			Actions: []string{fmt.Sprintf("action-%d", i), "action-0"},
		})
	}

	got := summarizeTurns(turns)
	if !strings.Contains(got, "8 older turn(s) omitted.") {
		t.Errorf("summary = %q, want the turn count", got)
	}
	if !strings.Contains(got, "action-5") {
		t.Errorf("summary = %q, want the sixth action listed", got)
	}
	if strings.Contains(got, "action-6") {
		t.Errorf("summary = %q, action list must cap at six", got)
	}
	if strings.Count(got, "action-0") != 1 {
		t.Errorf("summary = %q, repeated actions must list once", got)
	}
}

func TestIntentSummary(t *testing.T) {
	if got := intentSummary(models.UserIntent{}); got != "" {
		t.Errorf("empty intent summary = %q, want empty", got)
	}

	e := models.Entities{Functions: []string{"Run", "Stop"}, Concepts: []string{"retry"}}
	if got := entityMentions(e); got != "functions Run, Stop; concepts retry" {
		t.Errorf("mentions = %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 2},
		{"abcdefgh", 3},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.in); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
