package conversation

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/pkg/models"
)

// systemInstruction anchors every conversational prompt.
const systemInstruction = "You are Forge, a coding assistant embedded in the user's terminal. " +
	"Ground answers in the project under discussion and prefer concrete commands and code over generalities. " +
	"Say plainly when you are unsure."

// promptOverheadTokens reserves room for the section labels and
// joiners around the rendered turns.
const promptOverheadTokens = 16

const maxSummaryActions = 6

// GenerateContextualPrompt synthesizes the prompt for a conversational
// decision: the system instruction plus an intent summary, and as many
// recent turns as the token budget admits, newest kept first. History
// that does not fit is dropped or folded into a summary paragraph
// depending on the configured strategy.
func (s *Store) GenerateContextualPrompt(input string, ui models.UserIntent) models.ConversationPrompt {
	prompt := models.ConversationPrompt{System: systemInstruction}
	if summary := intentSummary(ui); summary != "" {
		prompt.System += "\n\n" + summary
	}

	s.mu.RLock()
	turns := make([]models.ConversationTurn, len(s.turns))
	copy(turns, s.turns)
	s.mu.RUnlock()

	budget := s.maxTokens - estimateTokens(prompt.System) - estimateTokens(input) - promptOverheadTokens
	included, dropped := fitTurns(turns, budget)

	var sections []string
	if len(dropped) > 0 && s.strategy == StrategySummarize {
		sections = append(sections, summarizeTurns(dropped))
	}
	if len(included) > 0 {
		sections = append(sections, "Recent conversation:\n"+strings.Join(included, "\n"))
	}
	if len(sections) == 0 {
		prompt.Prompt = input
		return prompt
	}
	sections = append(sections, "Current request: "+input)
	prompt.Prompt = strings.Join(sections, "\n\n")
	return prompt
}

// fitTurns renders turns newest-backwards until the budget runs out,
// returning the renderings in chronological order plus the older turns
// that were cut.
func fitTurns(turns []models.ConversationTurn, budget int) (included []string, dropped []models.ConversationTurn) {
	rendered := make([]string, 0, len(turns))
	used := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		text := renderTurn(turns[i])
		cost := estimateTokens(text)
		if used+cost > budget {
			break
		}
		rendered = append(rendered, text)
		used += cost
		cut = i
	}
	for i, j := 0, len(rendered)-1; i < j; i, j = i+1, j-1 {
		rendered[i], rendered[j] = rendered[j], rendered[i]
	}
	return rendered, turns[:cut]
}

func renderTurn(turn models.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("User: ")
	b.WriteString(turn.UserInput)
	switch {
	case turn.Response != "":
		b.WriteString("\nAssistant: ")
		b.WriteString(turn.Response)
	case len(turn.Actions) > 0:
		b.WriteString("\nAssistant: ran ")
		b.WriteString(strings.Join(turn.Actions, ", "))
	}
	if turn.Outcome == models.OutcomeFailure {
		b.WriteString(" [failed]")
	}
	return b.String()
}

// summarizeTurns folds turns that did not fit the budget into one
// paragraph: a count, how many went wrong, and the actions taken.
func summarizeTurns(turns []models.ConversationTurn) string {
	failures := 0
	seen := make(map[string]bool)
	var actions []string
	for _, turn := range turns {
		if turn.Outcome == models.OutcomeFailure {
			failures++
		}
		for _, action := range turn.Actions {
			if !seen[action] && len(actions) < maxSummaryActions {
				seen[action] = true
				actions = append(actions, action)
			}
		}
	}

	summary := fmt.Sprintf("Earlier in this session: %d older turn(s) omitted", len(turns))
	if failures > 0 {
		summary += fmt.Sprintf(", %d of them failed", failures)
	}
	summary += "."
	if len(actions) > 0 {
		summary += " Actions taken: " + strings.Join(actions, ", ") + "."
	}
	return summary
}

// intentSummary renders the analyzer's reading of the input for the
// model's benefit. An empty intent contributes nothing.
func intentSummary(ui models.UserIntent) string {
	if ui.Type == "" {
		return ""
	}
	parts := []string{"type " + string(ui.Type)}
	if ui.Action != "" {
		parts = append(parts, "action "+ui.Action)
	}
	if ui.Complexity != "" {
		parts = append(parts, "complexity "+string(ui.Complexity))
	}
	summary := "Request analysis: " + strings.Join(parts, ", ") + "."
	if mentions := entityMentions(ui.Entities); mentions != "" {
		summary += " Mentions " + mentions + "."
	}
	return summary
}

func entityMentions(e models.Entities) string {
	var groups []string
	group := func(label string, values []string) {
		if len(values) > 0 {
			groups = append(groups, label+" "+strings.Join(values, ", "))
		}
	}
	group("files", e.Files)
	group("technologies", e.Technologies)
	group("functions", e.Functions)
	group("classes", e.Classes)
	group("concepts", e.Concepts)
	return strings.Join(groups, "; ")
}

// estimateTokens approximates tokens at four characters each, the
// cheap proxy the prompt budget is denominated in.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}
