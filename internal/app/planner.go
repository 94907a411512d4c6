package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

// maxPlanSteps bounds a plan; clauses past the cap fold into the last
// step rather than being dropped.
const maxPlanSteps = 8

// sequencers are the connectives that order one clause after another.
// Matching is case-insensitive; longer connectives are tried first so
// "and then" is not split by the bare "then".
var sequencers = []string{
	" and then ",
	", then ",
	" then ",
	" after that ",
	" followed by ",
	"; ",
}

// stepVerbs maps the leading verb of a clause to a step action label.
var stepVerbs = map[string]string{
	"add": "create", "create": "create", "write": "create",
	"implement": "create", "build": "create", "generate": "create",
	"fix": "fix", "debug": "fix", "repair": "fix",
	"refactor": "refactor", "rename": "refactor", "extract": "refactor",
	"move": "refactor", "restructure": "refactor",
	"update": "edit", "change": "edit", "modify": "edit",
	"edit": "edit", "replace": "edit",
	"delete": "remove", "remove": "remove",
	"test": "verify", "verify": "verify", "check": "verify",
	"run": "verify", "validate": "verify",
	"find": "investigate", "read": "investigate", "review": "investigate",
	"explain": "investigate", "investigate": "investigate", "survey": "investigate",
	"look": "investigate", "analyze": "investigate",
}

// planner decomposes a complex request into ordered steps without a
// model call: explicit connectives in the input become the sequence,
// and a single-clause request expands into survey, change, verify.
type planner struct {
	logger *observability.Logger
}

func newPlanner(logger *observability.Logger) *planner {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &planner{logger: logger}
}

func (p *planner) Plan(ctx context.Context, input string, ui models.UserIntent) (*models.TaskPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	goal := strings.TrimSpace(input)
	if goal == "" {
		return nil, nil
	}

	clauses := splitClauses(goal)
	var steps []models.TaskPlanStep
	if len(clauses) >= 2 {
		for i, clause := range clauses {
			steps = append(steps, models.TaskPlanStep{
				Order:       i + 1,
				Description: clause,
				Action:      stepAction(clause),
			})
		}
	} else {
		steps = scaffoldSteps(goal, ui)
	}

	plan := &models.TaskPlan{
		ID:               uuid.NewString(),
		Goal:             goal,
		Steps:            steps,
		EstimatedSeconds: planEstimate(len(steps), ui),
	}
	p.logger.Debug(ctx, "task plan built", "plan_id", plan.ID, "steps", len(steps))
	return plan, nil
}

// scaffoldSteps shapes a single-clause request into the standard
// survey, change, verify sequence.
func scaffoldSteps(goal string, ui models.UserIntent) []models.TaskPlanStep {
	survey := "survey the code involved in: " + goal
	if files := ui.Entities.Files; len(files) > 0 {
		survey = fmt.Sprintf("survey %s and related code", strings.Join(files, ", "))
	}
	return []models.TaskPlanStep{
		{Order: 1, Description: survey, Action: "investigate"},
		{Order: 2, Description: goal, Action: stepAction(goal)},
		{Order: 3, Description: "verify the change builds and behaves as intended", Action: "verify"},
	}
}

func planEstimate(steps int, ui models.UserIntent) int {
	if ui.EstimatedDurationSeconds > 0 {
		return ui.EstimatedDurationSeconds
	}
	return steps * 90
}

func stepAction(clause string) string {
	fields := strings.Fields(strings.ToLower(clause))
	for _, f := range fields {
		if action, ok := stepVerbs[strings.Trim(f, ",.;:")]; ok {
			return action
		}
	}
	return "execute"
}

func splitClauses(input string) []string {
	parts := []string{input}
	for _, sep := range sequencers {
		var next []string
		for _, part := range parts {
			next = append(next, splitFold(part, sep)...)
		}
		parts = next
	}

	var clauses []string
	for _, part := range parts {
		c := strings.Trim(part, " \t,;.")
		c = strings.TrimPrefix(c, "and ")
		c = strings.TrimPrefix(c, "then ")
		if c != "" {
			clauses = append(clauses, c)
		}
	}
	if len(clauses) > maxPlanSteps {
		rest := strings.Join(clauses[maxPlanSteps-1:], ", ")
		clauses = append(clauses[:maxPlanSteps-1], rest)
	}
	return clauses
}

// splitFold splits s on sep, matching case-insensitively while
// preserving the original text of each piece.
func splitFold(s, sep string) []string {
	lower := strings.ToLower(s)
	var out []string
	for {
		i := strings.Index(lower, sep)
		if i < 0 {
			out = append(out, s)
			return out
		}
		out = append(out, s[:i])
		s = s[i+len(sep):]
		lower = lower[i+len(sep):]
	}
}
