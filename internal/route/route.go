// Package route turns one line of user input into a RoutingDecision.
// The fast path answers obvious commands without a provider call;
// everything else flows through intent analysis and fans out to
// clarification, file-operation, task-plan, or conversation decisions.
package route

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/haasonsaas/forge/internal/fastpath"
	"github.com/haasonsaas/forge/internal/intent"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	// fastPathConfidence is the floor above which a fast-path match is
	// taken as a command without consulting the intent analyzer.
	fastPathConfidence = 0.8

	// taskPlanConfidence gates planning on the analyzer being sure the
	// request really is a complex task.
	taskPlanConfidence = 0.6
)

// Analyzer classifies one line of input.
type Analyzer interface {
	Analyze(ctx context.Context, text string, actx intent.AnalysisContext) models.UserIntent
}

// FileClassifier maps an intent onto a concrete file operation. A nil
// result means the input is not about files.
type FileClassifier interface {
	Classify(ctx context.Context, ui models.UserIntent, recent []string) *models.FileOperationIntent
}

// Planner decomposes a complex request into an ordered task plan.
type Planner interface {
	Plan(ctx context.Context, input string, ui models.UserIntent) (*models.TaskPlan, error)
}

// PromptBuilder synthesizes the prompt for inputs that end up as plain
// dialogue.
type PromptBuilder interface {
	GenerateContextualPrompt(input string, ui models.UserIntent) models.ConversationPrompt
}

// Preferences adjusts routing per user.
type Preferences struct {
	// AlwaysConfirm asks for confirmation on every actionable decision.
	AlwaysConfirm bool
}

// Request is one line of input plus the session context the classifiers
// read. Everything except Input is optional.
type Request struct {
	Input       string
	History     []models.ConversationTurn
	Project     intent.Project
	RecentFiles []string
	LastIntent  *models.UserIntent
	Preferences Preferences
}

// Config assembles a Router. Intent is required; components left nil
// are skipped.
type Config struct {
	Fastpath *fastpath.Matcher
	Intent   Analyzer
	Files    FileClassifier
	Planner  Planner
	Prompts  PromptBuilder

	// Cutoff is the fast-path confidence above which a match becomes
	// a command without intent analysis. Defaults to 0.8.
	Cutoff float64

	// PlannerConfidence gates multi-step planning on the analyzer's
	// confidence. Defaults to 0.6.
	PlannerConfidence float64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Router dispatches user input to exactly one decision variant.
type Router struct {
	cfg    Config
	logger *observability.Logger
}

// New validates cfg and builds a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Intent == nil {
		return nil, errors.New("intent analyzer is required")
	}
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = fastPathConfidence
	}
	if cfg.PlannerConfidence <= 0 {
		cfg.PlannerConfidence = taskPlanConfidence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Router{cfg: cfg, logger: logger}, nil
}

// Route classifies req.Input into exactly one decision. It fails only
// on context cancellation; classifier degradation falls back to a
// conversation decision.
func (r *Router) Route(ctx context.Context, req Request) (*models.RoutingDecision, error) {
	input := strings.TrimSpace(req.Input)

	if name, args, ok := splitSlashCommand(input); ok {
		return r.finish(ctx, r.slashDecision(name, args), nil, req, fastpath.MethodExact), nil
	}

	if r.cfg.Fastpath != nil {
		if inv := r.cfg.Fastpath.Match(ctx, input); inv != nil && inv.Confidence > r.cfg.Cutoff {
			d := &models.RoutingDecision{
				Type:    models.DecisionCommand,
				Action:  inv.Name,
				Command: inv,
				Risk:    models.RiskLow,
			}
			return r.finish(ctx, d, nil, req, inv.Method), nil
		}
	}

	ui := r.cfg.Intent.Analyze(ctx, input, intent.AnalysisContext{
		History:     req.History,
		Project:     req.Project,
		RecentFiles: req.RecentFiles,
		LastIntent:  req.LastIntent,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ui.RequiresClarification {
		d := &models.RoutingDecision{
			Type:          models.DecisionClarification,
			Action:        ui.Action,
			Clarification: clarificationFor(input, ui),
			Risk:          intentRisk(ui),
		}
		return r.finish(ctx, d, &ui, req, "intent"), nil
	}

	if r.cfg.Files != nil {
		if op := r.cfg.Files.Classify(ctx, ui, req.RecentFiles); op != nil {
			d := &models.RoutingDecision{
				Type:             models.DecisionFileOperation,
				Action:           string(op.Operation),
				FileOperation:    op,
				Risk:             maxRisk(intentRisk(ui), safetyRisk(op.Safety)),
				EstimatedSeconds: ui.EstimatedDurationSeconds,
			}
			return r.finish(ctx, d, &ui, req, "intent"), nil
		}
	}

	if r.cfg.Planner != nil && ui.Type == models.IntentTaskRequest &&
		ui.Complexity == models.ComplexityComplex && ui.Confidence > r.cfg.PlannerConfidence {
		plan, err := r.cfg.Planner.Plan(ctx, input, ui)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug(ctx, "task planning unavailable", "error", err)
		} else if plan != nil {
			d := &models.RoutingDecision{
				Type:             models.DecisionTaskPlan,
				Action:           ui.Action,
				TaskPlan:         plan,
				Risk:             intentRisk(ui),
				EstimatedSeconds: planSeconds(plan, ui),
			}
			return r.finish(ctx, d, &ui, req, "intent"), nil
		}
	}

	prompt := r.conversationPrompt(input, ui)
	d := &models.RoutingDecision{
		Type:             models.DecisionConversation,
		Action:           ui.Action,
		Conversation:     &prompt,
		Risk:             intentRisk(ui),
		EstimatedSeconds: ui.EstimatedDurationSeconds,
	}
	return r.finish(ctx, d, &ui, req, "intent"), nil
}

// HandleClarification re-routes the user's answer to an earlier
// clarification decision. Option answers select by 1-based number or by
// text; anything else is concatenated with the original input.
func (r *Router) HandleClarification(ctx context.Context, original *models.RoutingDecision, answer string, req Request) (*models.RoutingDecision, error) {
	if original == nil || original.Type != models.DecisionClarification || original.Clarification == nil {
		return nil, errors.New("original decision is not a clarification")
	}
	req.Input = mergeClarification(original.Clarification, answer)
	return r.Route(ctx, req)
}

func (r *Router) finish(ctx context.Context, d *models.RoutingDecision, ui *models.UserIntent, req Request, method string) *models.RoutingDecision {
	d.RequiresConfirmation = requiresConfirmation(d, ui, req.Preferences)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordRoutingDecision(string(d.Type), method)
	}
	r.logger.Debug(ctx, "routing decision",
		"type", d.Type,
		"action", d.Action,
		"risk", d.Risk,
		"requires_confirmation", d.RequiresConfirmation)
	return d
}

// slashDecision handles explicit "/name args..." syntax. The name is
// canonicalized through the fast-path table when possible; unknown
// names pass through so execution can report them.
func (r *Router) slashDecision(name string, args []string) *models.RoutingDecision {
	inv := &models.CommandInvocation{
		Name:       strings.ToLower(name),
		Args:       args,
		Method:     fastpath.MethodExact,
		Confidence: 1.0,
	}
	if r.cfg.Fastpath != nil {
		if cmd, ok := r.cfg.Fastpath.Lookup(name); ok {
			inv.Name = cmd.Name
		}
	}
	return &models.RoutingDecision{
		Type:    models.DecisionCommand,
		Action:  inv.Name,
		Command: inv,
		Risk:    models.RiskLow,
	}
}

func (r *Router) conversationPrompt(input string, ui models.UserIntent) models.ConversationPrompt {
	if r.cfg.Prompts != nil {
		return r.cfg.Prompts.GenerateContextualPrompt(input, ui)
	}
	return models.ConversationPrompt{Prompt: input}
}

// destructiveActions lists intent actions that always warrant a
// confirmation prompt.
var destructiveActions = map[string]bool{
	"delete": true,
}

func requiresConfirmation(d *models.RoutingDecision, ui *models.UserIntent, prefs Preferences) bool {
	if d.Type == models.DecisionClarification {
		return false
	}
	if prefs.AlwaysConfirm {
		return true
	}
	if d.Risk == models.RiskHigh {
		return true
	}
	if ui != nil {
		if ui.MultiStep && ui.Complexity == models.ComplexityComplex {
			return true
		}
		if destructiveActions[ui.Action] {
			return true
		}
	}
	if op := d.FileOperation; op != nil {
		if op.Safety == models.SafetyRisky || op.Safety == models.SafetyDangerous {
			return true
		}
	}
	return false
}

func splitSlashCommand(input string) (string, []string, bool) {
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

func clarificationFor(input string, ui models.UserIntent) *models.ClarificationRequest {
	questions := ui.SuggestedClarifications
	if len(questions) == 0 {
		questions = []string{"Could you say more about what you need?"}
	}
	return &models.ClarificationRequest{
		Questions: questions,
		Context:   input,
		Required:  true,
	}
}

func mergeClarification(clar *models.ClarificationRequest, answer string) string {
	answer = strings.TrimSpace(answer)
	if selected, ok := selectOption(clar.Options, answer); ok {
		answer = selected
	}
	if clar.Context == "" {
		return answer
	}
	return strings.TrimSpace(clar.Context + " " + answer)
}

// selectOption resolves numeric or textual option answers.
func selectOption(options []string, answer string) (string, bool) {
	if len(options) == 0 || answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return "", false
	}
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return opt, true
		}
	}
	return "", false
}

func planSeconds(plan *models.TaskPlan, ui models.UserIntent) int {
	if plan.EstimatedSeconds > 0 {
		return plan.EstimatedSeconds
	}
	return ui.EstimatedDurationSeconds
}

func intentRisk(ui models.UserIntent) models.RiskLevel {
	switch ui.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
		return ui.RiskLevel
	}
	return models.RiskLow
}

// safetyRisk folds the four-tier file-operation safety into the coarse
// decision risk.
func safetyRisk(s models.SafetyLevel) models.RiskLevel {
	switch s {
	case models.SafetyDangerous:
		return models.RiskHigh
	case models.SafetyRisky, models.SafetyCautious:
		return models.RiskMedium
	}
	return models.RiskLow
}

var riskRank = map[models.RiskLevel]int{
	models.RiskLow:    1,
	models.RiskMedium: 2,
	models.RiskHigh:   3,
}

func maxRisk(a, b models.RiskLevel) models.RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}
