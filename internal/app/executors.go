package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/forge/internal/fastpath"
	"github.com/haasonsaas/forge/internal/orchestrator"
	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/internal/safety"
	"github.com/haasonsaas/forge/pkg/models"
)

const draftMaxTokens = 4096

// Execute carries out a routing decision end to end, rendering output
// through the session terminal. Clarifications only print their
// questions; the answer arrives on the next ProcessLine call.
func (a *App) Execute(ctx context.Context, d *models.RoutingDecision) error {
	if d == nil {
		return userErr(CategoryValidation, "nothing to execute", "route an input first")
	}
	switch d.Type {
	case models.DecisionCommand:
		out, err := a.ExecuteCommand(ctx, d.Command)
		if err != nil {
			return err
		}
		if out != "" {
			a.term.Print(out)
		}
		return nil
	case models.DecisionTaskPlan:
		if d.TaskPlan == nil {
			return userErr(CategoryValidation, "decision carries no plan", "route the request again")
		}
		_, err := a.ExecuteTaskPlan(ctx, d.TaskPlan.ID)
		return err
	case models.DecisionFileOperation:
		if d.FileOperation == nil {
			return userErr(CategoryValidation, "decision carries no file operation", "route the request again")
		}
		res, err := a.ExecuteFileOperation(ctx, d.FileOperation.ID)
		if err != nil {
			return err
		}
		a.term.Print(a.fileOpSummary(d.FileOperation, res))
		return nil
	case models.DecisionConversation:
		_, err := a.ExecuteConversation(ctx, d.Conversation)
		return err
	case models.DecisionClarification:
		a.printClarification(d.Clarification)
		return nil
	default:
		return fmt.Errorf("unhandled decision type %q", d.Type)
	}
}

// ExecuteCommand runs a built-in command and returns its rendered
// output. A session-ending command returns ErrSessionEnd.
func (a *App) ExecuteCommand(ctx context.Context, inv *models.CommandInvocation) (string, error) {
	if inv == nil {
		return "", userErr(CategoryValidation, "empty command", "run /help to list commands")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var out string
	switch inv.Name {
	case fastpath.CmdHelp:
		out = a.renderHelp()
	case fastpath.CmdVersion:
		out = "forge " + a.version
	case fastpath.CmdStatus:
		out = a.renderStatus()
	case fastpath.CmdProviders:
		out = a.renderProviders()
	case fastpath.CmdTools:
		out = a.renderTools()
	case fastpath.CmdConfig:
		out = a.renderConfig()
	case fastpath.CmdHistory:
		out = a.renderHistory()
	case fastpath.CmdClear:
		// The count includes the turn recorded for this command.
		return fmt.Sprintf("cleared %d turns", a.conv.Clear()), nil
	case fastpath.CmdExit:
		a.finishTurn(models.OutcomeSuccess, "")
		return "", ErrSessionEnd
	default:
		a.finishTurn(models.OutcomeFailure, "")
		return "", userErr(CategoryValidation,
			fmt.Sprintf("unknown command: %s", inv.Name),
			"run /help to list commands")
	}
	a.finishTurn(models.OutcomeSuccess, out)
	return out, nil
}

func (a *App) renderHelp() string {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, cmd := range a.matcher.List() {
		fmt.Fprintf(&b, "  /%-10s %s", cmd.Name, cmd.Description)
		if len(cmd.Aliases) > 0 {
			fmt.Fprintf(&b, " (aliases: %s)", strings.Join(cmd.Aliases, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("anything else is routed as a request")
	return b.String()
}

func (a *App) renderStatus() string {
	statuses := a.providers.Status()
	available := 0
	for _, s := range statuses {
		if s.Health.Status != models.HealthUnhealthy {
			available++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "forge %s\n", a.version)
	fmt.Fprintf(&b, "workspace: %s\n", a.root)
	fmt.Fprintf(&b, "providers: %d/%d available\n", available, len(statuses))
	fmt.Fprintf(&b, "tools:     %d registered\n", len(a.registry.List()))
	fmt.Fprintf(&b, "files:     %d indexed\n", a.index.Len())
	fmt.Fprintf(&b, "history:   %d turns", len(a.conv.Recent(a.cfg.Conversation.MaxTurns)))
	return b.String()
}

func (a *App) renderProviders() string {
	statuses := a.providers.Status()
	if len(statuses) == 0 {
		return "no providers configured"
	}
	var b strings.Builder
	for i, s := range statuses {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-12s %s", s.Name, s.Health.Status)
		if s.Health.LastError != "" {
			fmt.Fprintf(&b, " (%s)", truncateLine(s.Health.LastError, 60))
		}
	}
	return b.String()
}

func (a *App) renderTools() string {
	schemas := a.registry.List()
	if len(schemas) == 0 {
		return "no tools registered"
	}
	var b strings.Builder
	for i, s := range schemas {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-12s %s", s.Name, firstSentence(s.Description))
		if s.Dangerous {
			b.WriteString(" [dangerous]")
		}
	}
	return b.String()
}

// renderConfig summarizes the effective settings. Secrets never
// appear here; provider entries reduce to whether a key is set.
func (a *App) renderConfig() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workspace:        %s\n", a.root)
	fmt.Fprintf(&b, "default provider: %s\n", valueOr(a.cfg.Providers.Default, "(auto)"))
	fmt.Fprintf(&b, "enabled:          %s\n", valueOr(strings.Join(a.cfg.Providers.EnabledProviders(), ", "), "(none)"))
	fmt.Fprintf(&b, "max fallbacks:    %d\n", a.cfg.Router.MaxFallbacks)
	fmt.Fprintf(&b, "tool approval:    %t\n", a.cfg.Tools.ApprovalEnabled())
	fmt.Fprintf(&b, "shell tool:       %t\n", a.cfg.Tools.ShellEnabled())
	fmt.Fprintf(&b, "backups:          %s\n", a.workspacePath(a.cfg.Safety.BackupDir))
	fmt.Fprintf(&b, "history:          %s", valueOr(a.workspacePath(a.cfg.Conversation.PersistPath), "(memory only)"))
	return b.String()
}

func (a *App) renderHistory() string {
	turns := a.conv.Recent(historyTurns)
	if len(turns) == 0 {
		return "no history yet"
	}
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%-7s] %s", turn.Outcome, truncateLine(turn.UserInput, 60))
		if turn.Response != "" {
			fmt.Fprintf(&b, "\n          %s", truncateLine(turn.Response, 70))
		}
	}
	return b.String()
}

// TaskPlanReport summarizes a plan run.
type TaskPlanReport struct {
	PlanID    string
	Goal      string
	StepsRun  int
	Completed bool
	Usage     models.Usage
}

// ExecuteTaskPlan runs a stored plan step by step, streaming each
// step's output through the terminal. Execution stops at the first
// failed step; the turn outcome records how far it got.
func (a *App) ExecuteTaskPlan(ctx context.Context, planID string) (*TaskPlanReport, error) {
	plan, ok := a.plans.get(planID)
	if !ok {
		return nil, userErr(CategoryValidation,
			fmt.Sprintf("unknown plan %s", planID), "route the request again")
	}

	report := &TaskPlanReport{PlanID: plan.ID, Goal: plan.Goal}
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		a.term.Print(fmt.Sprintf("step %d/%d: %s", i+1, total, step.Description))
		res, err := a.runPlanStep(ctx, plan, i)
		if err != nil {
			outcome := models.OutcomeFailure
			if report.StepsRun > 0 {
				outcome = models.OutcomePartial
			}
			a.finishTurn(outcome, fmt.Sprintf("stopped at step %d/%d", i+1, total))
			return report, fmt.Errorf("step %d of %d: %w", i+1, total, err)
		}
		report.StepsRun++
		report.Usage = addUsage(report.Usage, res.Usage)
		a.term.Print("")
	}

	report.Completed = true
	a.finishTurn(models.OutcomeSuccess, fmt.Sprintf("completed %d steps", report.StepsRun))
	return report, nil
}

func (a *App) runPlanStep(ctx context.Context, plan *models.TaskPlan, idx int) (*orchestrator.TurnResult, error) {
	step := plan.Steps[idx]
	system := fmt.Sprintf(
		"You are a coding assistant working in %s. The goal: %s. You are on step %d of %d; complete only this step.",
		a.root, plan.Goal, idx+1, len(plan.Steps))

	ctx, cancel := a.turnContext(ctx)
	defer cancel()
	return a.orch.RunTurn(ctx, orchestrator.TurnRequest{
		Messages:  []models.Message{models.UserMessage(step.Description)},
		Options:   models.CompletionOptions{System: system},
		Preferred: a.preferredProviders(),
		OnDelta:   a.term.Stream,
	})
}

// ExecuteFileOperation runs a stored file operation through the safety
// pipeline. Content for creates and edits is drafted through the
// provider router first so the previews show the real change.
func (a *App) ExecuteFileOperation(ctx context.Context, opID string) (*safety.Result, error) {
	op, ok := a.fileOps.get(opID)
	if !ok {
		return nil, userErr(CategoryValidation,
			fmt.Sprintf("unknown file operation %s", opID), "route the request again")
	}
	if len(op.AmbiguousTargets) > 0 {
		return nil, userErr(CategoryValidation,
			"ambiguous targets: "+strings.Join(op.AmbiguousTargets, ", "),
			"name the exact file to change")
	}

	proposed, err := a.proposeContent(ctx, op)
	if err != nil {
		a.finishTurn(models.OutcomeFailure, "")
		return nil, err
	}
	res, err := a.pipeline.Execute(ctx, *op, proposed, a.applyFunc(op, proposed))
	if err != nil {
		a.finishTurn(models.OutcomeFailure, "")
		return nil, err
	}
	a.finishTurn(models.OutcomeSuccess, a.fileOpSummary(op, res))
	return res, nil
}

// proposeContent drafts the new file bodies for operations that write
// content. Move, copy, and delete return nil; their previews come from
// the on-disk state alone.
func (a *App) proposeContent(ctx context.Context, op *models.FileOperationIntent) (map[string]string, error) {
	switch op.Operation {
	case models.FileOpCreate, models.FileOpEdit, models.FileOpRefactor, models.FileOpTest:
	default:
		return nil, nil
	}

	instruction := strings.TrimSpace(op.ContentSpec)
	if instruction == "" {
		instruction = strings.TrimSpace(a.lastInput())
	}

	proposed := make(map[string]string, len(op.Targets))
	for _, target := range op.Targets {
		var current string
		if target.Exists {
			data, err := os.ReadFile(target.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}
			current = string(data)
		}
		if instruction == "" {
			if target.Exists {
				return nil, userErr(CategoryValidation,
					"no change description for "+a.display(target.Path),
					"describe the edit to apply")
			}
			// A bare create with no described content is an empty file.
			proposed[target.Path] = ""
			continue
		}
		content, err := a.draftContent(ctx, op.Operation, target.Path, instruction, current)
		if err != nil {
			return nil, err
		}
		proposed[target.Path] = content
	}
	return proposed, nil
}

// draftContent asks the provider router for the complete new file
// body. The reply is used verbatim after fence stripping, so the
// prompt pins the model to content-only output.
func (a *App) draftContent(ctx context.Context, op models.FileOperation, path, instruction, current string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", a.display(path))
	fmt.Fprintf(&b, "Operation: %s\n", op)
	fmt.Fprintf(&b, "Request: %s\n", instruction)
	if current != "" {
		fmt.Fprintf(&b, "Current content:\n%s", current)
	}

	ctx, cancel := a.turnContext(ctx)
	defer cancel()
	resp, err := a.providers.Complete(ctx, router.RouteRequest{
		Request: providers.Request{
			Messages: []models.Message{models.UserMessage(b.String())},
			Options: models.CompletionOptions{
				System: "You write file content. Reply with the complete new content " +
					"of the file and nothing else: no explanations, no markdown fences.",
				MaxTokens: draftMaxTokens,
			},
		},
		Preferred: a.preferredProviders(),
	})
	if err != nil {
		return "", fmt.Errorf("draft %s: %w", a.display(path), err)
	}
	return stripFences(resp.Content), nil
}

// applyFunc builds the mutation the safety pipeline runs after
// approval and backups.
func (a *App) applyFunc(op *models.FileOperationIntent, proposed map[string]string) func(context.Context) error {
	return func(context.Context) error {
		switch op.Operation {
		case models.FileOpCreate, models.FileOpEdit, models.FileOpRefactor, models.FileOpTest:
			for _, target := range op.Targets {
				if err := writeFile(target.Path, proposed[target.Path]); err != nil {
					return err
				}
			}
			return nil
		case models.FileOpDelete:
			for _, target := range op.Targets {
				if err := os.Remove(target.Path); err != nil {
					return fmt.Errorf("delete %s: %w", target.Path, err)
				}
			}
			return nil
		case models.FileOpMove:
			return transferTargets(op, os.Rename)
		case models.FileOpCopy:
			return transferTargets(op, copyFile)
		default:
			return fmt.Errorf("unsupported operation %q", op.Operation)
		}
	}
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// transferTargets moves or copies each target to the destination. One
// target lands on the destination path itself; several land under it
// as a directory.
func transferTargets(op *models.FileOperationIntent, transfer func(src, dst string) error) error {
	if op.Destination == "" {
		return errors.New("operation has no destination")
	}
	for _, target := range op.Targets {
		dst := op.Destination
		if len(op.Targets) > 1 {
			dst = filepath.Join(op.Destination, filepath.Base(target.Path))
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("%s %s: %w", op.Operation, target.Path, err)
		}
		if err := transfer(target.Path, dst); err != nil {
			return fmt.Errorf("%s %s: %w", op.Operation, target.Path, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

func (a *App) fileOpSummary(op *models.FileOperationIntent, res *safety.Result) string {
	paths := make([]string, 0, len(op.Targets))
	for _, t := range op.Targets {
		paths = append(paths, a.display(t.Path))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s risk]", op.Operation, strings.Join(paths, ", "), res.Assessment.Tier)
	if op.Destination != "" {
		fmt.Fprintf(&b, " -> %s", a.display(op.Destination))
	}
	if n := len(res.Backups); n > 0 {
		fmt.Fprintf(&b, ", %d backed up", n)
	}
	if res.RolledBack != nil {
		b.WriteString(", rolled back after failure")
	}
	return b.String()
}

// ExecuteConversation streams a conversational answer through the
// orchestrator, letting the model call tools along the way.
func (a *App) ExecuteConversation(ctx context.Context, p *models.ConversationPrompt) (string, error) {
	if p == nil || strings.TrimSpace(p.Prompt) == "" {
		return "", userErr(CategoryValidation, "empty prompt", "type a request")
	}

	ctx, cancel := a.turnContext(ctx)
	defer cancel()
	res, err := a.orch.RunTurn(ctx, orchestrator.TurnRequest{
		Messages:  []models.Message{models.UserMessage(p.Prompt)},
		Options:   models.CompletionOptions{System: p.System},
		Preferred: a.preferredProviders(),
		OnDelta:   a.term.Stream,
	})
	if err != nil {
		a.finishTurn(models.OutcomeFailure, "")
		return "", err
	}
	a.term.Print("")
	a.finishTurn(models.OutcomeSuccess, res.Content)
	return res.Content, nil
}

func (a *App) printClarification(c *models.ClarificationRequest) {
	if c == nil {
		return
	}
	if c.Context != "" {
		a.term.Print(c.Context)
	}
	for _, q := range c.Questions {
		a.term.Print(q)
	}
	if len(c.Options) > 0 {
		a.term.Print("options: " + strings.Join(c.Options, ", "))
	}
}

// turnContext applies the configured per-turn budget when one is set.
func (a *App) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if budget := a.cfg.Orchestrator.TurnBudget; budget > 0 {
		return context.WithTimeout(ctx, budget)
	}
	return ctx, func() {}
}

func (a *App) preferredProviders() []string {
	if def := a.cfg.Providers.Default; def != "" {
		return []string{def}
	}
	return nil
}

// lastInput returns the newest recorded user line, which in a live
// session is the one that produced the decision being executed.
func (a *App) lastInput() string {
	if turns := a.conv.Recent(1); len(turns) == 1 {
		return turns[0].UserInput
	}
	return ""
}

// display renders a path relative to the workspace when it is inside.
func (a *App) display(path string) string {
	if rel, err := filepath.Rel(a.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// stripFences removes a wrapping markdown code fence when the model
// adds one despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return s
	}
	body := strings.Join(lines[1:len(lines)-1], "\n")
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}

func addUsage(total, u models.Usage) models.Usage {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	return total
}

func truncateLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return truncateLine(s, 80)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
