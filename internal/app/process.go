package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/haasonsaas/forge/internal/route"
	"github.com/haasonsaas/forge/pkg/models"
)

// Session context fed to the router with every line.
const (
	historyTurns    = 10
	recentFileLimit = 10
)

// ProcessLine classifies one line of user input into a routing
// decision. It decides only; the host runs the decision through the
// matching executor. When the previous decision asked for
// clarification, the line is treated as the answer.
func (a *App) ProcessLine(ctx context.Context, text string) (*models.RoutingDecision, error) {
	if !a.isStarted() {
		return nil, errors.New("app is not started")
	}
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, userErr(CategoryValidation, "empty input", "type a request, or /help for commands")
	}

	req := a.routeRequest(input)
	var (
		d   *models.RoutingDecision
		err error
	)
	if pending := a.takePending(); pending != nil {
		d, err = a.router.HandleClarification(ctx, pending, input, req)
	} else {
		d, err = a.router.Route(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	a.remember(input, d)
	return d, nil
}

func (a *App) routeRequest(input string) route.Request {
	a.mu.Lock()
	last := a.lastIntent
	a.mu.Unlock()
	return route.Request{
		Input:       input,
		History:     a.conv.Recent(historyTurns),
		Project:     a.index.Project(),
		RecentFiles: a.index.Recent(recentFileLimit),
		LastIntent:  last,
		Preferences: route.Preferences{
			AlwaysConfirm: a.cfg.Safety.RequireExplicitApproval,
		},
	}
}

// remember records the turn and stashes executable decisions so their
// executors can find them by ID.
func (a *App) remember(input string, d *models.RoutingDecision) {
	ui := synthesizeIntent(d)
	var actions []string
	if d.Action != "" {
		actions = []string{d.Action}
	}
	turn := a.conv.AddTurn(models.ConversationTurn{
		UserInput: input,
		Intent:    ui,
		Actions:   actions,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTurnID = turn.ID
	a.lastIntent = ui
	a.pending = nil
	switch d.Type {
	case models.DecisionClarification:
		a.pending = d
	case models.DecisionTaskPlan:
		if d.TaskPlan != nil {
			a.plans.put(d.TaskPlan.ID, d.TaskPlan)
		}
	case models.DecisionFileOperation:
		if d.FileOperation != nil {
			a.fileOps.put(d.FileOperation.ID, d.FileOperation)
		}
	}
}

func (a *App) takePending() *models.RoutingDecision {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.pending
	a.pending = nil
	return d
}

// finishTurn records how the last routed turn ended.
func (a *App) finishTurn(outcome models.TurnOutcome, response string) {
	a.mu.Lock()
	id := a.lastTurnID
	a.mu.Unlock()
	if id == "" {
		return
	}
	if response != "" {
		if err := a.conv.RecordResponse(id, response); err != nil {
			a.logger.Debug(context.Background(), "turn response not recorded", "error", err)
		}
	}
	if err := a.conv.UpdateOutcome(id, outcome); err != nil {
		a.logger.Debug(context.Background(), "turn outcome not recorded", "error", err)
	}
}

// synthesizeIntent derives the session's notion of "what the user just
// asked for" from the decision, feeding followup resolution on the
// next line.
func synthesizeIntent(d *models.RoutingDecision) *models.UserIntent {
	ui := &models.UserIntent{Action: d.Action, RiskLevel: d.Risk, Confidence: 0.5}
	switch d.Type {
	case models.DecisionCommand:
		ui.Type = models.IntentCommand
		if d.Command != nil {
			ui.Confidence = d.Command.Confidence
		}
	case models.DecisionTaskPlan:
		ui.Type = models.IntentTaskRequest
		ui.MultiStep = true
		ui.Complexity = models.ComplexityComplex
	case models.DecisionFileOperation:
		ui.Type = models.IntentTaskRequest
		ui.Complexity = models.ComplexityModerate
		if d.FileOperation != nil {
			for _, t := range d.FileOperation.Targets {
				ui.Entities.Files = append(ui.Entities.Files, t.Path)
			}
		}
	case models.DecisionClarification:
		ui.Type = models.IntentQuestion
		ui.RequiresClarification = true
	default:
		ui.Type = models.IntentQuestion
		ui.Complexity = models.ComplexitySimple
	}
	return ui
}

// decisionCache keeps the most recently routed decisions of one kind
// so executors can look them up by ID. The oldest entries fall off
// once the backlog is full.
type decisionCache[T any] struct {
	max   int
	mu    sync.Mutex
	order []string
	items map[string]T
}

func newDecisionCache[T any](max int) *decisionCache[T] {
	return &decisionCache[T]{max: max, items: make(map[string]T, max)}
}

func (c *decisionCache[T]) put(id string, v T) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
		for len(c.order) > c.max {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.items[id] = v
}

func (c *decisionCache[T]) get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[id]
	return v, ok
}
