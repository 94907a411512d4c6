package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/forge/pkg/models"
)

// runRound processes one round's declared calls and returns results in
// declared order. Calls past the remaining turn budget get synthesized
// budget errors rather than being dropped, so every declared call still
// has a matching tool message.
func (o *Orchestrator) runRound(ctx context.Context, calls []models.ToolCall, remaining *int) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	n := len(calls)
	if n > *remaining {
		n = *remaining
	}
	for i := n; i < len(calls); i++ {
		results[i] = o.blocked(ctx, calls[i], budgetExhausted)
	}
	*remaining -= n

	allowed := calls[:n]
	if o.parallelizable(allowed) {
		o.runParallel(ctx, allowed, results[:n])
		return results
	}
	for i, call := range allowed {
		results[i] = o.runCall(ctx, call)
	}
	return results
}

// parallelizable reports whether every call in the round resolves to a
// registered side-effect-free tool. An unknown or effectful call
// anywhere in the round forces sequential execution.
func (o *Orchestrator) parallelizable(calls []models.ToolCall) bool {
	if !o.cfg.Parallel || len(calls) < 2 {
		return false
	}
	for _, call := range calls {
		tool, ok := o.registry.Get(call.Name)
		if !ok {
			return false
		}
		schema := tool.Schema()
		if !schema.SideEffectFree || schema.Dangerous {
			return false
		}
	}
	return true
}

func (o *Orchestrator) runParallel(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) {
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.runCall(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
}

// runCall takes one declared call through the gate and the executor.
// A call ID already answered this turn reuses the cached result
// without re-executing.
func (o *Orchestrator) runCall(ctx context.Context, call models.ToolCall) models.ToolResult {
	if cached, ok := o.results.Get(call.ID); ok {
		o.logger.Debug(ctx, "tool result deduplicated", "tool", call.Name, "call_id", call.ID)
		return cached
	}
	if result, stop := o.gate(ctx, call); stop {
		return result
	}

	o.audit.ToolInvocation(ctx, call)
	result := o.executeCall(ctx, call)
	o.results.Insert(call.ID, result)
	if o.metrics != nil {
		o.metrics.SetResultsCacheSize(o.results.Len())
	}
	o.audit.ToolCompletion(ctx, call.Name, result)
	return result
}

// gate applies pre-execution policy. Unknown tools short-circuit, a
// cached denial blocks the call whether or not the tool is dangerous,
// and dangerous tools additionally pass argument validation and the
// prompt rules before execution; invalid arguments never reach a
// prompt.
func (o *Orchestrator) gate(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	tool, ok := o.registry.Get(call.Name)
	if !ok {
		return o.blocked(ctx, call, fmt.Sprintf("unknown_tool: %s", call.Name)), true
	}
	schema := tool.Schema()
	if schema.Dangerous {
		if err := o.registry.Validate(call.Name, call.Arguments); err != nil {
			return o.blocked(ctx, call, fmt.Sprintf("invalid_arguments: %v", err)), true
		}
	}

	approved := o.approvals.IsApproved(schema.Name, schema.Category)
	switch {
	case approved != nil && !*approved:
		return o.blocked(ctx, call, "denied"), true
	case approved != nil || !schema.Dangerous:
		return models.ToolResult{}, false
	case o.cfg.SkipUnapproved || o.cfg.Prompt == nil:
		return o.blocked(ctx, call, "unapproved"), true
	default:
		if !o.promptApproval(ctx, schema, call) {
			return o.blocked(ctx, call, "denied"), true
		}
	}
	return models.ToolResult{}, false
}

// promptApproval blocks on the user. A prompt error, including
// cancellation, resolves to denied without caching: the user never
// answered. Explicit answers are cached for the rest of the session.
func (o *Orchestrator) promptApproval(ctx context.Context, schema models.ToolSchema, call models.ToolCall) bool {
	approved, err := o.cfg.Prompt(ctx, schema, call)
	if err != nil {
		o.logger.Warn(ctx, "approval prompt aborted", "tool", schema.Name, "error", err)
		return false
	}
	o.approvals.SetApproval(schema.Name, schema.Category, approved)
	o.audit.ApprovalDecision(ctx, models.ApprovalDecision{
		ToolName: schema.Name,
		Category: schema.Category,
		Approved: approved,
		Scope:    models.ApprovalScopeTool,
	})
	return approved
}

// executeCall runs one call under the per-tool timeout, catching
// panics and distinguishing a timed-out tool from caller cancellation.
func (o *Orchestrator) executeCall(ctx context.Context, call models.ToolCall) models.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
	defer cancel()

	started := time.Now()
	resultCh := make(chan models.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error(ctx, "tool panicked",
					"tool", call.Name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()))
				resultCh <- models.ToolResult{
					CallID: call.ID,
					OK:     false,
					Error:  fmt.Sprintf("internal: tool panicked: %v", r),
				}
			}
		}()
		resultCh <- o.registry.Execute(execCtx, call)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-execCtx.Done():
		elapsed := time.Since(started).Milliseconds()
		if ctx.Err() != nil {
			return models.ToolResult{
				CallID:     call.ID,
				OK:         false,
				Error:      "canceled",
				DurationMS: elapsed,
			}
		}
		return models.ToolResult{
			CallID:     call.ID,
			OK:         false,
			Error:      fmt.Sprintf("timeout: execution exceeded %s", o.cfg.ToolTimeout),
			DurationMS: elapsed,
		}
	}
}

// blocked synthesizes a failed result for a call that never executed
// and records it on the audit trail.
func (o *Orchestrator) blocked(ctx context.Context, call models.ToolCall, reason string) models.ToolResult {
	kind := reason
	if i := strings.IndexByte(kind, ':'); i >= 0 {
		kind = kind[:i]
	}
	o.audit.ToolDenied(ctx, call.Name, call.ID, kind)
	o.logger.Debug(ctx, "tool call blocked", "tool", call.Name, "reason", kind)
	return models.ToolResult{CallID: call.ID, OK: false, Error: reason}
}
