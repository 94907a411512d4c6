package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/safety"
	"github.com/haasonsaas/forge/pkg/models"
	"github.com/haasonsaas/forge/pkg/terminal"
)

// promptArgLimit caps how much of a tool call's arguments the approval
// prompt shows.
const promptArgLimit = 200

// terminalApprover answers safety approval requests by showing the
// assessment and previews on the host terminal and asking yes or no.
type terminalApprover struct {
	term terminal.Terminal
}

func (a terminalApprover) Approve(ctx context.Context, req safety.ApprovalRequest) (safety.ApprovalResponse, error) {
	a.term.Print(describeOperation(req.Operation, req.Assessment))
	for _, preview := range req.Previews {
		if preview.Diff == "" {
			continue
		}
		a.term.Print(preview.Diff)
		if preview.Truncated {
			a.term.Print("  (preview truncated)")
		}
	}

	prompt := fmt.Sprintf("apply this %s operation? [%s risk]", req.Operation.Operation, req.Assessment.Tier)
	if req.Role != safety.RoleUser {
		prompt = fmt.Sprintf("%s approval: %s", req.Role, prompt)
	}
	ok, err := a.term.Confirm(ctx, prompt)
	if err != nil {
		return safety.ApprovalResponse{}, err
	}
	resp := safety.ApprovalResponse{Approved: ok}
	if !ok {
		resp.Reason = "declined at prompt"
	}
	return resp, nil
}

func describeOperation(op models.FileOperationIntent, assessment models.RiskAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", op.Operation)
	for i, t := range op.Targets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Path)
	}
	if op.Destination != "" {
		fmt.Fprintf(&b, " -> %s", op.Destination)
	}
	for _, factor := range assessment.Factors {
		if factor.Detail != "" {
			fmt.Fprintf(&b, "\n  - %s", factor.Detail)
		}
	}
	return b.String()
}

// promptToolApproval is the orchestrator's gate for dangerous tools.
// It shows the call and blocks on the user's answer.
func (a *App) promptToolApproval(ctx context.Context, schema models.ToolSchema, call models.ToolCall) (bool, error) {
	args := renderArgs(call.Arguments)
	prompt := fmt.Sprintf("allow tool %s? %s", schema.Name, args)
	return a.term.Confirm(ctx, prompt)
}

func renderArgs(args map[string]json.RawMessage) string {
	if len(args) == 0 {
		return "(no arguments)"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "(unrenderable arguments)"
	}
	s := string(raw)
	if len(s) > promptArgLimit {
		s = s[:promptArgLimit] + "..."
	}
	return s
}
