package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/pkg/models"
)

const refineSystemPrompt = `You classify one request made to a coding assistant.
Respond with ONLY a JSON object, no extra text, in this shape:
{"type":"question|task_request|command|clarification_response","action":"<canonical verb or empty>","entities":{"files":[],"technologies":[],"functions":[],"classes":[],"concepts":[]},"complexity":"simple|moderate|complex","multi_step":false,"risk_level":"low|medium|high","estimated_duration_seconds":60,"confidence":0.8,"requires_clarification":false,"suggested_clarifications":[]}
A draft classification is provided; correct it where the request says otherwise.`

const historyWindow = 5

func (a *Analyzer) refine(ctx context.Context, text string, actx AnalysisContext, heuristic models.UserIntent) (models.UserIntent, error) {
	refineCtx, cancel := context.WithTimeout(ctx, a.refineTimeout)
	defer cancel()

	temperature := 0.0
	req := router.RouteRequest{
		Request: providers.Request{
			Messages: []models.Message{
				models.SystemMessage(refineSystemPrompt),
				models.UserMessage(refinePrompt(text, actx, heuristic)),
			},
			Options: models.CompletionOptions{
				Temperature: &temperature,
				MaxTokens:   512,
			},
		},
		LatencySensitive: true,
		CostSensitive:    true,
	}

	resp, err := a.completer.Complete(refineCtx, req)
	if err != nil {
		return models.UserIntent{}, err
	}
	refined, err := parseIntentJSON(resp.Content)
	if err != nil {
		return models.UserIntent{}, err
	}
	return mergeIntent(heuristic, refined), nil
}

func refinePrompt(text string, actx AnalysisContext, heuristic models.UserIntent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", text)
	if actx.Project.Root != "" {
		fmt.Fprintf(&b, "Project: root=%s languages=%s files=%d\n",
			actx.Project.Root, strings.Join(actx.Project.Languages, ","), actx.Project.FileCount)
	}
	if len(actx.RecentFiles) > 0 {
		fmt.Fprintf(&b, "Recent files: %s\n", strings.Join(actx.RecentFiles, ", "))
	}

	history := actx.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Recent turns:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "- %s\n", clip(turn.UserInput, 120))
		}
	}

	if draft, err := json.Marshal(heuristic); err == nil {
		fmt.Fprintf(&b, "Draft classification: %s\n", draft)
	}
	return b.String()
}

func parseIntentJSON(content string) (models.UserIntent, error) {
	var intent models.UserIntent
	if err := json.Unmarshal([]byte(extractJSON(content)), &intent); err != nil {
		return models.UserIntent{}, fmt.Errorf("parse refined intent: %w", err)
	}
	return intent, nil
}

// extractJSON finds the first JSON object in model output, tolerating
// markdown code fences around it.
func extractJSON(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// mergeIntent folds a refined reading over the heuristic draft. Fields
// the model left empty or invalid keep their heuristic values; risk
// only ever moves up; entities are unioned.
func mergeIntent(heuristic, refined models.UserIntent) models.UserIntent {
	out := heuristic

	switch refined.Type {
	case models.IntentQuestion, models.IntentTaskRequest, models.IntentCommand, models.IntentClarificationResponse:
		out.Type = refined.Type
	}
	if refined.Action != "" {
		out.Action = strings.ToLower(refined.Action)
	}
	out.Entities = mergeEntities(heuristic.Entities, refined.Entities)

	switch refined.Complexity {
	case models.ComplexitySimple, models.ComplexityModerate, models.ComplexityComplex:
		out.Complexity = refined.Complexity
	}
	out.MultiStep = heuristic.MultiStep || refined.MultiStep
	if riskRank(refined.RiskLevel) > riskRank(out.RiskLevel) {
		out.RiskLevel = refined.RiskLevel
	}
	if refined.EstimatedDurationSeconds > 0 {
		out.EstimatedDurationSeconds = refined.EstimatedDurationSeconds
	}
	if refined.Confidence > 0 && refined.Confidence <= 1 {
		out.Confidence = refined.Confidence
	}
	out.RequiresClarification = refined.RequiresClarification
	if len(refined.SuggestedClarifications) > 0 {
		out.SuggestedClarifications = refined.SuggestedClarifications
	} else if !refined.RequiresClarification {
		out.SuggestedClarifications = nil
	}
	return out
}

func mergeEntities(a, b models.Entities) models.Entities {
	merged := models.Entities{
		Files:        a.Files,
		Technologies: a.Technologies,
		Functions:    a.Functions,
		Classes:      a.Classes,
		Concepts:     a.Concepts,
	}
	for _, f := range b.Files {
		merged.Files = appendUnique(merged.Files, f)
	}
	for _, t := range b.Technologies {
		merged.Technologies = appendUnique(merged.Technologies, strings.ToLower(t))
	}
	for _, f := range b.Functions {
		merged.Functions = appendUnique(merged.Functions, f)
	}
	for _, c := range b.Classes {
		merged.Classes = appendUnique(merged.Classes, c)
	}
	for _, c := range b.Concepts {
		merged.Concepts = appendUnique(merged.Concepts, strings.ToLower(c))
	}
	return merged
}

func riskRank(level models.RiskLevel) int {
	switch level {
	case models.RiskHigh:
		return 3
	case models.RiskMedium:
		return 2
	case models.RiskLow:
		return 1
	default:
		return 0
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
