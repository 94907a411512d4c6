package intent

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/haasonsaas/forge/pkg/models"
)

// verbClasses maps a canonical action to the surface verbs that imply
// it. Every surface verb appears in exactly one class.
var verbClasses = map[string][]string{
	"create":   {"create", "add", "new", "make", "generate", "scaffold", "write"},
	"edit":     {"edit", "change", "update", "modify", "fix", "adjust", "improve", "implement", "patch"},
	"delete":   {"delete", "remove", "drop", "clean", "clear", "purge", "wipe", "uninstall"},
	"move":     {"move", "rename", "relocate"},
	"copy":     {"copy", "duplicate", "clone"},
	"refactor": {"refactor", "restructure", "rewrite", "migrate", "redesign", "simplify", "extract"},
	"test":     {"test", "verify", "check", "validate", "cover"},
	"run":      {"run", "execute", "start", "launch", "build", "deploy", "install"},
	"explain":  {"explain", "describe", "show", "summarize", "document"},
	"search":   {"find", "search", "locate", "grep", "look"},
}

var verbIndex = func() map[string]string {
	idx := make(map[string]string)
	for class, words := range verbClasses {
		for _, word := range words {
			idx[word] = class
		}
	}
	return idx
}()

var questionWords = map[string]bool{
	"what": true, "how": true, "why": true, "where": true, "when": true,
	"who": true, "which": true, "can": true, "could": true, "would": true,
	"should": true, "is": true, "are": true, "do": true, "does": true,
	"did": true,
}

var technologyTokens = map[string]string{
	"react": "react", "vue": "vue", "angular": "angular", "svelte": "svelte",
	"node": "node", "nodejs": "node", "express": "express",
	"django": "django", "flask": "flask", "rails": "rails",
	"go": "go", "golang": "go", "rust": "rust", "python": "python",
	"typescript": "typescript", "javascript": "javascript", "java": "java",
	"docker": "docker", "kubernetes": "kubernetes", "k8s": "kubernetes",
	"postgres": "postgres", "postgresql": "postgres", "mysql": "mysql",
	"sqlite": "sqlite", "redis": "redis", "kafka": "kafka",
	"graphql": "graphql", "grpc": "grpc", "tailwind": "tailwind",
	"css": "css", "html": "html",
}

var conceptTokens = map[string]bool{
	"auth": true, "authentication": true, "authorization": true,
	"login": true, "logging": true, "database": true, "cache": true,
	"caching": true, "config": true, "configuration": true,
	"deployment": true, "migration": true, "performance": true,
	"security": true, "validation": true, "testing": true, "api": true,
	"endpoint": true, "schema": true, "documentation": true, "docs": true,
	"dependencies": true, "styling": true,
}

var fileExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".rb": true, ".java": true, ".c": true,
	".h": true, ".cpp": true, ".css": true, ".html": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".md": true, ".txt": true,
	".sql": true, ".sh": true, ".env": true, ".lock": true, ".mod": true,
	".sum": true,
}

var specialFilenames = map[string]bool{
	"dockerfile": true, "makefile": true, "justfile": true,
}

var sequenceMarkers = []string{
	" then ", " after that", " followed by", " next,", " finally ",
	" and also ", " step ",
}

var vaguePronouns = map[string]bool{"it": true, "this": true, "that": true, "them": true}

func analyzeHeuristic(text string, actx AnalysisContext) models.UserIntent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	rawTokens := tokenize(trimmed)
	tokens := make([]string, len(rawTokens))
	for i, token := range rawTokens {
		tokens[i] = strings.ToLower(token)
	}

	action, classes := matchVerbs(tokens)
	entities := extractEntities(rawTokens, tokens)
	isQuestion := questionShaped(tokens, trimmed)

	multiStep := len(classes) >= 2
	for _, marker := range sequenceMarkers {
		if strings.Contains(" "+lower+" ", marker) {
			multiStep = true
			break
		}
	}

	complexity := estimateComplexity(len(tokens), classes, multiStep)
	risk := estimateRisk(action, entities, lower)

	intent := models.UserIntent{
		Type:                     classifyType(trimmed, tokens, action, isQuestion, actx),
		Action:                   action,
		Entities:                 entities,
		Complexity:               complexity,
		MultiStep:                multiStep,
		RiskLevel:                risk,
		EstimatedDurationSeconds: estimateDuration(complexity, multiStep),
	}

	confidence := 0.5
	if action != "" {
		confidence += 0.2
	}
	if len(entities.Files) > 0 {
		confidence += 0.1
	}
	if isQuestion {
		confidence += 0.2
	}
	if confidence > 0.9 {
		confidence = 0.9
	}
	intent.Confidence = confidence

	applyClarification(&intent, tokens, isQuestion, actx)
	return intent
}

func classifyType(trimmed string, tokens []string, action string, isQuestion bool, actx AnalysisContext) models.IntentType {
	if actx.LastIntent != nil && actx.LastIntent.RequiresClarification {
		return models.IntentClarificationResponse
	}
	if strings.HasPrefix(trimmed, "/") {
		return models.IntentCommand
	}
	if isQuestion {
		return models.IntentQuestion
	}
	if action == "run" && len(tokens) <= 3 {
		return models.IntentCommand
	}
	if action != "" {
		return models.IntentTaskRequest
	}
	return models.IntentQuestion
}

func matchVerbs(tokens []string) (string, []string) {
	var action string
	var classes []string
	seen := map[string]bool{}
	for _, token := range tokens {
		class, ok := verbIndex[token]
		if !ok || seen[class] {
			continue
		}
		seen[class] = true
		classes = append(classes, class)
		if action == "" {
			action = class
		}
	}
	return action, classes
}

func questionShaped(tokens []string, trimmed string) bool {
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	return len(tokens) > 0 && questionWords[tokens[0]]
}

func extractEntities(rawTokens, tokens []string) models.Entities {
	var entities models.Entities
	for i, token := range tokens {
		raw := rawTokens[i]
		switch {
		case isFileToken(raw):
			entities.Files = appendUnique(entities.Files, raw)
		case strings.HasSuffix(raw, "()") && len(raw) > 2:
			entities.Functions = appendUnique(entities.Functions, strings.TrimSuffix(raw, "()"))
		case technologyTokens[token] != "":
			entities.Technologies = appendUnique(entities.Technologies, technologyTokens[token])
		case conceptTokens[token]:
			entities.Concepts = appendUnique(entities.Concepts, token)
		}

		// "func parse", "class UserStore", "type Config"
		if i+1 < len(rawTokens) {
			next := rawTokens[i+1]
			switch token {
			case "func", "function", "method":
				entities.Functions = appendUnique(entities.Functions, strings.TrimSuffix(next, "()"))
			case "class", "struct", "interface", "type":
				if startsUpper(next) {
					entities.Classes = appendUnique(entities.Classes, next)
				}
			}
		}
	}
	return entities
}

func isFileToken(token string) bool {
	if token == "" || strings.Contains(token, "://") {
		return false
	}
	if strings.ContainsRune(token, '/') {
		return true
	}
	lower := strings.ToLower(token)
	if specialFilenames[lower] {
		return true
	}
	if ext := filepath.Ext(lower); ext != "" && fileExtensions[ext] {
		return true
	}
	// dotfiles such as .gitignore
	return strings.HasPrefix(token, ".") && len(token) > 1 && !strings.Contains(token[1:], ".")
}

func estimateComplexity(words int, classes []string, multiStep bool) models.Complexity {
	refactorish := false
	for _, class := range classes {
		if class == "refactor" {
			refactorish = true
		}
	}
	switch {
	case multiStep || words > 25 || refactorish:
		return models.ComplexityComplex
	case words > 12 || len(classes) > 1:
		return models.ComplexityModerate
	default:
		return models.ComplexitySimple
	}
}

func estimateRisk(action string, entities models.Entities, lower string) models.RiskLevel {
	if action == "delete" || strings.Contains(lower, "production") || strings.Contains(lower, "--force") {
		return models.RiskHigh
	}
	for _, file := range entities.Files {
		name := strings.ToLower(filepath.Base(file))
		if strings.HasPrefix(name, ".env") || strings.Contains(name, "secret") {
			return models.RiskHigh
		}
	}
	switch action {
	case "move", "refactor":
		return models.RiskMedium
	}
	if strings.Contains(lower, "deploy") || strings.Contains(lower, "migrat") {
		return models.RiskMedium
	}
	return models.RiskLow
}

func estimateDuration(complexity models.Complexity, multiStep bool) int {
	seconds := 30
	switch complexity {
	case models.ComplexityModerate:
		seconds = 180
	case models.ComplexityComplex:
		seconds = 600
	}
	if multiStep {
		seconds *= 2
	}
	return seconds
}

// applyClarification flags inputs too vague to act on: either nothing
// actionable at all, or an action aimed at a bare pronoun with no
// referent anywhere in the context.
func applyClarification(intent *models.UserIntent, tokens []string, isQuestion bool, actx AnalysisContext) {
	if isQuestion || intent.Type == models.IntentCommand || intent.Type == models.IntentClarificationResponse {
		return
	}
	hasTargets := len(intent.Entities.Files) > 0 || len(intent.Entities.Technologies) > 0 ||
		len(intent.Entities.Functions) > 0 || len(intent.Entities.Classes) > 0 ||
		len(intent.Entities.Concepts) > 0

	if intent.Action == "" && !hasTargets && len(tokens) <= 4 {
		intent.RequiresClarification = true
		intent.SuggestedClarifications = []string{"What would you like me to do?"}
		if intent.Confidence > 0.35 {
			intent.Confidence = 0.35
		}
		return
	}

	if intent.Action == "" || hasTargets || len(tokens) > 5 {
		return
	}
	referentKnown := actx.LastIntent != nil && len(actx.LastIntent.Entities.Files) > 0
	for _, token := range tokens {
		if vaguePronouns[token] && !referentKnown {
			intent.RequiresClarification = true
			intent.SuggestedClarifications = []string{
				fmt.Sprintf("Which file or component should I %s?", intent.Action),
			}
			if intent.Confidence > 0.35 {
				intent.Confidence = 0.35
			}
			return
		}
	}
}

func tokenize(input string) []string {
	fields := strings.Fields(input)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimLeft(field, "'\"`([{")
		field = strings.TrimRight(field, ",.!?;:'\"`]}")
		// keep call-shaped tokens like parse(); drop stray parens
		if !strings.HasSuffix(field, "()") {
			field = strings.TrimRight(field, ")")
		}
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, value) {
			return list
		}
	}
	return append(list, value)
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
