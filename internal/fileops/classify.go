package fileops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	explicitConfidence = 1.0
	derivedConfidence  = 0.8
	recentConfidence   = 0.6

	// recentFallbackCount is how many recently active files stand in
	// when nothing else resolves.
	recentFallbackCount = 3

	// matchLimit caps how many index matches become targets.
	matchLimit = 20

	// largeFileBytes is the size above which an edit is cautious.
	largeFileBytes = 100_000
)

// actionOperations maps the analyzer's canonical actions to file
// operations. Actions absent here never classify as file operations.
var actionOperations = map[string]models.FileOperation{
	"create":   models.FileOpCreate,
	"edit":     models.FileOpEdit,
	"delete":   models.FileOpDelete,
	"move":     models.FileOpMove,
	"copy":     models.FileOpCopy,
	"refactor": models.FileOpRefactor,
	"test":     models.FileOpTest,
}

// nonMutatingActions read or run files. Mentioning a file under one of
// these is not a request to change it.
var nonMutatingActions = map[string]bool{
	"run": true, "explain": true, "search": true,
}

// technologyPatterns derives file glob patterns from technology
// entities. Patterns are matched against lowercased base names.
var technologyPatterns = map[string][]string{
	"react":      {"*.tsx", "*.jsx", "*component*"},
	"vue":        {"*.vue"},
	"angular":    {"*.component.ts", "*.module.ts"},
	"svelte":     {"*.svelte"},
	"node":       {"package.json", "*.mjs", "*.js"},
	"express":    {"*route*", "*server*"},
	"django":     {"*views.py", "*models.py", "*urls.py"},
	"flask":      {"*app.py", "*views.py"},
	"rails":      {"*controller*", "*.rb"},
	"go":         {"*.go"},
	"rust":       {"*.rs"},
	"python":     {"*.py"},
	"typescript": {"*.ts", "*.tsx"},
	"javascript": {"*.js", "*.jsx"},
	"java":       {"*.java"},
	"docker":     {"dockerfile*", "docker-compose*"},
	"kubernetes": {"*.yaml", "*.yml"},
	"postgres":   {"*.sql", "*migration*"},
	"mysql":      {"*.sql"},
	"sqlite":     {"*.sql"},
	"graphql":    {"*.graphql", "*.gql", "*schema*"},
	"tailwind":   {"tailwind.config.*", "*.css"},
	"css":        {"*.css", "*.scss"},
	"html":       {"*.html"},
}

// ClassifierConfig assembles a Classifier. A nil Index disables
// pattern matching against the project; explicit files and the recent
// fallback still work.
type ClassifierConfig struct {
	Index  *Index
	Logger *observability.Logger
}

// Classifier turns a UserIntent into a FileOperationIntent.
type Classifier struct {
	index  *Index
	logger *observability.Logger
	newID  func() string
}

// NewClassifier builds a Classifier.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Classifier{
		index:  cfg.Index,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Classify reads a file operation out of an intent, or returns nil
// when the intent does not ask for one. Only task requests and
// clarification responses classify; questions and commands never do.
func (c *Classifier) Classify(ctx context.Context, ui models.UserIntent, recent []string) *models.FileOperationIntent {
	if ui.Type != models.IntentTaskRequest && ui.Type != models.IntentClarificationResponse {
		return nil
	}
	op, ok := operationFor(ui)
	if !ok {
		return nil
	}

	targets, destination, ambiguous, suggestions := c.resolveTargets(op, ui, recent)
	if len(targets) == 0 {
		return nil
	}

	safety := operationSafety(op, targets)
	impact := operationImpact(op, len(targets))

	fileOp := &models.FileOperationIntent{
		ID:               c.newID(),
		Operation:        op,
		Targets:          targets,
		Destination:      destination,
		ContentSpec:      contentSpec(op, ui.Entities),
		Safety:           safety,
		Impact:           impact,
		RequiresApproval: requiresApproval(safety, impact),
		BackupRequired:   backupRequired(op, safety),
		AmbiguousTargets: ambiguous,
		Suggestions:      suggestions,
	}
	c.logger.Debug(ctx, "file operation classified",
		"operation", op,
		"targets", len(targets),
		"safety", safety,
		"impact", impact)
	return fileOp
}

// operationFor extracts the operation. A recognized verb wins; with no
// recognized verb, naming a file defaults to edit.
func operationFor(ui models.UserIntent) (models.FileOperation, bool) {
	if op, ok := actionOperations[ui.Action]; ok {
		return op, true
	}
	if nonMutatingActions[ui.Action] {
		return "", false
	}
	if len(ui.Entities.Files) > 0 {
		return models.FileOpEdit, true
	}
	return "", false
}

// resolveTargets finds the files the operation addresses, in priority
// order: explicit file entities, patterns derived from the remaining
// entities matched against the index, then recently active files.
func (c *Classifier) resolveTargets(op models.FileOperation, ui models.UserIntent, recent []string) (targets []models.FileTarget, destination string, ambiguous, suggestions []string) {
	files := ui.Entities.Files
	if len(files) > 0 {
		if (op == models.FileOpMove || op == models.FileOpCopy) && len(files) >= 2 {
			destination = c.resolvePath(files[len(files)-1])
			files = files[:len(files)-1]
		}
		for _, file := range files {
			targets = append(targets, c.statTarget(c.resolvePath(file), explicitConfidence, "named in request"))
		}
		return targets, destination, nil, nil
	}

	matches := c.patternMatches(ui.Entities)
	if len(matches) > 0 {
		for _, m := range matches {
			targets = append(targets, c.indexTarget(m.path, derivedConfidence, "matched "+m.pattern))
		}
		if len(matches) > 1 {
			for _, m := range matches {
				ambiguous = append(ambiguous, m.path)
				suggestions = append(suggestions, fmt.Sprintf("Did you mean %s?", c.display(m.path)))
			}
		}
		return targets, "", ambiguous, suggestions
	}

	// A create without a name has nothing to resolve; recently active
	// files would be the wrong thing to create.
	if op == models.FileOpCreate {
		return nil, "", nil, nil
	}

	pool := recent
	if len(pool) == 0 && c.index != nil {
		pool = c.index.Recent(recentFallbackCount)
	}
	for _, path := range pool {
		if len(targets) >= recentFallbackCount {
			break
		}
		if strings.TrimSpace(path) == "" {
			continue
		}
		targets = append(targets, c.statTarget(c.resolvePath(path), recentConfidence, "recently active"))
	}
	return targets, "", nil, nil
}

type patternMatch struct {
	path    string
	pattern string
}

func (c *Classifier) patternMatches(entities models.Entities) []patternMatch {
	if c.index == nil {
		return nil
	}
	patterns := derivePatterns(entities)
	if len(patterns) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var matches []patternMatch
	for _, pattern := range patterns {
		for _, path := range c.index.Match([]string{pattern}, matchLimit) {
			if seen[path] {
				continue
			}
			seen[path] = true
			matches = append(matches, patternMatch{path: path, pattern: pattern})
		}
		if len(matches) >= matchLimit {
			break
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].path < matches[j].path })
	if len(matches) > matchLimit {
		matches = matches[:matchLimit]
	}
	return matches
}

func derivePatterns(entities models.Entities) []string {
	seen := make(map[string]bool)
	var patterns []string
	add := func(pattern string) {
		if pattern == "" || seen[pattern] {
			return
		}
		seen[pattern] = true
		patterns = append(patterns, pattern)
	}

	for _, tech := range entities.Technologies {
		for _, pattern := range technologyPatterns[strings.ToLower(tech)] {
			add(pattern)
		}
	}
	for _, fn := range entities.Functions {
		add("*" + strings.ToLower(fn) + "*")
	}
	for _, class := range entities.Classes {
		add("*" + strings.ToLower(class) + "*")
	}
	for _, concept := range entities.Concepts {
		add("*" + strings.ToLower(concept) + "*")
	}
	return patterns
}

// resolvePath makes a path absolute against the project root, or the
// working directory when no index is wired.
func (c *Classifier) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if c.index != nil {
		return filepath.Join(c.index.Root(), path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// statTarget builds a target from the filesystem. Missing files are
// legal targets (creates) with Exists false.
func (c *Classifier) statTarget(path string, confidence float64, reason string) models.FileTarget {
	target := models.FileTarget{
		Path:       path,
		Confidence: confidence,
		Reason:     reason,
		Language:   languageFor(filepath.Base(path)),
	}
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		target.Exists = true
		target.Size = info.Size()
		target.LastModified = info.ModTime()
	}
	return target
}

// indexTarget builds a target from tracked index state, avoiding a
// stat for files the index already knows.
func (c *Classifier) indexTarget(path string, confidence float64, reason string) models.FileTarget {
	if c.index != nil {
		if entry, ok := c.index.Info(path); ok {
			return models.FileTarget{
				Path:         path,
				Exists:       true,
				Size:         entry.Size,
				LastModified: entry.ModTime,
				Language:     entry.Language,
				Confidence:   confidence,
				Reason:       reason,
			}
		}
	}
	return c.statTarget(path, confidence, reason)
}

func (c *Classifier) display(path string) string {
	if c.index != nil {
		if rel, err := filepath.Rel(c.index.Root(), path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

func contentSpec(op models.FileOperation, entities models.Entities) string {
	if op != models.FileOpCreate {
		return ""
	}
	var hints []string
	hints = append(hints, entities.Concepts...)
	hints = append(hints, entities.Technologies...)
	return strings.Join(hints, ", ")
}

// operationSafety folds the per-target table under the fixed
// per-operation floors: deletes are always dangerous, moves risky.
func operationSafety(op models.FileOperation, targets []models.FileTarget) models.SafetyLevel {
	switch op {
	case models.FileOpDelete:
		return models.SafetyDangerous
	case models.FileOpMove:
		return models.SafetyRisky
	case models.FileOpTest:
		return models.SafetySafe
	}
	level := models.SafetySafe
	for _, target := range targets {
		level = maxSafety(level, targetSafety(target))
	}
	return level
}

func targetSafety(target models.FileTarget) models.SafetyLevel {
	base := strings.ToLower(filepath.Base(target.Path))
	switch {
	case isSystemFile(base):
		return models.SafetyDangerous
	case isConfigPath(target.Path):
		return models.SafetyRisky
	case target.Size > largeFileBytes:
		return models.SafetyCautious
	default:
		return models.SafetySafe
	}
}

var safetyRank = map[models.SafetyLevel]int{
	models.SafetySafe:      0,
	models.SafetyCautious:  1,
	models.SafetyRisky:     2,
	models.SafetyDangerous: 3,
}

func maxSafety(a, b models.SafetyLevel) models.SafetyLevel {
	if safetyRank[b] > safetyRank[a] {
		return b
	}
	return a
}

// SystemFile reports whether the path names a file the toolchain or VCS
// owns: lock files, dotfiles, tsconfig and dockerfile variants.
func SystemFile(path string) bool {
	return isSystemFile(strings.ToLower(filepath.Base(path)))
}

// ConfigPath reports whether the path lives under a configuration
// directory or carries a configuration file name.
func ConfigPath(path string) bool {
	return isConfigPath(path)
}

// lockFiles pin dependency graphs; editing one by hand breaks builds.
var lockFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"cargo.lock":        true,
	"gemfile.lock":      true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"uv.lock":           true,
}

func isSystemFile(base string) bool {
	if lockFiles[base] {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasPrefix(base, "tsconfig") {
		return true
	}
	return strings.HasPrefix(base, "dockerfile")
}

var configSegments = map[string]bool{
	"config": true, "configs": true, "settings": true, ".github": true,
}

var configNamePatterns = []string{
	"*.conf", "*.config.*", "config.*", "settings.*", "*.env*", "*.ini", "*.properties",
}

func isConfigPath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, segment := range strings.Split(lower, "/") {
		if configSegments[segment] {
			return true
		}
	}
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range configNamePatterns {
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}

func operationImpact(op models.FileOperation, targetCount int) models.ImpactLevel {
	switch op {
	case models.FileOpDelete:
		return models.ImpactMajor
	case models.FileOpMove:
		return models.ImpactSignificant
	}
	switch {
	case targetCount > 5:
		return models.ImpactSignificant
	case targetCount > 2:
		return models.ImpactModerate
	default:
		return models.ImpactMinimal
	}
}

func requiresApproval(safety models.SafetyLevel, impact models.ImpactLevel) bool {
	if safety == models.SafetyDangerous || safety == models.SafetyRisky {
		return true
	}
	return impact == models.ImpactMajor || impact == models.ImpactSignificant
}

func backupRequired(op models.FileOperation, safety models.SafetyLevel) bool {
	switch op {
	case models.FileOpDelete, models.FileOpMove:
		return true
	case models.FileOpEdit, models.FileOpRefactor:
		return safety == models.SafetyRisky || safety == models.SafetyDangerous
	}
	return false
}
