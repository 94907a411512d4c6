package safety

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/forge/internal/fileops"
	"github.com/haasonsaas/forge/pkg/models"
)

// factorWeights scores each risk signal. A factor is binary: present
// or not. The final score is the capped sum of present weights,
// floored by the classifier's declared safety level.
var factorWeights = map[string]float64{
	"deletion":      0.8,
	"system_file":   0.9,
	"config_file":   0.7,
	"security_file": 0.9,
	"db_schema":     0.8,
	"large_file":    0.6,
	"bulk_op":       0.5,
	"cross_module":  0.4,
	"external_dep":  0.6,
}

// safetyBaselines floor the score by the classifier's verdict so a
// dangerous operation never scores low just because no factor fired.
var safetyBaselines = map[models.SafetyLevel]float64{
	models.SafetySafe:      0.1,
	models.SafetyCautious:  0.35,
	models.SafetyRisky:     0.65,
	models.SafetyDangerous: 0.85,
}

// mitigations suggest what to do about each factor before approving.
var mitigations = map[string]string{
	"deletion":      "Back up targets before deleting",
	"system_file":   "Review system file changes manually",
	"config_file":   "Validate configuration after the change",
	"security_file": "Audit the change for exposed secrets",
	"db_schema":     "Test the migration on a copy first",
	"large_file":    "Review the diff in chunks",
	"bulk_op":       "Apply the change to a subset first",
	"cross_module":  "Run the full test suite afterwards",
	"external_dep":  "Reinstall dependencies and rebuild",
}

var tierRanks = map[models.RiskTier]int{
	models.RiskTierMinimal:  0,
	models.RiskTierLow:      1,
	models.RiskTierMedium:   2,
	models.RiskTierHigh:     3,
	models.RiskTierCritical: 4,
}

func tierRank(tier models.RiskTier) int {
	return tierRanks[tier]
}

// assess scores op and derives its risk tier, mitigations, and whether
// it may proceed without an approver.
func (p *Pipeline) assess(op models.FileOperationIntent) models.RiskAssessment {
	factors := p.riskFactors(op)

	var sum float64
	for _, factor := range factors {
		sum += factor.Weight
	}
	score := min(1.0, max(safetyBaselines[op.Safety], sum))
	tier := tierFor(score)

	assessment := models.RiskAssessment{
		OperationID:       op.ID,
		Tier:              tier,
		Score:             score,
		Factors:           factors,
		Reasoning:         reasoning(op, score, factors),
		AutomaticApproval: tierRank(tier) <= tierRank(models.RiskTierLow) && !p.cfg.RequireExplicitApproval,
	}
	for _, factor := range factors {
		if m, ok := mitigations[factor.Kind]; ok {
			assessment.Mitigations = append(assessment.Mitigations, m)
		}
	}
	return assessment
}

func tierFor(score float64) models.RiskTier {
	switch {
	case score < 0.3:
		return models.RiskTierMinimal
	case score < 0.6:
		return models.RiskTierLow
	case score < 0.8:
		return models.RiskTierMedium
	case score < 0.9:
		return models.RiskTierHigh
	default:
		return models.RiskTierCritical
	}
}

// riskFactors runs the detectors in a fixed order so factor and
// mitigation lists come out deterministic.
func (p *Pipeline) riskFactors(op models.FileOperationIntent) []models.RiskFactor {
	paths := opPaths(op)
	var factors []models.RiskFactor
	add := func(kind, detail string) {
		factors = append(factors, models.RiskFactor{Kind: kind, Weight: factorWeights[kind], Detail: detail})
	}

	if op.Operation == models.FileOpDelete {
		add("deletion", fmt.Sprintf("removes %d file(s)", len(op.Targets)))
	}
	if path, ok := firstMatch(paths, fileops.SystemFile); ok {
		add("system_file", filepath.Base(path))
	}
	if path, ok := firstMatch(paths, fileops.ConfigPath); ok {
		add("config_file", filepath.Base(path))
	}
	if path, ok := firstMatch(paths, securityFile); ok {
		add("security_file", filepath.Base(path))
	}
	if path, ok := firstMatch(paths, dbSchemaFile); ok {
		add("db_schema", filepath.Base(path))
	}
	for _, target := range op.Targets {
		if target.Size > p.cfg.MaxFileSize {
			add("large_file", fmt.Sprintf("%s is %d bytes", filepath.Base(target.Path), target.Size))
			break
		}
	}
	if len(op.Targets) > 5 {
		add("bulk_op", fmt.Sprintf("%d targets", len(op.Targets)))
	}
	if dirs := distinctDirs(op.Targets); dirs > 1 {
		add("cross_module", fmt.Sprintf("spans %d directories", dirs))
	}
	if path, ok := firstMatch(paths, dependencyManifest); ok {
		add("external_dep", filepath.Base(path))
	}
	return factors
}

func firstMatch(paths []string, match func(string) bool) (string, bool) {
	for _, path := range paths {
		if match(path) {
			return path, true
		}
	}
	return "", false
}

// securityFile spots credential material: env files, private keys,
// certificates, and names that mention secrets.
func securityFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(base, ".env") || strings.HasPrefix(base, "id_rsa") {
		return true
	}
	switch filepath.Ext(base) {
	case ".pem", ".key":
		return true
	}
	for _, marker := range []string{"secret", "credential", "password"} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	return false
}

func dbSchemaFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if filepath.Ext(base) == ".sql" {
		return true
	}
	return strings.Contains(base, "migration") || strings.Contains(base, "schema")
}

// dependencyManifests name the files that pin external dependencies.
var dependencyManifests = map[string]bool{
	"package.json":     true,
	"go.mod":           true,
	"cargo.toml":       true,
	"requirements.txt": true,
	"gemfile":          true,
	"pyproject.toml":   true,
	"composer.json":    true,
}

func dependencyManifest(path string) bool {
	return dependencyManifests[strings.ToLower(filepath.Base(path))]
}

func distinctDirs(targets []models.FileTarget) int {
	dirs := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		dirs[filepath.Dir(target.Path)] = struct{}{}
	}
	return len(dirs)
}

func reasoning(op models.FileOperationIntent, score float64, factors []models.RiskFactor) string {
	summary := fmt.Sprintf("%s %s of %d target(s) scored %.2f", op.Safety, op.Operation, len(op.Targets), score)
	if len(factors) == 0 {
		return summary
	}
	kinds := make([]string, len(factors))
	for i, factor := range factors {
		kinds[i] = factor.Kind
	}
	return summary + " (" + strings.Join(kinds, ", ") + ")"
}

// requiredApprovers maps a tier to the sign-offs it needs. Critical
// operations never approve automatically and need an admin plus a
// second reviewer.
func requiredApprovers(tier models.RiskTier, requireExplicit bool) []ApproverRole {
	switch tier {
	case models.RiskTierCritical:
		return []ApproverRole{RoleAdmin, RolePeerReview}
	case models.RiskTierHigh:
		return []ApproverRole{RoleUser, RolePeerReview}
	case models.RiskTierMedium:
		return []ApproverRole{RoleUser}
	}
	if requireExplicit {
		return []ApproverRole{RoleUser}
	}
	return nil
}
