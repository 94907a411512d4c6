package models

import "time"

// BackupInfo records one backup taken before a mutation. An intent
// backup (IsIntent=true) records that the file did not exist; its
// rollback action is deletion, not restore.
type BackupInfo struct {
	ID           string `json:"id"`
	OriginalPath string `json:"original_path"`
	BackupPath   string `json:"backup_path,omitempty"`
	Size         int64  `json:"size"`
	// Checksum is the hex SHA-256 of the backed-up bytes.
	Checksum       string    `json:"checksum,omitempty"`
	Mode           uint32    `json:"mode,omitempty"`
	Created        time.Time `json:"created"`
	RetentionUntil time.Time `json:"retention_until"`
	IsIntent       bool      `json:"is_intent"`
}

// RollbackStrategy selects how a rollback plan undoes an operation.
type RollbackStrategy string

const (
	RollbackBackupRestore   RollbackStrategy = "backup_restore"
	RollbackIncrementalUndo RollbackStrategy = "incremental_undo"
)

// RollbackAction is the kind of one rollback step.
type RollbackAction string

const (
	RollbackRestoreFile       RollbackAction = "restore_file"
	RollbackDeleteFile        RollbackAction = "delete_file"
	RollbackRevertChanges     RollbackAction = "revert_changes"
	RollbackRebuildDependency RollbackAction = "rebuild_dependency"
	RollbackManualStep        RollbackAction = "manual_step"
)

// RollbackStep is one ordered, possibly-fallback-guarded undo action.
type RollbackStep struct {
	Order      int            `json:"order"`
	Action     RollbackAction `json:"action"`
	Target     string         `json:"target"`
	Automated  bool           `json:"automated"`
	Validation string         `json:"validation,omitempty"`
	Fallback   []RollbackStep `json:"fallback,omitempty"`
}

// RollbackPlan is the ordered, auditable undo plan for one operation.
// Steps execute in ascending Order; a failing step tries its fallbacks
// in declared order before the plan aborts.
type RollbackPlan struct {
	OperationID     string           `json:"operation_id"`
	Strategy        RollbackStrategy `json:"strategy"`
	Steps           []RollbackStep   `json:"steps"`
	CanAutoRollback bool             `json:"can_auto_rollback"`
}

// RollbackReport is the outcome of executing a rollback plan.
type RollbackReport struct {
	OperationID string   `json:"operation_id"`
	Success     bool     `json:"success"`
	StepsRun    int      `json:"steps_run"`
	Errors      []string `json:"errors"`
}

// RiskTier is the five-tier aggregated risk of a file operation.
type RiskTier string

const (
	RiskTierMinimal  RiskTier = "minimal"
	RiskTierLow      RiskTier = "low"
	RiskTierMedium   RiskTier = "medium"
	RiskTierHigh     RiskTier = "high"
	RiskTierCritical RiskTier = "critical"
)

// RiskFactor is one weighted contributor to an assessment.
type RiskFactor struct {
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// RiskAssessment is the safety pipeline's verdict on one operation.
type RiskAssessment struct {
	OperationID       string       `json:"operation_id"`
	Tier              RiskTier     `json:"tier"`
	Score             float64      `json:"score"`
	Factors           []RiskFactor `json:"factors,omitempty"`
	Reasoning         string       `json:"reasoning,omitempty"`
	AutomaticApproval bool         `json:"automatic_approval"`
	Mitigations       []string     `json:"mitigations,omitempty"`
}

// ChangePreview is the per-file diff summary shown before approval.
type ChangePreview struct {
	Path string `json:"path"`
	// Diff is a unified diff capped at the configured preview length.
	Diff            string   `json:"diff,omitempty"`
	Truncated       bool     `json:"truncated,omitempty"`
	LinesAdded      int      `json:"lines_added"`
	LinesRemoved    int      `json:"lines_removed"`
	Dependencies    []string `json:"dependencies,omitempty"`
	PotentialIssues []string `json:"potential_issues,omitempty"`
	BreakingChange  bool     `json:"breaking_change,omitempty"`
}
