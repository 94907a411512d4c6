package config

import "time"

// SafetyConfig tunes the file-operation safety pipeline.
type SafetyConfig struct {
	// BackupDir stores checksummed backups, relative to the workspace
	// root unless absolute.
	BackupDir string `yaml:"backup_dir"`

	// RetentionDays is how long backups are kept before the sweep
	// removes them.
	RetentionDays int `yaml:"retention_days"`

	// MaxBackupsPerFile caps backups per original path; oldest are
	// pruned first.
	MaxBackupsPerFile int `yaml:"max_backups_per_file"`

	// ApprovalExpiry invalidates granted approvals after this long.
	ApprovalExpiry time.Duration `yaml:"approval_expiry"`

	// MaxFileSize is the byte threshold above which an operation is
	// escalated for touching a large file.
	MaxFileSize int64 `yaml:"max_file_size"`

	// AllowedPaths restricts operations to these prefixes when set.
	// Empty means the whole workspace.
	AllowedPaths []string `yaml:"allowed_paths"`

	// DeniedPaths rejects operations under these prefixes.
	DeniedPaths []string `yaml:"denied_paths"`

	// PreviewContextLines is the unified-diff context size.
	PreviewContextLines int `yaml:"preview_context_lines"`

	// MaxPreviewLines caps rendered diff length per file.
	MaxPreviewLines int `yaml:"max_preview_lines"`

	// AutoRollback undoes a failed mutation automatically when the
	// operation's risk tier allows it. Unset means enabled.
	AutoRollback *bool `yaml:"auto_rollback"`

	// AutoRollbackMaxRisk is the highest risk tier auto-rollback still
	// covers; riskier failures surface with the plan attached.
	AutoRollbackMaxRisk string `yaml:"auto_rollback_max_risk"`

	// RequireExplicitApproval asks the user even for low-risk
	// operations that would otherwise approve automatically.
	RequireExplicitApproval bool `yaml:"require_explicit_approval"`
}

// AutoRollbackEnabled reports whether failed mutations are undone
// automatically.
func (s *SafetyConfig) AutoRollbackEnabled() bool {
	return boolValue(s.AutoRollback, true)
}

// AuditConfig controls the append-only audit trail.
type AuditConfig struct {
	// Enabled turns audit logging on. Unset means enabled.
	Enabled *bool `yaml:"enabled"`

	// Path is the JSONL audit file, relative to the workspace root
	// unless absolute.
	Path string `yaml:"path"`

	// FlushInterval is how often buffered events are written out.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BufferSize is the async event queue length.
	BufferSize int `yaml:"buffer_size"`

	// SampleRate keeps this fraction of non-critical events.
	SampleRate float64 `yaml:"sample_rate"`

	// HashInputs stores a content hash instead of raw tool inputs.
	HashInputs *bool `yaml:"hash_inputs"`
}

// AuditEnabled reports whether audit logging is on.
func (a *AuditConfig) AuditEnabled() bool {
	return boolValue(a.Enabled, true)
}

// HashInputsEnabled reports whether tool inputs are hashed before audit.
func (a *AuditConfig) HashInputsEnabled() bool {
	return boolValue(a.HashInputs, true)
}

func applySafetyDefaults(s *SafetyConfig) {
	if s.BackupDir == "" {
		s.BackupDir = ".forge/backups"
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 7
	}
	if s.MaxBackupsPerFile == 0 {
		s.MaxBackupsPerFile = 10
	}
	if s.ApprovalExpiry == 0 {
		s.ApprovalExpiry = 5 * time.Minute
	}
	if s.MaxFileSize == 0 {
		s.MaxFileSize = 100000
	}
	if s.PreviewContextLines == 0 {
		s.PreviewContextLines = 3
	}
	if s.MaxPreviewLines == 0 {
		s.MaxPreviewLines = 50
	}
	if s.AutoRollbackMaxRisk == "" {
		s.AutoRollbackMaxRisk = "medium"
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.Path == "" {
		a.Path = ".forge/audit.jsonl"
	}
	if a.FlushInterval == 0 {
		a.FlushInterval = 2 * time.Second
	}
	if a.BufferSize == 0 {
		a.BufferSize = 256
	}
	if a.SampleRate == 0 {
		a.SampleRate = 1.0
	}
}
