package models

import "time"

// FileOperation is the kind of mutation a file-operation intent performs.
type FileOperation string

const (
	FileOpCreate   FileOperation = "create"
	FileOpEdit     FileOperation = "edit"
	FileOpDelete   FileOperation = "delete"
	FileOpMove     FileOperation = "move"
	FileOpCopy     FileOperation = "copy"
	FileOpRefactor FileOperation = "refactor"
	FileOpTest     FileOperation = "test"
)

// SafetyLevel is the four-tier classification of a file operation.
type SafetyLevel string

const (
	SafetySafe      SafetyLevel = "safe"
	SafetyCautious  SafetyLevel = "cautious"
	SafetyRisky     SafetyLevel = "risky"
	SafetyDangerous SafetyLevel = "dangerous"
)

// ImpactLevel grades the blast radius of a file operation.
type ImpactLevel string

const (
	ImpactMinimal     ImpactLevel = "minimal"
	ImpactModerate    ImpactLevel = "moderate"
	ImpactSignificant ImpactLevel = "significant"
	ImpactMajor       ImpactLevel = "major"
)

// FileTarget is one file a file operation will touch. Path is always
// absolute (resolved against the working directory).
type FileTarget struct {
	Path         string    `json:"path"`
	Exists       bool      `json:"exists"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	Language     string    `json:"language,omitempty"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason,omitempty"`
}

// FileOperationIntent is the classifier's reading of a file-mutating
// request, carrying everything the safety pipeline needs.
type FileOperationIntent struct {
	ID        string        `json:"id"`
	Operation FileOperation `json:"operation"`
	Targets   []FileTarget  `json:"targets"`
	// Destination is set for move and copy operations.
	Destination string `json:"destination,omitempty"`
	// ContentSpec describes the content to write, when known.
	ContentSpec      string      `json:"content_spec,omitempty"`
	Safety           SafetyLevel `json:"safety"`
	Impact           ImpactLevel `json:"impact"`
	RequiresApproval bool        `json:"requires_approval"`
	BackupRequired   bool        `json:"backup_required"`
	Dependencies     []string    `json:"dependencies,omitempty"`
	// AmbiguousTargets lists candidate paths when resolution found
	// more than one plausible match; Suggestions phrase them for the user.
	AmbiguousTargets []string `json:"ambiguous_targets,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
}
