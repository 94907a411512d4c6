// Package safety runs file-mutating operations through a guarded
// pipeline: risk assessment, change previews, role-based approval,
// checksummed backups, and a rollback plan that can undo a mutation
// that fails partway through.
//
// Backups always complete before the mutation runs, so every failure
// mode leaves either the original files or a restorable copy. The
// pipeline serializes work per operation id; concurrent operations on
// overlapping paths are not coordinated and callers own that ordering.
package safety

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/audit"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	defaultRetention       = 7 * 24 * time.Hour
	defaultMaxBackups      = 10
	defaultApprovalTimeout = 5 * time.Minute
	defaultPreviewContext  = 3
	defaultMaxPreviewLines = 50
	defaultMaxFileSize     = 100_000
)

// Sentinel errors, one per stage that can refuse an operation.
var (
	// ErrPathDenied rejects targets outside the configured path policy.
	ErrPathDenied = errors.New("path not permitted by safety policy")

	// ErrApprovalDenied means a required approver rejected, timed out,
	// or was not available.
	ErrApprovalDenied = errors.New("operation not approved")

	// ErrBackupFailed means a backup could not be taken; nothing was
	// mutated.
	ErrBackupFailed = errors.New("backup failed")

	// ErrRollbackFailed means the mutation failed and undoing it did
	// not complete either.
	ErrRollbackFailed = errors.New("rollback failed")
)

// ApproverRole identifies who must sign off on an operation.
type ApproverRole string

const (
	RoleUser       ApproverRole = "user"
	RoleAdmin      ApproverRole = "admin"
	RolePeerReview ApproverRole = "peer_review"
)

// ApprovalRequest is everything an approver sees before deciding.
type ApprovalRequest struct {
	Role       ApproverRole
	Operation  models.FileOperationIntent
	Assessment models.RiskAssessment
	Previews   []models.ChangePreview
}

// ApprovalResponse is one approver's verdict.
type ApprovalResponse struct {
	Approved bool
	Reason   string
}

// Approver answers approval requests. Implementations prompt the user,
// page an admin, or consult policy; they must honor ctx, which carries
// the per-prompt timeout.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// Config assembles a Pipeline.
type Config struct {
	// BackupDir holds backup payloads and their .meta sidecars.
	BackupDir string

	// Retention is how long backups outlive their operation.
	Retention time.Duration

	// MaxBackupsPerFile caps backups kept per original path; the
	// oldest are pruned first.
	MaxBackupsPerFile int

	// ApprovalTimeout bounds each approver prompt.
	ApprovalTimeout time.Duration

	// MaxFileSize escalates operations touching files above this many
	// bytes.
	MaxFileSize int64

	// AllowedPaths restricts targets to these prefixes when non-empty.
	AllowedPaths []string

	// DeniedPaths rejects targets under these prefixes.
	DeniedPaths []string

	// PreviewContextLines is the unified-diff context size;
	// MaxPreviewLines caps the rendered diff per file.
	PreviewContextLines int
	MaxPreviewLines     int

	// AutoRollback undoes a failed mutation automatically when the
	// operation's tier is at most AutoRollbackMax.
	AutoRollback    bool
	AutoRollbackMax models.RiskTier

	// RequireExplicitApproval prompts even for low-risk operations
	// that would otherwise approve automatically.
	RequireExplicitApproval bool

	Approver Approver
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Audit    *audit.Log
}

// Pipeline guards file mutations. Safe for concurrent use; operations
// sharing an id run one at a time.
type Pipeline struct {
	cfg      Config
	backups  *backupStore
	approver Approver
	logger   *observability.Logger
	metrics  *observability.Metrics
	audit    *audit.Log

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New validates cfg, creates the backup directory, and builds a
// Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if strings.TrimSpace(cfg.BackupDir) == "" {
		return nil, errors.New("backup directory is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxBackupsPerFile <= 0 {
		cfg.MaxBackupsPerFile = defaultMaxBackups
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = defaultApprovalTimeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.PreviewContextLines <= 0 {
		cfg.PreviewContextLines = defaultPreviewContext
	}
	if cfg.MaxPreviewLines <= 0 {
		cfg.MaxPreviewLines = defaultMaxPreviewLines
	}
	if cfg.AutoRollbackMax == "" {
		cfg.AutoRollbackMax = models.RiskTierMedium
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	aud := cfg.Audit
	if aud == nil {
		disabled, err := audit.Open(audit.Config{})
		if err != nil {
			return nil, err
		}
		aud = disabled
	}

	dir, err := filepath.Abs(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("resolve backup directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		backups:  newBackupStore(dir, cfg.Retention, cfg.MaxBackupsPerFile, logger),
		approver: cfg.Approver,
		logger:   logger,
		metrics:  cfg.Metrics,
		audit:    aud,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}, nil
}

// Result is what the pipeline produced for one operation, whether or
// not it ultimately succeeded. On error the assessment, backups, and
// rollback plan are still attached so the caller can act on them.
type Result struct {
	OperationID string
	Assessment  models.RiskAssessment
	Previews    []models.ChangePreview
	Backups     []models.BackupInfo
	Plan        *models.RollbackPlan

	// RolledBack is set when auto-rollback ran after a failed mutation.
	RolledBack *models.RollbackReport
}

// Execute runs op through the full pipeline and then calls apply to
// perform the mutation. proposed maps target paths to their intended
// new content; entries feed the change previews shown to approvers.
//
// Backups complete before apply runs. When apply fails and policy
// allows, the rollback plan executes automatically; otherwise the
// failure returns with the plan attached for explicit invocation.
func (p *Pipeline) Execute(ctx context.Context, op models.FileOperationIntent, proposed map[string]string, apply func(context.Context) error) (*Result, error) {
	if len(op.Targets) == 0 {
		return nil, errors.New("operation has no targets")
	}
	if apply == nil {
		return nil, errors.New("apply function is required")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	unlock := p.lockOp(op.ID)
	defer unlock()

	if err := p.checkPaths(op); err != nil {
		return nil, err
	}

	result := &Result{OperationID: op.ID}
	result.Assessment = p.assess(op)
	p.audit.RiskAssessment(ctx, op.ID, string(result.Assessment.Tier), result.Assessment.Score)
	p.logger.Debug(ctx, "operation risk assessed",
		"operation_id", op.ID,
		"operation", op.Operation,
		"tier", result.Assessment.Tier,
		"score", result.Assessment.Score)

	result.Previews = p.previews(ctx, op, proposed)

	if err := p.approve(ctx, op, result); err != nil {
		return result, err
	}

	backups, err := p.backupTargets(ctx, op)
	result.Backups = backups
	if err != nil {
		return result, err
	}
	result.Plan = buildRollbackPlan(op.ID, backups)

	applyErr := apply(ctx)
	paths := opPaths(op)
	if applyErr == nil {
		p.audit.FileOperation(ctx, op.ID, string(op.Operation), paths, "ok", nil)
		if p.metrics != nil {
			p.metrics.RecordFileOperation(string(op.Operation), "ok")
		}
		return result, nil
	}

	p.audit.FileOperation(ctx, op.ID, string(op.Operation), paths, "error", applyErr)
	if p.metrics != nil {
		p.metrics.RecordFileOperation(string(op.Operation), "error")
	}

	if !p.autoRollbackAllowed(result.Assessment.Tier, result.Plan) {
		p.logger.Warn(ctx, "mutation failed; rollback plan available",
			"operation_id", op.ID,
			"error", applyErr)
		return result, applyErr
	}

	report := p.runRollback(ctx, result.Plan)
	result.RolledBack = report
	if !report.Success {
		return result, errors.Join(applyErr, fmt.Errorf("%w: %s", ErrRollbackFailed, strings.Join(report.Errors, "; ")))
	}
	p.logger.Info(ctx, "mutation failed and was rolled back",
		"operation_id", op.ID,
		"steps", report.StepsRun,
		"error", applyErr)
	return result, applyErr
}

// Rollback executes a plan produced by Execute. Steps run in ascending
// order; a failing step tries its fallbacks before the plan aborts.
func (p *Pipeline) Rollback(ctx context.Context, plan *models.RollbackPlan) (*models.RollbackReport, error) {
	if plan == nil {
		return nil, errors.New("rollback plan is required")
	}
	unlock := p.lockOp(plan.OperationID)
	defer unlock()

	report := p.runRollback(ctx, plan)
	if !report.Success {
		return report, fmt.Errorf("%w: %s", ErrRollbackFailed, strings.Join(report.Errors, "; "))
	}
	return report, nil
}

// PruneBackups removes backups past their retention and reports how
// many were dropped. The maintenance scheduler calls this periodically.
func (p *Pipeline) PruneBackups(ctx context.Context) (int, error) {
	pruned, err := p.backups.sweep(ctx)
	p.auditPruned(ctx, pruned)
	if len(pruned) > 0 {
		p.logger.Debug(ctx, "expired backups pruned", "count", len(pruned))
	}
	return len(pruned), err
}

// lockOp serializes pipeline stages per operation id. Lock entries are
// retained for the process lifetime; ids are few and short-lived.
func (p *Pipeline) lockOp(id string) func() {
	p.mu.Lock()
	lock, ok := p.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[id] = lock
	}
	p.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (p *Pipeline) checkPaths(op models.FileOperationIntent) error {
	for _, path := range opPaths(op) {
		if err := p.checkPath(path); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) checkPath(path string) error {
	clean := filepath.Clean(path)
	for _, denied := range p.cfg.DeniedPaths {
		if underPrefix(clean, denied) {
			return fmt.Errorf("%w: %s is under denied path %s", ErrPathDenied, path, denied)
		}
	}
	if len(p.cfg.AllowedPaths) == 0 {
		return nil
	}
	for _, allowed := range p.cfg.AllowedPaths {
		if underPrefix(clean, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is outside the allowed paths", ErrPathDenied, path)
}

// underPrefix reports whether path sits at or below prefix.
func underPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// opPaths lists every path the operation touches, destination included.
func opPaths(op models.FileOperationIntent) []string {
	paths := make([]string, 0, len(op.Targets)+1)
	for _, target := range op.Targets {
		paths = append(paths, target.Path)
	}
	if op.Destination != "" {
		paths = append(paths, op.Destination)
	}
	return paths
}

// approve collects every required sign-off. All must grant; a reject,
// timeout, or approver error denies the operation.
func (p *Pipeline) approve(ctx context.Context, op models.FileOperationIntent, result *Result) error {
	roles := requiredApprovers(result.Assessment.Tier, p.cfg.RequireExplicitApproval)
	if len(roles) == 0 {
		return nil
	}
	if p.approver == nil {
		return fmt.Errorf("%w: no approver configured for %s risk", ErrApprovalDenied, result.Assessment.Tier)
	}
	for _, role := range roles {
		resp, err := p.askApprover(ctx, role, op, result)
		p.audit.ApprovalDecision(ctx, models.ApprovalDecision{
			ToolName: string(op.Operation),
			Category: "file_operation",
			Approved: err == nil && resp.Approved,
			Scope:    models.ApprovalScopeTool,
			TS:       p.now(),
		})
		if err != nil {
			return fmt.Errorf("%w: %s approval: %v", ErrApprovalDenied, role, err)
		}
		if !resp.Approved {
			reason := resp.Reason
			if reason == "" {
				reason = "rejected"
			}
			return fmt.Errorf("%w: %s %s", ErrApprovalDenied, role, reason)
		}
	}
	return nil
}

func (p *Pipeline) askApprover(ctx context.Context, role ApproverRole, op models.FileOperationIntent, result *Result) (ApprovalResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ApprovalTimeout)
	defer cancel()
	return p.approver.Approve(ctx, ApprovalRequest{
		Role:       role,
		Operation:  op,
		Assessment: result.Assessment,
		Previews:   result.Previews,
	})
}

// backupTargets backs up every path the operation will touch. Existing
// files get checksummed copies; missing ones get intent records whose
// rollback is deletion. A failure aborts before any mutation.
func (p *Pipeline) backupTargets(ctx context.Context, op models.FileOperationIntent) ([]models.BackupInfo, error) {
	backups := make([]models.BackupInfo, 0, len(op.Targets)+1)
	for _, path := range opPaths(op) {
		info, pruned, err := p.backups.create(ctx, string(op.Operation), path)
		p.auditPruned(ctx, pruned)
		if err != nil {
			return backups, fmt.Errorf("%w: %s: %v", ErrBackupFailed, path, err)
		}
		backups = append(backups, info)
		p.audit.BackupCreated(ctx, op.ID, info.ID, path, info.Size)
		if p.metrics != nil {
			p.metrics.RecordBackup(backupKind(info))
		}
	}
	return backups, nil
}

func backupKind(info models.BackupInfo) string {
	if info.IsIntent {
		return "intent"
	}
	return "file"
}

func (p *Pipeline) auditPruned(ctx context.Context, pruned []prunedBackup) {
	for _, pb := range pruned {
		p.audit.BackupPruned(ctx, pb.ID, pb.Reason)
	}
}

func (p *Pipeline) autoRollbackAllowed(tier models.RiskTier, plan *models.RollbackPlan) bool {
	if !p.cfg.AutoRollback || plan == nil || !plan.CanAutoRollback {
		return false
	}
	return tierRank(tier) <= tierRank(p.cfg.AutoRollbackMax)
}
