package safety

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/haasonsaas/forge/pkg/models"
)

// buildRollbackPlan derives the undo plan from the backups taken for
// one operation: restore what existed, delete what the operation
// created. Every automated step carries a manual fallback so a failed
// automation still leaves the operator instructions.
func buildRollbackPlan(opID string, backups []models.BackupInfo) *models.RollbackPlan {
	plan := &models.RollbackPlan{
		OperationID: opID,
		Strategy:    models.RollbackBackupRestore,
	}
	for i, backup := range backups {
		step := models.RollbackStep{
			Order:     i + 1,
			Target:    backup.OriginalPath,
			Automated: true,
		}
		if backup.IsIntent {
			step.Action = models.RollbackDeleteFile
			step.Validation = "file is absent"
			step.Fallback = []models.RollbackStep{{
				Order:      1,
				Action:     models.RollbackManualStep,
				Target:     backup.OriginalPath,
				Validation: fmt.Sprintf("delete %s by hand", backup.OriginalPath),
			}}
		} else {
			step.Action = models.RollbackRestoreFile
			step.Validation = "content and mode match the backup"
			step.Fallback = []models.RollbackStep{{
				Order:      1,
				Action:     models.RollbackManualStep,
				Target:     backup.OriginalPath,
				Validation: fmt.Sprintf("restore %s from backup %s by hand", backup.OriginalPath, backup.ID),
			}}
		}
		plan.Steps = append(plan.Steps, step)
	}

	plan.CanAutoRollback = len(plan.Steps) > 0
	for _, step := range plan.Steps {
		if !step.Automated {
			plan.CanAutoRollback = false
			break
		}
	}
	return plan
}

// runRollback executes plan steps in ascending order. A failing step
// tries its fallbacks in declared order; when none succeed the plan
// aborts and the report carries every error from the failed step.
func (p *Pipeline) runRollback(ctx context.Context, plan *models.RollbackPlan) *models.RollbackReport {
	report := &models.RollbackReport{OperationID: plan.OperationID}

	steps := make([]models.RollbackStep, len(plan.Steps))
	copy(steps, plan.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err.Error())
			break
		}
		if err := p.runStep(ctx, step); err != nil {
			errs := []string{fmt.Sprintf("step %d (%s %s): %v", step.Order, step.Action, step.Target, err)}
			recovered := false
			for _, fallback := range step.Fallback {
				ferr := p.runStep(ctx, fallback)
				if ferr == nil {
					recovered = true
					p.logger.Debug(ctx, "rollback step recovered by fallback",
						"operation_id", plan.OperationID,
						"step", step.Order,
						"fallback_action", fallback.Action)
					break
				}
				errs = append(errs, fmt.Sprintf("fallback (%s): %v", fallback.Action, ferr))
			}
			if !recovered {
				report.Errors = append(report.Errors, errs...)
				break
			}
		}
		report.StepsRun++
	}

	report.Success = len(report.Errors) == 0 && report.StepsRun == len(steps)
	outcome := "ok"
	if !report.Success {
		outcome = "failed"
	}
	p.audit.RollbackCompleted(ctx, plan.OperationID, report.StepsRun, outcome, report.Errors)
	if p.metrics != nil {
		p.metrics.RecordRollback(outcome)
	}
	return report
}

func (p *Pipeline) runStep(ctx context.Context, step models.RollbackStep) error {
	switch step.Action {
	case models.RollbackRestoreFile, models.RollbackRevertChanges:
		info, err := p.backups.latest(ctx, step.Target)
		if err != nil {
			return err
		}
		return p.backups.restore(info)
	case models.RollbackDeleteFile:
		if err := os.Remove(step.Target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", step.Target, err)
		}
		return nil
	case models.RollbackManualStep:
		return fmt.Errorf("manual step: %s", step.Validation)
	case models.RollbackRebuildDependency:
		return fmt.Errorf("dependency rebuild is not automated: %s", step.Target)
	default:
		return fmt.Errorf("unknown rollback action %q", step.Action)
	}
}
