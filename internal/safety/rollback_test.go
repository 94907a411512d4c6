package safety

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestBuildRollbackPlanMixesRestoreAndDelete(t *testing.T) {
	backups := []models.BackupInfo{
		{ID: "edit_a_1", OriginalPath: "/work/a.go", Checksum: "abc"},
		{ID: "create_b_intent", OriginalPath: "/work/b.go", IsIntent: true},
	}

	plan := buildRollbackPlan("op-9", backups)
	if plan.OperationID != "op-9" {
		t.Errorf("operation id = %q, want op-9", plan.OperationID)
	}
	if plan.Strategy != models.RollbackBackupRestore {
		t.Errorf("strategy = %q", plan.Strategy)
	}
	if !plan.CanAutoRollback {
		t.Error("plan should be auto-rollbackable")
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Action != models.RollbackRestoreFile || plan.Steps[0].Order != 1 {
		t.Errorf("step 1 = %+v, want restore_file order 1", plan.Steps[0])
	}
	if plan.Steps[1].Action != models.RollbackDeleteFile || plan.Steps[1].Order != 2 {
		t.Errorf("step 2 = %+v, want delete_file order 2", plan.Steps[1])
	}
	for i, step := range plan.Steps {
		if len(step.Fallback) != 1 {
			t.Fatalf("step %d fallbacks = %d, want 1", i+1, len(step.Fallback))
		}
		fb := step.Fallback[0]
		if fb.Action != models.RollbackManualStep || fb.Automated {
			t.Errorf("step %d fallback = %+v, want a manual step", i+1, fb)
		}
	}
	if !strings.Contains(plan.Steps[0].Fallback[0].Validation, "edit_a_1") {
		t.Errorf("restore fallback %q should name the backup", plan.Steps[0].Fallback[0].Validation)
	}
}

func TestRunRollbackRestoresAndDeletes(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()
	edited := filepath.Join(dir, "edited.go")
	created := filepath.Join(dir, "created.go")
	writeFile(t, edited, "original\n")

	ctx := context.Background()
	fileBackup, _, err := p.backups.create(ctx, "edit", edited)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	intent, _, err := p.backups.create(ctx, "create", created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	writeFile(t, edited, "mutated\n")
	writeFile(t, created, "new\n")

	plan := buildRollbackPlan("op-1", []models.BackupInfo{fileBackup, intent})
	report := p.runRollback(ctx, plan)
	if !report.Success {
		t.Fatalf("rollback failed: %v", report.Errors)
	}
	if report.StepsRun != 2 {
		t.Errorf("steps run = %d, want 2", report.StepsRun)
	}

	raw, err := os.ReadFile(edited)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "original\n" {
		t.Errorf("edited file = %q, want the original content", raw)
	}
	if _, statErr := os.Stat(created); !os.IsNotExist(statErr) {
		t.Error("created file should have been deleted")
	}
}

func TestRunRollbackOrdersAndAborts(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	third := filepath.Join(dir, "third.txt")
	writeFile(t, first, "1\n")
	writeFile(t, third, "3\n")

	// Steps declared out of order; the runner must sort by Order and stop
	// at the first unrecoverable failure.
	plan := &models.RollbackPlan{
		OperationID: "op-2",
		Strategy:    models.RollbackBackupRestore,
		Steps: []models.RollbackStep{
			{Order: 3, Action: models.RollbackDeleteFile, Target: third, Automated: true},
			{Order: 1, Action: models.RollbackDeleteFile, Target: first, Automated: true},
			{Order: 2, Action: models.RollbackRestoreFile, Target: filepath.Join(dir, "ghost.txt"), Automated: true},
		},
	}

	report := p.runRollback(context.Background(), plan)
	if report.Success {
		t.Fatal("rollback should have failed on the ghost restore")
	}
	if report.StepsRun != 1 {
		t.Errorf("steps run = %d, want 1", report.StepsRun)
	}
	if len(report.Errors) == 0 || !strings.Contains(report.Errors[0], "no backup recorded") {
		t.Errorf("errors = %v, want a missing-backup failure", report.Errors)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Error("step 1 should have deleted the first file")
	}
	if _, err := os.Stat(third); err != nil {
		t.Error("step 3 must not run after step 2 fails")
	}
}

func TestRunRollbackFallbackRecovers(t *testing.T) {
	p := newTestPipeline(t, nil)
	leftover := filepath.Join(t.TempDir(), "leftover.txt")
	writeFile(t, leftover, "partial\n")

	plan := &models.RollbackPlan{
		OperationID: "op-3",
		Strategy:    models.RollbackBackupRestore,
		Steps: []models.RollbackStep{
			{
				Order:     1,
				Action:    models.RollbackRestoreFile,
				Target:    filepath.Join(t.TempDir(), "missing.txt"),
				Automated: true,
				Fallback: []models.RollbackStep{
					{Order: 1, Action: models.RollbackDeleteFile, Target: leftover, Automated: true},
				},
			},
		},
	}

	report := p.runRollback(context.Background(), plan)
	if !report.Success {
		t.Fatalf("fallback should have recovered: %v", report.Errors)
	}
	if report.StepsRun != 1 {
		t.Errorf("steps run = %d, want 1", report.StepsRun)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("fallback delete should have removed the leftover")
	}
}

func TestRunRollbackManualFallbackCarriesInstructions(t *testing.T) {
	p := newTestPipeline(t, nil)
	target := filepath.Join(t.TempDir(), "lost.txt")

	plan := &models.RollbackPlan{
		OperationID: "op-4",
		Strategy:    models.RollbackBackupRestore,
		Steps: []models.RollbackStep{
			{
				Order:     1,
				Action:    models.RollbackRestoreFile,
				Target:    target,
				Automated: true,
				Fallback: []models.RollbackStep{
					{Order: 1, Action: models.RollbackManualStep, Validation: "restore " + target + " from backup by hand"},
				},
			},
		},
	}

	report := p.runRollback(context.Background(), plan)
	if report.Success {
		t.Fatal("manual fallback must not count as recovery")
	}
	if len(report.Errors) != 2 {
		t.Fatalf("errors = %v, want the step failure and the manual instruction", report.Errors)
	}
	if !strings.Contains(report.Errors[1], "by hand") {
		t.Errorf("errors[1] = %q, want the operator instruction", report.Errors[1])
	}
}

func TestRunRollbackHonorsCancellation(t *testing.T) {
	p := newTestPipeline(t, nil)
	path := filepath.Join(t.TempDir(), "keep.txt")
	writeFile(t, path, "keep\n")

	plan := &models.RollbackPlan{
		OperationID: "op-5",
		Strategy:    models.RollbackBackupRestore,
		Steps: []models.RollbackStep{
			{Order: 1, Action: models.RollbackDeleteFile, Target: path, Automated: true},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := p.runRollback(ctx, plan)
	if report.Success {
		t.Fatal("cancelled rollback must not report success")
	}
	if report.StepsRun != 0 {
		t.Errorf("steps run = %d, want 0", report.StepsRun)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("no step should have run after cancellation")
	}
	if len(report.Errors) == 0 || !strings.Contains(report.Errors[0], "context canceled") {
		t.Errorf("errors = %v, want the cancellation recorded", report.Errors)
	}
}

func TestRunStepUnknownAction(t *testing.T) {
	p := newTestPipeline(t, nil)
	err := p.runStep(context.Background(), models.RollbackStep{Order: 1, Action: "defrag"})
	if err == nil || !strings.Contains(err.Error(), "unknown rollback action") {
		t.Errorf("err = %v, want an unknown-action failure", err)
	}
}
