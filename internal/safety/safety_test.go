package safety

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/forge/pkg/models"
)

func newTestPipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{BackupDir: t.TempDir()}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func opWithTargets(kind models.FileOperation, level models.SafetyLevel, paths ...string) models.FileOperationIntent {
	op := models.FileOperationIntent{
		ID:        "op-" + string(kind),
		Operation: kind,
		Safety:    level,
	}
	for _, path := range paths {
		op.Targets = append(op.Targets, models.FileTarget{Path: path, Exists: true})
	}
	return op
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func applyNop(context.Context) error { return nil }

type fakeApprover struct {
	mu        sync.Mutex
	requests  []ApprovalRequest
	responses map[ApproverRole]ApprovalResponse
	err       error
}

func (f *fakeApprover) Approve(_ context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ApprovalResponse{}, f.err
	}
	if resp, ok := f.responses[req.Role]; ok {
		return resp, nil
	}
	return ApprovalResponse{Approved: true}, nil
}

func (f *fakeApprover) roles() []ApproverRole {
	f.mu.Lock()
	defer f.mu.Unlock()
	var roles []ApproverRole
	for _, req := range f.requests {
		roles = append(roles, req.Role)
	}
	return roles
}

func TestNewRequiresBackupDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error for a missing backup directory")
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	p := newTestPipeline(t, nil)
	if _, err := p.Execute(context.Background(), models.FileOperationIntent{}, nil, applyNop); err == nil {
		t.Error("expected an error for an operation with no targets")
	}
	op := opWithTargets(models.FileOpEdit, models.SafetySafe, filepath.Join(t.TempDir(), "x.go"))
	if _, err := p.Execute(context.Background(), op, nil, nil); err == nil {
		t.Error("expected an error for a nil apply function")
	}
}

func TestExecuteAppliesAfterBackup(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeFile(t, path, "package main\n")

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)
	proposed := map[string]string{path: "package main\n\nfunc main() {}\n"}

	result, err := p.Execute(context.Background(), op, proposed, func(context.Context) error {
		return os.WriteFile(path, []byte(proposed[path]), 0o644)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Assessment.Tier != models.RiskTierMinimal {
		t.Errorf("tier = %s, want %s", result.Assessment.Tier, models.RiskTierMinimal)
	}
	if len(result.Previews) != 1 {
		t.Errorf("previews = %d, want 1", len(result.Previews))
	}
	if len(result.Backups) != 1 || result.Backups[0].IsIntent {
		t.Fatalf("backups = %+v, want one file backup", result.Backups)
	}
	if result.Plan == nil || len(result.Plan.Steps) != 1 {
		t.Fatalf("plan = %+v, want one restore step", result.Plan)
	}

	raw, err := os.ReadFile(result.Backups[0].BackupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(raw) != "package main\n" {
		t.Errorf("backup = %q, want the pre-mutation content", raw)
	}
	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(raw) != proposed[path] {
		t.Errorf("target = %q, want the applied content", raw)
	}
}

func TestExecuteAssignsOperationID(t *testing.T) {
	p := newTestPipeline(t, nil)
	op := opWithTargets(models.FileOpEdit, models.SafetySafe, filepath.Join(t.TempDir(), "x.go"))
	op.ID = ""

	result, err := p.Execute(context.Background(), op, nil, applyNop)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.OperationID == "" {
		t.Fatal("expected a generated operation id")
	}
	if result.Plan.OperationID != result.OperationID {
		t.Errorf("plan operation id = %q, want %q", result.Plan.OperationID, result.OperationID)
	}
}

func TestExecuteRejectsDeniedPaths(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, func(cfg *Config) {
		cfg.DeniedPaths = []string{filepath.Join(dir, "vendor")}
	})

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, filepath.Join(dir, "vendor", "lib.go"))
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		t.Fatal("apply must not run for a denied path")
		return nil
	})
	if !errors.Is(err, ErrPathDenied) {
		t.Fatalf("err = %v, want ErrPathDenied", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestExecuteEnforcesAllowedPaths(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "src")
	p := newTestPipeline(t, func(cfg *Config) {
		cfg.AllowedPaths = []string{allowed}
	})

	outside := opWithTargets(models.FileOpEdit, models.SafetySafe, filepath.Join(dir, "notes.txt"))
	if _, err := p.Execute(context.Background(), outside, nil, applyNop); !errors.Is(err, ErrPathDenied) {
		t.Fatalf("err = %v, want ErrPathDenied", err)
	}

	inside := opWithTargets(models.FileOpEdit, models.SafetySafe, filepath.Join(allowed, "main.go"))
	if _, err := p.Execute(context.Background(), inside, nil, applyNop); err != nil {
		t.Fatalf("Execute inside allowed path: %v", err)
	}
}

func TestExecuteCollectsRequiredApprovals(t *testing.T) {
	approver := &fakeApprover{}
	p := newTestPipeline(t, func(cfg *Config) { cfg.Approver = approver })
	dir := t.TempDir()
	path := filepath.Join(dir, "old.go")
	writeFile(t, path, "package old\n")

	op := opWithTargets(models.FileOpDelete, models.SafetyDangerous, path)
	if _, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		return os.Remove(path)
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []ApproverRole{RoleUser, RolePeerReview}
	if got := approver.roles(); !reflect.DeepEqual(got, want) {
		t.Errorf("approver roles = %v, want %v", got, want)
	}
	if approver.requests[0].Assessment.Tier != models.RiskTierHigh {
		t.Errorf("assessment tier shown to approver = %s, want %s",
			approver.requests[0].Assessment.Tier, models.RiskTierHigh)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("approved delete should have run")
	}
}

func TestExecuteDeniedByApprover(t *testing.T) {
	approver := &fakeApprover{responses: map[ApproverRole]ApprovalResponse{
		RoleUser: {Approved: false, Reason: "not now"},
	}}
	p := newTestPipeline(t, func(cfg *Config) { cfg.Approver = approver })
	dir := t.TempDir()
	path := filepath.Join(dir, "app.conf")
	writeFile(t, path, "mode=prod\n")

	op := opWithTargets(models.FileOpEdit, models.SafetyRisky, path)
	applied := false
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		applied = true
		return nil
	})
	if !errors.Is(err, ErrApprovalDenied) {
		t.Fatalf("err = %v, want ErrApprovalDenied", err)
	}
	if !strings.Contains(err.Error(), "not now") {
		t.Errorf("err = %v, want the approver's reason included", err)
	}
	if applied {
		t.Error("apply must not run after a denial")
	}
	if len(result.Backups) != 0 {
		t.Errorf("backups = %d, want none before approval", len(result.Backups))
	}
	if result.Assessment.Tier != models.RiskTierMedium {
		t.Errorf("tier = %s, want %s", result.Assessment.Tier, models.RiskTierMedium)
	}
}

func TestExecuteDeniedWithoutApprover(t *testing.T) {
	p := newTestPipeline(t, nil)
	op := opWithTargets(models.FileOpEdit, models.SafetyRisky, filepath.Join(t.TempDir(), "main.go"))

	if _, err := p.Execute(context.Background(), op, nil, applyNop); !errors.Is(err, ErrApprovalDenied) {
		t.Fatalf("err = %v, want ErrApprovalDenied", err)
	}
}

func TestExecuteAutoRollbackOnFailure(t *testing.T) {
	p := newTestPipeline(t, func(cfg *Config) { cfg.AutoRollback = true })
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeFile(t, path, "package main\n")

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)
	applyErr := errors.New("disk full")
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		writeFile(t, path, "half written")
		return applyErr
	})
	if !errors.Is(err, applyErr) {
		t.Fatalf("err = %v, want the apply error", err)
	}
	if result.RolledBack == nil || !result.RolledBack.Success {
		t.Fatalf("rolled back = %+v, want a successful report", result.RolledBack)
	}
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read target: %v", readErr)
	}
	if string(raw) != "package main\n" {
		t.Errorf("content = %q, want the restored original", raw)
	}
}

func TestExecuteRollbackRespectsRiskCeiling(t *testing.T) {
	approver := &fakeApprover{}
	p := newTestPipeline(t, func(cfg *Config) {
		cfg.AutoRollback = true
		cfg.AutoRollbackMax = models.RiskTierLow
		cfg.Approver = approver
	})
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeFile(t, path, "package main\n")

	op := opWithTargets(models.FileOpEdit, models.SafetyRisky, path)
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		writeFile(t, path, "broken")
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected the apply error")
	}
	if result.RolledBack != nil {
		t.Errorf("rolled back = %+v, want nil above the ceiling", result.RolledBack)
	}
	if result.Plan == nil {
		t.Error("plan must stay attached for explicit rollback")
	}
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read target: %v", readErr)
	}
	if string(raw) != "broken" {
		t.Errorf("content = %q, want the mutation left in place", raw)
	}
}

func TestExecuteIntentRollbackDeletesCreatedFile(t *testing.T) {
	p := newTestPipeline(t, func(cfg *Config) { cfg.AutoRollback = true })
	path := filepath.Join(t.TempDir(), "widget.go")

	op := opWithTargets(models.FileOpCreate, models.SafetySafe, path)
	op.Targets[0].Exists = false
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		writeFile(t, path, "package widget\n")
		return errors.New("validation failed")
	})
	if err == nil {
		t.Fatal("expected the apply error")
	}
	if len(result.Backups) != 1 || !result.Backups[0].IsIntent {
		t.Fatalf("backups = %+v, want one intent backup", result.Backups)
	}
	if result.RolledBack == nil || !result.RolledBack.Success {
		t.Fatalf("rolled back = %+v, want a successful report", result.RolledBack)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("rollback should have deleted the created file")
	}
}

func TestExecuteMoveBacksUpBothEnds(t *testing.T) {
	approver := &fakeApprover{}
	p := newTestPipeline(t, func(cfg *Config) {
		cfg.AutoRollback = true
		cfg.Approver = approver
	})
	dir := t.TempDir()
	src := filepath.Join(dir, "util.go")
	dst := filepath.Join(dir, "pkg", "util.go")
	writeFile(t, src, "package util\n")

	op := opWithTargets(models.FileOpMove, models.SafetyRisky, src)
	op.Destination = dst
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
		return errors.New("post-move validation failed")
	})
	if err == nil {
		t.Fatal("expected the apply error")
	}
	if len(result.Backups) != 2 {
		t.Fatalf("backups = %d, want source and destination", len(result.Backups))
	}
	if result.Backups[0].IsIntent || !result.Backups[1].IsIntent {
		t.Errorf("backups = %+v, want file backup then intent backup", result.Backups)
	}
	if result.RolledBack == nil || !result.RolledBack.Success {
		t.Fatalf("rolled back = %+v, want a successful report", result.RolledBack)
	}

	raw, readErr := os.ReadFile(src)
	if readErr != nil {
		t.Fatalf("source not restored: %v", readErr)
	}
	if string(raw) != "package util\n" {
		t.Errorf("source = %q, want the original content", raw)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("rollback should have removed the destination")
	}
}

func TestRollbackAfterSuccessfulExecute(t *testing.T) {
	p := newTestPipeline(t, nil)
	path := filepath.Join(t.TempDir(), "state.txt")
	writeFile(t, path, "v1\n")

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)
	result, err := p.Execute(context.Background(), op, nil, func(context.Context) error {
		writeFile(t, path, "v2\n")
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	report, err := p.Rollback(context.Background(), result.Plan)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !report.Success || report.StepsRun != 1 {
		t.Fatalf("report = %+v, want one successful step", report)
	}
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read target: %v", readErr)
	}
	if string(raw) != "v1\n" {
		t.Errorf("content = %q, want v1 restored", raw)
	}
}

func TestExecuteSerializesSameOperationID(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.txt")
	writeFile(t, path, "base\n")

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)

	var mu sync.Mutex
	active, overlap := 0, false
	apply := func(context.Context) error {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Execute(context.Background(), op, nil, apply); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("operations sharing an id must not run concurrently")
	}
}
