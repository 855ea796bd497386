package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/rollback"
)

func newExecutor(t *testing.T, withRollback bool) *Executor {
	t.Helper()
	var mgr *rollback.Manager
	if withRollback {
		mgr = rollback.NewManager(slog.Default(), rollback.NewMemorySnapshotStore(), time.Hour)
	}
	return New(slog.Default(), mgr, 5*time.Second)
}

func TestExecuteInsertTextIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte("listen: 8080\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	plan := models.RepairPlan{
		ID:              "p1",
		TargetResources: []string{path},
		Modifications: []models.Modification{
			{Kind: models.ModInsertText, Resource: path, Content: "auditLogging: verbose\n"},
		},
	}

	e := newExecutor(t, false)
	first, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.Status != models.RepairCompleted {
		t.Fatalf("status = %s, want completed", first.Status)
	}
	if len(first.ResourcesModified) != 1 {
		t.Fatalf("modified = %v, want the target file", first.ResourcesModified)
	}

	afterFirst, _ := os.ReadFile(path)

	second, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if second.Status != models.RepairCompleted {
		t.Fatalf("second status = %s, want completed", second.Status)
	}
	if len(second.ResourcesModified) != 0 {
		t.Fatalf("second run touched %v, want nothing", second.ResourcesModified)
	}

	afterSecond, _ := os.ReadFile(path)
	if string(afterFirst) != string(afterSecond) {
		t.Fatalf("content changed on re-apply:\n%s\nvs\n%s", afterFirst, afterSecond)
	}
	if strings.Count(string(afterSecond), "auditLogging") != 1 {
		t.Fatalf("directive duplicated:\n%s", afterSecond)
	}
}

func TestExecuteRejectsOutOfScopeResource(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "inside.yaml")
	outside := filepath.Join(dir, "outside.yaml")

	plan := models.RepairPlan{
		ID:              "p2",
		TargetResources: []string{inside},
		Modifications: []models.Modification{
			{Kind: models.ModInsertText, Resource: outside, Content: "nope\n"},
		},
	}

	e := newExecutor(t, false)
	result, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.RepairFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if _, statErr := os.Stat(outside); !os.IsNotExist(statErr) {
		t.Fatalf("out-of-scope file was written")
	}
}

func TestExecuteRestoresOnMidPlanFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	original := "mode: production\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	plan := models.RepairPlan{
		ID:              "p3",
		RollbackAllowed: true,
		TargetResources: []string{path},
		Modifications: []models.Modification{
			{Kind: models.ModInsertText, Resource: path, Content: "tuned: true\n"},
			// Neither find nor replace present: this op fails mid-plan.
			{Kind: models.ModReplaceText, Resource: path, Find: "absent-token", Replace: "still-absent"},
		},
	}

	e := newExecutor(t, true)
	result, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.RepairFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.SnapshotID == "" {
		t.Fatalf("no snapshot recorded")
	}

	restored, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read restored file: %v", readErr)
	}
	if string(restored) != original {
		t.Fatalf("file not restored: %q", restored)
	}
}

func TestRollBackRestoresValidatedFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	original := "threads: 4\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	plan := models.RepairPlan{
		ID:              "p4",
		RollbackAllowed: true,
		TargetResources: []string{path},
		Modifications: []models.Modification{
			{Kind: models.ModReplaceText, Resource: path, Find: "threads: 4", Replace: "threads: 64"},
		},
	}

	e := newExecutor(t, true)
	result, err := e.Execute(context.Background(), plan)
	if err != nil || result.Status != models.RepairCompleted {
		t.Fatalf("execute: status=%s err=%v", result.Status, err)
	}

	// Validation rejected the repair; the caller rolls it back.
	if err := e.RollBack(context.Background(), &result); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.Status != models.RepairRolledBack {
		t.Fatalf("status = %s, want rolled-back", result.Status)
	}
	restored, _ := os.ReadFile(path)
	if string(restored) != original {
		t.Fatalf("content after rollback = %q, want original", restored)
	}
}

func TestExecuteCreateResource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "app.yaml")

	plan := models.RepairPlan{
		ID:              "p5",
		TargetResources: []string{path},
		Modifications: []models.Modification{
			{Kind: models.ModCreateResource, Resource: path, Content: "# regenerated\n"},
		},
	}

	e := newExecutor(t, false)
	result, err := e.Execute(context.Background(), plan)
	if err != nil || result.Status != models.RepairCompleted {
		t.Fatalf("execute: status=%s err=%v", result.Status, err)
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("created file unreadable: %v", readErr)
	}
	if string(data) != "# regenerated\n" {
		t.Fatalf("content = %q", data)
	}

	// Existing resources are never overwritten.
	again, _ := e.Execute(context.Background(), plan)
	if len(again.ResourcesModified) != 0 {
		t.Fatalf("re-create touched %v", again.ResourcesModified)
	}
}

func TestExecuteCommandFailureAbortsPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "after.txt")

	plan := models.RepairPlan{
		ID:              "p6",
		TargetResources: []string{"svc", path},
		Modifications: []models.Modification{
			{Kind: models.ModRunCommand, Resource: "svc", Command: []string{"false"}},
			{Kind: models.ModCreateResource, Resource: path, Content: "never\n"},
		},
	}

	e := newExecutor(t, false)
	result, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.RepairFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("ops after the failure still ran")
	}
}
