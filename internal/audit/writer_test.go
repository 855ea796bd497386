package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

func TestWriterAppendsOneLinePerResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repairs.audit.jsonl")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	results := []models.RepairResult{
		{PlanID: "p1", RuleID: "dependency-install", Status: models.RepairCompleted, ValidationScore: 100},
		{PlanID: "p2", RuleID: "config-restore", Status: models.RepairRolledBack, ValidationScore: 40},
	}
	for _, r := range results {
		r.StartedAt = time.Now().UTC()
		r.EndedAt = r.StartedAt.Add(time.Second)
		if err := w.Record(r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not valid json: %v", lines+1, err)
		}
		if e.Result.PlanID == "" {
			t.Fatalf("line %d missing plan id", lines+1)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("audit lines = %d, want 2", lines)
	}
}

func TestWriterAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repairs.audit.jsonl")

	for i := 0; i < 2; i++ {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatalf("open writer: %v", err)
		}
		if err := w.Record(models.RepairResult{PlanID: "p", Status: models.RepairFailed}); err != nil {
			t.Fatalf("record: %v", err)
		}
		w.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	count := 0
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("lines after reopen = %d, want 2", count)
	}
}
