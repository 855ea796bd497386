package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

func TestHistoryBoundsRetention(t *testing.T) {
	h := NewHistory(3, "")
	for i := 1; i <= 5; i++ {
		if err := h.Append(models.CycleRecord{Sequence: uint64(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if h.Len() != 3 {
		t.Fatalf("retained %d records, want 3", h.Len())
	}
	records := h.Records()
	if records[0].Sequence != 3 || records[2].Sequence != 5 {
		t.Fatalf("unexpected retained window: first=%d last=%d", records[0].Sequence, records[2].Sequence)
	}
	if last, ok := h.Last(); !ok || last.Sequence != 5 {
		t.Fatalf("Last() = %v, %v", last, ok)
	}
}

func TestHistoryPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.json")

	h := NewHistory(10, path)
	rec := models.CycleRecord{
		ID:              "c-1",
		Sequence:        7,
		StartedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		ErrorsDetected:  2,
		ValidationScore: 91.5,
		Health:          models.HealthOptimal,
		NextInterval:    15 * time.Second,
	}
	if err := h.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	reloaded := NewHistory(10, path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := reloaded.Last()
	if !ok {
		t.Fatalf("no records after reload")
	}
	if got.ID != rec.ID || got.Sequence != rec.Sequence || got.ValidationScore != rec.ValidationScore {
		t.Fatalf("reloaded record %+v does not match %+v", got, rec)
	}
	if reloaded.LastSequence() != 7 {
		t.Fatalf("LastSequence = %d, want 7", reloaded.LastSequence())
	}
}

func TestHistoryLoadMissingFileIsClean(t *testing.T) {
	h := NewHistory(10, filepath.Join(t.TempDir(), "absent.json"))
	if err := h.Load(); err != nil {
		t.Fatalf("load of missing file should be clean, got %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("expected empty history")
	}
}
