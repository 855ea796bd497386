package rollback

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.yaml")
	fileB := filepath.Join(dir, "b.json")
	if err := os.WriteFile(fileA, []byte("original: a\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.WriteFile(fileB, []byte(`{"original":"b"}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := NewManager(slog.Default(), NewMemorySnapshotStore(), time.Hour)
	id, err := m.Snapshot(context.Background(), []string{fileA, fileB})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := os.WriteFile(fileA, []byte("mutated\n"), 0o644); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := os.Remove(fileB); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := m.Restore(context.Background(), id); err != nil {
		t.Fatalf("restore: %v", err)
	}

	a, _ := os.ReadFile(fileA)
	if string(a) != "original: a\n" {
		t.Fatalf("a.yaml = %q, want pre-repair content", a)
	}
	b, err := os.ReadFile(fileB)
	if err != nil {
		t.Fatalf("b.json missing after restore: %v", err)
	}
	if string(b) != `{"original":"b"}` {
		t.Fatalf("b.json = %q", b)
	}
}

func TestRestoreRemovesCreatedResources(t *testing.T) {
	dir := t.TempDir()
	created := filepath.Join(dir, "new.yaml")

	m := NewManager(slog.Default(), NewMemorySnapshotStore(), time.Hour)
	id, err := m.Snapshot(context.Background(), []string{created})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// The repair creates a file that did not exist before.
	if err := os.WriteFile(created, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.Restore(context.Background(), id); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := os.Stat(created); !os.IsNotExist(err) {
		t.Fatalf("created file survived restore")
	}
}

func TestRestoreUnknownSnapshotFails(t *testing.T) {
	m := NewManager(slog.Default(), NewMemorySnapshotStore(), time.Hour)
	if err := m.Restore(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown snapshot")
	}
}

func TestPurgeIsTimeBased(t *testing.T) {
	store := NewMemorySnapshotStore()
	m := NewManager(slog.Default(), store, time.Hour)

	old := models.Snapshot{
		ID:        "old",
		Resources: map[string]models.ResourceState{},
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	fresh := models.Snapshot{
		ID:        "fresh",
		Resources: map[string]models.ResourceState{},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(context.Background(), old); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(context.Background(), fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	m.Purge(context.Background())

	if _, err := store.Load(context.Background(), "old"); err == nil {
		t.Fatalf("old snapshot survived purge")
	}
	if _, err := store.Load(context.Background(), "fresh"); err != nil {
		t.Fatalf("fresh snapshot purged: %v", err)
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store, err := OpenBadgerSnapshotStore("", true)
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	defer store.Close()

	snap := models.Snapshot{
		ID: "s1",
		Resources: map[string]models.ResourceState{
			"/etc/app.yaml": {Content: []byte("x: 1\n"), Exists: true, Mode: 0o644},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got.Resources["/etc/app.yaml"].Content) != "x: 1\n" {
		t.Fatalf("content mismatch: %q", got.Resources["/etc/app.yaml"].Content)
	}

	if err := store.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(context.Background(), "s1"); err == nil {
		t.Fatalf("snapshot readable after delete")
	}
}

func TestBadgerStoreGCLoopStopsOnClose(t *testing.T) {
	old := gcInterval
	gcInterval = time.Millisecond
	defer func() { gcInterval = old }()

	store, err := OpenBadgerSnapshotStore("", true)
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}

	snap := models.Snapshot{
		ID:        "gc1",
		Resources: map[string]models.ResourceState{"/tmp/a": {Content: []byte("x"), Exists: true}},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Let a few GC rounds tick; they must not disturb stored data.
	time.Sleep(20 * time.Millisecond)
	if _, err := store.Load(context.Background(), "gc1"); err != nil {
		t.Fatalf("load after gc rounds: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
