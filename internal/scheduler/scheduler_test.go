package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/config"
	"github.com/mendstack/mend-engine/internal/detect"
	"github.com/mendstack/mend-engine/internal/executor"
	"github.com/mendstack/mend-engine/internal/incidents"
	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/registry"
	"github.com/mendstack/mend-engine/internal/validation"
)

type stubDetector struct {
	name    string
	records []models.ErrorRecord
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(context.Context) ([]models.ErrorRecord, error) {
	out := make([]models.ErrorRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

type testEngine struct {
	sched *Scheduler
	store *incidents.MemoryStore
}

func newTestEngine(t *testing.T, installCmd []string, detectors ...detect.Detector) *testEngine {
	t.Helper()
	logger := slog.Default()

	reg, err := registry.New(logger, "", registry.BuilderOptions{
		InstallCommand: installCmd,
		CommandTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	store := incidents.NewMemoryStore()
	mgr := incidents.NewManager(logger, store, incidents.Options{})

	validator := validation.New(logger, 5*time.Second, nil,
		validation.SyntaxSuite{},
		validation.NewFunctionalSuite(nil, time.Second),
	)

	cfg := config.SchedulerConfig{
		BaseInterval:       15 * time.Second,
		EmergencyThreshold: 10,
		RapidThreshold:     5,
		MaxRepairsPerCycle: 10,
		MaxParallelRepairs: 3,
		HealthWindow:       5,
	}

	sched := New(logger, cfg, 85, time.Hour, Deps{
		Runner:    detect.NewRunner(logger, 5*time.Second, detectors...),
		Dedup:     detect.NewDeduplicator(time.Minute),
		Registry:  reg,
		Executor:  executor.New(logger, nil, 5*time.Second),
		Validator: validator,
		Incidents: mgr,
		History:   NewHistory(10, ""),
	})
	return &testEngine{sched: sched, store: store}
}

func TestCycleRepairsMissingDependency(t *testing.T) {
	missing := detect.NewRecord(models.ErrorKindDependency, models.SeverityHigh,
		"leftpad", "command leftpad not found on PATH")
	eng := newTestEngine(t, []string{"true"}, &stubDetector{name: "deps", records: []models.ErrorRecord{missing}})

	rec := eng.sched.runCycle(context.Background())

	if rec.ErrorsDetected != 1 {
		t.Fatalf("errors detected = %d, want 1", rec.ErrorsDetected)
	}
	if rec.RepairsAttempted != 1 || rec.RepairsSucceeded != 1 {
		t.Fatalf("repairs = %d/%d, want 1/1", rec.RepairsSucceeded, rec.RepairsAttempted)
	}
	if rec.ValidationScore != 100 {
		t.Fatalf("validation score = %.1f, want 100", rec.ValidationScore)
	}
	if rec.NextInterval != 15*time.Second {
		t.Fatalf("next interval = %s, want base 15s", rec.NextInterval)
	}

	// Repaired within the cycle and below the recurrence threshold: no ticket.
	all, err := eng.store.List(context.Background())
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no incidents, got %d", len(all))
	}

	last, ok := eng.sched.LastCycle()
	if !ok || last.ID != rec.ID {
		t.Fatalf("LastCycle does not reflect the completed cycle")
	}
}

func TestCycleEscalatesFailedRepair(t *testing.T) {
	missing := detect.NewRecord(models.ErrorKindDependency, models.SeverityHigh,
		"leftpad", "command leftpad not found on PATH")
	// Install command exits 1, so the repair fails every time.
	eng := newTestEngine(t, []string{"false"}, &stubDetector{name: "deps", records: []models.ErrorRecord{missing}})

	// Seed the health window so a single failed cycle does not drop the
	// system into emergency and bump the priority band under test.
	for i := 0; i < 4; i++ {
		eng.sched.assessor.Record(100)
	}

	rec := eng.sched.runCycle(context.Background())

	if rec.RepairsAttempted != 1 || rec.RepairsSucceeded != 0 {
		t.Fatalf("repairs = %d/%d, want 0/1", rec.RepairsSucceeded, rec.RepairsAttempted)
	}
	if rec.IncidentsOpened != 1 {
		t.Fatalf("incidents opened = %d, want 1", rec.IncidentsOpened)
	}

	all, err := eng.store.List(context.Background())
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one incident, got %d", len(all))
	}
	inc := all[0]
	if inc.Priority != models.PriorityP2 {
		t.Fatalf("dependency incident priority = %s, want P2", inc.Priority)
	}
	if inc.Category != "dependency" {
		t.Fatalf("incident category = %q", inc.Category)
	}

	// The same failure next cycle updates the incident, never duplicates it.
	eng.sched.runCycle(context.Background())
	all, _ = eng.store.List(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected one incident after second cycle, got %d", len(all))
	}
	if all[0].RepairAttempts < 2 {
		t.Fatalf("repair attempts = %d, want >= 2", all[0].RepairAttempts)
	}
}

func TestCycleDefersRecordsPastCap(t *testing.T) {
	var records []models.ErrorRecord
	for i := 0; i < 6; i++ {
		records = append(records, detect.NewRecord(models.ErrorKindLogPattern, models.SeverityLow,
			"app.log", "noise line "+string(rune('a'+i))))
	}
	eng := newTestEngine(t, nil, &stubDetector{name: "logs", records: records})
	eng.sched.cfg.MaxRepairsPerCycle = 4

	rec := eng.sched.runCycle(context.Background())

	if rec.ErrorsDetected != 6 {
		t.Fatalf("errors detected = %d, want 6", rec.ErrorsDetected)
	}
	if rec.DeferredErrors != 2 {
		t.Fatalf("deferred = %d, want 2", rec.DeferredErrors)
	}
	if len(eng.sched.deferred) != 2 {
		t.Fatalf("scheduler holds %d deferred records, want 2", len(eng.sched.deferred))
	}
}

func TestRunStopsOnCleanStreak(t *testing.T) {
	eng := newTestEngine(t, nil, &stubDetector{name: "quiet"})
	eng.sched.cfg.SuccessStreak = 2
	eng.sched.cfg.BaseInterval = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- eng.sched.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreakReached) {
			t.Fatalf("Run returned %v, want ErrStreakReached", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop on clean streak")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	eng := newTestEngine(t, nil, &stubDetector{name: "quiet"})
	eng.sched.cfg.BaseInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
