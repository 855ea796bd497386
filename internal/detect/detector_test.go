package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mendstack/mend-engine/internal/kvstore"
	"github.com/mendstack/mend-engine/internal/models"
)

type flakyDetector struct{}

func (flakyDetector) Name() string { return "flaky" }

func (flakyDetector) Detect(context.Context) ([]models.ErrorRecord, error) {
	return nil, errors.New("probe exploded")
}

type slowDetector struct{}

func (slowDetector) Name() string { return "slow" }

func (slowDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunnerIsolatesDetectorFailures(t *testing.T) {
	healthy := &stubProbe{records: []models.ErrorRecord{
		NewRecord(models.ErrorKindConfig, models.SeverityMedium, "/etc/app.yaml", "missing"),
	}}
	r := NewRunner(nil, 50*time.Millisecond, flakyDetector{}, slowDetector{}, healthy)

	records := r.Run(context.Background())

	// One real finding plus one detector-failure record each for the flaky
	// and the timed-out probe.
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	failures := 0
	for _, rec := range records {
		if rec.Kind == models.ErrorKindDetector {
			failures++
			if rec.Severity != models.SeverityMedium {
				t.Errorf("detector failure severity = %s, want medium", rec.Severity)
			}
		}
	}
	if failures != 2 {
		t.Fatalf("detector-failure records = %d, want 2", failures)
	}
}

type stuckDetector struct{}

func (stuckDetector) Name() string { return "stuck" }

func (stuckDetector) Detect(context.Context) ([]models.ErrorRecord, error) {
	select {}
}

func TestRunnerAbandonsStuckDetector(t *testing.T) {
	healthy := &stubProbe{records: []models.ErrorRecord{
		NewRecord(models.ErrorKindDependency, models.SeverityHigh, "payments", "missing module"),
	}}
	r := NewRunner(nil, 50*time.Millisecond, stuckDetector{}, healthy)

	done := make(chan []models.ErrorRecord, 1)
	go func() { done <- r.Run(context.Background()) }()

	var records []models.ErrorRecord
	select {
	case records = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the detector timeout")
	}

	if len(records) != 2 {
		t.Fatalf("records = %d, want healthy finding plus stuck-detector failure", len(records))
	}
	var failure *models.ErrorRecord
	for i := range records {
		if records[i].Kind == models.ErrorKindDetector {
			failure = &records[i]
		}
	}
	if failure == nil {
		t.Fatalf("no detector-failure record for the stuck probe")
	}
	if failure.Source != "stuck" {
		t.Fatalf("failure source = %q, want stuck", failure.Source)
	}
}

type stubProbe struct {
	records []models.ErrorRecord
}

func (s *stubProbe) Name() string { return "stub" }

func (s *stubProbe) Detect(context.Context) ([]models.ErrorRecord, error) {
	return s.records, nil
}

func TestEndpointDetectorFlagsUnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewEndpointDetector([]string{srv.URL}, 2*time.Second, time.Second)
	records, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected an endpoint-error record")
	}
	rec := records[0]
	if rec.Kind != models.ErrorKindEndpoint {
		t.Fatalf("kind = %s", rec.Kind)
	}
	if rec.Severity != models.SeverityCritical {
		t.Fatalf("severity for 500 = %s, want critical", rec.Severity)
	}
}

func TestEndpointDetectorHealthyEndpointIsQuiet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewEndpointDetector([]string{srv.URL}, 2*time.Second, time.Second)
	records, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("healthy endpoint produced %d records", len(records))
	}
}

func TestLogScanDetectorMatchesPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	content := "2026-08-30 ok startup complete\n" +
		"2026-08-30 panic: runtime error: index out of range\n" +
		"2026-08-30 connection refused to upstream\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	d := NewLogScanDetector([]string{path}, 100)
	records, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(records) < 2 {
		t.Fatalf("records = %d, want panic and connection findings", len(records))
	}

	var sawCritical bool
	for _, rec := range records {
		if rec.Kind != models.ErrorKindLogPattern {
			t.Errorf("kind = %s", rec.Kind)
		}
		if rec.Severity == models.SeverityCritical {
			sawCritical = true
		}
	}
	if !sawCritical {
		t.Fatalf("panic line did not produce a critical record")
	}
}

func TestCounterDetectorFlagsOverThreshold(t *testing.T) {
	store := kvstore.NewMemoryStore()
	snapshot, _ := json.Marshal(map[string]int64{
		"http_5xx":     25,
		"login_errors": 2,
	})
	if err := store.Set(context.Background(), "mend:error-counters", snapshot, 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	d := NewCounterDetector(store, "mend:error-counters", 10)
	records, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want only the counter over threshold", len(records))
	}
	if records[0].Source != "http_5xx" {
		t.Fatalf("source = %q", records[0].Source)
	}
}

func TestCounterDetectorMissingSnapshotIsQuiet(t *testing.T) {
	d := NewCounterDetector(kvstore.NewMemoryStore(), "absent", 10)
	records, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("missing snapshot must not error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %d, want none", len(records))
	}
}
