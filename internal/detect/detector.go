package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mendstack/mend-engine/internal/models"
)

// Detector is an independently-invokable probe. Implementations must be
// read-only towards the monitored system and honour ctx cancellation.
type Detector interface {
	Name() string
	Detect(ctx context.Context) ([]models.ErrorRecord, error)
}

// Runner executes all detectors concurrently, isolating failures so a slow
// or broken probe never blocks the rest of the cycle.
type Runner struct {
	detectors []Detector
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRunner constructs a Runner with a per-detector timeout.
func NewRunner(logger *slog.Logger, timeout time.Duration, detectors ...Detector) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Runner{detectors: detectors, timeout: timeout, logger: logger}
}

type detectOutcome struct {
	name    string
	records []models.ErrorRecord
	err     error
}

// Run probes every detector and returns the concatenated findings. A detector
// that errors or times out contributes a single medium-severity
// detector-failure record instead of aborting the cycle. The wait itself is
// bounded: a probe that ignores its context is abandoned at the deadline and
// its late result lands in a buffered channel nobody reads.
func (r *Runner) Run(ctx context.Context) []models.ErrorRecord {
	results := make([]chan detectOutcome, len(r.detectors))

	for i, d := range r.detectors {
		ch := make(chan detectOutcome, 1)
		results[i] = ch
		go func(d Detector, ch chan<- detectOutcome) {
			probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			records, err := d.Detect(probeCtx)
			if err == nil && probeCtx.Err() != nil {
				err = probeCtx.Err()
			}
			ch <- detectOutcome{name: d.Name(), records: records, err: err}
		}(d, ch)
	}

	// Small grace past the probe deadline so well-behaved detectors can
	// report their own cancellation error first.
	deadline := time.Now().Add(r.timeout + 100*time.Millisecond)

	var all []models.ErrorRecord
	for i, d := range r.detectors {
		var out detectOutcome
		select {
		case out = <-results[i]:
		case <-time.After(time.Until(deadline)):
			out = detectOutcome{name: d.Name(), err: context.DeadlineExceeded}
		}
		if out.err != nil {
			r.logger.Warn("detector failed",
				slog.String("detector", out.name),
				slog.Any("error", out.err))
			all = append(all, NewRecord(
				models.ErrorKindDetector,
				models.SeverityMedium,
				out.name,
				fmt.Sprintf("detector %s failed: %v", out.name, out.err),
			))
			continue
		}
		all = append(all, out.records...)
	}
	return all
}

// NewRecord builds a fresh single-occurrence ErrorRecord.
func NewRecord(kind models.ErrorKind, sev models.Severity, source, evidence string) models.ErrorRecord {
	now := time.Now().UTC()
	return models.ErrorRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		Severity:    sev,
		Source:      source,
		Evidence:    evidence,
		FirstSeen:   now,
		LastSeen:    now,
		Occurrences: 1,
	}
}
