package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mendstack/mend-engine/internal/kvstore"
	"github.com/mendstack/mend-engine/internal/models"
)

// CounterDetector reads the error-metrics snapshot the monitored application
// publishes as a JSON map of counter name to count, and flags counters over
// the configured threshold.
type CounterDetector struct {
	store     kvstore.Store
	key       string
	threshold int64
}

// NewCounterDetector constructs the counter probe.
func NewCounterDetector(store kvstore.Store, key string, threshold int64) *CounterDetector {
	if threshold <= 0 {
		threshold = 10
	}
	return &CounterDetector{store: store, key: key, threshold: threshold}
}

// Name identifies the detector.
func (d *CounterDetector) Name() string { return "error-counters" }

// Detect flags counters exceeding the threshold. A missing snapshot is not
// an error; the monitored application may simply not have published yet.
func (d *CounterDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	if d.store == nil {
		return nil, nil
	}

	raw, err := d.store.Get(ctx, d.key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch counter snapshot: %w", err)
	}

	var counters map[string]int64
	if err := json.Unmarshal(raw, &counters); err != nil {
		return []models.ErrorRecord{NewRecord(
			models.ErrorKindIntegrity, models.SeverityMedium, d.key,
			fmt.Sprintf("counter snapshot does not parse: %v", err),
		)}, nil
	}

	var records []models.ErrorRecord
	for name, count := range counters {
		if count < d.threshold {
			continue
		}
		sev := models.SeverityMedium
		if count >= d.threshold*5 {
			sev = models.SeverityHigh
		}
		records = append(records, NewRecord(
			models.ErrorKindLogPattern, sev, name,
			fmt.Sprintf("error counter %s at %d (threshold %d)", name, count, d.threshold),
		))
	}
	return records, nil
}
