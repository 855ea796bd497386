package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mendstack/mend-engine/internal/models"
)

// IntegrityDetector issues read-only checks against the engine's own
// persisted state: the cycle-history file must parse and the durable store
// directories must be present and writable.
type IntegrityDetector struct {
	historyPath string
	storeDirs   []string
}

// NewIntegrityDetector constructs the storage-integrity probe.
func NewIntegrityDetector(historyPath string, storeDirs []string) *IntegrityDetector {
	return &IntegrityDetector{historyPath: historyPath, storeDirs: storeDirs}
}

// Name identifies the detector.
func (d *IntegrityDetector) Name() string { return "storage-integrity" }

// Detect reports corrupted history files and unusable store directories.
func (d *IntegrityDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord

	if d.historyPath != "" {
		if data, err := os.ReadFile(d.historyPath); err == nil && len(data) > 0 {
			var probe []json.RawMessage
			if jsonErr := json.Unmarshal(data, &probe); jsonErr != nil {
				records = append(records, NewRecord(
					models.ErrorKindIntegrity, models.SeverityHigh, d.historyPath,
					fmt.Sprintf("cycle history does not parse: %v", jsonErr),
				))
			}
		}
	}

	for _, dir := range d.storeDirs {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				// Stores are created lazily; absence is not corruption.
				continue
			}
			records = append(records, NewRecord(
				models.ErrorKindIntegrity, models.SeverityHigh, dir,
				fmt.Sprintf("store directory unreadable: %v", err),
			))
			continue
		}
		if !info.IsDir() {
			records = append(records, NewRecord(
				models.ErrorKindIntegrity, models.SeverityHigh, dir,
				fmt.Sprintf("store path %s is not a directory", dir),
			))
		}
	}
	return records, nil
}
