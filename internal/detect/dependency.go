package detect

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mendstack/mend-engine/internal/models"
)

// DependencyDetector verifies that required external commands resolve on PATH.
type DependencyDetector struct {
	commands []string
}

// NewDependencyDetector constructs the dependency probe.
func NewDependencyDetector(commands []string) *DependencyDetector {
	return &DependencyDetector{commands: commands}
}

// Name identifies the detector.
func (d *DependencyDetector) Name() string { return "dependency-check" }

// Detect reports a high-severity record per missing command.
func (d *DependencyDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord
	for _, cmd := range d.commands {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if _, err := exec.LookPath(cmd); err != nil {
			records = append(records, NewRecord(
				models.ErrorKindDependency, models.SeverityHigh, cmd,
				fmt.Sprintf("required command %q not found: %v", cmd, err),
			))
		}
	}
	return records, nil
}
