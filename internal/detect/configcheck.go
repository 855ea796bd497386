package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mendstack/mend-engine/internal/models"
)

// ConfigDetector checks that required configuration files exist and, for
// YAML files, still parse.
type ConfigDetector struct {
	files []string
}

// NewConfigDetector constructs the configuration probe.
func NewConfigDetector(files []string) *ConfigDetector {
	return &ConfigDetector{files: files}
}

// Name identifies the detector.
func (d *ConfigDetector) Name() string { return "config-check" }

// Detect reports missing or unparsable configuration files.
func (d *ConfigDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord
	for _, file := range d.files {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		data, err := os.ReadFile(file)
		if err != nil {
			if os.IsNotExist(err) {
				records = append(records, NewRecord(
					models.ErrorKindConfig, models.SeverityHigh, file,
					fmt.Sprintf("required config file %s missing", file),
				))
				continue
			}
			records = append(records, NewRecord(
				models.ErrorKindConfig, models.SeverityMedium, file,
				fmt.Sprintf("config file %s unreadable: %v", file, err),
			))
			continue
		}

		switch strings.ToLower(filepath.Ext(file)) {
		case ".yaml", ".yml":
			var probe any
			if err := yaml.Unmarshal(data, &probe); err != nil {
				records = append(records, NewRecord(
					models.ErrorKindConfig, models.SeverityHigh, file,
					fmt.Sprintf("config file %s does not parse: %v", file, err),
				))
			}
		}
	}
	return records, nil
}
