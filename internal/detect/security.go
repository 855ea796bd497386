package detect

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/mendstack/mend-engine/internal/models"
)

// threatPattern describes a security-relevant signature in log traffic.
type threatPattern struct {
	re    *regexp.Regexp
	label string
	sev   models.Severity
}

var defaultThreatPatterns = []threatPattern{
	{regexp.MustCompile(`(?i)(union\s+select|';\s*drop\s+table|or\s+1\s*=\s*1)`), "sql-injection", models.SeverityCritical},
	{regexp.MustCompile(`(?i)<script[^>]*>`), "xss-attempt", models.SeverityHigh},
	{regexp.MustCompile(`\.\./\.\./`), "path-traversal", models.SeverityHigh},
	{regexp.MustCompile(`(?i)authentication fail(ed|ure)`), "auth-failure", models.SeverityMedium},
	{regexp.MustCompile(`(?i)(unauthorized|forbidden) access`), "access-denied", models.SeverityMedium},
	{regexp.MustCompile(`(?i)invalid (token|signature|certificate)`), "credential-error", models.SeverityHigh},
}

// SecurityScanDetector regex-scans recent log lines against the threat table.
type SecurityScanDetector struct {
	files     []string
	tailLines int
	patterns  []threatPattern
}

// NewSecurityScanDetector constructs the security scanner.
func NewSecurityScanDetector(files []string, tailLines int) *SecurityScanDetector {
	if tailLines <= 0 {
		tailLines = 200
	}
	return &SecurityScanDetector{files: files, tailLines: tailLines, patterns: defaultThreatPatterns}
}

// Name identifies the detector.
func (d *SecurityScanDetector) Name() string { return "security-scan" }

// Detect reports one record per matched threat signature per file.
func (d *SecurityScanDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
	var records []models.ErrorRecord
	for _, file := range d.files {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		lines, err := tailLines(file, d.tailLines)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return records, fmt.Errorf("tail %s: %w", file, err)
		}
		seen := make(map[string]struct{})
		for _, line := range lines {
			for _, p := range d.patterns {
				if !p.re.MatchString(line) {
					continue
				}
				if _, dup := seen[p.label]; dup {
					continue
				}
				seen[p.label] = struct{}{}
				records = append(records, NewRecord(
					models.ErrorKindSecurity, p.sev, file,
					fmt.Sprintf("%s: %s", p.label, truncate(line, 300)),
				))
			}
		}
	}
	return records, nil
}
