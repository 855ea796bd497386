package detect

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mendstack/mend-engine/internal/models"
)

// logPattern pairs a compiled expression with the severity it implies.
type logPattern struct {
	re       *regexp.Regexp
	severity models.Severity
	label    string
}

var defaultLogPatterns = []logPattern{
	{regexp.MustCompile(`(?i)\bpanic:`), models.SeverityCritical, "panic"},
	{regexp.MustCompile(`(?i)\bfatal\b`), models.SeverityCritical, "fatal"},
	{regexp.MustCompile(`(?i)\b(out of memory|oom[- ]?killed)\b`), models.SeverityCritical, "oom"},
	{regexp.MustCompile(`(?i)\bconnection (refused|reset|timed out)\b`), models.SeverityHigh, "connection"},
	{regexp.MustCompile(`(?i)\b(no such file|permission denied)\b`), models.SeverityHigh, "filesystem"},
	{regexp.MustCompile(`(?i)\bmodule(notfound| not found)|cannot find (module|package)\b`), models.SeverityHigh, "dependency"},
	{regexp.MustCompile(`(?i)\berror\b`), models.SeverityMedium, "error"},
}

// LogScanDetector tails the last N lines of each monitored log file and
// matches them against the error pattern table.
type LogScanDetector struct {
	files     []string
	tailLines int
	patterns  []logPattern
}

// NewLogScanDetector constructs a log scanner over the given files.
func NewLogScanDetector(files []string, tailLines int) *LogScanDetector {
	if tailLines <= 0 {
		tailLines = 200
	}
	return &LogScanDetector{files: files, tailLines: tailLines, patterns: defaultLogPatterns}
}

// Name identifies the detector.
func (d *LogScanDetector) Name() string { return "log-scan" }

// Detect scans recent log lines; first matching pattern per line wins.
func (d *LogScanDetector) Detect(ctx context.Context) ([]models.ErrorRecord, error) {
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
		for _, line := range lines {
			for _, p := range d.patterns {
				if p.re.MatchString(line) {
					records = append(records, NewRecord(
						models.ErrorKindLogPattern, p.severity, file, truncate(line, 300),
					))
					break
				}
			}
		}
	}
	return records, nil
}

// tailLines returns up to n trailing lines of a plain-text file, newest last.
func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
