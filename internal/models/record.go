package models

import (
	"fmt"
	"hash/fnv"
	"time"
)

// ErrorKind enumerates anomaly categories produced by detectors.
type ErrorKind string

const (
	ErrorKindEndpoint    ErrorKind = "endpoint-error"
	ErrorKindLogPattern  ErrorKind = "log-pattern"
	ErrorKindIntegrity   ErrorKind = "integrity"
	ErrorKindDependency  ErrorKind = "dependency"
	ErrorKindConfig      ErrorKind = "config"
	ErrorKindSecurity    ErrorKind = "security"
	ErrorKindPerformance ErrorKind = "performance"
	// ErrorKindDetector marks a probe that failed or timed out itself.
	ErrorKindDetector ErrorKind = "detector-failure"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the deduplicator can take the maximum across merges.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ErrorRecord is a normalized detected anomaly.
type ErrorRecord struct {
	ID          string    `json:"id"`
	Kind        ErrorKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Source      string    `json:"source"`
	Evidence    string    `json:"evidence"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Occurrences int       `json:"occurrences"`
	Resolved    bool      `json:"resolved"`
}

// DedupKey identifies equivalent records within the dedup window.
// Kind and source dominate; a truncated evidence hash separates distinct
// failures reported by the same probe against the same source.
func (r ErrorRecord) DedupKey() string {
	h := fnv.New64a()
	h.Write([]byte(r.Evidence))
	return fmt.Sprintf("%s|%s|%08x", r.Kind, r.Source, h.Sum64()&0xffffffff)
}

// Signature is the stable identity linked into incidents.
func (r ErrorRecord) Signature() string {
	return r.DedupKey()
}
