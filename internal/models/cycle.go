package models

import "time"

// SystemHealth is the discretized rolling-average health state.
type SystemHealth string

const (
	HealthOptimal   SystemHealth = "optimal"
	HealthGood      SystemHealth = "good"
	HealthDegraded  SystemHealth = "degraded"
	HealthCritical  SystemHealth = "critical"
	HealthEmergency SystemHealth = "emergency"
)

// HealthForScore maps a trailing-average validation score onto a health state.
// Pure and total: every float maps to exactly one state.
func HealthForScore(avg float64) SystemHealth {
	switch {
	case avg >= 90:
		return HealthOptimal
	case avg >= 75:
		return HealthGood
	case avg >= 50:
		return HealthDegraded
	case avg >= 25:
		return HealthCritical
	default:
		return HealthEmergency
	}
}

// Degraded reports whether the state warrants aggressive incident handling.
func (h SystemHealth) Degraded() bool {
	return h == HealthCritical || h == HealthEmergency
}

// ValidationOutcome is the scored result of one verification suite run.
type ValidationOutcome struct {
	SuiteID  string        `json:"suite_id"`
	Score    float64       `json:"score"`
	Issues   []string      `json:"issues,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CycleRecord is the immutable summary of one detect→repair→validate→assess
// iteration. Records are appended in strict chronological order.
type CycleRecord struct {
	ID                string        `json:"id"`
	Sequence          uint64        `json:"sequence"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           time.Time     `json:"ended_at"`
	ErrorsDetected    int           `json:"errors_detected"`
	RepairsAttempted  int           `json:"repairs_attempted"`
	RepairsSucceeded  int           `json:"repairs_succeeded"`
	ValidationScore   float64       `json:"validation_score"`
	Health            SystemHealth  `json:"health"`
	NextInterval      time.Duration `json:"next_interval"`
	DeferredErrors    int           `json:"deferred_errors,omitempty"`
	IncidentsOpened   int           `json:"incidents_opened,omitempty"`
	IncidentsResolved int           `json:"incidents_resolved,omitempty"`
}
