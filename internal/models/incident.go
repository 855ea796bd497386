package models

import "time"

// IncidentPriority is the ticket priority band, each with a fixed SLA.
type IncidentPriority string

const (
	PriorityP1 IncidentPriority = "P1"
	PriorityP2 IncidentPriority = "P2"
	PriorityP3 IncidentPriority = "P3"
	PriorityP4 IncidentPriority = "P4"
)

// SLA returns the resolution window for the priority band.
func (p IncidentPriority) SLA() time.Duration {
	switch p {
	case PriorityP1:
		return 15 * time.Minute
	case PriorityP2:
		return 60 * time.Minute
	case PriorityP3:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IncidentState follows a linear lifecycle with an escalate side-transition.
type IncidentState string

const (
	IncidentNew        IncidentState = "new"
	IncidentAssigned   IncidentState = "assigned"
	IncidentInProgress IncidentState = "in-progress"
	IncidentResolved   IncidentState = "resolved"
	IncidentClosed     IncidentState = "closed"
)

// Terminal reports whether the state ends SLA tracking.
func (s IncidentState) Terminal() bool {
	return s == IncidentResolved || s == IncidentClosed
}

// Incident is an SLA-bound tracked record for unresolved or recurring failures.
type Incident struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Category         string           `json:"category"`
	Priority         IncidentPriority `json:"priority"`
	State            IncidentState    `json:"state"`
	Source           string           `json:"source"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	SLADueAt         time.Time        `json:"sla_due_at"`
	SLABreached      bool             `json:"sla_breached"`
	EscalationTier   int              `json:"escalation_tier"`
	EscalatedAt      *time.Time       `json:"escalated_at,omitempty"`
	Signatures       []string         `json:"signatures"`
	RepairAttempts   int              `json:"repair_attempts"`
	ResolutionMethod string           `json:"resolution_method,omitempty"`
	CleanCycles      int              `json:"clean_cycles"`
}
