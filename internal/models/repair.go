package models

import "time"

// RepairStrategy hints how aggressively a plan may mutate the target system.
type RepairStrategy string

const (
	StrategyImmediate    RepairStrategy = "immediate"
	StrategyProgressive  RepairStrategy = "progressive"
	StrategyConservative RepairStrategy = "conservative"
	StrategyAggressive   RepairStrategy = "aggressive"
)

// ModificationKind enumerates the declarative operation types an executor applies.
type ModificationKind string

const (
	ModInsertText     ModificationKind = "insert-text"
	ModReplaceText    ModificationKind = "replace-text"
	ModCreateResource ModificationKind = "create-resource"
	ModRunCommand     ModificationKind = "run-command"
)

// Modification is one ordered, declarative repair operation.
//
// Insert and replace operations are idempotent: inserting content that is
// already present, or replacing text that has already been replaced, is a
// no-op on re-application.
type Modification struct {
	Kind     ModificationKind `json:"kind"`
	Resource string           `json:"resource"`
	// Content is the text to insert or the template body for created resources.
	Content string `json:"content,omitempty"`
	// Find/Replace drive replace-text operations.
	Find    string `json:"find,omitempty"`
	Replace string `json:"replace,omitempty"`
	// Command is the argv for run-command operations.
	Command []string      `json:"command,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RepairPlan is a declarative remediation recipe for one ErrorRecord.
// Plans are immutable once built and consumed exactly once.
type RepairPlan struct {
	ID               string         `json:"id"`
	ErrorRecordID    string         `json:"error_record_id"`
	ErrorSignature   string         `json:"error_signature"`
	RuleID           string         `json:"rule_id"`
	Strategy         RepairStrategy `json:"strategy"`
	TargetResources  []string       `json:"target_resources"`
	Modifications    []Modification `json:"modifications"`
	RollbackAllowed  bool           `json:"rollback_allowed"`
	ValidationSuites []string       `json:"validation_suites"`
}

// RepairStatus tracks a result through its lifecycle.
type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairInProgress RepairStatus = "in-progress"
	RepairCompleted  RepairStatus = "completed"
	RepairFailed     RepairStatus = "failed"
	RepairRolledBack RepairStatus = "rolled-back"
)

// RepairResult records what one plan execution actually did.
type RepairResult struct {
	PlanID            string       `json:"plan_id"`
	ErrorRecordID     string       `json:"error_record_id"`
	ErrorSignature    string       `json:"error_signature"`
	RuleID            string       `json:"rule_id"`
	Status            RepairStatus `json:"status"`
	StartedAt         time.Time    `json:"started_at"`
	EndedAt           time.Time    `json:"ended_at"`
	ResourcesModified []string     `json:"resources_modified"`
	ValidationScore   float64      `json:"validation_score"`
	SnapshotID        string       `json:"snapshot_id,omitempty"`
	Error             string       `json:"error,omitempty"`
}
