package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/rollback"
)

// Executor applies RepairPlans. Side effects are confined to the plan's
// target resources; any operation failure aborts the remaining operations
// and, when a snapshot exists, triggers an immediate restore.
type Executor struct {
	logger         *slog.Logger
	rollback       *rollback.Manager
	commandTimeout time.Duration
}

// New constructs an Executor. rollbackMgr may be nil when rollback is
// disabled globally; plans requesting rollback then run without snapshots.
func New(logger *slog.Logger, rollbackMgr *rollback.Manager, commandTimeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if commandTimeout <= 0 {
		commandTimeout = 60 * time.Second
	}
	return &Executor{logger: logger, rollback: rollbackMgr, commandTimeout: commandTimeout}
}

// Execute runs one plan to completion. The returned error is non-nil only
// for an unrecoverable condition: a failed restore of known-good state. All
// ordinary op failures are folded into the result.
func (e *Executor) Execute(ctx context.Context, plan models.RepairPlan) (models.RepairResult, error) {
	result := models.RepairResult{
		PlanID:         plan.ID,
		ErrorRecordID:  plan.ErrorRecordID,
		ErrorSignature: plan.ErrorSignature,
		RuleID:         plan.RuleID,
		Status:         models.RepairInProgress,
		StartedAt:      time.Now().UTC(),
	}

	if plan.RollbackAllowed && e.rollback != nil {
		snapID, err := e.rollback.Snapshot(ctx, plan.TargetResources)
		if err != nil {
			result.Status = models.RepairFailed
			result.Error = fmt.Sprintf("snapshot failed: %v", err)
			result.EndedAt = time.Now().UTC()
			return result, nil
		}
		result.SnapshotID = snapID
	}

	allowed := make(map[string]struct{}, len(plan.TargetResources))
	for _, res := range plan.TargetResources {
		allowed[res] = struct{}{}
	}

	for i, mod := range plan.Modifications {
		if _, ok := allowed[mod.Resource]; !ok {
			result.Status = models.RepairFailed
			result.Error = fmt.Sprintf("op %d targets %q outside plan resources", i, mod.Resource)
			break
		}

		touched, err := e.apply(ctx, mod)
		if err != nil {
			result.Status = models.RepairFailed
			result.Error = fmt.Sprintf("op %d (%s on %s): %v", i, mod.Kind, mod.Resource, err)
			break
		}
		if touched {
			result.ResourcesModified = appendUnique(result.ResourcesModified, mod.Resource)
		}
	}

	if result.Status == models.RepairInProgress {
		result.Status = models.RepairCompleted
		result.EndedAt = time.Now().UTC()
		return result, nil
	}

	// Failed mid-plan: put the resources back before anyone observes the
	// partial state.
	result.EndedAt = time.Now().UTC()
	if result.SnapshotID != "" {
		if err := e.rollback.Restore(ctx, result.SnapshotID); err != nil {
			e.logger.Error("restore after failed repair did not complete",
				slog.String("plan_id", plan.ID),
				slog.String("snapshot_id", result.SnapshotID),
				slog.Any("error", err))
			return result, fmt.Errorf("rollback of plan %s failed: %w", plan.ID, err)
		}
		e.logger.Warn("repair failed, snapshot restored",
			slog.String("plan_id", plan.ID),
			slog.String("rule", plan.RuleID),
			slog.String("error", result.Error))
	}
	return result, nil
}

// RollBack restores a completed repair whose validation fell short.
func (e *Executor) RollBack(ctx context.Context, result *models.RepairResult) error {
	if result.SnapshotID == "" || e.rollback == nil {
		return fmt.Errorf("no snapshot recorded for plan %s", result.PlanID)
	}
	if err := e.rollback.Restore(ctx, result.SnapshotID); err != nil {
		return err
	}
	result.Status = models.RepairRolledBack
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
