package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mendstack/mend-engine/internal/audit"
	"github.com/mendstack/mend-engine/internal/config"
	"github.com/mendstack/mend-engine/internal/detect"
	"github.com/mendstack/mend-engine/internal/executor"
	"github.com/mendstack/mend-engine/internal/incidents"
	"github.com/mendstack/mend-engine/internal/metrics"
	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/registry"
	"github.com/mendstack/mend-engine/internal/rollback"
	"github.com/mendstack/mend-engine/internal/utils"
	"github.com/mendstack/mend-engine/internal/validation"
)

// ErrStreakReached signals that the configured run of consecutive clean
// cycles completed and the loop stopped on its own.
var ErrStreakReached = errors.New("consecutive clean cycle target reached")

// Deps collects the collaborators the scheduler drives each cycle. Rollback
// may be nil when snapshotting is disabled.
type Deps struct {
	Runner    *detect.Runner
	Dedup     *detect.Deduplicator
	Registry  *registry.Registry
	Executor  *executor.Executor
	Validator *validation.Validator
	Rollback  *rollback.Manager
	Incidents *incidents.Manager
	Audit     *audit.Writer
	History   *History
	Latency   *utils.LatencyTracker
}

// Scheduler is the control loop. One cycle runs the stages strictly in
// order: Detecting, Repairing, Validating, Assessing, Persisting. Cycles
// never overlap; cancellation is honoured between stages, never inside one,
// so in-flight file writes and commands always complete or time out first.
type Scheduler struct {
	logger  *slog.Logger
	cfg     config.SchedulerConfig
	accept  float64
	purgeIv time.Duration
	deps    Deps

	assessor *Assessor
	sequence uint64
	deferred []models.ErrorRecord
	// recurrence counts consecutive unresolved cycles per signature; a
	// signature crossing the incident manager's threshold escalates even
	// when every individual repair attempt merely went unmatched.
	recurrence map[string]int
	lastPurge  time.Time

	mu        sync.RWMutex
	health    models.SystemHealth
	lastCycle *models.CycleRecord
}

// New constructs the scheduler. acceptThreshold is the minimum aggregate
// validation score that lets a completed repair stand.
func New(logger *slog.Logger, cfg config.SchedulerConfig, acceptThreshold float64, purgeInterval time.Duration, deps Deps) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = defaultBaseInterval
	}
	if cfg.MaxParallelRepairs <= 0 {
		cfg.MaxParallelRepairs = 3
	}
	if cfg.MaxRepairsPerCycle <= 0 {
		cfg.MaxRepairsPerCycle = 10
	}
	if acceptThreshold <= 0 {
		acceptThreshold = 85
	}
	if purgeInterval <= 0 {
		purgeInterval = time.Hour
	}
	if deps.Latency == nil {
		deps.Latency = utils.NewLatencyTracker(256)
	}
	return &Scheduler{
		logger:     logger,
		cfg:        cfg,
		accept:     acceptThreshold,
		purgeIv:    purgeInterval,
		deps:       deps,
		assessor:   NewAssessor(cfg.HealthWindow),
		sequence:   deps.History.LastSequence(),
		recurrence: make(map[string]int),
		health:     models.HealthOptimal,
		lastPurge:  time.Now().UTC(),
	}
}

// Run drives cycles until ctx is cancelled or the configured clean-cycle
// streak is reached, in which case ErrStreakReached is returned. A nil
// return means a clean externally requested stop.
func (s *Scheduler) Run(ctx context.Context) error {
	streak := 0
	for {
		rec := s.runCycle(ctx)

		if rec.ErrorsDetected == 0 && rec.RepairsAttempted == rec.RepairsSucceeded {
			streak++
		} else {
			streak = 0
		}
		if s.cfg.SuccessStreak > 0 && streak >= s.cfg.SuccessStreak {
			s.logger.Info("clean cycle streak reached, stopping",
				slog.Int("streak", streak))
			return ErrStreakReached
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", slog.Uint64("cycles", s.sequence))
			return nil
		case <-time.After(rec.NextInterval):
		}
	}
}

// Health reports the current system health.
func (s *Scheduler) Health() models.SystemHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// LastCycle returns the most recently completed cycle. Mid-cycle failures
// never surface here; the record only lands once the cycle fully persisted.
func (s *Scheduler) LastCycle() (models.CycleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCycle == nil {
		return models.CycleRecord{}, false
	}
	return *s.lastCycle, true
}

// TrailingScore exposes the health window's mean validation score.
func (s *Scheduler) TrailingScore() float64 {
	return s.assessor.Average()
}

type repairOutcome struct {
	record models.ErrorRecord
	plan   models.RepairPlan
	result models.RepairResult
}

// runCycle executes one full iteration. It always returns a complete,
// persisted CycleRecord; per-stage failures are degraded into the record
// rather than aborting it.
func (s *Scheduler) runCycle(ctx context.Context) models.CycleRecord {
	start := time.Now().UTC()
	s.sequence++

	rec := models.CycleRecord{
		ID:        uuid.NewString(),
		Sequence:  s.sequence,
		StartedAt: start,
	}

	// Detecting.
	detected := s.deps.Runner.Run(ctx)
	for _, r := range detected {
		metrics.ObserveDetection(r.Kind)
	}

	carried := s.deferred
	s.deferred = nil
	active, deferred := s.deps.Dedup.Reduce(append(carried, detected...), s.cfg.MaxRepairsPerCycle, time.Now().UTC())
	s.deferred = deferred

	rec.ErrorsDetected = len(active) + len(deferred)
	rec.DeferredErrors = len(deferred)

	// Repairing.
	var outcomes []repairOutcome
	var unmatched []models.ErrorRecord
	if ctx.Err() == nil {
		outcomes, unmatched = s.repairStage(ctx, active)
	} else {
		unmatched = active
	}

	// Validating.
	if ctx.Err() == nil {
		s.validateStage(ctx, outcomes)
	}

	repaired := make(map[string]bool)
	activeSigs := make(map[string]bool, len(active))
	for _, r := range active {
		activeSigs[r.Signature()] = true
	}

	var cycleScore float64
	for i := range outcomes {
		o := &outcomes[i]
		rec.RepairsAttempted++
		cycleScore += o.result.ValidationScore
		metrics.ObserveRepair(o.result.Status)
		if s.deps.Audit != nil {
			if err := s.deps.Audit.Record(o.result); err != nil {
				s.logger.Warn("audit write failed", slog.Any("error", err))
			}
		}

		sig := o.record.Signature()
		if o.result.Status == models.RepairCompleted {
			rec.RepairsSucceeded++
			repaired[sig] = true
			s.deps.Dedup.Resolve(o.record.DedupKey())
			delete(s.recurrence, sig)
		}
	}
	if len(outcomes) > 0 {
		cycleScore /= float64(len(outcomes))
	} else {
		cycleScore = 100
	}
	rec.ValidationScore = cycleScore

	// Assessing.
	health := s.assessor.Record(cycleScore)
	rec.Health = health

	if ctx.Err() == nil {
		s.incidentStage(ctx, &rec, health, outcomes, unmatched, activeSigs, repaired)
	}

	// Persisting.
	rec.EndedAt = time.Now().UTC()
	rec.NextInterval = NextInterval(rec.ErrorsDetected, s.cfg.BaseInterval, s.cfg.EmergencyThreshold, s.cfg.RapidThreshold)

	if err := s.deps.History.Append(rec); err != nil {
		s.logger.Warn("cycle history persist failed", slog.Any("error", err))
	}
	metrics.ObserveCycle(rec)
	s.deps.Latency.Observe(rec.EndedAt.Sub(start))

	s.mu.Lock()
	s.health = health
	s.lastCycle = &rec
	s.mu.Unlock()

	s.maybePurge(ctx, rec.EndedAt)

	s.logger.Info("cycle complete",
		slog.Uint64("sequence", rec.Sequence),
		slog.Int("errors", rec.ErrorsDetected),
		slog.Int("repairs", rec.RepairsAttempted),
		slog.Int("succeeded", rec.RepairsSucceeded),
		slog.Float64("score", rec.ValidationScore),
		slog.String("health", string(rec.Health)),
		slog.Duration("next_interval", rec.NextInterval))

	return rec
}

// repairStage builds plans for the active records and executes them with
// bounded parallelism. Records no rule matches are returned unmatched.
func (s *Scheduler) repairStage(ctx context.Context, active []models.ErrorRecord) ([]repairOutcome, []models.ErrorRecord) {
	var planned []repairOutcome
	var unmatched []models.ErrorRecord
	for _, errRec := range active {
		plan, ok := s.deps.Registry.Plan(errRec)
		if !ok {
			unmatched = append(unmatched, errRec)
			continue
		}
		planned = append(planned, repairOutcome{record: errRec, plan: plan})
	}
	if len(planned) == 0 {
		return nil, unmatched
	}

	sem := make(chan struct{}, s.cfg.MaxParallelRepairs)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range planned {
		wg.Add(1)
		go func(o *repairOutcome) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := s.deps.Executor.Execute(ctx, o.plan)
			if err != nil {
				// Restore of known-good state failed. This is never
				// swallowed: it becomes a P1 immediately.
				mu.Lock()
				s.escalateCritical(ctx, o.plan, err)
				mu.Unlock()
				result.Status = models.RepairFailed
			}
			o.result = result
		}(&planned[i])
	}
	wg.Wait()

	return planned, unmatched
}

// validateStage scores completed repairs and rolls back those falling short
// of the accept threshold.
func (s *Scheduler) validateStage(ctx context.Context, outcomes []repairOutcome) {
	for i := range outcomes {
		o := &outcomes[i]
		if o.result.Status != models.RepairCompleted {
			continue
		}

		suiteOutcomes := s.deps.Validator.Validate(ctx, o.plan, o.result)
		score := s.deps.Validator.Aggregate(suiteOutcomes)
		o.result.ValidationScore = score
		if score >= s.accept {
			continue
		}

		s.logger.Warn("repair rejected by validation",
			slog.String("plan_id", o.plan.ID),
			slog.String("rule", o.plan.RuleID),
			slog.Float64("score", score))

		if o.plan.RollbackAllowed && o.result.SnapshotID != "" {
			if err := s.deps.Executor.RollBack(ctx, &o.result); err != nil {
				s.escalateCritical(ctx, o.plan, err)
				o.result.Status = models.RepairFailed
			}
		} else {
			o.result.Status = models.RepairFailed
		}
	}
}

// incidentStage escalates unresolved records, sweeps SLAs and confirms
// resolutions against the cycle's evidence.
func (s *Scheduler) incidentStage(ctx context.Context, rec *models.CycleRecord, health models.SystemHealth,
	outcomes []repairOutcome, unmatched []models.ErrorRecord, activeSigs, repaired map[string]bool) {

	escalate := func(errRec models.ErrorRecord) {
		_, created, err := s.deps.Incidents.Escalate(ctx, errRec, health)
		if err != nil {
			s.logger.Warn("incident escalation failed",
				slog.String("signature", errRec.Signature()),
				slog.Any("error", err))
			return
		}
		if created {
			rec.IncidentsOpened++
		}
	}

	for _, o := range outcomes {
		if o.result.Status == models.RepairCompleted {
			continue
		}
		s.recurrence[o.record.Signature()]++
		escalate(o.record)
	}
	for _, u := range unmatched {
		sig := u.Signature()
		s.recurrence[sig]++
		if s.recurrence[sig] >= s.deps.Incidents.RecurrenceThreshold() || health.Degraded() {
			escalate(u)
		}
	}

	if breached, err := s.deps.Incidents.SweepSLA(ctx); err != nil {
		s.logger.Warn("sla sweep failed", slog.Any("error", err))
	} else {
		for _, inc := range breached {
			s.logger.Warn("incident sla breached",
				slog.String("incident_id", inc.ID),
				slog.String("priority", string(inc.Priority)),
				slog.Int("tier", inc.EscalationTier))
		}
	}

	resolved, err := s.deps.Incidents.ConfirmResolutions(ctx, activeSigs, repaired)
	if err != nil {
		s.logger.Warn("resolution sweep failed", slog.Any("error", err))
	}
	rec.IncidentsResolved = resolved

	if open, err := s.deps.Incidents.OpenCount(ctx); err == nil {
		metrics.SetOpenIncidents(open)
	}
}

func (s *Scheduler) escalateCritical(ctx context.Context, plan models.RepairPlan, cause error) {
	detail := fmt.Sprintf("plan %s (rule %s): %v", plan.ID, plan.RuleID, cause)
	if _, err := s.deps.Incidents.EscalateCritical(ctx, "snapshot restore failed", detail); err != nil {
		s.logger.Error("critical escalation failed",
			slog.String("detail", detail),
			slog.Any("error", err))
	}
}

func (s *Scheduler) maybePurge(ctx context.Context, now time.Time) {
	if s.deps.Rollback == nil || now.Sub(s.lastPurge) < s.purgeIv {
		return
	}
	s.lastPurge = now
	s.deps.Rollback.Purge(ctx)
}
