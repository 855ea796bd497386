package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mendstack/mend-engine/internal/models"
)

// Options tunes the manager's escalation behaviour.
type Options struct {
	// RecurrenceThreshold is how many cycles an error must persist before a
	// still-unrepaired record is ticketed.
	RecurrenceThreshold int
	// CleanCyclesToClose is how many consecutive clean cycles confirm an
	// automatic resolution.
	CleanCyclesToClose int
	// SignatureOverlap in (0,1] is the linked-signature overlap ratio above
	// which two candidates are considered the same incident.
	SignatureOverlap float64
	// SourceDedupWindow merges candidates from the same source within the
	// window into the existing incident.
	SourceDedupWindow time.Duration
}

// Manager opens, updates, escalates, and resolves SLA-bound incidents. It is
// the only component that mutates incident records.
type Manager struct {
	store  Store
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewManager constructs an incident manager.
func NewManager(logger *slog.Logger, store Store, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RecurrenceThreshold <= 0 {
		opts.RecurrenceThreshold = 3
	}
	if opts.CleanCyclesToClose <= 0 {
		opts.CleanCyclesToClose = 3
	}
	if opts.SignatureOverlap <= 0 || opts.SignatureOverlap > 1 {
		opts.SignatureOverlap = 0.7
	}
	if opts.SourceDedupWindow <= 0 {
		opts.SourceDedupWindow = time.Hour
	}
	return &Manager{store: store, logger: logger, opts: opts, now: time.Now}
}

// RecurrenceThreshold exposes the configured ticketing threshold.
func (m *Manager) RecurrenceThreshold() int { return m.opts.RecurrenceThreshold }

// Escalate opens or updates an incident for an unresolved ErrorRecord.
// health selects normal or aggressive handling: under critical/emergency
// health the priority band is raised one step. The bool reports whether a
// new incident was created rather than an existing one updated.
func (m *Manager) Escalate(ctx context.Context, rec models.ErrorRecord, health models.SystemHealth) (models.Incident, bool, error) {
	now := m.now().UTC()
	signature := rec.Signature()

	existing, err := m.findOpen(ctx, signature, rec.Source, now)
	if err != nil {
		return models.Incident{}, false, err
	}
	if existing != nil {
		existing.RepairAttempts++
		existing.UpdatedAt = now
		existing.CleanCycles = 0
		existing.Signatures = appendUnique(existing.Signatures, signature)
		if err := m.store.Put(ctx, *existing); err != nil {
			return models.Incident{}, false, fmt.Errorf("update incident %s: %w", existing.ID, err)
		}
		return *existing, false, nil
	}

	category, priority := classify(rec)
	if health.Degraded() {
		priority = raise(priority)
	}

	inc := models.Incident{
		ID:             uuid.NewString(),
		Title:          fmt.Sprintf("[auto] %s: %s", category, rec.Source),
		Category:       category,
		Priority:       priority,
		State:          models.IncidentNew,
		Source:         rec.Source,
		CreatedAt:      now,
		UpdatedAt:      now,
		SLADueAt:       now.Add(priority.SLA()),
		Signatures:     []string{signature},
		RepairAttempts: 1,
	}
	if err := m.store.Put(ctx, inc); err != nil {
		return models.Incident{}, false, fmt.Errorf("create incident: %w", err)
	}
	m.logger.Info("incident opened",
		slog.String("incident_id", inc.ID),
		slog.String("category", category),
		slog.String("priority", string(priority)),
		slog.String("source", rec.Source))
	return inc, true, nil
}

// EscalateCritical opens a P1 incident for an engine-internal failure such
// as an unrestorable snapshot. A rollback that keeps failing folds into the
// existing open incident through the same-source dedup window instead of
// opening a fresh P1 every cycle.
func (m *Manager) EscalateCritical(ctx context.Context, title, detail string) (models.Incident, error) {
	now := m.now().UTC()
	signature := fmt.Sprintf("self-repair|%s", detail)

	existing, err := m.findOpen(ctx, signature, "mend-engine", now)
	if err != nil {
		return models.Incident{}, err
	}
	if existing != nil {
		existing.RepairAttempts++
		existing.UpdatedAt = now
		existing.CleanCycles = 0
		existing.Signatures = appendUnique(existing.Signatures, signature)
		if err := m.store.Put(ctx, *existing); err != nil {
			return models.Incident{}, fmt.Errorf("update critical incident %s: %w", existing.ID, err)
		}
		return *existing, nil
	}

	inc := models.Incident{
		ID:             uuid.NewString(),
		Title:          title,
		Category:       "self-repair",
		Priority:       models.PriorityP1,
		State:          models.IncidentNew,
		Source:         "mend-engine",
		CreatedAt:      now,
		UpdatedAt:      now,
		SLADueAt:       now.Add(models.PriorityP1.SLA()),
		Signatures:     []string{signature},
		RepairAttempts: 1,
	}
	if err := m.store.Put(ctx, inc); err != nil {
		return models.Incident{}, fmt.Errorf("create critical incident: %w", err)
	}
	m.logger.Error("critical incident opened", slog.String("incident_id", inc.ID), slog.String("title", title))
	return inc, nil
}

// SweepSLA checks every open incident against its SLA. Past-due incidents
// are marked breached and escalated one assignment tier; re-sweeping an
// already-escalated incident is a no-op.
func (m *Manager) SweepSLA(ctx context.Context) ([]models.Incident, error) {
	now := m.now().UTC()
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	var escalated []models.Incident
	for _, inc := range all {
		if inc.State.Terminal() || inc.SLABreached {
			continue
		}
		if !now.Before(inc.SLADueAt) {
			inc.SLABreached = true
			inc.EscalationTier++
			t := now
			inc.EscalatedAt = &t
			inc.UpdatedAt = now
			if err := m.store.Put(ctx, inc); err != nil {
				return escalated, fmt.Errorf("escalate incident %s: %w", inc.ID, err)
			}
			m.logger.Warn("incident SLA breached",
				slog.String("incident_id", inc.ID),
				slog.Int("tier", inc.EscalationTier))
			escalated = append(escalated, inc)
		}
	}
	return escalated, nil
}

// ConfirmResolutions advances incidents whose linked signatures were absent
// this cycle, resolving them after the configured streak of clean cycles.
// activeSignatures holds every signature detected in the cycle just run.
func (m *Manager) ConfirmResolutions(ctx context.Context, activeSignatures map[string]bool, repaired map[string]bool) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list incidents: %w", err)
	}

	resolved := 0
	for _, inc := range all {
		if inc.State.Terminal() {
			continue
		}

		active := false
		wasRepaired := false
		for _, sig := range inc.Signatures {
			if activeSignatures[sig] {
				active = true
			}
			if repaired[sig] {
				wasRepaired = true
			}
		}

		changed := false
		if wasRepaired && inc.State == models.IncidentNew {
			inc.State = models.IncidentInProgress
			changed = true
		}
		if active && !wasRepaired {
			if inc.CleanCycles != 0 {
				inc.CleanCycles = 0
				changed = true
			}
		} else {
			inc.CleanCycles++
			changed = true
			if inc.CleanCycles >= m.opts.CleanCyclesToClose {
				inc.State = models.IncidentResolved
				inc.ResolutionMethod = "auto-repair"
				resolved++
				m.logger.Info("incident auto-resolved",
					slog.String("incident_id", inc.ID),
					slog.Int("clean_cycles", inc.CleanCycles))
			}
		}

		if changed {
			inc.UpdatedAt = m.now().UTC()
			if err := m.store.Put(ctx, inc); err != nil {
				return resolved, fmt.Errorf("update incident %s: %w", inc.ID, err)
			}
		}
	}
	return resolved, nil
}

// OpenCount returns the number of non-terminal incidents.
func (m *Manager) OpenCount(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	open := 0
	for _, inc := range all {
		if !inc.State.Terminal() {
			open++
		}
	}
	return open, nil
}

// List returns every stored incident ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]models.Incident, error) {
	return m.store.List(ctx)
}

// findOpen locates an open incident matching the candidate by signature
// overlap or by same-source recency.
func (m *Manager) findOpen(ctx context.Context, signature, source string, now time.Time) (*models.Incident, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		inc := &all[i]
		if inc.State.Terminal() {
			continue
		}
		if overlapRatio(inc.Signatures, []string{signature}) >= m.opts.SignatureOverlap {
			return inc, nil
		}
		if inc.Source == source && now.Sub(inc.UpdatedAt) <= m.opts.SourceDedupWindow {
			return inc, nil
		}
	}
	return nil, nil
}

// overlapRatio is |A∩B| / min(|A|,|B|): a candidate fully contained in an
// existing incident's signature set counts as a full overlap.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	common := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			common++
		}
	}
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	return float64(common) / float64(min)
}

func classify(rec models.ErrorRecord) (string, models.IncidentPriority) {
	switch rec.Kind {
	case models.ErrorKindSecurity:
		return "security", models.PriorityP1
	case models.ErrorKindDependency:
		return "dependency", models.PriorityP2
	case models.ErrorKindEndpoint:
		if rec.Severity == models.SeverityCritical {
			return "availability", models.PriorityP1
		}
		return "availability", models.PriorityP2
	case models.ErrorKindIntegrity:
		return "data-integrity", models.PriorityP2
	case models.ErrorKindConfig:
		return "configuration", models.PriorityP3
	case models.ErrorKindPerformance:
		return "performance", models.PriorityP4
	case models.ErrorKindLogPattern:
		return "runtime", models.PriorityP3
	default:
		return "monitoring", models.PriorityP4
	}
}

func raise(p models.IncidentPriority) models.IncidentPriority {
	switch p {
	case models.PriorityP4:
		return models.PriorityP3
	case models.PriorityP3:
		return models.PriorityP2
	default:
		return models.PriorityP1
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
