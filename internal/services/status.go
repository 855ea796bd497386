package services

import (
	"context"
	"time"

	"github.com/mendstack/mend-engine/internal/incidents"
	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/registry"
	"github.com/mendstack/mend-engine/internal/scheduler"
	"github.com/mendstack/mend-engine/internal/utils"
)

// Status is the externally visible snapshot of the engine. It always
// reflects the last fully completed cycle, never a cycle in flight.
type Status struct {
	Health         models.SystemHealth `json:"health"`
	TrailingScore  float64             `json:"trailing_score"`
	LastCycle      *models.CycleRecord `json:"last_cycle,omitempty"`
	OpenIncidents  int                 `json:"open_incidents"`
	CyclesRetained int                 `json:"cycles_retained"`
	CycleP95       time.Duration       `json:"cycle_p95"`
	Rules          []string            `json:"rules"`
}

// StatusService assembles Status snapshots for the admin API and CLI.
type StatusService struct {
	sched     *scheduler.Scheduler
	incidents *incidents.Manager
	registry  *registry.Registry
	history   *scheduler.History
	latency   *utils.LatencyTracker
}

// NewStatusService wires the read-only views the snapshot draws from.
func NewStatusService(sched *scheduler.Scheduler, mgr *incidents.Manager, reg *registry.Registry,
	history *scheduler.History, latency *utils.LatencyTracker) *StatusService {
	return &StatusService{sched: sched, incidents: mgr, registry: reg, history: history, latency: latency}
}

// Snapshot builds the current status.
func (s *StatusService) Snapshot(ctx context.Context) (Status, error) {
	st := Status{
		Health:         s.sched.Health(),
		TrailingScore:  s.sched.TrailingScore(),
		CyclesRetained: s.history.Len(),
		Rules:          s.registry.Rules(),
	}
	if last, ok := s.sched.LastCycle(); ok {
		st.LastCycle = &last
	}
	if s.latency != nil {
		st.CycleP95 = s.latency.Percentile(95)
	}
	open, err := s.incidents.OpenCount(ctx)
	if err != nil {
		return Status{}, err
	}
	st.OpenIncidents = open
	return st, nil
}

// Incidents lists every stored incident, for the admin API.
func (s *StatusService) Incidents(ctx context.Context) ([]models.Incident, error) {
	return s.incidents.List(ctx)
}

// History returns the retained cycle records, oldest first.
func (s *StatusService) History() []models.CycleRecord {
	return s.history.Records()
}
