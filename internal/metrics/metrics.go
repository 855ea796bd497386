package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mendstack/mend-engine/internal/models"
)

var (
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "cycles_total",
			Help:      "Total number of completed repair cycles.",
		},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mend",
			Name:      "cycle_seconds",
			Help:      "Full-cycle duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	errorsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "errors_detected_total",
			Help:      "Errors detected, partitioned by kind.",
		},
		[]string{"kind"},
	)

	repairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "repairs_total",
			Help:      "Repair attempts, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	rollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "rollbacks_total",
			Help:      "Snapshot restores performed after failed validation.",
		},
	)

	incidentsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mend",
			Name:      "incidents_open",
			Help:      "Currently open incidents.",
		},
	)

	validationScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mend",
			Name:      "validation_score",
			Help:      "Aggregate validation score of the last cycle (0-100).",
		},
	)

	systemHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mend",
			Name:      "system_health",
			Help:      "Discrete system health (4=optimal, 0=emergency).",
		},
	)
)

// Register attaches mend-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		errorsDetectedTotal,
		repairsTotal,
		rollbacksTotal,
		incidentsOpen,
		validationScore,
		systemHealth,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records one completed cycle.
func ObserveCycle(rec models.CycleRecord) {
	cyclesTotal.Inc()
	duration := rec.EndedAt.Sub(rec.StartedAt)
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
	validationScore.Set(rec.ValidationScore)
	systemHealth.Set(healthValue(rec.Health))
}

// ObserveDetection counts a detected error by kind.
func ObserveDetection(kind models.ErrorKind) {
	errorsDetectedTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveRepair counts a terminal repair result.
func ObserveRepair(status models.RepairStatus) {
	repairsTotal.WithLabelValues(string(status)).Inc()
	if status == models.RepairRolledBack {
		rollbacksTotal.Inc()
	}
}

// SetOpenIncidents updates the open-incident gauge.
func SetOpenIncidents(n int) {
	incidentsOpen.Set(float64(n))
}

func healthValue(h models.SystemHealth) float64 {
	switch h {
	case models.HealthOptimal:
		return 4
	case models.HealthGood:
		return 3
	case models.HealthDegraded:
		return 2
	case models.HealthCritical:
		return 1
	default:
		return 0
	}
}
