package scheduler

import (
	"sync"

	"github.com/mendstack/mend-engine/internal/models"
)

// Assessor derives SystemHealth from a trailing window of aggregate
// validation scores. An empty window reads as healthy: health only starts
// to move once cycles produce evidence either way.
type Assessor struct {
	mu     sync.RWMutex
	window int
	scores []float64
}

// NewAssessor creates an assessor over the last window scores.
func NewAssessor(window int) *Assessor {
	if window <= 0 {
		window = 5
	}
	return &Assessor{window: window}
}

// Record appends one cycle's aggregate score and returns the resulting
// health state.
func (a *Assessor) Record(score float64) models.SystemHealth {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scores = append(a.scores, score)
	if len(a.scores) > a.window {
		a.scores = a.scores[len(a.scores)-a.window:]
	}
	return models.HealthForScore(a.average())
}

// Health reports the current state without recording a new score.
func (a *Assessor) Health() models.SystemHealth {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return models.HealthForScore(a.average())
}

// Average exposes the trailing mean score, mainly for status output.
func (a *Assessor) Average() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.average()
}

func (a *Assessor) average() float64 {
	if len(a.scores) == 0 {
		return 100
	}
	var sum float64
	for _, s := range a.scores {
		sum += s
	}
	return sum / float64(len(a.scores))
}
