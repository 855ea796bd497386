package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// depPassScore is the minimum score a suite must reach for dependent suites
// to be allowed to run.
const depPassScore = 50

// Suite is one independent verification check. Check returns a 0-100 score
// and a list of issues; an error means the suite itself broke and is scored
// 0, never silently skipped.
type Suite interface {
	ID() string
	DependsOn() []string
	Check(ctx context.Context, plan models.RepairPlan, result models.RepairResult) (float64, []string, error)
}

// Validator runs the suites a plan names, honouring declared dependencies,
// and aggregates their scores into a weighted mean.
type Validator struct {
	suites  map[string]Suite
	weights map[string]float64
	timeout time.Duration
	logger  *slog.Logger
}

// New constructs a Validator. Suites without an explicit weight count with
// weight 1.
func New(logger *slog.Logger, timeout time.Duration, weights map[string]float64, suites ...Suite) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	byID := make(map[string]Suite, len(suites))
	for _, s := range suites {
		byID[s.ID()] = s
	}
	return &Validator{suites: byID, weights: weights, timeout: timeout, logger: logger}
}

// Validate runs the plan's suites in dependency waves; suites within a wave
// run in parallel. A suite whose dependency did not pass scores 0 with the
// reason recorded as an issue.
func (v *Validator) Validate(ctx context.Context, plan models.RepairPlan, result models.RepairResult) []models.ValidationOutcome {
	pending := make(map[string]Suite, len(plan.ValidationSuites))
	for _, id := range plan.ValidationSuites {
		suite, ok := v.suites[id]
		if !ok {
			v.logger.Warn("plan references unknown validation suite", slog.String("suite", id), slog.String("plan_id", plan.ID))
			continue
		}
		pending[id] = suite
	}

	scores := make(map[string]float64)
	var outcomes []models.ValidationOutcome

	for len(pending) > 0 {
		wave := make([]Suite, 0, len(pending))
		for id, suite := range pending {
			if v.depsDecided(suite, scores, pending) {
				wave = append(wave, suite)
				delete(pending, id)
			}
		}
		if len(wave) == 0 {
			// Remaining suites form a dependency cycle; fail them closed.
			for id := range pending {
				outcomes = append(outcomes, models.ValidationOutcome{
					SuiteID: id,
					Score:   0,
					Issues:  []string{"dependency cycle among validation suites"},
				})
				delete(pending, id)
			}
			break
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, suite := range wave {
			wg.Add(1)
			go func(s Suite) {
				defer wg.Done()
				outcome := v.runSuite(ctx, s, plan, result, scores)
				mu.Lock()
				scores[s.ID()] = outcome.Score
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}(suite)
		}
		wg.Wait()
	}

	return outcomes
}

func (v *Validator) depsDecided(suite Suite, scores map[string]float64, pending map[string]Suite) bool {
	for _, dep := range suite.DependsOn() {
		if _, stillPending := pending[dep]; stillPending {
			return false
		}
	}
	return true
}

func (v *Validator) runSuite(ctx context.Context, suite Suite, plan models.RepairPlan, result models.RepairResult, scores map[string]float64) models.ValidationOutcome {
	start := time.Now()

	for _, dep := range suite.DependsOn() {
		if score, ran := scores[dep]; ran && score < depPassScore {
			return models.ValidationOutcome{
				SuiteID:  suite.ID(),
				Score:    0,
				Issues:   []string{fmt.Sprintf("dependency suite %s did not pass (score %.0f)", dep, score)},
				Duration: time.Since(start),
			}
		}
	}

	suiteCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	score, issues, err := suite.Check(suiteCtx, plan, result)
	if err != nil {
		return models.ValidationOutcome{
			SuiteID:  suite.ID(),
			Score:    0,
			Issues:   append(issues, fmt.Sprintf("suite error: %v", err)),
			Duration: time.Since(start),
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return models.ValidationOutcome{
		SuiteID:  suite.ID(),
		Score:    score,
		Issues:   issues,
		Duration: time.Since(start),
	}
}

// Aggregate folds suite outcomes into one weighted-mean score. No outcomes
// aggregates to 100: a plan with nothing to verify has nothing failing.
func (v *Validator) Aggregate(outcomes []models.ValidationOutcome) float64 {
	if len(outcomes) == 0 {
		return 100
	}
	var sum, weightSum float64
	for _, o := range outcomes {
		w := 1.0
		if v.weights != nil {
			if configured, ok := v.weights[o.SuiteID]; ok && configured > 0 {
				w = configured
			}
		}
		sum += o.Score * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}
