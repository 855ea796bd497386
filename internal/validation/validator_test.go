package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendstack/mend-engine/internal/models"
)

type scriptedSuite struct {
	id     string
	deps   []string
	score  float64
	issues []string
	err    error
	ran    bool
}

func (s *scriptedSuite) ID() string          { return s.id }
func (s *scriptedSuite) DependsOn() []string { return s.deps }

func (s *scriptedSuite) Check(context.Context, models.RepairPlan, models.RepairResult) (float64, []string, error) {
	s.ran = true
	return s.score, s.issues, s.err
}

func planFor(suites ...string) models.RepairPlan {
	return models.RepairPlan{ID: "plan", ValidationSuites: suites}
}

func TestValidateFailsClosedOnSuiteError(t *testing.T) {
	broken := &scriptedSuite{id: "broken", err: errors.New("harness exploded")}
	healthy := &scriptedSuite{id: "healthy", score: 100}
	v := New(nil, time.Second, nil, broken, healthy)

	outcomes := v.Validate(context.Background(), planFor("broken", "healthy"), models.RepairResult{})
	require.Len(t, outcomes, 2)

	byID := map[string]models.ValidationOutcome{}
	for _, o := range outcomes {
		byID[o.SuiteID] = o
	}
	assert.Equal(t, float64(0), byID["broken"].Score)
	assert.NotEmpty(t, byID["broken"].Issues, "suite error must surface as an issue")
	assert.Equal(t, float64(100), byID["healthy"].Score, "sibling suites are unaffected")
}

func TestValidateGatesDependentSuites(t *testing.T) {
	syntax := &scriptedSuite{id: "syntax", score: 10}
	functional := &scriptedSuite{id: "functional", deps: []string{"syntax"}, score: 100}
	v := New(nil, time.Second, nil, syntax, functional)

	outcomes := v.Validate(context.Background(), planFor("syntax", "functional"), models.RepairResult{})
	require.Len(t, outcomes, 2)

	byID := map[string]models.ValidationOutcome{}
	for _, o := range outcomes {
		byID[o.SuiteID] = o
	}
	assert.Equal(t, float64(0), byID["functional"].Score)
	assert.False(t, functional.ran, "dependent suite must not run when its dependency failed")
}

func TestValidateBreaksDependencyCycles(t *testing.T) {
	a := &scriptedSuite{id: "a", deps: []string{"b"}, score: 100}
	b := &scriptedSuite{id: "b", deps: []string{"a"}, score: 100}
	v := New(nil, time.Second, nil, a, b)

	outcomes := v.Validate(context.Background(), planFor("a", "b"), models.RepairResult{})
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, float64(0), o.Score, "cyclic suites fail closed")
	}
}

func TestAggregateWeightedMean(t *testing.T) {
	v := New(nil, time.Second, map[string]float64{"syntax": 1, "security": 3})

	outcomes := []models.ValidationOutcome{
		{SuiteID: "syntax", Score: 100},
		{SuiteID: "security", Score: 0},
	}
	assert.InDelta(t, 25.0, v.Aggregate(outcomes), 0.001)

	assert.Equal(t, float64(100), v.Aggregate(nil), "nothing to verify aggregates to 100")
}

func TestSyntaxSuiteScoresModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("listen: 8080\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("listen: [unclosed\n"), 0o644))

	score, issues, err := SyntaxSuite{}.Check(context.Background(), models.RepairPlan{}, models.RepairResult{
		ResourcesModified: []string{good, bad},
	})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, score, 0.001)
	assert.Len(t, issues, 1)
}

func TestSecuritySuiteFlagsForbiddenContent(t *testing.T) {
	dir := t.TempDir()
	leaky := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(leaky, []byte("password: hunter22\n"), 0o644))

	score, issues, err := SecuritySuite{}.Check(context.Background(), models.RepairPlan{}, models.RepairResult{
		ResourcesModified: []string{leaky},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(0), score)
	assert.NotEmpty(t, issues)
}
