package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mendstack/mend-engine/internal/models"
)

// SyntaxSuite verifies that every file the repair touched still parses for
// its format. Unknown formats only need to be readable.
type SyntaxSuite struct{}

func (SyntaxSuite) ID() string          { return "syntax" }
func (SyntaxSuite) DependsOn() []string { return nil }

func (SyntaxSuite) Check(_ context.Context, _ models.RepairPlan, result models.RepairResult) (float64, []string, error) {
	if len(result.ResourcesModified) == 0 {
		return 100, nil, nil
	}

	var issues []string
	ok := 0
	for _, res := range result.ResourcesModified {
		data, err := os.ReadFile(res)
		if err != nil {
			if os.IsNotExist(err) {
				// Command-style resources (packages, services) have no file.
				ok++
				continue
			}
			issues = append(issues, fmt.Sprintf("%s unreadable: %v", res, err))
			continue
		}
		switch strings.ToLower(filepath.Ext(res)) {
		case ".yaml", ".yml":
			var probe any
			if err := yaml.Unmarshal(data, &probe); err != nil {
				issues = append(issues, fmt.Sprintf("%s: yaml parse: %v", res, err))
				continue
			}
		case ".json":
			if !json.Valid(data) {
				issues = append(issues, fmt.Sprintf("%s: invalid json", res))
				continue
			}
		}
		ok++
	}
	return 100 * float64(ok) / float64(len(result.ResourcesModified)), issues, nil
}

// FunctionalSuite smoke-tests the monitored service's health endpoints.
// It depends on syntax passing first.
type FunctionalSuite struct {
	Endpoints []string
	Client    *http.Client
}

// NewFunctionalSuite constructs the smoke-test suite.
func NewFunctionalSuite(endpoints []string, timeout time.Duration) *FunctionalSuite {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FunctionalSuite{Endpoints: endpoints, Client: &http.Client{Timeout: timeout}}
}

func (*FunctionalSuite) ID() string          { return "functional" }
func (*FunctionalSuite) DependsOn() []string { return []string{"syntax"} }

func (s *FunctionalSuite) Check(ctx context.Context, _ models.RepairPlan, _ models.RepairResult) (float64, []string, error) {
	if len(s.Endpoints) == 0 {
		return 100, nil, nil
	}
	var issues []string
	healthy := 0
	for _, endpoint := range s.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			healthy++
		} else {
			issues = append(issues, fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode))
		}
	}
	return 100 * float64(healthy) / float64(len(s.Endpoints)), issues, nil
}

// IntegritySuite confirms the repair left its target resources in a usable
// state: created files exist and nothing was left zero-byte unexpectedly.
type IntegritySuite struct{}

func (IntegritySuite) ID() string          { return "integrity" }
func (IntegritySuite) DependsOn() []string { return nil }

func (IntegritySuite) Check(_ context.Context, plan models.RepairPlan, result models.RepairResult) (float64, []string, error) {
	checked := 0
	ok := 0
	var issues []string
	for _, mod := range plan.Modifications {
		if mod.Kind != models.ModCreateResource && mod.Kind != models.ModInsertText && mod.Kind != models.ModReplaceText {
			continue
		}
		checked++
		info, err := os.Stat(mod.Resource)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s missing after repair: %v", mod.Resource, err))
			continue
		}
		if !info.IsDir() && info.Size() == 0 && mod.Content != "" {
			issues = append(issues, fmt.Sprintf("%s is empty after repair", mod.Resource))
			continue
		}
		ok++
	}
	if checked == 0 {
		return 100, nil, nil
	}
	return 100 * float64(ok) / float64(checked), issues, nil
}

// forbiddenPatterns flags content a repair must never introduce.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[:=]\s*["']?[^"'\s]{4,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret)\s*[:=]\s*["']?[A-Za-z0-9/+]{12,}`),
	regexp.MustCompile(`(?i)auth\s*[:=]\s*(off|disabled|false)`),
	regexp.MustCompile(`(?i)tls\s*[:=]\s*(off|disabled|false)`),
}

// SecuritySuite scans modified file content for patterns that weaken the
// monitored system: inlined credentials or disabled auth/TLS.
type SecuritySuite struct{}

func (SecuritySuite) ID() string          { return "security" }
func (SecuritySuite) DependsOn() []string { return nil }

func (SecuritySuite) Check(_ context.Context, _ models.RepairPlan, result models.RepairResult) (float64, []string, error) {
	var issues []string
	for _, res := range result.ResourcesModified {
		data, err := os.ReadFile(res)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, nil, fmt.Errorf("read %s: %w", res, err)
		}
		for _, re := range forbiddenPatterns {
			if re.Match(data) {
				issues = append(issues, fmt.Sprintf("%s contains forbidden pattern %s", res, re.String()))
			}
		}
	}
	if len(issues) > 0 {
		return 0, issues, nil
	}
	return 100, nil, nil
}

// PerformanceSuite measures health-endpoint latency against the budget.
type PerformanceSuite struct {
	Endpoints []string
	Budget    time.Duration
	Client    *http.Client
}

// NewPerformanceSuite constructs the latency check.
func NewPerformanceSuite(endpoints []string, budget, timeout time.Duration) *PerformanceSuite {
	if budget <= 0 {
		budget = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PerformanceSuite{Endpoints: endpoints, Budget: budget, Client: &http.Client{Timeout: timeout}}
}

func (*PerformanceSuite) ID() string          { return "performance" }
func (*PerformanceSuite) DependsOn() []string { return nil }

func (s *PerformanceSuite) Check(ctx context.Context, _ models.RepairPlan, _ models.RepairResult) (float64, []string, error) {
	if len(s.Endpoints) == 0 {
		return 100, nil, nil
	}
	var issues []string
	total := 0.0
	for _, endpoint := range s.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		start := time.Now()
		resp, err := s.Client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		resp.Body.Close()
		if elapsed <= s.Budget {
			total += 100
			continue
		}
		// Linear falloff from 100 at the budget to 0 at four times it.
		ratio := float64(elapsed) / float64(s.Budget)
		score := 100 - (ratio-1)*100/3
		if score < 0 {
			score = 0
		}
		total += score
		issues = append(issues, fmt.Sprintf("%s latency %s over budget %s", endpoint, elapsed.Round(time.Millisecond), s.Budget))
	}
	return total / float64(len(s.Endpoints)), issues, nil
}
