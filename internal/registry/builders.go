package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mendstack/mend-engine/internal/models"
)

// BuilderOptions carries the deployment-specific inputs the plan builders
// weave into modification sets.
type BuilderOptions struct {
	InstallCommand     []string
	RestartCommand     []string
	SecurityConfigPath string
	TuningConfigPath   string
	HistoryPath        string
	CommandTimeout     time.Duration
	RollbackEnabled    bool
}

// Suite IDs referenced by plans; the validator owns their semantics.
const (
	SuiteSyntax      = "syntax"
	SuiteFunctional  = "functional"
	SuiteIntegrity   = "integrity"
	SuiteSecurity    = "security"
	SuitePerformance = "performance"
)

// builtinRules returns the default rule table. Priorities are spaced so a
// rule pack can slot overrides between them; specific failure classes
// (dependency, config) deliberately outrank the generic log-pattern rule.
func builtinRules(opts BuilderOptions) []Rule {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 60 * time.Second
	}

	return []Rule{
		{
			ID:       "dependency-install",
			Priority: 10,
			Matches: func(rec models.ErrorRecord) bool {
				if rec.Kind == models.ErrorKindDependency {
					return true
				}
				ev := strings.ToLower(rec.Evidence)
				return strings.Contains(ev, "modulenotfound") ||
					strings.Contains(ev, "module not found") ||
					strings.Contains(ev, "cannot find module") ||
					strings.Contains(ev, "cannot find package")
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				pkg := rec.Source
				return newPlan(rec, "dependency-install", models.StrategyImmediate, false,
					[]string{pkg},
					[]string{SuiteSyntax, SuiteFunctional},
					models.Modification{
						Kind:     models.ModRunCommand,
						Resource: pkg,
						Command:  append(append([]string{}, opts.InstallCommand...), pkg),
						Timeout:  opts.CommandTimeout,
					},
				)
			},
		},
		{
			ID:       "config-restore",
			Priority: 20,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindConfig
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				return newPlan(rec, "config-restore", models.StrategyConservative, opts.RollbackEnabled,
					[]string{rec.Source},
					[]string{SuiteSyntax, SuiteIntegrity},
					models.Modification{
						Kind:     models.ModCreateResource,
						Resource: rec.Source,
						Content:  minimalConfigTemplate(rec.Source),
					},
				)
			},
		},
		{
			ID:       "integrity-repair",
			Priority: 30,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindIntegrity
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				content := "{}\n"
				if rec.Source == opts.HistoryPath {
					content = "[]\n"
				}
				return newPlan(rec, "integrity-repair", models.StrategyConservative, opts.RollbackEnabled,
					[]string{rec.Source},
					[]string{SuiteIntegrity},
					models.Modification{
						Kind:     models.ModCreateResource,
						Resource: rec.Source,
						Content:  content,
					},
				)
			},
		},
		{
			ID:       "security-harden",
			Priority: 40,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindSecurity && opts.SecurityConfigPath != ""
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				directive := hardeningDirective(rec.Evidence)
				return newPlan(rec, "security-harden", models.StrategyConservative, opts.RollbackEnabled,
					[]string{opts.SecurityConfigPath},
					[]string{SuiteSyntax, SuiteSecurity},
					models.Modification{
						Kind:     models.ModInsertText,
						Resource: opts.SecurityConfigPath,
						Content:  directive,
					},
				)
			},
		},
		{
			ID:       "endpoint-restart",
			Priority: 50,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindEndpoint && len(opts.RestartCommand) > 0
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				return newPlan(rec, "endpoint-restart", models.StrategyAggressive, false,
					[]string{rec.Source},
					[]string{SuiteFunctional, SuitePerformance},
					models.Modification{
						Kind:     models.ModRunCommand,
						Resource: rec.Source,
						Command:  append([]string{}, opts.RestartCommand...),
						Timeout:  opts.CommandTimeout,
					},
				)
			},
		},
		{
			ID:       "performance-tune",
			Priority: 60,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindPerformance && opts.TuningConfigPath != ""
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				return newPlan(rec, "performance-tune", models.StrategyProgressive, opts.RollbackEnabled,
					[]string{opts.TuningConfigPath},
					[]string{SuiteSyntax, SuitePerformance},
					models.Modification{
						Kind:     models.ModInsertText,
						Resource: opts.TuningConfigPath,
						Content:  fmt.Sprintf("# tuned for %s\nslowRequestBudget: 2s\n", rec.Source),
					},
				)
			},
		},
		{
			ID:       "runtime-restart",
			Priority: 70,
			Matches: func(rec models.ErrorRecord) bool {
				return rec.Kind == models.ErrorKindLogPattern &&
					rec.Severity.Rank() >= models.SeverityHigh.Rank() &&
					len(opts.RestartCommand) > 0
			},
			Build: func(rec models.ErrorRecord) models.RepairPlan {
				return newPlan(rec, "runtime-restart", models.StrategyProgressive, false,
					[]string{rec.Source},
					[]string{SuiteFunctional},
					models.Modification{
						Kind:     models.ModRunCommand,
						Resource: rec.Source,
						Command:  append([]string{}, opts.RestartCommand...),
						Timeout:  opts.CommandTimeout,
					},
				)
			},
		},
	}
}

func newPlan(rec models.ErrorRecord, ruleID string, strategy models.RepairStrategy, rollback bool,
	targets, suites []string, mods ...models.Modification) models.RepairPlan {
	return models.RepairPlan{
		ID:               uuid.NewString(),
		ErrorRecordID:    rec.ID,
		ErrorSignature:   rec.Signature(),
		RuleID:           ruleID,
		Strategy:         strategy,
		TargetResources:  targets,
		Modifications:    mods,
		RollbackAllowed:  rollback,
		ValidationSuites: suites,
	}
}

func minimalConfigTemplate(path string) string {
	return fmt.Sprintf("# regenerated by mend-engine\n# original %s was missing or unparsable\n", path)
}

func hardeningDirective(evidence string) string {
	switch {
	case strings.Contains(evidence, "sql-injection"):
		return "sqlSanitizer: strict\n"
	case strings.Contains(evidence, "xss-attempt"):
		return "htmlEscape: always\n"
	case strings.Contains(evidence, "path-traversal"):
		return "pathNormalization: enforce\n"
	case strings.Contains(evidence, "auth-failure"), strings.Contains(evidence, "credential-error"):
		return "authRateLimit: aggressive\n"
	default:
		return "auditLogging: verbose\n"
	}
}
