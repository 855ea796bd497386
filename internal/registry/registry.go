package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mendstack/mend-engine/internal/models"
)

// Rule pairs a side-effect-free match predicate with a pure plan builder.
// Rules are evaluated in ascending priority order; the first match wins, so
// overlapping rules must be separated by explicit priorities.
type Rule struct {
	ID       string
	Priority int
	Matches  func(models.ErrorRecord) bool
	Build    func(models.ErrorRecord) models.RepairPlan
}

// Registry is the ordered repair rule table. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	rules  []Rule
	logger *slog.Logger
}

// packEntry is one YAML rule-pack override.
type packEntry struct {
	ID       string `yaml:"id"`
	Enabled  *bool  `yaml:"enabled"`
	Priority *int   `yaml:"priority"`
}

type packFile struct {
	Rules []packEntry `yaml:"rules"`
}

// New builds the registry from the built-in rule set, optionally reordered
// or disabled by the YAML pack at rulesPath. A missing pack file means the
// built-in defaults apply unchanged.
func New(logger *slog.Logger, rulesPath string, opts BuilderOptions) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules := builtinRules(opts)

	if rulesPath != "" {
		overrides, err := loadPack(rulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rule pack %s: %w", rulesPath, err)
		}
		rules, err = applyPack(rules, overrides)
		if err != nil {
			return nil, fmt.Errorf("apply rule pack %s: %w", rulesPath, err)
		}
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, r := range rules {
		logger.Debug("repair rule registered", slog.String("rule", r.ID), slog.Int("priority", r.Priority))
	}
	return &Registry{rules: rules, logger: logger}, nil
}

// Plan returns the repair plan for the first rule matching the record, or
// false when no rule applies.
func (r *Registry) Plan(rec models.ErrorRecord) (models.RepairPlan, bool) {
	for _, rule := range r.rules {
		if rule.Matches(rec) {
			return rule.Build(rec), true
		}
	}
	return models.RepairPlan{}, false
}

// Rules exposes the ordered rule IDs, mainly for status output and tests.
func (r *Registry) Rules() []string {
	ids := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

func loadPack(path string) ([]packEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var pack packFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	return pack.Rules, nil
}

func applyPack(rules []Rule, overrides []packEntry) ([]Rule, error) {
	byID := make(map[string]int, len(rules))
	for i, r := range rules {
		byID[r.ID] = i
	}

	disabled := make(map[string]bool)
	seen := make(map[string]bool)
	for _, o := range overrides {
		if seen[o.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", o.ID)
		}
		seen[o.ID] = true

		idx, ok := byID[o.ID]
		if !ok {
			return nil, fmt.Errorf("unknown rule id %q", o.ID)
		}
		if o.Enabled != nil && !*o.Enabled {
			disabled[o.ID] = true
		}
		if o.Priority != nil {
			rules[idx].Priority = *o.Priority
		}
	}

	kept := rules[:0]
	for _, r := range rules {
		if !disabled[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept, nil
}
