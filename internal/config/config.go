package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the repair engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Detect     DetectConfig     `yaml:"detect"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Repair     RepairConfig     `yaml:"repair"`
	Validation ValidationConfig `yaml:"validation"`
	Rollback   RollbackConfig   `yaml:"rollback"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Counters   CountersConfig   `yaml:"counters"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig controls the loopback admin listener and metrics exposure.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MonitorConfig names the collaborator surfaces the engine observes.
type MonitorConfig struct {
	// HealthEndpoints are GET targets expected to answer 2xx with a status payload.
	HealthEndpoints []string `yaml:"healthEndpoints"`
	// LogFiles are tailable plain-text logs, newest-last.
	LogFiles []string `yaml:"logFiles"`
	// RequiredFiles must exist for the configuration check to pass.
	RequiredFiles []string `yaml:"requiredFiles"`
	// RequiredCommands must resolve on PATH for the dependency check to pass.
	RequiredCommands []string `yaml:"requiredCommands"`
}

// DetectConfig bounds detector behaviour.
type DetectConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	LogTailLines int           `yaml:"logTailLines"`
	DedupWindow  time.Duration `yaml:"dedupWindow"`
}

// SchedulerConfig drives the control-loop cadence and fan-out.
type SchedulerConfig struct {
	BaseInterval       time.Duration `yaml:"baseInterval"`
	EmergencyThreshold int           `yaml:"emergencyThreshold"`
	RapidThreshold     int           `yaml:"rapidThreshold"`
	MaxRepairsPerCycle int           `yaml:"maxRepairsPerCycle"`
	MaxParallelRepairs int           `yaml:"maxParallelRepairs"`
	HistoryLength      int           `yaml:"historyLength"`
	HistoryPath        string        `yaml:"historyPath"`
	HealthWindow       int           `yaml:"healthWindow"`
	SuccessStreak      int           `yaml:"successStreak"`
}

// RepairConfig controls plan building and execution.
type RepairConfig struct {
	RulesPath      string        `yaml:"rulesPath"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	// InstallCommand is the argv prefix used to install a missing package;
	// the package name is appended.
	InstallCommand []string `yaml:"installCommand"`
	// RestartCommand restarts the monitored service.
	RestartCommand []string `yaml:"restartCommand"`
	// SecurityConfigPath is the hardening config the security rule patches.
	SecurityConfigPath string `yaml:"securityConfigPath"`
	// TuningConfigPath is the tuning file the performance rule patches.
	TuningConfigPath string `yaml:"tuningConfigPath"`
}

// ValidationConfig controls suite execution and acceptance.
type ValidationConfig struct {
	Timeout         time.Duration      `yaml:"timeout"`
	AcceptThreshold float64            `yaml:"acceptThreshold"`
	SuiteWeights    map[string]float64 `yaml:"suiteWeights"`
	LatencyBudget   time.Duration      `yaml:"latencyBudget"`
}

// RollbackConfig controls snapshotting and restore.
type RollbackConfig struct {
	Enabled       bool          `yaml:"enabled"`
	StorePath     string        `yaml:"storePath"`
	InMemory      bool          `yaml:"inMemory"`
	Retention     time.Duration `yaml:"retention"`
	PurgeInterval time.Duration `yaml:"purgeInterval"`
}

// IncidentsConfig controls escalation behaviour and the incident store.
type IncidentsConfig struct {
	StorePath           string        `yaml:"storePath"`
	InMemory            bool          `yaml:"inMemory"`
	RecurrenceThreshold int           `yaml:"recurrenceThreshold"`
	CleanCyclesToClose  int           `yaml:"cleanCyclesToClose"`
	SignatureOverlap    float64       `yaml:"signatureOverlap"`
	SourceDedupWindow   time.Duration `yaml:"sourceDedupWindow"`
}

// CountersConfig points at the monitored application's error-metrics snapshot
// published into a Valkey/Redis-compatible store.
type CountersConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	Threshold    int64         `yaml:"threshold"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// AuditConfig controls the repair audit trail.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
// Unknown keys are rejected so misspelled options fail at startup instead of
// silently falling back to defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MEND_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.BaseInterval <= 0 {
		return fmt.Errorf("scheduler.baseInterval must be positive")
	}
	if c.Scheduler.EmergencyThreshold < c.Scheduler.RapidThreshold {
		return fmt.Errorf("scheduler.emergencyThreshold (%d) must be >= rapidThreshold (%d)",
			c.Scheduler.EmergencyThreshold, c.Scheduler.RapidThreshold)
	}
	if c.Scheduler.MaxParallelRepairs <= 0 {
		return fmt.Errorf("scheduler.maxParallelRepairs must be positive")
	}
	if c.Scheduler.MaxRepairsPerCycle <= 0 {
		return fmt.Errorf("scheduler.maxRepairsPerCycle must be positive")
	}
	if c.Validation.AcceptThreshold < 0 || c.Validation.AcceptThreshold > 100 {
		return fmt.Errorf("validation.acceptThreshold must be within [0,100]")
	}
	if c.Incidents.SignatureOverlap <= 0 || c.Incidents.SignatureOverlap > 1 {
		return fmt.Errorf("incidents.signatureOverlap must be within (0,1]")
	}
	if c.Counters.Enabled && c.Counters.Addr == "" {
		return fmt.Errorf("counters.addr is required when counters.enabled is true")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:7933",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detect: DetectConfig{
			Timeout:      15 * time.Second,
			LogTailLines: 200,
			DedupWindow:  60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			BaseInterval:       15 * time.Second,
			EmergencyThreshold: 10,
			RapidThreshold:     5,
			MaxRepairsPerCycle: 10,
			MaxParallelRepairs: 3,
			HistoryLength:      100,
			HistoryPath:        "data/cycles.json",
			HealthWindow:       5,
			SuccessStreak:      0,
		},
		Repair: RepairConfig{
			RulesPath:      "configs/rules/default.yaml",
			CommandTimeout: 60 * time.Second,
		},
		Validation: ValidationConfig{
			Timeout:         30 * time.Second,
			AcceptThreshold: 85,
			LatencyBudget:   2 * time.Second,
		},
		Rollback: RollbackConfig{
			Enabled:       true,
			StorePath:     "data/snapshots",
			Retention:     7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Incidents: IncidentsConfig{
			StorePath:           "data/incidents",
			RecurrenceThreshold: 3,
			CleanCyclesToClose:  3,
			SignatureOverlap:    0.7,
			SourceDedupWindow:   time.Hour,
		},
		Counters: CountersConfig{
			Enabled:      false,
			Key:          "mend:error-counters",
			Threshold:    10,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Audit: AuditConfig{Path: "data/repairs.audit.jsonl"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEND_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MEND_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEND_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MEND_BASE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.BaseInterval = d
		}
	}
	if v := os.Getenv("MEND_MAX_PARALLEL_REPAIRS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxParallelRepairs = n
		}
	}
	if v := os.Getenv("MEND_RULES_PATH"); v != "" {
		cfg.Repair.RulesPath = v
	}
	if v := os.Getenv("MEND_ROLLBACK_ENABLED"); v != "" {
		cfg.Rollback.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MEND_COUNTERS_ADDR"); v != "" {
		cfg.Counters.Addr = v
		cfg.Counters.Enabled = true
	}
	if v := os.Getenv("MEND_COUNTERS_PASSWORD"); v != "" {
		cfg.Counters.Password = v
	}
}
