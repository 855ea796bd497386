package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mendstack/mend-engine/internal/api"
	"github.com/mendstack/mend-engine/internal/audit"
	"github.com/mendstack/mend-engine/internal/config"
	"github.com/mendstack/mend-engine/internal/detect"
	"github.com/mendstack/mend-engine/internal/executor"
	"github.com/mendstack/mend-engine/internal/incidents"
	"github.com/mendstack/mend-engine/internal/kvstore"
	"github.com/mendstack/mend-engine/internal/metrics"
	"github.com/mendstack/mend-engine/internal/registry"
	"github.com/mendstack/mend-engine/internal/rollback"
	"github.com/mendstack/mend-engine/internal/scheduler"
	"github.com/mendstack/mend-engine/internal/services"
	"github.com/mendstack/mend-engine/internal/utils"
	"github.com/mendstack/mend-engine/internal/validation"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the repair loop until stopped or the clean-cycle streak is reached",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if adminAddr != "" {
		cfg.Server.Address = adminAddr
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	eng, err := buildEngine(logger, cfg)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer eng.close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("register metrics: %w", err)}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	adminSrv, err := api.NewServer(logger, cfg.Server, eng.status, cancel)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	go func() {
		if err := adminSrv.Start(); err != nil {
			logger.Error("admin server failed", slog.Any("error", err))
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("mend-engine started",
		slog.String("admin", adminSrv.Address()),
		slog.String("metrics", cfg.Server.MetricsAddress),
		slog.Duration("base_interval", cfg.Scheduler.BaseInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.sched.Run(ctx) }()

	var loopErr error
	forced := false
	select {
	case loopErr = <-runErr:
	case <-ctx.Done():
		// Give the loop until the graceful timeout to reach a safe point;
		// a second signal or the deadline forces the exit.
		select {
		case loopErr = <-runErr:
		case <-sigCh:
			forced = true
		case <-time.After(cfg.Server.GracefulTimeout):
			forced = true
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown incomplete", slog.Any("error", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown incomplete", slog.Any("error", err))
	}

	switch {
	case forced:
		logger.Warn("forced stop before the loop reached a safe point")
		return &exitError{code: 2}
	case errors.Is(loopErr, scheduler.ErrStreakReached), loopErr == nil:
		logger.Info("mend-engine stopped")
		return nil
	default:
		logger.Error("scheduler failed", slog.Any("error", loopErr))
		return &exitError{code: 1, err: loopErr}
	}
}

// engine bundles everything runStart wires together so shutdown can close
// the stores in one place.
type engine struct {
	sched  *scheduler.Scheduler
	status *services.StatusService

	counters  kvstore.Store
	snapshots rollback.SnapshotStore
	incidents incidents.Store
	audit     *audit.Writer
}

func (e *engine) close() {
	if e.audit != nil {
		e.audit.Close()
	}
	if e.snapshots != nil {
		e.snapshots.Close()
	}
	if e.incidents != nil {
		e.incidents.Close()
	}
	if e.counters != nil {
		e.counters.Close()
	}
}

func buildEngine(logger *slog.Logger, cfg *config.Config) (*engine, error) {
	eng := &engine{}

	detectors := []detect.Detector{
		detect.NewEndpointDetector(cfg.Monitor.HealthEndpoints, cfg.Detect.Timeout, cfg.Validation.LatencyBudget),
		detect.NewLogScanDetector(cfg.Monitor.LogFiles, cfg.Detect.LogTailLines),
		detect.NewSecurityScanDetector(cfg.Monitor.LogFiles, cfg.Detect.LogTailLines),
		detect.NewDependencyDetector(cfg.Monitor.RequiredCommands),
		detect.NewConfigDetector(cfg.Monitor.RequiredFiles),
		detect.NewIntegrityDetector(cfg.Scheduler.HistoryPath, []string{cfg.Rollback.StorePath, cfg.Incidents.StorePath}),
	}

	if cfg.Counters.Enabled {
		store, err := kvstore.NewValkeyStore(kvstore.ValkeyConfig{
			Addr:         cfg.Counters.Addr,
			Username:     cfg.Counters.Username,
			Password:     cfg.Counters.Password,
			DB:           cfg.Counters.DB,
			DialTimeout:  cfg.Counters.DialTimeout,
			ReadTimeout:  cfg.Counters.ReadTimeout,
			WriteTimeout: cfg.Counters.WriteTimeout,
			MaxRetries:   cfg.Counters.MaxRetries,
			TLS:          cfg.Counters.TLS,
		})
		if err != nil {
			eng.close()
			return nil, fmt.Errorf("connect error-counter store: %w", err)
		}
		eng.counters = store
		detectors = append(detectors, detect.NewCounterDetector(store, cfg.Counters.Key, cfg.Counters.Threshold))
	}

	var rollbackMgr *rollback.Manager
	if cfg.Rollback.Enabled {
		snapStore, err := rollback.OpenBadgerSnapshotStore(cfg.Rollback.StorePath, cfg.Rollback.InMemory)
		if err != nil {
			eng.close()
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		eng.snapshots = snapStore
		rollbackMgr = rollback.NewManager(logger, snapStore, cfg.Rollback.Retention)
	}

	reg, err := registry.New(logger, cfg.Repair.RulesPath, registry.BuilderOptions{
		InstallCommand:     cfg.Repair.InstallCommand,
		RestartCommand:     cfg.Repair.RestartCommand,
		SecurityConfigPath: cfg.Repair.SecurityConfigPath,
		TuningConfigPath:   cfg.Repair.TuningConfigPath,
		HistoryPath:        cfg.Scheduler.HistoryPath,
		CommandTimeout:     cfg.Repair.CommandTimeout,
		RollbackEnabled:    cfg.Rollback.Enabled,
	})
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("build rule registry: %w", err)
	}

	incidentStore, err := incidents.OpenBadgerStore(cfg.Incidents.StorePath, cfg.Incidents.InMemory)
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	eng.incidents = incidentStore
	incidentMgr := incidents.NewManager(logger, incidentStore, incidents.Options{
		RecurrenceThreshold: cfg.Incidents.RecurrenceThreshold,
		CleanCyclesToClose:  cfg.Incidents.CleanCyclesToClose,
		SignatureOverlap:    cfg.Incidents.SignatureOverlap,
		SourceDedupWindow:   cfg.Incidents.SourceDedupWindow,
	})

	auditWriter, err := audit.NewWriter(cfg.Audit.Path)
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	eng.audit = auditWriter

	validator := validation.New(logger, cfg.Validation.Timeout, cfg.Validation.SuiteWeights,
		validation.SyntaxSuite{},
		validation.NewFunctionalSuite(cfg.Monitor.HealthEndpoints, cfg.Validation.Timeout),
		validation.IntegritySuite{},
		validation.SecuritySuite{},
		validation.NewPerformanceSuite(cfg.Monitor.HealthEndpoints, cfg.Validation.LatencyBudget, cfg.Validation.Timeout),
	)

	history := scheduler.NewHistory(cfg.Scheduler.HistoryLength, cfg.Scheduler.HistoryPath)
	if err := history.Load(); err != nil {
		logger.Warn("cycle history unreadable, starting fresh", slog.Any("error", err))
	}

	latency := utils.NewLatencyTracker(256)

	sched := scheduler.New(logger, cfg.Scheduler, cfg.Validation.AcceptThreshold, cfg.Rollback.PurgeInterval, scheduler.Deps{
		Runner:    detect.NewRunner(logger, cfg.Detect.Timeout, detectors...),
		Dedup:     detect.NewDeduplicator(cfg.Detect.DedupWindow),
		Registry:  reg,
		Executor:  executor.New(logger, rollbackMgr, cfg.Repair.CommandTimeout),
		Validator: validator,
		Rollback:  rollbackMgr,
		Incidents: incidentMgr,
		Audit:     auditWriter,
		History:   history,
		Latency:   latency,
	})

	eng.sched = sched
	eng.status = services.NewStatusService(sched, incidentMgr, reg, history, latency)
	return eng, nil
}
