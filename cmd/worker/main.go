// Package main is the entry point of the Certification Hub worker.
//
// The worker runs periodic jobs. Today that is the certificate
// reconciliation pass, which issues certificates whose event-driven issuance
// failed or never ran.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursehub/certification-hub/config"
	"github.com/coursehub/certification-hub/internal/bootstrap"
	"github.com/coursehub/certification-hub/internal/infrastructure/scheduler"
	"github.com/coursehub/certification-hub/internal/infrastructure/scheduler/jobs"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.SetupLogger(cfg)
	log.Info("starting Certification Hub worker",
		"env", cfg.App.Environment,
		"features", cfg.Features.Enabled(),
	)

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       log,
		TickInterval: time.Second,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		RunOnStart:   true,
	})

	if cfg.Features.IsEnabled(config.FeatureReconcileJob) {
		// A nil *redis.Cache must not become a non-nil Locker.
		var locker jobs.Locker
		if infra.Cache != nil {
			locker = infra.Cache
		}

		reconcile := jobs.NewReconcileCertificatesJob(infra.Progress, infra.Gate, locker,
			jobs.ReconcileCertificatesConfig{
				BatchSize:   cfg.Scheduler.ReconcileBatchSize,
				Concurrency: cfg.Scheduler.ReconcileConcurrency,
				LockTTL:     cfg.Scheduler.JobTimeout,
			}, log)

		var schedule scheduler.Schedule = scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval).
			WithJitter(cfg.Scheduler.ReconcileInterval / 10)
		if expr := cfg.Scheduler.ReconcileCron; expr != "" {
			cron, err := scheduler.ParseCron(expr, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid SCHEDULER_RECONCILE_CRON: %w", err)
			}
			schedule = cron
		}
		if err := sched.Register(reconcile, schedule); err != nil {
			return fmt.Errorf("failed to register %s: %w", reconcile.Name(), err)
		}
	}

	if len(sched.ListJobs()) == 0 {
		log.Info("no jobs enabled, exiting")
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, job := range sched.ListJobs() {
		log.Info("job registered", "job", job.Name, "schedule", job.Schedule)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("stopping scheduler...")
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", "error", err)
	}

	snapshot := sched.GetMetrics().Snapshot()
	log.Info("shutdown completed",
		"executions", snapshot.TotalExecutions,
		"failures", snapshot.TotalFailures,
	)
	return nil
}
