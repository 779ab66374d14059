// Package main is the entry point of the Certification Hub API.
//
// The API serves learner progress, exam attempts and certificates over HTTP
// and runs the certification gate in-process: completing the last unit or
// passing the exam issues the certificate before the response is written.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coursehub/certification-hub/config"
	"github.com/coursehub/certification-hub/internal/application/command"
	"github.com/coursehub/certification-hub/internal/application/query"
	"github.com/coursehub/certification-hub/internal/bootstrap"
	httpserver "github.com/coursehub/certification-hub/internal/interface/http"
	"github.com/coursehub/certification-hub/pkg/logger"
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
	log.Info("starting Certification Hub API",
		"env", cfg.App.Environment,
		"features", cfg.Features.Enabled(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	if err := infra.Gate.Register(infra.Bus); err != nil {
		return fmt.Errorf("failed to register certification gate: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		MarkUnitComplete: command.NewMarkUnitCompleteHandler(infra.Catalog, infra.Progress, infra.Bus, log),
		StartAttempt:     command.NewStartAttemptHandler(infra.Catalog, infra.Enrollments, infra.Attempts, infra.Bus, log),
		SaveAnswer:       command.NewSaveAnswerHandler(infra.Attempts),
		SubmitAttempt:    command.NewSubmitAttemptHandler(infra.Attempts, infra.Bus, log),

		GetProgress:       query.NewGetProgressHandler(infra.Catalog, infra.Progress),
		GetStatus:         query.NewGetStatusHandler(infra.Progress),
		GetAttempt:        query.NewGetAttemptHandler(infra.Attempts),
		GetAttemptHistory: query.NewGetAttemptHistoryHandler(infra.Attempts),
		GetCertificate:    query.NewGetCertificateHandler(infra.Certificates),

		Logger:        newHTTPLogger(cfg),
		HealthChecker: infra.HealthChecker(),
	}
	if cfg.Features.IsEnabled(config.FeatureVerification) {
		deps.VerifyCertificate = query.NewVerifyCertificateHandler(infra.Certificates)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMin
	serverCfg.UserHeader = cfg.HTTP.UserHeader
	serverCfg.Version = cfg.App.Version

	server := httpserver.NewServer(serverCfg, deps)
	errCh := server.StartAsync()

	log.Info("Certification Hub API is running", "address", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return nil
}

// newHTTPLogger builds the request logger used by the HTTP layer.
func newHTTPLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}
