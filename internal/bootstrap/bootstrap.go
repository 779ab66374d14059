// Package bootstrap wires the infrastructure shared by the api and worker
// binaries: database, optional Redis, catalog, repositories, renderer, event
// bus and the certification gate.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/coursehub/certification-hub/config"
	"github.com/coursehub/certification-hub/internal/application/command"
	"github.com/coursehub/certification-hub/internal/application/eventhandler"
	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/internal/infrastructure/external/renderer"
	"github.com/coursehub/certification-hub/internal/infrastructure/messaging"
	"github.com/coursehub/certification-hub/internal/infrastructure/persistence/postgres"
	"github.com/coursehub/certification-hub/internal/infrastructure/persistence/redis"
	"github.com/coursehub/certification-hub/internal/infrastructure/security"
	"github.com/coursehub/certification-hub/internal/interface/http/handlers"
)

// Infrastructure holds the long-lived collaborators of one process.
type Infrastructure struct {
	Config *config.Config
	Log    *slog.Logger

	DB    *postgres.Connection
	Cache *redis.Cache // nil when Redis is disabled or unreachable

	Catalog     course.Catalog
	Enrollments course.EnrollmentChecker // nil when the enrollment check is off

	Progress     *postgres.ProgressRepository
	Attempts     *postgres.AttemptRepository
	Certificates *postgres.CertificateRepository

	Renderer *renderer.Client
	Codes    *security.VerificationCodes
	Bus      shared.EventBus

	Issuer *command.IssueCertificateHandler
	Gate   *eventhandler.CertificationGate

	closers []func()
}

// Open connects everything in dependency order. On error the parts opened so
// far are closed again.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Infrastructure, err error) {
	infra := &Infrastructure{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	log.Info("connecting to database...")
	dbConfig := postgres.DefaultConfig(cfg.Database.URL)
	dbConfig.MaxConns = int32(cfg.Database.MaxConns)
	dbConfig.MinConns = int32(cfg.Database.MinConns)
	dbConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	infra.DB, err = postgres.NewConnection(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	infra.onClose(func() {
		log.Info("closing database connection...")
		infra.DB.Close()
	})
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(infra.DB).Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		log.Info("connecting to Redis...", "addr", redisCfg.Addr())
		cache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, running without cache", "error", err)
		} else {
			infra.Cache = cache
			infra.onClose(func() { _ = cache.Close() })
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Catalog and repositories
	// ─────────────────────────────────────────────────────────────────────────
	catalogRepo := postgres.NewCatalogRepository(infra.DB)
	infra.Catalog = catalogRepo
	if infra.Cache != nil && cfg.Features.IsEnabled(config.FeatureCatalogCache) {
		infra.Catalog = redis.NewCachedCatalog(catalogRepo, infra.Cache, cfg.Redis.CatalogTTL, log)
	}
	if cfg.Features.IsEnabled(config.FeatureRequireEnrollment) {
		infra.Enrollments = catalogRepo
	}

	infra.Progress = postgres.NewProgressRepository(infra.DB)
	infra.Attempts = postgres.NewAttemptRepository(infra.DB)
	infra.Certificates = postgres.NewCertificateRepository(infra.DB)

	// ─────────────────────────────────────────────────────────────────────────
	// Renderer and verification codes
	// ─────────────────────────────────────────────────────────────────────────
	rendererCfg := renderer.DefaultClientConfig(cfg.Renderer.BaseURL)
	rendererCfg.APIKey = cfg.Renderer.APIKey
	rendererCfg.Timeout = cfg.Renderer.RequestTimeout
	rendererCfg.MaxAttempts = cfg.Renderer.MaxAttempts
	rendererCfg.RetryBaseDelay = cfg.Renderer.RetryBaseDelay
	rendererCfg.RetryMaxDelay = cfg.Renderer.RetryMaxDelay
	rendererCfg.BreakerThreshold = cfg.Renderer.CircuitBreakerThreshold
	rendererCfg.BreakerTimeout = cfg.Renderer.CircuitBreakerTimeout
	rendererCfg.Logger = log
	infra.Renderer = renderer.NewClient(rendererCfg)

	secret := cfg.Certificate.VerificationSecret
	if secret == "" {
		log.Warn("CERTIFICATE_VERIFICATION_SECRET is empty, using an insecure development secret")
		secret = "development-only"
	}
	infra.Codes = security.NewVerificationCodes(secret)

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Async = cfg.EventBus.Async
	busConfig.Workers = cfg.EventBus.WorkerPoolSize
	busConfig.Logger = log

	if infra.Cache != nil && cfg.Features.IsEnabled(config.FeatureRedisEventMirror) {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:  redis.NewPubSub(infra.Cache),
			Channel: cfg.EventBus.RedisChannel,
			Local:   busConfig,
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start redis event bus: %w", err)
		}
		infra.Bus = redisBus
		infra.onClose(func() {
			log.Info("closing event bus...")
			_ = redisBus.Close()
		})
	} else {
		localBus := messaging.NewInMemoryEventBus(busConfig)
		infra.Bus = localBus
		infra.onClose(func() {
			log.Info("closing event bus...")
			_ = localBus.Close()
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Issuer and gate
	// ─────────────────────────────────────────────────────────────────────────
	infra.Issuer = command.NewIssueCertificateHandler(
		infra.Certificates, infra.Progress, infra.Renderer, infra.Codes, infra.Bus, log)

	gateConfig := eventhandler.DefaultGateConfig()
	if cfg.Certificate.IssueTimeout > 0 {
		gateConfig.EvaluateTimeout = cfg.Certificate.IssueTimeout
	}
	infra.Gate = eventhandler.NewCertificationGate(
		infra.Catalog, infra.Progress, infra.Attempts, infra.Certificates, infra.Issuer, gateConfig, log)

	return infra, nil
}

// HealthChecker returns a checker covering the database, the cache when
// present and, as an advisory check, the renderer breaker.
func (i *Infrastructure) HealthChecker() *handlers.CompositeHealthChecker {
	checker := handlers.NewCompositeHealthChecker(i.Config.App.Version)
	checker.Register("database", handlers.PingCheck(i.DB), handlers.WithDetail(i.DB.Stats))
	if i.Cache != nil {
		checker.Register("cache", handlers.PingCheck(i.Cache))
	}
	checker.Register("renderer", handlers.NewRendererCheck(i.Renderer), handlers.Advisory())
	return checker
}

// Close releases resources in reverse opening order.
func (i *Infrastructure) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
	i.closers = nil
}

func (i *Infrastructure) onClose(fn func()) {
	i.closers = append(i.closers, fn)
}

// SetupLogger configures the default slog logger: JSON in production or when
// LOG_FORMAT=json, text otherwise.
func SetupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || strings.EqualFold(cfg.Observability.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name, "version", cfg.App.Version)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
