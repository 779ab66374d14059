// Package jobs contains implementations of scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coursehub/certification-hub/internal/application/eventhandler"
	"github.com/coursehub/certification-hub/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE CERTIFICATES JOB
// Re-runs the certification gate for content-complete records that still
// have no certificate reference. Picks up pairs whose issuance failed (for
// example because the renderer was down) and pairs whose completion event
// was lost. Each run continues where the previous one stopped and wraps at
// the end, so pairs that stay ineligible cannot hide the ones after them.
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator runs the certification gate for one pair.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, courseID string) (*eventhandler.Evaluation, error)
}

// Locker serializes the job across instances. Implemented by the Redis cache.
type Locker interface {
	AcquireLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource, owner string) error
}

// ReconcileCertificatesConfig contains configuration for the job.
type ReconcileCertificatesConfig struct {
	// BatchSize is the maximum number of records examined per run.
	// Records are visited in key order across runs.
	BatchSize int

	// Concurrency bounds parallel evaluations.
	Concurrency int

	// LockTTL is how long the cross-instance lock is held at most.
	LockTTL time.Duration
}

// DefaultReconcileCertificatesConfig returns sensible defaults.
func DefaultReconcileCertificatesConfig() ReconcileCertificatesConfig {
	return ReconcileCertificatesConfig{
		BatchSize:   200,
		Concurrency: 4,
		LockTTL:     5 * time.Minute,
	}
}

// ReconcileStats summarizes one run.
type ReconcileStats struct {
	Examined   int
	Issued     int
	Ineligible int
	Failed     int
	Wrapped    bool // the sweep reached the end and restarts next run
	Skipped    bool // another instance held the lock
	Duration   time.Duration
}

// ReconcileCertificatesJob implements scheduler.Job.
type ReconcileCertificatesJob struct {
	progressRepo progress.Repository
	gate         Evaluator
	locker       Locker // nil runs without a cross-instance lock
	config       ReconcileCertificatesConfig
	logger       *slog.Logger
	instanceID   string

	mu     sync.Mutex
	cursor progress.Key

	lastStats atomic.Pointer[ReconcileStats]
}

// NewReconcileCertificatesJob creates the job. locker may be nil.
func NewReconcileCertificatesJob(
	progressRepo progress.Repository,
	gate Evaluator,
	locker Locker,
	config ReconcileCertificatesConfig,
	logger *slog.Logger,
) *ReconcileCertificatesJob {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultReconcileCertificatesConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	return &ReconcileCertificatesJob{
		progressRepo: progressRepo,
		gate:         gate,
		locker:       locker,
		config:       config,
		logger:       logger.With("job", "reconcile_certificates"),
		instanceID:   uuid.New().String(),
	}
}

// Name returns the job name.
func (j *ReconcileCertificatesJob) Name() string {
	return "reconcile_certificates"
}

// Description returns a human-readable description.
func (j *ReconcileCertificatesJob) Description() string {
	return "Issues certificates that are due but missing"
}

// Run executes one reconciliation pass. Individual evaluation failures are
// counted, not returned; the pair is retried on the next run.
func (j *ReconcileCertificatesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &ReconcileStats{}
	defer func() {
		stats.Duration = time.Since(startedAt)
		j.lastStats.Store(stats)
	}()

	if j.locker != nil {
		acquired, err := j.locker.AcquireLock(ctx, j.Name(), j.instanceID, j.config.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !acquired {
			stats.Skipped = true
			j.logger.Debug("another instance is reconciling, skipping")
			return nil
		}
		defer func() {
			if err := j.locker.ReleaseLock(context.WithoutCancel(ctx), j.Name(), j.instanceID); err != nil {
				j.logger.Warn("failed to release lock", "error", err)
			}
		}()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.progressRepo.ListAwaitingCertificate(ctx, j.cursor, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list awaiting certificate: %w", err)
	}
	stats.Examined = len(records)
	if len(records) < j.config.BatchSize {
		j.cursor = progress.Key{}
		stats.Wrapped = true
	} else {
		j.cursor = records[len(records)-1].Key()
	}
	if len(records) == 0 {
		return nil
	}

	var issued, ineligible, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			eval, err := j.gate.Evaluate(gctx, rec.UserID, rec.CourseID)
			switch {
			case err != nil:
				failed.Add(1)
				j.logger.Warn("evaluation failed",
					"user_id", rec.UserID,
					"course_id", rec.CourseID,
					"error", err,
				)
			case eval.Issued:
				issued.Add(1)
			case !eval.Eligible:
				ineligible.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Issued = int(issued.Load())
	stats.Ineligible = int(ineligible.Load())
	stats.Failed = int(failed.Load())

	j.logger.Info("reconciliation finished",
		"examined", stats.Examined,
		"issued", stats.Issued,
		"ineligible", stats.Ineligible,
		"failed", stats.Failed,
		"wrapped", stats.Wrapped,
	)
	return ctx.Err()
}

// LastStats returns the stats of the most recent run, or nil.
func (j *ReconcileCertificatesJob) LastStats() *ReconcileStats {
	return j.lastStats.Load()
}
