// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/certification-hub/internal/application/command"
	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// CERTIFICATION GATE
// Decides whether a learner has earned the certificate of a course and, if
// so, has it issued. Runs on ContentCompleted and ExamPassed, and from the
// reconciliation job for pairs whose issuance failed earlier.
//
// Eligibility:
// 1. Course without exam: content completed. Score 100.
// 2. Course with exam: content completed and a graded passed attempt.
//    Score is the percentage of the most recent passed attempt.
//
// Concurrent evaluations of the same pair may all reach the issuer; the
// certificate store keeps exactly one.
// ═══════════════════════════════════════════════════════════════════════════

// Reason explains an Evaluation.
type Reason string

const (
	ReasonNoProgress        Reason = "no_progress"
	ReasonContentIncomplete Reason = "content_incomplete"
	ReasonExamNotPassed     Reason = "exam_not_passed"
	ReasonAlreadyIssued     Reason = "already_issued"
	ReasonIssued            Reason = "issued"
)

// Evaluation is the outcome of one gate run.
type Evaluation struct {
	UserID   string
	CourseID string
	Eligible bool
	Reason   Reason

	// Certificate is set whenever the pair holds a certificate after the run.
	Certificate *certificate.Certificate

	// Issued is true only when this run created the certificate.
	Issued bool
}

// CertificateIssuer is the part of the issue command the gate depends on.
type CertificateIssuer interface {
	Handle(ctx context.Context, cmd command.IssueCertificateCommand) (*command.IssueCertificateResult, error)
}

// GateConfig configures the gate.
type GateConfig struct {
	// EvaluateTimeout bounds one event-triggered evaluation, render included.
	EvaluateTimeout time.Duration
}

// DefaultGateConfig returns the default configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{EvaluateTimeout: 45 * time.Second}
}

// CertificationGate evaluates certificate eligibility.
type CertificationGate struct {
	catalog         course.Catalog
	progressRepo    progress.Repository
	attemptRepo     exam.AttemptRepository
	certificateRepo certificate.Repository
	issuer          CertificateIssuer
	config          GateConfig
	logger          *slog.Logger
}

// NewCertificationGate creates a new CertificationGate.
func NewCertificationGate(
	catalog course.Catalog,
	progressRepo progress.Repository,
	attemptRepo exam.AttemptRepository,
	certificateRepo certificate.Repository,
	issuer CertificateIssuer,
	config GateConfig,
	logger *slog.Logger,
) *CertificationGate {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EvaluateTimeout <= 0 {
		config.EvaluateTimeout = DefaultGateConfig().EvaluateTimeout
	}

	return &CertificationGate{
		catalog:         catalog,
		progressRepo:    progressRepo,
		attemptRepo:     attemptRepo,
		certificateRepo: certificateRepo,
		issuer:          issuer,
		config:          config,
		logger:          logger.With("handler", "certification_gate"),
	}
}

// Evaluate runs the gate for one pair. Ineligible pairs are not an error;
// the Evaluation carries the reason.
func (g *CertificationGate) Evaluate(ctx context.Context, userID, courseID string) (*Evaluation, error) {
	eval := &Evaluation{UserID: userID, CourseID: courseID}

	rec, err := g.progressRepo.Get(ctx, userID, courseID)
	if err != nil {
		if shared.IsNotFound(err) {
			eval.Reason = ReasonNoProgress
			return eval, nil
		}
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if !rec.ContentCompleted {
		eval.Reason = ReasonContentIncomplete
		return eval, nil
	}

	score, passed, err := g.examScore(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !passed {
		eval.Reason = ReasonExamNotPassed
		return eval, nil
	}
	eval.Eligible = true

	existing, err := g.certificateRepo.Get(ctx, userID, courseID)
	switch {
	case err == nil:
		if rec.CertificateRef == "" {
			if err := g.progressRepo.SetCertificateRef(ctx, userID, courseID, existing.DocumentRef); err != nil {
				g.logger.Warn("failed to backfill certificate reference",
					"user_id", userID,
					"course_id", courseID,
					"error", err,
				)
			}
		}
		eval.Reason = ReasonAlreadyIssued
		eval.Certificate = existing
		return eval, nil
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("evaluate: load certificate: %w", err)
	}

	res, err := g.issuer.Handle(ctx, command.IssueCertificateCommand{
		UserID:          userID,
		CourseID:        courseID,
		ScorePercentage: score,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	eval.Certificate = res.Certificate
	eval.Issued = res.Created
	if res.Created {
		eval.Reason = ReasonIssued
	} else {
		eval.Reason = ReasonAlreadyIssued
	}
	return eval, nil
}

// examScore returns the certificate score and whether the exam requirement
// is met. Courses without an exam always meet it with a score of 100.
func (g *CertificationGate) examScore(ctx context.Context, rec *progress.Record) (float64, bool, error) {
	_, err := g.catalog.ExamDefinition(ctx, rec.CourseID)
	if errors.Is(err, shared.ErrExamNotFound) {
		return 100, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("evaluate: load exam: %w", err)
	}

	attempt, err := g.attemptRepo.FindLatestPassed(ctx, rec.UserID, rec.CourseID)
	if err != nil {
		if shared.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("evaluate: load attempts: %w", err)
	}

	if !rec.ExamPassed {
		if err := g.progressRepo.MarkExamPassed(ctx, rec.UserID, rec.CourseID); err != nil {
			return 0, false, fmt.Errorf("evaluate: mark exam passed: %w", err)
		}
	}
	return float64(attempt.Percentage), true, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ═══════════════════════════════════════════════════════════════════════════

// HandleContentCompleted implements shared.EventHandler.
func (g *CertificationGate) HandleContentCompleted(event shared.Event) error {
	return g.handle(event)
}

// HandleExamPassed implements shared.EventHandler. Passing is recorded on the
// progress record even when the content is not complete yet.
func (g *CertificationGate) HandleExamPassed(event shared.Event) error {
	userID := shared.PayloadString(event, "user_id")
	courseID := shared.PayloadString(event, "course_id")
	if userID != "" && courseID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.EvaluateTimeout)
		err := g.progressRepo.MarkExamPassed(ctx, userID, courseID)
		cancel()
		if err != nil {
			g.logger.Warn("failed to mark exam passed",
				"user_id", userID,
				"course_id", courseID,
				"error", err,
			)
		}
	}
	return g.handle(event)
}

func (g *CertificationGate) handle(event shared.Event) error {
	userID := shared.PayloadString(event, "user_id")
	courseID := shared.PayloadString(event, "course_id")
	if userID == "" || courseID == "" {
		g.logger.Warn("event without learner or course",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.EvaluateTimeout)
	defer cancel()

	eval, err := g.Evaluate(ctx, userID, courseID)
	if err != nil {
		g.logger.Error("certification evaluation failed",
			"event_type", event.EventType(),
			"user_id", userID,
			"course_id", courseID,
			"error", err,
		)
		return err
	}

	g.logger.Info("certification evaluated",
		"event_type", event.EventType(),
		"user_id", userID,
		"course_id", courseID,
		"eligible", eval.Eligible,
		"reason", string(eval.Reason),
	)
	return nil
}

// Register subscribes the gate to the completion events.
func (g *CertificationGate) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventContentCompleted, g.HandleContentCompleted); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventContentCompleted, err)
	}
	if err := bus.Subscribe(shared.EventExamPassed, g.HandleExamPassed); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventExamPassed, err)
	}
	return nil
}
