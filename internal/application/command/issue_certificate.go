package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ISSUE CERTIFICATE COMMAND
// Renders the certificate document and stores the certificate. The store's
// unique (user, course) constraint decides concurrent issuances: the loser
// discards its document and returns the winner's certificate.
// ══════════════════════════════════════════════════════════════════════════════

// discardTimeout bounds the best-effort cleanup of a losing document.
const discardTimeout = 5 * time.Second

// IssueCertificateCommand issues the certificate of a course.
type IssueCertificateCommand struct {
	UserID          string  `validate:"required"`
	CourseID        string  `validate:"required"`
	ScorePercentage float64 `validate:"gte=0,lte=100"`
}

// IssueCertificateResult holds the certificate stored for the pair.
type IssueCertificateResult struct {
	Certificate *certificate.Certificate

	// Created is false when another issuance won and its certificate is returned.
	Created bool
}

// IssueCertificateHandler handles IssueCertificateCommand.
type IssueCertificateHandler struct {
	certificateRepo certificate.Repository
	progressRepo    progress.Repository
	renderer        certificate.DocumentRenderer
	codes           certificate.CodeGenerator
	eventPublisher  shared.EventPublisher
	storeRetrier    *retry.Retrier
	logger          *slog.Logger
	now             func() time.Time
}

// NewIssueCertificateHandler creates a new IssueCertificateHandler. When
// renderer also implements certificate.DocumentDiscarder, documents that
// lose an issuance race are deleted.
func NewIssueCertificateHandler(
	certificateRepo certificate.Repository,
	progressRepo progress.Repository,
	renderer certificate.DocumentRenderer,
	codes certificate.CodeGenerator,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *IssueCertificateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "certificate_issuer")

	return &IssueCertificateHandler{
		certificateRepo: certificateRepo,
		progressRepo:    progressRepo,
		renderer:        renderer,
		codes:           codes,
		eventPublisher:  eventPublisher,
		storeRetrier: retry.DatabaseRetrier(
			retry.WithRetryIf(shared.IsRetryable),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying certificate insert",
					"attempt", attempt,
					"delay", delay,
					"error", err,
				)
			}),
		),
		logger: logger,
		now:    time.Now,
	}
}

// Handle executes the command.
func (h *IssueCertificateHandler) Handle(ctx context.Context, cmd IssueCertificateCommand) (*IssueCertificateResult, error) {
	if err := validateCommand("IssueCertificate", cmd); err != nil {
		return nil, err
	}

	ref, err := h.renderer.Render(ctx, cmd.UserID, cmd.CourseID, cmd.ScorePercentage)
	if err != nil {
		return nil, fmt.Errorf("issue_certificate: %w: %w", shared.ErrRenderFailed, err)
	}

	issuedAt := h.now().UTC()
	candidate := &certificate.Certificate{
		ID:               uuid.New().String(),
		UserID:           cmd.UserID,
		CourseID:         cmd.CourseID,
		ScorePercentage:  cmd.ScorePercentage,
		DocumentRef:      ref,
		VerificationCode: h.codes.Generate(cmd.UserID, cmd.CourseID, issuedAt),
		IssuedAt:         issuedAt,
	}

	type insertResult struct {
		cert    *certificate.Certificate
		created bool
	}
	res, err := retry.DoWithData(ctx, h.storeRetrier, func(ctx context.Context) (insertResult, error) {
		stored, created, err := h.certificateRepo.Insert(ctx, candidate)
		return insertResult{cert: stored, created: created}, err
	})
	if err != nil {
		// The insert may have committed before the error reached us.
		stored, getErr := h.certificateRepo.Get(ctx, cmd.UserID, cmd.CourseID)
		if getErr != nil {
			h.discard(ctx, ref)
			if shared.IsStorageFailure(err) {
				return nil, fmt.Errorf("issue_certificate: %w", err)
			}
			return nil, shared.WrapError("certificate", "Issue", shared.ErrStorageFailure,
				"store certificate", err)
		}
		h.logger.Warn("certificate insert reported an error but the row exists",
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"error", err,
		)
		res = insertResult{cert: stored, created: stored.DocumentRef == ref}
	}

	if !res.created {
		if res.cert.DocumentRef != ref {
			h.discard(ctx, ref)
		}
		h.logger.Info("certificate already issued",
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"certificate_id", res.cert.ID,
		)
	}

	h.recordReference(ctx, res.cert)

	if res.created {
		h.logger.Info("certificate issued",
			"certificate_id", res.cert.ID,
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"score_percentage", cmd.ScorePercentage,
		)
		event := shared.NewCertificateIssuedEvent(res.cert.ID, cmd.UserID, cmd.CourseID,
			res.cert.DocumentRef, res.cert.ScorePercentage)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
		}
	}

	return &IssueCertificateResult{Certificate: res.cert, Created: res.created}, nil
}

// recordReference copies the document reference onto the progress record.
// The certificate row is the source of truth; a failure here is repaired by
// the next evaluation of the pair.
func (h *IssueCertificateHandler) recordReference(ctx context.Context, cert *certificate.Certificate) {
	if err := h.progressRepo.SetCertificateRef(ctx, cert.UserID, cert.CourseID, cert.DocumentRef); err != nil {
		h.logger.Warn("failed to record certificate reference",
			"user_id", cert.UserID,
			"course_id", cert.CourseID,
			"error", err,
		)
	}
}

// discard deletes an orphaned document when the renderer supports it.
func (h *IssueCertificateHandler) discard(ctx context.Context, ref string) {
	d, ok := h.renderer.(certificate.DocumentDiscarder)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := d.Discard(ctx, ref); err != nil {
		h.logger.Warn("failed to discard orphaned document", "document_ref", ref, "error", err)
	}
}
