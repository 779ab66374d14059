package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// START ATTEMPT COMMAND
// Opens an exam attempt for a learner, or returns the one already in progress.
// The exam definition is snapshotted into the attempt at this point.
// ══════════════════════════════════════════════════════════════════════════════

// StartAttemptCommand starts (or resumes) an exam attempt.
type StartAttemptCommand struct {
	UserID   string `validate:"required"`
	CourseID string `validate:"required"`
}

// StartAttemptResult holds the attempt the learner should continue with.
type StartAttemptResult struct {
	Attempt *exam.Attempt

	// Created is false when an in-progress attempt was resumed.
	Created bool
}

// StartAttemptHandler handles StartAttemptCommand.
type StartAttemptHandler struct {
	catalog        course.Catalog
	enrollments    course.EnrollmentChecker // nil disables the enrollment check
	attemptRepo    exam.AttemptRepository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewStartAttemptHandler creates a new StartAttemptHandler. enrollments may
// be nil when every learner may sit any exam.
func NewStartAttemptHandler(
	catalog course.Catalog,
	enrollments course.EnrollmentChecker,
	attemptRepo exam.AttemptRepository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *StartAttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StartAttemptHandler{
		catalog:        catalog,
		enrollments:    enrollments,
		attemptRepo:    attemptRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
		now:            time.Now,
	}
}

// Handle executes the command.
func (h *StartAttemptHandler) Handle(ctx context.Context, cmd StartAttemptCommand) (*StartAttemptResult, error) {
	if err := validateCommand("StartAttempt", cmd); err != nil {
		return nil, err
	}

	def, err := h.catalog.ExamDefinition(ctx, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("start_attempt: %w", err)
	}

	if h.enrollments != nil {
		enrolled, err := h.enrollments.IsEnrolled(ctx, cmd.UserID, cmd.CourseID)
		if err != nil {
			return nil, fmt.Errorf("start_attempt: check enrollment: %w", err)
		}
		if !enrolled {
			return nil, shared.ErrNotEnrolled
		}
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("start_attempt: %w", err)
	}

	candidate := exam.NewAttempt(uuid.New().String(), cmd.UserID, cmd.CourseID, def, h.now().UTC())

	attempt, created, err := h.attemptRepo.CreateOrGetInProgress(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("start_attempt: %w", err)
	}

	if created {
		h.logger.Info("exam attempt started",
			"attempt_id", attempt.ID,
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"total_points", attempt.TotalPoints,
		)
		event := shared.NewAttemptStartedEvent(attempt.ID, cmd.UserID, cmd.CourseID)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
		}
	}

	return &StartAttemptResult{Attempt: attempt, Created: created}, nil
}
