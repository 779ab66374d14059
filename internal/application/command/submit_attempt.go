package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT ATTEMPT COMMAND
// Grades an in-progress attempt against its snapshot. Grading and the status
// change are one store update, so a concurrent second submit sees a graded
// attempt and fails with InvalidState.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAttemptCommand submits an attempt for grading.
type SubmitAttemptCommand struct {
	AttemptID string `validate:"required"`
	UserID    string `validate:"required"`
}

// SubmitAttemptHandler handles SubmitAttemptCommand.
type SubmitAttemptHandler struct {
	attemptRepo    exam.AttemptRepository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewSubmitAttemptHandler creates a new SubmitAttemptHandler.
func NewSubmitAttemptHandler(
	attemptRepo exam.AttemptRepository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *SubmitAttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitAttemptHandler{
		attemptRepo:    attemptRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
		now:            time.Now,
	}
}

// Handle executes the command and returns the graded attempt.
func (h *SubmitAttemptHandler) Handle(ctx context.Context, cmd SubmitAttemptCommand) (*exam.Attempt, error) {
	if err := validateCommand("SubmitAttempt", cmd); err != nil {
		return nil, err
	}

	attempt, err := h.attemptRepo.Update(ctx, cmd.AttemptID, func(a *exam.Attempt) error {
		if err := a.CheckOwner(cmd.UserID); err != nil {
			return err
		}
		return a.Submit(h.now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("submit_attempt: %w", err)
	}

	h.logger.Info("exam attempt graded",
		"attempt_id", attempt.ID,
		"user_id", attempt.UserID,
		"course_id", attempt.CourseID,
		"score", attempt.Score,
		"total_points", attempt.TotalPoints,
		"percentage", attempt.Percentage,
		"passed", attempt.Passed,
	)

	h.publish(shared.NewAttemptGradedEvent(
		attempt.ID, attempt.UserID, attempt.CourseID,
		attempt.Score, attempt.TotalPoints, attempt.Percentage, attempt.Passed,
	))
	if attempt.Passed {
		h.publish(shared.NewExamPassedEvent(attempt.ID, attempt.UserID, attempt.CourseID, attempt.Percentage))
	}

	return attempt, nil
}

func (h *SubmitAttemptHandler) publish(event shared.Event) {
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}
