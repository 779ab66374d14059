package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARK UNIT COMPLETE COMMAND
// Adds a content unit to the learner's completed set and re-evaluates
// content completion. The first call that completes the course emits
// ContentCompleted, which the certification gate listens to.
// ══════════════════════════════════════════════════════════════════════════════

// MarkUnitCompleteCommand marks one unit of a course as completed.
type MarkUnitCompleteCommand struct {
	UserID   string `validate:"required"`
	CourseID string `validate:"required"`
	UnitID   string `validate:"required"`
}

// MarkUnitCompleteResult describes the record after the command.
type MarkUnitCompleteResult struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
	UnitID   string `json:"unit_id"`

	// Added is false when the unit had already been completed.
	Added bool `json:"added"`

	CompletedUnits int     `json:"completed_units"`
	TotalUnits     int     `json:"total_units"`
	Percentage     float64 `json:"percentage"`

	ContentCompleted bool `json:"content_completed"`

	// JustCompleted is true only for the call that flipped ContentCompleted.
	JustCompleted bool `json:"just_completed"`
}

// MarkUnitCompleteHandler handles MarkUnitCompleteCommand.
type MarkUnitCompleteHandler struct {
	catalog        course.Catalog
	progressRepo   progress.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewMarkUnitCompleteHandler creates a new MarkUnitCompleteHandler.
func NewMarkUnitCompleteHandler(
	catalog course.Catalog,
	progressRepo progress.Repository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *MarkUnitCompleteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkUnitCompleteHandler{
		catalog:        catalog,
		progressRepo:   progressRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
	}
}

// Handle executes the command.
func (h *MarkUnitCompleteHandler) Handle(ctx context.Context, cmd MarkUnitCompleteCommand) (*MarkUnitCompleteResult, error) {
	if err := validateCommand("MarkUnitComplete", cmd); err != nil {
		return nil, err
	}

	units, err := h.catalog.Units(ctx, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("mark_unit_complete: %w", err)
	}
	if !containsUnit(units, cmd.UnitID) {
		return nil, shared.ErrUnitNotInCourse
	}
	total := len(units)

	_, added, err := h.progressRepo.AddUnit(ctx, cmd.UserID, cmd.CourseID, cmd.UnitID)
	if err != nil {
		return nil, fmt.Errorf("mark_unit_complete: add unit: %w", err)
	}

	rec, flipped, err := h.progressRepo.RecomputeCompletion(ctx, cmd.UserID, cmd.CourseID, total)
	if err != nil {
		return nil, fmt.Errorf("mark_unit_complete: recompute: %w", err)
	}

	result := &MarkUnitCompleteResult{
		UserID:           cmd.UserID,
		CourseID:         cmd.CourseID,
		UnitID:           cmd.UnitID,
		Added:            added,
		CompletedUnits:   rec.CompletedCount(),
		TotalUnits:       total,
		Percentage:       rec.Percentage(total),
		ContentCompleted: rec.ContentCompleted,
		JustCompleted:    flipped,
	}

	if added {
		h.publish(shared.NewUnitCompletedEvent(cmd.UserID, cmd.CourseID, cmd.UnitID, result.CompletedUnits, total))
	}
	if flipped {
		h.logger.Info("course content completed",
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"total_units", total,
		)
		h.publish(shared.NewContentCompletedEvent(cmd.UserID, cmd.CourseID))
	}

	return result, nil
}

// publish is best effort: state is already committed and the reconcile job
// re-evaluates records that missed their event.
func (h *MarkUnitCompleteHandler) publish(event shared.Event) {
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}

func containsUnit(units []string, unitID string) bool {
	for _, u := range units {
		if u == unitID {
			return true
		}
	}
	return false
}
