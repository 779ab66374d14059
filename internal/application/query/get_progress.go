// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Completion percentage and gate flags of one learner in one course.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery identifies the progress record to read.
type GetProgressQuery struct {
	UserID   string
	CourseID string
}

// Validate checks the query parameters.
func (q GetProgressQuery) Validate() error {
	if q.UserID == "" || q.CourseID == "" {
		return shared.NewDomainError("progress", "GetProgress", shared.ErrValidation,
			"user_id and course_id are required")
	}
	return nil
}

// ProgressDTO is the progress view returned to clients.
type ProgressDTO struct {
	UserID         string   `json:"user_id"`
	CourseID       string   `json:"course_id"`
	CompletedUnits []string `json:"completed_units"`
	CompletedCount int      `json:"completed_count"`
	TotalUnits     int      `json:"total_units"`

	// Percentage is rounded to two decimals; 0 when the course has no units.
	Percentage float64 `json:"percentage"`

	Status progress.Status `json:"status"`
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	catalog      course.Catalog
	progressRepo progress.Repository
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(catalog course.Catalog, progressRepo progress.Repository) *GetProgressHandler {
	return &GetProgressHandler{catalog: catalog, progressRepo: progressRepo}
}

// Handle returns shared.ErrProgressNotFound when the learner has not
// completed any unit of the course yet.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	total, err := course.TotalUnits(ctx, h.catalog, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	rec, err := h.progressRepo.Get(ctx, q.UserID, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	return &ProgressDTO{
		UserID:         rec.UserID,
		CourseID:       rec.CourseID,
		CompletedUnits: rec.SortedUnits(),
		CompletedCount: rec.CompletedCount(),
		TotalUnits:     total,
		Percentage:     rec.Percentage(total),
		Status:         rec.Status(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetStatusHandler returns the gate flags of a pair. A pair without a record
// has the zero status.
type GetStatusHandler struct {
	progressRepo progress.Repository
}

// NewGetStatusHandler creates a new GetStatusHandler.
func NewGetStatusHandler(progressRepo progress.Repository) *GetStatusHandler {
	return &GetStatusHandler{progressRepo: progressRepo}
}

// Handle executes the query.
func (h *GetStatusHandler) Handle(ctx context.Context, q GetProgressQuery) (progress.Status, error) {
	if err := q.Validate(); err != nil {
		return progress.Status{}, err
	}

	rec, err := h.progressRepo.Get(ctx, q.UserID, q.CourseID)
	if err != nil {
		if shared.IsNotFound(err) {
			return progress.Status{}, nil
		}
		return progress.Status{}, fmt.Errorf("get_status: %w", err)
	}
	return rec.Status(), nil
}
