// Package course describes the read-only view this service has of the content
// catalog.
package course

import (
	"context"

	"github.com/coursehub/certification-hub/internal/domain/exam"
)

// Catalog supplies course structure. Implementations return
// shared.ErrCourseNotFound for unknown courses.
type Catalog interface {
	// Units returns the ordered content unit ids of the course.
	Units(ctx context.Context, courseID string) ([]string, error)

	// ExamDefinition returns the course exam, or shared.ErrExamNotFound when
	// the course has none.
	ExamDefinition(ctx context.Context, courseID string) (*exam.Definition, error)
}

// EnrollmentChecker answers whether a learner may take a course's exam.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

// TotalUnits is len(Units).
func TotalUnits(ctx context.Context, c Catalog, courseID string) (int, error) {
	units, err := c.Units(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return len(units), nil
}

// ContainsUnit reports whether unitID belongs to the course.
func ContainsUnit(ctx context.Context, c Catalog, courseID, unitID string) (bool, error) {
	units, err := c.Units(ctx, courseID)
	if err != nil {
		return false, err
	}
	for _, u := range units {
		if u == unitID {
			return true, nil
		}
	}
	return false, nil
}
