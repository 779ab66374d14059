package memory

import (
	"context"
	"sync"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// Course is a catalog entry held by Catalog. Exam is nil for courses
// without an exam.
type Course struct {
	ID    string
	Units []string
	Exam  *exam.Definition
}

// Catalog is a mutable in-process course catalog with enrollments.
type Catalog struct {
	mu          sync.RWMutex
	courses     map[string]Course
	enrollments map[string]struct{}
}

// NewCatalog creates a catalog holding courses.
func NewCatalog(courses ...Course) *Catalog {
	c := &Catalog{
		courses:     make(map[string]Course),
		enrollments: make(map[string]struct{}),
	}
	for _, crs := range courses {
		c.Put(crs)
	}
	return c
}

// Put adds or replaces a course.
func (c *Catalog) Put(crs Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	crs.Units = append([]string(nil), crs.Units...)
	c.courses[crs.ID] = crs
}

// Enroll registers userID in courseID.
func (c *Catalog) Enroll(userID, courseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enrollments[shared.EnrollmentKey(userID, courseID)] = struct{}{}
}

func (c *Catalog) Units(_ context.Context, courseID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	crs, ok := c.courses[courseID]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	return append([]string{}, crs.Units...), nil
}

func (c *Catalog) ExamDefinition(_ context.Context, courseID string) (*exam.Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	crs, ok := c.courses[courseID]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	if crs.Exam == nil {
		return nil, shared.ErrExamNotFound
	}
	return crs.Exam, nil
}

func (c *Catalog) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.enrollments[shared.EnrollmentKey(userID, courseID)]
	return ok, nil
}

var (
	_ course.Catalog           = (*Catalog)(nil)
	_ course.EnrollmentChecker = (*Catalog)(nil)
)
