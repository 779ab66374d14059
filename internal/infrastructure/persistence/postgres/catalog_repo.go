package postgres

import (
	"context"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// CatalogRepository reads course structure, exam definitions and enrollments
// from the catalog tables. The catalog owner writes them; this service only
// reads.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// Units returns the course's unit ids in position order.
func (r *CatalogRepository) Units(ctx context.Context, courseID string) ([]string, error) {
	query := `
		SELECT c.id, u.unit_id
		FROM courses c
		LEFT JOIN course_units u ON u.course_id = c.id
		WHERE c.id = $1
		ORDER BY u.position, u.unit_id
	`

	rows, err := r.conn.Query(ctx, query, courseID)
	if err != nil {
		return nil, storageError("course", "Units", err)
	}
	defer rows.Close()

	found := false
	units := []string{}
	for rows.Next() {
		var (
			id   string
			unit *string
		)
		if err := rows.Scan(&id, &unit); err != nil {
			return nil, storageError("course", "Units", err)
		}
		found = true
		if unit != nil {
			units = append(units, *unit)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("course", "Units", err)
	}
	if !found {
		return nil, shared.ErrCourseNotFound
	}
	return units, nil
}

// ExamDefinition decodes the stored definition document.
func (r *CatalogRepository) ExamDefinition(ctx context.Context, courseID string) (*exam.Definition, error) {
	var raw []byte
	err := r.conn.QueryRow(ctx,
		`SELECT definition FROM exam_definitions WHERE course_id = $1`, courseID,
	).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrExamNotFound
		}
		return nil, storageError("course", "ExamDefinition", err)
	}

	def, err := exam.UnmarshalDefinition(raw)
	if err != nil {
		return nil, err
	}
	if def.CourseID == "" {
		def.CourseID = courseID
	}
	return def, nil
}

// IsEnrolled reports whether the learner is enrolled in the course.
func (r *CatalogRepository) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var enrolled bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`,
		userID, courseID,
	).Scan(&enrolled)
	if err != nil {
		return false, storageError("course", "IsEnrolled", err)
	}
	return enrolled, nil
}

var (
	_ course.Catalog           = (*CatalogRepository)(nil)
	_ course.EnrollmentChecker = (*CatalogRepository)(nil)
)
