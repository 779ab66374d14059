package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ProgressRepository implements progress.Repository on PostgreSQL.
type ProgressRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn, now: time.Now}
}

const progressColumns = `user_id, course_id, completed_units, content_completed, exam_passed,
	certificate_ref, created_at, updated_at`

// AddUnit appends unitID in a single upsert. The conflict branch only fires
// when the unit is absent, so a returned row means the unit was added.
func (r *ProgressRepository) AddUnit(ctx context.Context, userID, courseID, unitID string) (*progress.Record, bool, error) {
	query := `
		INSERT INTO progress_records (user_id, course_id, completed_units, created_at, updated_at)
		VALUES ($1, $2, ARRAY[$3::text], $4, $4)
		ON CONFLICT (user_id, course_id) DO UPDATE
			SET completed_units = array_append(progress_records.completed_units, $3::text),
			    updated_at = $4
			WHERE NOT ($3::text = ANY(progress_records.completed_units))
		RETURNING ` + progressColumns

	rec, err := scanProgress(r.conn.QueryRow(ctx, query, userID, courseID, unitID, r.now().UTC()))
	if err == nil {
		return rec, true, nil
	}
	if !IsNoRows(err) {
		return nil, false, storageError("progress", "AddUnit", err)
	}

	rec, err = r.Get(ctx, userID, courseID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// RecomputeCompletion evaluates the completion predicate inside the UPDATE so
// the comparison always runs against the latest committed unit set.
func (r *ProgressRepository) RecomputeCompletion(ctx context.Context, userID, courseID string, totalUnits int) (*progress.Record, bool, error) {
	query := `
		UPDATE progress_records
		SET content_completed = (cardinality(completed_units) = $3 AND $3 > 0),
		    updated_at = $4
		WHERE user_id = $1 AND course_id = $2
		  AND content_completed IS DISTINCT FROM (cardinality(completed_units) = $3 AND $3 > 0)
		RETURNING ` + progressColumns

	rec, err := scanProgress(r.conn.QueryRow(ctx, query, userID, courseID, totalUnits, r.now().UTC()))
	if err == nil {
		return rec, rec.ContentCompleted, nil
	}
	if !IsNoRows(err) {
		return nil, false, storageError("progress", "RecomputeCompletion", err)
	}

	// Nothing changed.
	rec, err = r.Get(ctx, userID, courseID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// MarkExamPassed sets exam_passed, creating the record when the learner
// passes before completing any unit.
func (r *ProgressRepository) MarkExamPassed(ctx context.Context, userID, courseID string) error {
	query := `
		INSERT INTO progress_records (user_id, course_id, exam_passed, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $3)
		ON CONFLICT (user_id, course_id) DO UPDATE
			SET exam_passed = TRUE, updated_at = $3
			WHERE NOT progress_records.exam_passed
	`

	if _, err := r.conn.Exec(ctx, query, userID, courseID, r.now().UTC()); err != nil {
		return storageError("progress", "MarkExamPassed", err)
	}
	return nil
}

// SetCertificateRef stores the certificate document reference on the record.
func (r *ProgressRepository) SetCertificateRef(ctx context.Context, userID, courseID, ref string) error {
	query := `
		UPDATE progress_records
		SET certificate_ref = $3, updated_at = $4
		WHERE user_id = $1 AND course_id = $2
	`

	tag, err := r.conn.Exec(ctx, query, userID, courseID, ref, r.now().UTC())
	if err != nil {
		return storageError("progress", "SetCertificateRef", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProgressNotFound
	}
	return nil
}

// Get returns the record for the pair.
func (r *ProgressRepository) Get(ctx context.Context, userID, courseID string) (*progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records WHERE user_id = $1 AND course_id = $2`

	rec, err := scanProgress(r.conn.QueryRow(ctx, query, userID, courseID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, storageError("progress", "Get", err)
	}
	return rec, nil
}

// ListAwaitingCertificate pages through complete records with no
// certificate yet in key order. Exam-course pairs without a passed attempt
// are left out: evaluating them cannot issue anything.
func (r *ProgressRepository) ListAwaitingCertificate(ctx context.Context, after progress.Key, limit int) ([]*progress.Record, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM progress_records p
		WHERE p.content_completed
		  AND p.certificate_ref IS NULL
		  AND (p.user_id, p.course_id) > ($1, $2)
		  AND (
		      p.exam_passed
		      OR NOT EXISTS (SELECT 1 FROM exam_definitions e WHERE e.course_id = p.course_id)
		      OR EXISTS (
		          SELECT 1 FROM exam_attempts a
		          WHERE a.user_id = p.user_id
		            AND a.course_id = p.course_id
		            AND a.status = 'graded'
		            AND a.passed
		      )
		  )
		ORDER BY p.user_id, p.course_id
		LIMIT $3
	`

	rows, err := r.conn.Query(ctx, query, after.UserID, after.CourseID, limit)
	if err != nil {
		return nil, storageError("progress", "ListAwaitingCertificate", err)
	}
	defer rows.Close()

	var records []*progress.Record
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, storageError("progress", "ListAwaitingCertificate", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("progress", "ListAwaitingCertificate", err)
	}
	return records, nil
}

func scanProgress(row pgx.Row) (*progress.Record, error) {
	var (
		rec  progress.Record
		cert *string
	)
	err := row.Scan(
		&rec.UserID,
		&rec.CourseID,
		&rec.CompletedUnits,
		&rec.ContentCompleted,
		&rec.ExamPassed,
		&cert,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		rec.CertificateRef = *cert
	}
	return &rec, nil
}

var _ progress.Repository = (*ProgressRepository)(nil)
