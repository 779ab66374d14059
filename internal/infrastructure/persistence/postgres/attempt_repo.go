package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// AttemptRepository implements exam.AttemptRepository on PostgreSQL.
type AttemptRepository struct {
	conn *Connection
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(conn *Connection) *AttemptRepository {
	return &AttemptRepository{conn: conn}
}

const attemptColumns = `id, user_id, course_id, status, definition, total_points, passing_score,
	time_limit_seconds, answers, results, score, percentage, passed, started_at, updated_at, graded_at`

// maxCreateRetries bounds the insert/select loop when an open attempt is
// graded between our conflicting insert and the follow-up read.
const maxCreateRetries = 3

// CreateOrGetInProgress inserts a, relying on the partial unique index to
// reject a second open attempt for the same pair.
func (r *AttemptRepository) CreateOrGetInProgress(ctx context.Context, a *exam.Attempt) (*exam.Attempt, bool, error) {
	definition, err := exam.MarshalDefinition(a.Definition)
	if err != nil {
		return nil, false, err
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, false, fmt.Errorf("marshal answers: %w", err)
	}

	insert := `
		INSERT INTO exam_attempts (
			id, user_id, course_id, status, definition, total_points, passing_score,
			time_limit_seconds, answers, started_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, course_id) WHERE status = 'in_progress' DO NOTHING
		RETURNING id
	`
	existing := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE user_id = $1 AND course_id = $2 AND status = 'in_progress'
	`

	for i := 0; i < maxCreateRetries; i++ {
		var id string
		err := r.conn.QueryRow(ctx, insert,
			a.ID, a.UserID, a.CourseID, string(a.Status), definition,
			a.TotalPoints, a.PassingScore, int64(a.TimeLimit/time.Second),
			answers, a.StartedAt, a.UpdatedAt,
		).Scan(&id)
		if err == nil {
			return a.Clone(), true, nil
		}
		if !IsNoRows(err) {
			return nil, false, storageError("exam", "CreateAttempt", err)
		}

		current, err := scanAttempt(r.conn.QueryRow(ctx, existing, a.UserID, a.CourseID))
		if err == nil {
			return current, false, nil
		}
		if !IsNoRows(err) {
			return nil, false, storageError("exam", "CreateAttempt", err)
		}
	}

	return nil, false, shared.NewDomainError("exam", "CreateAttempt", shared.ErrConflict,
		"in-progress attempt changed concurrently")
}

// GetByID returns the attempt with the given id.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*exam.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrAttemptNotFound
	}

	query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE id = $1`

	a, err := scanAttempt(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, storageError("exam", "GetAttempt", err)
	}
	return a, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// mutable columns back in the same transaction.
func (r *AttemptRepository) Update(ctx context.Context, id string, fn exam.MutateFunc) (*exam.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrAttemptNotFound
	}

	var updated *exam.Attempt
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE id = $1 FOR UPDATE`

		a, err := scanAttempt(tx.QueryRow(ctx, query, id))
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrAttemptNotFound
			}
			return err
		}

		if err := fn(a); err != nil {
			return err
		}

		answers, err := json.Marshal(a.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		var results []byte
		if a.Results != nil {
			if results, err = json.Marshal(a.Results); err != nil {
				return fmt.Errorf("marshal results: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE exam_attempts
			SET status = $2, answers = $3, results = $4, score = $5,
			    percentage = $6, passed = $7, updated_at = $8, graded_at = $9
			WHERE id = $1
		`, a.ID, string(a.Status), answers, results, a.Score, a.Percentage, a.Passed, a.UpdatedAt, a.GradedAt)
		if err != nil {
			return err
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, storageError("exam", "UpdateAttempt", err)
	}
	return updated, nil
}

// ListGraded returns graded attempts for the pair, most recent first.
func (r *AttemptRepository) ListGraded(ctx context.Context, userID, courseID string) ([]*exam.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE user_id = $1 AND course_id = $2 AND status = 'graded'
		ORDER BY graded_at DESC, id
	`

	rows, err := r.conn.Query(ctx, query, userID, courseID)
	if err != nil {
		return nil, storageError("exam", "ListGraded", err)
	}
	defer rows.Close()

	var attempts []*exam.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, storageError("exam", "ListGraded", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("exam", "ListGraded", err)
	}
	return attempts, nil
}

// FindLatestPassed returns the most recently graded passed attempt.
func (r *AttemptRepository) FindLatestPassed(ctx context.Context, userID, courseID string) (*exam.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE user_id = $1 AND course_id = $2 AND status = 'graded' AND passed
		ORDER BY graded_at DESC
		LIMIT 1
	`

	a, err := scanAttempt(r.conn.QueryRow(ctx, query, userID, courseID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, storageError("exam", "FindLatestPassed", err)
	}
	return a, nil
}

func scanAttempt(row pgx.Row) (*exam.Attempt, error) {
	var (
		a                          exam.Attempt
		status                     string
		definition, answers, marks []byte
		timeLimit                  int64
	)
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.CourseID,
		&status,
		&definition,
		&a.TotalPoints,
		&a.PassingScore,
		&timeLimit,
		&answers,
		&marks,
		&a.Score,
		&a.Percentage,
		&a.Passed,
		&a.StartedAt,
		&a.UpdatedAt,
		&a.GradedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = exam.Status(status)
	a.TimeLimit = time.Duration(timeLimit) * time.Second

	if a.Definition, err = exam.UnmarshalDefinition(definition); err != nil {
		return nil, fmt.Errorf("attempt %s definition: %w", a.ID, err)
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("attempt %s answers: %w", a.ID, err)
	}
	if a.Answers == nil {
		a.Answers = make(map[string]exam.Answer)
	}
	if len(marks) > 0 {
		if err := json.Unmarshal(marks, &a.Results); err != nil {
			return nil, fmt.Errorf("attempt %s results: %w", a.ID, err)
		}
	}
	return &a, nil
}

var _ exam.AttemptRepository = (*AttemptRepository)(nil)
