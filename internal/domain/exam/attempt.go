package exam

import (
	"context"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of an attempt. The only transition is
// StatusInProgress -> StatusGraded.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusGraded     Status = "graded"
)

// Attempt is one learner's pass at a course exam. The definition is copied
// at start so later catalog edits do not change how it is graded.
type Attempt struct {
	ID       string
	UserID   string
	CourseID string
	Status   Status

	Definition   *Definition
	TotalPoints  int
	PassingScore int
	TimeLimit    time.Duration

	Answers map[string]Answer
	Results map[string]QuestionResult

	Score      int
	Percentage int
	Passed     bool

	StartedAt time.Time
	UpdatedAt time.Time
	GradedAt  *time.Time
}

// NewAttempt starts an attempt against def, snapshotting its totals.
func NewAttempt(id, userID, courseID string, def *Definition, now time.Time) *Attempt {
	return &Attempt{
		ID:           id,
		UserID:       userID,
		CourseID:     courseID,
		Status:       StatusInProgress,
		Definition:   def,
		TotalPoints:  def.TotalPoints(),
		PassingScore: def.PassingScore,
		TimeLimit:    def.TimeLimit,
		Answers:      make(map[string]Answer),
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the mutable parts of the attempt. The
// definition snapshot is immutable and shared.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.Answers = make(map[string]Answer, len(a.Answers))
	for k, v := range a.Answers {
		v.Selected = append([]string(nil), v.Selected...)
		c.Answers[k] = v
	}
	if a.Results != nil {
		c.Results = make(map[string]QuestionResult, len(a.Results))
		for k, v := range a.Results {
			c.Results[k] = v
		}
	}
	if a.GradedAt != nil {
		t := *a.GradedAt
		c.GradedAt = &t
	}
	return &c
}

// IsGraded reports whether the attempt has been submitted.
func (a *Attempt) IsGraded() bool {
	return a.Status == StatusGraded
}

// Deadline returns when the time limit runs out. ok is false when the exam
// has no time limit. Enforcement is left to the caller.
func (a *Attempt) Deadline() (deadline time.Time, ok bool) {
	if a.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return a.StartedAt.Add(a.TimeLimit), true
}

// CheckOwner fails with a Forbidden error when userID does not own the attempt.
func (a *Attempt) CheckOwner(userID string) error {
	if a.UserID != userID {
		return shared.ErrAttemptNotOwned
	}
	return nil
}

// SaveAnswer upserts the answer for questionID.
func (a *Attempt) SaveAnswer(questionID string, ans Answer, now time.Time) error {
	if a.Status != StatusInProgress {
		return shared.ErrAttemptNotInProgress
	}
	q, ok := a.Definition.Question(questionID)
	if !ok {
		return shared.ErrQuestionNotFound
	}
	if err := ValidateAnswer(q, ans); err != nil {
		return err
	}
	if a.Answers == nil {
		a.Answers = make(map[string]Answer)
	}
	a.Answers[questionID] = ans
	a.UpdatedAt = now
	return nil
}

// Submit grades the attempt and moves it to StatusGraded. Grading uses the
// snapshotted questions, total points and passing score.
func (a *Attempt) Submit(now time.Time) error {
	if a.Status != StatusInProgress {
		return shared.ErrAttemptNotInProgress
	}

	g := GradeAnswers(a.Definition.Questions, a.Answers, a.TotalPoints, a.PassingScore)
	a.Score = g.Score
	a.Percentage = g.Percentage
	a.Passed = g.Passed
	a.Results = g.Results
	a.Status = StatusGraded
	a.UpdatedAt = now
	a.GradedAt = &now
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// MutateFunc changes an attempt in place. Returning an error aborts the
// mutation and nothing is persisted.
type MutateFunc func(a *Attempt) error

// AttemptRepository persists attempts. Implementations must make Create and
// Update atomic with respect to concurrent callers.
type AttemptRepository interface {
	// CreateOrGetInProgress inserts a unless an in-progress attempt already
	// exists for its (user, course); in that case the existing attempt is
	// returned and created is false.
	CreateOrGetInProgress(ctx context.Context, a *Attempt) (attempt *Attempt, created bool, err error)

	// GetByID returns shared.ErrAttemptNotFound when no attempt has that id.
	GetByID(ctx context.Context, id string) (*Attempt, error)

	// Update loads the attempt under a lock, applies fn and stores the result.
	Update(ctx context.Context, id string, fn MutateFunc) (*Attempt, error)

	// ListGraded returns graded attempts for the pair, most recent first.
	ListGraded(ctx context.Context, userID, courseID string) ([]*Attempt, error)

	// FindLatestPassed returns the most recently graded passed attempt or
	// shared.ErrAttemptNotFound.
	FindLatestPassed(ctx context.Context, userID, courseID string) (*Attempt, error)
}
