package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// AttemptStore implements exam.AttemptRepository. Stored attempts are never
// handed out directly; callers always receive clones.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*exam.Attempt
	open     map[string]string // enrollment key -> in-progress attempt id
}

// NewAttemptStore creates an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*exam.Attempt),
		open:     make(map[string]string),
	}
}

func (s *AttemptStore) CreateOrGetInProgress(_ context.Context, a *exam.Attempt) (*exam.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shared.EnrollmentKey(a.UserID, a.CourseID)
	if id, ok := s.open[key]; ok {
		return s.attempts[id].Clone(), false, nil
	}
	if _, dup := s.attempts[a.ID]; dup {
		return nil, false, shared.NewDomainError("exam", "CreateAttempt", shared.ErrConflict, "attempt id already used")
	}

	stored := a.Clone()
	s.attempts[stored.ID] = stored
	if stored.Status == exam.StatusInProgress {
		s.open[key] = stored.ID
	}
	return stored.Clone(), true, nil
}

func (s *AttemptStore) GetByID(_ context.Context, id string) (*exam.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

// Update applies fn to a working copy and only commits it when fn succeeds.
func (s *AttemptStore) Update(_ context.Context, id string, fn exam.MutateFunc) (*exam.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.attempts[id]
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}

	s.attempts[id] = work
	key := shared.EnrollmentKey(work.UserID, work.CourseID)
	if work.Status != exam.StatusInProgress && s.open[key] == id {
		delete(s.open, key)
	}
	return work.Clone(), nil
}

func (s *AttemptStore) ListGraded(_ context.Context, userID, courseID string) ([]*exam.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*exam.Attempt
	for _, a := range s.attempts {
		if a.UserID == userID && a.CourseID == courseID && a.IsGraded() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GradedAt.After(*out[j].GradedAt)
	})
	return out, nil
}

func (s *AttemptStore) FindLatestPassed(ctx context.Context, userID, courseID string) (*exam.Attempt, error) {
	graded, _ := s.ListGraded(ctx, userID, courseID)
	for _, a := range graded {
		if a.Passed {
			return a, nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

var _ exam.AttemptRepository = (*AttemptStore)(nil)
