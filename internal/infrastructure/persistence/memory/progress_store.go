// Package memory provides process-local implementations of the repositories.
// They back tests and single-instance deployments without a database and
// keep the same atomicity guarantees as the PostgreSQL repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ProgressStore implements progress.Repository.
type ProgressStore struct {
	mu      sync.Mutex
	records map[string]*progress.Record
	now     func() time.Time
}

// NewProgressStore creates an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		records: make(map[string]*progress.Record),
		now:     time.Now,
	}
}

func (s *ProgressStore) getOrCreate(userID, courseID string) *progress.Record {
	key := shared.EnrollmentKey(userID, courseID)
	rec, ok := s.records[key]
	if !ok {
		now := s.now().UTC()
		rec = &progress.Record{
			UserID:    userID,
			CourseID:  courseID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.records[key] = rec
	}
	return rec
}

func (s *ProgressStore) AddUnit(_ context.Context, userID, courseID, unitID string) (*progress.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(userID, courseID)
	if rec.HasUnit(unitID) {
		return rec.Clone(), false, nil
	}
	rec.CompletedUnits = append(rec.CompletedUnits, unitID)
	rec.UpdatedAt = s.now().UTC()
	return rec.Clone(), true, nil
}

func (s *ProgressStore) RecomputeCompletion(_ context.Context, userID, courseID string, totalUnits int) (*progress.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[shared.EnrollmentKey(userID, courseID)]
	if !ok {
		return nil, false, shared.ErrProgressNotFound
	}

	complete := progress.IsComplete(rec.CompletedCount(), totalUnits)
	if complete == rec.ContentCompleted {
		return rec.Clone(), false, nil
	}
	rec.ContentCompleted = complete
	rec.UpdatedAt = s.now().UTC()
	return rec.Clone(), complete, nil
}

func (s *ProgressStore) MarkExamPassed(_ context.Context, userID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(userID, courseID)
	if !rec.ExamPassed {
		rec.ExamPassed = true
		rec.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *ProgressStore) SetCertificateRef(_ context.Context, userID, courseID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[shared.EnrollmentKey(userID, courseID)]
	if !ok {
		return shared.ErrProgressNotFound
	}
	rec.CertificateRef = ref
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *ProgressStore) Get(_ context.Context, userID, courseID string) (*progress.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[shared.EnrollmentKey(userID, courseID)]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return rec.Clone(), nil
}

func (s *ProgressStore) ListAwaitingCertificate(_ context.Context, after progress.Key, limit int) ([]*progress.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*progress.Record
	for _, rec := range s.records {
		if rec.ContentCompleted && rec.CertificateRef == "" && after.Less(rec.Key()) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().Less(out[j].Key())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ progress.Repository = (*ProgressStore)(nil)
