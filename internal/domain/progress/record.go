// Package progress models a learner's advance through the content units of a
// course.
package progress

import (
	"context"
	"sort"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// Record is the progress of one user in one course.
//
// ContentCompleted is true iff len(CompletedUnits) equals the course's unit
// count at the time it was last evaluated. ExamPassed only carries meaning
// for courses with an exam.
type Record struct {
	UserID           string
	CourseID         string
	CompletedUnits   []string
	ContentCompleted bool
	ExamPassed       bool
	CertificateRef   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key identifies a record and orders listings by user, then course.
type Key struct {
	UserID   string
	CourseID string
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool {
	if k.UserID != other.UserID {
		return k.UserID < other.UserID
	}
	return k.CourseID < other.CourseID
}

// IsZero reports whether k is the start of the key space.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Key returns the record's key.
func (r *Record) Key() Key {
	return Key{UserID: r.UserID, CourseID: r.CourseID}
}

// CompletedCount returns the size of the completed unit set.
func (r *Record) CompletedCount() int {
	return len(r.CompletedUnits)
}

// HasUnit reports whether unitID is in the completed set.
func (r *Record) HasUnit(unitID string) bool {
	for _, u := range r.CompletedUnits {
		if u == unitID {
			return true
		}
	}
	return false
}

// Percentage is round(completed/total*100, 2).
func (r *Record) Percentage(totalUnits int) float64 {
	return shared.Percent(r.CompletedCount(), totalUnits, 2)
}

// IsComplete reports whether the completed set covers totalUnits.
func IsComplete(completed, totalUnits int) bool {
	return totalUnits > 0 && completed == totalUnits
}

// Clone returns a copy that does not share the unit slice.
func (r *Record) Clone() *Record {
	c := *r
	c.CompletedUnits = append([]string(nil), r.CompletedUnits...)
	return &c
}

// SortedUnits returns the completed units in lexical order.
func (r *Record) SortedUnits() []string {
	units := append([]string(nil), r.CompletedUnits...)
	sort.Strings(units)
	return units
}

// Status is the display view of a record.
type Status struct {
	ContentCompleted     bool   `json:"content_completed"`
	ExamPassed           bool   `json:"exam_passed"`
	CertificateReference string `json:"certificate_reference,omitempty"`
}

// Status returns the display view of the record.
func (r *Record) Status() Status {
	return Status{
		ContentCompleted:     r.ContentCompleted,
		ExamPassed:           r.ExamPassed,
		CertificateReference: r.CertificateRef,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores progress records. Every mutating method is a single
// atomic operation in the store; callers never read-modify-write.
type Repository interface {
	// AddUnit inserts unitID into the completed set, creating the record on
	// first use. added is false when the unit was already present.
	AddUnit(ctx context.Context, userID, courseID, unitID string) (record *Record, added bool, err error)

	// RecomputeCompletion sets content_completed to (count == totalUnits)
	// against the current stored set. flipped is true only for the single
	// caller that moved the flag from false to true.
	RecomputeCompletion(ctx context.Context, userID, courseID string, totalUnits int) (record *Record, flipped bool, err error)

	// MarkExamPassed sets exam_passed, creating the record if needed.
	// Idempotent.
	MarkExamPassed(ctx context.Context, userID, courseID string) error

	// SetCertificateRef records the issued certificate's document reference.
	SetCertificateRef(ctx context.Context, userID, courseID, ref string) error

	// Get returns shared.ErrProgressNotFound when the pair has no record.
	Get(ctx context.Context, userID, courseID string) (*Record, error)

	// ListAwaitingCertificate returns content-complete records without a
	// certificate reference whose key sorts after the given key, in key
	// order. Stores may leave out pairs that cannot be eligible yet; the
	// result may still contain some.
	ListAwaitingCertificate(ctx context.Context, after Key, limit int) ([]*Record, error)
}
