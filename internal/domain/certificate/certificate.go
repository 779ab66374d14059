// Package certificate models issued course completion certificates.
package certificate

import (
	"context"
	"time"
)

// Certificate is issued at most once per (UserID, CourseID) and never mutated.
type Certificate struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	ScorePercentage  float64   `json:"score_percentage"`
	DocumentRef      string    `json:"document_ref"`
	VerificationCode string    `json:"verification_code"`
	IssuedAt         time.Time `json:"issued_at"`
}

// Repository stores certificates. Insert relies on the store's unique
// (user_id, course_id) constraint rather than a prior read.
type Repository interface {
	// Insert stores c. When a certificate for the pair already exists the
	// stored one is returned with created=false and c is discarded.
	Insert(ctx context.Context, c *Certificate) (stored *Certificate, created bool, err error)

	// Get returns shared.ErrCertificateNotFound when none was issued.
	Get(ctx context.Context, userID, courseID string) (*Certificate, error)

	// GetByVerificationCode returns shared.ErrCertificateNotFound for unknown codes.
	GetByVerificationCode(ctx context.Context, code string) (*Certificate, error)
}

// DocumentRenderer produces the certificate document and returns an opaque
// reference to it, typically a URL.
type DocumentRenderer interface {
	Render(ctx context.Context, userID, courseID string, scorePercentage float64) (string, error)
}

// DocumentDiscarder is implemented by renderers that can delete a document
// which lost an issuance race.
type DocumentDiscarder interface {
	Discard(ctx context.Context, documentRef string) error
}

// CodeGenerator derives the public verification code of a certificate.
type CodeGenerator interface {
	Generate(userID, courseID string, issuedAt time.Time) string
}
