package query

import (
	"context"
	"fmt"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/internal/infrastructure/security"
)

// CertificateDTO is the public view of an issued certificate.
type CertificateDTO struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	ScorePercentage  float64   `json:"score_percentage"`
	DocumentRef      string    `json:"document_ref"`
	VerificationCode string    `json:"verification_code"`
	IssuedAt         time.Time `json:"issued_at"`
}

func certificateView(c *certificate.Certificate) *CertificateDTO {
	return &CertificateDTO{
		ID:               c.ID,
		UserID:           c.UserID,
		CourseID:         c.CourseID,
		ScorePercentage:  c.ScorePercentage,
		DocumentRef:      c.DocumentRef,
		VerificationCode: c.VerificationCode,
		IssuedAt:         c.IssuedAt,
	}
}

// GetCertificateHandler reads the certificate of a pair.
type GetCertificateHandler struct {
	certificateRepo certificate.Repository
}

// NewGetCertificateHandler creates a new GetCertificateHandler.
func NewGetCertificateHandler(certificateRepo certificate.Repository) *GetCertificateHandler {
	return &GetCertificateHandler{certificateRepo: certificateRepo}
}

// Handle returns shared.ErrCertificateNotFound when none was issued yet.
func (h *GetCertificateHandler) Handle(ctx context.Context, q GetProgressQuery) (*CertificateDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	c, err := h.certificateRepo.Get(ctx, q.UserID, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_certificate: %w", err)
	}
	return certificateView(c), nil
}

// VerifyCertificateHandler looks certificates up by their public code.
type VerifyCertificateHandler struct {
	certificateRepo certificate.Repository
}

// NewVerifyCertificateHandler creates a new VerifyCertificateHandler.
func NewVerifyCertificateHandler(certificateRepo certificate.Repository) *VerifyCertificateHandler {
	return &VerifyCertificateHandler{certificateRepo: certificateRepo}
}

// Handle accepts codes in any case, with or without separators.
func (h *VerifyCertificateHandler) Handle(ctx context.Context, code string) (*CertificateDTO, error) {
	normalized := security.Normalize(code)
	if normalized == "" {
		return nil, shared.NewDomainError("certificate", "Verify", shared.ErrValidation,
			"verification code is required")
	}

	c, err := h.certificateRepo.GetByVerificationCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("verify_certificate: %w", err)
	}
	return certificateView(c), nil
}
