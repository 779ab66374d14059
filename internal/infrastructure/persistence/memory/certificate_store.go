package memory

import (
	"context"
	"sync"

	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// CertificateStore implements certificate.Repository.
type CertificateStore struct {
	mu     sync.Mutex
	byPair map[string]*certificate.Certificate
	byCode map[string]*certificate.Certificate
}

// NewCertificateStore creates an empty CertificateStore.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		byPair: make(map[string]*certificate.Certificate),
		byCode: make(map[string]*certificate.Certificate),
	}
}

func (s *CertificateStore) Insert(_ context.Context, c *certificate.Certificate) (*certificate.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shared.EnrollmentKey(c.UserID, c.CourseID)
	if existing, ok := s.byPair[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if _, taken := s.byCode[c.VerificationCode]; taken {
		return nil, false, shared.NewDomainError("certificate", "Insert", shared.ErrConflict, "verification code already in use")
	}

	stored := *c
	s.byPair[key] = &stored
	s.byCode[stored.VerificationCode] = &stored

	cp := stored
	return &cp, true, nil
}

func (s *CertificateStore) Get(_ context.Context, userID, courseID string) (*certificate.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byPair[shared.EnrollmentKey(userID, courseID)]
	if !ok {
		return nil, shared.ErrCertificateNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *CertificateStore) GetByVerificationCode(_ context.Context, code string) (*certificate.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok {
		return nil, shared.ErrCertificateNotFound
	}
	cp := *c
	return &cp, nil
}

// Count returns the number of issued certificates.
func (s *CertificateStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPair)
}

var _ certificate.Repository = (*CertificateStore)(nil)
