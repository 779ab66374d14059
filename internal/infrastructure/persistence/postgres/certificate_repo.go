package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// CertificateRepository implements certificate.Repository on PostgreSQL.
type CertificateRepository struct {
	conn *Connection
}

// NewCertificateRepository creates a new CertificateRepository.
func NewCertificateRepository(conn *Connection) *CertificateRepository {
	return &CertificateRepository{conn: conn}
}

const certificateColumns = `id, user_id, course_id, score_percentage, document_ref, verification_code, issued_at`

// Insert stores c unless the pair already holds a certificate. The unique
// constraint decides the race; the loser reads back the winner's row.
func (r *CertificateRepository) Insert(ctx context.Context, c *certificate.Certificate) (*certificate.Certificate, bool, error) {
	query := `
		INSERT INTO certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id) DO NOTHING
		RETURNING ` + certificateColumns

	stored, err := scanCertificate(r.conn.QueryRow(ctx, query,
		c.ID, c.UserID, c.CourseID, c.ScorePercentage, c.DocumentRef, c.VerificationCode, c.IssuedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !IsNoRows(err) {
		if IsUniqueViolation(err) {
			// verification_code collision on a different pair
			return nil, false, shared.WrapError("certificate", "Insert", shared.ErrConflict,
				"verification code already in use", err)
		}
		return nil, false, storageError("certificate", "Insert", err)
	}

	existing, err := r.Get(ctx, c.UserID, c.CourseID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get returns the certificate issued for the pair.
func (r *CertificateRepository) Get(ctx context.Context, userID, courseID string) (*certificate.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE user_id = $1 AND course_id = $2`

	c, err := scanCertificate(r.conn.QueryRow(ctx, query, userID, courseID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCertificateNotFound
		}
		return nil, storageError("certificate", "Get", err)
	}
	return c, nil
}

// GetByVerificationCode looks a certificate up by its public code.
func (r *CertificateRepository) GetByVerificationCode(ctx context.Context, code string) (*certificate.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE verification_code = $1`

	c, err := scanCertificate(r.conn.QueryRow(ctx, query, code))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCertificateNotFound
		}
		return nil, storageError("certificate", "GetByVerificationCode", err)
	}
	return c, nil
}

func scanCertificate(row pgx.Row) (*certificate.Certificate, error) {
	var c certificate.Certificate
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CourseID,
		&c.ScorePercentage,
		&c.DocumentRef,
		&c.VerificationCode,
		&c.IssuedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ certificate.Repository = (*CertificateRepository)(nil)
