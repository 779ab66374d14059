package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

func TestGetMigrations_AreOrderedAndReversible(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are contiguous")
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.UpSQL, "migration %d has up SQL", m.Version)
		assert.NotEmpty(t, m.DownSQL, "migration %d has down SQL", m.Version)
	}

	last := migrations[len(migrations)-1]
	assert.Contains(t, last.UpSQL, "progress_records(user_id, course_id)")
	assert.Contains(t, last.DownSQL, "idx_progress_awaiting_certificate_key")
}

func TestErrorHelpers(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))

	assert.NoError(t, storageError("progress", "Get", nil))

	err := storageError("progress", "Get", errors.New("conn reset"))
	assert.True(t, shared.IsStorageFailure(err))
	assert.True(t, shared.IsRetryable(err))

	err = storageError("progress", "Get", context.DeadlineExceeded)
	assert.ErrorIs(t, err, shared.ErrTimeout)

	kept := shared.ErrProgressNotFound
	assert.Same(t, kept, storageError("progress", "Get", kept))
}
