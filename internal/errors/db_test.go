package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, MapDBError(nil))
	})

	t.Run("deadline exceeded maps to timeout", func(t *testing.T) {
		err := MapDBError(context.DeadlineExceeded)
		assert.True(t, IsTimeout(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("canceled maps to canceled", func(t *testing.T) {
		err := MapDBError(context.Canceled)
		assert.True(t, IsCanceled(err))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		err := MapDBError(pgx.ErrNoRows)
		assert.True(t, IsNotFound(err))
	})

	t.Run("unique violation maps to conflict with field", func(t *testing.T) {
		pgErr := &pgconn.PgError{
			Code:   pgerrcode.UniqueViolation,
			Detail: "Key (payload_digest)=(abc123) already exists.",
		}
		err := MapDBError(pgErr)
		require.True(t, IsConflict(err))
		assert.Equal(t, "payload_digest", GetField(err))
	})

	t.Run("check violation maps to validation", func(t *testing.T) {
		pgErr := &pgconn.PgError{
			Code:       pgerrcode.CheckViolation,
			ColumnName: "status",
		}
		err := MapDBError(pgErr)
		require.True(t, IsValidation(err))
		assert.Equal(t, "status", GetField(err))
	})

	t.Run("not null violation maps to validation", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "session_id"}
		assert.True(t, IsValidation(MapDBError(pgErr)))
	})

	t.Run("other postgres errors map to storage", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
		err := MapDBError(pgErr)
		assert.True(t, IsStorage(err))
		assert.ErrorIs(t, err, pgErr)
	})

	t.Run("unrecognized errors pass through", func(t *testing.T) {
		cause := errors.New("driver hiccup")
		assert.Equal(t, cause, MapDBError(cause))
	})
}
