package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTxCommitsRepositoryWrites(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	txm := NewTxManager(db)
	users := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET last_login").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txm.RunInTx(context.Background(), func(ctx context.Context) error {
		return users.UpdateLastLogin(ctx, "u1", time.Now())
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	txm := NewTxManager(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := txm.RunInTx(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxNestedJoinsOuter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	txm := NewTxManager(db)

	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := txm.RunInTx(context.Background(), func(ctx context.Context) error {
		return txm.RunInTx(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalizePage(t *testing.T) {
	page, size := normalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, size)

	page, size = normalizePage(3, 500)
	assert.Equal(t, 3, page)
	assert.Equal(t, 20, size)
}
