package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

func TestRedactExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCredentialRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE temp_access_credentials SET temp_password = ''")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RedactExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExportedEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCredentialRepository(db)

	require.NoError(t, repo.MarkExported(context.Background(), nil, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForExportSkipsExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCredentialRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "temp_password", "first_name", "last_name", "role", "campus_name", "created_at", "exported"}).
		AddRow("cr1", "a@example.com", "Secret123!", "Ada", "Lovelace", "ENSEIGNANT", "Jaurès", now, false)
	mock.ExpectQuery("SELECT DISTINCT ON \\(t.user_id\\) t.id.*WHERE \\(t.expires_at > \\$1 AND t.redacted_at IS NULL AND t.exported = \\$2\\)").
		WillReturnRows(rows)

	out, err := repo.ListForExport(context.Background(), models.CredentialFilter{OnlyNew: true, Now: now})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Secret123!", out[0].TempPassword)
	assert.NoError(t, mock.ExpectationsWereMet())
}
