package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

func TestCreateBatchAssignsIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 2))

	items := []models.Notification{
		{UserID: "u1", Type: models.NotificationInfo, Title: "t", Message: "m"},
		{UserID: "u2", Type: models.NotificationInfo, Title: "t", Message: "m"},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), items))
	assert.NotEmpty(t, items[0].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadOtherUsersNotification(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec("UPDATE notifications SET read = TRUE").
		WithArgs("n1", "intruder", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkRead(context.Background(), "n1", "intruder", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
