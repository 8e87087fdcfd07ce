package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

type memoryUsers struct {
	byID      map[string]*models.User
	deleteErr error
	deletes   int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[string]*models.User)}
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUsers) Create(ctx context.Context, user *models.User) error {
	user.ID = "user-" + strings.ToLower(strings.TrimSpace(user.Email))
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	m.byID[user.ID] = user
	return nil
}

func (m *memoryUsers) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memoryUsers) Delete(ctx context.Context, id string) error {
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.byID, id)
	return nil
}

func TestIdentityProviderLifecycle(t *testing.T) {
	repo := newMemoryUsers()
	idp := NewUserIdentityProvider(repo)
	ctx := context.Background()

	id, err := idp.Create(ctx, "Prof@Example.com", "First-Pass1")
	require.NoError(t, err)

	_, err = idp.Create(ctx, "prof@example.com", "Other-Pass1")
	assert.ErrorIs(t, err, ErrIdentityExists)

	require.NoError(t, idp.SetPassword(ctx, id, "Second-Pass2"))
	_, err = idp.Verify(ctx, "prof@example.com", "First-Pass1")
	assert.Error(t, err)
	user, err := idp.Verify(ctx, "prof@example.com", "Second-Pass2")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	require.NoError(t, idp.Delete(ctx, id))
	_, err = idp.Verify(ctx, "prof@example.com", "Second-Pass2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGenerateTempPasswordComplexity(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := GenerateTempPassword(12)
		require.NoError(t, err)
		assert.Len(t, pw, 12)
		assert.True(t, strings.ContainsAny(pw, passwordLower))
		assert.True(t, strings.ContainsAny(pw, passwordUpper))
		assert.True(t, strings.ContainsAny(pw, passwordDigits))
		assert.True(t, strings.ContainsAny(pw, passwordSymbols))
	}

	short, err := GenerateTempPassword(3)
	require.NoError(t, err)
	assert.Len(t, short, 8)
}
