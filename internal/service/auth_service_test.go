package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type mockAuthUsers struct {
	users            map[string]*models.User
	lastLoginUpdated bool
}

func (m *mockAuthUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUsers) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthUsers) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

type mockAuthProfiles struct {
	profiles map[string]*models.Profile
}

func (m *mockAuthProfiles) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	if p, ok := m.profiles[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthProfiles) SetMustChangePassword(ctx context.Context, id string, value bool) error {
	if p, ok := m.profiles[id]; ok {
		p.MustChangePassword = value
	}
	return nil
}

type memoryAttempts struct {
	counts map[string]int64
}

func (m *memoryAttempts) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryAttempts) Counter(ctx context.Context, key string) (int64, error) {
	return m.counts[key], nil
}

func (m *memoryAttempts) Delete(ctx context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

type memoryAudit struct {
	logs []*models.AuditLog
}

func (m *memoryAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newAuthFixture(t *testing.T, role models.UserRole, campusID *string) (*AuthService, *mockAuthUsers, *mockAuthProfiles, *memoryAttempts) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Temp1234!"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &mockAuthUsers{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "prof@example.com", PasswordHash: string(hash)},
	}}
	profiles := &mockAuthProfiles{profiles: map[string]*models.Profile{
		"u1": {ID: "u1", Email: "prof@example.com", FirstName: "Ada", LastName: "Lovelace", Role: role, CampusID: campusID, Active: true, MustChangePassword: true},
	}}
	attempts := &memoryAttempts{}
	svc := NewAuthService(AuthServiceParams{
		Users:    users,
		Profiles: profiles,
		Audit:    &memoryAudit{},
		Attempts: attempts,
		Config: AuthConfig{
			AccessTokenSecret: "secret",
			AccessTokenExpiry: time.Hour,
			Issuer:            "test",
			MaxLoginAttempts:  3,
			LockoutWindow:     time.Minute,
		},
	})
	return svc, users, profiles, attempts
}

func TestAuthLoginIssuesTokenWithCampus(t *testing.T) {
	campus := "campus-1"
	svc, users, _, _ := newAuthFixture(t, models.RoleCampusDirector, &campus)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "Temp1234!"})
	require.NoError(t, err)
	assert.True(t, res.MustChangePassword)
	assert.Equal(t, models.RoleCampusDirector, res.User.Role)
	assert.True(t, users.lastLoginUpdated)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	require.NotNil(t, claims.CampusID)
	assert.Equal(t, campus, *claims.CampusID)
}

func TestAuthLoginLocksOutAfterRepeatedFailures(t *testing.T) {
	svc, _, _, attempts := newAuthFixture(t, models.RoleTeacher, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, models.LoginRequest{Email: "prof@example.com", Password: "wrong-password"})
		require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	}

	_, err := svc.Login(ctx, models.LoginRequest{Email: "prof@example.com", Password: "Temp1234!"})
	require.ErrorIs(t, err, appErrors.ErrTooManyAttempts)
	assert.Equal(t, 429, appErrors.FromError(err).Status)

	attempts.counts = nil
	_, err = svc.Login(ctx, models.LoginRequest{Email: "prof@example.com", Password: "Temp1234!"})
	require.NoError(t, err)
}

func TestAuthLoginSuccessResetsCounter(t *testing.T) {
	svc, _, _, attempts := newAuthFixture(t, models.RoleTeacher, nil)
	ctx := context.Background()

	_, err := svc.Login(ctx, models.LoginRequest{Email: "prof@example.com", Password: "nope-nope"})
	require.Error(t, err)
	assert.EqualValues(t, 1, attempts.counts[loginAttemptKey("prof@example.com")])

	_, err = svc.Login(ctx, models.LoginRequest{Email: "prof@example.com", Password: "Temp1234!"})
	require.NoError(t, err)
	assert.Zero(t, attempts.counts[loginAttemptKey("prof@example.com")])
}

func TestAuthLoginRejectsInactiveProfile(t *testing.T) {
	svc, _, profiles, _ := newAuthFixture(t, models.RoleTeacher, nil)
	profiles.profiles["u1"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "Temp1234!"})
	require.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestAuthChangePasswordClearsFlag(t *testing.T) {
	svc, users, profiles, _ := newAuthFixture(t, models.RoleTeacher, nil)
	ctx := context.Background()

	err := svc.ChangePassword(ctx, "u1", models.ChangePasswordRequest{OldPassword: "Temp1234!", NewPassword: "N3w-Password"})
	require.NoError(t, err)
	assert.False(t, profiles.profiles["u1"].MustChangePassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users.users["u1"].PasswordHash), []byte("N3w-Password")))

	err = svc.ChangePassword(ctx, "u1", models.ChangePasswordRequest{OldPassword: "Temp1234!", NewPassword: "Another-1"})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, models.RoleTeacher, nil)
	_, err := svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
