package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type authProfileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	SetMustChangePassword(ctx context.Context, id string, value bool) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// loginAttemptStore keeps failed login counters that expire after the lockout window.
type loginAttemptStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	MaxLoginAttempts  int
	LockoutWindow     time.Duration
}

// AuthService provides authentication use cases.
type AuthService struct {
	users     authUserRepository
	profiles  authProfileRepository
	audit     auditWriter
	attempts  loginAttemptStore
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// AuthServiceParams groups constructor dependencies.
type AuthServiceParams struct {
	Users     authUserRepository
	Profiles  authProfileRepository
	Audit     auditWriter
	Attempts  loginAttemptStore
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(params AuthServiceParams) *AuthService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	cfg := params.Config
	if cfg.AccessTokenExpiry <= 0 {
		cfg.AccessTokenExpiry = 24 * time.Hour
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 15 * time.Minute
	}
	return &AuthService{
		users:     params.Users,
		profiles:  params.Profiles,
		audit:     params.Audit,
		attempts:  params.Attempts,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
	}
}

func loginAttemptKey(email string) string {
	return "login:fail:" + strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates a user and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	key := loginAttemptKey(req.Email)
	if s.lockedOut(ctx, key) {
		s.metrics.RecordLoginFailure(true)
		return nil, appErrors.Clone(appErrors.ErrTooManyAttempts, "too many failed login attempts, try again later")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordFailure(ctx, key)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailure(ctx, key)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	profile, err := s.profiles.FindByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no profile is attached to this account")
		}
		return nil, appErrors.Internal(err, "failed to fetch profile")
	}
	if !profile.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if s.attempts != nil {
		if err := s.attempts.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to reset login attempts", zap.Error(err))
		}
	}

	accessToken, issuedAt, err := s.generateAccessToken(user, profile)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, issuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	s.writeAudit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.LoginResponse{
		AccessToken:        accessToken,
		ExpiresIn:          int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:           issuedAt,
		MustChangePassword: profile.MustChangePassword,
		User: models.UserInfo{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			Role:      profile.Role,
			CampusID:  profile.CampusID,
		},
	}, nil
}

func (s *AuthService) lockedOut(ctx context.Context, key string) bool {
	if s.attempts == nil || s.config.MaxLoginAttempts <= 0 {
		return false
	}
	count, err := s.attempts.Counter(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read login attempts", zap.Error(err))
		return false
	}
	return count >= int64(s.config.MaxLoginAttempts)
}

func (s *AuthService) recordFailure(ctx context.Context, key string) {
	s.metrics.RecordLoginFailure(false)
	if s.attempts == nil {
		return
	}
	if _, err := s.attempts.Increment(ctx, key, s.config.LockoutWindow); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.Profile, error) {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	return profile, nil
}

// ChangePassword changes the password for the given user and clears the forced change flag.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}
	if req.OldPassword == req.NewPassword {
		return appErrors.Clone(appErrors.ErrValidation, "new password must differ from the current one")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}
	if err := s.profiles.SetMustChangePassword(ctx, userID, false); err != nil {
		return appErrors.Internal(err, "failed to clear password change flag")
	}

	s.writeAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionPasswordChange,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  []byte(`{"status":"changed"}`),
	})
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown role in token")
	}
	return claims, nil
}

func (s *AuthService) writeAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func (s *AuthService) generateAccessToken(user *models.User, profile *models.Profile) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     profile.Role,
		CampusID: profile.CampusID,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}
