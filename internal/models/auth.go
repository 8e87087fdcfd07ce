package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued access token and user info.
type LoginResponse struct {
	AccessToken        string    `json:"access_token"`
	ExpiresIn          int64     `json:"expires_in"`
	User               UserInfo  `json:"user"`
	MustChangePassword bool      `json:"mustChangePassword"`
	IssuedAt           time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Role      UserRole `json:"role"`
	CampusID  *string  `json:"campus_id,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	CampusID *string  `json:"campus_id,omitempty"`
	Email    string   `json:"email"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller a service operation runs on behalf of.
type Actor struct {
	ID       string
	Role     UserRole
	CampusID *string
	Email    string
}

// ActorFromClaims converts verified token claims.
func ActorFromClaims(c *JWTClaims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.UserID, Role: c.Role, CampusID: c.CampusID, Email: c.Email}
}

// InCampus reports whether the actor is affiliated with campusID.
func (a Actor) InCampus(campusID string) bool {
	return a.CampusID != nil && *a.CampusID == campusID
}
