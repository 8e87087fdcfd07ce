package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin     UserRole = "SUPER_ADMIN"
	RoleAccountant     UserRole = "COMPTABLE"
	RoleCampusDirector UserRole = "DIRECTEUR_CAMPUS"
	RoleTeacher        UserRole = "ENSEIGNANT"
)

// Valid reports whether r is one of the four known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAccountant, RoleCampusDirector, RoleTeacher:
		return true
	}
	return false
}

// User is the authentication identity stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Profile carries the role and campus affiliation of a user.
type Profile struct {
	ID                 string    `db:"id" json:"id"`
	Email              string    `db:"email" json:"email"`
	FirstName          string    `db:"first_name" json:"first_name"`
	LastName           string    `db:"last_name" json:"last_name"`
	Phone              *string   `db:"phone" json:"phone,omitempty"`
	Role               UserRole  `db:"role" json:"role"`
	CampusID           *string   `db:"campus_id" json:"campus_id,omitempty"`
	CampusName         *string   `db:"campus_name" json:"campus_name,omitempty"`
	IsNewTeacher       bool      `db:"is_new_teacher" json:"is_new_teacher"`
	MustChangePassword bool      `db:"must_change_password" json:"must_change_password"`
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ProfileFilter captures filtering criteria for listing profiles.
type ProfileFilter struct {
	IDs          []string
	Role         *UserRole
	CampusID     *string
	Active       *bool
	IsNewTeacher *bool
	Search       string
	Page         int
	PageSize     int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
