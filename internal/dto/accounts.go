package dto

import (
	"time"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// CreateAccountRequest captures POST /accounts payload.
type CreateAccountRequest struct {
	Email        string          `json:"email" validate:"required,email"`
	Password     string          `json:"password,omitempty" validate:"omitempty,min=8"`
	FirstName    string          `json:"firstName" validate:"required"`
	LastName     string          `json:"lastName" validate:"required"`
	Phone        string          `json:"phone,omitempty"`
	Role         models.UserRole `json:"role" validate:"required"`
	CampusID     *string         `json:"campusId,omitempty"`
	IsNewTeacher bool            `json:"isNewTeacher"`
}

// AccountResult reports the outcome of one account creation.
type AccountResult struct {
	UserID        string `json:"userId"`
	AlreadyExists bool   `json:"alreadyExists"`
	TempPassword  string `json:"tempPassword,omitempty"`
}

// ImportRowStatus is the per-row outcome of a teacher import.
type ImportRowStatus string

const (
	ImportRowCreated ImportRowStatus = "created"
	ImportRowExists  ImportRowStatus = "exists"
	ImportRowError   ImportRowStatus = "error"
)

// ImportRow describes what happened to one CSV row.
type ImportRow struct {
	Line      int             `json:"line"`
	Email     string          `json:"email"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Campuses  []string        `json:"campuses,omitempty"`
	Status    ImportRowStatus `json:"status"`
	UserID    string          `json:"userId,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ImportTeachersResult summarises a bulk teacher import.
type ImportTeachersResult struct {
	TotalTeachers     int         `json:"totalTeachers"`
	ProcessedTeachers int         `json:"processedTeachers"`
	AlreadyExisting   int         `json:"alreadyExisting"`
	Errors            []string    `json:"errors"`
	Warnings          []string    `json:"warnings"`
	UnknownCampuses   []string    `json:"unknownCampuses"`
	Rows              []ImportRow `json:"rows"`
}

// ResetScope selects the users a bulk password reset applies to.
type ResetScope string

const (
	ResetScopeNewTeachers ResetScope = "new_teachers"
	ResetScopeAllTeachers ResetScope = "all_teachers"
	ResetScopeAllUsers    ResetScope = "all_users"
)

// ResetPasswordsRequest captures POST /accounts/reset-passwords payload.
type ResetPasswordsRequest struct {
	UserIDs   []string   `json:"userIds,omitempty"`
	Scope     ResetScope `json:"scope,omitempty" validate:"omitempty,oneof=new_teachers all_teachers all_users"`
	SendEmail bool       `json:"sendEmail"`
}

// ResetRow is the outcome of one password reset.
type ResetRow struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	TempPassword string `json:"tempPassword,omitempty"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

// ResetResult summarises a bulk password reset.
type ResetResult struct {
	Rows      []ResetRow `json:"rows"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

// CredentialExportRequest captures POST /accounts/credentials/export payload.
type CredentialExportRequest struct {
	OnlyNew  bool             `json:"onlyNew"`
	Role     *models.UserRole `json:"role,omitempty"`
	CampusID *string          `json:"campusId,omitempty"`
}

// DownloadLink is a signed, expiring link to a generated file.
type DownloadLink struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Rows      int       `json:"rows"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AccessEmailsRequest captures POST /accounts/access-emails payload.
type AccessEmailsRequest struct {
	UserIDs []string `json:"userIds" validate:"required,min=1"`
}

// AccessEmailsResult reports how many access emails were queued.
type AccessEmailsResult struct {
	Queued  int      `json:"queued"`
	Skipped []string `json:"skipped,omitempty"`
}

// UpdateProfileRequest captures PUT /profiles/:id payload. Nil fields are left unchanged.
type UpdateProfileRequest struct {
	FirstName    *string          `json:"firstName,omitempty"`
	LastName     *string          `json:"lastName,omitempty"`
	Phone        *string          `json:"phone,omitempty"`
	Role         *models.UserRole `json:"role,omitempty"`
	CampusID     *string          `json:"campusId,omitempty"`
	IsNewTeacher *bool            `json:"isNewTeacher,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

// ProfileResponse is a profile with the teacher banking details when the user teaches.
type ProfileResponse struct {
	models.Profile
	Teacher *models.TeacherProfile `json:"teacher,omitempty"`
}
