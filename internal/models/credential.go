package models

import "time"

// TempAccessCredential records one issuance of a temporary password.
type TempAccessCredential struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Email        string     `db:"email" json:"email"`
	TempPassword string     `db:"temp_password" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	Exported     bool       `db:"exported" json:"exported"`
	ExportedAt   *time.Time `db:"exported_at" json:"exported_at,omitempty"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	RedactedAt   *time.Time `db:"redacted_at" json:"redacted_at,omitempty"`
}

// CredentialExportRow is a credential joined with its profile for the export CSV.
type CredentialExportRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	TempPassword string    `db:"temp_password"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Role         UserRole  `db:"role"`
	CampusName   *string   `db:"campus_name"`
	CreatedAt    time.Time `db:"created_at"`
	Exported     bool      `db:"exported"`
}

// CredentialFilter narrows the credentials selected for export.
type CredentialFilter struct {
	OnlyNew  bool
	Role     *UserRole
	CampusID *string
	Now      time.Time
}
