package models

import "time"

// Campus is a physical site teachers bill sessions at.
type Campus struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      *string   `db:"code" json:"code,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Filiere is a field of study used to classify billed sessions.
type Filiere struct {
	ID   string `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Class is a student group of a filiere on a campus.
type Class struct {
	ID        string  `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	FiliereID *string `db:"filiere_id" json:"filiere_id,omitempty"`
	CampusID  *string `db:"campus_id" json:"campus_id,omitempty"`
}

// CourseTitle is a billable course label.
type CourseTitle struct {
	ID        string  `db:"id" json:"id"`
	Title     string  `db:"title" json:"title"`
	FiliereID *string `db:"filiere_id" json:"filiere_id,omitempty"`
}
