package models

import "time"

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending      InvoiceStatus = "pending"
	InvoiceStatusPrevalidated InvoiceStatus = "prevalidated"
	InvoiceStatusValidated    InvoiceStatus = "validated"
	InvoiceStatusRejected     InvoiceStatus = "rejected"
	InvoiceStatusPaid         InvoiceStatus = "paid"
)

// InvoiceStatuses lists every valid status.
var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPrevalidated,
	InvoiceStatusValidated,
	InvoiceStatusRejected,
	InvoiceStatusPaid,
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	for _, known := range InvoiceStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusRejected || s == InvoiceStatusPaid
}

// InvoiceAction names a workflow transition.
type InvoiceAction string

const (
	InvoiceActionPrevalidate InvoiceAction = "prevalidate"
	InvoiceActionValidate    InvoiceAction = "validate"
	InvoiceActionReject      InvoiceAction = "reject"
	InvoiceActionPay         InvoiceAction = "pay"
)

// Invoice is a teacher's monthly bill for one campus.
type Invoice struct {
	ID          string        `db:"id" json:"id"`
	TeacherID   string        `db:"teacher_id" json:"teacher_id"`
	CampusID    string        `db:"campus_id" json:"campus_id"`
	Month       int           `db:"month" json:"month"`
	Year        int           `db:"year" json:"year"`
	TotalHours  float64       `db:"total_hours" json:"total_hours"`
	TotalAmount float64       `db:"total_amount" json:"total_amount"`
	Status      InvoiceStatus `db:"status" json:"status"`
	SubmittedAt time.Time     `db:"submitted_at" json:"submitted_at"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`

	TeacherName *string       `db:"teacher_name" json:"teacher_name,omitempty"`
	CampusName  *string       `db:"campus_name" json:"campus_name,omitempty"`
	Lines       []InvoiceLine `db:"-" json:"lines,omitempty"`
}

// InvoiceLine is one billed session.
type InvoiceLine struct {
	ID          string    `db:"id" json:"id"`
	InvoiceID   string    `db:"invoice_id" json:"invoice_id"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	Hours       float64   `db:"hours" json:"hours"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	Amount      float64   `db:"amount" json:"amount"`
	CourseTitle string    `db:"course_title" json:"course_title"`
	CampusID    *string   `db:"campus_id" json:"campus_id,omitempty"`
	FiliereID   *string   `db:"filiere_id" json:"filiere_id,omitempty"`
	ClassName   string    `db:"class_name" json:"class_name"`
}

// ValidationLogEntry is the append-only record of one status transition.
type ValidationLogEntry struct {
	ID             string        `db:"id" json:"id"`
	InvoiceID      string        `db:"invoice_id" json:"invoice_id"`
	ActorID        string        `db:"actor_id" json:"actor_id"`
	ActorRole      UserRole      `db:"actor_role" json:"actor_role"`
	Action         InvoiceAction `db:"action" json:"action"`
	PreviousStatus InvoiceStatus `db:"previous_status" json:"previous_status"`
	NewStatus      InvoiceStatus `db:"new_status" json:"new_status"`
	Comment        *string       `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Payment records the settlement of a validated invoice.
type Payment struct {
	ID         string    `db:"id" json:"id"`
	InvoiceID  string    `db:"invoice_id" json:"invoice_id"`
	Amount     float64   `db:"amount" json:"amount"`
	PaidAt     time.Time `db:"paid_at" json:"paid_at"`
	Method     string    `db:"method" json:"method"`
	Reference  *string   `db:"reference" json:"reference,omitempty"`
	RecordedBy string    `db:"recorded_by" json:"recorded_by"`
}

// InvoiceFilter captures list criteria; scope fields are set by the service from the actor.
type InvoiceFilter struct {
	Status    *InvoiceStatus
	CampusID  *string
	TeacherID *string
	Month     *int
	Year      *int
	Page      int
	PageSize  int
}

// SideEffect reports the outcome of a best-effort follow-up to a committed change.
type SideEffect struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TransitionResult is returned by every workflow transition.
type TransitionResult struct {
	Invoice     *Invoice            `json:"invoice"`
	Log         *ValidationLogEntry `json:"log"`
	Payment     *Payment            `json:"payment,omitempty"`
	SideEffects []SideEffect        `json:"side_effects"`
}

// Degraded reports whether the transition committed but a side effect failed.
func (r TransitionResult) Degraded() bool {
	for _, se := range r.SideEffects {
		if !se.OK {
			return true
		}
	}
	return false
}
