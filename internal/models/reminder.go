package models

import "time"

// ReminderKind identifies a scheduled reminder class.
type ReminderKind string

const (
	ReminderMissingBankDetails   ReminderKind = "missing_bank_details"
	ReminderEndOfMonthSubmission ReminderKind = "end_of_month_submission"
	ReminderMonthlyReport        ReminderKind = "monthly_report"
	ReminderOverdueInvoices      ReminderKind = "overdue_invoices"
	ReminderCredentialPurge      ReminderKind = "credential_purge"
)

// ReminderRun marks that a reminder fired for a calendar day.
type ReminderRun struct {
	Kind       ReminderKind `db:"kind" json:"kind"`
	RunDate    time.Time    `db:"run_date" json:"run_date"`
	FiredAt    time.Time    `db:"fired_at" json:"fired_at"`
	Recipients int          `db:"recipients" json:"recipients"`
}

// ReminderOutcome reports what one evaluation did for a kind.
type ReminderOutcome struct {
	Kind       ReminderKind `json:"kind"`
	Due        bool         `json:"due"`
	Claimed    bool         `json:"claimed"`
	Recipients int          `json:"recipients"`
	Error      string       `json:"error,omitempty"`
}
