package models

import (
	"strings"
	"time"
)

// TeacherProfile holds banking details (RIB) and the rate range of an ENSEIGNANT.
type TeacherProfile struct {
	UserID        string    `db:"user_id" json:"user_id"`
	IBAN          *string   `db:"iban" json:"iban,omitempty"`
	BIC           *string   `db:"bic" json:"bic,omitempty"`
	AccountHolder *string   `db:"account_holder" json:"account_holder,omitempty"`
	BankName      *string   `db:"bank_name" json:"bank_name,omitempty"`
	RateMin       float64   `db:"rate_min" json:"rate_min"`
	RateMax       float64   `db:"rate_max" json:"rate_max"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasCompleteBankDetails reports whether every RIB field is filled in.
func (t TeacherProfile) HasCompleteBankDetails() bool {
	for _, v := range []*string{t.IBAN, t.BIC, t.AccountHolder, t.BankName} {
		if v == nil || strings.TrimSpace(*v) == "" {
			return false
		}
	}
	return true
}

// BankDetails is the editable RIB part of a teacher profile.
type BankDetails struct {
	IBAN          string `json:"iban" validate:"required,min=14,max=34"`
	BIC           string `json:"bic" validate:"required,min=8,max=11"`
	AccountHolder string `json:"account_holder" validate:"required"`
	BankName      string `json:"bank_name" validate:"required"`
}
