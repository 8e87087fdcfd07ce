package dto

import "github.com/noah-isme/campus-invoicing-api/internal/models"

// InvoiceLineInput is one session submitted by a teacher.
type InvoiceLineInput struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string  `json:"startTime" validate:"required,datetime=15:04"`
	EndTime     string  `json:"endTime" validate:"required,datetime=15:04"`
	CourseTitle string  `json:"courseTitle" validate:"required"`
	FiliereID   *string `json:"filiereId,omitempty"`
	ClassName   string  `json:"className"`
	UnitPrice   float64 `json:"unitPrice" validate:"gt=0"`
}

// CreateInvoiceRequest captures POST /invoices payload.
type CreateInvoiceRequest struct {
	CampusID string             `json:"campusId" validate:"required"`
	Month    int                `json:"month" validate:"required,min=1,max=12"`
	Year     int                `json:"year" validate:"required,min=2000,max=2100"`
	Lines    []InvoiceLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ReplaceLinesRequest captures PUT /invoices/:id/lines payload.
type ReplaceLinesRequest struct {
	Lines []InvoiceLineInput `json:"lines" validate:"required,min=1,dive"`
}

// TransitionRequest captures the body of a workflow action.
type TransitionRequest struct {
	Comment string `json:"comment,omitempty"`
}

// PaymentRequest captures the body of POST /invoices/:id/pay.
type PaymentRequest struct {
	Comment   string  `json:"comment,omitempty"`
	Amount    float64 `json:"amount,omitempty" validate:"gte=0"`
	Method    string  `json:"method,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

// ImportLinesResult reports invoices created from an uploaded session sheet.
type ImportLinesResult struct {
	Invoices []models.Invoice `json:"invoices"`
	Lines    int              `json:"lines"`
	Errors   []string         `json:"errors"`
}

// InvoiceHistoryResponse lists the transitions of an invoice.
type InvoiceHistoryResponse struct {
	InvoiceID string                      `json:"invoiceId"`
	Status    models.InvoiceStatus        `json:"status"`
	Entries   []models.ValidationLogEntry `json:"entries"`
}
