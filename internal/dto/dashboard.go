package dto

import "github.com/noah-isme/campus-invoicing-api/internal/models"

// DashboardResponse is the role-scoped dashboard payload.
type DashboardResponse struct {
	Scope               string           `json:"scope"`
	Month               int              `json:"month"`
	Year                int              `json:"year"`
	Totals              DashboardTotals  `json:"totals"`
	ByStatus            []StatusSummary  `json:"byStatus"`
	ByCampus            []CampusSummary  `json:"byCampus,omitempty"`
	ActiveTeachers      int              `json:"activeTeachers,omitempty"`
	MissingBankDetails  int              `json:"missingBankDetails,omitempty"`
	UnreadNotifications int              `json:"unreadNotifications"`
	Recent              []models.Invoice `json:"recent,omitempty"`
}

// DashboardTotals aggregates the invoices visible to the actor.
type DashboardTotals struct {
	Invoices    int     `json:"invoices"`
	Hours       float64 `json:"hours"`
	Amount      float64 `json:"amount"`
	PaidAmount  float64 `json:"paidAmount"`
	AwaitingPay float64 `json:"awaitingPayment"`
}

// StatusSummary groups invoices by workflow status.
type StatusSummary struct {
	Status models.InvoiceStatus `json:"status"`
	Count  int                  `json:"count"`
	Hours  float64              `json:"hours"`
	Amount float64              `json:"amount"`
}

// CampusSummary groups invoices of one campus.
type CampusSummary struct {
	CampusID   string                       `json:"campusId"`
	CampusName string                       `json:"campusName"`
	Count      int                          `json:"count"`
	Amount     float64                      `json:"amount"`
	ByStatus   map[models.InvoiceStatus]int `json:"byStatus"`
}
