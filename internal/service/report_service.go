package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/export"
)

type monthlyInvoiceSource interface {
	ListAll(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, error)
}

var monthlyReportHeaders = []string{"Enseignant", "Campus", "Heures", "Montant", "Statut"}

var statusLabels = map[models.InvoiceStatus]string{
	models.InvoiceStatusPending:      "En attente",
	models.InvoiceStatusPrevalidated: "Prévalidée",
	models.InvoiceStatusValidated:    "Validée",
	models.InvoiceStatusRejected:     "Rejetée",
	models.InvoiceStatusPaid:         "Payée",
}

// ReportService renders the monthly invoice report.
type ReportService struct {
	invoices monthlyInvoiceSource
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(invoices monthlyInvoiceSource, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		invoices: invoices,
		csv:      export.NewCSVExporter(true),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// Monthly lists the invoices of a month visible to actor. Teachers have no access; directors
// only see their campus. Rejected invoices are listed but left out of the totals line.
func (s *ReportService) Monthly(ctx context.Context, actor models.Actor, year, month int, format dto.ReportFormat) (*dto.ReportFile, error) {
	if actor.Role == models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reports are restricted to staff")
	}
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid month or year")
	}
	if format == "" {
		format = dto.ReportFormatCSV
	}
	if format != dto.ReportFormatCSV && format != dto.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	filter, err := ScopeInvoiceFilter(actor, models.InvoiceFilter{Month: &month, Year: &year})
	if err != nil {
		return nil, err
	}

	invoices, err := s.invoices.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load invoices")
	}
	dataset := monthlyDataset(invoices)

	period := fmt.Sprintf("%04d-%02d", year, month)
	file := &dto.ReportFile{Filename: "factures_" + period + "." + string(format)}
	switch format {
	case dto.ReportFormatPDF:
		subtitle := fmt.Sprintf("%d facture(s), généré le %s", len(invoices), time.Now().UTC().Format("02/01/2006"))
		file.Data, err = s.pdf.Render(dataset, "Factures "+period, subtitle)
		file.ContentType = "application/pdf"
	default:
		file.Data, err = s.csv.Render(dataset)
		file.ContentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render report")
	}
	s.logger.Info("monthly report rendered",
		zap.String("actor_id", actor.ID),
		zap.String("period", period),
		zap.String("format", string(format)),
		zap.Int("invoices", len(invoices)),
	)
	return file, nil
}

func monthlyDataset(invoices []models.Invoice) export.Dataset {
	rows := make([]map[string]string, 0, len(invoices))
	var hours, amount float64
	for _, inv := range invoices {
		rows = append(rows, map[string]string{
			"Enseignant": valueOr(inv.TeacherName, inv.TeacherID),
			"Campus":     valueOr(inv.CampusName, inv.CampusID),
			"Heures":     formatDecimal(inv.TotalHours),
			"Montant":    formatDecimal(inv.TotalAmount),
			"Statut":     statusLabel(inv.Status),
		})
		if inv.Status != models.InvoiceStatusRejected {
			hours += inv.TotalHours
			amount += inv.TotalAmount
		}
	}
	return export.Dataset{
		Headers: monthlyReportHeaders,
		Rows:    rows,
		Footer: map[string]string{
			"Enseignant": "Total",
			"Heures":     formatDecimal(roundCents(hours)),
			"Montant":    formatDecimal(roundCents(amount)),
		},
	}
}

func statusLabel(status models.InvoiceStatus) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

func valueOr(value *string, fallback string) string {
	if value != nil && strings.TrimSpace(*value) != "" {
		return *value
	}
	return fallback
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
