package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/repository"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type invoiceRepository interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	ListLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error)
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	ListLogs(ctx context.Context, invoiceID string) ([]models.ValidationLogEntry, error)
	Delete(ctx context.Context, id string) (bool, error)
	ReplaceLines(ctx context.Context, id string, lines []models.InvoiceLine, totalHours, totalAmount float64) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to models.InvoiceStatus, at time.Time) (bool, error)
	InsertLog(ctx context.Context, entry *models.ValidationLogEntry) error
	InsertPayment(ctx context.Context, payment *models.Payment) error
}

type invoiceReference interface {
	GetCampus(ctx context.Context, id string) (*models.Campus, error)
	CampusIndex(ctx context.Context) (map[string]models.Campus, error)
	ListFilieres(ctx context.Context) ([]models.Filiere, error)
}

type bankDetailsReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.TeacherProfile, error)
}

var invoiceImportHeader = []string{"Date", "Début", "Fin", "Campus", "Filière", "Classe", "Intitulé", "Taux"}

// InvoiceService owns invoice submission, lookup and the validation workflow.
type InvoiceService struct {
	repo          invoiceRepository
	reference     invoiceReference
	teachers      bankDetailsReader
	tx            txRunner
	notifications *NotificationService
	cache         *CacheService
	audit         auditWriter
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// InvoiceServiceParams groups constructor dependencies.
type InvoiceServiceParams struct {
	Repo          invoiceRepository
	Reference     invoiceReference
	Teachers      bankDetailsReader
	Tx            txRunner
	Notifications *NotificationService
	Cache         *CacheService
	Audit         auditWriter
	Metrics       *MetricsService
	Validator     *validator.Validate
	Logger        *zap.Logger
}

// NewInvoiceService constructs an InvoiceService.
func NewInvoiceService(params InvoiceServiceParams) *InvoiceService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &InvoiceService{
		repo:          params.Repo,
		reference:     params.Reference,
		teachers:      params.Teachers,
		tx:            params.Tx,
		notifications: params.Notifications,
		cache:         params.Cache,
		audit:         params.Audit,
		metrics:       params.Metrics,
		validator:     validate,
		logger:        logger,
		now:           time.Now,
	}
}

// Create submits a pending invoice for the acting teacher.
func (s *InvoiceService) Create(ctx context.Context, actor models.Actor, req dto.CreateInvoiceRequest) (*models.Invoice, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers submit invoices")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invoice payload")
	}
	if _, err := s.reference.GetCampus(ctx, req.CampusID); err != nil {
		return nil, err
	}
	rates, err := s.rateRange(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	lines := make([]models.InvoiceLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		line, err := buildLine(in, req.CampusID, req.Month, req.Year, rates)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("line %d: %s", i+1, err))
		}
		lines = append(lines, line)
	}

	invoice := newInvoice(actor.ID, req.CampusID, req.Month, req.Year, lines)
	if err := s.insert(ctx, invoice); err != nil {
		return nil, err
	}
	s.afterSubmit(ctx, invoice)
	return invoice, nil
}

func (s *InvoiceService) insert(ctx context.Context, invoice *models.Invoice) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, invoice)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("an invoice already exists for this campus in %02d/%d", invoice.Month, invoice.Year))
	}
	if err != nil {
		return appErrors.Internal(err, "failed to create invoice")
	}
	return nil
}

func (s *InvoiceService) invalidateDashboard(ctx context.Context) models.SideEffect {
	return s.notifications.BestEffort(ctx, "dashboard_cache", func(ctx context.Context) error {
		return s.cache.Invalidate(ctx, DashboardCachePattern)
	})
}

func (s *InvoiceService) afterSubmit(ctx context.Context, invoice *models.Invoice) {
	s.invalidateDashboard(ctx)
	campus := invoice.CampusID
	s.notifications.BestEffort(ctx, "notify_directors", func(ctx context.Context) error {
		_, err := s.notifications.NotifyRole(ctx, models.RoleCampusDirector, &campus, models.NotificationInfo,
			"Nouvelle facture à prévalider",
			fmt.Sprintf("Une facture de %02d/%d (%.2f h, %.2f €) attend votre prévalidation.",
				invoice.Month, invoice.Year, invoice.TotalHours, invoice.TotalAmount))
		return err
	})
}

type rateBounds struct {
	min, max float64
}

// rateRange returns the hourly rate bounds of a teacher. A zero max means unbounded.
func (s *InvoiceService) rateRange(ctx context.Context, teacherID string) (rateBounds, error) {
	tp, err := s.teachers.FindByUserID(ctx, teacherID)
	if errors.Is(err, sql.ErrNoRows) {
		return rateBounds{}, nil
	}
	if err != nil {
		return rateBounds{}, appErrors.Internal(err, "failed to load teacher profile")
	}
	return rateBounds{min: tp.RateMin, max: tp.RateMax}, nil
}

func buildLine(in dto.InvoiceLineInput, campusID string, month, year int, rates rateBounds) (models.InvoiceLine, error) {
	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return models.InvoiceLine{}, fmt.Errorf("invalid date %q", in.Date)
	}
	if int(date.Month()) != month || date.Year() != year {
		return models.InvoiceLine{}, fmt.Errorf("session %s is outside %02d/%d", in.Date, month, year)
	}
	hours, err := sessionHours(in.StartTime, in.EndTime)
	if err != nil {
		return models.InvoiceLine{}, err
	}
	if in.UnitPrice <= 0 {
		return models.InvoiceLine{}, errors.New("rate must be positive")
	}
	if rates.max > 0 && (in.UnitPrice < rates.min || in.UnitPrice > rates.max) {
		return models.InvoiceLine{}, fmt.Errorf("rate %.2f outside the allowed range %.2f-%.2f", in.UnitPrice, rates.min, rates.max)
	}
	campus := campusID
	return models.InvoiceLine{
		SessionDate: date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Hours:       hours,
		UnitPrice:   in.UnitPrice,
		Amount:      roundCents(hours * in.UnitPrice),
		CourseTitle: strings.TrimSpace(in.CourseTitle),
		CampusID:    &campus,
		FiliereID:   in.FiliereID,
		ClassName:   strings.TrimSpace(in.ClassName),
	}, nil
}

func sessionHours(start, end string) (float64, error) {
	from, err := time.Parse("15:04", strings.TrimSpace(start))
	if err != nil {
		return 0, fmt.Errorf("invalid start time %q", start)
	}
	to, err := time.Parse("15:04", strings.TrimSpace(end))
	if err != nil {
		return 0, fmt.Errorf("invalid end time %q", end)
	}
	if !to.After(from) {
		return 0, fmt.Errorf("session ends at %s before it starts at %s", end, start)
	}
	return roundCents(to.Sub(from).Hours()), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func newInvoice(teacherID, campusID string, month, year int, lines []models.InvoiceLine) *models.Invoice {
	invoice := &models.Invoice{
		TeacherID: teacherID,
		CampusID:  campusID,
		Month:     month,
		Year:      year,
		Status:    models.InvoiceStatusPending,
		Lines:     lines,
	}
	for _, l := range lines {
		invoice.TotalHours += l.Hours
		invoice.TotalAmount += l.Amount
	}
	invoice.TotalHours = roundCents(invoice.TotalHours)
	invoice.TotalAmount = roundCents(invoice.TotalAmount)
	return invoice
}

// ImportLines creates invoices from a session sheet, one per campus and billing month.
// Nothing is created when any row is invalid; the row errors are returned instead.
func (s *InvoiceService) ImportLines(ctx context.Context, actor models.Actor, r io.Reader) (*dto.ImportLinesResult, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers submit invoices")
	}
	records, err := readImportCSV(r, invoiceImportHeader)
	if err != nil {
		return nil, err
	}
	campuses, err := s.reference.CampusIndex(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load campuses")
	}
	filieres, err := s.filiereIndex(ctx)
	if err != nil {
		return nil, err
	}
	rates, err := s.rateRange(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	type period struct {
		campusID    string
		month, year int
	}
	groups := map[period][]models.InvoiceLine{}
	result := &dto.ImportLinesResult{Invoices: []models.Invoice{}, Errors: []string{}}

	for i, rec := range records {
		line := i + 2
		if blankRecord(rec) {
			continue
		}
		if len(rec) < len(invoiceImportHeader) {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : %d colonnes au lieu de %d", line, len(rec), len(invoiceImportHeader)))
			continue
		}
		date, err := parseSessionDate(rec[0])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : %s", line, err))
			continue
		}
		canonical, ok := NormalizeCampusName(rec[3])
		campus, found := campuses[canonical]
		if !ok || !found {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : campus inconnu %q", line, strings.TrimSpace(rec[3])))
			continue
		}
		rate, err := parseRate(rec[7])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : %s", line, err))
			continue
		}
		in := dto.InvoiceLineInput{
			Date:        date.Format("2006-01-02"),
			StartTime:   strings.TrimSpace(rec[1]),
			EndTime:     strings.TrimSpace(rec[2]),
			CourseTitle: rec[6],
			ClassName:   rec[5],
			UnitPrice:   rate,
		}
		if key := strings.ToUpper(strings.TrimSpace(rec[4])); key != "" {
			id, ok := filieres[key]
			if !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : filière inconnue %q", line, strings.TrimSpace(rec[4])))
				continue
			}
			in.FiliereID = &id
		}
		if strings.TrimSpace(in.CourseTitle) == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : intitulé manquant", line))
			continue
		}
		built, err := buildLine(in, campus.ID, int(date.Month()), date.Year(), rates)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Ligne %d : %s", line, err))
			continue
		}
		p := period{campusID: campus.ID, month: int(date.Month()), year: date.Year()}
		groups[p] = append(groups[p], built)
	}

	if len(result.Errors) > 0 || len(groups) == 0 {
		if len(groups) == 0 && len(result.Errors) == 0 {
			result.Errors = append(result.Errors, "aucune séance à importer")
		}
		return result, nil
	}

	keys := make([]period, 0, len(groups))
	for p := range groups {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		if keys[i].month != keys[j].month {
			return keys[i].month < keys[j].month
		}
		return keys[i].campusID < keys[j].campusID
	})

	invoices := make([]*models.Invoice, 0, len(keys))
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, p := range keys {
			invoice := newInvoice(actor.ID, p.campusID, p.month, p.year, groups[p])
			if err := s.insert(ctx, invoice); err != nil {
				return err
			}
			invoices = append(invoices, invoice)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, invoice := range invoices {
		s.afterSubmit(ctx, invoice)
		result.Invoices = append(result.Invoices, *invoice)
		result.Lines += len(invoice.Lines)
	}
	return result, nil
}

func (s *InvoiceService) filiereIndex(ctx context.Context) (map[string]string, error) {
	items, err := s.reference.ListFilieres(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load filieres")
	}
	index := make(map[string]string, len(items)*2)
	for _, f := range items {
		index[strings.ToUpper(f.Code)] = f.ID
		index[strings.ToUpper(f.Name)] = f.ID
	}
	return index, nil
}

func parseSessionDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date invalide %q", raw)
}

func parseRate(raw string) (float64, error) {
	cleaned := strings.NewReplacer("€", "", " ", "", ",", ".").Replace(strings.TrimSpace(raw))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("taux invalide %q", raw)
	}
	return v, nil
}

// Get returns an invoice with its lines when the actor may see it.
func (s *InvoiceService) Get(ctx context.Context, actor models.Actor, id string) (*models.Invoice, error) {
	invoice, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeInvoice(actor, invoice) {
		return nil, appErrors.ErrForbidden
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load invoice lines")
	}
	invoice.Lines = lines
	return invoice, nil
}

func (s *InvoiceService) load(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Internal(err, "failed to load invoice")
	}
	return invoice, nil
}

func canSeeInvoice(actor models.Actor, invoice *models.Invoice) bool {
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAccountant:
		return true
	case models.RoleCampusDirector:
		return actor.InCampus(invoice.CampusID)
	case models.RoleTeacher:
		return invoice.TeacherID == actor.ID
	}
	return false
}

// ScopeInvoiceFilter restricts filter to what actor may see.
func ScopeInvoiceFilter(actor models.Actor, filter models.InvoiceFilter) (models.InvoiceFilter, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "unknown invoice status")
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAccountant:
	case models.RoleCampusDirector:
		if actor.CampusID == nil {
			return filter, appErrors.Clone(appErrors.ErrForbidden, "director has no campus")
		}
		filter.CampusID = actor.CampusID
	case models.RoleTeacher:
		id := actor.ID
		filter.TeacherID = &id
	default:
		return filter, appErrors.ErrForbidden
	}
	return filter, nil
}

// List returns the invoices visible to actor.
func (s *InvoiceService) List(ctx context.Context, actor models.Actor, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	filter, err := ScopeInvoiceFilter(actor, filter)
	if err != nil {
		return nil, nil, err
	}
	invoices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list invoices")
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return invoices, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// History returns the validation log of an invoice, oldest first.
func (s *InvoiceService) History(ctx context.Context, actor models.Actor, id string) (*dto.InvoiceHistoryResponse, error) {
	invoice, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeInvoice(actor, invoice) {
		return nil, appErrors.ErrForbidden
	}
	entries, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load invoice history")
	}
	if entries == nil {
		entries = []models.ValidationLogEntry{}
	}
	return &dto.InvoiceHistoryResponse{InvoiceID: id, Status: invoice.Status, Entries: entries}, nil
}

// Delete removes an invoice with its lines, logs and payments. SUPER_ADMIN only.
func (s *InvoiceService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if actor.Role != models.RoleSuperAdmin {
		return appErrors.ErrForbidden
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to delete invoice")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
	}
	s.invalidateDashboard(ctx)
	if s.audit != nil {
		actorID, resourceID := actor.ID, id
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionInvoiceDelete,
			Resource:   "invoices",
			ResourceID: &resourceID,
		}); err != nil {
			s.logger.Warn("failed to record audit log", zap.String("invoice_id", id), zap.Error(err))
		}
	}
	return nil
}

// ReplaceLines swaps the sessions of a pending invoice owned by the acting teacher.
func (s *InvoiceService) ReplaceLines(ctx context.Context, actor models.Actor, id string, req dto.ReplaceLinesRequest) (*models.Invoice, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lines payload")
	}
	invoice, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacher || invoice.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the submitting teacher may edit an invoice")
	}
	if invoice.Status != models.InvoiceStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending invoices can be edited")
	}
	rates, err := s.rateRange(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]models.InvoiceLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		line, err := buildLine(in, invoice.CampusID, invoice.Month, invoice.Year, rates)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("line %d: %s", i+1, err))
		}
		lines = append(lines, line)
	}
	updated := newInvoice(invoice.TeacherID, invoice.CampusID, invoice.Month, invoice.Year, lines)

	var replaced bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		replaced, err = s.repo.ReplaceLines(ctx, id, lines, updated.TotalHours, updated.TotalAmount)
		return err
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to replace invoice lines")
	}
	if !replaced {
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice left pending status while being edited")
	}
	invoice.Lines = lines
	invoice.TotalHours = updated.TotalHours
	invoice.TotalAmount = updated.TotalAmount
	s.invalidateDashboard(ctx)
	return invoice, nil
}
