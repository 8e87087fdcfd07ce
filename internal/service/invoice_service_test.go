package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/repository"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type memoryInvoices struct {
	invoices   map[string]*models.Invoice
	logs       []models.ValidationLogEntry
	payments   []models.Payment
	staleWrite bool
	seq        int
}

func newMemoryInvoices() *memoryInvoices {
	return &memoryInvoices{invoices: make(map[string]*models.Invoice)}
}

func (m *memoryInvoices) add(inv models.Invoice) *models.Invoice {
	cp := inv
	m.invoices[inv.ID] = &cp
	return &cp
}

func (m *memoryInvoices) Create(ctx context.Context, invoice *models.Invoice) error {
	for _, existing := range m.invoices {
		if existing.TeacherID == invoice.TeacherID && existing.CampusID == invoice.CampusID &&
			existing.Month == invoice.Month && existing.Year == invoice.Year {
			return repository.ErrDuplicate
		}
	}
	m.seq++
	invoice.ID = "inv-" + string(rune('0'+m.seq))
	m.add(*invoice)
	return nil
}

func (m *memoryInvoices) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	if inv, ok := m.invoices[id]; ok {
		cp := *inv
		cp.Lines = nil
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryInvoices) ListLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	return m.invoices[invoiceID].Lines, nil
}

func (m *memoryInvoices) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	var out []models.Invoice
	for _, inv := range m.invoices {
		if filter.CampusID != nil && inv.CampusID != *filter.CampusID {
			continue
		}
		if filter.TeacherID != nil && inv.TeacherID != *filter.TeacherID {
			continue
		}
		out = append(out, *inv)
	}
	return out, len(out), nil
}

func (m *memoryInvoices) ListLogs(ctx context.Context, invoiceID string) ([]models.ValidationLogEntry, error) {
	var out []models.ValidationLogEntry
	for _, l := range m.logs {
		if l.InvoiceID == invoiceID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryInvoices) Delete(ctx context.Context, id string) (bool, error) {
	if _, ok := m.invoices[id]; !ok {
		return false, nil
	}
	delete(m.invoices, id)
	return true, nil
}

func (m *memoryInvoices) ReplaceLines(ctx context.Context, id string, lines []models.InvoiceLine, totalHours, totalAmount float64) (bool, error) {
	inv, ok := m.invoices[id]
	if !ok || inv.Status != models.InvoiceStatusPending {
		return false, nil
	}
	inv.Lines, inv.TotalHours, inv.TotalAmount = lines, totalHours, totalAmount
	return true, nil
}

func (m *memoryInvoices) UpdateStatus(ctx context.Context, id string, from, to models.InvoiceStatus, at time.Time) (bool, error) {
	inv, ok := m.invoices[id]
	if !ok || inv.Status != from || m.staleWrite {
		return false, nil
	}
	inv.Status = to
	return true, nil
}

func (m *memoryInvoices) InsertLog(ctx context.Context, entry *models.ValidationLogEntry) error {
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memoryInvoices) InsertPayment(ctx context.Context, payment *models.Payment) error {
	m.payments = append(m.payments, *payment)
	return nil
}

type stubReference struct {
	campuses map[string]models.Campus
	filieres []models.Filiere
}

func (s stubReference) GetCampus(ctx context.Context, id string) (*models.Campus, error) {
	for _, c := range s.campuses {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "campus not found")
}

func (s stubReference) CampusIndex(ctx context.Context) (map[string]models.Campus, error) {
	return s.campuses, nil
}

func (s stubReference) ListFilieres(ctx context.Context) ([]models.Filiere, error) {
	return s.filieres, nil
}

type stubBankDetails map[string]*models.TeacherProfile

func (s stubBankDetails) FindByUserID(ctx context.Context, userID string) (*models.TeacherProfile, error) {
	if tp, ok := s[userID]; ok {
		return tp, nil
	}
	return nil, sql.ErrNoRows
}

type staticRecipients map[models.UserRole][]string

func (s staticRecipients) RecipientIDs(ctx context.Context, q models.RecipientQuery) ([]string, error) {
	return s[q.Role], nil
}

type failingNotifications struct {
	memoryNotifications
}

func (f *failingNotifications) CreateBatch(ctx context.Context, items []models.Notification) error {
	return errors.New("notifications table locked")
}

type invoiceFixture struct {
	svc      *InvoiceService
	repo     *memoryInvoices
	notes    *memoryNotifications
	teachers stubBankDetails
	metrics  *MetricsService
}

const (
	campusNorth = "campus-north"
	campusSouth = "campus-south"
)

func newInvoiceFixture(t *testing.T, notes notificationRepository) *invoiceFixture {
	t.Helper()
	memNotes, _ := notes.(*memoryNotifications)
	if notes == nil {
		memNotes = &memoryNotifications{}
		notes = memNotes
	}
	str := func(s string) *string { return &s }
	f := &invoiceFixture{
		repo:  newMemoryInvoices(),
		notes: memNotes,
		teachers: stubBankDetails{
			"teacher": {UserID: "teacher", RateMin: 30, RateMax: 80,
				IBAN: str("FR7630006000011234567890189"), BIC: str("AGRIFRPP"), AccountHolder: str("T"), BankName: str("B")},
			"norib": {UserID: "norib"},
		},
		metrics: NewMetricsService(),
	}
	recipients := staticRecipients{
		models.RoleAccountant:     {"accountant"},
		models.RoleCampusDirector: {"director"},
	}
	f.svc = NewInvoiceService(InvoiceServiceParams{
		Repo: f.repo,
		Reference: stubReference{
			campuses: map[string]models.Campus{
				CampusRoquette: {ID: campusNorth, Name: CampusRoquette},
				CampusNice:     {ID: campusSouth, Name: CampusNice},
			},
			filieres: []models.Filiere{{ID: "f-dev", Code: "DEV", Name: "Développement"}},
		},
		Teachers:      f.teachers,
		Tx:            passThroughTx{},
		Notifications: NewNotificationService(notes, recipients, f.metrics, nil),
		Metrics:       f.metrics,
	})
	return f
}

func pendingInvoice(id, teacher, campus string) models.Invoice {
	return models.Invoice{ID: id, TeacherID: teacher, CampusID: campus, Month: 3, Year: 2025,
		TotalHours: 4, TotalAmount: 180, Status: models.InvoiceStatusPending}
}

func director(campus string) models.Actor {
	return models.Actor{ID: "director", Role: models.RoleCampusDirector, CampusID: &campus}
}

var accountant = models.Actor{ID: "accountant", Role: models.RoleAccountant}

func TestTransitionFullLifecycleLogsEveryStep(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	ctx := context.Background()

	res, err := f.svc.Transition(ctx, "inv", models.InvoiceActionPrevalidate, director(campusNorth), "", nil)
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	_, err = f.svc.Transition(ctx, "inv", models.InvoiceActionValidate, accountant, "ok", nil)
	require.NoError(t, err)
	paid, err := f.svc.Transition(ctx, "inv", models.InvoiceActionPay, accountant, "", &PaymentDetails{Reference: "VIR-42"})
	require.NoError(t, err)

	assert.Equal(t, models.InvoiceStatusPaid, f.repo.invoices["inv"].Status)
	require.Len(t, f.repo.logs, 3)
	expected := [][2]models.InvoiceStatus{
		{models.InvoiceStatusPending, models.InvoiceStatusPrevalidated},
		{models.InvoiceStatusPrevalidated, models.InvoiceStatusValidated},
		{models.InvoiceStatusValidated, models.InvoiceStatusPaid},
	}
	for i, pair := range expected {
		assert.Equal(t, pair[0], f.repo.logs[i].PreviousStatus)
		assert.Equal(t, pair[1], f.repo.logs[i].NewStatus)
		assert.True(t, f.repo.logs[i].NewStatus.Valid())
	}

	require.Len(t, f.repo.payments, 1)
	assert.Equal(t, 180.0, f.repo.payments[0].Amount)
	assert.Equal(t, "VIR-42", *f.repo.payments[0].Reference)
	assert.Equal(t, paid.Payment.ID, f.repo.payments[0].ID)

	var teacherNotes, accountantNotes int
	for _, n := range f.notes.items {
		switch n.UserID {
		case "teacher":
			teacherNotes++
		case "accountant":
			accountantNotes++
		}
	}
	assert.Equal(t, 3, teacherNotes)
	assert.Equal(t, 1, accountantNotes)
}

func TestTransitionDirectorCampusBoundary(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))

	for _, action := range []models.InvoiceAction{models.InvoiceActionPrevalidate, models.InvoiceActionReject} {
		_, err := f.svc.Transition(context.Background(), "inv", action, director(campusSouth), "hors campus", nil)
		assert.ErrorIs(t, err, appErrors.ErrForbidden, action)
	}
	assert.Equal(t, models.InvoiceStatusPending, f.repo.invoices["inv"].Status)
	assert.Empty(t, f.repo.logs)
}

func TestTransitionRoleMatrix(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, "inv", models.InvoiceActionPrevalidate, accountant, "", nil)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Transition(ctx, "inv", models.InvoiceActionValidate, accountant, "", nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = f.svc.Transition(ctx, "inv", models.InvoiceActionReject, models.Actor{ID: "teacher", Role: models.RoleTeacher}, "", nil)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Transition(ctx, "inv", models.InvoiceAction("archive"), accountant, "", nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.repo.logs)
}

func TestRejectOnlyFromPendingOrPrevalidated(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	ctx := context.Background()
	for _, status := range []models.InvoiceStatus{models.InvoiceStatusValidated, models.InvoiceStatusPaid, models.InvoiceStatusRejected} {
		inv := pendingInvoice("inv-"+string(status), "teacher", campusNorth)
		inv.Status = status
		f.repo.add(inv)
		_, err := f.svc.Transition(ctx, inv.ID, models.InvoiceActionReject, accountant, "late", nil)
		assert.ErrorIs(t, err, appErrors.ErrInvalidTransition, status)
	}

	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	res, err := f.svc.Transition(ctx, "inv", models.InvoiceActionReject, director(campusNorth), "heures en double", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusRejected, res.Invoice.Status)
	require.NotEmpty(t, f.notes.items)
	assert.Equal(t, models.NotificationError, f.notes.items[0].Type)
	assert.Contains(t, f.notes.items[0].Message, "heures en double")
}

func TestTransitionConcurrentChangeConflicts(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	f.repo.staleWrite = true

	_, err := f.svc.Transition(context.Background(), "inv", models.InvoiceActionPrevalidate, director(campusNorth), "", nil)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Empty(t, f.repo.logs)
	assert.Empty(t, f.notes.items)
}

func TestPayRequiresBankDetails(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	inv := pendingInvoice("inv", "norib", campusNorth)
	inv.Status = models.InvoiceStatusValidated
	f.repo.add(inv)

	_, err := f.svc.Transition(context.Background(), "inv", models.InvoiceActionPay, accountant, "", nil)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
	assert.Empty(t, f.repo.payments)
	assert.Equal(t, models.InvoiceStatusValidated, f.repo.invoices["inv"].Status)
}

func TestTransitionReportsFailedSideEffects(t *testing.T) {
	f := newInvoiceFixture(t, &failingNotifications{})
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))

	res, err := f.svc.Transition(context.Background(), "inv", models.InvoiceActionPrevalidate, director(campusNorth), "", nil)
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.Equal(t, models.InvoiceStatusPrevalidated, f.repo.invoices["inv"].Status)
	require.Len(t, f.repo.logs, 1)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().DegradedTransitions)
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	teacher := models.Actor{ID: "teacher", Role: models.RoleTeacher}
	req := dto.CreateInvoiceRequest{
		CampusID: campusNorth, Month: 3, Year: 2025,
		Lines: []dto.InvoiceLineInput{
			{Date: "2025-03-03", StartTime: "09:00", EndTime: "12:30", CourseTitle: "Go", UnitPrice: 45},
			{Date: "2025-03-10", StartTime: "14:00", EndTime: "16:00", CourseTitle: "SQL", UnitPrice: 50},
		},
	}

	inv, err := f.svc.Create(context.Background(), teacher, req)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPending, inv.Status)
	assert.Equal(t, 5.5, inv.TotalHours)
	assert.Equal(t, 257.5, inv.TotalAmount)
	require.Len(t, f.notes.items, 1)
	assert.Equal(t, "director", f.notes.items[0].UserID)

	_, err = f.svc.Create(context.Background(), teacher, req)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	req.Month = 4
	_, err = f.svc.Create(context.Background(), teacher, req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Create(context.Background(), accountant, req)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestCreateInvoiceEnforcesRateRange(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	_, err := f.svc.Create(context.Background(), models.Actor{ID: "teacher", Role: models.RoleTeacher}, dto.CreateInvoiceRequest{
		CampusID: campusNorth, Month: 3, Year: 2025,
		Lines: []dto.InvoiceLineInput{{Date: "2025-03-03", StartTime: "09:00", EndTime: "10:00", CourseTitle: "Go", UnitPrice: 120}},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestImportLinesGroupsByCampusAndMonth(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	teacher := models.Actor{ID: "teacher", Role: models.RoleTeacher}
	csv := "Date,Début,Fin,Campus,Filière,Classe,Intitulé,Taux\n" +
		"03/03/2025,09:00,11:00,Roquette,DEV,B1,Go,\"45,50\"\n" +
		"2025-03-04,09:00,10:00,PARIS ROQUETTE,,B1,Go,45.5\n" +
		"2025-03-05,13:00,15:00,Nice,Développement,B2,SQL,40\n"

	res, err := f.svc.ImportLines(context.Background(), teacher, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Invoices, 2)
	assert.Equal(t, 3, res.Lines)
	assert.Equal(t, campusNorth, res.Invoices[0].CampusID)
	assert.Equal(t, 3.0, res.Invoices[0].TotalHours)
	assert.Equal(t, 136.5, res.Invoices[0].TotalAmount)
}

func TestImportLinesRejectsWholeFileOnRowError(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	csv := "Date,Début,Fin,Campus,Filière,Classe,Intitulé,Taux\n" +
		"2025-03-03,09:00,11:00,Roquette,,B1,Go,45\n" +
		"2025-03-04,11:00,10:00,Lyon,,B1,Go,45\n"

	res, err := f.svc.ImportLines(context.Background(), models.Actor{ID: "teacher", Role: models.RoleTeacher}, strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Lyon")
	assert.Empty(t, res.Invoices)
	assert.Empty(t, f.repo.invoices)
}

func TestInvoiceVisibilityByRole(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("north", "teacher", campusNorth))
	f.repo.add(pendingInvoice("south", "other", campusSouth))
	ctx := context.Background()

	list, page, err := f.svc.List(ctx, director(campusNorth), models.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "north", list[0].ID)
	assert.Equal(t, 1, page.TotalCount)

	list, _, err = f.svc.List(ctx, models.Actor{ID: "other", Role: models.RoleTeacher}, models.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "south", list[0].ID)

	_, err = f.svc.Get(ctx, models.Actor{ID: "other", Role: models.RoleTeacher}, "north")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	bogus := models.InvoiceStatus("archived")
	_, _, err = f.svc.List(ctx, accountant, models.InvoiceFilter{Status: &bogus})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestReplaceLinesOnlyWhilePending(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	teacher := models.Actor{ID: "teacher", Role: models.RoleTeacher}
	req := dto.ReplaceLinesRequest{Lines: []dto.InvoiceLineInput{
		{Date: "2025-03-12", StartTime: "08:00", EndTime: "10:00", CourseTitle: "Go", UnitPrice: 40},
	}}

	inv, err := f.svc.ReplaceLines(context.Background(), teacher, "inv", req)
	require.NoError(t, err)
	assert.Equal(t, 80.0, inv.TotalAmount)
	assert.Equal(t, 80.0, f.repo.invoices["inv"].TotalAmount)

	f.repo.invoices["inv"].Status = models.InvoiceStatusPrevalidated
	_, err = f.svc.ReplaceLines(context.Background(), teacher, "inv", req)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestDeleteInvoiceRequiresSuperAdmin(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))

	assert.ErrorIs(t, f.svc.Delete(context.Background(), accountant, "inv"), appErrors.ErrForbidden)
	require.NoError(t, f.svc.Delete(context.Background(), models.Actor{ID: "admin", Role: models.RoleSuperAdmin}, "inv"))
	assert.ErrorIs(t, f.svc.Delete(context.Background(), models.Actor{ID: "admin", Role: models.RoleSuperAdmin}, "inv"), appErrors.ErrNotFound)
}

type brokenCache struct {
	*memoryCache
}

func (brokenCache) DeleteByPattern(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestInvoiceWritesSurviveCacheInvalidationFailure(t *testing.T) {
	f := newInvoiceFixture(t, nil)
	f.svc.cache = NewCacheService(brokenCache{newMemoryCache()}, f.metrics, time.Minute, nil, true)
	f.repo.add(pendingInvoice("inv", "teacher", campusNorth))
	ctx := context.Background()
	teacher := models.Actor{ID: "teacher", Role: models.RoleTeacher}

	_, err := f.svc.Create(ctx, teacher, dto.CreateInvoiceRequest{
		CampusID: campusSouth, Month: 3, Year: 2025,
		Lines: []dto.InvoiceLineInput{{Date: "2025-03-04", StartTime: "09:00", EndTime: "11:00", CourseTitle: "Go", UnitPrice: 45}},
	})
	require.NoError(t, err)
	_, err = f.svc.ReplaceLines(ctx, teacher, "inv", dto.ReplaceLinesRequest{Lines: []dto.InvoiceLineInput{
		{Date: "2025-03-12", StartTime: "08:00", EndTime: "10:00", CourseTitle: "Go", UnitPrice: 40},
	}})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, models.Actor{ID: "admin", Role: models.RoleSuperAdmin}, "inv"))

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.sideEffectFailures.WithLabelValues("dashboard_cache")))
}
