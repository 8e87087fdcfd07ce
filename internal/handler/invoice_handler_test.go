package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/service"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type fakeInvoiceSrv struct {
	invoiceService
	transitionErr error
	result        *models.TransitionResult
	lastAction    models.InvoiceAction
	lastComment   string
	lastPayment   *service.PaymentDetails
	imported      string
	importResult  *dto.ImportLinesResult
	lastFilter    models.InvoiceFilter
}

func (f *fakeInvoiceSrv) Transition(_ context.Context, _ string, action models.InvoiceAction, _ models.Actor, comment string, payment *service.PaymentDetails) (*models.TransitionResult, error) {
	f.lastAction, f.lastComment, f.lastPayment = action, comment, payment
	return f.result, f.transitionErr
}

func (f *fakeInvoiceSrv) ImportLines(_ context.Context, _ models.Actor, r io.Reader) (*dto.ImportLinesResult, error) {
	raw, _ := io.ReadAll(r)
	f.imported = string(raw)
	return f.importResult, nil
}

func (f *fakeInvoiceSrv) List(_ context.Context, _ models.Actor, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	f.lastFilter = filter
	return []models.Invoice{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

var accountantClaims = &models.JWTClaims{UserID: "acc-1", Role: models.RoleAccountant}

func TestInvoiceHandlerRejectPassesComment(t *testing.T) {
	srv := &fakeInvoiceSrv{result: &models.TransitionResult{
		Invoice:     &models.Invoice{ID: "inv-1", Status: models.InvoiceStatusRejected},
		SideEffects: []models.SideEffect{{Name: "notify_teacher", OK: false, Error: "boom"}},
	}}
	handler := NewInvoiceHandler(srv)
	c, rec := newTestContext(http.MethodPost, "/invoices/inv-1/reject", accountantClaims)
	withJSON(c.Request, `{"comment":"heures manquantes"}`)

	handler.Reject(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.InvoiceActionReject, srv.lastAction)
	assert.Equal(t, "heures manquantes", srv.lastComment)
	assert.Nil(t, srv.lastPayment)
	assert.Equal(t, true, decodeEnvelope(t, rec).Meta["degraded"])
}

func TestInvoiceHandlerPayBuildsPaymentDetails(t *testing.T) {
	srv := &fakeInvoiceSrv{result: &models.TransitionResult{Invoice: &models.Invoice{ID: "inv-1"}}}
	handler := NewInvoiceHandler(srv)
	c, rec := newTestContext(http.MethodPost, "/invoices/inv-1/pay", accountantClaims)

	handler.Pay(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, srv.lastPayment)
	assert.Zero(t, srv.lastPayment.Amount)
}

func TestInvoiceHandlerMapsWorkflowErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"forbidden":     {appErrors.ErrForbidden, http.StatusForbidden},
		"invalid state": {appErrors.ErrInvalidTransition, http.StatusConflict},
		"missing rib":   {appErrors.ErrPreconditionFailed, http.StatusPreconditionFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := NewInvoiceHandler(&fakeInvoiceSrv{transitionErr: tc.err})
			c, rec := newTestContext(http.MethodPost, "/invoices/inv-1/validate", accountantClaims)

			handler.Validate(c)

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestInvoiceHandlerImportReturnsRowErrors(t *testing.T) {
	srv := &fakeInvoiceSrv{importResult: &dto.ImportLinesResult{Errors: []string{"Ligne 2 : campus inconnu"}}}
	handler := NewInvoiceHandler(srv)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "seances.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("Date,Début,Fin,Campus,Filière,Classe,Intitulé,Taux\n"))
	require.NoError(t, writer.Close())

	c, rec := newTestContext(http.MethodPost, "/invoices/import", &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher})
	c.Request = httptest.NewRequest(http.MethodPost, "/invoices/import", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	handler.Import(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, srv.imported, "Date,Début,Fin")
}

func TestInvoiceHandlerImportRequiresFile(t *testing.T) {
	handler := NewInvoiceHandler(&fakeInvoiceSrv{})
	c, rec := newTestContext(http.MethodPost, "/invoices/import", &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher})

	handler.Import(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceHandlerListParsesFilters(t *testing.T) {
	srv := &fakeInvoiceSrv{}
	handler := NewInvoiceHandler(srv)
	c, rec := newTestContext(http.MethodGet, "/invoices?status=pending&month=3&year=2025&page=2", accountantClaims)

	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, srv.lastFilter.Status)
	assert.Equal(t, models.InvoiceStatusPending, *srv.lastFilter.Status)
	require.NotNil(t, srv.lastFilter.Month)
	assert.Equal(t, 3, *srv.lastFilter.Month)
	assert.Equal(t, 2, srv.lastFilter.Page)
	assert.Nil(t, srv.lastFilter.CampusID)
}
