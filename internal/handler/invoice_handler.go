package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/middleware"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/internal/service"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type invoiceService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateInvoiceRequest) (*models.Invoice, error)
	ImportLines(ctx context.Context, actor models.Actor, r io.Reader) (*dto.ImportLinesResult, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Invoice, error)
	List(ctx context.Context, actor models.Actor, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error)
	History(ctx context.Context, actor models.Actor, id string) (*dto.InvoiceHistoryResponse, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	ReplaceLines(ctx context.Context, actor models.Actor, id string, req dto.ReplaceLinesRequest) (*models.Invoice, error)
	Transition(ctx context.Context, invoiceID string, action models.InvoiceAction, actor models.Actor, comment string, payment *service.PaymentDetails) (*models.TransitionResult, error)
}

// InvoiceHandler exposes invoice submission and the validation workflow.
type InvoiceHandler struct {
	service invoiceService
}

// NewInvoiceHandler constructs the handler.
func NewInvoiceHandler(service invoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// List godoc
// @Summary List invoices
// @Description Teachers see their own invoices, directors their campus, accountants and admins everything.
// @Tags Invoices
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status"
// @Param campusId query string false "Campus ID"
// @Param teacherId query string false "Teacher ID"
// @Param month query int false "Month"
// @Param year query int false "Year"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.InvoiceFilter{
		CampusID:  queryString(c, "campusId"),
		TeacherID: queryString(c, "teacherId"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
	}
	if status := queryString(c, "status"); status != nil {
		s := models.InvoiceStatus(*status)
		filter.Status = &s
	}
	if month := queryInt(c, "month", 0); month > 0 {
		filter.Month = &month
	}
	if year := queryInt(c, "year", 0); year > 0 {
		filter.Year = &year
	}

	invoices, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoices, pagination)
}

// Create godoc
// @Summary Submit an invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateInvoiceRequest true "Invoice"
// @Success 201 {object} response.Envelope
// @Router /invoices [post]
func (h *InvoiceHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid invoice payload"))
		return
	}
	invoice, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// Import godoc
// @Summary Import sessions from CSV
// @Description Header: Date,Début,Fin,Campus,Filière,Classe,Intitulé,Taux. Nothing is created when a row is invalid.
// @Tags Invoices
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV file"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /invoices/import [post]
func (h *InvoiceHandler) Import(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	src, ok := uploadedFile(c)
	if !ok {
		return
	}
	defer src.Close()

	result, err := h.service.ImportLines(c.Request.Context(), actor, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(result.Errors) > 0 {
		response.JSON(c, http.StatusUnprocessableEntity, result, nil)
		return
	}
	response.Created(c, result)
}

// Get godoc
// @Summary Get invoice with lines
// @Tags Invoices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	invoice, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// History godoc
// @Summary Invoice validation history
// @Tags Invoices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/history [get]
func (h *InvoiceHandler) History(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	history, err := h.service.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Delete godoc
// @Summary Delete invoice
// @Tags Invoices
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Success 204
// @Router /invoices/{id} [delete]
func (h *InvoiceHandler) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplaceLines godoc
// @Summary Replace the lines of a pending invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param payload body dto.ReplaceLinesRequest true "Lines"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/lines [put]
func (h *InvoiceHandler) ReplaceLines(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.ReplaceLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lines payload"))
		return
	}
	invoice, err := h.service.ReplaceLines(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Prevalidate godoc
// @Summary Prevalidate invoice (campus director)
// @Tags Invoice workflow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param payload body dto.TransitionRequest false "Comment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /invoices/{id}/prevalidate [post]
func (h *InvoiceHandler) Prevalidate(c *gin.Context) {
	h.transition(c, models.InvoiceActionPrevalidate)
}

// Validate godoc
// @Summary Validate invoice (accountant)
// @Tags Invoice workflow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param payload body dto.TransitionRequest false "Comment"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/validate [post]
func (h *InvoiceHandler) Validate(c *gin.Context) {
	h.transition(c, models.InvoiceActionValidate)
}

// Reject godoc
// @Summary Reject invoice
// @Tags Invoice workflow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param payload body dto.TransitionRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/reject [post]
func (h *InvoiceHandler) Reject(c *gin.Context) {
	h.transition(c, models.InvoiceActionReject)
}

// Pay godoc
// @Summary Record payment (accountant)
// @Description Requires complete bank details. Amount defaults to the invoice total.
// @Tags Invoice workflow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param payload body dto.PaymentRequest false "Payment"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /invoices/{id}/pay [post]
func (h *InvoiceHandler) Pay(c *gin.Context) {
	h.transition(c, models.InvoiceActionPay)
}

func (h *InvoiceHandler) transition(c *gin.Context, action models.InvoiceAction) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.PaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
			return
		}
	}
	var payment *service.PaymentDetails
	if action == models.InvoiceActionPay {
		payment = &service.PaymentDetails{Amount: req.Amount, Method: req.Method, Reference: req.Reference}
	}

	result, err := h.service.Transition(c.Request.Context(), c.Param("id"), action, actor, req.Comment, payment)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetDegraded(c, result.Degraded())
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}
