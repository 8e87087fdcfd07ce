package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type reportService interface {
	Monthly(ctx context.Context, actor models.Actor, year, month int, format dto.ReportFormat) (*dto.ReportFile, error)
}

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Monthly godoc
// @Summary Monthly invoice report
// @Tags Reports
// @Produce text/csv,application/pdf
// @Security BearerAuth
// @Param year query int true "Year"
// @Param month query int true "Month"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /reports/monthly [get]
func (h *ReportHandler) Monthly(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	year, month := queryInt(c, "year", 0), queryInt(c, "month", 0)
	if year == 0 || month == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "year and month required"))
		return
	}
	format := dto.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))
	file, err := h.service.Monthly(c.Request.Context(), actor, year, month, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
