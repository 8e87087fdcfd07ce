package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type reminderService interface {
	Recent(ctx context.Context, limit int) ([]models.ReminderRun, error)
}

// ReminderHandler shows what the reminder scheduler has fired.
type ReminderHandler struct {
	service reminderService
}

// NewReminderHandler constructs the handler.
func NewReminderHandler(service reminderService) *ReminderHandler {
	return &ReminderHandler{service: service}
}

// Runs godoc
// @Summary Recent reminder runs
// @Tags Reminders
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows" default(50)
// @Success 200 {object} response.Envelope
// @Router /reminders/runs [get]
func (h *ReminderHandler) Runs(c *gin.Context) {
	runs, err := h.service.Recent(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}
