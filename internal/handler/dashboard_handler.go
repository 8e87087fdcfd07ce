package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/middleware"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type dashboardService interface {
	ForActor(ctx context.Context, actor models.Actor, month, year int) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Get godoc
// @Summary Role-scoped dashboard
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param month query int false "Month (defaults to current)"
// @Param year query int false "Year (defaults to current)"
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	summary, cacheHit, err := h.service.ForActor(c.Request.Context(), actor, queryInt(c, "month", 0), queryInt(c, "year", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
