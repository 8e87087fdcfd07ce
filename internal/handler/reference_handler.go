package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type referenceService interface {
	ListCampuses(ctx context.Context) ([]models.Campus, error)
	ListFilieres(ctx context.Context) ([]models.Filiere, error)
	ListClasses(ctx context.Context, campusID, filiereID *string) ([]models.Class, error)
	ListCourseTitles(ctx context.Context, filiereID *string) ([]models.CourseTitle, error)
}

// ReferenceHandler serves the read-only catalogues.
type ReferenceHandler struct {
	service referenceService
}

// NewReferenceHandler constructs the handler.
func NewReferenceHandler(service referenceService) *ReferenceHandler {
	return &ReferenceHandler{service: service}
}

// Campuses godoc
// @Summary List campuses
// @Tags Reference
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /campuses [get]
func (h *ReferenceHandler) Campuses(c *gin.Context) {
	items, err := h.service.ListCampuses(c.Request.Context())
	respondList(c, items, err)
}

// Filieres godoc
// @Summary List study tracks
// @Tags Reference
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /filieres [get]
func (h *ReferenceHandler) Filieres(c *gin.Context) {
	items, err := h.service.ListFilieres(c.Request.Context())
	respondList(c, items, err)
}

// Classes godoc
// @Summary List classes
// @Tags Reference
// @Produce json
// @Param campusId query string false "Campus ID"
// @Param filiereId query string false "Filiere ID"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ReferenceHandler) Classes(c *gin.Context) {
	items, err := h.service.ListClasses(c.Request.Context(), queryString(c, "campusId"), queryString(c, "filiereId"))
	respondList(c, items, err)
}

// CourseTitles godoc
// @Summary List course titles
// @Tags Reference
// @Produce json
// @Param filiereId query string false "Filiere ID"
// @Success 200 {object} response.Envelope
// @Router /course-titles [get]
func (h *ReferenceHandler) CourseTitles(c *gin.Context) {
	items, err := h.service.ListCourseTitles(c.Request.Context(), queryString(c, "filiereId"))
	respondList(c, items, err)
}

func respondList(c *gin.Context, items interface{}, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
