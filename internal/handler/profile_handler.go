package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type profileService interface {
	List(ctx context.Context, actor models.Actor, filter models.ProfileFilter) ([]models.Profile, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*dto.ProfileResponse, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateProfileRequest) (*models.Profile, error)
	Deactivate(ctx context.Context, actor models.Actor, id string) error
	UpdateBankDetails(ctx context.Context, actor models.Actor, userID string, details models.BankDetails) (*models.TeacherProfile, error)
}

// ProfileHandler manages user profiles.
type ProfileHandler struct {
	service profileService
}

// NewProfileHandler constructs the handler.
func NewProfileHandler(service profileService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// List godoc
// @Summary List profiles
// @Tags Profiles
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param role query string false "Role"
// @Param campusId query string false "Campus ID"
// @Param active query bool false "Active flag"
// @Param search query string false "Name or email"
// @Success 200 {object} response.Envelope
// @Router /profiles [get]
func (h *ProfileHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.ProfileFilter{
		CampusID:     queryString(c, "campusId"),
		Active:       queryBool(c, "active"),
		IsNewTeacher: queryBool(c, "isNewTeacher"),
		Search:       strings.TrimSpace(c.Query("search")),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "page_size", 20),
	}
	if role := queryString(c, "role"); role != nil {
		r := models.UserRole(*role)
		filter.Role = &r
	}

	profiles, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profiles, pagination)
}

// Get godoc
// @Summary Get profile
// @Tags Profiles
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /profiles/{id} [get]
func (h *ProfileHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	profile, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Update godoc
// @Summary Update profile
// @Tags Profiles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body dto.UpdateProfileRequest true "Profile changes"
// @Success 200 {object} response.Envelope
// @Router /profiles/{id} [put]
func (h *ProfileHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid profile payload"))
		return
	}
	profile, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Deactivate godoc
// @Summary Deactivate profile
// @Description Profiles are never deleted; the account is disabled instead.
// @Tags Profiles
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Router /profiles/{id} [delete]
func (h *ProfileHandler) Deactivate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateBankDetails godoc
// @Summary Update teacher bank details
// @Tags Profiles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body models.BankDetails true "RIB"
// @Success 200 {object} response.Envelope
// @Router /profiles/{id}/bank-details [put]
func (h *ProfileHandler) UpdateBankDetails(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var details models.BankDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid bank details payload"))
		return
	}
	teacher, err := h.service.UpdateBankDetails(c.Request.Context(), actor, c.Param("id"), details)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}
