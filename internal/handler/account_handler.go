package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type provisioningService interface {
	CreateAccount(ctx context.Context, req dto.CreateAccountRequest) (*dto.AccountResult, error)
	ImportTeachers(ctx context.Context, actor models.Actor, r io.Reader) (*dto.ImportTeachersResult, error)
	ResetPasswords(ctx context.Context, actor models.Actor, req dto.ResetPasswordsRequest) (*dto.ResetResult, error)
	ExportCredentials(ctx context.Context, actor models.Actor, req dto.CredentialExportRequest) (*dto.DownloadLink, error)
	SendAccessEmails(ctx context.Context, actor models.Actor, req dto.AccessEmailsRequest) (*dto.AccessEmailsResult, error)
}

// AccountHandler exposes account provisioning to administrators.
type AccountHandler struct {
	service provisioningService
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(service provisioningService) *AccountHandler {
	return &AccountHandler{service: service}
}

// Create godoc
// @Summary Create account
// @Description Creates the identity, a temporary credential and the profile. An existing email is reported, not an error.
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateAccountRequest true "Account"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid account payload"))
		return
	}
	result, err := h.service.CreateAccount(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.AlreadyExists {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// ImportTeachers godoc
// @Summary Import teachers from CSV
// @Description Header: Nouveau prof ?,Prénom,NOM,MAIL,TEL,CAMPUS
// @Tags Accounts
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV file"
// @Success 200 {object} response.Envelope
// @Router /accounts/import-teachers [post]
func (h *AccountHandler) ImportTeachers(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	src, ok := uploadedFile(c)
	if !ok {
		return
	}
	defer src.Close()

	result, err := h.service.ImportTeachers(c.Request.Context(), actor, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ResetPasswords godoc
// @Summary Reset passwords
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ResetPasswordsRequest true "Users or scope"
// @Success 200 {object} response.Envelope
// @Router /accounts/reset-passwords [post]
func (h *AccountHandler) ResetPasswords(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.ResetPasswordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reset payload"))
		return
	}
	result, err := h.service.ResetPasswords(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ExportCredentials godoc
// @Summary Export temporary credentials
// @Description Writes a CSV and returns a signed, expiring download link.
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CredentialExportRequest false "Filter"
// @Success 200 {object} response.Envelope
// @Router /accounts/credentials/export [post]
func (h *AccountHandler) ExportCredentials(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CredentialExportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
			return
		}
	}
	link, err := h.service.ExportCredentials(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// AccessEmails godoc
// @Summary Send access emails
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.AccessEmailsRequest true "Users"
// @Success 202 {object} response.Envelope
// @Router /accounts/access-emails [post]
func (h *AccountHandler) AccessEmails(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.AccessEmailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid access email payload"))
		return
	}
	result, err := h.service.SendAccessEmails(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, result, nil)
}
