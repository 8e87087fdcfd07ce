package handler

import (
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-invoicing-api/internal/middleware"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

const maxUploadSize = 5 << 20

// requireActor writes a 401 and returns false when the request carries no verified token.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryString(c *gin.Context, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func queryBool(c *gin.Context, key string) *bool {
	if v, err := strconv.ParseBool(c.Query(key)); err == nil {
		return &v
	}
	return nil
}

// uploadedFile opens the multipart "file" field. The caller closes the returned file.
func uploadedFile(c *gin.Context) (multipart.File, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return nil, false
	}
	if fileHeader.Size > maxUploadSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds 5 MB"))
		return nil, false
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return nil, false
	}
	return src, true
}
