package handler

import (
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
	"github.com/noah-isme/campus-invoicing-api/pkg/response"
)

type downloadTokenParser interface {
	Parse(token string) (ownerID, relPath string, expiresAt time.Time, err error)
}

type exportReader interface {
	Read(filename string) ([]byte, error)
}

// DownloadHandler serves stored exports behind signed tokens. The token is the credential,
// so the route sits outside the JWT group.
type DownloadHandler struct {
	signer downloadTokenParser
	files  exportReader
	logger *zap.Logger
}

// NewDownloadHandler constructs the handler.
func NewDownloadHandler(signer downloadTokenParser, files exportReader, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{signer: signer, files: files, logger: logger}
}

// Download godoc
// @Summary Download a generated export
// @Tags Downloads
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /downloads/{token} [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	ownerID, relPath, _, err := h.signer.Parse(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "download link invalid or expired"))
		return
	}
	data, err := h.files.Read(relPath)
	if err != nil {
		h.logger.Warn("export read failed", zap.String("owner_id", ownerID), zap.String("path", relPath), zap.Error(err))
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export no longer available"))
		return
	}
	response.Attachment(c, path.Base(relPath), contentTypeFor(relPath), data)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
